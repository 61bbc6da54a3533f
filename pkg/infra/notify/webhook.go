package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"

	"github.com/axiestudio/aichatbot-sub000/pkg/response"
)

const defaultTimeout = 3 * time.Second

// WebhookNotifier POSTs critical-event alerts to an operator-configured
// endpoint. Strictly fire and forget: delivery failures are logged and
// dropped, never surfaced to the decision path.
type WebhookNotifier struct {
	url     string
	timeout time.Duration
	client  *fasthttp.Client
	logger  *logrus.Logger
}

func NewWebhookNotifier(url string, timeout time.Duration, logger *logrus.Logger) *WebhookNotifier {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &WebhookNotifier{
		url:     url,
		timeout: timeout,
		client: &fasthttp.Client{
			ReadTimeout:  timeout,
			WriteTimeout: timeout,
		},
		logger: logger,
	}
}

func (n *WebhookNotifier) Send(_ context.Context, alert response.Alert) {
	body, err := json.Marshal(alert)
	if err != nil {
		n.logger.WithError(err).Warn("alert payload not serializable")
		return
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(n.url)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBody(body)

	if err := n.client.DoTimeout(req, resp, n.timeout); err != nil {
		n.logger.WithError(err).WithField("identity", alert.Identity).Warn("alert delivery failed")
		return
	}
	if resp.StatusCode() >= 300 {
		n.logger.WithFields(logrus.Fields{
			"identity": alert.Identity,
			"status":   resp.StatusCode(),
		}).Warn("alert endpoint answered non-2xx")
	}
}
