package middleware

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/axiestudio/aichatbot-sub000/pkg/common"
	"github.com/axiestudio/aichatbot-sub000/pkg/engine"
	"github.com/axiestudio/aichatbot-sub000/pkg/types"
)

// bodyExcerptLimit caps how much of the body feeds feature extraction.
const bodyExcerptLimit = 8 * 1024

// gateMiddleware runs every protected request through the risk engine
// before its handler and translates the decision to a response: block is
// 403 (429 when a retry hint exists), challenge 401 plus the challenge
// header, quarantine 423. Failed authentication attempts on the guarded
// group feed the limiter's attempt counter after the handler runs.
type gateMiddleware struct {
	logger *logrus.Logger
	engine *engine.Engine
}

func NewGateMiddleware(logger *logrus.Logger, eng *engine.Engine) Middleware {
	return &gateMiddleware{logger: logger, engine: eng}
}

func (m *gateMiddleware) Middleware() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		record := recordFromRequest(ctx)

		decision, err := m.engine.Evaluate(ctx.UserContext(), record)
		if err != nil {
			m.logger.WithError(err).Debug("evaluation abandoned")
			return ctx.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "evaluation aborted"})
		}

		ctx.Locals(common.DecisionKey, decision)

		switch decision.Action {
		case types.ActionBlock:
			if decision.RetryAfterSeconds > 0 {
				ctx.Set(fiber.HeaderRetryAfter, strconv.Itoa(decision.RetryAfterSeconds))
				return ctx.Status(fiber.StatusTooManyRequests).JSON(decision)
			}
			return ctx.Status(fiber.StatusForbidden).JSON(decision)
		case types.ActionChallenge:
			ctx.Set(common.ChallengeHeader, "required")
			return ctx.Status(fiber.StatusUnauthorized).JSON(decision)
		case types.ActionQuarantine:
			return ctx.Status(fiber.StatusLocked).JSON(decision)
		}

		err = ctx.Next()

		// A handler-side 401 is a failed credential attempt; enough of
		// them blacklists the identity outright.
		if ctx.Response().StatusCode() == fiber.StatusUnauthorized &&
			engine.Categorize(record.Path) == "auth" {
			if count, blacklisted := m.engine.Limiter().RecordFailedAttempt(ctx.UserContext(), record.EffectiveIdentity(), "auth"); blacklisted {
				m.logger.WithFields(logrus.Fields{
					"identity": record.EffectiveIdentity(),
					"attempts": count,
				}).Warn("identity blacklisted after repeated failed attempts")
			}
		}
		return err
	}
}

func recordFromRequest(ctx *fiber.Ctx) *types.RequestRecord {
	headers := make(map[string][]string)
	ctx.Request().Header.VisitAll(func(key, value []byte) {
		k := string(key)
		headers[k] = append(headers[k], string(value))
	})

	query := make(map[string][]string)
	ctx.Request().URI().QueryArgs().VisitAll(func(key, value []byte) {
		k := string(key)
		query[k] = append(query[k], string(value))
	})

	body := ctx.Body()
	if len(body) > bodyExcerptLimit {
		body = body[:bodyExcerptLimit]
	}

	identity, _ := ctx.Locals(common.IdentityKey).(string)
	return &types.RequestRecord{
		Method:        ctx.Method(),
		Path:          ctx.Path(),
		Query:         query,
		Headers:       headers,
		Body:          append([]byte(nil), body...),
		SourceAddress: ctx.IP(),
		UserAgent:     string(ctx.Request().Header.UserAgent()),
		Identity:      identity,
	}
}
