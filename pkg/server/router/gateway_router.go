package router

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/axiestudio/aichatbot-sub000/pkg/cache"
	handlers "github.com/axiestudio/aichatbot-sub000/pkg/handlers/http"
	"github.com/axiestudio/aichatbot-sub000/pkg/middleware"
)

const (
	HealthPath = "/health"
	ReadyPath  = "/health/ready"
)

var ErrMissingTransport = errors.New("gateway router requires middleware and handler transports")

const readinessTimeout = 2 * time.Second

// Pinger is the optional extra readiness dependency (the audit store).
type Pinger interface {
	Ping(ctx context.Context) error
}

type gatewayRouter struct {
	middlewareTransport *middleware.Transport
	handlerTransport    *handlers.HandlerTransport
	cache               cache.Client
	audit               Pinger
}

func NewGatewayRouter(
	middlewareTransport *middleware.Transport,
	handlerTransport *handlers.HandlerTransport,
	cacheClient cache.Client,
	audit Pinger,
) ServerRouter {
	return &gatewayRouter{
		middlewareTransport: middlewareTransport,
		handlerTransport:    handlerTransport,
		cache:               cacheClient,
		audit:               audit,
	}
}

func (r *gatewayRouter) BuildRoutes(app *fiber.App) error {
	if r.middlewareTransport == nil || r.handlerTransport == nil {
		return ErrMissingTransport
	}
	mw := r.middlewareTransport
	ht := r.handlerTransport

	app.Use(mw.RecoverMiddleware.Middleware())
	app.Use(mw.RequestIDMiddleware.Middleware())
	app.Use(mw.SecurityMiddleware.Middleware())
	app.Use(mw.CORSMiddleware.Middleware())
	app.Use(mw.IdentityMiddleware.Middleware())

	app.Get(HealthPath, r.health)
	app.Get(ReadyPath, r.ready)
	app.Get("/version", ht.GetVersionHandler.Handle)

	v1 := app.Group("/v1")
	{
		v1.Post("/evaluate", ht.EvaluateHandler.Handle)

		ops := v1.Group("/ops")
		{
			ops.Get("/lists", ht.ListsHandler.Handle)
			ops.Get("/ratelimits/:identity", ht.RateLimitStatusHandler.Handle)
			ops.Get("/events/summary", ht.EventsSummaryHandler.Handle)
			ops.Get("/events/recent", ht.EventsRecentHandler.Handle)
			ops.Get("/breakers", ht.BreakersHandler.Handle)
		}

		demo := v1.Group("/demo", mw.GateMiddleware.Middleware())
		{
			demo.Post("/auth/login", ht.DemoLoginHandler.Handle)
			demo.Get("/echo", ht.DemoEchoHandler.Handle)
		}
	}

	return nil
}

func (r *gatewayRouter) health(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// ready answers 200 only when the shared cache responds, and the audit
// store too when one is configured.
func (r *gatewayRouter) ready(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), readinessTimeout)
	defer cancel()

	checks := fiber.Map{}
	healthy := true

	if err := r.cache.RedisClient().Ping(ctx).Err(); err != nil {
		checks["redis"] = err.Error()
		healthy = false
	} else {
		checks["redis"] = "ok"
	}

	if r.audit != nil {
		if err := r.audit.Ping(ctx); err != nil {
			checks["database"] = err.Error()
			healthy = false
		} else {
			checks["database"] = "ok"
		}
	}

	status := fiber.StatusOK
	if !healthy {
		status = fiber.StatusServiceUnavailable
	}
	return c.Status(status).JSON(fiber.Map{
		"ready":  healthy,
		"checks": checks,
	})
}
