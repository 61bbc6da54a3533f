package http

import "github.com/gofiber/fiber/v2"

type Handler interface {
	Handle(ctx *fiber.Ctx) error
}

type HandlerTransport struct {
	// Evaluation
	EvaluateHandler Handler

	// Ops
	ListsHandler           Handler
	RateLimitStatusHandler Handler
	EventsSummaryHandler   Handler
	EventsRecentHandler    Handler
	BreakersHandler        Handler

	// Misc
	GetVersionHandler Handler

	// Demo group guarded by the engine gate
	DemoLoginHandler Handler
	DemoEchoHandler  Handler
}
