package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/axiestudio/aichatbot-sub000/pkg/ratelimit"
)

// rateLimitStatusHandler reports one identity's per-category window
// usage and penalty factor.
type rateLimitStatusHandler struct {
	limiter *ratelimit.Limiter
}

func NewRateLimitStatusHandler(limiter *ratelimit.Limiter) Handler {
	return &rateLimitStatusHandler{limiter: limiter}
}

func (h *rateLimitStatusHandler) Handle(c *fiber.Ctx) error {
	identity := c.Params("identity")
	if identity == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "identity required"})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"identity":   identity,
		"categories": h.limiter.Status(identity),
	})
}
