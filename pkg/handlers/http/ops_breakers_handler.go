package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/axiestudio/aichatbot-sub000/pkg/response"
)

// breakersHandler lists every tracked per-identity circuit.
type breakersHandler struct {
	breakers *response.BreakerSet
}

func NewBreakersHandler(breakers *response.BreakerSet) Handler {
	return &breakersHandler{breakers: breakers}
}

func (h *breakersHandler) Handle(c *fiber.Ctx) error {
	snapshots := h.breakers.Snapshot()
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"count":    len(snapshots),
		"breakers": snapshots,
	})
}
