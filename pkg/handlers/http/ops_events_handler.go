package http

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/axiestudio/aichatbot-sub000/pkg/domain/threat"
)

const (
	defaultSummaryWindow = time.Hour
	defaultRecentLimit   = 50
)

// eventsSummaryHandler counts recent threat events by level over a
// trailing window ("window" query, Go duration syntax).
type eventsSummaryHandler struct {
	ring *threat.Ring
	now  func() time.Time
}

func NewEventsSummaryHandler(ring *threat.Ring, now func() time.Time) Handler {
	if now == nil {
		now = time.Now
	}
	return &eventsSummaryHandler{ring: ring, now: now}
}

func (h *eventsSummaryHandler) Handle(c *fiber.Ctx) error {
	window := defaultSummaryWindow
	if raw := c.Query("window"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid window"})
		}
		window = parsed
	}

	return c.Status(fiber.StatusOK).JSON(h.ring.Summarize(window, h.now()))
}

// eventsRecentHandler returns the newest events from the ring, newest
// first ("limit" query caps the count).
type eventsRecentHandler struct {
	ring *threat.Ring
}

func NewEventsRecentHandler(ring *threat.Ring) Handler {
	return &eventsRecentHandler{ring: ring}
}

func (h *eventsRecentHandler) Handle(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", defaultRecentLimit)
	if limit <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid limit"})
	}

	events := h.ring.Recent(limit)
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"count":  len(events),
		"events": events,
	})
}
