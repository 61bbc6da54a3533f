package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/axiestudio/aichatbot-sub000/pkg/ratelimit"
)

// listsHandler dumps the current blacklist and whitelist from the local
// mirrors. Read-only; entries expire on their own.
type listsHandler struct {
	lists *ratelimit.ListStore
}

func NewListsHandler(lists *ratelimit.ListStore) Handler {
	return &listsHandler{lists: lists}
}

func (h *listsHandler) Handle(c *fiber.Ctx) error {
	blacklist, whitelist := h.lists.Entries()
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"blacklist": blacklist,
		"whitelist": whitelist,
	})
}
