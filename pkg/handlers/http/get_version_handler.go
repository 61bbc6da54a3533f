package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/axiestudio/aichatbot-sub000/pkg/version"
)

type getVersionHandler struct{}

func NewGetVersionHandler() Handler {
	return &getVersionHandler{}
}

func (h *getVersionHandler) Handle(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(version.GetInfo())
}
