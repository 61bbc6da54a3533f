package http

import (
	"crypto/subtle"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// demoLoginHandler is the guarded credential endpoint: wrong passwords
// answer 401, which the gate middleware counts toward the automatic
// blacklist.
type demoLoginHandler struct {
	logger   *logrus.Logger
	password string
}

func NewDemoLoginHandler(logger *logrus.Logger, password string) Handler {
	return &demoLoginHandler{logger: logger, password: password}
}

type demoLoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *demoLoginHandler) Handle(c *fiber.Ctx) error {
	var req demoLoginRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid login payload"})
	}

	if h.password == "" ||
		subtle.ConstantTimeCompare([]byte(req.Password), []byte(h.password)) != 1 {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid credentials"})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"user": req.Username, "status": "authenticated"})
}

// demoEchoHandler is a trivial protected endpoint behind the gate; it
// reflects the decision stored by the middleware chain.
type demoEchoHandler struct{}

func NewDemoEchoHandler() Handler {
	return &demoEchoHandler{}
}

func (h *demoEchoHandler) Handle(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"method": c.Method(),
		"path":   c.Path(),
	})
}
