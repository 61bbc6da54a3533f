package http

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/axiestudio/aichatbot-sub000/pkg/engine"
	"github.com/axiestudio/aichatbot-sub000/pkg/types"
)

// evaluateHandler scores a JSON request descriptor and returns the
// decision as data. Nothing is enforced here; callers that want
// enforcement sit behind the gate middleware instead.
type evaluateHandler struct {
	logger *logrus.Logger
	engine *engine.Engine
}

func NewEvaluateHandler(logger *logrus.Logger, eng *engine.Engine) Handler {
	return &evaluateHandler{logger: logger, engine: eng}
}

func (h *evaluateHandler) Handle(c *fiber.Ctx) error {
	var record types.RequestRecord
	if err := c.BodyParser(&record); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request descriptor"})
	}

	if record.SourceAddress == "" {
		record.SourceAddress = c.IP()
	}

	decision, err := h.engine.Evaluate(c.UserContext(), &record)
	if err != nil {
		var engineErr *types.EngineError
		if errors.As(err, &engineErr) {
			return c.Status(engineErr.StatusCode).JSON(fiber.Map{"error": engineErr.Message})
		}
		h.logger.WithError(err).Error("evaluation failed")
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "evaluation aborted"})
	}

	return c.Status(fiber.StatusOK).JSON(decision)
}
