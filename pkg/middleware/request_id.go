package middleware

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/axiestudio/aichatbot-sub000/pkg/common"
)

// requestIDMiddleware tags every request with an id, honoring one the
// caller already assigned.
type requestIDMiddleware struct{}

func NewRequestIDMiddleware() Middleware {
	return &requestIDMiddleware{}
}

func (m *requestIDMiddleware) Middleware() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		id := ctx.Get(common.RequestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}

		ctx.Locals(common.RequestIdKey, id)
		ctx.Set(common.RequestIDHeader, id)

		c := context.WithValue(ctx.Context(), common.RequestIdKey, id)
		ctx.SetUserContext(c)

		return ctx.Next()
	}
}
