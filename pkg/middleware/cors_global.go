package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// corsGlobalMiddleware answers cross-origin requests for the ops and
// evaluate surfaces. Origins come from server config; "*" allows any.
type corsGlobalMiddleware struct {
	allowOrigins []string
	allowMethods string
	maxAge       string
}

func NewCORSGlobalMiddleware(allowOrigins, allowMethods []string, maxAge string) Middleware {
	return &corsGlobalMiddleware{
		allowOrigins: allowOrigins,
		allowMethods: strings.Join(allowMethods, ", "),
		maxAge:       maxAge,
	}
}

func (m *corsGlobalMiddleware) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		origin := c.Get(fiber.HeaderOrigin)
		if origin == "" || !m.originAllowed(origin) {
			return c.Next()
		}

		c.Set(fiber.HeaderVary, fiber.HeaderOrigin)
		c.Set(fiber.HeaderAccessControlAllowOrigin, origin)

		if c.Method() == fiber.MethodOptions && c.Get(fiber.HeaderAccessControlRequestMethod) != "" {
			c.Set(fiber.HeaderAccessControlAllowMethods, m.allowMethods)
			requested := c.Get(fiber.HeaderAccessControlRequestHeaders)
			if requested == "" {
				requested = fiber.HeaderContentType
			}
			c.Set(fiber.HeaderAccessControlAllowHeaders, requested)
			if m.maxAge != "" {
				c.Set(fiber.HeaderAccessControlMaxAge, m.maxAge)
			}
			return c.SendStatus(fiber.StatusNoContent)
		}

		return c.Next()
	}
}

func (m *corsGlobalMiddleware) originAllowed(origin string) bool {
	for _, o := range m.allowOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}
