package middleware

import (
	"github.com/gofiber/fiber/v2"
)

// securityHeadersMiddleware sets the fixed hardening headers on every
// response. The engine fronts an internal API, so the set is static
// rather than per-tenant.
type securityHeadersMiddleware struct{}

func NewSecurityHeadersMiddleware() Middleware {
	return &securityHeadersMiddleware{}
}

func (m *securityHeadersMiddleware) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Frame-Options", "DENY")
		c.Set("Referrer-Policy", "no-referrer")
		c.Set("Cache-Control", "no-store")
		return c.Next()
	}
}
