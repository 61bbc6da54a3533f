package middleware

import "github.com/gofiber/fiber/v2"

type Middleware interface {
	Middleware() fiber.Handler
}

// Transport bundles the gateway's middleware. Recover, request id,
// security headers, CORS and identity run app-wide; the engine gate
// guards only the protected group.
type Transport struct {
	RecoverMiddleware   Middleware
	RequestIDMiddleware Middleware
	SecurityMiddleware  Middleware
	CORSMiddleware      Middleware
	IdentityMiddleware  Middleware
	GateMiddleware      Middleware
}
