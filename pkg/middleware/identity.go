package middleware

import (
	"context"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"

	"github.com/axiestudio/aichatbot-sub000/pkg/common"
)

// identityMiddleware resolves who the request belongs to: a verified JWT
// subject first, the identity header second, the source address last.
// Resolution never rejects; an unverifiable token just falls through to
// the weaker sources.
type identityMiddleware struct {
	logger    *logrus.Logger
	secretKey []byte
}

func NewIdentityMiddleware(logger *logrus.Logger, secretKey string) Middleware {
	return &identityMiddleware{
		logger:    logger,
		secretKey: []byte(secretKey),
	}
}

func (m *identityMiddleware) Middleware() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		identity := m.resolve(ctx)

		ctx.Locals(common.IdentityKey, identity)
		c := context.WithValue(ctx.Context(), common.IdentityKey, identity)
		ctx.SetUserContext(c)

		return ctx.Next()
	}
}

func (m *identityMiddleware) resolve(ctx *fiber.Ctx) string {
	if subject := m.subjectFromBearer(ctx.Get(fiber.HeaderAuthorization)); subject != "" {
		return subject
	}
	if header := ctx.Get(common.IdentityHeader); header != "" {
		return header
	}
	return ctx.IP()
}

func (m *identityMiddleware) subjectFromBearer(header string) string {
	const prefix = "Bearer "
	if len(m.secretKey) == 0 || !strings.HasPrefix(header, prefix) {
		return ""
	}

	token, err := jwt.Parse(strings.TrimPrefix(header, prefix), func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secretKey, nil
	})
	if err != nil || !token.Valid {
		m.logger.WithError(err).Debug("bearer token rejected, falling back to weaker identity")
		return ""
	}

	subject, err := token.Claims.GetSubject()
	if err != nil || subject == "" {
		return ""
	}
	return subject
}
