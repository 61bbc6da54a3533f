package middleware_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axiestudio/aichatbot-sub000/pkg/common"
	"github.com/axiestudio/aichatbot-sub000/pkg/middleware"
)

const testSecret = "unit-test-secret"

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func identityApp(t *testing.T) *fiber.App {
	t.Helper()

	app := fiber.New()
	app.Use(middleware.NewIdentityMiddleware(testLogger(), testSecret).Middleware())
	app.Get("/whoami", func(c *fiber.Ctx) error {
		identity, _ := c.Locals(common.IdentityKey).(string)
		return c.SendString(identity)
	})
	return app
}

func signedToken(t *testing.T, subject, secret string) string {
	t.Helper()

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": subject,
	}).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestIdentityFromBearerSubject(t *testing.T) {
	app := identityApp(t)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set(fiber.HeaderAuthorization, "Bearer "+signedToken(t, "user-42", testSecret))
	req.Header.Set(common.IdentityHeader, "header-identity")

	resp, err := app.Test(req)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "user-42", string(body), "verified subject outranks the header")
}

func TestIdentityFallsBackToHeader(t *testing.T) {
	app := identityApp(t)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set(common.IdentityHeader, "header-identity")

	resp, err := app.Test(req)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "header-identity", string(body))
}

func TestIdentityRejectsForgedToken(t *testing.T) {
	app := identityApp(t)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set(fiber.HeaderAuthorization, "Bearer "+signedToken(t, "intruder", "wrong-secret"))
	req.Header.Set(common.IdentityHeader, "header-identity")

	resp, err := app.Test(req)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "header-identity", string(body), "bad signature falls through to the header")
}

func TestIdentityFallsBackToSourceAddress(t *testing.T) {
	app := identityApp(t)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/whoami", nil))
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	assert.NotEmpty(t, string(body), "source address is the identity of last resort")
}
