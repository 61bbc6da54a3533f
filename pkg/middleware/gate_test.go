package middleware_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axiestudio/aichatbot-sub000/pkg/behavior"
	"github.com/axiestudio/aichatbot-sub000/pkg/cache/mocks"
	"github.com/axiestudio/aichatbot-sub000/pkg/common"
	"github.com/axiestudio/aichatbot-sub000/pkg/config"
	"github.com/axiestudio/aichatbot-sub000/pkg/domain/threat"
	"github.com/axiestudio/aichatbot-sub000/pkg/engine"
	"github.com/axiestudio/aichatbot-sub000/pkg/infra/fingerprint"
	"github.com/axiestudio/aichatbot-sub000/pkg/middleware"
	"github.com/axiestudio/aichatbot-sub000/pkg/ratelimit"
	"github.com/axiestudio/aichatbot-sub000/pkg/response"
	"github.com/axiestudio/aichatbot-sub000/pkg/scoring"
	"github.com/axiestudio/aichatbot-sub000/pkg/signatures"
)

func defaultScoring() config.ScoringConfig {
	return config.ScoringConfig{
		Weights: config.ScoringWeights{
			RequestFrequency:  0.20,
			ErrorRate:         0.25,
			PayloadEntropy:    0.15,
			UserAgent:         0.10,
			GeoVelocity:       0.10,
			Behavior:          0.10,
			EndpointDiversity: 0.10,
		},
		SignatureBonus: 50,
		Thresholds:     config.Thresholds{Medium: 30, High: 60, Critical: 80},
	}
}

// gateApp builds a gateway slice: identity + gate in front of an echo
// route and a login route that rejects every credential.
func gateApp(t *testing.T) (*fiber.App, *ratelimit.ListStore) {
	t.Helper()

	logger := testLogger()
	db, _ := redismock.NewClientMock()
	client := mocks.NewClientMock(db)
	client.Unhealthy = true
	client.ExecuteErr = errors.New("circuit breaker is open")

	lists := ratelimit.NewListStore(client, logger, time.Now)
	limiter := ratelimit.NewLimiter(client, lists, logger, map[string]ratelimit.Policy{
		"default": {MaxRequests: 100, Window: time.Minute},
		"auth":    {MaxRequests: 50, Window: time.Minute},
	}, ratelimit.Config{FailedAttemptsMax: 3, BlacklistDuration: time.Hour}, nil)
	controller := response.NewController(limiter, nil, logger, response.Config{}, nil)

	eng := engine.New(engine.Dependencies{
		Logger:       logger,
		Fingerprints: fingerprint.NewRegistry(client, logger, time.Hour),
		Behavior:     behavior.NewStore(client, logger, behavior.Config{}),
		Limiter:      limiter,
		Controller:   controller,
		Scorer:       scoring.NewEngine(defaultScoring()),
		Ring:         threat.NewRing(64),
	}, signatures.Default(), nil)

	app := fiber.New()
	app.Use(middleware.NewIdentityMiddleware(logger, testSecret).Middleware())
	app.Use(middleware.NewGateMiddleware(logger, eng).Middleware())
	app.Get("/echo", func(c *fiber.Ctx) error {
		return c.SendString("OK")
	})
	app.Post("/auth/login", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid credentials"})
	})
	return app, lists
}

func TestGateAllowsCleanRequests(t *testing.T) {
	app, _ := gateApp(t)

	req := httptest.NewRequest(http.MethodGet, "/echo", nil)
	req.Header.Set(common.IdentityHeader, "alice")
	req.Header.Set(fiber.HeaderUserAgent, "Mozilla/5.0 (X11; Linux x86_64) Firefox/124.0")

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestGateChallengesInjectionPayload(t *testing.T) {
	app, _ := gateApp(t)

	body := strings.NewReader(`{"q":"union select * from users"}`)
	req := httptest.NewRequest(http.MethodPost, "/echo?cmd=..%2f..%2fetc%2fpasswd", body)
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	req.Header.Set(common.IdentityHeader, "mallory")
	req.Header.Set(fiber.HeaderUserAgent, "sqlmap/1.7")

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(common.ChallengeHeader))
}

func TestGateAnswersBlacklistWithRetryAfter(t *testing.T) {
	app, lists := gateApp(t)

	lists.Blacklist(context.Background(), "eve", "manual block", time.Hour)

	req := httptest.NewRequest(http.MethodGet, "/echo", nil)
	req.Header.Set(common.IdentityHeader, "eve")

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(fiber.HeaderRetryAfter))
}

func TestGateCountsFailedLoginsTowardBlacklist(t *testing.T) {
	app, lists := gateApp(t)

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{}`))
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		req.Header.Set(common.IdentityHeader, "brute")
		req.Header.Set(fiber.HeaderUserAgent, "Mozilla/5.0 (X11; Linux x86_64) Firefox/124.0")

		resp, err := app.Test(req)
		require.NoError(t, err)
		require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	}

	_, blacklisted := lists.IsBlacklisted(context.Background(), "brute")
	assert.True(t, blacklisted, "three failed logins hit the configured attempt cap")
}
