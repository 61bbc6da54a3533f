package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/axiestudio/aichatbot-sub000/pkg/behavior"
	"github.com/axiestudio/aichatbot-sub000/pkg/cache"
	"github.com/axiestudio/aichatbot-sub000/pkg/config"
	"github.com/axiestudio/aichatbot-sub000/pkg/domain/threat"
	"github.com/axiestudio/aichatbot-sub000/pkg/engine"
	handlers "github.com/axiestudio/aichatbot-sub000/pkg/handlers/http"
	"github.com/axiestudio/aichatbot-sub000/pkg/infra/audit"
	"github.com/axiestudio/aichatbot-sub000/pkg/infra/fingerprint"
	infraLogger "github.com/axiestudio/aichatbot-sub000/pkg/infra/logger"
	"github.com/axiestudio/aichatbot-sub000/pkg/infra/metrics"
	"github.com/axiestudio/aichatbot-sub000/pkg/infra/notify"
	"github.com/axiestudio/aichatbot-sub000/pkg/middleware"
	"github.com/axiestudio/aichatbot-sub000/pkg/ratelimit"
	"github.com/axiestudio/aichatbot-sub000/pkg/response"
	"github.com/axiestudio/aichatbot-sub000/pkg/scoring"
	"github.com/axiestudio/aichatbot-sub000/pkg/server"
	"github.com/axiestudio/aichatbot-sub000/pkg/server/router"
	"github.com/axiestudio/aichatbot-sub000/pkg/signatures"
)

const auditDrainTimeout = 5 * time.Second

func main() {
	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil {
		log.Println("no .env file found, using system environment variables")
	}

	logger := infraLogger.NewLogger()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config"
	}
	if err := config.Load(configPath); err != nil {
		logger.WithError(err).Warn("running on defaults and environment variables only")
	}
	cfg := config.GetConfig()

	metrics.Initialize()

	cacheClient := cache.NewClient(cache.Config{
		Host:     cfg.Redis.Host,
		Port:     cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}, logger)

	lists := ratelimit.NewListStore(cacheClient, logger, time.Now)
	limiter := ratelimit.NewLimiter(cacheClient, lists, logger,
		engine.PoliciesFrom(cfg.Engine.RateLimit),
		ratelimit.Config{
			ViolationWindow:      time.Duration(cfg.Engine.RateLimit.ViolationWindowSeconds) * time.Second,
			FailedAttemptsMax:    cfg.Engine.RateLimit.FailedAttempts.Max,
			FailedAttemptsWindow: time.Duration(cfg.Engine.RateLimit.FailedAttempts.WindowSeconds) * time.Second,
			BlacklistDuration:    time.Duration(cfg.Engine.RateLimit.FailedAttempts.BlacklistSeconds) * time.Second,
		}, nil)

	var alerts response.AlertSink
	if cfg.Notify.Enabled {
		alerts = notify.NewWebhookNotifier(
			cfg.Notify.WebhookURL,
			time.Duration(cfg.Notify.TimeoutMs)*time.Millisecond,
			logger,
		)
	}

	controller := response.NewController(limiter, alerts, logger, response.Config{
		Breaker: response.BreakerConfig{
			FailureThreshold: cfg.Engine.Breaker.FailureThreshold,
			Cooldown:         time.Duration(cfg.Engine.Breaker.CooldownSeconds) * time.Second,
		},
	}, nil)

	matcher, err := signatures.NewMatcher(cfg.Engine.Signatures)
	if err != nil {
		logger.WithError(err).Fatal("invalid signature configuration")
	}

	fingerprints := fingerprint.NewRegistry(cacheClient, logger,
		time.Duration(cfg.Engine.Fingerprint.RetentionDays)*24*time.Hour)
	behaviorStore := behavior.NewStore(cacheClient, logger, behavior.Config{
		Retention:       time.Duration(cfg.Engine.Behavior.RetentionDays) * 24 * time.Hour,
		FastRepeatRatio: cfg.Engine.Behavior.FastRepeatRatio,
		MaxHistory:      cfg.Engine.Behavior.MaxHistory,
	})

	ring := threat.NewRing(cfg.Engine.Events.RingCapacity)

	var (
		sinks     []audit.Sink
		auditPing router.Pinger
	)
	if cfg.Database.Enabled {
		store, err := audit.NewPostgresStore(audit.PostgresConfig{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			DBName:   cfg.Database.DBName,
			SSLMode:  cfg.Database.SSLMode,
		}, logger)
		if err != nil {
			logger.WithError(err).Fatal("failed to initialize audit store")
		}
		sinks = append(sinks, store)
		auditPing = store
	}
	if cfg.Kafka.Enabled {
		exporter, err := audit.NewKafkaExporter(cfg.Kafka.BootstrapServers, cfg.Kafka.Topic, logger)
		if err != nil {
			logger.WithError(err).Fatal("failed to initialize kafka exporter")
		}
		sinks = append(sinks, exporter)
	}
	dispatcher := audit.NewDispatcher(sinks, logger, audit.DispatcherOpts{
		QueueSize: cfg.Engine.Events.QueueSize,
	})

	eng := engine.New(engine.Dependencies{
		Logger:       logger,
		Fingerprints: fingerprints,
		Behavior:     behaviorStore,
		Limiter:      limiter,
		Controller:   controller,
		Scorer:       scoring.NewEngine(cfg.Engine.Scoring),
		Ring:         ring,
		Audit:        dispatcher,
	}, matcher, nil)

	janitor := engine.NewJanitor(eng, fingerprints, behaviorStore, logger)
	janitor.Start()

	middlewareTransport := &middleware.Transport{
		RecoverMiddleware:   middleware.NewPanicRecoverMiddleware(logger),
		RequestIDMiddleware: middleware.NewRequestIDMiddleware(),
		SecurityMiddleware:  middleware.NewSecurityHeadersMiddleware(),
		CORSMiddleware: middleware.NewCORSGlobalMiddleware(
			[]string{"*"},
			[]string{"GET", "POST", "OPTIONS"},
			"300",
		),
		IdentityMiddleware: middleware.NewIdentityMiddleware(logger, cfg.Server.SecretKey),
		GateMiddleware:     middleware.NewGateMiddleware(logger, eng),
	}

	handlerTransport := &handlers.HandlerTransport{
		EvaluateHandler:        handlers.NewEvaluateHandler(logger, eng),
		ListsHandler:           handlers.NewListsHandler(lists),
		RateLimitStatusHandler: handlers.NewRateLimitStatusHandler(limiter),
		EventsSummaryHandler:   handlers.NewEventsSummaryHandler(ring, nil),
		EventsRecentHandler:    handlers.NewEventsRecentHandler(ring),
		BreakersHandler:        handlers.NewBreakersHandler(eng.Breakers()),
		GetVersionHandler:      handlers.NewGetVersionHandler(),
		DemoLoginHandler:       handlers.NewDemoLoginHandler(logger, os.Getenv("DEMO_PASSWORD")),
		DemoEchoHandler:        handlers.NewDemoEchoHandler(),
	}

	srv := server.NewGatewayServer(server.GatewayServerDI{
		Config: cfg,
		Logger: logger,
		Routers: []router.ServerRouter{
			router.NewGatewayRouter(middlewareTransport, handlerTransport, cacheClient, auditPing),
		},
	})

	go func() {
		if err := srv.Run(); err != nil {
			logger.WithError(err).Fatal("server failed")
		}
	}()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	for sig := range signals {
		if sig == syscall.SIGHUP {
			reloadPolicies(logger, eng)
			continue
		}

		logger.WithField("signal", sig.String()).Info("shutting down")
		if err := srv.Shutdown(); err != nil {
			logger.WithError(err).Error("error shutting down server")
		}
		janitor.Stop()
		dispatcher.Stop(auditDrainTimeout)
		if err := cacheClient.Close(); err != nil {
			logger.WithError(err).Warn("error closing cache client")
		}
		logger.Info("server gracefully stopped")
		return
	}
}

// reloadPolicies re-reads the config file and swaps the engine's policy
// tables in place. A broken file keeps the running tables.
func reloadPolicies(logger *logrus.Logger, eng *engine.Engine) {
	fresh, err := config.Reload()
	if err != nil {
		logger.WithError(err).Error("config reload failed, keeping current policies")
		return
	}
	if err := eng.ApplyConfig(fresh.Engine); err != nil {
		logger.WithError(err).Error("invalid reloaded policies, keeping current tables")
		return
	}
	logger.Info("policy tables reloaded")
}
