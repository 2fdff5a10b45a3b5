// Package main is the entrypoint for the stream-backed aggregation consumer.
//
// The consumer reads click events from the Redis stream in a consumer group,
// folds them into rollup counters and acknowledges messages only after the
// counters are persisted. Poison messages route to the dead-letter stream.
package main

import (
	"context"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/linkpulse/linkpulse/internal/analytics"
	"github.com/linkpulse/linkpulse/internal/broker"
	"github.com/linkpulse/linkpulse/internal/config"
	"github.com/linkpulse/linkpulse/internal/handler"
	"github.com/linkpulse/linkpulse/internal/metrics"
	"github.com/linkpulse/linkpulse/internal/middleware"
	"github.com/linkpulse/linkpulse/internal/repository"
	"github.com/linkpulse/linkpulse/internal/server"
)

func main() {
	// Initialize context
	ctx := context.Background()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := initLogger(cfg)

	// Initialize database
	repo, err := repository.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error(
			"failed to connect to database",
			slog.String("error", sanitizeError(err, cfg.DatabaseURL)),
			slog.String("database_url", redactURL(cfg.DatabaseURL)),
		)
		os.Exit(1)
	}
	defer repo.Close()
	logger.Info("connected to database")

	// Initialize broker
	b, err := broker.New(ctx, cfg.RedisURL)
	if err != nil {
		logger.Error(
			"failed to connect to Redis",
			slog.String("error", sanitizeError(err, cfg.RedisURL)),
			slog.String("redis_url", redactURL(cfg.RedisURL)),
		)
		os.Exit(1)
	}
	defer b.Close()
	logger.Info("connected to Redis")

	// Initialize stores
	recorder := metrics.NewInMemory()
	rollups := repository.NewRollupRepository(repo, logger, recorder)

	// Initialize consumer
	consumerID := analytics.NewConsumerID()
	consumer := analytics.NewConsumer(b.Client(), rollups, logger, consumerID, recorder)
	consumer.SetBatchSize(cfg.ConsumerBatchSize)
	consumer.SetChunkSize(cfg.ChunkSize)
	consumer.SetBlockTimeout(cfg.BlockTimeout)
	consumer.SetClaimInterval(cfg.ClaimInterval)
	consumer.SetClaimIdle(cfg.ClaimIdle)

	// Ingest path: edge-forwarded clicks go straight to the stream
	publisher := analytics.NewPublisher(b.Client(), logger, recorder)

	// Setup ops router
	r := setupRouter(rollups, publisher, recorder, repo, b, logger)

	// Create server
	srv := server.New(
		r,
		cfg.OpsPort,
		cfg.ReadTimeout,
		cfg.WriteTimeout,
		cfg.ShutdownTimeout,
		logger,
	)

	// Start consumer and register for graceful shutdown
	go func() {
		if err := consumer.Run(ctx); err != nil && err != context.Canceled {
			logger.Error("consumer stopped", "error", err)
		}
	}()
	srv.OnShutdown("stream consumer", consumer.Shutdown)

	logger.Info("starting stream consumer",
		"ops_port", cfg.OpsPort,
		"consumer_id", consumerID,
		"batch_size", cfg.ConsumerBatchSize,
		"env", cfg.AppEnv,
	)

	if err := srv.Run(); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

// initLogger initializes the slog logger based on configuration.
func initLogger(cfg *config.Config) *slog.Logger {
	var h slog.Handler

	level := parseLogLevel(cfg.LogLevel)

	opts := &slog.HandlerOptions{
		Level: level,
	}

	if cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		h = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(h)
	slog.SetDefault(logger)

	return logger
}

// parseLogLevel converts string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// setupRouter configures the ops router: probes, ingest, internal stats,
// metrics.
func setupRouter(
	rollups *repository.RollupRepository,
	publisher *analytics.Publisher,
	recorder metrics.Snapshotter,
	repo *repository.Repository,
	b *broker.Broker,
	logger *slog.Logger,
) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Recoverer(logger))

	healthHandler := handler.NewHealthHandler(repo, b)
	ingestHandler := handler.NewIngestHandler(handler.PublisherRecorder{Publisher: publisher}, logger)
	statsHandler := handler.NewStatsHandler(rollups, logger)
	metricsHandler := handler.NewMetricsHandler(recorder)

	// Health endpoints
	r.Get("/healthz", healthHandler.Healthz)
	r.Get("/readyz", healthHandler.Readyz)

	// Internal endpoints for the edge, operators and the reporting layer
	r.Route("/internal", func(r chi.Router) {
		r.Post("/events", ingestHandler.Ingest)
		r.Get("/metrics", metricsHandler.Snapshot)
		r.Get("/stats/global", statsHandler.GlobalClicks)
		r.Route("/links/{linkID}", func(r chi.Router) {
			r.Get("/counter", statsHandler.LinkCounter)
			r.Get("/rollups/daily", statsHandler.DailyRollups)
			r.Get("/rollups/monthly", statsHandler.MonthlyRollup)
		})
	})

	// 404 and 405 handlers
	r.NotFound(handler.NotFound)
	r.MethodNotAllowed(handler.MethodNotAllowed)

	return r
}

var passwordPattern = regexp.MustCompile(`(?i)password=[^\s]+`)

func redactURL(raw string) string {
	if raw == "" {
		return ""
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "[redacted]"
	}

	if parsed.User != nil {
		username := parsed.User.Username()
		if username == "" {
			parsed.User = url.User("redacted")
		} else {
			parsed.User = url.User(username)
		}
	}

	return parsed.String()
}

func sanitizeError(err error, secrets ...string) string {
	if err == nil {
		return ""
	}

	msg := err.Error()
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		redacted := redactURL(secret)
		if redacted == "" {
			redacted = "[redacted]"
		}
		msg = strings.ReplaceAll(msg, secret, redacted)
	}

	return passwordPattern.ReplaceAllString(msg, "password=redacted")
}
