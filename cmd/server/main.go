// Command server starts the NeuroWell AI gateway HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	httpserver "github.com/fairyhunter13/neurowell-ai-gateway/internal/adapter/httpserver"
	"github.com/fairyhunter13/neurowell-ai-gateway/internal/adapter/observability"
	"github.com/fairyhunter13/neurowell-ai-gateway/internal/adapter/queue/redpanda"
	"github.com/fairyhunter13/neurowell-ai-gateway/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/neurowell-ai-gateway/internal/app"
	"github.com/fairyhunter13/neurowell-ai-gateway/internal/config"
	"github.com/fairyhunter13/neurowell-ai-gateway/internal/service/ratelimiter"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	// Register all Prometheus metrics once per process so that /metrics
	// exposes HTTP, AI, rotation and queue instrumentation.
	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	// Infra: DB pool and schema
	ctx := context.Background()
	if err := postgres.RunMigrations(cfg.DBURL); err != nil {
		slog.Error("migrations failed", slog.Any("error", err))
		os.Exit(1)
	}
	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("db connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	core, err := app.NewCore(cfg, pool, logger)
	if err != nil {
		slog.Error("core init failed", slog.Any("error", err))
		os.Exit(1)
	}

	// Redis backs the per-user chat limiter only; the limiter fails open.
	var rdb *redis.Client
	var limiter ratelimiter.Limiter
	if opts, err := redis.ParseURL(cfg.RedisURL); err != nil {
		slog.Warn("invalid REDIS_URL, per-user chat limit disabled", slog.Any("error", err))
	} else {
		rdb = redis.NewClient(opts)
		defer func() { _ = rdb.Close() }()
		limiter = ratelimiter.NewRedisLuaLimiter(rdb, map[string]ratelimiter.BucketConfig{
			httpserver.LimiterClassChat: ratelimiter.NewBucketConfigFromPerMinute(cfg.ChatRateLimitPerMin),
		})
	}

	// Queue client (Redpanda producer) for admin-triggered assessments
	qClient, err := redpanda.NewProducer(cfg.KafkaBrokers, cfg.AssessmentTopic, "neurowell-ai-gateway-server")
	if err != nil {
		slog.Error("redpanda producer connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := qClient.Close(); err != nil {
			slog.Error("failed to close queue client", slog.Any("error", err))
		}
	}()

	var redisCheck app.RedisClient
	if rdb != nil {
		redisCheck = app.GoRedis{Client: rdb}
	}

	srv := &httpserver.Server{
		Cfg:            cfg,
		Chat:           core.Chat,
		Scoring:        core.Scoring,
		Assessments:    core.Generator,
		AssessmentRepo: core.Assessments,
		Credentials:    core.Store,
		Metrics:        core.Sink,
		Queue:          qClient,
		Limiter:        limiter,
		Checks:         app.BuildReadinessChecks(pool, redisCheck, qClient),
	}
	if !cfg.AdminEnabled() {
		slog.Warn("ADMIN_USERNAME/ADMIN_PASSWORD not set; admin API disabled")
	}

	handler := app.BuildRouter(cfg, srv)

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.Int("port", cfg.Port))
		errCh <- srvHTTP.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)
	core.Close(shutdownCtx)
}
