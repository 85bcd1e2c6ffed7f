// Package main provides the worker application entry point.
// The worker generates the daily assessment on a cron schedule, serves
// on-demand assessment requests from the Redpanda queue and purges expired
// chat transcripts.
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

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fairyhunter13/neurowell-ai-gateway/internal/adapter/observability"
	"github.com/fairyhunter13/neurowell-ai-gateway/internal/adapter/queue/redpanda"
	"github.com/fairyhunter13/neurowell-ai-gateway/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/neurowell-ai-gateway/internal/app"
	"github.com/fairyhunter13/neurowell-ai-gateway/internal/config"
	"github.com/fairyhunter13/neurowell-ai-gateway/internal/scheduler"
	"github.com/fairyhunter13/neurowell-ai-gateway/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	// Register Prometheus metrics in the worker process and expose them on a
	// dedicated /metrics endpoint.
	observability.InitMetrics()
	metricsSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.WorkerMetricsPort),
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("worker metrics server error", slog.Any("error", err))
		}
	}()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	slog.Info("starting worker", slog.String("env", cfg.AppEnv))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("database connection failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	core, err := app.NewCore(cfg, pool, logger)
	if err != nil {
		slog.Error("core init failed", slog.Any("error", err))
		os.Exit(1)
	}
	job := usecase.NewAssessmentJob(core.Generator, core.Assessments, cfg.AssessmentQuestions)

	// Nightly generation. Jobs run with the worker's lifetime context and a
	// bound long enough for the full rotation plus the secondary fallback.
	sched := scheduler.New(logger, time.Local, 2*cfg.RequestTimeout)
	if err := sched.Add("daily-assessment", cfg.AssessmentCron, job.Run); err != nil {
		slog.Error("invalid ASSESSMENT_CRON", slog.Any("error", err))
		os.Exit(1)
	}
	sched.Start(ctx)
	if next, err := sched.Next(cfg.AssessmentCron, time.Now()); err == nil {
		slog.Info("assessment schedule registered", slog.String("cron", cfg.AssessmentCron), slog.Time("next_run", next))
	}

	// Retention
	cleanup := postgres.NewCleanupService(pool, cfg.ChatRetentionDays)
	go cleanup.RunPeriodic(ctx, cfg.CleanupInterval)

	// On-demand requests
	consumer, err := redpanda.NewConsumer(redpanda.ConsumerConfig{
		Brokers: cfg.KafkaBrokers,
		GroupID: "neurowell-assessment-workers",
		Topic:   cfg.AssessmentTopic,
	}, job, logger)
	if err != nil {
		slog.Error("redpanda consumer init failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer consumer.Close()

	consumerDone := make(chan error, 1)
	go func() {
		slog.Info("starting redpanda consumer", slog.String("topic", cfg.AssessmentTopic))
		consumerDone <- consumer.Run(ctx)
	}()

	slog.Info("worker started successfully, waiting for shutdown signal")
	select {
	case <-ctx.Done():
		slog.Info("signal received, shutting down")
	case err := <-consumerDone:
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("consumer stopped", slog.Any("error", err))
		}
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	if err := sched.Stop(shutdownCtx); err != nil {
		slog.Warn("scheduler stop timed out", slog.Any("error", err))
	}
	_ = metricsSrv.Shutdown(shutdownCtx)
	core.Close(shutdownCtx)
	slog.Info("worker stopped")
}
