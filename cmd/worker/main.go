// Package main provides the worker application entry point.
// The worker turns queued interview transcripts into stored feedback.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fairyhunter13/ai-interviewer/internal/adapter/observability"
	"github.com/fairyhunter13/ai-interviewer/internal/adapter/queue/redpanda"
	"github.com/fairyhunter13/ai-interviewer/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/ai-interviewer/internal/app"
	"github.com/fairyhunter13/ai-interviewer/internal/config"
	"github.com/fairyhunter13/ai-interviewer/internal/prompt"
	"github.com/fairyhunter13/ai-interviewer/internal/usecase"
)

func main() {
	if err := run(); err != nil {
		slog.Error("worker exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	// The worker exposes its own /metrics for the feedback pipeline counters.
	observability.InitMetrics()
	metricsSrv := &http.Server{Addr: cfg.WorkerMetricsAddr, Handler: promhttp.Handler(), ReadHeaderTimeout: 5 * time.Second}
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	slog.Info("starting worker", slog.String("env", cfg.AppEnv), slog.Int("workers", cfg.FeedbackWorkers))

	pool, err := postgres.NewPool(ctx, cfg.DBURL, cfg.DBConnectWait)
	if err != nil {
		return err
	}
	defer pool.Close()

	rdb, err := app.NewRedis(cfg)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer func() { _ = rdb.Close() }()
	}

	completion, err := app.NewCompletion(cfg, rdb)
	if err != nil {
		return err
	}
	prompts := prompt.Default()
	if cfg.PromptTemplatesPath != "" {
		if prompts, err = prompt.Load(cfg.PromptTemplatesPath); err != nil {
			return err
		}
	}

	fbSvc := usecase.NewFeedbackService(postgres.NewFeedbackRepo(pool), completion, prompts, app.NewLocker(rdb), cfg.FeedbackLockTTL)

	consumer, err := redpanda.NewConsumer(ctx, cfg.KafkaBrokers, cfg.KafkaGroupID, redpanda.TopicFeedback, cfg.FeedbackWorkers, fbSvc.Dispatch)
	if err != nil {
		return err
	}
	runErr := consumer.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = metricsSrv.Shutdown(shutdownCtx)
	slog.Info("worker stopped")
	return runErr
}
