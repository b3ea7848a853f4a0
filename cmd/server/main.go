// Command server starts the AI interviewer HTTP API and hosts live interview sessions.
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

	httpserver "github.com/fairyhunter13/ai-interviewer/internal/adapter/httpserver"
	"github.com/fairyhunter13/ai-interviewer/internal/adapter/observability"
	"github.com/fairyhunter13/ai-interviewer/internal/adapter/queue/redpanda"
	"github.com/fairyhunter13/ai-interviewer/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/ai-interviewer/internal/adapter/voice"
	"github.com/fairyhunter13/ai-interviewer/internal/app"
	"github.com/fairyhunter13/ai-interviewer/internal/config"
	"github.com/fairyhunter13/ai-interviewer/internal/domain"
	"github.com/fairyhunter13/ai-interviewer/internal/prompt"
	"github.com/fairyhunter13/ai-interviewer/internal/session"
	"github.com/fairyhunter13/ai-interviewer/internal/usecase"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", slog.Any("error", err))
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := postgres.NewPool(ctx, cfg.DBURL, cfg.DBConnectWait)
	if err != nil {
		return err
	}
	defer pool.Close()
	interviewRepo := postgres.NewInterviewRepo(pool)
	feedbackRepo := postgres.NewFeedbackRepo(pool)

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
		slog.Info("prompt templates loaded", slog.String("path", cfg.PromptTemplatesPath))
	}

	fbSvc := usecase.NewFeedbackService(feedbackRepo, completion, prompts, app.NewLocker(rdb), cfg.FeedbackLockTTL)
	interviewSvc := usecase.NewInterviewService(interviewRepo, feedbackRepo)
	questionSvc := usecase.NewQuestionService(completion, prompts)

	// Ended sessions go straight to the orchestrator, or are saved here and
	// handed to the worker through Redpanda.
	var (
		dispatcher session.Dispatcher = fbSvc
		queue      domain.FeedbackQueue
		kafkaCheck app.Pinger
	)
	if cfg.QueueDispatch() {
		producer, err := redpanda.NewProducer(ctx, cfg.KafkaBrokers, redpanda.TopicFeedback)
		if err != nil {
			return err
		}
		defer func() { _ = producer.Close() }()
		queue = producer
		kafkaCheck = producer
		dispatcher = usecase.NewQueueDispatcher(feedbackRepo, producer)
		slog.Info("feedback dispatch via queue", slog.String("topic", redpanda.TopicFeedback))
	}

	registry := session.NewRegistry(prompts, voice.Factory(voice.Config{
		URL:         cfg.VoiceWSURL,
		APIKey:      cfg.VoiceAPIKey,
		DialTimeout: cfg.VoiceDialTimeout,
	}, logger), dispatcher, session.Options{
		InactivityTimeout: cfg.InactivityTimeout,
		WrapUpGrace:       cfg.WrapUpGrace,
		Logger:            logger,
	})

	var checks []httpserver.Check
	if rdb != nil {
		checks = app.BuildReadinessChecks(pool, rdb, kafkaCheck)
	} else {
		checks = app.BuildReadinessChecks(pool, nil, kafkaCheck)
	}
	srv := httpserver.NewServer(cfg, interviewSvc, questionSvc, fbSvc, registry, queue, checks...)

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           app.BuildRouter(cfg, srv),
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.Int("port", cfg.Port), slog.String("dispatch", cfg.FeedbackDispatch))
		errCh <- srvHTTP.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	if err := srvHTTP.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown", slog.Any("error", err))
	}
	// Live sessions are closed so their transcripts still reach the orchestrator.
	if err := registry.Shutdown(shutdownCtx); err != nil {
		slog.Error("session shutdown", slog.Any("error", err))
	}
	return nil
}
