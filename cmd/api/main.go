package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"scoring-service/internal/api"
	"scoring-service/internal/audit"
	"scoring-service/internal/config"
	"scoring-service/internal/logging"
	"scoring-service/internal/queue"
	"scoring-service/internal/ratelimit"
	"scoring-service/internal/service"
	"scoring-service/internal/store"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.Env, cfg.LogLevel).With("service", "api")
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	client, err := store.NewRedisClient(ctx, cfg)
	if err != nil {
		logger.Error("connect redis", "error", err)
		os.Exit(1)
	}
	defer client.Close()

	recorder, closeAudit, err := audit.FromConfig(ctx, cfg)
	if err != nil {
		logger.Error("open audit store", "error", err)
		os.Exit(1)
	}
	defer closeAudit()

	records := store.NewRecords(client)
	svc := service.New(
		store.NewSubmissions(records, cfg.SubmissionTTL),
		store.NewScoreJobs(records, cfg.ScoreJobTTL),
		queue.NewRedisQueue(client, cfg),
		service.WithLogger(logger),
		service.WithAudit(recorder),
	)
	var limiter api.Limiter
	if cfg.RateLimitCapacity > 0 {
		limiter = ratelimit.NewTokenBucket(client, cfg.RateLimitCapacity, cfg.RateLimitRefill)
	}

	httpServer := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           api.New(svc, limiter, logger).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("api listening", "addr", httpServer.Addr)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("listen", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown", "error", err)
	}
	logger.Info("api stopped")
}
