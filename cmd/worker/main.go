package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"scoring-service/internal/archive"
	"scoring-service/internal/audit"
	"scoring-service/internal/config"
	"scoring-service/internal/logging"
	"scoring-service/internal/queue"
	"scoring-service/internal/scoring"
	"scoring-service/internal/store"
	"scoring-service/internal/telemetry"
	"scoring-service/internal/worker"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.Env, cfg.LogLevel).With("service", "worker")
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
		logger.Info("shutdown signal received, draining")
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

	archiver, err := archive.New(ctx, cfg)
	if err != nil {
		logger.Error("init archive", "error", err)
		os.Exit(1)
	}

	// Generate a unique worker ID from hostname or env var
	workerID := os.Getenv("WORKER_ID")
	if workerID == "" {
		hostname, _ := os.Hostname()
		if hostname != "" {
			workerID = hostname
		} else {
			workerID = fmt.Sprintf("worker-%d", os.Getpid())
		}
	}

	rubricOpts := []scoring.RubricOption{scoring.WithLatency(cfg.ScoringLatency)}
	if cfg.ScoringSeed != 0 {
		rubricOpts = append(rubricOpts, scoring.WithSeed(cfg.ScoringSeed))
	}

	pool := worker.NewPool(cfg,
		queue.NewRedisQueue(client, cfg),
		store.NewScoreJobs(store.NewRecords(client), cfg.ScoreJobTTL),
		scoring.NewRubric(rubricOpts...),
		worker.WithLogger(logger),
		worker.WithAudit(recorder),
		worker.WithArchiver(archiver),
		worker.WithWorkerID(workerID),
	)

	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: telemetry.Handler(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server stopped", "error", err)
		}
	}()

	logger.Info("worker started",
		"concurrency", cfg.WorkerConcurrency,
		"max_retries", cfg.MaxRetries,
		"retry_delay", cfg.RetryDelay,
		"lease_timeout", cfg.LeaseTimeout,
	)
	if err := pool.Run(ctx); err != nil {
		logger.Error("worker stopped", "error", err)
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = metricsServer.Shutdown(shutdownCtx)
}
