// Package worker runs score jobs from the queue: a fixed pool of consumers plus
// a maintenance loop that promotes due retries and reclaims stalled leases.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"scoring-service/internal/archive"
	"scoring-service/internal/audit"
	"scoring-service/internal/common"
	"scoring-service/internal/config"
	"scoring-service/internal/models"
	"scoring-service/internal/queue"
	"scoring-service/internal/scoring"
	"scoring-service/internal/telemetry"
)

// Queue is the subset of the job queue the pool consumes.
type Queue interface {
	Dequeue(ctx context.Context) (*queue.Claim, error)
	ExtendLease(ctx context.Context, claim *queue.Claim) error
	Complete(ctx context.Context, claim *queue.Claim) error
	Fail(ctx context.Context, claim *queue.Claim, cause error) (queue.FailResult, error)
	PromoteScheduled(ctx context.Context, limit int) (int, error)
	RequeueExpired(ctx context.Context, limit int) ([]queue.Reclaimed, error)
	Metrics(ctx context.Context) (queue.Metrics, error)
	LeaseTimeout() time.Duration
}

// JobStore applies score job transitions.
type JobStore interface {
	Get(ctx context.Context, id string) (models.ScoreJob, error)
	StartAttempt(ctx context.Context, id string, attemptsMade int) (models.ScoreJob, error)
	MarkDone(ctx context.Context, id string, res models.ScoreResult) (models.ScoreJob, error)
	RecordFailure(ctx context.Context, id, message string, final bool) (models.ScoreJob, error)
	RecordStalled(ctx context.Context, id, message string, attempts int, final bool) (models.ScoreJob, error)
}

// Pool drives N concurrent consumers over one queue.
type Pool struct {
	queue    Queue
	jobs     JobStore
	scorer   scoring.Scorer
	logger   *slog.Logger
	audit    audit.Recorder
	archiver archive.Archiver
	workerID string

	concurrency         int
	pollInterval        time.Duration
	maintenanceInterval time.Duration
	batchSize           int
}

// Option customizes a Pool.
type Option func(*Pool)

func WithLogger(l *slog.Logger) Option { return func(p *Pool) { p.logger = l } }

func WithAudit(r audit.Recorder) Option { return func(p *Pool) { p.audit = r } }

func WithArchiver(a archive.Archiver) Option { return func(p *Pool) { p.archiver = a } }

// WithWorkerID tags log lines from this process.
func WithWorkerID(id string) Option { return func(p *Pool) { p.workerID = id } }

func NewPool(cfg config.Config, q Queue, jobs JobStore, scorer scoring.Scorer, opts ...Option) *Pool {
	p := &Pool{
		queue:               q,
		jobs:                jobs,
		scorer:              scorer,
		logger:              slog.Default(),
		audit:               audit.Nop{},
		archiver:            archive.Nop{},
		concurrency:         cfg.WorkerConcurrency,
		pollInterval:        cfg.WorkerPollInterval,
		maintenanceInterval: cfg.MaintenanceInterval,
		batchSize:           cfg.MaintenanceBatchSize,
	}
	if p.concurrency < 1 {
		p.concurrency = 1
	}
	if p.pollInterval <= 0 {
		p.pollInterval = 100 * time.Millisecond
	}
	if p.maintenanceInterval <= 0 {
		p.maintenanceInterval = 2 * time.Second
	}
	if p.batchSize <= 0 {
		p.batchSize = 100
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "worker", "worker_id", p.workerID)
	return p
}

// Run blocks until ctx is cancelled. Attempts already claimed when ctx ends
// are finished before Run returns.
func (p *Pool) Run(ctx context.Context) error {
	p.logger.Info("worker pool starting", "concurrency", p.concurrency)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p.maintain(gctx)
		return nil
	})
	for i := 0; i < p.concurrency; i++ {
		slot := i
		g.Go(func() error {
			p.consume(gctx, slot)
			return nil
		})
	}
	err := g.Wait()
	p.logger.Info("worker pool stopped")
	return err
}

func (p *Pool) consume(ctx context.Context, slot int) {
	for {
		if ctx.Err() != nil {
			return
		}
		claim, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Warn("dequeue failed", "slot", slot, "error", err)
			sleep(ctx, p.pollInterval)
			continue
		}
		if claim == nil {
			sleep(ctx, p.pollInterval)
			continue
		}
		p.process(context.WithoutCancel(ctx), claim)
	}
}

func (p *Pool) process(ctx context.Context, claim *queue.Claim) {
	attempt := claim.AttemptsMade + 1
	log := p.logger.With("job_id", claim.JobID, "attempt", attempt, "max_attempts", claim.MaxAttempts)

	telemetry.InFlightGauge.Inc()
	defer telemetry.InFlightGauge.Dec()

	job, err := p.jobs.Get(ctx, claim.JobID)
	switch {
	case errors.Is(err, common.ErrNotFound):
		log.Warn("score job record missing, dropping queue entry")
		p.complete(ctx, claim, log)
		return
	case err != nil:
		p.handleFailure(ctx, claim, fmt.Errorf("load score job: %w", err), log)
		return
	case job.Status.IsTerminal():
		log.Info("score job already terminal, skipping", "status", job.Status)
		p.complete(ctx, claim, log)
		return
	}

	var task models.ScoringTask
	if err := json.Unmarshal(claim.Payload, &task); err != nil {
		task = models.TaskFor(job)
	}

	stop := p.heartbeat(ctx, claim, log)
	if _, err := p.jobs.StartAttempt(ctx, claim.JobID, claim.AttemptsMade); err != nil {
		log.Warn("mark running failed", "error", err)
	} else {
		p.record(ctx, claim.JobID, audit.EventRunning, fmt.Sprintf("attempt=%d", attempt))
	}
	log.Info("scoring job")

	start := time.Now()
	res, scoreErr := p.scorer.Score(ctx, task)
	telemetry.ScoringDuration.Observe(time.Since(start).Seconds())
	stop()

	// The lease must still be ours before any terminal write; a reclaimed
	// entry belongs to whichever worker claimed it next.
	if err := p.queue.ExtendLease(ctx, claim); err != nil {
		if errors.Is(err, queue.ErrLeaseLost) {
			log.Warn("lease lost before recording outcome, abandoning attempt")
			return
		}
		log.Error("lease check failed", "error", err)
		return
	}

	if scoreErr == nil {
		done, err := p.jobs.MarkDone(ctx, claim.JobID, res)
		if err == nil {
			p.complete(ctx, claim, log)
			telemetry.JobsCompleted.Inc()
			p.record(ctx, claim.JobID, audit.EventDone, fmt.Sprintf("score=%d", res.Score))
			p.archive(ctx, done, log)
			log.Info("job completed", "score", res.Score, "duration_ms", time.Since(start).Milliseconds())
			return
		}
		scoreErr = fmt.Errorf("record result: %w", err)
	}
	p.handleFailure(ctx, claim, scoreErr, log)
}

func (p *Pool) handleFailure(ctx context.Context, claim *queue.Claim, cause error, log *slog.Logger) {
	final := claim.AttemptsMade+1 >= claim.MaxAttempts
	job, recErr := p.jobs.RecordFailure(ctx, claim.JobID, cause.Error(), final)
	if recErr != nil {
		log.Error("record failure failed", "error", recErr)
	}
	res, err := p.queue.Fail(ctx, claim, cause)
	if err != nil {
		log.Error("queue fail failed", "error", err, "cause", cause)
		return
	}
	if res.Exhausted {
		telemetry.JobsFailed.Inc()
		p.record(ctx, claim.JobID, audit.EventError, cause.Error())
		if recErr == nil {
			p.archive(ctx, job, log)
		}
		log.Error("job failed", "error", cause)
		return
	}
	telemetry.JobsRetried.Inc()
	p.record(ctx, claim.JobID, audit.EventRetryScheduled,
		fmt.Sprintf("retry_at=%s attempts=%d", res.RetryAt.UTC().Format(time.RFC3339Nano), res.AttemptsMade))
	log.Warn("job attempt failed, retry scheduled", "error", cause, "retry_at", res.RetryAt)
}

func (p *Pool) complete(ctx context.Context, claim *queue.Claim, log *slog.Logger) {
	if err := p.queue.Complete(ctx, claim); err != nil {
		log.Warn("queue complete failed", "error", err)
	}
}

// heartbeat renews the claim every third of the lease timeout until stopped.
func (p *Pool) heartbeat(ctx context.Context, claim *queue.Claim, log *slog.Logger) (stop func()) {
	interval := p.queue.LeaseTimeout() / 3
	if interval <= 0 {
		return func() {}
	}
	hbCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-t.C:
				if err := p.queue.ExtendLease(hbCtx, claim); err != nil {
					if errors.Is(err, queue.ErrLeaseLost) {
						log.Warn("lease lost during scoring")
						return
					}
					log.Warn("lease renewal failed", "error", err)
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func (p *Pool) maintain(ctx context.Context) {
	t := time.NewTicker(p.maintenanceInterval)
	defer t.Stop()
	for {
		p.maintenanceTick(ctx)
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

func (p *Pool) maintenanceTick(ctx context.Context) {
	if _, err := p.queue.PromoteScheduled(ctx, p.batchSize); err != nil && ctx.Err() == nil {
		p.logger.Warn("promote scheduled failed", "error", err)
	}
	reclaimed, err := p.queue.RequeueExpired(ctx, p.batchSize)
	if err != nil && ctx.Err() == nil {
		p.logger.Warn("requeue expired failed", "error", err)
	}
	for _, r := range reclaimed {
		p.recoverStalled(ctx, r)
	}
	if m, err := p.queue.Metrics(ctx); err == nil {
		telemetry.RecordQueueMetrics(m)
	}
}

func (p *Pool) recoverStalled(ctx context.Context, r queue.Reclaimed) {
	log := p.logger.With("job_id", r.JobID, "attempt", r.AttemptsMade, "exhausted", r.Exhausted)
	telemetry.JobsStalled.Inc()
	log.Warn("job stalled")
	p.record(ctx, r.JobID, audit.EventStalled, fmt.Sprintf("attempts=%d", r.AttemptsMade))

	const msg = "job stalled: lease expired"
	job, err := p.jobs.RecordStalled(ctx, r.JobID, msg, r.AttemptsMade, r.Exhausted)
	if err != nil {
		// A record already terminal means the outcome was written before the
		// lease lapsed; the requeued entry is completed on its next claim.
		log.Warn("record stalled attempt failed", "error", err)
		return
	}
	if r.Exhausted {
		telemetry.JobsFailed.Inc()
		p.record(ctx, r.JobID, audit.EventError, msg)
		p.archive(ctx, job, log)
	}
}

func (p *Pool) record(ctx context.Context, jobID string, event audit.EventType, detail string) {
	if err := p.audit.Record(ctx, jobID, event, detail); err != nil {
		p.logger.Warn("audit record failed", "job_id", jobID, "event", event, "error", err)
	}
}

func (p *Pool) archive(ctx context.Context, job models.ScoreJob, log *slog.Logger) {
	loc, err := p.archiver.Archive(ctx, job)
	if err != nil {
		log.Warn("archive failed", "error", err)
		return
	}
	if loc != "" {
		log.Debug("job archived", "location", loc)
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
