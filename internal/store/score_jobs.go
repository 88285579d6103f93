package store

import (
	"context"
	"time"

	"scoring-service/internal/models"
)

// ScoreJobKey is the record key of a score job.
func ScoreJobKey(id string) string { return "scorejob:" + id }

// ScoreJobs persists score job records and applies their state transitions.
type ScoreJobs struct {
	records *Records
	ttl     time.Duration
	now     func() time.Time
}

func NewScoreJobs(records *Records, ttl time.Duration) *ScoreJobs {
	return &ScoreJobs{records: records, ttl: ttl, now: func() time.Time { return time.Now().UTC() }}
}

func (s *ScoreJobs) Create(ctx context.Context, job models.ScoreJob) error {
	job.Version = 1
	return putJSON(ctx, s.records, ScoreJobKey(job.JobID), job, s.ttl)
}

func (s *ScoreJobs) Get(ctx context.Context, id string) (models.ScoreJob, error) {
	return getJSON[models.ScoreJob](ctx, s.records, ScoreJobKey(id))
}

// Update applies mutate to the current record. If mutate fails nothing is written.
func (s *ScoreJobs) Update(ctx context.Context, id string, mutate func(*models.ScoreJob) error) (models.ScoreJob, error) {
	return updateJSON(ctx, s.records, ScoreJobKey(id), func(job *models.ScoreJob) error {
		if err := mutate(job); err != nil {
			return err
		}
		job.Version++
		return nil
	})
}

// MarkRunning transitions a job to RUNNING for a new attempt.
func (s *ScoreJobs) MarkRunning(ctx context.Context, id string) (models.ScoreJob, error) {
	return s.StartAttempt(ctx, id, 0)
}

// StartAttempt transitions a job to RUNNING for the attempt following
// attemptsMade, the queue's count of failed attempts. Failures the record
// missed, such as a reclaim that raced this claim, are counted first.
func (s *ScoreJobs) StartAttempt(ctx context.Context, id string, attemptsMade int) (models.ScoreJob, error) {
	return s.Update(ctx, id, func(job *models.ScoreJob) error {
		if job.RetryCount < attemptsMade && !job.Status.IsTerminal() {
			job.RetryCount = attemptsMade
		}
		return job.Start(s.now())
	})
}

// MarkDone records a successful result.
func (s *ScoreJobs) MarkDone(ctx context.Context, id string, res models.ScoreResult) (models.ScoreJob, error) {
	return s.Update(ctx, id, func(job *models.ScoreJob) error {
		return job.Complete(res, s.now())
	})
}

// RecordFailure counts a failed attempt and, when final, moves the job to ERROR
// in the same write.
func (s *ScoreJobs) RecordFailure(ctx context.Context, id, message string, final bool) (models.ScoreJob, error) {
	return s.Update(ctx, id, func(job *models.ScoreJob) error {
		if err := job.RecordFailure(); err != nil {
			return err
		}
		if final {
			return job.Fail(message, s.now())
		}
		return nil
	})
}

// RecordStalled accounts for an attempt reclaimed after its lease expired.
// attempts is the queue's count including the reclaim. When the record already
// counted that attempt, because the worker recorded the failure but could not
// report it to the queue, retry_count is left alone.
func (s *ScoreJobs) RecordStalled(ctx context.Context, id, message string, attempts int, final bool) (models.ScoreJob, error) {
	return s.Update(ctx, id, func(job *models.ScoreJob) error {
		if job.Status.IsTerminal() || job.RetryCount < attempts {
			if err := job.RecordFailure(); err != nil {
				return err
			}
		}
		if final {
			return job.Fail(message, s.now())
		}
		return nil
	})
}

// MarkError moves a job to ERROR without counting an attempt, for failures
// outside execution such as a rejected enqueue.
func (s *ScoreJobs) MarkError(ctx context.Context, id, message string) (models.ScoreJob, error) {
	return s.Update(ctx, id, func(job *models.ScoreJob) error {
		return job.Fail(message, s.now())
	})
}
