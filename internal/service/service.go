// Package service implements the submission and score job operations exposed
// to the transport layer.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"scoring-service/internal/audit"
	"scoring-service/internal/common"
	"scoring-service/internal/models"
	"scoring-service/internal/payload"
	"scoring-service/internal/queue"
	"scoring-service/internal/telemetry"
)

// SubmissionStore persists submissions.
type SubmissionStore interface {
	Create(ctx context.Context, sub models.Submission) error
	Get(ctx context.Context, id string) (models.Submission, error)
	Update(ctx context.Context, id string, mutate func(*models.Submission) error) (models.Submission, error)
}

// ScoreJobStore persists score jobs.
type ScoreJobStore interface {
	Create(ctx context.Context, job models.ScoreJob) error
	Get(ctx context.Context, id string) (models.ScoreJob, error)
	MarkError(ctx context.Context, id, message string) (models.ScoreJob, error)
}

// Queue accepts score jobs for execution.
type Queue interface {
	Enqueue(ctx context.Context, jobID string, payload []byte, opts queue.Options) (queue.Entry, bool, error)
	Metrics(ctx context.Context) (queue.Metrics, error)
}

type Service struct {
	submissions SubmissionStore
	jobs        ScoreJobStore
	queue       Queue
	audit       audit.Recorder
	logger      *slog.Logger
	validate    *validator.Validate
	newID       func() string
	now         func() time.Time
}

// Option customizes a Service.
type Option func(*Service)

func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }

func WithAudit(r audit.Recorder) Option { return func(s *Service) { s.audit = r } }

// WithIDGenerator replaces uuid generation for submission and job ids.
func WithIDGenerator(fn func() string) Option { return func(s *Service) { s.newID = fn } }

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func New(submissions SubmissionStore, jobs ScoreJobStore, q Queue, opts ...Option) *Service {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string { return jsonName(f.Tag.Get("json")) })
	s := &Service{
		submissions: submissions,
		jobs:        jobs,
		queue:       q,
		audit:       audit.Nop{},
		logger:      slog.Default(),
		validate:    v,
		newID:       uuid.NewString,
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "service")
	return s
}

func jsonName(tag string) string {
	name, _, _ := strings.Cut(tag, ",")
	if name == "-" {
		return ""
	}
	return name
}

// CreateSubmissionInput is the body of a create submission request.
type CreateSubmissionInput struct {
	LearnerID    string          `json:"learner_id" validate:"required"`
	SimulationID string          `json:"simulation_id" validate:"required"`
	Data         *payload.Object `json:"data"`
}

// UpdateSubmissionInput carries the keys to merge into a submission.
type UpdateSubmissionInput struct {
	Data *payload.Object `json:"data"`
}

// CreateScoreJobInput is the body of a standalone score job request.
type CreateScoreJobInput struct {
	LearnerID      string          `json:"learner_id" validate:"required"`
	SimulationID   string          `json:"simulation_id" validate:"required"`
	SubmissionData *payload.Object `json:"submission_data"`
}

// SubmissionRef is the short form returned by submission writes.
type SubmissionRef struct {
	SubmissionID string                  `json:"submission_id"`
	Status       models.SubmissionStatus `json:"status"`
	ScoreJobID   string                  `json:"score_job_id,omitempty"`
}

// ScoreJobRef is the short form returned when a job is created.
type ScoreJobRef struct {
	JobID  string                `json:"job_id"`
	Status models.ScoreJobStatus `json:"status"`
}

func (s *Service) CreateSubmission(ctx context.Context, in CreateSubmissionInput) (SubmissionRef, error) {
	if err := s.check(in); err != nil {
		return SubmissionRef{}, err
	}
	sub := models.NewSubmission(s.newID(), in.LearnerID, in.SimulationID, in.Data, s.now())
	if err := s.submissions.Create(ctx, sub); err != nil {
		return SubmissionRef{}, err
	}
	telemetry.SubmissionsCreated.Inc()
	s.logger.Info("submission created", "submission_id", sub.SubmissionID, "learner_id", sub.LearnerID)
	return SubmissionRef{SubmissionID: sub.SubmissionID, Status: sub.Status}, nil
}

func (s *Service) UpdateSubmission(ctx context.Context, id string, in UpdateSubmissionInput) (SubmissionRef, error) {
	now := s.now()
	sub, err := s.submissions.Update(ctx, id, func(sub *models.Submission) error {
		return sub.Update(in.Data, now)
	})
	if err != nil {
		return SubmissionRef{}, err
	}
	return SubmissionRef{SubmissionID: sub.SubmissionID, Status: sub.Status}, nil
}

// FinalizeSubmission submits a submission and starts scoring it. The
// finalizing write is guarded by the record's optimistic lock, so concurrent
// calls create at most one score job.
func (s *Service) FinalizeSubmission(ctx context.Context, id string) (SubmissionRef, error) {
	current, err := s.submissions.Get(ctx, id)
	if err != nil {
		return SubmissionRef{}, err
	}
	if current.Status != models.SubmissionInProgress {
		return SubmissionRef{}, fmt.Errorf("submission %s is %s: %w", id, current.Status, common.ErrInvalidState)
	}

	now := s.now()
	job := models.NewScoreJob(models.NewScoreJobParams{
		JobID:          s.newID(),
		SubmissionID:   current.SubmissionID,
		LearnerID:      current.LearnerID,
		SimulationID:   current.SimulationID,
		SubmissionData: current.Data,
	}, now)

	var snapshot *payload.Object
	sub, err := s.submissions.Update(ctx, id, func(sub *models.Submission) error {
		if err := sub.Finalize(job.JobID, now); err != nil {
			return err
		}
		snapshot = sub.Data.Clone()
		return nil
	})
	if err != nil {
		return SubmissionRef{}, err
	}
	// The data may have been edited between the read above and the finalizing
	// write; the job snapshots what was actually submitted.
	job.SubmissionData = snapshot

	if err := s.jobs.Create(ctx, job); err != nil {
		s.logger.Error("score job create failed after finalize", "submission_id", id, "job_id", job.JobID, "error", err)
		return SubmissionRef{}, err
	}
	s.record(ctx, job.JobID, audit.EventCreated, "submission_id="+id)
	telemetry.SubmissionsFinalized.Inc()

	if err := s.enqueue(ctx, job); err != nil {
		return SubmissionRef{}, err
	}
	s.logger.Info("submission finalized", "submission_id", id, "job_id", job.JobID)
	return SubmissionRef{SubmissionID: sub.SubmissionID, Status: sub.Status, ScoreJobID: job.JobID}, nil
}

func (s *Service) GetSubmission(ctx context.Context, id string) (models.Submission, error) {
	return s.submissions.Get(ctx, id)
}

// CreateScoreJob scores a payload without a backing submission.
func (s *Service) CreateScoreJob(ctx context.Context, in CreateScoreJobInput) (ScoreJobRef, error) {
	if err := s.check(in); err != nil {
		return ScoreJobRef{}, err
	}
	job := models.NewScoreJob(models.NewScoreJobParams{
		JobID:          s.newID(),
		LearnerID:      in.LearnerID,
		SimulationID:   in.SimulationID,
		SubmissionData: in.SubmissionData,
	}, s.now())
	if err := s.jobs.Create(ctx, job); err != nil {
		return ScoreJobRef{}, err
	}
	s.record(ctx, job.JobID, audit.EventCreated, "standalone")
	if err := s.enqueue(ctx, job); err != nil {
		return ScoreJobRef{}, err
	}
	return ScoreJobRef{JobID: job.JobID, Status: job.Status}, nil
}

func (s *Service) GetScoreJob(ctx context.Context, id string) (models.ScoreJobView, error) {
	job, err := s.jobs.Get(ctx, id)
	if err != nil {
		return models.ScoreJobView{}, err
	}
	return job.View(), nil
}

func (s *Service) GetQueueMetrics(ctx context.Context) (queue.Metrics, error) {
	m, err := s.queue.Metrics(ctx)
	if err != nil {
		return queue.Metrics{}, fmt.Errorf("%w: %v", common.ErrStoreUnavailable, err)
	}
	return m, nil
}

// enqueue hands the job to the queue. A rejected enqueue leaves the record in
// ERROR since no worker will ever pick it up.
func (s *Service) enqueue(ctx context.Context, job models.ScoreJob) error {
	body, err := json.Marshal(models.TaskFor(job))
	if err != nil {
		return fmt.Errorf("encode task %s: %w", job.JobID, err)
	}
	if _, _, err := s.queue.Enqueue(ctx, job.JobID, body, queue.Options{}); err != nil {
		msg := "enqueue failed: " + err.Error()
		if _, markErr := s.jobs.MarkError(ctx, job.JobID, msg); markErr != nil {
			s.logger.Error("mark error after enqueue failure failed", "job_id", job.JobID, "error", markErr)
		}
		s.record(ctx, job.JobID, audit.EventError, msg)
		s.logger.Error("enqueue failed", "job_id", job.JobID, "error", err)
		return fmt.Errorf("enqueue score job %s: %w: %v", job.JobID, common.ErrStoreUnavailable, err)
	}
	telemetry.JobsEnqueued.Inc()
	s.record(ctx, job.JobID, audit.EventEnqueued, "")
	return nil
}

func (s *Service) check(in any) error {
	err := s.validate.Struct(in)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fe.Field())
		}
		return fmt.Errorf("%w: %s required", common.ErrValidation, strings.Join(fields, " and "))
	}
	return fmt.Errorf("%w: %v", common.ErrValidation, err)
}

func (s *Service) record(ctx context.Context, jobID string, event audit.EventType, detail string) {
	if err := s.audit.Record(ctx, jobID, event, detail); err != nil {
		s.logger.Warn("audit record failed", "job_id", jobID, "event", event, "error", err)
	}
}
