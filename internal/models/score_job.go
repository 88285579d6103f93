package models

import (
	"fmt"
	"time"

	"scoring-service/internal/common"
	"scoring-service/internal/payload"
)

// ScoreJobStatus enumerates the lifecycle of one scoring attempt.
type ScoreJobStatus string

const (
	ScoreJobQueued  ScoreJobStatus = "QUEUED"
	ScoreJobRunning ScoreJobStatus = "RUNNING"
	ScoreJobDone    ScoreJobStatus = "DONE"
	ScoreJobError   ScoreJobStatus = "ERROR"
)

// RUNNING -> RUNNING is a retry attempt re-entering the running state.
var scoreJobTransitions = map[ScoreJobStatus]map[ScoreJobStatus]bool{
	ScoreJobQueued:  {ScoreJobRunning: true},
	ScoreJobRunning: {ScoreJobRunning: true, ScoreJobDone: true, ScoreJobError: true},
	ScoreJobDone:    {},
	ScoreJobError:   {},
}

// CanTransition reports whether a score job may move from one status to another.
func CanTransition(from, to ScoreJobStatus) bool {
	return scoreJobTransitions[from][to]
}

// IsTerminal reports whether no further transition is possible.
func (s ScoreJobStatus) IsTerminal() bool {
	return s == ScoreJobDone || s == ScoreJobError
}

// ScoreResult is what a scorer produces for a job.
type ScoreResult struct {
	Score     int             `json:"score"`
	Feedback  string          `json:"feedback"`
	Breakdown *payload.Object `json:"breakdown"`
}

// ScoreJob is the externally visible record of a scoring attempt and its outcome.
type ScoreJob struct {
	JobID          string          `json:"job_id"`
	SubmissionID   *string         `json:"submission_id"`
	LearnerID      string          `json:"learner_id"`
	SimulationID   string          `json:"simulation_id"`
	SubmissionData *payload.Object `json:"submission_data"`
	Status         ScoreJobStatus  `json:"status"`
	Score          *int            `json:"score"`
	Feedback       *string         `json:"feedback"`
	Breakdown      *payload.Object `json:"breakdown"`
	Error          *string         `json:"error"`
	RetryCount     int             `json:"retry_count"`
	CreatedAt      time.Time       `json:"created_at"`
	QueuedAt       time.Time       `json:"queued_at"`
	StartedAt      *time.Time      `json:"started_at"`
	CompletedAt    *time.Time      `json:"completed_at"`
	Version        int64           `json:"version"`
}

// NewScoreJobParams collects inputs for a fresh QUEUED job.
type NewScoreJobParams struct {
	JobID          string
	SubmissionID   string
	LearnerID      string
	SimulationID   string
	SubmissionData *payload.Object
}

// NewScoreJob builds a QUEUED job holding a snapshot of the submission data.
func NewScoreJob(p NewScoreJobParams, now time.Time) ScoreJob {
	job := ScoreJob{
		JobID:          p.JobID,
		LearnerID:      p.LearnerID,
		SimulationID:   p.SimulationID,
		SubmissionData: p.SubmissionData.Clone(),
		Status:         ScoreJobQueued,
		CreatedAt:      now,
		QueuedAt:       now,
	}
	if p.SubmissionID != "" {
		id := p.SubmissionID
		job.SubmissionID = &id
	}
	return job
}

func (j *ScoreJob) transition(to ScoreJobStatus) error {
	if !CanTransition(j.Status, to) {
		return fmt.Errorf("score job %s: %s -> %s: %w", j.JobID, j.Status, to, common.ErrInvalidState)
	}
	j.Status = to
	return nil
}

// Start marks the job RUNNING, setting started_at on the first attempt only.
func (j *ScoreJob) Start(now time.Time) error {
	if err := j.transition(ScoreJobRunning); err != nil {
		return err
	}
	if j.StartedAt == nil {
		if now.Before(j.QueuedAt) {
			now = j.QueuedAt
		}
		j.StartedAt = &now
	}
	return nil
}

// Complete records a successful result. Only a RUNNING job can complete.
func (j *ScoreJob) Complete(res ScoreResult, now time.Time) error {
	if res.Score < 0 || res.Score > 100 {
		return fmt.Errorf("score job %s: score %d out of range: %w", j.JobID, res.Score, common.ErrValidation)
	}
	if err := j.transition(ScoreJobDone); err != nil {
		return err
	}
	score, feedback := res.Score, res.Feedback
	j.Score = &score
	j.Feedback = &feedback
	j.Breakdown = res.Breakdown.Clone()
	j.Error = nil
	j.CompletedAt = j.completionTime(now)
	return nil
}

// RecordFailure counts one failed execution attempt.
func (j *ScoreJob) RecordFailure() error {
	if j.Status.IsTerminal() {
		return fmt.Errorf("score job %s is %s: %w", j.JobID, j.Status, common.ErrInvalidState)
	}
	j.RetryCount++
	return nil
}

// Fail moves the job to ERROR. A job exhausted before it was ever marked
// RUNNING passes through RUNNING first so completed_at is always set from it.
func (j *ScoreJob) Fail(message string, now time.Time) error {
	if j.Status == ScoreJobQueued {
		if err := j.Start(now); err != nil {
			return err
		}
	}
	if err := j.transition(ScoreJobError); err != nil {
		return err
	}
	j.Error = &message
	j.Score, j.Feedback, j.Breakdown = nil, nil, nil
	j.CompletedAt = j.completionTime(now)
	return nil
}

func (j *ScoreJob) completionTime(now time.Time) *time.Time {
	if j.StartedAt != nil && now.Before(*j.StartedAt) {
		now = *j.StartedAt
	}
	return &now
}

// ScoreJobView is the status-shaped projection returned to callers.
type ScoreJobView struct {
	JobID       string          `json:"job_id"`
	Status      ScoreJobStatus  `json:"status"`
	Score       *int            `json:"score,omitempty"`
	Feedback    *string         `json:"feedback,omitempty"`
	Breakdown   *payload.Object `json:"breakdown,omitempty"`
	Error       *string         `json:"error,omitempty"`
	RetryCount  *int            `json:"retry_count,omitempty"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// View projects the job according to its status.
func (j ScoreJob) View() ScoreJobView {
	v := ScoreJobView{JobID: j.JobID, Status: j.Status}
	switch j.Status {
	case ScoreJobDone:
		v.Score = j.Score
		v.Feedback = j.Feedback
		v.Breakdown = j.Breakdown
		v.CompletedAt = j.CompletedAt
	case ScoreJobError:
		v.Error = j.Error
		retries := j.RetryCount
		v.RetryCount = &retries
	}
	if j.Status != ScoreJobQueued {
		v.StartedAt = j.StartedAt
	}
	return v
}
