package models

import (
	"fmt"
	"time"

	"scoring-service/internal/common"
	"scoring-service/internal/payload"
)

// SubmissionStatus enumerates the editing lifecycle of a submission.
type SubmissionStatus string

const (
	SubmissionInProgress SubmissionStatus = "IN_PROGRESS"
	SubmissionSubmitted  SubmissionStatus = "SUBMITTED"
)

// Submission is a learner's in-progress or finalized piece of work.
type Submission struct {
	SubmissionID string           `json:"submission_id"`
	LearnerID    string           `json:"learner_id"`
	SimulationID string           `json:"simulation_id"`
	Data         *payload.Object  `json:"data"`
	Status       SubmissionStatus `json:"status"`
	ScoreJobID   string           `json:"score_job_id,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
	Version      int64            `json:"version"`
}

// NewSubmission builds an IN_PROGRESS submission. The data is copied.
func NewSubmission(id, learnerID, simulationID string, data *payload.Object, now time.Time) Submission {
	return Submission{
		SubmissionID: id,
		LearnerID:    learnerID,
		SimulationID: simulationID,
		Data:         data.Clone(),
		Status:       SubmissionInProgress,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Update shallow-merges data into the submission. Only IN_PROGRESS submissions
// accept edits; a failed call leaves the submission untouched.
func (s *Submission) Update(data *payload.Object, now time.Time) error {
	if s.Status != SubmissionInProgress {
		return fmt.Errorf("submission %s is %s: %w", s.SubmissionID, s.Status, common.ErrInvalidState)
	}
	if s.Data == nil {
		s.Data = payload.NewObject()
	}
	s.Data.Merge(data)
	s.UpdatedAt = now
	return nil
}

// Finalize moves the submission to SUBMITTED and links the score job created for it.
func (s *Submission) Finalize(scoreJobID string, now time.Time) error {
	if s.Status != SubmissionInProgress {
		return fmt.Errorf("submission %s is %s: %w", s.SubmissionID, s.Status, common.ErrInvalidState)
	}
	s.Status = SubmissionSubmitted
	s.ScoreJobID = scoreJobID
	s.UpdatedAt = now
	return nil
}

// SubmissionView is the submission as returned to callers, without store bookkeeping.
type SubmissionView struct {
	SubmissionID string           `json:"submission_id"`
	LearnerID    string           `json:"learner_id"`
	SimulationID string           `json:"simulation_id"`
	Data         *payload.Object  `json:"data"`
	Status       SubmissionStatus `json:"status"`
	ScoreJobID   string           `json:"score_job_id,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

func (s Submission) View() SubmissionView {
	return SubmissionView{
		SubmissionID: s.SubmissionID,
		LearnerID:    s.LearnerID,
		SimulationID: s.SimulationID,
		Data:         s.Data,
		Status:       s.Status,
		ScoreJobID:   s.ScoreJobID,
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
	}
}
