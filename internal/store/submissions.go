package store

import (
	"context"
	"time"

	"scoring-service/internal/models"
)

// SubmissionKey is the record key of a submission.
func SubmissionKey(id string) string { return "submission:" + id }

// Submissions persists submission records. Records expire ttl after creation;
// updates never extend that window.
type Submissions struct {
	records *Records
	ttl     time.Duration
}

func NewSubmissions(records *Records, ttl time.Duration) *Submissions {
	return &Submissions{records: records, ttl: ttl}
}

func (s *Submissions) Create(ctx context.Context, sub models.Submission) error {
	sub.Version = 1
	return putJSON(ctx, s.records, SubmissionKey(sub.SubmissionID), sub, s.ttl)
}

func (s *Submissions) Get(ctx context.Context, id string) (models.Submission, error) {
	return getJSON[models.Submission](ctx, s.records, SubmissionKey(id))
}

// Update applies mutate to the current record. If mutate fails nothing is written.
func (s *Submissions) Update(ctx context.Context, id string, mutate func(*models.Submission) error) (models.Submission, error) {
	return updateJSON(ctx, s.records, SubmissionKey(id), func(sub *models.Submission) error {
		if err := mutate(sub); err != nil {
			return err
		}
		sub.Version++
		return nil
	})
}

func (s *Submissions) Delete(ctx context.Context, id string) error {
	return s.records.Delete(ctx, SubmissionKey(id))
}
