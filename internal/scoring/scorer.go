// Package scoring computes a score, textual feedback and a per-criterion
// breakdown for a submission snapshot.
package scoring

import (
	"context"
	"fmt"

	"scoring-service/internal/models"
)

// Scorer scores one task. Implementations must be safe for concurrent use.
type Scorer interface {
	Score(ctx context.Context, task models.ScoringTask) (models.ScoreResult, error)
}

// ScorerFunc adapts a function to Scorer.
type ScorerFunc func(ctx context.Context, task models.ScoringTask) (models.ScoreResult, error)

func (f ScorerFunc) Score(ctx context.Context, task models.ScoringTask) (models.ScoreResult, error) {
	return f(ctx, task)
}

// ScoringError reports why a scorer could not produce a result.
type ScoringError struct {
	Reason string
	Err    error
}

func (e *ScoringError) Error() string {
	if e.Err == nil {
		return "scoring failed: " + e.Reason
	}
	return fmt.Sprintf("scoring failed: %s: %v", e.Reason, e.Err)
}

func (e *ScoringError) Unwrap() error { return e.Err }
