package scoring

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scoring-service/internal/models"
	"scoring-service/internal/payload"
)

func taskWith(data map[string]any) models.ScoringTask {
	task := models.ScoringTask{JobID: "job-1", LearnerID: "learner-1", SimulationID: "sim-1"}
	if data != nil {
		task.SubmissionData = payload.MustObject(data)
	}
	return task
}

func TestRubricIsReproducibleWithSeed(t *testing.T) {
	task := taskWith(map[string]any{"code": "const x = 1; return x", "notes": "short"})

	a, err := NewRubric(WithSeed(42)).Score(context.Background(), task)
	require.NoError(t, err)
	b, err := NewRubric(WithSeed(42)).Score(context.Background(), task)
	require.NoError(t, err)

	assert.Equal(t, a.Score, b.Score)
	assert.Equal(t, a.Feedback, b.Feedback)
	assert.GreaterOrEqual(t, a.Score, 0)
	assert.LessOrEqual(t, a.Score, 100)
	assert.Equal(t, []string{"codeQuality", "correctness", "documentation", "performance"}, a.Breakdown.Keys())
}

func TestRubricCriteria(t *testing.T) {
	code := "function f() { // helper\n const a = 1; let b = 2; return a + b } class K {}"
	rich := taskWith(map[string]any{
		"code":        code,
		"result":      3,
		"description": "adds",
		"readme":      "run it",
		"explanation": "sums",
		"notes":       strings.Repeat("n", 500),
	})

	res, err := NewRubric(WithSeed(1)).Score(context.Background(), rich)
	require.NoError(t, err)

	get := func(key string) float64 {
		v, ok := res.Breakdown.Get(key)
		require.True(t, ok, key)
		f, ok := v.AsFloat()
		require.True(t, ok, key)
		return f
	}
	assert.InDelta(t, 1.0, get("codeQuality"), 1e-9)
	assert.InDelta(t, 1.0, get("documentation"), 1e-9)
	assert.GreaterOrEqual(t, get("correctness"), 0.9)
	assert.GreaterOrEqual(t, get("performance"), 0.6)
	assert.Less(t, get("performance"), 1.0)
	assert.GreaterOrEqual(t, res.Score, 90)
	assert.Contains(t, res.Feedback, "Excellent work!")
}

func TestRubricEmptySubmission(t *testing.T) {
	res, err := NewRubric(WithSeed(7)).Score(context.Background(), taskWith(nil))
	require.NoError(t, err)

	cq, _ := res.Breakdown.Get("codeQuality")
	f, _ := cq.AsFloat()
	assert.InDelta(t, 0.5, f, 1e-9)

	doc, _ := res.Breakdown.Get("documentation")
	f, _ = doc.AsFloat()
	assert.InDelta(t, 0.3, f, 1e-9)

	assert.Contains(t, res.Feedback, "- Improve code structure and follow best practices")
	assert.Contains(t, res.Feedback, "- Add more detailed documentation and comments")
	assert.Contains(t, res.Feedback, "Needs improvement.")
}

func TestFeedbackBands(t *testing.T) {
	perfect := Breakdown{CodeQuality: 1, Correctness: 1, Documentation: 1, Performance: 1}
	assert.Equal(t, 100, perfect.Total())
	fb := Feedback(perfect, perfect.Total())
	assert.True(t, strings.HasPrefix(fb, "Overall Score: 100/100"))
	assert.Contains(t, fb, "- Correctness (40%): 100/100")
	assert.False(t, strings.Contains(fb, "\n- Improve"), "no suggestions at full marks")

	cases := []struct {
		total int
		want  string
	}{
		{90, "Excellent work!"},
		{75, "Great job!"},
		{60, "Good effort."},
		{59, "Needs improvement."},
	}
	for _, tc := range cases {
		assert.Contains(t, Feedback(perfect, tc.total), tc.want, "total %d", tc.total)
	}
}

func TestRubricLatencyHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewRubric(WithLatency(time.Minute)).Score(ctx, taskWith(nil))
	require.Error(t, err)
	var scoringErr *ScoringError
	require.True(t, errors.As(err, &scoringErr))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestScorerFunc(t *testing.T) {
	var s Scorer = ScorerFunc(func(ctx context.Context, task models.ScoringTask) (models.ScoreResult, error) {
		return models.ScoreResult{Score: 77, Feedback: task.JobID}, nil
	})
	res, err := s.Score(context.Background(), taskWith(nil))
	require.NoError(t, err)
	assert.Equal(t, 77, res.Score)
	assert.Equal(t, "job-1", res.Feedback)
}
