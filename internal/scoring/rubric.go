package scoring

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"scoring-service/internal/models"
	"scoring-service/internal/payload"
)

// Weights of each rubric criterion. They sum to 1.
const (
	WeightCodeQuality   = 0.30
	WeightCorrectness   = 0.40
	WeightDocumentation = 0.20
	WeightPerformance   = 0.10
)

var (
	practiceKeywords = []string{"function", "class", "const", "let", "return"}
	docKeywords      = []string{"description", "readme", "explanation", "notes"}
)

// Rubric is the default Scorer. It inspects the serialized submission data for
// keywords and adds a bounded random component to correctness and performance.
type Rubric struct {
	mu      sync.Mutex
	rng     *rand.Rand
	latency time.Duration
}

// RubricOption customizes a Rubric.
type RubricOption func(*Rubric)

// WithSeed makes the random component reproducible.
func WithSeed(seed int64) RubricOption {
	return func(r *Rubric) { r.rng = rand.New(rand.NewSource(seed)) }
}

// WithRand supplies the random source directly.
func WithRand(rng *rand.Rand) RubricOption {
	return func(r *Rubric) { r.rng = rng }
}

// WithLatency simulates a slow scoring backend.
func WithLatency(d time.Duration) RubricOption {
	return func(r *Rubric) { r.latency = d }
}

func NewRubric(opts ...RubricOption) *Rubric {
	r := &Rubric{rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Breakdown holds per-criterion scores in [0, 1].
type Breakdown struct {
	CodeQuality   float64
	Correctness   float64
	Documentation float64
	Performance   float64
}

// Total is the weighted score on a 0-100 scale.
func (b Breakdown) Total() int {
	total := b.CodeQuality*WeightCodeQuality*100 +
		b.Correctness*WeightCorrectness*100 +
		b.Documentation*WeightDocumentation*100 +
		b.Performance*WeightPerformance*100
	return int(math.Round(total))
}

func (b Breakdown) object() *payload.Object {
	obj := payload.NewObject()
	obj.Set("codeQuality", payload.Number(b.CodeQuality))
	obj.Set("correctness", payload.Number(b.Correctness))
	obj.Set("documentation", payload.Number(b.Documentation))
	obj.Set("performance", payload.Number(b.Performance))
	return obj
}

func (r *Rubric) Score(ctx context.Context, task models.ScoringTask) (models.ScoreResult, error) {
	if r.latency > 0 {
		t := time.NewTimer(r.latency)
		select {
		case <-ctx.Done():
			t.Stop()
			return models.ScoreResult{}, &ScoringError{Reason: "interrupted", Err: ctx.Err()}
		case <-t.C:
		}
	}

	data := task.SubmissionData
	if data == nil {
		data = payload.NewObject()
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return models.ScoreResult{}, &ScoringError{Reason: "encode submission data", Err: err}
	}
	content := string(raw)

	r.mu.Lock()
	correctnessJitter := r.rng.Float64() * 0.1
	performanceJitter := r.rng.Float64() * 0.4
	r.mu.Unlock()

	b := Breakdown{
		CodeQuality:   codeQuality(content),
		Correctness:   correctness(content, task.SubmissionData != nil, correctnessJitter),
		Documentation: documentation(content),
		Performance:   0.6 + performanceJitter,
	}
	total := b.Total()
	if total < 0 || total > 100 {
		return models.ScoreResult{}, &ScoringError{Reason: fmt.Sprintf("score %d out of range", total)}
	}
	return models.ScoreResult{Score: total, Feedback: Feedback(b, total), Breakdown: b.object()}, nil
}

func countKeywords(content string, keywords []string) int {
	lower := strings.ToLower(content)
	n := 0
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			n++
		}
	}
	return n
}

func codeQuality(content string) float64 {
	score := 0.5
	score += float64(countKeywords(content, practiceKeywords)) / float64(len(practiceKeywords)) * 0.3
	if strings.Contains(content, "//") || strings.Contains(content, "/*") {
		score += 0.2
	}
	return math.Min(score, 1)
}

func correctness(content string, structured bool, jitter float64) float64 {
	score := 0.4
	if strings.Contains(content, "result") || strings.Contains(content, "output") {
		score += 0.3
	}
	if structured {
		score += 0.2
	}
	return math.Min(score+jitter, 1)
}

func documentation(content string) float64 {
	score := 0.3
	score += float64(countKeywords(content, docKeywords)) / float64(len(docKeywords)) * 0.5
	if len(content) > 500 {
		score += 0.2
	}
	return math.Min(score, 1)
}

func pct(f float64) int { return int(math.Round(f * 100)) }

// Feedback renders the learner-facing summary for a breakdown and its total.
func Feedback(b Breakdown, total int) string {
	lines := []string{
		fmt.Sprintf("Overall Score: %d/100", total),
		"",
		"Breakdown:",
		fmt.Sprintf("- Code Quality (30%%): %d/100", pct(b.CodeQuality)),
		fmt.Sprintf("- Correctness (40%%): %d/100", pct(b.Correctness)),
		fmt.Sprintf("- Documentation (20%%): %d/100", pct(b.Documentation)),
		fmt.Sprintf("- Performance (10%%): %d/100", pct(b.Performance)),
		"",
	}
	switch {
	case total >= 90:
		lines = append(lines, "Excellent work! Your submission exceeds expectations.")
	case total >= 75:
		lines = append(lines, "Great job! Your submission meets all requirements.")
	case total >= 60:
		lines = append(lines, "Good effort. Consider improving code quality and documentation.")
	default:
		lines = append(lines, "Needs improvement. Review the rubric and requirements.")
	}

	lines = append(lines, "", "Suggestions:")
	if b.CodeQuality < 0.7 {
		lines = append(lines, "- Improve code structure and follow best practices")
	}
	if b.Correctness < 0.7 {
		lines = append(lines, "- Review the simulation requirements and ensure all outputs are correct")
	}
	if b.Documentation < 0.7 {
		lines = append(lines, "- Add more detailed documentation and comments")
	}
	if b.Performance < 0.7 {
		lines = append(lines, "- Optimize your solution for better performance")
	}
	return strings.Join(lines, "\n")
}
