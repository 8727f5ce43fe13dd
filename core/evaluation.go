package core

import "strings"

// DefaultPassingScore is the criterion score threshold used by the
// default aggregation rule, on a 0-10 scale.
const DefaultPassingScore = 7.0

// Criterion is a single named evaluation dimension with a numeric score
// and free-text feedback explaining the score.
type Criterion struct {
	Name     string  `json:"name"`
	Score    float64 `json:"score"`    // 0-10 scale
	Feedback string  `json:"feedback"` // Threaded into the next generation attempt
}

// AggregationRule derives an overall pass/fail verdict from a criteria
// list. The verdict is always a pure function of the criteria; it is never
// stored or set independently.
type AggregationRule func(criteria []Criterion) bool

// AllAbove returns a rule that passes only when every criterion scores at
// or above the threshold (the AND aggregation).
func AllAbove(threshold float64) AggregationRule {
	return func(criteria []Criterion) bool {
		if len(criteria) == 0 {
			return false
		}
		for _, c := range criteria {
			if c.Score < threshold {
				return false
			}
		}
		return true
	}
}

// MeanAbove returns a rule that passes when the mean criterion score is at
// or above the threshold.
func MeanAbove(threshold float64) AggregationRule {
	return func(criteria []Criterion) bool {
		if len(criteria) == 0 {
			return false
		}
		var sum float64
		for _, c := range criteria {
			sum += c.Score
		}
		return sum/float64(len(criteria)) >= threshold
	}
}

// EvaluationResult is the outcome of one evaluator step. The overall
// verdict is derived from the criteria via the attached aggregation rule.
type EvaluationResult struct {
	Criteria []Criterion
	rule     AggregationRule
}

// NewEvaluationResult binds a criteria list to an aggregation rule. A nil
// rule defaults to AllAbove(DefaultPassingScore).
func NewEvaluationResult(criteria []Criterion, rule AggregationRule) *EvaluationResult {
	if rule == nil {
		rule = AllAbove(DefaultPassingScore)
	}
	return &EvaluationResult{Criteria: criteria, rule: rule}
}

// Overall reports the derived pass/fail verdict.
func (e *EvaluationResult) Overall() bool { return e.rule(e.Criteria) }

// Score returns the mean criterion score, used to rank attempts when a
// refinement loop exhausts its budget without passing.
func (e *EvaluationResult) Score() float64 {
	if len(e.Criteria) == 0 {
		return 0
	}
	var sum float64
	for _, c := range e.Criteria {
		sum += c.Score
	}
	return sum / float64(len(e.Criteria))
}

// FeedbackText flattens the per-criterion feedback into a single block
// suitable for inclusion in the next generation prompt.
func (e *EvaluationResult) FeedbackText() string {
	var sb strings.Builder
	for _, c := range e.Criteria {
		if c.Feedback == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString("- ")
		sb.WriteString(c.Name)
		sb.WriteString(": ")
		sb.WriteString(c.Feedback)
	}
	return sb.String()
}
