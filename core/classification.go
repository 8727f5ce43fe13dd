package core

import "sort"

// Candidate is one plausible category surfaced by a classifier, used to
// detect ambiguity between the top-ranked categories.
type Candidate struct {
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
}

// ClassificationResult is the outcome of one router classification step.
// It is produced once per invocation and consumed immediately to select a
// handler; it is never persisted.
type ClassificationResult struct {
	Category   string      `json:"category"`             // Winning category label
	Confidence float64     `json:"confidence"`           // Confidence in [0,1]
	Rationale  string      `json:"rationale"`            // Classifier's explanation
	Candidates []Candidate `json:"candidates,omitempty"` // Optional ranked alternatives
}

// Ambiguous reports whether the two highest-confidence candidates are
// tied. The candidate list is not assumed to arrive ranked. Ties must
// never silently pick an arbitrary specialist, so the router sends
// ambiguous classifications to its clarification handler.
func (c ClassificationResult) Ambiguous() bool {
	if len(c.Candidates) < 2 {
		return false
	}
	ranked := make([]Candidate, len(c.Candidates))
	copy(ranked, c.Candidates)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Confidence > ranked[j].Confidence
	})
	return ranked[0].Confidence == ranked[1].Confidence
}
