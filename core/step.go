package core

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Step is one bounded unit of work issued against the generation service.
//
// A Step bundles everything the runner needs to perform a single call:
// the prompt text, the model tier to execute it on and an optional JSON
// schema the response must conform to. Steps are immutable once
// constructed and owned by whichever component created them for a single
// execution; retried attempts reuse the same Step value.
type Step struct {
	ID     string         // Unique identifier, generated at construction
	Name   string         // Human-readable name used in results, logs and events
	Tier   string         // Model tier label (e.g. "fast", "standard", "structured-heavy")
	System string         // System instructions for the model
	Prompt string         // User-facing prompt text
	Schema map[string]any // Optional JSON schema the response must validate against
}

// NewStep constructs a Step with a generated ID. Optional fields are set
// via functional options to keep construction sites readable.
func NewStep(name, tier, prompt string, optFns ...func(s *Step)) Step {
	s := Step{
		ID:     NewID(),
		Name:   name,
		Tier:   tier,
		Prompt: prompt,
	}
	for _, fn := range optFns {
		fn(&s)
	}
	return s
}

// WithSystem sets the system instructions for the step.
func WithSystem(system string) func(s *Step) {
	return func(s *Step) { s.System = system }
}

// WithSchema attaches a JSON schema the response must conform to. Steps
// carrying a schema produce structured output in StepResult.Structured.
func WithSchema(schema map[string]any) func(s *Step) {
	return func(s *Step) { s.Schema = schema }
}

// Status classifies the terminal state of a step attempt sequence.
type Status string

const (
	// StatusSuccess indicates the step produced a usable output.
	StatusSuccess Status = "success"

	// StatusFailed indicates the step failed after exhausting its retry
	// policy or hit a non-retryable failure.
	StatusFailed Status = "failed"

	// StatusTimedOut indicates the per-step timeout elapsed on every attempt.
	StatusTimedOut Status = "timed_out"

	// StatusCancelled indicates the caller's context was cancelled before
	// the step reached a terminal state.
	StatusCancelled Status = "cancelled"
)

// StepResult is the outcome of executing one Step through the runner.
// Exactly one StepResult is attributable to one Step instance and one
// attempt sequence; a retried attempt replaces the prior result, results
// are never merged.
type StepResult struct {
	StepID     string          // ID of the originating Step
	StepName   string          // Name of the originating Step
	Status     Status          // Terminal status of the attempt sequence
	Output     string          // Free-text model output (empty on failure)
	Structured json.RawMessage // Schema-validated payload when the Step carries a schema
	Err        error           // Failure detail, nil on success
	Elapsed    time.Duration   // Wall time including retries and backoff waits
	Attempts   int             // Number of generation attempts performed
}

// OK reports whether the step reached a successful terminal state.
func (r StepResult) OK() bool { return r.Status == StatusSuccess }

// NewID generates a unique identifier for steps and events.
func NewID() string { return uuid.NewString() }
