package core

import (
	"time"
)

// EventKind identifies the lifecycle point an observability event was
// emitted at.
type EventKind string

const (
	// EventStepStarted is emitted when the runner begins a step's first attempt.
	EventStepStarted EventKind = "step.started"

	// EventStepRetried is emitted before each retry attempt.
	EventStepRetried EventKind = "step.retried"

	// EventStepFinished is emitted when a step reaches a terminal status.
	EventStepFinished EventKind = "step.finished"

	// EventFanOutStarted is emitted when a parallel batch begins submitting sub-tasks.
	EventFanOutStarted EventKind = "fanout.started"

	// EventFanInCompleted is emitted when every sub-task of a batch has reached
	// a terminal state.
	EventFanInCompleted EventKind = "fanin.completed"

	// EventIterationStarted is emitted at the top of each refinement loop iteration.
	EventIterationStarted EventKind = "iteration.started"

	// EventIterationFinished is emitted after an iteration's evaluation completes.
	EventIterationFinished EventKind = "iteration.finished"

	// EventStageChanged is emitted on orchestrator state machine transitions.
	EventStageChanged EventKind = "stage.changed"

	// EventRouteSelected is emitted when a router resolves a handler.
	EventRouteSelected EventKind = "route.selected"
)

// Event is a structured observability record. Events are emitted to an
// injected Sink; they carry no behavior and the absence of a sink never
// changes engine semantics. Treat emitted events as immutable.
type Event struct {
	ID        string        `json:"id"`
	Kind      EventKind     `json:"kind"`
	Timestamp time.Time     `json:"timestamp"` // UTC
	StepID    string        `json:"step_id,omitempty"`
	StepName  string        `json:"step_name,omitempty"`
	Key       string        `json:"key,omitempty"`       // Sub-task key for fan-out events
	Stage     string        `json:"stage,omitempty"`     // Orchestrator stage for stage.changed
	Category  string        `json:"category,omitempty"`  // Resolved category for route.selected
	Iteration int           `json:"iteration,omitempty"` // Loop iteration for iteration.* events
	Attempt   int           `json:"attempt,omitempty"`   // Attempt number for step.retried
	Status    Status        `json:"status,omitempty"`
	Elapsed   time.Duration `json:"elapsed,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// NewEvent creates an event of the given kind with a generated ID and a
// UTC timestamp.
func NewEvent(kind EventKind) Event {
	return Event{ID: NewID(), Kind: kind, Timestamp: time.Now().UTC()}
}

// Sink receives engine events. Implementations must be safe for
// concurrent use; fan-out paths emit from multiple goroutines.
type Sink interface {
	Emit(event Event)
}

// NoOpSink discards all events. Used when no sink is configured.
type NoOpSink struct{}

// Emit implements Sink.
func (NoOpSink) Emit(Event) {}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(event Event)

// Emit implements Sink.
func (f SinkFunc) Emit(event Event) { f(event) }
