package core

import (
	"context"
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by how the runner and the composition
// shapes should react to them.
type ErrorCategory string

const (
	// CategoryTransient marks temporary service failures (timeouts, rate
	// limits, transient network errors) that are retried per policy.
	CategoryTransient ErrorCategory = "transient"

	// CategoryValidation marks responses that failed schema validation or
	// were otherwise malformed. Not retried by the runner unless the
	// policy explicitly opts in.
	CategoryValidation ErrorCategory = "validation"

	// CategoryPlanning marks an orchestrator that could not produce a
	// usable plan. Fatal to the request.
	CategoryPlanning ErrorCategory = "planning"

	// CategoryPermanent marks failures that cannot be recovered by retry,
	// such as invalid requests.
	CategoryPermanent ErrorCategory = "permanent"

	// CategoryCancelled marks an invocation aborted by the caller.
	CategoryCancelled ErrorCategory = "cancelled"
)

// Error is a categorized engine error. Components inspect the category to
// decide between retrying, escalating and surfacing the failure as data.
type Error struct {
	Msg   string
	Cat   ErrorCategory
	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Cause)
	}
	return e.Msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Cause }

// Category returns the error category.
func (e *Error) Category() ErrorCategory { return e.Cat }

// NewTransientError wraps a temporary service failure.
func NewTransientError(msg string, cause error) *Error {
	return &Error{Msg: msg, Cat: CategoryTransient, Cause: cause}
}

// NewValidationError wraps a malformed or non-conformant response.
func NewValidationError(msg string, cause error) *Error {
	return &Error{Msg: msg, Cat: CategoryValidation, Cause: cause}
}

// NewPlanningError wraps a failed plan decomposition.
func NewPlanningError(msg string, cause error) *Error {
	return &Error{Msg: msg, Cat: CategoryPlanning, Cause: cause}
}

// NewPermanentError wraps a non-recoverable failure.
func NewPermanentError(msg string, cause error) *Error {
	return &Error{Msg: msg, Cat: CategoryPermanent, Cause: cause}
}

// CategoryOf extracts the category from an error chain. Context deadline
// errors count as transient (a timed-out attempt may succeed on retry);
// context cancellation counts as cancelled. Uncategorized errors default
// to permanent so that unknown failures are never retried blindly.
func CategoryOf(err error) ErrorCategory {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Cat
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryTransient
	}
	if errors.Is(err, context.Canceled) {
		return CategoryCancelled
	}
	return CategoryPermanent
}

// IsTransient reports whether the error should be retried per policy.
func IsTransient(err error) bool { return CategoryOf(err) == CategoryTransient }

// IsValidation reports whether the error is a schema or format violation.
func IsValidation(err error) bool { return CategoryOf(err) == CategoryValidation }
