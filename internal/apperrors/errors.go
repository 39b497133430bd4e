// Package apperrors provides structured application errors with HTTP status mapping.
package apperrors

import (
	"errors"
	"fmt"
)

// Sentinel errors for classification via errors.Is().
var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrCycle      = errors.New("dependency cycle")
	ErrSubmission = errors.New("submission error")
	ErrStore      = errors.New("store error")
	ErrInternal   = errors.New("internal error")
)

// Error provides structured error with context.
type Error struct {
	Sentinel error  // Wrapped sentinel for errors.Is() classification
	Message  string // Human-readable message
	Field    string // For validation errors (e.g., "id", "command")
	Resource string // For not found/conflict (e.g., "job", "dependency")
	Op       string // Operation that failed (e.g., "store.update", "slurm.submit")
	Cause    error  // Underlying error
}

// Error returns the human-readable error message.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap returns the sentinel error for errors.Is() classification.
func (e *Error) Unwrap() error {
	return e.Sentinel
}

// Validation creates a validation error for a specific field.
func Validation(field, message string) error {
	return &Error{
		Sentinel: ErrValidation,
		Message:  message,
		Field:    field,
	}
}

// NotFound creates a not found error for a resource.
func NotFound(resource, id string) error {
	return &Error{
		Sentinel: ErrNotFound,
		Message:  fmt.Sprintf("%s %s not found", resource, id),
		Resource: resource,
	}
}

// Conflict creates a conflict error for a resource.
func Conflict(resource, id, reason string) error {
	return &Error{
		Sentinel: ErrConflict,
		Message:  reason,
		Resource: resource,
	}
}

// Cycle creates an error for a dependency edge that would close a cycle.
// The offending edge is reported dependent-first.
func Cycle(dependent, predecessor string) error {
	return &Error{
		Sentinel: ErrCycle,
		Message:  fmt.Sprintf("edge %s -> %s would create a dependency cycle", dependent, predecessor),
		Resource: "dependency",
	}
}

// Submission creates an error for a failed backend submission.
func Submission(backend string, cause error) error {
	return &Error{
		Sentinel: ErrSubmission,
		Message:  fmt.Sprintf("%s submission failed: %v", backend, cause),
		Op:       backend + ".submit",
		Cause:    cause,
	}
}

// Store creates an error for a backing-store failure. Store errors are
// fatal to the current operation and never retried automatically.
func Store(op string, cause error) error {
	return &Error{
		Sentinel: ErrStore,
		Message:  fmt.Sprintf("%s: %v", op, cause),
		Op:       op,
		Cause:    cause,
	}
}

// Internal creates an internal error wrapping an underlying cause.
func Internal(op string, cause error) error {
	return &Error{
		Sentinel: ErrInternal,
		Message:  fmt.Sprintf("%s: %v", op, cause),
		Op:       op,
		Cause:    cause,
	}
}
