package errors

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// InternalError is the error type used across the engine. It carries a
// user-safe hint and structured details alongside the wrapped cause, and is
// classified by marking it with one of the standard markers via Mark.
type InternalError struct {
	cause             error
	hint              string
	reportableDetails map[string]any
}

// NewError starts building an error from a message
func NewError(message string) *InternalError {
	return &InternalError{
		cause: errors.NewWithDepth(1, message),
	}
}

// NewErrorf starts building an error from a formatted message
func NewErrorf(format string, args ...interface{}) *InternalError {
	return &InternalError{
		cause: errors.NewWithDepthf(1, format, args...),
	}
}

// WithError starts building an error by wrapping an existing error
func WithError(err error) *InternalError {
	if err == nil {
		err = errors.NewWithDepth(1, "unknown error")
	}
	return &InternalError{
		cause: err,
	}
}

// WithHint attaches a user-safe hint to the error
func (e *InternalError) WithHint(hint string) *InternalError {
	e.hint = hint
	return e
}

// WithHintf attaches a formatted user-safe hint to the error
func (e *InternalError) WithHintf(format string, args ...interface{}) *InternalError {
	e.hint = fmt.Sprintf(format, args...)
	return e
}

// WithReportableDetails attaches structured details that are safe to surface
// to API consumers
func (e *InternalError) WithReportableDetails(details map[string]any) *InternalError {
	e.reportableDetails = details
	return e
}

// Mark classifies the error with one of the standard markers and finalizes
// the builder. It always returns a non-nil error.
func (e *InternalError) Mark(marker error) error {
	e.cause = errors.Mark(e.cause, marker)
	return e
}

// Error implements the error interface
func (e *InternalError) Error() string {
	return e.cause.Error()
}

// Unwrap exposes the wrapped cause for errors.Is / errors.As
func (e *InternalError) Unwrap() error {
	return e.cause
}

// Hint returns the user-safe hint, if any
func (e *InternalError) Hint() string {
	return e.hint
}

// ReportableDetails returns the structured details, if any
func (e *InternalError) ReportableDetails() map[string]any {
	return e.reportableDetails
}
