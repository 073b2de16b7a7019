package schema

import (
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
const (
	ErrCodeRejected          = "USER_ACTION_REJECTED"
	ErrCodePreparation       = "PREPARATION_FAILED"
	ErrCodeEngineRuntime     = "ENGINE_RUNTIME_ERROR"
	ErrCodeCycleDetected     = "CYCLE_DETECTED"
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeStore             = "STORE_ERROR"
	ErrCodeBusy              = "BUSY"
)

// CanvasError is the structured error type returned by every editing and
// execution operation.
type CanvasError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Step    string         `json:"step,omitempty"`
	Cause   error          `json:"-"`
}

func (e *CanvasError) Error() string {
	if e.Step != "" {
		return fmt.Sprintf("[%s] step %s: %s", e.Code, e.Step, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *CanvasError) Unwrap() error {
	return e.Cause
}

// NewError creates a new CanvasError.
func NewError(code, message string) *CanvasError {
	return &CanvasError{Code: code, Message: message}
}

// NewErrorf creates a new CanvasError with a formatted message.
func NewErrorf(code, format string, args ...any) *CanvasError {
	return &CanvasError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Rejectedf is shorthand for a USER_ACTION_REJECTED error.
func Rejectedf(format string, args ...any) *CanvasError {
	return NewErrorf(ErrCodeRejected, format, args...)
}

// WithStep attaches a step name to the error.
func (e *CanvasError) WithStep(step string) *CanvasError {
	e.Step = step
	return e
}

// WithCause attaches an underlying cause.
func (e *CanvasError) WithCause(err error) *CanvasError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *CanvasError) WithDetails(details map[string]any) *CanvasError {
	e.Details = details
	return e
}

// CodeOf returns the code of err if it is (or wraps) a CanvasError, or "".
func CodeOf(err error) string {
	var ce *CanvasError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code string) bool {
	return err != nil && CodeOf(err) == code
}
