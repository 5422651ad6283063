package schema

import (
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
const (
	ErrCodeValidation          = "VALIDATION_ERROR"
	ErrCodeUnauthorized        = "UNAUTHORIZED"
	ErrCodeNotFound            = "NOT_FOUND"
	ErrCodeConflict            = "CONFLICT"
	ErrCodeInvalidTransition   = "INVALID_TRANSITION"
	ErrCodeCycleDetected       = "CYCLE_DETECTED"
	ErrCodeUnresolvedInput     = "UNRESOLVED_INPUT"
	ErrCodeMissingInput        = "MISSING_INPUT"
	ErrCodeInsufficientCredits = "INSUFFICIENT_CREDITS"
	ErrCodeInvalidCron         = "INVALID_CRON"
	ErrCodeExecutorFailure     = "EXECUTOR_FAILURE"
	ErrCodeCancelled           = "CANCELLED"
	ErrCodeStore               = "STORE_ERROR"
	ErrCodeVault               = "VAULT_ERROR"
)

// EngineError is the structured error type for all engine operations.
type EngineError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Phase   int            `json:"phase,omitempty"`
	Cause   error          `json:"-"`
}

func (e *EngineError) Error() string {
	if e.Phase > 0 {
		return fmt.Sprintf("[%s] phase %d: %s", e.Code, e.Phase, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *EngineError) Unwrap() error {
	return e.Cause
}

// NewError creates a new EngineError.
func NewError(code, message string) *EngineError {
	return &EngineError{Code: code, Message: message}
}

// NewErrorf creates a new EngineError with a formatted message.
func NewErrorf(code, format string, args ...any) *EngineError {
	return &EngineError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithPhase attaches a phase sequence number to the error.
func (e *EngineError) WithPhase(seq int) *EngineError {
	e.Phase = seq
	return e
}

// WithCause attaches an underlying cause.
func (e *EngineError) WithCause(err error) *EngineError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *EngineError) WithDetails(details map[string]any) *EngineError {
	e.Details = details
	return e
}

// IsCode reports whether err, or any error it wraps, is an EngineError with the given code.
func IsCode(err error, code string) bool {
	var engErr *EngineError
	if !errors.As(err, &engErr) {
		return false
	}
	return engErr.Code == code
}

// CodeOf returns the code of the first EngineError in err's chain, or "".
func CodeOf(err error) string {
	var engErr *EngineError
	if errors.As(err, &engErr) {
		return engErr.Code
	}
	return ""
}
