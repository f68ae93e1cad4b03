package engine

import (
	"errors"
	"fmt"
)

// RuntimeError represents an error detected by the engine itself, as
// opposed to a failure of the context being processed.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// ContextID identifies the affected context.
	ContextID string

	// Details contains additional context.
	Details map[string]string

	// Err is the underlying cause, if any.
	Err error
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeQuotaExceeded indicates the context exceeded max clicks.
	ErrCodeQuotaExceeded RuntimeErrorCode = "QUOTA_EXCEEDED"

	// ErrCodeInvalidChange indicates a submitted change cannot start a context.
	ErrCodeInvalidChange RuntimeErrorCode = "INVALID_CHANGE"

	// ErrCodeUnknownContext indicates no context is stored under the id.
	ErrCodeUnknownContext RuntimeErrorCode = "UNKNOWN_CONTEXT"

	// ErrCodeNotSuspended indicates an approval decision for a context that
	// is not awaiting one.
	ErrCodeNotSuspended RuntimeErrorCode = "NOT_SUSPENDED"

	// ErrCodeStopped indicates the engine no longer accepts events.
	ErrCodeStopped RuntimeErrorCode = "STOPPED"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	if e.ContextID != "" {
		return fmt.Sprintf("%s: %s (context=%s)", e.Code, e.Message, e.ContextID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// HasCode reports whether err is a RuntimeError with the given code.
// Uses errors.As to handle wrapped errors.
func HasCode(err error, code RuntimeErrorCode) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// IsQuotaError returns true if the error is a quota exceeded error.
func IsQuotaError(err error) bool {
	return HasCode(err, ErrCodeQuotaExceeded)
}

// NewQuotaError creates a RuntimeError for quota exceeded.
func NewQuotaError(contextID string, clicks, maxClicks int) *RuntimeError {
	return &RuntimeError{
		Code:      ErrCodeQuotaExceeded,
		Message:   fmt.Sprintf("context exceeded max clicks (%d >= %d)", clicks, maxClicks),
		ContextID: contextID,
		Details: map[string]string{
			"clicks":     fmt.Sprintf("%d", clicks),
			"max_clicks": fmt.Sprintf("%d", maxClicks),
		},
	}
}

func newRuntimeError(code RuntimeErrorCode, contextID, format string, args ...any) *RuntimeError {
	return &RuntimeError{Code: code, Message: fmt.Sprintf(format, args...), ContextID: contextID}
}
