package model

import (
	"errors"
	"fmt"
)

// Standard error codes.
const (
	ErrBadRequest         = "BAD_REQUEST"
	ErrNotFound           = "NOT_FOUND"
	ErrConflict           = "CONFLICT"
	ErrValidationError    = "VALIDATION_ERROR"
	ErrInvalidTransition  = "INVALID_TRANSITION"
	ErrInternalError      = "INTERNAL_ERROR"
	ErrBackendUnavailable = "BACKEND_UNAVAILABLE"
	ErrBackendTimeout     = "BACKEND_TIMEOUT"
)

// Command surface error codes.
const (
	// ErrCommandFailed is returned when the backend answered with an
	// envelope whose success flag is false, or signalled a stream error.
	ErrCommandFailed = "COMMAND_FAILED"
	// ErrCommandRejected is returned when the backend refused the call
	// outright (non-2xx status).
	ErrCommandRejected = "COMMAND_REJECTED"
	// ErrStreamTimeout is returned when a stream deadline passed before any
	// data arrived.
	ErrStreamTimeout = "STREAM_TIMEOUT"
)

// ErrorEnvelope is the error type shared by every layer of the console.
// It implements the error interface.
type ErrorEnvelope struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
	TraceID string       `json:"trace_id,omitempty"`
}

// Error implements the error interface.
func (e *ErrorEnvelope) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// FieldError describes a field-level validation error.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorCode returns the envelope code carried by err, or "" when err is not
// (and does not wrap) an ErrorEnvelope.
func ErrorCode(err error) string {
	var env *ErrorEnvelope
	if errors.As(err, &env) {
		return env.Code
	}
	return ""
}

// NewBadRequestError returns a BAD_REQUEST error.
func NewBadRequestError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrBadRequest, Message: msg}
}

// NewNotFoundError returns a NOT_FOUND error.
func NewNotFoundError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrNotFound, Message: msg}
}

// NewConflictError returns a CONFLICT error.
func NewConflictError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrConflict, Message: msg}
}

// NewValidationError returns a VALIDATION_ERROR with field-level details.
func NewValidationError(details []FieldError) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrValidationError,
		Message: "One or more fields are invalid",
		Details: details,
	}
}

// NewInvalidTransitionError returns an INVALID_TRANSITION error.
func NewInvalidTransitionError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrInvalidTransition, Message: msg}
}

// NewCommandFailedError returns a COMMAND_FAILED error carrying the
// backend-supplied message.
func NewCommandFailedError(command, msg string) *ErrorEnvelope {
	if msg == "" {
		msg = "command reported failure"
	}
	return &ErrorEnvelope{
		Code:    ErrCommandFailed,
		Message: fmt.Sprintf("%s: %s", command, msg),
	}
}

// NewCommandRejectedError returns a COMMAND_REJECTED error.
func NewCommandRejectedError(command string, status int) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrCommandRejected,
		Message: fmt.Sprintf("%s: backend rejected the call with status %d", command, status),
	}
}

// NewStreamTimeoutError returns a STREAM_TIMEOUT error.
func NewStreamTimeoutError(streamID string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrStreamTimeout,
		Message: fmt.Sprintf("stream %s produced no data before the deadline", streamID),
	}
}

// NewInternalError returns an INTERNAL_ERROR.
func NewInternalError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrInternalError,
		Message: "An unexpected error occurred",
	}
}

// NewBackendUnavailableError returns a BACKEND_UNAVAILABLE error.
func NewBackendUnavailableError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrBackendUnavailable,
		Message: "The backend service is temporarily unavailable",
	}
}

// NewBackendTimeoutError returns a BACKEND_TIMEOUT error.
func NewBackendTimeoutError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrBackendTimeout,
		Message: "The backend service did not respond in time",
	}
}
