package model

import (
	"errors"
	"fmt"
)

// Standard error codes.
const (
	ErrBadRequest        = "BAD_REQUEST"
	ErrUnauthorized      = "UNAUTHORIZED"
	ErrNotFound          = "NOT_FOUND"
	ErrConflict          = "CONFLICT"
	ErrValidationError   = "VALIDATION_ERROR"
	ErrInvalidTransition = "INVALID_TRANSITION"
	ErrInternalError     = "INTERNAL_ERROR"
)

// Questionnaire-specific error codes.
const (
	// ErrSchemaError marks a reference to a field or step the schema does not
	// define. It is a programmer error and never a user-facing message.
	ErrSchemaError = "SCHEMA_ERROR"
	// ErrPersistenceError marks a failed local draft write. It is soft: the
	// in-memory answers are kept.
	ErrPersistenceError = "PERSISTENCE_ERROR"
	// ErrStorageFull is returned by draft backends that ran out of quota.
	ErrStorageFull = "STORAGE_FULL"
	// ErrAuthExpired means the session must be re-established.
	ErrAuthExpired = "AUTH_EXPIRED"
	// ErrServerError is a retryable 5xx from the backend.
	ErrServerError = "SERVER_ERROR"
	// ErrNetworkUnavailable means the backend could not be reached.
	ErrNetworkUnavailable = "NETWORK_UNAVAILABLE"
	// ErrConfirmationRequired asks the caller to resubmit with confirm=true.
	ErrConfirmationRequired = "CONFIRMATION_REQUIRED"
	// ErrNotReady is returned when an operation needs the Ready state.
	ErrNotReady = "NOT_READY"
)

// ErrorEnvelope is the standard error returned by the service and its
// components. It implements the error interface.
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
	Step    int    `json:"step"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// AsEnvelope unwraps err to an *ErrorEnvelope if one is in the chain.
func AsEnvelope(err error) (*ErrorEnvelope, bool) {
	var ee *ErrorEnvelope
	if errors.As(err, &ee) {
		return ee, true
	}
	return nil, false
}

// HasCode reports whether err carries an ErrorEnvelope with the given code.
func HasCode(err error, code string) bool {
	ee, ok := AsEnvelope(err)
	return ok && ee.Code == code
}

// NewBadRequestError returns a BAD_REQUEST error.
func NewBadRequestError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrBadRequest, Message: msg}
}

// NewUnauthorizedError returns an UNAUTHORIZED error.
func NewUnauthorizedError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrUnauthorized, Message: msg}
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
// The first detail is the first invalid field in schema order.
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

// NewInternalError returns an INTERNAL_ERROR.
func NewInternalError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrInternalError,
		Message: "An unexpected error occurred",
	}
}

// NewSchemaError returns a SCHEMA_ERROR.
func NewSchemaError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrSchemaError, Message: msg}
}

// NewPersistenceError returns a PERSISTENCE_ERROR.
func NewPersistenceError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrPersistenceError, Message: msg}
}

// NewStorageFullError returns a STORAGE_FULL error.
func NewStorageFullError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrStorageFull, Message: msg}
}

// NewAuthExpiredError returns an AUTH_EXPIRED error.
func NewAuthExpiredError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrAuthExpired,
		Message: "Your session has expired. Please log in again.",
	}
}

// NewServerError returns a SERVER_ERROR.
func NewServerError(status int) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrServerError,
		Message: fmt.Sprintf("The server could not process the request (status %d). Please try again later.", status),
	}
}

// NewNetworkUnavailableError returns a NETWORK_UNAVAILABLE error.
func NewNetworkUnavailableError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrNetworkUnavailable,
		Message: "The server is unreachable. Changes are kept locally and will sync when the connection returns.",
	}
}

// NewConfirmationRequiredError returns a CONFIRMATION_REQUIRED error whose
// details list the reasons confirmation is needed.
func NewConfirmationRequiredError(reasons []FieldError) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrConfirmationRequired,
		Message: "Submission needs explicit confirmation",
		Details: reasons,
	}
}

// NewNotReadyError returns a NOT_READY error.
func NewNotReadyError(state string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrNotReady,
		Message: fmt.Sprintf("questionnaire is %s", state),
	}
}
