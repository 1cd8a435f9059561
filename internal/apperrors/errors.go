// Package apperrors defines the error taxonomy shared by every engine
// component so callers can classify failures without string matching.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes as constants.
const (
	CodeNotFound      = "NOT_FOUND"
	CodeInvalidState  = "INVALID_STATE"
	CodeNotAuthorized = "NOT_AUTHORIZED"
	CodeCapacity      = "CAPACITY"
	CodeTimeout       = "TIMEOUT"
	CodeConflict      = "CONFLICT"
	CodeExternal      = "EXTERNAL"
	CodeBadInput      = "BAD_INPUT"
)

// AppError represents an engine-level error with a stable classification
// code. HTTPStatus is carried for the benefit of an outer HTTP surface
// and is never consulted by the engine itself.
type AppError struct {
	Code       string
	Message    string
	HTTPStatus int
	Err        error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error for use with errors.Is and errors.As.
func (e *AppError) Unwrap() error {
	return e.Err
}

// NotFound creates an error for a resource that does not exist.
func NotFound(resource string, id string) *AppError {
	return &AppError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s %q not found", resource, id),
		HTTPStatus: http.StatusNotFound,
	}
}

// InvalidState creates an error for an operation rejected by a state machine.
func InvalidState(message string) *AppError {
	return &AppError{
		Code:       CodeInvalidState,
		Message:    message,
		HTTPStatus: http.StatusConflict,
	}
}

// NotAuthorized creates an error for an actor lacking permission for an operation.
func NotAuthorized(message string) *AppError {
	return &AppError{
		Code:       CodeNotAuthorized,
		Message:    message,
		HTTPStatus: http.StatusForbidden,
	}
}

// Capacity creates an error for a request rejected because a pool or
// queue is at its configured limit.
func Capacity(message string) *AppError {
	return &AppError{
		Code:       CodeCapacity,
		Message:    message,
		HTTPStatus: http.StatusServiceUnavailable,
	}
}

// Timeout creates an error for an operation that exceeded its deadline.
func Timeout(message string) *AppError {
	return &AppError{
		Code:       CodeTimeout,
		Message:    message,
		HTTPStatus: http.StatusGatewayTimeout,
	}
}

// Conflict creates an error for a compare-and-swap or uniqueness violation.
func Conflict(message string) *AppError {
	return &AppError{
		Code:       CodeConflict,
		Message:    message,
		HTTPStatus: http.StatusConflict,
	}
}

// External wraps a failure surfaced by something outside the engine's
// control (a Store call, an injected callback).
func External(message string, err error) *AppError {
	return &AppError{
		Code:       CodeExternal,
		Message:    message,
		HTTPStatus: http.StatusBadGateway,
		Err:        err,
	}
}

// BadInput creates an error for a malformed or missing argument.
func BadInput(message string) *AppError {
	return &AppError{
		Code:       CodeBadInput,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// Wrap adds context to an existing error, preserving its code if it is
// already an AppError, otherwise classifying it as External.
func Wrap(err error, message string) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return &AppError{
			Code:       appErr.Code,
			Message:    fmt.Sprintf("%s: %s", message, appErr.Message),
			HTTPStatus: appErr.HTTPStatus,
			Err:        err,
		}
	}

	return &AppError{
		Code:       CodeExternal,
		Message:    message,
		HTTPStatus: http.StatusBadGateway,
		Err:        err,
	}
}

// Is reports whether err is an AppError with the given code.
func Is(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// IsNotFound reports whether err is a NotFound AppError.
func IsNotFound(err error) bool { return Is(err, CodeNotFound) }

// IsInvalidState reports whether err is an InvalidState AppError.
func IsInvalidState(err error) bool { return Is(err, CodeInvalidState) }

// IsCapacity reports whether err is a Capacity AppError.
func IsCapacity(err error) bool { return Is(err, CodeCapacity) }

// IsConflict reports whether err is a Conflict AppError.
func IsConflict(err error) bool { return Is(err, CodeConflict) }

// GetHTTPStatus returns the HTTP status associated with err, defaulting
// to 500 when err is not an AppError.
func GetHTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}
