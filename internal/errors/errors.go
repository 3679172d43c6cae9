package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType is the category of an error the HTTP layer reports
type ErrorType string

const (
	ErrorTypeValidation  ErrorType = "validation"
	ErrorTypeNetwork     ErrorType = "network"
	ErrorTypeTimeout     ErrorType = "timeout"
	ErrorTypeNotFound    ErrorType = "not_found"
	ErrorTypeUnavailable ErrorType = "unavailable"
	ErrorTypeInternal    ErrorType = "internal"
)

var statusByType = map[ErrorType]int{
	ErrorTypeValidation:  http.StatusBadRequest,
	ErrorTypeNetwork:     http.StatusBadGateway,
	ErrorTypeTimeout:     http.StatusGatewayTimeout,
	ErrorTypeNotFound:    http.StatusNotFound,
	ErrorTypeUnavailable: http.StatusServiceUnavailable,
	ErrorTypeInternal:    http.StatusInternalServerError,
}

// AppError is a request-level failure outside the classification
// pipeline: a bad upload, an unreachable image URL, a missing file
type AppError struct {
	Type       ErrorType `json:"type"`
	Message    string    `json:"message"`
	Details    string    `json:"details,omitempty"`
	StatusCode int       `json:"status_code"`
	Cause      error     `json:"-"`
}

func newAppError(t ErrorType, message string, cause error) *AppError {
	return &AppError{Type: t, Message: message, StatusCode: statusByType[t], Cause: cause}
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// NewValidationError reports bad client input (400)
func NewValidationError(message string, cause error) *AppError {
	return newAppError(ErrorTypeValidation, message, cause)
}

// NewNetworkError reports a failed outbound fetch (502)
func NewNetworkError(message string, cause error) *AppError {
	return newAppError(ErrorTypeNetwork, message, cause)
}

func NewTimeoutError(message string, cause error) *AppError {
	return newAppError(ErrorTypeTimeout, message, cause)
}

// NewUnavailableError reports a dependency that is not ready, such as a
// model that failed to load (503)
func NewUnavailableError(message string, cause error) *AppError {
	return newAppError(ErrorTypeUnavailable, message, cause)
}

func NewInternalError(message string, cause error) *AppError {
	return newAppError(ErrorTypeInternal, message, cause)
}

func NewNotFoundError(message string, cause error) *AppError {
	return newAppError(ErrorTypeNotFound, message, cause)
}

// IsType checks if the error chain holds an AppError of a specific type
func IsType(err error, errorType ErrorType) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == errorType
	}
	return false
}

// GetStatusCode extracts the HTTP status code from an error.
// Classification errors are mapped through StatusFor.
func GetStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}
	return StatusFor(err)
}
