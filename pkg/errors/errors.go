package errors

import (
	"fmt"
	"net/http"
)

// ErrorCode represents application error codes
type ErrorCode string

const (
	ErrCodeInvalidInput         ErrorCode = "INVALID_INPUT"
	ErrCodeNotFound             ErrorCode = "NOT_FOUND"
	ErrCodeUnauthorized         ErrorCode = "UNAUTHORIZED"
	ErrCodeConflict             ErrorCode = "CONFLICT"
	ErrCodeRateLimit            ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal             ErrorCode = "INTERNAL_ERROR"
	ErrCodeTransportUnavailable ErrorCode = "TRANSPORT_UNAVAILABLE"
	ErrCodePermissionDenied     ErrorCode = "PERMISSION_DENIED"
	ErrCodeDeviceUnavailable    ErrorCode = "DEVICE_UNAVAILABLE"
	ErrCodeNegotiationFailed    ErrorCode = "NEGOTIATION_FAILED"
	ErrCodeConnectivityLost     ErrorCode = "CONNECTIVITY_LOST"
)

// AppError represents an application error with code and context
type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Cause      error
	Context    map[string]interface{}
}

// Error implements error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewAppError creates a new application error
func NewAppError(code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Context:    make(map[string]interface{}),
	}
}

// WrapError wraps an existing error with application error
func WrapError(err error, code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Cause:      err,
		Context:    make(map[string]interface{}),
	}
}

// Common error constructors
func NewInvalidInputError(message string) *AppError {
	return NewAppError(ErrCodeInvalidInput, message, http.StatusBadRequest)
}

func NewNotFoundError(resource string) *AppError {
	return NewAppError(ErrCodeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

func NewUnauthorizedError(message string) *AppError {
	return NewAppError(ErrCodeUnauthorized, message, http.StatusUnauthorized)
}

func NewConflictError(message string) *AppError {
	return NewAppError(ErrCodeConflict, message, http.StatusConflict)
}

func NewRateLimitError() *AppError {
	return NewAppError(ErrCodeRateLimit, "rate limit exceeded", http.StatusTooManyRequests)
}

func NewInternalError(message string) *AppError {
	return NewAppError(ErrCodeInternal, message, http.StatusInternalServerError)
}

// NewTransportUnavailableError marks the signaling transport as unreachable
// or misconfigured. Fatal for the whole session.
func NewTransportUnavailableError(err error) *AppError {
	return WrapError(err, ErrCodeTransportUnavailable, "signaling transport unavailable", http.StatusServiceUnavailable)
}

// NewPermissionDeniedError marks local capture as refused by the
// environment. Fatal for broadcaster start.
func NewPermissionDeniedError(err error) *AppError {
	return WrapError(err, ErrCodePermissionDenied, "microphone permission denied", http.StatusForbidden)
}

// NewDeviceUnavailableError marks the capture device as missing or busy.
func NewDeviceUnavailableError(err error) *AppError {
	return WrapError(err, ErrCodeDeviceUnavailable, "audio device unavailable", http.StatusServiceUnavailable)
}

// NewNegotiationFailedError marks one peer's description exchange as
// rejected. Fatal for that peer only, never for the whole session.
func NewNegotiationFailedError(err error) *AppError {
	return WrapError(err, ErrCodeNegotiationFailed, "negotiation failed", http.StatusUnprocessableEntity)
}

// NewConnectivityLostError marks a post-connect ICE failure for one peer.
func NewConnectivityLostError(err error) *AppError {
	return WrapError(err, ErrCodeConnectivityLost, "peer connectivity lost", http.StatusGone)
}

// IsAppError checks if error is an AppError
func IsAppError(err error) bool {
	_, ok := err.(*AppError)
	return ok
}

// GetAppError extracts AppError from error chain
func GetAppError(err error) *AppError {
	if err == nil {
		return nil
	}

	if appErr, ok := err.(*AppError); ok {
		return appErr
	}

	type unwrapper interface {
		Unwrap() error
	}

	if u, ok := err.(unwrapper); ok {
		return GetAppError(u.Unwrap())
	}

	return nil
}
