package errors

import (
	stdErrors "errors"
	"fmt"
)

// ExternalServiceError represents a malformed or failed response from an
// external lookup service (metadata API, vision API, browser search).
// Callers outside the recognition pipeline surface it as retryable.
type ExternalServiceError struct {
	Service    string
	StatusCode int
	Message    string
	Err        error
}

func (e *ExternalServiceError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: HTTP %d: %s", e.Service, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s: %s", e.Service, msg)
}

func (e *ExternalServiceError) Unwrap() error {
	return e.Err
}

// NewExternalServiceError creates an error for an unexpected HTTP status.
func NewExternalServiceError(service string, statusCode int, message string) *ExternalServiceError {
	return &ExternalServiceError{Service: service, StatusCode: statusCode, Message: message}
}

// WrapExternalServiceError wraps a transport or decoding failure.
func WrapExternalServiceError(service string, err error) *ExternalServiceError {
	return &ExternalServiceError{Service: service, Err: err}
}

// IsExternalServiceError reports whether err is an ExternalServiceError or a RateLimitError.
// Both mean the caller may retry later.
func IsExternalServiceError(err error) bool {
	var extErr *ExternalServiceError
	return stdErrors.As(err, &extErr) || IsRateLimitError(err)
}
