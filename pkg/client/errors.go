package client

import (
	"errors"
	"fmt"
)

// Common errors returned by the client.
var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during a
	// request or while waiting out a backoff delay.
	ErrContextCancelled = errors.New("context cancelled")
)

// ErrorClass categorizes request failures. The class decides whether an
// attempt is retried and labels error metrics and logs.
type ErrorClass string

const (
	// ClassTransport covers connection failures, timeouts, and other errors
	// where no HTTP response was received. Retryable.
	ClassTransport ErrorClass = "transport"

	// ClassServer covers 5xx responses. Retryable.
	ClassServer ErrorClass = "server"

	// ClassRateLimit covers 429 responses. Retryable.
	ClassRateLimit ErrorClass = "rate_limit"

	// ClassClientRequest covers 4xx responses other than 422 and 429.
	// Terminal: the request is malformed or unauthorized and retrying
	// cannot help.
	ClassClientRequest ErrorClass = "client_request"

	// ClassValidation covers 422 responses where the server rejected the
	// payload. Terminal.
	ClassValidation ErrorClass = "validation"

	// ClassMalformed covers 2xx responses whose body could not be decoded.
	// Terminal: the server is answering, just not with what we expect.
	ClassMalformed ErrorClass = "malformed"
)

// APIError represents a failed request against the animals API with enough
// context to classify, log, and decide on retry.
type APIError struct {
	StatusCode int
	Class      ErrorClass
	Message    string

	// Detail carries the server-provided detail string for validation
	// errors, when the 422 body included one.
	Detail string

	Err error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("animals api %s error (status %d): %s: %v",
			e.Class, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("animals api %s error (status %d): %s",
		e.Class, e.StatusCode, e.Message)
}

// Unwrap returns the underlying error.
func (e *APIError) Unwrap() error {
	return e.Err
}

// Retryable reports whether another attempt at the same request could
// plausibly succeed.
func (e *APIError) Retryable() bool {
	switch e.Class {
	case ClassTransport, ClassServer, ClassRateLimit:
		return true
	default:
		return false
	}
}

// ExhaustedError is returned when every retry attempt failed. It wraps the
// last attempt's error and records how many attempts were made.
type ExhaustedError struct {
	Attempts int
	Err      error
}

// Error implements the error interface.
func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%v after %d attempts: %v", ErrRetryExhausted, e.Attempts, e.Err)
}

// Unwrap returns the last attempt's error.
func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrRetryExhausted, so callers can use
// errors.Is(err, ErrRetryExhausted) without knowing the concrete type.
func (e *ExhaustedError) Is(target error) bool {
	return target == ErrRetryExhausted
}

// classifyStatus maps an HTTP status code to an error class. Only call this
// for non-2xx statuses.
func classifyStatus(status int) ErrorClass {
	switch {
	case status == 429:
		return ClassRateLimit
	case status == 422:
		return ClassValidation
	case status >= 500:
		return ClassServer
	case status >= 400:
		return ClassClientRequest
	default:
		return ClassServer
	}
}

// ClassOf extracts the error class from any error returned by the client,
// unwrapping as needed. Errors that never reached classification count as
// transport failures.
func ClassOf(err error) ErrorClass {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Class
	}
	return ClassTransport
}
