package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrCancelled is returned when the request context ends before or
	// during a call.
	ErrCancelled = errors.New("llm: request cancelled")
	// ErrUnknownDriver is returned for a driver name missing from the registry.
	ErrUnknownDriver = errors.New("llm: unknown driver")
	// ErrEmptyResponse is returned when a vendor answers without any choice.
	ErrEmptyResponse = errors.New("llm: empty response")
)

// ProviderError reports a transport, auth or rate-limit failure from a
// backend.
type ProviderError struct {
	Driver     string
	StatusCode int
	Message    string
	Retryable  bool
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: provider error (status %d): %s", e.Driver, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: provider error: %s", e.Driver, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// NewProviderError classifies err by HTTP status.
func NewProviderError(driver string, statusCode int, err error) *ProviderError {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return &ProviderError{
		Driver:     driver,
		StatusCode: statusCode,
		Message:    msg,
		Retryable:  retryableStatus(statusCode),
		Err:        err,
	}
}

func retryableStatus(code int) bool {
	switch {
	case code == http.StatusTooManyRequests, code == http.StatusRequestTimeout:
		return true
	case code >= 500:
		return true
	case code == 0:
		// no status means the request never got an answer
		return true
	}
	return false
}

// IsAuthError reports whether err is a provider auth failure.
func IsAuthError(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.StatusCode == http.StatusUnauthorized || pe.StatusCode == http.StatusForbidden
	}
	return false
}

// IsRetryable reports whether err is a provider error worth retrying.
func IsRetryable(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Retryable
}

// IsCancelled reports whether err is, or wraps, a cancellation.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled)
}

func cancelled(ctx context.Context) error {
	cause := context.Cause(ctx)
	if cause == nil {
		cause = context.Canceled
	}
	return fmt.Errorf("%w: %v", ErrCancelled, cause)
}
