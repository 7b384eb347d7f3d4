package store

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Store errors.
var (
	// ErrNotFound is matched by StatusError values for 404 responses.
	ErrNotFound = errors.New("record not found")

	// ErrBatchTooLarge is returned for FetchBatch calls above MaxBatchSize.
	ErrBatchTooLarge = fmt.Errorf("batch exceeds %d identifiers", MaxBatchSize)
)

// maxErrorBody bounds the response body kept on a StatusError.
const maxErrorBody = 512

// StatusError is a non-2xx answer from the store.
type StatusError struct {
	Op     string
	Status int

	// Message is the store's own error text when it could be parsed.
	Message string

	// Body is the leading part of the raw response body.
	Body string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: HTTP %d: %s", e.Op, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: HTTP %d %s", e.Op, e.Status, http.StatusText(e.Status))
}

// Is lets errors.Is(err, ErrNotFound) match 404 responses.
func (e *StatusError) Is(target error) bool {
	return target == ErrNotFound && e.Status == http.StatusNotFound
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status
	}
	return 0
}

// IsTransient reports whether the failure may succeed on retry: transport
// errors, 429 and 5xx. Context cancellation is never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return isRetryableStatus(se.Status)
	}
	return !errors.Is(err, ErrBatchTooLarge)
}

// isRetryableStatus treats 429 and 5xx as transient.
func isRetryableStatus(code int) bool {
	if code == http.StatusTooManyRequests {
		return true
	}
	return code >= 500 && code <= 599
}
