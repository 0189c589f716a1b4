package gateway

import (
	"errors"
	"fmt"
)

// ErrUnauthorized is returned on HTTP 401 after the session was torn down.
var ErrUnauthorized = errors.New("unauthorized")

// Kind groups the failures a coordinator treats identically: queue and retry.
type Kind string

const (
	KindNotFound    Kind = "not_found"
	KindServerError Kind = "server_error"
	KindNetwork     Kind = "network_error"
	// KindThrottled covers 408 and 429.
	KindThrottled Kind = "throttled"
)

type RetryableError struct {
	Kind       Kind
	StatusCode int
	Err        error
}

func (e *RetryableError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("gateway %s (status %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("gateway %s: %v", e.Kind, e.Err)
}

func (e *RetryableError) Unwrap() error { return e.Err }

// RejectedError is a 4xx other than 401, 404, 408 and 429: the server saw
// the payload and refused it, so replaying it unchanged will not help.
type RejectedError struct {
	StatusCode int
	Body       string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("gateway rejected (status %d): %s", e.StatusCode, e.Body)
}

func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

func IsRetryable(err error) bool {
	var r *RetryableError
	return errors.As(err, &r)
}

func IsRejected(err error) bool {
	var r *RejectedError
	return errors.As(err, &r)
}

// Reason returns a low-cardinality label for err.
func Reason(err error) string {
	var retryable *RetryableError
	var rejected *RejectedError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.As(err, &retryable):
		return string(retryable.Kind)
	case errors.As(err, &rejected):
		return "rejected"
	default:
		return "unknown"
	}
}
