// Package broker places and cancels orders through the broker API. The
// Gateway wraps the transport with retry, a circuit breaker and a
// dead-letter path; submissions are idempotent on the client order token.
package broker

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// TransientError marks a failure worth retrying (timeout, 5xx, rate limit).
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks a terminal rejection (insufficient margin, halted
// instrument, malformed order). Never retried.
type PermanentError struct {
	Code string
	Err  error
}

func (e *PermanentError) Error() string { return "permanent [" + e.Code + "]: " + e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Transient wraps err as retryable.
func Transient(err error) error { return &TransientError{Err: err} }

// Permanent wraps err as terminal with a broker rejection code.
func Permanent(code string, err error) error { return &PermanentError{Code: code, Err: err} }

// IsTransient classifies an error for the retry loop. Context deadline and
// network timeouts count as transient; context cancellation does not (the
// caller is going away).
func IsTransient(err error) bool {
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	var pe *PermanentError
	if errors.As(err, &pe) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return false
}

// statusError converts an HTTP status into the taxonomy.
func statusError(status int, body string) error {
	switch {
	case status == 429 || status >= 500:
		return Transient(fmt.Errorf("broker status %d: %s", status, body))
	default:
		return Permanent(fmt.Sprintf("HTTP_%d", status), fmt.Errorf("broker rejected: %s", body))
	}
}
