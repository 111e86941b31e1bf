package resilience

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrCircuitOpen is returned without invoking the call when the breaker
	// for a dependency is open or already running its half-open trial.
	ErrCircuitOpen = errors.New("circuit breaker open")

	// ErrRetriesExhausted wraps the last transient failure once the retry
	// budget is spent.
	ErrRetriesExhausted = errors.New("retries exhausted")

	// ErrSoftDeadline is returned when another retry would run past the
	// caller's soft deadline.
	ErrSoftDeadline = errors.New("soft deadline exceeded")

	// ErrStopped is returned when the caller's stop channel closed between
	// attempts.
	ErrStopped = errors.New("stopped before retry")
)

// transientError marks a failure that may succeed if attempted again.
type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// permanentError marks a failure that will not succeed on retry.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Transient classifies err as retryable. A nil err stays nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// Permanent classifies err as non-retryable. A nil err stays nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Transientf is shorthand for Transient(fmt.Errorf(format, args...)).
func Transientf(format string, args ...any) error {
	return Transient(fmt.Errorf(format, args...))
}

// IsTransient reports whether err should be retried. The outermost
// classification wins, and a deadline on the call itself counts as transient.
func IsTransient(err error) bool {
	for err != nil {
		switch err.(type) {
		case *transientError:
			return true
		case *permanentError:
			return false
		}
		if err == context.DeadlineExceeded {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}

// IsPermanent reports whether err is a classified or unclassified
// non-retryable failure.
func IsPermanent(err error) bool {
	return err != nil && !IsTransient(err)
}
