package reconcile

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound reports an identity or email unknown to a store.
	ErrNotFound = errors.New("not found")
	// ErrVersionConflict reports a conditional update that lost a race.
	ErrVersionConflict = errors.New("version conflict")
	// ErrStaleTask reports a task transition whose expected state no longer holds.
	ErrStaleTask = errors.New("stale reconciliation task")
	// ErrExhausted reports a task that used its whole attempt budget.
	ErrExhausted = errors.New("reconciliation attempts exhausted")
	// ErrCancelled reports a task cancelled before its first attempt.
	ErrCancelled = errors.New("reconciliation task cancelled")
	// ErrNotCancellable reports that no task was eligible for cancellation.
	ErrNotCancellable = errors.New("no cancellable reconciliation task")
	// ErrNotRetryable reports an operator retry on a task that cannot be reopened.
	ErrNotRetryable = errors.New("reconciliation task cannot be retried")
	// ErrNotRunning reports a dispatch to a service whose workers are not running.
	ErrNotRunning = errors.New("reconciliation service is not running")
)

// ValidationError rejects bad input. It is never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// IsValidation reports whether err is a *ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

type transientError struct{ cause error }

func (e transientError) Error() string { return e.cause.Error() }
func (e transientError) Unwrap() error { return e.cause }

type permanentError struct{ cause error }

func (e permanentError) Error() string { return e.cause.Error() }
func (e permanentError) Unwrap() error { return e.cause }

// Transient marks err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return transientError{cause: err}
}

// Permanent marks err as non-retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{cause: err}
}

// IsPermanent reports whether err was explicitly marked as non-retryable.
func IsPermanent(err error) bool {
	var target permanentError
	return errors.As(err, &target)
}

// IsTransient reports whether err should be retried. Errors that are neither
// marked permanent nor validation errors count as transient.
func IsTransient(err error) bool {
	if err == nil || IsPermanent(err) || IsValidation(err) {
		return false
	}
	return true
}
