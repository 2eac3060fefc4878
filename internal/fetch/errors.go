package fetch

import (
	"context"
	"errors"
	"fmt"
)

// recoverableError marks a backend failure the orchestrator may retry
// against the next backend in the fallback chain: network failures,
// extraction failures, unsupported-format errors. Anything unmarked is
// treated as terminal for the whole request.
type recoverableError struct {
	err error
}

func (e *recoverableError) Error() string { return e.err.Error() }
func (e *recoverableError) Unwrap() error { return e.err }

// Recoverable wraps err so IsRecoverable reports true for it.
func Recoverable(err error) error {
	if err == nil {
		return nil
	}
	return &recoverableError{err: err}
}

// Recoverablef is Recoverable over a formatted error.
func Recoverablef(format string, args ...any) error {
	return &recoverableError{err: fmt.Errorf(format, args...)}
}

// IsRecoverable reports whether err allows falling back to another backend.
// A cancelled or timed-out context is never recoverable: the caller is gone.
func IsRecoverable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var re *recoverableError
	return errors.As(err, &re)
}
