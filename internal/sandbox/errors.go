package sandbox

import (
	"errors"
	"fmt"
)

// Sentinel errors for typed error checking. They mirror the failure classes
// a caller can act on: only ErrEngine is potentially retryable, the rest are
// terminal for that submission.
var (
	ErrSecurityRejected = errors.New("query rejected by security validation")
	ErrTimeout          = errors.New("query execution timed out")
	ErrCanceled         = errors.New("query execution canceled")
	ErrResourceLimit    = errors.New("resource limit exceeded")
	ErrEngine           = errors.New("query engine error")
	ErrDatasetLoad      = errors.New("dataset load failed")
	ErrSandboxClosed    = errors.New("sandbox is closed")
	ErrInvalidTable     = errors.New("invalid table definition")
)

// Error wraps an error with sandbox context.
type Error struct {
	Key Key
	Op  string // the operation that failed
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("sandbox %s/%s: %s: %s", e.Key.UserID, e.Key.ProblemID, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsTimeout reports whether the error is an execution timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsSecurityRejected reports whether the query was blocked before execution.
func IsSecurityRejected(err error) bool {
	return errors.Is(err, ErrSecurityRejected)
}

// IsRetryable reports whether the caller may retry the submission.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrEngine) &&
		!errors.Is(err, ErrTimeout) &&
		!errors.Is(err, ErrResourceLimit)
}
