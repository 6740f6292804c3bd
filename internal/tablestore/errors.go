package tablestore

import (
	"errors"
	"fmt"
)

// ErrTableNotFound reports that the named table does not exist in the backing
// store. Not-found is a normal outcome, never retried.
var ErrTableNotFound = errors.New("table not found")

// NetworkError is a transient failure talking to the table service: transport
// errors, 5xx, 408 and 429. The retry policy keys off Retryable.
type NetworkError struct {
	Op     string
	Table  string
	Status int
	Err    error
}

func (e *NetworkError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("table service %s %s: status %d", e.Op, e.Table, e.Status)
	}
	return fmt.Sprintf("table service %s %s: %v", e.Op, e.Table, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Retryable reports true: a NetworkError is transient by construction.
func (e *NetworkError) Retryable() bool { return true }

// UnavailableError is the terminal form of a NetworkError once the retry
// budget is exhausted. It is no longer retryable; callers surface it as 503.
type UnavailableError struct {
	Table string
	Err   error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("table service unavailable for %s after retries: %v", e.Table, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// Retryable reports false: the retry ceiling was already reached.
func (e *UnavailableError) Retryable() bool { return false }

// IsUnavailable reports whether err is a retry-exhausted table service failure.
func IsUnavailable(err error) bool {
	var unavailable *UnavailableError
	return errors.As(err, &unavailable)
}
