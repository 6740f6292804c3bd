package client

import (
	"errors"
	"fmt"
)

// ErrResolutionCancelled reports that the user dismissed the resolution
// dialog. Distinct from both conflicts and network failures so callers can
// tell "the user gave up" from "the system failed".
var ErrResolutionCancelled = errors.New("conflict resolution cancelled")

// ConflictError is returned when the server reports a conflict and no
// resolver is registered. It carries everything needed to resolve later.
type ConflictError struct {
	Record ConflictRecord
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict detected for %s.%s", e.Record.EntityID, e.Record.FieldID)
}

// IsConflict reports whether err is an unresolved conflict.
func IsConflict(err error) bool {
	var conflict *ConflictError
	return errors.As(err, &conflict)
}

// APIError is a non-success response from the API. Transient statuses (5xx,
// 408, 429) are retryable; other client errors are not.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api status %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("api status %d", e.Status)
}

// Retryable classifies the status for the shared retry policy.
func (e *APIError) Retryable() bool {
	return e.Status == 408 || e.Status == 429 || e.Status >= 500
}

// transportError wraps a failed HTTP round trip; always retryable.
type transportError struct {
	err error
}

func (e *transportError) Error() string   { return fmt.Sprintf("api request failed: %v", e.err) }
func (e *transportError) Unwrap() error   { return e.err }
func (e *transportError) Retryable() bool { return true }
