package queue

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrNotFound means the referenced appointment or patient does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConcurrentModification means the entry changed between read and
	// write. Callers may retry with a fresh read; the service retries once.
	ErrConcurrentModification = errors.New("concurrent modification")

	// ErrAllocationUnavailable means the ticket/position counter store is
	// unreachable. Numbers are never fabricated locally; the whole operation
	// fails.
	ErrAllocationUnavailable = errors.New("allocation unavailable")
)

// InvalidTransitionError reports an operation that is not legal from the
// entry's current status.
type InvalidTransitionError struct {
	Current   Status
	Requested Op
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition: cannot %s from status %q", e.Requested, e.Current)
}

// InvalidQueueStateError reports a reorder request naming entries that are not
// currently active. The reorder is a no-op when this is returned.
type InvalidQueueStateError struct {
	IDs []uuid.UUID
}

func (e *InvalidQueueStateError) Error() string {
	return fmt.Sprintf("invalid queue state: %d referenced entries are not active", len(e.IDs))
}
