package queue

import (
	"context"

	"github.com/google/uuid"
)

// Repository is the persistence boundary for appointments. Save performs an
// optimistic compare-and-swap on version_id and returns
// ErrConcurrentModification when the stored version no longer matches.
type Repository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	Save(ctx context.Context, a *Appointment) error

	// ListActiveForDay returns the live queue for day: checked-in and
	// in-progress entries, in-progress first, then by ascending position.
	ListActiveForDay(ctx context.Context, day Day) ([]*Appointment, error)
	// NextInLine returns the checked-in entry with the lowest position for
	// day, or nil when nobody is waiting.
	NextInLine(ctx context.Context, day Day) (*Appointment, error)
	// ReorderPositions rewrites positions for day so the listed entries come
	// first in the given order and every other active entry follows in its
	// previous relative order. All-or-nothing: if any listed id is not an
	// active entry for day, nothing changes and InvalidQueueStateError is
	// returned.
	ReorderPositions(ctx context.Context, day Day, orderedIDs []uuid.UUID) error

	ListForDay(ctx context.Context, day Day, limit, offset int) ([]*Appointment, int, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, int, error)

	StatsForDay(ctx context.Context, day Day) (*Stats, error)
	// ResetDay pushes every active entry for day back to scheduled and clears
	// its queue fields. Returns the number of entries reset.
	ResetDay(ctx context.Context, day Day) (int, error)
}
