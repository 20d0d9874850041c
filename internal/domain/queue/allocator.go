package queue

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicdesk/clinicdesk/internal/platform/db"
)

// Allocator hands out day-scoped ticket numbers and queue positions. Both
// sequences start at 1 each clinic day and are strictly increasing; two
// concurrent callers can never receive the same value for the same day.
type Allocator interface {
	// NextTicket claims and returns the next ticket number for day.
	NextTicket(ctx context.Context, day Day) (int, error)
	// NextPosition claims and returns the next queue position for day.
	NextPosition(ctx context.Context, day Day) (int, error)
	// Peek returns the ticket number the next check-in would receive,
	// without claiming it.
	Peek(ctx context.Context, day Day) (int, error)
	// Reset discards the counters for day so both sequences restart at 1.
	Reset(ctx context.Context, day Day) error
}

const (
	counterTicket   = "ticket"
	counterPosition = "position"
)

// allocatorPG backs the counters with the queue_counter table. The upsert
// below increments and reads in a single statement, so it is atomic under the
// default isolation level regardless of how many pool connections race.
type allocatorPG struct {
	pool *pgxpool.Pool
}

func NewPGAllocator(pool *pgxpool.Pool) Allocator {
	return &allocatorPG{pool: pool}
}

func (a *allocatorPG) conn(ctx context.Context) db.Querier {
	if tx := db.ConnFromContext(ctx); tx != nil {
		return tx
	}
	return a.pool
}

func (a *allocatorPG) next(ctx context.Context, day Day, kind string) (int, error) {
	var value int
	err := a.conn(ctx).QueryRow(ctx, `
		INSERT INTO queue_counter (day, kind, value)
		VALUES ($1, $2, 1)
		ON CONFLICT (day, kind)
		DO UPDATE SET value = queue_counter.value + 1
		RETURNING value`, string(day), kind).Scan(&value)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrAllocationUnavailable, err)
	}
	return value, nil
}

func (a *allocatorPG) NextTicket(ctx context.Context, day Day) (int, error) {
	return a.next(ctx, day, counterTicket)
}

func (a *allocatorPG) NextPosition(ctx context.Context, day Day) (int, error) {
	return a.next(ctx, day, counterPosition)
}

func (a *allocatorPG) Peek(ctx context.Context, day Day) (int, error) {
	var value int
	err := a.conn(ctx).QueryRow(ctx, `
		SELECT COALESCE(
			(SELECT value FROM queue_counter WHERE day = $1 AND kind = $2), 0
		) + 1`, string(day), counterTicket).Scan(&value)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrAllocationUnavailable, err)
	}
	return value, nil
}

func (a *allocatorPG) Reset(ctx context.Context, day Day) error {
	_, err := a.conn(ctx).Exec(ctx,
		`DELETE FROM queue_counter WHERE day = $1`, string(day))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAllocationUnavailable, err)
	}
	return nil
}
