// Package audit records who did what to which resource. Recording failures
// are logged and swallowed: an audit problem must never roll back the
// operation it describes.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/clinicdesk/clinicdesk/internal/platform/db"
)

// Event is a single audit trail entry.
type Event struct {
	ID           uuid.UUID `json:"id"`
	Actor        string    `json:"actor"`
	Action       string    `json:"action"` // e.g. check-in, start, complete, reorder
	ResourceType string    `json:"resource_type"`
	ResourceID   string    `json:"resource_id"`
	Status       string    `json:"status"` // success | failure
	Detail       string    `json:"detail,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Recorder persists audit events.
type Recorder interface {
	Record(ctx context.Context, e Event) error
}

// RecorderFunc is a function adapter for Recorder.
type RecorderFunc func(ctx context.Context, e Event) error

func (f RecorderFunc) Record(ctx context.Context, e Event) error { return f(ctx, e) }

// Log wraps a Recorder with the log-and-continue policy: Record failures are
// written to the logger and discarded so callers never see them.
type Log struct {
	rec    Recorder
	logger zerolog.Logger
}

func NewLog(rec Recorder, logger zerolog.Logger) *Log {
	return &Log{rec: rec, logger: logger}
}

// Record persists the event, swallowing any recorder error.
func (l *Log) Record(ctx context.Context, e Event) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if l.rec != nil {
		if err := l.rec.Record(ctx, e); err != nil {
			l.logger.Error().Err(err).
				Str("action", e.Action).
				Str("resource_type", e.ResourceType).
				Str("resource_id", e.ResourceID).
				Msg("failed to record audit event")
		}
	}
	l.logger.Info().
		Str("type", "audit").
		Str("actor", e.Actor).
		Str("action", e.Action).
		Str("resource_type", e.ResourceType).
		Str("resource_id", e.ResourceID).
		Str("status", e.Status).
		Msg("audit")
}

// pgRecorder writes audit events to the audit_event table.
type pgRecorder struct{ pool *pgxpool.Pool }

func NewPGRecorder(pool *pgxpool.Pool) Recorder { return &pgRecorder{pool: pool} }

func (r *pgRecorder) conn(ctx context.Context) db.Querier {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

func (r *pgRecorder) Record(ctx context.Context, e Event) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO audit_event (id, actor, action, resource_type, resource_id, status, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		e.ID, e.Actor, e.Action, e.ResourceType, e.ResourceID, e.Status, e.Detail, e.CreatedAt)
	return err
}
