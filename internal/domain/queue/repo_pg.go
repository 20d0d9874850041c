package queue

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicdesk/clinicdesk/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) db.Querier {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const appointmentCols = `id, patient_id, scheduled_date, scheduled_time, is_walk_in, status,
	ticket_number, queue_position, queue_day, check_in_at, start_at, end_at,
	diagnosis_summary, notes, original_appointment_id, version_id, created_at, updated_at`

// dayScope matches a day's entries whether or not they ever entered the
// queue: queue_day for checked-in rows, scheduled_date otherwise. Both
// operands are DATE, so the parameter must be cast rather than compared as
// text.
const dayScope = `COALESCE(queue_day, scheduled_date) = $1::date`

func (r *repoPG) scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var queueDay *time.Time
	err := row.Scan(&a.ID, &a.PatientID, &a.ScheduledDate, &a.ScheduledTime, &a.IsWalkIn, &a.Status,
		&a.TicketNumber, &a.QueuePosition, &queueDay, &a.CheckInAt, &a.StartAt, &a.EndAt,
		&a.DiagnosisSummary, &a.Notes, &a.OriginalAppointmentID, &a.VersionID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if queueDay != nil {
		d := Day(queueDay.Format(dayLayout))
		a.QueueDay = &d
	}
	return &a, nil
}

func (r *repoPG) Create(ctx context.Context, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.VersionID == 0 {
		a.VersionID = 1
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO appointment (id, patient_id, scheduled_date, scheduled_time, is_walk_in, status,
			ticket_number, queue_position, queue_day, check_in_at, start_at, end_at,
			diagnosis_summary, notes, original_appointment_id, version_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		a.ID, a.PatientID, a.ScheduledDate, a.ScheduledTime, a.IsWalkIn, a.Status,
		a.TicketNumber, a.QueuePosition, dayParam(a.QueueDay), a.CheckInAt, a.StartAt, a.EndAt,
		a.DiagnosisSummary, a.Notes, a.OriginalAppointmentID, a.VersionID)
	return err
}

func dayParam(d *Day) *string {
	if d == nil {
		return nil
	}
	s := string(*d)
	return &s
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return r.scanAppointment(r.conn(ctx).QueryRow(ctx,
		`SELECT `+appointmentCols+` FROM appointment WHERE id = $1`, id))
}

// Save writes every mutable field, guarded by the version the caller read.
// Zero rows affected means somebody else won the write.
func (r *repoPG) Save(ctx context.Context, a *Appointment) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE appointment
		SET scheduled_date=$3, scheduled_time=$4, status=$5, ticket_number=$6, queue_position=$7,
			queue_day=$8, check_in_at=$9, start_at=$10, end_at=$11, diagnosis_summary=$12,
			notes=$13, version_id=version_id+1, updated_at=NOW()
		WHERE id = $1 AND version_id = $2`,
		a.ID, a.VersionID, a.ScheduledDate, a.ScheduledTime, a.Status, a.TicketNumber, a.QueuePosition,
		dayParam(a.QueueDay), a.CheckInAt, a.StartAt, a.EndAt, a.DiagnosisSummary, a.Notes)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		exists := false
		if err := r.conn(ctx).QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM appointment WHERE id = $1)`, a.ID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
		return ErrConcurrentModification
	}
	a.VersionID++
	return nil
}

func (r *repoPG) queryList(ctx context.Context, sql string, args ...any) ([]*Appointment, error) {
	rows, err := r.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Appointment
	for rows.Next() {
		a, err := r.scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

func (r *repoPG) ListActiveForDay(ctx context.Context, day Day) ([]*Appointment, error) {
	return r.queryList(ctx, `
		SELECT `+appointmentCols+` FROM appointment
		WHERE queue_day = $1 AND status IN ('checked-in','in-progress')
		ORDER BY CASE WHEN status = 'in-progress' THEN 0 ELSE 1 END, queue_position ASC`,
		string(day))
}

func (r *repoPG) NextInLine(ctx context.Context, day Day) (*Appointment, error) {
	a, err := r.scanAppointment(r.conn(ctx).QueryRow(ctx, `
		SELECT `+appointmentCols+` FROM appointment
		WHERE queue_day = $1 AND status = 'checked-in'
		ORDER BY queue_position ASC
		LIMIT 1`, string(day)))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return a, err
}

// ReorderPositions locks the day's active rows, validates the request against
// that snapshot, then rewrites every position. Run inside a transaction so a
// bad id leaves the queue exactly as it was.
func (r *repoPG) ReorderPositions(ctx context.Context, day Day, orderedIDs []uuid.UUID) error {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id FROM appointment
		WHERE queue_day = $1 AND status IN ('checked-in','in-progress')
		ORDER BY queue_position ASC
		FOR UPDATE`, string(day))
	if err != nil {
		return err
	}
	active := make([]uuid.UUID, 0, 16)
	activeSet := make(map[uuid.UUID]bool)
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		active = append(active, id)
		activeSet[id] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	var bad []uuid.UUID
	listed := make(map[uuid.UUID]bool, len(orderedIDs))
	for _, id := range orderedIDs {
		if !activeSet[id] || listed[id] {
			bad = append(bad, id)
			continue
		}
		listed[id] = true
	}
	if len(bad) > 0 {
		return &InvalidQueueStateError{IDs: bad}
	}

	// Listed entries take positions 1..k in the requested order; unlisted
	// active entries follow, keeping their previous relative order.
	final := make([]uuid.UUID, 0, len(active))
	final = append(final, orderedIDs...)
	for _, id := range active {
		if !listed[id] {
			final = append(final, id)
		}
	}
	for pos, id := range final {
		_, err := r.conn(ctx).Exec(ctx, `
			UPDATE appointment
			SET queue_position = $2, version_id = version_id + 1, updated_at = NOW()
			WHERE id = $1`, id, pos+1)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *repoPG) ListForDay(ctx context.Context, day Day, limit, offset int) ([]*Appointment, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM appointment
		WHERE `+dayScope,
		string(day)).Scan(&total); err != nil {
		return nil, 0, err
	}
	items, err := r.queryList(ctx, `
		SELECT `+appointmentCols+` FROM appointment
		WHERE `+dayScope+`
		ORDER BY created_at ASC
		LIMIT $2 OFFSET $3`, string(day), limit, offset)
	return items, total, err
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM appointment WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	items, err := r.queryList(ctx, `
		SELECT `+appointmentCols+` FROM appointment
		WHERE patient_id = $1
		ORDER BY scheduled_date DESC, created_at DESC
		LIMIT $2 OFFSET $3`, patientID, limit, offset)
	return items, total, err
}

func (r *repoPG) StatsForDay(ctx context.Context, day Day) (*Stats, error) {
	var s Stats
	var avg float64
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'checked-in'),
			COUNT(*) FILTER (WHERE status = 'in-progress'),
			COUNT(*) FILTER (WHERE status = 'completed'),
			COUNT(*) FILTER (WHERE status = 'cancelled'),
			COUNT(*) FILTER (WHERE status = 'no-show'),
			COUNT(*) FILTER (WHERE is_walk_in),
			COALESCE(AVG(EXTRACT(EPOCH FROM (end_at - start_at)) / 60)
				FILTER (WHERE status = 'completed' AND start_at IS NOT NULL AND end_at IS NOT NULL), 0)
		FROM appointment
		WHERE `+dayScope,
		string(day)).Scan(&s.Waiting, &s.InProgress, &s.Completed, &s.Cancelled, &s.NoShow, &s.WalkInCount, &avg)
	if err != nil {
		return nil, err
	}
	s.AvgServiceMinutes = int(math.Round(avg))
	return &s, nil
}

func (r *repoPG) ResetDay(ctx context.Context, day Day) (int, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE appointment
		SET status = 'scheduled', ticket_number = NULL, queue_position = NULL, queue_day = NULL,
			check_in_at = NULL, start_at = NULL, end_at = NULL,
			version_id = version_id + 1, updated_at = NOW()
		WHERE queue_day = $1 AND status IN ('checked-in','in-progress')`, string(day))
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}
