package records

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicdesk/clinicdesk/internal/platform/db"
)

type diagnosisRepoPG struct{ pool *pgxpool.Pool }

func NewDiagnosisRepoPG(pool *pgxpool.Pool) DiagnosisRepository { return &diagnosisRepoPG{pool: pool} }

func (r *diagnosisRepoPG) conn(ctx context.Context) db.Querier {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const diagnosisCols = `id, patient_id, appointment_id, code, description, diagnosed_at, recorded_by,
	created_at, updated_at`

func scanDiagnosis(row pgx.Row) (*Diagnosis, error) {
	var d Diagnosis
	err := row.Scan(&d.ID, &d.PatientID, &d.AppointmentID, &d.Code, &d.Description,
		&d.DiagnosedAt, &d.RecordedBy, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *diagnosisRepoPG) Create(ctx context.Context, d *Diagnosis) error {
	d.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO diagnosis (id, patient_id, appointment_id, code, description, diagnosed_at, recorded_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		d.ID, d.PatientID, d.AppointmentID, d.Code, d.Description, d.DiagnosedAt, d.RecordedBy)
	return err
}

func (r *diagnosisRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Diagnosis, error) {
	return scanDiagnosis(r.conn(ctx).QueryRow(ctx,
		`SELECT `+diagnosisCols+` FROM diagnosis WHERE id = $1`, id))
}

func (r *diagnosisRepoPG) Update(ctx context.Context, d *Diagnosis) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE diagnosis SET code=$2, description=$3, diagnosed_at=$4, updated_at=NOW()
		WHERE id = $1`,
		d.ID, d.Code, d.Description, d.DiagnosedAt)
	return err
}

func (r *diagnosisRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM diagnosis WHERE id = $1`, id)
	return err
}

func (r *diagnosisRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Diagnosis, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM diagnosis WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+diagnosisCols+` FROM diagnosis WHERE patient_id = $1
		ORDER BY diagnosed_at DESC LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Diagnosis
	for rows.Next() {
		d, err := scanDiagnosis(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, d)
	}
	return items, total, rows.Err()
}

type noteRepoPG struct{ pool *pgxpool.Pool }

func NewNoteRepoPG(pool *pgxpool.Pool) NoteRepository { return &noteRepoPG{pool: pool} }

func (r *noteRepoPG) conn(ctx context.Context) db.Querier {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const noteCols = `id, patient_id, appointment_id, author, body, created_at, updated_at`

func scanNote(row pgx.Row) (*ClinicalNote, error) {
	var n ClinicalNote
	err := row.Scan(&n.ID, &n.PatientID, &n.AppointmentID, &n.Author, &n.Body, &n.CreatedAt, &n.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func (r *noteRepoPG) Create(ctx context.Context, n *ClinicalNote) error {
	n.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO clinical_note (id, patient_id, appointment_id, author, body)
		VALUES ($1,$2,$3,$4,$5)`,
		n.ID, n.PatientID, n.AppointmentID, n.Author, n.Body)
	return err
}

func (r *noteRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*ClinicalNote, error) {
	return scanNote(r.conn(ctx).QueryRow(ctx,
		`SELECT `+noteCols+` FROM clinical_note WHERE id = $1`, id))
}

func (r *noteRepoPG) Update(ctx context.Context, n *ClinicalNote) error {
	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE clinical_note SET body=$2, updated_at=NOW() WHERE id = $1`, n.ID, n.Body)
	return err
}

func (r *noteRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM clinical_note WHERE id = $1`, id)
	return err
}

func (r *noteRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*ClinicalNote, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM clinical_note WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+noteCols+` FROM clinical_note WHERE patient_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*ClinicalNote
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, n)
	}
	return items, total, rows.Err()
}
