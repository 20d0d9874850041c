package records

import (
	"time"

	"github.com/google/uuid"
)

// Diagnosis is a coded or free-text diagnosis attached to a patient, usually
// recorded when a visit completes.
type Diagnosis struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	PatientID     uuid.UUID  `db:"patient_id" json:"patient_id"`
	AppointmentID *uuid.UUID `db:"appointment_id" json:"appointment_id,omitempty"`
	Code          *string    `db:"code" json:"code,omitempty"` // ICD-10 when available
	Description   string     `db:"description" json:"description"`
	DiagnosedAt   time.Time  `db:"diagnosed_at" json:"diagnosed_at"`
	RecordedBy    string     `db:"recorded_by" json:"recorded_by"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}

// ClinicalNote is free-text documentation of a visit or observation.
type ClinicalNote struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	PatientID     uuid.UUID  `db:"patient_id" json:"patient_id"`
	AppointmentID *uuid.UUID `db:"appointment_id" json:"appointment_id,omitempty"`
	Author        string     `db:"author" json:"author"`
	Body          string     `db:"body" json:"body"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}
