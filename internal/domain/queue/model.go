package queue

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of an appointment/queue entry.
type Status string

const (
	StatusScheduled   Status = "scheduled"
	StatusRescheduled Status = "rescheduled"
	StatusCheckedIn   Status = "checked-in"
	StatusInProgress  Status = "in-progress"
	StatusCompleted   Status = "completed"
	StatusCancelled   Status = "cancelled"
	StatusNoShow      Status = "no-show"
)

// Terminal reports whether the status can never be left again.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

// Active reports whether the entry counts toward the waiting line.
func (s Status) Active() bool {
	return s == StatusCheckedIn || s == StatusInProgress
}

// Day identifies one clinic day ("2006-01-02" in clinic-local time). Ticket
// numbers and queue positions are scoped to a Day.
type Day string

const dayLayout = "2006-01-02"

// DayOf returns the Day containing t in the given location. The day boundary
// is local midnight to local midnight.
func DayOf(t time.Time, loc *time.Location) Day {
	return Day(t.In(loc).Format(dayLayout))
}

// Appointment maps to the appointment table. It is the single unified entity
// behind scheduled visits and walk-in queue entries.
type Appointment struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	PatientID     uuid.UUID  `db:"patient_id" json:"patient_id"`
	ScheduledDate time.Time  `db:"scheduled_date" json:"scheduled_date"`
	ScheduledTime *string    `db:"scheduled_time" json:"scheduled_time,omitempty"`
	IsWalkIn      bool       `db:"is_walk_in" json:"is_walk_in"`
	Status        Status     `db:"status" json:"status"`
	TicketNumber  *int       `db:"ticket_number" json:"ticket_number,omitempty"`
	QueuePosition *int       `db:"queue_position" json:"queue_position,omitempty"`
	QueueDay      *Day       `db:"queue_day" json:"queue_day,omitempty"`
	CheckInAt     *time.Time `db:"check_in_at" json:"check_in_at,omitempty"`
	StartAt       *time.Time `db:"start_at" json:"start_at,omitempty"`
	EndAt         *time.Time `db:"end_at" json:"end_at,omitempty"`

	DiagnosisSummary *string `db:"diagnosis_summary" json:"diagnosis_summary,omitempty"`
	Notes            *string `db:"notes" json:"notes,omitempty"`

	// OriginalAppointmentID links an entry produced by rescheduling back to
	// the entry it replaces. Audit trail only; never dereferenced by the core.
	OriginalAppointmentID *uuid.UUID `db:"original_appointment_id" json:"original_appointment_id,omitempty"`

	VersionID int       `db:"version_id" json:"version_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// appendNote appends line to the entry's free-text notes.
func (a *Appointment) appendNote(line string) {
	if line == "" {
		return
	}
	if a.Notes == nil || *a.Notes == "" {
		a.Notes = &line
		return
	}
	joined := *a.Notes + "\n" + line
	a.Notes = &joined
}

// Stats is the daily queue summary returned by GET /queue/stats.
type Stats struct {
	Waiting           int `json:"waiting"`
	InProgress        int `json:"in_progress"`
	Completed         int `json:"completed"`
	Cancelled         int `json:"cancelled"`
	NoShow            int `json:"no_show"`
	WalkInCount       int `json:"walk_in_count"`
	AvgServiceMinutes int `json:"avg_service_minutes"`
	NextTicketNumber  int `json:"next_ticket_number"`
}
