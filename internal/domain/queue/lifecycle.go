package queue

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Op is a lifecycle operation requested against an appointment.
type Op string

const (
	OpCheckIn    Op = "check-in"
	OpStart      Op = "start"
	OpComplete   Op = "complete"
	OpCancel     Op = "cancel"
	OpNoShow     Op = "no-show"
	OpReschedule Op = "reschedule"
)

// validFrom is the single source of truth for the lifecycle. An operation is
// legal only from the statuses listed here; everything else is rejected with
// InvalidTransitionError, including repeats of an already-applied operation.
var validFrom = map[Op][]Status{
	OpCheckIn:    {StatusScheduled, StatusRescheduled},
	OpStart:      {StatusCheckedIn},
	OpComplete:   {StatusInProgress},
	OpCancel:     {StatusScheduled, StatusRescheduled, StatusCheckedIn, StatusInProgress},
	OpNoShow:     {StatusScheduled, StatusRescheduled},
	OpReschedule: {StatusScheduled, StatusRescheduled, StatusCheckedIn, StatusInProgress},
}

// CanApply reports whether op is legal from the given status.
func CanApply(op Op, from Status) bool {
	for _, s := range validFrom[op] {
		if s == from {
			return true
		}
	}
	return false
}

func guard(a *Appointment, op Op) error {
	if !CanApply(op, a.Status) {
		return &InvalidTransitionError{Current: a.Status, Requested: op}
	}
	return nil
}

// applyCheckIn moves the entry into the waiting line. Ticket number and queue
// position are assigned by the caller (they come from the day-scoped
// allocator, not from this package). An entry that already holds numbers from
// an earlier check-in the same day keeps them.
func applyCheckIn(a *Appointment, day Day, ticket, position int, now time.Time) error {
	if err := guard(a, OpCheckIn); err != nil {
		return err
	}
	sameDay := a.QueueDay != nil && *a.QueueDay == day
	a.Status = StatusCheckedIn
	a.QueueDay = &day
	if a.TicketNumber == nil || !sameDay {
		a.TicketNumber = &ticket
	}
	if a.QueuePosition == nil || !sameDay {
		a.QueuePosition = &position
	}
	a.CheckInAt = &now
	return nil
}

func applyStart(a *Appointment, now time.Time) error {
	if err := guard(a, OpStart); err != nil {
		return err
	}
	a.Status = StatusInProgress
	a.StartAt = &now
	return nil
}

func applyComplete(a *Appointment, diagnosisSummary, notes *string, now time.Time) error {
	if err := guard(a, OpComplete); err != nil {
		return err
	}
	a.Status = StatusCompleted
	a.EndAt = &now
	if diagnosisSummary != nil {
		a.DiagnosisSummary = diagnosisSummary
	}
	if notes != nil {
		a.appendNote(*notes)
	}
	return nil
}

func applyCancel(a *Appointment, reason string) error {
	if err := guard(a, OpCancel); err != nil {
		return err
	}
	a.Status = StatusCancelled
	if reason != "" {
		a.appendNote("cancelled: " + reason)
	}
	return nil
}

func applyNoShow(a *Appointment) error {
	if err := guard(a, OpNoShow); err != nil {
		return err
	}
	a.Status = StatusNoShow
	return nil
}

// applyReschedule closes the current entry and returns the replacement entry
// for the new date. The replacement starts its lifecycle over from scratch:
// fresh id, status scheduled, no ticket, no position, version 1.
func applyReschedule(a *Appointment, newDate time.Time, newTime *string, reason string, now time.Time) (*Appointment, error) {
	if err := guard(a, OpReschedule); err != nil {
		return nil, err
	}
	// Carry the clinical fields as they stood before the reschedule notes.
	var carriedNotes *string
	if a.Notes != nil {
		n := *a.Notes
		carriedNotes = &n
	}
	a.Status = StatusRescheduled
	a.appendNote(fmt.Sprintf("rescheduled to %s", newDate.Format(dayLayout)))
	if reason != "" {
		a.appendNote("reschedule reason: " + reason)
	}

	origID := a.ID
	next := &Appointment{
		ID:                    uuid.New(),
		PatientID:             a.PatientID,
		ScheduledDate:         newDate,
		ScheduledTime:         newTime,
		IsWalkIn:              a.IsWalkIn,
		Status:                StatusScheduled,
		DiagnosisSummary:      a.DiagnosisSummary,
		Notes:                 carriedNotes,
		OriginalAppointmentID: &origID,
		VersionID:             1,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	return next, nil
}
