package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/clinicdesk/clinicdesk/internal/platform/audit"
	"github.com/clinicdesk/clinicdesk/internal/platform/auth"
	"github.com/clinicdesk/clinicdesk/internal/platform/notification"
)

// PatientDirectory is the slice of the patient service the queue needs.
type PatientDirectory interface {
	Exists(ctx context.Context, id uuid.UUID) (bool, error)
}

// TxRunner executes fn atomically with respect to the backing store.
// db.Runner satisfies it in production; tests use a pass-through.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Service drives the appointment lifecycle. Every state change goes through
// the transition table in lifecycle.go, runs inside a transaction, and is
// retried once on a version conflict before the conflict is surfaced.
type Service struct {
	repo     Repository
	alloc    Allocator
	patients PatientDirectory
	tx       TxRunner
	loc      *time.Location

	auditLog *audit.Log
	notifier *notification.Notifier
	now      func() time.Time
}

func NewService(repo Repository, alloc Allocator, patients PatientDirectory, tx TxRunner, loc *time.Location) *Service {
	if loc == nil {
		loc = time.Local
	}
	return &Service{
		repo:     repo,
		alloc:    alloc,
		patients: patients,
		tx:       tx,
		loc:      loc,
		now:      time.Now,
	}
}

func (s *Service) WithAudit(l *audit.Log) *Service {
	s.auditLog = l
	return s
}

func (s *Service) WithNotifier(n *notification.Notifier) *Service {
	s.notifier = n
	return s
}

// Today returns the current clinic day.
func (s *Service) Today() Day {
	return DayOf(s.now(), s.loc)
}

func (s *Service) record(ctx context.Context, action string, resourceID uuid.UUID, err error) {
	if s.auditLog == nil {
		return
	}
	e := audit.Event{
		Actor:        auth.UserIDFromContext(ctx),
		Action:       action,
		ResourceType: "appointment",
		ResourceID:   resourceID.String(),
		Status:       "success",
	}
	if err != nil {
		e.Status = "failure"
		e.Detail = err.Error()
	}
	s.auditLog.Record(ctx, e)
}

func (s *Service) notifyRole(ctx context.Context, role, message string) {
	if s.notifier != nil {
		s.notifier.NotifyRole(ctx, role, message)
	}
}

// transition loads the entry, applies fn, and saves it under the version read,
// all in one transaction. A lost version race is retried once with a fresh
// read; if the retry loses too, ErrConcurrentModification reaches the caller.
func (s *Service) transition(ctx context.Context, id uuid.UUID, action string, fn func(ctx context.Context, a *Appointment) error) (*Appointment, error) {
	var out *Appointment
	attempt := func() error {
		return s.tx.InTx(ctx, func(ctx context.Context) error {
			a, err := s.repo.GetByID(ctx, id)
			if err != nil {
				return err
			}
			if err := fn(ctx, a); err != nil {
				return err
			}
			if err := s.repo.Save(ctx, a); err != nil {
				return err
			}
			out = a
			return nil
		})
	}
	err := attempt()
	if errors.Is(err, ErrConcurrentModification) {
		err = attempt()
	}
	s.record(ctx, action, id, err)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Schedule books a future visit. The entry starts in scheduled state with no
// queue presence until the patient checks in on the day.
func (s *Service) Schedule(ctx context.Context, patientID uuid.UUID, date time.Time, timeOfDay *string, notes *string) (*Appointment, error) {
	ok, err := s.patients.Exists(ctx, patientID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: patient %s", ErrNotFound, patientID)
	}
	a := &Appointment{
		ID:            uuid.New(),
		PatientID:     patientID,
		ScheduledDate: date,
		ScheduledTime: timeOfDay,
		Status:        StatusScheduled,
		Notes:         notes,
		VersionID:     1,
	}
	err = s.repo.Create(ctx, a)
	s.record(ctx, "schedule", a.ID, err)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// WalkIn registers an unscheduled visit: the entry is created and checked in
// as one atomic step, so a walk-in is never observable in scheduled state.
func (s *Service) WalkIn(ctx context.Context, patientID uuid.UUID, notes *string) (*Appointment, error) {
	ok, err := s.patients.Exists(ctx, patientID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: patient %s", ErrNotFound, patientID)
	}

	now := s.now()
	day := DayOf(now, s.loc)
	a := &Appointment{
		ID:            uuid.New(),
		PatientID:     patientID,
		ScheduledDate: startOfDay(now, s.loc),
		IsWalkIn:      true,
		Status:        StatusScheduled,
		Notes:         notes,
		VersionID:     1,
	}
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		ticket, err := s.alloc.NextTicket(ctx, day)
		if err != nil {
			return err
		}
		position, err := s.alloc.NextPosition(ctx, day)
		if err != nil {
			return err
		}
		if err := applyCheckIn(a, day, ticket, position, now); err != nil {
			return err
		}
		return s.repo.Create(ctx, a)
	})
	s.record(ctx, "walk-in", a.ID, err)
	if err != nil {
		return nil, err
	}
	s.notifyRole(ctx, "doctor", fmt.Sprintf("walk-in checked in, ticket %d", *a.TicketNumber))
	return a, nil
}

// CheckIn moves a scheduled entry into today's waiting line, assigning the
// next ticket number and queue position for the day.
func (s *Service) CheckIn(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	now := s.now()
	day := DayOf(now, s.loc)
	a, err := s.transition(ctx, id, "check-in", func(ctx context.Context, a *Appointment) error {
		// Guard before touching the allocator so an illegal transition
		// burns no numbers.
		if err := guard(a, OpCheckIn); err != nil {
			return err
		}
		// Re-checking in after a same-day reschedule keeps the numbers
		// already held.
		if a.QueueDay != nil && *a.QueueDay == day && a.TicketNumber != nil && a.QueuePosition != nil {
			return applyCheckIn(a, day, *a.TicketNumber, *a.QueuePosition, now)
		}
		ticket, err := s.alloc.NextTicket(ctx, day)
		if err != nil {
			return err
		}
		position, err := s.alloc.NextPosition(ctx, day)
		if err != nil {
			return err
		}
		return applyCheckIn(a, day, ticket, position, now)
	})
	if err != nil {
		return nil, err
	}
	s.notifyRole(ctx, "doctor", fmt.Sprintf("patient checked in, ticket %d", *a.TicketNumber))
	return a, nil
}

// Start marks the entry as being seen. Ticket and position are kept so the
// queue board can keep displaying them.
func (s *Service) Start(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	now := s.now()
	return s.transition(ctx, id, "start", func(_ context.Context, a *Appointment) error {
		return applyStart(a, now)
	})
}

// Complete closes the visit, optionally attaching a diagnosis summary and
// extra notes.
func (s *Service) Complete(ctx context.Context, id uuid.UUID, diagnosisSummary, notes *string) (*Appointment, error) {
	now := s.now()
	a, err := s.transition(ctx, id, "complete", func(_ context.Context, a *Appointment) error {
		return applyComplete(a, diagnosisSummary, notes, now)
	})
	if err != nil {
		return nil, err
	}
	s.notifyRole(ctx, "secretary", fmt.Sprintf("visit completed for ticket %s", ticketLabel(a)))
	return a, nil
}

// Cancel ends the entry without a visit. Legal from any non-terminal state,
// including mid-consultation.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, reason string) (*Appointment, error) {
	return s.transition(ctx, id, "cancel", func(_ context.Context, a *Appointment) error {
		return applyCancel(a, reason)
	})
}

// NoShow marks a scheduled patient who never arrived.
func (s *Service) NoShow(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, id, "no-show", func(_ context.Context, a *Appointment) error {
		return applyNoShow(a)
	})
}

// RescheduleResult carries both sides of a reschedule: the closed original and
// the fresh entry created for the new date.
type RescheduleResult struct {
	Original *Appointment `json:"original"`
	New      *Appointment `json:"new"`
}

// Reschedule closes the entry and creates a replacement for newDate in the
// same transaction. The replacement starts from scheduled with no queue state.
func (s *Service) Reschedule(ctx context.Context, id uuid.UUID, newDate time.Time, newTime *string, reason string) (*RescheduleResult, error) {
	now := s.now()
	var result *RescheduleResult
	attempt := func() error {
		return s.tx.InTx(ctx, func(ctx context.Context) error {
			a, err := s.repo.GetByID(ctx, id)
			if err != nil {
				return err
			}
			next, err := applyReschedule(a, newDate, newTime, reason, now)
			if err != nil {
				return err
			}
			if err := s.repo.Save(ctx, a); err != nil {
				return err
			}
			if err := s.repo.Create(ctx, next); err != nil {
				return err
			}
			result = &RescheduleResult{Original: a, New: next}
			return nil
		})
	}
	err := attempt()
	if errors.Is(err, ErrConcurrentModification) {
		err = attempt()
	}
	s.record(ctx, "reschedule", id, err)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Reorder rewrites today's queue positions and returns the resulting queue.
// All-or-nothing: one unknown or inactive id rejects the whole request.
func (s *Service) Reorder(ctx context.Context, orderedIDs []uuid.UUID) ([]*Appointment, error) {
	day := s.Today()
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		return s.repo.ReorderPositions(ctx, day, orderedIDs)
	})
	s.record(ctx, "reorder", uuid.Nil, err)
	if err != nil {
		return nil, err
	}
	return s.repo.ListActiveForDay(ctx, day)
}

// TodayQueue returns the live queue: in-progress first, then waiting patients
// by ascending position.
func (s *Service) TodayQueue(ctx context.Context) ([]*Appointment, error) {
	return s.repo.ListActiveForDay(ctx, s.Today())
}

// NextInLine returns the waiting entry that should be called next, or nil
// when the line is empty.
func (s *Service) NextInLine(ctx context.Context) (*Appointment, error) {
	return s.repo.NextInLine(ctx, s.Today())
}

// Stats summarizes the day, including the ticket number the next check-in
// would receive.
func (s *Service) Stats(ctx context.Context, day Day) (*Stats, error) {
	if day == "" {
		day = s.Today()
	}
	st, err := s.repo.StatsForDay(ctx, day)
	if err != nil {
		return nil, err
	}
	next, err := s.alloc.Peek(ctx, day)
	if err != nil {
		return nil, err
	}
	st.NextTicketNumber = next
	return st, nil
}

// ResetDay pushes the day's leftover active entries back to scheduled and
// clears the day's counters. Idempotent; safe to run more than once.
func (s *Service) ResetDay(ctx context.Context, day Day) (int, error) {
	if day == "" {
		day = s.Today()
	}
	var n int
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		n, err = s.repo.ResetDay(ctx, day)
		return err
	})
	if err == nil {
		err = s.alloc.Reset(ctx, day)
	}
	s.record(ctx, "queue-reset", uuid.Nil, err)
	if err != nil {
		return n, err
	}
	return n, nil
}

// ListForDay returns every entry touching the given day, regardless of status.
func (s *Service) ListForDay(ctx context.Context, day Day, limit, offset int) ([]*Appointment, int, error) {
	if day == "" {
		day = s.Today()
	}
	return s.repo.ListForDay(ctx, day, limit, offset)
}

// History returns the patient's appointment history, newest first.
func (s *Service) History(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}

// Get returns a single entry.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.repo.GetByID(ctx, id)
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

func ticketLabel(a *Appointment) string {
	if a.TicketNumber == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *a.TicketNumber)
}
