package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

func newTestService(patientIDs ...uuid.UUID) (*Service, *memRepo, *memAlloc) {
	repo := newMemRepo()
	alloc := newMemAlloc()
	known := knownPatients{}
	for _, id := range patientIDs {
		known[id] = true
	}
	svc := NewService(repo, alloc, known, passTx{}, time.UTC)
	return svc, repo, alloc
}

func scheduledEntry(t *testing.T, repo *memRepo, patientID uuid.UUID, date time.Time) *Appointment {
	t.Helper()
	a := &Appointment{
		ID:            uuid.New(),
		PatientID:     patientID,
		ScheduledDate: date,
		Status:        StatusScheduled,
		VersionID:     1,
		CreatedAt:     time.Now(),
	}
	if err := repo.Create(context.Background(), a); err != nil {
		t.Fatalf("seed entry: %v", err)
	}
	return a
}

func TestWalkIn(t *testing.T) {
	ctx := context.Background()
	p1, p2 := uuid.New(), uuid.New()
	svc, _, _ := newTestService(p1, p2)

	a, err := svc.WalkIn(ctx, p1, nil)
	if err != nil {
		t.Fatalf("walk-in: %v", err)
	}
	b, err := svc.WalkIn(ctx, p2, nil)
	if err != nil {
		t.Fatalf("walk-in: %v", err)
	}

	if a.Status != StatusCheckedIn || b.Status != StatusCheckedIn {
		t.Errorf("statuses = %s, %s, want checked-in", a.Status, b.Status)
	}
	if !a.IsWalkIn || !b.IsWalkIn {
		t.Error("entries should be flagged walk-in")
	}
	if *a.TicketNumber != 1 || *b.TicketNumber != 2 {
		t.Errorf("tickets = %d, %d, want 1, 2", *a.TicketNumber, *b.TicketNumber)
	}
	if *a.QueuePosition != 1 || *b.QueuePosition != 2 {
		t.Errorf("positions = %d, %d, want 1, 2", *a.QueuePosition, *b.QueuePosition)
	}
}

func TestWalkIn_UnknownPatient(t *testing.T) {
	svc, repo, _ := newTestService()
	_, err := svc.WalkIn(context.Background(), uuid.New(), nil)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if len(repo.items) != 0 {
		t.Error("no entry should be created for an unknown patient")
	}
}

func TestScheduledVisitFlow(t *testing.T) {
	ctx := context.Background()
	p := uuid.New()
	svc, repo, _ := newTestService(p)
	entry := scheduledEntry(t, repo, p, svc.now())

	a, err := svc.CheckIn(ctx, entry.ID)
	if err != nil {
		t.Fatalf("check-in: %v", err)
	}
	if *a.TicketNumber != 1 || *a.QueuePosition != 1 {
		t.Errorf("ticket/position = %d/%d, want 1/1", *a.TicketNumber, *a.QueuePosition)
	}

	a, err = svc.Start(ctx, entry.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if a.Status != StatusInProgress || a.StartAt == nil {
		t.Errorf("after start: status=%s startAt=%v", a.Status, a.StartAt)
	}

	summary := "acute pharyngitis"
	a, err = svc.Complete(ctx, entry.ID, &summary, nil)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if a.Status != StatusCompleted || a.EndAt == nil {
		t.Errorf("after complete: status=%s endAt=%v", a.Status, a.EndAt)
	}
	if *a.DiagnosisSummary != summary {
		t.Errorf("diagnosis = %q", *a.DiagnosisSummary)
	}
}

func TestCheckInTwiceBurnsNoTicket(t *testing.T) {
	ctx := context.Background()
	p := uuid.New()
	svc, repo, alloc := newTestService(p)
	entry := scheduledEntry(t, repo, p, svc.now())

	if _, err := svc.CheckIn(ctx, entry.ID); err != nil {
		t.Fatalf("check-in: %v", err)
	}
	_, err := svc.CheckIn(ctx, entry.ID)
	var ite *InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("err = %v, want InvalidTransitionError", err)
	}
	if alloc.tickets[svc.Today()] != 1 {
		t.Errorf("ticket counter = %d, want 1: rejected check-in must not allocate", alloc.tickets[svc.Today()])
	}
}

func TestQueueOrderingAndNext(t *testing.T) {
	ctx := context.Background()
	p1, p2, p3 := uuid.New(), uuid.New(), uuid.New()
	svc, _, _ := newTestService(p1, p2, p3)

	a, _ := svc.WalkIn(ctx, p1, nil)
	b, _ := svc.WalkIn(ctx, p2, nil)
	c, _ := svc.WalkIn(ctx, p3, nil)

	if _, err := svc.Start(ctx, b.ID); err != nil {
		t.Fatalf("start: %v", err)
	}

	queue, err := svc.TodayQueue(ctx)
	if err != nil {
		t.Fatalf("today: %v", err)
	}
	if len(queue) != 3 {
		t.Fatalf("queue length = %d, want 3", len(queue))
	}
	// In-progress first, waiting entries by position after it.
	if queue[0].ID != b.ID || queue[1].ID != a.ID || queue[2].ID != c.ID {
		t.Errorf("queue order = %v, %v, %v; want b, a, c", queue[0].ID, queue[1].ID, queue[2].ID)
	}

	next, err := svc.NextInLine(ctx)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if next == nil || next.ID != a.ID {
		t.Errorf("next = %v, want the lowest-position waiting entry", next)
	}
}

// Two walk-ins, one consultation, a front-of-line bump, then the next patient
// is called. Exercises the whole desk flow end to end.
func TestWalkInDayScenario(t *testing.T) {
	ctx := context.Background()
	pa, pb := uuid.New(), uuid.New()
	svc, _, _ := newTestService(pa, pb)

	a, err := svc.WalkIn(ctx, pa, nil)
	if err != nil {
		t.Fatalf("walk-in A: %v", err)
	}
	b, err := svc.WalkIn(ctx, pb, nil)
	if err != nil {
		t.Fatalf("walk-in B: %v", err)
	}
	if *a.TicketNumber != 1 || *b.TicketNumber != 2 {
		t.Fatalf("tickets = %d, %d", *a.TicketNumber, *b.TicketNumber)
	}

	if _, err := svc.Start(ctx, a.ID); err != nil {
		t.Fatalf("start A: %v", err)
	}
	queue, err := svc.Reorder(ctx, []uuid.UUID{b.ID})
	if err != nil {
		t.Fatalf("reorder: %v", err)
	}
	// A is in consultation and sorts first regardless of position.
	if queue[0].ID != a.ID || queue[1].ID != b.ID {
		t.Errorf("queue after reorder = %v, %v; want A then B", queue[0].ID, queue[1].ID)
	}

	if _, err := svc.Complete(ctx, a.ID, nil, nil); err != nil {
		t.Fatalf("complete A: %v", err)
	}
	queue, _ = svc.TodayQueue(ctx)
	if len(queue) != 1 || queue[0].ID != b.ID {
		t.Errorf("completed entry must leave the active queue")
	}
	next, err := svc.NextInLine(ctx)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if next == nil || next.ID != b.ID {
		t.Errorf("next = %v, want B", next)
	}
}

func TestReorder(t *testing.T) {
	ctx := context.Background()
	p1, p2, p3 := uuid.New(), uuid.New(), uuid.New()
	svc, _, _ := newTestService(p1, p2, p3)

	a, _ := svc.WalkIn(ctx, p1, nil)
	b, _ := svc.WalkIn(ctx, p2, nil)
	c, _ := svc.WalkIn(ctx, p3, nil)

	// Move c to the front; b is unlisted and keeps its relative order after
	// the listed entries.
	queue, err := svc.Reorder(ctx, []uuid.UUID{c.ID, a.ID})
	if err != nil {
		t.Fatalf("reorder: %v", err)
	}
	if queue[0].ID != c.ID || queue[1].ID != a.ID || queue[2].ID != b.ID {
		t.Errorf("order after reorder = %v, %v, %v; want c, a, b", queue[0].ID, queue[1].ID, queue[2].ID)
	}
	for i, entry := range queue {
		if *entry.QueuePosition != i+1 {
			t.Errorf("position[%d] = %d, want %d", i, *entry.QueuePosition, i+1)
		}
	}
}

func TestReorderRejectsUnknownID(t *testing.T) {
	ctx := context.Background()
	p1, p2 := uuid.New(), uuid.New()
	svc, _, _ := newTestService(p1, p2)

	a, _ := svc.WalkIn(ctx, p1, nil)
	b, _ := svc.WalkIn(ctx, p2, nil)

	_, err := svc.Reorder(ctx, []uuid.UUID{b.ID, uuid.New()})
	var qse *InvalidQueueStateError
	if !errors.As(err, &qse) {
		t.Fatalf("err = %v, want InvalidQueueStateError", err)
	}

	// Nothing moved.
	queue, _ := svc.TodayQueue(ctx)
	if queue[0].ID != a.ID || queue[1].ID != b.ID {
		t.Error("rejected reorder must leave positions untouched")
	}
	if *queue[0].QueuePosition != 1 || *queue[1].QueuePosition != 2 {
		t.Error("rejected reorder must leave position values untouched")
	}
}

func TestConcurrentWalkInsAssignUniqueNumbers(t *testing.T) {
	ctx := context.Background()
	const n = 25
	ids := make([]uuid.UUID, n)
	for i := range ids {
		ids[i] = uuid.New()
	}
	svc, _, _ := newTestService(ids...)

	var wg sync.WaitGroup
	results := make([]*Appointment, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, err := svc.WalkIn(ctx, ids[i], nil)
			if err != nil {
				t.Errorf("walk-in %d: %v", i, err)
				return
			}
			results[i] = a
		}(i)
	}
	wg.Wait()

	tickets := make(map[int]bool, n)
	positions := make(map[int]bool, n)
	for _, a := range results {
		if a == nil {
			t.Fatal("missing result")
		}
		if tickets[*a.TicketNumber] {
			t.Errorf("duplicate ticket %d", *a.TicketNumber)
		}
		if positions[*a.QueuePosition] {
			t.Errorf("duplicate position %d", *a.QueuePosition)
		}
		tickets[*a.TicketNumber] = true
		positions[*a.QueuePosition] = true
	}
	for i := 1; i <= n; i++ {
		if !tickets[i] {
			t.Errorf("ticket %d missing: sequence must be gapless from 1", i)
		}
		if !positions[i] {
			t.Errorf("position %d missing: sequence must be gapless from 1", i)
		}
	}
}

// conflictOnce makes the first Save lose the version race.
type conflictOnce struct {
	Repository
	once sync.Once
}

func (c *conflictOnce) Save(ctx context.Context, a *Appointment) error {
	var failed bool
	c.once.Do(func() { failed = true })
	if failed {
		return ErrConcurrentModification
	}
	return c.Repository.Save(ctx, a)
}

func TestTransitionRetriesOnceOnConflict(t *testing.T) {
	ctx := context.Background()
	p := uuid.New()
	repo := newMemRepo()
	svc := NewService(&conflictOnce{Repository: repo}, newMemAlloc(), knownPatients{p: true}, passTx{}, time.UTC)
	entry := scheduledEntry(t, repo, p, svc.now())

	a, err := svc.CheckIn(ctx, entry.ID)
	if err != nil {
		t.Fatalf("check-in should survive a single version race: %v", err)
	}
	if a.Status != StatusCheckedIn {
		t.Errorf("status = %s, want checked-in", a.Status)
	}
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	p1, p2 := uuid.New(), uuid.New()
	svc, _, _ := newTestService(p1, p2)

	base := time.Date(2026, 8, 29, 9, 0, 0, 0, time.UTC)
	clock := base
	svc.now = func() time.Time { return clock }

	a, _ := svc.WalkIn(ctx, p1, nil)
	svc.WalkIn(ctx, p2, nil)

	svc.Start(ctx, a.ID)
	clock = clock.Add(12 * time.Minute)
	if _, err := svc.Complete(ctx, a.ID, nil, nil); err != nil {
		t.Fatalf("complete: %v", err)
	}

	stats, err := svc.Stats(ctx, "")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Waiting != 1 || stats.InProgress != 0 || stats.Completed != 1 {
		t.Errorf("counts = %+v", stats)
	}
	if stats.WalkInCount != 2 {
		t.Errorf("walk-in count = %d, want 2", stats.WalkInCount)
	}
	if stats.AvgServiceMinutes != 12 {
		t.Errorf("avg service minutes = %d, want 12", stats.AvgServiceMinutes)
	}
	if stats.NextTicketNumber != 3 {
		t.Errorf("next ticket = %d, want 3", stats.NextTicketNumber)
	}
}

func TestResetDayAndRollover(t *testing.T) {
	ctx := context.Background()
	p1, p2 := uuid.New(), uuid.New()
	svc, _, _ := newTestService(p1, p2)

	day1 := time.Date(2026, 8, 29, 18, 0, 0, 0, time.UTC)
	clock := day1
	svc.now = func() time.Time { return clock }

	a, _ := svc.WalkIn(ctx, p1, nil)
	svc.WalkIn(ctx, p2, nil)

	n, err := svc.ResetDay(ctx, DayOf(day1, time.UTC))
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if n != 2 {
		t.Errorf("reset count = %d, want 2", n)
	}

	got, _ := svc.Get(ctx, a.ID)
	if got.Status != StatusScheduled || got.TicketNumber != nil || got.QueuePosition != nil {
		t.Errorf("after reset: status=%s ticket=%v position=%v", got.Status, got.TicketNumber, got.QueuePosition)
	}

	// Second reset finds nothing.
	n, err = svc.ResetDay(ctx, DayOf(day1, time.UTC))
	if err != nil || n != 0 {
		t.Errorf("second reset = (%d, %v), want (0, nil)", n, err)
	}

	// Next day starts back at ticket 1.
	clock = day1.AddDate(0, 0, 1)
	b, err := svc.WalkIn(ctx, p2, nil)
	if err != nil {
		t.Fatalf("next-day walk-in: %v", err)
	}
	if *b.TicketNumber != 1 || *b.QueuePosition != 1 {
		t.Errorf("next-day ticket/position = %d/%d, want 1/1", *b.TicketNumber, *b.QueuePosition)
	}
}

func TestWalkInAllocationUnavailable(t *testing.T) {
	p := uuid.New()
	svc, repo, alloc := newTestService(p)
	alloc.fail = true

	_, err := svc.WalkIn(context.Background(), p, nil)
	if !errors.Is(err, ErrAllocationUnavailable) {
		t.Fatalf("err = %v, want ErrAllocationUnavailable", err)
	}
	if len(repo.items) != 0 {
		t.Error("no entry may exist without real allocated numbers")
	}
}

func TestSchedule(t *testing.T) {
	ctx := context.Background()
	p := uuid.New()
	svc, _, alloc := newTestService(p)

	a, err := svc.Schedule(ctx, p, svc.now().AddDate(0, 0, 2), nil, nil)
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if a.Status != StatusScheduled || a.TicketNumber != nil || a.QueuePosition != nil {
		t.Errorf("booked entry must hold no queue state: %+v", a)
	}
	if len(alloc.tickets) != 0 {
		t.Error("booking must not touch the allocator")
	}

	if _, err := svc.Schedule(ctx, uuid.New(), svc.now(), nil, nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound for unknown patient", err)
	}
}

func TestRecheckInAfterSameDayRescheduleKeepsNumbers(t *testing.T) {
	ctx := context.Background()
	p := uuid.New()
	svc, _, alloc := newTestService(p)

	a, err := svc.WalkIn(ctx, p, nil)
	if err != nil {
		t.Fatalf("walk-in: %v", err)
	}
	ticket, position := *a.TicketNumber, *a.QueuePosition

	if _, err := svc.Reschedule(ctx, a.ID, svc.now(), nil, "stepped out"); err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	back, err := svc.CheckIn(ctx, a.ID)
	if err != nil {
		t.Fatalf("re-check-in: %v", err)
	}
	if *back.TicketNumber != ticket || *back.QueuePosition != position {
		t.Errorf("numbers changed: %d/%d -> %d/%d", ticket, position, *back.TicketNumber, *back.QueuePosition)
	}
	if alloc.tickets[svc.Today()] != 1 {
		t.Errorf("re-check-in must not burn a ticket, counter = %d", alloc.tickets[svc.Today()])
	}
}

func TestRescheduleService(t *testing.T) {
	ctx := context.Background()
	p := uuid.New()
	svc, repo, _ := newTestService(p)
	entry := scheduledEntry(t, repo, p, svc.now())

	newDate := svc.now().AddDate(0, 0, 3)
	result, err := svc.Reschedule(ctx, entry.ID, newDate, nil, "fever resolved")
	if err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	if result.Original.Status != StatusRescheduled {
		t.Errorf("original status = %s", result.Original.Status)
	}
	if result.New.Status != StatusScheduled {
		t.Errorf("new status = %s", result.New.Status)
	}

	stored, err := svc.Get(ctx, result.New.ID)
	if err != nil {
		t.Fatalf("replacement not persisted: %v", err)
	}
	if stored.OriginalAppointmentID == nil || *stored.OriginalAppointmentID != entry.ID {
		t.Error("replacement must link back to the original")
	}
}
