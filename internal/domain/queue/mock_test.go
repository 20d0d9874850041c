package queue

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// memRepo mirrors the Postgres repository semantics in memory, including the
// version compare-and-swap, so service behavior can be tested without a
// database.
type memRepo struct {
	mu    sync.Mutex
	items map[uuid.UUID]*Appointment
}

func newMemRepo() *memRepo {
	return &memRepo{items: make(map[uuid.UUID]*Appointment)}
}

func clone(a *Appointment) *Appointment {
	cp := *a
	return &cp
}

func (m *memRepo) Create(_ context.Context, a *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.VersionID == 0 {
		a.VersionID = 1
	}
	m.items[a.ID] = clone(a)
	return nil
}

func (m *memRepo) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(a), nil
}

func (m *memRepo) Save(_ context.Context, a *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.items[a.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.VersionID != a.VersionID {
		return ErrConcurrentModification
	}
	a.VersionID++
	m.items[a.ID] = clone(a)
	return nil
}

func (m *memRepo) activeForDay(day Day) []*Appointment {
	var out []*Appointment
	for _, a := range m.items {
		if a.QueueDay != nil && *a.QueueDay == day && a.Status.Active() {
			out = append(out, clone(a))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		pi, pj := 1, 1
		if out[i].Status == StatusInProgress {
			pi = 0
		}
		if out[j].Status == StatusInProgress {
			pj = 0
		}
		if pi != pj {
			return pi < pj
		}
		return *out[i].QueuePosition < *out[j].QueuePosition
	})
	return out
}

func (m *memRepo) ListActiveForDay(_ context.Context, day Day) ([]*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeForDay(day), nil
}

func (m *memRepo) NextInLine(_ context.Context, day Day) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *Appointment
	for _, a := range m.items {
		if a.QueueDay == nil || *a.QueueDay != day || a.Status != StatusCheckedIn {
			continue
		}
		if best == nil || *a.QueuePosition < *best.QueuePosition {
			best = a
		}
	}
	if best == nil {
		return nil, nil
	}
	return clone(best), nil
}

func (m *memRepo) ReorderPositions(_ context.Context, day Day, orderedIDs []uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	active := m.activeForDay(day)
	sort.Slice(active, func(i, j int) bool { return *active[i].QueuePosition < *active[j].QueuePosition })
	activeSet := make(map[uuid.UUID]bool, len(active))
	for _, a := range active {
		activeSet[a.ID] = true
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

	final := append([]uuid.UUID(nil), orderedIDs...)
	for _, a := range active {
		if !listed[a.ID] {
			final = append(final, a.ID)
		}
	}
	for pos, id := range final {
		p := pos + 1
		m.items[id].QueuePosition = &p
		m.items[id].VersionID++
	}
	return nil
}

func (m *memRepo) forDay(day Day) []*Appointment {
	var out []*Appointment
	for _, a := range m.items {
		d := Day(a.ScheduledDate.Format(dayLayout))
		if a.QueueDay != nil {
			d = *a.QueueDay
		}
		if d == day {
			out = append(out, clone(a))
		}
	}
	return out
}

func (m *memRepo) ListForDay(_ context.Context, day Day, limit, offset int) ([]*Appointment, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.forDay(day)
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	total := len(out)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return out[offset:end], total, nil
}

func (m *memRepo) ListByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Appointment
	for _, a := range m.items {
		if a.PatientID == patientID {
			out = append(out, clone(a))
		}
	}
	return out, len(out), nil
}

func (m *memRepo) StatsForDay(_ context.Context, day Day) (*Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var s Stats
	var sumMinutes float64
	var served int
	for _, a := range m.forDay(day) {
		switch a.Status {
		case StatusCheckedIn:
			s.Waiting++
		case StatusInProgress:
			s.InProgress++
		case StatusCompleted:
			s.Completed++
			if a.StartAt != nil && a.EndAt != nil {
				sumMinutes += a.EndAt.Sub(*a.StartAt).Minutes()
				served++
			}
		case StatusCancelled:
			s.Cancelled++
		case StatusNoShow:
			s.NoShow++
		}
		if a.IsWalkIn {
			s.WalkInCount++
		}
	}
	if served > 0 {
		s.AvgServiceMinutes = int(math.Round(sumMinutes / float64(served)))
	}
	return &s, nil
}

func (m *memRepo) ResetDay(_ context.Context, day Day) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, a := range m.items {
		if a.QueueDay != nil && *a.QueueDay == day && a.Status.Active() {
			a.Status = StatusScheduled
			a.TicketNumber = nil
			a.QueuePosition = nil
			a.QueueDay = nil
			a.CheckInAt = nil
			a.StartAt = nil
			a.EndAt = nil
			a.VersionID++
			n++
		}
	}
	return n, nil
}

// memAlloc is a mutex-guarded counter allocator.
type memAlloc struct {
	mu        sync.Mutex
	tickets   map[Day]int
	positions map[Day]int
	fail      bool
}

func newMemAlloc() *memAlloc {
	return &memAlloc{tickets: make(map[Day]int), positions: make(map[Day]int)}
}

func (m *memAlloc) NextTicket(_ context.Context, day Day) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return 0, ErrAllocationUnavailable
	}
	m.tickets[day]++
	return m.tickets[day], nil
}

func (m *memAlloc) NextPosition(_ context.Context, day Day) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return 0, ErrAllocationUnavailable
	}
	m.positions[day]++
	return m.positions[day], nil
}

func (m *memAlloc) Peek(_ context.Context, day Day) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tickets[day] + 1, nil
}

func (m *memAlloc) Reset(_ context.Context, day Day) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tickets, day)
	delete(m.positions, day)
	return nil
}

// passTx runs the function directly; the in-memory repo is its own unit of
// atomicity.
type passTx struct{}

func (passTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// knownPatients answers Exists from a fixed set.
type knownPatients map[uuid.UUID]bool

func (k knownPatients) Exists(_ context.Context, id uuid.UUID) (bool, error) {
	return k[id], nil
}
