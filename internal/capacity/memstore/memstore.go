// Package memstore is an in-memory capacity.Store. It backs service tests
// and local experiments; it is not meant for production traffic.
package memstore

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-capacity-engine/internal/capacity"
)

type txKey struct{}

type state struct {
	patients     map[uuid.UUID]capacity.Patient
	slots        map[uuid.UUID]capacity.Slot
	appointments map[uuid.UUID]capacity.Appointment
	queue        map[uuid.UUID]capacity.QueueEntry
	priorities   map[uuid.UUID]capacity.PriorityRecord
	alerts       []capacity.PriorityAlert
	resolutions  []capacity.ConflictResolution
	batches      map[uuid.UUID]capacity.Batch
	holidays     map[time.Time]bool
	events       []capacity.EventLog
}

func newState() state {
	return state{
		patients:     map[uuid.UUID]capacity.Patient{},
		slots:        map[uuid.UUID]capacity.Slot{},
		appointments: map[uuid.UUID]capacity.Appointment{},
		queue:        map[uuid.UUID]capacity.QueueEntry{},
		priorities:   map[uuid.UUID]capacity.PriorityRecord{},
		batches:      map[uuid.UUID]capacity.Batch{},
		holidays:     map[time.Time]bool{},
	}
}

func (s state) clone() state {
	c := newState()
	for k, v := range s.patients {
		c.patients[k] = v
	}
	for k, v := range s.slots {
		c.slots[k] = v
	}
	for k, v := range s.appointments {
		c.appointments[k] = v
	}
	for k, v := range s.queue {
		c.queue[k] = v
	}
	for k, v := range s.priorities {
		c.priorities[k] = v
	}
	for k, v := range s.batches {
		c.batches[k] = v
	}
	for k, v := range s.holidays {
		c.holidays[k] = v
	}
	c.alerts = append([]capacity.PriorityAlert(nil), s.alerts...)
	c.resolutions = append([]capacity.ConflictResolution(nil), s.resolutions...)
	c.events = append([]capacity.EventLog(nil), s.events...)
	return c
}

// Store keeps every record in maps guarded by one mutex. Transactions are
// serialized and restore a snapshot when fn fails.
type Store struct {
	txMu sync.Mutex
	mu   sync.Mutex
	st   state
	last time.Time

	// FailOn makes the named operation return the error, for rollback tests.
	FailOn map[string]error
}

var _ capacity.Store = (*Store)(nil)

func New() *Store {
	return &Store{st: newState(), FailOn: map[string]error{}}
}

func (m *Store) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}

	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.Lock()
	snapshot := m.st.clone()
	m.mu.Unlock()

	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		m.mu.Lock()
		m.st = snapshot
		m.mu.Unlock()
		return err
	}
	return nil
}

// now is strictly increasing so creation order is total.
func (m *Store) now() time.Time {
	t := time.Now().UTC().Truncate(time.Microsecond)
	if !t.After(m.last) {
		t = m.last.Add(time.Microsecond)
	}
	m.last = t
	return t
}

func (m *Store) fail(op string) error {
	if m.FailOn == nil {
		return nil
	}
	return m.FailOn[op]
}

// Seeding helpers. They bypass every conditional check so tests can build
// states the engine itself would refuse, such as overbooked slots.

func (m *Store) AddPatient(p capacity.Patient) capacity.Patient {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.CreatedAt = m.now()
	p.UpdatedAt = p.CreatedAt
	m.st.patients[p.ID] = p
	return p
}

func (m *Store) AddHoliday(date time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.holidays[capacity.DateOf(date)] = true
}

func (m *Store) PutSlot(s capacity.Slot) capacity.Slot {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.Status == "" {
		s.Status = capacity.SlotActive
	}
	s.Date = capacity.DateOf(s.Date)
	s.CreatedAt = m.now()
	s.UpdatedAt = s.CreatedAt
	m.st.slots[s.ID] = s
	return s
}

func (m *Store) PutAppointment(a capacity.Appointment) capacity.Appointment {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Status == "" {
		a.Status = capacity.StatusConfirmed
	}
	a.CreatedAt = m.now()
	a.UpdatedAt = a.CreatedAt
	m.st.appointments[a.ID] = a
	return a
}

// Slot returns the stored slot, for assertions.
func (m *Store) Slot(id uuid.UUID) (capacity.Slot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.st.slots[id]
	return s, ok
}

func (m *Store) Slots() []capacity.Slot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]capacity.Slot, 0, len(m.st.slots))
	for _, s := range m.st.slots {
		out = append(out, s)
	}
	sortSlots(out)
	return out
}

func (m *Store) Appointments() []capacity.Appointment {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]capacity.Appointment, 0, len(m.st.appointments))
	for _, a := range m.st.appointments {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (m *Store) Events() []capacity.EventLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]capacity.EventLog(nil), m.st.events...)
}

func (m *Store) Alerts() []capacity.PriorityAlert {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]capacity.PriorityAlert(nil), m.st.alerts...)
}

func sortSlots(s []capacity.Slot) {
	sort.Slice(s, func(i, j int) bool {
		a, b := s[i], s[j]
		if a.DoctorID != b.DoctorID {
			return a.DoctorID.String() < b.DoctorID.String()
		}
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		return a.ID.String() < b.ID.String()
	})
}

func inRange(d, from, to time.Time) bool {
	return !d.Before(capacity.DateOf(from)) && !d.After(capacity.DateOf(to))
}

// Directory

func (m *Store) GetPatient(_ context.Context, id uuid.UUID) (*capacity.Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.st.patients[id]
	if !ok {
		return nil, capacity.ErrPatientNotFound
	}
	return &p, nil
}

// Slots

func (m *Store) GetSlot(_ context.Context, id uuid.UUID) (*capacity.Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.st.slots[id]
	if !ok {
		return nil, capacity.ErrSlotNotFound
	}
	return &s, nil
}

func (m *Store) LockSlot(ctx context.Context, id uuid.UUID) (*capacity.Slot, error) {
	return m.GetSlot(ctx, id)
}

func (m *Store) ListBookableSlots(_ context.Context, specialtyID uuid.UUID, from, to time.Time) ([]capacity.Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []capacity.Slot
	for _, s := range m.st.slots {
		if s.SpecialtyID == specialtyID && s.Status == capacity.SlotActive && s.Booked < s.Capacity && inRange(s.Date, from, to) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		if out[i].Start != out[j].Start {
			return out[i].Start < out[j].Start
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (m *Store) ListSlots(_ context.Context, f capacity.SlotFilter) ([]capacity.Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []capacity.Slot
	for _, s := range m.st.slots {
		if !inRange(s.Date, f.From, f.To) {
			continue
		}
		if f.DoctorID != nil && s.DoctorID != *f.DoctorID {
			continue
		}
		out = append(out, s)
	}
	sortSlots(out)
	return out, nil
}

func (m *Store) ListDoctorSlotsOn(_ context.Context, doctorID uuid.UUID, date time.Time) ([]capacity.Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []capacity.Slot
	for _, s := range m.st.slots {
		if s.DoctorID == doctorID && s.Date.Equal(capacity.DateOf(date)) {
			out = append(out, s)
		}
	}
	sortSlots(out)
	return out, nil
}

func (m *Store) CreateSlot(_ context.Context, s *capacity.Slot) error {
	if err := m.fail("CreateSlot"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.Status == "" {
		s.Status = capacity.SlotActive
	}
	s.Date = capacity.DateOf(s.Date)
	s.CreatedAt = m.now()
	s.UpdatedAt = s.CreatedAt
	m.st.slots[s.ID] = *s
	return nil
}

func (m *Store) UpdateSlot(_ context.Context, s *capacity.Slot) error {
	if err := m.fail("UpdateSlot"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.st.slots[s.ID]
	if !ok {
		return capacity.ErrSlotNotFound
	}
	cur.Date = capacity.DateOf(s.Date)
	cur.Start, cur.End = s.Start, s.End
	cur.Capacity, cur.Booked, cur.Status = s.Capacity, s.Booked, s.Status
	cur.UpdatedAt = m.now()
	m.st.slots[s.ID] = cur
	s.UpdatedAt = cur.UpdatedAt
	return nil
}

func (m *Store) DeleteSlot(_ context.Context, id uuid.UUID) error {
	if err := m.fail("DeleteSlot"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.st.slots[id]; !ok {
		return capacity.ErrSlotNotFound
	}
	delete(m.st.slots, id)
	return nil
}

func (m *Store) IncrementBooked(_ context.Context, id uuid.UUID) (*capacity.Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.st.slots[id]
	if !ok {
		return nil, capacity.ErrSlotNotFound
	}
	if s.Booked >= s.Capacity {
		return nil, capacity.ErrSlotFull
	}
	s.Booked++
	if s.Booked >= s.Capacity {
		s.Status = capacity.SlotFull
	}
	s.UpdatedAt = m.now()
	m.st.slots[id] = s
	return &s, nil
}

func (m *Store) DecrementBooked(_ context.Context, id uuid.UUID) (*capacity.Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.st.slots[id]
	if !ok {
		return nil, capacity.ErrSlotNotFound
	}
	if s.Booked > 0 {
		s.Booked--
		if s.Status == capacity.SlotFull {
			s.Status = capacity.SlotActive
		}
		s.UpdatedAt = m.now()
		m.st.slots[id] = s
	}
	return &s, nil
}

// Appointments

func (m *Store) CreateAppointment(_ context.Context, a *capacity.Appointment) error {
	if err := m.fail("CreateAppointment"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	a.CreatedAt = m.now()
	a.UpdatedAt = a.CreatedAt
	m.st.appointments[a.ID] = *a
	return nil
}

func (m *Store) GetAppointment(_ context.Context, id uuid.UUID) (*capacity.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.st.appointments[id]
	if !ok {
		return nil, capacity.ErrAppointmentNotFound
	}
	return &a, nil
}

func (m *Store) UpdateAppointmentStatus(_ context.Context, id uuid.UUID, from, to capacity.AppointmentStatus) (*capacity.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.st.appointments[id]
	if !ok || a.Status != from {
		return nil, capacity.ErrStatusChanged
	}
	a.Status = to
	a.UpdatedAt = m.now()
	m.st.appointments[id] = a
	return &a, nil
}

func active(a capacity.Appointment) bool {
	return a.Status == capacity.StatusPending || a.Status == capacity.StatusConfirmed
}

func (m *Store) ListActiveAppointmentsForSlot(_ context.Context, slotID uuid.UUID) ([]capacity.Appointment, error) {
	return m.slotAppointments(slotID, active), nil
}

func (m *Store) ListBookedAppointmentsForSlot(_ context.Context, slotID uuid.UUID) ([]capacity.Appointment, error) {
	return m.slotAppointments(slotID, func(a capacity.Appointment) bool {
		return a.Status != capacity.StatusCancelled
	}), nil
}

func (m *Store) slotAppointments(slotID uuid.UUID, keep func(capacity.Appointment) bool) []capacity.Appointment {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []capacity.Appointment
	for _, a := range m.st.appointments {
		if a.SlotID == slotID && keep(a) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ScheduledAt.Equal(out[j].ScheduledAt) {
			return out[i].ScheduledAt.Before(out[j].ScheduledAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

func (m *Store) CancelAppointmentsForSlot(_ context.Context, slotID uuid.UUID, note string) (int, error) {
	if err := m.fail("CancelAppointmentsForSlot"); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, a := range m.st.appointments {
		if a.SlotID == slotID && active(a) {
			a.Status = capacity.StatusCancelled
			a.Notes += note
			a.UpdatedAt = m.now()
			m.st.appointments[id] = a
			n++
		}
	}
	return n, nil
}

func (m *Store) MoveAppointment(_ context.Context, id, slotID uuid.UUID, scheduledAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.st.appointments[id]
	if !ok {
		return capacity.ErrAppointmentNotFound
	}
	a.SlotID = slotID
	a.ScheduledAt = scheduledAt
	a.UpdatedAt = m.now()
	m.st.appointments[id] = a
	return nil
}

func (m *Store) ListOrphanedAppointments(_ context.Context, from time.Time) ([]capacity.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []capacity.Appointment
	for _, a := range m.st.appointments {
		if _, ok := m.st.slots[a.SlotID]; ok {
			continue
		}
		if a.Status == capacity.StatusCancelled || a.ScheduledAt.Before(from) {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	return out, nil
}

// Queue

func (m *Store) CreateQueueEntry(_ context.Context, e *capacity.QueueEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, q := range m.st.queue {
		if q.Status == capacity.QueueWaiting && q.PatientID == e.PatientID && q.SpecialtyID == e.SpecialtyID {
			return capacity.ErrDuplicateWaiting
		}
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Status == "" {
		e.Status = capacity.QueueWaiting
	}
	e.CreatedAt = m.now()
	e.UpdatedAt = e.CreatedAt
	m.st.queue[e.ID] = *e
	return nil
}

func (m *Store) GetQueueEntry(_ context.Context, id uuid.UUID) (*capacity.QueueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.st.queue[id]
	if !ok {
		return nil, capacity.ErrQueueEntryNotFound
	}
	return &e, nil
}

// waiting returns waiting entries, optionally for one specialty, in dequeue
// order. Caller holds mu.
func (m *Store) waiting(specialtyID *uuid.UUID) []capacity.QueueEntry {
	var out []capacity.QueueEntry
	for _, e := range m.st.queue {
		if e.Status != capacity.QueueWaiting {
			continue
		}
		if specialtyID != nil && e.SpecialtyID != *specialtyID {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SpecialtyID != out[j].SpecialtyID {
			return out[i].SpecialtyID.String() < out[j].SpecialtyID.String()
		}
		return out[i].DequeuesBefore(out[j])
	})
	return out
}

func (m *Store) ClaimNextWaiting(_ context.Context, specialtyID uuid.UUID, at time.Time) (*capacity.QueueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.waiting(&specialtyID)
	if len(list) == 0 {
		return nil, capacity.ErrQueueEmpty
	}
	e := list[0]
	e.Status = capacity.QueueAssigned
	e.AssignedAt = &at
	e.UpdatedAt = m.now()
	m.st.queue[e.ID] = e
	return &e, nil
}

func (m *Store) UpdateQueueEntryStatus(_ context.Context, id uuid.UUID, from, to capacity.QueueStatus) (*capacity.QueueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.st.queue[id]
	if !ok || e.Status != from {
		return nil, capacity.ErrStatusChanged
	}
	e.Status = to
	e.UpdatedAt = m.now()
	m.st.queue[id] = e
	return &e, nil
}

func (m *Store) ListWaiting(_ context.Context, specialtyID *uuid.UUID) ([]capacity.QueueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.waiting(specialtyID), nil
}

func (m *Store) QueuePosition(_ context.Context, id uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.st.queue[id]
	if !ok || e.Status != capacity.QueueWaiting {
		return 0, capacity.ErrQueueEntryNotFound
	}
	for i, w := range m.waiting(&e.SpecialtyID) {
		if w.ID == id {
			return i + 1, nil
		}
	}
	return 0, capacity.ErrQueueEntryNotFound
}

func (m *Store) CountWaitingBySpecialty(_ context.Context) (map[uuid.UUID]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[uuid.UUID]int{}
	for _, e := range m.st.queue {
		if e.Status == capacity.QueueWaiting {
			out[e.SpecialtyID]++
		}
	}
	return out, nil
}

func (m *Store) EscalateEntry(_ context.Context, id uuid.UUID, level capacity.PriorityLevel, score int, at time.Time) (*capacity.QueueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.st.queue[id]
	if !ok || e.Status != capacity.QueueWaiting {
		return nil, capacity.ErrQueueEntryNotFound
	}
	e.Level = level
	e.Score = score
	e.EscalatedAt = &at
	e.UpdatedAt = m.now()
	m.st.queue[id] = e
	return &e, nil
}

// SetQueueCreatedAt backdates an entry, for escalation tests.
func (m *Store) SetQueueCreatedAt(id uuid.UUID, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.st.queue[id]
	e.CreatedAt = at
	m.st.queue[id] = e
}

// Priorities

func (m *Store) CreatePriority(_ context.Context, p *capacity.PriorityRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.CreatedAt = m.now()
	m.st.priorities[p.ID] = *p
	return nil
}

func (m *Store) CreatePriorityAlert(_ context.Context, a *capacity.PriorityAlert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Status == "" {
		a.Status = capacity.PriorityActive
	}
	a.CreatedAt = m.now()
	m.st.alerts = append(m.st.alerts, *a)
	return nil
}

func (m *Store) ListPriorities(_ context.Context, status string, limit int) ([]capacity.PriorityRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []capacity.PriorityRecord
	for _, p := range m.st.priorities {
		if p.Status == status {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Resolutions

func (m *Store) InsertResolution(_ context.Context, r *capacity.ConflictResolution) error {
	if err := m.fail("InsertResolution"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	r.ResolvedAt = m.now()
	r.Data = append(json.RawMessage(nil), r.Data...)
	m.st.resolutions = append(m.st.resolutions, *r)
	return nil
}

func (m *Store) ListResolutions(_ context.Context, limit, offset int) ([]capacity.ConflictResolution, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := len(m.st.resolutions)
	out := make([]capacity.ConflictResolution, 0, total)
	for i := total - 1; i >= 0; i-- {
		out = append(out, m.st.resolutions[i])
	}
	return page(out, limit, offset), total, nil
}

func page[T any](list []T, limit, offset int) []T {
	if offset >= len(list) {
		return []T{}
	}
	list = list[offset:]
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list
}

// Batches

func (m *Store) CreateBatch(_ context.Context, b *capacity.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	b.CreatedAt = m.now()
	m.st.batches[b.ID] = *b
	return nil
}

func (m *Store) SetBatchCreatedSlots(_ context.Context, id uuid.UUID, n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.st.batches[id]
	if !ok {
		return capacity.ErrBatchNotFound
	}
	b.CreatedSlots = n
	m.st.batches[id] = b
	return nil
}

func (m *Store) GetBatch(_ context.Context, id uuid.UUID) (*capacity.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.st.batches[id]
	if !ok {
		return nil, capacity.ErrBatchNotFound
	}
	return &b, nil
}

func (m *Store) ListBatches(_ context.Context, limit, offset int) ([]capacity.Batch, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]capacity.Batch, 0, len(m.st.batches))
	for _, b := range m.st.batches {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, limit, offset), len(out), nil
}

func (m *Store) ListSlotsByBatch(_ context.Context, batchID uuid.UUID) ([]capacity.Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []capacity.Slot
	for _, s := range m.st.slots {
		if s.BatchID != nil && *s.BatchID == batchID {
			out = append(out, s)
		}
	}
	sortSlots(out)
	return out, nil
}

func (m *Store) DeleteBatch(ctx context.Context, id uuid.UUID) (capacity.BatchDeletion, error) {
	var out capacity.BatchDeletion

	err := m.InTx(ctx, func(ctx context.Context) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, ok := m.st.batches[id]; !ok {
			return capacity.ErrBatchNotFound
		}
		for sid, s := range m.st.slots {
			if s.BatchID == nil || *s.BatchID != id {
				continue
			}
			for aid, a := range m.st.appointments {
				if a.SlotID == sid {
					delete(m.st.appointments, aid)
					out.Appointments++
				}
			}
			delete(m.st.slots, sid)
			out.Slots++
		}
		delete(m.st.batches, id)
		return nil
	})
	return out, err
}

// Holidays

func (m *Store) ListHolidays(_ context.Context, from, to time.Time) ([]time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []time.Time
	for d := range m.st.holidays {
		if inRange(d, from, to) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

// Events

func (m *Store) InsertEvent(_ context.Context, ev capacity.EventLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev.ID = int64(len(m.st.events) + 1)
	m.st.events = append(m.st.events, ev)
	return nil
}

// EventTypes lists recorded event types in order.
func (m *Store) EventTypes() []string {
	var out []string
	for _, ev := range m.Events() {
		out = append(out, ev.EventType)
	}
	return out
}
