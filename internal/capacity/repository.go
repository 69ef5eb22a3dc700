package capacity

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrPatientNotFound     = errors.New("patient not found")
	ErrSlotNotFound        = errors.New("slot not found")
	ErrSlotFull            = errors.New("slot has no remaining capacity")
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrQueueEntryNotFound  = errors.New("queue entry not found")
	ErrQueueEmpty          = errors.New("no waiting queue entries")
	ErrDuplicateWaiting    = errors.New("patient already waiting for this specialty")
	ErrBatchNotFound       = errors.New("batch not found")
	ErrStatusChanged       = errors.New("status changed concurrently")
)

// Transactor runs fn in one store transaction. Store calls made with the
// ctx handed to fn join it; a returned error rolls everything back.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type Directory interface {
	GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error)
}

type SlotFilter struct {
	From     time.Time
	To       time.Time
	DoctorID *uuid.UUID
}

type SlotStore interface {
	GetSlot(ctx context.Context, id uuid.UUID) (*Slot, error)
	// LockSlot reads the slot and holds it until the surrounding
	// transaction ends.
	LockSlot(ctx context.Context, id uuid.UUID) (*Slot, error)
	// ListBookableSlots returns active slots of a specialty dated within
	// [from,to] that still have free capacity, by date then start.
	ListBookableSlots(ctx context.Context, specialtyID uuid.UUID, from, to time.Time) ([]Slot, error)
	ListSlots(ctx context.Context, f SlotFilter) ([]Slot, error)
	ListDoctorSlotsOn(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]Slot, error)
	CreateSlot(ctx context.Context, s *Slot) error
	// UpdateSlot writes date, times, capacity, booked count and status.
	UpdateSlot(ctx context.Context, s *Slot) error
	DeleteSlot(ctx context.Context, id uuid.UUID) error
	// IncrementBooked adds one booking only while booked < capacity and
	// marks the slot full when it reaches capacity. ErrSlotFull otherwise.
	IncrementBooked(ctx context.Context, id uuid.UUID) (*Slot, error)
	// DecrementBooked releases one booking and reopens a full slot.
	DecrementBooked(ctx context.Context, id uuid.UUID) (*Slot, error)
}

type AppointmentStore interface {
	CreateAppointment(ctx context.Context, a *Appointment) error
	GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// UpdateAppointmentStatus moves from -> to; ErrStatusChanged when the
	// row is no longer in from.
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error)
	ListActiveAppointmentsForSlot(ctx context.Context, slotID uuid.UUID) ([]Appointment, error)
	// ListBookedAppointmentsForSlot returns every appointment of the slot
	// that still holds a unit: pending, confirmed and completed.
	ListBookedAppointmentsForSlot(ctx context.Context, slotID uuid.UUID) ([]Appointment, error)
	// CancelAppointmentsForSlot cancels every non-terminal appointment of
	// the slot and appends note to their notes.
	CancelAppointmentsForSlot(ctx context.Context, slotID uuid.UUID, note string) (int, error)
	MoveAppointment(ctx context.Context, id, slotID uuid.UUID, scheduledAt time.Time) error
	// ListOrphanedAppointments returns non-cancelled appointments scheduled
	// at or after from whose slot no longer exists.
	ListOrphanedAppointments(ctx context.Context, from time.Time) ([]Appointment, error)
}

type QueueStore interface {
	// CreateQueueEntry fails with ErrDuplicateWaiting when the patient
	// already waits for the specialty.
	CreateQueueEntry(ctx context.Context, e *QueueEntry) error
	GetQueueEntry(ctx context.Context, id uuid.UUID) (*QueueEntry, error)
	// ClaimNextWaiting atomically marks the first waiting entry of the
	// specialty (dequeue order) as assigned and returns it.
	ClaimNextWaiting(ctx context.Context, specialtyID uuid.UUID, at time.Time) (*QueueEntry, error)
	UpdateQueueEntryStatus(ctx context.Context, id uuid.UUID, from, to QueueStatus) (*QueueEntry, error)
	ListWaiting(ctx context.Context, specialtyID *uuid.UUID) ([]QueueEntry, error)
	// QueuePosition is the 1-based rank of a waiting entry in dequeue order.
	QueuePosition(ctx context.Context, id uuid.UUID) (int, error)
	CountWaitingBySpecialty(ctx context.Context) (map[uuid.UUID]int, error)
	EscalateEntry(ctx context.Context, id uuid.UUID, level PriorityLevel, score int, at time.Time) (*QueueEntry, error)
}

type PriorityStore interface {
	CreatePriority(ctx context.Context, p *PriorityRecord) error
	CreatePriorityAlert(ctx context.Context, a *PriorityAlert) error
	ListPriorities(ctx context.Context, status string, limit int) ([]PriorityRecord, error)
}

type ResolutionStore interface {
	InsertResolution(ctx context.Context, r *ConflictResolution) error
	ListResolutions(ctx context.Context, limit, offset int) ([]ConflictResolution, int, error)
}

type BatchStore interface {
	CreateBatch(ctx context.Context, b *Batch) error
	SetBatchCreatedSlots(ctx context.Context, id uuid.UUID, n int) error
	GetBatch(ctx context.Context, id uuid.UUID) (*Batch, error)
	ListBatches(ctx context.Context, limit, offset int) ([]Batch, int, error)
	ListSlotsByBatch(ctx context.Context, batchID uuid.UUID) ([]Slot, error)
	// DeleteBatch removes the batch record, its slots and their appointments.
	DeleteBatch(ctx context.Context, id uuid.UUID) (BatchDeletion, error)
}

// HolidayCalendar lists holiday dates within [from,to].
type HolidayCalendar interface {
	ListHolidays(ctx context.Context, from, to time.Time) ([]time.Time, error)
}

type EventStore interface {
	InsertEvent(ctx context.Context, ev EventLog) error
}

// Store is everything the engine persists.
type Store interface {
	Transactor
	Directory
	SlotStore
	AppointmentStore
	QueueStore
	PriorityStore
	ResolutionStore
	BatchStore
	HolidayCalendar
	EventStore
}
