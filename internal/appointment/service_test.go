package appointment

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-capacity-engine/internal/apperr"
	"github.com/hackgods/clinic-capacity-engine/internal/capacity"
	"github.com/hackgods/clinic-capacity-engine/internal/capacity/memstore"
)

func setup(t *testing.T, capacityUnits, booked int) (*Service, *memstore.Store, capacity.Slot) {
	t.Helper()
	store := memstore.New()
	slot := store.PutSlot(capacity.Slot{
		DoctorID:        uuid.New(),
		LocationID:      uuid.New(),
		SpecialtyID:     uuid.New(),
		Date:            capacity.MustDate("2025-06-03"),
		Start:           capacity.MustClock("09:00"),
		End:             capacity.MustClock("11:00"),
		Capacity:        capacityUnits,
		Booked:          booked,
		DurationMinutes: 30,
	})
	return NewService(store, zerolog.Nop()), store, slot
}

func patient(store *memstore.Store) uuid.UUID {
	return store.AddPatient(capacity.Patient{Name: "test"}).ID
}

func TestBook_ManualAppointment(t *testing.T) {
	ctx := context.Background()
	svc, store, slot := setup(t, 2, 0)
	at := capacity.MustClock("10:00")

	appt, err := svc.Book(ctx, BookRequest{SlotID: slot.ID, PatientID: patient(store), StartTime: &at})
	require.NoError(t, err)

	assert.True(t, appt.Manual)
	assert.Equal(t, capacity.StatusPending, appt.Status)
	assert.Equal(t, capacity.LevelMedia, appt.PriorityLevel)
	assert.Equal(t, 30, appt.DurationMinutes)
	assert.Equal(t, capacity.At(slot.Date, at), appt.ScheduledAt)
	assert.Equal(t, slot.DoctorID, appt.DoctorID)

	got, _ := store.Slot(slot.ID)
	assert.Equal(t, 1, got.Booked)
	assert.Contains(t, store.EventTypes(), capacity.EventAppointmentCreated)
}

func TestBook_Rejections(t *testing.T) {
	ctx := context.Background()

	t.Run("full slot", func(t *testing.T) {
		svc, store, slot := setup(t, 1, 1)
		_, err := svc.Book(ctx, BookRequest{SlotID: slot.ID, PatientID: patient(store)})
		assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
		assert.Empty(t, store.Appointments())
	})

	t.Run("outside slot", func(t *testing.T) {
		svc, store, slot := setup(t, 1, 0)
		at := capacity.MustClock("10:45")
		_, err := svc.Book(ctx, BookRequest{SlotID: slot.ID, PatientID: patient(store), StartTime: &at})
		assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	})

	t.Run("unknown slot", func(t *testing.T) {
		svc, store, _ := setup(t, 1, 0)
		_, err := svc.Book(ctx, BookRequest{SlotID: uuid.New(), PatientID: patient(store)})
		assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	})

	t.Run("unknown patient", func(t *testing.T) {
		svc, _, slot := setup(t, 1, 0)
		_, err := svc.Book(ctx, BookRequest{SlotID: slot.ID, PatientID: uuid.New()})
		assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	})

	t.Run("insert failure releases capacity", func(t *testing.T) {
		svc, store, slot := setup(t, 1, 0)
		store.FailOn["CreateAppointment"] = errors.New("boom")
		_, err := svc.Book(ctx, BookRequest{SlotID: slot.ID, PatientID: patient(store)})
		assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))
		got, _ := store.Slot(slot.ID)
		assert.Equal(t, 0, got.Booked)
	})
}

func TestBook_ConcurrentLastUnit(t *testing.T) {
	ctx := context.Background()
	svc, store, slot := setup(t, 3, 2)

	var wg sync.WaitGroup
	var mu sync.Mutex
	ok := 0
	for i := 0; i < 10; i++ {
		p := patient(store)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Book(ctx, BookRequest{SlotID: slot.ID, PatientID: p}); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, ok)
	got, _ := store.Slot(slot.ID)
	assert.Equal(t, 3, got.Booked)
	assert.Equal(t, capacity.SlotFull, got.Status)
}

func TestLifecycle(t *testing.T) {
	ctx := context.Background()
	svc, store, slot := setup(t, 1, 0)

	appt, err := svc.Book(ctx, BookRequest{SlotID: slot.ID, PatientID: patient(store)})
	require.NoError(t, err)

	confirmed, err := svc.Confirm(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, capacity.StatusConfirmed, confirmed.Status)

	_, err = svc.Confirm(ctx, appt.ID)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	done, err := svc.Complete(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, capacity.StatusCompleted, done.Status)

	// Completed is terminal.
	_, err = svc.Cancel(ctx, appt.ID)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	got, _ := store.Slot(slot.ID)
	assert.Equal(t, 1, got.Booked)

	assert.Contains(t, store.EventTypes(), capacity.EventAppointmentConfirmed)
	assert.Contains(t, store.EventTypes(), capacity.EventAppointmentCompleted)
}

func TestCancel_ReleasesSlot(t *testing.T) {
	ctx := context.Background()
	svc, store, slot := setup(t, 1, 0)

	appt, err := svc.Book(ctx, BookRequest{SlotID: slot.ID, PatientID: patient(store)})
	require.NoError(t, err)
	full, _ := store.Slot(slot.ID)
	require.Equal(t, capacity.SlotFull, full.Status)

	cancelled, err := svc.Cancel(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, capacity.StatusCancelled, cancelled.Status)

	got, _ := store.Slot(slot.ID)
	assert.Equal(t, 0, got.Booked)
	assert.Equal(t, capacity.SlotActive, got.Status)

	_, err = svc.Cancel(ctx, appt.ID)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	got, _ = store.Slot(slot.ID)
	assert.Equal(t, 0, got.Booked)
}

func TestCancel_OrphanedAppointment(t *testing.T) {
	svc, store, _ := setup(t, 1, 0)
	orphan := store.PutAppointment(capacity.Appointment{
		SlotID:    uuid.New(),
		PatientID: uuid.New(),
		Status:    capacity.StatusConfirmed,
	})

	got, err := svc.Cancel(context.Background(), orphan.ID)
	require.NoError(t, err)
	assert.Equal(t, capacity.StatusCancelled, got.Status)
}

func TestGetAndListBySlot(t *testing.T) {
	ctx := context.Background()
	svc, store, slot := setup(t, 2, 0)

	_, err := svc.Get(ctx, uuid.New())
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	a, err := svc.Book(ctx, BookRequest{SlotID: slot.ID, PatientID: patient(store)})
	require.NoError(t, err)
	b, err := svc.Book(ctx, BookRequest{SlotID: slot.ID, PatientID: patient(store)})
	require.NoError(t, err)
	_, err = svc.Cancel(ctx, b.ID)
	require.NoError(t, err)

	got, err := svc.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)

	list, err := svc.ListBySlot(ctx, slot.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, a.ID, list[0].ID)

	_, err = svc.ListBySlot(ctx, uuid.New())
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}
