package memstore

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-capacity-engine/internal/capacity"
)

func TestIncrementBooked_OneRemainingUnit(t *testing.T) {
	store := New()
	slot := store.PutSlot(capacity.Slot{
		Date:     capacity.MustDate("2025-06-02"),
		Start:    capacity.MustClock("09:00"),
		End:      capacity.MustClock("10:00"),
		Capacity: 3,
		Booked:   2,
	})

	var wg sync.WaitGroup
	var mu sync.Mutex
	successes, full := 0, 0

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.IncrementBooked(context.Background(), slot.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, capacity.ErrSlotFull):
				full++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, 19, full)

	got, _ := store.Slot(slot.ID)
	assert.Equal(t, 3, got.Booked)
	assert.Equal(t, capacity.SlotFull, got.Status)
}

func TestDecrementBooked_ReopensFullSlot(t *testing.T) {
	store := New()
	slot := store.PutSlot(capacity.Slot{Capacity: 1, Booked: 1, Status: capacity.SlotFull})

	got, err := store.DecrementBooked(context.Background(), slot.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Booked)
	assert.Equal(t, capacity.SlotActive, got.Status)

	got, err = store.DecrementBooked(context.Background(), slot.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Booked)
}

func TestInTx_RollsBackOnError(t *testing.T) {
	store := New()
	slot := store.PutSlot(capacity.Slot{Capacity: 2})
	boom := errors.New("boom")

	err := store.InTx(context.Background(), func(ctx context.Context) error {
		s, err := store.GetSlot(ctx, slot.ID)
		require.NoError(t, err)
		s.Capacity = 10
		require.NoError(t, store.UpdateSlot(ctx, s))
		require.NoError(t, store.InsertResolution(ctx, &capacity.ConflictResolution{SlotID: slot.ID, Type: "increase_capacity"}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, _ := store.Slot(slot.ID)
	assert.Equal(t, 2, got.Capacity)

	list, total, err := store.ListResolutions(context.Background(), 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, total)
	assert.Empty(t, list)
}

func TestQueue_DuplicateWaitingAndPositions(t *testing.T) {
	ctx := context.Background()
	store := New()
	specialty := uuid.New()
	patient := uuid.New()

	first := &capacity.QueueEntry{PatientID: patient, SpecialtyID: specialty, Level: capacity.LevelMedia, Score: 30}
	require.NoError(t, store.CreateQueueEntry(ctx, first))

	dup := &capacity.QueueEntry{PatientID: patient, SpecialtyID: specialty, Level: capacity.LevelAlta, Score: 60}
	assert.ErrorIs(t, store.CreateQueueEntry(ctx, dup), capacity.ErrDuplicateWaiting)

	urgent := &capacity.QueueEntry{PatientID: uuid.New(), SpecialtyID: specialty, Level: capacity.LevelUrgente, Score: 85}
	require.NoError(t, store.CreateQueueEntry(ctx, urgent))

	pos, err := store.QueuePosition(ctx, urgent.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, pos)
	pos, err = store.QueuePosition(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, pos)

	claimed, err := store.ClaimNextWaiting(ctx, specialty, first.CreatedAt)
	require.NoError(t, err)
	assert.Equal(t, urgent.ID, claimed.ID)
	assert.Equal(t, capacity.QueueAssigned, claimed.Status)

	pos, err = store.QueuePosition(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, pos)

	// Once no longer waiting, the patient may queue again.
	_, err = store.UpdateQueueEntryStatus(ctx, first.ID, capacity.QueueWaiting, capacity.QueueCancelled)
	require.NoError(t, err)
	assert.NoError(t, store.CreateQueueEntry(ctx, dup))
}

func TestDeleteBatch_Cascades(t *testing.T) {
	ctx := context.Background()
	store := New()

	batch := &capacity.Batch{Mode: "balanced"}
	require.NoError(t, store.CreateBatch(ctx, batch))

	inBatch := store.PutSlot(capacity.Slot{Capacity: 2, BatchID: &batch.ID})
	other := store.PutSlot(capacity.Slot{Capacity: 2})
	store.PutAppointment(capacity.Appointment{SlotID: inBatch.ID})
	store.PutAppointment(capacity.Appointment{SlotID: other.ID})

	del, err := store.DeleteBatch(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, capacity.BatchDeletion{Slots: 1, Appointments: 1}, del)

	_, ok := store.Slot(other.ID)
	assert.True(t, ok)
	assert.Len(t, store.Appointments(), 1)

	_, err = store.DeleteBatch(ctx, batch.ID)
	assert.ErrorIs(t, err, capacity.ErrBatchNotFound)
}
