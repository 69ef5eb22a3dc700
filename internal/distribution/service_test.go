package distribution

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-capacity-engine/internal/apperr"
	"github.com/hackgods/clinic-capacity-engine/internal/capacity"
	"github.com/hackgods/clinic-capacity-engine/internal/capacity/memstore"
	redisclient "github.com/hackgods/clinic-capacity-engine/internal/redis"
)

func newService(t *testing.T) (*Service, *memstore.Store, *redisclient.LocalLocker) {
	t.Helper()
	store := memstore.New()
	locker := redisclient.NewLocalLocker()
	return NewService(store, store, locker, zerolog.Nop()), store, locker
}

// Monday 2025-06-02 to Sunday 2025-06-08.
func weekRequest(mode Mode, total int) Request {
	return Request{
		DoctorID:            uuid.New(),
		LocationID:          uuid.New(),
		SpecialtyID:         uuid.New(),
		StartDate:           capacity.MustDate("2025-06-02"),
		EndDate:             capacity.MustDate("2025-06-08"),
		StartTime:           capacity.MustClock("08:00"),
		EndTime:             capacity.MustClock("12:00"),
		TotalCapacity:       total,
		SlotDurationMinutes: 30,
		ExcludeWeekends:     true,
		ExcludeHolidays:     true,
		Mode:                mode,
	}
}

func TestCreate_BalancedWeek(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newService(t)

	res, err := svc.Create(ctx, weekRequest(ModeBalanced, 17))
	require.NoError(t, err)

	b := res.Batch
	assert.Equal(t, 5, b.WorkingDays)
	assert.Equal(t, 5, b.CreatedSlots)
	assert.Empty(t, res.Skipped)
	assert.Equal(t, map[string]int{
		"2025-06-02": 4,
		"2025-06-03": 4,
		"2025-06-04": 3,
		"2025-06-05": 3,
		"2025-06-06": 3,
	}, b.Distribution)

	slots := store.Slots()
	require.Len(t, slots, 5)
	total := 0
	for _, s := range slots {
		require.NotNil(t, s.BatchID)
		assert.Equal(t, b.ID, *s.BatchID)
		assert.Equal(t, 30, s.DurationMinutes)
		total += s.Capacity
	}
	assert.Equal(t, 17, total)

	stored, err := store.GetBatch(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, stored.CreatedSlots)
	assert.Contains(t, store.EventTypes(), capacity.EventBatchCreated)
}

func TestCreate_SkipsHolidaysAndCustomDates(t *testing.T) {
	svc, store, _ := newService(t)
	store.AddHoliday(capacity.MustDate("2025-06-03"))

	req := weekRequest(ModeBalanced, 6)
	req.CustomExcludedDates = []time.Time{capacity.MustDate("2025-06-05")}

	res, err := svc.Create(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, 3, res.Batch.WorkingDays)
	assert.NotContains(t, res.Batch.Distribution, "2025-06-03")
	assert.NotContains(t, res.Batch.Distribution, "2025-06-05")
	assert.Equal(t, 2, res.Batch.Distribution["2025-06-06"])
}

func TestCreate_RandomWithCap(t *testing.T) {
	svc, store, _ := newService(t)

	req := weekRequest(ModeRandom, 20)
	req.MaxDailyAppointments = 4

	res, err := svc.Create(context.Background(), req)
	require.NoError(t, err)

	for date, n := range res.Batch.Distribution {
		assert.Equal(t, 4, n, date)
	}
	assert.Len(t, store.Slots(), 5)
}

func TestCreate_SkipsOverlappingDays(t *testing.T) {
	svc, store, _ := newService(t)
	req := weekRequest(ModeBalanced, 10)

	busy := store.PutSlot(capacity.Slot{
		DoctorID: req.DoctorID,
		Date:     capacity.MustDate("2025-06-04"),
		Start:    capacity.MustClock("11:00"),
		End:      capacity.MustClock("13:00"),
		Capacity: 2,
	})

	res, err := svc.Create(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, 4, res.Batch.CreatedSlots)
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, "2025-06-04", res.Skipped[0].Date)
	assert.Equal(t, 2, res.Skipped[0].Capacity)
	assert.Contains(t, res.Skipped[0].Reason, busy.ID.String())
}

func TestCreate_Validation(t *testing.T) {
	svc, _, _ := newService(t)

	tests := []struct {
		name  string
		edit  func(r *Request)
		field string
	}{
		{"end before start", func(r *Request) { r.EndDate = r.StartDate.AddDate(0, 0, -1) }, "end_date"},
		{"inverted times", func(r *Request) { r.EndTime = r.StartTime }, "end_time"},
		{"zero capacity", func(r *Request) { r.TotalCapacity = 0 }, "total_capacity"},
		{"duration too long", func(r *Request) { r.SlotDurationMinutes = 121 }, "slot_duration_minutes"},
		{"unknown mode", func(r *Request) { r.Mode = "weighted" }, "distribution_mode"},
		{"infeasible cap", func(r *Request) { r.MaxDailyAppointments = 2 }, "max_daily_appointments"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := weekRequest(ModeBalanced, 11)
			tt.edit(&req)

			_, err := svc.Create(context.Background(), req)
			ae := apperr.As(err)
			require.Equal(t, apperr.KindValidation, ae.Kind)
			assert.Contains(t, ae.Fields, tt.field)
		})
	}
}

func TestCreate_NoWorkingDays(t *testing.T) {
	svc, _, _ := newService(t)
	req := weekRequest(ModeBalanced, 3)
	req.StartDate = capacity.MustDate("2025-06-07")

	_, err := svc.Create(context.Background(), req)
	ae := apperr.As(err)
	assert.Equal(t, apperr.KindValidation, ae.Kind)
	assert.Equal(t, "no_working_days", ae.Code)
}

func TestCreate_DoctorLockHeld(t *testing.T) {
	ctx := context.Background()
	svc, _, locker := newService(t)
	req := weekRequest(ModeBalanced, 5)

	err := locker.WithLock(ctx, redisclient.DoctorLockKey(req.DoctorID), func(ctx context.Context) error {
		_, err := svc.Create(ctx, req)
		return err
	})
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	// Another doctor is not blocked.
	err = locker.WithLock(ctx, redisclient.DoctorLockKey(uuid.New()), func(ctx context.Context) error {
		_, err := svc.Create(ctx, req)
		return err
	})
	assert.NoError(t, err)
}

// cancellingStore cancels the run after the first slot insert.
type cancellingStore struct {
	*memstore.Store
	cancel context.CancelFunc
}

func (c *cancellingStore) CreateSlot(ctx context.Context, s *capacity.Slot) error {
	err := c.Store.CreateSlot(ctx, s)
	c.cancel()
	return err
}

func TestCreate_InterruptedKeepsCommittedDays(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mem := memstore.New()
	store := &cancellingStore{Store: mem, cancel: cancel}
	svc := NewService(store, mem, redisclient.NewLocalLocker(), zerolog.Nop())

	_, err := svc.Create(ctx, weekRequest(ModeBalanced, 10))
	require.ErrorIs(t, err, context.Canceled)

	require.Len(t, mem.Slots(), 1)
	batchID := *mem.Slots()[0].BatchID
	b, err := mem.GetBatch(context.Background(), batchID)
	require.NoError(t, err)
	assert.Equal(t, 1, b.CreatedSlots)
}

func TestGetListDelete(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newService(t)

	res, err := svc.Create(ctx, weekRequest(ModeBalanced, 10))
	require.NoError(t, err)
	id := res.Batch.ID

	slot := store.Slots()[0]
	_, err = store.IncrementBooked(ctx, slot.ID)
	require.NoError(t, err)
	store.PutAppointment(capacity.Appointment{SlotID: slot.ID, PatientID: uuid.New()})

	view, err := svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 5, view.Statistics.TotalSlots)
	assert.Equal(t, 10, view.Statistics.TotalCapacity)
	assert.Equal(t, 1, view.Statistics.Booked)
	assert.InDelta(t, 10.0, view.Statistics.UtilizationRate, 0.001)

	page, err := svc.List(ctx, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
	assert.Equal(t, defaultListLimit, page.Limit)

	del, err := svc.Delete(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 5, del.Slots)
	assert.Equal(t, 1, del.Appointments)
	assert.Empty(t, store.Slots())
	assert.Empty(t, store.Appointments())

	_, err = svc.Get(ctx, id)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	_, err = svc.Delete(ctx, id)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}
