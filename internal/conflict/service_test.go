package conflict

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-capacity-engine/internal/apperr"
	"github.com/hackgods/clinic-capacity-engine/internal/capacity"
	"github.com/hackgods/clinic-capacity-engine/internal/capacity/memstore"
	"github.com/hackgods/clinic-capacity-engine/internal/notify"
)

type fixture struct {
	svc    *Service
	store  *memstore.Store
	events *notify.Recorder
	doctor uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memstore.New()
	rec := &notify.Recorder{}
	loc, err := time.LoadLocation("America/Bogota")
	require.NoError(t, err)

	svc := NewService(store, rec, loc, zerolog.Nop())
	svc.now = func() time.Time { return time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC) }

	return &fixture{svc: svc, store: store, events: rec, doctor: uuid.New()}
}

func (f *fixture) slot(date, start, end string, capacityUnits, booked int) capacity.Slot {
	return f.store.PutSlot(capacity.Slot{
		DoctorID:        f.doctor,
		LocationID:      uuid.New(),
		SpecialtyID:     uuid.New(),
		Date:            capacity.MustDate(date),
		Start:           capacity.MustClock(start),
		End:             capacity.MustClock(end),
		Capacity:        capacityUnits,
		Booked:          booked,
		DurationMinutes: 30,
	})
}

func (f *fixture) appointment(s capacity.Slot, at string) capacity.Appointment {
	return f.store.PutAppointment(capacity.Appointment{
		PatientID:   uuid.New(),
		SlotID:      s.ID,
		DoctorID:    s.DoctorID,
		SpecialtyID: s.SpecialtyID,
		ScheduledAt: capacity.At(s.Date, capacity.MustClock(at)),
		Status:      capacity.StatusConfirmed,
	})
}

func data(t *testing.T, r *capacity.ConflictResolution) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(r.Data, &m))
	return m
}

func TestDetect_AutoFixIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.slot("2025-06-03", "09:00", "10:00", 2, 3)

	report, err := f.svc.Detect(ctx, DetectRequest{AutoFix: true})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Summary.ByType[Overbooking])
	require.Len(t, report.AutoResolutions, 1)
	assert.Equal(t, s.ID, report.AutoResolutions[0].ConflictID)
	assert.Equal(t, 2, report.AutoResolutions[0].OldCapacity)
	assert.Equal(t, 3, report.AutoResolutions[0].NewCapacity)

	got, _ := f.store.Slot(s.ID)
	assert.Equal(t, 3, got.Capacity)
	assert.Equal(t, 3, got.Booked)

	again, err := f.svc.Detect(ctx, DetectRequest{AutoFix: true})
	require.NoError(t, err)
	assert.Equal(t, 0, again.Summary.ByType[Overbooking])
	assert.Empty(t, again.AutoResolutions)

	page, err := f.svc.Resolutions(ctx, 0, 0)
	require.NoError(t, err)
	require.Equal(t, 1, page.Total)
	assert.Equal(t, ResolvedByAutoFix, page.Resolutions[0].ResolvedBy)
}

func TestDetect_WithoutAutoFixLeavesSlot(t *testing.T) {
	f := newFixture(t)
	s := f.slot("2025-06-03", "09:00", "10:00", 2, 3)

	report, err := f.svc.Detect(context.Background(), DetectRequest{})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Summary.Total)
	assert.Empty(t, report.AutoResolutions)
	got, _ := f.store.Slot(s.ID)
	assert.Equal(t, 2, got.Capacity)
}

func TestDetect_Window(t *testing.T) {
	f := newFixture(t)
	f.slot("2025-06-01", "09:00", "10:00", 1, 2) // before today
	f.slot("2025-06-10", "09:00", "10:00", 1, 2)
	other := f.store.PutSlot(capacity.Slot{
		DoctorID: uuid.New(),
		Date:     capacity.MustDate("2025-06-10"),
		Start:    capacity.MustClock("09:00"),
		End:      capacity.MustClock("10:00"),
		Capacity: 1,
		Booked:   2,
	})

	report, err := f.svc.Detect(context.Background(), DetectRequest{})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Summary.Total)
	assert.Equal(t, "2025-06-02", report.From)

	from := capacity.MustDate("2025-06-01")
	to := capacity.MustDate("2025-06-05")
	report, err = f.svc.Detect(context.Background(), DetectRequest{From: &from, To: &to})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Summary.Total)

	report, err = f.svc.Detect(context.Background(), DetectRequest{DoctorID: &other.DoctorID})
	require.NoError(t, err)
	require.Equal(t, 1, report.Summary.Total)
	assert.Equal(t, other.ID, *report.Conflicts[0].SlotID)

	_, err = f.svc.Detect(context.Background(), DetectRequest{From: &to, To: &from})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestResolve_IncreaseCapacityRejectsHealthySlot(t *testing.T) {
	f := newFixture(t)
	s := f.slot("2025-06-03", "09:00", "10:00", 4, 2)

	_, err := f.svc.Resolve(context.Background(), ResolveRequest{SlotID: s.ID, Type: ResolutionIncreaseCapacity})
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	got, _ := f.store.Slot(s.ID)
	assert.Equal(t, 4, got.Capacity)
}

func TestResolve_SplitPreservesCapacity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.slot("2025-06-03", "09:00", "11:00", 5, 3)
	early := f.appointment(s, "09:00")
	late1 := f.appointment(s, "09:30")
	late2 := f.appointment(s, "10:15")

	res, err := f.svc.Resolve(ctx, ResolveRequest{SlotID: s.ID, Type: ResolutionSplitSlot, ResolvedBy: "ops"})
	require.NoError(t, err)

	d := data(t, res)
	assert.Equal(t, "09:30", d["split_time"])
	childID := uuid.MustParse(d["new_slot"].(string))

	orig, _ := f.store.Slot(s.ID)
	child, ok := f.store.Slot(childID)
	require.True(t, ok)

	assert.Equal(t, s.Capacity, orig.Capacity+child.Capacity)
	assert.Equal(t, 2, orig.Capacity)
	assert.Equal(t, 3, child.Capacity)
	assert.Equal(t, capacity.MustClock("09:30"), orig.End)
	assert.Equal(t, capacity.MustClock("09:30"), child.Start)
	assert.Equal(t, capacity.MustClock("11:00"), child.End)
	assert.Equal(t, 1, orig.Booked)
	assert.Equal(t, 2, child.Booked)
	assert.Equal(t, s.DoctorID, child.DoctorID)
	assert.Equal(t, s.SpecialtyID, child.SpecialtyID)

	byID := map[uuid.UUID]capacity.Appointment{}
	for _, a := range f.store.Appointments() {
		byID[a.ID] = a
	}
	assert.Equal(t, s.ID, byID[early.ID].SlotID)
	assert.Equal(t, childID, byID[late1.ID].SlotID)
	assert.Equal(t, childID, byID[late2.ID].SlotID)

	require.Len(t, f.events.OfType(EventResolved), 1)
	assert.Contains(t, f.store.EventTypes(), capacity.EventConflictResolved)
}

func TestResolve_SplitRejections(t *testing.T) {
	ctx := context.Background()

	t.Run("too short", func(t *testing.T) {
		f := newFixture(t)
		s := f.slot("2025-06-03", "09:00", "09:30", 2, 0)
		_, err := f.svc.Resolve(ctx, ResolveRequest{SlotID: s.ID, Type: ResolutionSplitSlot})
		assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	})

	t.Run("first half overfilled", func(t *testing.T) {
		f := newFixture(t)
		s := f.slot("2025-06-03", "09:00", "10:00", 3, 2)
		f.appointment(s, "09:00")
		f.appointment(s, "09:10")

		_, err := f.svc.Resolve(ctx, ResolveRequest{SlotID: s.ID, Type: ResolutionSplitSlot})
		require.Equal(t, apperr.KindConflict, apperr.KindOf(err))

		assert.Len(t, f.store.Slots(), 1)
		got, _ := f.store.Slot(s.ID)
		assert.Equal(t, s.End, got.End)
		assert.Equal(t, 3, got.Capacity)

		page, err := f.svc.Resolutions(ctx, 10, 0)
		require.NoError(t, err)
		assert.Zero(t, page.Total)
	})
}

func TestResolve_SplitCountsCounterUnitsWithoutAppointments(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.slot("2025-06-03", "09:00", "10:00", 2, 3)

	_, err := f.svc.Resolve(ctx, ResolveRequest{SlotID: s.ID, Type: ResolutionSplitSlot})
	require.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	require.Len(t, f.store.Slots(), 1)
	got, _ := f.store.Slot(s.ID)
	assert.Equal(t, 2, got.Capacity)
	assert.Equal(t, 3, got.Booked)
	assert.Equal(t, s.End, got.End)
}

func TestResolve_SplitKeepsCompletedAndUntrackedUnits(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.slot("2025-06-03", "09:00", "11:00", 4, 3)
	done := f.store.PutAppointment(capacity.Appointment{
		PatientID:   uuid.New(),
		SlotID:      s.ID,
		DoctorID:    s.DoctorID,
		SpecialtyID: s.SpecialtyID,
		ScheduledAt: capacity.At(s.Date, capacity.MustClock("10:00")),
		Status:      capacity.StatusCompleted,
	})
	late := f.appointment(s, "10:30")

	res, err := f.svc.Resolve(ctx, ResolveRequest{SlotID: s.ID, Type: ResolutionSplitSlot})
	require.NoError(t, err)
	childID := uuid.MustParse(data(t, res)["new_slot"].(string))

	orig, _ := f.store.Slot(s.ID)
	child, _ := f.store.Slot(childID)
	assert.Equal(t, 1, orig.Booked)
	assert.Equal(t, 2, child.Booked)
	assert.Equal(t, s.Booked, orig.Booked+child.Booked)
	assert.Equal(t, capacity.SlotFull, child.Status)

	for _, a := range f.store.Appointments() {
		if a.ID == done.ID || a.ID == late.ID {
			assert.Equal(t, childID, a.SlotID)
		}
	}
}

func TestResolve_Reschedule(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.slot("2025-06-03", "09:00", "10:00", 2, 1)
	a := f.appointment(s, "09:30")
	done := f.store.PutAppointment(capacity.Appointment{
		PatientID:   uuid.New(),
		SlotID:      s.ID,
		DoctorID:    s.DoctorID,
		ScheduledAt: capacity.At(s.Date, capacity.MustClock("09:00")),
		Status:      capacity.StatusCompleted,
	})
	gone := f.store.PutAppointment(capacity.Appointment{
		PatientID:   uuid.New(),
		SlotID:      s.ID,
		DoctorID:    s.DoctorID,
		ScheduledAt: capacity.At(s.Date, capacity.MustClock("09:15")),
		Status:      capacity.StatusCancelled,
	})
	f.slot("2025-06-04", "08:00", "09:00", 2, 0)

	date := capacity.MustDate("2025-06-04")
	at := capacity.MustClock("09:00")
	res, err := f.svc.Resolve(ctx, ResolveRequest{SlotID: s.ID, Type: ResolutionReschedule, NewDate: &date, NewTime: &at})
	require.NoError(t, err)
	assert.Equal(t, "2025-06-04", data(t, res)["new_date"])

	got, _ := f.store.Slot(s.ID)
	assert.True(t, got.Date.Equal(date))
	assert.Equal(t, capacity.MustClock("09:00"), got.Start)
	assert.Equal(t, capacity.MustClock("10:00"), got.End)

	want := map[uuid.UUID]time.Time{
		a.ID:    time.Date(2025, 6, 4, 9, 30, 0, 0, time.UTC),
		done.ID: time.Date(2025, 6, 4, 9, 0, 0, 0, time.UTC),
		gone.ID: time.Date(2025, 6, 3, 9, 15, 0, 0, time.UTC),
	}
	for _, x := range f.store.Appointments() {
		if at, ok := want[x.ID]; ok {
			assert.Equal(t, at, x.ScheduledAt, x.Status)
		}
	}
}

func TestResolve_RescheduleRejections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.slot("2025-06-03", "09:00", "10:00", 2, 0)
	f.slot("2025-06-04", "09:30", "10:30", 2, 0)
	date := capacity.MustDate("2025-06-04")

	t.Run("missing fields", func(t *testing.T) {
		_, err := f.svc.Resolve(ctx, ResolveRequest{SlotID: s.ID, Type: ResolutionReschedule, NewDate: &date})
		var ae *apperr.Error
		require.True(t, errors.As(err, &ae))
		assert.Equal(t, apperr.KindValidation, ae.Kind)
		assert.Contains(t, ae.Fields, "new_time")
	})

	t.Run("overlap", func(t *testing.T) {
		at := capacity.MustClock("09:00")
		_, err := f.svc.Resolve(ctx, ResolveRequest{SlotID: s.ID, Type: ResolutionReschedule, NewDate: &date, NewTime: &at})
		assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	})

	t.Run("crosses midnight", func(t *testing.T) {
		at := capacity.MustClock("23:30")
		_, err := f.svc.Resolve(ctx, ResolveRequest{SlotID: s.ID, Type: ResolutionReschedule, NewDate: &date, NewTime: &at})
		assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	})

	got, _ := f.store.Slot(s.ID)
	assert.Equal(t, capacity.MustDate("2025-06-03"), got.Date)
}

func TestResolve_CancelCascades(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.slot("2025-06-03", "09:00", "10:00", 2, 2)
	f.appointment(s, "09:00")
	f.appointment(s, "09:30")

	res, err := f.svc.Resolve(ctx, ResolveRequest{SlotID: s.ID, Type: ResolutionCancel})
	require.NoError(t, err)
	assert.EqualValues(t, 2, data(t, res)["affected_appointments"])

	_, ok := f.store.Slot(s.ID)
	assert.False(t, ok)
	for _, a := range f.store.Appointments() {
		assert.Equal(t, capacity.StatusCancelled, a.Status)
		assert.Contains(t, a.Notes, "Cancelado por conflicto de agenda")
	}

	// Cancelled appointments of a deleted slot are not orphans.
	report, err := f.svc.Detect(ctx, DetectRequest{})
	require.NoError(t, err)
	assert.Zero(t, report.Summary.ByType[OrphanedAppointment])
}

func TestResolve_RollsBackWhenAuditInsertFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.slot("2025-06-03", "09:00", "10:00", 2, 2)
	f.appointment(s, "09:00")
	f.store.FailOn["InsertResolution"] = errors.New("disk full")

	_, err := f.svc.Resolve(ctx, ResolveRequest{SlotID: s.ID, Type: ResolutionCancel})
	require.Error(t, err)
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))

	_, ok := f.store.Slot(s.ID)
	assert.True(t, ok)
	for _, a := range f.store.Appointments() {
		assert.Equal(t, capacity.StatusConfirmed, a.Status)
	}
	assert.Empty(t, f.events.Events())
}

func TestResolve_UnknownSlotAndType(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Resolve(context.Background(), ResolveRequest{SlotID: uuid.New(), Type: ResolutionCancel})
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	_, err = f.svc.Resolve(context.Background(), ResolveRequest{SlotID: uuid.New(), Type: "merge"})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestResolutions_NewestFirstAndPaged(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	var ids []uuid.UUID
	for _, start := range []string{"07:00", "08:00", "09:00"} {
		end := capacity.MustClock(start).Add(30).String()
		s := f.slot("2025-06-03", start, end, 1, 2)
		ids = append(ids, s.ID)
		_, err := f.svc.Resolve(ctx, ResolveRequest{SlotID: s.ID, Type: ResolutionIncreaseCapacity})
		require.NoError(t, err)
	}

	page, err := f.svc.Resolutions(ctx, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	require.Len(t, page.Resolutions, 2)
	assert.Equal(t, ids[2], page.Resolutions[0].SlotID)
	assert.Equal(t, ids[1], page.Resolutions[1].SlotID)

	page, err = f.svc.Resolutions(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, page.Resolutions, 1)
	assert.Equal(t, ids[0], page.Resolutions[0].SlotID)
}
