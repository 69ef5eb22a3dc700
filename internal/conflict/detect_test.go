package conflict

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-capacity-engine/internal/capacity"
)

func mkSlot(doctor uuid.UUID, date, start, end string, capacityUnits, booked int) capacity.Slot {
	return capacity.Slot{
		ID:          uuid.New(),
		DoctorID:    doctor,
		SpecialtyID: uuid.Nil,
		Date:        capacity.MustDate(date),
		Start:       capacity.MustClock(start),
		End:         capacity.MustClock(end),
		Capacity:    capacityUnits,
		Booked:      booked,
	}
}

func TestDetect_Overbooking(t *testing.T) {
	doc := uuid.New()
	over := mkSlot(doc, "2025-06-03", "09:00", "10:00", 2, 3)
	ok := mkSlot(doc, "2025-06-03", "10:00", "11:00", 2, 2)

	got := Detect(Snapshot{Slots: []capacity.Slot{over, ok}}, time.Now())

	require.Len(t, got, 1)
	assert.Equal(t, Overbooking, got[0].Type)
	assert.Equal(t, SeverityHigh, got[0].Severity)
	assert.Equal(t, over.ID, *got[0].SlotID)
	assert.Equal(t, 1, got[0].Overflow)
}

func TestDetect_OverlapsReportedOncePerPair(t *testing.T) {
	doc := uuid.New()
	a := mkSlot(doc, "2025-06-03", "09:00", "11:00", 4, 0)
	b := mkSlot(doc, "2025-06-03", "10:00", "12:00", 4, 0)
	c := mkSlot(doc, "2025-06-03", "10:30", "10:45", 4, 0)
	// Touching intervals do not overlap.
	d := mkSlot(doc, "2025-06-03", "12:00", "13:00", 4, 0)
	// Other doctor, other date.
	e := mkSlot(uuid.New(), "2025-06-03", "09:00", "11:00", 4, 0)
	f := mkSlot(doc, "2025-06-04", "09:00", "11:00", 4, 0)

	got := Detect(Snapshot{Slots: []capacity.Slot{d, c, b, a, e, f}}, time.Now())

	pairs := map[[2]uuid.UUID]bool{}
	for _, cf := range got {
		require.Equal(t, OverlappingSlots, cf.Type)
		assert.Equal(t, SeverityMedium, cf.Severity)
		pairs[[2]uuid.UUID{*cf.SlotID, *cf.OtherSlotID}] = true
	}
	assert.Len(t, got, 3)
	assert.True(t, pairs[[2]uuid.UUID{a.ID, b.ID}])
	assert.True(t, pairs[[2]uuid.UUID{a.ID, c.ID}])
	assert.True(t, pairs[[2]uuid.UUID{b.ID, c.ID}])
}

func TestDetect_OrphanedAppointments(t *testing.T) {
	appt := capacity.Appointment{
		ID:          uuid.New(),
		SlotID:      uuid.New(),
		DoctorID:    uuid.New(),
		ScheduledAt: time.Date(2025, 6, 3, 9, 30, 0, 0, time.UTC),
	}

	got := Detect(Snapshot{Orphans: []capacity.Appointment{appt}}, time.Now())

	require.Len(t, got, 1)
	assert.Equal(t, OrphanedAppointment, got[0].Type)
	assert.Equal(t, SeverityHigh, got[0].Severity)
	assert.Equal(t, appt.ID, *got[0].AppointmentID)
	assert.Equal(t, "2025-06-03", got[0].Date)
	assert.Equal(t, "09:30", got[0].Start.String())
}

func TestDetect_CapacityInefficiency(t *testing.T) {
	doc := uuid.New()
	busy := uuid.New()

	small := mkSlot(doc, "2025-06-03", "09:00", "10:00", 2, 2)
	small.SpecialtyID = busy
	notFull := mkSlot(doc, "2025-06-03", "10:00", "11:00", 2, 1)
	notFull.SpecialtyID = busy
	big := mkSlot(doc, "2025-06-03", "11:00", "12:00", 3, 3)
	big.SpecialtyID = busy
	noQueue := mkSlot(doc, "2025-06-03", "12:00", "13:00", 1, 1)
	noQueue.SpecialtyID = uuid.New()

	snap := Snapshot{
		Slots:   []capacity.Slot{small, notFull, big, noQueue},
		Waiting: map[uuid.UUID]int{busy: 4},
	}
	got := Detect(snap, time.Now())

	require.Len(t, got, 1)
	assert.Equal(t, CapacityInefficiency, got[0].Type)
	assert.Equal(t, SeverityLow, got[0].Severity)
	assert.Equal(t, small.ID, *got[0].SlotID)
	assert.Equal(t, 4, got[0].WaitingCount)
}

func TestSummarize(t *testing.T) {
	doc := uuid.New()
	snap := Snapshot{
		Slots: []capacity.Slot{
			mkSlot(doc, "2025-06-03", "09:00", "10:00", 1, 2),
			mkSlot(doc, "2025-06-03", "09:30", "10:30", 4, 0),
		},
		Orphans: []capacity.Appointment{{ID: uuid.New(), SlotID: uuid.New()}},
	}

	s := Summarize(Detect(snap, time.Now()))

	assert.Equal(t, 3, s.Total)
	assert.Equal(t, 1, s.ByType[Overbooking])
	assert.Equal(t, 1, s.ByType[OverlappingSlots])
	assert.Equal(t, 1, s.ByType[OrphanedAppointment])
	assert.Equal(t, 0, s.ByType[CapacityInefficiency])
	assert.Equal(t, 2, s.BySeverity[SeverityHigh])
	assert.Equal(t, 1, s.BySeverity[SeverityMedium])
	assert.Equal(t, 0, s.BySeverity[SeverityLow])
}

func TestDetect_EmptySnapshot(t *testing.T) {
	assert.Empty(t, Detect(Snapshot{}, time.Now()))
	assert.Equal(t, 0, Summarize(nil).Total)
}
