package matcher

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-capacity-engine/internal/capacity"
)

var today = capacity.MustDate("2025-06-02")

func slot(date string, start, end string, capacityUnits, booked int) capacity.Slot {
	return capacity.Slot{
		ID:          uuid.New(),
		DoctorID:    uuid.New(),
		LocationID:  uuid.New(),
		SpecialtyID: uuid.New(),
		Date:        capacity.MustDate(date),
		Start:       capacity.MustClock(start),
		End:         capacity.MustClock(end),
		Capacity:    capacityUnits,
		Booked:      booked,
	}
}

func TestParseWindow(t *testing.T) {
	w, err := ParseWindow("09:00-12:00")
	require.NoError(t, err)
	assert.True(t, w.Contains(capacity.MustClock("09:00")))
	assert.True(t, w.Contains(capacity.MustClock("11:59")))
	assert.False(t, w.Contains(capacity.MustClock("12:00")))
	assert.Equal(t, "09:00-12:00", w.String())

	for _, bad := range []string{"09:00", "12:00-09:00", "9-12", "09:00-25:00"} {
		_, err := ParseWindow(bad)
		assert.Error(t, err, bad)
	}
}

func TestEnumerate_StepsByDuration(t *testing.T) {
	s := slot("2025-06-02", "09:00", "10:40", 5, 0)

	cands := Enumerate([]capacity.Slot{s}, 30)
	require.Len(t, cands, 3)
	assert.Equal(t, "09:00", cands[0].Start.String())
	assert.Equal(t, "09:30", cands[1].Start.String())
	assert.Equal(t, "10:00", cands[2].Start.String())

	assert.Len(t, Enumerate([]capacity.Slot{s}, 100), 1)
	assert.Empty(t, Enumerate([]capacity.Slot{s}, 120))
}

func TestScore_Factors(t *testing.T) {
	w := DefaultWeights()
	s := slot("2025-06-03", "09:00", "12:00", 5, 1)
	c := Candidate{Slot: s, Start: capacity.MustClock("09:30")}

	// Headroom 4 free => 20, next day => 8.
	assert.Equal(t, 28, Score(c, Criteria{}, today, w))

	crit := Criteria{
		DoctorID:         &s.DoctorID,
		LocationID:       &s.LocationID,
		PreferredWindows: []Window{{Start: capacity.MustClock("09:00"), End: capacity.MustClock("10:00")}},
	}
	assert.Equal(t, 50+30+20+20+8, Score(c, crit, today, w))

	other := uuid.New()
	assert.Equal(t, 28, Score(c, Criteria{DoctorID: &other}, today, w))
}

func TestScore_Tiers(t *testing.T) {
	w := DefaultWeights()

	headroom := []struct {
		capacity, booked, want int
	}{
		{5, 2, 20}, {5, 3, 15}, {5, 4, 10}, {5, 5, 5},
	}
	for _, h := range headroom {
		c := Candidate{Slot: slot("2025-06-02", "09:00", "10:00", h.capacity, h.booked)}
		assert.Equal(t, h.want+10, Score(c, Criteria{}, today, w), "free %d", h.capacity-h.booked)
	}

	proximity := map[string]int{
		"2025-06-02": 10,
		"2025-06-03": 8,
		"2025-06-04": 6,
		"2025-06-09": 4,
		"2025-06-10": 2,
	}
	for date, want := range proximity {
		c := Candidate{Slot: slot(date, "09:00", "10:00", 1, 0)}
		assert.Equal(t, want+10, Score(c, Criteria{}, today, w), date)
	}
}

func TestSelect(t *testing.T) {
	early := Candidate{Slot: slot("2025-06-02", "14:00", "15:00", 1, 0), Start: capacity.MustClock("14:00"), Score: 20}
	earlier := Candidate{Slot: slot("2025-06-02", "08:00", "09:00", 1, 0), Start: capacity.MustClock("08:00"), Score: 20}
	best := Candidate{Slot: slot("2025-06-05", "10:00", "11:00", 1, 0), Start: capacity.MustClock("10:00"), Score: 80}

	cands := []Candidate{best, early, earlier}

	got, ok := Select(cands, capacity.LevelMedia)
	require.True(t, ok)
	assert.Equal(t, best.Slot.ID, got.Slot.ID)

	got, _ = Select(cands, capacity.LevelUrgente)
	assert.Equal(t, earlier.Slot.ID, got.Slot.ID, "urgent ignores score")

	tied := []Candidate{early, earlier}
	got, _ = Select(tied, capacity.LevelAlta)
	assert.Equal(t, earlier.Slot.ID, got.Slot.ID, "ties go to the earliest time")

	_, ok = Select(nil, capacity.LevelMedia)
	assert.False(t, ok)
}

func TestRank_OrdersByScoreThenTime(t *testing.T) {
	w := DefaultWeights()
	doctor := uuid.New()

	preferred := slot("2025-06-06", "09:00", "10:00", 1, 0)
	preferred.DoctorID = doctor
	plain := slot("2025-06-02", "09:00", "10:00", 1, 0)

	ranked := Rank(Enumerate([]capacity.Slot{plain, preferred}, 30), Criteria{DoctorID: &doctor}, today, w)
	require.Len(t, ranked, 4)
	assert.Equal(t, preferred.ID, ranked[0].Slot.ID)
	assert.Equal(t, "09:00", ranked[0].Start.String())
	assert.Equal(t, "09:30", ranked[1].Start.String())
	assert.Equal(t, plain.ID, ranked[2].Slot.ID)
}
