package distribution

import (
	"errors"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-capacity-engine/internal/capacity"
)

func sum(xs []int) int {
	n := 0
	for _, x := range xs {
		n += x
	}
	return n
}

func TestWorkingDays(t *testing.T) {
	// 2025-06-02 is a Monday.
	from := capacity.MustDate("2025-06-02")
	to := capacity.MustDate("2025-06-15")

	tests := []struct {
		name string
		ex   Exclusions
		want int
	}{
		{"all days", Exclusions{}, 14},
		{"weekdays", Exclusions{Weekends: true}, 10},
		{"weekdays minus holiday", Exclusions{
			Weekends: true,
			Holidays: map[time.Time]bool{capacity.MustDate("2025-06-09"): true},
		}, 9},
		{"custom on a weekend is not double counted", Exclusions{
			Weekends: true,
			Custom: map[time.Time]bool{
				capacity.MustDate("2025-06-07"): true,
				capacity.MustDate("2025-06-10"): true,
			},
		}, 9},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			days := WorkingDays(from, to, tt.ex)
			assert.Len(t, days, tt.want)
			for i := 1; i < len(days); i++ {
				assert.True(t, days[i].After(days[i-1]))
			}
		})
	}

	assert.Empty(t, WorkingDays(to, from, Exclusions{}))
}

func TestBalanced(t *testing.T) {
	got, err := Balanced(17, 5, 0)
	require.NoError(t, err)
	assert.Equal(t, []int{4, 4, 3, 3, 3}, got)
	assert.Equal(t, 17, sum(got))

	got, err = Balanced(3, 5, 0)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1, 1, 0, 0}, got)

	got, err = Balanced(20, 5, 4)
	require.NoError(t, err)
	assert.Equal(t, []int{4, 4, 4, 4, 4}, got)
}

func TestBalanced_Infeasible(t *testing.T) {
	_, err := Balanced(21, 5, 4)
	assert.True(t, errors.Is(err, ErrInfeasible))

	_, err = Balanced(5, 0, 0)
	assert.Error(t, err)
}

func TestRandom_PlacesExactlyTotalUnderCap(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))

	for _, tt := range []struct{ total, days, max int }{
		{17, 5, 0},
		{20, 5, 4}, // every day ends at the cap
		{1, 30, 1},
		{100, 7, 15},
	} {
		got, err := Random(tt.total, tt.days, tt.max, rng.IntN)
		require.NoError(t, err)
		assert.Len(t, got, tt.days)
		assert.Equal(t, tt.total, sum(got))
		if tt.max > 0 {
			for _, n := range got {
				assert.LessOrEqual(t, n, tt.max)
			}
		}
	}
}

func TestRandom_Infeasible(t *testing.T) {
	_, err := Random(11, 2, 5, rand.IntN)
	assert.True(t, errors.Is(err, ErrInfeasible))
}

func TestMode(t *testing.T) {
	assert.True(t, ModeBalanced.Valid())
	assert.True(t, ModeRandom.Valid())
	assert.False(t, Mode("weighted").Valid())
}
