package distribution

import (
	"errors"
	"fmt"
	"time"

	"github.com/hackgods/clinic-capacity-engine/internal/capacity"
)

type Mode string

const (
	ModeRandom   Mode = "random"
	ModeBalanced Mode = "balanced"
)

func (m Mode) Valid() bool {
	return m == ModeRandom || m == ModeBalanced
}

var ErrInfeasible = errors.New("total capacity does not fit under the daily maximum")

// Exclusions selects which dates of a range are not working days.
type Exclusions struct {
	Weekends bool
	Holidays map[time.Time]bool
	Custom   map[time.Time]bool
}

// WorkingDays lists the dates in [from,to] that survive the exclusions,
// in date order.
func WorkingDays(from, to time.Time, ex Exclusions) []time.Time {
	var days []time.Time
	for d := capacity.DateOf(from); !d.After(capacity.DateOf(to)); d = d.AddDate(0, 0, 1) {
		if ex.Weekends && (d.Weekday() == time.Saturday || d.Weekday() == time.Sunday) {
			continue
		}
		if ex.Holidays[d] || ex.Custom[d] {
			continue
		}
		days = append(days, d)
	}
	return days
}

func feasible(total, days, maxDaily int) error {
	if days == 0 {
		return errors.New("no working days")
	}
	if maxDaily > 0 && maxDaily*days < total {
		return fmt.Errorf("%w: %d days x %d < %d", ErrInfeasible, days, maxDaily, total)
	}
	return nil
}

// Balanced gives every day floor(total/days) and the first total%days days
// one more. When the daily maximum admits the total, no day exceeds it.
func Balanced(total, days, maxDaily int) ([]int, error) {
	if err := feasible(total, days, maxDaily); err != nil {
		return nil, err
	}

	base, extra := total/days, total%days
	out := make([]int, days)
	for i := range out {
		out[i] = base
		if i < extra {
			out[i]++
		}
	}
	return out, nil
}

// Random places total units one at a time on a uniformly drawn day. Days at
// the daily maximum leave the draw, so the loop always ends after total
// draws. intn must return a value in [0,n).
func Random(total, days, maxDaily int, intn func(n int) int) ([]int, error) {
	if err := feasible(total, days, maxDaily); err != nil {
		return nil, err
	}

	out := make([]int, days)
	open := make([]int, days)
	for i := range open {
		open[i] = i
	}

	for placed := 0; placed < total; placed++ {
		k := intn(len(open))
		day := open[k]
		out[day]++
		if maxDaily > 0 && out[day] >= maxDaily {
			open[k] = open[len(open)-1]
			open = open[:len(open)-1]
		}
	}
	return out, nil
}
