package matcher

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-capacity-engine/internal/capacity"
)

// Window is a preferred time range, start inclusive and end exclusive.
type Window struct {
	Start capacity.Clock
	End   capacity.Clock
}

// ParseWindow parses "09:00-12:00".
func ParseWindow(s string) (Window, error) {
	from, to, ok := strings.Cut(s, "-")
	if !ok {
		return Window{}, fmt.Errorf("invalid time window %q, want HH:MM-HH:MM", s)
	}
	start, err := capacity.ParseClock(strings.TrimSpace(from))
	if err != nil {
		return Window{}, err
	}
	end, err := capacity.ParseClock(strings.TrimSpace(to))
	if err != nil {
		return Window{}, err
	}
	if end <= start {
		return Window{}, fmt.Errorf("invalid time window %q, end must be after start", s)
	}
	return Window{Start: start, End: end}, nil
}

func (w Window) Contains(c capacity.Clock) bool {
	return c >= w.Start && c < w.End
}

func (w Window) String() string {
	return w.Start.String() + "-" + w.End.String()
}

// Criteria is what a patient asked for. Doctor and location are scored
// preferences, never filters.
type Criteria struct {
	SpecialtyID      uuid.UUID
	LocationID       *uuid.UUID
	DoctorID         *uuid.UUID
	DurationMinutes  int
	SearchDays       int
	PreferredWindows []Window
}

// Candidate is one bookable start time inside a slot.
type Candidate struct {
	Slot  capacity.Slot
	Start capacity.Clock
	Score int
}

func (c Candidate) StartAt() time.Time {
	return capacity.At(c.Slot.Date, c.Start)
}

// Enumerate steps through each slot from start to end-duration in
// duration-sized increments.
func Enumerate(slots []capacity.Slot, duration int) []Candidate {
	if duration <= 0 {
		return nil
	}

	var out []Candidate
	for _, s := range slots {
		for t := s.Start; t.Add(duration) <= s.End; t = t.Add(duration) {
			out = append(out, Candidate{Slot: s, Start: t})
		}
	}
	return out
}

// Score rates a candidate against the criteria. today is the clinic's
// current civil date.
func Score(c Candidate, crit Criteria, today time.Time, w Weights) int {
	score := 0

	if crit.DoctorID != nil && *crit.DoctorID == c.Slot.DoctorID {
		score += w.DoctorMatch
	}
	if crit.LocationID != nil && *crit.LocationID == c.Slot.LocationID {
		score += w.LocationMatch
	}

	score += w.headroom(c.Slot.Free())

	for _, win := range crit.PreferredWindows {
		if win.Contains(c.Start) {
			score += w.PreferredTime
			break
		}
	}

	score += w.proximity(capacity.DaysBetween(today, c.Slot.Date))
	return score
}

// Rank scores every candidate and orders them best first: score desc, then
// earliest date, then earliest time.
func Rank(cands []Candidate, crit Criteria, today time.Time, w Weights) []Candidate {
	out := make([]Candidate, len(cands))
	for i, c := range cands {
		c.Score = Score(c, crit, today, w)
		out[i] = c
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return earlier(out[i], out[j])
	})
	return out
}

func earlier(a, b Candidate) bool {
	if !a.Slot.Date.Equal(b.Slot.Date) {
		return a.Slot.Date.Before(b.Slot.Date)
	}
	return a.Start < b.Start
}

// Select picks the candidate to book. Urgente takes the earliest candidate
// regardless of score; every other level takes the highest score with ties
// going to the earliest date, then the earliest time.
func Select(cands []Candidate, level capacity.PriorityLevel) (Candidate, bool) {
	if len(cands) == 0 {
		return Candidate{}, false
	}

	best := cands[0]
	for _, c := range cands[1:] {
		if level == capacity.LevelUrgente {
			if earlier(c, best) {
				best = c
			}
			continue
		}
		if c.Score > best.Score || (c.Score == best.Score && earlier(c, best)) {
			best = c
		}
	}
	return best, true
}
