package matcher

// Weights are the points a candidate earns for each matching factor.
// Scores are additive; the defaults top out at 130.
type Weights struct {
	// DoctorMatch applies when the slot's doctor is the preferred doctor.
	DoctorMatch int
	// LocationMatch applies when the slot is at the preferred location.
	LocationMatch int

	// Headroom tiers, by free units left in the slot: >=3, >=2, >=1, none.
	HeadroomHigh   int
	HeadroomMedium int
	HeadroomLow    int
	HeadroomNone   int

	// PreferredTime applies when the candidate start falls in a preferred window.
	PreferredTime int

	// Day proximity tiers, by days from today: 0, 1, 2, <=7, later.
	SameDay    int
	NextDay    int
	TwoDays    int
	WithinWeek int
	Later      int
}

func DefaultWeights() Weights {
	return Weights{
		DoctorMatch:    50,
		LocationMatch:  30,
		HeadroomHigh:   20,
		HeadroomMedium: 15,
		HeadroomLow:    10,
		HeadroomNone:   5,
		PreferredTime:  20,
		SameDay:        10,
		NextDay:        8,
		TwoDays:        6,
		WithinWeek:     4,
		Later:          2,
	}
}

func (w Weights) headroom(free int) int {
	switch {
	case free >= 3:
		return w.HeadroomHigh
	case free >= 2:
		return w.HeadroomMedium
	case free >= 1:
		return w.HeadroomLow
	default:
		return w.HeadroomNone
	}
}

func (w Weights) proximity(days int) int {
	switch {
	case days <= 0:
		return w.SameDay
	case days == 1:
		return w.NextDay
	case days == 2:
		return w.TwoDays
	case days <= 7:
		return w.WithinWeek
	default:
		return w.Later
	}
}
