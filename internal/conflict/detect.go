package conflict

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-capacity-engine/internal/capacity"
)

type Type string

const (
	Overbooking          Type = "overbooking"
	OverlappingSlots     Type = "overlapping_slots"
	OrphanedAppointment  Type = "orphaned_appointment"
	CapacityInefficiency Type = "capacity_inefficiency"
)

type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// inefficientBelow is the capacity under which a full slot with patients
// waiting for its specialty is reported.
const inefficientBelow = 3

// Conflict is a detected invariant violation. Conflicts have no identity of
// their own: each pass recomputes them from the store.
type Conflict struct {
	Type          Type            `json:"conflict_type"`
	Severity      Severity        `json:"severity"`
	SlotID        *uuid.UUID      `json:"slot_id,omitempty"`
	OtherSlotID   *uuid.UUID      `json:"other_slot_id,omitempty"`
	AppointmentID *uuid.UUID      `json:"appointment_id,omitempty"`
	DoctorID      *uuid.UUID      `json:"doctor_id,omitempty"`
	SpecialtyID   *uuid.UUID      `json:"specialty_id,omitempty"`
	Date          string          `json:"date,omitempty"`
	Start         *capacity.Clock `json:"start_time,omitempty"`
	End           *capacity.Clock `json:"end_time,omitempty"`
	OtherStart    *capacity.Clock `json:"other_start_time,omitempty"`
	OtherEnd      *capacity.Clock `json:"other_end_time,omitempty"`
	Capacity      int             `json:"capacity,omitempty"`
	Booked        int             `json:"booked_slots,omitempty"`
	Overflow      int             `json:"overflow,omitempty"`
	WaitingCount  int             `json:"waiting_list_count,omitempty"`
	DetectedAt    time.Time       `json:"detected_at"`
}

// Snapshot is the store state one detection pass looks at.
type Snapshot struct {
	Slots   []capacity.Slot
	Orphans []capacity.Appointment
	// Waiting counts waiting queue entries per specialty.
	Waiting map[uuid.UUID]int
}

func ref[T any](v T) *T { return &v }

func slotConflict(t Type, sev Severity, s capacity.Slot, at time.Time) Conflict {
	return Conflict{
		Type:        t,
		Severity:    sev,
		SlotID:      ref(s.ID),
		DoctorID:    ref(s.DoctorID),
		SpecialtyID: ref(s.SpecialtyID),
		Date:        s.Date.Format(capacity.DateLayout),
		Start:       ref(s.Start),
		End:         ref(s.End),
		Capacity:    s.Capacity,
		Booked:      s.Booked,
		DetectedAt:  at,
	}
}

// Detect runs every check over the snapshot. It has no side effects.
// Results are grouped by type in the order overbooking, overlapping,
// orphaned, inefficiency.
func Detect(snap Snapshot, at time.Time) []Conflict {
	var out []Conflict
	out = append(out, detectOverbooking(snap.Slots, at)...)
	out = append(out, detectOverlaps(snap.Slots, at)...)
	out = append(out, detectOrphans(snap.Orphans, at)...)
	out = append(out, detectInefficiency(snap.Slots, snap.Waiting, at)...)
	return out
}

func detectOverbooking(slots []capacity.Slot, at time.Time) []Conflict {
	var out []Conflict
	for _, s := range slots {
		if s.Booked > s.Capacity {
			c := slotConflict(Overbooking, SeverityHigh, s, at)
			c.Overflow = s.Booked - s.Capacity
			out = append(out, c)
		}
	}
	return out
}

// detectOverlaps reports each intersecting pair of a doctor's slots on the
// same date once.
func detectOverlaps(slots []capacity.Slot, at time.Time) []Conflict {
	sorted := append([]capacity.Slot(nil), slots...)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.DoctorID != b.DoctorID {
			return a.DoctorID.String() < b.DoctorID.String()
		}
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		return a.ID.String() < b.ID.String()
	})

	var out []Conflict
	for i := range sorted {
		for j := i + 1; j < len(sorted); j++ {
			a, b := sorted[i], sorted[j]
			if a.DoctorID != b.DoctorID || !a.Date.Equal(b.Date) || b.Start >= a.End {
				// Sorted by start: nothing later in the group can overlap a.
				break
			}
			if !a.Overlaps(b) {
				continue
			}
			c := slotConflict(OverlappingSlots, SeverityMedium, a, at)
			c.OtherSlotID = ref(b.ID)
			c.OtherStart = ref(b.Start)
			c.OtherEnd = ref(b.End)
			out = append(out, c)
		}
	}
	return out
}

func detectOrphans(orphans []capacity.Appointment, at time.Time) []Conflict {
	var out []Conflict
	for _, a := range orphans {
		start := capacity.ClockOf(a.ScheduledAt)
		out = append(out, Conflict{
			Type:          OrphanedAppointment,
			Severity:      SeverityHigh,
			SlotID:        ref(a.SlotID),
			AppointmentID: ref(a.ID),
			DoctorID:      ref(a.DoctorID),
			SpecialtyID:   ref(a.SpecialtyID),
			Date:          a.ScheduledAt.Format(capacity.DateLayout),
			Start:         &start,
			DetectedAt:    at,
		})
	}
	return out
}

func detectInefficiency(slots []capacity.Slot, waiting map[uuid.UUID]int, at time.Time) []Conflict {
	var out []Conflict
	for _, s := range slots {
		n := waiting[s.SpecialtyID]
		if s.Capacity < inefficientBelow && s.Booked >= s.Capacity && n > 0 {
			c := slotConflict(CapacityInefficiency, SeverityLow, s, at)
			c.WaitingCount = n
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].WaitingCount > out[j].WaitingCount })
	return out
}

type Summary struct {
	Total      int              `json:"total_conflicts"`
	ByType     map[Type]int     `json:"by_type"`
	BySeverity map[Severity]int `json:"by_severity"`
}

func Summarize(conflicts []Conflict) Summary {
	s := Summary{
		Total: len(conflicts),
		ByType: map[Type]int{
			Overbooking: 0, OverlappingSlots: 0, OrphanedAppointment: 0, CapacityInefficiency: 0,
		},
		BySeverity: map[Severity]int{SeverityHigh: 0, SeverityMedium: 0, SeverityLow: 0},
	}
	for _, c := range conflicts {
		s.ByType[c.Type]++
		s.BySeverity[c.Severity]++
	}
	return s
}
