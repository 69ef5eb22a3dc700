package conflict

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-capacity-engine/internal/apperr"
	"github.com/hackgods/clinic-capacity-engine/internal/capacity"
	"github.com/hackgods/clinic-capacity-engine/internal/notify"
)

const EventResolved = "conflict.resolved"

const (
	ResolutionIncreaseCapacity = "increase_capacity"
	ResolutionSplitSlot        = "split_slot"
	ResolutionReschedule       = "reschedule"
	ResolutionCancel           = "cancel"
)

const (
	ResolvedByAutoFix = "auto_fix"
	resolvedBySystem  = "system"
)

const (
	// splitOffset is where split_slot cuts a slot, measured from its start.
	splitOffset = 30

	// defaultHorizon bounds a detection pass when no date_to is given.
	defaultHorizon = 365

	cancelNote = " - Cancelado por conflicto de agenda"

	defaultResolutionLimit = 50
	maxResolutionLimit     = 200
)

func ValidResolution(t string) bool {
	switch t {
	case ResolutionIncreaseCapacity, ResolutionSplitSlot, ResolutionReschedule, ResolutionCancel:
		return true
	}
	return false
}

type Store interface {
	capacity.Transactor
	capacity.SlotStore
	capacity.AppointmentStore
	CountWaitingBySpecialty(ctx context.Context) (map[uuid.UUID]int, error)
	capacity.ResolutionStore
	capacity.EventStore
}

// Service detects capacity conflicts and applies resolutions to them.
type Service struct {
	store Store
	sink  notify.Sink
	loc   *time.Location
	now   func() time.Time
	log   zerolog.Logger
}

func NewService(store Store, sink notify.Sink, loc *time.Location, log zerolog.Logger) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		store: store,
		sink:  sink,
		loc:   loc,
		now:   time.Now,
		log:   log.With().Str("component", "conflict").Logger(),
	}
}

type DetectRequest struct {
	From     *time.Time
	To       *time.Time
	DoctorID *uuid.UUID
	AutoFix  bool
}

type AutoResolution struct {
	ConflictID   uuid.UUID `json:"conflict_id"`
	ResolutionID uuid.UUID `json:"resolution_id"`
	Action       string    `json:"action"`
	OldCapacity  int       `json:"old_capacity"`
	NewCapacity  int       `json:"new_capacity"`
}

type Report struct {
	From            string           `json:"date_from"`
	To              string           `json:"date_to"`
	Conflicts       []Conflict       `json:"conflicts"`
	Summary         Summary          `json:"summary"`
	AutoResolutions []AutoResolution `json:"auto_resolutions"`
}

// Detect runs one detection pass over [from,to]. With AutoFix every
// overbooked slot gets increase_capacity; a slot that cannot be fixed is
// logged and left in the report.
func (s *Service) Detect(ctx context.Context, req DetectRequest) (*Report, error) {
	from := capacity.Today(s.now(), s.loc)
	if req.From != nil {
		from = capacity.DateOf(*req.From)
	}
	to := from.AddDate(0, 0, defaultHorizon)
	if req.To != nil {
		to = capacity.DateOf(*req.To)
	}
	if to.Before(from) {
		return nil, apperr.ValidationFields(map[string]string{"date_to": "must not be before date_from"})
	}

	snap, err := s.snapshot(ctx, from, to, req.DoctorID)
	if err != nil {
		return nil, apperr.Internal("load detection snapshot", err)
	}

	conflicts := Detect(snap, s.now().UTC())
	report := &Report{
		From:            from.Format(capacity.DateLayout),
		To:              to.Format(capacity.DateLayout),
		Conflicts:       conflicts,
		Summary:         Summarize(conflicts),
		AutoResolutions: []AutoResolution{},
	}
	if report.Conflicts == nil {
		report.Conflicts = []Conflict{}
	}

	if req.AutoFix {
		for _, c := range conflicts {
			if c.Type != Overbooking || c.SlotID == nil {
				continue
			}
			res, err := s.Resolve(ctx, ResolveRequest{
				SlotID:     *c.SlotID,
				Type:       ResolutionIncreaseCapacity,
				Notes:      "automatic overbooking fix",
				ResolvedBy: ResolvedByAutoFix,
			})
			if err != nil {
				s.log.Warn().Err(err).Str("slot_id", c.SlotID.String()).Msg("auto-fix overbooking")
				continue
			}
			report.AutoResolutions = append(report.AutoResolutions, AutoResolution{
				ConflictID:   *c.SlotID,
				ResolutionID: res.ID,
				Action:       "increased_capacity",
				OldCapacity:  c.Capacity,
				NewCapacity:  c.Booked,
			})
		}
	}

	s.log.Info().
		Str("date_from", report.From).
		Str("date_to", report.To).
		Int("conflicts", report.Summary.Total).
		Int("auto_resolutions", len(report.AutoResolutions)).
		Msg("conflict detection pass")

	return report, nil
}

func (s *Service) snapshot(ctx context.Context, from, to time.Time, doctorID *uuid.UUID) (Snapshot, error) {
	slots, err := s.store.ListSlots(ctx, capacity.SlotFilter{From: from, To: to, DoctorID: doctorID})
	if err != nil {
		return Snapshot{}, fmt.Errorf("list slots: %w", err)
	}

	orphans, err := s.store.ListOrphanedAppointments(ctx, from)
	if err != nil {
		return Snapshot{}, fmt.Errorf("list orphaned appointments: %w", err)
	}
	// Orphans are scoped to the same window and doctor as the slots.
	limit := capacity.At(to, capacity.Clock(0)).AddDate(0, 0, 1)
	kept := orphans[:0]
	for _, a := range orphans {
		if !a.ScheduledAt.Before(limit) {
			continue
		}
		if doctorID != nil && a.DoctorID != *doctorID {
			continue
		}
		kept = append(kept, a)
	}

	waiting, err := s.store.CountWaitingBySpecialty(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("count waiting: %w", err)
	}

	return Snapshot{Slots: slots, Orphans: kept, Waiting: waiting}, nil
}

type ResolveRequest struct {
	// SlotID identifies the conflict: conflicts are keyed by the slot they
	// were detected on.
	SlotID     uuid.UUID
	Type       string
	NewDate    *time.Time
	NewTime    *capacity.Clock
	Notes      string
	ResolvedBy string
}

func validateResolve(req ResolveRequest) error {
	fields := map[string]string{}
	if req.SlotID == uuid.Nil {
		fields["conflict_id"] = "required"
	}
	if !ValidResolution(req.Type) {
		fields["resolution_type"] = "must be one of reschedule, cancel, increase_capacity, split_slot"
	}
	if req.Type == ResolutionReschedule {
		if req.NewDate == nil {
			fields["new_date"] = "required for reschedule"
		}
		if req.NewTime == nil {
			fields["new_time"] = "required for reschedule"
		}
	}
	if len(fields) > 0 {
		return apperr.ValidationFields(fields)
	}
	return nil
}

// Resolve applies one resolution to the slot and records it. The slot
// change and the resolution record commit together or not at all.
func (s *Service) Resolve(ctx context.Context, req ResolveRequest) (*capacity.ConflictResolution, error) {
	if err := validateResolve(req); err != nil {
		return nil, err
	}
	if req.ResolvedBy == "" {
		req.ResolvedBy = resolvedBySystem
	}

	var rec *capacity.ConflictResolution

	err := s.store.InTx(ctx, func(ctx context.Context) error {
		slot, err := s.store.LockSlot(ctx, req.SlotID)
		if err != nil {
			return err
		}

		var data map[string]any
		switch req.Type {
		case ResolutionIncreaseCapacity:
			data, err = s.increaseCapacity(ctx, slot)
		case ResolutionSplitSlot:
			data, err = s.split(ctx, slot)
		case ResolutionReschedule:
			data, err = s.reschedule(ctx, slot, *req.NewDate, *req.NewTime)
		case ResolutionCancel:
			data, err = s.cancel(ctx, slot)
		}
		if err != nil {
			return err
		}

		raw, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("marshal resolution data: %w", err)
		}
		rec = &capacity.ConflictResolution{
			SlotID:     slot.ID,
			Type:       req.Type,
			Data:       raw,
			Notes:      req.Notes,
			ResolvedBy: req.ResolvedBy,
		}
		return s.store.InsertResolution(ctx, rec)
	})
	if err != nil {
		return nil, translate(err)
	}

	s.publish(ctx, rec)
	capacity.LogEvent(ctx, s.store, s.log, capacity.EventConflictResolved, rec.SlotID, map[string]any{
		"resolution_id":   rec.ID.String(),
		"resolution_type": rec.Type,
		"resolved_by":     rec.ResolvedBy,
	})

	s.log.Info().
		Str("slot_id", rec.SlotID.String()).
		Str("resolution_type", rec.Type).
		Str("resolved_by", rec.ResolvedBy).
		Msg("conflict resolved")

	return rec, nil
}

func translate(err error) error {
	var ae *apperr.Error
	switch {
	case errors.As(err, &ae):
		return ae
	case errors.Is(err, capacity.ErrSlotNotFound):
		return apperr.NotFound("conflict_not_found", "slot for conflict not found")
	default:
		return apperr.Internal("apply resolution", err)
	}
}

func slotStatus(booked, limit int) capacity.SlotStatus {
	if booked >= limit {
		return capacity.SlotFull
	}
	return capacity.SlotActive
}

func (s *Service) increaseCapacity(ctx context.Context, slot *capacity.Slot) (map[string]any, error) {
	if slot.Booked <= slot.Capacity {
		return nil, apperr.Conflict("not_overbooked",
			fmt.Sprintf("slot has %d of %d booked; increase_capacity only absorbs overbooking", slot.Booked, slot.Capacity))
	}

	old := slot.Capacity
	slot.Capacity = slot.Booked
	slot.Status = capacity.SlotFull
	if err := s.store.UpdateSlot(ctx, slot); err != nil {
		return nil, fmt.Errorf("update slot capacity: %w", err)
	}

	return map[string]any{
		"action":       "increased_capacity",
		"old_capacity": old,
		"new_capacity": slot.Capacity,
	}, nil
}

// split cuts the slot 30 minutes after its start. Appointments starting at
// or after the cut move to the new slot. Units on the counter that no
// appointment accounts for stay with the original half.
func (s *Service) split(ctx context.Context, slot *capacity.Slot) (map[string]any, error) {
	cut := slot.Start.Add(splitOffset)
	if cut >= slot.End {
		return nil, apperr.Conflict("slot_too_short", "slot must be longer than 30 minutes to split")
	}

	appts, err := s.store.ListBookedAppointmentsForSlot(ctx, slot.ID)
	if err != nil {
		return nil, fmt.Errorf("list slot appointments: %w", err)
	}

	var first, second []capacity.Appointment
	for _, a := range appts {
		if capacity.ClockOf(a.ScheduledAt) >= cut {
			second = append(second, a)
		} else {
			first = append(first, a)
		}
	}

	firstBooked := len(first) + max(0, slot.Booked-len(appts))
	secondBooked := len(second)

	before := slot.Capacity
	keep := before / 2
	child := before - keep

	if firstBooked > keep || secondBooked > child {
		return nil, apperr.Conflict("split_overfills",
			fmt.Sprintf("split would leave %d bookings in %d places before %s and %d in %d after",
				firstBooked, keep, cut, secondBooked, child))
	}

	newSlot := &capacity.Slot{
		DoctorID:        slot.DoctorID,
		LocationID:      slot.LocationID,
		SpecialtyID:     slot.SpecialtyID,
		Date:            slot.Date,
		Start:           cut,
		End:             slot.End,
		Capacity:        child,
		Booked:          secondBooked,
		DurationMinutes: slot.DurationMinutes,
		Status:          slotStatus(secondBooked, child),
		BatchID:         slot.BatchID,
	}
	if err := s.store.CreateSlot(ctx, newSlot); err != nil {
		return nil, fmt.Errorf("create split slot: %w", err)
	}

	for _, a := range second {
		if err := s.store.MoveAppointment(ctx, a.ID, newSlot.ID, a.ScheduledAt); err != nil {
			return nil, fmt.Errorf("move appointment %s: %w", a.ID, err)
		}
	}

	slot.End = cut
	slot.Capacity = keep
	slot.Booked = firstBooked
	slot.Status = slotStatus(firstBooked, keep)
	if err := s.store.UpdateSlot(ctx, slot); err != nil {
		return nil, fmt.Errorf("shrink original slot: %w", err)
	}

	return map[string]any{
		"action":             "split",
		"original_slot":      slot.ID.String(),
		"new_slot":           newSlot.ID.String(),
		"split_time":         cut.String(),
		"original_capacity":  keep,
		"new_capacity":       child,
		"moved_appointments": len(second),
	}, nil
}

// reschedule moves the slot, keeping its length, and shifts every
// appointment still on it by the same offset. Cancelled ones keep their
// original time.
func (s *Service) reschedule(ctx context.Context, slot *capacity.Slot, date time.Time, start capacity.Clock) (map[string]any, error) {
	date = capacity.DateOf(date)
	length := int(slot.End - slot.Start)
	end := int(start) + length
	if end > 24*60 {
		return nil, apperr.ValidationFields(map[string]string{"new_time": "slot would cross midnight"})
	}

	moved := *slot
	moved.Date = date
	moved.Start = start
	moved.End = capacity.Clock(end)

	others, err := s.store.ListDoctorSlotsOn(ctx, slot.DoctorID, date)
	if err != nil {
		return nil, fmt.Errorf("list doctor slots: %w", err)
	}
	for _, o := range others {
		if o.ID != slot.ID && moved.Overlaps(o) {
			return nil, apperr.Conflict("overlapping_slot",
				fmt.Sprintf("doctor already has slot %s from %s to %s", o.ID, o.Start, o.End))
		}
	}

	appts, err := s.store.ListBookedAppointmentsForSlot(ctx, slot.ID)
	if err != nil {
		return nil, fmt.Errorf("list slot appointments: %w", err)
	}

	offset := moved.StartAt().Sub(slot.StartAt())
	for _, a := range appts {
		if err := s.store.MoveAppointment(ctx, a.ID, slot.ID, a.ScheduledAt.Add(offset)); err != nil {
			return nil, fmt.Errorf("move appointment %s: %w", a.ID, err)
		}
	}

	oldDate, oldStart := slot.Date, slot.Start
	*slot = moved
	if err := s.store.UpdateSlot(ctx, slot); err != nil {
		return nil, fmt.Errorf("move slot: %w", err)
	}

	return map[string]any{
		"action":             "rescheduled",
		"old_date":           oldDate.Format(capacity.DateLayout),
		"old_time":           oldStart.String(),
		"new_date":           date.Format(capacity.DateLayout),
		"new_time":           start.String(),
		"moved_appointments": len(appts),
	}, nil
}

func (s *Service) cancel(ctx context.Context, slot *capacity.Slot) (map[string]any, error) {
	n, err := s.store.CancelAppointmentsForSlot(ctx, slot.ID, cancelNote)
	if err != nil {
		return nil, fmt.Errorf("cancel slot appointments: %w", err)
	}
	if err := s.store.DeleteSlot(ctx, slot.ID); err != nil {
		return nil, fmt.Errorf("delete slot: %w", err)
	}

	return map[string]any{
		"action":                "cancelled",
		"affected_appointments": n,
	}, nil
}

func (s *Service) publish(ctx context.Context, rec *capacity.ConflictResolution) {
	var data map[string]any
	_ = json.Unmarshal(rec.Data, &data)

	ev := notify.Event{
		Channel: notify.ChannelResolutions,
		Type:    EventResolved,
		Payload: map[string]any{
			"resolution_id":   rec.ID.String(),
			"slot_id":         rec.SlotID.String(),
			"resolution_type": rec.Type,
			"resolution_data": data,
			"resolved_by":     rec.ResolvedBy,
		},
		OccurredAt: rec.ResolvedAt,
	}
	if err := s.sink.Publish(ctx, ev); err != nil {
		s.log.Warn().Err(err).Str("resolution_id", rec.ID.String()).Msg("publish resolution")
	}
}

type ResolutionPage struct {
	Resolutions []capacity.ConflictResolution `json:"resolutions"`
	Total       int                           `json:"total"`
	Limit       int                           `json:"limit"`
	Offset      int                           `json:"offset"`
}

// Resolutions pages through the resolution log, newest first.
func (s *Service) Resolutions(ctx context.Context, limit, offset int) (*ResolutionPage, error) {
	if limit <= 0 {
		limit = defaultResolutionLimit
	}
	if limit > maxResolutionLimit {
		limit = maxResolutionLimit
	}
	if offset < 0 {
		offset = 0
	}

	list, total, err := s.store.ListResolutions(ctx, limit, offset)
	if err != nil {
		return nil, apperr.Internal("list resolutions", err)
	}
	if list == nil {
		list = []capacity.ConflictResolution{}
	}
	return &ResolutionPage{Resolutions: list, Total: total, Limit: limit, Offset: offset}, nil
}
