package matcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-capacity-engine/internal/apperr"
	"github.com/hackgods/clinic-capacity-engine/internal/capacity"
	"github.com/hackgods/clinic-capacity-engine/internal/config"
)

const (
	MinDuration   = 5
	MaxDuration   = 480
	MinSearchDays = 1
	MaxSearchDays = 90

	suggestionLimit = 5
)

// Store is the slice of the capacity store the matcher needs.
type Store interface {
	capacity.Transactor
	capacity.Directory
	ListBookableSlots(ctx context.Context, specialtyID uuid.UUID, from, to time.Time) ([]capacity.Slot, error)
	IncrementBooked(ctx context.Context, id uuid.UUID) (*capacity.Slot, error)
	CreateAppointment(ctx context.Context, a *capacity.Appointment) error
	capacity.EventStore
}

// Waitlist receives patients no slot could serve. It returns the entry and
// its 1-based queue position.
type Waitlist interface {
	Enqueue(ctx context.Context, patientID, specialtyID uuid.UUID, level capacity.PriorityLevel, reason string) (*capacity.QueueEntry, int, error)
}

type Request struct {
	PatientID       uuid.UUID
	Criteria        Criteria
	Level           capacity.PriorityLevel
	AppointmentType string
	Reason          string
	Notes           string
}

// Result is either a booked appointment or a queue placement.
type Result struct {
	Appointment       *capacity.Appointment
	Score             int
	AlternativesCount int

	QueueEntry           *capacity.QueueEntry
	Position             int
	EstimatedWaitMinutes int
}

func (r Result) Queued() bool { return r.QueueEntry != nil }

type Service struct {
	store   Store
	queue   Waitlist
	weights Weights
	loc     *time.Location
	perPos  int
	now     func() time.Time
	log     zerolog.Logger
}

func NewService(store Store, queue Waitlist, cfg config.Config, log zerolog.Logger) *Service {
	return &Service{
		store:   store,
		queue:   queue,
		weights: DefaultWeights(),
		loc:     cfg.Location(),
		perPos:  cfg.QueueMinutesPerPosition,
		now:     time.Now,
		log:     log.With().Str("component", "matcher").Logger(),
	}
}

// WithWeights replaces the scoring weights.
func (s *Service) WithWeights(w Weights) *Service {
	s.weights = w
	return s
}

func validateCriteria(c Criteria) error {
	fields := map[string]string{}
	if c.SpecialtyID == uuid.Nil {
		fields["specialty_id"] = "required"
	}
	if c.DurationMinutes < MinDuration || c.DurationMinutes > MaxDuration {
		fields["duration_minutes"] = fmt.Sprintf("must be between %d and %d", MinDuration, MaxDuration)
	}
	if c.SearchDays < MinSearchDays || c.SearchDays > MaxSearchDays {
		fields["search_days_ahead"] = fmt.Sprintf("must be between %d and %d", MinSearchDays, MaxSearchDays)
	}
	if len(fields) > 0 {
		return apperr.ValidationFields(fields)
	}
	return nil
}

// FindCandidates returns every bookable candidate for the criteria, best
// first. Candidates that already started today are left out.
func (s *Service) FindCandidates(ctx context.Context, c Criteria) ([]Candidate, error) {
	if err := validateCriteria(c); err != nil {
		return nil, err
	}

	now := capacity.WallClock(s.now(), s.loc)
	today := capacity.DateOf(now)

	slots, err := s.store.ListBookableSlots(ctx, c.SpecialtyID, today, today.AddDate(0, 0, c.SearchDays))
	if err != nil {
		return nil, apperr.Internal("load slots", err)
	}

	var open []Candidate
	for _, cand := range Enumerate(slots, c.DurationMinutes) {
		if cand.StartAt().Before(now) {
			continue
		}
		open = append(open, cand)
	}

	return Rank(open, c, today, s.weights), nil
}

// Suggest returns the top candidates without booking anything, plus how
// many were found in total.
func (s *Service) Suggest(ctx context.Context, c Criteria) ([]Candidate, int, error) {
	cands, err := s.FindCandidates(ctx, c)
	if err != nil {
		return nil, 0, err
	}
	total := len(cands)
	if total > suggestionLimit {
		cands = cands[:suggestionLimit]
	}
	return cands, total, nil
}

// Match books the best candidate for the patient. When nothing can be
// booked the patient is queued instead; that is a normal outcome.
func (s *Service) Match(ctx context.Context, req Request) (*Result, error) {
	if !req.Level.Valid() {
		return nil, apperr.ValidationFields(map[string]string{"urgency_level": "unknown priority level"})
	}

	if _, err := s.store.GetPatient(ctx, req.PatientID); err != nil {
		if errors.Is(err, capacity.ErrPatientNotFound) {
			return nil, apperr.NotFound("patient_not_found", "patient not found")
		}
		return nil, apperr.Internal("load patient", err)
	}

	cands, err := s.FindCandidates(ctx, req.Criteria)
	if err != nil {
		return nil, err
	}

	remaining := cands
	for len(remaining) > 0 {
		best, _ := Select(remaining, req.Level)

		appt, err := s.book(ctx, req, best)
		if err == nil {
			s.log.Info().
				Str("patient_id", req.PatientID.String()).
				Str("slot_id", best.Slot.ID.String()).
				Int("score", best.Score).
				Msg("appointment assigned")

			capacity.LogEvent(ctx, s.store, s.log, capacity.EventAppointmentCreated, appt.ID, map[string]any{
				"slot_id":    best.Slot.ID.String(),
				"patient_id": req.PatientID.String(),
				"score":      best.Score,
				"manual":     false,
			})

			return &Result{
				Appointment:       appt,
				Score:             best.Score,
				AlternativesCount: len(cands) - 1,
			}, nil
		}
		if !errors.Is(err, capacity.ErrSlotFull) {
			return nil, apperr.Internal("book appointment", err)
		}

		// Lost the race for the last unit: drop the slot and try the next best.
		s.log.Debug().Str("slot_id", best.Slot.ID.String()).Msg("slot filled concurrently")
		remaining = withoutSlot(remaining, best.Slot.ID)
	}

	return s.enqueue(ctx, req)
}

func (s *Service) book(ctx context.Context, req Request, c Candidate) (*capacity.Appointment, error) {
	appt := &capacity.Appointment{
		ID:              uuid.New(),
		PatientID:       req.PatientID,
		SlotID:          c.Slot.ID,
		DoctorID:        c.Slot.DoctorID,
		LocationID:      c.Slot.LocationID,
		SpecialtyID:     c.Slot.SpecialtyID,
		ScheduledAt:     c.StartAt(),
		DurationMinutes: req.Criteria.DurationMinutes,
		Status:          capacity.StatusPending,
		PriorityLevel:   req.Level,
		AppointmentType: req.AppointmentType,
		Manual:          false,
		Reason:          req.Reason,
		Notes:           req.Notes,
	}

	err := s.store.InTx(ctx, func(ctx context.Context) error {
		if _, err := s.store.IncrementBooked(ctx, c.Slot.ID); err != nil {
			return err
		}
		return s.store.CreateAppointment(ctx, appt)
	})
	if err != nil {
		return nil, err
	}
	return appt, nil
}

func (s *Service) enqueue(ctx context.Context, req Request) (*Result, error) {
	entry, pos, err := s.queue.Enqueue(ctx, req.PatientID, req.Criteria.SpecialtyID, req.Level, req.Reason)
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("patient_id", req.PatientID.String()).
		Str("specialty_id", req.Criteria.SpecialtyID.String()).
		Int("position", pos).
		Msg("no slot available, patient queued")

	return &Result{
		QueueEntry:           entry,
		Position:             pos,
		EstimatedWaitMinutes: pos * s.perPos,
	}, nil
}

func withoutSlot(cands []Candidate, slotID uuid.UUID) []Candidate {
	out := cands[:0:0]
	for _, c := range cands {
		if c.Slot.ID != slotID {
			out = append(out, c)
		}
	}
	return out
}
