package appointment

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-capacity-engine/internal/apperr"
	"github.com/hackgods/clinic-capacity-engine/internal/capacity"
)

type Store interface {
	capacity.Transactor
	capacity.Directory
	GetSlot(ctx context.Context, id uuid.UUID) (*capacity.Slot, error)
	IncrementBooked(ctx context.Context, id uuid.UUID) (*capacity.Slot, error)
	DecrementBooked(ctx context.Context, id uuid.UUID) (*capacity.Slot, error)
	CreateAppointment(ctx context.Context, a *capacity.Appointment) error
	GetAppointment(ctx context.Context, id uuid.UUID) (*capacity.Appointment, error)
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to capacity.AppointmentStatus) (*capacity.Appointment, error)
	ListActiveAppointmentsForSlot(ctx context.Context, slotID uuid.UUID) ([]capacity.Appointment, error)
	capacity.EventStore
}

// Service owns an appointment after it exists: manual booking into a known
// slot and the status lifecycle.
type Service struct {
	store Store
	log   zerolog.Logger
}

func NewService(store Store, log zerolog.Logger) *Service {
	return &Service{
		store: store,
		log:   log.With().Str("component", "appointment").Logger(),
	}
}

type BookRequest struct {
	SlotID    uuid.UUID
	PatientID uuid.UUID
	// StartTime defaults to the slot's start.
	StartTime       *capacity.Clock
	DurationMinutes int
	Level           capacity.PriorityLevel
	AppointmentType string
	Reason          string
	Notes           string
}

// Book places a patient in a specific slot, bypassing matching. The slot's
// booked count goes up by the same conditional update the matcher uses.
func (s *Service) Book(ctx context.Context, req BookRequest) (*capacity.Appointment, error) {
	if _, err := s.store.GetPatient(ctx, req.PatientID); err != nil {
		if errors.Is(err, capacity.ErrPatientNotFound) {
			return nil, apperr.NotFound("patient_not_found", "patient not found")
		}
		return nil, apperr.Internal("load patient", err)
	}

	slot, err := s.store.GetSlot(ctx, req.SlotID)
	if err != nil {
		if errors.Is(err, capacity.ErrSlotNotFound) {
			return nil, apperr.NotFound("slot_not_found", "slot not found")
		}
		return nil, apperr.Internal("load slot", err)
	}

	duration := req.DurationMinutes
	if duration == 0 {
		duration = slot.DurationMinutes
	}
	start := slot.Start
	if req.StartTime != nil {
		start = *req.StartTime
	}
	if start < slot.Start || int(start)+duration > int(slot.End) {
		return nil, apperr.ValidationFields(map[string]string{
			"start_time": fmt.Sprintf("appointment must fit inside %s-%s", slot.Start, slot.End),
		})
	}

	level := req.Level
	if level == "" {
		level = capacity.LevelMedia
	}
	if !level.Valid() {
		return nil, apperr.ValidationFields(map[string]string{"priority_level": "unknown priority level"})
	}

	appt := &capacity.Appointment{
		ID:              uuid.New(),
		PatientID:       req.PatientID,
		SlotID:          slot.ID,
		DoctorID:        slot.DoctorID,
		LocationID:      slot.LocationID,
		SpecialtyID:     slot.SpecialtyID,
		ScheduledAt:     capacity.At(slot.Date, start),
		DurationMinutes: duration,
		Status:          capacity.StatusPending,
		PriorityLevel:   level,
		AppointmentType: req.AppointmentType,
		Manual:          true,
		Reason:          req.Reason,
		Notes:           req.Notes,
	}

	err = s.store.InTx(ctx, func(ctx context.Context) error {
		if _, err := s.store.IncrementBooked(ctx, slot.ID); err != nil {
			return err
		}
		return s.store.CreateAppointment(ctx, appt)
	})
	switch {
	case errors.Is(err, capacity.ErrSlotFull):
		return nil, apperr.Conflict("slot_full", "slot has no remaining capacity")
	case errors.Is(err, capacity.ErrSlotNotFound):
		return nil, apperr.NotFound("slot_not_found", "slot not found")
	case err != nil:
		return nil, apperr.Internal("book appointment", err)
	}

	capacity.LogEvent(ctx, s.store, s.log, capacity.EventAppointmentCreated, appt.ID, map[string]any{
		"slot_id":    slot.ID.String(),
		"patient_id": appt.PatientID.String(),
		"manual":     true,
	})
	s.log.Info().
		Str("appointment_id", appt.ID.String()).
		Str("slot_id", slot.ID.String()).
		Str("patient_id", appt.PatientID.String()).
		Msg("appointment booked manually")

	return appt, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*capacity.Appointment, error) {
	appt, err := s.store.GetAppointment(ctx, id)
	if err != nil {
		if errors.Is(err, capacity.ErrAppointmentNotFound) {
			return nil, apperr.NotFound("appointment_not_found", "appointment not found")
		}
		return nil, apperr.Internal("load appointment", err)
	}
	return appt, nil
}

func (s *Service) Confirm(ctx context.Context, id uuid.UUID) (*capacity.Appointment, error) {
	return s.transition(ctx, id, capacity.StatusConfirmed, capacity.EventAppointmentConfirmed)
}

func (s *Service) Complete(ctx context.Context, id uuid.UUID) (*capacity.Appointment, error) {
	return s.transition(ctx, id, capacity.StatusCompleted, capacity.EventAppointmentCompleted)
}

// Cancel releases the appointment's unit of capacity in the same
// transaction. An appointment whose slot is gone still cancels.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*capacity.Appointment, error) {
	return s.transition(ctx, id, capacity.StatusCancelled, capacity.EventAppointmentCancelled)
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, to capacity.AppointmentStatus, event string) (*capacity.Appointment, error) {
	appt, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if !capacity.CanTransition(appt.Status, to) {
		return nil, apperr.Conflict("invalid_status_transition",
			fmt.Sprintf("appointment is %s and cannot become %s", appt.Status, to))
	}

	var updated *capacity.Appointment
	err = s.store.InTx(ctx, func(ctx context.Context) error {
		var err error
		updated, err = s.store.UpdateAppointmentStatus(ctx, appt.ID, appt.Status, to)
		if err != nil {
			return err
		}
		if to != capacity.StatusCancelled {
			return nil
		}
		if _, err := s.store.DecrementBooked(ctx, appt.SlotID); err != nil && !errors.Is(err, capacity.ErrSlotNotFound) {
			return fmt.Errorf("release slot: %w", err)
		}
		return nil
	})
	switch {
	case errors.Is(err, capacity.ErrStatusChanged):
		return nil, apperr.Conflict("status_changed", "appointment changed concurrently, reload and retry")
	case err != nil:
		return nil, apperr.Internal("update appointment status", err)
	}

	capacity.LogEvent(ctx, s.store, s.log, event, updated.ID, map[string]any{
		"from":    string(appt.Status),
		"to":      string(to),
		"slot_id": appt.SlotID.String(),
	})
	s.log.Info().
		Str("appointment_id", updated.ID.String()).
		Str("from", string(appt.Status)).
		Str("to", string(to)).
		Msg("appointment status changed")

	return updated, nil
}

// ListBySlot returns the slot's pending and confirmed appointments.
func (s *Service) ListBySlot(ctx context.Context, slotID uuid.UUID) ([]capacity.Appointment, error) {
	if _, err := s.store.GetSlot(ctx, slotID); err != nil {
		if errors.Is(err, capacity.ErrSlotNotFound) {
			return nil, apperr.NotFound("slot_not_found", "slot not found")
		}
		return nil, apperr.Internal("load slot", err)
	}

	list, err := s.store.ListActiveAppointmentsForSlot(ctx, slotID)
	if err != nil {
		return nil, apperr.Internal("list slot appointments", err)
	}
	if list == nil {
		list = []capacity.Appointment{}
	}
	return list, nil
}
