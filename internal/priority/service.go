package priority

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-capacity-engine/internal/apperr"
	"github.com/hackgods/clinic-capacity-engine/internal/capacity"
	"github.com/hackgods/clinic-capacity-engine/internal/notify"
)

const EventAlert = "priority.alert"

const defaultActiveLimit = 50

type Store interface {
	capacity.Transactor
	capacity.Directory
	GetAppointment(ctx context.Context, id uuid.UUID) (*capacity.Appointment, error)
	capacity.PriorityStore
	capacity.EventStore
}

// Service records clinical priorities for patients and raises alerts for
// the ones that need immediate attention.
type Service struct {
	store   Store
	sink    notify.Sink
	weights Weights
	now     func() time.Time
	log     zerolog.Logger
}

func NewService(store Store, sink notify.Sink, log zerolog.Logger) *Service {
	return &Service{
		store:   store,
		sink:    sink,
		weights: DefaultWeights(),
		now:     time.Now,
		log:     log.With().Str("component", "priority").Logger(),
	}
}

type SetRequest struct {
	PatientID            uuid.UUID
	AppointmentID        *uuid.UUID
	Assessment           Assessment
	Reason               string
	PreferredSpecialtyID *uuid.UUID
	PreferredDoctorID    *uuid.UUID
}

type Outcome struct {
	Priority           *capacity.PriorityRecord `json:"priority"`
	Alert              *capacity.PriorityAlert  `json:"alert,omitempty"`
	RecommendedActions []Action                 `json:"recommended_actions"`
	EscalationTriggers []Trigger                `json:"escalation_triggers"`
}

func validateSet(req SetRequest) error {
	fields := map[string]string{}
	if req.PatientID == uuid.Nil {
		fields["patient_id"] = "required"
	}
	if !req.Assessment.Level.Valid() {
		fields["priority_level"] = "unknown priority level"
	}
	if req.Reason == "" {
		fields["reason"] = "required"
	}
	if p := req.Assessment.PainLevel; p != nil && (*p < 1 || *p > 10) {
		fields["pain_level"] = "must be between 1 and 10"
	}
	if len(fields) > 0 {
		return apperr.ValidationFields(fields)
	}
	return nil
}

// SetPriority scores the assessment and stores the priority record. Records
// flagged for immediate attention are active and raise an alert; the rest
// stay pending.
func (s *Service) SetPriority(ctx context.Context, req SetRequest) (*Outcome, error) {
	if err := validateSet(req); err != nil {
		return nil, err
	}

	if _, err := s.store.GetPatient(ctx, req.PatientID); err != nil {
		if errors.Is(err, capacity.ErrPatientNotFound) {
			return nil, apperr.NotFound("patient_not_found", "patient not found")
		}
		return nil, apperr.Internal("load patient", err)
	}

	if req.AppointmentID != nil {
		if _, err := s.store.GetAppointment(ctx, *req.AppointmentID); err != nil {
			if errors.Is(err, capacity.ErrAppointmentNotFound) {
				return nil, apperr.NotFound("appointment_not_found", "appointment not found")
			}
			return nil, apperr.Internal("load appointment", err)
		}
	}

	a := req.Assessment
	score := Score(a, s.weights)

	rec := &capacity.PriorityRecord{
		ID:                         uuid.New(),
		PatientID:                  req.PatientID,
		AppointmentID:              req.AppointmentID,
		Level:                      a.Level,
		Score:                      score,
		Reason:                     req.Reason,
		Symptoms:                   a.Symptoms,
		PainLevel:                  a.PainLevel,
		MedicalConditions:          a.MedicalConditions,
		VitalSigns:                 a.Vitals,
		RequiresImmediateAttention: a.RequiresImmediateAttention,
		PreferredSpecialtyID:       req.PreferredSpecialtyID,
		PreferredDoctorID:          req.PreferredDoctorID,
		ExpectedResponseMinutes:    ExpectedResponseMinutes(a.Level, score),
		Status:                     capacity.PriorityPending,
	}
	if a.RequiresImmediateAttention {
		rec.Status = capacity.PriorityActive
	}

	var alert *capacity.PriorityAlert

	err := s.store.InTx(ctx, func(ctx context.Context) error {
		if err := s.store.CreatePriority(ctx, rec); err != nil {
			return err
		}
		if !a.RequiresImmediateAttention {
			return nil
		}

		alertType := "urgent"
		if a.Level == capacity.LevelEmergencia {
			alertType = "emergency"
		}
		alert = &capacity.PriorityAlert{
			PriorityID: rec.ID,
			AlertType:  alertType,
			Message:    fmt.Sprintf("%s priority: %s", a.Level, req.Reason),
			Score:      score,
			Status:     capacity.PriorityActive,
		}
		return s.store.CreatePriorityAlert(ctx, alert)
	})
	if err != nil {
		return nil, apperr.Internal("store priority", err)
	}

	if alert != nil {
		ev := notify.Event{
			Channel: notify.ChannelAlerts,
			Type:    EventAlert,
			Payload: map[string]any{
				"priority_id":    rec.ID.String(),
				"patient_id":     rec.PatientID.String(),
				"alert_type":     alert.AlertType,
				"priority_level": string(rec.Level),
				"priority_score": score,
				"message":        alert.Message,
			},
			OccurredAt: s.now().UTC(),
		}
		if err := s.sink.Publish(ctx, ev); err != nil {
			s.log.Warn().Err(err).Str("priority_id", rec.ID.String()).Msg("publish priority alert")
		}
	}

	capacity.LogEvent(ctx, s.store, s.log, capacity.EventPrioritySet, rec.ID, map[string]any{
		"patient_id": rec.PatientID.String(),
		"level":      string(rec.Level),
		"score":      score,
	})

	s.log.Info().
		Str("patient_id", rec.PatientID.String()).
		Str("priority_level", string(rec.Level)).
		Int("score", score).
		Int("expected_response_minutes", rec.ExpectedResponseMinutes).
		Msg("priority set")

	return &Outcome{
		Priority:           rec,
		Alert:              alert,
		RecommendedActions: RecommendedActions(a, score, req.PreferredSpecialtyID != nil),
		EscalationTriggers: EscalationTriggers(a.Level),
	}, nil
}

type SystemAlert struct {
	Type           string `json:"type"`
	Severity       string `json:"severity"`
	Message        string `json:"message"`
	ActionRequired bool   `json:"action_required"`
}

type ActiveView struct {
	Priorities []capacity.PriorityRecord `json:"priorities"`
	Alerts     []SystemAlert             `json:"alerts"`
}

// Active lists priorities with the given status, highest score first, and
// derives dashboard alerts from them.
func (s *Service) Active(ctx context.Context, status string, limit int) (*ActiveView, error) {
	if status == "" {
		status = capacity.PriorityActive
	}
	if limit <= 0 || limit > 200 {
		limit = defaultActiveLimit
	}

	list, err := s.store.ListPriorities(ctx, status, limit)
	if err != nil {
		return nil, apperr.Internal("list priorities", err)
	}

	return &ActiveView{Priorities: list, Alerts: SystemAlerts(list, s.now())}, nil
}

// SystemAlerts flags active emergencies, a heavy urgent load, and long
// waits among urgent cases.
func SystemAlerts(list []capacity.PriorityRecord, now time.Time) []SystemAlert {
	alerts := []SystemAlert{}

	var emergencies, urgent int
	var urgentWait time.Duration
	var urgentCases int

	for _, p := range list {
		switch p.Level {
		case capacity.LevelEmergencia:
			emergencies++
		case capacity.LevelUrgente:
			urgent++
		}
		if watchesWorsening(p.Level) || p.RequiresImmediateAttention {
			urgentCases++
			urgentWait += now.Sub(p.CreatedAt)
		}
	}

	if emergencies > 0 {
		alerts = append(alerts, SystemAlert{
			Type:           "emergency_alert",
			Severity:       "critical",
			Message:        fmt.Sprintf("%d active emergency case(s)", emergencies),
			ActionRequired: true,
		})
	}
	if urgent > 3 {
		alerts = append(alerts, SystemAlert{
			Type:           "high_urgent_load",
			Severity:       "high",
			Message:        fmt.Sprintf("%d active urgent cases", urgent),
			ActionRequired: true,
		})
	}
	if urgentCases > 0 {
		avg := urgentWait / time.Duration(urgentCases)
		if avg > 30*time.Minute {
			alerts = append(alerts, SystemAlert{
				Type:           "long_wait_times",
				Severity:       "medium",
				Message:        fmt.Sprintf("average urgent wait is %d minutes", int(avg.Minutes())),
				ActionRequired: true,
			})
		}
	}

	return alerts
}
