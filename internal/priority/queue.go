package priority

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-capacity-engine/internal/apperr"
	"github.com/hackgods/clinic-capacity-engine/internal/capacity"
	"github.com/hackgods/clinic-capacity-engine/internal/notify"
)

// Queue event types published on notify.ChannelQueue and notify.ChannelAlerts.
const (
	EventEnqueued         = "queue.enqueued"
	EventDequeued         = "queue.dequeued"
	EventCancelled        = "queue.cancelled"
	EventEscalated        = "queue.escalated"
	EventSymptomWorsening = "queue.symptom_worsening"
)

type QueueStore interface {
	capacity.Directory
	capacity.QueueStore
	capacity.EventStore
}

// QueueService keeps patients without a slot ordered by score, then arrival.
type QueueService struct {
	store   QueueStore
	sink    notify.Sink
	weights Weights
	now     func() time.Time
	log     zerolog.Logger
}

func NewQueueService(store QueueStore, sink notify.Sink, log zerolog.Logger) *QueueService {
	return &QueueService{
		store:   store,
		sink:    sink,
		weights: DefaultWeights(),
		now:     time.Now,
		log:     log.With().Str("component", "queue").Logger(),
	}
}

// Placement is a waiting entry and its current position.
type Placement struct {
	Entry    *capacity.QueueEntry `json:"entry"`
	Position int                  `json:"position,omitempty"`
}

// Enqueue queues a patient at the base score of the level.
func (s *QueueService) Enqueue(ctx context.Context, patientID, specialtyID uuid.UUID, level capacity.PriorityLevel, reason string) (*capacity.QueueEntry, int, error) {
	return s.EnqueueAssessed(ctx, patientID, specialtyID, Assessment{Level: level}, reason)
}

// EnqueueAssessed queues a patient scored from a full assessment.
func (s *QueueService) EnqueueAssessed(ctx context.Context, patientID, specialtyID uuid.UUID, a Assessment, reason string) (*capacity.QueueEntry, int, error) {
	if !a.Level.Valid() {
		return nil, 0, apperr.ValidationFields(map[string]string{"priority": "unknown priority level"})
	}
	if specialtyID == uuid.Nil {
		return nil, 0, apperr.ValidationFields(map[string]string{"specialty_id": "required"})
	}

	if _, err := s.store.GetPatient(ctx, patientID); err != nil {
		if errors.Is(err, capacity.ErrPatientNotFound) {
			return nil, 0, apperr.NotFound("patient_not_found", "patient not found")
		}
		return nil, 0, apperr.Internal("load patient", err)
	}

	entry := &capacity.QueueEntry{
		ID:          uuid.New(),
		PatientID:   patientID,
		SpecialtyID: specialtyID,
		Level:       a.Level,
		Score:       Score(a, s.weights),
		Reason:      reason,
		Status:      capacity.QueueWaiting,
	}

	if err := s.store.CreateQueueEntry(ctx, entry); err != nil {
		if errors.Is(err, capacity.ErrDuplicateWaiting) {
			return nil, 0, apperr.Conflict("already_waiting", "patient is already waiting for this specialty")
		}
		return nil, 0, apperr.Internal("create queue entry", err)
	}

	pos, err := s.store.QueuePosition(ctx, entry.ID)
	if err != nil {
		return nil, 0, apperr.Internal("queue position", err)
	}

	s.publish(ctx, notify.ChannelQueue, EventEnqueued, entry, map[string]any{"position": pos})
	capacity.LogEvent(ctx, s.store, s.log, capacity.EventQueueEntryCreated, entry.ID, map[string]any{
		"patient_id":   patientID.String(),
		"specialty_id": specialtyID.String(),
		"priority":     string(entry.Level),
		"score":        entry.Score,
		"position":     pos,
	})

	return entry, pos, nil
}

// DequeueNext claims the next waiting entry of the specialty and marks it
// assigned. It returns nil when nobody is waiting.
func (s *QueueService) DequeueNext(ctx context.Context, specialtyID uuid.UUID) (*capacity.QueueEntry, error) {
	entry, err := s.store.ClaimNextWaiting(ctx, specialtyID, s.now().UTC())
	if err != nil {
		if errors.Is(err, capacity.ErrQueueEmpty) {
			return nil, nil
		}
		return nil, apperr.Internal("dequeue", err)
	}

	s.publish(ctx, notify.ChannelQueue, EventDequeued, entry, nil)
	capacity.LogEvent(ctx, s.store, s.log, capacity.EventQueueEntryAssigned, entry.ID, map[string]any{
		"specialty_id": specialtyID.String(),
	})
	return entry, nil
}

// Get returns the entry and, while it is waiting, its position.
func (s *QueueService) Get(ctx context.Context, id uuid.UUID) (*Placement, error) {
	entry, err := s.store.GetQueueEntry(ctx, id)
	if err != nil {
		if errors.Is(err, capacity.ErrQueueEntryNotFound) {
			return nil, apperr.NotFound("queue_entry_not_found", "queue entry not found")
		}
		return nil, apperr.Internal("load queue entry", err)
	}

	p := &Placement{Entry: entry}
	if entry.Status != capacity.QueueWaiting {
		return p, nil
	}

	pos, err := s.store.QueuePosition(ctx, id)
	if err != nil && !errors.Is(err, capacity.ErrQueueEntryNotFound) {
		return nil, apperr.Internal("queue position", err)
	}
	p.Position = pos
	return p, nil
}

// Position is the 1-based rank of a waiting entry in dequeue order.
func (s *QueueService) Position(ctx context.Context, id uuid.UUID) (int, error) {
	pos, err := s.store.QueuePosition(ctx, id)
	if err != nil {
		if errors.Is(err, capacity.ErrQueueEntryNotFound) {
			return 0, apperr.NotFound("queue_entry_not_found", "no waiting queue entry with this id")
		}
		return 0, apperr.Internal("queue position", err)
	}
	return pos, nil
}

func (s *QueueService) Cancel(ctx context.Context, id uuid.UUID) (*capacity.QueueEntry, error) {
	entry, err := s.store.UpdateQueueEntryStatus(ctx, id, capacity.QueueWaiting, capacity.QueueCancelled)
	if err != nil {
		if errors.Is(err, capacity.ErrStatusChanged) {
			if _, getErr := s.store.GetQueueEntry(ctx, id); errors.Is(getErr, capacity.ErrQueueEntryNotFound) {
				return nil, apperr.NotFound("queue_entry_not_found", "queue entry not found")
			}
			return nil, apperr.Conflict("not_waiting", "queue entry is no longer waiting")
		}
		return nil, apperr.Internal("cancel queue entry", err)
	}

	s.publish(ctx, notify.ChannelQueue, EventCancelled, entry, nil)
	capacity.LogEvent(ctx, s.store, s.log, capacity.EventQueueEntryCancelled, entry.ID, nil)
	return entry, nil
}

// List returns waiting entries in dequeue order.
func (s *QueueService) List(ctx context.Context, specialtyID *uuid.UUID) ([]capacity.QueueEntry, error) {
	list, err := s.store.ListWaiting(ctx, specialtyID)
	if err != nil {
		return nil, apperr.Internal("list queue", err)
	}
	return list, nil
}

// Worsening handles a caller's report that a waiting patient's symptoms got
// worse. Only Urgente and Emergencia entries are watched for it; they are
// raised to the top tier and an alert goes out. Triggered is false for
// other levels.
func (s *QueueService) Worsening(ctx context.Context, id uuid.UUID) (*capacity.QueueEntry, bool, error) {
	entry, err := s.store.GetQueueEntry(ctx, id)
	if err != nil {
		if errors.Is(err, capacity.ErrQueueEntryNotFound) {
			return nil, false, apperr.NotFound("queue_entry_not_found", "queue entry not found")
		}
		return nil, false, apperr.Internal("load queue entry", err)
	}
	if entry.Status != capacity.QueueWaiting {
		return nil, false, apperr.Conflict("not_waiting", "queue entry is no longer waiting")
	}
	if !watchesWorsening(entry.Level) {
		return entry, false, nil
	}

	updated, err := s.raise(ctx, entry, capacity.LevelEmergencia)
	if err != nil {
		return nil, false, err
	}

	s.publish(ctx, notify.ChannelAlerts, EventSymptomWorsening, updated, map[string]any{
		"action": "immediate_intervention",
	})
	s.log.Warn().
		Str("queue_entry_id", id.String()).
		Str("patient_id", updated.PatientID.String()).
		Msg("symptom worsening reported")
	return updated, true, nil
}

// Escalate raises every waiting entry that has outlived its level's time
// limit by one tier. An entry already escalated is measured from its last
// escalation. It returns how many entries were escalated.
func (s *QueueService) Escalate(ctx context.Context) (int, error) {
	waiting, err := s.store.ListWaiting(ctx, nil)
	if err != nil {
		return 0, apperr.Internal("list queue", err)
	}

	now := s.now()
	escalated := 0

	for i := range waiting {
		e := waiting[i]
		since := e.CreatedAt
		if e.EscalatedAt != nil {
			since = *e.EscalatedAt
		}
		waited := now.Sub(since)
		if waited <= EscalationLimit(e.Level) {
			continue
		}

		if ctx.Err() != nil {
			return escalated, ctx.Err()
		}

		updated, err := s.raise(ctx, &e, e.Level.Next())
		if err != nil {
			if apperr.KindOf(err) == apperr.KindNotFound {
				// Dequeued or cancelled since the listing.
				continue
			}
			return escalated, err
		}
		escalated++

		s.publish(ctx, notify.ChannelAlerts, EventEscalated, updated, map[string]any{
			"previous_priority": string(e.Level),
			"waited_minutes":    int(waited.Minutes()),
		})
		s.log.Info().
			Str("queue_entry_id", e.ID.String()).
			Str("from", string(e.Level)).
			Str("to", string(updated.Level)).
			Msg("queue entry escalated")
	}

	return escalated, nil
}

// raise moves an entry to level, keeping the higher of its current score
// and the level's base score.
func (s *QueueService) raise(ctx context.Context, e *capacity.QueueEntry, level capacity.PriorityLevel) (*capacity.QueueEntry, error) {
	score := max(e.Score, s.weights.Base[level])

	updated, err := s.store.EscalateEntry(ctx, e.ID, level, score, s.now().UTC())
	if err != nil {
		if errors.Is(err, capacity.ErrQueueEntryNotFound) {
			return nil, apperr.NotFound("queue_entry_not_found", "queue entry is no longer waiting")
		}
		return nil, apperr.Internal("escalate queue entry", err)
	}

	capacity.LogEvent(ctx, s.store, s.log, capacity.EventQueueEntryEscalated, e.ID, map[string]any{
		"from":  string(e.Level),
		"to":    string(level),
		"score": score,
	})
	return updated, nil
}

func (s *QueueService) publish(ctx context.Context, channel, typ string, e *capacity.QueueEntry, extra map[string]any) {
	payload := map[string]any{
		"queue_entry_id": e.ID.String(),
		"patient_id":     e.PatientID.String(),
		"specialty_id":   e.SpecialtyID.String(),
		"priority":       string(e.Level),
		"priority_score": e.Score,
		"status":         string(e.Status),
	}
	for k, v := range extra {
		payload[k] = v
	}

	ev := notify.Event{Channel: channel, Type: typ, Payload: payload, OccurredAt: s.now().UTC()}
	if err := s.sink.Publish(ctx, ev); err != nil {
		s.log.Warn().Err(err).Str("event", typ).Msg("publish queue event")
	}
}
