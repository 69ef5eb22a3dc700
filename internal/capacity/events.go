package capacity

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	EventAppointmentCreated   = "APPOINTMENT_CREATED"
	EventAppointmentConfirmed = "APPOINTMENT_CONFIRMED"
	EventAppointmentCompleted = "APPOINTMENT_COMPLETED"
	EventAppointmentCancelled = "APPOINTMENT_CANCELLED"
	EventQueueEntryCreated    = "QUEUE_ENTRY_CREATED"
	EventQueueEntryAssigned   = "QUEUE_ENTRY_ASSIGNED"
	EventQueueEntryCancelled  = "QUEUE_ENTRY_CANCELLED"
	EventQueueEntryEscalated  = "QUEUE_ENTRY_ESCALATED"
	EventPrioritySet          = "PRIORITY_SET"
	EventConflictResolved     = "CONFLICT_RESOLVED"
	EventBatchCreated         = "BATCH_CREATED"
	EventBatchDeleted         = "BATCH_DELETED"
)

// LogEvent appends to the event log. A failed insert is logged and
// otherwise ignored: the event log never fails the operation it records.
func LogEvent(ctx context.Context, store EventStore, log zerolog.Logger, eventType string, entityID uuid.UUID, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Warn().Err(err).Str("event_type", eventType).Msg("marshal event payload")
		data = nil
	}

	id := entityID
	ev := EventLog{
		EventType: eventType,
		EntityID:  &id,
		Payload:   data,
		CreatedAt: time.Now(),
	}

	if err := store.InsertEvent(ctx, ev); err != nil {
		log.Warn().Err(err).Str("event_type", eventType).Str("entity_id", entityID.String()).Msg("insert event log")
	}
}
