package priority

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-capacity-engine/internal/apperr"
	"github.com/hackgods/clinic-capacity-engine/internal/capacity"
	"github.com/hackgods/clinic-capacity-engine/internal/capacity/memstore"
	"github.com/hackgods/clinic-capacity-engine/internal/notify"
)

func TestSetPriority_ImmediateAttentionRaisesAlert(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	rec := &notify.Recorder{}
	svc := NewService(store, rec, zerolog.Nop())
	p := patient(store)

	out, err := svc.SetPriority(ctx, SetRequest{
		PatientID: p,
		Reason:    "dolor torácico",
		Assessment: Assessment{
			Level:                      capacity.LevelEmergencia,
			PainLevel:                  intp(10),
			Vitals:                     &capacity.VitalSigns{OxygenSaturation: intp(90)},
			RequiresImmediateAttention: true,
			Symptoms:                   []string{"dificultad para respirar"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 100, out.Priority.Score)
	assert.Equal(t, 5, out.Priority.ExpectedResponseMinutes)
	assert.Equal(t, capacity.PriorityActive, out.Priority.Status)
	require.NotNil(t, out.Alert)
	assert.Equal(t, "emergency", out.Alert.AlertType)
	assert.Len(t, store.Alerts(), 1)
	assert.Len(t, rec.OfType(EventAlert), 1)

	assert.Equal(t, "immediate_attention", out.RecommendedActions[0].Type)
	assert.Len(t, out.EscalationTriggers, 2)
}

func TestSetPriority_PendingWithoutImmediateAttention(t *testing.T) {
	store := memstore.New()
	rec := &notify.Recorder{}
	svc := NewService(store, rec, zerolog.Nop())

	out, err := svc.SetPriority(context.Background(), SetRequest{
		PatientID:  patient(store),
		Reason:     "control",
		Assessment: Assessment{Level: capacity.LevelBaja},
	})
	require.NoError(t, err)
	assert.Equal(t, capacity.PriorityPending, out.Priority.Status)
	assert.Nil(t, out.Alert)
	assert.Empty(t, rec.Events())
	assert.Empty(t, store.Alerts())
}

func TestSetPriority_Validation(t *testing.T) {
	store := memstore.New()
	svc := NewService(store, notify.Nop{}, zerolog.Nop())

	_, err := svc.SetPriority(context.Background(), SetRequest{
		PatientID:  patient(store),
		Assessment: Assessment{Level: "Critica", PainLevel: intp(11)},
	})
	require.Error(t, err)
	ae := apperr.As(err)
	assert.Equal(t, apperr.KindValidation, ae.Kind)
	assert.Contains(t, ae.Fields, "priority_level")
	assert.Contains(t, ae.Fields, "pain_level")
	assert.Contains(t, ae.Fields, "reason")

	_, err = svc.SetPriority(context.Background(), SetRequest{
		PatientID:  uuid.New(),
		Reason:     "x",
		Assessment: Assessment{Level: capacity.LevelBaja},
	})
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestSetPriority_AppointmentMustExist(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	svc := NewService(store, notify.Nop{}, zerolog.Nop())
	p := patient(store)

	missing := uuid.New()
	_, err := svc.SetPriority(ctx, SetRequest{
		PatientID:     p,
		AppointmentID: &missing,
		Reason:        "seguimiento",
		Assessment:    Assessment{Level: capacity.LevelMedia},
	})
	require.Error(t, err)
	ae := apperr.As(err)
	assert.Equal(t, apperr.KindNotFound, ae.Kind)
	assert.Equal(t, "appointment_not_found", ae.Code)

	view, err := svc.Active(ctx, "pending", 0)
	require.NoError(t, err)
	assert.Empty(t, view.Priorities)

	appt := store.PutAppointment(capacity.Appointment{PatientID: p, SlotID: uuid.New()})
	out, err := svc.SetPriority(ctx, SetRequest{
		PatientID:     p,
		AppointmentID: &appt.ID,
		Reason:        "seguimiento",
		Assessment:    Assessment{Level: capacity.LevelMedia},
	})
	require.NoError(t, err)
	require.NotNil(t, out.Priority.AppointmentID)
	assert.Equal(t, appt.ID, *out.Priority.AppointmentID)
}

func TestActive_OrdersAndAlerts(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	svc := NewService(store, notify.Nop{}, zerolog.Nop())

	for _, level := range []capacity.PriorityLevel{capacity.LevelAlta, capacity.LevelEmergencia, capacity.LevelUrgente} {
		_, err := svc.SetPriority(ctx, SetRequest{
			PatientID:  patient(store),
			Reason:     "triage",
			Assessment: Assessment{Level: level, RequiresImmediateAttention: true},
		})
		require.NoError(t, err)
	}

	view, err := svc.Active(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, view.Priorities, 3)
	assert.Equal(t, capacity.LevelEmergencia, view.Priorities[0].Level)
	assert.Equal(t, capacity.LevelAlta, view.Priorities[2].Level)

	require.NotEmpty(t, view.Alerts)
	assert.Equal(t, "emergency_alert", view.Alerts[0].Type)
}

func TestSystemAlerts_LongWait(t *testing.T) {
	now := time.Now()
	list := []capacity.PriorityRecord{
		{Level: capacity.LevelUrgente, CreatedAt: now.Add(-45 * time.Minute)},
		{Level: capacity.LevelUrgente, CreatedAt: now.Add(-35 * time.Minute)},
		{Level: capacity.LevelUrgente, CreatedAt: now.Add(-40 * time.Minute)},
		{Level: capacity.LevelUrgente, CreatedAt: now.Add(-50 * time.Minute)},
	}

	alerts := SystemAlerts(list, now)
	var types []string
	for _, a := range alerts {
		types = append(types, a.Type)
	}
	assert.Equal(t, []string{"high_urgent_load", "long_wait_times"}, types)
	assert.Empty(t, SystemAlerts(nil, now))
}
