package capacity

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type SlotStatus string

const (
	SlotActive SlotStatus = "active"
	SlotFull   SlotStatus = "full"
)

type AppointmentStatus string

const (
	StatusPending   AppointmentStatus = "pending"
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusCompleted AppointmentStatus = "completed"
	StatusCancelled AppointmentStatus = "cancelled"
)

// appointmentTransitions lists the only moves allowed. Cancelled and
// Completed are terminal.
var appointmentTransitions = map[AppointmentStatus][]AppointmentStatus{
	StatusPending:   {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusCompleted, StatusCancelled},
}

func CanTransition(from, to AppointmentStatus) bool {
	for _, s := range appointmentTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type QueueStatus string

const (
	QueueWaiting   QueueStatus = "waiting"
	QueueAssigned  QueueStatus = "assigned"
	QueueCancelled QueueStatus = "cancelled"
	QueueExpired   QueueStatus = "expired"
)

type PriorityLevel string

const (
	LevelBaja       PriorityLevel = "Baja"
	LevelMedia      PriorityLevel = "Media"
	LevelAlta       PriorityLevel = "Alta"
	LevelUrgente    PriorityLevel = "Urgente"
	LevelEmergencia PriorityLevel = "Emergencia"
)

// Levels in ascending urgency.
var Levels = []PriorityLevel{LevelBaja, LevelMedia, LevelAlta, LevelUrgente, LevelEmergencia}

func (l PriorityLevel) Valid() bool {
	return l.Rank() >= 0
}

// Rank is the level's position in Levels, or -1.
func (l PriorityLevel) Rank() int {
	for i, v := range Levels {
		if v == l {
			return i
		}
	}
	return -1
}

// Next returns the level one tier up; Emergencia is the ceiling.
func (l PriorityLevel) Next() PriorityLevel {
	r := l.Rank()
	if r < 0 || r == len(Levels)-1 {
		return l
	}
	return Levels[r+1]
}

type Patient struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	Phone     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Slot struct {
	ID              uuid.UUID  `json:"id"`
	DoctorID        uuid.UUID  `json:"doctor_id"`
	LocationID      uuid.UUID  `json:"location_id"`
	SpecialtyID     uuid.UUID  `json:"specialty_id"`
	Date            time.Time  `json:"date"`
	Start           Clock      `json:"start_time"`
	End             Clock      `json:"end_time"`
	Capacity        int        `json:"capacity"`
	Booked          int        `json:"booked_slots"`
	DurationMinutes int        `json:"duration_minutes"`
	Status          SlotStatus `json:"status"`
	BatchID         *uuid.UUID `json:"batch_id,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func (s Slot) Free() int {
	if s.Booked >= s.Capacity {
		return 0
	}
	return s.Capacity - s.Booked
}

func (s Slot) StartAt() time.Time { return At(s.Date, s.Start) }

func (s Slot) EndAt() time.Time { return At(s.Date, s.End) }

// Overlaps reports whether both slots belong to the same doctor on the same
// date and their [start,end) intervals intersect.
func (s Slot) Overlaps(o Slot) bool {
	if s.DoctorID != o.DoctorID || !DateOf(s.Date).Equal(DateOf(o.Date)) {
		return false
	}
	return s.Start < o.End && o.Start < s.End
}

type Appointment struct {
	ID              uuid.UUID         `json:"id"`
	PatientID       uuid.UUID         `json:"patient_id"`
	SlotID          uuid.UUID         `json:"slot_id"`
	DoctorID        uuid.UUID         `json:"doctor_id"`
	LocationID      uuid.UUID         `json:"location_id"`
	SpecialtyID     uuid.UUID         `json:"specialty_id"`
	ScheduledAt     time.Time         `json:"scheduled_at"`
	DurationMinutes int               `json:"duration_minutes"`
	Status          AppointmentStatus `json:"status"`
	PriorityLevel   PriorityLevel     `json:"priority_level"`
	AppointmentType string            `json:"appointment_type"`
	Manual          bool              `json:"manual"`
	Reason          string            `json:"reason,omitempty"`
	Notes           string            `json:"notes,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

type QueueEntry struct {
	ID          uuid.UUID     `json:"id"`
	PatientID   uuid.UUID     `json:"patient_id"`
	SpecialtyID uuid.UUID     `json:"specialty_id"`
	Level       PriorityLevel `json:"priority"`
	Score       int           `json:"priority_score"`
	Reason      string        `json:"reason,omitempty"`
	Status      QueueStatus   `json:"status"`
	EscalatedAt *time.Time    `json:"escalated_at,omitempty"`
	AssignedAt  *time.Time    `json:"assigned_at,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// DequeuesBefore orders entries the way dequeueNext does: higher score
// first, then earlier arrival, then id for a total order.
func (e QueueEntry) DequeuesBefore(o QueueEntry) bool {
	if e.Score != o.Score {
		return e.Score > o.Score
	}
	if !e.CreatedAt.Equal(o.CreatedAt) {
		return e.CreatedAt.Before(o.CreatedAt)
	}
	return e.ID.String() < o.ID.String()
}

type VitalSigns struct {
	BloodPressure    string   `json:"blood_pressure,omitempty"`
	HeartRate        *int     `json:"heart_rate,omitempty"`
	Temperature      *float64 `json:"temperature,omitempty"`
	OxygenSaturation *int     `json:"oxygen_saturation,omitempty"`
}

type PriorityRecord struct {
	ID                         uuid.UUID     `json:"id"`
	PatientID                  uuid.UUID     `json:"patient_id"`
	AppointmentID              *uuid.UUID    `json:"appointment_id,omitempty"`
	Level                      PriorityLevel `json:"priority_level"`
	Score                      int           `json:"priority_score"`
	Reason                     string        `json:"reason"`
	Symptoms                   []string      `json:"symptoms,omitempty"`
	PainLevel                  *int          `json:"pain_level,omitempty"`
	MedicalConditions          []string      `json:"medical_conditions,omitempty"`
	VitalSigns                 *VitalSigns   `json:"vital_signs,omitempty"`
	RequiresImmediateAttention bool          `json:"requires_immediate_attention"`
	PreferredSpecialtyID       *uuid.UUID    `json:"preferred_specialty_id,omitempty"`
	PreferredDoctorID          *uuid.UUID    `json:"preferred_doctor_id,omitempty"`
	ExpectedResponseMinutes    int           `json:"expected_response_minutes"`
	Status                     string        `json:"status"`
	CreatedAt                  time.Time     `json:"created_at"`
}

const (
	PriorityActive  = "active"
	PriorityPending = "pending"
)

type PriorityAlert struct {
	ID         uuid.UUID `json:"id"`
	PriorityID uuid.UUID `json:"priority_id"`
	AlertType  string    `json:"alert_type"`
	Message    string    `json:"message"`
	Score      int       `json:"priority_score"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}

// ConflictResolution is one entry of the append-only resolution log.
type ConflictResolution struct {
	ID         uuid.UUID       `json:"id"`
	SlotID     uuid.UUID       `json:"slot_id"`
	Type       string          `json:"resolution_type"`
	Data       json.RawMessage `json:"resolution_data"`
	Notes      string          `json:"notes,omitempty"`
	ResolvedBy string          `json:"resolved_by"`
	ResolvedAt time.Time       `json:"resolved_at"`
}

type Batch struct {
	ID            uuid.UUID      `json:"id"`
	DoctorID      uuid.UUID      `json:"doctor_id"`
	LocationID    uuid.UUID      `json:"location_id"`
	SpecialtyID   uuid.UUID      `json:"specialty_id"`
	StartDate     time.Time      `json:"start_date"`
	EndDate       time.Time      `json:"end_date"`
	StartTime     Clock          `json:"start_time"`
	EndTime       Clock          `json:"end_time"`
	TotalCapacity int            `json:"total_capacity"`
	WorkingDays   int            `json:"working_days"`
	Mode          string         `json:"distribution_mode"`
	Distribution  map[string]int `json:"distribution"`
	CreatedSlots  int            `json:"created_slots"`
	Notes         string         `json:"notes,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

type BatchDeletion struct {
	Slots        int `json:"deleted_slots"`
	Appointments int `json:"deleted_appointments"`
}

type EventLog struct {
	ID        int64
	EventType string
	EntityID  *uuid.UUID
	Payload   []byte
	CreatedAt time.Time
}
