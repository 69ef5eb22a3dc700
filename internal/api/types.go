package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-capacity-engine/internal/capacity"
	"github.com/hackgods/clinic-capacity-engine/internal/conflict"
	"github.com/hackgods/clinic-capacity-engine/internal/distribution"
	"github.com/hackgods/clinic-capacity-engine/internal/matcher"
	"github.com/hackgods/clinic-capacity-engine/internal/priority"
)

// Request bodies are validated with struct tags before they reach a
// service; the to* conversions below can therefore parse without checking.

func optUUID(s *string) *uuid.UUID {
	if s == nil || *s == "" {
		return nil
	}
	id := uuid.MustParse(*s)
	return &id
}

// SearchFields describe where and when to look; suggestions take them alone.
type SearchFields struct {
	SpecialtyID        string   `json:"specialty_id" validate:"required,uuid"`
	LocationID         *string  `json:"location_id" validate:"omitempty,uuid"`
	PreferredDoctorID  *string  `json:"preferred_doctor_id" validate:"omitempty,uuid"`
	DurationMinutes    int      `json:"duration_minutes" validate:"min=5,max=480"`
	SearchDaysAhead    int      `json:"search_days_ahead" validate:"min=1,max=90"`
	PreferredTimeSlots []string `json:"preferred_time_slots" validate:"omitempty,max=12,dive,timewindow"`
}

func (f *SearchFields) applyDefaults() {
	if f.DurationMinutes == 0 {
		f.DurationMinutes = 30
	}
	if f.SearchDaysAhead == 0 {
		f.SearchDaysAhead = 30
	}
}

func (f *SearchFields) criteria() matcher.Criteria {
	c := matcher.Criteria{
		SpecialtyID:     uuid.MustParse(f.SpecialtyID),
		LocationID:      optUUID(f.LocationID),
		DoctorID:        optUUID(f.PreferredDoctorID),
		DurationMinutes: f.DurationMinutes,
		SearchDays:      f.SearchDaysAhead,
	}
	for _, s := range f.PreferredTimeSlots {
		w, _ := matcher.ParseWindow(s)
		c.PreferredWindows = append(c.PreferredWindows, w)
	}
	return c
}

type MatchRequest struct {
	PatientID       string `json:"patient_id" validate:"required,uuid"`
	UrgencyLevel    string `json:"urgency_level" validate:"oneof=Baja Media Alta Urgente Emergencia"`
	AppointmentType string `json:"appointment_type" validate:"oneof=Presencial Telemedicina"`
	Reason          string `json:"reason" validate:"max=500"`
	Notes           string `json:"notes" validate:"max=2000"`
	SearchFields
}

func (m *MatchRequest) applyDefaults() {
	m.SearchFields.applyDefaults()
	if m.UrgencyLevel == "" {
		m.UrgencyLevel = string(capacity.LevelMedia)
	}
	if m.AppointmentType == "" {
		m.AppointmentType = "Presencial"
	}
}

func (m *MatchRequest) toRequest() matcher.Request {
	return matcher.Request{
		PatientID:       uuid.MustParse(m.PatientID),
		Criteria:        m.criteria(),
		Level:           capacity.PriorityLevel(m.UrgencyLevel),
		AppointmentType: m.AppointmentType,
		Reason:          m.Reason,
		Notes:           m.Notes,
	}
}

type MatchResponse struct {
	Assigned             bool                  `json:"assigned"`
	Appointment          *capacity.Appointment `json:"appointment,omitempty"`
	AssignmentScore      int                   `json:"assignment_score,omitempty"`
	AlternativesCount    int                   `json:"alternatives_count"`
	QueueEntry           *capacity.QueueEntry  `json:"queue_entry,omitempty"`
	Position             int                   `json:"position,omitempty"`
	EstimatedWaitMinutes int                   `json:"estimated_wait_minutes,omitempty"`
}

func matchResponse(res *matcher.Result) MatchResponse {
	return MatchResponse{
		Assigned:             !res.Queued(),
		Appointment:          res.Appointment,
		AssignmentScore:      res.Score,
		AlternativesCount:    res.AlternativesCount,
		QueueEntry:           res.QueueEntry,
		Position:             res.Position,
		EstimatedWaitMinutes: res.EstimatedWaitMinutes,
	}
}

type SuggestionView struct {
	SlotID     uuid.UUID      `json:"slot_id"`
	DoctorID   uuid.UUID      `json:"doctor_id"`
	LocationID uuid.UUID      `json:"location_id"`
	Date       string         `json:"date"`
	StartTime  capacity.Clock `json:"start_time"`
	Free       int            `json:"available_slots"`
	Score      int            `json:"score"`
}

type SuggestionsResponse struct {
	Suggestions []SuggestionView `json:"suggestions"`
	TotalFound  int              `json:"total_found"`
}

func suggestionsResponse(cands []matcher.Candidate, total int) SuggestionsResponse {
	out := SuggestionsResponse{Suggestions: make([]SuggestionView, 0, len(cands)), TotalFound: total}
	for _, c := range cands {
		out.Suggestions = append(out.Suggestions, SuggestionView{
			SlotID:     c.Slot.ID,
			DoctorID:   c.Slot.DoctorID,
			LocationID: c.Slot.LocationID,
			Date:       c.Slot.Date.Format(capacity.DateLayout),
			StartTime:  c.Start,
			Free:       c.Slot.Free(),
			Score:      c.Score,
		})
	}
	return out
}

type VitalSignsRequest struct {
	BloodPressure    string   `json:"blood_pressure" validate:"max=20"`
	HeartRate        *int     `json:"heart_rate" validate:"omitempty,min=0,max=300"`
	Temperature      *float64 `json:"temperature" validate:"omitempty,gte=25,lte=45"`
	OxygenSaturation *int     `json:"oxygen_saturation" validate:"omitempty,min=0,max=100"`
}

func (v *VitalSignsRequest) toModel() *capacity.VitalSigns {
	if v == nil {
		return nil
	}
	return &capacity.VitalSigns{
		BloodPressure:    v.BloodPressure,
		HeartRate:        v.HeartRate,
		Temperature:      v.Temperature,
		OxygenSaturation: v.OxygenSaturation,
	}
}

// AssessmentFields are shared by priority and queue requests.
type AssessmentFields struct {
	PriorityLevel              string             `json:"priority_level" validate:"required,oneof=Baja Media Alta Urgente Emergencia"`
	PainLevel                  *int               `json:"pain_level" validate:"omitempty,min=1,max=10"`
	VitalSigns                 *VitalSignsRequest `json:"vital_signs"`
	RequiresImmediateAttention bool               `json:"requires_immediate_attention"`
	Symptoms                   []string           `json:"symptoms" validate:"omitempty,max=50,dive,max=200"`
	MedicalConditions          []string           `json:"medical_conditions" validate:"omitempty,max=50,dive,max=200"`
}

func (a AssessmentFields) toAssessment() priority.Assessment {
	return priority.Assessment{
		Level:                      capacity.PriorityLevel(a.PriorityLevel),
		PainLevel:                  a.PainLevel,
		Vitals:                     a.VitalSigns.toModel(),
		RequiresImmediateAttention: a.RequiresImmediateAttention,
		MedicalConditions:          a.MedicalConditions,
		Symptoms:                   a.Symptoms,
	}
}

type SetPriorityRequest struct {
	PatientID            string  `json:"patient_id" validate:"required,uuid"`
	AppointmentID        *string `json:"appointment_id" validate:"omitempty,uuid"`
	Reason               string  `json:"reason" validate:"required,max=500"`
	PreferredSpecialtyID *string `json:"preferred_specialty_id" validate:"omitempty,uuid"`
	PreferredDoctorID    *string `json:"preferred_doctor_id" validate:"omitempty,uuid"`
	AssessmentFields
}

func (p *SetPriorityRequest) toRequest() priority.SetRequest {
	return priority.SetRequest{
		PatientID:            uuid.MustParse(p.PatientID),
		AppointmentID:        optUUID(p.AppointmentID),
		Assessment:           p.toAssessment(),
		Reason:               p.Reason,
		PreferredSpecialtyID: optUUID(p.PreferredSpecialtyID),
		PreferredDoctorID:    optUUID(p.PreferredDoctorID),
	}
}

type EnqueueRequest struct {
	PatientID   string `json:"patient_id" validate:"required,uuid"`
	SpecialtyID string `json:"specialty_id" validate:"required,uuid"`
	Reason      string `json:"reason" validate:"max=500"`
	AssessmentFields
}

type PlacementResponse struct {
	Entry                *capacity.QueueEntry `json:"entry"`
	Position             int                  `json:"position,omitempty"`
	EstimatedWaitMinutes int                  `json:"estimated_wait_minutes,omitempty"`
}

type DequeueRequest struct {
	SpecialtyID string `json:"specialty_id" validate:"required,uuid"`
}

type WorseningResponse struct {
	Entry     *capacity.QueueEntry `json:"entry"`
	Triggered bool                 `json:"triggered"`
}

type DetectRequest struct {
	DateFrom string `json:"date_from" validate:"omitempty,ymd"`
	DateTo   string `json:"date_to" validate:"omitempty,ymd"`
	DoctorID string `json:"doctor_id" validate:"omitempty,uuid"`
	AutoFix  bool   `json:"auto_fix"`
}

func optDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	d, _ := capacity.ParseDate(s)
	return &d
}

func (d *DetectRequest) toRequest() conflict.DetectRequest {
	return conflict.DetectRequest{
		From:     optDate(d.DateFrom),
		To:       optDate(d.DateTo),
		DoctorID: optUUID(&d.DoctorID),
		AutoFix:  d.AutoFix,
	}
}

type ResolveRequest struct {
	ConflictID     string `json:"conflict_id" validate:"required,uuid"`
	ResolutionType string `json:"resolution_type" validate:"required,oneof=reschedule cancel increase_capacity split_slot"`
	NewDate        string `json:"new_date" validate:"omitempty,ymd"`
	NewTime        string `json:"new_time" validate:"omitempty,hhmm"`
	Notes          string `json:"notes" validate:"max=2000"`
}

func (r *ResolveRequest) toRequest(resolvedBy string) conflict.ResolveRequest {
	out := conflict.ResolveRequest{
		SlotID:     uuid.MustParse(r.ConflictID),
		Type:       r.ResolutionType,
		NewDate:    optDate(r.NewDate),
		Notes:      r.Notes,
		ResolvedBy: resolvedBy,
	}
	if r.NewTime != "" {
		c, _ := capacity.ParseClock(r.NewTime)
		out.NewTime = &c
	}
	return out
}

type BatchRequest struct {
	DoctorID             string   `json:"doctor_id" validate:"required,uuid"`
	LocationID           string   `json:"location_id" validate:"required,uuid"`
	SpecialtyID          string   `json:"specialty_id" validate:"required,uuid"`
	StartDate            string   `json:"start_date" validate:"required,ymd"`
	EndDate              string   `json:"end_date" validate:"required,ymd"`
	StartTime            string   `json:"start_time" validate:"required,hhmm"`
	EndTime              string   `json:"end_time" validate:"required,hhmm"`
	TotalCapacity        int      `json:"total_capacity" validate:"min=1"`
	SlotDurationMinutes  int      `json:"slot_duration_minutes" validate:"min=5,max=120"`
	ExcludeWeekends      *bool    `json:"exclude_weekends"`
	ExcludeHolidays      *bool    `json:"exclude_holidays"`
	CustomExcludedDates  []string `json:"custom_excluded_dates" validate:"omitempty,max=366,dive,ymd"`
	DistributionMode     string   `json:"distribution_mode" validate:"oneof=random balanced"`
	MaxDailyAppointments *int     `json:"max_daily_appointments" validate:"omitempty,min=1"`
	Notes                string   `json:"notes" validate:"max=2000"`
}

func (b *BatchRequest) applyDefaults() {
	if b.SlotDurationMinutes == 0 {
		b.SlotDurationMinutes = 30
	}
	if b.DistributionMode == "" {
		b.DistributionMode = string(distribution.ModeRandom)
	}
	t := true
	if b.ExcludeWeekends == nil {
		b.ExcludeWeekends = &t
	}
	if b.ExcludeHolidays == nil {
		b.ExcludeHolidays = &t
	}
}

func (b *BatchRequest) toRequest() distribution.Request {
	out := distribution.Request{
		DoctorID:            uuid.MustParse(b.DoctorID),
		LocationID:          uuid.MustParse(b.LocationID),
		SpecialtyID:         uuid.MustParse(b.SpecialtyID),
		StartDate:           *optDate(b.StartDate),
		EndDate:             *optDate(b.EndDate),
		StartTime:           capacity.MustClock(b.StartTime),
		EndTime:             capacity.MustClock(b.EndTime),
		TotalCapacity:       b.TotalCapacity,
		SlotDurationMinutes: b.SlotDurationMinutes,
		ExcludeWeekends:     *b.ExcludeWeekends,
		ExcludeHolidays:     *b.ExcludeHolidays,
		Mode:                distribution.Mode(b.DistributionMode),
		Notes:               b.Notes,
	}
	for _, s := range b.CustomExcludedDates {
		out.CustomExcludedDates = append(out.CustomExcludedDates, *optDate(s))
	}
	if b.MaxDailyAppointments != nil {
		out.MaxDailyAppointments = *b.MaxDailyAppointments
	}
	return out
}

type BatchResponse struct {
	BatchID       uuid.UUID                 `json:"batch_id"`
	TotalCapacity int                       `json:"total_capacity"`
	WorkingDays   int                       `json:"working_days"`
	Distribution  map[string]int            `json:"distribution"`
	CreatedSlots  int                       `json:"created_slots"`
	SkippedDays   []distribution.SkippedDay `json:"skipped_days"`
	Mode          string                    `json:"distribution_mode"`
}

func batchResponse(res *distribution.Result) BatchResponse {
	b := res.Batch
	return BatchResponse{
		BatchID:       b.ID,
		TotalCapacity: b.TotalCapacity,
		WorkingDays:   b.WorkingDays,
		Distribution:  b.Distribution,
		CreatedSlots:  b.CreatedSlots,
		SkippedDays:   res.Skipped,
		Mode:          b.Mode,
	}
}

type BookRequest struct {
	SlotID          string `json:"slot_id" validate:"required,uuid"`
	PatientID       string `json:"patient_id" validate:"required,uuid"`
	StartTime       string `json:"start_time" validate:"omitempty,hhmm"`
	DurationMinutes int    `json:"duration_minutes" validate:"omitempty,min=5,max=480"`
	PriorityLevel   string `json:"priority_level" validate:"omitempty,oneof=Baja Media Alta Urgente Emergencia"`
	AppointmentType string `json:"appointment_type" validate:"omitempty,oneof=Presencial Telemedicina"`
	Reason          string `json:"reason" validate:"max=500"`
	Notes           string `json:"notes" validate:"max=2000"`
}
