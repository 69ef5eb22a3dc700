package priority

import (
	"fmt"
	"math"
	"strings"

	"github.com/hackgods/clinic-capacity-engine/internal/capacity"
)

// Assessment is the clinical input to the score.
type Assessment struct {
	Level                      capacity.PriorityLevel
	PainLevel                  *int
	Vitals                     *capacity.VitalSigns
	RequiresImmediateAttention bool
	MedicalConditions          []string
	Symptoms                   []string
}

// Score computes the urgency score, clamped to [0,100].
func Score(a Assessment, w Weights) int {
	score := w.Base[a.Level]

	if a.PainLevel != nil && *a.PainLevel > 0 {
		score += min(*a.PainLevel*w.PainPerPoint, w.PainCap)
	}

	if a.RequiresImmediateAttention {
		score += w.ImmediateAttention
	}

	if v := a.Vitals; v != nil {
		if v.HeartRate != nil && (*v.HeartRate < w.HeartRateLow || *v.HeartRate > w.HeartRateHigh) {
			score += w.HeartRate
		}
		if v.Temperature != nil && *v.Temperature > w.FeverCelsius {
			score += w.Fever
		}
		if v.OxygenSaturation != nil && *v.OxygenSaturation < w.OxygenPercent {
			score += w.LowOxygen
		}
	}

	if containsAny(a.MedicalConditions, w.CriticalConditions) {
		score += w.CriticalCondition
	}
	if containsAny(a.Symptoms, w.CriticalSymptoms) {
		score += w.CriticalSymptom
	}

	return max(0, min(100, score))
}

func containsAny(reported, keywords []string) bool {
	for _, r := range reported {
		lower := strings.ToLower(r)
		for _, k := range keywords {
			if strings.Contains(lower, k) {
				return true
			}
		}
	}
	return false
}

// ExpectedResponseMinutes shortens the level's base time by up to half as
// the score approaches 100, never below 5 minutes.
func ExpectedResponseMinutes(level capacity.PriorityLevel, score int) int {
	base, ok := responseBase[level]
	if !ok {
		base = defaultLimit
	}
	adjusted := float64(base) * (1 - float64(score)/100*0.5)
	return max(minResponseMinutes, int(math.Round(adjusted)))
}

type Action struct {
	Type     string `json:"type"`
	Priority string `json:"priority"`
	Message  string `json:"message"`
	Action   string `json:"action"`
}

// RecommendedActions lists follow-ups for a scored assessment.
func RecommendedActions(a Assessment, score int, hasPreferredSpecialty bool) []Action {
	var actions []Action

	switch {
	case score >= 90:
		actions = append(actions, Action{
			Type:     "immediate_attention",
			Priority: "critical",
			Message:  "immediate attention required",
			Action:   "notify_emergency_team",
		})
	case score >= 70:
		actions = append(actions, Action{
			Type:     "urgent_consultation",
			Priority: "high",
			Message:  "urgent consultation needed",
			Action:   "schedule_immediate_appointment",
		})
	}

	if hasPreferredSpecialty {
		actions = append(actions, Action{
			Type:     "specialty_assignment",
			Priority: "medium",
			Message:  "assign a specialist",
			Action:   "assign_specialist",
		})
	}

	if len(a.Symptoms) > 0 {
		actions = append(actions, Action{
			Type:     "symptom_monitoring",
			Priority: "medium",
			Message:  "monitor reported symptoms",
			Action:   "setup_monitoring",
		})
	}

	return actions
}

type Trigger struct {
	Type      string `json:"type"`
	Condition string `json:"condition"`
	Action    string `json:"action"`
	Message   string `json:"message"`
}

// EscalationTriggers describes when a waiting patient at this level is
// escalated.
func EscalationTriggers(level capacity.PriorityLevel) []Trigger {
	limit := int(EscalationLimit(level).Minutes())

	triggers := []Trigger{{
		Type:      "time_limit",
		Condition: fmt.Sprintf("wait_time > %d minutes", limit),
		Action:    "escalate_priority",
		Message:   fmt.Sprintf("escalate priority after %d minutes of waiting", limit),
	}}

	if watchesWorsening(level) {
		triggers = append(triggers, Trigger{
			Type:      "symptom_worsening",
			Condition: "symptoms_worsen",
			Action:    "immediate_intervention",
			Message:   "intervene immediately if symptoms worsen",
		})
	}

	return triggers
}

func watchesWorsening(level capacity.PriorityLevel) bool {
	return level == capacity.LevelUrgente || level == capacity.LevelEmergencia
}
