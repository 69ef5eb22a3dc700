package priority

import (
	"time"

	"github.com/hackgods/clinic-capacity-engine/internal/capacity"
)

// Weights drive the 0-100 urgency score. Every bonus is additive and the
// total is clamped.
type Weights struct {
	// Base is the starting score per level.
	Base map[capacity.PriorityLevel]int

	// Pain adds PainPerPoint for each reported pain point, up to PainCap.
	PainPerPoint int
	PainCap      int

	ImmediateAttention int

	// HeartRate applies below HeartRateLow or above HeartRateHigh bpm.
	HeartRate     int
	HeartRateLow  int
	HeartRateHigh int
	// Fever applies above FeverCelsius.
	Fever        int
	FeverCelsius float64
	// LowOxygen applies below OxygenPercent saturation.
	LowOxygen     int
	OxygenPercent int

	// CriticalCondition and CriticalSymptom apply once when any reported
	// entry contains one of the keywords, case-insensitively.
	CriticalCondition  int
	CriticalConditions []string
	CriticalSymptom    int
	CriticalSymptoms   []string
}

func DefaultWeights() Weights {
	return Weights{
		Base: map[capacity.PriorityLevel]int{
			capacity.LevelBaja:       10,
			capacity.LevelMedia:      30,
			capacity.LevelAlta:       60,
			capacity.LevelUrgente:    85,
			capacity.LevelEmergencia: 100,
		},
		PainPerPoint:       2,
		PainCap:            20,
		ImmediateAttention: 15,
		HeartRate:          10,
		HeartRateLow:       50,
		HeartRateHigh:      120,
		Fever:              8,
		FeverCelsius:       38.5,
		LowOxygen:          12,
		OxygenPercent:      95,
		CriticalCondition:  20,
		CriticalConditions: []string{"infarto", "accidente", "hemorragia", "dolor torácico", "dificultad respiratoria"},
		CriticalSymptom:    15,
		CriticalSymptoms:   []string{"dolor intenso", "dificultad para respirar", "pérdida de conciencia", "convulsiones"},
	}
}

// responseBase is the expected response time per level before the score
// adjustment, in minutes.
var responseBase = map[capacity.PriorityLevel]int{
	capacity.LevelBaja:       1440,
	capacity.LevelMedia:      480,
	capacity.LevelAlta:       120,
	capacity.LevelUrgente:    30,
	capacity.LevelEmergencia: 5,
}

// escalationLimit is how long an entry may wait at a level before it is
// escalated, in minutes.
var escalationLimit = map[capacity.PriorityLevel]int{
	capacity.LevelBaja:       1440,
	capacity.LevelMedia:      480,
	capacity.LevelAlta:       120,
	capacity.LevelUrgente:    60,
	capacity.LevelEmergencia: 15,
}

const (
	minResponseMinutes = 5
	defaultLimit       = 1440
)

func EscalationLimit(level capacity.PriorityLevel) time.Duration {
	m, ok := escalationLimit[level]
	if !ok {
		m = defaultLimit
	}
	return time.Duration(m) * time.Minute
}
