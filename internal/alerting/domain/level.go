package alerting

import (
	"errors"
	"time"

	aggregation "greenledger/internal/aggregation/domain"
)

// Level is a plant's alert severity.
type Level string

const (
	LevelNone      Level = "NONE"
	LevelInfo      Level = "INFO"
	LevelWarning   Level = "WARNING"
	LevelCritical  Level = "CRITICAL"
	LevelEmergency Level = "EMERGENCY"
)

var levelRanks = map[Level]int{
	LevelNone:      0,
	LevelInfo:      1,
	LevelWarning:   2,
	LevelCritical:  3,
	LevelEmergency: 4,
}

var levelsByRank = []Level{LevelNone, LevelInfo, LevelWarning, LevelCritical, LevelEmergency}

// Rank orders levels by severity, NONE lowest.
func (l Level) Rank() int {
	return levelRanks[l]
}

// Valid reports whether the level is known.
func (l Level) Valid() bool {
	_, ok := levelRanks[l]
	return ok
}

// StepDown returns the next lower severity.
func (l Level) StepDown() Level {
	rank := l.Rank()
	if rank == 0 {
		return LevelNone
	}
	return levelsByRank[rank-1]
}

// Thresholds maps hourly emission rates to alert levels. A level fires when
// the observed rate strictly exceeds its bound.
type Thresholds struct {
	InfoKgPerHr      float64
	WarningKgPerHr   float64
	CriticalKgPerHr  float64
	EmergencyKgPerHr float64
}

// DefaultThresholds is the fixed compliance table in kg CO2 per hour.
var DefaultThresholds = Thresholds{
	InfoKgPerHr:      300,
	WarningKgPerHr:   400,
	CriticalKgPerHr:  500,
	EmergencyKgPerHr: 1000,
}

// Validate checks that the table is positive and strictly ascending.
func (t Thresholds) Validate() error {
	if t.InfoKgPerHr <= 0 {
		return errors.New("alerting: non-positive info threshold")
	}
	if t.WarningKgPerHr <= t.InfoKgPerHr || t.CriticalKgPerHr <= t.WarningKgPerHr || t.EmergencyKgPerHr <= t.CriticalKgPerHr {
		return errors.New("alerting: thresholds must be strictly ascending")
	}
	return nil
}

// Classify picks the highest level whose bound the rate exceeds. Below the
// info bound the classification is NONE.
func (t Thresholds) Classify(ratePerHour float64) Level {
	switch {
	case ratePerHour > t.EmergencyKgPerHr:
		return LevelEmergency
	case ratePerHour > t.CriticalKgPerHr:
		return LevelCritical
	case ratePerHour > t.WarningKgPerHr:
		return LevelWarning
	case ratePerHour > t.InfoKgPerHr:
		return LevelInfo
	default:
		return LevelNone
	}
}

// Bound returns the rate bound for a level, zero for NONE.
func (t Thresholds) Bound(level Level) float64 {
	switch level {
	case LevelInfo:
		return t.InfoKgPerHr
	case LevelWarning:
		return t.WarningKgPerHr
	case LevelCritical:
		return t.CriticalKgPerHr
	case LevelEmergency:
		return t.EmergencyKgPerHr
	default:
		return 0
	}
}

// ClassifiedEvent is the evaluator's verdict for one aggregate snapshot.
// NONE verdicts are emitted too; they drive de-escalation.
type ClassifiedEvent struct {
	PlantID      string                  `json:"plant_id"`
	Level        Level                   `json:"level"`
	ObservedRate float64                 `json:"observed_rate_kg_per_hr"`
	Granularity  aggregation.Granularity `json:"granularity"`
	WindowEnd    time.Time               `json:"window_end"`
}

// Validate rejects malformed events before they can touch alert state.
func (e ClassifiedEvent) Validate() error {
	if e.PlantID == "" {
		return errors.New("alerting: classified event without plant id")
	}
	if !e.Level.Valid() {
		return errors.New("alerting: classified event with unknown level")
	}
	if e.ObservedRate < 0 {
		return errors.New("alerting: classified event with negative rate")
	}
	if e.WindowEnd.IsZero() {
		return errors.New("alerting: classified event without window end")
	}
	return nil
}
