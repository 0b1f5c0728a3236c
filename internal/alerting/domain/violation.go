package alerting

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"time"
)

// ErrNotFound is returned when a violation does not exist.
var ErrNotFound = errors.New("alerting: violation not found")

// ErrAlreadyClosed guards the append-only property of closed violations.
var ErrAlreadyClosed = errors.New("alerting: violation already closed")

const (
	StatusOpen   = "open"
	StatusClosed = "closed"
)

// ComplianceViolation is the durable record of one alert episode, spanning
// from the first escalation above NONE to the confirmed return to NONE.
type ComplianceViolation struct {
	ID                  string        `json:"violation_id"`
	PlantID             string        `json:"plant_id"`
	Level               Level         `json:"level"`
	PeakLevel           Level         `json:"peak_level"`
	ThresholdKgPerHr    float64       `json:"threshold_kg_per_hr"`
	ObservedRateKgPerHr float64       `json:"observed_rate_kg_per_hr"`
	OpenedAt            time.Time     `json:"opened_at"`
	ClosedAt            time.Time     `json:"closed_at,omitempty"`
	Duration            time.Duration `json:"duration,omitempty"`
	UpdatedAt           time.Time     `json:"updated_at"`
}

// Status derives the lifecycle state from ClosedAt.
func (v ComplianceViolation) Status() string {
	if v.ClosedAt.IsZero() {
		return StatusOpen
	}
	return StatusClosed
}

// RecordPeak raises the violation's level and observed rate to the new peak.
// Repeated crossings inside one episode update this record instead of
// opening a second one.
func (v *ComplianceViolation) RecordPeak(level Level, rate float64, threshold float64, at time.Time) error {
	if v == nil {
		return ErrNotFound
	}
	if !v.ClosedAt.IsZero() {
		return ErrAlreadyClosed
	}
	if level.Rank() > v.PeakLevel.Rank() {
		v.PeakLevel = level
		v.ThresholdKgPerHr = threshold
	}
	v.Level = level
	if rate > v.ObservedRateKgPerHr {
		v.ObservedRateKgPerHr = rate
	}
	v.UpdatedAt = at.UTC()
	return nil
}

// Close seals the violation. ClosedAt, once set, never changes.
func (v *ComplianceViolation) Close(at time.Time) error {
	if v == nil {
		return ErrNotFound
	}
	if !v.ClosedAt.IsZero() {
		return ErrAlreadyClosed
	}
	at = at.UTC()
	v.ClosedAt = at
	v.Duration = at.Sub(v.OpenedAt)
	v.Level = LevelNone
	v.UpdatedAt = at
	return nil
}

// BuildViolationID derives a stable id from the plant and open instant.
func BuildViolationID(plantID string, openedAt time.Time) string {
	sum := sha1.Sum([]byte(plantID + "|" + openedAt.UTC().Format(time.RFC3339Nano)))
	return "violation-" + hex.EncodeToString(sum[:8])
}
