package events

import "time"

// ReadingAccepted is published after a raw reading passed validation and its
// emission record was derived.
type ReadingAccepted struct {
	PlantID         string    `json:"plant_id"`
	Timestamp       time.Time `json:"timestamp"`
	EnergyKWh       float64   `json:"energy_kwh"`
	FuelLiters      float64   `json:"fuel_liters"`
	CarbonKg        float64   `json:"carbon_kg"`
	ProductionUnits int64     `json:"production_units"`
	Temperature     float64   `json:"temperature"`
	OccurredAt      time.Time `json:"occurred_at"`
}

// Rejection reasons.
const (
	RejectInvalid      = "invalid"
	RejectUnknownPlant = "unknown_plant"
	RejectDuplicate    = "duplicate"
	RejectLate         = "late"
)

// ReadingRejected is published when a raw reading is dropped before
// aggregation.
type ReadingRejected struct {
	PlantID    string    `json:"plant_id"`
	Timestamp  time.Time `json:"timestamp"`
	Reason     string    `json:"reason"`
	Detail     string    `json:"detail,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}
