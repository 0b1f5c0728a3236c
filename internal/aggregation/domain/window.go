package aggregation

import (
	"errors"
	"fmt"
	"time"

	telemetry "greenledger/internal/telemetry/domain"
)

// ErrOutOfWindow is returned when a record's timestamp falls outside the
// window span it was routed to.
var ErrOutOfWindow = errors.New("aggregation: record outside window span")

// WindowState accumulates emission records for one (plant, granularity,
// window_start) key. It is owned by a single lane goroutine and never shared.
type WindowState struct {
	PlantID     string
	Granularity Granularity
	Start       time.Time
	End         time.Time

	SumCarbonKg        float64
	SumEnergyKWh       float64
	SumFuelLiters      float64
	SumProductionUnits int64
	Count              int64
	MaxCarbonKg        float64
	MinCarbonKg        float64
}

// NewWindowState opens a window of the given granularity at start.
func NewWindowState(plantID string, g Granularity, start time.Time) (*WindowState, error) {
	if plantID == "" {
		return nil, errors.New("aggregation: empty plant id")
	}
	if !g.IsValid() {
		return nil, ErrInvalidGranularity
	}
	start = start.UTC()
	return &WindowState{
		PlantID:     plantID,
		Granularity: g,
		Start:       start,
		End:         start.Add(g.Duration()),
	}, nil
}

// Contains reports whether t falls inside [Start, End).
func (w *WindowState) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Apply adds one emission record's contribution to the running sums.
// Totals only grow, so an open window's eventual snapshot is monotonically
// non-decreasing as records arrive.
func (w *WindowState) Apply(rec telemetry.EmissionRecord) error {
	if w == nil {
		return errors.New("aggregation: nil window state")
	}
	if rec.PlantID != w.PlantID {
		return fmt.Errorf("aggregation: record for plant %q routed to window of plant %q", rec.PlantID, w.PlantID)
	}
	if !w.Contains(rec.Timestamp) {
		return ErrOutOfWindow
	}
	if w.Count == 0 || rec.CarbonKg > w.MaxCarbonKg {
		w.MaxCarbonKg = rec.CarbonKg
	}
	if w.Count == 0 || rec.CarbonKg < w.MinCarbonKg {
		w.MinCarbonKg = rec.CarbonKg
	}
	w.SumCarbonKg += rec.CarbonKg
	w.SumEnergyKWh += rec.EnergyKWh
	w.SumFuelLiters += rec.FuelLiters
	w.SumProductionUnits += rec.ProductionUnits
	w.Count++
	return nil
}

// Snapshot freezes the window into an immutable aggregate.
func (w *WindowState) Snapshot(closedAt time.Time) AggregateSnapshot {
	snap := AggregateSnapshot{
		PlantID:              w.PlantID,
		Granularity:          w.Granularity,
		WindowStart:          w.Start,
		WindowEnd:            w.End,
		TotalCarbonKg:        telemetry.RoundCarbon(w.SumCarbonKg),
		TotalEnergyKWh:       w.SumEnergyKWh,
		TotalFuelLiters:      w.SumFuelLiters,
		TotalProductionUnits: w.SumProductionUnits,
		ReadingCount:         w.Count,
		MaxCarbonKg:          w.MaxCarbonKg,
		MinCarbonKg:          w.MinCarbonKg,
		ClosedAt:             closedAt.UTC(),
	}
	if w.Count > 0 {
		snap.AvgCarbonKg = telemetry.RoundCarbon(w.SumCarbonKg / float64(w.Count))
	}
	if w.SumProductionUnits > 0 {
		snap.CarbonIntensity = telemetry.RoundCarbon(w.SumCarbonKg / float64(w.SumProductionUnits))
		snap.IntensityDefined = true
	}
	snap.EmissionRatePerHour = telemetry.RoundCarbon(w.SumCarbonKg * float64(time.Hour) / float64(w.Granularity.Duration()))
	snap.ComplianceScore = complianceScore(snap.CarbonIntensity, snap.IntensityDefined)
	return snap
}

// AggregateSnapshot is the immutable result of a closed window.
type AggregateSnapshot struct {
	PlantID              string      `json:"plant_id"`
	Granularity          Granularity `json:"granularity"`
	WindowStart          time.Time   `json:"window_start"`
	WindowEnd            time.Time   `json:"window_end"`
	TotalCarbonKg        float64     `json:"total_carbon_kg"`
	TotalEnergyKWh       float64     `json:"total_energy_kwh"`
	TotalFuelLiters      float64     `json:"total_fuel_liters"`
	TotalProductionUnits int64       `json:"total_production_units"`
	ReadingCount         int64       `json:"reading_count"`
	AvgCarbonKg          float64     `json:"avg_carbon_kg"`
	MaxCarbonKg          float64     `json:"max_carbon_kg"`
	MinCarbonKg          float64     `json:"min_carbon_kg"`

	// CarbonIntensity is kg CO2 per production unit. It is meaningless when
	// IntensityDefined is false (zero production in the window).
	CarbonIntensity  float64 `json:"carbon_intensity"`
	IntensityDefined bool    `json:"intensity_defined"`

	// EmissionRatePerHour normalizes the window total to an hourly rate.
	EmissionRatePerHour float64 `json:"emission_rate_per_hour"`

	// ComplianceScore grades intensity on a 0-100 scale.
	ComplianceScore float64 `json:"compliance_score"`

	ClosedAt time.Time `json:"closed_at"`
}

// Intensity bounds for the compliance score, from the plant efficiency band.
const (
	intensityFloor = 10.0
	scorePerUnit   = 10.0
)

func complianceScore(intensity float64, defined bool) float64 {
	if !defined {
		return 50
	}
	if intensity <= intensityFloor {
		return 100
	}
	score := 100 - (intensity-intensityFloor)*scorePerUnit
	if score < 0 {
		return 0
	}
	return score
}
