package telemetry

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrInvalidReading marks a reading with negative or non-finite inputs.
var ErrInvalidReading = errors.New("telemetry: invalid reading")

// ErrUnknownPlant marks a reading for a plant that is not registered.
var ErrUnknownPlant = errors.New("telemetry: unknown plant")

// Reading is one raw telemetry fact reported by a plant.
type Reading struct {
	PlantID         string    `json:"plant_id"`
	Timestamp       time.Time `json:"timestamp"`
	EnergyKWh       float64   `json:"energy_kwh"`
	FuelLiters      float64   `json:"fuel_liters"`
	ProductionUnits int64     `json:"production_units"`
	Temperature     float64   `json:"temperature"`
}

// Validate checks reading invariants.
func (r Reading) Validate() error {
	if r.PlantID == "" {
		return fmt.Errorf("%w: empty plant id", ErrInvalidReading)
	}
	if r.Timestamp.IsZero() {
		return fmt.Errorf("%w: zero timestamp", ErrInvalidReading)
	}
	if r.EnergyKWh < 0 || math.IsNaN(r.EnergyKWh) || math.IsInf(r.EnergyKWh, 0) {
		return fmt.Errorf("%w: energy_kwh %v", ErrInvalidReading, r.EnergyKWh)
	}
	if r.FuelLiters < 0 || math.IsNaN(r.FuelLiters) || math.IsInf(r.FuelLiters, 0) {
		return fmt.Errorf("%w: fuel_liters %v", ErrInvalidReading, r.FuelLiters)
	}
	if r.ProductionUnits < 0 {
		return fmt.Errorf("%w: production_units %d", ErrInvalidReading, r.ProductionUnits)
	}
	return nil
}

// EmissionRecord is the derived emission fact for one reading.
type EmissionRecord struct {
	PlantID         string    `json:"plant_id"`
	Timestamp       time.Time `json:"timestamp"`
	EnergyKWh       float64   `json:"energy_kwh"`
	FuelLiters      float64   `json:"fuel_liters"`
	CarbonKg        float64   `json:"carbon_kg"`
	ProductionUnits int64     `json:"production_units"`
}

// EmissionFactors converts energy and fuel consumption into kg CO2.
type EmissionFactors struct {
	GridKWhFactor     float64
	DieselLiterFactor float64
}

// DefaultFactors are the grid/diesel conversion factors.
var DefaultFactors = EmissionFactors{
	GridKWhFactor:     0.82,
	DieselLiterFactor: 2.31,
}

// Validate checks factor invariants.
func (f EmissionFactors) Validate() error {
	if f.GridKWhFactor <= 0 || f.DieselLiterFactor <= 0 {
		return errors.New("telemetry: non-positive emission factor")
	}
	return nil
}

// carbonPrecision keeps per-record carbon stable at 4 decimal places so
// downstream window sums are order-independent.
const carbonPrecision = 1e4

// RoundCarbon truncates a carbon value to the stable record precision.
func RoundCarbon(kg float64) float64 {
	return math.Round(kg*carbonPrecision) / carbonPrecision
}

// Calculator derives emission records from readings. It is pure and
// stateless; invalid readings are rejected, never coerced.
type Calculator struct {
	factors EmissionFactors
}

// NewCalculator constructs a calculator with the given factors.
func NewCalculator(factors EmissionFactors) (*Calculator, error) {
	if err := factors.Validate(); err != nil {
		return nil, err
	}
	return &Calculator{factors: factors}, nil
}

// Calculate turns a reading into an emission record.
// carbon_kg = energy_kwh * grid factor + fuel_liters * diesel factor.
func (c *Calculator) Calculate(reading Reading) (EmissionRecord, error) {
	if c == nil {
		return EmissionRecord{}, errors.New("telemetry: nil calculator")
	}
	if err := reading.Validate(); err != nil {
		return EmissionRecord{}, err
	}
	carbon := reading.EnergyKWh*c.factors.GridKWhFactor + reading.FuelLiters*c.factors.DieselLiterFactor
	return EmissionRecord{
		PlantID:         reading.PlantID,
		Timestamp:       reading.Timestamp.UTC(),
		EnergyKWh:       reading.EnergyKWh,
		FuelLiters:      reading.FuelLiters,
		CarbonKg:        RoundCarbon(carbon),
		ProductionUnits: reading.ProductionUnits,
	}, nil
}

// Factors returns the configured factors.
func (c *Calculator) Factors() EmissionFactors {
	if c == nil {
		return EmissionFactors{}
	}
	return c.factors
}
