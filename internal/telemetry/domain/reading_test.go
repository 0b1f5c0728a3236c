package telemetry

import (
	"errors"
	"math"
	"testing"
	"time"
)

func TestCalculate_DefaultFactors(t *testing.T) {
	calc, err := NewCalculator(DefaultFactors)
	if err != nil {
		t.Fatalf("new calculator: %v", err)
	}

	rec, err := calc.Calculate(Reading{
		PlantID:         "plant-a",
		Timestamp:       time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		EnergyKWh:       100,
		FuelLiters:      50,
		ProductionUnits: 20,
	})
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	// 100*0.82 + 50*2.31 = 197.5
	if rec.CarbonKg != 197.5 {
		t.Fatalf("carbon = %v, want 197.5", rec.CarbonKg)
	}
	if rec.PlantID != "plant-a" || rec.ProductionUnits != 20 {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestCalculate_ZeroInputs(t *testing.T) {
	calc, _ := NewCalculator(DefaultFactors)
	rec, err := calc.Calculate(Reading{
		PlantID:   "plant-a",
		Timestamp: time.Now(),
	})
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if rec.CarbonKg != 0 {
		t.Fatalf("carbon = %v, want 0", rec.CarbonKg)
	}
}

func TestCalculate_RejectsInvalid(t *testing.T) {
	calc, _ := NewCalculator(DefaultFactors)
	ts := time.Now()

	cases := []struct {
		name    string
		reading Reading
	}{
		{"empty plant", Reading{Timestamp: ts, EnergyKWh: 1}},
		{"zero timestamp", Reading{PlantID: "p", EnergyKWh: 1}},
		{"negative energy", Reading{PlantID: "p", Timestamp: ts, EnergyKWh: -1}},
		{"negative fuel", Reading{PlantID: "p", Timestamp: ts, FuelLiters: -0.5}},
		{"negative production", Reading{PlantID: "p", Timestamp: ts, ProductionUnits: -1}},
		{"nan energy", Reading{PlantID: "p", Timestamp: ts, EnergyKWh: math.NaN()}},
		{"inf fuel", Reading{PlantID: "p", Timestamp: ts, FuelLiters: math.Inf(1)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := calc.Calculate(tc.reading); !errors.Is(err, ErrInvalidReading) {
				t.Fatalf("err = %v, want ErrInvalidReading", err)
			}
		})
	}
}

func TestRoundCarbon(t *testing.T) {
	if got := RoundCarbon(1.23456); got != 1.2346 {
		t.Fatalf("round = %v, want 1.2346", got)
	}
	if got := RoundCarbon(197.5); got != 197.5 {
		t.Fatalf("round = %v, want 197.5", got)
	}
}

func TestNewCalculator_RejectsBadFactors(t *testing.T) {
	if _, err := NewCalculator(EmissionFactors{GridKWhFactor: 0, DieselLiterFactor: 2.31}); err == nil {
		t.Fatal("expected error for zero grid factor")
	}
	if _, err := NewCalculator(EmissionFactors{GridKWhFactor: 0.82, DieselLiterFactor: -1}); err == nil {
		t.Fatal("expected error for negative diesel factor")
	}
}

func TestPlantRegistry_FixedAndDynamic(t *testing.T) {
	fixed := NewPlantRegistry([]string{"plant-a", "plant-b"})
	if err := fixed.Admit("plant-a"); err != nil {
		t.Fatalf("admit known: %v", err)
	}
	if err := fixed.Admit("plant-x"); !errors.Is(err, ErrUnknownPlant) {
		t.Fatalf("admit unknown: %v, want ErrUnknownPlant", err)
	}

	dynamic := NewPlantRegistry(nil)
	if err := dynamic.Admit("plant-x"); err != nil {
		t.Fatalf("dynamic admit: %v", err)
	}
	if !dynamic.Known("plant-x") {
		t.Fatal("dynamic registry should remember plant-x")
	}
	if err := dynamic.Admit(""); !errors.Is(err, ErrUnknownPlant) {
		t.Fatalf("empty plant id: %v, want ErrUnknownPlant", err)
	}
}
