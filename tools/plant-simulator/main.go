package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"greenledger/internal/auth"
)

type profile struct {
	plantID         string
	energyKWh       float64
	fuelLiters      float64
	productionUnits int64
	temperature     float64
}

// Baseline per-minute consumption for the demo fleet. Jitter is applied on
// every tick, and a small fraction of readings spike well above baseline.
var defaultProfiles = []profile{
	{plantID: "plant-steel-01", energyKWh: 420, fuelLiters: 35, productionUnits: 120, temperature: 28},
	{plantID: "plant-cement-02", energyKWh: 310, fuelLiters: 52, productionUnits: 90, temperature: 31},
	{plantID: "plant-textile-03", energyKWh: 150, fuelLiters: 8, productionUnits: 260, temperature: 26},
	{plantID: "plant-chemical-04", energyKWh: 520, fuelLiters: 64, productionUnits: 75, temperature: 33},
}

const (
	jitterFraction = 0.20
	spikeChance    = 0.05
	spikeFactor    = 3.0
)

type readingPayload struct {
	PlantID         string  `json:"plant_id"`
	Timestamp       string  `json:"timestamp"`
	EnergyKWh       float64 `json:"energy_kwh"`
	FuelLiters      float64 `json:"fuel_liters"`
	ProductionUnits int64   `json:"production_units"`
	Temperature     float64 `json:"temperature"`
}

func main() {
	var (
		baseURL  = flag.String("base-url", "http://localhost:8080", "engine base URL")
		interval = flag.Duration("interval", 5*time.Second, "delay between batches")
		count    = flag.Int("count", 0, "number of batches to send, 0 for unbounded")
		secret   = flag.String("secret", os.Getenv("INGEST_HMAC_SECRET"), "ingest HMAC secret")
		plants   = flag.String("plants", "", "comma-separated plant ids overriding the default fleet")
		seed     = flag.Int64("seed", time.Now().UnixNano(), "random seed")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[plant-simulator] ", log.LstdFlags)
	rng := rand.New(rand.NewSource(*seed))

	profiles := defaultProfiles
	if *plants != "" {
		profiles = profiles[:0]
		for i, plantID := range strings.Split(*plants, ",") {
			plantID = strings.TrimSpace(plantID)
			if plantID == "" {
				continue
			}
			base := defaultProfiles[i%len(defaultProfiles)]
			base.plantID = plantID
			profiles = append(profiles, base)
		}
	}
	if len(profiles) == 0 {
		logger.Fatal("no plants configured")
	}

	client := &http.Client{Timeout: 10 * time.Second}
	endpoint := strings.TrimRight(*baseURL, "/") + "/api/v1/readings"

	sent := 0
	for {
		now := time.Now().UTC()
		batch := make([]readingPayload, 0, len(profiles))
		for _, p := range profiles {
			batch = append(batch, simulate(rng, p, now))
		}
		if err := post(client, endpoint, []byte(*secret), batch); err != nil {
			logger.Printf("post error: %v", err)
		} else {
			logger.Printf("sent %d readings at %s", len(batch), now.Format(time.RFC3339))
		}

		sent++
		if *count > 0 && sent >= *count {
			return
		}
		time.Sleep(*interval)
	}
}

func simulate(rng *rand.Rand, p profile, now time.Time) readingPayload {
	energy := jitter(rng, p.energyKWh)
	fuel := jitter(rng, p.fuelLiters)
	temperature := jitter(rng, p.temperature)
	if rng.Float64() < spikeChance {
		energy *= spikeFactor
		fuel *= spikeFactor
		temperature += 10
	}
	return readingPayload{
		PlantID:         p.plantID,
		Timestamp:       now.Format(time.RFC3339),
		EnergyKWh:       round2(energy),
		FuelLiters:      round2(fuel),
		ProductionUnits: p.productionUnits + int64(rng.Intn(21)) - 10,
		Temperature:     round2(temperature),
	}
}

func jitter(rng *rand.Rand, base float64) float64 {
	return base * (1 + (rng.Float64()*2-1)*jitterFraction)
}

func round2(value float64) float64 {
	parsed, err := strconv.ParseFloat(fmt.Sprintf("%.2f", value), 64)
	if err != nil {
		return value
	}
	return parsed
}

func post(client *http.Client, endpoint string, secret []byte, batch []readingPayload) error {
	body, err := json.Marshal(batch)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if len(secret) > 0 {
		timestamp := strconv.FormatInt(time.Now().Unix(), 10)
		req.Header.Set(auth.HeaderIngestTimestamp, timestamp)
		req.Header.Set(auth.HeaderIngestSignature, auth.ComputeIngestSignature(secret, timestamp, body))
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
