package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"greenledger/internal/observability/metrics"
	telemetry "greenledger/internal/telemetry/domain"
)

// Submitter accepts validated readings into the pipeline.
type Submitter interface {
	SubmitReading(ctx context.Context, reading telemetry.Reading) error
}

// Handler handles telemetry submissions over HTTP.
type Handler struct {
	submitter Submitter
	logger    *log.Logger
}

// NewHandler constructs an ingest handler.
func NewHandler(submitter Submitter, logger *log.Logger) (*Handler, error) {
	if submitter == nil {
		return nil, errors.New("telemetry ingest: nil submitter")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{submitter: submitter, logger: logger}, nil
}

type readingPayload struct {
	PlantID         string  `json:"plant_id"`
	Timestamp       string  `json:"timestamp"`
	EnergyKWh       float64 `json:"energy_kwh"`
	FuelLiters      float64 `json:"fuel_liters"`
	ProductionUnits int64   `json:"production_units"`
	Temperature     float64 `json:"temperature"`
}

type rejection struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

type ingestResponse struct {
	Accepted int         `json:"accepted"`
	Rejected int         `json:"rejected"`
	Errors   []rejection `json:"errors,omitempty"`
}

// ServeHTTP handles POST /api/v1/readings with a single reading or a batch.
// Per-record failures reject that record only; the rest of the batch is
// processed.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	started := time.Now()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.Printf("telemetry ingest: read body error: %v", err)
		metrics.ObserveIngest(metrics.ResultError, time.Since(started))
		http.Error(w, "read body error", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	payloads, err := decodePayloads(body)
	if err != nil {
		h.logger.Printf("telemetry ingest: decode error: %v", err)
		metrics.ObserveIngest(metrics.ResultError, time.Since(started))
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if len(payloads) == 0 {
		metrics.ObserveIngest(metrics.ResultError, time.Since(started))
		http.Error(w, "no readings", http.StatusBadRequest)
		return
	}

	resp := ingestResponse{}
	for i, payload := range payloads {
		reading, err := payload.toReading()
		if err == nil {
			err = h.submitter.SubmitReading(r.Context(), reading)
		}
		if err != nil {
			resp.Rejected++
			resp.Errors = append(resp.Errors, rejection{Index: i, Error: err.Error()})
			continue
		}
		resp.Accepted++
	}

	metrics.ObserveIngest(metrics.ResultSuccess, time.Since(started))
	status := http.StatusAccepted
	if resp.Accepted == 0 {
		status = http.StatusBadRequest
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

func decodePayloads(body []byte) ([]readingPayload, error) {
	trimmed := firstNonSpace(body)
	if trimmed == '[' {
		var batch []readingPayload
		if err := json.Unmarshal(body, &batch); err != nil {
			return nil, err
		}
		return batch, nil
	}
	var single readingPayload
	if err := json.Unmarshal(body, &single); err != nil {
		return nil, err
	}
	return []readingPayload{single}, nil
}

func firstNonSpace(body []byte) byte {
	for _, b := range body {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		}
		return b
	}
	return 0
}

func (p readingPayload) toReading() (telemetry.Reading, error) {
	if p.Timestamp == "" {
		return telemetry.Reading{}, errors.New("timestamp is required")
	}
	ts, err := time.Parse(time.RFC3339, p.Timestamp)
	if err != nil {
		return telemetry.Reading{}, errors.New("timestamp must be RFC3339")
	}
	return telemetry.Reading{
		PlantID:         p.PlantID,
		Timestamp:       ts.UTC(),
		EnergyKWh:       p.EnergyKWh,
		FuelLiters:      p.FuelLiters,
		ProductionUnits: p.ProductionUnits,
		Temperature:     p.Temperature,
	}, nil
}
