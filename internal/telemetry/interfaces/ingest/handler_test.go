package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	telemetry "greenledger/internal/telemetry/domain"
)

type stubSubmitter struct {
	mu       sync.Mutex
	readings []telemetry.Reading
	rejectFn func(telemetry.Reading) error
}

func (s *stubSubmitter) SubmitReading(_ context.Context, reading telemetry.Reading) error {
	if s.rejectFn != nil {
		if err := s.rejectFn(reading); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readings = append(s.readings, reading)
	return nil
}

func newIngestHandler(t *testing.T, submitter *stubSubmitter) *Handler {
	t.Helper()
	h, err := NewHandler(submitter, log.New(ingestTestWriter{t}, "", 0))
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	return h
}

type ingestTestWriter struct{ t *testing.T }

func (w ingestTestWriter) Write(p []byte) (int, error) {
	w.t.Logf("%s", p)
	return len(p), nil
}

func postReadings(h *Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/readings", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestIngest_SingleReading(t *testing.T) {
	submitter := &stubSubmitter{}
	h := newIngestHandler(t, submitter)

	rec := postReadings(h, `{
		"plant_id": "plant-a",
		"timestamp": "2026-03-01T10:00:00Z",
		"energy_kwh": 100,
		"fuel_liters": 50,
		"production_units": 20,
		"temperature": 28.5
	}`)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	var resp ingestResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("response: %v", err)
	}
	if resp.Accepted != 1 || resp.Rejected != 0 {
		t.Fatalf("resp = %+v", resp)
	}
	if len(submitter.readings) != 1 {
		t.Fatalf("submitted %d readings", len(submitter.readings))
	}
	got := submitter.readings[0]
	if got.PlantID != "plant-a" || got.EnergyKWh != 100 || got.Temperature != 28.5 {
		t.Fatalf("reading = %+v", got)
	}
	if got.Timestamp.Location() != nil && got.Timestamp.Location().String() != "UTC" {
		t.Fatalf("timestamp not normalized to UTC: %v", got.Timestamp)
	}
}

func TestIngest_BatchWithPartialRejection(t *testing.T) {
	submitter := &stubSubmitter{
		rejectFn: func(r telemetry.Reading) error {
			if r.PlantID == "plant-bad" {
				return errors.New("unknown plant")
			}
			return nil
		},
	}
	h := newIngestHandler(t, submitter)

	rec := postReadings(h, `[
		{"plant_id": "plant-a", "timestamp": "2026-03-01T10:00:00Z", "energy_kwh": 10},
		{"plant_id": "plant-bad", "timestamp": "2026-03-01T10:00:05Z", "energy_kwh": 10},
		{"plant_id": "plant-a", "timestamp": "not-a-time", "energy_kwh": 10},
		{"plant_id": "plant-a", "timestamp": "2026-03-01T10:00:10Z", "energy_kwh": 10}
	]`)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202 with partial acceptance", rec.Code)
	}
	var resp ingestResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Accepted != 2 || resp.Rejected != 2 {
		t.Fatalf("resp = %+v", resp)
	}
	if len(resp.Errors) != 2 {
		t.Fatalf("errors = %+v", resp.Errors)
	}
	if resp.Errors[0].Index != 1 || resp.Errors[1].Index != 2 {
		t.Fatalf("rejection indexes = %+v", resp.Errors)
	}
	if len(submitter.readings) != 2 {
		t.Fatalf("submitted %d readings, want 2", len(submitter.readings))
	}
}

func TestIngest_AllRejectedIsBadRequest(t *testing.T) {
	submitter := &stubSubmitter{
		rejectFn: func(telemetry.Reading) error { return errors.New("unknown plant") },
	}
	h := newIngestHandler(t, submitter)

	rec := postReadings(h, `{"plant_id": "plant-x", "timestamp": "2026-03-01T10:00:00Z"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 when nothing accepted", rec.Code)
	}
}

func TestIngest_InvalidBody(t *testing.T) {
	h := newIngestHandler(t, &stubSubmitter{})

	for _, body := range []string{"not json", "[{]", "[]"} {
		rec := postReadings(h, body)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("body %q: status = %d, want 400", body, rec.Code)
		}
	}
}

func TestIngest_MissingTimestamp(t *testing.T) {
	h := newIngestHandler(t, &stubSubmitter{})

	rec := postReadings(h, `{"plant_id": "plant-a", "energy_kwh": 10}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	var resp ingestResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Rejected != 1 || len(resp.Errors) != 1 {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestIngest_MethodNotAllowed(t *testing.T) {
	h := newIngestHandler(t, &stubSubmitter{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/readings", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}
