package http

import (
	"encoding/json"
	"errors"
	"net/http"

	aggapp "greenledger/internal/aggregation/application"
	aggregation "greenledger/internal/aggregation/domain"
)

// Handler serves the latest closed aggregates.
type Handler struct {
	service       *aggapp.Service
	granularities []aggregation.Granularity
}

// NewHandler constructs a handler.
func NewHandler(service *aggapp.Service, granularities []aggregation.Granularity) (*Handler, error) {
	if service == nil {
		return nil, errors.New("snapshots handler: nil service")
	}
	if len(granularities) == 0 {
		granularities = aggregation.DefaultGranularities
	}
	return &Handler{service: service, granularities: granularities}, nil
}

// ServeHTTP handles GET /api/v1/snapshots.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	plantID := r.URL.Query().Get("plant_id")
	if plantID == "" {
		http.Error(w, "plant_id is required", http.StatusBadRequest)
		return
	}

	if value := r.URL.Query().Get("granularity"); value != "" {
		g, err := aggregation.ParseGranularity(value)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		snap, ok := h.service.LatestSnapshot(plantID, g)
		if !ok {
			http.Error(w, "no closed window yet", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(snap)
		return
	}

	// No granularity filter: return every maintained span that has closed
	// at least once.
	out := make(map[aggregation.Granularity]aggregation.AggregateSnapshot, len(h.granularities))
	for _, g := range h.granularities {
		if snap, ok := h.service.LatestSnapshot(plantID, g); ok {
			out[g] = snap
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}
