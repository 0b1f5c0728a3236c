package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	alertapp "greenledger/internal/alerting/application"
	alerting "greenledger/internal/alerting/domain"
)

const timeLayout = time.RFC3339

// Handler provides violation HTTP endpoints.
type Handler struct {
	engine *alertapp.Engine
}

// NewHandler constructs a handler.
func NewHandler(engine *alertapp.Engine) (*Handler, error) {
	if engine == nil {
		return nil, errors.New("violations handler: nil engine")
	}
	return &Handler{engine: engine}, nil
}

// ServeHTTP handles /api/v1/violations and subroutes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/api/v1/violations":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleList(w, r)
	case r.URL.Path == "/api/v1/violations/export":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleExport(w, r)
	case strings.HasPrefix(r.URL.Path, "/api/v1/alerts/"):
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleAlertLevel(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	plantID, status, from, to, err := parseViolationFilters(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	list, err := h.engine.ListViolations(r.Context(), plantID, status, from, to)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []alerting.ComplianceViolation{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(list)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	plantID, status, from, to, err := parseViolationFilters(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	list, err := h.engine.ListViolations(r.Context(), plantID, status, from, to)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	format := strings.ToLower(r.URL.Query().Get("format"))
	switch format {
	case "", "csv":
		data, err := BuildViolationsCSV(list)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="violations.csv"`)
		_, _ = w.Write(data)
	case "xlsx":
		data, err := BuildViolationsXLSX(list)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", `attachment; filename="violations.xlsx"`)
		_, _ = w.Write(data)
	case "pdf":
		data, err := BuildViolationsPDF(list)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Disposition", `attachment; filename="violations.pdf"`)
		_, _ = w.Write(data)
	default:
		http.Error(w, "format must be csv, xlsx or pdf", http.StatusBadRequest)
	}
}

func (h *Handler) handleAlertLevel(w http.ResponseWriter, r *http.Request) {
	plantID := strings.TrimPrefix(r.URL.Path, "/api/v1/alerts/")
	if plantID == "" || strings.Contains(plantID, "/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	level := h.engine.AlertLevel(plantID)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"plant_id": plantID,
		"level":    string(level),
	})
}

func parseViolationFilters(r *http.Request) (plantID, status string, from, to time.Time, err error) {
	q := r.URL.Query()
	plantID = q.Get("plant_id")
	status = q.Get("status")
	if status != "" && status != alerting.StatusOpen && status != alerting.StatusClosed {
		return "", "", time.Time{}, time.Time{}, errors.New("status must be open or closed")
	}
	from, err = parseTimeQuery(r, "from")
	if err != nil {
		return "", "", time.Time{}, time.Time{}, err
	}
	to, err = parseTimeQuery(r, "to")
	if err != nil {
		return "", "", time.Time{}, time.Time{}, err
	}
	if !from.IsZero() && !to.IsZero() && !to.After(from) {
		return "", "", time.Time{}, time.Time{}, errors.New("to must be after from")
	}
	return plantID, status, from, to, nil
}

func parseTimeQuery(r *http.Request, key string) (time.Time, error) {
	value := r.URL.Query().Get(key)
	if value == "" {
		return time.Time{}, nil
	}
	parsed, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}, errors.New(key + " must be RFC3339")
	}
	return parsed.UTC(), nil
}
