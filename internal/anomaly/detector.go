package anomaly

import (
	"context"
	"errors"
	"log"
	"math"
	"sync"
	"time"

	"greenledger/internal/observability/metrics"
	telemetryevents "greenledger/internal/telemetry/application/events"
)

// Anomaly kinds.
const (
	KindSpike       = "spike"
	KindTemperature = "temperature"
)

// Severities per kind.
const (
	SeverityLow    = "LOW"
	SeverityMedium = "MEDIUM"
)

// Detected is published when a reading deviates from the plant's recent
// behaviour.
type Detected struct {
	PlantID     string    `json:"plant_id"`
	Kind        string    `json:"kind"`
	Severity    string    `json:"severity"`
	Value       float64   `json:"value"`
	ZScore      float64   `json:"z_score,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	OccurredAt  time.Time `json:"occurred_at"`
	Description string    `json:"description"`
}

// Publisher dispatches anomaly events.
type Publisher interface {
	Publish(ctx context.Context, event any) error
}

type sample struct {
	at    time.Time
	value float64
}

type plantStats struct {
	samples []sample
}

// Detector flags emission spikes and temperature excursions per plant.
// A spike is a carbon value more than zThreshold standard deviations from
// the rolling mean of the plant's recent readings.
type Detector struct {
	publisher  Publisher
	logger     *log.Logger
	window     time.Duration
	minSamples int
	zThreshold float64
	maxTemp    float64

	mu     sync.Mutex
	plants map[string]*plantStats
}

// Option configures the detector.
type Option func(*Detector)

// WithWindow sets the rolling sample window.
func WithWindow(window time.Duration) Option {
	return func(d *Detector) {
		if window > 0 {
			d.window = window
		}
	}
}

// WithMinSamples sets the sample count required before z-scores fire.
func WithMinSamples(n int) Option {
	return func(d *Detector) {
		if n > 1 {
			d.minSamples = n
		}
	}
}

// WithZThreshold sets the deviation bound.
func WithZThreshold(z float64) Option {
	return func(d *Detector) {
		if z > 0 {
			d.zThreshold = z
		}
	}
}

// WithMaxTemperature sets the temperature alert bound in degrees Celsius.
func WithMaxTemperature(max float64) Option {
	return func(d *Detector) { d.maxTemp = max }
}

// NewDetector constructs an anomaly detector.
func NewDetector(publisher Publisher, logger *log.Logger, opts ...Option) (*Detector, error) {
	if publisher == nil {
		return nil, errors.New("anomaly: nil publisher")
	}
	if logger == nil {
		logger = log.Default()
	}
	d := &Detector{
		publisher:  publisher,
		logger:     logger,
		window:     10 * time.Minute,
		minSamples: 5,
		zThreshold: 2.0,
		maxTemp:    35.0,
		plants:     make(map[string]*plantStats),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// HandleReadingAccepted inspects one accepted reading. The spike check uses
// the samples seen before this reading, then admits it to the window.
func (d *Detector) HandleReadingAccepted(ctx context.Context, evt telemetryevents.ReadingAccepted) error {
	if d == nil {
		return errors.New("anomaly: nil detector")
	}

	if evt.Temperature > d.maxTemp {
		d.emit(ctx, Detected{
			PlantID:     evt.PlantID,
			Kind:        KindTemperature,
			Severity:    SeverityLow,
			Value:       evt.Temperature,
			Timestamp:   evt.Timestamp,
			OccurredAt:  time.Now().UTC(),
			Description: "temperature above operating bound",
		})
	}

	mean, stddev, count := d.observe(evt.PlantID, evt.Timestamp, evt.CarbonKg)
	if count < d.minSamples || stddev == 0 {
		return nil
	}
	z := (evt.CarbonKg - mean) / stddev
	if math.Abs(z) > d.zThreshold {
		d.emit(ctx, Detected{
			PlantID:     evt.PlantID,
			Kind:        KindSpike,
			Severity:    SeverityMedium,
			Value:       evt.CarbonKg,
			ZScore:      z,
			Timestamp:   evt.Timestamp,
			OccurredAt:  time.Now().UTC(),
			Description: "carbon emission deviates from rolling mean",
		})
	}
	return nil
}

// observe returns the rolling mean, standard deviation and sample count of
// the plant's window before the new value, then appends it.
func (d *Detector) observe(plantID string, at time.Time, value float64) (mean, stddev float64, count int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	stats, ok := d.plants[plantID]
	if !ok {
		stats = &plantStats{}
		d.plants[plantID] = stats
	}

	cutoff := at.Add(-d.window)
	kept := stats.samples[:0]
	for _, s := range stats.samples {
		if s.at.After(cutoff) {
			kept = append(kept, s)
		}
	}
	stats.samples = kept

	count = len(stats.samples)
	if count > 0 {
		var sum float64
		for _, s := range stats.samples {
			sum += s.value
		}
		mean = sum / float64(count)
		var variance float64
		for _, s := range stats.samples {
			diff := s.value - mean
			variance += diff * diff
		}
		stddev = math.Sqrt(variance / float64(count))
	}

	stats.samples = append(stats.samples, sample{at: at, value: value})
	return mean, stddev, count
}

func (d *Detector) emit(ctx context.Context, detected Detected) {
	metrics.IncAnomaly(detected.Kind)
	d.logger.Printf("anomaly: plant %s %s value %.4f", detected.PlantID, detected.Kind, detected.Value)
	if err := d.publisher.Publish(ctx, detected); err != nil {
		d.logger.Printf("anomaly: publish error: %v", err)
	}
}
