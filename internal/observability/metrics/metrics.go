package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "greenledger_"

	resultSuccess = "success"
	resultError   = "error"
)

// Reading disposition labels.
const (
	ReadingAccepted     = "accepted"
	ReadingInvalid      = "invalid"
	ReadingUnknownPlant = "unknown_plant"
	ReadingDuplicate    = "duplicate"
	ReadingLate         = "late"
)

var (
	registerOnce sync.Once

	ingestRequests *prometheus.CounterVec
	ingestLatency  *prometheus.HistogramVec

	readingsTotal *prometheus.CounterVec
	lateDataTotal *prometheus.CounterVec

	windowCloseTotal   *prometheus.CounterVec
	windowCloseLatency *prometheus.HistogramVec
	openWindows        *prometheus.GaugeVec
	abandonedWindows   prometheus.Counter

	violationEventsTotal *prometheus.CounterVec
	autoShutdownTotal    prometheus.Counter
	notificationsTotal   *prometheus.CounterVec

	laneRestartsTotal *prometheus.CounterVec
	spikesTotal       *prometheus.CounterVec
)

// Init registers engine metrics. Safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		ingestRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_requests_total",
				Help: "Total ingest requests by result",
			},
			[]string{"result"},
		)
		ingestLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "ingest_latency_seconds",
				Help:    "Ingest latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)

		readingsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "readings_total",
				Help: "Total readings by disposition",
			},
			[]string{"disposition"},
		)
		lateDataTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "late_data_total",
				Help: "Readings past the grace period by granularity",
			},
			[]string{"granularity"},
		)

		windowCloseTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "window_close_total",
				Help: "Closed aggregation windows by granularity",
			},
			[]string{"granularity"},
		)
		windowCloseLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "window_close_latency_seconds",
				Help:    "Delay between window end plus grace and actual close",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"granularity"},
		)
		openWindows = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "open_windows",
				Help: "Currently open window states per plant",
			},
			[]string{"plant"},
		)
		abandonedWindows = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "abandoned_windows_total",
				Help: "Windows still inside grace discarded at shutdown",
			},
		)

		violationEventsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "violation_events_total",
				Help: "Compliance violation lifecycle events by type and level",
			},
			[]string{"event", "level"},
		)
		autoShutdownTotal = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "auto_shutdown_triggers_total",
				Help: "Emergency auto-shutdown signals emitted",
			},
		)
		notificationsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "notifications_total",
				Help: "Notification deliveries by result",
			},
			[]string{"result"},
		)

		laneRestartsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "lane_restarts_total",
				Help: "Plant lane restarts after window state corruption",
			},
			[]string{"plant"},
		)
		spikesTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "anomalies_total",
				Help: "Detected anomalies by kind",
			},
			[]string{"kind"},
		)

		prometheus.MustRegister(
			ingestRequests,
			ingestLatency,
			readingsTotal,
			lateDataTotal,
			windowCloseTotal,
			windowCloseLatency,
			openWindows,
			abandonedWindows,
			violationEventsTotal,
			autoShutdownTotal,
			notificationsTotal,
			laneRestartsTotal,
			spikesTotal,
		)
	})
}

// ObserveIngest records one ingest request.
func ObserveIngest(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if ingestRequests != nil {
		ingestRequests.WithLabelValues(result).Inc()
	}
	if ingestLatency != nil {
		ingestLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// IncReading counts one reading disposition.
func IncReading(disposition string) {
	if readingsTotal != nil {
		readingsTotal.WithLabelValues(disposition).Inc()
	}
}

// IncLateData counts a reading rejected past grace for one granularity.
func IncLateData(granularity string) {
	if lateDataTotal != nil {
		lateDataTotal.WithLabelValues(granularity).Inc()
	}
}

// ObserveWindowClose records a window close and its lateness behind the
// nominal close instant.
func ObserveWindowClose(granularity string, behind time.Duration) {
	if windowCloseTotal != nil {
		windowCloseTotal.WithLabelValues(granularity).Inc()
	}
	if windowCloseLatency != nil {
		if behind < 0 {
			behind = 0
		}
		windowCloseLatency.WithLabelValues(granularity).Observe(behind.Seconds())
	}
}

// SetOpenWindows tracks open window states for a plant.
func SetOpenWindows(plant string, count int) {
	if openWindows != nil {
		openWindows.WithLabelValues(plant).Set(float64(count))
	}
}

// AddAbandonedWindows counts windows discarded at shutdown.
func AddAbandonedWindows(count int) {
	if abandonedWindows != nil && count > 0 {
		abandonedWindows.Add(float64(count))
	}
}

// IncViolationEvent counts a violation lifecycle event.
func IncViolationEvent(event, level string) {
	if event == "" {
		event = "unknown"
	}
	if violationEventsTotal != nil {
		violationEventsTotal.WithLabelValues(event, level).Inc()
	}
}

// IncAutoShutdown counts an emergency auto-shutdown signal.
func IncAutoShutdown() {
	if autoShutdownTotal != nil {
		autoShutdownTotal.Inc()
	}
}

// IncNotification counts one notification delivery attempt.
func IncNotification(result string) {
	if result == "" {
		result = resultSuccess
	}
	if notificationsTotal != nil {
		notificationsTotal.WithLabelValues(result).Inc()
	}
}

// IncLaneRestart counts a lane restart after state corruption.
func IncLaneRestart(plant string) {
	if laneRestartsTotal != nil {
		laneRestartsTotal.WithLabelValues(plant).Inc()
	}
}

// IncAnomaly counts a detected anomaly by kind (spike, high_temperature).
func IncAnomaly(kind string) {
	if spikesTotal != nil {
		spikesTotal.WithLabelValues(kind).Inc()
	}
}

// Exported result constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError
)
