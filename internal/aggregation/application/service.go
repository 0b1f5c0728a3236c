package application

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	aggregation "greenledger/internal/aggregation/domain"
	"greenledger/internal/aggregation/application/events"
	"greenledger/internal/observability/metrics"
	telemetryevents "greenledger/internal/telemetry/application/events"
	telemetry "greenledger/internal/telemetry/domain"
)

// ErrShuttingDown is returned for readings submitted after shutdown began.
var ErrShuttingDown = errors.New("aggregation: service shutting down")

// Publisher dispatches pipeline events.
type Publisher interface {
	Publish(ctx context.Context, event any) error
}

// Service routes readings to per-plant lanes and exposes the most recent
// closed snapshot per (plant, granularity). Lanes run fully in parallel;
// the service itself holds no window state.
type Service struct {
	calc          *telemetry.Calculator
	registry      *telemetry.PlantRegistry
	publisher     Publisher
	logger        *log.Logger
	granularities []aggregation.Granularity
	grace         time.Duration
	buffer        int

	mu     sync.Mutex
	lanes  map[string]*lane
	closed bool
	wg     sync.WaitGroup

	// sendMu serializes lane channel sends against Shutdown's channel close:
	// senders hold the read side across the send, Shutdown flags stopped and
	// closes the channels under the write side. Without it a reading submitted
	// concurrently with shutdown could send on a closed channel.
	sendMu  sync.RWMutex
	stopped bool

	latestMu sync.RWMutex
	latest   map[latestKey]aggregation.AggregateSnapshot
}

type latestKey struct {
	plantID     string
	granularity aggregation.Granularity
}

// Option customizes the service.
type Option func(*Service)

// WithGranularities overrides the maintained window spans.
func WithGranularities(granularities []aggregation.Granularity) Option {
	return func(s *Service) {
		if len(granularities) > 0 {
			s.granularities = granularities
		}
	}
}

// WithGrace overrides the late-data grace period.
func WithGrace(grace time.Duration) Option {
	return func(s *Service) {
		if grace >= 0 {
			s.grace = grace
		}
	}
}

// WithLaneBuffer overrides the per-lane channel depth.
func WithLaneBuffer(buffer int) Option {
	return func(s *Service) {
		if buffer > 0 {
			s.buffer = buffer
		}
	}
}

// NewService constructs the window aggregation service.
func NewService(calc *telemetry.Calculator, registry *telemetry.PlantRegistry, publisher Publisher, logger *log.Logger, opts ...Option) (*Service, error) {
	if calc == nil {
		return nil, errors.New("aggregation: nil calculator")
	}
	if registry == nil {
		return nil, errors.New("aggregation: nil plant registry")
	}
	if publisher == nil {
		return nil, errors.New("aggregation: nil publisher")
	}
	if logger == nil {
		logger = log.Default()
	}
	s := &Service{
		calc:          calc,
		registry:      registry,
		publisher:     publisher,
		logger:        logger,
		granularities: aggregation.DefaultGranularities,
		grace:         aggregation.DefaultGrace,
		buffer:        256,
		lanes:         make(map[string]*lane),
		latest:        make(map[latestKey]aggregation.AggregateSnapshot),
	}
	for _, opt := range opts {
		opt(s)
	}
	for _, g := range s.granularities {
		if !g.IsValid() {
			return nil, aggregation.ErrInvalidGranularity
		}
	}
	return s, nil
}

// SubmitReading validates one raw reading, derives its emission record and
// hands it to the owning plant lane. Per-record failures are counted and
// returned, never fatal to the pipeline.
func (s *Service) SubmitReading(ctx context.Context, reading telemetry.Reading) error {
	if s == nil {
		return errors.New("aggregation: nil service")
	}
	if err := s.registry.Admit(reading.PlantID); err != nil {
		metrics.IncReading(metrics.ReadingUnknownPlant)
		s.emitRejected(ctx, reading.PlantID, reading.Timestamp, telemetryevents.RejectUnknownPlant, err.Error())
		return err
	}
	rec, err := s.calc.Calculate(reading)
	if err != nil {
		metrics.IncReading(metrics.ReadingInvalid)
		s.emitRejected(ctx, reading.PlantID, reading.Timestamp, telemetryevents.RejectInvalid, err.Error())
		return err
	}

	ln, err := s.laneFor(rec.PlantID)
	if err != nil {
		return err
	}
	if err := s.send(ln, laneMsg{rec: &rec}); err != nil {
		return err
	}
	metrics.IncReading(metrics.ReadingAccepted)
	if err := s.publisher.Publish(ctx, telemetryevents.ReadingAccepted{
		PlantID:         rec.PlantID,
		Timestamp:       rec.Timestamp,
		EnergyKWh:       rec.EnergyKWh,
		FuelLiters:      rec.FuelLiters,
		CarbonKg:        rec.CarbonKg,
		ProductionUnits: rec.ProductionUnits,
		Temperature:     reading.Temperature,
		OccurredAt:      time.Now().UTC(),
	}); err != nil {
		s.logger.Printf("aggregation: reading accepted publish error: %v", err)
	}
	return nil
}

// send delivers one message to a lane unless shutdown has begun.
func (s *Service) send(ln *lane, msg laneMsg) error {
	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	if s.stopped {
		return ErrShuttingDown
	}
	ln.in <- msg
	return nil
}

// trySend is send without blocking: lanes that are busy miss this message
// and catch up on the next one.
func (s *Service) trySend(ln *lane, msg laneMsg) {
	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	if s.stopped {
		return
	}
	select {
	case ln.in <- msg:
	default:
	}
}

func (s *Service) emitRejected(ctx context.Context, plantID string, ts time.Time, reason, detail string) {
	evt := telemetryevents.ReadingRejected{
		PlantID:    plantID,
		Timestamp:  ts,
		Reason:     reason,
		Detail:     detail,
		OccurredAt: time.Now().UTC(),
	}
	if err := s.publisher.Publish(ctx, evt); err != nil {
		s.logger.Printf("aggregation: reading rejected publish error: %v", err)
	}
}

func (s *Service) laneFor(plantID string) (*lane, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrShuttingDown
	}
	ln, ok := s.lanes[plantID]
	if !ok {
		ln = newLane(plantID, s.granularities, s.grace, s.buffer, s.emitSnapshot, s.emitRejected, s.logger)
		s.lanes[plantID] = ln
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			ln.run()
		}()
	}
	return ln, nil
}

func (s *Service) emitSnapshot(ctx context.Context, snap aggregation.AggregateSnapshot) {
	s.latestMu.Lock()
	s.latest[latestKey{snap.PlantID, snap.Granularity}] = snap
	s.latestMu.Unlock()
	if err := s.publisher.Publish(ctx, events.SnapshotClosed{PlantID: snap.PlantID, Snapshot: snap}); err != nil {
		s.logger.Printf("aggregation: snapshot publish error: %v", err)
	}
}

// LatestSnapshot returns the most recent closed aggregate for a key. Readers
// never touch lane-owned window state.
func (s *Service) LatestSnapshot(plantID string, g aggregation.Granularity) (aggregation.AggregateSnapshot, bool) {
	s.latestMu.RLock()
	defer s.latestMu.RUnlock()
	snap, ok := s.latest[latestKey{plantID, g}]
	return snap, ok
}

// Advance moves every lane's clock to now, closing windows whose grace
// elapsed. Lanes that are busy catch up on the next tick.
func (s *Service) Advance(now time.Time) {
	for _, ln := range s.laneList() {
		s.trySend(ln, laneMsg{advance: now})
	}
}

// Flush blocks until every lane has processed its queued messages.
func (s *Service) Flush() {
	for _, ln := range s.laneList() {
		barrier := make(chan struct{})
		if err := s.send(ln, laneMsg{barrier: barrier}); err != nil {
			return
		}
		<-barrier
	}
}

func (s *Service) laneList() []*lane {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	out := make([]*lane, 0, len(s.lanes))
	for _, ln := range s.lanes {
		out = append(out, ln)
	}
	return out
}

// Run ticks wall-clock advancement until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case tick := <-ticker.C:
			s.Advance(tick.UTC())
		case <-ctx.Done():
			return
		}
	}
}

// Shutdown stops intake and waits for lanes to drain: windows past grace emit
// final snapshots, in-grace windows are abandoned and counted.
func (s *Service) Shutdown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	lanes := make([]*lane, 0, len(s.lanes))
	for _, ln := range s.lanes {
		lanes = append(lanes, ln)
	}
	s.mu.Unlock()

	// The write lock waits out every in-flight send before the channels close.
	s.sendMu.Lock()
	s.stopped = true
	for _, ln := range lanes {
		close(ln.in)
	}
	s.sendMu.Unlock()
	s.wg.Wait()
}
