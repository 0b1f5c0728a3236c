package application

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	aggevents "greenledger/internal/aggregation/application/events"
	aggregation "greenledger/internal/aggregation/domain"
	alerting "greenledger/internal/alerting/domain"
	"greenledger/internal/observability/metrics"
)

// ViolationRepository persists compliance violations.
type ViolationRepository interface {
	Create(ctx context.Context, violation *alerting.ComplianceViolation) error
	Update(ctx context.Context, violation *alerting.ComplianceViolation) error
	GetByID(ctx context.Context, id string) (*alerting.ComplianceViolation, error)
	List(ctx context.Context, plantID, status string, from, to time.Time) ([]alerting.ComplianceViolation, error)
}

// Notifier publishes violation lifecycle events.
type Notifier interface {
	Notify(ctx context.Context, event ViolationEvent)
}

// ViolationEvent is one lifecycle update: opened, escalated, deescalated,
// closed or auto_shutdown.
type ViolationEvent struct {
	Type      string                       `json:"type"`
	PlantID   string                       `json:"plant_id"`
	Level     alerting.Level               `json:"level"`
	Violation alerting.ComplianceViolation `json:"violation"`
}

// Lifecycle event types.
const (
	EventOpened       = "opened"
	EventEscalated    = "escalated"
	EventDeescalated  = "deescalated"
	EventClosed       = "closed"
	EventAutoShutdown = "auto_shutdown"
)

// Clock provides time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Engine turns classified threshold crossings into durable violations with
// per-plant escalation state. State is partitioned by plant id; there is no
// cross-plant locking.
type Engine struct {
	thresholds    alerting.Thresholds
	confirmations int
	evaluate      map[aggregation.Granularity]struct{}
	repo          ViolationRepository
	notifier      Notifier
	clock         Clock
	logger        *log.Logger

	mu     sync.Mutex
	plants map[string]*plantAlert
}

type plantAlert struct {
	mu    sync.Mutex
	state *alerting.AlertState
}

// EngineOption customizes the engine.
type EngineOption func(*Engine)

// WithThresholds overrides the compliance threshold table.
func WithThresholds(t alerting.Thresholds) EngineOption {
	return func(e *Engine) { e.thresholds = t }
}

// WithConfirmations sets the de-escalation confirmation count.
func WithConfirmations(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.confirmations = n
		}
	}
}

// WithEvaluatedGranularities restricts which snapshot granularities drive
// classification.
func WithEvaluatedGranularities(granularities []aggregation.Granularity) EngineOption {
	return func(e *Engine) {
		if len(granularities) == 0 {
			return
		}
		e.evaluate = make(map[aggregation.Granularity]struct{}, len(granularities))
		for _, g := range granularities {
			e.evaluate[g] = struct{}{}
		}
	}
}

// WithNotifier assigns a notifier.
func WithNotifier(n Notifier) EngineOption {
	return func(e *Engine) { e.notifier = n }
}

// WithClock assigns a clock.
func WithClock(c Clock) EngineOption {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

// DefaultConfirmations is the de-escalation confirmation count: a lower
// classification must persist for this many consecutive events before the
// level steps down.
const DefaultConfirmations = 2

// NewEngine constructs the alert/compliance engine.
func NewEngine(repo ViolationRepository, logger *log.Logger, opts ...EngineOption) (*Engine, error) {
	if repo == nil {
		return nil, errors.New("alerting: nil violation repository")
	}
	if logger == nil {
		logger = log.Default()
	}
	e := &Engine{
		thresholds:    alerting.DefaultThresholds,
		confirmations: DefaultConfirmations,
		evaluate: map[aggregation.Granularity]struct{}{
			aggregation.GranularityMinute: {},
			aggregation.GranularityHour:   {},
		},
		repo:   repo,
		clock:  systemClock{},
		logger: logger,
		plants: make(map[string]*plantAlert),
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := e.thresholds.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

// HandleSnapshotClosed classifies a closed aggregate and advances the
// owning plant's alert state. This is the Threshold Evaluator feeding the
// engine: every snapshot of an evaluated granularity yields a classified
// event, NONE included.
func (e *Engine) HandleSnapshotClosed(ctx context.Context, evt aggevents.SnapshotClosed) error {
	if e == nil {
		return errors.New("alerting: nil engine")
	}
	snap := evt.Snapshot
	if _, ok := e.evaluate[snap.Granularity]; !ok {
		return nil
	}
	classified := alerting.ClassifiedEvent{
		PlantID:      snap.PlantID,
		Level:        e.thresholds.Classify(snap.EmissionRatePerHour),
		ObservedRate: snap.EmissionRatePerHour,
		Granularity:  snap.Granularity,
		WindowEnd:    snap.WindowEnd,
	}
	return e.HandleClassified(ctx, classified)
}

// HandleClassified applies one classified event to the plant's state
// machine. Malformed events are logged and discarded; they never corrupt
// alert state.
func (e *Engine) HandleClassified(ctx context.Context, evt alerting.ClassifiedEvent) error {
	if e == nil {
		return errors.New("alerting: nil engine")
	}
	if err := evt.Validate(); err != nil {
		e.logger.Printf("alerting: discarding malformed event: %v", err)
		return nil
	}

	plant := e.plantFor(evt.PlantID)
	plant.mu.Lock()
	defer plant.mu.Unlock()

	state := plant.state
	tr := state.Apply(evt, e.confirmations)
	now := e.clock.Now().UTC()

	if !tr.Changed {
		// Same-level repeats update the running peak without opening a new
		// record or notifying anyone.
		if state.ActiveViolationID != "" {
			return e.updatePeak(ctx, state, evt, now)
		}
		return nil
	}

	if tr.OpenViolation {
		violation := &alerting.ComplianceViolation{
			ID:                  alerting.BuildViolationID(evt.PlantID, evt.WindowEnd),
			PlantID:             evt.PlantID,
			Level:               tr.To,
			PeakLevel:           tr.To,
			ThresholdKgPerHr:    e.thresholds.Bound(tr.To),
			ObservedRateKgPerHr: evt.ObservedRate,
			OpenedAt:            evt.WindowEnd.UTC(),
			UpdatedAt:           now,
		}
		if err := e.repo.Create(ctx, violation); err != nil {
			return err
		}
		state.ActiveViolationID = violation.ID
		metrics.IncViolationEvent(EventOpened, string(tr.To))
		e.notify(ctx, ViolationEvent{Type: EventOpened, PlantID: evt.PlantID, Level: tr.To, Violation: *violation})
		if tr.AutoShutdown {
			e.signalShutdown(ctx, evt, *violation)
		}
		return nil
	}

	violation, err := e.activeViolation(ctx, state)
	if err != nil {
		return err
	}
	if violation == nil {
		e.logger.Printf("alerting: plant %s transition %s->%s without open violation", evt.PlantID, tr.From, tr.To)
		return nil
	}

	if tr.CloseViolation {
		if err := violation.Close(now); err != nil && !errors.Is(err, alerting.ErrAlreadyClosed) {
			return err
		}
		if err := e.repo.Update(ctx, violation); err != nil {
			return err
		}
		state.ActiveViolationID = ""
		metrics.IncViolationEvent(EventClosed, string(tr.From))
		e.notify(ctx, ViolationEvent{Type: EventClosed, PlantID: evt.PlantID, Level: alerting.LevelNone, Violation: *violation})
		return nil
	}

	if err := violation.RecordPeak(tr.To, evt.ObservedRate, e.thresholds.Bound(tr.To), now); err != nil {
		return err
	}
	if err := e.repo.Update(ctx, violation); err != nil {
		return err
	}
	eventType := EventEscalated
	if tr.To.Rank() < tr.From.Rank() {
		eventType = EventDeescalated
	}
	metrics.IncViolationEvent(eventType, string(tr.To))
	e.notify(ctx, ViolationEvent{Type: eventType, PlantID: evt.PlantID, Level: tr.To, Violation: *violation})
	if tr.AutoShutdown {
		e.signalShutdown(ctx, evt, *violation)
	}
	return nil
}

// AlertLevel reports the current level for a plant.
func (e *Engine) AlertLevel(plantID string) alerting.Level {
	e.mu.Lock()
	plant, ok := e.plants[plantID]
	e.mu.Unlock()
	if !ok {
		return alerting.LevelNone
	}
	plant.mu.Lock()
	defer plant.mu.Unlock()
	return plant.state.CurrentLevel
}

// ListViolations exposes the repository to interface layers.
func (e *Engine) ListViolations(ctx context.Context, plantID, status string, from, to time.Time) ([]alerting.ComplianceViolation, error) {
	if e == nil {
		return nil, errors.New("alerting: nil engine")
	}
	return e.repo.List(ctx, plantID, status, from.UTC(), to.UTC())
}

func (e *Engine) plantFor(plantID string) *plantAlert {
	e.mu.Lock()
	defer e.mu.Unlock()
	plant, ok := e.plants[plantID]
	if !ok {
		plant = &plantAlert{state: alerting.NewAlertState(plantID)}
		e.plants[plantID] = plant
	}
	return plant
}

func (e *Engine) activeViolation(ctx context.Context, state *alerting.AlertState) (*alerting.ComplianceViolation, error) {
	if state.ActiveViolationID == "" {
		return nil, nil
	}
	violation, err := e.repo.GetByID(ctx, state.ActiveViolationID)
	if err != nil {
		if errors.Is(err, alerting.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return violation, nil
}

func (e *Engine) updatePeak(ctx context.Context, state *alerting.AlertState, evt alerting.ClassifiedEvent, now time.Time) error {
	violation, err := e.activeViolation(ctx, state)
	if err != nil || violation == nil {
		return err
	}
	if evt.ObservedRate <= violation.ObservedRateKgPerHr {
		return nil
	}
	if err := violation.RecordPeak(violation.Level, evt.ObservedRate, violation.ThresholdKgPerHr, now); err != nil {
		return err
	}
	return e.repo.Update(ctx, violation)
}

// signalShutdown reports the EMERGENCY side effect. It is a signal for the
// external notification collaborator, not an action the engine executes.
func (e *Engine) signalShutdown(ctx context.Context, evt alerting.ClassifiedEvent, violation alerting.ComplianceViolation) {
	metrics.IncAutoShutdown()
	e.logger.Printf("alerting: auto-shutdown trigger for plant %s at %.1f kg/hr", evt.PlantID, evt.ObservedRate)
	e.notify(ctx, ViolationEvent{Type: EventAutoShutdown, PlantID: evt.PlantID, Level: alerting.LevelEmergency, Violation: violation})
}

func (e *Engine) notify(ctx context.Context, event ViolationEvent) {
	if e.notifier == nil {
		return
	}
	e.notifier.Notify(ctx, event)
}
