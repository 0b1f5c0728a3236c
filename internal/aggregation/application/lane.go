package application

import (
	"context"
	"log"
	"time"

	aggregation "greenledger/internal/aggregation/domain"
	"greenledger/internal/observability/metrics"
	telemetryevents "greenledger/internal/telemetry/application/events"
	telemetry "greenledger/internal/telemetry/domain"
)

type laneMsg struct {
	rec     *telemetry.EmissionRecord
	advance time.Time
	barrier chan struct{}
}

// lane is the single-writer processing unit for one plant. It exclusively
// owns the plant's window states, duplicate set and event-time watermark;
// all mutation happens on the lane goroutine.
type lane struct {
	plantID       string
	granularities []aggregation.Granularity
	grace         time.Duration
	in            chan laneMsg
	emit          func(ctx context.Context, snap aggregation.AggregateSnapshot)
	reject        func(ctx context.Context, plantID string, ts time.Time, reason, detail string)
	logger        *log.Logger

	rings     map[aggregation.Granularity]*windowRing
	seen      map[int64]struct{}
	watermark time.Time

	// horizon bounds how long duplicate keys are remembered: once a
	// timestamp can no longer land in any open or in-grace window it is
	// forgotten.
	horizon   time.Duration
	lastPrune time.Time
}

func newLane(plantID string, granularities []aggregation.Granularity, grace time.Duration, buffer int,
	emit func(ctx context.Context, snap aggregation.AggregateSnapshot),
	reject func(ctx context.Context, plantID string, ts time.Time, reason, detail string),
	logger *log.Logger) *lane {
	l := &lane{
		plantID:       plantID,
		granularities: granularities,
		grace:         grace,
		in:            make(chan laneMsg, buffer),
		emit:          emit,
		reject:        reject,
		logger:        logger,
	}
	var maxSpan time.Duration
	for _, g := range granularities {
		if d := g.Duration(); d > maxSpan {
			maxSpan = d
		}
	}
	l.horizon = maxSpan + grace + aggregation.Hop
	l.reset()
	return l
}

// reset discards all window state. Used at construction and after a
// corruption restart; the watermark survives so closed windows stay closed.
func (l *lane) reset() {
	l.rings = make(map[aggregation.Granularity]*windowRing, len(l.granularities))
	for _, g := range l.granularities {
		l.rings[g] = newWindowRing(g, l.grace)
	}
	l.seen = make(map[int64]struct{})
}

func (l *lane) run() {
	ctx := context.Background()
	for msg := range l.in {
		l.handle(ctx, msg)
	}
	l.drain(ctx)
}

// handle processes one message, isolating invariant violations to this lane:
// a panic restarts the lane with fresh window state instead of taking the
// pipeline down.
func (l *lane) handle(ctx context.Context, msg laneMsg) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Printf("lane %s: window state corruption, restarting lane: %v", l.plantID, r)
			metrics.IncLaneRestart(l.plantID)
			l.reset()
		}
		if msg.barrier != nil {
			close(msg.barrier)
		}
	}()

	switch {
	case msg.rec != nil:
		l.apply(ctx, *msg.rec)
	case !msg.advance.IsZero():
		l.advanceTo(ctx, msg.advance)
	}
}

func (l *lane) apply(ctx context.Context, rec telemetry.EmissionRecord) {
	key := rec.Timestamp.UnixNano()
	if _, dup := l.seen[key]; dup {
		metrics.IncReading(metrics.ReadingDuplicate)
		l.reject(ctx, l.plantID, rec.Timestamp, telemetryevents.RejectDuplicate, "")
		return
	}

	if rec.Timestamp.After(l.watermark) {
		l.advanceTo(ctx, rec.Timestamp)
	}

	anyApplied := false
	for _, g := range l.granularities {
		late, err := l.rings[g].apply(l.plantID, rec)
		if err != nil {
			panic(err)
		}
		if late {
			metrics.IncLateData(string(g))
		} else {
			anyApplied = true
		}
	}
	if !anyApplied {
		metrics.IncReading(metrics.ReadingLate)
		l.reject(ctx, l.plantID, rec.Timestamp, telemetryevents.RejectLate, "all candidate windows closed")
		return
	}
	l.seen[key] = struct{}{}
}

// advanceTo moves the lane clock forward and closes every window whose grace
// period has elapsed, in window_end order per granularity.
func (l *lane) advanceTo(ctx context.Context, now time.Time) {
	now = now.UTC()
	if now.After(l.watermark) {
		l.watermark = now
	}
	open := 0
	for _, g := range l.granularities {
		ring := l.rings[g]
		for _, w := range ring.due(l.watermark) {
			snap := ring.close(w, l.watermark)
			metrics.ObserveWindowClose(string(g), l.watermark.Sub(w.End.Add(l.grace)))
			l.emit(ctx, snap)
		}
		open += ring.openCount()
	}
	metrics.SetOpenWindows(l.plantID, open)
	l.pruneSeen()
}

func (l *lane) pruneSeen() {
	if l.watermark.Sub(l.lastPrune) < aggregation.Hop {
		return
	}
	l.lastPrune = l.watermark
	cutoff := l.watermark.Add(-l.horizon).UnixNano()
	for key := range l.seen {
		if key < cutoff {
			delete(l.seen, key)
		}
	}
}

// drain is the shutdown path: windows already past grace get their final
// snapshot; windows still inside grace are abandoned, which is accepted data
// loss, and counted.
func (l *lane) drain(ctx context.Context) {
	l.advanceTo(ctx, l.watermark)
	abandoned := 0
	for _, g := range l.granularities {
		abandoned += l.rings[g].openCount()
	}
	if abandoned > 0 {
		metrics.AddAbandonedWindows(abandoned)
		l.logger.Printf("lane %s: abandoned %d in-grace windows at shutdown", l.plantID, abandoned)
	}
}
