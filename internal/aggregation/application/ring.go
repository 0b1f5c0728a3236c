package application

import (
	"fmt"
	"sort"
	"time"

	aggregation "greenledger/internal/aggregation/domain"
	telemetry "greenledger/internal/telemetry/domain"
)

// windowRing holds the open windows of one granularity for one plant. Slot
// capacity is the overlap count plus enough spare slots to cover the grace
// period, so a slot's previous occupant is always due for close before its
// start comes around again.
type windowRing struct {
	granularity   aggregation.Granularity
	grace         time.Duration
	slots         []*aggregation.WindowState
	closedThrough time.Time
}

func newWindowRing(g aggregation.Granularity, grace time.Duration) *windowRing {
	spare := int((grace + aggregation.Hop - 1) / aggregation.Hop)
	if spare < 1 {
		spare = 1
	}
	return &windowRing{
		granularity: g,
		grace:       grace,
		slots:       make([]*aggregation.WindowState, g.Slots()+spare),
	}
}

func (r *windowRing) slotIndex(start time.Time) int {
	idx := int(start.Unix()/int64(aggregation.Hop/time.Second)) % len(r.slots)
	if idx < 0 {
		idx += len(r.slots)
	}
	return idx
}

// apply routes one record into every open candidate window. It returns true
// when at least one candidate window had already closed (late data).
func (r *windowRing) apply(plantID string, rec telemetry.EmissionRecord) (bool, error) {
	late := false
	for _, start := range aggregation.CandidateStarts(r.granularity, rec.Timestamp) {
		end := start.Add(r.granularity.Duration())
		if !r.closedThrough.Before(end) {
			// Window already emitted; a closed snapshot is never mutated.
			late = true
			continue
		}
		idx := r.slotIndex(start)
		w := r.slots[idx]
		if w == nil {
			var err error
			w, err = aggregation.NewWindowState(plantID, r.granularity, start)
			if err != nil {
				return late, err
			}
			r.slots[idx] = w
		} else if !w.Start.Equal(start) {
			// The previous occupant must have been closed before this start
			// wraps around; anything else is a broken ring invariant.
			return late, fmt.Errorf("aggregation: ring slot collision for %s window at %s (occupied by %s)",
				r.granularity, start.Format(time.RFC3339), w.Start.Format(time.RFC3339))
		}
		if err := w.Apply(rec); err != nil {
			return late, err
		}
	}
	return late, nil
}

// due returns all open windows whose grace period elapsed at now, ordered by
// window end so snapshots are emitted in non-decreasing window_start order.
func (r *windowRing) due(now time.Time) []*aggregation.WindowState {
	var out []*aggregation.WindowState
	for _, w := range r.slots {
		if w == nil {
			continue
		}
		if !now.Before(w.End.Add(r.grace)) {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].End.Before(out[j].End) })
	return out
}

// close emits w's snapshot and evicts it. closedThrough keeps the window
// sealed against late arrivals.
func (r *windowRing) close(w *aggregation.WindowState, closedAt time.Time) aggregation.AggregateSnapshot {
	snap := w.Snapshot(closedAt)
	r.slots[r.slotIndex(w.Start)] = nil
	if w.End.After(r.closedThrough) {
		r.closedThrough = w.End
	}
	return snap
}

func (r *windowRing) openCount() int {
	n := 0
	for _, w := range r.slots {
		if w != nil {
			n++
		}
	}
	return n
}
