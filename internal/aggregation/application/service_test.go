package application

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"testing"
	"time"

	"greenledger/internal/aggregation/application/events"
	aggregation "greenledger/internal/aggregation/domain"
	telemetryevents "greenledger/internal/telemetry/application/events"
	telemetry "greenledger/internal/telemetry/domain"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []any
}

func (p *recordingPublisher) Publish(_ context.Context, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) rejected() []telemetryevents.ReadingRejected {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []telemetryevents.ReadingRejected
	for _, event := range p.events {
		if evt, ok := event.(telemetryevents.ReadingRejected); ok {
			out = append(out, evt)
		}
	}
	return out
}

func (p *recordingPublisher) snapshots() []aggregation.AggregateSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []aggregation.AggregateSnapshot
	for _, event := range p.events {
		if evt, ok := event.(events.SnapshotClosed); ok {
			out = append(out, evt.Snapshot)
		}
	}
	return out
}

func newTestService(t *testing.T, pub *recordingPublisher, opts ...Option) *Service {
	t.Helper()
	calc, err := telemetry.NewCalculator(telemetry.DefaultFactors)
	if err != nil {
		t.Fatalf("calculator: %v", err)
	}
	registry := telemetry.NewPlantRegistry(nil)
	logger := log.New(testWriter{t}, "", 0)
	opts = append([]Option{WithGranularities([]aggregation.Granularity{aggregation.GranularityMinute})}, opts...)
	svc, err := NewService(calc, registry, pub, logger, opts...)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Logf("%s", p)
	return len(p), nil
}

func reading(plant string, at time.Time, energy float64) telemetry.Reading {
	return telemetry.Reading{
		PlantID:         plant,
		Timestamp:       at,
		EnergyKWh:       energy,
		ProductionUnits: 1,
	}
}

func TestService_ClosesWindowAfterGrace(t *testing.T) {
	pub := &recordingPublisher{}
	svc := newTestService(t, pub)
	defer svc.Shutdown()

	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	if err := svc.SubmitReading(ctx, reading("plant-a", base.Add(10*time.Second), 100)); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := svc.SubmitReading(ctx, reading("plant-a", base.Add(20*time.Second), 100)); err != nil {
		t.Fatalf("submit: %v", err)
	}

	// End 10:01 plus 30s grace: not due yet one second early.
	svc.Advance(base.Add(89 * time.Second))
	svc.Flush()
	if got := pub.snapshots(); len(got) != 0 {
		t.Fatalf("closed %d windows before grace elapsed", len(got))
	}

	svc.Advance(base.Add(90 * time.Second))
	svc.Flush()
	snaps := pub.snapshots()
	if len(snaps) != 1 {
		t.Fatalf("closed %d windows, want 1", len(snaps))
	}
	snap := snaps[0]
	if !snap.WindowStart.Equal(base) || snap.ReadingCount != 2 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if snap.TotalCarbonKg != 164 { // 2 * 100 kWh * 0.82
		t.Fatalf("total = %v, want 164", snap.TotalCarbonKg)
	}

	latest, ok := svc.LatestSnapshot("plant-a", aggregation.GranularityMinute)
	if !ok || !latest.WindowStart.Equal(base) {
		t.Fatalf("latest snapshot missing: %v %v", latest, ok)
	}
}

func TestService_OrderIndependenceWithinGrace(t *testing.T) {
	pub := &recordingPublisher{}
	svc := newTestService(t, pub)
	defer svc.Shutdown()

	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	// Later reading first; the earlier one is still within its window.
	_ = svc.SubmitReading(ctx, reading("plant-a", base.Add(40*time.Second), 50))
	_ = svc.SubmitReading(ctx, reading("plant-a", base.Add(5*time.Second), 50))

	svc.Advance(base.Add(2 * time.Minute))
	svc.Flush()

	snaps := pub.snapshots()
	if len(snaps) != 1 {
		t.Fatalf("closed %d windows, want 1", len(snaps))
	}
	if snaps[0].ReadingCount != 2 {
		t.Fatalf("count = %d, want 2 (both within grace)", snaps[0].ReadingCount)
	}
}

func TestService_RejectsLateDataAfterClose(t *testing.T) {
	pub := &recordingPublisher{}
	svc := newTestService(t, pub)
	defer svc.Shutdown()

	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	_ = svc.SubmitReading(ctx, reading("plant-a", base.Add(10*time.Second), 100))
	svc.Advance(base.Add(2 * time.Minute))
	svc.Flush()
	if len(pub.snapshots()) != 1 {
		t.Fatal("window should have closed")
	}

	// Past grace for the closed window: must not reopen or mutate it.
	_ = svc.SubmitReading(ctx, reading("plant-a", base.Add(30*time.Second), 999))
	svc.Advance(base.Add(4 * time.Minute))
	svc.Flush()

	snaps := pub.snapshots()
	if len(snaps) != 1 {
		t.Fatalf("late data produced %d snapshots, want 1", len(snaps))
	}
	if snaps[0].ReadingCount != 1 {
		t.Fatalf("late data mutated a closed snapshot: %+v", snaps[0])
	}
}

func TestService_DeduplicatesByTimestamp(t *testing.T) {
	pub := &recordingPublisher{}
	svc := newTestService(t, pub)
	defer svc.Shutdown()

	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	at := base.Add(10 * time.Second)

	_ = svc.SubmitReading(ctx, reading("plant-a", at, 100))
	_ = svc.SubmitReading(ctx, reading("plant-a", at, 100))

	svc.Advance(base.Add(2 * time.Minute))
	svc.Flush()

	snaps := pub.snapshots()
	if len(snaps) != 1 {
		t.Fatalf("closed %d windows, want 1", len(snaps))
	}
	if snaps[0].ReadingCount != 1 {
		t.Fatalf("count = %d, want 1 (duplicate dropped)", snaps[0].ReadingCount)
	}
}

func TestService_SnapshotsInWindowOrder(t *testing.T) {
	pub := &recordingPublisher{}
	svc := newTestService(t, pub)
	defer svc.Shutdown()

	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		_ = svc.SubmitReading(ctx, reading("plant-a", base.Add(time.Duration(i)*time.Minute+10*time.Second), 10))
	}
	svc.Advance(base.Add(10 * time.Minute))
	svc.Flush()

	snaps := pub.snapshots()
	if len(snaps) != 3 {
		t.Fatalf("closed %d windows, want 3", len(snaps))
	}
	for i := 1; i < len(snaps); i++ {
		if snaps[i].WindowStart.Before(snaps[i-1].WindowStart) {
			t.Fatalf("snapshots out of order: %v before %v", snaps[i].WindowStart, snaps[i-1].WindowStart)
		}
	}
}

func TestService_PlantsIsolated(t *testing.T) {
	pub := &recordingPublisher{}
	svc := newTestService(t, pub)
	defer svc.Shutdown()

	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	_ = svc.SubmitReading(ctx, reading("plant-a", base.Add(10*time.Second), 100))
	_ = svc.SubmitReading(ctx, reading("plant-b", base.Add(10*time.Second), 200))

	svc.Advance(base.Add(2 * time.Minute))
	svc.Flush()

	snaps := pub.snapshots()
	if len(snaps) != 2 {
		t.Fatalf("closed %d windows, want 2", len(snaps))
	}
	totals := map[string]float64{}
	for _, snap := range snaps {
		totals[snap.PlantID] = snap.TotalCarbonKg
	}
	if totals["plant-a"] != 82 || totals["plant-b"] != 164 {
		t.Fatalf("cross-plant contamination: %v", totals)
	}
}

func TestService_ShutdownAbandonsInGraceWindows(t *testing.T) {
	pub := &recordingPublisher{}
	svc := newTestService(t, pub)

	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	_ = svc.SubmitReading(ctx, reading("plant-a", base.Add(10*time.Second), 100))

	// Watermark is inside the window span: shutdown must not emit a partial
	// snapshot for it.
	svc.Shutdown()
	if got := pub.snapshots(); len(got) != 0 {
		t.Fatalf("shutdown emitted %d snapshots for in-grace windows", len(got))
	}

	if err := svc.SubmitReading(ctx, reading("plant-a", base.Add(20*time.Second), 1)); !errors.Is(err, ErrShuttingDown) {
		t.Fatalf("submit after shutdown: %v, want ErrShuttingDown", err)
	}
}

func TestService_SubmitConcurrentWithShutdown(t *testing.T) {
	pub := &recordingPublisher{}
	svc := newTestService(t, pub)

	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	if err := svc.SubmitReading(ctx, reading("plant-a", base, 1)); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// Hammer the intake while shutdown closes the lanes. Every submission
	// must either land or return ErrShuttingDown; none may panic.
	done := make(chan error, 1)
	go func() {
		var failure error
		defer func() {
			if r := recover(); r != nil {
				failure = fmt.Errorf("submit panicked: %v", r)
			}
			done <- failure
		}()
		for i := 1; ; i++ {
			at := base.Add(time.Duration(i) * time.Millisecond)
			if err := svc.SubmitReading(ctx, reading("plant-a", at, 1)); err != nil {
				if !errors.Is(err, ErrShuttingDown) {
					failure = fmt.Errorf("unexpected submit error: %w", err)
				}
				return
			}
		}
	}()

	svc.Shutdown()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("submitter never observed shutdown")
	}

	// Flush and Advance against a stopped service are no-ops, not panics.
	svc.Flush()
	svc.Advance(base.Add(time.Hour))
}

func TestService_PublishesRejectedEvents(t *testing.T) {
	calc, _ := telemetry.NewCalculator(telemetry.DefaultFactors)
	registry := telemetry.NewPlantRegistry([]string{"plant-a"})
	pub := &recordingPublisher{}
	svc, err := NewService(calc, registry, pub, log.New(testWriter{t}, "", 0),
		WithGranularities([]aggregation.Granularity{aggregation.GranularityMinute}))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	defer svc.Shutdown()

	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	_ = svc.SubmitReading(ctx, reading("plant-x", base, 1))                                         // unknown plant
	_ = svc.SubmitReading(ctx, telemetry.Reading{PlantID: "plant-a", Timestamp: base, EnergyKWh: -1}) // invalid
	_ = svc.SubmitReading(ctx, reading("plant-a", base.Add(10*time.Second), 1))
	_ = svc.SubmitReading(ctx, reading("plant-a", base.Add(10*time.Second), 1)) // duplicate
	svc.Advance(base.Add(2 * time.Minute))
	svc.Flush()
	_ = svc.SubmitReading(ctx, reading("plant-a", base.Add(20*time.Second), 1)) // late
	svc.Flush()

	reasons := map[string]int{}
	for _, evt := range pub.rejected() {
		reasons[evt.Reason]++
	}
	want := map[string]int{
		telemetryevents.RejectUnknownPlant: 1,
		telemetryevents.RejectInvalid:      1,
		telemetryevents.RejectDuplicate:    1,
		telemetryevents.RejectLate:         1,
	}
	for reason, count := range want {
		if reasons[reason] != count {
			t.Fatalf("reason %s = %d, want %d (all: %v)", reason, reasons[reason], count, reasons)
		}
	}
}

func TestService_PublishFailureDoesNotRejectReading(t *testing.T) {
	calc, _ := telemetry.NewCalculator(telemetry.DefaultFactors)
	svc, err := NewService(calc, telemetry.NewPlantRegistry(nil), failingPublisher{},
		log.New(testWriter{t}, "", 0),
		WithGranularities([]aggregation.Granularity{aggregation.GranularityMinute}))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	defer svc.Shutdown()

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	if err := svc.SubmitReading(context.Background(), reading("plant-a", base, 100)); err != nil {
		t.Fatalf("submit must survive a publish failure: %v", err)
	}
	svc.Advance(base.Add(2 * time.Minute))
	svc.Flush()

	// The reading still aggregated despite the event bus being down.
	snap, ok := svc.LatestSnapshot("plant-a", aggregation.GranularityMinute)
	if !ok || snap.TotalCarbonKg != 82 {
		t.Fatalf("snapshot = %+v ok = %v", snap, ok)
	}
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, any) error {
	return errors.New("bus down")
}

func TestService_RejectsUnknownPlantWithFixedRegistry(t *testing.T) {
	calc, _ := telemetry.NewCalculator(telemetry.DefaultFactors)
	registry := telemetry.NewPlantRegistry([]string{"plant-a"})
	pub := &recordingPublisher{}
	svc, err := NewService(calc, registry, pub, log.New(testWriter{t}, "", 0),
		WithGranularities([]aggregation.Granularity{aggregation.GranularityMinute}))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	defer svc.Shutdown()

	err = svc.SubmitReading(context.Background(), reading("plant-x", time.Now(), 1))
	if !errors.Is(err, telemetry.ErrUnknownPlant) {
		t.Fatalf("err = %v, want ErrUnknownPlant", err)
	}
}
