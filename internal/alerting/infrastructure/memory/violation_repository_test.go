package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	alerting "greenledger/internal/alerting/domain"
)

func violation(id, plant string, openedAt time.Time) *alerting.ComplianceViolation {
	return &alerting.ComplianceViolation{
		ID:                  id,
		PlantID:             plant,
		Level:               alerting.LevelInfo,
		PeakLevel:           alerting.LevelInfo,
		ThresholdKgPerHr:    300,
		ObservedRateKgPerHr: 320,
		OpenedAt:            openedAt,
	}
}

func TestViolationRepository_CRUD(t *testing.T) {
	repo := NewViolationRepository()
	ctx := context.Background()
	openedAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	if err := repo.Create(ctx, violation("v-1", "plant-a", openedAt)); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := repo.GetByID(ctx, "v-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.PlantID != "plant-a" {
		t.Fatalf("plant = %s", got.PlantID)
	}

	got.Level = alerting.LevelCritical
	if err := repo.Update(ctx, got); err != nil {
		t.Fatalf("update: %v", err)
	}
	updated, _ := repo.GetByID(ctx, "v-1")
	if updated.Level != alerting.LevelCritical {
		t.Fatalf("level = %s, want CRITICAL", updated.Level)
	}

	if _, err := repo.GetByID(ctx, "missing"); !errors.Is(err, alerting.ErrNotFound) {
		t.Fatalf("get missing: %v, want ErrNotFound", err)
	}
	if err := repo.Update(ctx, violation("missing", "plant-a", openedAt)); !errors.Is(err, alerting.ErrNotFound) {
		t.Fatalf("update missing: %v, want ErrNotFound", err)
	}
}

func TestViolationRepository_ListFilters(t *testing.T) {
	repo := NewViolationRepository()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	older := violation("v-old", "plant-a", base)
	if err := older.Close(base.Add(5 * time.Minute)); err != nil {
		t.Fatalf("close: %v", err)
	}
	_ = repo.Create(ctx, older)
	_ = repo.Create(ctx, violation("v-new", "plant-a", base.Add(time.Hour)))
	_ = repo.Create(ctx, violation("v-other", "plant-b", base.Add(30*time.Minute)))

	all, err := repo.List(ctx, "", "", time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("all = %d, want 3", len(all))
	}
	// Newest first.
	if all[0].ID != "v-new" || all[2].ID != "v-old" {
		t.Fatalf("order: %s .. %s", all[0].ID, all[2].ID)
	}

	byPlant, _ := repo.List(ctx, "plant-a", "", time.Time{}, time.Time{})
	if len(byPlant) != 2 {
		t.Fatalf("plant-a = %d, want 2", len(byPlant))
	}

	open, _ := repo.List(ctx, "plant-a", alerting.StatusOpen, time.Time{}, time.Time{})
	if len(open) != 1 || open[0].ID != "v-new" {
		t.Fatalf("open = %+v", open)
	}
	closed, _ := repo.List(ctx, "plant-a", alerting.StatusClosed, time.Time{}, time.Time{})
	if len(closed) != 1 || closed[0].ID != "v-old" {
		t.Fatalf("closed = %+v", closed)
	}

	// Time range is [from, to) on OpenedAt.
	ranged, _ := repo.List(ctx, "", "", base.Add(15*time.Minute), base.Add(time.Hour))
	if len(ranged) != 1 || ranged[0].ID != "v-other" {
		t.Fatalf("ranged = %+v", ranged)
	}
}

func TestViolationRepository_CreateIsIdempotentByID(t *testing.T) {
	repo := NewViolationRepository()
	ctx := context.Background()
	openedAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	_ = repo.Create(ctx, violation("v-1", "plant-a", openedAt))
	replay := violation("v-1", "plant-a", openedAt)
	replay.ObservedRateKgPerHr = 450
	if err := repo.Create(ctx, replay); err != nil {
		t.Fatalf("replayed create: %v", err)
	}

	all, _ := repo.List(ctx, "", "", time.Time{}, time.Time{})
	if len(all) != 1 {
		t.Fatalf("replay duplicated the row: %d", len(all))
	}
	if all[0].ObservedRateKgPerHr != 450 {
		t.Fatalf("replay did not overwrite: %+v", all[0])
	}
}
