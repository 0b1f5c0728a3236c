package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	alerting "greenledger/internal/alerting/domain"
)

// ViolationRepository persists compliance violations in Postgres.
type ViolationRepository struct {
	db *sql.DB
}

// NewViolationRepository constructs a repository.
func NewViolationRepository(db *sql.DB) *ViolationRepository {
	return &ViolationRepository{db: db}
}

// Create inserts a violation. Replays of the same episode upsert instead of
// failing, since the id is derived from plant and open instant.
func (r *ViolationRepository) Create(ctx context.Context, violation *alerting.ComplianceViolation) error {
	if r == nil || r.db == nil {
		return errors.New("violation repo: nil db")
	}
	if violation == nil {
		return errors.New("violation repo: nil violation")
	}
	if violation.UpdatedAt.IsZero() {
		violation.UpdatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO compliance_violations (
	id, plant_id, level, peak_level, threshold_kg_per_hr, observed_rate_kg_per_hr,
	opened_at, closed_at, duration_seconds, updated_at
) VALUES (
	$1, $2, $3, $4, $5, $6,
	$7, $8, $9, $10
)
ON CONFLICT (id)
DO UPDATE SET
	level = EXCLUDED.level,
	peak_level = EXCLUDED.peak_level,
	threshold_kg_per_hr = EXCLUDED.threshold_kg_per_hr,
	observed_rate_kg_per_hr = EXCLUDED.observed_rate_kg_per_hr,
	updated_at = EXCLUDED.updated_at`,
		violation.ID,
		violation.PlantID,
		string(violation.Level),
		string(violation.PeakLevel),
		violation.ThresholdKgPerHr,
		violation.ObservedRateKgPerHr,
		violation.OpenedAt,
		nullTime(violation.ClosedAt),
		violation.Duration.Seconds(),
		violation.UpdatedAt,
	)
	return err
}

// Update rewrites the mutable columns of an existing violation.
func (r *ViolationRepository) Update(ctx context.Context, violation *alerting.ComplianceViolation) error {
	if r == nil || r.db == nil {
		return errors.New("violation repo: nil db")
	}
	if violation == nil {
		return errors.New("violation repo: nil violation")
	}
	res, err := r.db.ExecContext(ctx, `
UPDATE compliance_violations
SET level = $1, peak_level = $2, threshold_kg_per_hr = $3, observed_rate_kg_per_hr = $4,
	closed_at = $5, duration_seconds = $6, updated_at = $7
WHERE id = $8`,
		string(violation.Level),
		string(violation.PeakLevel),
		violation.ThresholdKgPerHr,
		violation.ObservedRateKgPerHr,
		nullTime(violation.ClosedAt),
		violation.Duration.Seconds(),
		violation.UpdatedAt,
		violation.ID,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return alerting.ErrNotFound
	}
	return nil
}

// GetByID fetches one violation.
func (r *ViolationRepository) GetByID(ctx context.Context, id string) (*alerting.ComplianceViolation, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("violation repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT id, plant_id, level, peak_level, threshold_kg_per_hr, observed_rate_kg_per_hr,
	opened_at, closed_at, duration_seconds, updated_at
FROM compliance_violations
WHERE id = $1
LIMIT 1`, id)
	violation, err := scanViolation(row)
	if err != nil {
		return nil, err
	}
	if violation == nil {
		return nil, alerting.ErrNotFound
	}
	return violation, nil
}

// List returns violations matching the optional filters, newest first.
func (r *ViolationRepository) List(ctx context.Context, plantID, status string, from, to time.Time) ([]alerting.ComplianceViolation, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("violation repo: nil db")
	}
	query := `
SELECT id, plant_id, level, peak_level, threshold_kg_per_hr, observed_rate_kg_per_hr,
	opened_at, closed_at, duration_seconds, updated_at
FROM compliance_violations
WHERE 1 = 1`
	var args []any
	if plantID != "" {
		args = append(args, plantID)
		query += fmt.Sprintf(" AND plant_id = $%d", len(args))
	}
	switch status {
	case alerting.StatusOpen:
		query += " AND closed_at IS NULL"
	case alerting.StatusClosed:
		query += " AND closed_at IS NOT NULL"
	}
	if !from.IsZero() {
		args = append(args, from)
		query += fmt.Sprintf(" AND opened_at >= $%d", len(args))
	}
	if !to.IsZero() {
		args = append(args, to)
		query += fmt.Sprintf(" AND opened_at < $%d", len(args))
	}
	query += " ORDER BY opened_at DESC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []alerting.ComplianceViolation
	for rows.Next() {
		violation, err := scanViolation(rows)
		if err != nil {
			return nil, err
		}
		if violation != nil {
			result = append(result, *violation)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanViolation(row rowScanner) (*alerting.ComplianceViolation, error) {
	var violation alerting.ComplianceViolation
	var level string
	var peakLevel string
	var closedAt sql.NullTime
	var durationSeconds float64
	err := row.Scan(
		&violation.ID,
		&violation.PlantID,
		&level,
		&peakLevel,
		&violation.ThresholdKgPerHr,
		&violation.ObservedRateKgPerHr,
		&violation.OpenedAt,
		&closedAt,
		&durationSeconds,
		&violation.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	violation.Level = alerting.Level(level)
	violation.PeakLevel = alerting.Level(peakLevel)
	if closedAt.Valid {
		violation.ClosedAt = closedAt.Time.UTC()
		violation.Duration = time.Duration(durationSeconds * float64(time.Second))
	}
	violation.OpenedAt = violation.OpenedAt.UTC()
	violation.UpdatedAt = violation.UpdatedAt.UTC()
	return &violation, nil
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}
