package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	alerting "greenledger/internal/alerting/domain"
)

// ViolationRepository keeps violations in memory. It backs deployments
// without a database and the test suites.
type ViolationRepository struct {
	mu         sync.RWMutex
	violations map[string]alerting.ComplianceViolation
}

// NewViolationRepository constructs an empty repository.
func NewViolationRepository() *ViolationRepository {
	return &ViolationRepository{violations: make(map[string]alerting.ComplianceViolation)}
}

// Create stores a violation. Replayed creates overwrite the same id.
func (r *ViolationRepository) Create(_ context.Context, violation *alerting.ComplianceViolation) error {
	if r == nil {
		return errors.New("violation repo: nil repository")
	}
	if violation == nil {
		return errors.New("violation repo: nil violation")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.violations[violation.ID] = *violation
	return nil
}

// Update rewrites an existing violation.
func (r *ViolationRepository) Update(_ context.Context, violation *alerting.ComplianceViolation) error {
	if r == nil {
		return errors.New("violation repo: nil repository")
	}
	if violation == nil {
		return errors.New("violation repo: nil violation")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.violations[violation.ID]; !ok {
		return alerting.ErrNotFound
	}
	r.violations[violation.ID] = *violation
	return nil
}

// GetByID fetches one violation.
func (r *ViolationRepository) GetByID(_ context.Context, id string) (*alerting.ComplianceViolation, error) {
	if r == nil {
		return nil, errors.New("violation repo: nil repository")
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	violation, ok := r.violations[id]
	if !ok {
		return nil, alerting.ErrNotFound
	}
	out := violation
	return &out, nil
}

// List returns violations matching the optional filters, newest first.
func (r *ViolationRepository) List(_ context.Context, plantID, status string, from, to time.Time) ([]alerting.ComplianceViolation, error) {
	if r == nil {
		return nil, errors.New("violation repo: nil repository")
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []alerting.ComplianceViolation
	for _, violation := range r.violations {
		if plantID != "" && violation.PlantID != plantID {
			continue
		}
		if status != "" && violation.Status() != status {
			continue
		}
		if !from.IsZero() && violation.OpenedAt.Before(from) {
			continue
		}
		if !to.IsZero() && !violation.OpenedAt.Before(to) {
			continue
		}
		result = append(result, violation)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].OpenedAt.After(result[j].OpenedAt)
	})
	return result, nil
}
