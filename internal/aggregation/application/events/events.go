package events

import (
	aggregation "greenledger/internal/aggregation/domain"
)

// SnapshotClosed is published when a window closes and its aggregate is
// frozen.
type SnapshotClosed struct {
	PlantID  string                        `json:"plant_id"`
	Snapshot aggregation.AggregateSnapshot `json:"snapshot"`
}
