// Package sync replays pending actions against the Remote API.
package sync

import (
	"context"

	"github.com/kimhsiao/fieldcount/backend/internal/models"
)

// ActionLog is the part of the persistent action log a drain needs.
type ActionLog interface {
	// List returns pending actions in the order they were appended.
	List(ctx context.Context) ([]*models.PendingAction, error)

	// Remove drops an action. Removing an unknown ID is not an error.
	Remove(ctx context.Context, id models.UUID) error
}

// Drainer runs drains. The scheduler and the facade depend on this rather than on *Coordinator.
type Drainer interface {
	// Drain replays the current snapshot of the log, or fails with DRAIN_IN_PROGRESS.
	Drain(ctx context.Context, trigger string) (*models.SyncReport, error)

	// TryDrain is Drain that reports false instead of failing when a drain is running.
	TryDrain(ctx context.Context, trigger string) (*models.SyncReport, bool)

	// Status returns the coordinator state.
	Status() Status
}
