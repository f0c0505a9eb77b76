// Package store defines the persistence interface for epoch runs.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/derivex/rewards-engine/internal/model"
)

// ErrNotFound is returned when a run or user rebate does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// SaveEpochResult persists a completed run, including every user row.
	SaveEpochResult(ctx context.Context, result *model.EpochResult) error

	// GetEpochResult retrieves a complete run by its run ID.
	GetEpochResult(ctx context.Context, runID string) (*model.EpochResult, error)

	// ListEpochs returns summaries of all stored runs, newest first.
	ListEpochs(ctx context.Context) ([]model.EpochSummary, error)

	// GetUserRebate retrieves one trader's rebate within a run. The
	// trader address is matched case-insensitively.
	GetUserRebate(ctx context.Context, runID, trader string) (*model.UserRebate, error)
}
