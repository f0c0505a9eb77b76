package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/derivex/rewards-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu   sync.RWMutex
	runs map[string]*model.EpochResult
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs: make(map[string]*model.EpochResult),
	}
}

func (s *MemoryStore) SaveEpochResult(_ context.Context, result *model.EpochResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[result.RunID]; exists {
		return fmt.Errorf("run %s already exists", result.RunID)
	}

	// Store a copy to avoid external mutation.
	copied := *result
	copied.Users = make(map[string]model.UserRebate, len(result.Users))
	for trader, rebate := range result.Users {
		copied.Users[strings.ToLower(trader)] = rebate
	}
	s.runs[result.RunID] = &copied
	return nil
}

func (s *MemoryStore) GetEpochResult(_ context.Context, runID string) (*model.EpochResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.runs[runID]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	copied := *r
	copied.Users = make(map[string]model.UserRebate, len(r.Users))
	for trader, rebate := range r.Users {
		copied.Users[trader] = rebate
	}
	return &copied, nil
}

func (s *MemoryStore) ListEpochs(_ context.Context) ([]model.EpochSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summaries := make([]model.EpochSummary, 0, len(s.runs))
	for _, r := range s.runs {
		summaries = append(summaries, model.EpochSummary{
			RunID:          r.RunID,
			EpochID:        r.EpochID,
			StartTimestamp: r.StartTimestamp,
			EndTimestamp:   r.EndTimestamp,
			UserCount:      len(r.Users),
			TotalGovRebate: r.Rewards.TotalGovRebate,
			ComputedAt:     r.ComputedAt,
		})
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].ComputedAt.After(summaries[j].ComputedAt)
	})
	return summaries, nil
}

func (s *MemoryStore) GetUserRebate(_ context.Context, runID, trader string) (*model.UserRebate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.runs[runID]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	rebate, ok := r.Users[strings.ToLower(trader)]
	if !ok {
		return nil, fmt.Errorf("run %s trader %s: %w", runID, trader, ErrNotFound)
	}
	return &rebate, nil
}
