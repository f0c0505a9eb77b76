package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/derivex/rewards-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Runs are immutable once saved, so entries never need invalidation,
// only a TTL to bound memory.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

func (s *CachedStore) SaveEpochResult(ctx context.Context, result *model.EpochResult) error {
	if err := s.primary.SaveEpochResult(ctx, result); err != nil {
		return err
	}
	s.cacheRun(ctx, result)
	return nil
}

func (s *CachedStore) GetEpochResult(ctx context.Context, runID string) (*model.EpochResult, error) {
	// Try cache.
	data, err := s.rdb.Get(ctx, runKey(runID)).Bytes()
	if err == nil {
		var r model.EpochResult
		if json.Unmarshal(data, &r) == nil {
			return &r, nil
		}
	}

	// Cache miss: read from primary.
	r, err := s.primary.GetEpochResult(ctx, runID)
	if err != nil {
		return nil, err
	}

	s.cacheRun(ctx, r)
	return r, nil
}

// ListEpochs is not cached; the listing changes with every new run.
func (s *CachedStore) ListEpochs(ctx context.Context) ([]model.EpochSummary, error) {
	return s.primary.ListEpochs(ctx)
}

// GetUserRebate reads through the cached run when present, avoiding a
// primary round trip per user lookup.
func (s *CachedStore) GetUserRebate(ctx context.Context, runID, trader string) (*model.UserRebate, error) {
	data, err := s.rdb.Get(ctx, runKey(runID)).Bytes()
	if err == nil {
		var r model.EpochResult
		if json.Unmarshal(data, &r) == nil {
			if rebate, ok := r.Users[strings.ToLower(trader)]; ok {
				return &rebate, nil
			}
			return nil, fmt.Errorf("run %s trader %s: %w", runID, trader, ErrNotFound)
		}
	}
	return s.primary.GetUserRebate(ctx, runID, trader)
}

func (s *CachedStore) cacheRun(ctx context.Context, r *model.EpochResult) {
	if data, err := json.Marshal(r); err == nil {
		s.rdb.Set(ctx, runKey(r.RunID), data, s.ttl)
	}
}

func runKey(runID string) string { return fmt.Sprintf("epoch:run:%s", runID) }
