package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bitbondlabs/bitbondd/internal/domain"
)

const statsKey = "stats:snapshot"

// StatsCache implements domain.StatsCache as a single JSON value with a TTL.
type StatsCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewStatsCache creates a StatsCache backed by the given Client. ttl bounds
// how stale a served snapshot can be.
func NewStatsCache(c *Client, ttl time.Duration) *StatsCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &StatsCache{rdb: c.Underlying(), ttl: ttl}
}

// Get returns the cached snapshot or domain.ErrNotFound on a miss.
func (sc *StatsCache) Get(ctx context.Context) (domain.StatsSnapshot, error) {
	data, err := sc.rdb.Get(ctx, statsKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.StatsSnapshot{}, domain.ErrNotFound
		}
		return domain.StatsSnapshot{}, fmt.Errorf("redis: get stats snapshot: %w", err)
	}

	var snap domain.StatsSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.StatsSnapshot{}, fmt.Errorf("redis: unmarshal stats snapshot: %w", err)
	}
	return snap, nil
}

// Set stores the snapshot with the cache TTL.
func (sc *StatsCache) Set(ctx context.Context, snap domain.StatsSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("redis: marshal stats snapshot: %w", err)
	}
	if err := sc.rdb.Set(ctx, statsKey, data, sc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set stats snapshot: %w", err)
	}
	return nil
}

// Invalidate drops the cached snapshot.
func (sc *StatsCache) Invalidate(ctx context.Context) error {
	if err := sc.rdb.Del(ctx, statsKey).Err(); err != nil {
		return fmt.Errorf("redis: invalidate stats snapshot: %w", err)
	}
	return nil
}

var _ domain.StatsCache = (*StatsCache)(nil)
