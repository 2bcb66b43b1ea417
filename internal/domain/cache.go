package domain

import (
	"context"
	"time"
)

// StatsCache is a cache-aside store for the stats snapshot. Get returns
// ErrNotFound on a miss.
type StatsCache interface {
	Get(ctx context.Context) (StatsSnapshot, error)
	Set(ctx context.Context, s StatsSnapshot) error
	Invalidate(ctx context.Context) error
}

// RateLimiter enforces per-key request quotas over a sliding window.
type RateLimiter interface {
	// Allow reports whether the key may proceed under its window quota and
	// counts the request when it does.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed mutual exclusion for singleton jobs such
// as the archiver. Acquire returns ErrLockHeld when another party holds the
// lock; the returned unlock function is safe to call more than once.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// StreamMessage is one entry read from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus is a pub/sub fabric with an optional durable stream. The
// WebSocket hub consumes Subscribe; services publish committed events.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
