package ratelimit

import (
	"context"
	"time"
)

// HitStore is implemented by *store.DB.
type HitStore interface {
	Hit(ctx context.Context, key string, now time.Time, window time.Duration) (int, error)
	PruneRateLimits(ctx context.Context, cutoff time.Time) error
}

// Shared counts in fixed windows in PostgreSQL so every instance sees the same quota.
type Shared struct {
	Store  HitStore
	Window time.Duration
}

func (s Shared) Hit(ctx context.Context, key string, now time.Time) (int, error) {
	return s.Store.Hit(ctx, key, now, s.Window)
}

func (s Shared) Prune(ctx context.Context, now time.Time) error {
	return s.Store.PruneRateLimits(ctx, now.Add(-s.Window).Truncate(s.Window))
}
