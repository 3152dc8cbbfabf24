package cache

import (
	"context"
	"time"
)

// Store is the contract shared by the in-process and redis caches. Get
// returns errors.ErrCacheMiss when the key is absent or expired.
type Store interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	DeleteByPattern(ctx context.Context, pattern string) error
	Clear(ctx context.Context) error
}

var _ Store = (*MemoryStore)(nil)
