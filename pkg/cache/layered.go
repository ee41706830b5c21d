package cache

import (
	"context"
	"time"
)

// LayeredConfig holds layered cache settings.
type LayeredConfig struct {
	MemoryMaxSize int
}

// LayeredOption configures the layered cache.
type LayeredOption func(*LayeredConfig)

// WithLayeredMemorySize caps the in-process layer.
func WithLayeredMemorySize(size int) LayeredOption {
	return func(c *LayeredConfig) { c.MemoryMaxSize = size }
}

// LayeredCache places an in-process layer in front of Redis. Writes go
// through to both layers with the caller's TTL, reads are served from
// memory when this instance wrote the entry and fall back to Redis
// otherwise. Locks and counters always go straight to Redis because they
// have to be visible across instances.
type LayeredCache struct {
	mem *MemoryCache
	rdb *RedisCache
}

var _ Service = (*LayeredCache)(nil)

// NewLayeredCache builds a layered cache on top of an existing Redis cache.
func NewLayeredCache(rdb *RedisCache, opts ...LayeredOption) *LayeredCache {
	cfg := &LayeredConfig{MemoryMaxSize: 1000}
	for _, opt := range opts {
		opt(cfg)
	}
	return &LayeredCache{
		mem: NewMemoryCache(WithMemoryMaxSize(cfg.MemoryMaxSize)),
		rdb: rdb,
	}
}

func (lc *LayeredCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if err := lc.rdb.Set(ctx, key, value, ttl); err != nil {
		return err
	}
	_ = lc.mem.Set(ctx, key, value, ttl)
	return nil
}

func (lc *LayeredCache) Get(ctx context.Context, key string, dest interface{}) error {
	if err := lc.mem.Get(ctx, key, dest); err == nil {
		return nil
	}
	return lc.rdb.Get(ctx, key, dest)
}

func (lc *LayeredCache) Delete(ctx context.Context, keys ...string) error {
	_ = lc.mem.Delete(ctx, keys...)
	return lc.rdb.Delete(ctx, keys...)
}

func (lc *LayeredCache) Exists(ctx context.Context, keys ...string) (bool, error) {
	return lc.rdb.Exists(ctx, keys...)
}

func (lc *LayeredCache) Increment(ctx context.Context, key string) (int64, error) {
	return lc.rdb.Increment(ctx, key)
}

func (lc *LayeredCache) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	_, _ = lc.mem.Expire(ctx, key, ttl)
	return lc.rdb.Expire(ctx, key, ttl)
}

func (lc *LayeredCache) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return lc.rdb.TryLock(ctx, key, ttl)
}

func (lc *LayeredCache) Unlock(ctx context.Context, key string) error {
	return lc.rdb.Unlock(ctx, key)
}

// Close shuts down both layers.
func (lc *LayeredCache) Close() error {
	_ = lc.mem.Close()
	return lc.rdb.Close()
}
