package cache

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	ErrCacheMiss = errors.New("cache: key not found")
)

// Service is the cache surface shared by the Redis, memory and layered
// implementations. Values are stored in serialized form: strings as-is,
// everything else as JSON. Get fills dest the same way, so a *string dest
// receives the raw stored text.
type Service interface {
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Get(ctx context.Context, key string, dest interface{}) error
	Delete(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, keys ...string) (bool, error)
	Increment(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// TryLock acquires a best-effort lease on key for ttl. It returns false
	// without error when another holder already has the lease.
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

// Key joins parts into a cache key. Parts are separated by a colon.
func Key(parts ...string) string {
	return strings.Join(parts, ":")
}
