package cache

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// MemoryConfig holds in-process cache settings.
type MemoryConfig struct {
	MaxSize         int
	CleanupInterval time.Duration
}

// MemoryOption configures the memory cache.
type MemoryOption func(*MemoryConfig)

// WithMemoryMaxSize caps the number of stored entries.
func WithMemoryMaxSize(size int) MemoryOption {
	return func(c *MemoryConfig) { c.MaxSize = size }
}

// WithMemoryCleanup sets how often expired entries are swept out.
func WithMemoryCleanup(interval time.Duration) MemoryOption {
	return func(c *MemoryConfig) { c.CleanupInterval = interval }
}

type memoryEntry struct {
	data      []byte
	expiresAt time.Time // zero means no expiry
	lastRead  time.Time
}

func (e *memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// MemoryCache is an in-process Service. Values follow the same serialized
// form as the Redis cache, so the two can sit in front of each other. When
// the entry cap is reached the least recently read entry is evicted.
type MemoryCache struct {
	mu        sync.Mutex
	entries   map[string]*memoryEntry
	maxSize   int
	stop      chan struct{}
	closeOnce sync.Once
}

var _ Service = (*MemoryCache)(nil)

// NewMemoryCache creates a memory cache and starts its cleanup loop.
func NewMemoryCache(opts ...MemoryOption) *MemoryCache {
	cfg := &MemoryConfig{
		MaxSize:         1000,
		CleanupInterval: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	mc := &MemoryCache{
		entries: make(map[string]*memoryEntry),
		maxSize: cfg.MaxSize,
		stop:    make(chan struct{}),
	}
	go mc.janitor(cfg.CleanupInterval)
	return mc
}

func (mc *MemoryCache) Set(_ context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := encode(value)
	if err != nil {
		return err
	}

	mc.mu.Lock()
	defer mc.mu.Unlock()

	if _, exists := mc.entries[key]; !exists && len(mc.entries) >= mc.maxSize {
		mc.evictOldest()
	}

	now := time.Now()
	e := &memoryEntry{data: data, lastRead: now}
	if ttl > 0 {
		e.expiresAt = now.Add(ttl)
	}
	mc.entries[key] = e
	return nil
}

func (mc *MemoryCache) Get(_ context.Context, key string, dest interface{}) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	e, ok := mc.entries[key]
	if !ok {
		return ErrCacheMiss
	}
	now := time.Now()
	if e.expired(now) {
		delete(mc.entries, key)
		return ErrCacheMiss
	}

	e.lastRead = now
	return decode(e.data, dest)
}

func (mc *MemoryCache) Delete(_ context.Context, keys ...string) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	for _, key := range keys {
		delete(mc.entries, key)
	}
	return nil
}

func (mc *MemoryCache) Exists(_ context.Context, keys ...string) (bool, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	now := time.Now()
	for _, key := range keys {
		if e, ok := mc.entries[key]; ok && !e.expired(now) {
			return true, nil
		}
	}
	return false, nil
}

// Increment follows Redis INCR semantics: a missing key starts at zero and
// a value that does not parse as an integer is an error.
func (mc *MemoryCache) Increment(_ context.Context, key string) (int64, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	now := time.Now()
	e, ok := mc.entries[key]
	if !ok || e.expired(now) {
		mc.entries[key] = &memoryEntry{data: []byte("1"), lastRead: now}
		return 1, nil
	}

	n, err := strconv.ParseInt(string(e.data), 10, 64)
	if err != nil {
		return 0, err
	}
	n++
	e.data = []byte(strconv.FormatInt(n, 10))
	e.lastRead = now
	return n, nil
}

func (mc *MemoryCache) Expire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	e, ok := mc.entries[key]
	if !ok || e.expired(time.Now()) {
		return false, nil
	}
	e.expiresAt = time.Now().Add(ttl)
	return true, nil
}

func (mc *MemoryCache) TryLock(_ context.Context, key string, ttl time.Duration) (bool, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	now := time.Now()
	if e, ok := mc.entries[key]; ok && !e.expired(now) {
		return false, nil
	}
	mc.entries[key] = &memoryEntry{data: []byte("locked"), expiresAt: now.Add(ttl), lastRead: now}
	return true, nil
}

func (mc *MemoryCache) Unlock(ctx context.Context, key string) error {
	return mc.Delete(ctx, key)
}

// Close stops the cleanup loop.
func (mc *MemoryCache) Close() error {
	mc.closeOnce.Do(func() { close(mc.stop) })
	return nil
}

// evictOldest removes the least recently read entry. Caller holds mu.
func (mc *MemoryCache) evictOldest() {
	var oldestKey string
	var oldestAt time.Time
	for key, e := range mc.entries {
		if oldestKey == "" || e.lastRead.Before(oldestAt) {
			oldestKey = key
			oldestAt = e.lastRead
		}
	}
	if oldestKey != "" {
		delete(mc.entries, oldestKey)
	}
}

func (mc *MemoryCache) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-mc.stop:
			return
		case <-ticker.C:
			now := time.Now()
			mc.mu.Lock()
			for key, e := range mc.entries {
				if e.expired(now) {
					delete(mc.entries, key)
				}
			}
			mc.mu.Unlock()
		}
	}
}
