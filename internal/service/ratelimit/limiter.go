package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter hands out one token bucket per key. Keys separate venue budgets,
// so orders and market data lookups never starve each other.
type Limiter struct {
	mu sync.Mutex
	m  map[string]*rate.Limiter
}

func New() *Limiter { return &Limiter{m: make(map[string]*rate.Limiter)} }

func (l *Limiter) limiter(key string, perSec float64, burst int) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.m[key]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(perSec), burst)
		l.m[key] = lim
	}
	return lim
}

// Allow reports whether one event may proceed for key right now.
func (l *Limiter) Allow(key string, perSec float64, burst int) bool {
	return l.limiter(key, perSec, burst).Allow()
}

// AllowWait blocks until one event may proceed for key or the context ends.
// Order submissions prefer waiting over being dropped.
func (l *Limiter) AllowWait(ctx context.Context, key string, perSec float64, burst int) error {
	return l.limiter(key, perSec, burst).Wait(ctx)
}
