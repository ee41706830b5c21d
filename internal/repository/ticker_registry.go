package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/0x556c79/deltabadger/internal/domain/models"
	"github.com/0x556c79/deltabadger/internal/domain/repository"
	"github.com/0x556c79/deltabadger/pkg/cache"
)

// TickerSource loads ticker metadata from a venue, typically over REST.
type TickerSource interface {
	TickerInfo(ctx context.Context, symbol string) (*models.Ticker, error)
}

// CachedTickerRegistry implements TickerRegistry over the cache service with
// a per-venue source behind it. Minimum sizes change rarely and cache long,
// prices are refreshed by the market data stream and cache short, with the
// source as fallback when the stream is behind.
type CachedTickerRegistry struct {
	cache    cache.Service
	sources  map[string]TickerSource
	minTTL   time.Duration
	priceTTL time.Duration
}

// NewCachedTickerRegistry creates a ticker registry. sources is keyed by
// exchange name.
func NewCachedTickerRegistry(c cache.Service, sources map[string]TickerSource, minTTL, priceTTL time.Duration) repository.TickerRegistry {
	if minTTL <= 0 {
		minTTL = time.Hour
	}
	if priceTTL <= 0 {
		priceTTL = 30 * time.Second
	}
	return &CachedTickerRegistry{
		cache:    c,
		sources:  sources,
		minTTL:   minTTL,
		priceTTL: priceTTL,
	}
}

func (r *CachedTickerRegistry) MinQuoteSize(ctx context.Context, exchange, symbol string) (decimal.Decimal, error) {
	key := cache.Key("tickers:min", exchange, symbol)

	var cached string
	err := r.cache.Get(ctx, key, &cached)
	if err == nil {
		return decimal.NewFromString(cached)
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		return decimal.Zero, fmt.Errorf("ticker cache: %w", err)
	}

	info, err := r.load(ctx, exchange, symbol)
	if err != nil {
		return decimal.Zero, err
	}

	if err := r.cache.Set(ctx, key, info.MinQuoteSize.String(), r.minTTL); err != nil {
		return decimal.Zero, fmt.Errorf("ticker cache set: %w", err)
	}
	return info.MinQuoteSize, nil
}

func (r *CachedTickerRegistry) LastPrice(ctx context.Context, exchange, symbol string) (decimal.Decimal, error) {
	key := cache.Key("tickers:px", exchange, symbol)

	var cached string
	err := r.cache.Get(ctx, key, &cached)
	if err == nil {
		return decimal.NewFromString(cached)
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		return decimal.Zero, fmt.Errorf("ticker cache: %w", err)
	}

	info, err := r.load(ctx, exchange, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	if info.LastPrice.IsZero() {
		return decimal.Zero, fmt.Errorf("no price for %s %s", exchange, symbol)
	}

	if err := r.cache.Set(ctx, key, info.LastPrice.String(), r.priceTTL); err != nil {
		return decimal.Zero, fmt.Errorf("ticker cache set: %w", err)
	}
	return info.LastPrice, nil
}

// SetLastPrice feeds a fresh price into the cache, used by the market data
// stream so lookups rarely hit the source.
func (r *CachedTickerRegistry) SetLastPrice(ctx context.Context, exchange, symbol string, price decimal.Decimal) error {
	key := cache.Key("tickers:px", exchange, symbol)
	return r.cache.Set(ctx, key, price.String(), r.priceTTL)
}

func (r *CachedTickerRegistry) load(ctx context.Context, exchange, symbol string) (*models.Ticker, error) {
	src, ok := r.sources[exchange]
	if !ok {
		return nil, fmt.Errorf("no ticker source for exchange %s", exchange)
	}
	info, err := src.TickerInfo(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("load ticker %s %s: %w", exchange, symbol, err)
	}
	return info, nil
}
