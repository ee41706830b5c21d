package middleware

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/0x556c79/deltabadger/internal/domain/models"
	domrepo "github.com/0x556c79/deltabadger/internal/domain/repository"
)

// Sink is the downstream the pipeline writes accepted updates to.
type Sink interface {
	Process(ctx context.Context, t *models.Ticker) error
}

const (
	defaultRate       = 2 // accepted updates per second per symbol
	defaultSpillLimit = 1000
	flushMinInterval  = 250 * time.Millisecond
	flushMaxInterval  = 8 * time.Second
)

// TickerPipeline sits between the market data stream and the ticker
// registry. It drops malformed updates, rate-limits the rest per symbol and
// holds the newest price per symbol while the registry is unreachable. Only
// the last price matters downstream, so spilled updates overwrite older ones
// for the same pair instead of queueing behind them.
type TickerPipeline struct {
	sink    Sink
	metrics domrepo.Metrics

	rate  int
	gate  acceptGate
	limit int

	mu    sync.Mutex
	spill map[string]*models.Ticker

	done      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
}

type PipelineOption func(*TickerPipeline)

// WithMaxRPS caps accepted updates per second for each symbol.
func WithMaxRPS(n int) PipelineOption {
	return func(p *TickerPipeline) {
		if n > 0 {
			p.rate = n
		}
	}
}

// WithBufferSize caps how many distinct symbols the spill may hold.
func WithBufferSize(n int) PipelineOption {
	return func(p *TickerPipeline) {
		if n > 0 {
			p.limit = n
		}
	}
}

func NewTickerPipeline(sink Sink, metrics domrepo.Metrics, opts ...PipelineOption) *TickerPipeline {
	p := &TickerPipeline{
		sink:    sink,
		metrics: metrics,
		rate:    defaultRate,
		limit:   defaultSpillLimit,
		spill:   make(map[string]*models.Ticker),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.gate.minGap = time.Second / time.Duration(p.rate)
	return p
}

// Start runs the spill flusher. The flush interval doubles while the
// registry keeps failing and snaps back on the first success.
func (p *TickerPipeline) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		go p.flushLoop(ctx)
	})
}

// Stop terminates the flusher. Updates still in the spill are abandoned,
// the stream will deliver fresher prices on the next connect anyway.
func (p *TickerPipeline) Stop() {
	p.stopOnce.Do(func() { close(p.done) })
}

// Process accepts one stream update. Rejected and throttled updates are
// dropped here, a failed registry write parks the update in the spill for
// the flusher to retry.
func (p *TickerPipeline) Process(ctx context.Context, t *models.Ticker) error {
	if err := checkTicker(t); err != nil {
		p.metrics.RecordError("ticker_invalid")
		return err
	}
	now := time.Now()
	if !p.gate.accept(pairKey(t), now) {
		return nil
	}

	if err := p.sink.Process(ctx, t); err != nil {
		p.metrics.RecordError("registry_write")
		p.park(t)
		return fmt.Errorf("write ticker %s: %w", t.Symbol, err)
	}
	p.metrics.RecordLatency("ticker_write", time.Since(now).Seconds())
	return nil
}

// park stores the update for retry, replacing any older one for the pair.
func (p *TickerPipeline) park(t *models.Ticker) {
	key := pairKey(t)
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, held := p.spill[key]; !held && len(p.spill) >= p.limit {
		p.metrics.RecordError("spill_overflow")
		return
	}
	p.spill[key] = t
}

func (p *TickerPipeline) flushLoop(ctx context.Context) {
	interval := flushMinInterval
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ctx.Done():
			return
		case <-timer.C:
			if p.flush(ctx) {
				interval = flushMinInterval
			} else if interval < flushMaxInterval {
				interval *= 2
			}
			timer.Reset(interval)
		}
	}
}

// flush retries every parked update once. Returns false when the registry
// is still rejecting writes, true when the spill is clear or shrinking.
func (p *TickerPipeline) flush(ctx context.Context) bool {
	p.mu.Lock()
	batch := make(map[string]*models.Ticker, len(p.spill))
	for k, t := range p.spill {
		batch[k] = t
	}
	p.mu.Unlock()

	if len(batch) == 0 {
		return true
	}

	wrote := false
	for key, t := range batch {
		if err := p.sink.Process(ctx, t); err != nil {
			p.metrics.RecordError("spill_flush")
			continue
		}
		wrote = true
		p.mu.Lock()
		// A fresher update may have landed while flushing, keep that one.
		if cur, ok := p.spill[key]; ok && cur == t {
			delete(p.spill, key)
		}
		p.mu.Unlock()
	}
	return wrote
}

func checkTicker(t *models.Ticker) error {
	switch {
	case t == nil:
		return fmt.Errorf("nil ticker")
	case t.Symbol == "":
		return fmt.Errorf("ticker without symbol")
	case !t.LastPrice.IsPositive():
		return fmt.Errorf("ticker %s: price %s not positive", t.Symbol, t.LastPrice)
	}
	return nil
}

func pairKey(t *models.Ticker) string {
	return t.Exchange + ":" + t.Symbol
}

// acceptGate throttles per key: an update passes when at least minGap has
// elapsed since the last accepted one for that key.
type acceptGate struct {
	minGap time.Duration

	mu   sync.Mutex
	seen map[string]time.Time
}

func (g *acceptGate) accept(key string, at time.Time) bool {
	if g.minGap <= 0 {
		return true
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.seen == nil {
		g.seen = make(map[string]time.Time)
	}
	if last, ok := g.seen[key]; ok && at.Sub(last) < g.minGap {
		return false
	}
	g.seen[key] = at
	return true
}
