package usecase

import (
	"context"

	"github.com/0x556c79/deltabadger/internal/domain/models"
	drepo "github.com/0x556c79/deltabadger/internal/domain/repository"
	mid "github.com/0x556c79/deltabadger/internal/middleware"
)

// TickerWriter feeds stream updates into the ticker registry. It doubles as
// the pipeline's downstream sink.
type TickerWriter struct {
	registry drepo.TickerRegistry
}

func NewTickerWriter(registry drepo.TickerRegistry) *TickerWriter {
	return &TickerWriter{registry: registry}
}

func (w *TickerWriter) Process(ctx context.Context, t *models.Ticker) error {
	return w.registry.SetLastPrice(ctx, t.Exchange, t.Symbol, t.LastPrice)
}

var _ mid.Sink = (*TickerWriter)(nil)

// TickerCollector collects price updates from the market data stream and
// pushes them through the pipeline into the registry.
type TickerCollector struct {
	stream  drepo.TickerStream
	writer  *TickerWriter
	metrics drepo.Metrics
	pipe    *mid.TickerPipeline
}

// NewTickerCollector creates a new TickerCollector instance.
func NewTickerCollector(stream drepo.TickerStream, writer *TickerWriter, metrics drepo.Metrics, pipe *mid.TickerPipeline) *TickerCollector {
	return &TickerCollector{stream: stream, writer: writer, metrics: metrics, pipe: pipe}
}

// IsConnected returns true if the market data stream is connected.
func (c *TickerCollector) IsConnected() bool {
	return c.stream.IsConnected()
}

func (c *TickerCollector) Start(ctx context.Context) error {
	if err := c.stream.Connect(ctx); err != nil {
		return err
	}
	if c.pipe != nil {
		c.pipe.Start(ctx)
	}
	tickCh, errCh := c.stream.Read(ctx)
	go c.consume(ctx, tickCh, errCh)
	return nil
}

func (c *TickerCollector) consume(ctx context.Context, tickCh <-chan *models.Ticker, errCh <-chan error) {
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				c.metrics.RecordError("stream")
				// Reconnect failures surface as read errors on the fresh
				// channels, so the retry cycles with the reconnect delay.
				_ = c.stream.Reconnect(ctx)
				tickCh, errCh = c.stream.Read(ctx)
			}
		case t, ok := <-tickCh:
			if !ok {
				tickCh = nil
				continue
			}
			if c.pipe != nil {
				_ = c.pipe.Process(ctx, t)
			} else {
				_ = c.writer.Process(ctx, t)
			}
		}
	}
}

func (c *TickerCollector) Stop() error { return c.stream.Close() }

// Shutdown stops the pipeline and closes the stream.
func (c *TickerCollector) Shutdown(ctx context.Context) error {
	if c.pipe != nil {
		c.pipe.Stop()
	}
	return c.stream.Close()
}
