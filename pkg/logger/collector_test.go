package logger

import (
	"context"
	"sync"
	"testing"
	"time"
)

type capturingPublisher struct {
	mu      sync.Mutex
	batches [][]AggregatedLogEntry
}

func (p *capturingPublisher) PublishLogs(ctx context.Context, topic string, entries []AggregatedLogEntry) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.batches = append(p.batches, entries)
	return nil
}

func (p *capturingPublisher) all() []AggregatedLogEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []AggregatedLogEntry
	for _, b := range p.batches {
		out = append(out, b...)
	}
	return out
}

func newTestCollector(pub Publisher, threshold int) *LogCollector {
	return NewLogCollector(&CollectionConfig{
		TimeInterval:   time.Hour, // flush only on threshold or Close
		CountThreshold: threshold,
		Topic:          "error-logs",
		Publisher:      pub,
	})
}

func TestCollectorAggregatesRepeats(t *testing.T) {
	pub := &capturingPublisher{}
	c := newTestCollector(pub, 100)

	for i := 0; i < 3; i++ {
		c.AddLog("error", "order submit failed", map[string]interface{}{"bot_id": "bot-1"}, "executor.go:42")
	}
	c.AddLog("error", "redis timeout", nil, "repo.go:10")
	c.Close()

	entries := pub.all()
	if len(entries) != 2 {
		t.Fatalf("got %d entries want 2", len(entries))
	}

	byMsg := make(map[string]AggregatedLogEntry)
	for _, e := range entries {
		byMsg[e.Message] = e
	}
	if got := byMsg["order submit failed"].Count; got != 3 {
		t.Fatalf("repeat count %d want 3", got)
	}
	if got := byMsg["redis timeout"].Count; got != 1 {
		t.Fatalf("single count %d want 1", got)
	}
}

func TestCollectorFlushesOnThreshold(t *testing.T) {
	pub := &capturingPublisher{}
	c := newTestCollector(pub, 2)
	defer c.Close()

	c.AddLog("error", "first", nil, "a.go:1")
	c.AddLog("error", "second", nil, "b.go:2")

	deadline := time.Now().Add(time.Second)
	for {
		if len(pub.all()) == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("threshold flush did not happen, entries: %d", len(pub.all()))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestCollectorSeparatesCallers(t *testing.T) {
	pub := &capturingPublisher{}
	c := newTestCollector(pub, 100)

	c.AddLog("error", "same message", nil, "a.go:1")
	c.AddLog("error", "same message", nil, "b.go:2")
	c.Close()

	if got := len(pub.all()); got != 2 {
		t.Fatalf("got %d entries want 2, one per caller", got)
	}
}

func TestCollectorCloseWithNothingPending(t *testing.T) {
	pub := &capturingPublisher{}
	c := newTestCollector(pub, 100)
	c.Close()

	if got := len(pub.batches); got != 0 {
		t.Fatalf("got %d batches want none", got)
	}
}
