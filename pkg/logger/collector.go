package logger

import (
	"context"
	"fmt"
	"hash/fnv"
	"os"
	"sync"
	"time"
)

// Publisher ships a flushed batch of aggregated log entries.
type Publisher interface {
	PublishLogs(ctx context.Context, topic string, entries []AggregatedLogEntry) error
}

// CollectionConfig controls aggregation and delivery.
type CollectionConfig struct {
	TimeInterval   time.Duration // flush interval
	CountThreshold int           // distinct entries that force an early flush
	Topic          string
	Publisher      Publisher
}

// AggregatedLogEntry is one deduplicated log line. Repeats bump Count and
// LastSeen; Fields keep the values of the first occurrence.
type AggregatedLogEntry struct {
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields"`
	Caller    string                 `json:"caller"`
	Count     int                    `json:"count"`
	FirstSeen time.Time              `json:"first_seen"`
	LastSeen  time.Time              `json:"last_seen"`
}

const publishTimeout = 30 * time.Second

// LogCollector deduplicates error logs by (level, message, caller) and
// ships them in batches, so a failure loop produces one counted entry
// instead of a flood.
type LogCollector struct {
	cfg    *CollectionConfig
	mu     sync.Mutex
	byKey  map[uint64]*AggregatedLogEntry
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewLogCollector starts a collector with a periodic flush loop.
func NewLogCollector(cfg *CollectionConfig) *LogCollector {
	if cfg.TimeInterval <= 0 {
		cfg.TimeInterval = 30 * time.Second
	}
	if cfg.CountThreshold <= 0 {
		cfg.CountThreshold = 100
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &LogCollector{
		cfg:    cfg,
		byKey:  make(map[uint64]*AggregatedLogEntry),
		ctx:    ctx,
		cancel: cancel,
	}
	c.wg.Add(1)
	go c.flushLoop()
	return c
}

// AddLog records one occurrence. Crossing the threshold flushes inline.
func (c *LogCollector) AddLog(level, message string, fields map[string]interface{}, caller string) {
	now := time.Now()
	key := entryKey(level, message, caller)

	c.mu.Lock()
	if e, ok := c.byKey[key]; ok {
		e.Count++
		e.LastSeen = now
	} else {
		c.byKey[key] = &AggregatedLogEntry{
			Level:     level,
			Message:   message,
			Fields:    fields,
			Caller:    caller,
			Count:     1,
			FirstSeen: now,
			LastSeen:  now,
		}
	}

	var batch []AggregatedLogEntry
	if len(c.byKey) >= c.cfg.CountThreshold {
		batch = c.drainLocked()
	}
	c.mu.Unlock()

	if batch != nil {
		c.publish(batch)
	}
}

// Close flushes whatever is pending and waits for deliveries to finish.
func (c *LogCollector) Close() {
	c.cancel()
	c.wg.Wait()
}

func (c *LogCollector) flushLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.TimeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.flush()
		case <-c.ctx.Done():
			c.flush()
			return
		}
	}
}

func (c *LogCollector) flush() {
	c.mu.Lock()
	batch := c.drainLocked()
	c.mu.Unlock()

	if batch != nil {
		c.publish(batch)
	}
}

// drainLocked empties the aggregation map. Caller holds mu.
func (c *LogCollector) drainLocked() []AggregatedLogEntry {
	if len(c.byKey) == 0 {
		return nil
	}
	batch := make([]AggregatedLogEntry, 0, len(c.byKey))
	for _, e := range c.byKey {
		batch = append(batch, *e)
	}
	c.byKey = make(map[uint64]*AggregatedLogEntry)
	return batch
}

// publish ships a batch without blocking the caller. Close waits for
// in-flight deliveries through the wait group.
func (c *LogCollector) publish(batch []AggregatedLogEntry) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := c.cfg.Publisher.PublishLogs(ctx, c.cfg.Topic, batch); err != nil {
			fmt.Fprintf(os.Stderr, "log collector publish: %v\n", err)
		}
	}()
}

func entryKey(level, message, caller string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(level))
	h.Write([]byte{0})
	h.Write([]byte(message))
	h.Write([]byte{0})
	h.Write([]byte(caller))
	return h.Sum64()
}
