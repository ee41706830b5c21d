package kafka

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"
)

// MessageHandler processes messages of one topic.
type MessageHandler interface {
	Topic() string
	Handle(context.Context, []byte) error
}

// ConsumerConfig holds consumer settings.
type ConsumerConfig struct {
	Brokers     []string
	GroupID     string
	WorkerCount int
	BufferSize  int
	RetryMax    int
	BackoffMin  time.Duration
	BackoffMax  time.Duration
	DLQTopic    string
	MinBytes    int
	MaxBytes    int
}

// ConsumerOption configures the consumer.
type ConsumerOption func(*ConsumerConfig)

// WithConsumerBrokers sets the Kafka brokers.
func WithConsumerBrokers(brokers []string) ConsumerOption {
	return func(c *ConsumerConfig) { c.Brokers = brokers }
}

// WithConsumerGroupID sets the consumer group.
func WithConsumerGroupID(groupID string) ConsumerOption {
	return func(c *ConsumerConfig) { c.GroupID = groupID }
}

// WithConsumerWorkers sets the worker pool size.
func WithConsumerWorkers(count int) ConsumerOption {
	return func(c *ConsumerConfig) { c.WorkerCount = count }
}

// WithConsumerBufferSize sets the dispatch channel capacity.
func WithConsumerBufferSize(n int) ConsumerOption {
	return func(c *ConsumerConfig) {
		if n > 0 {
			c.BufferSize = n
		}
	}
}

// WithConsumerRetry bounds handler retries and their backoff range.
func WithConsumerRetry(max int, backoffMin, backoffMax time.Duration) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.RetryMax = max
		c.BackoffMin = backoffMin
		c.BackoffMax = backoffMax
	}
}

// WithConsumerDLQ sets the dead letter topic. Messages that exhaust their
// retries are parked there and their offset is committed, so one poison
// message cannot wedge the partition.
func WithConsumerDLQ(topic string) ConsumerOption {
	return func(c *ConsumerConfig) { c.DLQTopic = topic }
}

// WithConsumerFetch sets reader fetch sizes.
func WithConsumerFetch(minBytes, maxBytes int) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.MinBytes = minBytes
		c.MaxBytes = maxBytes
	}
}

type inboundMessage struct {
	topic string
	data  []byte
	km    kafka.Message
}

// Consumer reads registered topics and feeds a worker pool. Handling is
// serialized per partition, so messages keyed by bot ID are processed in
// publish order even with several workers.
type Consumer struct {
	cfg      *ConsumerConfig
	readers  map[string]*kafka.Reader
	handlers map[string]MessageHandler
	msgCh    chan *inboundMessage
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	dlq      *kafka.Writer
	hook     ConsumerHook

	mu        sync.Mutex
	partLocks map[string]map[int]*sync.Mutex
}

// NewConsumer creates a Kafka consumer.
func NewConsumer(opts ...ConsumerOption) (*Consumer, error) {
	cfg := &ConsumerConfig{
		GroupID:     "default",
		WorkerCount: 1,
		BufferSize:  10,
		RetryMax:    3,
		BackoffMin:  50 * time.Millisecond,
		BackoffMax:  2 * time.Second,
		MinBytes:    10e3,
		MaxBytes:    10e6,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("brokers are required")
	}

	c := &Consumer{
		cfg:       cfg,
		readers:   make(map[string]*kafka.Reader),
		handlers:  make(map[string]MessageHandler),
		msgCh:     make(chan *inboundMessage, cfg.BufferSize),
		stopCh:    make(chan struct{}),
		hook:      NoopHook{},
		partLocks: make(map[string]map[int]*sync.Mutex),
	}
	if cfg.DLQTopic != "" {
		c.dlq = &kafka.Writer{Addr: kafka.TCP(cfg.Brokers...), Balancer: &kafka.LeastBytes{}}
	}

	consumerMetrics.init()
	return c, nil
}

// RegisterHandler attaches a handler for its topic. Must be called before
// Start.
func (c *Consumer) RegisterHandler(handler MessageHandler) {
	topic := handler.Topic()
	if _, ok := c.handlers[topic]; ok {
		log.Printf("warn: handler already registered for topic %s", topic)
		return
	}
	c.handlers[topic] = handler
}

// WithConsumerHook installs lifecycle hooks around message handling.
func (c *Consumer) WithConsumerHook(h ConsumerHook) {
	if h != nil {
		c.hook = h
	}
}

// Start spawns the reader loops and the worker pool.
func (c *Consumer) Start() error {
	for topic := range c.handlers {
		c.readers[topic] = kafka.NewReader(kafka.ReaderConfig{
			Brokers:  c.cfg.Brokers,
			Topic:    topic,
			GroupID:  c.cfg.GroupID,
			MinBytes: c.cfg.MinBytes,
			MaxBytes: c.cfg.MaxBytes,
		})
		log.Printf("kafka consumer: subscribed topic=%s", topic)
	}

	for i := 0; i < c.cfg.WorkerCount; i++ {
		c.wg.Add(1)
		go c.worker()
	}

	for topic, reader := range c.readers {
		c.wg.Add(1)
		go c.readLoop(topic, reader)
	}

	log.Printf("kafka consumer: started workers=%d topics=%d", c.cfg.WorkerCount, len(c.readers))
	return nil
}

// Stop drains the consumer. It is safe to call more than once.
func (c *Consumer) Stop(ctx context.Context) error {
	var stopErr error
	c.stopOnce.Do(func() {
		log.Println("kafka consumer: stopping...")
		close(c.stopCh)
		close(c.msgCh)

		done := make(chan struct{})
		go func() {
			c.wg.Wait()
			close(done)
		}()
		select {
		case <-ctx.Done():
			stopErr = fmt.Errorf("waiting for consumer stop: %w", ctx.Err())
		case <-done:
		}

		for topic, reader := range c.readers {
			if err := reader.Close(); err != nil {
				log.Printf("close reader topic=%s: %v", topic, err)
			}
		}
		if c.dlq != nil {
			if err := c.dlq.Close(); err != nil {
				log.Printf("close dlq writer: %v", err)
			}
		}
	})
	return stopErr
}

func (c *Consumer) readLoop(topic string, reader *kafka.Reader) {
	defer c.wg.Done()

	for {
		select {
		case <-c.stopCh:
			return
		default:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		km, err := reader.ReadMessage(ctx)
		cancel()
		if err != nil {
			if !errors.Is(err, context.DeadlineExceeded) {
				log.Printf("read topic=%s: %v", topic, err)
			}
			continue
		}

		if !c.enqueue(&inboundMessage{topic: topic, data: km.Value, km: km}) {
			return
		}
	}
}

// enqueue hands a message to the worker pool. When the channel is nearly
// full the loop backs off instead of dropping. Returns false on shutdown.
func (c *Consumer) enqueue(msg *inboundMessage) bool {
	for {
		select {
		case c.msgCh <- msg:
			consumerMetrics.setQueue(msg.topic, len(c.msgCh), cap(c.msgCh))
			return true
		case <-c.stopCh:
			return false
		default:
			fullness := float64(len(c.msgCh)) / float64(cap(c.msgCh))
			consumerMetrics.setQueue(msg.topic, len(c.msgCh), cap(c.msgCh))
			if fullness > 0.8 {
				time.Sleep(10 * time.Millisecond)
			} else {
				runtime.Gosched()
			}
		}
	}
}

func (c *Consumer) worker() {
	defer c.wg.Done()

	for msg := range c.msgCh {
		handler, ok := c.handlers[msg.topic]
		if !ok {
			continue
		}
		c.handle(handler, msg)
	}
}

// handle runs one message through hooks, the handler and its retries.
// Failures that exhaust the retry budget go to the DLQ, and the offset is
// committed either on success or after the DLQ write.
func (c *Consumer) handle(handler MessageHandler, msg *inboundMessage) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("panic handling topic=%s: %v", msg.topic, r)
		}
	}()

	pl := c.partitionLock(msg.topic, msg.km.Partition)
	pl.Lock()
	defer pl.Unlock()

	start := time.Now()
	err := c.deliver(handler, msg)
	if err != nil {
		c.hook.OnError(context.Background(), msg.topic, msg.km, msg.data, err)
		log.Printf("handle topic=%s failed: %v", msg.topic, err)
		if !c.parkInDLQ(msg) {
			// No DLQ: leave the offset uncommitted and let the group
			// redeliver after restart.
			consumerMetrics.observeHandle(msg.topic, time.Since(start))
			return
		}
	}

	if reader := c.readers[msg.topic]; reader != nil {
		c.commitWithRetry(reader, msg.km, 3)
	}
	consumerMetrics.observeHandle(msg.topic, time.Since(start))
}

// deliver invokes the handler with hook wrapping and bounded retries.
func (c *Consumer) deliver(handler MessageHandler, msg *inboundMessage) error {
	var err error
	for attempt := 1; ; attempt++ {
		hctx, hkm, hdata, berr := c.hook.BeforeHandle(context.Background(), msg.topic, msg.km, msg.data)
		if berr != nil {
			return berr
		}

		err = handler.Handle(hctx, hdata)
		c.hook.AfterHandle(hctx, msg.topic, hkm, hdata, err)
		if err == nil || attempt > c.cfg.RetryMax {
			return err
		}

		c.hook.OnError(hctx, msg.topic, hkm, hdata, err)
		select {
		case <-time.After(backoffWithJitter(c.cfg.BackoffMin, c.cfg.BackoffMax, attempt)):
		case <-c.stopCh:
			return err
		}
	}
}

// parkInDLQ writes the message to the dead letter topic. Returns true when
// the offset can be committed.
func (c *Consumer) parkInDLQ(msg *inboundMessage) bool {
	if c.dlq == nil {
		return false
	}
	err := c.dlq.WriteMessages(context.Background(), kafka.Message{
		Topic:   c.cfg.DLQTopic,
		Value:   msg.data,
		Time:    time.Now(),
		Headers: []kafka.Header{{Key: "source_topic", Value: []byte(msg.topic)}},
	})
	if err != nil {
		log.Printf("write dlq topic=%s: %v", c.cfg.DLQTopic, err)
		return false
	}
	return true
}

func (c *Consumer) commitWithRetry(reader *kafka.Reader, km kafka.Message, max int) {
	var err error
	for attempt := 1; attempt <= max; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err = reader.CommitMessages(ctx, km)
		cancel()
		if err == nil {
			return
		}
		time.Sleep(backoffWithJitter(50*time.Millisecond, 500*time.Millisecond, attempt))
	}
	log.Printf("commit after %d attempts: %v", max, err)
}

func (c *Consumer) partitionLock(topic string, partition int) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()

	m, ok := c.partLocks[topic]
	if !ok {
		m = make(map[int]*sync.Mutex)
		c.partLocks[topic] = m
	}
	l, ok := m[partition]
	if !ok {
		l = &sync.Mutex{}
		m[partition] = l
	}
	return l
}

func backoffWithJitter(min, max time.Duration, attempt int) time.Duration {
	if min <= 0 {
		min = 50 * time.Millisecond
	}
	if max < min {
		max = min
	}
	d := min * time.Duration(1<<uint(attempt-1))
	if d > max {
		d = max
	}
	jitter := time.Duration(rand.Int63n(int64(d) / 2))
	return d - jitter
}

var consumerMetrics = &consumerMetricSet{}

type consumerMetricSet struct {
	once     sync.Once
	depth    *prometheus.GaugeVec
	fullness *prometheus.GaugeVec
	latency  *prometheus.HistogramVec
}

func (m *consumerMetricSet) init() {
	m.once.Do(func() {
		m.depth = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "deltabadger_kafka_consumer_queue_depth",
				Help: "Messages waiting in the consumer queue",
			},
			[]string{"topic"},
		)
		m.fullness = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "deltabadger_kafka_consumer_queue_fullness",
				Help: "Queue utilization ratio",
			},
			[]string{"topic"},
		)
		m.latency = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "deltabadger_kafka_consumer_handle_seconds",
				Help: "Handling time per message",
			},
			[]string{"topic"},
		)
	})
}

func (m *consumerMetricSet) setQueue(topic string, depth, capacity int) {
	if m.depth == nil {
		return
	}
	m.depth.WithLabelValues(topic).Set(float64(depth))
	m.fullness.WithLabelValues(topic).Set(float64(depth) / float64(capacity))
}

func (m *consumerMetricSet) observeHandle(topic string, dur time.Duration) {
	if m.latency == nil {
		return
	}
	m.latency.WithLabelValues(topic).Observe(dur.Seconds())
}
