package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/0x556c79/deltabadger/pkg/logger"

	"github.com/redis/go-redis/v9"
)

// QueueMode defines the operation mode of the queue.
type QueueMode int

const (
	ModeProducerConsumer QueueMode = iota
	ModeProducerOnly
	ModeConsumerOnly
)

// DelayedQueue is a Redis-backed delayed task queue. Tasks live in a sorted
// set scored by their run-at time; due tasks are claimed by removal, so each
// task is delivered to exactly one worker. A task lost between claim and
// completion is not redelivered by the queue itself, callers are expected to
// re-schedule through their own repair path.
type DelayedQueue struct {
	logger    *logger.Logger
	config    *Config
	client    *redis.Client
	jobs      map[string]Job
	taskCh    chan Task
	wg        sync.WaitGroup
	mu        sync.RWMutex
	isRunning bool
	stopCh    chan struct{}
	mode      QueueMode
	ctx       context.Context
	cancel    context.CancelFunc
	keyPrefix string
}

// DelayedQueueOption configures DelayedQueue.
type DelayedQueueOption func(*DelayedQueue)

// WithKeyPrefix sets custom key prefix.
func WithKeyPrefix(prefix string) DelayedQueueOption {
	return func(q *DelayedQueue) {
		q.keyPrefix = prefix
	}
}

// NewDelayedQueue creates a new Redis delayed queue.
func NewDelayedQueue(lgr *logger.Logger, config *Config, client *redis.Client, mode QueueMode, opts ...DelayedQueueOption) *DelayedQueue {
	if config == nil {
		config = &Config{}
	}
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 64
	}
	if config.PollInterval <= 0 {
		config.PollInterval = time.Second
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = 10 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())

	q := &DelayedQueue{
		logger:    lgr,
		config:    config,
		client:    client,
		jobs:      make(map[string]Job),
		taskCh:    make(chan Task, config.QueueSize),
		stopCh:    make(chan struct{}),
		mode:      mode,
		ctx:       ctx,
		cancel:    cancel,
		keyPrefix: "deltabadger:tasks",
	}

	for _, opt := range opts {
		opt(q)
	}

	return q
}

// NewScheduler creates a producer-only queue for processes that only
// schedule tasks.
func NewScheduler(lgr *logger.Logger, client *redis.Client, opts ...DelayedQueueOption) *DelayedQueue {
	q := NewDelayedQueue(lgr, &Config{}, client, ModeProducerOnly, opts...)
	if err := q.Start(); err != nil {
		lgr.Error("redis scheduler start failed", logger.Error(err))
	}
	return q
}

// RegisterJobs registers multiple jobs.
func (q *DelayedQueue) RegisterJobs(jobs []Job) {
	for _, job := range jobs {
		q.RegisterJob(job)
	}
}

// RegisterJob registers a single job.
func (q *DelayedQueue) RegisterJob(job Job) {
	if q.mode == ModeProducerOnly {
		q.logger.Warn("job registration ignored in producer-only mode",
			logger.String("job", job.Name()))
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.jobs[job.Kind()]; exists {
		q.logger.Warn("job already registered", logger.String("job", job.Name()))
		return
	}

	q.jobs[job.Kind()] = job
	q.logger.Info("job registered",
		logger.String("job", job.Name()),
		logger.String("kind", job.Kind()))
}

// Start starts the queue.
func (q *DelayedQueue) Start() error {
	q.mu.Lock()
	if q.isRunning {
		q.mu.Unlock()
		return fmt.Errorf("queue already running")
	}
	q.isRunning = true
	q.mu.Unlock()

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := q.client.Ping(ctx).Err(); err != nil {
		q.isRunning = false
		return fmt.Errorf("redis ping: %w", err)
	}

	if q.mode != ModeProducerOnly {
		for i := 0; i < q.config.Workers; i++ {
			q.wg.Add(1)
			go q.worker(i)
		}
		q.wg.Add(1)
		go q.dispatcher()
		q.logger.Info("delayed queue started",
			logger.Int("workers", q.config.Workers),
			logger.String("addr", q.client.Options().Addr),
			logger.String("mode", q.getModeString()))
	} else {
		q.logger.Info("delayed queue scheduler started",
			logger.String("addr", q.client.Options().Addr))
	}

	return nil
}

// Stop gracefully stops the queue.
func (q *DelayedQueue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if !q.isRunning {
		q.mu.Unlock()
		return nil
	}
	q.isRunning = false
	q.logger.Info("stopping delayed queue...")
	q.cancel()

	if q.mode != ModeProducerOnly {
		close(q.stopCh)
	}
	q.mu.Unlock()

	doneCh := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(doneCh)
	}()

	select {
	case <-ctx.Done():
		q.logger.Warn("timeout waiting for queue workers", logger.Error(ctx.Err()))
		return fmt.Errorf("timeout: %w", ctx.Err())
	case <-doneCh:
		q.logger.Info("delayed queue stopped gracefully")
		return nil
	}
}

// Schedule adds or moves the task identified by (kind, key) to run at runAt.
func (q *DelayedQueue) Schedule(ctx context.Context, kind, key string, runAt time.Time) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if !q.isRunning {
		return fmt.Errorf("queue not running")
	}

	if q.mode != ModeProducerOnly {
		if _, exists := q.jobs[kind]; !exists {
			return fmt.Errorf("no job registered for kind: %s", kind)
		}
	}

	err := q.client.ZAdd(ctx, q.getScheduledKey(), redis.Z{
		Score:  float64(runAt.Unix()),
		Member: memberOf(kind, key),
	}).Err()
	if err != nil {
		return fmt.Errorf("zadd scheduled: %w", err)
	}

	return nil
}

// Cancel removes the task identified by (kind, key), pending or not.
func (q *DelayedQueue) Cancel(ctx context.Context, kind, key string) error {
	member := memberOf(kind, key)

	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.getScheduledKey(), member)
	pipe.HDel(ctx, q.getAttemptsKey(), member)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cancel task: %w", err)
	}
	return nil
}

// IsScheduled reports whether a task for (kind, key) is outstanding.
func (q *DelayedQueue) IsScheduled(ctx context.Context, kind, key string) (bool, error) {
	_, err := q.client.ZScore(ctx, q.getScheduledKey(), memberOf(kind, key)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("zscore: %w", err)
	}
	return true, nil
}

// ScheduledAt returns the run-at time of the outstanding task for
// (kind, key), or nil when none is scheduled.
func (q *DelayedQueue) ScheduledAt(ctx context.Context, kind, key string) (*time.Time, error) {
	score, err := q.client.ZScore(ctx, q.getScheduledKey(), memberOf(kind, key)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("zscore: %w", err)
	}
	at := time.Unix(int64(score), 0).UTC()
	return &at, nil
}

func (q *DelayedQueue) dispatcher() {
	defer q.wg.Done()
	q.logger.Info("dispatcher started",
		logger.String("poll_interval", q.config.PollInterval.String()))

	ticker := time.NewTicker(q.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-q.stopCh:
			q.logger.Info("dispatcher stopping")
			return
		case <-q.ctx.Done():
			q.logger.Info("dispatcher cancelled")
			return
		case <-ticker.C:
			q.dispatchDue()
		}
	}
}

func (q *DelayedQueue) dispatchDue() {
	now := float64(time.Now().Unix())

	result, err := q.client.ZRangeByScoreWithScores(q.ctx, q.getScheduledKey(), &redis.ZRangeBy{
		Min: "0",
		Max: strconv.FormatFloat(now, 'f', 0, 64),
	}).Result()

	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		q.logger.Error("fetch due tasks", logger.Error(err))
		return
	}

	for _, z := range result {
		select {
		case <-q.ctx.Done():
			return
		default:
		}

		member := z.Member.(string)

		// Claim by removal: only one dispatcher wins the task.
		removed, err := q.client.ZRem(q.ctx, q.getScheduledKey(), member).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			q.logger.Error("claim task", logger.Error(err))
			continue
		}
		if removed == 0 {
			continue
		}

		kind, key, err := parseMember(member)
		if err != nil {
			q.logger.Error("drop malformed task", logger.Error(err))
			continue
		}

		task := Task{Kind: kind, Key: key, RunAt: time.Unix(int64(z.Score), 0).UTC()}
		select {
		case q.taskCh <- task:
		case <-q.ctx.Done():
			return
		}
	}
}

func (q *DelayedQueue) worker(id int) {
	defer q.wg.Done()
	q.logger.Info("queue worker started", logger.Int("worker_id", id))

	for {
		select {
		case <-q.stopCh:
			q.logger.Info("queue worker stopping", logger.Int("worker_id", id))
			return
		case <-q.ctx.Done():
			q.logger.Info("queue worker cancelled", logger.Int("worker_id", id))
			return
		case task := <-q.taskCh:
			q.processTask(task)
		}
	}
}

func (q *DelayedQueue) processTask(task Task) {
	q.mu.RLock()
	job, exists := q.jobs[task.Kind]
	q.mu.RUnlock()
	if !exists {
		q.logger.Error("no job found",
			logger.String("kind", task.Kind),
			logger.String("key", task.Key))
		return
	}

	start := time.Now()
	err := job.Handle(q.ctx, task.Key)
	elapsed := time.Since(start)

	if err != nil {
		if errors.Is(err, context.Canceled) {
			q.logger.Warn("task cancelled",
				logger.String("key", task.Key),
				logger.String("job", job.Name()),
				logger.Int64("elapsed_ms", elapsed.Milliseconds()))
			return
		}
		q.handleProcessingError(task, job, err)
		return
	}

	if err := q.client.HDel(q.ctx, q.getAttemptsKey(), memberOf(task.Kind, task.Key)).Err(); err != nil && !errors.Is(err, context.Canceled) {
		q.logger.Error("clear attempts", logger.Error(err))
	}
}

func (q *DelayedQueue) handleProcessingError(task Task, job Job, err error) {
	member := memberOf(task.Kind, task.Key)

	attempts, herr := q.client.HIncrBy(q.ctx, q.getAttemptsKey(), member, 1).Result()
	if herr != nil {
		if errors.Is(herr, context.Canceled) {
			return
		}
		q.logger.Error("count attempt", logger.Error(herr))
		attempts = int64(q.config.RetryLimit) + 1
	}

	q.logger.Error("task processing error",
		logger.String("key", task.Key),
		logger.String("job", job.Name()),
		logger.Int("attempt", int(attempts)),
		logger.Error(err))

	if attempts <= int64(q.config.RetryLimit) {
		retryTime := time.Now().Add(q.config.RetryDelay)
		q.scheduleRetry(task, retryTime)
		q.logger.Info("scheduled retry",
			logger.String("key", task.Key),
			logger.String("job", job.Name()),
			logger.Int("attempt", int(attempts)),
			logger.String("retry_at", retryTime.Format(time.RFC3339)))
	} else {
		q.logger.Error("max retries reached",
			logger.String("key", task.Key),
			logger.String("job", job.Name()))
		q.moveToDeadLetterQueue(task, err)
	}
}

func (q *DelayedQueue) scheduleRetry(task Task, retryTime time.Time) {
	err := q.client.ZAdd(context.Background(), q.getScheduledKey(), redis.Z{
		Score:  float64(retryTime.Unix()),
		Member: memberOf(task.Kind, task.Key),
	}).Err()

	if err != nil {
		q.logger.Error("zadd retry", logger.Error(err))
	}
}

func (q *DelayedQueue) moveToDeadLetterQueue(task Task, cause error) {
	entry, err := json.Marshal(map[string]interface{}{
		"kind":      task.Kind,
		"key":       task.Key,
		"run_at":    task.RunAt.Format(time.RFC3339),
		"failed_at": time.Now().UTC().Format(time.RFC3339),
		"error":     cause.Error(),
	})
	if err != nil {
		q.logger.Error("marshal dlq", logger.Error(err))
		return
	}

	pipe := q.client.TxPipeline()
	pipe.LPush(context.Background(), q.getDeadLetterKey(), entry)
	pipe.HDel(context.Background(), q.getAttemptsKey(), memberOf(task.Kind, task.Key))

	if _, err := pipe.Exec(context.Background()); err != nil {
		q.logger.Error("lpush dlq", logger.Error(err))
	}
}

func (q *DelayedQueue) getModeString() string {
	switch q.mode {
	case ModeProducerOnly:
		return "producer-only"
	case ModeConsumerOnly:
		return "consumer-only"
	default:
		return "producer-consumer"
	}
}

func (q *DelayedQueue) getScheduledKey() string {
	return fmt.Sprintf("%s:scheduled", q.keyPrefix)
}

func (q *DelayedQueue) getAttemptsKey() string {
	return fmt.Sprintf("%s:attempts", q.keyPrefix)
}

func (q *DelayedQueue) getDeadLetterKey() string {
	return fmt.Sprintf("%s:dlq", q.keyPrefix)
}
