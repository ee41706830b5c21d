package repository

import (
	"context"
	"time"

	"github.com/0x556c79/deltabadger/internal/domain/repository"
	"github.com/0x556c79/deltabadger/pkg/queue"
)

// RedisTaskQueue adapts the delayed queue to the TaskQueue capability.
type RedisTaskQueue struct {
	queue *queue.DelayedQueue
}

// NewRedisTaskQueue creates a task queue backed by the delayed queue.
func NewRedisTaskQueue(q *queue.DelayedQueue) repository.TaskQueue {
	return &RedisTaskQueue{queue: q}
}

func (t *RedisTaskQueue) Enqueue(ctx context.Context, kind, key string, runAt time.Time) error {
	return t.queue.Schedule(ctx, kind, key, runAt)
}

func (t *RedisTaskQueue) CancelAll(ctx context.Context, kind, key string) error {
	return t.queue.Cancel(ctx, kind, key)
}

func (t *RedisTaskQueue) IsPending(ctx context.Context, kind, key string) (bool, error) {
	return t.queue.IsScheduled(ctx, kind, key)
}

func (t *RedisTaskQueue) NextRunAt(ctx context.Context, kind, key string) (*time.Time, error) {
	return t.queue.ScheduledAt(ctx, kind, key)
}
