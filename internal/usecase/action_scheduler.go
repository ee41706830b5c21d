package usecase

import (
	"context"
	"time"

	drepo "github.com/0x556c79/deltabadger/internal/domain/repository"
	"github.com/0x556c79/deltabadger/pkg/queue"
)

// TaskKindBotAction is the task kind for due bot actions. The task key is
// the bot ID, which makes at most one outstanding action task per bot a
// property of the queue itself.
const TaskKindBotAction = "bot_action"

// ActionScheduler owns the bot action tasks on the delayed queue.
type ActionScheduler struct {
	queue drepo.TaskQueue
}

func NewActionScheduler(q drepo.TaskQueue) *ActionScheduler {
	return &ActionScheduler{queue: q}
}

// ScheduleAction enqueues the bot's next action. Scheduling while a task is
// outstanding moves that task instead of adding a second one.
func (s *ActionScheduler) ScheduleAction(ctx context.Context, botID string, runAt time.Time) error {
	return s.queue.Enqueue(ctx, TaskKindBotAction, botID, runAt)
}

// CancelActions removes the bot's outstanding action task, if any.
func (s *ActionScheduler) CancelActions(ctx context.Context, botID string) error {
	return s.queue.CancelAll(ctx, TaskKindBotAction, botID)
}

// IsActionPending reports whether an action task is outstanding for the bot.
func (s *ActionScheduler) IsActionPending(ctx context.Context, botID string) (bool, error) {
	return s.queue.IsPending(ctx, TaskKindBotAction, botID)
}

// NextActionJobAt returns when the outstanding action task will run, nil
// when none is scheduled. Derived from the queue, never stored on the bot.
func (s *ActionScheduler) NextActionJobAt(ctx context.Context, botID string) (*time.Time, error) {
	return s.queue.NextRunAt(ctx, TaskKindBotAction, botID)
}

// ActionJob adapts the runner to the delayed queue.
type ActionJob struct {
	runner *BotRunner
}

func NewActionJob(runner *BotRunner) *ActionJob {
	return &ActionJob{runner: runner}
}

func (j *ActionJob) Name() string { return "bot-action-runner" }

func (j *ActionJob) Kind() string { return TaskKindBotAction }

func (j *ActionJob) Handle(ctx context.Context, key string) error {
	return j.runner.RunDueAction(ctx, key)
}

var _ queue.Job = (*ActionJob)(nil)
