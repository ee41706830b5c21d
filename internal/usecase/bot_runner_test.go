package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/0x556c79/deltabadger/internal/domain/models"
	drepo "github.com/0x556c79/deltabadger/internal/domain/repository"
)

type runnerEnv struct {
	*executorEnv
	queue  *fakeTaskQueue
	runner *BotRunner
}

func newRunnerEnv(t *testing.T, bot *models.Bot) *runnerEnv {
	t.Helper()
	exec := newExecutorEnv(t, bot)
	queue := newFakeTaskQueue()
	runner := NewBotRunner(
		exec.bots,
		NewActionScheduler(queue),
		exec.executor,
		NewPendingCalculator(exec.txs),
		exec.notifier,
		exec.metrics,
		newTestLogger(t),
	)
	return &runnerEnv{executorEnv: exec, queue: queue, runner: runner}
}

func (env *runnerEnv) at(ref time.Time) {
	env.executor.now = func() time.Time { return ref }
	env.runner.now = func() time.Time { return ref }
}

func (env *runnerEnv) nextRunAt(t *testing.T, botID string) *time.Time {
	t.Helper()
	at, err := env.queue.NextRunAt(context.Background(), TaskKindBotAction, botID)
	if err != nil {
		t.Fatalf("next run at: %v", err)
	}
	return at
}

func TestRunDueActionAdvancesToNextCheckpoint(t *testing.T) {
	bot := testBot()
	env := newRunnerEnv(t, bot)
	ranAt := bot.StartedAt.Add(time.Hour + 30*time.Minute)
	env.at(ranAt)

	if err := env.runner.RunDueAction(context.Background(), bot.ID); err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(env.exchange.orders) != 1 {
		t.Fatalf("placed %d orders, want 1", len(env.exchange.orders))
	}

	stored, _ := env.bots.Get(context.Background(), bot.ID)
	if stored.Status != models.BotScheduled {
		t.Fatalf("status %s want %s", stored.Status, models.BotScheduled)
	}
	if stored.LastActionJobAt == nil || !stored.LastActionJobAt.Equal(ranAt) {
		t.Fatalf("last action at %v want %v", stored.LastActionJobAt, ranAt)
	}

	next := env.nextRunAt(t, bot.ID)
	if next == nil {
		t.Fatalf("no next task enqueued")
	}
	if want := bot.StartedAt.Add(2 * time.Hour); !next.Equal(want) {
		t.Fatalf("next run %v want checkpoint %v", next, want)
	}
	if env.metrics.runs["ok"] != 1 {
		t.Fatalf("recorded %v, want one ok run", env.metrics.runs)
	}
}

func TestRunDueActionOnCheckpointSchedulesFollowing(t *testing.T) {
	bot := testBot()
	env := newRunnerEnv(t, bot)
	// Delivery lands exactly on a checkpoint; the next task must move one
	// interval past it, not re-enqueue the same instant.
	env.at(bot.StartedAt.Add(time.Hour))

	if err := env.runner.RunDueAction(context.Background(), bot.ID); err != nil {
		t.Fatalf("run: %v", err)
	}

	next := env.nextRunAt(t, bot.ID)
	if next == nil {
		t.Fatalf("no next task enqueued")
	}
	if want := bot.StartedAt.Add(2 * time.Hour); !next.Equal(want) {
		t.Fatalf("next run %v want %v", next, want)
	}
}

func TestRunDueActionStoppedBot(t *testing.T) {
	bot := testBot()
	bot.Status = models.BotStopped
	env := newRunnerEnv(t, bot)
	env.at(bot.StartedAt.Add(time.Hour))

	err := env.runner.RunDueAction(context.Background(), bot.ID)
	if !errors.Is(err, ErrBotNotRunnable) {
		t.Fatalf("got %v want ErrBotNotRunnable", err)
	}
	if len(env.exchange.orders) != 0 {
		t.Fatalf("stale delivery placed %d orders", len(env.exchange.orders))
	}
	if env.nextRunAt(t, bot.ID) != nil {
		t.Fatalf("stale delivery enqueued a task")
	}
	if env.metrics.runs["not_runnable"] != 1 {
		t.Fatalf("recorded %v, want one not_runnable run", env.metrics.runs)
	}
}

func TestRunDueActionDuplicateDelivery(t *testing.T) {
	bot := testBot()
	env := newRunnerEnv(t, bot)
	env.at(bot.StartedAt.Add(time.Hour))

	// A task is still outstanding, so this delivery is a duplicate.
	future := bot.StartedAt.Add(2 * time.Hour)
	if err := env.queue.Enqueue(context.Background(), TaskKindBotAction, bot.ID, future); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	err := env.runner.RunDueAction(context.Background(), bot.ID)
	if !errors.Is(err, ErrTaskStillPending) {
		t.Fatalf("got %v want ErrTaskStillPending", err)
	}

	if len(env.exchange.orders) != 0 {
		t.Fatalf("duplicate placed %d orders", len(env.exchange.orders))
	}
	stored, _ := env.bots.Get(context.Background(), bot.ID)
	if stored.LastActionJobAt != nil {
		t.Fatalf("duplicate advanced the bot")
	}
	if next := env.nextRunAt(t, bot.ID); next == nil || !next.Equal(future) {
		t.Fatalf("outstanding task moved to %v", next)
	}
}

func TestRunDueActionNoExchange(t *testing.T) {
	bot := testBot()
	bot.Exchange = ""
	env := newRunnerEnv(t, bot)
	env.at(bot.StartedAt.Add(time.Hour))

	err := env.runner.RunDueAction(context.Background(), bot.ID)
	if !errors.Is(err, ErrNoExchange) {
		t.Fatalf("got %v want ErrNoExchange", err)
	}

	stored, _ := env.bots.Get(context.Background(), bot.ID)
	if stored.Status != models.BotRetrying {
		t.Fatalf("status %s want %s", stored.Status, models.BotRetrying)
	}
	if got := env.notifier.events(); len(got) != 1 || got[0] != "action_error" {
		t.Fatalf("notified %v want [action_error]", got)
	}
	if env.metrics.runs["failed"] != 1 {
		t.Fatalf("recorded %v, want one failed run", env.metrics.runs)
	}
}

func TestRunDueActionExecutionFailure(t *testing.T) {
	bot := testBot()
	env := newRunnerEnv(t, bot)
	submitErr := errors.New("exchange down")
	env.exchange.submitErr = submitErr
	env.at(bot.StartedAt.Add(time.Hour))

	err := env.runner.RunDueAction(context.Background(), bot.ID)
	if !errors.Is(err, submitErr) {
		t.Fatalf("got %v want the submit error", err)
	}

	stored, _ := env.bots.Get(context.Background(), bot.ID)
	if stored.Status != models.BotRetrying {
		t.Fatalf("status %s want %s", stored.Status, models.BotRetrying)
	}
	if env.nextRunAt(t, bot.ID) != nil {
		t.Fatalf("failed run must not enqueue, the sweep owns recovery")
	}
	if got := env.notifier.events(); len(got) != 1 || got[0] != "action_error" {
		t.Fatalf("notified %v want [action_error]", got)
	}
}

func TestRunDueActionFinalizedAtTarget(t *testing.T) {
	bot := testBot()
	bot.TargetQuoteAmount = dec("100")
	env := newRunnerEnv(t, bot)
	env.txs.sum = func(_ string, since time.Time) (decimal.Decimal, error) {
		if since.IsZero() {
			return dec("100"), nil
		}
		return decimal.Zero, nil
	}
	env.at(bot.StartedAt.Add(time.Hour))

	if err := env.runner.RunDueAction(context.Background(), bot.ID); err != nil {
		t.Fatalf("run: %v", err)
	}

	stored, _ := env.bots.Get(context.Background(), bot.ID)
	if stored.Status != models.BotStopped {
		t.Fatalf("status %s want %s", stored.Status, models.BotStopped)
	}
	if env.nextRunAt(t, bot.ID) != nil {
		t.Fatalf("finalized bot must not be rescheduled")
	}
	if env.metrics.runs["finalized"] != 1 {
		t.Fatalf("recorded %v, want one finalized run", env.metrics.runs)
	}
}

func TestRunDueActionScheduleFailureStillCounts(t *testing.T) {
	bot := testBot()
	env := newRunnerEnv(t, bot)
	env.queue.enqueueErr = errors.New("redis gone")
	env.at(bot.StartedAt.Add(time.Hour))

	// The action ran and the bot advanced, so the delivery is handled even
	// though the next task could not be enqueued.
	if err := env.runner.RunDueAction(context.Background(), bot.ID); err != nil {
		t.Fatalf("run: %v", err)
	}

	stored, _ := env.bots.Get(context.Background(), bot.ID)
	if stored.Status != models.BotScheduled {
		t.Fatalf("status %s want %s", stored.Status, models.BotScheduled)
	}
	if env.metrics.errs["schedule_next"] != 1 {
		t.Fatalf("recorded %v, want one schedule_next error", env.metrics.errs)
	}
	if env.metrics.runs["ok"] != 1 {
		t.Fatalf("recorded %v, want one ok run", env.metrics.runs)
	}
}

func TestRunDueActionUnknownBot(t *testing.T) {
	env := newRunnerEnv(t, testBot())
	err := env.runner.RunDueAction(context.Background(), "missing")
	if !errors.Is(err, drepo.ErrBotNotFound) {
		t.Fatalf("got %v want ErrBotNotFound", err)
	}
}

func TestStartResetsAccrualAndSchedulesFirstAction(t *testing.T) {
	bot := testBot()
	bot.Status = models.BotStopped
	bot.MissedQuoteAmount = dec("42")
	old := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	bot.StartedAt = old
	bot.LastActionJobAt = &old
	env := newRunnerEnv(t, bot)

	ref := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	env.at(ref)

	started, err := env.runner.Start(context.Background(), bot.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	if started.Status != models.BotScheduled {
		t.Fatalf("status %s want %s", started.Status, models.BotScheduled)
	}
	if !started.StartedAt.Equal(ref) {
		t.Fatalf("anchor %v want %v", started.StartedAt, ref)
	}
	if !started.MissedQuoteAmount.IsZero() {
		t.Fatalf("missed %s want 0 after start", started.MissedQuoteAmount)
	}
	if started.LastActionJobAt != nil {
		t.Fatalf("last action at %v want nil after start", started.LastActionJobAt)
	}

	next := env.nextRunAt(t, bot.ID)
	if next == nil {
		t.Fatalf("no first action enqueued")
	}
	if want := ref.Add(time.Hour); !next.Equal(want) {
		t.Fatalf("first action at %v want one interval out %v", next, want)
	}
}

func TestStartInvalidInterval(t *testing.T) {
	bot := testBot()
	bot.Status = models.BotStopped
	bot.Interval = models.Interval("fortnightly")
	env := newRunnerEnv(t, bot)
	env.at(time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC))

	if _, err := env.runner.Start(context.Background(), bot.ID); err == nil {
		t.Fatalf("expected invalid interval error")
	}

	stored, _ := env.bots.Get(context.Background(), bot.ID)
	if stored.Status != models.BotStopped {
		t.Fatalf("status %s want unchanged %s", stored.Status, models.BotStopped)
	}
	if env.nextRunAt(t, bot.ID) != nil {
		t.Fatalf("invalid bot got a task")
	}
}

func TestStopCancelsOutstandingTask(t *testing.T) {
	bot := testBot()
	env := newRunnerEnv(t, bot)
	env.at(bot.StartedAt.Add(time.Hour))

	runAt := bot.StartedAt.Add(2 * time.Hour)
	if err := env.queue.Enqueue(context.Background(), TaskKindBotAction, bot.ID, runAt); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	stopped, err := env.runner.Stop(context.Background(), bot.ID)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if stopped.Status != models.BotStopped {
		t.Fatalf("status %s want %s", stopped.Status, models.BotStopped)
	}
	if env.nextRunAt(t, bot.ID) != nil {
		t.Fatalf("stop left a task outstanding")
	}
}

func TestUpdateConfigSnapshotsActiveBot(t *testing.T) {
	bot := testBot()
	env := newRunnerEnv(t, bot)
	ref := bot.StartedAt.Add(2 * time.Hour)
	env.at(ref)

	updated, err := env.runner.UpdateConfig(context.Background(), bot.ID, func(b *models.Bot) error {
		b.QuoteAmount = dec("25")
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	// Two accrued intervals fold into the buffer before the amount changes.
	if want := dec("20"); !updated.MissedQuoteAmount.Equal(want) {
		t.Fatalf("missed %s want %s", updated.MissedQuoteAmount, want)
	}
	if !updated.StartedAt.Equal(ref) {
		t.Fatalf("anchor %v want re-anchored to %v", updated.StartedAt, ref)
	}
	if !updated.QuoteAmount.Equal(dec("25")) {
		t.Fatalf("amount %s want 25", updated.QuoteAmount)
	}
}

func TestUpdateConfigStoppedBotSkipsSnapshot(t *testing.T) {
	bot := testBot()
	bot.Status = models.BotStopped
	env := newRunnerEnv(t, bot)
	env.at(bot.StartedAt.Add(2 * time.Hour))

	updated, err := env.runner.UpdateConfig(context.Background(), bot.ID, func(b *models.Bot) error {
		b.QuoteAmount = dec("25")
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	if !updated.MissedQuoteAmount.IsZero() {
		t.Fatalf("missed %s want untouched 0", updated.MissedQuoteAmount)
	}
	if !updated.StartedAt.Equal(bot.StartedAt) {
		t.Fatalf("anchor %v want untouched %v", updated.StartedAt, bot.StartedAt)
	}
}
