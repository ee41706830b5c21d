package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/0x556c79/deltabadger/internal/domain/models"
	drepo "github.com/0x556c79/deltabadger/internal/domain/repository"
	"github.com/0x556c79/deltabadger/pkg/logger"
)

var (
	// ErrTaskStillPending means a second task surfaced for a bot that still
	// has one outstanding. The delivery is dropped without touching state so
	// a scheduling fault can never double an order.
	ErrTaskStillPending = errors.New("action task still pending")

	// ErrBotNotRunnable means the bot's status does not admit executing an
	// action, usually because a stop raced the delivery.
	ErrBotNotRunnable = errors.New("bot not in runnable status")

	// ErrNoExchange means the bot has no usable exchange account configured.
	ErrNoExchange = errors.New("bot has no usable exchange")
)

// BotRunner drives the bot lifecycle: activation, stopping, configuration
// changes and the handling of due action tasks.
type BotRunner struct {
	bots      drepo.BotRepository
	scheduler *ActionScheduler
	executor  *OrderExecutor
	pending   *PendingCalculator
	notifier  drepo.Notifier
	metrics   drepo.Metrics
	logger    *logger.Logger
	now       func() time.Time
}

// NewBotRunner creates a new BotRunner instance.
func NewBotRunner(
	bots drepo.BotRepository,
	scheduler *ActionScheduler,
	executor *OrderExecutor,
	pending *PendingCalculator,
	notifier drepo.Notifier,
	metrics drepo.Metrics,
	lgr *logger.Logger,
) *BotRunner {
	return &BotRunner{
		bots:      bots,
		scheduler: scheduler,
		executor:  executor,
		pending:   pending,
		notifier:  notifier,
		metrics:   metrics,
		logger:    lgr,
		now:       time.Now,
	}
}

// RunDueAction handles one delivered action task. Preconditions that fail
// here return an error with no state change, execution failures move the
// bot to retrying, success advances it to the next checkpoint.
func (r *BotRunner) RunDueAction(ctx context.Context, botID string) error {
	bot, err := r.bots.Get(ctx, botID)
	if err != nil {
		return fmt.Errorf("load bot: %w", err)
	}

	if !bot.Status.Active() {
		r.metrics.RecordActionRun("not_runnable")
		return fmt.Errorf("%w: %s is %s", ErrBotNotRunnable, bot.ID, bot.Status)
	}

	stillPending, err := r.scheduler.IsActionPending(ctx, bot.ID)
	if err != nil {
		return fmt.Errorf("check pending task: %w", err)
	}
	if stillPending {
		r.metrics.RecordActionRun("duplicate")
		return fmt.Errorf("%w: bot %s", ErrTaskStillPending, bot.ID)
	}

	if !bot.HasExchange() {
		return r.failAction(ctx, bot, "no usable exchange", ErrNoExchange)
	}

	result, err := r.executor.ExecuteAction(ctx, bot)
	if err != nil {
		return r.failAction(ctx, bot, "action execution failed", err)
	}

	if result.BreakReschedule {
		r.metrics.RecordActionRun("finalized")
		return nil
	}

	ranAt := r.now().UTC()
	next := NextBotCheckpoint(bot, ranAt)
	if !next.After(ranAt) {
		next = next.Add(bot.Interval.Duration())
	}

	if _, err := r.bots.Update(ctx, bot.ID, func(b *models.Bot) error {
		b.Status = models.BotScheduled
		b.LastActionJobAt = &ranAt
		return nil
	}); err != nil {
		return fmt.Errorf("advance bot: %w", err)
	}

	// A failure here leaves an active bot without a task. That is exactly
	// the orphan the repair sweep re-enqueues, so the delivery still counts
	// as handled.
	if err := r.scheduler.ScheduleAction(ctx, bot.ID, next); err != nil {
		r.metrics.RecordError("schedule_next")
		r.logger.Warn("next action not scheduled, sweep will repair",
			logger.String("bot_id", bot.ID),
			logger.Error(err))
	}

	r.metrics.RecordActionRun("ok")
	return nil
}

// Start activates a bot: the buffer is cleared, accrual re-anchors to now
// and the first action is scheduled one interval out.
func (r *BotRunner) Start(ctx context.Context, botID string) (*models.Bot, error) {
	startedAt := r.now().UTC()

	bot, err := r.bots.Update(ctx, botID, func(b *models.Bot) error {
		if !b.Interval.Valid() {
			return fmt.Errorf("invalid interval %q", b.Interval)
		}
		b.Status = models.BotStarted
		b.StartedAt = startedAt
		b.MissedQuoteAmount = decimal.Zero
		b.LastActionJobAt = nil
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("start bot: %w", err)
	}

	first := startedAt.Add(bot.Interval.Duration())
	if err := r.scheduler.ScheduleAction(ctx, bot.ID, first); err != nil {
		return nil, fmt.Errorf("schedule first action: %w", err)
	}

	bot, err = r.bots.Update(ctx, botID, func(b *models.Bot) error {
		b.Status = models.BotScheduled
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("mark scheduled: %w", err)
	}

	r.logger.Info("bot started",
		logger.String("bot_id", bot.ID),
		logger.String("first_action_at", first.Format(time.RFC3339)))
	return bot, nil
}

// Stop deactivates a bot and cancels its outstanding task. A stale delivery
// after a stop is rejected by RunDueAction without side effects.
func (r *BotRunner) Stop(ctx context.Context, botID string) (*models.Bot, error) {
	bot, err := r.bots.Update(ctx, botID, func(b *models.Bot) error {
		b.Status = models.BotStopped
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("stop bot: %w", err)
	}

	if err := r.scheduler.CancelActions(ctx, botID); err != nil {
		return nil, fmt.Errorf("cancel actions: %w", err)
	}

	r.logger.Info("bot stopped", logger.String("bot_id", botID))
	return bot, nil
}

// UpdateConfig applies a configuration change. For active bots the accrued
// balance is folded into MissedQuoteAmount first, so changing the amount or
// interval never loses what already accumulated.
func (r *BotRunner) UpdateConfig(ctx context.Context, botID string, apply func(*models.Bot) error) (*models.Bot, error) {
	ref := r.now().UTC()

	bot, err := r.bots.Update(ctx, botID, func(b *models.Bot) error {
		if b.Status != models.BotStopped {
			if err := r.pending.SnapshotMissed(ctx, b, ref); err != nil {
				return fmt.Errorf("snapshot pending: %w", err)
			}
		}
		return apply(b)
	})
	if err != nil {
		return nil, fmt.Errorf("update bot config: %w", err)
	}
	return bot, nil
}

// failAction moves the bot to retrying and reports the cause. The returned
// error carries the original failure so the queue counts the attempt.
func (r *BotRunner) failAction(ctx context.Context, bot *models.Bot, cause string, origin error) error {
	if _, err := r.bots.Update(ctx, bot.ID, func(b *models.Bot) error {
		b.Status = models.BotRetrying
		return nil
	}); err != nil {
		r.logger.Error("mark retrying failed",
			logger.String("bot_id", bot.ID),
			logger.Error(err))
	}

	r.notifier.NotifyError(ctx, bot, cause)
	r.metrics.RecordActionRun("failed")
	r.logger.Warn("action failed",
		logger.String("bot_id", bot.ID),
		logger.String("cause", cause),
		logger.Error(origin))

	if origin != nil {
		return fmt.Errorf("%s: %w", cause, origin)
	}
	return fmt.Errorf("%s: bot %s", cause, bot.ID)
}
