package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/0x556c79/deltabadger/internal/domain/models"
	drepo "github.com/0x556c79/deltabadger/internal/domain/repository"
	"github.com/0x556c79/deltabadger/pkg/logger"
)

// Locker is a shared lease. The sweep takes one so that overlapping runs
// from several replicas do not scan the same bots twice.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

const (
	sweepLockKey = "sweep:lock"
	sweepLockTTL = 5 * time.Minute
)

// RepairSweep re-enqueues action tasks for active bots that lost theirs,
// typically after a queue store loss or a crash between claiming a task and
// scheduling the next one. It never executes actions itself, it only
// restores the schedule.
type RepairSweep struct {
	bots      drepo.BotRepository
	scheduler *ActionScheduler
	lock      Locker
	metrics   drepo.Metrics
	logger    *logger.Logger
	now       func() time.Time
}

// NewRepairSweep creates a new RepairSweep instance.
func NewRepairSweep(
	bots drepo.BotRepository,
	scheduler *ActionScheduler,
	lock Locker,
	metrics drepo.Metrics,
	lgr *logger.Logger,
) *RepairSweep {
	return &RepairSweep{
		bots:      bots,
		scheduler: scheduler,
		lock:      lock,
		metrics:   metrics,
		logger:    lgr,
		now:       time.Now,
	}
}

// RepairOrphanedBots scans active bots and schedules a task at the next
// checkpoint for each one that has none outstanding. Bots that fail are
// logged and skipped, one broken bot must not stall the rest.
func (s *RepairSweep) RepairOrphanedBots(ctx context.Context) error {
	held, err := s.lock.TryLock(ctx, sweepLockKey, sweepLockTTL)
	if err != nil {
		return fmt.Errorf("sweep lock: %w", err)
	}
	if !held {
		s.logger.Info("repair sweep skipped, lock held elsewhere")
		return nil
	}
	defer func() {
		if err := s.lock.Unlock(ctx, sweepLockKey); err != nil {
			s.logger.Warn("sweep unlock failed", logger.Error(err))
		}
	}()

	ref := s.now().UTC()
	var repaired, failed int

	for _, status := range []models.BotStatus{models.BotScheduled, models.BotRetrying} {
		bots, err := s.bots.List(ctx, status, 0)
		if err != nil {
			return fmt.Errorf("list %s bots: %w", status, err)
		}

		for _, bot := range bots {
			if !bot.HasExchange() {
				continue
			}

			ok, err := s.repairOne(ctx, bot, ref)
			if err != nil {
				failed++
				s.metrics.RecordRepair("error")
				s.logger.Error("repair failed",
					logger.String("bot_id", bot.ID),
					logger.Error(err))
				continue
			}
			if ok {
				repaired++
				s.metrics.RecordRepair("requeued")
			}
		}
	}

	if repaired > 0 || failed > 0 {
		s.logger.Info("repair sweep finished",
			logger.Int("requeued", repaired),
			logger.Int("failed", failed))
	}
	return nil
}

// repairOne restores the schedule for one bot. Returns true when a task was
// enqueued, false when the bot already had one.
func (s *RepairSweep) repairOne(ctx context.Context, bot *models.Bot, ref time.Time) (bool, error) {
	pending, err := s.scheduler.IsActionPending(ctx, bot.ID)
	if err != nil {
		return false, fmt.Errorf("check pending: %w", err)
	}
	if pending {
		return false, nil
	}

	// An in-flight delivery may re-enqueue concurrently. Scheduling by task
	// identity makes that collision collapse into a single task.
	runAt := NextBotCheckpoint(bot, ref)
	if err := s.scheduler.ScheduleAction(ctx, bot.ID, runAt); err != nil {
		return false, fmt.Errorf("schedule: %w", err)
	}

	s.logger.Info("orphaned bot re-enqueued",
		logger.String("bot_id", bot.ID),
		logger.String("run_at", runAt.Format(time.RFC3339)))
	return true, nil
}
