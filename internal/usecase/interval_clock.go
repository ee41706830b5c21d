package usecase

import (
	"time"

	"github.com/0x556c79/deltabadger/internal/domain/models"
)

// NextCheckpointAt returns the earliest checkpoint at or after ref.
// Checkpoints are anchored to the bot's start: startedAt + k*every for
// integer k >= 0. A ref at or before startedAt yields startedAt, a ref
// exactly on a checkpoint yields that checkpoint.
func NextCheckpointAt(startedAt time.Time, every time.Duration, ref time.Time) time.Time {
	if every <= 0 || !ref.After(startedAt) {
		return startedAt
	}
	elapsed := ref.Sub(startedAt)
	k := elapsed / every
	if elapsed%every != 0 {
		k++
	}
	return startedAt.Add(k * every)
}

// ElapsedIntervals returns the number of whole intervals between startedAt
// and ref, 0 when ref precedes startedAt.
func ElapsedIntervals(startedAt time.Time, every time.Duration, ref time.Time) int64 {
	if every <= 0 || ref.Before(startedAt) {
		return 0
	}
	return int64(ref.Sub(startedAt) / every)
}

// NextBotCheckpoint applies NextCheckpointAt to a bot's own anchor and interval.
func NextBotCheckpoint(bot *models.Bot, ref time.Time) time.Time {
	return NextCheckpointAt(bot.StartedAt, bot.Interval.Duration(), ref)
}
