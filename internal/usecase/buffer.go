package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/0x556c79/deltabadger/internal/domain/models"
	drepo "github.com/0x556c79/deltabadger/internal/domain/repository"
)

// PendingCalculator derives how much quote currency a bot has accrued and
// not yet spent. Amounts below the exchange minimum are never dropped, they
// stay in this balance until an execution consumes them.
type PendingCalculator struct {
	txs drepo.TransactionStore
}

func NewPendingCalculator(txs drepo.TransactionStore) *PendingCalculator {
	return &PendingCalculator{txs: txs}
}

// PendingQuoteAmount returns the amount due at ref: one QuoteAmount per whole
// interval elapsed since StartedAt, minus what recorded executions in that
// window already spent, plus the carried MissedQuoteAmount. Skipped records
// spend nothing, so their amounts roll forward on their own.
func (c *PendingCalculator) PendingQuoteAmount(ctx context.Context, bot *models.Bot, ref time.Time) (decimal.Decimal, error) {
	intervals := ElapsedIntervals(bot.StartedAt, bot.Interval.Duration(), ref)
	accrued := bot.QuoteAmount.Mul(decimal.NewFromInt(intervals))

	spent, err := c.txs.SumQuoteExecSince(ctx, bot.ID, bot.StartedAt)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum executed: %w", err)
	}

	pending := accrued.Sub(spent).Add(bot.MissedQuoteAmount)
	if pending.IsNegative() {
		return decimal.Zero, nil
	}
	return pending, nil
}

// SnapshotMissed folds the amount pending at ref into MissedQuoteAmount and
// re-anchors StartedAt to ref. Called before any change to the bot's amount,
// interval or legs so the accumulated balance survives the change.
func (c *PendingCalculator) SnapshotMissed(ctx context.Context, bot *models.Bot, ref time.Time) error {
	pending, err := c.PendingQuoteAmount(ctx, bot, ref)
	if err != nil {
		return err
	}
	bot.MissedQuoteAmount = pending
	bot.StartedAt = ref
	return nil
}
