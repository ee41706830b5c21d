package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/0x556c79/deltabadger/internal/domain/models"
	drepo "github.com/0x556c79/deltabadger/internal/domain/repository"
	"github.com/0x556c79/deltabadger/pkg/logger"
)

// ActionResult reports how a due action ended. BreakReschedule means the
// executor already finalized the bot's state and no further scheduling or
// status change must happen for this delivery.
type ActionResult struct {
	BreakReschedule bool
}

// OrderExecutor turns a bot's accrued quote amount into exchange orders.
// Amounts below the venue minimum are recorded as skipped and roll forward,
// submissions are never recorded synchronously, the fill reporter owns that.
type OrderExecutor struct {
	bots      drepo.BotRepository
	txs       drepo.TransactionStore
	tickers   drepo.TickerRegistry
	exchanges map[string]drepo.Exchange
	pending   *PendingCalculator
	notifier  drepo.Notifier
	metrics   drepo.Metrics
	logger    *logger.Logger
	now       func() time.Time
}

// NewOrderExecutor creates a new OrderExecutor instance.
func NewOrderExecutor(
	bots drepo.BotRepository,
	txs drepo.TransactionStore,
	tickers drepo.TickerRegistry,
	exchanges map[string]drepo.Exchange,
	pending *PendingCalculator,
	notifier drepo.Notifier,
	metrics drepo.Metrics,
	lgr *logger.Logger,
) *OrderExecutor {
	return &OrderExecutor{
		bots:      bots,
		txs:       txs,
		tickers:   tickers,
		exchanges: exchanges,
		pending:   pending,
		notifier:  notifier,
		metrics:   metrics,
		logger:    lgr,
		now:       time.Now,
	}
}

// ExecuteAction computes the amount due now and places orders for it.
func (e *OrderExecutor) ExecuteAction(ctx context.Context, bot *models.Bot) (*ActionResult, error) {
	ref := e.now()

	amount, err := e.pending.PendingQuoteAmount(ctx, bot, ref)
	if err != nil {
		return nil, fmt.Errorf("pending amount: %w", err)
	}

	if bot.TargetQuoteAmount.IsPositive() {
		spent, err := e.txs.SumQuoteExecSince(ctx, bot.ID, time.Time{})
		if err != nil {
			return nil, fmt.Errorf("lifetime spent: %w", err)
		}
		if spent.GreaterThanOrEqual(bot.TargetQuoteAmount) {
			if err := e.stopAtTarget(ctx, bot); err != nil {
				return nil, err
			}
			return &ActionResult{BreakReschedule: true}, nil
		}
		if remaining := bot.TargetQuoteAmount.Sub(spent); amount.GreaterThan(remaining) {
			amount = remaining
		}
	}

	switch bot.Kind {
	case models.BotDual:
		err = e.SetOrders(ctx, bot, amount)
	default:
		err = e.SetOrder(ctx, bot, bot.Symbol(0), amount)
	}
	if err != nil {
		return nil, err
	}
	return &ActionResult{}, nil
}

// SetOrder applies the sizing policy to one leg. A zero amount is a no-op,
// an amount under the venue minimum is recorded as skipped and notified,
// anything at or above the minimum is submitted.
func (e *OrderExecutor) SetOrder(ctx context.Context, bot *models.Bot, symbol string, amount decimal.Decimal) error {
	if amount.IsZero() {
		e.logger.Debug("nothing accrued, skipping order",
			logger.String("bot_id", bot.ID),
			logger.String("symbol", symbol))
		return nil
	}

	minimum, err := e.tickers.MinQuoteSize(ctx, bot.Exchange, symbol)
	if err != nil {
		return fmt.Errorf("minimum quote size: %w", err)
	}

	if amount.LessThan(minimum) {
		if err := e.recordSkip(ctx, bot, symbol, amount); err != nil {
			return fmt.Errorf("record skip: %w", err)
		}
		e.notifier.NotifyBelowMinimum(ctx, bot, symbol, amount, minimum)
		e.metrics.RecordSkip(bot.Exchange, symbol)
		e.logger.Info("amount below minimum, carried forward",
			logger.String("bot_id", bot.ID),
			logger.String("symbol", symbol),
			logger.String("amount", amount.String()),
			logger.String("minimum", minimum.String()))
		return nil
	}

	return e.submit(ctx, bot, symbol, amount)
}

// SetOrders splits the amount between the two legs of a dual bot, steering
// holdings toward the configured weights, then applies the single leg policy
// to each share.
func (e *OrderExecutor) SetOrders(ctx context.Context, bot *models.Bot, total decimal.Decimal) error {
	if total.IsZero() {
		return nil
	}
	if len(bot.BaseAssets) != 2 {
		return fmt.Errorf("dual bot %s has %d legs", bot.ID, len(bot.BaseAssets))
	}

	ex, ok := e.exchanges[bot.Exchange]
	if !ok {
		return fmt.Errorf("no exchange client for %s", bot.Exchange)
	}

	balances, err := ex.Balances(ctx, bot.BaseAssets)
	if err != nil {
		return fmt.Errorf("balances: %w", err)
	}

	held := make([]decimal.Decimal, 2)
	combined := total
	for i := range bot.BaseAssets {
		price, err := e.tickers.LastPrice(ctx, bot.Exchange, bot.Symbol(i))
		if err != nil {
			return fmt.Errorf("last price %s: %w", bot.Symbol(i), err)
		}
		held[i] = balances[bot.BaseAssets[i]].Mul(price)
		combined = combined.Add(held[i])
	}

	// Share per leg is proportional to its distance below the target value.
	needs := make([]decimal.Decimal, 2)
	sumNeeds := decimal.Zero
	for i := range needs {
		need := combined.Mul(bot.Weight(i)).Sub(held[i])
		if need.IsNegative() {
			need = decimal.Zero
		}
		needs[i] = need
		sumNeeds = sumNeeds.Add(need)
	}

	var first decimal.Decimal
	if sumNeeds.IsZero() {
		first = total.Mul(bot.Weight(0))
	} else {
		first = total.Mul(needs[0]).Div(sumNeeds)
	}
	legs := []decimal.Decimal{first, total.Sub(first)}

	for i, amount := range legs {
		if err := e.SetOrder(ctx, bot, bot.Symbol(i), amount); err != nil {
			return fmt.Errorf("leg %s: %w", bot.Symbol(i), err)
		}
	}
	return nil
}

func (e *OrderExecutor) submit(ctx context.Context, bot *models.Bot, symbol string, amount decimal.Decimal) error {
	ex, ok := e.exchanges[bot.Exchange]
	if !ok {
		return fmt.Errorf("no exchange client for %s", bot.Exchange)
	}

	start := time.Now()
	var (
		orderID string
		err     error
	)
	switch bot.OrderType {
	case models.OrderLimit:
		var price decimal.Decimal
		price, err = e.tickers.LastPrice(ctx, bot.Exchange, symbol)
		if err != nil {
			return fmt.Errorf("last price: %w", err)
		}
		orderID, err = ex.LimitBuy(ctx, symbol, amount, price)
	default:
		orderID, err = ex.MarketBuy(ctx, symbol, amount)
	}
	e.metrics.RecordLatency("order_submit", time.Since(start).Seconds())

	if err != nil {
		e.metrics.RecordError("order_submit")
		return fmt.Errorf("submit %s %s: %w", bot.Exchange, symbol, err)
	}

	e.metrics.RecordOrderSubmitted(bot.Exchange, symbol)
	e.logger.Info("order submitted",
		logger.String("bot_id", bot.ID),
		logger.String("symbol", symbol),
		logger.String("amount", amount.String()),
		logger.String("order_id", orderID))
	return nil
}

func (e *OrderExecutor) recordSkip(ctx context.Context, bot *models.Bot, symbol string, amount decimal.Decimal) error {
	return e.txs.Store(ctx, &models.Transaction{
		ID:          uuid.NewString(),
		BotID:       bot.ID,
		Status:      models.TxSkipped,
		Symbol:      symbol,
		QuoteAmount: amount,
		CreatedAt:   e.now().UTC(),
	})
}

func (e *OrderExecutor) stopAtTarget(ctx context.Context, bot *models.Bot) error {
	stopped, err := e.bots.Update(ctx, bot.ID, func(b *models.Bot) error {
		b.Status = models.BotStopped
		return nil
	})
	if err != nil {
		return fmt.Errorf("stop at target: %w", err)
	}
	*bot = *stopped
	e.notifier.NotifyTargetReached(ctx, bot)
	e.logger.Info("target reached, bot stopped",
		logger.String("bot_id", bot.ID),
		logger.String("target", bot.TargetQuoteAmount.String()))
	return nil
}
