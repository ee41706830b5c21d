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

type executorEnv struct {
	bots     *fakeBotRepo
	txs      *fakeTxStore
	tickers  *fakeTickers
	exchange *fakeExchange
	notifier *fakeNotifier
	metrics  *fakeMetrics
	executor *OrderExecutor
}

func newExecutorEnv(t *testing.T, bot *models.Bot) *executorEnv {
	t.Helper()
	env := &executorEnv{
		bots:     newFakeBotRepo(bot),
		txs:      &fakeTxStore{},
		tickers:  &fakeTickers{min: dec("5"), price: dec("50000")},
		exchange: &fakeExchange{},
		notifier: &fakeNotifier{},
		metrics:  &fakeMetrics{},
	}
	env.executor = NewOrderExecutor(
		env.bots,
		env.txs,
		env.tickers,
		map[string]drepo.Exchange{"binance": env.exchange},
		NewPendingCalculator(env.txs),
		env.notifier,
		env.metrics,
		newTestLogger(t),
	)
	return env
}

func (env *executorEnv) at(ref time.Time) { env.executor.now = func() time.Time { return ref } }

func TestExecuteActionNothingAccrued(t *testing.T) {
	bot := testBot()
	env := newExecutorEnv(t, bot)
	env.at(bot.StartedAt.Add(30 * time.Minute))

	result, err := env.executor.ExecuteAction(context.Background(), bot)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.BreakReschedule {
		t.Fatalf("zero amount must not finalize the bot")
	}
	if len(env.exchange.orders) != 0 {
		t.Fatalf("placed %d orders, want none", len(env.exchange.orders))
	}
	if len(env.txs.stored) != 0 {
		t.Fatalf("stored %d transactions, want none", len(env.txs.stored))
	}
	if len(env.notifier.calls) != 0 {
		t.Fatalf("notified %v, want nothing", env.notifier.events())
	}
}

func TestSetOrderBelowMinimumSkipsAndBuffers(t *testing.T) {
	bot := testBot()
	env := newExecutorEnv(t, bot)
	env.tickers.min = dec("15")
	ref := bot.StartedAt.Add(time.Hour)
	env.at(ref)

	result, err := env.executor.ExecuteAction(context.Background(), bot)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.BreakReschedule {
		t.Fatalf("skip must keep the schedule alive")
	}
	if len(env.exchange.orders) != 0 {
		t.Fatalf("placed %d orders, want none", len(env.exchange.orders))
	}

	if len(env.txs.stored) != 1 {
		t.Fatalf("stored %d transactions, want 1", len(env.txs.stored))
	}
	tx := env.txs.stored[0]
	if tx.Status != models.TxSkipped {
		t.Fatalf("status %s want %s", tx.Status, models.TxSkipped)
	}
	if !tx.QuoteAmount.Equal(dec("10")) {
		t.Fatalf("skip amount %s want 10", tx.QuoteAmount)
	}
	if !tx.AmountExec.IsZero() || !tx.QuoteAmountExec.IsZero() {
		t.Fatalf("skipped row must carry zero executed amounts")
	}
	if tx.BotID != bot.ID || tx.Symbol != "BTCUSDT" {
		t.Fatalf("stored %s/%s want %s/BTCUSDT", tx.BotID, tx.Symbol, bot.ID)
	}

	if got := env.notifier.events(); len(got) != 1 || got[0] != "below_minimum" {
		t.Fatalf("notified %v want [below_minimum]", got)
	}
	if env.metrics.skips != 1 {
		t.Fatalf("recorded %d skips, want 1", env.metrics.skips)
	}
}

func TestSetOrderAtMinimumSubmits(t *testing.T) {
	bot := testBot()
	env := newExecutorEnv(t, bot)
	env.tickers.min = dec("10") // exactly the accrued amount
	env.at(bot.StartedAt.Add(time.Hour))

	if _, err := env.executor.ExecuteAction(context.Background(), bot); err != nil {
		t.Fatalf("execute: %v", err)
	}

	if len(env.exchange.orders) != 1 {
		t.Fatalf("placed %d orders, want 1", len(env.exchange.orders))
	}
	order := env.exchange.orders[0]
	if order.symbol != "BTCUSDT" || !order.amount.Equal(dec("10")) || order.limit {
		t.Fatalf("got market order %+v, want BTCUSDT for 10", order)
	}

	// Submission never records a row, the fill report does that.
	if len(env.txs.stored) != 0 {
		t.Fatalf("stored %d transactions on submit, want none", len(env.txs.stored))
	}
	if env.metrics.orders != 1 {
		t.Fatalf("recorded %d submissions, want 1", env.metrics.orders)
	}
}

func TestSetOrderSubmitFailure(t *testing.T) {
	bot := testBot()
	env := newExecutorEnv(t, bot)
	env.exchange.submitErr = errors.New("insufficient funds")
	env.at(bot.StartedAt.Add(time.Hour))

	_, err := env.executor.ExecuteAction(context.Background(), bot)
	if err == nil {
		t.Fatalf("expected submit error")
	}
	if env.metrics.errs["order_submit"] != 1 {
		t.Fatalf("recorded %v, want one order_submit error", env.metrics.errs)
	}
	if len(env.txs.stored) != 0 {
		t.Fatalf("stored %d transactions on failure, want none", len(env.txs.stored))
	}
}

func TestSetOrderLimitUsesLastPrice(t *testing.T) {
	bot := testBot()
	bot.OrderType = models.OrderLimit
	env := newExecutorEnv(t, bot)
	env.tickers.price = dec("64000")
	env.at(bot.StartedAt.Add(time.Hour))

	if _, err := env.executor.ExecuteAction(context.Background(), bot); err != nil {
		t.Fatalf("execute: %v", err)
	}

	if len(env.exchange.orders) != 1 {
		t.Fatalf("placed %d orders, want 1", len(env.exchange.orders))
	}
	order := env.exchange.orders[0]
	if !order.limit {
		t.Fatalf("got market order, want limit")
	}
	if !order.price.Equal(dec("64000")) {
		t.Fatalf("limit price %s want 64000", order.price)
	}
}

func dualBot() *models.Bot {
	bot := testBot()
	bot.Kind = models.BotDual
	bot.BaseAssets = []string{"BTC", "ETH"}
	bot.Weights = []decimal.Decimal{dec("0.5"), dec("0.5")}
	bot.QuoteAmount = decimal.NewFromInt(60)
	return bot
}

func TestSetOrdersSteersTowardWeights(t *testing.T) {
	bot := dualBot()
	env := newExecutorEnv(t, bot)
	env.tickers.min = dec("1")
	env.tickers.prices = map[string]decimal.Decimal{
		"BTCUSDT": dec("50000"),
		"ETHUSDT": dec("2500"),
	}
	// BTC holdings are worth 100, ETH none. The whole 60 goes to ETH.
	env.exchange.balances = map[string]decimal.Decimal{
		"BTC": dec("0.002"),
		"ETH": decimal.Zero,
	}
	env.at(bot.StartedAt.Add(time.Hour))

	if _, err := env.executor.ExecuteAction(context.Background(), bot); err != nil {
		t.Fatalf("execute: %v", err)
	}

	if len(env.exchange.orders) != 1 {
		t.Fatalf("placed %d orders, want 1", len(env.exchange.orders))
	}
	order := env.exchange.orders[0]
	if order.symbol != "ETHUSDT" || !order.amount.Equal(dec("60")) {
		t.Fatalf("got %+v, want ETHUSDT for 60", order)
	}
}

func TestSetOrdersSplitsProportionally(t *testing.T) {
	bot := dualBot()
	env := newExecutorEnv(t, bot)
	env.tickers.min = dec("1")
	env.tickers.prices = map[string]decimal.Decimal{
		"BTCUSDT": dec("50000"),
		"ETHUSDT": dec("2500"),
	}
	// Equal holdings of 50 each, so the needs are even and 60 splits 30/30.
	env.exchange.balances = map[string]decimal.Decimal{
		"BTC": dec("0.001"),
		"ETH": dec("0.02"),
	}
	env.at(bot.StartedAt.Add(time.Hour))

	if _, err := env.executor.ExecuteAction(context.Background(), bot); err != nil {
		t.Fatalf("execute: %v", err)
	}

	if len(env.exchange.orders) != 2 {
		t.Fatalf("placed %d orders, want 2", len(env.exchange.orders))
	}
	if got := env.exchange.orders[0]; got.symbol != "BTCUSDT" || !got.amount.Equal(dec("30")) {
		t.Fatalf("first leg %+v, want BTCUSDT for 30", got)
	}
	if got := env.exchange.orders[1]; got.symbol != "ETHUSDT" || !got.amount.Equal(dec("30")) {
		t.Fatalf("second leg %+v, want ETHUSDT for 30", got)
	}
}

func TestSetOrdersFallsBackToWeightsWhenSaturated(t *testing.T) {
	bot := dualBot()
	bot.Weights = []decimal.Decimal{dec("0.1"), dec("0.1")}
	env := newExecutorEnv(t, bot)
	env.tickers.min = dec("1")
	env.tickers.prices = map[string]decimal.Decimal{
		"BTCUSDT": dec("1"),
		"ETHUSDT": dec("1"),
	}
	// Both legs already sit far above their tiny target share, every need
	// clamps to zero and the split falls back to the raw weights.
	env.exchange.balances = map[string]decimal.Decimal{
		"BTC": dec("1000"),
		"ETH": dec("1000"),
	}
	env.at(bot.StartedAt.Add(time.Hour))

	if _, err := env.executor.ExecuteAction(context.Background(), bot); err != nil {
		t.Fatalf("execute: %v", err)
	}

	if len(env.exchange.orders) != 2 {
		t.Fatalf("placed %d orders, want 2", len(env.exchange.orders))
	}
	if got := env.exchange.orders[0]; !got.amount.Equal(dec("6")) {
		t.Fatalf("first leg %s want 6", got.amount)
	}
	if got := env.exchange.orders[1]; !got.amount.Equal(dec("54")) {
		t.Fatalf("second leg %s want 54", got.amount)
	}
}

func TestExecuteActionStopsAtTarget(t *testing.T) {
	bot := testBot()
	bot.TargetQuoteAmount = dec("100")
	env := newExecutorEnv(t, bot)
	env.txs.sum = func(_ string, since time.Time) (decimal.Decimal, error) {
		if since.IsZero() {
			return dec("100"), nil // lifetime
		}
		return decimal.Zero, nil
	}
	env.at(bot.StartedAt.Add(time.Hour))

	result, err := env.executor.ExecuteAction(context.Background(), bot)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !result.BreakReschedule {
		t.Fatalf("reaching the target must break rescheduling")
	}

	if bot.Status != models.BotStopped {
		t.Fatalf("bot status %s want %s", bot.Status, models.BotStopped)
	}
	stored, err := env.bots.Get(context.Background(), bot.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != models.BotStopped {
		t.Fatalf("stored status %s want %s", stored.Status, models.BotStopped)
	}
	if got := env.notifier.events(); len(got) != 1 || got[0] != "target_reached" {
		t.Fatalf("notified %v want [target_reached]", got)
	}
	if len(env.exchange.orders) != 0 {
		t.Fatalf("placed %d orders past the target, want none", len(env.exchange.orders))
	}
}

func TestExecuteActionCapsAtTargetRemaining(t *testing.T) {
	bot := testBot()
	bot.TargetQuoteAmount = dec("100")
	env := newExecutorEnv(t, bot)
	env.tickers.min = dec("1")
	env.txs.sum = func(_ string, since time.Time) (decimal.Decimal, error) {
		if since.IsZero() {
			return dec("95"), nil
		}
		return decimal.Zero, nil
	}
	env.at(bot.StartedAt.Add(time.Hour))

	if _, err := env.executor.ExecuteAction(context.Background(), bot); err != nil {
		t.Fatalf("execute: %v", err)
	}

	if len(env.exchange.orders) != 1 {
		t.Fatalf("placed %d orders, want 1", len(env.exchange.orders))
	}
	if got := env.exchange.orders[0].amount; !got.Equal(dec("5")) {
		t.Fatalf("order amount %s want the 5 remaining to target", got)
	}
}
