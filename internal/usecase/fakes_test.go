package usecase

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/0x556c79/deltabadger/internal/domain/models"
	drepo "github.com/0x556c79/deltabadger/internal/domain/repository"
	"github.com/0x556c79/deltabadger/pkg/logger"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	lgr, err := logger.New(&logger.Config{Level: "error", Format: "json", Output: "stderr"})
	if err != nil {
		t.Fatalf("test logger: %v", err)
	}
	return lgr
}

// fakeBotRepo keeps bots in memory and hands out copies, like the Redis
// repository does after deserializing.
type fakeBotRepo struct {
	bots      map[string]*models.Bot
	order     []string
	updateErr error
	listErr   error
}

func newFakeBotRepo(bots ...*models.Bot) *fakeBotRepo {
	r := &fakeBotRepo{bots: make(map[string]*models.Bot)}
	for _, b := range bots {
		cp := *b
		r.bots[b.ID] = &cp
		r.order = append(r.order, b.ID)
	}
	return r
}

func (r *fakeBotRepo) Create(ctx context.Context, bot *models.Bot) error {
	cp := *bot
	r.bots[bot.ID] = &cp
	r.order = append(r.order, bot.ID)
	return nil
}

func (r *fakeBotRepo) Get(ctx context.Context, id string) (*models.Bot, error) {
	b, ok := r.bots[id]
	if !ok {
		return nil, drepo.ErrBotNotFound
	}
	cp := *b
	return &cp, nil
}

func (r *fakeBotRepo) Update(ctx context.Context, id string, mutate func(*models.Bot) error) (*models.Bot, error) {
	if r.updateErr != nil {
		return nil, r.updateErr
	}
	b, ok := r.bots[id]
	if !ok {
		return nil, drepo.ErrBotNotFound
	}
	cp := *b
	if err := mutate(&cp); err != nil {
		return nil, err
	}
	r.bots[id] = &cp
	out := cp
	return &out, nil
}

func (r *fakeBotRepo) List(ctx context.Context, status models.BotStatus, limit int) ([]*models.Bot, error) {
	if r.listErr != nil {
		return nil, r.listErr
	}
	var out []*models.Bot
	for _, id := range r.order {
		b := r.bots[id]
		if status != "" && b.Status != status {
			continue
		}
		cp := *b
		out = append(out, &cp)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *fakeBotRepo) Close() error { return nil }

// fakeTxStore records stored transactions and answers sums through an
// optional hook keyed by the since argument.
type fakeTxStore struct {
	stored   []*models.Transaction
	storeErr error
	sum      func(botID string, since time.Time) (decimal.Decimal, error)
}

func (s *fakeTxStore) Init(ctx context.Context) error { return nil }

func (s *fakeTxStore) Store(ctx context.Context, tx *models.Transaction) error {
	if s.storeErr != nil {
		return s.storeErr
	}
	cp := *tx
	s.stored = append(s.stored, &cp)
	return nil
}

func (s *fakeTxStore) Query(ctx context.Context, botID string, from, to time.Time, limit int) ([]*models.Transaction, error) {
	var out []*models.Transaction
	for _, tx := range s.stored {
		if tx.BotID == botID {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (s *fakeTxStore) SumQuoteExecSince(ctx context.Context, botID string, since time.Time) (decimal.Decimal, error) {
	if s.sum != nil {
		return s.sum(botID, since)
	}
	return decimal.Zero, nil
}

func (s *fakeTxStore) Health(ctx context.Context) error { return nil }
func (s *fakeTxStore) Close() error                     { return nil }

type fakeTickers struct {
	min      decimal.Decimal
	price    decimal.Decimal
	prices   map[string]decimal.Decimal
	minErr   error
	priceErr error
}

func (f *fakeTickers) MinQuoteSize(ctx context.Context, exchange, symbol string) (decimal.Decimal, error) {
	if f.minErr != nil {
		return decimal.Zero, f.minErr
	}
	return f.min, nil
}

func (f *fakeTickers) LastPrice(ctx context.Context, exchange, symbol string) (decimal.Decimal, error) {
	if f.priceErr != nil {
		return decimal.Zero, f.priceErr
	}
	if p, ok := f.prices[symbol]; ok {
		return p, nil
	}
	return f.price, nil
}

func (f *fakeTickers) SetLastPrice(ctx context.Context, exchange, symbol string, price decimal.Decimal) error {
	return nil
}

type placedOrder struct {
	symbol string
	amount decimal.Decimal
	price  decimal.Decimal
	limit  bool
}

type fakeExchange struct {
	orders    []placedOrder
	balances  map[string]decimal.Decimal
	submitErr error
	balErr    error
}

func (f *fakeExchange) Name() string { return "binance" }

func (f *fakeExchange) MarketBuy(ctx context.Context, symbol string, quoteAmount decimal.Decimal) (string, error) {
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.orders = append(f.orders, placedOrder{symbol: symbol, amount: quoteAmount})
	return fmt.Sprintf("order-%d", len(f.orders)), nil
}

func (f *fakeExchange) LimitBuy(ctx context.Context, symbol string, quoteAmount, price decimal.Decimal) (string, error) {
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.orders = append(f.orders, placedOrder{symbol: symbol, amount: quoteAmount, price: price, limit: true})
	return fmt.Sprintf("order-%d", len(f.orders)), nil
}

func (f *fakeExchange) Balances(ctx context.Context, assets []string) (map[string]decimal.Decimal, error) {
	if f.balErr != nil {
		return nil, f.balErr
	}
	out := make(map[string]decimal.Decimal, len(assets))
	for _, a := range assets {
		out[a] = f.balances[a]
	}
	return out, nil
}

// fakeTaskQueue mirrors the delayed queue's member identity: enqueueing an
// outstanding (kind, key) moves it instead of duplicating it.
type fakeTaskQueue struct {
	tasks         map[string]time.Time
	enqueueErr    error
	enqueueErrFor string // key whose enqueue fails
	pendingErr    error
}

func newFakeTaskQueue() *fakeTaskQueue {
	return &fakeTaskQueue{tasks: make(map[string]time.Time)}
}

func (q *fakeTaskQueue) key(kind, key string) string { return kind + ":" + key }

func (q *fakeTaskQueue) Enqueue(ctx context.Context, kind, key string, runAt time.Time) error {
	if q.enqueueErr != nil {
		return q.enqueueErr
	}
	if q.enqueueErrFor != "" && key == q.enqueueErrFor {
		return fmt.Errorf("enqueue %s: broken", key)
	}
	q.tasks[q.key(kind, key)] = runAt
	return nil
}

func (q *fakeTaskQueue) CancelAll(ctx context.Context, kind, key string) error {
	delete(q.tasks, q.key(kind, key))
	return nil
}

func (q *fakeTaskQueue) IsPending(ctx context.Context, kind, key string) (bool, error) {
	if q.pendingErr != nil {
		return false, q.pendingErr
	}
	_, ok := q.tasks[q.key(kind, key)]
	return ok, nil
}

func (q *fakeTaskQueue) NextRunAt(ctx context.Context, kind, key string) (*time.Time, error) {
	at, ok := q.tasks[q.key(kind, key)]
	if !ok {
		return nil, nil
	}
	return &at, nil
}

type fakeLocker struct {
	held    bool // lock owned by someone else
	lockErr error
	locks   int
	unlocks int
}

func (l *fakeLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if l.lockErr != nil {
		return false, l.lockErr
	}
	if l.held {
		return false, nil
	}
	l.held = true
	l.locks++
	return true, nil
}

func (l *fakeLocker) Unlock(ctx context.Context, key string) error {
	l.held = false
	l.unlocks++
	return nil
}

type notifierCall struct {
	event string
	botID string
}

type fakeNotifier struct {
	calls []notifierCall
}

func (n *fakeNotifier) NotifyBelowMinimum(ctx context.Context, bot *models.Bot, symbol string, amount, minimum decimal.Decimal) {
	n.calls = append(n.calls, notifierCall{event: "below_minimum", botID: bot.ID})
}

func (n *fakeNotifier) NotifyError(ctx context.Context, bot *models.Bot, cause string) {
	n.calls = append(n.calls, notifierCall{event: "action_error", botID: bot.ID})
}

func (n *fakeNotifier) NotifyTargetReached(ctx context.Context, bot *models.Bot) {
	n.calls = append(n.calls, notifierCall{event: "target_reached", botID: bot.ID})
}

func (n *fakeNotifier) events() []string {
	var out []string
	for _, c := range n.calls {
		out = append(out, c.event)
	}
	return out
}

type fakeMetrics struct {
	runs    map[string]int
	repairs map[string]int
	errs    map[string]int
	orders  int
	skips   int
}

func (m *fakeMetrics) RecordActionRun(status string) {
	if m.runs == nil {
		m.runs = make(map[string]int)
	}
	m.runs[status]++
}

func (m *fakeMetrics) RecordOrderSubmitted(exchange, symbol string) { m.orders++ }

func (m *fakeMetrics) RecordSkip(exchange, symbol string) { m.skips++ }

func (m *fakeMetrics) RecordRepair(outcome string) {
	if m.repairs == nil {
		m.repairs = make(map[string]int)
	}
	m.repairs[outcome]++
}

func (m *fakeMetrics) RecordError(kind string) {
	if m.errs == nil {
		m.errs = make(map[string]int)
	}
	m.errs[kind]++
}

func (m *fakeMetrics) RecordLatency(op string, seconds float64) {}

var (
	_ drepo.BotRepository    = (*fakeBotRepo)(nil)
	_ drepo.TransactionStore = (*fakeTxStore)(nil)
	_ drepo.TickerRegistry   = (*fakeTickers)(nil)
	_ drepo.Exchange         = (*fakeExchange)(nil)
	_ drepo.TaskQueue        = (*fakeTaskQueue)(nil)
	_ Locker                 = (*fakeLocker)(nil)
	_ drepo.Notifier         = (*fakeNotifier)(nil)
	_ drepo.Metrics          = (*fakeMetrics)(nil)
)

// testBot returns a started hourly single bot anchored at the epoch.
func testBot() *models.Bot {
	return &models.Bot{
		ID:          "bot-1",
		Kind:        models.BotSingle,
		Status:      models.BotScheduled,
		Exchange:    "binance",
		QuoteAsset:  "USDT",
		BaseAssets:  []string{"BTC"},
		Interval:    models.IntervalHourly,
		OrderType:   models.OrderMarket,
		QuoteAmount: decimal.NewFromInt(10),
		StartedAt:   time.Unix(0, 0).UTC(),
	}
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}
