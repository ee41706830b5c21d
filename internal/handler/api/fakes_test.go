package api

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/0x556c79/deltabadger/internal/domain/models"
	drepo "github.com/0x556c79/deltabadger/internal/domain/repository"
	"github.com/0x556c79/deltabadger/internal/usecase"
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

type fakeBotRepo struct {
	bots  map[string]*models.Bot
	order []string
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

type fakeTxStore struct {
	rows []*models.Transaction
}

func (s *fakeTxStore) Init(ctx context.Context) error { return nil }

func (s *fakeTxStore) Store(ctx context.Context, tx *models.Transaction) error {
	cp := *tx
	s.rows = append(s.rows, &cp)
	return nil
}

func (s *fakeTxStore) Query(ctx context.Context, botID string, from, to time.Time, limit int) ([]*models.Transaction, error) {
	var out []*models.Transaction
	for _, tx := range s.rows {
		if tx.BotID != botID {
			continue
		}
		out = append(out, tx)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *fakeTxStore) SumQuoteExecSince(ctx context.Context, botID string, since time.Time) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func (s *fakeTxStore) Health(ctx context.Context) error { return nil }
func (s *fakeTxStore) Close() error                     { return nil }

type fakeTaskQueue struct {
	tasks map[string]time.Time
}

func newFakeTaskQueue() *fakeTaskQueue {
	return &fakeTaskQueue{tasks: make(map[string]time.Time)}
}

func (q *fakeTaskQueue) member(kind, key string) string { return kind + ":" + key }

func (q *fakeTaskQueue) Enqueue(ctx context.Context, kind, key string, runAt time.Time) error {
	q.tasks[q.member(kind, key)] = runAt
	return nil
}

func (q *fakeTaskQueue) CancelAll(ctx context.Context, kind, key string) error {
	delete(q.tasks, q.member(kind, key))
	return nil
}

func (q *fakeTaskQueue) IsPending(ctx context.Context, kind, key string) (bool, error) {
	_, ok := q.tasks[q.member(kind, key)]
	return ok, nil
}

func (q *fakeTaskQueue) NextRunAt(ctx context.Context, kind, key string) (*time.Time, error) {
	at, ok := q.tasks[q.member(kind, key)]
	if !ok {
		return nil, nil
	}
	return &at, nil
}

type fakeTickers struct{}

func (f *fakeTickers) MinQuoteSize(ctx context.Context, exchange, symbol string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func (f *fakeTickers) LastPrice(ctx context.Context, exchange, symbol string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func (f *fakeTickers) SetLastPrice(ctx context.Context, exchange, symbol string, price decimal.Decimal) error {
	return nil
}

type fakeNotifier struct{}

func (n *fakeNotifier) NotifyBelowMinimum(ctx context.Context, bot *models.Bot, symbol string, amount, minimum decimal.Decimal) {
}
func (n *fakeNotifier) NotifyError(ctx context.Context, bot *models.Bot, cause string) {}
func (n *fakeNotifier) NotifyTargetReached(ctx context.Context, bot *models.Bot)       {}

type fakeMetrics struct{}

func (m *fakeMetrics) RecordActionRun(status string)                {}
func (m *fakeMetrics) RecordOrderSubmitted(exchange, symbol string) {}
func (m *fakeMetrics) RecordSkip(exchange, symbol string)           {}
func (m *fakeMetrics) RecordRepair(outcome string)                  {}
func (m *fakeMetrics) RecordError(kind string)                      {}
func (m *fakeMetrics) RecordLatency(op string, seconds float64)     {}

var (
	_ drepo.BotRepository    = (*fakeBotRepo)(nil)
	_ drepo.TransactionStore = (*fakeTxStore)(nil)
	_ drepo.TaskQueue        = (*fakeTaskQueue)(nil)
	_ drepo.TickerRegistry   = (*fakeTickers)(nil)
	_ drepo.Notifier         = (*fakeNotifier)(nil)
	_ drepo.Metrics          = (*fakeMetrics)(nil)
)

// handlerEnv wires a handler over in-memory fakes with real usecases.
type handlerEnv struct {
	h     *BotsEchoHandler
	bots  *fakeBotRepo
	txs   *fakeTxStore
	queue *fakeTaskQueue
}

func newTestEnv(t *testing.T, bots ...*models.Bot) *handlerEnv {
	t.Helper()

	repo := newFakeBotRepo(bots...)
	txs := &fakeTxStore{}
	q := newFakeTaskQueue()
	lgr := newTestLogger(t)

	scheduler := usecase.NewActionScheduler(q)
	pending := usecase.NewPendingCalculator(txs)
	notifier := &fakeNotifier{}
	metrics := &fakeMetrics{}
	executor := usecase.NewOrderExecutor(repo, txs, &fakeTickers{}, map[string]drepo.Exchange{}, pending, notifier, metrics, lgr)
	runner := usecase.NewBotRunner(repo, scheduler, executor, pending, notifier, metrics, lgr)

	return &handlerEnv{
		h:     NewBotsEchoHandler(lgr, runner, repo, txs, pending, scheduler),
		bots:  repo,
		txs:   txs,
		queue: q,
	}
}

// scheduledBot returns an active hourly bot anchored one hour back, so one
// interval has elapsed.
func scheduledBot(id string) *models.Bot {
	now := time.Now().UTC()
	return &models.Bot{
		ID:                id,
		Kind:              models.BotSingle,
		Status:            models.BotScheduled,
		Exchange:          "binance",
		QuoteAsset:        "USDT",
		BaseAssets:        []string{"BTC"},
		Interval:          models.IntervalHourly,
		OrderType:         models.OrderMarket,
		QuoteAmount:       decimal.NewFromInt(25),
		MissedQuoteAmount: decimal.Zero,
		TargetQuoteAmount: decimal.Zero,
		StartedAt:         now.Add(-time.Hour),
		CreatedAt:         now.Add(-2 * time.Hour),
		UpdatedAt:         now.Add(-time.Hour),
	}
}

// stoppedBot returns an inactive bot.
func stoppedBot(id string) *models.Bot {
	b := scheduledBot(id)
	b.Status = models.BotStopped
	b.StartedAt = time.Time{}
	return b
}
