package repository

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/0x556c79/deltabadger/internal/domain/models"
)

var ErrBotNotFound = errors.New("bot not found")

type BotRepository interface {
	Create(ctx context.Context, bot *models.Bot) error
	Get(ctx context.Context, id string) (*models.Bot, error)
	// Update applies mutate under an optimistic transaction and returns the
	// stored result. mutate must be side-effect free, it may run again on
	// contention.
	Update(ctx context.Context, id string, mutate func(*models.Bot) error) (*models.Bot, error)
	List(ctx context.Context, status models.BotStatus, limit int) ([]*models.Bot, error)
	Close() error
}

type TransactionStore interface {
	Init(ctx context.Context) error // ensure tables
	Store(ctx context.Context, t *models.Transaction) error
	Query(ctx context.Context, botID string, from, to time.Time, limit int) ([]*models.Transaction, error)
	// SumQuoteExecSince returns the quote actually spent by the bot's
	// transactions created at or after the given instant. Skipped rows
	// carry zero executed amounts and contribute nothing.
	SumQuoteExecSince(ctx context.Context, botID string, since time.Time) (decimal.Decimal, error)
	Health(ctx context.Context) error // ping
	Close() error
}

type TickerRegistry interface {
	MinQuoteSize(ctx context.Context, exchange, symbol string) (decimal.Decimal, error)
	LastPrice(ctx context.Context, exchange, symbol string) (decimal.Decimal, error)
	SetLastPrice(ctx context.Context, exchange, symbol string, price decimal.Decimal) error
}

// Exchange submits orders for one venue. Quote-denominated buys only.
type Exchange interface {
	Name() string
	MarketBuy(ctx context.Context, symbol string, quoteAmount decimal.Decimal) (orderID string, err error)
	LimitBuy(ctx context.Context, symbol string, quoteAmount, price decimal.Decimal) (orderID string, err error)
	Balances(ctx context.Context, assets []string) (map[string]decimal.Decimal, error)
}

// TaskQueue schedules named tasks for future delivery. At most one task per
// (kind, key) pair is outstanding at any time.
type TaskQueue interface {
	Enqueue(ctx context.Context, kind, key string, runAt time.Time) error
	CancelAll(ctx context.Context, kind, key string) error
	IsPending(ctx context.Context, kind, key string) (bool, error)
	NextRunAt(ctx context.Context, kind, key string) (*time.Time, error)
}

type Notifier interface {
	NotifyBelowMinimum(ctx context.Context, bot *models.Bot, symbol string, amount, minimum decimal.Decimal)
	NotifyError(ctx context.Context, bot *models.Bot, cause string)
	NotifyTargetReached(ctx context.Context, bot *models.Bot)
}

// TickerStream delivers live price updates for the registry.
type TickerStream interface {
	Connect(ctx context.Context) error
	Read(ctx context.Context) (<-chan *models.Ticker, <-chan error)
	Reconnect(ctx context.Context) error
	Close() error
	IsConnected() bool
}

type Metrics interface {
	RecordActionRun(status string)
	RecordOrderSubmitted(exchange, symbol string)
	RecordSkip(exchange, symbol string)
	RecordRepair(outcome string)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
}
