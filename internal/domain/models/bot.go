package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type BotStatus string

const (
	BotStarted   BotStatus = "started"   // activated, first action not yet enqueued
	BotScheduled BotStatus = "scheduled" // waiting for the next checkpoint
	BotRetrying  BotStatus = "retrying"  // last action failed, eligible for repair
	BotStopped   BotStatus = "stopped"
)

// Active reports whether the bot is expected to have an outstanding task.
func (s BotStatus) Active() bool {
	return s == BotScheduled || s == BotRetrying
}

type BotKind string

const (
	BotSingle BotKind = "single" // one base asset
	BotDual   BotKind = "dual"   // two base assets, weighted split
)

type Interval string

const (
	IntervalHourly Interval = "hourly"
	IntervalDaily  Interval = "daily"
	IntervalWeekly Interval = "weekly"
)

// Duration returns the fixed wall-clock span of one interval, 0 for unknown values.
func (i Interval) Duration() time.Duration {
	switch i {
	case IntervalHourly:
		return time.Hour
	case IntervalDaily:
		return 24 * time.Hour
	case IntervalWeekly:
		return 7 * 24 * time.Hour
	}
	return 0
}

func (i Interval) Valid() bool { return i.Duration() > 0 }

type OrderType string

const (
	OrderMarket OrderType = "market"
	OrderLimit  OrderType = "limit"
)

// Bot is a recurring trading action. Weights apply to dual bots only and
// must sum to 1. TargetQuoteAmount zero means no lifetime budget.
type Bot struct {
	ID                string
	Kind              BotKind
	Status            BotStatus
	Exchange          string // empty means no usable exchange account
	QuoteAsset        string
	BaseAssets        []string
	Weights           []decimal.Decimal
	Interval          Interval
	OrderType         OrderType
	QuoteAmount       decimal.Decimal
	MissedQuoteAmount decimal.Decimal
	TargetQuoteAmount decimal.Decimal
	StartedAt         time.Time
	LastActionJobAt   *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (b *Bot) HasExchange() bool { return b.Exchange != "" }

// Symbol returns the trading pair for the given leg, e.g. BTC + USDT -> BTCUSDT.
func (b *Bot) Symbol(leg int) string {
	if leg < 0 || leg >= len(b.BaseAssets) {
		return ""
	}
	return b.BaseAssets[leg] + b.QuoteAsset
}

// Weight returns the configured share for the given leg, defaulting to an
// even split when weights are absent.
func (b *Bot) Weight(leg int) decimal.Decimal {
	if leg < len(b.Weights) {
		return b.Weights[leg]
	}
	if n := len(b.BaseAssets); n > 0 {
		return decimal.NewFromInt(1).Div(decimal.NewFromInt(int64(n)))
	}
	return decimal.Zero
}
