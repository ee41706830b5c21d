package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Ticker is read-only market metadata for one (exchange, symbol) pair.
type Ticker struct {
	Exchange     string
	Symbol       string
	MinQuoteSize decimal.Decimal // exchange minimum notional per order
	LastPrice    decimal.Decimal
	UpdatedAt    time.Time
}
