package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionStatus string

const (
	TxSkipped TransactionStatus = "skipped" // below exchange minimum, nothing sent
	TxPending TransactionStatus = "pending" // submitted, fill not yet reported
	TxClosed  TransactionStatus = "closed"  // filled
	TxFailed  TransactionStatus = "failed"
)

// Transaction is one append-only record of an attempted action leg.
// Skipped rows always carry zero executed amounts.
type Transaction struct {
	ID              string
	BotID           string
	Status          TransactionStatus
	Symbol          string
	QuoteAmount     decimal.Decimal // intended spend
	AmountExec      decimal.Decimal // base asset actually acquired
	QuoteAmountExec decimal.Decimal // quote actually spent
	OrderID         string
	CreatedAt       time.Time
}
