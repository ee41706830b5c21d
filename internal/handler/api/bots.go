package api

import (
	"time"

	models "github.com/0x556c79/deltabadger/internal/domain/models"
)

// botView is the transport shape of a bot. Amounts travel as decimal strings,
// derived fields are pointers so absent values drop out of the payload.
type botView struct {
	ID                 string     `json:"id"`
	Kind               string     `json:"kind"`
	Status             string     `json:"status"`
	Exchange           string     `json:"exchange"`
	QuoteAsset         string     `json:"quote_asset"`
	BaseAssets         []string   `json:"base_assets"`
	Weights            []string   `json:"weights,omitempty"`
	Interval           string     `json:"interval"`
	OrderType          string     `json:"order_type"`
	QuoteAmount        string     `json:"quote_amount"`
	MissedQuoteAmount  string     `json:"missed_quote_amount"`
	TargetQuoteAmount  string     `json:"target_quote_amount,omitempty"`
	PendingQuoteAmount *string    `json:"pending_quote_amount,omitempty"`
	StartedAt          *time.Time `json:"started_at,omitempty"`
	LastActionJobAt    *time.Time `json:"last_action_job_at,omitempty"`
	NextActionJobAt    *time.Time `json:"next_action_job_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

type transactionView struct {
	ID              string    `json:"id"`
	BotID           string    `json:"bot_id"`
	Status          string    `json:"status"`
	Symbol          string    `json:"symbol"`
	QuoteAmount     string    `json:"quote_amount"`
	AmountExec      string    `json:"amount_exec"`
	QuoteAmountExec string    `json:"quote_amount_exec"`
	OrderID         string    `json:"order_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

func renderTransaction(t *models.Transaction) *transactionView {
	return &transactionView{
		ID:              t.ID,
		BotID:           t.BotID,
		Status:          string(t.Status),
		Symbol:          t.Symbol,
		QuoteAmount:     t.QuoteAmount.String(),
		AmountExec:      t.AmountExec.String(),
		QuoteAmountExec: t.QuoteAmountExec.String(),
		OrderID:         t.OrderID,
		CreatedAt:       t.CreatedAt,
	}
}
