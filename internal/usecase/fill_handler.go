package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/0x556c79/deltabadger/internal/domain/models"
	drepo "github.com/0x556c79/deltabadger/internal/domain/repository"
	pkgkafka "github.com/0x556c79/deltabadger/pkg/kafka"
)

// KafkaFillsHandler consumes fill reports and appends them to the
// transaction store. This is the only place an execution becomes visible to
// the pending amount, the submit path records nothing on success.
type KafkaFillsHandler struct {
	topic   string
	txs     drepo.TransactionStore
	metrics drepo.Metrics
}

func NewKafkaFillsHandler(topic string, txs drepo.TransactionStore, metrics drepo.Metrics) *KafkaFillsHandler {
	return &KafkaFillsHandler{topic: topic, txs: txs, metrics: metrics}
}

func (h *KafkaFillsHandler) Topic() string { return h.topic }

// incoming message schema: {order_id, bot_id, symbol, status, quote_amount, amount_exec, quote_amount_exec, t}
func (h *KafkaFillsHandler) Handle(ctx context.Context, b []byte) error {
	var m struct {
		OrderID         string `json:"order_id"`
		BotID           string `json:"bot_id"`
		Symbol          string `json:"symbol"`
		Status          string `json:"status"`
		QuoteAmount     string `json:"quote_amount"`
		AmountExec      string `json:"amount_exec"`
		QuoteAmountExec string `json:"quote_amount_exec"`
		T               int64  `json:"t"`
	}
	if err := json.Unmarshal(b, &m); err != nil {
		h.metrics.RecordError("fills_unmarshal")
		return err
	}

	status := models.TransactionStatus(m.Status)
	if status != models.TxClosed && status != models.TxFailed {
		h.metrics.RecordError("fills_status")
		return fmt.Errorf("unexpected fill status %q", m.Status)
	}
	if m.BotID == "" {
		h.metrics.RecordError("fills_bot_id")
		return fmt.Errorf("fill report without bot_id")
	}

	tx := &models.Transaction{
		ID:      m.OrderID,
		BotID:   m.BotID,
		Status:  status,
		Symbol:  m.Symbol,
		OrderID: m.OrderID,
	}
	// Reports are delivered at least once; keying the row by the order ID
	// lets duplicates collapse in storage.
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}

	var err error
	if tx.QuoteAmount, err = parseAmount(m.QuoteAmount); err != nil {
		h.metrics.RecordError("fills_amount")
		return fmt.Errorf("quote_amount: %w", err)
	}
	if tx.AmountExec, err = parseAmount(m.AmountExec); err != nil {
		h.metrics.RecordError("fills_amount")
		return fmt.Errorf("amount_exec: %w", err)
	}
	if tx.QuoteAmountExec, err = parseAmount(m.QuoteAmountExec); err != nil {
		h.metrics.RecordError("fills_amount")
		return fmt.Errorf("quote_amount_exec: %w", err)
	}

	if m.T > 1e11 { // ms
		m.T = m.T / 1000
	}
	if m.T > 0 {
		tx.CreatedAt = time.Unix(m.T, 0).UTC()
	} else {
		tx.CreatedAt = time.Now().UTC()
	}
	// E2E latency from fill time to now (approx)
	h.metrics.RecordLatency("fills_e2e_seconds", time.Since(tx.CreatedAt).Seconds())

	start := time.Now()
	err = h.txs.Store(ctx, tx)
	h.metrics.RecordLatency("fills_store_seconds", time.Since(start).Seconds())
	if err != nil {
		h.metrics.RecordError("fills_store")
		return err
	}
	return nil
}

func parseAmount(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

var _ pkgkafka.MessageHandler = (*KafkaFillsHandler)(nil)
