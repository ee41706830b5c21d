package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/0x556c79/deltabadger/internal/domain/models"
	"github.com/0x556c79/deltabadger/internal/domain/repository"
)

// ClickHouseTransactionStore implements TransactionStore for ClickHouse.
// The table is append-only; duplicate fill reports collapse on (bot_id, id)
// through the ReplacingMergeTree engine, so sums stay correct under
// at-least-once delivery.
type ClickHouseTransactionStore struct {
	db    *sql.DB
	table string
}

// NewClickHouseTransactionStore creates ClickHouse transaction storage.
func NewClickHouseTransactionStore(db *sql.DB, table string) repository.TransactionStore {
	return &ClickHouseTransactionStore{db: db, table: table}
}

func (s *ClickHouseTransactionStore) Init(ctx context.Context) error {
	q := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id String,
		bot_id String,
		status String,
		symbol String,
		quote_amount Decimal(38, 18),
		amount_exec Decimal(38, 18),
		quote_amount_exec Decimal(38, 18),
		order_id String,
		created_at DateTime64(3)
	) ENGINE = ReplacingMergeTree(created_at)
	ORDER BY (bot_id, id)`, s.table)
	if _, err := s.db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("init transactions table: %w", err)
	}
	return nil
}

func (s *ClickHouseTransactionStore) Store(ctx context.Context, t *models.Transaction) error {
	q := fmt.Sprintf("INSERT INTO %s (id, bot_id, status, symbol, quote_amount, amount_exec, quote_amount_exec, order_id, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)", s.table)
	// Decimals travel as strings, ClickHouse casts on insert.
	_, err := s.db.ExecContext(ctx, q,
		t.ID,
		t.BotID,
		string(t.Status),
		t.Symbol,
		t.QuoteAmount.String(),
		t.AmountExec.String(),
		t.QuoteAmountExec.String(),
		t.OrderID,
		t.CreatedAt,
	)
	return err
}

func (s *ClickHouseTransactionStore) Query(ctx context.Context, botID string, from, to time.Time, limit int) ([]*models.Transaction, error) {
	q := fmt.Sprintf("SELECT id, bot_id, status, symbol, toString(quote_amount), toString(amount_exec), toString(quote_amount_exec), order_id, created_at FROM %s FINAL WHERE bot_id = ? AND created_at >= ? AND created_at <= ? ORDER BY created_at DESC LIMIT ?", s.table)
	rows, err := s.db.QueryContext(ctx, q, botID, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []*models.Transaction
	for rows.Next() {
		var (
			t                  models.Transaction
			status             string
			quote, exec, qexec string
		)
		if err := rows.Scan(&t.ID, &t.BotID, &status, &t.Symbol, &quote, &exec, &qexec, &t.OrderID, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Status = models.TransactionStatus(status)
		if t.QuoteAmount, err = decimal.NewFromString(quote); err != nil {
			return nil, fmt.Errorf("parse quote_amount: %w", err)
		}
		if t.AmountExec, err = decimal.NewFromString(exec); err != nil {
			return nil, fmt.Errorf("parse amount_exec: %w", err)
		}
		if t.QuoteAmountExec, err = decimal.NewFromString(qexec); err != nil {
			return nil, fmt.Errorf("parse quote_amount_exec: %w", err)
		}
		txs = append(txs, &t)
	}
	return txs, rows.Err()
}

func (s *ClickHouseTransactionStore) SumQuoteExecSince(ctx context.Context, botID string, since time.Time) (decimal.Decimal, error) {
	q := fmt.Sprintf("SELECT toString(sum(quote_amount_exec)) FROM %s FINAL WHERE bot_id = ? AND created_at >= ?", s.table)

	var total string
	if err := s.db.QueryRowContext(ctx, q, botID, since).Scan(&total); err != nil {
		return decimal.Zero, fmt.Errorf("sum quote exec: %w", err)
	}

	sum, err := decimal.NewFromString(total)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse sum: %w", err)
	}
	return sum, nil
}

func (s *ClickHouseTransactionStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *ClickHouseTransactionStore) Close() error {
	return nil // Managed by pkg
}
