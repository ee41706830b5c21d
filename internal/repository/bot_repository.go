package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/0x556c79/deltabadger/internal/domain/models"
	"github.com/0x556c79/deltabadger/internal/domain/repository"
)

const updateRetries = 5

// RedisBotRepository implements BotRepository on Redis. Bots are stored as
// JSON values, updates run under WATCH so concurrent writers retry instead
// of clobbering each other.
type RedisBotRepository struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisBotRepository creates a Redis bot repository.
func NewRedisBotRepository(client *redis.Client, keyPrefix string) repository.BotRepository {
	if keyPrefix == "" {
		keyPrefix = "deltabadger:bots"
	}
	return &RedisBotRepository{client: client, keyPrefix: keyPrefix}
}

// botRecord is the persisted form. Domain models stay free of encoding tags.
type botRecord struct {
	ID                string            `json:"id"`
	Kind              string            `json:"kind"`
	Status            string            `json:"status"`
	Exchange          string            `json:"exchange"`
	QuoteAsset        string            `json:"quote_asset"`
	BaseAssets        []string          `json:"base_assets"`
	Weights           []decimal.Decimal `json:"weights,omitempty"`
	Interval          string            `json:"interval"`
	OrderType         string            `json:"order_type"`
	QuoteAmount       decimal.Decimal   `json:"quote_amount"`
	MissedQuoteAmount decimal.Decimal   `json:"missed_quote_amount"`
	TargetQuoteAmount decimal.Decimal   `json:"target_quote_amount"`
	StartedAt         time.Time         `json:"started_at"`
	LastActionJobAt   *time.Time        `json:"last_action_job_at,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

func toRecord(b *models.Bot) *botRecord {
	return &botRecord{
		ID:                b.ID,
		Kind:              string(b.Kind),
		Status:            string(b.Status),
		Exchange:          b.Exchange,
		QuoteAsset:        b.QuoteAsset,
		BaseAssets:        b.BaseAssets,
		Weights:           b.Weights,
		Interval:          string(b.Interval),
		OrderType:         string(b.OrderType),
		QuoteAmount:       b.QuoteAmount,
		MissedQuoteAmount: b.MissedQuoteAmount,
		TargetQuoteAmount: b.TargetQuoteAmount,
		StartedAt:         b.StartedAt,
		LastActionJobAt:   b.LastActionJobAt,
		CreatedAt:         b.CreatedAt,
		UpdatedAt:         b.UpdatedAt,
	}
}

func (r *botRecord) toModel() *models.Bot {
	return &models.Bot{
		ID:                r.ID,
		Kind:              models.BotKind(r.Kind),
		Status:            models.BotStatus(r.Status),
		Exchange:          r.Exchange,
		QuoteAsset:        r.QuoteAsset,
		BaseAssets:        r.BaseAssets,
		Weights:           r.Weights,
		Interval:          models.Interval(r.Interval),
		OrderType:         models.OrderType(r.OrderType),
		QuoteAmount:       r.QuoteAmount,
		MissedQuoteAmount: r.MissedQuoteAmount,
		TargetQuoteAmount: r.TargetQuoteAmount,
		StartedAt:         r.StartedAt,
		LastActionJobAt:   r.LastActionJobAt,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
}

func (r *RedisBotRepository) Create(ctx context.Context, bot *models.Bot) error {
	data, err := json.Marshal(toRecord(bot))
	if err != nil {
		return fmt.Errorf("marshal bot: %w", err)
	}

	pipe := r.client.TxPipeline()
	setCmd := pipe.SetNX(ctx, r.botKey(bot.ID), data, 0)
	pipe.SAdd(ctx, r.indexKey(), bot.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("create bot: %w", err)
	}
	if !setCmd.Val() {
		return fmt.Errorf("bot %s already exists", bot.ID)
	}
	return nil
}

func (r *RedisBotRepository) Get(ctx context.Context, id string) (*models.Bot, error) {
	data, err := r.client.Get(ctx, r.botKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, repository.ErrBotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get bot: %w", err)
	}

	var rec botRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal bot: %w", err)
	}
	return rec.toModel(), nil
}

// Update re-reads the bot under WATCH, applies mutate and writes the result
// back. On write contention the whole cycle reruns, so mutate sees fresh
// state on every attempt.
func (r *RedisBotRepository) Update(ctx context.Context, id string, mutate func(*models.Bot) error) (*models.Bot, error) {
	key := r.botKey(id)

	var updated *models.Bot
	txn := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return repository.ErrBotNotFound
		}
		if err != nil {
			return err
		}

		var rec botRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("unmarshal bot: %w", err)
		}

		bot := rec.toModel()
		if err := mutate(bot); err != nil {
			return err
		}
		bot.UpdatedAt = time.Now().UTC()

		out, err := json.Marshal(toRecord(bot))
		if err != nil {
			return fmt.Errorf("marshal bot: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, 0)
			return nil
		})
		if err != nil {
			return err
		}
		updated = bot
		return nil
	}

	for i := 0; i < updateRetries; i++ {
		err := r.client.Watch(ctx, txn, key)
		if err == nil {
			return updated, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return nil, fmt.Errorf("update bot: %w", err)
	}
	return nil, fmt.Errorf("update bot %s: too much contention", id)
}

// List returns bots ordered newest first. An empty status matches all.
func (r *RedisBotRepository) List(ctx context.Context, status models.BotStatus, limit int) ([]*models.Bot, error) {
	ids, err := r.client.SMembers(ctx, r.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list bot ids: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.botKey(id)
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("mget bots: %w", err)
	}

	bots := make([]*models.Bot, 0, len(values))
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			continue // index entry without value, skip
		}
		var rec botRecord
		if err := json.Unmarshal([]byte(s), &rec); err != nil {
			return nil, fmt.Errorf("unmarshal bot: %w", err)
		}
		if status != "" && rec.Status != string(status) {
			continue
		}
		bots = append(bots, rec.toModel())
	}

	sort.Slice(bots, func(i, j int) bool {
		return bots[i].CreatedAt.After(bots[j].CreatedAt)
	})
	if limit > 0 && len(bots) > limit {
		bots = bots[:limit]
	}
	return bots, nil
}

func (r *RedisBotRepository) Close() error {
	return nil // Managed by pkg
}

func (r *RedisBotRepository) botKey(id string) string {
	return fmt.Sprintf("%s:%s", r.keyPrefix, id)
}

func (r *RedisBotRepository) indexKey() string {
	return fmt.Sprintf("%s:index", r.keyPrefix)
}
