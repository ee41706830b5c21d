package repository

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/0x556c79/deltabadger/internal/domain/models"
	"github.com/0x556c79/deltabadger/internal/domain/repository"
	xhttp "github.com/0x556c79/deltabadger/pkg/http"
	"github.com/0x556c79/deltabadger/pkg/logger"
)

// WebhookNotifier implements Notifier by POSTing event payloads to an
// operator-configured URL. Same best-effort contract as the Kafka notifier:
// a dead endpoint must not fail a trading action.
type WebhookNotifier struct {
	client *xhttp.Client
	url    string
	logger *logger.Logger
}

// NewWebhookNotifier creates a webhook notifier posting to url.
func NewWebhookNotifier(url string, timeout time.Duration, lgr *logger.Logger) repository.Notifier {
	return &WebhookNotifier{
		client: xhttp.NewClient(xhttp.WithTimeout(timeout)),
		url:    url,
		logger: lgr,
	}
}

func (n *WebhookNotifier) NotifyBelowMinimum(ctx context.Context, bot *models.Bot, symbol string, amount, minimum decimal.Decimal) {
	n.post(ctx, bot.ID, map[string]interface{}{
		"event":   "below_minimum",
		"bot_id":  bot.ID,
		"symbol":  symbol,
		"amount":  amount.String(),
		"minimum": minimum.String(),
		"at":      time.Now().UTC().Format(time.RFC3339),
	})
}

func (n *WebhookNotifier) NotifyError(ctx context.Context, bot *models.Bot, cause string) {
	n.post(ctx, bot.ID, map[string]interface{}{
		"event":  "action_error",
		"bot_id": bot.ID,
		"cause":  cause,
		"at":     time.Now().UTC().Format(time.RFC3339),
	})
}

func (n *WebhookNotifier) NotifyTargetReached(ctx context.Context, bot *models.Bot) {
	n.post(ctx, bot.ID, map[string]interface{}{
		"event":  "target_reached",
		"bot_id": bot.ID,
		"target": bot.TargetQuoteAmount.String(),
		"at":     time.Now().UTC().Format(time.RFC3339),
	})
}

func (n *WebhookNotifier) post(ctx context.Context, botID string, payload map[string]interface{}) {
	opts := &xhttp.RequestOptions{
		Method: xhttp.MethodPost,
		URL:    n.url,
		Body:   payload,
	}
	if err := n.client.SendAndParse(ctx, opts, nil); err != nil {
		n.logger.Error("webhook notification failed",
			logger.String("bot_id", botID),
			logger.String("url", n.url),
			logger.Error(err))
	}
}

// MultiNotifier fans a notification out to every backend. Used when both the
// Kafka topic and a webhook URL are configured.
type MultiNotifier []repository.Notifier

// NewMultiNotifier combines notifiers into one fanout notifier.
func NewMultiNotifier(notifiers ...repository.Notifier) repository.Notifier {
	return MultiNotifier(notifiers)
}

func (m MultiNotifier) NotifyBelowMinimum(ctx context.Context, bot *models.Bot, symbol string, amount, minimum decimal.Decimal) {
	for _, n := range m {
		n.NotifyBelowMinimum(ctx, bot, symbol, amount, minimum)
	}
}

func (m MultiNotifier) NotifyError(ctx context.Context, bot *models.Bot, cause string) {
	for _, n := range m {
		n.NotifyError(ctx, bot, cause)
	}
}

func (m MultiNotifier) NotifyTargetReached(ctx context.Context, bot *models.Bot) {
	for _, n := range m {
		n.NotifyTargetReached(ctx, bot)
	}
}

var (
	_ repository.Notifier = (*WebhookNotifier)(nil)
	_ repository.Notifier = (MultiNotifier)(nil)
)
