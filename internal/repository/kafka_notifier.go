package repository

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/0x556c79/deltabadger/internal/domain/models"
	"github.com/0x556c79/deltabadger/internal/domain/repository"
	pkgkafka "github.com/0x556c79/deltabadger/pkg/kafka"
	"github.com/0x556c79/deltabadger/pkg/logger"
)

// KafkaNotifier implements Notifier over a Kafka topic. Delivery is
// best-effort: failures are logged and swallowed, a broker outage must not
// fail a trading action.
type KafkaNotifier struct {
	producer *pkgkafka.Producer
	topic    string
	logger   *logger.Logger
}

// NewKafkaNotifier creates a Kafka notifier.
func NewKafkaNotifier(producer *pkgkafka.Producer, topic string, lgr *logger.Logger) repository.Notifier {
	return &KafkaNotifier{producer: producer, topic: topic, logger: lgr}
}

func (n *KafkaNotifier) NotifyBelowMinimum(ctx context.Context, bot *models.Bot, symbol string, amount, minimum decimal.Decimal) {
	n.publish(ctx, bot.ID, map[string]interface{}{
		"event":   "below_minimum",
		"bot_id":  bot.ID,
		"symbol":  symbol,
		"amount":  amount.String(),
		"minimum": minimum.String(),
		"at":      time.Now().UTC().Format(time.RFC3339),
	})
}

func (n *KafkaNotifier) NotifyError(ctx context.Context, bot *models.Bot, cause string) {
	n.publish(ctx, bot.ID, map[string]interface{}{
		"event":  "action_error",
		"bot_id": bot.ID,
		"cause":  cause,
		"at":     time.Now().UTC().Format(time.RFC3339),
	})
}

func (n *KafkaNotifier) NotifyTargetReached(ctx context.Context, bot *models.Bot) {
	n.publish(ctx, bot.ID, map[string]interface{}{
		"event":  "target_reached",
		"bot_id": bot.ID,
		"target": bot.TargetQuoteAmount.String(),
		"at":     time.Now().UTC().Format(time.RFC3339),
	})
}

func (n *KafkaNotifier) publish(ctx context.Context, botID string, payload map[string]interface{}) {
	if err := n.producer.Publish(ctx, n.topic, []byte(botID), payload); err != nil {
		n.logger.Error("notification publish failed",
			logger.String("bot_id", botID),
			logger.Error(err))
	}
}
