package di

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/0x556c79/deltabadger/internal/domain/repository"
	"github.com/0x556c79/deltabadger/internal/handler/api"
	mid "github.com/0x556c79/deltabadger/internal/middleware"
	internalrepo "github.com/0x556c79/deltabadger/internal/repository"
	"github.com/0x556c79/deltabadger/internal/service/binance"
	"github.com/0x556c79/deltabadger/internal/service/marketdata"
	"github.com/0x556c79/deltabadger/internal/service/ratelimit"
	"github.com/0x556c79/deltabadger/internal/usecase"
	pkgcache "github.com/0x556c79/deltabadger/pkg/cache"
	pkgch "github.com/0x556c79/deltabadger/pkg/clickhouse"
	"github.com/0x556c79/deltabadger/pkg/config"
	xhttp "github.com/0x556c79/deltabadger/pkg/http"
	pkgkafka "github.com/0x556c79/deltabadger/pkg/kafka"
	applogger "github.com/0x556c79/deltabadger/pkg/logger"
	"github.com/0x556c79/deltabadger/pkg/metrics"
	"github.com/0x556c79/deltabadger/pkg/queue"
	"github.com/0x556c79/deltabadger/pkg/server"
)

// logPublisher adapts the Kafka producer to the log collector's Publisher.
// Entries are keyed by caller so repeats of one site stay on one partition.
type logPublisher struct {
	producer *pkgkafka.Producer
}

func (p logPublisher) PublishLogs(ctx context.Context, topic string, entries []applogger.AggregatedLogEntry) error {
	msgs := make([]pkgkafka.Message, 0, len(entries))
	for _, e := range entries {
		msgs = append(msgs, pkgkafka.Message{Key: []byte(e.Caller), Value: e})
	}
	return p.producer.PublishBatch(ctx, topic, msgs)
}

// ProvideLogger creates the application logger. When an errors topic is
// configured, repeated error logs are aggregated and shipped to Kafka.
func ProvideLogger(cfg *config.Config, producer *pkgkafka.Producer) (*applogger.Logger, error) {
	format := "console"
	if cfg.Environment == "production" {
		format = "json"
	}
	l, err := applogger.New(&applogger.Config{Level: "info", Format: format, Output: "stdout"})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	if cfg.Kafka.ErrorsTopic != "" {
		l.AddCollector(&applogger.CollectionConfig{
			TimeInterval:   30 * time.Second,
			CountThreshold: 100,
			Topic:          cfg.Kafka.ErrorsTopic,
			Publisher:      logPublisher{producer: producer},
		})
	}
	return l, nil
}

// ProvideRedisCache creates the shared Redis connection wrapped in a cache.
func ProvideRedisCache(cfg *config.Config) (*pkgcache.RedisCache, error) {
	host, portStr, err := net.SplitHostPort(cfg.Redis.Addr)
	if err != nil {
		return nil, fmt.Errorf("redis addr: %w", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("redis port: %w", err)
	}

	rc, err := pkgcache.NewRedisCache(
		pkgcache.WithRedisHost(host),
		pkgcache.WithRedisPort(port),
		pkgcache.WithRedisPassword(cfg.Redis.Password),
		pkgcache.WithRedisDB(cfg.Redis.DB),
	)
	if err != nil {
		return nil, fmt.Errorf("redis cache: %w", err)
	}
	return rc, nil
}

// ProvideCacheService layers an in-process cache over Redis. Ticker metadata
// is read on every action, the L1 keeps those lookups off the wire.
func ProvideCacheService(rc *pkgcache.RedisCache) pkgcache.Service {
	return pkgcache.NewLayeredCache(rc)
}

// ProvideRedisClient exposes the raw client for the queue and repositories.
func ProvideRedisClient(rc *pkgcache.RedisCache) *redis.Client {
	return rc.Client()
}

// ProvideClickHouseClient creates a ClickHouse client.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := client.InitSchema(ctx, []string{
		"CREATE DATABASE IF NOT EXISTS " + cfg.ClickHouse.Database,
	}); err != nil {
		_ = client.Close() // cannot log here (DI layer no logger); propagate error
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}

	return client, nil
}

// ProvideTransactionStore creates the ClickHouse transaction store and its table.
func ProvideTransactionStore(chClient *pkgch.Client, cfg *config.Config) (repository.TransactionStore, error) {
	store := internalrepo.NewClickHouseTransactionStore(chClient.DB(), cfg.ClickHouse.Database+".bot_transactions")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("transaction store schema: %w", err)
	}
	return store, nil
}

// ProvideBotRepository creates the Redis bot repository.
func ProvideBotRepository(client *redis.Client) repository.BotRepository {
	return internalrepo.NewRedisBotRepository(client, "deltabadger:bots")
}

// ProvideKafkaProducer creates a Kafka producer.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatchSize(cfg.Kafka.Producer.BatchSize),
		pkgkafka.WithBatchBytes(cfg.Kafka.Producer.BatchBytes),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}

	return producer, nil
}

// ProvideNotifier creates the notification fanout. Kafka is always on; a
// webhook backend joins when an URL is configured.
func ProvideNotifier(producer *pkgkafka.Producer, cfg *config.Config, lgr *applogger.Logger) repository.Notifier {
	kafka := internalrepo.NewKafkaNotifier(producer, cfg.Kafka.NotificationsTopic, lgr)
	if cfg.Notifications.WebhookURL == "" {
		return kafka
	}
	webhook := internalrepo.NewWebhookNotifier(cfg.Notifications.WebhookURL, cfg.Notifications.Timeout, lgr)
	return internalrepo.NewMultiNotifier(kafka, webhook)
}

// ProvideKafkaConsumer creates a Kafka consumer configured from YAML.
func ProvideKafkaConsumer(cfg *config.Config) (*pkgkafka.Consumer, error) {
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	return consumer, nil
}

// ProvideFillsHandler registers the handler for the fills topic.
func ProvideFillsHandler(txs repository.TransactionStore, m repository.Metrics, cfg *config.Config) *usecase.KafkaFillsHandler {
	return usecase.NewKafkaFillsHandler(cfg.Kafka.FillsTopic, txs, m)
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// ProvideDelayedQueue creates the Redis-backed delayed task queue.
func ProvideDelayedQueue(cfg *config.Config, client *redis.Client, lgr *applogger.Logger) *queue.DelayedQueue {
	qc := &queue.Config{
		Workers:      cfg.Queue.Workers,
		QueueSize:    cfg.Queue.QueueSize,
		PollInterval: cfg.Queue.PollInterval,
		RetryLimit:   cfg.Queue.RetryLimit,
		RetryDelay:   cfg.Queue.RetryDelay,
	}
	opts := []queue.DelayedQueueOption{}
	if cfg.Queue.KeyPrefix != "" {
		opts = append(opts, queue.WithKeyPrefix(cfg.Queue.KeyPrefix))
	}
	return queue.NewDelayedQueue(lgr, qc, client, queue.ModeProducerConsumer, opts...)
}

// ProvideTaskQueue adapts the delayed queue to the domain interface.
func ProvideTaskQueue(q *queue.DelayedQueue) repository.TaskQueue {
	return internalrepo.NewRedisTaskQueue(q)
}

// ProvideActionScheduler creates the bot action scheduler.
func ProvideActionScheduler(tq repository.TaskQueue) *usecase.ActionScheduler {
	return usecase.NewActionScheduler(tq)
}

// ProvideRateLimiter creates the shared exchange rate limiter.
func ProvideRateLimiter() *ratelimit.Limiter {
	return ratelimit.New()
}

// ProvideBinanceClient creates the Binance REST client.
func ProvideBinanceClient(cfg *config.Config, limiter *ratelimit.Limiter, lgr *applogger.Logger) (*binance.Client, error) {
	client, err := binance.NewClient(cfg.Binance.APIKey, cfg.Binance.APISecret, cfg.Binance.Testnet, limiter, lgr)
	if err != nil {
		return nil, fmt.Errorf("binance client: %w", err)
	}
	return client, nil
}

// ProvideExchanges maps venue names to their order clients.
func ProvideExchanges(bc *binance.Client) map[string]repository.Exchange {
	return map[string]repository.Exchange{
		binance.ExchangeName: bc,
	}
}

// ProvideTickerSources maps venue names to their symbol metadata sources.
func ProvideTickerSources(bc *binance.Client) map[string]internalrepo.TickerSource {
	return map[string]internalrepo.TickerSource{
		binance.ExchangeName: bc,
	}
}

// ProvideTickerRegistry creates the cached ticker registry.
func ProvideTickerRegistry(c pkgcache.Service, sources map[string]internalrepo.TickerSource, cfg *config.Config) repository.TickerRegistry {
	return internalrepo.NewCachedTickerRegistry(c, sources, cfg.Tickers.MinTTL, cfg.Tickers.PriceTTL)
}

// ProvidePendingCalculator creates the pending amount calculator.
func ProvidePendingCalculator(txs repository.TransactionStore) *usecase.PendingCalculator {
	return usecase.NewPendingCalculator(txs)
}

// ProvideOrderExecutor creates the order executor use case.
func ProvideOrderExecutor(
	bots repository.BotRepository,
	txs repository.TransactionStore,
	tickers repository.TickerRegistry,
	exchanges map[string]repository.Exchange,
	pending *usecase.PendingCalculator,
	notifier repository.Notifier,
	m repository.Metrics,
	lgr *applogger.Logger,
) *usecase.OrderExecutor {
	return usecase.NewOrderExecutor(bots, txs, tickers, exchanges, pending, notifier, m, lgr)
}

// ProvideBotRunner creates the bot runner use case.
func ProvideBotRunner(
	bots repository.BotRepository,
	scheduler *usecase.ActionScheduler,
	executor *usecase.OrderExecutor,
	pending *usecase.PendingCalculator,
	notifier repository.Notifier,
	m repository.Metrics,
	lgr *applogger.Logger,
) *usecase.BotRunner {
	return usecase.NewBotRunner(bots, scheduler, executor, pending, notifier, m, lgr)
}

// ProvideActionJob wraps the runner as a queue job.
func ProvideActionJob(runner *usecase.BotRunner) *usecase.ActionJob {
	return usecase.NewActionJob(runner)
}

// ProvideRepairSweep creates the orphan repair sweep. The cache service
// doubles as the cross-instance sweep lock.
func ProvideRepairSweep(
	bots repository.BotRepository,
	scheduler *usecase.ActionScheduler,
	c pkgcache.Service,
	m repository.Metrics,
	lgr *applogger.Logger,
) *usecase.RepairSweep {
	return usecase.NewRepairSweep(bots, scheduler, c, m, lgr)
}

// ProvideTickerStream creates the exchange WebSocket price stream.
func ProvideTickerStream(cfg *config.Config, lgr *applogger.Logger) repository.TickerStream {
	return marketdata.New(
		cfg.MarketData.WebSocketURL,
		cfg.MarketData.Symbols,
		cfg.MarketData.ReconnectDelay,
		cfg.MarketData.PingInterval,
		lgr,
	)
}

// ProvideTickerCollector creates the price collector use case.
func ProvideTickerCollector(
	stream repository.TickerStream,
	registry repository.TickerRegistry,
	m repository.Metrics,
	cfg *config.Config,
) *usecase.TickerCollector {
	writer := usecase.NewTickerWriter(registry)
	// Throttle between WebSocket and cache writes
	opts := []mid.PipelineOption{}
	if cfg.MarketData.MaxRPS > 0 {
		opts = append(opts, mid.WithMaxRPS(cfg.MarketData.MaxRPS))
	}
	if cfg.MarketData.BufferSize > 0 {
		opts = append(opts, mid.WithBufferSize(cfg.MarketData.BufferSize))
	}
	pipe := mid.NewTickerPipeline(writer, m, opts...)
	return usecase.NewTickerCollector(stream, writer, m, pipe)
}

// ProvideBotsHandler creates the operator HTTP handler.
func ProvideBotsHandler(
	lgr *applogger.Logger,
	runner *usecase.BotRunner,
	bots repository.BotRepository,
	txs repository.TransactionStore,
	pending *usecase.PendingCalculator,
	scheduler *usecase.ActionScheduler,
) xhttp.Handler {
	return api.NewBotsEchoHandler(lgr, runner, bots, txs, pending, scheduler)
}

// consumerHooks builds the fill consumer's hook chain: one hook stamps
// timing and trace context, the next records handling latency and logs
// failures.
func consumerHooks(m repository.Metrics, lgr *applogger.Logger) pkgkafka.ConsumerHook {
	trace := pkgkafka.HookFuncs{
		Before: func(ctx context.Context, topic string, km kafkago.Message, data []byte) (context.Context, kafkago.Message, []byte, error) {
			ctx = pkgkafka.WithStartTime(ctx, time.Now())
			ctx = pkgkafka.WithTraceID(ctx, pkgkafka.ExtractTraceID(km))
			return ctx, km, data, nil
		},
	}
	observe := pkgkafka.HookFuncs{
		After: func(ctx context.Context, topic string, km kafkago.Message, data []byte, err error) {
			if start, ok := pkgkafka.StartTime(ctx); ok {
				m.RecordLatency("fills_handle", time.Since(start).Seconds())
			}
		},
		Err: func(ctx context.Context, topic string, km kafkago.Message, data []byte, err error) {
			lgr.Warn("fill message failed",
				applogger.String("topic", topic),
				applogger.String("trace_id", pkgkafka.TraceID(ctx)),
				applogger.Error(err))
		},
	}
	return pkgkafka.NewHookChain(trace, observe)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	q *queue.DelayedQueue,
	actionJob *usecase.ActionJob,
	sweep *usecase.RepairSweep,
	collector *usecase.TickerCollector,
	consumer *pkgkafka.Consumer,
	fh *usecase.KafkaFillsHandler,
	bots repository.BotRepository,
	txs repository.TransactionStore,
	chClient *pkgch.Client,
	handler xhttp.Handler,
	m repository.Metrics,
	lgr *applogger.Logger,
) *server.App {
	if consumer != nil {
		consumer.WithConsumerHook(consumerHooks(m, lgr))
	}
	app := server.New(cfg, lgr, q, actionJob, sweep, collector, consumer, fh, bots, txs, chClient)
	app.SetHTTPHandler(handler)
	return app
}
