//go:build wireinject
// +build wireinject

package di

import (
	"github.com/0x556c79/deltabadger/pkg/config"
	"github.com/0x556c79/deltabadger/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Ambient
		ProvideLogger,
		ProvideMetrics,

		// Infrastructure clients
		ProvideRedisCache,
		ProvideCacheService,
		ProvideRedisClient,
		ProvideClickHouseClient,
		ProvideKafkaProducer,
		ProvideKafkaConsumer,
		ProvideRateLimiter,
		ProvideBinanceClient,

		// Repositories (with business logic)
		ProvideBotRepository,
		ProvideTransactionStore,
		ProvideNotifier,
		ProvideExchanges,
		ProvideTickerSources,
		ProvideTickerRegistry,
		ProvideDelayedQueue,
		ProvideTaskQueue,

		// Use cases
		ProvidePendingCalculator,
		ProvideActionScheduler,
		ProvideOrderExecutor,
		ProvideBotRunner,
		ProvideActionJob,
		ProvideRepairSweep,
		ProvideFillsHandler,
		ProvideTickerStream,
		ProvideTickerCollector,

		// HTTP
		ProvideBotsHandler,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
