//go:build wireinject
// +build wireinject

package di

import (
	"github.com/VigneshwaranJheyaraman/charts-helper/pkg/config"
	"github.com/VigneshwaranJheyaraman/charts-helper/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Observability
		ProvideLogger,
		ProvideRegistry,
		ProvideMetrics,

		// Market session
		ProvideEventBus,
		ProvideMarketManager,
		ProvideBucketizer,

		// Infrastructure clients
		ProvideClickHouseClient,
		ProvideKafkaProducer,
		ProvideKafkaConsumer,
		ProvideCache,

		// Repositories
		ProvideCandleStore,
		ProvideHistoricalTransport,
		ProvideCandleSink,
		ProvideTickPublisher,
		ProvideFinnhubStream,

		// Use cases
		ProvideChartDataManager,
		ProvideTickProcessor,
		ProvideTickCollector,
		ProvideKafkaTicksHandler,

		// HTTP
		ProvideChartHandler,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
