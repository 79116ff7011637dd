//go:build wireinject
// +build wireinject

package di

import (
	"IntelWatch/pkg/config"
	"IntelWatch/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		ProvideResources,
		ProvideMetrics,

		// Infrastructure clients
		ProvideKafkaProducer,
		ProvideLogger,
		ProvideRedisClient,
		ProvideCache,
		ProvideStores,
		ProvideSnapshotStore,
		ProvideQueue,

		// Analytics
		ProvideAnalysisEngine,
		ProvideDetectorRegistry,
		ProvideAlertScorer,
		ProvideAggregator,
		ProvideRootCauseAnalyzer,
		ProvideChangeDetector,

		// Delivery
		ProvideAlertHub,
		ProvideAlertDispatcher,

		// Use cases
		ProvideCheckService,
		ProvideMonitorService,
		ProvideMaintenanceService,
		ProvideDeliveryService,
		ProvideScheduler,
		ProvideCommandHandler,

		// Transport
		ProvideKafkaConsumer,
		ProvideHTTPServer,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
