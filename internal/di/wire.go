//go:build wireinject
// +build wireinject

package di

import (
	"PriceSentinel/pkg/config"
	"PriceSentinel/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		ProvideLogger,
		ProvideMetrics,

		// Upstream client and feed
		ProvideQuoteClient,
		ProvideQuoteSource,
		ProvideFeed,

		// Alert delivery
		ProvideAlertBackend,
		ProvidePipeline,

		// Use cases
		ProvideMonitor,
		ProvideSeriesDetector,

		// HTTP surface
		ProvideCache,
		ProvideRoutes,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
