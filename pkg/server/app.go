package server

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"PriceSentinel/internal/service/feed"
	"PriceSentinel/internal/usecase"
	"PriceSentinel/pkg/config"
	xhttp "PriceSentinel/pkg/http"
	applogger "PriceSentinel/pkg/logger"
)

// App encapsulates the entire application lifecycle: the price feed, the
// live monitor, the HTTP server, and the alert backend.
type App struct {
	cfg     *config.Config
	logger  *applogger.Logger
	feed    *feed.Service
	monitor *usecase.PriceMonitor
	backend io.Closer

	httpServer  *xhttp.Server
	httpHandler xhttp.Handler
}

// New creates a new App instance with all dependencies.
func New(
	cfg *config.Config,
	logger *applogger.Logger,
	fd *feed.Service,
	monitor *usecase.PriceMonitor,
	backend io.Closer,
	handler xhttp.Handler,
) *App {
	return &App{
		cfg:         cfg,
		logger:      logger,
		feed:        fd,
		monitor:     monitor,
		backend:     backend,
		httpHandler: handler,
	}
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Browser UI clients call the API cross-origin.
	a.httpServer = xhttp.NewServer(a.httpHandler,
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
		xhttp.WithCORS(true),
	)

	if err := a.feed.Start(ctx); err != nil {
		return err
	}
	if err := a.monitor.Start(ctx, a.cfg.Feed.Symbols); err != nil {
		a.feed.Stop()
		return err
	}
	a.logger.Info("monitor started", applogger.Strings("symbols", a.cfg.Feed.Symbols))

	if err := a.httpServer.Start(); err != nil {
		a.logger.Error("http server start error", applogger.Error(err))
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	a.logger.Info("shutdown signal received")
	return a.shutdown(ctx)
}

// shutdown gracefully stops all services.
func (a *App) shutdown(ctx context.Context) error {
	a.monitor.Stop()
	a.feed.Stop()

	shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := a.httpServer.Stop(shutdownCtx); err != nil {
		a.logger.Error("http shutdown error", applogger.Error(err))
	}

	if a.backend != nil {
		if err := a.backend.Close(); err != nil {
			a.logger.Warn("alert backend close error", applogger.Error(err))
		}
	}

	a.logger.Info("shutdown complete")
	return nil
}
