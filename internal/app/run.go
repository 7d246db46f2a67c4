package app

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Run starts the application and blocks until shutdown. It returns the halt
// error when the engine stops itself.
func (a *App) Run() error {
	stats := a.ledger.Stats()
	a.logger.Info("application-starting",
		zap.String("mode", a.cfg.ExecutionMode()),
		zap.String("window-slug-prefix", a.cfg.WindowSlugPrefix),
		zap.Float64("arb-threshold", a.cfg.ArbThreshold),
		zap.Float64("arb-max-trade-size", a.cfg.ArbMaxTradeSize),
		zap.String("storage-backend", a.cfg.StorageBackend),
		zap.Int("recorded-trades", stats.TotalTrades),
		zap.Float64("recorded-profit", stats.TotalProfit),
		zap.String("log-level", a.cfg.LogLevel))

	engineErr, err := a.startComponents()
	if err != nil {
		_ = a.Shutdown()
		return err
	}

	// Mark as ready
	a.healthChecker.SetReady(true)

	a.logger.Info("application-ready",
		zap.String("http-addr", ":"+a.cfg.HTTPPort),
		zap.Bool("streaming-books", a.wsManager != nil))

	// Wait for shutdown signal
	return a.waitForShutdown(engineErr)
}

func (a *App) startComponents() (<-chan error, error) {
	// Start HTTP server
	a.wg.Add(1)
	go a.runHTTPServer()

	// Give HTTP server a moment to start
	time.Sleep(100 * time.Millisecond)

	if a.wsManager != nil {
		err := a.wsManager.Start()
		if err != nil {
			return nil, fmt.Errorf("start websocket manager: %w", err)
		}

		err = a.obManager.Start(a.ctx)
		if err != nil {
			return nil, fmt.Errorf("start orderbook manager: %w", err)
		}
	}

	engineErr := make(chan error, 1)
	a.wg.Add(1)
	go a.runLifecycle(engineErr)

	return engineErr, nil
}

func (a *App) runHTTPServer() {
	defer a.wg.Done()
	err := a.httpServer.Start()
	if err != nil {
		a.logger.Error("http-server-error", zap.Error(err))
	}
}

func (a *App) runLifecycle(engineErr chan<- error) {
	defer a.wg.Done()
	err := a.lifecycle.Run(a.ctx)
	if err != nil {
		a.logger.Error("lifecycle-error", zap.Error(err))
	}
	engineErr <- err
}

func (a *App) waitForShutdown(engineErr <-chan error) error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var runErr error
	select {
	case sig := <-sigChan:
		a.logger.Info("shutdown-signal-received", zap.String("signal", sig.String()))
	case <-a.ctx.Done():
		a.logger.Info("context-cancelled")
	case err := <-engineErr:
		runErr = err
		if err == nil && a.ctx.Err() == nil {
			runErr = errors.New("lifecycle stopped unexpectedly")
		}
	}

	shutdownErr := a.Shutdown()
	if runErr != nil {
		return runErr
	}
	return shutdownErr
}
