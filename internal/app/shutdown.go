package app

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Shutdown gracefully shuts down the application. The in-flight attempt, if any,
// finishes and is recorded before the ledger is closed. Safe to call more than once.
func (a *App) Shutdown() error {
	var err error
	a.shutdownOnce.Do(func() {
		err = a.shutdown()
	})
	return err
}

func (a *App) shutdown() error {
	a.logger.Info("application-shutting-down")

	a.healthChecker.SetReady(false)

	// Stop taking opportunities and wait for the current tick
	a.lifecycle.Stop()

	// Cancel context to signal all components
	a.cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// Shutdown HTTP server
	err := a.httpServer.Shutdown(shutdownCtx)
	if err != nil {
		a.logger.Error("http-server-shutdown-error", zap.Error(err))
	}

	a.closeStreams()

	// Wait for all goroutines
	a.wg.Wait()

	stats := a.ledger.Stats()
	a.logger.Info("final-stats",
		zap.Int("total-trades", stats.TotalTrades),
		zap.Int("missed", stats.Missed),
		zap.Int("open-positions", stats.OpenPositions),
		zap.Float64("total-invested", stats.TotalInvested),
		zap.Float64("total-profit", stats.TotalProfit),
		zap.Float64("win-rate", stats.WinRate()))

	ledgerErr := a.closeAll()

	a.logger.Info("application-shutdown-complete")

	return ledgerErr
}

// closeStreams stops the book stream. Only streams that were started are closed.
func (a *App) closeStreams() {
	if a.wsManager == nil {
		return
	}

	err := a.wsManager.Close()
	if err != nil {
		a.logger.Error("websocket-manager-close-error", zap.Error(err))
	}

	err = a.obManager.Close()
	if err != nil {
		a.logger.Error("orderbook-manager-close-error", zap.Error(err))
	}
}

// closeAll releases what setup acquired. It tolerates partially built apps.
func (a *App) closeAll() error {
	if a.telegram != nil {
		// drains queued alerts
		a.telegram.Close()
	}

	var err error
	if a.ledger != nil {
		err = a.ledger.Close()
		if err != nil {
			a.logger.Error("ledger-close-error", zap.Error(err))
		}
	}

	if a.marketCache != nil {
		a.marketCache.Close()
	}
	if a.wallet != nil {
		a.wallet.Close()
	}
	return err
}
