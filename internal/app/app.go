package app

import (
	"context"
	"io"
	"sync"

	"github.com/mselser95/updown-arb/internal/alert"
	"github.com/mselser95/updown-arb/internal/circuitbreaker"
	"github.com/mselser95/updown-arb/internal/exchange"
	"github.com/mselser95/updown-arb/internal/execution"
	"github.com/mselser95/updown-arb/internal/ledger"
	"github.com/mselser95/updown-arb/internal/lifecycle"
	"github.com/mselser95/updown-arb/internal/orderbook"
	"github.com/mselser95/updown-arb/internal/risk"
	"github.com/mselser95/updown-arb/internal/storage"
	"github.com/mselser95/updown-arb/pkg/cache"
	"github.com/mselser95/updown-arb/pkg/config"
	"github.com/mselser95/updown-arb/pkg/healthprobe"
	"github.com/mselser95/updown-arb/pkg/httpserver"
	"github.com/mselser95/updown-arb/pkg/wallet"
	"github.com/mselser95/updown-arb/pkg/websocket"
	"go.uber.org/zap"
)

// App is the main application orchestrator.
type App struct {
	cfg           *config.Config
	logger        *zap.Logger
	healthChecker *healthprobe.HealthChecker
	httpServer    *httpserver.Server

	venue       exchange.Exchange
	wsManager   *websocket.Manager // nil unless streaming books
	obManager   *orderbook.Manager // nil unless streaming books
	marketCache cache.Cache        // nil in dry-run
	wallet      *wallet.Client     // nil in dry-run
	telegram    *alert.Telegram    // nil unless configured

	ledger      *ledger.Ledger
	gate        *risk.Gate
	breaker     *circuitbreaker.ExecutionBreaker
	coordinator *execution.Coordinator
	lifecycle   *lifecycle.Manager

	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	shutdownOnce sync.Once

	subMu      sync.Mutex
	subscribed []string
}

// Options holds application options.
type Options struct {
	// Exchange replaces the venue selected by the config. Used by tests.
	Exchange exchange.Exchange
	// Storage replaces the configured ledger backend. Used by tests.
	Storage storage.Storage
	// Console receives the human-readable trade log when CONSOLE_OUTPUT is set.
	Console io.Writer
}
