package app

import (
	"context"
	"fmt"
	"io"

	"github.com/mselser95/updown-arb/internal/alert"
	"github.com/mselser95/updown-arb/internal/arbitrage"
	"github.com/mselser95/updown-arb/internal/circuitbreaker"
	"github.com/mselser95/updown-arb/internal/exchange"
	"github.com/mselser95/updown-arb/internal/exchange/clob"
	"github.com/mselser95/updown-arb/internal/exchange/sim"
	"github.com/mselser95/updown-arb/internal/execution"
	"github.com/mselser95/updown-arb/internal/ledger"
	"github.com/mselser95/updown-arb/internal/lifecycle"
	"github.com/mselser95/updown-arb/internal/orderbook"
	"github.com/mselser95/updown-arb/internal/risk"
	"github.com/mselser95/updown-arb/internal/storage"
	"github.com/mselser95/updown-arb/pkg/backoff"
	"github.com/mselser95/updown-arb/pkg/cache"
	"github.com/mselser95/updown-arb/pkg/config"
	"github.com/mselser95/updown-arb/pkg/healthprobe"
	"github.com/mselser95/updown-arb/pkg/httpserver"
	"github.com/mselser95/updown-arb/pkg/types"
	"github.com/mselser95/updown-arb/pkg/wallet"
	"github.com/mselser95/updown-arb/pkg/websocket"
	"go.uber.org/zap"
)

// New creates a new application instance. The ledger is replayed before New returns.
func New(cfg *config.Config, logger *zap.Logger, opts *Options) (*App, error) {
	if opts == nil {
		opts = &Options{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &App{
		cfg:           cfg,
		logger:        logger,
		healthChecker: setupHealthChecker(),
		ctx:           ctx,
		cancel:        cancel,
	}

	err := a.setup(opts)
	if err != nil {
		a.closeAll()
		cancel()
		return nil, err
	}
	return a, nil
}

func (a *App) setup(opts *Options) error {
	var err error

	if opts.Exchange != nil {
		a.venue = opts.Exchange
	} else {
		a.venue, err = a.setupVenue()
		if err != nil {
			return fmt.Errorf("setup venue: %w", err)
		}
	}

	loc, err := a.cfg.Location()
	if err != nil {
		return fmt.Errorf("resolve risk day: %w", err)
	}
	a.gate = risk.New(&risk.Config{
		MaxDailyLoss:          a.cfg.MaxDailyLoss,
		MaxPositionSize:       a.cfg.MaxPositionSize,
		MaxTradesPerDay:       a.cfg.MaxTradesPerDay,
		MinBalanceRequired:    a.cfg.MinBalanceRequired,
		MaxBalanceUtilization: a.cfg.MaxBalanceUtilization,
		Location:              loc,
		Logger:                a.logger,
	}, a.venue)

	a.ledger, err = setupLedger(a.ctx, a.cfg, a.logger, opts, a.gate)
	if err != nil {
		return fmt.Errorf("setup ledger: %w", err)
	}

	// Observers added after replay only see new records, so history neither
	// trips the breaker nor re-sends alerts.
	a.breaker, err = circuitbreaker.New(&circuitbreaker.Config{
		MaxFailures:       a.cfg.BreakerMaxFailures,
		Cooldown:          a.cfg.BreakerCooldown,
		ExecutionCooldown: a.cfg.ExecutionCooldown,
		Logger:            a.logger,
	})
	if err != nil {
		return fmt.Errorf("create execution breaker: %w", err)
	}
	a.ledger.AddObserver(a.breaker)

	alerter, err := a.setupAlerter()
	if err != nil {
		return fmt.Errorf("setup alerter: %w", err)
	}
	a.ledger.AddObserver(alert.NewLedgerObserver(alerter, a.logger))

	a.coordinator, err = setupCoordinator(a.cfg, a.logger, a.venue, a.ledger)
	if err != nil {
		return fmt.Errorf("setup coordinator: %w", err)
	}

	a.lifecycle, err = lifecycle.New(&lifecycle.Config{
		Exchange:             a.venue,
		Detector:             setupArbitrageDetector(a.cfg, a.logger),
		Gate:                 a.gate,
		Breaker:              a.breaker,
		Executor:             a.coordinator,
		Ledger:               a.ledger,
		Alerter:              alerter,
		TickInterval:         a.cfg.ScanInterval,
		QuoteRetry:           retryConfig(a.cfg, a.cfg.QuoteRetries),
		SettlementRetry:      settlementRetryConfig(a.cfg),
		DiscoveryGracePeriod: a.cfg.DiscoveryGracePeriod,
		DiscoveryHaltAfter:   a.cfg.DiscoveryHaltAfter,
		OnWindow:             a.onWindow,
		Logger:               a.logger,
	})
	if err != nil {
		return fmt.Errorf("create lifecycle manager: %w", err)
	}

	a.healthChecker.AddCheck("engine", func() error {
		status := a.lifecycle.Status()
		if status.State == lifecycle.StateHalted {
			return fmt.Errorf("engine halted: %s", status.HaltReason)
		}
		return nil
	})

	a.httpServer = setupHTTPServer(a)
	return nil
}

func setupHealthChecker() *healthprobe.HealthChecker {
	return healthprobe.New()
}

func setupHTTPServer(a *App) *httpserver.Server {
	cfg := &httpserver.Config{
		Port:          a.cfg.HTTPPort,
		Mode:          a.cfg.ExecutionMode(),
		Logger:        a.logger,
		HealthChecker: a.healthChecker,
		Ledger:        a.ledger,
		Engine:        a.lifecycle,
		Risk:          a.gate,
		Breaker:       a.breaker,
	}
	if a.obManager != nil {
		cfg.Books = a.obManager
	}
	return httpserver.New(cfg)
}

// setupVenue builds the simulator in dry-run mode and the live client otherwise.
// The live client is never constructed in dry-run.
func (a *App) setupVenue() (exchange.Exchange, error) {
	if a.cfg.DryRun {
		return setupSimulator(a.cfg, a.logger), nil
	}
	client, err := a.setupLiveClient()
	if err != nil {
		return nil, err
	}
	return client, nil
}

func setupSimulator(cfg *config.Config, logger *zap.Logger) *sim.Exchange {
	simCfg := sim.DefaultConfig()
	simCfg.Seed = cfg.SimSeed
	simCfg.SlugPrefix = cfg.WindowSlugPrefix
	simCfg.WindowLength = cfg.WindowLength
	simCfg.UnitPayout = cfg.UnitPayout
	simCfg.MinOrderSize = cfg.ArbMinOrderSize
	simCfg.StartBalance = cfg.SimStartBalance
	simCfg.ArbProbability = cfg.SimArbProbability
	simCfg.FillProbability = cfg.SimFillProbability
	simCfg.PartialFillRate = cfg.SimPartialFillRate
	simCfg.MaxDepth = cfg.SimMaxDepth
	simCfg.SettlementDelay = cfg.SimSettlementDelay
	simCfg.Logger = logger
	return sim.New(&simCfg)
}

func (a *App) setupLiveClient() (*clob.Client, error) {
	var err error
	a.marketCache, err = setupCache(a.logger)
	if err != nil {
		return nil, fmt.Errorf("setup cache: %w", err)
	}

	a.wallet, err = wallet.NewClient(a.cfg.PolygonRPCURL, a.logger)
	if err != nil {
		return nil, fmt.Errorf("create wallet client: %w", err)
	}

	clobCfg := &clob.Config{
		GammaURL:          a.cfg.PolymarketGammaURL,
		CLOBURL:           a.cfg.PolymarketCLOBURL,
		APIKey:            a.cfg.PolymarketAPIKey,
		Secret:            a.cfg.PolymarketSecret,
		Passphrase:        a.cfg.PolymarketPassphrase,
		PrivateKey:        a.cfg.PrivateKey,
		ProxyAddress:      a.cfg.ProxyAddress,
		SignatureType:     a.cfg.SignatureType,
		SlugPrefix:        a.cfg.WindowSlugPrefix,
		WindowLength:      a.cfg.WindowLength,
		UnitPayout:        a.cfg.UnitPayout,
		RequestTimeout:    a.cfg.HTTPRequestTimeout,
		RequestsPerSecond: a.cfg.RequestsPerSecond,
		RetryCount:        a.cfg.RequestRetries,
		MaxBookAge:        a.cfg.WSMaxBookAge,
		MetadataTTL:       a.cfg.MetadataTTL,
		Wallet:            a.wallet,
		Cache:             a.marketCache,
		Logger:            a.logger,
	}

	if a.cfg.UseWSS {
		a.wsManager = setupWebSocketManager(a.cfg, a.logger)
		a.obManager = setupOrderbookManager(a.logger, a.wsManager)
		clobCfg.Books = a.obManager
	}

	return clob.New(clobCfg)
}

func setupCache(logger *zap.Logger) (cache.Cache, error) {
	return cache.NewRistrettoCache(&cache.RistrettoConfig{
		Name:        "market-metadata",
		NumCounters: 1000, // 10x expected max items
		MaxCost:     100,
		BufferItems: 64,
		Logger:      logger,
	})
}

func setupWebSocketManager(cfg *config.Config, logger *zap.Logger) *websocket.Manager {
	return websocket.New(websocket.Config{
		URL:                   cfg.PolymarketWSURL,
		DialTimeout:           cfg.WSDialTimeout,
		PongTimeout:           cfg.WSPongTimeout,
		PingInterval:          cfg.WSPingInterval,
		ReconnectInitialDelay: cfg.WSReconnectInitialDelay,
		ReconnectMaxDelay:     cfg.WSReconnectMaxDelay,
		ReconnectBackoffMult:  cfg.WSReconnectBackoffMult,
		MessageBufferSize:     cfg.WSMessageBufferSize,
		Logger:                logger,
	})
}

func setupOrderbookManager(logger *zap.Logger, wsManager *websocket.Manager) *orderbook.Manager {
	return orderbook.New(&orderbook.Config{
		Logger:         logger,
		MessageChannel: wsManager.MessageChan(),
	})
}

// setupLedger opens storage and replays it into a ledger. gate observes the
// replay so today's risk counters survive restarts.
func setupLedger(
	ctx context.Context,
	cfg *config.Config,
	logger *zap.Logger,
	opts *Options,
	gate *risk.Gate,
) (*ledger.Ledger, error) {
	log := opts.Storage
	if log == nil {
		var err error
		log, err = OpenStorage(ctx, cfg, logger, opts.Console)
		if err != nil {
			return nil, err
		}
	}

	var observers []ledger.Observer
	if gate != nil {
		observers = append(observers, gate)
	}
	l, err := ledger.Open(ctx, &ledger.Config{
		Log:       log,
		Observers: observers,
		Logger:    logger,
	})
	if err != nil {
		_ = log.Close()
		return nil, err
	}
	return l, nil
}

// OpenStorage opens the configured ledger backend. console is only used when
// CONSOLE_OUTPUT is enabled and defaults to stdout.
func OpenStorage(ctx context.Context, cfg *config.Config, logger *zap.Logger, console io.Writer) (storage.Storage, error) {
	storageCfg := &storage.Config{
		Backend: cfg.StorageBackend,
		Path:    cfg.StoragePath,
		Postgres: &storage.PostgresConfig{
			Host:     cfg.PostgresHost,
			Port:     cfg.PostgresPort,
			User:     cfg.PostgresUser,
			Password: cfg.PostgresPass,
			Database: cfg.PostgresDB,
			SSLMode:  cfg.PostgresSSL,
		},
		Logger: logger,
	}
	if cfg.ConsoleOutput {
		storageCfg.Console = console
		if storageCfg.Console == nil {
			storageCfg.Console = storage.DefaultConsole()
		}
	}

	log, err := storage.Open(ctx, storageCfg)
	if err != nil {
		return nil, fmt.Errorf("open %s storage: %w", cfg.StorageBackend, err)
	}
	return log, nil
}

// OpenLedger opens storage and replays it without any observers. The stats and
// export commands use it to read the ledger offline.
func OpenLedger(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*ledger.Ledger, error) {
	return setupLedger(ctx, cfg, logger, &Options{}, nil)
}

func (a *App) setupAlerter() (alert.Alerter, error) {
	alerters := alert.Multi{alert.NewLog(a.logger)}
	if a.cfg.TelegramToken == "" {
		return alerters, nil
	}

	tg, err := alert.NewTelegram(&alert.TelegramConfig{
		Token:    a.cfg.TelegramToken,
		ChatID:   a.cfg.TelegramChatID,
		MinLevel: alert.Level(a.cfg.AlertMinLevel),
		Logger:   a.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create telegram alerter: %w", err)
	}
	a.telegram = tg
	return append(alerters, tg), nil
}

func setupArbitrageDetector(cfg *config.Config, logger *zap.Logger) *arbitrage.Detector {
	return arbitrage.New(&arbitrage.Config{
		Threshold:    cfg.ArbThreshold,
		MaxTradeSize: cfg.ArbMaxTradeSize,
		MinOrderSize: cfg.ArbMinOrderSize,
		LotSize:      cfg.ArbLotSize,
		UnitPayout:   cfg.UnitPayout,
		CostBuffer:   cfg.ArbCostBuffer,
		TakerFee:     cfg.ArbTakerFee,
		Logger:       logger,
	})
}

func setupCoordinator(
	cfg *config.Config,
	logger *zap.Logger,
	venue exchange.Exchange,
	journal execution.Journal,
) (*execution.Coordinator, error) {
	tif, ok := types.ParseTimeInForce(cfg.TimeInForce)
	if !ok {
		return nil, fmt.Errorf("invalid TIME_IN_FORCE %q", cfg.TimeInForce)
	}
	recoveryTIF, ok := types.ParseTimeInForce(cfg.RecoveryTimeInForce)
	if !ok {
		return nil, fmt.Errorf("invalid RECOVERY_TIME_IN_FORCE %q", cfg.RecoveryTimeInForce)
	}

	return execution.New(&execution.Config{
		Mode:                cfg.ExecutionMode(),
		TimeInForce:         tif,
		RecoveryTimeInForce: recoveryTIF,
		FillTimeout:         cfg.FillTimeout,
		RecoveryTimeout:     cfg.RecoveryTimeout,
		SubmitRetry:         retryConfig(cfg, cfg.SubmitRetries),
		QuoteRetry:          retryConfig(cfg, cfg.QuoteRetries),
		Poll: execution.FillTrackerConfig{
			InitialBackoff: cfg.FillPollInterval,
			MaxBackoff:     cfg.FillPollMax,
			BackoffMult:    1.5,
		},
		Logger: logger,
	}, venue, journal), nil
}

func retryConfig(cfg *config.Config, attempts int) backoff.Config {
	return backoff.Config{
		InitialDelay:      cfg.RetryInitialDelay,
		MaxDelay:          cfg.RetryMaxDelay,
		BackoffMultiplier: 2.0,
		JitterPercent:     0.2,
		MaxAttempts:       attempts,
	}
}

func settlementRetryConfig(cfg *config.Config) backoff.Config {
	return backoff.Config{
		InitialDelay:      cfg.SettlementRetryBackoff,
		MaxDelay:          4 * cfg.SettlementRetryBackoff,
		BackoffMultiplier: 2.0,
		JitterPercent:     0.1,
		MaxAttempts:       cfg.SettlementMaxRetries,
	}
}
