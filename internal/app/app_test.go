package app

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/mselser95/updown-arb/internal/arbitrage"
	"github.com/mselser95/updown-arb/internal/exchange/sim"
	"github.com/mselser95/updown-arb/internal/ledger"
	"github.com/mselser95/updown-arb/internal/lifecycle"
	"github.com/mselser95/updown-arb/internal/storage"
	"github.com/mselser95/updown-arb/internal/testutil"
	"github.com/mselser95/updown-arb/pkg/config"
	"github.com/mselser95/updown-arb/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		LogLevel:               "debug",
		HTTPPort:               "0",
		DryRun:                 true,
		WindowSlugPrefix:       "btc-updown-15m",
		WindowLength:           15 * time.Minute,
		UnitPayout:             1,
		ScanInterval:           10 * time.Millisecond,
		DiscoveryGracePeriod:   time.Second,
		SettlementMaxRetries:   1,
		SettlementRetryBackoff: time.Millisecond,
		ArbThreshold:           0.995,
		ArbMaxTradeSize:        5,
		ArbMinOrderSize:        5,
		ArbLotSize:             0.01,
		TimeInForce:            "FOK",
		RecoveryTimeInForce:    "FAK",
		FillTimeout:            time.Second,
		RecoveryTimeout:        500 * time.Millisecond,
		FillPollInterval:       5 * time.Millisecond,
		FillPollMax:            20 * time.Millisecond,
		QuoteRetries:           2,
		SubmitRetries:          2,
		RetryInitialDelay:      time.Millisecond,
		RetryMaxDelay:          5 * time.Millisecond,
		BreakerMaxFailures:     3,
		BreakerCooldown:        time.Minute,
		RiskDayLocation:        "UTC",
		StorageBackend:         storage.BackendMemory,
		SimSeed:                7,
		SimStartBalance:        100,
		SimArbProbability:      0.5,
		SimFillProbability:     1,
		SimMaxDepth:            50,
		SimSettlementDelay:     time.Second,
	}
}

func TestNew_DryRunUsesSimulator(t *testing.T) {
	a, err := New(testConfig(t), zaptest.NewLogger(t), nil)
	require.NoError(t, err)

	_, ok := a.venue.(*sim.Exchange)
	assert.True(t, ok, "dry-run venue should be the simulator, got %T", a.venue)
	assert.Nil(t, a.wsManager)
	assert.Nil(t, a.marketCache)
	assert.Equal(t, lifecycle.StateDiscovering, a.lifecycle.State())

	require.NoError(t, a.Shutdown())
	require.NoError(t, a.Shutdown(), "second shutdown is a no-op")
}

func TestNew_RejectsInvalidSettings(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*config.Config)
		errMsg string
	}{
		{
			name:   "time_in_force",
			modify: func(c *config.Config) { c.TimeInForce = "IOC" },
			errMsg: `invalid TIME_IN_FORCE "IOC"`,
		},
		{
			name:   "recovery_time_in_force",
			modify: func(c *config.Config) { c.RecoveryTimeInForce = "" },
			errMsg: `invalid RECOVERY_TIME_IN_FORCE ""`,
		},
		{
			name:   "storage_backend",
			modify: func(c *config.Config) { c.StorageBackend = "s3" },
			errMsg: `unknown storage backend "s3"`,
		},
		{
			name:   "risk_location",
			modify: func(c *config.Config) { c.RiskDayLocation = "Nowhere/Special" },
			errMsg: "resolve risk day",
		},
		{
			name:   "breaker_cooldown",
			modify: func(c *config.Config) { c.BreakerCooldown = 0 },
			errMsg: "cooldown must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.modify(cfg)

			_, err := New(cfg, zaptest.NewLogger(t), nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestRun_TradesUntilCancelled(t *testing.T) {
	window := testutil.CreateTestWindow("btc-updown-15m-1", time.Now().Add(10*time.Minute))
	ex := testutil.NewMockExchange(window)

	a, err := New(testConfig(t), zaptest.NewLogger(t), &Options{Exchange: ex})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- a.Run() }()

	require.Eventually(t, func() bool {
		return a.ledger.Stats().TotalTrades >= 1
	}, 5*time.Second, 10*time.Millisecond)

	status := a.lifecycle.Status()
	assert.Equal(t, lifecycle.StateActive, status.State)
	assert.Equal(t, window.ID, status.WindowID)
	assert.GreaterOrEqual(t, a.gate.Snapshot().Trades, 1, "risk gate observes recorded trades")

	a.cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	stats := a.ledger.Stats()
	assert.InDelta(t, 4.95*float64(stats.TotalTrades), stats.TotalInvested, 1e-9)
	assert.Empty(t, a.ledger.Pending(), "no attempt left open after shutdown")
}

func TestOpenLedger_ReplaysFileBackend(t *testing.T) {
	logger := zaptest.NewLogger(t)
	cfg := testConfig(t)
	cfg.StorageBackend = storage.BackendFile
	cfg.StoragePath = filepath.Join(t.TempDir(), "ledger.jsonl")

	ctx := context.Background()
	l, err := OpenLedger(ctx, cfg, logger)
	require.NoError(t, err)

	_, err = l.RecordMissed(ctx, arbitrage.CreateTestOpportunity("w1"), "max position size")
	require.NoError(t, err)
	require.NoError(t, l.Close())

	reopened, err := OpenLedger(ctx, cfg, logger)
	require.NoError(t, err)
	defer reopened.Close()

	stats := reopened.Stats()
	assert.Equal(t, 1, stats.Missed)
	assert.Equal(t, 1, stats.Opportunities)

	summary, ok := reopened.Summary("w1")
	require.True(t, ok)
	assert.Equal(t, 1, summary.Missed)
}

func TestOpenStorage_ConsoleOutput(t *testing.T) {
	cfg := testConfig(t)
	cfg.ConsoleOutput = true

	var out bytes.Buffer
	log, err := OpenStorage(context.Background(), cfg, zaptest.NewLogger(t), &out)
	require.NoError(t, err)
	defer log.Close()

	_, isConsole := log.(*storage.Console)
	assert.True(t, isConsole, "console output wraps the backend")

	l, err := ledger.Open(context.Background(), &ledger.Config{Log: log})
	require.NoError(t, err)

	_, err = l.RecordMissed(context.Background(), arbitrage.CreateTestOpportunity("w1"), "daily loss limit")
	require.NoError(t, err)
	assert.NotEmpty(t, out.String())
}

func TestOnWindow_WithoutStreamIsNoop(t *testing.T) {
	a, err := New(testConfig(t), zaptest.NewLogger(t), &Options{
		Exchange: testutil.NewMockExchange(testutil.CreateTestWindow("w1", time.Now().Add(time.Minute))),
	})
	require.NoError(t, err)
	defer a.Shutdown()

	a.onWindow(&types.Window{ID: "w1", UpTokenID: "up", DownTokenID: "down"})
	assert.Empty(t, a.subscribed)
}

func TestReady_ReportsHaltedEngine(t *testing.T) {
	window := testutil.CreateTestWindow("btc-updown-15m-1", time.Now().Add(10*time.Minute))
	log := ledger.NewMemoryLog()

	a, err := New(testConfig(t), zaptest.NewLogger(t), &Options{
		Exchange: testutil.NewMockExchange(window),
		Storage:  log,
	})
	require.NoError(t, err)
	defer a.Shutdown()

	a.healthChecker.SetReady(true)
	rec := httptest.NewRecorder()
	a.httpServer.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	// the attempt journal write fails, which halts the engine
	log.FailErr = errors.New("disk full")
	err = a.lifecycle.Tick(context.Background())
	require.ErrorIs(t, err, lifecycle.ErrHalted)

	rec = httptest.NewRecorder()
	a.httpServer.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "engine halted")
	assert.Contains(t, rec.Body.String(), "disk full")

	rec = httptest.NewRecorder()
	a.httpServer.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code, "liveness is unaffected by a halt")
}
