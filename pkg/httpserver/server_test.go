package httpserver

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/mselser95/updown-arb/internal/circuitbreaker"
	"github.com/mselser95/updown-arb/internal/execution"
	"github.com/mselser95/updown-arb/internal/ledger"
	"github.com/mselser95/updown-arb/internal/lifecycle"
	"github.com/mselser95/updown-arb/internal/risk"
	"github.com/mselser95/updown-arb/pkg/healthprobe"
	"github.com/mselser95/updown-arb/pkg/types"
	"go.uber.org/zap"
)

type fakeLedger struct {
	stats     ledger.Stats
	windows   []ledger.WindowSummary
	positions []execution.Position
	csv       string
	exportErr error
}

func (f *fakeLedger) Stats() ledger.Stats { return f.stats }

func (f *fakeLedger) Summary(id string) (ledger.WindowSummary, bool) {
	for _, w := range f.windows {
		if w.WindowID == id {
			return w, true
		}
	}
	return ledger.WindowSummary{}, false
}

func (f *fakeLedger) Windows() []ledger.WindowSummary { return f.windows }

func (f *fakeLedger) OpenPositions() []execution.Position { return f.positions }

func (f *fakeLedger) ExportCSV(_ context.Context, w io.Writer) error {
	_, _ = io.WriteString(w, f.csv)
	return f.exportErr
}

type fakeEngine struct{ status lifecycle.Status }

func (f fakeEngine) Status() lifecycle.Status { return f.status }

type fakeRisk struct{ counters risk.Counters }

func (f fakeRisk) Snapshot() risk.Counters { return f.counters }

type fakeBreaker struct{ status circuitbreaker.Status }

func (f fakeBreaker) GetStatus() circuitbreaker.Status { return f.status }

type fakeBooks map[string]*types.OrderbookSnapshot

func (f fakeBooks) GetSnapshot(tokenID string) (*types.OrderbookSnapshot, bool) {
	s, ok := f[tokenID]
	return s, ok
}

func newTestServer(cfg *Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.HealthChecker == nil {
		cfg.HealthChecker = healthprobe.New()
	}
	if cfg.Port == "" {
		cfg.Port = "0"
	}
	return New(cfg)
}

func do(t *testing.T, s *Server, path string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w.Result()
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestNew(t *testing.T) {
	logger := zap.NewNop()
	healthChecker := healthprobe.New()

	server := New(&Config{Port: "8080", Logger: logger, HealthChecker: healthChecker})
	if server == nil || server.server == nil {
		t.Fatal("New() returned nil server")
	}
	if server.server.Addr != ":8080" {
		t.Errorf("Addr = %s, want :8080", server.server.Addr)
	}
	if server.logger != logger {
		t.Error("New() logger not set correctly")
	}
	if server.healthChecker != healthChecker {
		t.Error("New() healthChecker not set correctly")
	}
}

func TestHealthAndMetricsEndpoints(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		ready      bool
		wantStatus int
	}{
		{name: "health", path: "/health", wantStatus: http.StatusOK},
		{name: "ready_when_set", path: "/ready", ready: true, wantStatus: http.StatusOK},
		{name: "not_ready_initially", path: "/ready", wantStatus: http.StatusServiceUnavailable},
		{name: "metrics", path: "/metrics", wantStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hc := healthprobe.New()
			hc.SetReady(tt.ready)
			s := newTestServer(&Config{HealthChecker: hc})

			resp := do(t, s, tt.path)
			defer resp.Body.Close()
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("%s status = %d, want %d", tt.path, resp.StatusCode, tt.wantStatus)
			}
		})
	}
}

func TestLedgerRoutesRequireLedger(t *testing.T) {
	s := newTestServer(&Config{})

	for _, path := range []string{"/api/stats", "/api/windows", "/api/windows/w1", "/api/positions", "/api/export.csv", "/api/orderbook"} {
		resp := do(t, s, path)
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("%s status = %d, want 404", path, resp.StatusCode)
		}
	}
}

func TestStatusEndpoint(t *testing.T) {
	closeTime := time.Date(2026, 1, 1, 0, 15, 0, 0, time.UTC)
	s := newTestServer(&Config{
		Mode: "dry-run",
		Engine: fakeEngine{status: lifecycle.Status{
			State:     lifecycle.StateActive,
			WindowID:  "btc-updown-15m-1",
			CloseTime: closeTime,
		}},
		Risk:    fakeRisk{counters: risk.Counters{Day: "2026-01-01", RealizedPnL: -0.10, Trades: 2}},
		Breaker: fakeBreaker{status: circuitbreaker.Status{Enabled: true, ConsecutiveFailures: 1}},
	})

	resp := do(t, s, "/api/status")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body StatusResponse
	decode(t, resp, &body)

	if body.Mode != "dry-run" {
		t.Errorf("Mode = %s, want dry-run", body.Mode)
	}
	if body.Engine == nil || body.Engine.State != lifecycle.StateActive || body.Engine.WindowID != "btc-updown-15m-1" {
		t.Errorf("Engine = %+v", body.Engine)
	}
	if !body.Engine.CloseTime.Equal(closeTime) {
		t.Errorf("CloseTime = %v, want %v", body.Engine.CloseTime, closeTime)
	}
	if body.Risk == nil || body.Risk.Trades != 2 || body.Risk.RealizedPnL != -0.10 {
		t.Errorf("Risk = %+v", body.Risk)
	}
	if body.Breaker == nil || !body.Breaker.Enabled || body.Breaker.ConsecutiveFailures != 1 {
		t.Errorf("Breaker = %+v", body.Breaker)
	}
}

func TestStatusEndpoint_NoSources(t *testing.T) {
	s := newTestServer(&Config{Mode: "live"})

	var body StatusResponse
	resp := do(t, s, "/api/status")
	decode(t, resp, &body)

	if body.Engine != nil || body.Risk != nil || body.Breaker != nil {
		t.Errorf("expected empty sources, got %+v", body)
	}
}

func TestStatsEndpoint(t *testing.T) {
	l := &fakeLedger{stats: ledger.Stats{
		TotalTrades:    4,
		ResolvedTrades: 4,
		Wins:           3,
		Losses:         1,
		TotalInvested:  19.80,
		TotalProfit:    0.05,
		Outcomes:       map[string]int{"both_filled": 3, "one_leg_recovered": 1},
	}}
	s := newTestServer(&Config{Ledger: l})

	resp := do(t, s, "/api/stats")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %s, want application/json", ct)
	}

	var body StatsResponse
	decode(t, resp, &body)

	if body.TotalTrades != 4 || body.Wins != 3 {
		t.Errorf("stats = %+v", body.Stats)
	}
	if body.WinRate != l.stats.WinRate() {
		t.Errorf("WinRate = %f, want %f", body.WinRate, l.stats.WinRate())
	}
	if body.AvgProfitPerTrade != l.stats.AvgProfitPerTrade() {
		t.Errorf("AvgProfitPerTrade = %f, want %f", body.AvgProfitPerTrade, l.stats.AvgProfitPerTrade())
	}
	if body.Outcomes["one_leg_recovered"] != 1 {
		t.Errorf("Outcomes = %v", body.Outcomes)
	}
}

func TestWindowEndpoints(t *testing.T) {
	l := &fakeLedger{windows: []ledger.WindowSummary{
		{WindowID: "w1", TradesExecuted: 1, NetResult: 0.05, Settlement: types.SettlementUp},
		{WindowID: "w2", Missed: 2, Settlement: types.SettlementUnresolved},
	}}
	s := newTestServer(&Config{Ledger: l})

	t.Run("list", func(t *testing.T) {
		var body []ledger.WindowSummary
		decode(t, do(t, s, "/api/windows"), &body)
		if len(body) != 2 || body[0].WindowID != "w1" || body[1].Missed != 2 {
			t.Errorf("windows = %+v", body)
		}
	})

	t.Run("empty_list", func(t *testing.T) {
		empty := newTestServer(&Config{Ledger: &fakeLedger{}})
		resp := do(t, empty, "/api/windows")
		defer resp.Body.Close()
		raw, _ := io.ReadAll(resp.Body)
		if strings.TrimSpace(string(raw)) != "[]" {
			t.Errorf("body = %q, want []", raw)
		}
	})

	t.Run("found", func(t *testing.T) {
		resp := do(t, s, "/api/windows/w1")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}
		var body ledger.WindowSummary
		decode(t, resp, &body)
		if body.NetResult != 0.05 || body.Settlement != types.SettlementUp {
			t.Errorf("summary = %+v", body)
		}
	})

	t.Run("not_found", func(t *testing.T) {
		resp := do(t, s, "/api/windows/missing")
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("status = %d, want 404", resp.StatusCode)
		}
		var body ErrorResponse
		decode(t, resp, &body)
		if body.Error != "window not found" {
			t.Errorf("Error = %q", body.Error)
		}
	})
}

func TestPositionsEndpoint(t *testing.T) {
	l := &fakeLedger{positions: []execution.Position{
		{WindowID: "w1", AttemptID: "a1", Side: types.SideUp, Size: 5, Cost: 2.40},
	}}
	s := newTestServer(&Config{Ledger: l})

	var body []execution.Position
	decode(t, do(t, s, "/api/positions"), &body)
	if len(body) != 1 || body[0].Side != types.SideUp || body[0].Size != 5 {
		t.Errorf("positions = %+v", body)
	}
}

func TestExportEndpoint(t *testing.T) {
	csv := "seq,timestamp,kind\n1,2026-01-01T00:05:00Z,attempt\n"

	tests := []struct {
		name      string
		exportErr error
	}{
		{name: "ok"},
		{name: "replay_error_keeps_partial_body", exportErr: errors.New("disk gone")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(&Config{Ledger: &fakeLedger{csv: csv, exportErr: tt.exportErr}})

			resp := do(t, s, "/api/export.csv")
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				t.Errorf("status = %d, want 200", resp.StatusCode)
			}
			if ct := resp.Header.Get("Content-Type"); ct != "text/csv" {
				t.Errorf("Content-Type = %s, want text/csv", ct)
			}
			raw, _ := io.ReadAll(resp.Body)
			if string(raw) != csv {
				t.Errorf("body = %q, want %q", raw, csv)
			}
		})
	}
}

func TestOrderbookEndpoint(t *testing.T) {
	books := fakeBooks{
		"tok-up":   {TokenID: "tok-up", BestBidPrice: 0.47, BestBidSize: 20, BestAskPrice: 0.48, BestAskSize: 10},
		"tok-down": {TokenID: "tok-down", BestBidPrice: 0.50, BestBidSize: 15, BestAskPrice: 0.51, BestAskSize: 12},
	}
	active := lifecycle.Status{
		State:       lifecycle.StateActive,
		WindowID:    "w1",
		Slug:        "btc-updown-15m-1767225600",
		UpTokenID:   "tok-up",
		DownTokenID: "tok-down",
	}

	tests := []struct {
		name       string
		status     lifecycle.Status
		books      fakeBooks
		wantStatus int
		wantSides  int
	}{
		{name: "both_sides", status: active, books: books, wantStatus: http.StatusOK, wantSides: 2},
		{name: "missing_snapshot_skipped", status: active, books: fakeBooks{"tok-up": books["tok-up"]}, wantStatus: http.StatusOK, wantSides: 1},
		{name: "no_window", status: lifecycle.Status{State: lifecycle.StateWaiting}, books: books, wantStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(&Config{Engine: fakeEngine{status: tt.status}, Books: tt.books})

			resp := do(t, s, "/api/orderbook")
			if resp.StatusCode != tt.wantStatus {
				resp.Body.Close()
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if tt.wantStatus != http.StatusOK {
				resp.Body.Close()
				return
			}

			var body OrderbookResponse
			decode(t, resp, &body)
			if body.WindowID != "w1" || body.Slug != active.Slug {
				t.Errorf("window = %s/%s", body.WindowID, body.Slug)
			}
			if len(body.Sides) != tt.wantSides {
				t.Fatalf("sides = %d, want %d", len(body.Sides), tt.wantSides)
			}
			if body.Sides[0].Side != types.SideUp || body.Sides[0].BestAskPrice != 0.48 {
				t.Errorf("up side = %+v", body.Sides[0])
			}
		})
	}
}

func TestShutdown(t *testing.T) {
	s := newTestServer(&Config{Port: "0"})

	errCh := make(chan error, 1)
	go func() { errCh <- s.Start() }()

	// Give ListenAndServe a moment to bind.
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Start() error = %v, want nil after shutdown", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start() did not return after Shutdown")
	}
}
