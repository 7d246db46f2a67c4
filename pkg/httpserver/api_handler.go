package httpserver

import (
	"context"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/mselser95/updown-arb/internal/circuitbreaker"
	"github.com/mselser95/updown-arb/internal/execution"
	"github.com/mselser95/updown-arb/internal/ledger"
	"github.com/mselser95/updown-arb/internal/lifecycle"
	"github.com/mselser95/updown-arb/internal/risk"
	"github.com/mselser95/updown-arb/pkg/types"
	"go.uber.org/zap"
)

// LedgerReader is the read side of the trade ledger.
type LedgerReader interface {
	Stats() ledger.Stats
	Summary(windowID string) (ledger.WindowSummary, bool)
	Windows() []ledger.WindowSummary
	OpenPositions() []execution.Position
	ExportCSV(ctx context.Context, w io.Writer) error
}

// EngineStatus reports the lifecycle state.
type EngineStatus interface {
	Status() lifecycle.Status
}

// RiskSnapshot reports today's risk counters.
type RiskSnapshot interface {
	Snapshot() risk.Counters
}

// BreakerStatus reports the execution breaker.
type BreakerStatus interface {
	GetStatus() circuitbreaker.Status
}

// BookSource serves streamed top-of-book snapshots.
type BookSource interface {
	GetSnapshot(tokenID string) (*types.OrderbookSnapshot, bool)
}

// APIHandler serves the read-only engine API.
type APIHandler struct {
	mode    string
	ledger  LedgerReader
	engine  EngineStatus
	risk    RiskSnapshot
	breaker BreakerStatus
	books   BookSource
	logger  *zap.Logger
}

// NewAPIHandler creates the API handler from the server config.
func NewAPIHandler(cfg *Config) *APIHandler {
	return &APIHandler{
		mode:    cfg.Mode,
		ledger:  cfg.Ledger,
		engine:  cfg.Engine,
		risk:    cfg.Risk,
		breaker: cfg.Breaker,
		books:   cfg.Books,
		logger:  cfg.Logger,
	}
}

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	Mode    string                 `json:"mode,omitempty"`
	Engine  *lifecycle.Status      `json:"engine,omitempty"`
	Risk    *risk.Counters         `json:"risk,omitempty"`
	Breaker *circuitbreaker.Status `json:"breaker,omitempty"`
}

// StatsResponse is the body of GET /api/stats.
type StatsResponse struct {
	ledger.Stats
	WinRate           float64 `json:"win_rate"`
	AvgProfitPerTrade float64 `json:"avg_profit_per_trade"`
	AvgProfitPct      float64 `json:"avg_profit_pct"`
}

// SideOrderbook is the streamed top of book for one side of the window.
type SideOrderbook struct {
	Side         types.Side `json:"side"`
	TokenID      string     `json:"token_id"`
	BestBidPrice float64    `json:"best_bid_price"`
	BestBidSize  float64    `json:"best_bid_size"`
	BestAskPrice float64    `json:"best_ask_price"`
	BestAskSize  float64    `json:"best_ask_size"`
}

// OrderbookResponse is the body of GET /api/orderbook.
type OrderbookResponse struct {
	WindowID string          `json:"window_id"`
	Slug     string          `json:"slug"`
	Sides    []SideOrderbook `json:"sides"`
}

// ErrorResponse represents an HTTP error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HandleStatus handles GET /api/status.
func (h *APIHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{Mode: h.mode}
	if h.engine != nil {
		s := h.engine.Status()
		resp.Engine = &s
	}
	if h.risk != nil {
		c := h.risk.Snapshot()
		resp.Risk = &c
	}
	if h.breaker != nil {
		b := h.breaker.GetStatus()
		resp.Breaker = &b
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// HandleStats handles GET /api/stats.
func (h *APIHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	s := h.ledger.Stats()
	h.writeJSON(w, http.StatusOK, StatsResponse{
		Stats:             s,
		WinRate:           s.WinRate(),
		AvgProfitPerTrade: s.AvgProfitPerTrade(),
		AvgProfitPct:      s.AvgProfitPct(),
	})
}

// HandleWindows handles GET /api/windows.
func (h *APIHandler) HandleWindows(w http.ResponseWriter, r *http.Request) {
	windows := h.ledger.Windows()
	if windows == nil {
		windows = []ledger.WindowSummary{}
	}
	h.writeJSON(w, http.StatusOK, windows)
}

// HandleWindow handles GET /api/windows/{id}.
func (h *APIHandler) HandleWindow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	summary, ok := h.ledger.Summary(id)
	if !ok {
		h.writeError(w, "window not found", http.StatusNotFound)
		return
	}
	h.writeJSON(w, http.StatusOK, summary)
}

// HandlePositions handles GET /api/positions.
func (h *APIHandler) HandlePositions(w http.ResponseWriter, r *http.Request) {
	positions := h.ledger.OpenPositions()
	if positions == nil {
		positions = []execution.Position{}
	}
	h.writeJSON(w, http.StatusOK, positions)
}

// HandleExport handles GET /api/export.csv.
func (h *APIHandler) HandleExport(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="trades.csv"`)

	// Headers are committed on the first write, so a replay failure can only be logged.
	err := h.ledger.ExportCSV(r.Context(), w)
	if err != nil {
		h.logger.Error("csv-export-failed", zap.Error(err))
	}
}

// HandleOrderbook handles GET /api/orderbook for the active window.
func (h *APIHandler) HandleOrderbook(w http.ResponseWriter, r *http.Request) {
	status := h.engine.Status()
	if status.WindowID == "" {
		h.writeError(w, "no active window", http.StatusNotFound)
		return
	}

	h.logger.Debug("orderbook-request-received", zap.String("window-id", status.WindowID))

	sides := make([]SideOrderbook, 0, 2)
	for _, s := range []struct {
		side    types.Side
		tokenID string
	}{
		{types.SideUp, status.UpTokenID},
		{types.SideDown, status.DownTokenID},
	} {
		snapshot, found := h.books.GetSnapshot(s.tokenID)
		if !found {
			h.logger.Debug("orderbook-not-available",
				zap.String("token-id", s.tokenID),
				zap.String("side", string(s.side)))
			continue
		}
		sides = append(sides, SideOrderbook{
			Side:         s.side,
			TokenID:      s.tokenID,
			BestBidPrice: snapshot.BestBidPrice,
			BestBidSize:  snapshot.BestBidSize,
			BestAskPrice: snapshot.BestAskPrice,
			BestAskSize:  snapshot.BestAskSize,
		})
	}

	h.writeJSON(w, http.StatusOK, OrderbookResponse{
		WindowID: status.WindowID,
		Slug:     status.Slug,
		Sides:    sides,
	})
}

func (h *APIHandler) writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		h.logger.Error("failed-to-encode-response", zap.Error(err))
	}
}

// writeError writes a JSON error response.
func (h *APIHandler) writeError(w http.ResponseWriter, message string, statusCode int) {
	h.writeJSON(w, statusCode, ErrorResponse{Error: message})
}
