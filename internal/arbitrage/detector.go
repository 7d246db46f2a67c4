package arbitrage

import (
	"time"

	"github.com/google/uuid"
	"github.com/mselser95/updown-arb/pkg/types"
	"go.uber.org/zap"
)

// Detector wraps Detect with identity, logging and metrics.
type Detector struct {
	config Config
	logger *zap.Logger
	now    func() time.Time
}

// Config holds detector configuration.
type Config struct {
	Threshold    float64
	MaxTradeSize float64
	MinOrderSize float64
	LotSize      float64
	UnitPayout   float64
	CostBuffer   float64
	TakerFee     float64
	Logger       *zap.Logger
}

// New creates a new arbitrage detector.
func New(cfg *Config) *Detector {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{
		config: *cfg,
		logger: logger,
		now:    time.Now,
	}
}

// Params returns the detection parameters for a window. The window's venue minimum
// raises the configured floor but never lowers it.
func (d *Detector) Params(window *types.Window) Params {
	p := Params{
		Threshold:    d.config.Threshold,
		MaxSize:      d.config.MaxTradeSize,
		MinOrderSize: d.config.MinOrderSize,
		LotSize:      d.config.LotSize,
		UnitPayout:   d.config.UnitPayout,
		CostBuffer:   d.config.CostBuffer,
		TakerFee:     d.config.TakerFee,
	}
	if window != nil {
		if window.MinOrderSize > p.MinOrderSize {
			p.MinOrderSize = window.MinOrderSize
		}
		if window.UnitPayout > 0 {
			p.UnitPayout = window.UnitPayout
		}
	}
	return p
}

// Detect checks a quote pair for the window and returns an identified opportunity.
func (d *Detector) Detect(window *types.Window, up, down types.Quote) (*Opportunity, bool) {
	start := d.now()
	defer func() {
		DetectionDurationSeconds.Observe(time.Since(start).Seconds())
	}()

	opp, reason := Detect(up, down, d.Params(window))
	if opp == nil {
		OpportunitiesRejectedTotal.WithLabelValues(reason).Inc()
		d.logger.Debug("opportunity-rejected",
			zap.String("window-id", window.ID),
			zap.String("reason", reason),
			zap.Float64("up-ask", up.Price),
			zap.Float64("down-ask", down.Price),
			zap.Float64("up-size", up.Size),
			zap.Float64("down-size", down.Size))
		return nil, false
	}

	opp.ID = uuid.New().String()
	opp.WindowID = window.ID
	if opp.DetectedAt.IsZero() {
		opp.DetectedAt = start
	}

	OpportunitiesDetectedTotal.Inc()
	OpportunityProfitBPS.Observe(float64(opp.ProfitBPS))
	OpportunitySizeUnits.Observe(opp.Size)
	QuoteAgeSeconds.Observe(start.Sub(opp.DetectedAt).Seconds())

	d.logger.Info("arbitrage-opportunity-detected",
		zap.String("opportunity-id", opp.ID),
		zap.String("window-id", window.ID),
		zap.Float64("up-ask", up.Price),
		zap.Float64("down-ask", down.Price),
		zap.Float64("combined-cost", opp.CombinedCost),
		zap.Float64("size", opp.Size),
		zap.Int("profit-bps", opp.ProfitBPS),
		zap.Float64("expected-profit", opp.ExpectedProfit))

	return opp, true
}
