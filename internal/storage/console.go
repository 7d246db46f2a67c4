package storage

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/mselser95/updown-arb/internal/ledger"
	"go.uber.org/zap"
)

const rule = "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━"

// Console wraps a Log and pretty-prints trades, misses and settlements after they persist.
type Console struct {
	ledger.Log
	out    io.Writer
	logger *zap.Logger
}

// NewConsole creates a console decorator around log.
func NewConsole(log ledger.Log, out io.Writer, logger *zap.Logger) *Console {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("console-storage-initialized")
	return &Console{Log: log, out: out, logger: logger}
}

// Append persists rec, then prints it.
func (c *Console) Append(ctx context.Context, rec *ledger.Record) error {
	if err := c.Log.Append(ctx, rec); err != nil {
		return err
	}
	c.print(rec)
	return nil
}

func (c *Console) print(rec *ledger.Record) {
	var b strings.Builder

	switch rec.Kind {
	case ledger.KindTrade:
		fmt.Fprintln(&b, "\n"+rule)
		fmt.Fprintf(&b, "🎯 TRADE %s\n", rec.Outcome)
		fmt.Fprintln(&b, rule)
		c.header(&b, rec)
		if opp := rec.Opp(); opp != nil {
			fmt.Fprintf(&b, "  UP Ask:    %.4f\n", opp.Up.Price)
			fmt.Fprintf(&b, "  DOWN Ask:  %.4f\n", opp.Down.Price)
			fmt.Fprintf(&b, "  Sum:       %.4f (threshold: %.4f)\n", opp.CombinedCost, opp.Threshold)
		}
		fmt.Fprintf(&b, "  Invested:  $%.2f\n", rec.Invested)
		fmt.Fprintf(&b, "  Payout:    $%.2f\n", rec.ExpectedPayout)
		if rec.PnLResolved {
			fmt.Fprintf(&b, "  P/L:       $%.4f\n", rec.RealizedPnL)
		} else if rec.OpenPosition != nil {
			fmt.Fprintf(&b, "  ⚠️  OPEN %s %.2f @ $%.2f cost\n",
				rec.OpenPosition.Side, rec.OpenPosition.Size, rec.OpenPosition.Cost)
		}
		fmt.Fprintln(&b, rule)

	case ledger.KindMissed:
		fmt.Fprintf(&b, "⏭️  missed %s: %s\n", rec.WindowID, rec.Reason)

	case ledger.KindSettlement:
		if rec.AttemptID == "" {
			fmt.Fprintf(&b, "🏁 %s settled %s\n", rec.WindowID, rec.Settlement)
		} else {
			fmt.Fprintf(&b, "🏁 %s position %s valued at settlement: $%.4f\n",
				rec.WindowID, shortID(rec.AttemptID), rec.RealizedPnL)
		}

	case ledger.KindPositionClose:
		fmt.Fprintf(&b, "🔻 %s position %s sold: $%.4f\n", rec.WindowID, shortID(rec.AttemptID), rec.RealizedPnL)

	default:
		return
	}

	if _, err := io.WriteString(c.out, b.String()); err != nil {
		c.logger.Warn("console-write-failed", zap.Error(err))
	}
}

func (c *Console) header(b *strings.Builder, rec *ledger.Record) {
	fmt.Fprintf(b, "Attempt:  %s\n", shortID(rec.AttemptID))
	fmt.Fprintf(b, "Window:   %s\n", rec.WindowID)
	fmt.Fprintf(b, "Time:     %s\n", rec.Timestamp.Format("2006-01-02 15:04:05"))
	fmt.Fprintln(b, rule)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
