package ledger

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// csvHeader lists the export columns.
var csvHeader = []string{
	"seq",
	"timestamp",
	"kind",
	"window_id",
	"attempt_id",
	"outcome",
	"reason",
	"price_up",
	"price_down",
	"combined_cost",
	"order_size",
	"invested",
	"expected_payout",
	"expected_profit",
	"realized_pnl",
	"pnl_resolved",
	"market_result",
	"order_ids",
}

// ExportCSV writes every terminal, missed, settlement and position-close record as CSV.
// Journal records are internal bookkeeping and are skipped.
func (l *Ledger) ExportCSV(ctx context.Context, w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	err := l.log.Replay(ctx, func(rec *Record) error {
		if rec.Kind == KindAttemptOpen || rec.Kind == KindAttemptSubmitted {
			return nil
		}
		return cw.Write(csvRow(rec))
	})
	if err != nil {
		return fmt.Errorf("export ledger: %w", err)
	}

	cw.Flush()
	return cw.Error()
}

func csvRow(rec *Record) []string {
	var up, down, combined, size, expectedProfit string
	if opp := rec.Opp(); opp != nil {
		up = formatFloat(opp.Up.Price)
		down = formatFloat(opp.Down.Price)
		combined = formatFloat(opp.CombinedCost)
		size = formatFloat(opp.Size)
		expectedProfit = formatFloat(opp.NetProfit)
	}

	settlement := ""
	if rec.Kind == KindSettlement {
		settlement = string(rec.Settlement)
	}

	return []string{
		strconv.FormatInt(rec.Seq, 10),
		rec.Timestamp.UTC().Format(time.RFC3339Nano),
		string(rec.Kind),
		rec.WindowID,
		rec.AttemptID,
		string(rec.Outcome),
		rec.Reason,
		up,
		down,
		combined,
		size,
		formatFloat(rec.Invested),
		formatFloat(rec.ExpectedPayout),
		expectedProfit,
		formatFloat(rec.RealizedPnL),
		strconv.FormatBool(rec.PnLResolved),
		settlement,
		strings.Join(rec.OrderIDs, ";"),
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
