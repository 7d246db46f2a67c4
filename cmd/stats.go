package cmd

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/goccy/go-json"
	"github.com/mselser95/updown-arb/internal/app"
	"github.com/mselser95/updown-arb/internal/ledger"
	"github.com/mselser95/updown-arb/pkg/config"
	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Cobra boilerplate
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print aggregate statistics from the trade ledger",
	Long: `Replays the configured ledger (STORAGE_BACKEND / STORAGE_PATH) and prints
aggregate statistics and per-window summaries. Safe to run while the engine is
stopped; never contacts the venue.

Examples:
  # Aggregate stats and all windows
  go run . stats

  # One window
  go run . stats --window btc-updown-15m-1767225600

  # Machine-readable
  go run . stats --format json`,
	RunE: runStats,
}

//nolint:gochecknoglobals // Cobra boilerplate
var (
	statsFormat string
	statsWindow string
)

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(statsCmd)

	statsCmd.Flags().StringVar(&statsFormat, "format", "table", "Output format: table, json")
	statsCmd.Flags().StringVar(&statsWindow, "window", "", "Show a single window by ID")
}

type statsReport struct {
	Stats             ledger.Stats           `json:"stats"`
	WinRate           float64                `json:"win_rate"`
	AvgProfitPerTrade float64                `json:"avg_profit_per_trade"`
	AvgProfitPct      float64                `json:"avg_profit_pct"`
	Windows           []ledger.WindowSummary `json:"windows"`
}

func runStats(cmd *cobra.Command, args []string) error {
	if statsFormat != "table" && statsFormat != "json" {
		return fmt.Errorf("invalid format: %s (valid: table, json)", statsFormat)
	}

	err := loadEnv()
	if err != nil {
		return err
	}

	cfg := config.Load()
	logger, err := config.NewLoggerWithOutput("error", "")
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	l, err := app.OpenLedger(context.Background(), cfg, logger)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer l.Close()

	stats := l.Stats()
	report := statsReport{
		Stats:             stats,
		WinRate:           stats.WinRate(),
		AvgProfitPerTrade: stats.AvgProfitPerTrade(),
		AvgProfitPct:      stats.AvgProfitPct(),
		Windows:           l.Windows(),
	}
	if statsWindow != "" {
		summary, ok := l.Summary(statsWindow)
		if !ok {
			return fmt.Errorf("window %s not found in ledger", statsWindow)
		}
		report.Windows = []ledger.WindowSummary{summary}
	}

	out := cmd.OutOrStdout()
	if statsFormat == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	writeStatsTable(out, cfg.StorageBackend, report)
	return nil
}

const separator = "================================================================================"
const divider = "--------------------------------------------------------------------------------"

func writeStatsTable(w io.Writer, backend string, r statsReport) {
	s := r.Stats
	fmt.Fprintf(w, "Up/Down Arbitrage Ledger (%s)\n", backend)
	fmt.Fprintln(w, separator)
	fmt.Fprintf(w, "Opportunities:    %d\n", s.Opportunities)
	fmt.Fprintf(w, "Trades:           %d (%d resolved: %d wins, %d losses)\n",
		s.TotalTrades, s.ResolvedTrades, s.Wins, s.Losses)
	fmt.Fprintf(w, "Missed:           %d\n", s.Missed)
	fmt.Fprintf(w, "Win rate:         %.1f%%\n", r.WinRate*100)
	fmt.Fprintf(w, "Invested:         $%.2f\n", s.TotalInvested)
	fmt.Fprintf(w, "Expected payout:  $%.2f\n", s.ExpectedPayout)
	fmt.Fprintf(w, "Total P/L:        %s\n", signedUSD(s.TotalProfit))
	fmt.Fprintf(w, "Avg P/L / trade:  %s (%.2f%%)\n", signedUSD(r.AvgProfitPerTrade), r.AvgProfitPct)
	fmt.Fprintf(w, "Largest loss:     $%.4f\n", s.LargestLoss)
	fmt.Fprintf(w, "Open positions:   %d\n", s.OpenPositions)

	if len(s.Outcomes) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "OUTCOMES")
		fmt.Fprintln(w, divider)
		names := make([]string, 0, len(s.Outcomes))
		for name := range s.Outcomes {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(w, "  %-22s %d\n", name, s.Outcomes[name])
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "WINDOWS (%d)\n", len(r.Windows))
	fmt.Fprintln(w, divider)
	for _, ws := range r.Windows {
		fmt.Fprintf(w, "%s  [%s]\n", ws.WindowID, ws.Settlement)
		fmt.Fprintf(w, "   Detected: %d | Traded: %d | Missed: %d | Open: %d\n",
			ws.OpportunitiesDetected, ws.TradesExecuted, ws.Missed, ws.OpenPositions)
		fmt.Fprintf(w, "   Invested: $%.2f | Payout: $%.2f | Net: %s\n",
			ws.TotalInvested, ws.TotalExpectedPayout, signedUSD(ws.NetResult))
	}
}

func signedUSD(v float64) string {
	if v < 0 {
		return fmt.Sprintf("-$%.4f", -v)
	}
	return fmt.Sprintf("+$%.4f", v)
}
