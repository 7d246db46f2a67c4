package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/mselser95/updown-arb/internal/app"
	"github.com/mselser95/updown-arb/pkg/config"
	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Cobra boilerplate
var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export ledger records as CSV",
	Long: `Writes every trade, missed opportunity, position close and settlement
record from the configured ledger as CSV, in log order.

Examples:
  go run . export > trades.csv
  go run . export --output data/trades.csv`,
	RunE: runExport,
}

//nolint:gochecknoglobals // Cobra boilerplate
var exportOutput string

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "-", "Output file (- for stdout)")
}

func runExport(cmd *cobra.Command, args []string) (err error) {
	err = loadEnv()
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

	ctx := context.Background()
	l, err := app.OpenLedger(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer l.Close()

	var out io.Writer = cmd.OutOrStdout()
	if exportOutput != "-" {
		f, createErr := os.Create(exportOutput)
		if createErr != nil {
			return fmt.Errorf("create output file: %w", createErr)
		}
		defer func() {
			closeErr := f.Close()
			if err == nil && closeErr != nil {
				err = fmt.Errorf("close output file: %w", closeErr)
			}
		}()
		out = f
	}

	err = l.ExportCSV(ctx, out)
	if err != nil {
		return fmt.Errorf("export csv: %w", err)
	}
	return nil
}
