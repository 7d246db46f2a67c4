package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Cobra boilerplate
var rootCmd = &cobra.Command{
	Use:   "updown-arb",
	Short: "Up/down window arbitrage engine",
	Long: `Arbitrage engine for recurring binary up/down markets (for example the
15-minute BTC windows on Polymarket).

While a window is open it buys both sides whenever the two asks sum to less than
the unit payout, recovers from one-sided fills, and records every attempt in an
append-only ledger that survives restarts. Dry-run mode trades against a seeded
simulator and is the default.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

// loadEnv reads .env when present. A missing file is not an error.
func loadEnv() error {
	err := godotenv.Load()
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}
