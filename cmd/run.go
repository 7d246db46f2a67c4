package cmd

import (
	"fmt"

	"github.com/mselser95/updown-arb/internal/app"
	"github.com/mselser95/updown-arb/pkg/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

//nolint:gochecknoglobals // Cobra boilerplate
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the arbitrage engine",
	Long: `Starts the engine, which will:
1. Discover the currently open window
2. Poll both sides' top of book every scan interval
3. Buy both sides when UP ask + DOWN ask is below the threshold
4. Recover one-sided fills by selling the filled leg
5. Record settlement and a per-window summary when the window closes

Dry-run mode (DRY_RUN=true, the default) trades against a seeded simulator.
Use --dry-run=false for live trading; credentials are then required.`,
	RunE: runEngine,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().Bool("dry-run", true, "Trade against the simulator instead of the live venue (overrides DRY_RUN)")
	runCmd.Flags().String("window-slug-prefix", "", "Market slug prefix of the recurring window (overrides WINDOW_SLUG_PREFIX)")
}

func runEngine(cmd *cobra.Command, args []string) error {
	err := loadEnv()
	if err != nil {
		return err
	}

	cfg, err := loadRunConfig(cmd)
	if err != nil {
		return err
	}

	// Create logger
	logger, err := config.NewLoggerWithOutput(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	for _, w := range cfg.Warnings() {
		logger.Warn("config-warning", zap.String("warning", w))
	}

	application, err := app.New(cfg, logger, nil)
	if err != nil {
		return fmt.Errorf("create app: %w", err)
	}

	// Run app
	err = application.Run()
	if err != nil {
		return fmt.Errorf("run app: %w", err)
	}

	return nil
}

// loadRunConfig applies flag overrides before validating, so --dry-run=false
// is checked against the live credential requirements.
func loadRunConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Load()

	if cmd.Flags().Changed("dry-run") {
		cfg.DryRun, _ = cmd.Flags().GetBool("dry-run")
	}
	if prefix, _ := cmd.Flags().GetString("window-slug-prefix"); prefix != "" {
		cfg.WindowSlugPrefix = prefix
	}

	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}
