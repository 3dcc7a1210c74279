package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/quantdesk/riskcore/internal/config"
)

const (
	appName = "riskcore"
	version = "v1.4.0"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Risk management and position lifecycle engine for multi-strategy options books",
		Version: version,
		Long: `riskcore tracks composite option positions through their lifecycle,
aggregates portfolio greeks, classifies the volatility regime, enforces
correlation group caps, and recommends defensive actions per tick.`,
	}

	rootCmd.PersistentFlags().String("config", "config/riskcore.yaml", "Path to YAML configuration")
	rootCmd.PersistentFlags().String("log-level", "", "Override log level (trace|debug|info|warn|error)")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newReportCmd())
	rootCmd.AddCommand(newMonitorCmd())

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

// loadConfig reads the config file and applies CLI overrides plus the
// global logger setup.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if override, _ := cmd.Flags().GetString("log-level"); override != "" {
		cfg.Logging.Level = override
	}
	setupLogging(cfg.Logging)
	return cfg, nil
}

func setupLogging(cfg config.LoggingConfig) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.Pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}

func formatMoney(v float64) string {
	return fmt.Sprintf("$%.2f", v)
}
