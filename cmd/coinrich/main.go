package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const (
	appName = "coinrich"
	version = "v1.2.0"
)

var (
	flagConfig   string
	flagLogLevel string
)

func main() {
	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Scalping bot with regime-gated entries and ratcheted exits",
		Version: version,
		Long: `coinrich runs a single-instrument scalping strategy: a regime classifier
gates entries, a trailing ratchet manages exits, and account-level risk
gates can halt everything. The same decision code runs live, paper and
backtest.`,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			setupLogging()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "Path to config YAML")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "Log level (trace|debug|info|warn|error)")

	rootCmd.AddCommand(newBacktestCmd())
	rootCmd.AddCommand(newLiveCmd())
	rootCmd.AddCommand(newPaperCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setupLogging picks console output on a TTY and JSON otherwise, matching
// how the logs are consumed in each case.
func setupLogging() {
	zerolog.TimeFieldFormat = time.RFC3339
	level, err := zerolog.ParseLevel(flagLogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
}
