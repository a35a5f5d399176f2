package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/coinrich/coinrich/internal/backtest"
	"github.com/coinrich/coinrich/internal/config"
	"github.com/coinrich/coinrich/internal/market"
)

func newBacktestCmd() *cobra.Command {
	var (
		csvPath  string
		interval time.Duration
		jsonOut  string
	)

	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "Replay historical bars through the live decision pipeline",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(flagConfig)
			if err != nil {
				return err
			}
			strat, err := cfg.StrategyInstance()
			if err != nil {
				return err
			}
			series, err := market.LoadCSV(csvPath, cfg.Instrument, interval)
			if err != nil {
				return err
			}
			log.Info().
				Str("instrument", cfg.Instrument).
				Int("bars", series.Len()).
				Str("strategy", strat.ID()).
				Msg("starting backtest")

			engineCfg := cfg.EngineConfig()
			engineCfg.ReferenceInterval = interval
			engineCfg.SecondaryInterval = interval

			runner := backtest.NewRunner(cfg.BacktestConfig(), engineCfg,
				cfg.RegimeConfig(), cfg.RiskConfig(), series, strat, log.Logger)
			res, err := runner.Run(cmd.Context())
			if err != nil {
				return err
			}

			printSummary(res.Summary)
			if jsonOut != "" {
				raw, err := json.MarshalIndent(res, "", "  ")
				if err != nil {
					return err
				}
				if err := os.WriteFile(jsonOut, raw, 0o644); err != nil {
					return fmt.Errorf("write result: %w", err)
				}
				log.Info().Str("path", jsonOut).Msg("result written")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&csvPath, "data", "", "CSV file of candles (timestamp,open,high,low,close,volume)")
	cmd.Flags().DurationVar(&interval, "interval", time.Minute, "Bar interval of the data")
	cmd.Flags().StringVar(&jsonOut, "out", "", "Write the full result as JSON to this path")
	cmd.MarkFlagRequired("data")
	return cmd
}

func printSummary(s backtest.Summary) {
	fmt.Printf("trades:          %d (W %d / L %d, win rate %.1f%%)\n", s.Trades, s.Wins, s.Losses, s.WinRate)
	fmt.Printf("total return:    %+.2f%% (final equity %.0f)\n", s.TotalReturnPct, s.FinalEquity)
	fmt.Printf("max drawdown:    %.2f%%\n", s.MaxDrawdownPct)
	fmt.Printf("profit factor:   %.2f\n", s.ProfitFactor)
	fmt.Printf("avg win/loss:    %+.2f%% / %+.2f%%\n", s.AvgWinPct, s.AvgLossPct)
	fmt.Printf("avg holding:     %.1f min\n", s.AvgHoldingMins)
	for reason, n := range s.ExitReasons {
		fmt.Printf("  exit %-20s %d\n", reason, n)
	}
	for label, rs := range s.ByRegime {
		fmt.Printf("  regime %-10s %d trades, %d wins, avg %+.2f%%\n", label, rs.Trades, rs.Wins, rs.AvgReturn)
	}
}
