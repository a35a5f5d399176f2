package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/coinrich/coinrich/internal/config"
	"github.com/coinrich/coinrich/internal/engine"
	"github.com/coinrich/coinrich/internal/exchange"
	"github.com/coinrich/coinrich/internal/exchange/sim"
	"github.com/coinrich/coinrich/internal/exchange/upbit"
	"github.com/coinrich/coinrich/internal/market"
	"github.com/coinrich/coinrich/internal/metrics"
	"github.com/coinrich/coinrich/internal/notify"
	"github.com/coinrich/coinrich/internal/persistence"
	"github.com/coinrich/coinrich/internal/persistence/postgres"
	"github.com/coinrich/coinrich/internal/persistence/redisstore"
	"github.com/coinrich/coinrich/internal/position"
	"github.com/coinrich/coinrich/internal/regime"
	"github.com/coinrich/coinrich/internal/risk"
	"github.com/coinrich/coinrich/internal/scheduler"
)

func newLiveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "live",
		Short: "Trade live on the exchange",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTrading(cmd.Context(), false)
		},
	}
}

func newPaperCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "paper",
		Short: "Trade against live market data with simulated fills",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTrading(cmd.Context(), true)
		},
	}
}

// liveQuotes adapts the live price source to the sim adapter for paper
// trading.
type liveQuotes struct {
	src market.Source
}

func (q liveQuotes) FillPrice(instrument string, _ exchange.Side) (float64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return q.src.CurrentPrice(ctx, instrument)
}

func runTrading(parent context.Context, paper bool) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}
	strat, err := cfg.StrategyInstance()
	if err != nil {
		return err
	}

	client := upbit.NewClient(cfg.UpbitConfig(), log.Logger)
	feed := upbit.NewTickerFeed("", []string{cfg.Instrument}, log.Logger)
	source := upbit.NewCachedSource(client, feed, 5*time.Second)
	go func() {
		if err := feed.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("ticker feed stopped")
		}
	}()

	var adapter exchange.ExecutionAdapter = client
	if paper {
		adapter = sim.New(liveQuotes{src: source}, engine.SystemClock{}, 5)
		log.Info().Msg("paper mode: simulated fills")
	}

	var trades persistence.TradeStore = persistence.NewMemoryTradeStore()
	if cfg.Postgres.DSN != "" {
		db, err := sqlx.Connect("postgres", cfg.Postgres.DSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer db.Close()
		trades = postgres.NewTradeStore(db, 5*time.Second)
		log.Info().Msg("trade store: postgres")
	}

	var snapshots persistence.SnapshotStore = persistence.NewMemorySnapshotStore()
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		snapshots = redisstore.New(rdb, "", 0)
		log.Info().Msg("snapshot store: redis")
	}

	riskMgr, err := risk.NewManager(cfg.RiskConfig(), nil, log.Logger)
	if err != nil {
		return err
	}

	hub := notify.NewHub(64, log.Logger, notify.NewLogNotifier(log.Logger))
	go hub.Run(ctx)

	m := metrics.New()
	if cfg.Metrics.Addr != "" {
		srv := metrics.NewServer(cfg.Metrics.Addr, m, log.Logger)
		go func() {
			if err := srv.Run(ctx); err != nil {
				log.Error().Err(err).Msg("metrics server stopped")
			}
		}()
	}

	eng, err := engine.New(cfg.EngineConfig(), engine.Deps{
		Source:    source,
		Strategy:  strat,
		Regime:    regime.NewClassifier(cfg.RegimeConfig()),
		Book:      position.NewBook(),
		Risk:      riskMgr,
		Adapter:   adapter,
		Trades:    trades,
		Snapshots: snapshots,
		Hub:       hub,
		Metrics:   m,
		Log:       log.Logger,
	})
	if err != nil {
		return err
	}
	if err := eng.Recover(ctx); err != nil {
		return err
	}

	log.Info().
		Str("instrument", cfg.Instrument).
		Str("strategy", strat.ID()).
		Bool("paper", paper).
		Msg("trading started")

	loop := scheduler.New(cfg.SchedulerConfig(), eng, log.Logger)
	err = loop.Run(ctx)
	if err == context.Canceled {
		log.Info().Msg("shutting down")
		return nil
	}
	return err
}
