// Package backtest replays historical bars through the exact engine code
// path used live. Fills happen at the next bar's open plus slippage, the
// clock advances bar by bar, and nothing draws randomness, so a given input
// always produces the same trade log.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/coinrich/coinrich/internal/engine"
	"github.com/coinrich/coinrich/internal/exchange"
	"github.com/coinrich/coinrich/internal/exchange/sim"
	"github.com/coinrich/coinrich/internal/market"
	"github.com/coinrich/coinrich/internal/persistence"
	"github.com/coinrich/coinrich/internal/position"
	"github.com/coinrich/coinrich/internal/regime"
	"github.com/coinrich/coinrich/internal/risk"
	"github.com/coinrich/coinrich/internal/strategy"
)

// errEndOfData stops the replay when a fill would need a bar past the end.
var errEndOfData = errors.New("end of data")

// Config holds simulation settings. Commission is a fraction per side
// (0.0005 is 5 bps); PositionSize is the fraction of equity deployed per
// trade.
type Config struct {
	InitialCapital float64 `yaml:"initial_capital"`
	PositionSize   float64 `yaml:"position_size"`
	Commission     float64 `yaml:"commission"`
	SlippageBps    float64 `yaml:"slippage_bps"`
	WarmupBars     int     `yaml:"warmup_bars"`
}

// DefaultConfig returns the standard simulation parameters.
func DefaultConfig() Config {
	return Config{
		InitialCapital: 10_000_000,
		PositionSize:   1.0,
		Commission:     0.0005,
		SlippageBps:    5,
		WarmupBars:     50,
	}
}

// replaySource serves the decision pipeline a cursor-bounded view of the
// historical series. Bars and CurrentPrice never see past the cursor; fills
// read the next bar's open, which is the first price an order placed on this
// bar could realistically get.
type replaySource struct {
	series   *market.Series
	cursor   int
	lookback int
}

func (r *replaySource) Bars(_ context.Context, _ string, _ time.Duration, count int) (*market.Series, error) {
	n := r.lookback
	if count > 0 && count < n {
		n = count
	}
	return r.series.Truncate(r.cursor + 1).Tail(n), nil
}

func (r *replaySource) CurrentPrice(_ context.Context, _ string) (float64, error) {
	return r.series.At(r.cursor).Close, nil
}

func (r *replaySource) FillPrice(_ string, _ exchange.Side) (float64, error) {
	if r.cursor+1 >= r.series.Len() {
		return 0, errEndOfData
	}
	return r.series.At(r.cursor + 1).Open, nil
}

// barClock tracks the bar close time. Sleep advances virtual time instantly
// so the engine's retry pacing costs nothing in a replay.
type barClock struct {
	now time.Time
}

func (c *barClock) Now() time.Time { return c.now }

func (c *barClock) Sleep(_ context.Context, d time.Duration) error {
	c.now = c.now.Add(d)
	return nil
}

// Runner wires a replay around the engine.
type Runner struct {
	cfg       Config
	engineCfg engine.Config
	series    *market.Series
	strat     strategy.Strategy
	regimeCfg regime.Config
	riskCfg   risk.Config
	log       zerolog.Logger
}

// NewRunner builds a backtest over the given series.
func NewRunner(cfg Config, engineCfg engine.Config, regimeCfg regime.Config, riskCfg risk.Config,
	series *market.Series, strat strategy.Strategy, log zerolog.Logger) *Runner {
	return &Runner{
		cfg:       cfg,
		engineCfg: engineCfg,
		series:    series,
		strat:     strat,
		regimeCfg: regimeCfg,
		riskCfg:   riskCfg,
		log:       log,
	}
}

// Run replays the series and returns the result. The engine is the same one
// live trading uses; only the source, adapter and clock are simulated.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	if r.series.Len() <= r.cfg.WarmupBars+1 {
		return nil, fmt.Errorf("backtest: need more than %d bars, have %d", r.cfg.WarmupBars+1, r.series.Len())
	}

	source := &replaySource{series: r.series, lookback: r.engineCfg.LookbackBars}
	clock := &barClock{now: r.series.At(0).Timestamp}
	adapter := sim.New(source, clock, r.cfg.SlippageBps)

	riskMgr, err := risk.NewManager(r.riskCfg, clock, r.log)
	if err != nil {
		return nil, err
	}
	book := position.NewBook()
	trades := persistence.NewMemoryTradeStore()

	engineCfg := r.engineCfg
	engineCfg.RetryInterval = 0
	engineCfg.ReconcileInterval = 0
	engineCfg.CallTimeout = 0

	eng, err := engine.New(engineCfg, engine.Deps{
		Source:   source,
		Strategy: r.strat,
		Regime:   regime.NewClassifier(r.regimeCfg),
		Book:     book,
		Risk:     riskMgr,
		Adapter:  adapter,
		Trades:   trades,
		Clock:    clock,
		Log:      r.log,
	})
	if err != nil {
		return nil, err
	}

	acct := newAccount(r.cfg)
	equity := make([]EquityPoint, 0, r.series.Len()-r.cfg.WarmupBars)
	seenTrades := 0

	for i := r.cfg.WarmupBars; i < r.series.Len()-1; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		source.cursor = i
		bar := r.series.At(i)
		clock.now = bar.Timestamp.Add(r.series.Interval)

		instrument := r.engineCfg.Instrument
		hadPosition := book.HasOpen(instrument)

		// The entry pass always runs: with a position open it produces no
		// signal but still refreshes the reference bars and the regime
		// confirmation state, exactly like the live entry cadence.
		if err := runStep(eng.EvaluateEntry, ctx, r.log, "entry"); err != nil {
			return nil, err
		}
		if hadPosition {
			if err := runStep(eng.EvaluateExit, ctx, r.log, "exit"); err != nil {
				return nil, err
			}
		}

		// Mirror position transitions into the cash account.
		if !hadPosition && book.HasOpen(instrument) {
			pos, err := book.Get(instrument)
			if err == nil {
				acct.open(pos.EntryPrice)
			}
		}
		all := trades.All()
		for ; seenTrades < len(all); seenTrades++ {
			acct.close(all[seenTrades].ExitPrice)
		}

		equity = append(equity, EquityPoint{
			At:     bar.Timestamp,
			Equity: acct.markToMarket(bar.Close),
		})
	}

	// Liquidate anything still open at the last usable bar.
	source.cursor = r.series.Len() - 2
	if book.HasOpen(r.engineCfg.Instrument) {
		if err := eng.ForceClose(ctx); err != nil && !errors.Is(err, errEndOfData) {
			return nil, fmt.Errorf("backtest: final liquidation: %w", err)
		}
		all := trades.All()
		for ; seenTrades < len(all); seenTrades++ {
			acct.close(all[seenTrades].ExitPrice)
		}
	}

	summary := Compute(trades.All(), equity, r.cfg)
	return &Result{
		Summary: summary,
		Trades:  trades.All(),
		Equity:  equity,
	}, nil
}

// runStep tolerates per-bar order failures; they feed the risk gates the
// same way they would live. Any other error aborts the replay.
func runStep(step func(context.Context) error, ctx context.Context, log zerolog.Logger, kind string) error {
	if err := step(ctx); err != nil {
		if errors.Is(err, engine.ErrOrderFailed) || errors.Is(err, engine.ErrOrderUnknown) || errors.Is(err, errEndOfData) {
			log.Debug().Err(err).Str("step", kind).Msg("step skipped")
			return nil
		}
		return err
	}
	return nil
}

// account mirrors the engine's trades into quote-currency cash so the
// equity curve includes sizing and commission.
type account struct {
	cash       float64
	qty        float64
	sizing     float64
	commission float64
}

func newAccount(cfg Config) *account {
	return &account{cash: cfg.InitialCapital, sizing: cfg.PositionSize, commission: cfg.Commission}
}

func (a *account) open(price float64) {
	invest := a.cash * a.sizing
	fee := invest * a.commission
	a.qty = (invest - fee) / price
	a.cash -= invest
}

func (a *account) close(price float64) {
	proceeds := a.qty * price
	fee := proceeds * a.commission
	a.cash += proceeds - fee
	a.qty = 0
}

func (a *account) markToMarket(price float64) float64 {
	return a.cash + a.qty*price
}
