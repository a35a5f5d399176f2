// Package engine drives the decision pipeline: fetch data, classify the
// regime, evaluate the strategy, and run orders through the risk gates. The
// same engine code runs live, paper and backtest; only the injected market
// source, execution adapter and clock differ.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/coinrich/coinrich/internal/exchange"
	"github.com/coinrich/coinrich/internal/market"
	"github.com/coinrich/coinrich/internal/metrics"
	"github.com/coinrich/coinrich/internal/notify"
	"github.com/coinrich/coinrich/internal/persistence"
	"github.com/coinrich/coinrich/internal/position"
	"github.com/coinrich/coinrich/internal/regime"
	"github.com/coinrich/coinrich/internal/risk"
	"github.com/coinrich/coinrich/internal/strategy"
)

// ErrOrderFailed is returned when an order exhausted its retry budget.
var ErrOrderFailed = errors.New("order failed")

// ErrOrderUnknown is returned when an order outcome could not be settled by
// reconciliation.
var ErrOrderUnknown = errors.New("order outcome unknown")

// Clock abstracts time for the engine. Live runs use SystemClock; backtests
// advance a bar clock and make Sleep return immediately.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// SystemClock is the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

func (SystemClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Config holds engine settings.
type Config struct {
	Instrument        string        `yaml:"instrument"`
	ReferenceInterval time.Duration `yaml:"reference_interval"`
	SecondaryInterval time.Duration `yaml:"secondary_interval"`
	LookbackBars      int           `yaml:"lookback_bars"`
	OrderQuantity     float64       `yaml:"order_quantity"`
	OrderAttempts     int           `yaml:"order_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	ReconcileAttempts int           `yaml:"reconcile_attempts"`
	ReconcileInterval time.Duration `yaml:"reconcile_interval"`
	CallTimeout       time.Duration `yaml:"call_timeout"`
	Location          string        `yaml:"location"` // IANA zone for the prior-day boundary
}

// DefaultConfig returns the documented engine defaults.
func DefaultConfig() Config {
	return Config{
		Instrument:        "KRW-BTC",
		ReferenceInterval: 15 * time.Minute,
		SecondaryInterval: time.Minute,
		LookbackBars:      200,
		OrderQuantity:     0.001,
		OrderAttempts:     3,
		RetryInterval:     time.Second,
		ReconcileAttempts: 5,
		ReconcileInterval: time.Second,
		CallTimeout:       10 * time.Second,
		Location:          "Local",
	}
}

// pendingOrder is an order whose outcome is unknown. The engine refuses to
// make new decisions for the instrument until it settles.
type pendingOrder struct {
	req        exchange.OrderRequest
	orderID    string
	exitReason strategy.ExitReason
}

// Engine serializes all decisions behind one mutex so the entry and exit
// cadences can never race on position state.
type Engine struct {
	mu sync.Mutex

	cfg       Config
	source    market.Source
	strat     strategy.Strategy
	classif   *regime.Classifier
	book      *position.Book
	risk      *risk.Manager
	adapter   exchange.ExecutionAdapter
	trades    persistence.TradeStore
	snapshots persistence.SnapshotStore
	hub       *notify.Hub
	metrics   *metrics.Metrics
	clock     Clock
	log       zerolog.Logger
	loc       *time.Location

	lastReference *market.Series
	pending       *pendingOrder
}

// Deps bundles the engine's collaborators. Snapshots and hub may be nil;
// everything else is required.
type Deps struct {
	Source    market.Source
	Strategy  strategy.Strategy
	Regime    *regime.Classifier
	Book      *position.Book
	Risk      *risk.Manager
	Adapter   exchange.ExecutionAdapter
	Trades    persistence.TradeStore
	Snapshots persistence.SnapshotStore
	Hub       *notify.Hub
	Metrics   *metrics.Metrics
	Clock     Clock
	Log       zerolog.Logger
}

// New builds an engine.
func New(cfg Config, deps Deps) (*Engine, error) {
	if deps.Source == nil || deps.Strategy == nil || deps.Regime == nil ||
		deps.Book == nil || deps.Risk == nil || deps.Adapter == nil || deps.Trades == nil {
		return nil, errors.New("engine: missing dependency")
	}
	if deps.Clock == nil {
		deps.Clock = SystemClock{}
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	loc := time.Local
	if cfg.Location != "" && cfg.Location != "Local" {
		var err error
		loc, err = time.LoadLocation(cfg.Location)
		if err != nil {
			return nil, fmt.Errorf("engine: load location %q: %w", cfg.Location, err)
		}
	}
	return &Engine{
		cfg:       cfg,
		source:    deps.Source,
		strat:     deps.Strategy,
		classif:   deps.Regime,
		book:      deps.Book,
		risk:      deps.Risk,
		adapter:   deps.Adapter,
		trades:    deps.Trades,
		snapshots: deps.Snapshots,
		hub:       deps.Hub,
		metrics:   deps.Metrics,
		clock:     deps.Clock,
		log:       deps.Log,
		loc:       loc,
	}, nil
}

// Recover loads the crash snapshot, restoring open positions and risk state.
// Call once before the first evaluation.
func (e *Engine) Recover(ctx context.Context) error {
	if e.snapshots == nil {
		return nil
	}
	snap, found, err := e.snapshots.Load(ctx)
	if err != nil {
		return fmt.Errorf("engine: load snapshot: %w", err)
	}
	if !found {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.book.Restore(snap.Positions)
	e.risk.Restore(snap.Risk)
	e.log.Info().
		Int("positions", len(snap.Positions)).
		Bool("halted", snap.Risk.Halted).
		Time("saved_at", snap.SavedAt).
		Msg("recovered from snapshot")
	return nil
}

// EvaluateEntry runs one pass of the coarse entry cadence.
func (e *Engine) EvaluateEntry(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	start := e.clock.Now()
	defer e.metrics.ObserveEval("entry", start)

	if err := e.resolvePending(ctx); err != nil {
		return err
	}

	instrument := e.cfg.Instrument
	ref, err := e.fetchBars(ctx, instrument, e.cfg.ReferenceInterval)
	if err != nil {
		return fmt.Errorf("engine: reference bars: %w", err)
	}
	e.lastReference = ref
	sec := ref
	if e.cfg.SecondaryInterval != e.cfg.ReferenceInterval {
		sec, err = e.fetchBars(ctx, instrument, e.cfg.SecondaryInterval)
		if err != nil {
			return fmt.Errorf("engine: secondary bars: %w", err)
		}
	}
	price, err := e.currentPrice(ctx, instrument)
	if err != nil {
		return fmt.Errorf("engine: price: %w", err)
	}
	e.book.Tick(instrument, price)

	now := e.clock.Now()
	before := e.classif.Committed()
	label, err := e.classif.Evaluate(ref, now)
	if err != nil {
		if errors.Is(err, market.ErrInsufficientData) {
			e.log.Debug().Msg("regime lookback not filled, skipping")
			return nil
		}
		return fmt.Errorf("engine: classify: %w", err)
	}
	if label != before {
		e.metrics.RegimeChanges.Inc()
		e.publish(notify.Event{
			Type: notify.EventRegimeChange, Instrument: instrument, At: now,
			Message: fmt.Sprintf("regime %s -> %s", before, label),
		})
	}

	priorHigh, err := ref.PriorDayHigh(now, e.loc)
	if err != nil && !errors.Is(err, market.ErrInsufficientData) {
		return fmt.Errorf("engine: prior day high: %w", err)
	}

	halted := e.risk.Gate() != nil
	sig, err := e.strat.EvaluateEntry(ctx, strategy.EntryContext{
		Instrument:   instrument,
		Reference:    ref,
		Secondary:    sec,
		Regime:       label,
		Price:        price,
		PriorDayHigh: priorHigh,
		HasPosition:  e.book.HasOpen(instrument),
		Halted:       halted,
		Now:          now,
	})
	if err != nil {
		if errors.Is(err, market.ErrInsufficientData) {
			return nil
		}
		return fmt.Errorf("engine: entry evaluation: %w", err)
	}
	if sig == nil {
		return nil
	}

	e.metrics.SignalsTotal.WithLabelValues(sig.StrategyID, sig.Reason).Inc()
	if err := e.risk.Gate(); err != nil {
		e.log.Warn().Err(err).Str("reason", sig.Reason).Msg("entry signal suppressed by risk gate")
		return nil
	}

	e.log.Info().
		Str("instrument", instrument).
		Str("reason", sig.Reason).
		Float64("price", sig.Price).
		Str("regime", label.String()).
		Msg("entry signal")

	return e.openPosition(ctx, sig, label)
}

// EvaluateExit runs one pass of the fast exit cadence. It reads only the
// current price and position state, so it stays cheap at a 1-3s period.
func (e *Engine) EvaluateExit(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	start := e.clock.Now()
	defer e.metrics.ObserveEval("exit", start)

	if err := e.resolvePending(ctx); err != nil {
		return err
	}

	instrument := e.cfg.Instrument
	if !e.book.HasOpen(instrument) {
		return nil
	}
	price, err := e.currentPrice(ctx, instrument)
	if err != nil {
		return fmt.Errorf("engine: price: %w", err)
	}
	e.book.Tick(instrument, price)

	pos, err := e.book.Get(instrument)
	if err != nil {
		return nil
	}
	decision, err := e.strat.EvaluateExit(ctx, strategy.ExitContext{
		Instrument: instrument,
		Price:      price,
		Position: strategy.PositionView{
			EntryPrice:         pos.EntryPrice,
			EntryTime:          pos.EntryTime,
			Quantity:           pos.Quantity,
			MaxPriceSinceEntry: pos.MaxPriceSinceEntry,
			StopLossPrice:      pos.StopLossPrice,
			TrailingActive:     pos.TrailingActive,
		},
		Reference: e.lastReference,
		Regime:    e.classif.Committed(),
		Now:       e.clock.Now(),
	})
	if err != nil {
		return fmt.Errorf("engine: exit evaluation: %w", err)
	}

	switch decision.Action {
	case strategy.ActionArmTrailing:
		if err := e.book.ArmTrailing(instrument, decision.StopPrice); err != nil {
			return fmt.Errorf("engine: arm trailing: %w", err)
		}
		e.log.Info().
			Str("instrument", instrument).
			Float64("stop", decision.StopPrice).
			Float64("price", price).
			Msg("trailing stop armed")
		e.saveSnapshot(ctx)
		return nil
	case strategy.ActionExit:
		return e.closePosition(ctx, instrument, decision.Reason)
	default:
		return nil
	}
}

// ForceClose liquidates the open position regardless of strategy state.
func (e *Engine) ForceClose(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.book.HasOpen(e.cfg.Instrument) {
		return nil
	}
	return e.closePosition(ctx, e.cfg.Instrument, strategy.ExitForced)
}

func (e *Engine) fetchBars(ctx context.Context, instrument string, interval time.Duration) (*market.Series, error) {
	ctx, cancel := e.callCtx(ctx)
	defer cancel()
	return e.source.Bars(ctx, instrument, interval, e.cfg.LookbackBars)
}

func (e *Engine) currentPrice(ctx context.Context, instrument string) (float64, error) {
	ctx, cancel := e.callCtx(ctx)
	defer cancel()
	return e.source.CurrentPrice(ctx, instrument)
}

func (e *Engine) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.cfg.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.cfg.CallTimeout)
}

func (e *Engine) publish(ev notify.Event) {
	if e.hub != nil {
		e.hub.Publish(ev)
	}
}

// saveSnapshot persists positions and risk state. Failures are logged, not
// fatal.
func (e *Engine) saveSnapshot(ctx context.Context) {
	if e.snapshots == nil {
		return
	}
	snap := persistence.Snapshot{
		Positions: e.book.Snapshot(),
		Risk:      e.risk.State(),
		SavedAt:   e.clock.Now(),
	}
	if err := e.snapshots.Save(ctx, snap); err != nil {
		e.log.Error().Err(err).Msg("snapshot save failed")
	}
}
