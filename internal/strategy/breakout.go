package strategy

import (
	"context"

	"github.com/coinrich/coinrich/internal/indicators"
	"github.com/coinrich/coinrich/internal/market"
	"github.com/coinrich/coinrich/internal/regime"
)

// BreakoutScalpID selects the prior-day-high breakout scalper.
const BreakoutScalpID = "breakout_scalp"

// ReasonBreakout tags entry signals from this strategy.
const ReasonBreakout = "BREAKOUT"

// BreakoutConfig holds the scalper parameters. Percent fields are in percent
// units (0.6 means 0.6%).
type BreakoutConfig struct {
	BreakoutCoefficient float64 `yaml:"breakout_coefficient"` // prior-day high scale, default 1.0
	OverheatRSI         float64 `yaml:"overheat_rsi"`         // secondary RSI must be below this
	RSIPeriod           int     `yaml:"rsi_period"`
	VolumeMultiple      float64 `yaml:"volume_multiple"` // bar volume vs trailing average
	VolumeLookback      int     `yaml:"volume_lookback"`
	TakeProfitPct       float64 `yaml:"take_profit_pct"`   // arms the trailing ratchet
	TrailingStopPct     float64 `yaml:"trailing_stop_pct"` // armed stop above entry
	StopLossPct         float64 `yaml:"stop_loss_pct"`
}

// DefaultBreakoutConfig returns the documented scalper defaults.
func DefaultBreakoutConfig() BreakoutConfig {
	return BreakoutConfig{
		BreakoutCoefficient: 1.0,
		OverheatRSI:         65.0,
		RSIPeriod:           14,
		VolumeMultiple:      2.0,
		VolumeLookback:      20,
		TakeProfitPct:       0.6,
		TrailingStopPct:     0.2,
		StopLossPct:         0.4,
	}
}

// BreakoutScalp enters on a confirmed-Bull breakout above the scaled
// prior-day high and manages the exit as a single ratchet: hitting the
// take-profit level arms a trailing stop above entry rather than exiting,
// and the trailing stop realizes the exit.
type BreakoutScalp struct {
	cfg BreakoutConfig
}

// NewBreakoutScalp builds the scalper with zero-value fields defaulted.
func NewBreakoutScalp(cfg BreakoutConfig) *BreakoutScalp {
	def := DefaultBreakoutConfig()
	if cfg.BreakoutCoefficient == 0 {
		cfg.BreakoutCoefficient = def.BreakoutCoefficient
	}
	if cfg.OverheatRSI == 0 {
		cfg.OverheatRSI = def.OverheatRSI
	}
	if cfg.RSIPeriod == 0 {
		cfg.RSIPeriod = def.RSIPeriod
	}
	if cfg.VolumeMultiple == 0 {
		cfg.VolumeMultiple = def.VolumeMultiple
	}
	if cfg.VolumeLookback == 0 {
		cfg.VolumeLookback = def.VolumeLookback
	}
	if cfg.TakeProfitPct == 0 {
		cfg.TakeProfitPct = def.TakeProfitPct
	}
	if cfg.TrailingStopPct == 0 {
		cfg.TrailingStopPct = def.TrailingStopPct
	}
	if cfg.StopLossPct == 0 {
		cfg.StopLossPct = def.StopLossPct
	}
	return &BreakoutScalp{cfg: cfg}
}

func (s *BreakoutScalp) ID() string { return BreakoutScalpID }

// EvaluateEntry requires every condition below; all are AND-combined:
// committed Bull regime, price above the scaled prior-day high, secondary
// RSI under the overheat threshold, latest bar volume at least the
// configured multiple of its trailing average, no open position, trading
// not halted.
func (s *BreakoutScalp) EvaluateEntry(_ context.Context, ec EntryContext) (*Signal, error) {
	if ec.HasPosition || ec.Halted {
		return nil, nil
	}
	if ec.Regime != regime.Bull {
		return nil, nil
	}
	if ec.PriorDayHigh <= 0 {
		return nil, market.ErrInsufficientData
	}
	if ec.Price <= ec.PriorDayHigh*s.cfg.BreakoutCoefficient {
		return nil, nil
	}

	rsi := indicators.RSI(ec.Secondary.Closes(), s.cfg.RSIPeriod)
	if !rsi.Valid {
		return nil, market.ErrInsufficientData
	}
	if rsi.Value >= s.cfg.OverheatRSI {
		return nil, nil
	}

	last, err := ec.Reference.Last()
	if err != nil {
		return nil, err
	}
	avgVol, err := ec.Reference.AverageVolume(s.cfg.VolumeLookback)
	if err != nil {
		return nil, err
	}
	if avgVol <= 0 || last.Volume < avgVol*s.cfg.VolumeMultiple {
		return nil, nil
	}

	return &Signal{
		Kind:       KindEntry,
		Instrument: ec.Instrument,
		StrategyID: s.ID(),
		Reason:     ReasonBreakout,
		Strength:   last.Volume / (avgVol * s.cfg.VolumeMultiple),
		Price:      ec.Price,
		At:         ec.Now,
	}, nil
}

// EvaluateExit is a pure function of current price and position state.
// Priority order, first match wins:
//
//  1. trailing stop: armed and price at or below the stop
//  2. take-profit level: arms the trailing ratchet, does not exit
//  3. stop-loss: unrealized return at or below the loss limit
func (s *BreakoutScalp) EvaluateExit(_ context.Context, xc ExitContext) (ExitDecision, error) {
	pos := xc.Position
	if pos.EntryPrice <= 0 {
		return ExitDecision{Action: ActionHold}, nil
	}
	returnPct := (xc.Price - pos.EntryPrice) / pos.EntryPrice * 100.0

	if pos.TrailingActive && xc.Price <= pos.StopLossPrice {
		return ExitDecision{Action: ActionExit, Reason: ExitTrailingStop}, nil
	}
	if !pos.TrailingActive && returnPct >= s.cfg.TakeProfitPct {
		return ExitDecision{
			Action:    ActionArmTrailing,
			Reason:    ExitTakeProfit,
			StopPrice: pos.EntryPrice * (1.0 + s.cfg.TrailingStopPct/100.0),
		}, nil
	}
	if !pos.TrailingActive && returnPct <= -s.cfg.StopLossPct {
		return ExitDecision{Action: ActionExit, Reason: ExitStopLoss}, nil
	}
	return ExitDecision{Action: ActionHold}, nil
}
