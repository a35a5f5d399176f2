package strategy

import (
	"context"

	"github.com/coinrich/coinrich/internal/indicators"
	"github.com/coinrich/coinrich/internal/market"
)

// AdaptivePositionID selects the adaptive trend/range strategy.
const AdaptivePositionID = "adaptive_position"

// Entry reason tags for the adaptive strategy.
const (
	ReasonGoldenCross = "GOLDEN_CROSS"
	ReasonDICross     = "DI_CROSS"
	ReasonBandBounce  = "BAND_BOUNCE"
	ReasonOversold    = "OVERSOLD"
)

// marketState is the adaptive strategy's own trending/ranging split. It is
// independent of the committed regime label, which gates entries separately.
type marketState int

const (
	stateRanging marketState = iota
	stateTrending
)

// AdaptiveConfig holds the adaptive strategy parameters. Percent fields are
// in percent units.
type AdaptiveConfig struct {
	FastEMA       int     `yaml:"fast_ema"`
	SlowEMA       int     `yaml:"slow_ema"`
	ADXPeriod     int     `yaml:"adx_period"`
	TrendADX      float64 `yaml:"trend_adx"`  // ADX at or above this is trending
	ChopPeriod    int     `yaml:"chop_period"`
	TrendChop     float64 `yaml:"trend_chop"` // choppiness at or below this is trending
	BBPeriod      int     `yaml:"bb_period"`
	BBStdDev      float64 `yaml:"bb_std_dev"`
	RSIPeriod     int     `yaml:"rsi_period"`
	OversoldRSI   float64 `yaml:"oversold_rsi"`   // range entry trigger
	OverboughtRSI float64 `yaml:"overbought_rsi"` // range exit trigger
	TakeProfitPct float64 `yaml:"take_profit_pct"`
	StopLossPct   float64 `yaml:"stop_loss_pct"`
}

// DefaultAdaptiveConfig returns the documented defaults. The choppiness
// threshold is the 38.2 retracement level the trend filter was tuned
// against.
func DefaultAdaptiveConfig() AdaptiveConfig {
	return AdaptiveConfig{
		FastEMA:       9,
		SlowEMA:       21,
		ADXPeriod:     14,
		TrendADX:      25.0,
		ChopPeriod:    14,
		TrendChop:     38.2,
		BBPeriod:      20,
		BBStdDev:      2.0,
		RSIPeriod:     14,
		OversoldRSI:   30.0,
		OverboughtRSI: 70.0,
		TakeProfitPct: 5.0,
		StopLossPct:   2.0,
	}
}

// AdaptivePosition switches its entry and exit rules on a trending/ranging
// split of the market. Trending markets trade moving-average and directional
// crosses; ranging markets fade the Bollinger band with an RSI filter. A
// state flip while holding forces an exit, since the rules that justified the
// position no longer apply.
type AdaptivePosition struct {
	cfg AdaptiveConfig
}

// NewAdaptivePosition builds the strategy with zero-value fields defaulted.
func NewAdaptivePosition(cfg AdaptiveConfig) *AdaptivePosition {
	def := DefaultAdaptiveConfig()
	if cfg.FastEMA == 0 {
		cfg.FastEMA = def.FastEMA
	}
	if cfg.SlowEMA == 0 {
		cfg.SlowEMA = def.SlowEMA
	}
	if cfg.ADXPeriod == 0 {
		cfg.ADXPeriod = def.ADXPeriod
	}
	if cfg.TrendADX == 0 {
		cfg.TrendADX = def.TrendADX
	}
	if cfg.ChopPeriod == 0 {
		cfg.ChopPeriod = def.ChopPeriod
	}
	if cfg.TrendChop == 0 {
		cfg.TrendChop = def.TrendChop
	}
	if cfg.BBPeriod == 0 {
		cfg.BBPeriod = def.BBPeriod
	}
	if cfg.BBStdDev == 0 {
		cfg.BBStdDev = def.BBStdDev
	}
	if cfg.RSIPeriod == 0 {
		cfg.RSIPeriod = def.RSIPeriod
	}
	if cfg.OversoldRSI == 0 {
		cfg.OversoldRSI = def.OversoldRSI
	}
	if cfg.OverboughtRSI == 0 {
		cfg.OverboughtRSI = def.OverboughtRSI
	}
	if cfg.TakeProfitPct == 0 {
		cfg.TakeProfitPct = def.TakeProfitPct
	}
	if cfg.StopLossPct == 0 {
		cfg.StopLossPct = def.StopLossPct
	}
	return &AdaptivePosition{cfg: cfg}
}

func (s *AdaptivePosition) ID() string { return AdaptivePositionID }

// classify splits the market into trending and ranging. Trending requires
// both a strong ADX and a low choppiness reading; either one failing, or
// either indicator lacking data, leaves the state at ranging.
func (s *AdaptivePosition) classify(bars *market.Series) (marketState, error) {
	dmi := indicators.ADX(bars.Candles(), s.cfg.ADXPeriod)
	chop := indicators.Choppiness(bars.Candles(), s.cfg.ChopPeriod)
	if !dmi.Valid || !chop.Valid {
		return stateRanging, market.ErrInsufficientData
	}
	if dmi.ADX >= s.cfg.TrendADX && chop.Value <= s.cfg.TrendChop {
		return stateTrending, nil
	}
	return stateRanging, nil
}

// EvaluateEntry applies the rule set for the current market state. Trend
// entries fire on a fresh golden cross of the EMAs or a fresh +DI over -DI
// cross; range entries fire on a close at or below the lower Bollinger band
// or an oversold RSI.
func (s *AdaptivePosition) EvaluateEntry(_ context.Context, ec EntryContext) (*Signal, error) {
	if ec.HasPosition || ec.Halted {
		return nil, nil
	}

	state, err := s.classify(ec.Reference)
	if err != nil {
		return nil, err
	}

	var reason string
	switch state {
	case stateTrending:
		reason, err = s.trendEntry(ec.Reference)
	case stateRanging:
		reason, err = s.rangeEntry(ec.Reference, ec.Price)
	}
	if err != nil {
		return nil, err
	}
	if reason == "" {
		return nil, nil
	}

	return &Signal{
		Kind:       KindEntry,
		Instrument: ec.Instrument,
		StrategyID: s.ID(),
		Reason:     reason,
		Strength:   1.0,
		Price:      ec.Price,
		At:         ec.Now,
	}, nil
}

func (s *AdaptivePosition) trendEntry(bars *market.Series) (string, error) {
	closes := bars.Closes()
	if len(closes) < 2 {
		return "", market.ErrInsufficientData
	}

	fastNow := indicators.EMA(closes, s.cfg.FastEMA)
	slowNow := indicators.EMA(closes, s.cfg.SlowEMA)
	fastPrev := indicators.EMA(closes[:len(closes)-1], s.cfg.FastEMA)
	slowPrev := indicators.EMA(closes[:len(closes)-1], s.cfg.SlowEMA)
	if !fastNow.Valid || !slowNow.Valid || !fastPrev.Valid || !slowPrev.Valid {
		return "", market.ErrInsufficientData
	}
	if fastPrev.Value <= slowPrev.Value && fastNow.Value > slowNow.Value {
		return ReasonGoldenCross, nil
	}

	candles := bars.Candles()
	dmiNow := indicators.ADX(candles, s.cfg.ADXPeriod)
	dmiPrev := indicators.ADX(candles[:len(candles)-1], s.cfg.ADXPeriod)
	if !dmiNow.Valid || !dmiPrev.Valid {
		return "", market.ErrInsufficientData
	}
	if dmiPrev.PlusDI <= dmiPrev.MinusDI && dmiNow.PlusDI > dmiNow.MinusDI {
		return ReasonDICross, nil
	}
	return "", nil
}

func (s *AdaptivePosition) rangeEntry(bars *market.Series, price float64) (string, error) {
	bands := indicators.Bollinger(bars.Closes(), s.cfg.BBPeriod, s.cfg.BBStdDev)
	rsi := indicators.RSI(bars.Closes(), s.cfg.RSIPeriod)
	if !bands.Valid || !rsi.Valid {
		return "", market.ErrInsufficientData
	}
	if price <= bands.Lower {
		return ReasonBandBounce, nil
	}
	if rsi.Value < s.cfg.OversoldRSI {
		return ReasonOversold, nil
	}
	return "", nil
}

// EvaluateExit checks, in order: fixed stop-loss, fixed take-profit, a
// market state flip against the entry, and the state-specific reversal
// signal. Reference bars may be nil on the fast exit cadence; only the fixed
// price rules run in that case.
func (s *AdaptivePosition) EvaluateExit(_ context.Context, xc ExitContext) (ExitDecision, error) {
	pos := xc.Position
	if pos.EntryPrice <= 0 {
		return ExitDecision{Action: ActionHold}, nil
	}
	returnPct := (xc.Price - pos.EntryPrice) / pos.EntryPrice * 100.0

	if returnPct <= -s.cfg.StopLossPct {
		return ExitDecision{Action: ActionExit, Reason: ExitStopLoss}, nil
	}
	if returnPct >= s.cfg.TakeProfitPct {
		return ExitDecision{Action: ActionExit, Reason: ExitTakeProfit}, nil
	}

	if xc.Reference == nil {
		return ExitDecision{Action: ActionHold}, nil
	}

	state, err := s.classify(xc.Reference)
	if err != nil {
		return ExitDecision{Action: ActionHold}, nil
	}

	switch state {
	case stateTrending:
		exit, err := s.trendReversal(xc.Reference)
		if err != nil {
			return ExitDecision{Action: ActionHold}, nil
		}
		if exit {
			return ExitDecision{Action: ActionExit, Reason: ExitSignalReversal}, nil
		}
	case stateRanging:
		exit, err := s.rangeReversal(xc.Reference, xc.Price)
		if err != nil {
			return ExitDecision{Action: ActionHold}, nil
		}
		if exit {
			return ExitDecision{Action: ActionExit, Reason: ExitSignalReversal}, nil
		}
	}
	return ExitDecision{Action: ActionHold}, nil
}

func (s *AdaptivePosition) trendReversal(bars *market.Series) (bool, error) {
	closes := bars.Closes()
	if len(closes) < 2 {
		return false, market.ErrInsufficientData
	}

	fastNow := indicators.EMA(closes, s.cfg.FastEMA)
	slowNow := indicators.EMA(closes, s.cfg.SlowEMA)
	fastPrev := indicators.EMA(closes[:len(closes)-1], s.cfg.FastEMA)
	slowPrev := indicators.EMA(closes[:len(closes)-1], s.cfg.SlowEMA)
	if !fastNow.Valid || !slowNow.Valid || !fastPrev.Valid || !slowPrev.Valid {
		return false, market.ErrInsufficientData
	}
	if fastPrev.Value >= slowPrev.Value && fastNow.Value < slowNow.Value {
		return true, nil
	}

	candles := bars.Candles()
	dmiNow := indicators.ADX(candles, s.cfg.ADXPeriod)
	dmiPrev := indicators.ADX(candles[:len(candles)-1], s.cfg.ADXPeriod)
	if !dmiNow.Valid || !dmiPrev.Valid {
		return false, market.ErrInsufficientData
	}
	return dmiPrev.MinusDI <= dmiPrev.PlusDI && dmiNow.MinusDI > dmiNow.PlusDI, nil
}

func (s *AdaptivePosition) rangeReversal(bars *market.Series, price float64) (bool, error) {
	bands := indicators.Bollinger(bars.Closes(), s.cfg.BBPeriod, s.cfg.BBStdDev)
	rsi := indicators.RSI(bars.Closes(), s.cfg.RSIPeriod)
	if !bands.Valid || !rsi.Valid {
		return false, market.ErrInsufficientData
	}
	return price >= bands.Upper || rsi.Value > s.cfg.OverboughtRSI, nil
}
