// Package regime labels the market as Bull, Bear or Sideways from a fixed
// reference timeframe and holds the label through a confirmation window so a
// single noisy evaluation cannot flip the committed state.
package regime

import (
	"time"

	"github.com/coinrich/coinrich/internal/indicators"
	"github.com/coinrich/coinrich/internal/market"
)

// Label is the committed market regime.
type Label int

const (
	Sideways Label = iota
	Bull
	Bear
)

func (l Label) String() string {
	switch l {
	case Bull:
		return "bull"
	case Bear:
		return "bear"
	case Sideways:
		return "sideways"
	default:
		return "unknown"
	}
}

// Config holds classifier thresholds.
type Config struct {
	FastEMA       int     `yaml:"fast_ema"`      // default 9
	SlowEMA       int     `yaml:"slow_ema"`      // default 21
	RSIPeriod     int     `yaml:"rsi_period"`    // default 14
	BullRSI       float64 `yaml:"bull_rsi"`      // RSI must exceed this for Bull
	BearRSI       float64 `yaml:"bear_rsi"`      // RSI must be below this for Bear
	Confirmations int     `yaml:"confirmations"` // consecutive evaluations before a label commits
	ADXFilter     bool    `yaml:"adx_filter"`    // force Sideways when trend strength is weak
	ADXPeriod     int     `yaml:"adx_period"`
	MinADX        float64 `yaml:"min_adx"`
}

// DefaultConfig returns the documented default parameters.
func DefaultConfig() Config {
	return Config{
		FastEMA:       9,
		SlowEMA:       21,
		RSIPeriod:     14,
		BullRSI:       60.0,
		BearRSI:       40.0,
		Confirmations: 3,
		ADXFilter:     true,
		ADXPeriod:     14,
		MinADX:        20.0,
	}
}

// Change records a committed regime transition.
type Change struct {
	At   time.Time `json:"at"`
	From Label     `json:"from"`
	To   Label     `json:"to"`
}

// Classifier evaluates the raw rule each tick and commits a new label only
// after Confirmations consecutive evaluations agree. Until then the
// previously committed label stays in effect.
type Classifier struct {
	cfg       Config
	committed Label
	candidate Label
	streak    int
	history   []Change
}

// NewClassifier starts committed to Sideways.
func NewClassifier(cfg Config) *Classifier {
	return &Classifier{cfg: cfg, committed: Sideways, candidate: Sideways}
}

// Rule applies the literal classification rule to indicator values.
func Rule(fastEMA, slowEMA, rsi float64, cfg Config) Label {
	switch {
	case fastEMA > slowEMA && rsi > cfg.BullRSI:
		return Bull
	case fastEMA < slowEMA && rsi < cfg.BearRSI:
		return Bear
	default:
		return Sideways
	}
}

// Evaluate computes the raw label from the reference bars and feeds it
// through the confirmation window, returning the committed label.
// Intra-bar evaluation with a forming last bar is expected; the caller
// controls cadence.
func (c *Classifier) Evaluate(bars *market.Series, now time.Time) (Label, error) {
	closes := bars.Closes()

	fast := indicators.EMA(closes, c.cfg.FastEMA)
	slow := indicators.EMA(closes, c.cfg.SlowEMA)
	rsi := indicators.RSI(closes, c.cfg.RSIPeriod)
	if !fast.Valid || !slow.Valid || !rsi.Valid {
		return c.committed, market.ErrInsufficientData
	}

	raw := Rule(fast.Value, slow.Value, rsi.Value, c.cfg)

	if c.cfg.ADXFilter {
		dmi := indicators.ADX(bars.Candles(), c.cfg.ADXPeriod)
		if !dmi.Valid {
			return c.committed, market.ErrInsufficientData
		}
		if dmi.ADX < c.cfg.MinADX {
			raw = Sideways
		}
	}

	return c.Observe(raw, now), nil
}

// Observe advances the confirmation state with one raw classification and
// returns the committed label.
func (c *Classifier) Observe(raw Label, now time.Time) Label {
	if raw == c.committed {
		c.candidate = c.committed
		c.streak = 0
		return c.committed
	}
	if raw == c.candidate {
		c.streak++
	} else {
		c.candidate = raw
		c.streak = 1
	}
	if c.streak >= c.cfg.Confirmations {
		c.history = append(c.history, Change{At: now, From: c.committed, To: raw})
		c.committed = raw
		c.streak = 0
	}
	return c.committed
}

// Committed returns the current committed label without advancing state.
func (c *Classifier) Committed() Label { return c.committed }

// History returns committed transitions in order.
func (c *Classifier) History() []Change { return c.history }
