package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coinrich/coinrich/internal/market"
	"github.com/coinrich/coinrich/internal/regime"
)

// entryFixture builds a context where every breakout condition passes:
// Bull regime, price over the prior-day high, moderate secondary RSI, and a
// 3x volume spike on the latest reference bar.
func entryFixture(t *testing.T) EntryContext {
	t.Helper()
	start := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	ref := make([]market.Candle, 30)
	for i := range ref {
		ref[i] = market.Candle{
			Timestamp: start.Add(time.Duration(i) * time.Minute),
			Open:      100, High: 101, Low: 99, Close: 100,
			Volume: 10,
		}
	}
	ref[len(ref)-1].Volume = 30 // spike on the latest bar
	refSeries, err := market.NewSeries("KRW-BTC", time.Minute, ref)
	require.NoError(t, err)

	// Alternating gains and losses keep RSI mid-range.
	sec := make([]market.Candle, 30)
	price := 100.0
	for i := range sec {
		if i%2 == 0 {
			price += 0.3
		} else {
			price -= 0.2
		}
		sec[i] = market.Candle{
			Timestamp: start.Add(time.Duration(i) * time.Second),
			Open:      price, High: price + 0.5, Low: price - 0.5, Close: price,
			Volume: 5,
		}
	}
	secSeries, err := market.NewSeries("KRW-BTC", time.Second, sec)
	require.NoError(t, err)

	return EntryContext{
		Instrument:   "KRW-BTC",
		Reference:    refSeries,
		Secondary:    secSeries,
		Regime:       regime.Bull,
		Price:        101.5,
		PriorDayHigh: 101.0,
		Now:          start.Add(30 * time.Minute),
	}
}

func TestBreakoutEntryFires(t *testing.T) {
	s := NewBreakoutScalp(BreakoutConfig{})
	ec := entryFixture(t)

	sig, err := s.EvaluateEntry(context.Background(), ec)
	require.NoError(t, err)
	require.NotNil(t, sig)
	assert.Equal(t, KindEntry, sig.Kind)
	assert.Equal(t, ReasonBreakout, sig.Reason)
	assert.Equal(t, 101.5, sig.Price)
}

func TestBreakoutEntryConditionsAreANDed(t *testing.T) {
	s := NewBreakoutScalp(BreakoutConfig{})

	cases := map[string]func(*EntryContext){
		"not bull":         func(ec *EntryContext) { ec.Regime = regime.Sideways },
		"below prior high": func(ec *EntryContext) { ec.Price = 100.9 },
		"has position":     func(ec *EntryContext) { ec.HasPosition = true },
		"halted":           func(ec *EntryContext) { ec.Halted = true },
		"no volume spike": func(ec *EntryContext) {
			last := ec.Reference.Len() - 1
			ec.Reference.Candles()[last].Volume = 15 // under 2x average
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			ec := entryFixture(t)
			mutate(&ec)
			sig, err := s.EvaluateEntry(context.Background(), ec)
			require.NoError(t, err)
			assert.Nil(t, sig)
		})
	}
}

func TestBreakoutOverheatedRSIBlocks(t *testing.T) {
	s := NewBreakoutScalp(BreakoutConfig{})
	ec := entryFixture(t)

	// Replace the secondary series with a straight ramp; RSI pins at 100.
	start := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	sec := make([]market.Candle, 30)
	for i := range sec {
		p := 100.0 + float64(i)
		sec[i] = market.Candle{
			Timestamp: start.Add(time.Duration(i) * time.Second),
			Open:      p, High: p + 0.5, Low: p - 0.5, Close: p, Volume: 5,
		}
	}
	var err error
	ec.Secondary, err = market.NewSeries("KRW-BTC", time.Second, sec)
	require.NoError(t, err)

	sig, err := s.EvaluateEntry(context.Background(), ec)
	require.NoError(t, err)
	assert.Nil(t, sig)
}

func TestExitRatchet(t *testing.T) {
	s := NewBreakoutScalp(BreakoutConfig{})
	base := PositionView{EntryPrice: 100.0, Quantity: 1}

	hold, err := s.EvaluateExit(context.Background(), ExitContext{Price: 100.3, Position: base})
	require.NoError(t, err)
	assert.Equal(t, ActionHold, hold.Action)

	// +0.6% arms the trailing stop at entry +0.2%; it does not exit.
	armed, err := s.EvaluateExit(context.Background(), ExitContext{Price: 100.7, Position: base})
	require.NoError(t, err)
	assert.Equal(t, ActionArmTrailing, armed.Action)
	assert.InDelta(t, 100.2, armed.StopPrice, 1e-9)

	trailing := base
	trailing.TrailingActive = true
	trailing.StopLossPrice = 100.2

	// Above the stop: hold, even if the price is falling.
	hold, err = s.EvaluateExit(context.Background(), ExitContext{Price: 100.4, Position: trailing})
	require.NoError(t, err)
	assert.Equal(t, ActionHold, hold.Action)

	// At or below the stop: exit as a trailing stop.
	exit, err := s.EvaluateExit(context.Background(), ExitContext{Price: 100.1, Position: trailing})
	require.NoError(t, err)
	assert.Equal(t, ActionExit, exit.Action)
	assert.Equal(t, ExitTrailingStop, exit.Reason)
}

func TestExitStopLoss(t *testing.T) {
	s := NewBreakoutScalp(BreakoutConfig{})
	base := PositionView{EntryPrice: 100.0, Quantity: 1}

	hold, err := s.EvaluateExit(context.Background(), ExitContext{Price: 99.7, Position: base})
	require.NoError(t, err)
	assert.Equal(t, ActionHold, hold.Action)

	exit, err := s.EvaluateExit(context.Background(), ExitContext{Price: 99.5, Position: base})
	require.NoError(t, err)
	assert.Equal(t, ActionExit, exit.Action)
	assert.Equal(t, ExitStopLoss, exit.Reason)
}

func TestArmedPositionIgnoresStopLossRule(t *testing.T) {
	s := NewBreakoutScalp(BreakoutConfig{})
	pos := PositionView{
		EntryPrice:     100.0,
		TrailingActive: true,
		StopLossPrice:  100.2,
	}

	// Once armed, only the trailing stop applies; the price cannot fall
	// to the -0.4% level without crossing the stop first.
	exit, err := s.EvaluateExit(context.Background(), ExitContext{Price: 99.0, Position: pos})
	require.NoError(t, err)
	assert.Equal(t, ActionExit, exit.Action)
	assert.Equal(t, ExitTrailingStop, exit.Reason)
}
