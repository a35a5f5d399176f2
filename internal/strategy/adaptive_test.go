package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coinrich/coinrich/internal/market"
)

func seriesFrom(t *testing.T, candles []market.Candle) *market.Series {
	t.Helper()
	s, err := market.NewSeries("KRW-BTC", time.Minute, candles)
	require.NoError(t, err)
	return s
}

// trendingSeries ramps hard: ADX high, choppiness low.
func trendingSeries(t *testing.T, n int) *market.Series {
	start := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	candles := make([]market.Candle, n)
	price := 100.0
	for i := range candles {
		candles[i] = market.Candle{
			Timestamp: start.Add(time.Duration(i) * time.Minute),
			Open:      price, High: price + 0.6, Low: price - 0.6, Close: price,
			Volume: 10,
		}
		price += 1.0
	}
	return seriesFrom(t, candles)
}

// rangingSeries oscillates in a band: ADX low, choppiness high.
func rangingSeries(t *testing.T, n int) *market.Series {
	start := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	candles := make([]market.Candle, n)
	for i := range candles {
		price := 100.0
		if i%2 == 1 {
			price = 100.4
		}
		candles[i] = market.Candle{
			Timestamp: start.Add(time.Duration(i) * time.Minute),
			Open:      price, High: price + 0.5, Low: price - 0.5, Close: price,
			Volume: 10,
		}
	}
	return seriesFrom(t, candles)
}

func TestClassifySplitsTrendAndRange(t *testing.T) {
	s := NewAdaptivePosition(AdaptiveConfig{})

	state, err := s.classify(trendingSeries(t, 60))
	require.NoError(t, err)
	assert.Equal(t, stateTrending, state)

	state, err = s.classify(rangingSeries(t, 60))
	require.NoError(t, err)
	assert.Equal(t, stateRanging, state)

	_, err = s.classify(rangingSeries(t, 10))
	assert.ErrorIs(t, err, market.ErrInsufficientData)
}

func TestTrendEntryGoldenCross(t *testing.T) {
	s := NewAdaptivePosition(AdaptiveConfig{})

	// A long downtrend followed by a sharp rally pushes the fast EMA
	// through the slow one on the final bar.
	start := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	var candles []market.Candle
	price := 200.0
	for i := 0; i < 50; i++ {
		price -= 1.0
		candles = append(candles, market.Candle{
			Timestamp: start.Add(time.Duration(i) * time.Minute),
			Open:      price, High: price + 0.6, Low: price - 0.6, Close: price,
			Volume: 10,
		})
	}
	for i := 50; i < 62; i++ {
		price += 4.0
		candles = append(candles, market.Candle{
			Timestamp: start.Add(time.Duration(i) * time.Minute),
			Open:      price, High: price + 0.6, Low: price - 0.6, Close: price,
			Volume: 10,
		})
	}
	bars := seriesFrom(t, candles)

	// The cross lands on exactly one bar of the rally; walking the
	// windows bar by bar must see it exactly once.
	crosses := 0
	for n := 51; n <= bars.Len(); n++ {
		r, err := s.trendEntry(bars.Truncate(n))
		require.NoError(t, err)
		if r == ReasonGoldenCross {
			crosses++
		}
	}
	assert.Equal(t, 1, crosses)
}

func TestRangeEntryTriggers(t *testing.T) {
	s := NewAdaptivePosition(AdaptiveConfig{})
	bars := rangingSeries(t, 60)

	// Price at the lower band triggers a bounce entry.
	reason, err := s.rangeEntry(bars, 99.0)
	require.NoError(t, err)
	assert.Equal(t, ReasonBandBounce, reason)

	// Mid-band with neutral RSI: no entry.
	reason, err = s.rangeEntry(bars, 100.2)
	require.NoError(t, err)
	assert.Equal(t, "", reason)
}

func TestAdaptiveFixedExits(t *testing.T) {
	s := NewAdaptivePosition(AdaptiveConfig{})
	pos := PositionView{EntryPrice: 100.0, Quantity: 1}

	exit, err := s.EvaluateExit(context.Background(), ExitContext{Price: 97.9, Position: pos})
	require.NoError(t, err)
	assert.Equal(t, ActionExit, exit.Action)
	assert.Equal(t, ExitStopLoss, exit.Reason)

	exit, err = s.EvaluateExit(context.Background(), ExitContext{Price: 105.1, Position: pos})
	require.NoError(t, err)
	assert.Equal(t, ActionExit, exit.Action)
	assert.Equal(t, ExitTakeProfit, exit.Reason)

	// Without reference bars only the fixed price rules run.
	hold, err := s.EvaluateExit(context.Background(), ExitContext{Price: 101.0, Position: pos})
	require.NoError(t, err)
	assert.Equal(t, ActionHold, hold.Action)
}

func TestRangeReversalExit(t *testing.T) {
	s := NewAdaptivePosition(AdaptiveConfig{})
	bars := rangingSeries(t, 60)
	pos := PositionView{EntryPrice: 100.0, Quantity: 1}

	// Price at the upper band inside a ranging market is a reversal exit.
	exit, err := s.EvaluateExit(context.Background(), ExitContext{
		Price:     101.5,
		Position:  pos,
		Reference: bars,
	})
	require.NoError(t, err)
	assert.Equal(t, ActionExit, exit.Action)
	assert.Equal(t, ExitSignalReversal, exit.Reason)
}

func TestStrategyFactory(t *testing.T) {
	s, err := New("", BreakoutConfig{}, AdaptiveConfig{})
	require.NoError(t, err)
	assert.Equal(t, BreakoutScalpID, s.ID())

	s, err = New(AdaptivePositionID, BreakoutConfig{}, AdaptiveConfig{})
	require.NoError(t, err)
	assert.Equal(t, AdaptivePositionID, s.ID())

	_, err = New("bogus", BreakoutConfig{}, AdaptiveConfig{})
	require.Error(t, err)
}
