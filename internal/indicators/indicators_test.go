package indicators

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coinrich/coinrich/internal/market"
)

func rampCandles(n int, start, step float64) []market.Candle {
	base := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	out := make([]market.Candle, n)
	price := start
	for i := range out {
		out[i] = market.Candle{
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Open:      price, High: price + 0.5, Low: price - 0.5, Close: price,
			Volume: 10,
		}
		price += step
	}
	return out
}

func closes(candles []market.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

func TestSMAAndEMAOfConstant(t *testing.T) {
	flat := closes(rampCandles(30, 100, 0))

	sma := SMA(flat, 10)
	require.True(t, sma.Valid)
	assert.InDelta(t, 100.0, sma.Value, 1e-9)

	ema := EMA(flat, 10)
	require.True(t, ema.Valid)
	assert.InDelta(t, 100.0, ema.Value, 1e-9)

	assert.False(t, SMA(flat[:5], 10).Valid)
	assert.False(t, EMA(flat[:5], 10).Valid)
}

func TestRSIWilderReference(t *testing.T) {
	// Standard 14-period worked example; the seed average alone produces
	// the first reading.
	values := []float64{
		44.34, 44.09, 44.15, 43.61, 44.33, 44.83, 45.10, 45.42,
		45.84, 46.08, 45.89, 46.03, 45.61, 46.28, 46.28,
	}
	rsi := RSI(values, 14)
	require.True(t, rsi.Valid)
	assert.InDelta(t, 70.46, rsi.Value, 0.05)
}

func TestRSIAllGainsIsHundred(t *testing.T) {
	rsi := RSI(closes(rampCandles(20, 100, 1)), 14)
	require.True(t, rsi.Valid)
	assert.Equal(t, 100.0, rsi.Value)

	assert.False(t, RSI(closes(rampCandles(14, 100, 1)), 14).Valid, "needs period+1 values")
}

func TestMACDOfConstantIsZero(t *testing.T) {
	res := MACD(closes(rampCandles(60, 100, 0)), 12, 26, 9)
	require.True(t, res.Valid)
	assert.InDelta(t, 0.0, res.MACD, 1e-9)
	assert.InDelta(t, 0.0, res.Histogram, 1e-9)

	assert.False(t, MACD(closes(rampCandles(30, 100, 0)), 12, 26, 9).Valid)
}

func TestBollingerOfConstantCollapses(t *testing.T) {
	b := Bollinger(closes(rampCandles(30, 100, 0)), 20, 2.0)
	require.True(t, b.Valid)
	assert.InDelta(t, 100.0, b.Upper, 1e-9)
	assert.InDelta(t, 100.0, b.Lower, 1e-9)
	assert.InDelta(t, 0.0, b.Width, 1e-9)
}

func TestStochasticBounds(t *testing.T) {
	up := Stochastic(rampCandles(30, 100, 1), 14, 3)
	require.True(t, up.Valid)
	assert.Greater(t, up.K, 80.0, "a steady ramp closes near the window high")

	flat := Stochastic(rampCandles(30, 100, 0), 14, 3)
	require.True(t, flat.Valid)
	// High and low differ only by the bar range; K stays in bounds.
	assert.GreaterOrEqual(t, flat.K, 0.0)
	assert.LessOrEqual(t, flat.K, 100.0)
}

func TestATRConstantRange(t *testing.T) {
	atr := ATR(rampCandles(30, 100, 0), 14)
	require.True(t, atr.Valid)
	assert.InDelta(t, 1.0, atr.Value, 1e-9)

	assert.False(t, ATR(rampCandles(14, 100, 0), 14).Valid)
}

func TestADXTrendVersusFlat(t *testing.T) {
	trend := ADX(rampCandles(60, 100, 1), 14)
	require.True(t, trend.Valid)
	assert.Greater(t, trend.ADX, 50.0)
	assert.Greater(t, trend.PlusDI, trend.MinusDI)

	flat := ADX(rampCandles(60, 100, 0), 14)
	require.True(t, flat.Valid)
	assert.InDelta(t, 0.0, flat.ADX, 1e-9)

	assert.False(t, ADX(rampCandles(28, 100, 1), 14).Valid, "needs 2*period+1 bars")
}

func TestChoppinessTrendVersusFlat(t *testing.T) {
	trend := Choppiness(rampCandles(60, 100, 1), 14)
	require.True(t, trend.Valid)
	flat := Choppiness(rampCandles(60, 100, 0), 14)
	require.True(t, flat.Valid)

	assert.Less(t, trend.Value, flat.Value, "a ramp is less choppy than a flat range")
	assert.Less(t, trend.Value, 40.0)
}

func TestOBVAccumulates(t *testing.T) {
	obv := OBV(rampCandles(10, 100, 1))
	require.True(t, obv.Valid)
	assert.InDelta(t, 90.0, obv.Value, 1e-9) // nine up bars of volume 10
}
