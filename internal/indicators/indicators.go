// Package indicators computes technical indicators over trailing candle
// windows. Every function is causal: it only sees the slice it is given, so a
// caller that passes trailing data cannot leak future bars into a value.
// Results carry a Valid flag; a window shorter than the required lookback is a
// defined "insufficient data" state, never a number computed over a padded
// window.
package indicators

import (
	"math"

	"github.com/coinrich/coinrich/internal/market"
)

// Value is a scalar indicator result.
type Value struct {
	Value float64
	Valid bool
}

// MACDResult holds the MACD line, signal line and histogram at the latest
// bar.
type MACDResult struct {
	MACD      float64
	Signal    float64
	Histogram float64
	Valid     bool
}

// Bands holds Bollinger band levels at the latest bar. Width is
// (upper-lower)/middle, a volatility proxy used for range detection.
type Bands struct {
	Upper  float64
	Middle float64
	Lower  float64
	Width  float64
	Valid  bool
}

// Oscillator holds the stochastic %K and %D at the latest bar.
type Oscillator struct {
	K     float64
	D     float64
	Valid bool
}

// SMA returns the simple moving average of the trailing period values.
func SMA(values []float64, period int) Value {
	if period <= 0 || len(values) < period {
		return Value{}
	}
	sum := 0.0
	for _, v := range values[len(values)-period:] {
		sum += v
	}
	return Value{Value: sum / float64(period), Valid: true}
}

// EMA returns the exponential moving average at the latest value, seeded from
// the first value with alpha = 2/(period+1).
func EMA(values []float64, period int) Value {
	if period <= 0 || len(values) < period {
		return Value{}
	}
	return Value{Value: emaSeries(values, period)[len(values)-1], Valid: true}
}

// emaSeries computes the full EMA sequence so MACD can reuse it.
func emaSeries(values []float64, period int) []float64 {
	alpha := 2.0 / (float64(period) + 1.0)
	out := make([]float64, len(values))
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = values[i]*alpha + out[i-1]*(1-alpha)
	}
	return out
}

// MACD returns the moving average convergence divergence with the usual
// fast/slow/signal periods (12/26/9 by default in callers).
func MACD(values []float64, fast, slow, signal int) MACDResult {
	if len(values) < slow+signal {
		return MACDResult{}
	}
	fastEMA := emaSeries(values, fast)
	slowEMA := emaSeries(values, slow)
	macdLine := make([]float64, len(values))
	for i := range values {
		macdLine[i] = fastEMA[i] - slowEMA[i]
	}
	signalLine := emaSeries(macdLine, signal)

	last := len(values) - 1
	return MACDResult{
		MACD:      macdLine[last],
		Signal:    signalLine[last],
		Histogram: macdLine[last] - signalLine[last],
		Valid:     true,
	}
}

// Bollinger returns the Bollinger bands over the trailing period with the
// given standard deviation multiplier.
func Bollinger(values []float64, period int, stdDev float64) Bands {
	if period <= 1 || len(values) < period {
		return Bands{}
	}
	window := values[len(values)-period:]
	mean := 0.0
	for _, v := range window {
		mean += v
	}
	mean /= float64(period)

	variance := 0.0
	for _, v := range window {
		variance += (v - mean) * (v - mean)
	}
	sd := math.Sqrt(variance / float64(period-1))

	upper := mean + sd*stdDev
	lower := mean - sd*stdDev
	width := 0.0
	if mean != 0 {
		width = (upper - lower) / mean
	}
	return Bands{Upper: upper, Middle: mean, Lower: lower, Width: width, Valid: true}
}

// Stochastic returns the stochastic oscillator over the trailing kPeriod bars
// with a dPeriod simple average of %K.
func Stochastic(candles []market.Candle, kPeriod, dPeriod int) Oscillator {
	if len(candles) < kPeriod+dPeriod-1 {
		return Oscillator{}
	}
	kValues := make([]float64, dPeriod)
	for j := 0; j < dPeriod; j++ {
		end := len(candles) - (dPeriod - 1 - j)
		window := candles[end-kPeriod : end]
		low, high := window[0].Low, window[0].High
		for _, c := range window {
			low = math.Min(low, c.Low)
			high = math.Max(high, c.High)
		}
		if high == low {
			kValues[j] = 50.0
		} else {
			kValues[j] = 100.0 * (window[len(window)-1].Close - low) / (high - low)
		}
	}
	d := 0.0
	for _, k := range kValues {
		d += k
	}
	return Oscillator{K: kValues[dPeriod-1], D: d / float64(dPeriod), Valid: true}
}

// OBV returns the on-balance volume accumulated over the given bars.
func OBV(candles []market.Candle) Value {
	if len(candles) < 2 {
		return Value{}
	}
	obv := 0.0
	for i := 1; i < len(candles); i++ {
		switch {
		case candles[i].Close > candles[i-1].Close:
			obv += candles[i].Volume
		case candles[i].Close < candles[i-1].Close:
			obv -= candles[i].Volume
		}
	}
	return Value{Value: obv, Valid: true}
}

// Choppiness returns the Choppiness Index over the trailing period. Values
// above ~60 indicate a ranging market, below ~40 a trending one.
func Choppiness(candles []market.Candle, period int) Value {
	if period <= 1 || len(candles) < period+1 {
		return Value{}
	}
	window := candles[len(candles)-period-1:]

	trSum := 0.0
	high := window[1].High
	low := window[1].Low
	for i := 1; i < len(window); i++ {
		trSum += trueRange(window[i], window[i-1].Close)
		high = math.Max(high, window[i].High)
		low = math.Min(low, window[i].Low)
	}
	if high == low || trSum <= 0 {
		return Value{}
	}
	chop := 100.0 * math.Log10(trSum/(high-low)) / math.Log10(float64(period))
	return Value{Value: chop, Valid: true}
}

func trueRange(c market.Candle, prevClose float64) float64 {
	hl := c.High - c.Low
	hc := math.Abs(c.High - prevClose)
	lc := math.Abs(c.Low - prevClose)
	return math.Max(hl, math.Max(hc, lc))
}
