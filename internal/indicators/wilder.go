package indicators

import (
	"math"

	"github.com/coinrich/coinrich/internal/market"
)

// RSI, ATR and ADX all use Wilder's smoothing: a seed simple average over the
// first period followed by an exponential update with alpha = 1/period. The
// smoothing constant matters: a plain SMA drifts away from the standard
// values these thresholds were tuned against.

// DMI holds the directional movement results at the latest bar.
type DMI struct {
	ADX     float64
	PlusDI  float64
	MinusDI float64
	Valid   bool
}

// RSI returns the relative strength index of the trailing closes.
func RSI(values []float64, period int) Value {
	if period <= 0 || len(values) < period+1 {
		return Value{}
	}

	gains := make([]float64, len(values)-1)
	losses := make([]float64, len(values)-1)
	for i := 1; i < len(values); i++ {
		change := values[i] - values[i-1]
		if change > 0 {
			gains[i-1] = change
		} else {
			losses[i-1] = -change
		}
	}

	avgGain := wilderSmooth(gains, period)
	avgLoss := wilderSmooth(losses, period)

	if avgLoss == 0 {
		return Value{Value: 100.0, Valid: true}
	}
	rs := avgGain / avgLoss
	return Value{Value: 100.0 - 100.0/(1.0+rs), Valid: true}
}

// ATR returns the average true range of the trailing candles.
func ATR(candles []market.Candle, period int) Value {
	if period <= 0 || len(candles) < period+1 {
		return Value{}
	}
	ranges := make([]float64, len(candles)-1)
	for i := 1; i < len(candles); i++ {
		ranges[i-1] = trueRange(candles[i], candles[i-1].Close)
	}
	return Value{Value: wilderSmooth(ranges, period), Valid: true}
}

// ADX returns the average directional index with +DI/-DI. Requires
// 2*period+1 bars: one period to seed the DI smoothing and another to smooth
// the DX sequence into ADX.
func ADX(candles []market.Candle, period int) DMI {
	if period <= 0 || len(candles) < 2*period+1 {
		return DMI{}
	}

	n := len(candles) - 1
	tr := make([]float64, n)
	plusDM := make([]float64, n)
	minusDM := make([]float64, n)
	for i := 1; i < len(candles); i++ {
		cur, prev := candles[i], candles[i-1]
		tr[i-1] = trueRange(cur, prev.Close)

		up := cur.High - prev.High
		down := prev.Low - cur.Low
		if up > down && up > 0 {
			plusDM[i-1] = up
		}
		if down > up && down > 0 {
			minusDM[i-1] = down
		}
	}

	// Running Wilder smoothing of TR and DMs, producing a DX value per step
	// once the seed period fills.
	alpha := 1.0 / float64(period)
	smTR := seedAverage(tr, period)
	smPlus := seedAverage(plusDM, period)
	smMinus := seedAverage(minusDM, period)

	dx := make([]float64, 0, n-period+1)
	dx = append(dx, dxValue(smPlus, smMinus, smTR))
	for i := period; i < n; i++ {
		smTR = smTR*(1-alpha) + tr[i]*alpha
		smPlus = smPlus*(1-alpha) + plusDM[i]*alpha
		smMinus = smMinus*(1-alpha) + minusDM[i]*alpha
		dx = append(dx, dxValue(smPlus, smMinus, smTR))
	}

	adx := wilderSmooth(dx, period)

	var pdi, mdi float64
	if smTR > 0 {
		pdi = 100.0 * smPlus / smTR
		mdi = 100.0 * smMinus / smTR
	}
	return DMI{ADX: adx, PlusDI: pdi, MinusDI: mdi, Valid: true}
}

// wilderSmooth seeds with a simple average over the first period values and
// applies the Wilder update to the rest, returning the final level.
func wilderSmooth(values []float64, period int) float64 {
	smoothed := seedAverage(values, period)
	alpha := 1.0 / float64(period)
	for i := period; i < len(values); i++ {
		smoothed = smoothed*(1-alpha) + values[i]*alpha
	}
	return smoothed
}

func seedAverage(values []float64, period int) float64 {
	sum := 0.0
	for i := 0; i < period && i < len(values); i++ {
		sum += values[i]
	}
	return sum / float64(period)
}

func dxValue(plus, minus, tr float64) float64 {
	if tr <= 0 {
		return 0
	}
	pdi := 100.0 * plus / tr
	mdi := 100.0 * minus / tr
	if pdi+mdi == 0 {
		return 0
	}
	return 100.0 * math.Abs(pdi-mdi) / (pdi + mdi)
}
