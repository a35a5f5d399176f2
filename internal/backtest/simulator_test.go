package backtest

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coinrich/coinrich/internal/engine"
	"github.com/coinrich/coinrich/internal/market"
	"github.com/coinrich/coinrich/internal/position"
	"github.com/coinrich/coinrich/internal/regime"
	"github.com/coinrich/coinrich/internal/risk"
	"github.com/coinrich/coinrich/internal/strategy"
)

// breakoutSeries builds one flat day followed by a morning breakout: an
// uptrend with volume spikes that clears the prior-day high, then a sharp
// drop that takes out the trailing stop.
func breakoutSeries(t *testing.T) *market.Series {
	t.Helper()
	start := time.Date(2025, 3, 9, 0, 0, 0, 0, time.UTC)
	var candles []market.Candle

	price := 95.0
	for i := 0; i < 1440; i++ {
		candles = append(candles, market.Candle{
			Timestamp: start.Add(time.Duration(i) * time.Minute),
			Open:      price, High: price + 0.5, Low: price - 0.5, Close: price,
			Volume: 10,
		})
	}

	price = 96.0
	for i := 0; i < 100; i++ {
		if i < 60 {
			price += 0.05
		} else {
			price -= 0.30
		}
		vol := 10.0
		if i%4 == 0 {
			vol = 40.0
		}
		candles = append(candles, market.Candle{
			Timestamp: start.Add(time.Duration(1440+i) * time.Minute),
			Open:      price - 0.02, High: price + 0.1, Low: price - 0.1, Close: price,
			Volume: vol,
		})
	}

	s, err := market.NewSeries("KRW-BTC", time.Minute, candles)
	require.NoError(t, err)
	return s
}

func testRunner(t *testing.T) *Runner {
	t.Helper()
	series := breakoutSeries(t)

	stratCfg := strategy.DefaultBreakoutConfig()
	stratCfg.OverheatRSI = 101 // a monotonic test ramp pins RSI at 100
	strat := strategy.NewBreakoutScalp(stratCfg)

	engineCfg := engine.DefaultConfig()
	engineCfg.ReferenceInterval = time.Minute
	engineCfg.SecondaryInterval = time.Minute
	engineCfg.LookbackBars = 200
	engineCfg.OrderQuantity = 1.0
	engineCfg.Location = "UTC"

	riskCfg := risk.DefaultConfig()
	riskCfg.Location = "UTC"

	cfg := DefaultConfig()
	cfg.WarmupBars = 1450

	return NewRunner(cfg, engineCfg, regime.DefaultConfig(), riskCfg, series, strat, zerolog.Nop())
}

func TestBacktestProducesTrades(t *testing.T) {
	res, err := testRunner(t).Run(context.Background())
	require.NoError(t, err)

	require.NotEmpty(t, res.Trades, "breakout data should produce at least one trade")
	assert.Equal(t, len(res.Trades), res.Summary.Trades)
	assert.NotEmpty(t, res.Equity)

	for _, tr := range res.Trades {
		assert.Equal(t, "bull", tr.EntryRegime)
		assert.True(t, tr.ExitTime.After(tr.EntryTime))
	}
}

func TestBacktestIsDeterministic(t *testing.T) {
	first, err := testRunner(t).Run(context.Background())
	require.NoError(t, err)
	second, err := testRunner(t).Run(context.Background())
	require.NoError(t, err)

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestComputeSummary(t *testing.T) {
	entry := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	trades := []position.TradeRecord{
		{ReturnPct: 0.7, ExitReason: "TRAILING_STOP", EntryRegime: "bull",
			EntryTime: entry, ExitTime: entry.Add(30 * time.Minute)},
		{ReturnPct: -0.4, ExitReason: "STOP_LOSS", EntryRegime: "bull",
			EntryTime: entry, ExitTime: entry.Add(10 * time.Minute)},
		{ReturnPct: 1.1, ExitReason: "TRAILING_STOP", EntryRegime: "sideways",
			EntryTime: entry, ExitTime: entry.Add(20 * time.Minute)},
	}
	equity := []EquityPoint{
		{Equity: 100}, {Equity: 110}, {Equity: 99}, {Equity: 120},
	}
	cfg := Config{InitialCapital: 100}

	s := Compute(trades, equity, cfg)

	assert.Equal(t, 3, s.Trades)
	assert.Equal(t, 2, s.Wins)
	assert.Equal(t, 1, s.Losses)
	assert.InDelta(t, 66.666, s.WinRate, 0.01)
	assert.InDelta(t, 20.0, s.TotalReturnPct, 1e-9)
	assert.InDelta(t, 10.0, s.MaxDrawdownPct, 1e-9)
	assert.InDelta(t, 4.5, s.ProfitFactor, 1e-9)
	assert.InDelta(t, 0.9, s.AvgWinPct, 1e-9)
	assert.InDelta(t, -0.4, s.AvgLossPct, 1e-9)
	assert.InDelta(t, 20.0, s.AvgHoldingMins, 1e-9)
	assert.Equal(t, 2, s.ExitReasons["TRAILING_STOP"])
	assert.Equal(t, 2, s.ByRegime["bull"].Trades)
	assert.InDelta(t, 0.15, s.ByRegime["bull"].AvgReturn, 1e-9)
}
