package regime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coinrich/coinrich/internal/market"
)

func TestRule(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, Bull, Rule(101, 100, 65, cfg))
	assert.Equal(t, Bear, Rule(99, 100, 35, cfg))
	// Mixed conditions stay sideways.
	assert.Equal(t, Sideways, Rule(101, 100, 55, cfg))
	assert.Equal(t, Sideways, Rule(99, 100, 55, cfg))
	assert.Equal(t, Sideways, Rule(100, 100, 65, cfg))
	// Boundary values do not qualify.
	assert.Equal(t, Sideways, Rule(101, 100, 60, cfg))
	assert.Equal(t, Sideways, Rule(99, 100, 40, cfg))
}

func TestConfirmationCommitsOnThird(t *testing.T) {
	c := NewClassifier(DefaultConfig())
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	assert.Equal(t, Sideways, c.Observe(Bull, now))
	assert.Equal(t, Sideways, c.Observe(Bull, now.Add(time.Minute)))
	assert.Equal(t, Bull, c.Observe(Bull, now.Add(2*time.Minute)))
	assert.Equal(t, Bull, c.Committed())

	require.Len(t, c.History(), 1)
	assert.Equal(t, Sideways, c.History()[0].From)
	assert.Equal(t, Bull, c.History()[0].To)
}

func TestNoiseResetsStreak(t *testing.T) {
	c := NewClassifier(DefaultConfig())
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	c.Observe(Bull, now)
	c.Observe(Bull, now)
	// A single flicker back to the committed label resets the candidate.
	c.Observe(Sideways, now)
	c.Observe(Bull, now)
	c.Observe(Bull, now)
	assert.Equal(t, Sideways, c.Committed())

	assert.Equal(t, Bull, c.Observe(Bull, now))
}

func TestCandidateSwitchRestartsCount(t *testing.T) {
	c := NewClassifier(DefaultConfig())
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	c.Observe(Bull, now)
	c.Observe(Bull, now)
	c.Observe(Bear, now) // new candidate, streak back to 1
	c.Observe(Bear, now)
	assert.Equal(t, Sideways, c.Committed())
	assert.Equal(t, Bear, c.Observe(Bear, now))
}

func TestEvaluateShortWindowKeepsCommitted(t *testing.T) {
	c := NewClassifier(DefaultConfig())
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	candles := make([]market.Candle, 10)
	for i := range candles {
		candles[i] = market.Candle{
			Timestamp: now.Add(time.Duration(i) * time.Minute),
			Open:      100, High: 101, Low: 99, Close: 100, Volume: 1,
		}
	}
	s, err := market.NewSeries("KRW-BTC", time.Minute, candles)
	require.NoError(t, err)

	label, err := c.Evaluate(s, now)
	assert.ErrorIs(t, err, market.ErrInsufficientData)
	assert.Equal(t, Sideways, label)
}

func TestADXFilterForcesSideways(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Confirmations = 1
	c := NewClassifier(cfg)
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	// Closes ramp steadily, so EMAs and RSI say Bull, while highs and
	// lows see-saw so +DM and -DM cancel and ADX sits near zero.
	candles := make([]market.Candle, 80)
	price := 100.0
	for i := range candles {
		high, low := 110.0, 95.0
		if i%2 == 1 {
			high, low = 105.0, 90.0
		}
		candles[i] = market.Candle{
			Timestamp: now.Add(time.Duration(i) * time.Minute),
			Open:      price, High: high, Low: low, Close: price,
			Volume: 1,
		}
		price += 0.05
	}
	s, err := market.NewSeries("KRW-BTC", time.Minute, candles)
	require.NoError(t, err)

	label, err := c.Evaluate(s, now)
	require.NoError(t, err)
	assert.Equal(t, Sideways, label)

	// Same data with the filter off commits Bull immediately.
	cfg.ADXFilter = false
	c2 := NewClassifier(cfg)
	label, err = c2.Evaluate(s, now)
	require.NoError(t, err)
	assert.Equal(t, Bull, label)
}
