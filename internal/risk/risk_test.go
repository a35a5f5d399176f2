package risk

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time { return f.now }

func (f *fakeClock) advance(d time.Duration) { f.now = f.now.Add(d) }

func newTestManager(t *testing.T, clk Clock) *Manager {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Location = "UTC"
	m, err := NewManager(cfg, clk, zerolog.Nop())
	require.NoError(t, err)
	return m
}

func TestDailyLossHalt(t *testing.T) {
	clk := &fakeClock{now: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)}
	m := newTestManager(t, clk)

	assert.False(t, m.RecordTrade(-0.5))
	require.NoError(t, m.Gate())

	// The trade that crosses the limit trips the halt exactly once.
	assert.True(t, m.RecordTrade(-0.6))
	assert.False(t, m.RecordTrade(-0.1))

	err := m.Gate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrHalted))
	assert.Equal(t, HaltDailyLoss, m.State().Reason)
}

func TestDailyRolloverClearsLossHalt(t *testing.T) {
	clk := &fakeClock{now: time.Date(2025, 3, 10, 23, 0, 0, 0, time.UTC)}
	m := newTestManager(t, clk)

	require.True(t, m.RecordTrade(-1.2))
	require.Error(t, m.Gate())

	clk.advance(2 * time.Hour) // past midnight UTC
	require.NoError(t, m.Gate())
	assert.Equal(t, 0.0, m.State().DailyPnLPct)
}

func TestRolloverKeepsFailureHalt(t *testing.T) {
	clk := &fakeClock{now: time.Date(2025, 3, 10, 23, 0, 0, 0, time.UTC)}
	m := newTestManager(t, clk)

	for i := 0; i < 4; i++ {
		assert.False(t, m.RecordOrderFailure())
	}
	assert.True(t, m.RecordOrderFailure())

	clk.advance(2 * time.Hour)
	err := m.Gate()
	require.Error(t, err)
	assert.Equal(t, HaltOrderFailures, m.State().Reason)
}

func TestFailureWindowPrunes(t *testing.T) {
	clk := &fakeClock{now: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)}
	m := newTestManager(t, clk)

	for i := 0; i < 4; i++ {
		assert.False(t, m.RecordOrderFailure())
		clk.advance(10 * time.Minute)
	}
	// First failure is now 70 minutes old and falls out of the window.
	clk.advance(30 * time.Minute)
	assert.False(t, m.RecordOrderFailure())
	require.NoError(t, m.Gate())
}

func TestRateLimitCooldownAndHalt(t *testing.T) {
	clk := &fakeClock{now: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)}
	m := newTestManager(t, clk)

	assert.False(t, m.RecordRateLimit())
	err := m.Gate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCoolingDown))

	clk.advance(31 * time.Second)
	require.NoError(t, m.Gate())

	assert.False(t, m.RecordRateLimit())
	clk.advance(31 * time.Second)
	assert.True(t, m.RecordRateLimit())
	clk.advance(31 * time.Second)

	err = m.Gate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrHalted))
	assert.Equal(t, HaltRateLimit, m.State().Reason)
}

func TestOrderSuccessResetsStrikes(t *testing.T) {
	clk := &fakeClock{now: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)}
	m := newTestManager(t, clk)

	m.RecordRateLimit()
	m.RecordRateLimit()
	m.RecordOrderSuccess()
	assert.Equal(t, 0, m.State().RateLimitStrikes)

	clk.advance(31 * time.Second)
	assert.False(t, m.RecordRateLimit())
}

func TestManualHaltAndResume(t *testing.T) {
	clk := &fakeClock{now: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)}
	m := newTestManager(t, clk)

	assert.True(t, m.Halt())
	assert.False(t, m.Halt())
	require.Error(t, m.Gate())

	m.Resume()
	require.NoError(t, m.Gate())
}

func TestRestoreRoundTrip(t *testing.T) {
	clk := &fakeClock{now: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)}
	m := newTestManager(t, clk)
	require.True(t, m.RecordTrade(-1.5))

	saved := m.State()
	fresh := newTestManager(t, clk)
	fresh.Restore(saved)

	err := fresh.Gate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrHalted))
	assert.Equal(t, saved.DailyPnLPct, fresh.State().DailyPnLPct)
}
