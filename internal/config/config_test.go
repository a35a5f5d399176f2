package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
instrument: KRW-ETH
strategy: adaptive_position

engine:
  reference_interval: 15m
  secondary_interval: 1m
  lookback_bars: 300
  order_quantity: 0.01

scheduler:
  entry_interval: 30s
  exit_interval: 1s

regime:
  confirmations: 5

risk:
  daily_loss_limit_pct: -2.0
  failure_window: 2h

breakout:
  take_profit_pct: 0.8

upbit:
  credentials:
    access_key: ak
    secret_key: sk
  timeout: 5s
`

func writeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o600))
	return path
}

func TestLoadMapsSections(t *testing.T) {
	f, err := Load(writeConfig(t))
	require.NoError(t, err)

	eng := f.EngineConfig()
	assert.Equal(t, "KRW-ETH", eng.Instrument)
	assert.Equal(t, 15*time.Minute, eng.ReferenceInterval)
	assert.Equal(t, time.Minute, eng.SecondaryInterval)
	assert.Equal(t, 300, eng.LookbackBars)
	assert.Equal(t, 0.01, eng.OrderQuantity)
	assert.Equal(t, 3, eng.OrderAttempts) // default

	sch := f.SchedulerConfig()
	assert.Equal(t, 30*time.Second, sch.EntryInterval)
	assert.Equal(t, time.Second, sch.ExitInterval)

	reg := f.RegimeConfig()
	assert.Equal(t, 5, reg.Confirmations)
	assert.Equal(t, 9, reg.FastEMA) // default

	rk := f.RiskConfig()
	assert.Equal(t, -2.0, rk.DailyLossLimitPct)
	assert.Equal(t, 2*time.Hour, rk.FailureWindow)
	assert.Equal(t, 5, rk.MaxOrderFailures) // default

	assert.Equal(t, 0.8, f.Breakout.TakeProfitPct)

	up := f.UpbitConfig()
	assert.Equal(t, "ak", up.Credentials.AccessKey)
	assert.Equal(t, 5*time.Second, up.Timeout)

	strat, err := f.StrategyInstance()
	require.NoError(t, err)
	assert.Equal(t, "adaptive_position", strat.ID())
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	f, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "KRW-BTC", f.Instrument)

	strat, err := f.StrategyInstance()
	require.NoError(t, err)
	assert.Equal(t, "breakout_scalp", strat.ID())
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("engine:\n  call_timeout: soon\n"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
}
