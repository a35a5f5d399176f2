// Package config loads the YAML configuration file and maps it onto the
// component configs. Durations are written as Go duration strings ("30s",
// "15m").
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/coinrich/coinrich/internal/backtest"
	"github.com/coinrich/coinrich/internal/engine"
	"github.com/coinrich/coinrich/internal/exchange/upbit"
	"github.com/coinrich/coinrich/internal/regime"
	"github.com/coinrich/coinrich/internal/risk"
	"github.com/coinrich/coinrich/internal/scheduler"
	"github.com/coinrich/coinrich/internal/strategy"
)

// Duration parses Go duration strings from YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("config: parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) or(def time.Duration) time.Duration {
	if d == 0 {
		return def
	}
	return time.Duration(d)
}

// File is the on-disk schema.
type File struct {
	Instrument string `yaml:"instrument"`
	Strategy   string `yaml:"strategy"`

	Engine struct {
		ReferenceInterval Duration `yaml:"reference_interval"`
		SecondaryInterval Duration `yaml:"secondary_interval"`
		LookbackBars      int      `yaml:"lookback_bars"`
		OrderQuantity     float64  `yaml:"order_quantity"`
		OrderAttempts     int      `yaml:"order_attempts"`
		RetryInterval     Duration `yaml:"retry_interval"`
		ReconcileAttempts int      `yaml:"reconcile_attempts"`
		ReconcileInterval Duration `yaml:"reconcile_interval"`
		CallTimeout       Duration `yaml:"call_timeout"`
		Location          string   `yaml:"location"`
	} `yaml:"engine"`

	Scheduler struct {
		EntryInterval Duration `yaml:"entry_interval"`
		ExitInterval  Duration `yaml:"exit_interval"`
	} `yaml:"scheduler"`

	Regime regime.Config `yaml:"regime"`

	Risk struct {
		DailyLossLimitPct   float64  `yaml:"daily_loss_limit_pct"`
		MaxOrderFailures    int      `yaml:"max_order_failures"`
		FailureWindow       Duration `yaml:"failure_window"`
		RateLimitCooldown   Duration `yaml:"rate_limit_cooldown"`
		MaxRateLimitRetries int      `yaml:"max_rate_limit_retries"`
		Location            string   `yaml:"location"`
	} `yaml:"risk"`

	Breakout strategy.BreakoutConfig `yaml:"breakout"`
	Adaptive strategy.AdaptiveConfig `yaml:"adaptive"`

	Backtest backtest.Config `yaml:"backtest"`

	Upbit struct {
		BaseURL           string            `yaml:"base_url"`
		Credentials       upbit.Credentials `yaml:"credentials"`
		Timeout           Duration          `yaml:"timeout"`
		RequestsPerSecond float64           `yaml:"requests_per_second"`
	} `yaml:"upbit"`

	Postgres struct {
		DSN string `yaml:"dsn"`
	} `yaml:"postgres"`

	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	Metrics struct {
		Addr string `yaml:"addr"`
	} `yaml:"metrics"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
}

// Load reads and parses the file. A missing path returns pure defaults.
func Load(path string) (*File, error) {
	var f File
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &f); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if f.Instrument == "" {
		f.Instrument = "KRW-BTC"
	}
	return &f, nil
}

// EngineConfig maps the file onto engine defaults.
func (f *File) EngineConfig() engine.Config {
	def := engine.DefaultConfig()
	cfg := engine.Config{
		Instrument:        f.Instrument,
		ReferenceInterval: f.Engine.ReferenceInterval.or(def.ReferenceInterval),
		SecondaryInterval: f.Engine.SecondaryInterval.or(def.SecondaryInterval),
		LookbackBars:      f.Engine.LookbackBars,
		OrderQuantity:     f.Engine.OrderQuantity,
		OrderAttempts:     f.Engine.OrderAttempts,
		RetryInterval:     f.Engine.RetryInterval.or(def.RetryInterval),
		ReconcileAttempts: f.Engine.ReconcileAttempts,
		ReconcileInterval: f.Engine.ReconcileInterval.or(def.ReconcileInterval),
		CallTimeout:       f.Engine.CallTimeout.or(def.CallTimeout),
		Location:          f.Engine.Location,
	}
	if cfg.LookbackBars == 0 {
		cfg.LookbackBars = def.LookbackBars
	}
	if cfg.OrderQuantity == 0 {
		cfg.OrderQuantity = def.OrderQuantity
	}
	if cfg.OrderAttempts == 0 {
		cfg.OrderAttempts = def.OrderAttempts
	}
	if cfg.ReconcileAttempts == 0 {
		cfg.ReconcileAttempts = def.ReconcileAttempts
	}
	if cfg.Location == "" {
		cfg.Location = def.Location
	}
	return cfg
}

// SchedulerConfig maps the file onto scheduler defaults.
func (f *File) SchedulerConfig() scheduler.Config {
	def := scheduler.DefaultConfig()
	return scheduler.Config{
		EntryInterval: f.Scheduler.EntryInterval.or(def.EntryInterval),
		ExitInterval:  f.Scheduler.ExitInterval.or(def.ExitInterval),
	}
}

// RegimeConfig maps the file onto regime defaults.
func (f *File) RegimeConfig() regime.Config {
	def := regime.DefaultConfig()
	cfg := f.Regime
	if cfg.FastEMA == 0 {
		cfg.FastEMA = def.FastEMA
	}
	if cfg.SlowEMA == 0 {
		cfg.SlowEMA = def.SlowEMA
	}
	if cfg.RSIPeriod == 0 {
		cfg.RSIPeriod = def.RSIPeriod
	}
	if cfg.BullRSI == 0 {
		cfg.BullRSI = def.BullRSI
	}
	if cfg.BearRSI == 0 {
		cfg.BearRSI = def.BearRSI
	}
	if cfg.Confirmations == 0 {
		cfg.Confirmations = def.Confirmations
	}
	if cfg.ADXPeriod == 0 {
		cfg.ADXPeriod = def.ADXPeriod
	}
	if cfg.MinADX == 0 {
		cfg.MinADX = def.MinADX
	}
	return cfg
}

// RiskConfig maps the file onto risk defaults.
func (f *File) RiskConfig() risk.Config {
	def := risk.DefaultConfig()
	cfg := risk.Config{
		DailyLossLimitPct:   f.Risk.DailyLossLimitPct,
		MaxOrderFailures:    f.Risk.MaxOrderFailures,
		FailureWindow:       f.Risk.FailureWindow.or(def.FailureWindow),
		RateLimitCooldown:   f.Risk.RateLimitCooldown.or(def.RateLimitCooldown),
		MaxRateLimitRetries: f.Risk.MaxRateLimitRetries,
		Location:            f.Risk.Location,
	}
	if cfg.DailyLossLimitPct == 0 {
		cfg.DailyLossLimitPct = def.DailyLossLimitPct
	}
	if cfg.MaxOrderFailures == 0 {
		cfg.MaxOrderFailures = def.MaxOrderFailures
	}
	if cfg.MaxRateLimitRetries == 0 {
		cfg.MaxRateLimitRetries = def.MaxRateLimitRetries
	}
	if cfg.Location == "" {
		cfg.Location = def.Location
	}
	return cfg
}

// Strategy builds the configured strategy.
func (f *File) StrategyInstance() (strategy.Strategy, error) {
	return strategy.New(f.Strategy, f.Breakout, f.Adaptive)
}

// BacktestConfig maps the file onto backtest defaults.
func (f *File) BacktestConfig() backtest.Config {
	def := backtest.DefaultConfig()
	cfg := f.Backtest
	if cfg.InitialCapital == 0 {
		cfg.InitialCapital = def.InitialCapital
	}
	if cfg.PositionSize == 0 {
		cfg.PositionSize = def.PositionSize
	}
	if cfg.Commission == 0 {
		cfg.Commission = def.Commission
	}
	if cfg.SlippageBps == 0 {
		cfg.SlippageBps = def.SlippageBps
	}
	if cfg.WarmupBars == 0 {
		cfg.WarmupBars = def.WarmupBars
	}
	return cfg
}

// UpbitConfig maps the file onto client defaults.
func (f *File) UpbitConfig() upbit.Config {
	def := upbit.DefaultConfig()
	cfg := upbit.Config{
		BaseURL:           f.Upbit.BaseURL,
		Credentials:       f.Upbit.Credentials,
		Timeout:           f.Upbit.Timeout.or(def.Timeout),
		RequestsPerSecond: f.Upbit.RequestsPerSecond,
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.RequestsPerSecond == 0 {
		cfg.RequestsPerSecond = def.RequestsPerSecond
	}
	return cfg
}
