// Package risk enforces the account-level protections that sit above every
// strategy: the daily loss limit, the order failure breaker and the exchange
// rate limit backoff. Gates here outrank any signal the strategy produces.
package risk

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrHalted is returned by Gate while trading is halted.
var ErrHalted = errors.New("trading halted")

// ErrCoolingDown is returned by Gate during a rate limit cooldown.
var ErrCoolingDown = errors.New("rate limit cooldown")

// Clock supplies the current time. Injected so the daily rollover and the
// failure window are testable and deterministic in backtests.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// HaltReason records why trading stopped.
type HaltReason int

const (
	HaltNone HaltReason = iota
	HaltDailyLoss
	HaltOrderFailures
	HaltRateLimit
	HaltManual
)

func (r HaltReason) String() string {
	switch r {
	case HaltDailyLoss:
		return "daily_loss_limit"
	case HaltOrderFailures:
		return "order_failures"
	case HaltRateLimit:
		return "rate_limit_exhausted"
	case HaltManual:
		return "manual"
	default:
		return "none"
	}
}

// Config holds the gate thresholds. DailyLossLimitPct is negative; trading
// halts when realized daily PnL reaches it.
type Config struct {
	DailyLossLimitPct   float64       `yaml:"daily_loss_limit_pct"` // default -1.0
	MaxOrderFailures    int           `yaml:"max_order_failures"`   // within FailureWindow
	FailureWindow       time.Duration `yaml:"failure_window"`
	RateLimitCooldown   time.Duration `yaml:"rate_limit_cooldown"`
	MaxRateLimitRetries int           `yaml:"max_rate_limit_retries"`
	Location            string        `yaml:"location"` // IANA zone for the daily reset
}

// DefaultConfig returns the documented risk defaults.
func DefaultConfig() Config {
	return Config{
		DailyLossLimitPct:   -1.0,
		MaxOrderFailures:    5,
		FailureWindow:       time.Hour,
		RateLimitCooldown:   30 * time.Second,
		MaxRateLimitRetries: 3,
		Location:            "Local",
	}
}

// State is a snapshot of the manager for logging and persistence.
type State struct {
	Halted           bool       `json:"halted"`
	Reason           HaltReason `json:"reason"`
	DailyPnLPct      float64    `json:"daily_pnl_pct"`
	DailyDate        string     `json:"daily_date"`
	RecentFailures   int        `json:"recent_failures"`
	RateLimitStrikes int        `json:"rate_limit_strikes"`
	CooldownUntil    time.Time  `json:"cooldown_until"`
}

// Manager tracks daily PnL, order failures within a rolling window and rate
// limit strikes, and answers whether trading may proceed. All methods are
// safe for concurrent use.
//
// Mutators that can trip a halt return true only on the evaluation that
// trips it, so the caller runs its halt side effects exactly once.
type Manager struct {
	mu  sync.Mutex
	cfg Config
	clk Clock
	log zerolog.Logger
	loc *time.Location

	halted bool
	reason HaltReason

	dailyPnLPct float64
	dailyDate   string // YYYY-MM-DD in loc; rollover clears the day

	failures []time.Time

	rateStrikes   int
	cooldownUntil time.Time
}

// NewManager builds a manager. A nil clock uses the wall clock.
func NewManager(cfg Config, clk Clock, log zerolog.Logger) (*Manager, error) {
	if clk == nil {
		clk = SystemClock{}
	}
	loc := time.Local
	if cfg.Location != "" && cfg.Location != "Local" {
		var err error
		loc, err = time.LoadLocation(cfg.Location)
		if err != nil {
			return nil, fmt.Errorf("risk: load location %q: %w", cfg.Location, err)
		}
	}
	m := &Manager{cfg: cfg, clk: clk, log: log, loc: loc}
	m.dailyDate = clk.Now().In(loc).Format("2006-01-02")
	return m, nil
}

// Gate reports whether a new order may be placed right now. It also performs
// the daily rollover, so callers on any cadence pick up the reset.
func (m *Manager) Gate() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clk.Now()
	m.rollover(now)

	if m.halted {
		return fmt.Errorf("%w: %s", ErrHalted, m.reason)
	}
	if now.Before(m.cooldownUntil) {
		return fmt.Errorf("%w until %s", ErrCoolingDown, m.cooldownUntil.Format(time.RFC3339))
	}
	return nil
}

// RecordTrade adds one closed trade's realized return (percent of account,
// signed) to the daily total. Returns true when this trade trips the daily
// loss halt.
func (m *Manager) RecordTrade(returnPct float64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clk.Now()
	m.rollover(now)

	m.dailyPnLPct += returnPct
	if m.halted || m.dailyPnLPct > m.cfg.DailyLossLimitPct {
		return false
	}
	m.halt(HaltDailyLoss)
	m.log.Error().
		Float64("daily_pnl_pct", m.dailyPnLPct).
		Float64("limit_pct", m.cfg.DailyLossLimitPct).
		Msg("daily loss limit reached, halting")
	return true
}

// RecordOrderFailure notes one failed order. Returns true when the rolling
// window count reaches the limit and trips the halt.
func (m *Manager) RecordOrderFailure() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clk.Now()
	m.rollover(now)

	m.failures = append(m.failures, now)
	m.pruneFailures(now)
	if m.halted || len(m.failures) < m.cfg.MaxOrderFailures {
		return false
	}
	m.halt(HaltOrderFailures)
	m.log.Error().
		Int("failures", len(m.failures)).
		Dur("window", m.cfg.FailureWindow).
		Msg("order failure limit reached, halting")
	return true
}

// RecordRateLimit notes one rate limit response and starts a cooldown.
// Returns true when the strike budget is exhausted and trading halts.
func (m *Manager) RecordRateLimit() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clk.Now()
	m.rollover(now)

	m.rateStrikes++
	m.cooldownUntil = now.Add(m.cfg.RateLimitCooldown)
	if m.halted || m.rateStrikes < m.cfg.MaxRateLimitRetries {
		m.log.Warn().
			Int("strike", m.rateStrikes).
			Time("until", m.cooldownUntil).
			Msg("rate limited, cooling down")
		return false
	}
	m.halt(HaltRateLimit)
	m.log.Error().
		Int("strikes", m.rateStrikes).
		Msg("rate limit retries exhausted, halting")
	return true
}

// RecordOrderSuccess clears the rate limit strike count. Failure history is
// kept; the window prunes it.
func (m *Manager) RecordOrderSuccess() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rateStrikes = 0
}

// Halt stops trading manually. Returns true if this call tripped the halt.
func (m *Manager) Halt() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.halted {
		return false
	}
	m.halt(HaltManual)
	m.log.Warn().Msg("manual halt")
	return true
}

// Resume clears any halt and the cooldown. Operator action, never automatic
// except for the daily rollover.
func (m *Manager) Resume() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.halted = false
	m.reason = HaltNone
	m.rateStrikes = 0
	m.cooldownUntil = time.Time{}
	m.log.Info().Msg("trading resumed")
}

// State returns a snapshot of the manager after applying the rollover.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clk.Now()
	m.rollover(now)
	m.pruneFailures(now)
	return State{
		Halted:           m.halted,
		Reason:           m.reason,
		DailyPnLPct:      m.dailyPnLPct,
		DailyDate:        m.dailyDate,
		RecentFailures:   len(m.failures),
		RateLimitStrikes: m.rateStrikes,
		CooldownUntil:    m.cooldownUntil,
	}
}

// Restore loads persisted state, used on restart so a halt survives a crash.
func (m *Manager) Restore(s State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.halted = s.Halted
	m.reason = s.Reason
	m.dailyPnLPct = s.DailyPnLPct
	if s.DailyDate != "" {
		m.dailyDate = s.DailyDate
	}
	m.rateStrikes = s.RateLimitStrikes
	m.cooldownUntil = s.CooldownUntil
}

func (m *Manager) halt(reason HaltReason) {
	m.halted = true
	m.reason = reason
}

// rollover resets the daily PnL at local midnight. Only a daily-loss halt is
// cleared by the new day; failure and rate limit halts need operator action.
func (m *Manager) rollover(now time.Time) {
	day := now.In(m.loc).Format("2006-01-02")
	if day == m.dailyDate {
		return
	}
	m.dailyDate = day
	m.dailyPnLPct = 0
	if m.halted && m.reason == HaltDailyLoss {
		m.halted = false
		m.reason = HaltNone
		m.log.Info().Str("date", day).Msg("daily rollover, loss halt cleared")
	}
}

func (m *Manager) pruneFailures(now time.Time) {
	cutoff := now.Add(-m.cfg.FailureWindow)
	kept := m.failures[:0]
	for _, t := range m.failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	m.failures = kept
}
