// Package scheduler drives the engine's two cadences: a coarse entry loop
// and a fast exit loop. Both tickers fire into the same engine, which
// serializes them internally.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/coinrich/coinrich/internal/engine"
)

// Config holds loop periods.
type Config struct {
	EntryInterval time.Duration `yaml:"entry_interval"` // default 60s
	ExitInterval  time.Duration `yaml:"exit_interval"`  // default 2s
}

// DefaultConfig returns the documented cadences.
func DefaultConfig() Config {
	return Config{
		EntryInterval: time.Minute,
		ExitInterval:  2 * time.Second,
	}
}

// Loop runs the engine on its cadences until the context is cancelled.
type Loop struct {
	cfg Config
	eng *engine.Engine
	log zerolog.Logger
}

// New builds a loop.
func New(cfg Config, eng *engine.Engine, log zerolog.Logger) *Loop {
	if cfg.EntryInterval <= 0 {
		cfg.EntryInterval = time.Minute
	}
	if cfg.ExitInterval <= 0 {
		cfg.ExitInterval = 2 * time.Second
	}
	return &Loop{cfg: cfg, eng: eng, log: log}
}

// Run blocks until the context is cancelled. Evaluation errors are logged
// and the loop keeps going; a dropped tick is recoverable, a dead loop is
// not.
func (l *Loop) Run(ctx context.Context) error {
	entry := time.NewTicker(l.cfg.EntryInterval)
	defer entry.Stop()
	exit := time.NewTicker(l.cfg.ExitInterval)
	defer exit.Stop()

	// Evaluate once at startup instead of waiting a full entry period.
	l.step(ctx, l.eng.EvaluateEntry, "entry")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-entry.C:
			l.step(ctx, l.eng.EvaluateEntry, "entry")
		case <-exit.C:
			l.step(ctx, l.eng.EvaluateExit, "exit")
		}
	}
}

func (l *Loop) step(ctx context.Context, fn func(context.Context) error, kind string) {
	if err := fn(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		l.log.Error().Err(err).Str("loop", kind).Msg("evaluation failed")
	}
}
