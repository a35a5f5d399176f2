// Package strategy defines the capability interface trading strategies
// implement and the two bundled strategies. Strategies are selected by
// configuration, never by type switches in the engine.
package strategy

import (
	"context"
	"fmt"
	"time"

	"github.com/coinrich/coinrich/internal/market"
	"github.com/coinrich/coinrich/internal/regime"
)

// PositionView is a read-only copy of the open position state a strategy may
// inspect during exit evaluation. Mutation stays with the position book.
type PositionView struct {
	EntryPrice         float64
	EntryTime          time.Time
	Quantity           float64
	MaxPriceSinceEntry float64
	StopLossPrice      float64
	TrailingActive     bool
}

// EntryContext carries everything entry evaluation may read. The engine
// assembles it once per coarse tick.
type EntryContext struct {
	Instrument   string
	Reference    *market.Series // reference timeframe trailing bars
	Secondary    *market.Series // secondary timeframe trailing bars
	Regime       regime.Label   // committed label
	Price        float64        // latest trade price
	PriorDayHigh float64
	HasPosition  bool
	Halted       bool
	Now          time.Time
}

// ExitContext carries exit evaluation inputs. Reference bars may be stale on
// the fast exit cadence; price-only strategies must not depend on them.
type ExitContext struct {
	Instrument string
	Price      float64
	Position   PositionView
	Reference  *market.Series // last known reference bars, may be nil
	Regime     regime.Label
	Now        time.Time
}

// ExitAction is the outcome of one exit evaluation.
type ExitAction int

const (
	// ActionHold keeps the position open unchanged.
	ActionHold ExitAction = iota
	// ActionArmTrailing raises the stop and activates the trailing ratchet
	// without exiting.
	ActionArmTrailing
	// ActionExit closes the position at market.
	ActionExit
)

// ExitDecision is returned by EvaluateExit. StopPrice is only meaningful for
// ActionArmTrailing.
type ExitDecision struct {
	Action    ExitAction
	Reason    ExitReason
	StopPrice float64
}

// Strategy is the capability interface the decision pipeline drives. Entry
// returns a nil signal when no entry condition holds; exit returns
// ActionHold likewise. Both return market.ErrInsufficientData when the
// lookback has not filled, which callers treat as "skip this tick".
type Strategy interface {
	ID() string
	EvaluateEntry(ctx context.Context, ec EntryContext) (*Signal, error)
	EvaluateExit(ctx context.Context, xc ExitContext) (ExitDecision, error)
}

// New builds a strategy by configured name.
func New(name string, breakout BreakoutConfig, adaptive AdaptiveConfig) (Strategy, error) {
	switch name {
	case "", BreakoutScalpID:
		return NewBreakoutScalp(breakout), nil
	case AdaptivePositionID:
		return NewAdaptivePosition(adaptive), nil
	default:
		return nil, fmt.Errorf("unknown strategy: %s", name)
	}
}
