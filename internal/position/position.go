// Package position is the single source of truth for open positions. At most
// one position per instrument exists at a time; the book enforces it. Stop
// prices only ever ratchet upward.
package position

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrExists is returned by Open when the instrument already has a position.
var ErrExists = errors.New("position already open")

// ErrNotFound is returned when no position is open for the instrument.
var ErrNotFound = errors.New("no open position")

// Position is the open state for one instrument.
type Position struct {
	Instrument         string    `json:"instrument"`
	StrategyID         string    `json:"strategy_id"`
	EntryPrice         float64   `json:"entry_price"`
	EntryTime          time.Time `json:"entry_time"`
	Quantity           float64   `json:"quantity"`
	MaxPriceSinceEntry float64   `json:"max_price_since_entry"`
	StopLossPrice      float64   `json:"stop_loss_price"`
	TrailingActive     bool      `json:"trailing_active"`
	EntryOrderID       string    `json:"entry_order_id"`
	EntryRegime        string    `json:"entry_regime"`
}

// TradeRecord is one completed round trip, emitted by Close.
type TradeRecord struct {
	Instrument  string    `json:"instrument"`
	StrategyID  string    `json:"strategy_id"`
	EntryPrice  float64   `json:"entry_price"`
	ExitPrice   float64   `json:"exit_price"`
	Quantity    float64   `json:"quantity"`
	EntryTime   time.Time `json:"entry_time"`
	ExitTime    time.Time `json:"exit_time"`
	ReturnPct   float64   `json:"return_pct"`
	PnL         float64   `json:"pnl"`
	ExitReason  string    `json:"exit_reason"`
	EntryRegime string    `json:"entry_regime"`
	ExitOrderID string    `json:"exit_order_id"`
}

// HoldingPeriod returns how long the position was open.
func (t TradeRecord) HoldingPeriod() time.Duration {
	return t.ExitTime.Sub(t.EntryTime)
}

// Book holds open positions keyed by instrument. Safe for concurrent use.
type Book struct {
	mu        sync.Mutex
	positions map[string]*Position
}

// NewBook returns an empty book.
func NewBook() *Book {
	return &Book{positions: make(map[string]*Position)}
}

// Open records a fill as a new position. Fails if one is already open for
// the instrument; the caller must never hold two.
func (b *Book) Open(p Position) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.positions[p.Instrument]; ok {
		return fmt.Errorf("%w: %s", ErrExists, p.Instrument)
	}
	if p.MaxPriceSinceEntry < p.EntryPrice {
		p.MaxPriceSinceEntry = p.EntryPrice
	}
	b.positions[p.Instrument] = &p
	return nil
}

// Get returns a copy of the open position.
func (b *Book) Get(instrument string) (Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.positions[instrument]
	if !ok {
		return Position{}, fmt.Errorf("%w: %s", ErrNotFound, instrument)
	}
	return *p, nil
}

// HasOpen reports whether the instrument has an open position.
func (b *Book) HasOpen(instrument string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.positions[instrument]
	return ok
}

// Instruments returns the instruments with open positions.
func (b *Book) Instruments() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.positions))
	for k := range b.positions {
		out = append(out, k)
	}
	return out
}

// Tick updates the running price maximum. No-op when no position is open.
func (b *Book) Tick(instrument string, price float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.positions[instrument]
	if !ok {
		return
	}
	if price > p.MaxPriceSinceEntry {
		p.MaxPriceSinceEntry = price
	}
}

// ArmTrailing activates the trailing stop at the given price. The stop only
// moves up: a lower requested stop keeps the existing one.
func (b *Book) ArmTrailing(instrument string, stop float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.positions[instrument]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, instrument)
	}
	p.TrailingActive = true
	if stop > p.StopLossPrice {
		p.StopLossPrice = stop
	}
	return nil
}

// Close removes the position and returns the completed trade record.
func (b *Book) Close(instrument string, exitPrice float64, exitTime time.Time, reason, exitOrderID string) (TradeRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.positions[instrument]
	if !ok {
		return TradeRecord{}, fmt.Errorf("%w: %s", ErrNotFound, instrument)
	}
	delete(b.positions, instrument)

	returnPct := 0.0
	if p.EntryPrice > 0 {
		returnPct = (exitPrice - p.EntryPrice) / p.EntryPrice * 100.0
	}
	return TradeRecord{
		Instrument:  p.Instrument,
		StrategyID:  p.StrategyID,
		EntryPrice:  p.EntryPrice,
		ExitPrice:   exitPrice,
		Quantity:    p.Quantity,
		EntryTime:   p.EntryTime,
		ExitTime:    exitTime,
		ReturnPct:   returnPct,
		PnL:         (exitPrice - p.EntryPrice) * p.Quantity,
		ExitReason:  reason,
		EntryRegime: p.EntryRegime,
		ExitOrderID: exitOrderID,
	}, nil
}

// Restore loads persisted positions on restart, replacing the book contents.
func (b *Book) Restore(positions []Position) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.positions = make(map[string]*Position, len(positions))
	for _, p := range positions {
		cp := p
		if cp.MaxPriceSinceEntry < cp.EntryPrice {
			cp.MaxPriceSinceEntry = cp.EntryPrice
		}
		b.positions[cp.Instrument] = &cp
	}
}

// Snapshot returns copies of all open positions for persistence.
func (b *Book) Snapshot() []Position {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Position, 0, len(b.positions))
	for _, p := range b.positions {
		out = append(out, *p)
	}
	return out
}
