// Package persistence defines the storage interfaces the engine depends on
// and in-memory implementations used by backtests and tests. Postgres and
// Redis implementations live in subpackages.
package persistence

import (
	"context"
	"sync"
	"time"

	"github.com/coinrich/coinrich/internal/position"
	"github.com/coinrich/coinrich/internal/risk"
)

// TradeStore records completed trades. Append must be durable before the
// engine moves on; a trade that is not recorded cannot feed the daily loss
// limit after a restart.
type TradeStore interface {
	Append(ctx context.Context, trade position.TradeRecord) error
	List(ctx context.Context, instrument string, from, to time.Time, limit int) ([]position.TradeRecord, error)
}

// Snapshot is the crash-recovery state: open positions and the risk gates.
type Snapshot struct {
	Positions []position.Position `json:"positions"`
	Risk      risk.State          `json:"risk"`
	SavedAt   time.Time           `json:"saved_at"`
}

// SnapshotStore persists the recovery snapshot. Load returning found=false
// means a clean start.
type SnapshotStore interface {
	Save(ctx context.Context, snap Snapshot) error
	Load(ctx context.Context) (Snapshot, bool, error)
	Delete(ctx context.Context) error
}

// MemoryTradeStore keeps trades in memory. Used by backtests.
type MemoryTradeStore struct {
	mu     sync.Mutex
	trades []position.TradeRecord
}

// NewMemoryTradeStore returns an empty store.
func NewMemoryTradeStore() *MemoryTradeStore {
	return &MemoryTradeStore{}
}

func (s *MemoryTradeStore) Append(_ context.Context, trade position.TradeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades = append(s.trades, trade)
	return nil
}

func (s *MemoryTradeStore) List(_ context.Context, instrument string, from, to time.Time, limit int) ([]position.TradeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]position.TradeRecord, 0, len(s.trades))
	for _, t := range s.trades {
		if instrument != "" && t.Instrument != instrument {
			continue
		}
		if !from.IsZero() && t.ExitTime.Before(from) {
			continue
		}
		if !to.IsZero() && t.ExitTime.After(to) {
			continue
		}
		out = append(out, t)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// All returns every recorded trade in order.
func (s *MemoryTradeStore) All() []position.TradeRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]position.TradeRecord, len(s.trades))
	copy(out, s.trades)
	return out
}

// MemorySnapshotStore keeps the latest snapshot in memory.
type MemorySnapshotStore struct {
	mu    sync.Mutex
	snap  Snapshot
	saved bool
}

// NewMemorySnapshotStore returns an empty store.
func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{}
}

func (s *MemorySnapshotStore) Save(_ context.Context, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = snap
	s.saved = true
	return nil
}

func (s *MemorySnapshotStore) Load(_ context.Context) (Snapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap, s.saved, nil
}

func (s *MemorySnapshotStore) Delete(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = Snapshot{}
	s.saved = false
	return nil
}
