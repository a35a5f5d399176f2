// Package redisstore persists the crash-recovery snapshot in Redis. A single
// key holds the JSON-encoded open positions and risk state; the engine saves
// on every state change and deletes on clean shutdown with no position.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/coinrich/coinrich/internal/persistence"
)

const defaultKey = "coinrich:snapshot"

// SnapshotStore implements persistence.SnapshotStore on Redis.
type SnapshotStore struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// New builds a snapshot store. A zero ttl keeps snapshots forever; a stale
// snapshot on restart is still better than none, recovery validates it
// against the venue anyway.
func New(client *redis.Client, key string, ttl time.Duration) *SnapshotStore {
	if key == "" {
		key = defaultKey
	}
	return &SnapshotStore{client: client, key: key, ttl: ttl}
}

// Save writes the snapshot.
func (s *SnapshotStore) Save(ctx context.Context, snap persistence.Snapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := s.client.Set(ctx, s.key, raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// Load reads the snapshot. found is false when none exists.
func (s *SnapshotStore) Load(ctx context.Context) (persistence.Snapshot, bool, error) {
	raw, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return persistence.Snapshot{}, false, nil
	}
	if err != nil {
		return persistence.Snapshot{}, false, fmt.Errorf("load snapshot: %w", err)
	}
	var snap persistence.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return persistence.Snapshot{}, false, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, true, nil
}

// Delete removes the snapshot.
func (s *SnapshotStore) Delete(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}
