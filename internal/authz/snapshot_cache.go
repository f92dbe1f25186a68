package authz

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// SnapshotCache keeps per-user permission snapshots in Redis. The cache only
// feeds the client-side guard; the authoritative server guard always reads
// through the store, so a stale entry can never widen server-side access.
type SnapshotCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSnapshotCache constructs a SnapshotCache.
func NewSnapshotCache(client *redis.Client, ttl time.Duration) *SnapshotCache {
	return &SnapshotCache{client: client, ttl: ttl}
}

// Get returns the cached snapshot, or nil on miss.
func (c *SnapshotCache) Get(ctx context.Context, userID int64) (*Snapshot, error) {
	if c == nil || c.client == nil {
		return nil, nil
	}
	payload, err := c.client.Get(ctx, c.key(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var snap Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Set stores a snapshot with the configured TTL.
func (c *SnapshotCache) Set(ctx context.Context, userID int64, snap *Snapshot) error {
	if c == nil || c.client == nil {
		return nil
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(userID), payload, c.ttl).Err()
}

// Invalidate drops a user's snapshot after a binding write. Role-binding
// changes affect many users at once and simply age out through the TTL.
func (c *SnapshotCache) Invalidate(ctx context.Context, userID int64) error {
	if c == nil || c.client == nil {
		return nil
	}
	err := c.client.Del(ctx, c.key(userID)).Err()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	return err
}

func (c *SnapshotCache) key(userID int64) string {
	return fmt.Sprintf("authz:snapshot:%d", userID)
}
