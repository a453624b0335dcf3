package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"
)

// Dedup is the restart-safe idempotency set backed by SETNX with TTL. A
// process restart inside the dedup horizon still rejects signals it already
// admitted, which the in-memory set cannot do.
type Dedup struct {
	client *goredis.Client
	prefix string
}

// NewDedup creates the idempotency store. prefix namespaces the keys
// (e.g. "dedup:").
func NewDedup(client *goredis.Client, prefix string) *Dedup {
	return &Dedup{client: client, prefix: prefix}
}

// FirstSeen records key with the TTL and reports whether it was new.
func (d *Dedup) FirstSeen(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := d.client.SetNX(ctx, d.prefix+key, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx %s: %w", key, err)
	}
	return ok, nil
}
