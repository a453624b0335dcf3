package router

import (
	"context"
	"sync"
	"time"
)

// MemoryDedup is an in-process TTL set satisfying model.IdempotencyStore.
// Used in SIMULATION mode and tests; live wiring uses the Redis-backed
// store so restarts keep the dedup horizon.
type MemoryDedup struct {
	mu   sync.Mutex
	seen map[string]time.Time // key -> expiry
	now  func() time.Time
}

// NewMemoryDedup creates an empty TTL set.
func NewMemoryDedup() *MemoryDedup {
	return &MemoryDedup{seen: make(map[string]time.Time), now: time.Now}
}

// FirstSeen records key and reports whether it is new. Expired entries are
// collected lazily on access.
func (m *MemoryDedup) FirstSeen(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()

	if exp, ok := m.seen[key]; ok && now.Before(exp) {
		return false, nil
	}
	m.seen[key] = now.Add(ttl)

	// Opportunistic sweep keeps the set bounded
	if len(m.seen) > 4096 {
		for k, exp := range m.seen {
			if now.After(exp) {
				delete(m.seen, k)
			}
		}
	}
	return true, nil
}
