package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// SeenStore remembers which sessions were already reconciled, so the
// sign-in side effect runs once per session instead of once per event.
type SeenStore interface {
	Seen(ctx context.Context, key string) (bool, error)
	Remember(ctx context.Context, key string) error
}

// MemorySeenStore is a per-process TTL set. Entries expire after ttl and
// are swept lazily on Remember.
type MemorySeenStore struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]time.Time // key → expiry
}

// NewMemorySeenStore creates a MemorySeenStore.
func NewMemorySeenStore(ttl time.Duration) *MemorySeenStore {
	return &MemorySeenStore{ttl: ttl, now: time.Now, entries: make(map[string]time.Time)}
}

func (m *MemorySeenStore) Seen(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	exp, ok := m.entries[key]
	return ok && m.now().Before(exp), nil
}

func (m *MemorySeenStore) Remember(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for k, exp := range m.entries {
		if !now.Before(exp) {
			delete(m.entries, k)
		}
	}
	m.entries[key] = now.Add(m.ttl)
	return nil
}

// Len returns the number of live and not yet swept entries.
func (m *MemorySeenStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// RedisSeenStore shares the seen set across instances.
//
// Keys look like "reroom:synced:<user id>:<session id>" and expire with
// the TTL, so Redis does the cleanup.
type RedisSeenStore struct {
	client *redis.Client
	ttl    time.Duration
}

const seenKeyPrefix = "reroom:synced:"

// NewRedisSeenStore creates a RedisSeenStore on an existing client.
func NewRedisSeenStore(client *redis.Client, ttl time.Duration) *RedisSeenStore {
	return &RedisSeenStore{client: client, ttl: ttl}
}

func (r *RedisSeenStore) Seen(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, seenKeyPrefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("service/seen: redis exists: %w", err)
	}
	return n > 0, nil
}

// Remember uses SET NX so a racing instance's entry (and its TTL) wins.
func (r *RedisSeenStore) Remember(ctx context.Context, key string) error {
	if err := r.client.SetNX(ctx, seenKeyPrefix+key, 1, r.ttl).Err(); err != nil {
		return fmt.Errorf("service/seen: redis setnx: %w", err)
	}
	return nil
}
