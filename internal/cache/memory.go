package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryProvider is a process-local Provider used when no Valkey endpoint is
// configured. Expired entries are evicted lazily on read and in bulk by
// Purge.
type MemoryProvider struct {
	mu    sync.Mutex
	items map[string]memoryItem
}

type memoryItem struct {
	value     []byte
	expiresAt time.Time
}

func (it memoryItem) expired(now time.Time) bool {
	return !it.expiresAt.IsZero() && now.After(it.expiresAt)
}

// NewMemoryProvider creates an empty in-memory cache.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{items: make(map[string]memoryItem)}
}

// Get returns a copy of the stored value or ErrCacheMiss.
func (p *MemoryProvider) Get(_ context.Context, key string) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	it, ok := p.items[key]
	if !ok {
		return nil, ErrCacheMiss
	}
	if it.expired(time.Now()) {
		delete(p.items, key)
		return nil, ErrCacheMiss
	}
	value := append([]byte(nil), it.value...)
	return value, nil
}

// Set stores a copy of value under key with an optional TTL.
func (p *MemoryProvider) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.items[key] = memoryItem{value: append([]byte(nil), value...), expiresAt: expiry(ttl)}
	return nil
}

// SetNX stores the value only when the key is absent or expired.
func (p *MemoryProvider) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if it, ok := p.items[key]; ok && !it.expired(time.Now()) {
		return false, nil
	}
	p.items[key] = memoryItem{value: append([]byte(nil), value...), expiresAt: expiry(ttl)}
	return true, nil
}

// Del removes a key.
func (p *MemoryProvider) Del(_ context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.items, key)
	return nil
}

// Close is a no-op for the in-memory cache.
func (p *MemoryProvider) Close() error { return nil }

// Purge drops all expired entries and reports how many were removed.
// Intended to run on a timer so idle keys do not accumulate.
func (p *MemoryProvider) Purge() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	removed := 0
	for key, it := range p.items {
		if it.expired(now) {
			delete(p.items, key)
			removed++
		}
	}
	return removed
}

// Len reports the number of entries currently held, expired or not.
func (p *MemoryProvider) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.items)
}

func expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return time.Now().Add(ttl)
}
