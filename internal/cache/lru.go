package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

type entry[T any] struct {
	value     T
	expiresAt time.Time
}

// LRU is a bounded in-memory cache with a cache-wide TTL and strict
// least-recently-used eviction. Expired entries are removed lazily on read
// and by Sweep.
//
// All operations take a single mutex: reads reorder the recency list, so there
// is no read-only path.
type LRU[T any] struct {
	mu    sync.Mutex
	items *simplelru.LRU[string, entry[T]]

	ttl      time.Duration
	capacity int
	now      func() time.Time

	hits      uint64
	misses    uint64
	sweeps    uint64
	evictions uint64
	expired   uint64
}

// NewLRU creates a cache holding at most maxEntries entries, each remembered
// for ttl after it was last written.
func NewLRU[T any](ttl time.Duration, maxEntries int) (*LRU[T], error) {
	if ttl <= 0 {
		return nil, errors.New("cache TTL must be positive")
	}

	items, err := simplelru.NewLRU[string, entry[T]](maxEntries, nil)
	if err != nil {
		return nil, fmt.Errorf("creating LRU with %d entries: %w", maxEntries, err)
	}

	return &LRU[T]{
		items:    items,
		ttl:      ttl,
		capacity: maxEntries,
		now:      time.Now,
	}, nil
}

// Get returns the value for key when present and unexpired, marking it as
// most recently used. An expired entry is removed and counted as a miss.
func (l *LRU[T]) Get(_ context.Context, key string) (T, bool) {
	var zero T

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.items.Get(key)
	if !ok {
		l.misses++
		return zero, false
	}

	if !l.now().Before(e.expiresAt) {
		l.items.Remove(key)
		l.expired++
		l.misses++
		return zero, false
	}

	l.hits++
	return e.value, true
}

// Set stores value under key with a fresh expiry, making it the most recently
// used entry. When the cache is full and key is new, the least recently used
// entry is evicted first.
func (l *LRU[T]) Set(_ context.Context, key string, value T) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.items.Add(key, entry[T]{value: value, expiresAt: l.now().Add(l.ttl)}) {
		l.evictions++
	}
}

// Invalidate removes key, reporting whether it was present.
func (l *LRU[T]) Invalidate(_ context.Context, key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.items.Remove(key)
}

// Sweep removes all expired entries without affecting the recency of the
// remaining ones. Every call counts as one sweep, whatever it removes.
func (l *LRU[T]) Sweep(_ context.Context) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.sweeps++

	now := l.now()
	removed := 0
	for _, key := range l.items.Keys() {
		e, ok := l.items.Peek(key)
		if ok && !now.Before(e.expiresAt) {
			l.items.Remove(key)
			removed++
		}
	}

	l.expired += uint64(removed)
	return removed
}

// Stats returns a snapshot of the cache counters.
func (l *LRU[T]) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	return Stats{
		Size:      l.items.Len(),
		Capacity:  l.capacity,
		TTL:       l.ttl,
		Hits:      l.hits,
		Misses:    l.misses,
		Sweeps:    l.sweeps,
		Evictions: l.evictions,
		Expired:   l.expired,
		HitRate:   hitRate(l.hits, l.misses),
	}
}
