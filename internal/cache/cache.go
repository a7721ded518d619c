package cache

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// TokenCache defines the interface for verified-token memo implementations.
// The generic type T represents the payload remembered for each token.
//
// Entries are advisory: a missing entry means the caller must verify the
// token itself, never that the token is invalid.
type TokenCache[T any] interface {
	// Get retrieves a payload from the cache, refreshing its recency.
	// Returns the payload and whether it was found and still fresh.
	Get(ctx context.Context, key string) (T, bool)

	// Set stores a payload in the cache with a fresh expiry.
	Set(ctx context.Context, key string, value T)

	// Invalidate removes a payload from the cache, reporting whether it was
	// present.
	Invalidate(ctx context.Context, key string) bool

	// Sweep removes every expired entry and returns how many were removed.
	Sweep(ctx context.Context) int

	// Stats returns a snapshot of the cache counters.
	Stats() Stats
}

// Stats is a point-in-time snapshot of cache usage. Counters accumulate for
// the lifetime of the cache.
type Stats struct {
	Size      int           `json:"size"`
	Capacity  int           `json:"capacity"`
	TTL       time.Duration `json:"ttl"`
	Hits      uint64        `json:"hits"`
	Misses    uint64        `json:"misses"`
	Sweeps    uint64        `json:"sweeps"`
	Evictions uint64        `json:"evictions"`
	Expired   uint64        `json:"expired"`
	HitRate   float64       `json:"hitRate"`
}

// hitRate is hits/(hits+misses), defined as zero before any access.
func hitRate(hits, misses uint64) float64 {
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// MarshalZerologObject writes the snapshot as structured log fields.
func (s Stats) MarshalZerologObject(e *zerolog.Event) {
	e.Int("size", s.Size).
		Int("capacity", s.Capacity).
		Dur("ttl", s.TTL).
		Uint64("hits", s.Hits).
		Uint64("misses", s.Misses).
		Uint64("sweeps", s.Sweeps).
		Uint64("evictions", s.Evictions).
		Uint64("expired", s.Expired).
		Float64("hit_rate", s.HitRate)
}
