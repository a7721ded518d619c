// Package ratelimit limits the number of requests each client may make in a
// fixed window.
package ratelimit

import (
	"encoding/json"
	"math"
	"net/http"
	"net/netip"
	"strconv"
	"sync"
	"time"

	"github.com/maypok86/otter/v2"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/chinmina/sessiongate/internal/audit"
	"github.com/chinmina/sessiongate/internal/config"
)

// window counts the requests of one client within one fixed window.
type window struct {
	mu      sync.Mutex
	count   int
	resetAt time.Time
}

// Decision is the outcome of a single rate limit check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	Reset     time.Duration
}

// Limiter is a fixed-window, per-client request limiter. Client windows are
// held in a bounded cache and expire with the window, so idle clients cost
// nothing.
type Limiter struct {
	clients    *otter.Cache[string, *window]
	limit      int
	period     time.Duration
	ipv6Prefix int
	now        func() time.Time

	rejected metric.Int64Counter
}

// New creates a Limiter from the rate limit configuration.
func New(cfg config.RateLimitConfig) *Limiter {
	clients := otter.Must(&otter.Options[string, *window]{
		MaximumSize:      cfg.MaxClients,
		ExpiryCalculator: otter.ExpiryCreating[string, *window](cfg.Window),
	})

	rejected, err := otel.Meter("github.com/chinmina/sessiongate/internal/ratelimit").Int64Counter(
		"ratelimit.rejected",
		metric.WithDescription("Requests rejected by the rate limiter"),
	)
	if err != nil {
		otel.Handle(err)
	}

	return &Limiter{
		clients:    clients,
		limit:      cfg.Requests,
		period:     cfg.Window,
		ipv6Prefix: cfg.IPv6Prefix,
		now:        time.Now,
		rejected:   rejected,
	}
}

// Allow records a request for the client key and reports whether it is
// within the limit.
func (l *Limiter) Allow(key string) Decision {
	now := l.now()

	w, _ := l.clients.SetIfAbsent(key, &window{resetAt: now.Add(l.period)})

	w.mu.Lock()
	defer w.mu.Unlock()

	// the cache entry may outlive its window slightly
	if !now.Before(w.resetAt) {
		w.count = 0
		w.resetAt = now.Add(l.period)
	}

	w.count++

	return Decision{
		Allowed:   w.count <= l.limit,
		Limit:     l.limit,
		Remaining: max(l.limit-w.count, 0),
		Reset:     w.resetAt.Sub(now),
	}
}

// ClientKey identifies the client of a request by its remote address. IPv6
// clients are grouped by network prefix.
func (l *Limiter) ClientKey(r *http.Request) string {
	return clientKey(r.RemoteAddr, l.ipv6Prefix)
}

func clientKey(remoteAddr string, ipv6Prefix int) string {
	var addr netip.Addr
	if ap, err := netip.ParseAddrPort(remoteAddr); err == nil {
		addr = ap.Addr()
	} else if a, err := netip.ParseAddr(remoteAddr); err == nil {
		addr = a
	} else {
		return remoteAddr
	}

	addr = addr.Unmap()
	if addr.Is4() {
		return addr.String()
	}

	prefix, err := addr.WithZone("").Prefix(ipv6Prefix)
	if err != nil {
		return addr.String()
	}

	return prefix.String()
}

// ErrorResponse is the body sent when a client exceeds the limit.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Middleware rejects requests over the limit with 429 Too Many Requests. All
// responses carry the RateLimit-Limit, RateLimit-Remaining and
// RateLimit-Reset headers.
func (l *Limiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := l.Allow(l.ClientKey(r))

			resetSecs := strconv.Itoa(int(math.Ceil(d.Reset.Seconds())))

			h := w.Header()
			h.Set("RateLimit-Limit", strconv.Itoa(d.Limit))
			h.Set("RateLimit-Remaining", strconv.Itoa(d.Remaining))
			h.Set("RateLimit-Reset", resetSecs)

			if d.Allowed {
				next.ServeHTTP(w, r)
				return
			}

			audit.Log(r.Context()).RateLimited = true
			if l.rejected != nil {
				l.rejected.Add(r.Context(), 1)
			}

			h.Set("Retry-After", resetSecs)
			h.Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)

			response := ErrorResponse{
				Error:   "Too Many Requests",
				Message: "Too many requests from this client, please try again later",
			}
			if err := json.NewEncoder(w).Encode(response); err != nil {
				log.Info().Msgf("failed to write JSON error response: %v", err)
			}
		})
	}
}
