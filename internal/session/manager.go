package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/chinmina/sessiongate/internal/cache"
	"github.com/chinmina/sessiongate/internal/config"
	"github.com/chinmina/sessiongate/internal/token"
)

const instrumentationName = "github.com/chinmina/sessiongate/internal/session"

// Verifier checks a raw token of the given purpose and returns its payload.
type Verifier interface {
	Verify(ctx context.Context, raw string, purpose token.Purpose) (token.Payload, error)
}

// Issuer signs a new token of the given purpose for the payload.
type Issuer interface {
	Issue(ctx context.Context, purpose token.Purpose, payload token.Payload) (string, error)
}

// refreshed is the shared outcome of a single refresh.
type refreshed struct {
	accessToken string
	payload     token.Payload
}

// Manager decides whether a request carrying an access and refresh token pair
// is authenticated. It memoizes access token verifications, and coordinates
// refreshes so that concurrent requests sharing a refresh token cause a single
// new access token to be issued.
type Manager struct {
	cache       cache.TokenCache[token.Payload]
	coordinator *Coordinator[refreshed]
	verifier    Verifier
	issuer      Issuer

	sweepInterval time.Duration
	sweepMu       sync.Mutex
	sweepStarted  bool
	sweepStopped  bool
	stop          chan struct{}
	stopped       chan struct{}

	refreshes       atomic.Uint64
	refreshFailures atomic.Uint64

	decisions    metric.Int64Counter
	refreshCount metric.Int64Counter
}

// NewManager creates a Manager with its own token cache and refresh
// coordinator. The background sweep is not running until
// StartBackgroundSweep is called.
func NewManager(cfg config.SessionConfig, verifier Verifier, issuer Issuer) (*Manager, error) {
	lru, err := cache.NewLRU[token.Payload](cfg.CacheTTL, cfg.CacheMaxEntries)
	if err != nil {
		return nil, fmt.Errorf("creating access token cache: %w", err)
	}

	m := &Manager{
		cache:         cache.NewInstrumented(lru, "access_token"),
		coordinator:   NewCoordinator[refreshed](cfg.RefreshWaitTimeout),
		verifier:      verifier,
		issuer:        issuer,
		sweepInterval: cfg.SweepInterval,
		stop:          make(chan struct{}),
		stopped:       make(chan struct{}),
	}

	meter := otel.Meter(instrumentationName)

	m.decisions, err = meter.Int64Counter(
		"session.decisions",
		metric.WithDescription("Session decisions by outcome and reason"),
	)
	if err != nil {
		otel.Handle(err)
	}

	m.refreshCount, err = meter.Int64Counter(
		"session.refreshes",
		metric.WithDescription("Access token refreshes performed"),
	)
	if err != nil {
		otel.Handle(err)
	}

	return m, nil
}

// Decide classifies a request by its access and refresh tokens. An empty
// string means the token was not presented. Decide never fails: every
// verification or issuing failure is expressed as a rejected Verdict.
func (m *Manager) Decide(ctx context.Context, accessToken, refreshToken string) Verdict {
	v := m.decide(ctx, accessToken, refreshToken)

	if m.decisions != nil {
		m.decisions.Add(ctx, 1, metric.WithAttributes(
			attribute.String("session.outcome", v.Outcome.String()),
			attribute.String("session.reason", v.Reason.Code()),
			attribute.Bool("session.rotated", v.Rotate),
		))
	}

	return v
}

func (m *Manager) decide(ctx context.Context, accessToken, refreshToken string) Verdict {
	if accessToken == "" && refreshToken == "" {
		return reject(NoToken, nil)
	}

	var accessErr error
	if accessToken != "" {
		if payload, ok := m.cache.Get(ctx, accessToken); ok {
			return accept(payload)
		}

		payload, err := protect(func() (token.Payload, error) {
			return m.verifier.Verify(ctx, accessToken, token.Access)
		})
		if err == nil {
			m.cache.Set(ctx, accessToken, payload)
			return accept(payload)
		}

		// an expired access token alongside a refresh token is the normal
		// renewal path
		accessErr = fmt.Errorf("access token: %w", err)
		log.Ctx(ctx).Debug().Err(err).Msg("access token not accepted")
	}

	if refreshToken == "" {
		return reject(NoValidToken, accessErr)
	}

	result, shared, err := m.coordinator.WithLock(ctx, refreshToken, func(ctx context.Context) (refreshed, error) {
		return m.refresh(ctx, refreshToken)
	})
	if err != nil {
		reason := RefreshFailed
		if errors.Is(err, ErrRefreshTimeout) {
			reason = RefreshTimeout
		}

		log.Ctx(ctx).Info().Err(err).Bool("shared", shared).Str("reason", reason.Code()).Msg("session refresh failed")

		v := reject(reason, err)
		v.Shared = shared
		return v
	}

	return rotate(result.payload, result.accessToken, shared)
}

// refresh verifies the refresh token, issues a new access token for its
// subject and caches the new token. It is only ever called through the
// coordinator.
func (m *Manager) refresh(ctx context.Context, refreshToken string) (refreshed, error) {
	ctx, span := otel.Tracer(instrumentationName).Start(ctx, "session.refresh")
	defer span.End()

	m.refreshes.Add(1)

	result, err := m.issueFromRefresh(ctx, refreshToken)

	status := "success"
	if err != nil {
		status = "failure"
		m.refreshFailures.Add(1)
		span.RecordError(err)
		span.SetStatus(codes.Error, "session refresh failed")
	}

	if m.refreshCount != nil {
		m.refreshCount.Add(ctx, 1, metric.WithAttributes(attribute.String("session.status", status)))
	}

	return result, err
}

func (m *Manager) issueFromRefresh(ctx context.Context, refreshToken string) (refreshed, error) {
	source, err := m.verifier.Verify(ctx, refreshToken, token.Refresh)
	if err != nil {
		return refreshed{}, fmt.Errorf("verifying refresh token: %w", err)
	}

	accessToken, err := m.issuer.Issue(ctx, token.Access, source)
	if err != nil {
		return refreshed{}, fmt.Errorf("issuing access token for subject %s: %w", source.Subject, err)
	}

	// the cache only ever holds verified tokens, and verifying the new token
	// yields its own timing claims rather than the refresh token's
	payload, err := m.verifier.Verify(ctx, accessToken, token.Access)
	if err != nil {
		return refreshed{}, fmt.Errorf("verifying issued access token: %w", err)
	}

	m.cache.Set(ctx, accessToken, payload)

	return refreshed{accessToken: accessToken, payload: payload}, nil
}

// Forget drops a cached access token, so that its next use is verified
// again. Used when a session ends.
func (m *Manager) Forget(ctx context.Context, accessToken string) {
	if accessToken == "" {
		return
	}
	m.cache.Invalidate(ctx, accessToken)
}

// StartBackgroundSweep starts the periodic removal of expired cache entries.
// The sweep runs until StopBackgroundSweep is called or ctx is cancelled.
// Calls after the first, or after a stop, have no effect.
func (m *Manager) StartBackgroundSweep(ctx context.Context) {
	m.sweepMu.Lock()
	defer m.sweepMu.Unlock()

	if m.sweepStarted || m.sweepStopped {
		return
	}
	m.sweepStarted = true

	go m.sweepLoop(ctx)
}

// StopBackgroundSweep stops the background sweep and waits for it to exit. It
// is safe to call more than once, and before the sweep was started.
func (m *Manager) StopBackgroundSweep() {
	m.sweepMu.Lock()
	if !m.sweepStopped {
		m.sweepStopped = true
		close(m.stop)
	}
	started := m.sweepStarted
	m.sweepMu.Unlock()

	if started {
		<-m.stopped
	}
}

func (m *Manager) sweepLoop(ctx context.Context) {
	defer close(m.stopped)

	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.sweep(ctx)
		case <-m.stop:
			log.Info().Msg("session sweep shutting down")
			return
		case <-ctx.Done():
			log.Info().Msg("session sweep shutting down")
			return
		}
	}
}

// sweep performs a single sweep with tracing. Panics are recovered so the loop
// survives.
func (m *Manager) sweep(ctx context.Context) {
	ctx, span := otel.Tracer(instrumentationName).Start(ctx, "session.sweep")
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic during cache sweep: %v", r)
			span.RecordError(err)
			span.SetStatus(codes.Error, "cache sweep panicked")
			log.Warn().Interface("panic", r).Msg("cache sweep panicked, recovered")
		}
	}()

	removed := m.cache.Sweep(ctx)
	span.SetAttributes(attribute.Int("session.sweep.removed", removed))

	m.LogStats(ctx)
}

// Stats is a snapshot of the session cache and refresh counters.
type Stats struct {
	Cache           cache.Stats `json:"cache"`
	Refreshes       uint64      `json:"refreshes"`
	RefreshFailures uint64      `json:"refreshFailures"`
	Piggybacked     uint64      `json:"piggybacked"`
	Waiting         int64       `json:"waiting"`
}

// MarshalZerologObject writes the snapshot as structured log fields.
func (s Stats) MarshalZerologObject(e *zerolog.Event) {
	e.Object("cache", s.Cache).
		Uint64("refreshes", s.Refreshes).
		Uint64("refresh_failures", s.RefreshFailures).
		Uint64("piggybacked", s.Piggybacked).
		Int64("waiting", s.Waiting)
}

// Stats returns a snapshot of the manager's counters.
func (m *Manager) Stats() Stats {
	return Stats{
		Cache:           m.cache.Stats(),
		Refreshes:       m.refreshes.Load(),
		RefreshFailures: m.refreshFailures.Load(),
		Piggybacked:     m.coordinator.Piggybacked(),
		Waiting:         m.coordinator.Waiting(),
	}
}

// LogStats writes the current statistics to the context logger.
func (m *Manager) LogStats(ctx context.Context) {
	log.Ctx(ctx).Info().EmbedObject(m.Stats()).Msg("session statistics")
}
