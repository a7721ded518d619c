package config

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// minSecretBytes is the shortest HMAC secret accepted for either token
// purpose.
const minSecretBytes = 32

type Config struct {
	Cookie    CookieConfig
	Observe   ObserveConfig
	RateLimit RateLimitConfig
	Server    ServerConfig
	Session   SessionConfig
	Token     TokenConfig
}

type ServerConfig struct {
	Environment            string `env:"ENV, default=production"`
	Port                   int    `env:"SERVER_PORT, default=8080"`
	ShutdownTimeoutSeconds int    `env:"SERVER_SHUTDOWN_TIMEOUT_SECS, default=25"`

	// DevLoginEnabled exposes a route that issues a session for any subject
	// without credentials. Only ever enable this for local testing.
	DevLoginEnabled bool `env:"SERVER_DEV_LOGIN_ENABLED, default=false"`
}

// Development reports whether the server is running in a local development
// environment.
func (c ServerConfig) Development() bool {
	return c.Environment == "development"
}

// TokenConfig holds the signing settings for both access and refresh tokens.
// Each purpose has its own secret so that a token of one kind can never verify
// as the other.
type TokenConfig struct {
	Algorithm     string        `env:"TOKEN_ALGORITHM, default=HS256"`
	Issuer        string        `env:"TOKEN_ISSUER, default=sessiongate"`
	Audience      string        `env:"TOKEN_AUDIENCE, default=sessiongate"`
	AccessSecret  string        `env:"TOKEN_ACCESS_SECRET, required"`
	RefreshSecret string        `env:"TOKEN_REFRESH_SECRET, required"`
	AccessTTL     time.Duration `env:"TOKEN_ACCESS_TTL, default=15m"`
	RefreshTTL    time.Duration `env:"TOKEN_REFRESH_TTL, default=168h"`
	ClockSkew     time.Duration `env:"TOKEN_CLOCK_SKEW, default=5s"`
}

// SessionConfig tunes the verification cache and the refresh coordinator.
type SessionConfig struct {
	// CacheTTL is how long a successful verification is remembered. It is
	// deliberately much shorter than the access token lifetime.
	CacheTTL time.Duration `env:"SESSION_CACHE_TTL, default=3s"`

	// CacheMaxEntries bounds the number of remembered access tokens.
	CacheMaxEntries int `env:"SESSION_CACHE_MAX_ENTRIES, default=10000"`

	// SweepInterval is the period of the background sweep that removes
	// expired cache entries that were never read again.
	SweepInterval time.Duration `env:"SESSION_SWEEP_INTERVAL, default=6h"`

	// RefreshWaitTimeout bounds how long a request waits for an in-flight
	// refresh to settle.
	RefreshWaitTimeout time.Duration `env:"SESSION_REFRESH_WAIT_TIMEOUT, default=10s"`
}

type CookieConfig struct {
	AccessName  string `env:"COOKIE_ACCESS_NAME, default=accessToken"`
	RefreshName string `env:"COOKIE_REFRESH_NAME, default=refreshToken"`
	Secure      bool   `env:"COOKIE_SECURE, default=true"`

	// AccessMaxAge and RefreshMaxAge are derived from the token lifetimes
	// during load.
	AccessMaxAge  time.Duration
	RefreshMaxAge time.Duration
}

type RateLimitConfig struct {
	Enabled    bool          `env:"RATE_LIMIT_ENABLED, default=true"`
	Requests   int           `env:"RATE_LIMIT_REQUESTS, default=100"`
	Window     time.Duration `env:"RATE_LIMIT_WINDOW, default=15m"`
	MaxClients int           `env:"RATE_LIMIT_MAX_CLIENTS, default=100000"`

	// IPv6Prefix groups IPv6 clients by network prefix, as a single host
	// commonly holds a whole /64 or larger.
	IPv6Prefix int `env:"RATE_LIMIT_IPV6_PREFIX, default=56"`
}

type ObserveConfig struct {
	SDKLogLevel               string `env:"OBSERVE_OTEL_LOG_LEVEL, default=info"`
	Enabled                   bool   `env:"OBSERVE_ENABLED, default=false"`
	MetricsEnabled            bool   `env:"OBSERVE_METRICS_ENABLED, default=true"`
	Type                      string `env:"OBSERVE_TYPE, default=grpc"`
	ServiceName               string `env:"OBSERVE_SERVICE_NAME, default=sessiongate"`
	TraceBatchTimeoutSeconds  int    `env:"OBSERVE_TRACE_BATCH_TIMEOUT_SECS, default=20"`
	MetricReadIntervalSeconds int    `env:"OBSERVE_METRIC_READ_INTERVAL_SECS, default=60"`
}

func Load(ctx context.Context) (Config, error) {
	return load(ctx, nil) // load from OS environment
}

func load(ctx context.Context, lookup envconfig.Lookuper) (Config, error) {
	var cfg Config
	err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookup, // nil defaults to OS environment
	})
	if err != nil {
		return cfg, err
	}

	err = cfg.Token.Validate()
	if err != nil {
		return cfg, fmt.Errorf("invalid token configuration: %w", err)
	}

	err = cfg.Session.Validate(cfg.Token)
	if err != nil {
		return cfg, fmt.Errorf("invalid session configuration: %w", err)
	}

	err = cfg.RateLimit.Validate()
	if err != nil {
		return cfg, fmt.Errorf("invalid rate limit configuration: %w", err)
	}

	cfg.Cookie.AccessMaxAge = cfg.Token.AccessTTL
	cfg.Cookie.RefreshMaxAge = cfg.Token.RefreshTTL

	return cfg, nil
}

// Validate checks that the token signing configuration is usable.
func (c *TokenConfig) Validate() error {
	switch c.Algorithm {
	case "HS256", "HS384", "HS512":
	default:
		return fmt.Errorf("unsupported TOKEN_ALGORITHM %q: must be one of HS256, HS384, HS512", c.Algorithm)
	}

	if len(c.AccessSecret) < minSecretBytes {
		return fmt.Errorf("TOKEN_ACCESS_SECRET must be at least %d bytes", minSecretBytes)
	}

	if len(c.RefreshSecret) < minSecretBytes {
		return fmt.Errorf("TOKEN_REFRESH_SECRET must be at least %d bytes", minSecretBytes)
	}

	if c.AccessSecret == c.RefreshSecret {
		return errors.New("TOKEN_ACCESS_SECRET and TOKEN_REFRESH_SECRET must differ")
	}

	if c.AccessTTL <= 0 || c.RefreshTTL <= 0 {
		return errors.New("token lifetimes must be positive")
	}

	if c.RefreshTTL <= c.AccessTTL {
		return errors.New("TOKEN_REFRESH_TTL must be longer than TOKEN_ACCESS_TTL")
	}

	if c.ClockSkew < 0 {
		return errors.New("TOKEN_CLOCK_SKEW must not be negative")
	}

	return nil
}

// Validate checks the session cache settings against the token lifetime they
// memoize.
func (c *SessionConfig) Validate(token TokenConfig) error {
	if c.CacheTTL <= 0 {
		return errors.New("SESSION_CACHE_TTL must be positive")
	}

	// The cache is a short-lived memo: an entry must never outlive the
	// token it represents.
	if c.CacheTTL >= token.AccessTTL {
		return errors.New("SESSION_CACHE_TTL must be shorter than TOKEN_ACCESS_TTL")
	}

	if c.CacheMaxEntries <= 0 {
		return errors.New("SESSION_CACHE_MAX_ENTRIES must be positive")
	}

	if c.SweepInterval <= 0 {
		return errors.New("SESSION_SWEEP_INTERVAL must be positive")
	}

	if c.RefreshWaitTimeout <= 0 {
		return errors.New("SESSION_REFRESH_WAIT_TIMEOUT must be positive")
	}

	return nil
}

// Validate checks the rate limit settings when limiting is enabled.
func (c *RateLimitConfig) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.Requests <= 0 {
		return errors.New("RATE_LIMIT_REQUESTS must be positive")
	}

	if c.Window <= 0 {
		return errors.New("RATE_LIMIT_WINDOW must be positive")
	}

	if c.MaxClients <= 0 {
		return errors.New("RATE_LIMIT_MAX_CLIENTS must be positive")
	}

	if c.IPv6Prefix < 0 || c.IPv6Prefix > 128 {
		return errors.New("RATE_LIMIT_IPV6_PREFIX must be between 0 and 128")
	}

	return nil
}
