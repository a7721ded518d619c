package config

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/sethvargo/go-envconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	accessSecret  = strings.Repeat("a", 32)
	refreshSecret = strings.Repeat("r", 32)
)

func requiredEnv() map[string]string {
	return map[string]string{
		"TOKEN_ACCESS_SECRET":  accessSecret,
		"TOKEN_REFRESH_SECRET": refreshSecret,
	}
}

func withEnv(overrides map[string]string) envconfig.Lookuper {
	env := requiredEnv()
	for k, v := range overrides {
		env[k] = v
	}
	return envconfig.MapLookuper(env)
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("TOKEN_ACCESS_SECRET", accessSecret)
	t.Setenv("TOKEN_REFRESH_SECRET", refreshSecret)

	cfg, err := Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, SessionConfig{
		CacheTTL:           3 * time.Second,
		CacheMaxEntries:    10_000,
		SweepInterval:      6 * time.Hour,
		RefreshWaitTimeout: 10 * time.Second,
	}, cfg.Session)

	assert.Equal(t, "HS256", cfg.Token.Algorithm)
	assert.Equal(t, 15*time.Minute, cfg.Token.AccessTTL)
	assert.Equal(t, 7*24*time.Hour, cfg.Token.RefreshTTL)

	assert.Equal(t, CookieConfig{
		AccessName:    "accessToken",
		RefreshName:   "refreshToken",
		Secure:        true,
		AccessMaxAge:  15 * time.Minute,
		RefreshMaxAge: 7 * 24 * time.Hour,
	}, cfg.Cookie)

	assert.True(t, cfg.RateLimit.Enabled)
	assert.Equal(t, 100, cfg.RateLimit.Requests)
	assert.Equal(t, 15*time.Minute, cfg.RateLimit.Window)
	assert.Equal(t, 56, cfg.RateLimit.IPv6Prefix)

	assert.False(t, cfg.Server.Development())
	assert.False(t, cfg.Server.DevLoginEnabled)
}

func TestLoad_MissingSecrets(t *testing.T) {
	_, err := load(context.Background(), envconfig.MapLookuper(map[string]string{}))
	require.Error(t, err)
	assert.ErrorIs(t, err, envconfig.ErrMissingRequired)
}

func TestLoad_CookieMaxAgeFollowsTokenLifetime(t *testing.T) {
	cfg, err := load(context.Background(), withEnv(map[string]string{
		"TOKEN_ACCESS_TTL":  "1h",
		"TOKEN_REFRESH_TTL": "24h",
		"COOKIE_SECURE":     "false",
	}))
	require.NoError(t, err)

	assert.Equal(t, time.Hour, cfg.Cookie.AccessMaxAge)
	assert.Equal(t, 24*time.Hour, cfg.Cookie.RefreshMaxAge)
	assert.False(t, cfg.Cookie.Secure)
}

func TestLoad_Invalid(t *testing.T) {
	cases := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "unsupported algorithm",
			env:     map[string]string{"TOKEN_ALGORITHM": "RS256"},
			wantErr: "unsupported TOKEN_ALGORITHM",
		},
		{
			name:    "short access secret",
			env:     map[string]string{"TOKEN_ACCESS_SECRET": "short"},
			wantErr: "TOKEN_ACCESS_SECRET must be at least 32 bytes",
		},
		{
			name:    "short refresh secret",
			env:     map[string]string{"TOKEN_REFRESH_SECRET": "short"},
			wantErr: "TOKEN_REFRESH_SECRET must be at least 32 bytes",
		},
		{
			name:    "shared secret",
			env:     map[string]string{"TOKEN_REFRESH_SECRET": accessSecret},
			wantErr: "must differ",
		},
		{
			name:    "refresh shorter than access",
			env:     map[string]string{"TOKEN_ACCESS_TTL": "2h", "TOKEN_REFRESH_TTL": "1h"},
			wantErr: "TOKEN_REFRESH_TTL must be longer",
		},
		{
			name:    "cache outlives token",
			env:     map[string]string{"SESSION_CACHE_TTL": "20m"},
			wantErr: "SESSION_CACHE_TTL must be shorter",
		},
		{
			name:    "zero capacity",
			env:     map[string]string{"SESSION_CACHE_MAX_ENTRIES": "0"},
			wantErr: "SESSION_CACHE_MAX_ENTRIES must be positive",
		},
		{
			name:    "zero wait timeout",
			env:     map[string]string{"SESSION_REFRESH_WAIT_TIMEOUT": "0s"},
			wantErr: "SESSION_REFRESH_WAIT_TIMEOUT must be positive",
		},
		{
			name:    "bad ipv6 prefix",
			env:     map[string]string{"RATE_LIMIT_IPV6_PREFIX": "200"},
			wantErr: "RATE_LIMIT_IPV6_PREFIX",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := load(context.Background(), withEnv(tc.env))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestRateLimitConfig_DisabledSkipsValidation(t *testing.T) {
	cfg, err := load(context.Background(), withEnv(map[string]string{
		"RATE_LIMIT_ENABLED":  "false",
		"RATE_LIMIT_REQUESTS": "0",
	}))
	require.NoError(t, err)
	assert.False(t, cfg.RateLimit.Enabled)
}

func TestServerConfig_Development(t *testing.T) {
	cfg, err := load(context.Background(), withEnv(map[string]string{"ENV": "development"}))
	require.NoError(t, err)
	assert.True(t, cfg.Server.Development())
}
