package testhelpers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chinmina/sessiongate/internal/config"
	"github.com/chinmina/sessiongate/internal/token"
	"github.com/chinmina/sessiongate/internal/token/jwxtest"
)

const (
	TestIssuer   = "https://sessiongate.test"
	TestAudience = "sessiongate-test"
)

// SessionKeys are the per-purpose secrets used by a test signer.
type SessionKeys struct {
	Access  jwxtest.Secret
	Refresh jwxtest.Secret
}

// TokenConfig returns a valid token configuration with fresh random secrets.
func TokenConfig(t *testing.T) (config.TokenConfig, SessionKeys) {
	t.Helper()

	keys := SessionKeys{
		Access:  jwxtest.NewSecret(t),
		Refresh: jwxtest.NewSecret(t),
	}

	return config.TokenConfig{
		Algorithm:     "HS256",
		Issuer:        TestIssuer,
		Audience:      TestAudience,
		AccessSecret:  keys.Access.String(),
		RefreshSecret: keys.Refresh.String(),
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    24 * time.Hour,
		ClockSkew:     5 * time.Second,
	}, keys
}

// SessionConfig returns session settings suited to tests: a real cache with a
// short TTL and a short refresh wait.
func SessionConfig() config.SessionConfig {
	return config.SessionConfig{
		CacheTTL:           3 * time.Second,
		CacheMaxEntries:    100,
		SweepInterval:      time.Hour,
		RefreshWaitTimeout: 5 * time.Second,
	}
}

// NewSigner creates a token signer with fresh random secrets.
func NewSigner(t *testing.T) (*token.Signer, SessionKeys) {
	t.Helper()

	cfg, keys := TokenConfig(t)

	s, err := token.NewSigner(cfg)
	require.NoError(t, err)

	return s, keys
}

// ExpiredToken forges a correctly signed token of the given purpose that
// expired an hour ago.
func ExpiredToken(t *testing.T, keys SessionKeys, purpose token.Purpose, subject string) string {
	t.Helper()

	secret := keys.Access
	if purpose == token.Refresh {
		secret = keys.Refresh
	}

	tok := jwxtest.AddExpiredTimingClaims(jwxtest.SessionToken(subject, TestIssuer, TestAudience, string(purpose)))
	return jwxtest.SignToken(t, secret, tok)
}

// IssueToken issues a token through the signer, failing the test on error.
func IssueToken(t *testing.T, s *token.Signer, purpose token.Purpose, subject string) string {
	t.Helper()

	raw, err := s.Issue(t.Context(), purpose, token.Payload{Subject: subject})
	require.NoError(t, err)

	return raw
}
