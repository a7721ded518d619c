// Package jwxtest provides test utilities that forge session tokens using
// lestrrat-go/jwx, independently of the golang-jwt based signer under test.
// This package has no dependency on internal/token to avoid import cycles.
package jwxtest

import (
	"crypto/rand"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwt"
	"github.com/stretchr/testify/require"
)

// Secret is an HMAC key suitable for a single token purpose.
// Use NewSecret to create an instance.
type Secret struct {
	value []byte
}

// NewSecret generates a random secret long enough to pass configuration
// validation.
func NewSecret(t *testing.T) Secret {
	t.Helper()

	return Secret{value: []byte(rand.Text() + rand.Text())}
}

// String returns the secret in the form used by configuration.
func (s Secret) String() string {
	return string(s.value)
}

// SessionToken creates a token with the standard claims used by session
// tokens. The purpose is set on the "typ" claim.
func SessionToken(subject, issuer, audience, purpose string) jwt.Token {
	tok := jwt.New()
	if subject != "" {
		_ = tok.Set(jwt.SubjectKey, subject)
	}
	if issuer != "" {
		_ = tok.Set(jwt.IssuerKey, issuer)
	}
	if audience != "" {
		_ = tok.Set(jwt.AudienceKey, []string{audience})
	}
	if purpose != "" {
		_ = tok.Set("typ", purpose)
	}
	return tok
}

// SignToken signs the token with HS256 using the supplied secret.
func SignToken(t *testing.T, s Secret, token jwt.Token) string {
	t.Helper()

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.HS256(), s.value))
	require.NoError(t, err, "failed to sign JWT")

	return string(signed)
}

// AddTimingClaims configures a token with valid timing fields (IssuedAt,
// NotBefore, Expiration). The token is valid from 1 minute ago until 1 minute
// from now. Returns the same token for chaining.
func AddTimingClaims(token jwt.Token) jwt.Token {
	now := time.Now().UTC()

	_ = token.Set(jwt.IssuedAtKey, now.Add(-1*time.Minute))
	_ = token.Set(jwt.NotBeforeKey, now.Add(-1*time.Minute))
	_ = token.Set(jwt.ExpirationKey, now.Add(1*time.Minute))

	return token
}

// AddExpiredTimingClaims configures a token that expired an hour ago.
// Returns the same token for chaining.
func AddExpiredTimingClaims(token jwt.Token) jwt.Token {
	now := time.Now().UTC()

	_ = token.Set(jwt.IssuedAtKey, now.Add(-2*time.Hour))
	_ = token.Set(jwt.NotBeforeKey, now.Add(-2*time.Hour))
	_ = token.Set(jwt.ExpirationKey, now.Add(-1*time.Hour))

	return token
}
