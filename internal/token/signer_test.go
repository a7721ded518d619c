package token

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chinmina/sessiongate/internal/config"
	"github.com/chinmina/sessiongate/internal/token/jwxtest"
)

const (
	testIssuer   = "https://sessiongate.test"
	testAudience = "sessiongate-test"
)

type testKeys struct {
	access  jwxtest.Secret
	refresh jwxtest.Secret
}

func newTestSigner(t *testing.T) (*Signer, testKeys) {
	t.Helper()

	keys := testKeys{
		access:  jwxtest.NewSecret(t),
		refresh: jwxtest.NewSecret(t),
	}

	s, err := NewSigner(config.TokenConfig{
		Algorithm:     "HS256",
		Issuer:        testIssuer,
		Audience:      testAudience,
		AccessSecret:  keys.access.String(),
		RefreshSecret: keys.refresh.String(),
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    24 * time.Hour,
		ClockSkew:     5 * time.Second,
	})
	require.NoError(t, err)

	return s, keys
}

func TestNewSigner_RejectsNonHMAC(t *testing.T) {
	_, err := NewSigner(config.TokenConfig{
		Algorithm:     "RS256",
		AccessSecret:  "a",
		RefreshSecret: "b",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported signing algorithm")
}

func TestSigner_IssueAndVerify(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestSigner(t)

	for _, purpose := range []Purpose{Access, Refresh} {
		t.Run(string(purpose), func(t *testing.T) {
			raw, err := s.Issue(ctx, purpose, Payload{
				Subject: "42",
				Claims:  map[string]string{"role": "admin"},
			})
			require.NoError(t, err)

			payload, err := s.Verify(ctx, raw, purpose)
			require.NoError(t, err)

			assert.Equal(t, "42", payload.Subject)
			role, ok := payload.Claim("role")
			assert.True(t, ok)
			assert.Equal(t, "admin", role)
			assert.WithinDuration(t, time.Now().Add(s.Lifetime(purpose)), payload.ExpiresAt, 2*time.Second)
			assert.WithinDuration(t, time.Now(), payload.IssuedAt, 2*time.Second)
		})
	}
}

func TestSigner_IssueProducesDistinctTokens(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestSigner(t)

	a, err := s.Issue(ctx, Access, Payload{Subject: "42"})
	require.NoError(t, err)
	b, err := s.Issue(ctx, Access, Payload{Subject: "42"})
	require.NoError(t, err)

	assert.NotEqual(t, a, b, "tokens issued in the same second must still differ")
}

func TestSigner_IssueIgnoresTimingFields(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestSigner(t)

	past := time.Now().Add(-48 * time.Hour)
	raw, err := s.Issue(ctx, Access, Payload{Subject: "42", IssuedAt: past, ExpiresAt: past})
	require.NoError(t, err)

	payload, err := s.Verify(ctx, raw, Access)
	require.NoError(t, err)
	assert.True(t, payload.ExpiresAt.After(time.Now()))
}

func TestSigner_IssueRequiresSubject(t *testing.T) {
	s, _ := newTestSigner(t)

	_, err := s.Issue(context.Background(), Access, Payload{})
	require.Error(t, err)
}

func TestSigner_IssueUnknownPurpose(t *testing.T) {
	s, _ := newTestSigner(t)

	_, err := s.Issue(context.Background(), Purpose("id"), Payload{Subject: "42"})
	require.Error(t, err)
}

func TestSigner_Verify_Failures(t *testing.T) {
	ctx := context.Background()
	s, keys := newTestSigner(t)

	other := jwxtest.NewSecret(t)

	cases := []struct {
		name    string
		token   func(t *testing.T) string
		purpose Purpose
		wantErr error
	}{
		{
			name:    "garbage",
			token:   func(*testing.T) string { return "not-a-token" },
			purpose: Access,
			wantErr: ErrMalformed,
		},
		{
			name: "expired",
			token: func(t *testing.T) string {
				tok := jwxtest.AddExpiredTimingClaims(jwxtest.SessionToken("42", testIssuer, testAudience, "access"))
				return jwxtest.SignToken(t, keys.access, tok)
			},
			purpose: Access,
			wantErr: ErrExpired,
		},
		{
			name: "wrong secret",
			token: func(t *testing.T) string {
				tok := jwxtest.AddTimingClaims(jwxtest.SessionToken("42", testIssuer, testAudience, "access"))
				return jwxtest.SignToken(t, other, tok)
			},
			purpose: Access,
			wantErr: ErrInvalidSignature,
		},
		{
			name: "refresh token used as access token",
			token: func(t *testing.T) string {
				tok := jwxtest.AddTimingClaims(jwxtest.SessionToken("42", testIssuer, testAudience, "refresh"))
				return jwxtest.SignToken(t, keys.refresh, tok)
			},
			purpose: Access,
			wantErr: ErrInvalidSignature,
		},
		{
			name: "purpose claim mismatch under the right key",
			token: func(t *testing.T) string {
				tok := jwxtest.AddTimingClaims(jwxtest.SessionToken("42", testIssuer, testAudience, "refresh"))
				return jwxtest.SignToken(t, keys.access, tok)
			},
			purpose: Access,
			wantErr: ErrInvalidClaims,
		},
		{
			name: "wrong issuer",
			token: func(t *testing.T) string {
				tok := jwxtest.AddTimingClaims(jwxtest.SessionToken("42", "https://elsewhere", testAudience, "access"))
				return jwxtest.SignToken(t, keys.access, tok)
			},
			purpose: Access,
			wantErr: ErrInvalidClaims,
		},
		{
			name: "wrong audience",
			token: func(t *testing.T) string {
				tok := jwxtest.AddTimingClaims(jwxtest.SessionToken("42", testIssuer, "another-app", "access"))
				return jwxtest.SignToken(t, keys.access, tok)
			},
			purpose: Access,
			wantErr: ErrInvalidClaims,
		},
		{
			name: "no subject",
			token: func(t *testing.T) string {
				tok := jwxtest.AddTimingClaims(jwxtest.SessionToken("", testIssuer, testAudience, "access"))
				return jwxtest.SignToken(t, keys.access, tok)
			},
			purpose: Access,
			wantErr: ErrMalformed,
		},
		{
			name: "no expiry",
			token: func(t *testing.T) string {
				tok := jwxtest.SessionToken("42", testIssuer, testAudience, "access")
				return jwxtest.SignToken(t, keys.access, tok)
			},
			purpose: Access,
			wantErr: ErrInvalidClaims,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.Verify(ctx, tc.token(t), tc.purpose)
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestSigner_Verify_AcceptsIndependentlyForgedToken(t *testing.T) {
	s, keys := newTestSigner(t)

	tok := jwxtest.AddTimingClaims(jwxtest.SessionToken("7", testIssuer, testAudience, "refresh"))
	raw := jwxtest.SignToken(t, keys.refresh, tok)

	payload, err := s.Verify(context.Background(), raw, Refresh)
	require.NoError(t, err)
	assert.Equal(t, "7", payload.Subject)
	assert.Empty(t, payload.Claims)
}

func TestSigner_Verify_RejectsUnexpectedAlgorithm(t *testing.T) {
	s, keys := newTestSigner(t)

	claims := sessionClaims{
		Purpose: string(Access),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "42",
			Issuer:    testIssuer,
			Audience:  jwt.ClaimStrings{testAudience},
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte(keys.access.String()))
	require.NoError(t, err)

	_, err = s.Verify(context.Background(), raw, Access)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestSigner_Verify_HonoursClock(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestSigner(t)

	raw, err := s.Issue(ctx, Access, Payload{Subject: "42"})
	require.NoError(t, err)

	s.now = func() time.Time { return time.Now().Add(16 * time.Minute) }

	_, err = s.Verify(ctx, raw, Access)
	assert.ErrorIs(t, err, ErrExpired)
}

func TestSigner_Verify_UnknownPurpose(t *testing.T) {
	s, _ := newTestSigner(t)

	_, err := s.Verify(context.Background(), "a.b.c", Purpose("id"))
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "unknown token purpose"))
}
