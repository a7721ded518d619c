package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/chinmina/sessiongate/internal/config"
)

const tracerName = "github.com/chinmina/sessiongate/internal/token"

// sessionClaims is the wire form of a session token.
type sessionClaims struct {
	Purpose string            `json:"typ"`
	Extra   map[string]string `json:"ext,omitempty"`
	jwt.RegisteredClaims
}

type purposeKey struct {
	secret []byte
	ttl    time.Duration
}

// Signer issues and verifies HMAC-signed session tokens. It is safe for
// concurrent use.
type Signer struct {
	method   jwt.SigningMethod
	issuer   string
	audience string
	skew     time.Duration
	keys     map[Purpose]purposeKey
	now      func() time.Time
}

// NewSigner creates a Signer from the token configuration.
func NewSigner(cfg config.TokenConfig) (*Signer, error) {
	method := jwt.GetSigningMethod(cfg.Algorithm)
	if _, ok := method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unsupported signing algorithm %q", cfg.Algorithm)
	}

	if cfg.AccessSecret == "" || cfg.RefreshSecret == "" {
		return nil, errors.New("access and refresh secrets are required")
	}

	return &Signer{
		method:   method,
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		skew:     cfg.ClockSkew,
		keys: map[Purpose]purposeKey{
			Access:  {secret: []byte(cfg.AccessSecret), ttl: cfg.AccessTTL},
			Refresh: {secret: []byte(cfg.RefreshSecret), ttl: cfg.RefreshTTL},
		},
		now: time.Now,
	}, nil
}

// Lifetime returns the validity period of newly issued tokens of the given
// purpose.
func (s *Signer) Lifetime(purpose Purpose) time.Duration {
	return s.keys[purpose].ttl
}

// Issue signs a new token of the given purpose for the payload's subject and
// claims. Timing fields on the payload are ignored.
func (s *Signer) Issue(ctx context.Context, purpose Purpose, payload Payload) (string, error) {
	_, span := otel.Tracer(tracerName).Start(ctx, "token.issue")
	defer span.End()
	span.SetAttributes(attribute.String("token.purpose", string(purpose)))

	key, ok := s.keys[purpose]
	if !ok {
		return "", fmt.Errorf("unknown token purpose %q", purpose)
	}

	if payload.Subject == "" {
		return "", errors.New("token subject is required")
	}

	payload = payload.forIssue()
	now := s.now()

	claims := sessionClaims{
		Purpose: string(purpose),
		Extra:   payload.Claims,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   payload.Subject,
			Issuer:    s.issuer,
			Audience:  jwt.ClaimStrings{s.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(key.ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(s.method, claims).SignedString(key.secret)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "token signing failed")
		return "", fmt.Errorf("signing %s token: %w", purpose, err)
	}

	return signed, nil
}

// Verify checks the signature, timing, issuer, audience and purpose of the
// token and returns its payload. Failures wrap one of ErrInvalidSignature,
// ErrExpired, ErrMalformed or ErrInvalidClaims.
func (s *Signer) Verify(ctx context.Context, raw string, purpose Purpose) (Payload, error) {
	_, span := otel.Tracer(tracerName).Start(ctx, "token.verify")
	defer span.End()
	span.SetAttributes(attribute.String("token.purpose", string(purpose)))

	payload, err := s.verify(raw, purpose)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Payload{}, err
	}

	return payload, nil
}

func (s *Signer) verify(raw string, purpose Purpose) (Payload, error) {
	if !purpose.valid() {
		return Payload{}, fmt.Errorf("unknown token purpose %q", purpose)
	}

	key := s.keys[purpose]

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{s.method.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithLeeway(s.skew),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(s.now),
	)

	var claims sessionClaims
	_, err := parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return key.secret, nil
	})
	if err != nil {
		return Payload{}, classify(err)
	}

	if claims.Purpose != string(purpose) {
		return Payload{}, fmt.Errorf("%w: expected %s token, got %q", ErrInvalidClaims, purpose, claims.Purpose)
	}

	if claims.Subject == "" {
		return Payload{}, fmt.Errorf("%w: subject claim not present", ErrMalformed)
	}

	payload := Payload{
		Subject: claims.Subject,
		Claims:  claims.Extra,
	}
	if claims.IssuedAt != nil {
		payload.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		payload.ExpiresAt = claims.ExpiresAt.Time
	}

	return payload, nil
}

// classify maps parser failures onto the package error kinds.
func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %w", ErrExpired, err)
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %w", ErrMalformed, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	default:
		return fmt.Errorf("%w: %w", ErrInvalidClaims, err)
	}
}
