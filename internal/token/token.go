package token

import (
	"errors"
	"maps"
	"time"
)

// Purpose distinguishes the two kinds of token in a session. Each purpose is
// signed with its own secret and carries its purpose in the "typ" claim.
type Purpose string

const (
	Access  Purpose = "access"
	Refresh Purpose = "refresh"
)

func (p Purpose) valid() bool {
	return p == Access || p == Refresh
}

var (
	// ErrInvalidSignature is returned when the token signature does not match
	// the key for its purpose, or the token uses an unexpected algorithm.
	ErrInvalidSignature = errors.New("token signature invalid")

	// ErrExpired is returned when the token is past its expiry.
	ErrExpired = errors.New("token expired")

	// ErrMalformed is returned when the token cannot be decoded, or decodes
	// without a subject.
	ErrMalformed = errors.New("token malformed")

	// ErrInvalidClaims is returned when a correctly signed token was issued
	// for a different issuer, audience or purpose, or is not yet valid.
	ErrInvalidClaims = errors.New("token claims invalid")
)

// Payload is the verified content of a session token. Subject is always
// present; Claims carries optional application claims that are copied onto
// access tokens issued during refresh.
type Payload struct {
	Subject   string            `json:"subject"`
	Claims    map[string]string `json:"claims,omitempty"`
	IssuedAt  time.Time         `json:"issuedAt"`
	ExpiresAt time.Time         `json:"expiresAt"`
}

// Claim returns the named application claim.
func (p Payload) Claim(name string) (string, bool) {
	v, ok := p.Claims[name]
	return v, ok
}

// forIssue strips the timing fields so that a payload read from one token can
// seed another.
func (p Payload) forIssue() Payload {
	return Payload{
		Subject: p.Subject,
		Claims:  maps.Clone(p.Claims),
	}
}
