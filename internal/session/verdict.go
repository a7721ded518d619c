package session

import (
	"github.com/chinmina/sessiongate/internal/token"
)

// Outcome is the classification of a request's session.
type Outcome int

const (
	Rejected Outcome = iota
	Accepted
)

func (o Outcome) String() string {
	if o == Accepted {
		return "accepted"
	}
	return "rejected"
}

// Reason explains why a request was rejected.
type Reason int

const (
	ReasonNone Reason = iota

	// NoToken: neither an access nor a refresh token was presented.
	NoToken

	// NoValidToken: the access token was absent or invalid, and no refresh
	// token was presented.
	NoValidToken

	// RefreshFailed: the refresh token was invalid or a new access token could
	// not be issued.
	RefreshFailed

	// RefreshTimeout: the request gave up waiting for a refresh to settle.
	RefreshTimeout
)

// Code returns the machine-readable reason code sent to clients.
func (r Reason) Code() string {
	switch r {
	case NoToken:
		return "no_token"
	case NoValidToken:
		return "no_valid_token"
	case RefreshFailed:
		return "refresh_failed"
	case RefreshTimeout:
		return "refresh_timeout"
	default:
		return ""
	}
}

func (r Reason) String() string {
	return r.Code()
}

// Message returns a short human-readable explanation of the reason.
func (r Reason) Message() string {
	switch r {
	case NoToken:
		return "No authentication token provided"
	case NoValidToken:
		return "No valid authentication token provided"
	case RefreshFailed:
		return "Session could not be refreshed"
	case RefreshTimeout:
		return "Session refresh did not complete in time"
	default:
		return ""
	}
}

// Verdict is the result of a session decision.
type Verdict struct {
	Outcome Outcome
	Payload token.Payload

	// Rotate is set when the access token was replaced: the caller must send
	// NewAccessToken to the client.
	Rotate         bool
	NewAccessToken string

	// Reason is set for rejected verdicts only.
	Reason Reason

	// Err is the underlying failure that led to this verdict, if any. It is
	// never sent to clients.
	Err error

	// Shared reports that this verdict came from a refresh started by another
	// concurrent request.
	Shared bool
}

// Accepted reports whether the request is authenticated.
func (v Verdict) Accepted() bool {
	return v.Outcome == Accepted
}

func accept(payload token.Payload) Verdict {
	return Verdict{Outcome: Accepted, Payload: payload}
}

func rotate(payload token.Payload, accessToken string, shared bool) Verdict {
	return Verdict{
		Outcome:        Accepted,
		Payload:        payload,
		Rotate:         true,
		NewAccessToken: accessToken,
		Shared:         shared,
	}
}

func reject(reason Reason, err error) Verdict {
	return Verdict{Outcome: Rejected, Reason: reason, Err: err}
}
