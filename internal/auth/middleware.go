// Package auth connects the session manager to HTTP: it reads the session
// tokens from each request, acts on the session verdict and manages the
// session cookies.
package auth

import (
	"context"
	"encoding/json"
	"net/http"

	jwtmiddleware "github.com/auth0/go-jwt-middleware/v2"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/chinmina/sessiongate/internal/audit"
	"github.com/chinmina/sessiongate/internal/config"
	"github.com/chinmina/sessiongate/internal/session"
	"github.com/chinmina/sessiongate/internal/token"
)

// Decider classifies a request from its session tokens.
type Decider interface {
	Decide(ctx context.Context, accessToken, refreshToken string) session.Verdict
}

type tokenSource struct {
	name    string
	extract jwtmiddleware.TokenExtractor
}

// Middleware authenticates each request with the decider. Accepted requests
// continue with the session payload in their context, and receive a new
// access token cookie when the session was refreshed. Rejected requests
// receive a 401 JSON response and no cookies.
func Middleware(decider Decider, cfg config.CookieConfig) func(http.Handler) http.Handler {
	accessSources := []tokenSource{
		{name: "cookie", extract: jwtmiddleware.CookieTokenExtractor(cfg.AccessName)},
		{name: "header", extract: jwtmiddleware.AuthHeaderTokenExtractor},
	}
	refreshSources := []tokenSource{
		{name: "cookie", extract: jwtmiddleware.CookieTokenExtractor(cfg.RefreshName)},
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			entry := audit.Log(ctx)

			accessToken, source := extractToken(r, accessSources)
			refreshToken, _ := extractToken(r, refreshSources)
			entry.TokenSource = source

			verdict := decider.Decide(ctx, accessToken, refreshToken)

			trace.SpanFromContext(ctx).SetAttributes(
				attribute.String("session.outcome", verdict.Outcome.String()),
				attribute.Bool("session.rotated", verdict.Rotate),
			)

			if !verdict.Accepted() {
				entry.AuthReason = verdict.Reason.Code()
				if verdict.Err != nil {
					entry.Error = verdict.Err.Error()
				}
				entry.SharedRefresh = verdict.Shared

				writeUnauthorized(w, verdict.Reason)
				return
			}

			entry.Authorized = true
			entry.AuthSubject = verdict.Payload.Subject
			entry.AuthExpirySecs = verdict.Payload.ExpiresAt.Unix()
			entry.Rotated = verdict.Rotate
			entry.SharedRefresh = verdict.Shared

			if verdict.Rotate {
				SetAccessCookie(w, cfg, verdict.NewAccessToken)
			}

			next.ServeHTTP(w, r.WithContext(ContextWithPayload(ctx, verdict.Payload)))
		})
	}
}

// extractToken returns the first token found and the name of its source.
// A malformed token location is treated as absent.
func extractToken(r *http.Request, sources []tokenSource) (string, string) {
	for _, s := range sources {
		tok, err := s.extract(r)
		if err != nil {
			log.Ctx(r.Context()).Debug().Err(err).Str("source", s.name).Msg("ignoring unreadable session token")
			continue
		}
		if tok != "" {
			return tok, s.name
		}
	}

	return "", ""
}

// UnauthorizedResponse is the body sent with a rejected request.
type UnauthorizedResponse struct {
	Error   string `json:"error"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

func writeUnauthorized(w http.ResponseWriter, reason session.Reason) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)

	response := UnauthorizedResponse{
		Error:   "Unauthorized",
		Reason:  reason.Code(),
		Message: reason.Message(),
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		// At this point the status code has been written, so we can only log
		log.Info().Msgf("failed to write JSON error response: %v", err)
	}
}

type payloadKey struct{}

// ContextWithPayload returns a context carrying the session payload. The
// middleware uses it for accepted requests; tests may use it directly.
func ContextWithPayload(ctx context.Context, payload token.Payload) context.Context {
	return context.WithValue(ctx, payloadKey{}, payload)
}

// PayloadFromContext returns the session payload added by the middleware.
func PayloadFromContext(ctx context.Context) (token.Payload, bool) {
	payload, ok := ctx.Value(payloadKey{}).(token.Payload)
	return payload, ok
}

// RequirePayloadFromContext returns the session payload, panicking if the
// request did not pass through the middleware.
func RequirePayloadFromContext(ctx context.Context) token.Payload {
	payload, ok := PayloadFromContext(ctx)
	if !ok {
		panic("session payload not present in context, likely used outside of the auth middleware")
	}

	return payload
}
