package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	jwtmiddleware "github.com/auth0/go-jwt-middleware/v2"
	"github.com/rs/zerolog/log"

	"github.com/chinmina/sessiongate/internal/audit"
	"github.com/chinmina/sessiongate/internal/auth"
	"github.com/chinmina/sessiongate/internal/config"
	"github.com/chinmina/sessiongate/internal/session"
	"github.com/chinmina/sessiongate/internal/token"
)

// SessionForgetter drops any remembered verification of an access token.
type SessionForgetter interface {
	Forget(ctx context.Context, accessToken string)
}

// StatsReporter provides a snapshot of the session statistics.
type StatsReporter interface {
	Stats() session.Stats
}

// LoginResponse is returned when a development session is created.
type LoginResponse struct {
	Subject          string `json:"subject"`
	AccessExpiresIn  int64  `json:"accessExpiresIn"`
	RefreshExpiresIn int64  `json:"refreshExpiresIn"`
}

// handleDevLogin issues a complete session for the subject named in the path
// without any credential check. It is only registered when development login
// is enabled.
func handleDevLogin(issuer session.Issuer, cookies config.CookieConfig) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		subject := r.PathValue("id")
		if subject == "" {
			writeJSONError(w, http.StatusBadRequest, "subject required")
			return
		}

		ctx := r.Context()
		payload := token.Payload{Subject: subject}

		accessToken, err := issuer.Issue(ctx, token.Access, payload)
		if err != nil {
			log.Info().Err(err).Msg("access token creation failed")
			writeJSONError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
			return
		}

		refreshToken, err := issuer.Issue(ctx, token.Refresh, payload)
		if err != nil {
			log.Info().Err(err).Msg("refresh token creation failed")
			writeJSONError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
			return
		}

		entry := audit.Log(ctx)
		entry.AuthSubject = subject
		entry.Authorized = true
		entry.Rotated = true

		auth.SetSessionCookies(w, cookies, accessToken, refreshToken)

		writeJSON(w, http.StatusOK, LoginResponse{
			Subject:          subject,
			AccessExpiresIn:  int64(cookies.AccessMaxAge.Seconds()),
			RefreshExpiresIn: int64(cookies.RefreshMaxAge.Seconds()),
		})
	})
}

// handleLogout clears both session cookies. The access token's cached
// verification is dropped so that it cannot be replayed from the cache.
func handleLogout(forgetter SessionForgetter, cookies config.CookieConfig) http.Handler {
	extract := jwtmiddleware.CookieTokenExtractor(cookies.AccessName)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		accessToken, err := extract(r)
		if err == nil && accessToken != "" {
			forgetter.Forget(r.Context(), accessToken)
		}

		auth.ClearSessionCookies(w, cookies)
		w.WriteHeader(http.StatusNoContent)
	})
}

// handleGetSession returns the payload of the authenticated session.
func handleGetSession() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		// payload must be present from the middleware
		payload := auth.RequirePayloadFromContext(r.Context())

		writeJSON(w, http.StatusOK, payload)
	})
}

func handleGetStats(reporter StatsReporter) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		writeJSON(w, http.StatusOK, reporter.Stats())
	})
}

func handleHealthCheck() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
}

func handleNotFound() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		writeJSONError(w, http.StatusNotFound, http.StatusText(http.StatusNotFound))
	})
}

func maxRequestSize(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.MaxBytesHandler(next, limit)
	}
}

// recoverPanics is the terminal error handler: a panic in any later handler
// is logged and answered with a 500 JSON response.
func recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}

			log.Ctx(r.Context()).Error().
				Interface("panic", rec).
				Str("path", r.URL.Path).
				Msg("request handler panicked, recovered")

			writeJSONError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		}()

		next.ServeHTTP(w, r)
	})
}

// ErrorResponse represents a JSON error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// writeJSONError writes a JSON error response with the given status code and message.
func writeJSONError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, ErrorResponse{Error: message})
}

func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		// At this point the status code has been written, so we can only log
		log.Info().Msgf("failed to write JSON response: %v", err)
	}
}

// drainRequestBody drains the request body by reading and discarding the contents.
// This is useful to ensure the request body is fully consumed, which is important
// for connection reuse in HTTP/1 clients.
func drainRequestBody(r *http.Request) {
	if r.Body != nil {
		// 5kb max: after this we'll assume the client is broken or malicious
		// and close the connection
		io.CopyN(io.Discard, r.Body, 5*1024*1024)
	}
}
