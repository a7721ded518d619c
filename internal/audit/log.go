// Package audit records one structured log entry per request, describing who
// made it and what the session layer decided.
package audit

import (
	"context"
	"fmt"
	"net/http"

	"github.com/felixge/httpsnoop"
	"github.com/rs/zerolog"
)

// Level is the log level used for audit entries. It sits above the standard
// levels so that audit entries are written whatever the configured level.
const Level = zerolog.Level(20)

// LevelName is the level field value written for audit entries.
const LevelName = "audit"

// MarshalLevel renders audit entries with their own level name, deferring to
// the standard names for all other levels. Install it as
// zerolog.LevelFieldMarshalFunc.
func MarshalLevel(l zerolog.Level) string {
	if l == Level {
		return LevelName
	}
	return l.String()
}

// Entry is the audit record for a single request. Handlers and middleware add
// to the entry found in the request context; it is written when the request
// completes.
type Entry struct {
	Method    string
	Path      string
	Status    int
	SourceIP  string
	UserAgent string

	Authorized     bool
	AuthSubject    string
	AuthReason     string
	AuthExpirySecs int64

	TokenSource   string
	Rotated       bool
	SharedRefresh bool
	RateLimited   bool

	Error string
}

// MarshalZerologObject writes the entry as nested dictionaries. The request
// and authorization dictionaries are always present; session details appear
// only when something happened to the session.
func (e *Entry) MarshalZerologObject(ev *zerolog.Event) {
	ev.Dict("request", zerolog.Dict().
		Str("method", e.Method).
		Str("path", e.Path).
		Int("status", e.Status).
		Str("sourceIP", e.SourceIP).
		Str("userAgent", e.UserAgent),
	)

	auth := NewOptionalEvent(nil).
		Bool("authorized", e.Authorized).
		Str("subject", e.AuthSubject).
		Str("reason", e.AuthReason).
		Int64("expirySecs", e.AuthExpirySecs)
	auth.Set(ev, "authorization")

	session := NewOptionalEvent(nil).
		Str("tokenSource", e.TokenSource).
		True("rotated", e.Rotated).
		True("sharedRefresh", e.SharedRefresh).
		True("rateLimited", e.RateLimited)
	session.Set(ev, "session")

	if e.Error != "" {
		ev.Str("error", e.Error)
	}
}

// Begin records the request details.
func (e *Entry) Begin(r *http.Request) {
	e.Method = r.Method
	e.Path = r.URL.Path
	e.SourceIP = r.RemoteAddr
	e.UserAgent = r.UserAgent()
}

// End returns a function that writes the entry to the context logger. It must
// be deferred directly: a panic in flight is recorded on the entry and then
// re-raised after the entry is written.
func (e *Entry) End(ctx context.Context) func() {
	return func() {
		r := recover()
		if r != nil {
			if e.Error != "" {
				e.Error += "; "
			}
			e.Error += fmt.Sprintf("panic: %v", r)

			if e.Status == 0 {
				e.Status = http.StatusInternalServerError
			}
		}

		if e.Status == 0 {
			e.Status = http.StatusOK
		}

		zerolog.Ctx(ctx).WithLevel(Level).EmbedObject(e).Msg("audit_event")

		if r != nil {
			panic(r)
		}
	}
}

type entryKey struct{}

// Context returns the audit entry stored in ctx, adding a new one if none is
// present. The returned context carries the entry.
func Context(ctx context.Context) (context.Context, *Entry) {
	if e, ok := ctx.Value(entryKey{}).(*Entry); ok {
		return ctx, e
	}

	e := &Entry{}
	return context.WithValue(ctx, entryKey{}, e), e
}

// Log returns the audit entry for the request. Outside of the audit
// middleware, changes to the returned entry are discarded.
func Log(ctx context.Context) *Entry {
	if e, ok := ctx.Value(entryKey{}).(*Entry); ok {
		return e
	}
	return &Entry{}
}

// Middleware adds an audit entry to each request context and writes it when
// the request completes, including when the handler panics.
func Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, entry := Context(r.Context())
			entry.Begin(r)
			defer entry.End(ctx)()

			w = httpsnoop.Wrap(w, httpsnoop.Hooks{
				WriteHeader: func(next httpsnoop.WriteHeaderFunc) httpsnoop.WriteHeaderFunc {
					return func(code int) {
						if entry.Status == 0 {
							entry.Status = code
						}
						next(code)
					}
				},
			})

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
