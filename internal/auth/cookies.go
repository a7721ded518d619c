package auth

import (
	"net/http"
	"time"

	"github.com/chinmina/sessiongate/internal/config"
)

// SetAccessCookie writes the access token cookie, valid for the access token
// lifetime.
func SetAccessCookie(w http.ResponseWriter, cfg config.CookieConfig, accessToken string) {
	http.SetCookie(w, sessionCookie(cfg.AccessName, accessToken, cfg.AccessMaxAge, cfg.Secure))
}

// SetSessionCookies writes both session cookies, as when a session begins.
func SetSessionCookies(w http.ResponseWriter, cfg config.CookieConfig, accessToken, refreshToken string) {
	SetAccessCookie(w, cfg, accessToken)
	http.SetCookie(w, sessionCookie(cfg.RefreshName, refreshToken, cfg.RefreshMaxAge, cfg.Secure))
}

// ClearSessionCookies instructs the client to discard both session cookies.
func ClearSessionCookies(w http.ResponseWriter, cfg config.CookieConfig) {
	for _, name := range []string{cfg.AccessName, cfg.RefreshName} {
		c := sessionCookie(name, "", 0, cfg.Secure)
		c.MaxAge = -1
		c.Expires = time.Unix(0, 0)
		http.SetCookie(w, c)
	}
}

func sessionCookie(name, value string, maxAge time.Duration, secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(maxAge.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
}
