package ratelimit

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chinmina/sessiongate/internal/audit"
	"github.com/chinmina/sessiongate/internal/config"
	"github.com/chinmina/sessiongate/internal/testhelpers"
)

func testConfig(requests int) config.RateLimitConfig {
	return config.RateLimitConfig{
		Enabled:    true,
		Requests:   requests,
		Window:     15 * time.Minute,
		MaxClients: 1000,
		IPv6Prefix: 56,
	}
}

func TestLimiter_Allow(t *testing.T) {
	l := New(testConfig(3))

	for i := range 3 {
		d := l.Allow("10.0.0.1")
		assert.True(t, d.Allowed, "request %d", i+1)
		assert.Equal(t, 3, d.Limit)
		assert.Equal(t, 2-i, d.Remaining)
	}

	d := l.Allow("10.0.0.1")
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)

	assert.True(t, l.Allow("10.0.0.2").Allowed, "clients are limited independently")
}

func TestLimiter_WindowResets(t *testing.T) {
	l := New(testConfig(1))

	now := time.Now()
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("c").Allowed)
	assert.False(t, l.Allow("c").Allowed)

	d := l.Allow("c")
	assert.Equal(t, 15*time.Minute, d.Reset)

	now = now.Add(15 * time.Minute)

	d = l.Allow("c")
	assert.True(t, d.Allowed, "a new window starts once the previous one ends")
	assert.Equal(t, 0, d.Remaining)
}

func TestClientKey(t *testing.T) {
	cases := []struct {
		name       string
		remoteAddr string
		want       string
	}{
		{name: "ipv4 with port", remoteAddr: "192.0.2.10:5555", want: "192.0.2.10"},
		{name: "ipv4 without port", remoteAddr: "192.0.2.10", want: "192.0.2.10"},
		{name: "ipv4 mapped", remoteAddr: "[::ffff:192.0.2.10]:80", want: "192.0.2.10"},
		{name: "ipv6 grouped by prefix", remoteAddr: "[2001:db8:aa:bb:1::1]:443", want: "2001:db8:aa::/56"},
		{name: "ipv6 same prefix", remoteAddr: "[2001:db8:aa:ff:2::9]:443", want: "2001:db8:aa::/56"},
		{name: "unparseable", remoteAddr: "pipe", want: "pipe"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, clientKey(tc.remoteAddr, 56))
		})
	}
}

func TestMiddleware(t *testing.T) {
	testhelpers.SetupLogger(t)

	l := New(testConfig(1))
	handler := audit.Middleware()(l.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})))

	request := func() *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/session", nil)
		req.RemoteAddr = "198.51.100.7:1234"
		return req
	}

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, request())

	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "1", rr.Header().Get("RateLimit-Limit"))
	assert.Equal(t, "0", rr.Header().Get("RateLimit-Remaining"))
	assert.Equal(t, "900", rr.Header().Get("RateLimit-Reset"))

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, request())

	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.NotEmpty(t, rr.Header().Get("Retry-After"))

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "Too Many Requests", body.Error)
}
