package gateway

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// --- safeEqual tests ---

func TestSafeEqual_Match(t *testing.T) {
	assert.True(t, safeEqual("secret", "secret"))
}

func TestSafeEqual_Mismatch(t *testing.T) {
	assert.False(t, safeEqual("secret", "wrong"))
}

func TestSafeEqual_DifferentLengths(t *testing.T) {
	assert.False(t, safeEqual("short", "longer-string"))
}

func TestSafeEqual_OneEmpty(t *testing.T) {
	assert.False(t, safeEqual("secret", ""))
	assert.False(t, safeEqual("", "secret"))
}

// --- authorize tests ---

func TestAuthorize(t *testing.T) {
	tests := []struct {
		name   string
		target string
		header string
		token  string
		ok     bool
		method string
		reason string
	}{
		{name: "open channel", target: "/s1", ok: true, method: "none"},
		{name: "query token", target: "/s1?token=secret", token: "secret", ok: true, method: "query"},
		{name: "bearer token", target: "/s1", header: "Bearer secret", token: "secret", ok: true, method: "bearer"},
		{name: "bearer lowercase scheme", target: "/s1", header: "bearer secret", token: "secret", ok: true, method: "bearer"},
		{name: "missing token", target: "/s1", token: "secret", reason: "token required"},
		{name: "wrong query token", target: "/s1?token=nope", token: "secret", reason: "token_mismatch"},
		{name: "wrong bearer token", target: "/s1", header: "Bearer nope", token: "secret", reason: "token_mismatch"},
		{name: "basic auth ignored", target: "/s1", header: "Basic c2VjcmV0", token: "secret", reason: "token required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", tt.target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			res := authorize(req, tt.token)
			assert.Equal(t, tt.ok, res.OK)
			assert.Equal(t, tt.method, res.Method)
			assert.Equal(t, tt.reason, res.Reason)
		})
	}
}

// --- rate limiter tests ---

func TestAuthRateLimiter_BlocksAfterMaxFailures(t *testing.T) {
	rl := newAuthRateLimiter()
	addr := "10.0.0.1:5555"

	for i := 0; i < authRateMaxFails; i++ {
		assert.True(t, rl.allow(addr))
		rl.recordFailure(addr)
	}
	assert.False(t, rl.allow(addr))

	// other hosts are unaffected, whatever their port
	assert.True(t, rl.allow("10.0.0.2:5555"))
	assert.False(t, rl.allow("10.0.0.1:6000"))
}

func TestAuthRateLimiter_WindowExpires(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	rl := newAuthRateLimiter()
	rl.now = func() time.Time { return now }

	for i := 0; i < authRateMaxFails; i++ {
		rl.recordFailure("10.0.0.1:1")
	}
	assert.False(t, rl.allow("10.0.0.1:1"))

	now = now.Add(authRateWindow + time.Second)
	assert.True(t, rl.allow("10.0.0.1:1"))
	assert.Empty(t, rl.failures)
}

func TestHostOf(t *testing.T) {
	assert.Equal(t, "10.0.0.1", hostOf("10.0.0.1:80"))
	assert.Equal(t, "::1", hostOf("[::1]:80"))
	assert.Equal(t, "pipe", hostOf("pipe"))
}
