package gateway

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/soyeahso/kassa/internal/config"
)

func TestSafeEqual(t *testing.T) {
	assert.True(t, safeEqual("secret", "secret"))
	assert.True(t, safeEqual("", ""))
	assert.False(t, safeEqual("secret", "Secret"))
	assert.False(t, safeEqual("short", "short-but-longer"))
	assert.False(t, safeEqual("", "secret"))
}

func TestResolveAuth(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.GatewayAuth
		env  map[string]string
		want ResolvedAuth
	}{
		{
			name: "token from config",
			cfg:  config.GatewayAuth{Mode: "token", Token: "cfg"},
			want: ResolvedAuth{Mode: "token", Token: "cfg"},
		},
		{
			name: "config wins over env",
			cfg:  config.GatewayAuth{Mode: "token", Token: "cfg"},
			env:  map[string]string{"KASSA_GATEWAY_TOKEN": "env"},
			want: ResolvedAuth{Mode: "token", Token: "cfg"},
		},
		{
			name: "secrets from env",
			cfg:  config.GatewayAuth{Mode: "password"},
			env:  map[string]string{"KASSA_GATEWAY_TOKEN": "tok", "KASSA_GATEWAY_PASSWORD": "pw"},
			want: ResolvedAuth{Mode: "password", Token: "tok", Password: "pw"},
		},
		{
			name: "mode defaults to token",
			cfg:  config.GatewayAuth{Token: "cfg"},
			want: ResolvedAuth{Mode: "token", Token: "cfg"},
		},
		{
			name: "mode defaults to password when one is set",
			cfg:  config.GatewayAuth{Password: "pw"},
			want: ResolvedAuth{Mode: "password", Password: "pw"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("KASSA_GATEWAY_TOKEN", "")
			t.Setenv("KASSA_GATEWAY_PASSWORD", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			assert.Equal(t, tt.want, ResolveAuth(tt.cfg))
		})
	}
}

func TestAuthorize(t *testing.T) {
	tokenAuth := ResolvedAuth{Mode: AuthModeToken, Token: "secret"}
	passAuth := ResolvedAuth{Mode: AuthModePassword, Password: "pass123"}

	tests := []struct {
		name   string
		server ResolvedAuth
		client *ConnectAuth
		want   AuthResult
	}{
		{"token ok", tokenAuth, &ConnectAuth{Token: "secret"}, AuthResult{OK: true, Method: AuthModeToken}},
		{"token mismatch", tokenAuth, &ConnectAuth{Token: "wrong"}, AuthResult{Reason: "token_mismatch"}},
		{"token missing", tokenAuth, &ConnectAuth{Password: "secret"}, AuthResult{Reason: "token required"}},
		{"server token unset", ResolvedAuth{Mode: AuthModeToken}, &ConnectAuth{Token: "x"}, AuthResult{Reason: "server token not configured"}},
		{"password ok", passAuth, &ConnectAuth{Password: "pass123"}, AuthResult{OK: true, Method: AuthModePassword}},
		{"password mismatch", passAuth, &ConnectAuth{Password: "nope"}, AuthResult{Reason: "password_mismatch"}},
		{"password missing", passAuth, &ConnectAuth{Token: "pass123"}, AuthResult{Reason: "password required"}},
		{"server password unset", ResolvedAuth{Mode: AuthModePassword}, &ConnectAuth{Password: "x"}, AuthResult{Reason: "server password not configured"}},
		{"no credentials", tokenAuth, nil, AuthResult{Reason: "no credentials provided"}},
		{"unknown mode", ResolvedAuth{Mode: "oauth"}, &ConnectAuth{Token: "x"}, AuthResult{Reason: "unknown auth mode: oauth"}},
		{"none mode", ResolvedAuth{Mode: AuthModeNone}, nil, AuthResult{OK: true, Method: AuthModeNone}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Authorize(tt.server, tt.client))
		})
	}
}

func TestAuthorizeHTTP(t *testing.T) {
	tests := []struct {
		name   string
		auth   ResolvedAuth
		header string
		ok     bool
	}{
		{"token match", ResolvedAuth{Mode: "token", Token: "s3cret"}, "Bearer s3cret", true},
		{"lowercase scheme", ResolvedAuth{Mode: "token", Token: "s3cret"}, "bearer s3cret", true},
		{"token mismatch", ResolvedAuth{Mode: "token", Token: "s3cret"}, "Bearer nope", false},
		{"password match", ResolvedAuth{Mode: "password", Password: "pw"}, "Bearer pw", true},
		{"missing header", ResolvedAuth{Mode: "token", Token: "s3cret"}, "", false},
		{"scheme only", ResolvedAuth{Mode: "token", Token: "s3cret"}, "Bearer ", false},
		{"basic scheme", ResolvedAuth{Mode: "token", Token: "s3cret"}, "Basic s3cret", false},
		{"none mode", ResolvedAuth{Mode: "none"}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/chat", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			assert.Equal(t, tt.ok, AuthorizeHTTP(tt.auth, req).OK)
		})
	}
}

// clockedLimiter returns a limiter without the sweeper and with a
// settable clock.
func clockedLimiter() (*authRateLimiter, *time.Time) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := &authRateLimiter{hosts: make(map[string]*failureBucket), done: make(chan struct{})}
	l.now = func() time.Time { return now }
	return l, &now
}

func TestAuthRateLimiterBlocksAfterMaxFailures(t *testing.T) {
	l, _ := clockedLimiter()
	assert.True(t, l.allow("10.0.0.1:5000"))

	for i := 0; i < authRateMaxFails-1; i++ {
		l.recordFailure("10.0.0.1:5000")
	}
	assert.True(t, l.allow("10.0.0.1:5001"))

	l.recordFailure("10.0.0.1:5002")
	assert.False(t, l.allow("10.0.0.1:5003"), "failures count per host, not per port")
	assert.True(t, l.allow("10.0.0.2:5000"))
}

func TestAuthRateLimiterRefills(t *testing.T) {
	l, now := clockedLimiter()
	for i := 0; i < authRateMaxFails; i++ {
		l.recordFailure("10.0.0.1")
	}
	assert.False(t, l.allow("10.0.0.1"))

	*now = now.Add(authRateWindow/authRateMaxFails + time.Second)
	assert.True(t, l.allow("10.0.0.1"))
}

func TestAuthRateLimiterPrune(t *testing.T) {
	l, now := clockedLimiter()
	l.recordFailure("10.0.0.1:1")
	*now = now.Add(authRateWindow / 2)
	l.recordFailure("10.0.0.2:1")

	*now = now.Add(authRateWindow/2 + time.Second)
	l.prune()
	assert.NotContains(t, l.hosts, "10.0.0.1")
	assert.Contains(t, l.hosts, "10.0.0.2")
}

func TestAuthRateLimiterEvictsOldestHost(t *testing.T) {
	l, now := clockedLimiter()
	for i := 0; i < authRateMaxHosts; i++ {
		l.recordFailure(fmt.Sprintf("host-%d", i))
		*now = now.Add(time.Millisecond)
	}
	l.recordFailure("newcomer")

	assert.Len(t, l.hosts, authRateMaxHosts)
	assert.NotContains(t, l.hosts, "host-0")
	assert.Contains(t, l.hosts, "newcomer")
}

func TestAuthRateLimiterStopIsIdempotent(t *testing.T) {
	l := newAuthRateLimiter()
	l.stop()
	l.stop()
}

func TestCheckWebSocketOrigin(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		ok      bool
	}{
		{"no origin header", nil, "", true},
		{"nothing allowed", nil, "http://evil.example", false},
		{"wildcard", []string{"*"}, "http://any.example", true},
		{"listed", []string{"http://one.example", "http://two.example"}, "http://two.example", true},
		{"unlisted", []string{"http://one.example"}, "http://three.example", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/ws", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.ok, checkWebSocketOrigin(tt.allowed)(req))
		})
	}
}
