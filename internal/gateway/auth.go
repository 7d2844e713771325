package gateway

import (
	"cmp"
	"crypto/subtle"
	"net/http"
	"os"
	"strings"

	"github.com/soyeahso/kassa/internal/config"
)

// Auth modes.
const (
	AuthModeNone     = "none"
	AuthModeToken    = "token"
	AuthModePassword = "password"
)

// AuthResult is the outcome of an authentication attempt.
type AuthResult struct {
	OK     bool   `json:"ok"`
	Method string `json:"method,omitempty"` // "none" | "token" | "password"
	Reason string `json:"reason,omitempty"`
}

// ResolvedAuth holds the resolved auth configuration for the gateway.
type ResolvedAuth struct {
	Mode     string
	Token    string
	Password string
}

// ResolveAuth fills secrets missing from cfg from KASSA_GATEWAY_TOKEN and
// KASSA_GATEWAY_PASSWORD. Without a configured mode, a password selects
// password mode and anything else token mode.
func ResolveAuth(cfg config.GatewayAuth) ResolvedAuth {
	auth := ResolvedAuth{
		Mode:     cfg.Mode,
		Token:    cmp.Or(cfg.Token, os.Getenv("KASSA_GATEWAY_TOKEN")),
		Password: cmp.Or(cfg.Password, os.Getenv("KASSA_GATEWAY_PASSWORD")),
	}
	if auth.Mode == "" {
		auth.Mode = AuthModeToken
		if auth.Password != "" {
			auth.Mode = AuthModePassword
		}
	}
	return auth
}

// Authorize checks client credentials against the server's mode. Only the
// secret for the active mode is consulted.
func Authorize(server ResolvedAuth, client *ConnectAuth) AuthResult {
	if server.Mode == AuthModeNone {
		return AuthResult{OK: true, Method: AuthModeNone}
	}
	if client == nil {
		return AuthResult{Reason: "no credentials provided"}
	}

	var want, got string
	switch server.Mode {
	case AuthModeToken:
		want, got = server.Token, client.Token
	case AuthModePassword:
		want, got = server.Password, client.Password
	default:
		return AuthResult{Reason: "unknown auth mode: " + server.Mode}
	}

	switch {
	case want == "":
		return AuthResult{Reason: "server " + server.Mode + " not configured"}
	case got == "":
		return AuthResult{Reason: server.Mode + " required"}
	case !safeEqual(got, want):
		return AuthResult{Reason: server.Mode + "_mismatch"}
	}
	return AuthResult{OK: true, Method: server.Mode}
}

// AuthorizeHTTP authenticates a plain HTTP request. The credential is read
// from "Authorization: Bearer <secret>" and checked as a token or a
// password depending on the server mode.
func AuthorizeHTTP(serverAuth ResolvedAuth, r *http.Request) AuthResult {
	var creds *ConnectAuth
	if secret, ok := bearer(r.Header.Get("Authorization")); ok {
		creds = &ConnectAuth{Token: secret, Password: secret}
	}
	return Authorize(serverAuth, creds)
}

func bearer(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(header[len(prefix):]), true
}

// safeEqual compares in constant time, length included.
func safeEqual(a, b string) bool {
	lenMatch := subtle.ConstantTimeEq(int32(len(a)), int32(len(b)))
	cmp := subtle.ConstantTimeCompare([]byte(a), []byte(b))
	return subtle.ConstantTimeSelect(lenMatch, cmp, 0) == 1
}
