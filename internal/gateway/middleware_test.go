package gateway

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler(w http.ResponseWriter, _ *http.Request) {
	w.Write([]byte("ok"))
}

func TestRequestIDMiddleware(t *testing.T) {
	tests := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{name: "missing", incoming: "", keep: false},
		{name: "well formed", incoming: "req-42_a.b", keep: true},
		{name: "too long", incoming: strings.Repeat("a", maxRequestIDLen+1), keep: false},
		{name: "control characters", incoming: "abc\r\ninjected", keep: false},
		{name: "spaces", incoming: "two words", keep: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			h := requestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = requestIDFrom(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.incoming != "" {
				req.Header[headerRequestID] = []string{tt.incoming}
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			got := rr.Header().Get(headerRequestID)
			require.NotEmpty(t, got)
			assert.Equal(t, got, seen)
			if tt.keep {
				assert.Equal(t, tt.incoming, got)
			} else {
				assert.NotEqual(t, tt.incoming, got)
				assert.True(t, validRequestID(got))
			}
		})
	}
}

func TestRequestIDFromEmptyContext(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, requestIDFrom(req.Context()))
}

func TestCORSMiddleware(t *testing.T) {
	tests := []struct {
		name        string
		allowed     []string
		method      string
		origin      string
		wantOrigin  string
		wantStatus  int
		wantHandled bool
	}{
		{name: "denied when unconfigured", method: http.MethodGet, origin: "http://localhost:3000", wantStatus: http.StatusOK, wantHandled: true},
		{name: "wildcard", allowed: []string{"*"}, method: http.MethodGet, origin: "http://shop.example", wantOrigin: "http://shop.example", wantStatus: http.StatusOK, wantHandled: true},
		{name: "listed origin", allowed: []string{"http://a.example", "http://b.example"}, method: http.MethodGet, origin: "http://b.example", wantOrigin: "http://b.example", wantStatus: http.StatusOK, wantHandled: true},
		{name: "unlisted origin", allowed: []string{"http://a.example"}, method: http.MethodGet, origin: "http://evil.example", wantStatus: http.StatusOK, wantHandled: true},
		{name: "same origin request", allowed: []string{"*"}, method: http.MethodGet, wantStatus: http.StatusOK, wantHandled: true},
		{name: "preflight", allowed: []string{"*"}, method: http.MethodOptions, origin: "http://shop.example", wantOrigin: "http://shop.example", wantStatus: http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handled := false
			h := corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				handled = true
				okHandler(w, r)
			}), tt.allowed)

			req := httptest.NewRequest(tt.method, "/chat", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			assert.Equal(t, tt.wantStatus, rr.Code)
			assert.Equal(t, tt.wantHandled, handled)
			assert.Equal(t, tt.wantOrigin, rr.Header().Get("Access-Control-Allow-Origin"))
			assert.Equal(t, "Origin", rr.Header().Get("Vary"))
			if tt.wantOrigin != "" {
				assert.Contains(t, rr.Header().Get("Access-Control-Allow-Headers"), headerRequestID)
			}
		})
	}
}

func TestRecoverMiddleware(t *testing.T) {
	h := withMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}), testLog(), nil)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/chat", nil))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Contains(t, rr.Body.String(), "internal server error")
	assert.NotEmpty(t, rr.Header().Get(headerRequestID))
}

func TestWithMiddlewareChain(t *testing.T) {
	var seen string
	h := withMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = requestIDFrom(r.Context())
		w.WriteHeader(http.StatusAccepted)
	}), testLog(), []string{"http://shop.example"})

	req := httptest.NewRequest(http.MethodPost, "/chat", nil)
	req.Header.Set("Origin", "http://shop.example")
	req.Header.Set(headerRequestID, "trace-1")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusAccepted, rr.Code)
	assert.Equal(t, "trace-1", seen)
	assert.Equal(t, "trace-1", rr.Header().Get(headerRequestID))
	assert.Equal(t, "http://shop.example", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestStatusWriterRecordsCode(t *testing.T) {
	rr := httptest.NewRecorder()
	sw := &statusWriter{ResponseWriter: rr, status: http.StatusOK}
	sw.WriteHeader(http.StatusTeapot)

	assert.Equal(t, http.StatusTeapot, sw.status)
	assert.Equal(t, http.StatusTeapot, rr.Code)
}
