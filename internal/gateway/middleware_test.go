package gateway

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/soyeahso/oracle/internal/config"
	"github.com/stretchr/testify/assert"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
}

func TestLoggingMiddleware_CapturesStatus(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	rr := httptest.NewRecorder()
	loggingMiddleware(inner, testLog()).ServeHTTP(rr, httptest.NewRequest("GET", "/test", nil))
	assert.Equal(t, http.StatusTeapot, rr.Code)
}

func TestStatusWriter_FlushPassesThrough(t *testing.T) {
	rr := httptest.NewRecorder()
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("0:\"a\"\n"))
		http.NewResponseController(w).Flush()
	})
	loggingMiddleware(inner, testLog()).ServeHTTP(rr, httptest.NewRequest("POST", "/api/chat", nil))
	assert.True(t, rr.Flushed)
}

func TestRequestIDMiddleware(t *testing.T) {
	h := requestIDMiddleware(okHandler())

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest("GET", "/test", nil))
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("X-Request-ID", "custom-id-123")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, "custom-id-123", rr.Header().Get("X-Request-ID"))
}

func TestCORSMiddleware(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    string
	}{
		{"deny when unconfigured", nil, "http://localhost:3000", ""},
		{"wildcard", []string{"*"}, "http://any.com", "http://any.com"},
		{"specific match", []string{"http://app.local"}, "http://app.local", "http://app.local"},
		{"specific miss", []string{"http://app.local"}, "http://evil.com", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/api/chat", nil)
			req.Header.Set("Origin", tt.origin)
			rr := httptest.NewRecorder()
			corsMiddleware(okHandler(), tt.allowed).ServeHTTP(rr, req)
			assert.Equal(t, tt.want, rr.Header().Get("Access-Control-Allow-Origin"))
		})
	}
}

func TestCORSMiddleware_Preflight(t *testing.T) {
	req := httptest.NewRequest("OPTIONS", "/api/chat", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rr := httptest.NewRecorder()
	corsMiddleware(okHandler(), []string{"*"}).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Empty(t, rr.Body.String())
	assert.Contains(t, rr.Header().Get("Access-Control-Allow-Headers"), "Authorization")
}

func TestWithMiddleware(t *testing.T) {
	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("Origin", "http://test.com")
	rr := httptest.NewRecorder()
	withMiddleware(okHandler(), testLog(), []string{"http://test.com"}).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
	assert.Equal(t, "http://test.com", rr.Header().Get("Access-Control-Allow-Origin"))
}

// --- apiAuthMiddleware tests ---

func serverWithToken(token string) *Server {
	cfg := config.Defaults()
	cfg.Gateway.Auth = config.GatewayAuth{Mode: "token", Token: token}
	return New(cfg, testLog())
}

func TestAPIAuthMiddleware(t *testing.T) {
	s := serverWithToken("tok")
	h := s.apiAuthMiddleware(okHandler())

	tests := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"api without bearer", "/api/chat", "", http.StatusUnauthorized},
		{"api wrong bearer", "/api/chat", "Bearer nope", http.StatusUnauthorized},
		{"api with bearer", "/api/chat", "Bearer tok", http.StatusOK},
		{"health is public", "/health", "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", tt.path, nil)
			req.RemoteAddr = "10.9.9.9:1234"
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)
			assert.Equal(t, tt.want, rr.Code)
		})
	}
}

func TestAPIAuthMiddleware_OpenWithoutSecret(t *testing.T) {
	t.Setenv("ORACLE_GATEWAY_TOKEN", "")
	t.Setenv("ORACLE_GATEWAY_PASSWORD", "")
	s := serverWithToken("")

	rr := httptest.NewRecorder()
	s.apiAuthMiddleware(okHandler()).ServeHTTP(rr, httptest.NewRequest("POST", "/api/chat", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestAPIAuthMiddleware_RateLimited(t *testing.T) {
	s := serverWithToken("tok")
	h := s.apiAuthMiddleware(okHandler())

	for range authRateMaxFails {
		req := httptest.NewRequest("POST", "/api/chat", nil)
		req.RemoteAddr = "10.1.1.1:1000"
		h.ServeHTTP(httptest.NewRecorder(), req)
	}

	req := httptest.NewRequest("POST", "/api/chat", nil)
	req.RemoteAddr = "10.1.1.1:1001"
	req.Header.Set("Authorization", "Bearer tok")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
}
