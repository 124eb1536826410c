package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hausofbasquiat/gatekeeper/internal/adapters/storage/memory"
	"github.com/hausofbasquiat/gatekeeper/internal/core/domain"
	"github.com/hausofbasquiat/gatekeeper/internal/core/services"
)

func newTestLimiter(t *testing.T, rules map[domain.ActionType]domain.Rule) *services.Adaptive {
	t.Helper()
	governor, err := services.NewGovernor(memory.New(), services.GovernorConfig{Rules: rules})
	require.NoError(t, err)
	t.Cleanup(governor.Close)

	adaptive, err := services.NewAdaptive(governor, services.DefaultAdaptiveConfig())
	require.NoError(t, err)
	t.Cleanup(adaptive.Close)
	return adaptive
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimiter_DeniesPastLimit(t *testing.T) {
	limiter := newTestLimiter(t, map[domain.ActionType]domain.Rule{
		domain.ActionPostCreate: {Limit: 1, Window: time.Minute},
	})
	handler := NewRateLimiter(limiter, services.NewActionResolver(nil))(okHandler())

	post := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/posts", nil)
		req.Header.Set("X-User-ID", "alice")
		req.Header.Set("X-User-Role", "Member")
		req.RemoteAddr = "203.0.113.4:51234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	first := post()
	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "0", first.Header().Get("X-RateLimit-Remaining"))

	second := post()
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.NotEmpty(t, second.Header().Get("Retry-After"))
	assert.Equal(t, "0", second.Header().Get("X-RateLimit-Remaining"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &body))
	assert.NotEmpty(t, body["error"])
}

func TestRateLimiter_UnmappedRoutePassesThrough(t *testing.T) {
	limiter := newTestLimiter(t, map[domain.ActionType]domain.Rule{
		domain.ActionPostCreate: {Limit: 1, Window: time.Minute},
	})
	handler := NewRateLimiter(limiter, services.NewActionResolver(nil))(okHandler())

	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/profile", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestRateLimiter_NilLimiterPassesThrough(t *testing.T) {
	handler := NewRateLimiter(nil, services.NewActionResolver(nil))(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/api/posts", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimiter_SeparatesCallersByIdentifier(t *testing.T) {
	limiter := newTestLimiter(t, map[domain.ActionType]domain.Rule{
		domain.ActionPostCreate: {Limit: 1, Window: time.Minute},
	})
	handler := NewRateLimiter(limiter, services.NewActionResolver(nil))(okHandler())

	post := func(user string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/posts", nil)
		req.Header.Set("X-User-ID", user)
		req.Header.Set("X-User-Role", "Member")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, post("alice").Code)
	assert.Equal(t, http.StatusTooManyRequests, post("alice").Code)
	assert.Equal(t, http.StatusOK, post("bob").Code)
}

func TestExtractIP(t *testing.T) {
	cases := []struct {
		name       string
		forwarded  string
		realIP     string
		remoteAddr string
		want       string
	}{
		{"forwarded chain", "198.51.100.1, 10.0.0.1", "", "127.0.0.1:1234", "198.51.100.1"},
		{"real ip", "", "198.51.100.2", "127.0.0.1:1234", "198.51.100.2"},
		{"remote addr", "", "", "203.0.113.9:4321", "203.0.113.9"},
		{"remote addr without port", "", "", "203.0.113.9", "203.0.113.9"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tc.forwarded)
			}
			if tc.realIP != "" {
				req.Header.Set("X-Real-IP", tc.realIP)
			}
			req.RemoteAddr = tc.remoteAddr
			assert.Equal(t, tc.want, extractIP(req))
		})
	}
}
