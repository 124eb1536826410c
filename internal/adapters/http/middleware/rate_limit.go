// Package middleware provides the application's HTTP middlewares.
package middleware

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/hausofbasquiat/gatekeeper/internal/core/domain"
	"github.com/hausofbasquiat/gatekeeper/internal/core/ports"
	"github.com/hausofbasquiat/gatekeeper/internal/core/services"
	"github.com/hausofbasquiat/gatekeeper/internal/observability"
)

const rateLimitExceededMessage = "you have reached the maximum number of requests or actions allowed within a certain time frame"

// NewRateLimiter enforces the adaptive governor on every mapped route.
// Unmapped routes and a nil limiter pass through untouched.
func NewRateLimiter(limiter ports.AdaptiveLimiter, resolver *services.ActionResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil || resolver == nil {
				next.ServeHTTP(w, r)
				return
			}

			action, ok := resolver.Resolve(r.Method, r.URL.Path)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			caller := domain.Context{
				UserID:    strings.TrimSpace(r.Header.Get("X-User-ID")),
				Role:      domain.Role(strings.TrimSpace(r.Header.Get("X-User-Role"))),
				IPAddress: extractIP(r),
				UserAgent: r.UserAgent(),
			}

			result := limiter.CheckAdaptive(r.Context(), action, caller)

			outcome := "allowed"
			if !result.Allowed {
				outcome = "denied"
			}
			observability.AdmissionDecisions.WithLabelValues(string(action), outcome).Inc()

			if !result.Allowed {
				writeTooManyRequests(w, result)
				return
			}

			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
			next.ServeHTTP(w, r)
		})
	}
}

func extractIP(r *http.Request) string {
	xForwardedFor := strings.TrimSpace(r.Header.Get("X-Forwarded-For"))
	if xForwardedFor != "" {
		parts := strings.Split(xForwardedFor, ",")
		if len(parts) > 0 {
			return strings.TrimSpace(parts[0])
		}
	}

	xRealIP := strings.TrimSpace(r.Header.Get("X-Real-IP"))
	if xRealIP != "" {
		return xRealIP
	}

	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}

	return host
}

func writeTooManyRequests(w http.ResponseWriter, result domain.AdaptiveResult) {
	message := result.Reason
	if message == "" {
		message = rateLimitExceededMessage
	}

	if result.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(result.RetryAfter.Seconds())))
	}
	w.Header().Set("X-RateLimit-Remaining", "0")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
