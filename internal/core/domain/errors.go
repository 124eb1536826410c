package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrRateLimited is returned when an admission check denies a request
	// before it reaches the network.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrInsecureConnection is returned when a production build attempts a
	// request over a non-TLS connection. Never retried.
	ErrInsecureConnection = errors.New("insecure connection refused in production")

	// ErrSessionExpired is returned after a 401 could not be resolved by a
	// token refresh.
	ErrSessionExpired = errors.New("session expired")

	// ErrNoRefreshToken is returned when a refresh is attempted without a
	// stored refresh token.
	ErrNoRefreshToken = errors.New("no refresh token available")
)

// RateLimitError carries the admission outcome of a denied request.
type RateLimitError struct {
	Action     ActionType
	RetryAfter time.Duration
	Reason     string
}

func (e *RateLimitError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: %s (retry after %s)", ErrRateLimited, e.Reason, e.RetryAfter)
	}
	return fmt.Sprintf("%s for %s (retry after %s)", ErrRateLimited, e.Action, e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// IsRateLimitError reports whether err is a local rate limit denial.
func IsRateLimitError(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

// HTTPError represents a response with a non-success status code.
type HTTPError struct {
	StatusCode int
	// ServerMessage is the message or error field of the response body,
	// when the server supplied one.
	ServerMessage string
}

func (e *HTTPError) Error() string {
	if e.ServerMessage != "" {
		return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.ServerMessage)
	}
	return fmt.Sprintf("HTTP %d", e.StatusCode)
}

// IsHTTPError reports whether err carries an HTTP status, meaning a
// response was actually received.
func IsHTTPError(err error) bool {
	var he *HTTPError
	return errors.As(err, &he)
}

// ErrorStatus returns the HTTP status carried by err, or 0 when err is not
// an HTTP-level error.
func ErrorStatus(err error) int {
	var he *HTTPError
	if errors.As(err, &he) {
		return he.StatusCode
	}
	return 0
}

// ErrorMessage returns the most specific human-readable message for err:
// the server-supplied message when present, then the error text, then a
// generic fallback.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var he *HTTPError
	if errors.As(err, &he) && he.ServerMessage != "" {
		return he.ServerMessage
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return "An unexpected error occurred"
}
