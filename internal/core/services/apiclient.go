package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/hausofbasquiat/gatekeeper/internal/core/domain"
	"github.com/hausofbasquiat/gatekeeper/internal/core/ports"
	"github.com/hausofbasquiat/gatekeeper/internal/observability"
)

// Mode selects the build-dependent behavior switches: HTTPS enforcement,
// 404 notification suppression and token validation.
type Mode string

const (
	ModeProduction  Mode = "production"
	ModeDevelopment Mode = "development"
	ModeTest        Mode = "test"
)

const clientHeader = "hausofbasquiat-web"

// ClientConfig aggregates the API client settings. Zero values fall back
// to the documented defaults.
type ClientConfig struct {
	// BaseURL is the root of the backend API. Required.
	BaseURL string

	// Mode gates the environment-dependent behavior. Defaults to
	// development.
	Mode Mode

	// EnforceHTTPS rejects plain-HTTP base URLs in production builds.
	EnforceHTTPS bool

	// Timeout bounds a single dispatch attempt (default 30s).
	// UploadTimeout applies to upload actions instead (default 5m).
	Timeout       time.Duration
	UploadTimeout time.Duration

	// MaxRetries is the retry ceiling for transient failures (default 3).
	MaxRetries int

	// RetryBaseDelay seeds the exponential backoff (default 1s).
	RetryBaseDelay time.Duration

	// RefreshPath is the token refresh endpoint (default /api/auth/refresh).
	RefreshPath string

	// EndpointRules maps routes to action types for local rate
	// enforcement. Defaults to DefaultEndpointRules.
	EndpointRules []EndpointRule

	// Identify returns the rate-limit identifier of the current caller.
	// Defaults to "anonymous".
	Identify func() string

	// OnLoginSurface reports whether the user is already looking at the
	// login surface, in which case session-expired messaging is redundant.
	OnLoginSurface func() bool

	// OnSessionExpired is invoked when a 401 cannot be resolved by a
	// refresh, so the application can route the user to login.
	OnSessionExpired func()

	// HTTPClient overrides the underlying transport. The default carries
	// no client-level timeout; attempts are bounded per-dispatch.
	HTTPClient *http.Client
}

// APIResponse is a fully buffered response. Buffering keeps retries and
// re-dispatch free to rebuild the request from the same bytes.
type APIResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte

	// Retries is how many backoff retries this call consumed.
	Retries int
	// Duration is the elapsed wall time of the whole call.
	Duration time.Duration
}

// Decode unmarshals the response body into v.
func (r *APIResponse) Decode(v any) error {
	return json.Unmarshal(r.Body, v)
}

type requestOptions struct {
	noRetry bool
	headers http.Header
}

// RequestOption customizes one call.
type RequestOption func(*requestOptions)

// WithNoRetry marks the request non-retryable, for calls where a retry
// would duplicate a side effect.
func WithNoRetry() RequestOption {
	return func(o *requestOptions) {
		o.noRetry = true
	}
}

// WithHeader adds a header to the request.
func WithHeader(key, value string) RequestOption {
	return func(o *requestOptions) {
		if o.headers == nil {
			o.headers = make(http.Header)
		}
		o.headers.Set(key, value)
	}
}

// APIClient wraps every outbound call with rate enforcement, auth
// injection, retry with backoff, one-shot token refresh and throttled user
// notification, so calling code can treat the network as reliable.
type APIClient struct {
	cfg      ClientConfig
	base     *url.URL
	http     *http.Client
	limiter  *Governor
	tokens   ports.TokenStore
	notifier ports.Notifier
	routes   *routeTable
	refresh  refreshGroup
	logger   *slog.Logger
	sleep    func(context.Context, time.Duration) error
}

// ClientOption customizes an APIClient.
type ClientOption func(*APIClient)

// WithClientLogger replaces the default logger.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *APIClient) {
		c.logger = logger
	}
}

// NewAPIClient creates the client. The limiter may be nil, in which case
// local rate enforcement is skipped entirely.
func NewAPIClient(cfg ClientConfig, limiter *Governor, tokens ports.TokenStore, notifier ports.Notifier, opts ...ClientOption) (*APIClient, error) {
	if tokens == nil {
		return nil, fmt.Errorf("token store is required")
	}
	if notifier == nil {
		return nil, fmt.Errorf("notifier is required")
	}

	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q", cfg.BaseURL)
	}

	if cfg.Mode == "" {
		cfg.Mode = ModeDevelopment
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.UploadTimeout <= 0 {
		cfg.UploadTimeout = 5 * time.Minute
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = time.Second
	}
	if cfg.RefreshPath == "" {
		cfg.RefreshPath = "/api/auth/refresh"
	}
	if cfg.EndpointRules == nil {
		cfg.EndpointRules = DefaultEndpointRules()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	c := &APIClient{
		cfg:      cfg,
		base:     base,
		http:     httpClient,
		limiter:  limiter,
		tokens:   tokens,
		notifier: notifier,
		routes:   newRouteTable(cfg.EndpointRules),
		logger:   slog.Default(),
	}
	c.sleep = c.wait
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Get issues a GET request.
func (c *APIClient) Get(ctx context.Context, path string, opts ...RequestOption) (*APIResponse, error) {
	return c.Do(ctx, http.MethodGet, path, nil, opts...)
}

// Post issues a POST request with a JSON body.
func (c *APIClient) Post(ctx context.Context, path string, body any, opts ...RequestOption) (*APIResponse, error) {
	return c.Do(ctx, http.MethodPost, path, body, opts...)
}

// Put issues a PUT request with a JSON body.
func (c *APIClient) Put(ctx context.Context, path string, body any, opts ...RequestOption) (*APIResponse, error) {
	return c.Do(ctx, http.MethodPut, path, body, opts...)
}

// Delete issues a DELETE request.
func (c *APIClient) Delete(ctx context.Context, path string, opts ...RequestOption) (*APIResponse, error) {
	return c.Do(ctx, http.MethodDelete, path, nil, opts...)
}

// Do dispatches one request through the full pipeline. Retryable failures
// are resolved internally when possible; only exhaustion and non-retryable
// categories propagate as errors.
func (c *APIClient) Do(ctx context.Context, method, path string, body any, opts ...RequestOption) (*APIResponse, error) {
	if c.cfg.Mode == ModeProduction && c.cfg.EnforceHTTPS && c.base.Scheme != "https" {
		return nil, domain.ErrInsecureConnection
	}

	var options requestOptions
	for _, opt := range opts {
		opt(&options)
	}

	action, enforced := c.routes.resolve(method, path)
	identifier := c.identify()

	if enforced && c.limiter != nil {
		result := c.limiter.Check(ctx, action, identifier)
		if !result.Allowed {
			return nil, &domain.RateLimitError{Action: action, RetryAfter: result.RetryAfter}
		}
	}

	payload, contentType, err := encodeBody(body)
	if err != nil {
		return nil, fmt.Errorf("encode request body: %w", err)
	}

	bearer := c.validBearerToken()
	requestID := uuid.NewString()
	start := time.Now()
	timeout := c.attemptTimeout(action)

	var didRefresh bool
	retries := 0

	for {
		resp, netErr := c.dispatch(ctx, method, path, payload, contentType, bearer, requestID, options.headers, timeout)

		if netErr != nil {
			if ctx.Err() != nil {
				// Abort is terminal, never retried.
				return nil, ctx.Err()
			}
			if options.noRetry || retries >= c.cfg.MaxRetries {
				c.notifier.Error("Network error. Please check your connection.")
				return nil, fmt.Errorf("network error: %w", netErr)
			}
			retries++
			observability.ClientRetries.WithLabelValues("network").Inc()
			if err := c.sleep(ctx, c.backoff(retries-1)); err != nil {
				return nil, err
			}
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			resp.Retries = retries
			resp.Duration = time.Since(start)
			if c.cfg.Mode != ModeProduction {
				c.logger.Debug("api request",
					"method", method, "path", path,
					"status", resp.StatusCode, "duration", resp.Duration,
					"request_id", requestID)
			}
			if enforced && c.limiter != nil {
				c.limiter.RecordAction(ctx, action, identifier)
			}
			return resp, nil
		}

		httpErr := &domain.HTTPError{StatusCode: resp.StatusCode, ServerMessage: serverMessage(resp)}

		switch {
		case resp.StatusCode == http.StatusUnauthorized:
			if !didRefresh {
				didRefresh = true
				if token, refreshErr := c.refreshTokens(ctx); refreshErr == nil {
					// Re-dispatch exactly once with the fresh token.
					bearer = token
					continue
				}
			}
			c.tokens.Clear()
			if !c.onLoginSurface() {
				c.notifier.Error("Session expired. Please log in again.")
				if c.cfg.OnSessionExpired != nil {
					c.cfg.OnSessionExpired()
				}
			}
			return nil, errors.Join(domain.ErrSessionExpired, httpErr)

		case resp.StatusCode == http.StatusForbidden:
			c.notifier.Error("You don't have permission to perform this action.")
			return nil, httpErr

		case resp.StatusCode == http.StatusNotFound:
			// Quiet in production: missing resources are often expected.
			if c.cfg.Mode != ModeProduction {
				c.notifier.Error("Resource not found.")
			}
			return nil, httpErr

		case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
			if !options.noRetry && retries < c.cfg.MaxRetries {
				delay := c.backoff(retries)
				trigger := "server_error"
				if resp.StatusCode == http.StatusTooManyRequests {
					trigger = "rate_limited"
					if ra := parseRetryAfter(resp.Header); ra > 0 {
						delay = ra
					}
				}
				retries++
				observability.ClientRetries.WithLabelValues(trigger).Inc()
				if err := c.sleep(ctx, delay); err != nil {
					return nil, err
				}
				continue
			}
			if resp.StatusCode == http.StatusTooManyRequests {
				c.notifier.Error("Too many requests. Please wait a moment and try again.")
			} else {
				c.notifier.Error("Server error. Please try again later.")
			}
			return nil, httpErr

		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			message := httpErr.ServerMessage
			if message == "" {
				message = "An error occurred"
			}
			c.notifier.Error(message)
			return nil, httpErr

		default:
			c.logger.Error("unexpected response status",
				"method", method, "path", path, "status", resp.StatusCode)
			c.notifier.Error("Something went wrong. Please try again.")
			return nil, httpErr
		}
	}
}

// dispatch performs one attempt: build, send, buffer.
func (c *APIClient) dispatch(ctx context.Context, method, path string, payload []byte, contentType, bearer, requestID string, extra http.Header, timeout time.Duration) (*APIResponse, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	pathOnly, query, _ := strings.Cut(path, "?")
	target := c.base.JoinPath(pathOnly)
	target.RawQuery = query

	req, err := http.NewRequestWithContext(attemptCtx, method, target.String(), body)
	if err != nil {
		return nil, err
	}

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("X-Client", clientHeader)
	req.Header.Set("X-Request-ID", requestID)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	for key, values := range extra {
		for _, value := range values {
			req.Header.Set(key, value)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	return &APIResponse{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

// validBearerToken returns the stored access token after a structural
// check. A malformed token is evicted and the request proceeds
// unauthenticated; the server's own 401 handles actual auth failures.
func (c *APIClient) validBearerToken() string {
	token := c.tokens.Token()
	if token == "" || c.cfg.Mode == ModeTest {
		return token
	}
	if _, err := jwt.ParseInsecure([]byte(token)); err != nil {
		c.logger.Warn("stored access token is malformed, evicting", "error", err)
		c.tokens.ClearToken()
		return ""
	}
	return token
}

func (c *APIClient) identify() string {
	if c.cfg.Identify != nil {
		if id := c.cfg.Identify(); id != "" {
			return id
		}
	}
	return "anonymous"
}

func (c *APIClient) onLoginSurface() bool {
	return c.cfg.OnLoginSurface != nil && c.cfg.OnLoginSurface()
}

func (c *APIClient) attemptTimeout(action domain.ActionType) time.Duration {
	switch action {
	case domain.ActionFileUpload, domain.ActionLargeFileUpload:
		return c.cfg.UploadTimeout
	default:
		return c.cfg.Timeout
	}
}

func (c *APIClient) backoff(attempt int) time.Duration {
	return c.cfg.RetryBaseDelay << attempt
}

func (c *APIClient) wait(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

func encodeBody(body any) ([]byte, string, error) {
	switch b := body.(type) {
	case nil:
		return nil, "", nil
	case []byte:
		return b, "", nil
	case io.Reader:
		data, err := io.ReadAll(b)
		return data, "", err
	default:
		data, err := json.Marshal(b)
		return data, "application/json", err
	}
}

// serverMessage extracts the message or error field of an error response
// body, in that priority order.
func serverMessage(resp *APIResponse) string {
	if len(resp.Body) == 0 {
		return ""
	}
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return ""
	}
	if payload.Message != "" {
		return payload.Message
	}
	return payload.Error
}

// parseRetryAfter reads a server-supplied Retry-After header in seconds.
func parseRetryAfter(header http.Header) time.Duration {
	value := header.Get("Retry-After")
	if value == "" {
		return 0
	}
	seconds, err := strconv.Atoi(value)
	if err != nil || seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}
