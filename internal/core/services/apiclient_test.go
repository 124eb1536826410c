package services

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hausofbasquiat/gatekeeper/internal/adapters/storage/memory"
	"github.com/hausofbasquiat/gatekeeper/internal/adapters/tokens"
	"github.com/hausofbasquiat/gatekeeper/internal/core/domain"
)

type transportFunc func(*http.Request) (*http.Response, error)

func (f transportFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func textResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     make(http.Header),
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

type recordingNotifier struct {
	mu     sync.Mutex
	errors []string
}

func (n *recordingNotifier) Error(message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.errors = append(n.errors, message)
}

func (n *recordingNotifier) Success(string) {}

func (n *recordingNotifier) Errors() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.errors...)
}

type clientFixture struct {
	client   *APIClient
	tokens   *tokens.Store
	notifier *recordingNotifier
	delays   []time.Duration
}

// newClientFixture builds a client over a canned transport, with sleeps
// recorded instead of slept.
func newClientFixture(t *testing.T, cfg ClientConfig, limiter *Governor, transport transportFunc) *clientFixture {
	t.Helper()

	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.test"
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeTest
	}
	cfg.HTTPClient = &http.Client{Transport: transport}

	f := &clientFixture{
		tokens:   tokens.New(),
		notifier: &recordingNotifier{},
	}

	client, err := NewAPIClient(cfg, limiter, f.tokens, f.notifier)
	require.NoError(t, err)

	client.sleep = func(ctx context.Context, d time.Duration) error {
		f.delays = append(f.delays, d)
		return ctx.Err()
	}

	f.client = client
	return f
}

func TestAPIClient_NetworkFailureRetriesThenSucceeds(t *testing.T) {
	calls := 0
	f := newClientFixture(t, ClientConfig{}, nil, func(*http.Request) (*http.Response, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("connection refused")
		}
		return textResponse(http.StatusOK, `{"ok":true}`), nil
	})

	resp, err := f.client.Get(context.Background(), "/api/profile")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, resp.Retries)
	assert.Equal(t, 2, calls)
	assert.Empty(t, f.notifier.Errors())
}

func TestAPIClient_NetworkFailureExhaustsRetries(t *testing.T) {
	calls := 0
	f := newClientFixture(t, ClientConfig{RetryBaseDelay: time.Second}, nil, func(*http.Request) (*http.Response, error) {
		calls++
		return nil, errors.New("connection refused")
	})

	_, err := f.client.Get(context.Background(), "/api/profile")
	require.Error(t, err)

	// One initial attempt plus three retries with doubling delays.
	assert.Equal(t, 4, calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, f.delays)
	assert.Equal(t, []string{"Network error. Please check your connection."}, f.notifier.Errors())
}

func TestAPIClient_NoRetrySkipsBackoff(t *testing.T) {
	calls := 0
	f := newClientFixture(t, ClientConfig{}, nil, func(*http.Request) (*http.Response, error) {
		calls++
		return nil, errors.New("connection refused")
	})

	_, err := f.client.Post(context.Background(), "/api/posts", nil, WithNoRetry())
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, f.delays)
}

func TestAPIClient_ContextCancellationIsTerminal(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	f := newClientFixture(t, ClientConfig{}, nil, func(*http.Request) (*http.Response, error) {
		calls++
		cancel()
		return nil, errors.New("request aborted")
	})

	_, err := f.client.Get(ctx, "/api/profile")
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
	assert.Empty(t, f.notifier.Errors())
}

func TestAPIClient_RateLimitDeniesBeforeDispatch(t *testing.T) {
	clock := newFakeClock()
	store := memory.New(memory.WithClock(clock.Now))
	governor, err := NewGovernor(store, GovernorConfig{
		Rules: map[domain.ActionType]domain.Rule{
			domain.ActionPostCreate: {Limit: 1, Window: time.Minute},
		},
	}, WithGovernorClock(clock.Now))
	require.NoError(t, err)
	defer governor.Close()

	calls := 0
	f := newClientFixture(t, ClientConfig{}, governor, func(*http.Request) (*http.Response, error) {
		calls++
		return textResponse(http.StatusCreated, `{}`), nil
	})
	ctx := context.Background()

	_, err = f.client.Post(ctx, "/api/posts", map[string]string{"body": "first"})
	require.NoError(t, err)

	_, err = f.client.Post(ctx, "/api/posts", map[string]string{"body": "second"})
	require.Error(t, err)
	assert.True(t, domain.IsRateLimitError(err))

	var rle *domain.RateLimitError
	require.ErrorAs(t, err, &rle)
	assert.Equal(t, domain.ActionPostCreate, rle.Action)
	assert.Greater(t, rle.RetryAfter, time.Duration(0))

	// The denied request never reached the transport.
	assert.Equal(t, 1, calls)
}

func TestAPIClient_UnmappedRouteBypassesLimiter(t *testing.T) {
	clock := newFakeClock()
	governor := newTestGovernor(t, clock, map[domain.ActionType]domain.Rule{
		domain.ActionPostCreate: {Limit: 1, Window: time.Minute},
	})

	calls := 0
	f := newClientFixture(t, ClientConfig{}, governor, func(*http.Request) (*http.Response, error) {
		calls++
		return textResponse(http.StatusOK, `{}`), nil
	})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := f.client.Get(ctx, "/api/profile")
		require.NoError(t, err)
	}
	assert.Equal(t, 5, calls)
}

func TestAPIClient_RefreshReplaysRequestOnce(t *testing.T) {
	var authHeaders []string
	f := newClientFixture(t, ClientConfig{}, nil, nil)
	f.tokens.SetToken("stale-token")
	f.tokens.SetRefreshToken("refresh-1")

	f.client.http.Transport = transportFunc(func(req *http.Request) (*http.Response, error) {
		if req.URL.Path == "/api/auth/refresh" {
			return textResponse(http.StatusOK, `{"token":"fresh-token","refreshToken":"refresh-2"}`), nil
		}
		authHeaders = append(authHeaders, req.Header.Get("Authorization"))
		if req.Header.Get("Authorization") != "Bearer fresh-token" {
			return textResponse(http.StatusUnauthorized, `{}`), nil
		}
		return textResponse(http.StatusOK, `{"ok":true}`), nil
	})

	resp, err := f.client.Get(context.Background(), "/api/profile")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Original dispatch with the stale token, then exactly one replay.
	assert.Equal(t, []string{"Bearer stale-token", "Bearer fresh-token"}, authHeaders)
	assert.Equal(t, "fresh-token", f.tokens.Token())
	assert.Equal(t, "refresh-2", f.tokens.RefreshToken())
	assert.Empty(t, f.notifier.Errors())
}

func TestAPIClient_SessionExpiresWithoutRefreshToken(t *testing.T) {
	expired := false
	f := newClientFixture(t, ClientConfig{
		OnSessionExpired: func() { expired = true },
	}, nil, func(*http.Request) (*http.Response, error) {
		return textResponse(http.StatusUnauthorized, `{}`), nil
	})
	f.tokens.SetToken("stale-token")

	_, err := f.client.Get(context.Background(), "/api/profile")
	require.ErrorIs(t, err, domain.ErrSessionExpired)
	assert.Equal(t, http.StatusUnauthorized, domain.ErrorStatus(err))

	assert.Empty(t, f.tokens.Token())
	assert.Empty(t, f.tokens.RefreshToken())
	assert.Equal(t, []string{"Session expired. Please log in again."}, f.notifier.Errors())
	assert.True(t, expired)
}

func TestAPIClient_SessionExpiryQuietOnLoginSurface(t *testing.T) {
	f := newClientFixture(t, ClientConfig{
		OnLoginSurface: func() bool { return true },
	}, nil, func(*http.Request) (*http.Response, error) {
		return textResponse(http.StatusUnauthorized, `{}`), nil
	})

	_, err := f.client.Get(context.Background(), "/api/profile")
	require.ErrorIs(t, err, domain.ErrSessionExpired)
	assert.Empty(t, f.notifier.Errors())
}

func TestAPIClient_TooManyRequestsHonorsRetryAfter(t *testing.T) {
	calls := 0
	f := newClientFixture(t, ClientConfig{}, nil, func(*http.Request) (*http.Response, error) {
		calls++
		if calls == 1 {
			resp := textResponse(http.StatusTooManyRequests, `{}`)
			resp.Header.Set("Retry-After", "7")
			return resp, nil
		}
		return textResponse(http.StatusOK, `{}`), nil
	})

	resp, err := f.client.Get(context.Background(), "/api/profile")
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Retries)
	assert.Equal(t, []time.Duration{7 * time.Second}, f.delays)
}

func TestAPIClient_TooManyRequestsExhaustsRetries(t *testing.T) {
	calls := 0
	f := newClientFixture(t, ClientConfig{}, nil, func(*http.Request) (*http.Response, error) {
		calls++
		resp := textResponse(http.StatusTooManyRequests, `{}`)
		resp.Header.Set("Retry-After", "2")
		return resp, nil
	})

	_, err := f.client.Get(context.Background(), "/api/profile")
	require.Error(t, err)
	assert.Equal(t, http.StatusTooManyRequests, domain.ErrorStatus(err))

	// One initial attempt plus three retries, each waiting the server-stated
	// interval, then the throttle message surfaces.
	assert.Equal(t, 4, calls)
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second, 2 * time.Second}, f.delays)
	assert.Equal(t, []string{"Too many requests. Please wait a moment and try again."}, f.notifier.Errors())
}

func TestAPIClient_ServerErrorRetriesThenSucceeds(t *testing.T) {
	calls := 0
	f := newClientFixture(t, ClientConfig{RetryBaseDelay: time.Second}, nil, func(*http.Request) (*http.Response, error) {
		calls++
		if calls <= 2 {
			return textResponse(http.StatusBadGateway, ``), nil
		}
		return textResponse(http.StatusOK, `{}`), nil
	})

	resp, err := f.client.Get(context.Background(), "/api/profile")
	require.NoError(t, err)
	assert.Equal(t, 2, resp.Retries)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, f.delays)
}

func TestAPIClient_ServerErrorExhaustsRetries(t *testing.T) {
	f := newClientFixture(t, ClientConfig{}, nil, func(*http.Request) (*http.Response, error) {
		return textResponse(http.StatusInternalServerError, ``), nil
	})

	_, err := f.client.Get(context.Background(), "/api/profile")
	require.Error(t, err)
	assert.Equal(t, http.StatusInternalServerError, domain.ErrorStatus(err))
	assert.Equal(t, []string{"Server error. Please try again later."}, f.notifier.Errors())
}

func TestAPIClient_ForbiddenNeverRetries(t *testing.T) {
	calls := 0
	f := newClientFixture(t, ClientConfig{}, nil, func(*http.Request) (*http.Response, error) {
		calls++
		return textResponse(http.StatusForbidden, `{}`), nil
	})

	_, err := f.client.Get(context.Background(), "/api/profile")
	require.Error(t, err)
	assert.Equal(t, http.StatusForbidden, domain.ErrorStatus(err))
	assert.Equal(t, 1, calls)
	assert.Equal(t, []string{"You don't have permission to perform this action."}, f.notifier.Errors())
}

func TestAPIClient_NotFoundNotificationByMode(t *testing.T) {
	notFound := func(*http.Request) (*http.Response, error) {
		return textResponse(http.StatusNotFound, `{}`), nil
	}

	dev := newClientFixture(t, ClientConfig{Mode: ModeDevelopment}, nil, notFound)
	_, err := dev.client.Get(context.Background(), "/api/profile")
	require.Error(t, err)
	assert.Equal(t, []string{"Resource not found."}, dev.notifier.Errors())

	prod := newClientFixture(t, ClientConfig{
		BaseURL: "https://api.example.com",
		Mode:    ModeProduction,
	}, nil, notFound)
	_, err = prod.client.Get(context.Background(), "/api/profile")
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, domain.ErrorStatus(err))
	assert.Empty(t, prod.notifier.Errors())
}

func TestAPIClient_ClientErrorSurfacesServerMessage(t *testing.T) {
	f := newClientFixture(t, ClientConfig{}, nil, func(*http.Request) (*http.Response, error) {
		return textResponse(http.StatusUnprocessableEntity, `{"message":"Invalid data"}`), nil
	})

	_, err := f.client.Post(context.Background(), "/api/profile", map[string]string{})
	require.Error(t, err)
	assert.Equal(t, "Invalid data", domain.ErrorMessage(err))
	assert.Equal(t, []string{"Invalid data"}, f.notifier.Errors())
}

func TestAPIClient_ClientErrorWithoutMessageUsesFallback(t *testing.T) {
	f := newClientFixture(t, ClientConfig{}, nil, func(*http.Request) (*http.Response, error) {
		return textResponse(http.StatusBadRequest, ``), nil
	})

	_, err := f.client.Get(context.Background(), "/api/profile")
	require.Error(t, err)
	assert.Equal(t, []string{"An error occurred"}, f.notifier.Errors())
}

func TestAPIClient_RejectsInsecureBaseURLInProduction(t *testing.T) {
	calls := 0
	f := newClientFixture(t, ClientConfig{
		BaseURL:      "http://api.example.com",
		Mode:         ModeProduction,
		EnforceHTTPS: true,
	}, nil, func(*http.Request) (*http.Response, error) {
		calls++
		return textResponse(http.StatusOK, `{}`), nil
	})

	_, err := f.client.Get(context.Background(), "/api/profile")
	require.ErrorIs(t, err, domain.ErrInsecureConnection)
	assert.Equal(t, 0, calls)
}

func TestAPIClient_MalformedTokenIsEvicted(t *testing.T) {
	var authHeader string
	f := newClientFixture(t, ClientConfig{Mode: ModeDevelopment}, nil, func(req *http.Request) (*http.Response, error) {
		authHeader = req.Header.Get("Authorization")
		return textResponse(http.StatusOK, `{}`), nil
	})
	f.tokens.SetToken("not-a-token")
	f.tokens.SetRefreshToken("refresh-1")

	_, err := f.client.Get(context.Background(), "/api/profile")
	require.NoError(t, err)

	// The request proceeds unauthenticated and the bad token is dropped;
	// the refresh token is untouched.
	assert.Empty(t, authHeader)
	assert.Empty(t, f.tokens.Token())
	assert.Equal(t, "refresh-1", f.tokens.RefreshToken())
}

func TestAPIClient_RequestCarriesClientHeaders(t *testing.T) {
	var captured *http.Request
	var bodyBytes []byte
	f := newClientFixture(t, ClientConfig{}, nil, func(req *http.Request) (*http.Response, error) {
		captured = req
		bodyBytes, _ = io.ReadAll(req.Body)
		return textResponse(http.StatusOK, `{}`), nil
	})
	f.tokens.SetToken("token-1")

	_, err := f.client.Do(context.Background(), http.MethodPost, "/api/posts?draft=1",
		map[string]string{"body": "hello"}, WithHeader("X-Trace", "abc"))
	require.NoError(t, err)

	assert.Equal(t, "/api/posts", captured.URL.Path)
	assert.Equal(t, "draft=1", captured.URL.RawQuery)
	assert.Equal(t, "Bearer token-1", captured.Header.Get("Authorization"))
	assert.Equal(t, "hausofbasquiat-web", captured.Header.Get("X-Client"))
	assert.Equal(t, "application/json", captured.Header.Get("Content-Type"))
	assert.Equal(t, "abc", captured.Header.Get("X-Trace"))
	assert.NotEmpty(t, captured.Header.Get("X-Request-ID"))
	assert.True(t, bytes.Contains(bodyBytes, []byte(`"hello"`)))
}

func TestAPIClient_NoTokenProceedsUnauthenticated(t *testing.T) {
	var authHeader string
	f := newClientFixture(t, ClientConfig{}, nil, func(req *http.Request) (*http.Response, error) {
		authHeader = req.Header.Get("Authorization")
		return textResponse(http.StatusOK, `{}`), nil
	})

	resp, err := f.client.Get(context.Background(), "/api/profile")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, authHeader)
}
