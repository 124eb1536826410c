package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/sync/singleflight"

	"github.com/hausofbasquiat/gatekeeper/internal/core/domain"
)

// refreshGroup collapses concurrent refresh attempts into one in-flight
// call: the first 401 initiates the refresh, later ones wait for the same
// result instead of racing their own.
type refreshGroup = singleflight.Group

type refreshResponse struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken"`
}

// refreshTokens exchanges the stored refresh token for a new token pair and
// persists it. The call goes straight to the transport, outside the normal
// pipeline, so it can never recurse into another refresh.
func (c *APIClient) refreshTokens(ctx context.Context) (string, error) {
	token, err, _ := c.refresh.Do("refresh", func() (any, error) {
		refreshToken := c.tokens.RefreshToken()
		if refreshToken == "" {
			return nil, domain.ErrNoRefreshToken
		}

		payload, err := json.Marshal(map[string]string{"refreshToken": refreshToken})
		if err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.base.JoinPath(c.cfg.RefreshPath).String(), bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Client", clientHeader)

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("refresh request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			io.Copy(io.Discard, resp.Body)
			return nil, &domain.HTTPError{StatusCode: resp.StatusCode, ServerMessage: "token refresh rejected"}
		}

		var body refreshResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return nil, fmt.Errorf("decode refresh response: %w", err)
		}
		if body.Token == "" {
			return nil, fmt.Errorf("refresh response missing token")
		}

		c.tokens.SetToken(body.Token)
		if body.RefreshToken != "" {
			c.tokens.SetRefreshToken(body.RefreshToken)
		}
		return body.Token, nil
	})
	if err != nil {
		return "", err
	}
	return token.(string), nil
}
