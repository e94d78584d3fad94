package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/atomik-trading/broker-link/pkg/websocket/base"
	"github.com/atomik-trading/broker-link/pkg/websocket/security"
	"go.uber.org/zap"
)

// ErrReauthenticationRequired means the refresh token was rejected and the
// stored credentials were cleared; the user must log in again.
var ErrReauthenticationRequired = errors.New("reauthentication required")

// APIError is a normalized backend error: HTTP status plus whatever
// human-readable detail the response body carried.
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("api error: status %d", e.StatusCode)
	}
	return fmt.Sprintf("api error: status %d: %s", e.StatusCode, e.Detail)
}

// Client talks to the trading backend over HTTPS. All authenticated calls
// attach a bearer token and retry exactly once after a 401 by forcing a
// token refresh.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger

	auth *security.AuthManager
}

// NewClient creates a backend REST client. Authenticated requests require a
// copy bound via WithAuth.
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// WithAuth returns a copy of the client bound to an auth manager. The base
// client only serves unauthenticated calls (it is the Refresher the auth
// manager itself uses); each account session gets its own bound copy.
func (c *Client) WithAuth(auth *security.AuthManager) *Client {
	clone := *c
	clone.auth = auth
	return &clone
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type refreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// ExchangeRefreshToken implements security.Refresher against the backend's
// refresh endpoint. It is the only unauthenticated call the client makes.
func (c *Client) ExchangeRefreshToken(ctx context.Context, refreshToken string) (string, string, time.Time, error) {
	body, err := json.Marshal(refreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return "", "", time.Time{}, fmt.Errorf("failed to encode refresh request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/auth/refresh", bytes.NewReader(body))
	if err != nil {
		return "", "", time.Time{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", "", time.Time{}, fmt.Errorf("refresh request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", "", time.Time{}, fmt.Errorf("failed to read refresh response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", "", time.Time{}, normalizeError(resp.StatusCode, raw)
	}

	var tokens refreshResponse
	if err := json.Unmarshal(raw, &tokens); err != nil {
		return "", "", time.Time{}, fmt.Errorf("failed to decode refresh response: %w", err)
	}

	expiry := time.Now().Add(time.Duration(tokens.ExpiresIn) * time.Second)
	return tokens.AccessToken, tokens.RefreshToken, expiry, nil
}

// GetPositions fetches the authoritative open positions for an account.
func (c *Client) GetPositions(ctx context.Context, broker, accountID string) ([]base.PositionUpdate, error) {
	var positions []base.PositionUpdate
	path := fmt.Sprintf("/api/v1/brokers/%s/accounts/%s/positions", broker, accountID)
	if err := c.getJSON(ctx, path, &positions); err != nil {
		return nil, err
	}
	return positions, nil
}

// GetOrders fetches the account's working orders.
func (c *Client) GetOrders(ctx context.Context, broker, accountID string) ([]base.OrderUpdate, error) {
	var orders []base.OrderUpdate
	path := fmt.Sprintf("/api/v1/brokers/%s/accounts/%s/orders", broker, accountID)
	if err := c.getJSON(ctx, path, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// GetAccount fetches the account's balance summary.
func (c *Client) GetAccount(ctx context.Context, broker, accountID string) (*base.AccountUpdate, error) {
	var account base.AccountUpdate
	path := fmt.Sprintf("/api/v1/brokers/%s/accounts/%s/summary", broker, accountID)
	if err := c.getJSON(ctx, path, &account); err != nil {
		return nil, err
	}
	return &account, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	raw, err := c.doAuthenticated(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", path, err)
	}
	return nil
}

// doAuthenticated performs a bearer-authenticated request. A 401 triggers a
// single forced refresh and one retry; a second 401 is returned to the caller.
func (c *Client) doAuthenticated(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	raw, status, err := c.doOnce(ctx, method, path, body)
	if err != nil {
		return nil, err
	}
	if status == http.StatusUnauthorized {
		c.logger.Info("received 401, refreshing token and retrying", zap.String("path", path))
		if err := c.auth.ForceRefresh(ctx); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrReauthenticationRequired, err)
		}
		raw, status, err = c.doOnce(ctx, method, path, body)
		if err != nil {
			return nil, err
		}
	}
	if status < 200 || status >= 300 {
		return nil, normalizeError(status, raw)
	}
	return raw, nil
}

func (c *Client) doOnce(ctx context.Context, method, path string, body []byte) ([]byte, int, error) {
	token, err := c.auth.Token(ctx)
	if err != nil {
		return nil, 0, err
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read response from %s: %w", path, err)
	}
	return raw, resp.StatusCode, nil
}

// normalizeError extracts the backend's detail or message field so callers
// see one error shape regardless of which service produced the failure.
func normalizeError(status int, body []byte) error {
	var payload struct {
		Detail  string `json:"detail"`
		Message string `json:"message"`
	}
	detail := ""
	if err := json.Unmarshal(body, &payload); err == nil {
		detail = payload.Detail
		if detail == "" {
			detail = payload.Message
		}
	}
	return &APIError{StatusCode: status, Detail: detail}
}
