package security

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrNoToken is returned when no access token is available and a refresh
// could not produce one.
var ErrNoToken = errors.New("no access token available")

// TokenSource supplies bearer tokens for WebSocket and REST authentication.
// Implementations are expected to persist tokens across restarts.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
	RefreshToken(ctx context.Context) (string, error)
	SetTokens(ctx context.Context, access, refresh string, expiry time.Time) error
	Expiry(ctx context.Context) (time.Time, error)
	Clear(ctx context.Context) error
}

// Refresher exchanges a refresh token for a new token pair. The REST client
// provides the implementation; this package only coordinates the calls.
type Refresher interface {
	ExchangeRefreshToken(ctx context.Context, refreshToken string) (access, refresh string, expiry time.Time, err error)
}

// AuthManager hands out valid access tokens, refreshing behind a mutex so
// concurrent connections trigger at most one exchange.
type AuthManager struct {
	source    TokenSource
	refresher Refresher
	logger    *zap.Logger

	refreshMu sync.Mutex
}

func NewAuthManager(source TokenSource, refresher Refresher, logger *zap.Logger) *AuthManager {
	return &AuthManager{source: source, refresher: refresher, logger: logger}
}

// Token returns an access token, refreshing first when the stored one is
// expired or expiring within a minute.
func (am *AuthManager) Token(ctx context.Context) (string, error) {
	expiry, err := am.source.Expiry(ctx)
	if err == nil && time.Until(expiry) < time.Minute {
		if err := am.ForceRefresh(ctx); err != nil {
			am.logger.Warn("token refresh failed, using stored token", zap.Error(err))
		}
	}

	token, err := am.source.AccessToken(ctx)
	if err != nil {
		return "", err
	}
	if token == "" {
		return "", ErrNoToken
	}
	return token, nil
}

// ForceRefresh exchanges the stored refresh token for a new pair. On a failed
// exchange the stored tokens are cleared and the caller must re-authenticate.
func (am *AuthManager) ForceRefresh(ctx context.Context) error {
	am.refreshMu.Lock()
	defer am.refreshMu.Unlock()

	refresh, err := am.source.RefreshToken(ctx)
	if err != nil {
		return err
	}
	if refresh == "" {
		return ErrNoToken
	}

	access, newRefresh, expiry, err := am.refresher.ExchangeRefreshToken(ctx, refresh)
	if err != nil {
		am.logger.Warn("refresh token exchange rejected, clearing stored tokens", zap.Error(err))
		if clearErr := am.source.Clear(ctx); clearErr != nil {
			am.logger.Error("failed to clear stored tokens", zap.Error(clearErr))
		}
		return err
	}

	return am.source.SetTokens(ctx, access, newRefresh, expiry)
}
