package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/atomik-trading/broker-link/pkg/websocket/security"
)

type tokenRow struct {
	Broker       string       `db:"broker"`
	AccountID    string       `db:"account_id"`
	AccessToken  string       `db:"access_token"`
	RefreshToken string       `db:"refresh_token"`
	ExpiresAt    sql.NullTime `db:"expires_at"`
	UpdatedAt    time.Time    `db:"updated_at"`
}

// accountTokens is a TokenSource scoped to one broker account.
type accountTokens struct {
	store     *Store
	broker    string
	accountID string
}

// Tokens returns a token source backed by this store for the given account.
func (s *Store) Tokens(broker, accountID string) security.TokenSource {
	return &accountTokens{store: s, broker: broker, accountID: accountID}
}

func (at *accountTokens) row(ctx context.Context) (*tokenRow, error) {
	var row tokenRow
	err := at.store.db.GetContext(ctx, &row,
		`SELECT broker, account_id, access_token, refresh_token, expires_at, updated_at
		 FROM broker_tokens WHERE broker = ? AND account_id = ?`,
		at.broker, at.accountID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, security.ErrNoToken
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load tokens: %w", err)
	}
	return &row, nil
}

func (at *accountTokens) AccessToken(ctx context.Context) (string, error) {
	row, err := at.row(ctx)
	if err != nil {
		return "", err
	}
	return row.AccessToken, nil
}

func (at *accountTokens) RefreshToken(ctx context.Context) (string, error) {
	row, err := at.row(ctx)
	if err != nil {
		return "", err
	}
	return row.RefreshToken, nil
}

func (at *accountTokens) Expiry(ctx context.Context) (time.Time, error) {
	row, err := at.row(ctx)
	if err != nil {
		return time.Time{}, err
	}
	if !row.ExpiresAt.Valid {
		return time.Time{}, nil
	}
	return row.ExpiresAt.Time, nil
}

func (at *accountTokens) SetTokens(ctx context.Context, access, refresh string, expiry time.Time) error {
	_, err := at.store.db.ExecContext(ctx,
		`INSERT INTO broker_tokens (broker, account_id, access_token, refresh_token, expires_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (broker, account_id) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at`,
		at.broker, at.accountID, access, refresh, expiry, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to store tokens: %w", err)
	}
	return nil
}

func (at *accountTokens) Clear(ctx context.Context) error {
	_, err := at.store.db.ExecContext(ctx,
		`DELETE FROM broker_tokens WHERE broker = ? AND account_id = ?`,
		at.broker, at.accountID)
	if err != nil {
		return fmt.Errorf("failed to clear tokens: %w", err)
	}
	return nil
}
