package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atomik-trading/broker-link/pkg/websocket/security"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestTokensRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	expiry := time.Now().Add(time.Hour).UTC().Truncate(time.Second)

	tokens := store.Tokens("tradovate", "A1")
	require.NoError(t, tokens.SetTokens(ctx, "access", "refresh", expiry))

	access, err := tokens.AccessToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "access", access)

	refresh, err := tokens.RefreshToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "refresh", refresh)

	got, err := tokens.Expiry(ctx)
	require.NoError(t, err)
	assert.True(t, got.Equal(expiry), "expiry %v != %v", got, expiry)
}

func TestTokensScopedPerAccount(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Tokens("tradovate", "A1").SetTokens(ctx, "a1", "r1", time.Now()))
	require.NoError(t, store.Tokens("tradovate", "A2").SetTokens(ctx, "a2", "r2", time.Now()))

	access, err := store.Tokens("tradovate", "A1").AccessToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a1", access)

	access, err = store.Tokens("tradovate", "A2").AccessToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a2", access)
}

func TestMissingTokensReturnErrNoToken(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Tokens("tradovate", "ghost").AccessToken(context.Background())
	assert.ErrorIs(t, err, security.ErrNoToken)
}

func TestClearRemovesTokens(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tokens := store.Tokens("tradovate", "A1")
	require.NoError(t, tokens.SetTokens(ctx, "access", "refresh", time.Now()))
	require.NoError(t, tokens.Clear(ctx))

	_, err := tokens.AccessToken(ctx)
	assert.ErrorIs(t, err, security.ErrNoToken)
}

func TestSetTokensOverwrites(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tokens := store.Tokens("tradovate", "A1")
	require.NoError(t, tokens.SetTokens(ctx, "old", "old-r", time.Now()))
	require.NoError(t, tokens.SetTokens(ctx, "new", "new-r", time.Now()))

	access, err := tokens.AccessToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "new", access)
}

func TestSettingsRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	type uiSettings struct {
		Theme   string   `json:"theme"`
		Symbols []string `json:"symbols"`
	}

	in := uiSettings{Theme: "dark", Symbols: []string{"ES", "NQ"}}
	require.NoError(t, store.PutSetting(ctx, "ui", in))

	var out uiSettings
	require.NoError(t, store.GetSetting(ctx, "ui", &out))
	assert.Equal(t, in, out)

	require.NoError(t, store.DeleteSetting(ctx, "ui"))
	err := store.GetSetting(ctx, "ui", &out)
	assert.ErrorIs(t, err, ErrSettingNotFound)
}
