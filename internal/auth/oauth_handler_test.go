package auth

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/parsascontentcorner/grokgate/internal/testutil"
)

type handlerFixture struct {
	handler *OAuthHandler
	store   *testutil.MemoryStore
	mock    *testutil.MockDiscordServer
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()

	client, mock := newMockedClient(t)
	store := testutil.NewMemoryStore()
	sessions := NewSessionManager(testutil.GenerateSigningKey(), time.Hour)
	handler := NewOAuthHandler(client, NewStateManager(store, 10), sessions, zap.NewNop())

	return &handlerFixture{handler: handler, store: store, mock: mock}
}

func stateFromURL(t *testing.T, raw string) string {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	state := u.Query().Get("state")
	require.NotEmpty(t, state)
	return state
}

func TestOAuthHandler_FullLogin(t *testing.T) {
	ctx := context.Background()
	f := newHandlerFixture(t)

	authURL, err := f.handler.BeginLogin(ctx, "/guilds/42")
	require.NoError(t, err)
	state := stateFromURL(t, authURL)

	result, err := f.handler.HandleCallback(ctx, testutil.MockValidCode, state)
	require.NoError(t, err)

	assert.Equal(t, "/guilds/42", result.RedirectTo)
	assert.Equal(t, testutil.MockUserID, result.Identity.DiscordUserID)
	assert.Equal(t, testutil.MockUsername, result.Identity.Username)

	claims, err := f.handler.Sessions().Parse(result.Token)
	require.NoError(t, err)
	assert.Equal(t, testutil.MockUserID, claims.Subject)

	// the state was consumed
	_, err = f.handler.HandleCallback(ctx, testutil.MockValidCode, state)
	assert.True(t, errors.Is(err, ErrLoginFailed))
}

func TestOAuthHandler_UnsafeRedirect(t *testing.T) {
	ctx := context.Background()
	f := newHandlerFixture(t)

	authURL, err := f.handler.BeginLogin(ctx, "https://evil.example")
	require.NoError(t, err)

	result, err := f.handler.HandleCallback(ctx, testutil.MockValidCode, stateFromURL(t, authURL))
	require.NoError(t, err)
	assert.Equal(t, "/", result.RedirectTo)
}

func TestOAuthHandler_Failures(t *testing.T) {
	ctx := context.Background()

	t.Run("invalid state", func(t *testing.T) {
		f := newHandlerFixture(t)
		_, err := f.handler.HandleCallback(ctx, testutil.MockValidCode, "forged")
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrLoginFailed))
		assert.Equal(t, 0, f.mock.TokenCalls())
	})

	t.Run("bad code", func(t *testing.T) {
		f := newHandlerFixture(t)
		authURL, err := f.handler.BeginLogin(ctx, "/")
		require.NoError(t, err)

		_, err = f.handler.HandleCallback(ctx, "error_code", stateFromURL(t, authURL))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "exchange")
		assert.Equal(t, 0, f.mock.UserInfoCalls())
	})

	t.Run("expired state", func(t *testing.T) {
		f := newHandlerFixture(t)
		authURL, err := f.handler.BeginLogin(ctx, "/")
		require.NoError(t, err)

		later := time.Now().Add(time.Hour)
		f.store.SetClock(func() time.Time { return later })

		_, err = f.handler.HandleCallback(ctx, testutil.MockValidCode, stateFromURL(t, authURL))
		assert.True(t, errors.Is(err, ErrLoginFailed))
	})
}
