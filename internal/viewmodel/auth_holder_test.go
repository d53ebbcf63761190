package viewmodel

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/vbonduro/where2skate/internal/db"
	"github.com/vbonduro/where2skate/internal/identity"
	"github.com/vbonduro/where2skate/internal/store"
)

func newTestAuth(t *testing.T) *identity.Auth {
	t.Helper()
	d, err := db.OpenForTesting()
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	p, err := identity.NewProvider(store.NewUserStore(d), identity.ProviderConfig{
		Secret:     []byte("test-secret"),
		TokenTTL:   time.Hour,
		BcryptCost: bcrypt.MinCost,
	}, slog.Default())
	require.NoError(t, err)

	auth := identity.NewAuth(p, slog.Default())
	t.Cleanup(auth.Close)
	return auth
}

func TestAuthHolder_RegisterLoginLogout(t *testing.T) {
	auth := newTestAuth(t)
	h := NewAuthHolder(auth, slog.Default())
	defer h.Close()
	ctx := context.Background()

	assert.Nil(t, h.CurrentUser.Get())

	require.NoError(t, h.Register(ctx, "tony@example.com", "kickflip", "Tony"))
	user := h.CurrentUser.Get()
	require.NotNil(t, user)
	assert.Equal(t, "tony@example.com", user.Email)
	assert.Equal(t, "Tony", user.DisplayName)
	assert.Empty(t, h.Error.Get())
	assert.False(t, h.Loading.Get())

	h.Logout(ctx)
	assert.Nil(t, h.CurrentUser.Get())

	require.NoError(t, h.Login(ctx, "tony@example.com", "kickflip"))
	assert.NotNil(t, h.CurrentUser.Get())
}

func TestAuthHolder_LoginFailure(t *testing.T) {
	h := NewAuthHolder(newTestAuth(t), slog.Default())
	defer h.Close()

	err := h.Login(context.Background(), "nobody@example.com", "password")

	assert.ErrorIs(t, err, identity.ErrInvalidCredentials)
	assert.Equal(t, identity.ErrInvalidCredentials.Error(), h.Error.Get())
	assert.Nil(t, h.CurrentUser.Get())
	assert.False(t, h.Loading.Get())
}

func TestAuthHolder_SuccessClearsError(t *testing.T) {
	h := NewAuthHolder(newTestAuth(t), slog.Default())
	defer h.Close()
	ctx := context.Background()

	require.Error(t, h.Register(ctx, "bad-email", "password", ""))
	assert.NotEmpty(t, h.Error.Get())

	require.NoError(t, h.Register(ctx, "good@example.com", "password", ""))
	assert.Empty(t, h.Error.Get())
}

func TestAuthHolder_FollowsSessionChangesFromElsewhere(t *testing.T) {
	auth := newTestAuth(t)
	h := NewAuthHolder(auth, slog.Default())
	defer h.Close()
	ctx := context.Background()

	_, err := auth.SignUp(ctx, "elsewhere@example.com", "password", "")
	require.NoError(t, err)
	require.NotNil(t, h.CurrentUser.Get())

	auth.SignOut(ctx)
	assert.Nil(t, h.CurrentUser.Get())
}

func TestAuthHolder_Close(t *testing.T) {
	auth := newTestAuth(t)
	h := NewAuthHolder(auth, slog.Default())

	h.Close()
	h.Close()

	_, err := auth.SignUp(context.Background(), "late@example.com", "password", "")
	require.NoError(t, err)
	assert.Nil(t, h.CurrentUser.Get())
}
