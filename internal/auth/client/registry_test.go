package client

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/amoylab/oauthd/internal/auth/storage"
	"github.com/amoylab/oauthd/internal/common/config"
	"github.com/amoylab/oauthd/internal/common/errorx"
)

type brokenStore struct {
	storage.Store
}

func (brokenStore) GetClient(context.Context, string) (*storage.Client, error) {
	return nil, errors.New("connection refused")
}

func newTestRegistry(t *testing.T) (*Registry, storage.Store) {
	t.Helper()
	store := storage.NewMemoryStorage()
	reg, err := NewRegistry(zap.NewNop(), store)
	require.NoError(t, err)
	require.NoError(t, reg.Seed(context.Background(), []config.ClientSeed{{
		ID:            "web",
		Name:          "Web App",
		Secret:        "s3cret",
		RedirectURIs:  []string{"https://app.example.com/cb"},
		AllowedScopes: []string{"read", "profile"},
	}}))
	return reg, store
}

func TestValidateClientCredentials(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	c, err := reg.ValidateClientCredentials(ctx, "web", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "Web App", c.Name)

	cases := []struct {
		name, id, secret string
	}{
		{"wrong secret", "web", "nope"},
		{"empty secret", "web", ""},
		{"unknown client", "ghost", "s3cret"},
		{"empty id", "", "s3cret"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, err := reg.ValidateClientCredentials(ctx, tc.id, tc.secret)
			assert.Nil(t, c)
			assert.ErrorIs(t, err, errorx.ErrInvalidClient)
		})
	}
}

func TestValidateClientCredentials_StoreFailure(t *testing.T) {
	reg, err := NewRegistry(zap.NewNop(), brokenStore{})
	require.NoError(t, err)

	_, err = reg.ValidateClientCredentials(context.Background(), "web", "s3cret")
	require.Error(t, err)
	assert.NotErrorIs(t, err, errorx.ErrInvalidClient)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestValidateRedirectURI(t *testing.T) {
	reg, _ := newTestRegistry(t)
	c, err := reg.GetClient(context.Background(), "web")
	require.NoError(t, err)

	assert.True(t, reg.ValidateRedirectURI(c, "https://app.example.com/cb"))
	for _, uri := range []string{
		"",
		"https://app.example.com/cb/",
		"https://app.example.com/cb?x=1",
		"https://app.example.com/cb/../evil",
		"https://APP.example.com/cb",
		"https://app.example.com.evil.io/cb",
	} {
		assert.False(t, reg.ValidateRedirectURI(c, uri), uri)
	}
	assert.False(t, reg.ValidateRedirectURI(nil, "https://app.example.com/cb"))
}

func TestValidateScopes(t *testing.T) {
	reg, _ := newTestRegistry(t)
	c, err := reg.GetClient(context.Background(), "web")
	require.NoError(t, err)

	assert.Empty(t, reg.ValidateScopes(c, []string{"read", "profile"}))
	assert.Empty(t, reg.ValidateScopes(c, nil))
	assert.Equal(t, []string{"write", "admin"}, reg.ValidateScopes(c, []string{"read", "write", "admin"}))
}

func TestParseScope(t *testing.T) {
	assert.Nil(t, ParseScope(""))
	assert.Nil(t, ParseScope("   "))
	assert.ElementsMatch(t, []string{"read", "profile"}, ParseScope(" read  profile read "))
}

func TestHashSecret(t *testing.T) {
	hash, err := HashSecret("pw")
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("pw")))

	_, err = HashSecret("")
	assert.Error(t, err)
}

func TestSeed_KeepsExistingRegistration(t *testing.T) {
	reg, store := newTestRegistry(t)
	ctx := context.Background()

	hash, err := HashSecret("other")
	require.NoError(t, err)
	require.NoError(t, reg.Seed(ctx, []config.ClientSeed{
		{ID: "web", Name: "Renamed", SecretHash: hash, RedirectURIs: []string{"https://x.io/cb"}},
		{ID: "cli", Name: "CLI", SecretHash: hash, RedirectURIs: []string{"http://localhost:9000/cb"}},
	}))

	web, err := store.GetClient(ctx, "web")
	require.NoError(t, err)
	assert.Equal(t, "Web App", web.Name)

	_, err = reg.ValidateClientCredentials(ctx, "cli", "other")
	assert.NoError(t, err)
}
