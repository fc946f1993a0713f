package storage

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amoylab/oauthd/internal/common/errorx"
)

// runStoreSuite exercises the behaviour every Store backend must share
func runStoreSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("clients", func(t *testing.T) { testClients(t, newStore(t)) })
	t.Run("users", func(t *testing.T) { testUsers(t, newStore(t)) })
	t.Run("authorization codes", func(t *testing.T) { testCodes(t, newStore(t)) })
	t.Run("concurrent consume", func(t *testing.T) { testConcurrentConsume(t, newStore(t)) })
	t.Run("tokens", func(t *testing.T) { testTokens(t, newStore(t)) })
	t.Run("bulk revoke", func(t *testing.T) { testBulkRevoke(t, newStore(t)) })
	t.Run("expired cleanup", func(t *testing.T) { testExpiredCleanup(t, newStore(t)) })
}

func strPtr(s string) *string { return &s }

func testClients(t *testing.T, s Store) {
	ctx := context.Background()

	c := &Client{
		ID:            "c1",
		SecretHash:    "$2a$10$hash",
		Name:          "Demo",
		RedirectURIs:  []string{"https://app/cb"},
		AllowedScopes: []string{"read", "write"},
	}
	require.NoError(t, s.CreateClient(ctx, c))
	assert.False(t, c.CreatedAt.IsZero())
	assert.ErrorIs(t, s.CreateClient(ctx, &Client{ID: "c1", SecretHash: "x"}), errorx.ErrClientAlreadyExists)

	got, err := s.GetClient(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "Demo", got.Name)
	assert.Equal(t, "$2a$10$hash", got.SecretHash)
	assert.Equal(t, []string{"https://app/cb"}, got.RedirectURIs)
	assert.Equal(t, []string{"read", "write"}, got.AllowedScopes)

	_, err = s.GetClient(ctx, "nope")
	assert.ErrorIs(t, err, errorx.ErrClientNotFound)
}

func testUsers(t *testing.T, s Store) {
	ctx := context.Background()

	require.NoError(t, s.CreateUser(ctx, &User{ID: "u1", Email: "u1@example.com", Name: "One"}))
	require.NoError(t, s.CreateUser(ctx, &User{ID: "u2", Email: "u2@example.com", AvatarURL: strPtr("https://img/u2.png")}))

	u1, err := s.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1@example.com", u1.Email)
	assert.Nil(t, u1.AvatarURL)

	u2, err := s.GetUser(ctx, "u2")
	require.NoError(t, err)
	require.NotNil(t, u2.AvatarURL)
	assert.Equal(t, "https://img/u2.png", *u2.AvatarURL)

	_, err = s.GetUser(ctx, "ghost")
	assert.ErrorIs(t, err, errorx.ErrUserNotFound)
}

func newCode(code string, expiresAt time.Time) *AuthorizationCode {
	return &AuthorizationCode{
		Code:        code,
		ClientID:    "c1",
		UserID:      "u1",
		RedirectURI: "https://app/cb",
		Scope:       "read",
		State:       strPtr("9b2f0c1e-3f44-4d2a-8f0e-0d5c7a8e1b11"),
		ExpiresAt:   expiresAt,
	}
}

func testCodes(t *testing.T, s Store) {
	ctx := context.Background()
	now := time.Now()

	c := newCode("k1", now.Add(10*time.Minute))
	require.NoError(t, s.SaveAuthorizationCode(ctx, c))
	assert.NotEmpty(t, c.ID)

	got, err := s.GetAuthorizationCode(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, "c1", got.ClientID)
	assert.True(t, got.HasState())
	assert.False(t, got.Consumed)
	assert.WithinDuration(t, c.ExpiresAt, got.ExpiresAt, time.Millisecond)

	consumed, err := s.ConsumeAuthorizationCode(ctx, "k1", now)
	require.NoError(t, err)
	assert.True(t, consumed.Consumed)
	assert.Equal(t, "u1", consumed.UserID)

	again, err := s.ConsumeAuthorizationCode(ctx, "k1", now)
	assert.ErrorIs(t, err, errorx.ErrAuthorizationCodeConsumed)
	require.NotNil(t, again)
	assert.Equal(t, "c1", again.ClientID)

	got, err = s.GetAuthorizationCode(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, got.Consumed)

	// a code is dead at exactly expires_at
	require.NoError(t, s.SaveAuthorizationCode(ctx, newCode("k2", now.Add(time.Minute))))
	_, err = s.ConsumeAuthorizationCode(ctx, "k2", now.Add(time.Minute))
	assert.ErrorIs(t, err, errorx.ErrAuthorizationCodeExpired)
	got, err = s.GetAuthorizationCode(ctx, "k2")
	require.NoError(t, err)
	assert.False(t, got.Consumed)

	_, err = s.ConsumeAuthorizationCode(ctx, "missing", now)
	assert.ErrorIs(t, err, errorx.ErrAuthorizationCodeNotFound)

	require.NoError(t, s.DeleteAuthorizationCode(ctx, "k1"))
	require.NoError(t, s.DeleteAuthorizationCode(ctx, "k1"))
	_, err = s.GetAuthorizationCode(ctx, "k1")
	assert.ErrorIs(t, err, errorx.ErrAuthorizationCodeNotFound)
}

func testConcurrentConsume(t *testing.T, s Store) {
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, s.SaveAuthorizationCode(ctx, newCode("race", now.Add(time.Minute))))

	var wins, consumed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.ConsumeAuthorizationCode(ctx, "race", now)
			switch {
			case err == nil:
				wins.Add(1)
			case assert.ErrorIs(t, err, errorx.ErrAuthorizationCodeConsumed):
				consumed.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(15), consumed.Load())
}

func newToken(access, userID, clientID string, expiresAt time.Time) *Token {
	return &Token{
		AccessToken:  access,
		RefreshToken: strPtr("r-" + access),
		UserID:       userID,
		ClientID:     clientID,
		Scope:        "read",
		ExpiresAt:    expiresAt,
	}
}

func testTokens(t *testing.T, s Store) {
	ctx := context.Background()
	now := time.Now()

	tok := newToken("a1", "u1", "c1", now.Add(time.Hour))
	require.NoError(t, s.SaveToken(ctx, tok))
	assert.NotEmpty(t, tok.ID)
	assert.False(t, tok.CreatedAt.IsZero())

	got, err := s.GetToken(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UserID)
	assert.True(t, got.HasRefreshToken())
	assert.Equal(t, "r-a1", *got.RefreshToken)

	later := now.Add(2 * time.Hour)
	require.NoError(t, s.UpdateTokenExpiry(ctx, "a1", later))
	got, err = s.GetToken(ctx, "a1")
	require.NoError(t, err)
	assert.WithinDuration(t, later, got.ExpiresAt, time.Millisecond)

	assert.ErrorIs(t, s.UpdateTokenExpiry(ctx, "ghost", later), errorx.ErrTokenNotFound)

	require.NoError(t, s.DeleteToken(ctx, "a1"))
	require.NoError(t, s.DeleteToken(ctx, "a1"))
	_, err = s.GetToken(ctx, "a1")
	assert.ErrorIs(t, err, errorx.ErrTokenNotFound)

	// extending a revoked token must not bring it back
	assert.ErrorIs(t, s.UpdateTokenExpiry(ctx, "a1", later), errorx.ErrTokenNotFound)
	_, err = s.GetToken(ctx, "a1")
	assert.ErrorIs(t, err, errorx.ErrTokenNotFound)
}

func testBulkRevoke(t *testing.T, s Store) {
	ctx := context.Background()
	exp := time.Now().Add(time.Hour)

	for _, tok := range []*Token{
		newToken("t1", "u1", "c1", exp),
		newToken("t2", "u1", "c1", exp),
		newToken("t3", "u1", "c2", exp),
		newToken("t4", "u2", "c1", exp),
		newToken("t5", "u2", "c2", exp),
	} {
		require.NoError(t, s.SaveToken(ctx, tok))
	}

	n, err := s.DeleteTokensByUserAndClient(ctx, "u1", "c1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	_, err = s.GetToken(ctx, "t3")
	assert.NoError(t, err)

	n, err = s.DeleteTokensByUserID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.DeleteTokensByClientID(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.DeleteTokensByUserID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, err = s.GetToken(ctx, "t5")
	assert.NoError(t, err)
	for _, gone := range []string{"t1", "t2", "t3", "t4"} {
		_, err = s.GetToken(ctx, gone)
		assert.ErrorIs(t, err, errorx.ErrTokenNotFound, gone)
	}
}

func testExpiredCleanup(t *testing.T, s Store) {
	ctx := context.Background()
	base := time.Now()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.SaveToken(ctx, newToken(fmt.Sprintf("old%d", i), "u1", "c1", base.Add(-time.Duration(i+1)*time.Minute))))
		require.NoError(t, s.SaveAuthorizationCode(ctx, newCode(fmt.Sprintf("oldcode%d", i), base.Add(-time.Duration(i+1)*time.Minute))))
	}
	require.NoError(t, s.SaveToken(ctx, newToken("live1", "u1", "c1", base.Add(time.Hour))))
	require.NoError(t, s.SaveToken(ctx, newToken("edge", "u1", "c1", base)))
	require.NoError(t, s.SaveAuthorizationCode(ctx, newCode("livecode", base.Add(time.Hour))))

	n, err := s.DeleteExpiredTokens(ctx, base, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	n, err = s.DeleteExpiredTokens(ctx, base, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	n, err = s.DeleteExpiredTokens(ctx, base, 3)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, err = s.GetToken(ctx, "live1")
	assert.NoError(t, err)
	// expires_at == before is not strictly older, it stays
	_, err = s.GetToken(ctx, "edge")
	assert.NoError(t, err)

	n, err = s.DeleteExpiredCodes(ctx, base, 100)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	n, err = s.DeleteExpiredCodes(ctx, base, 100)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	_, err = s.GetAuthorizationCode(ctx, "livecode")
	assert.NoError(t, err)
}
