package storage

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/amoylab/oauthd/internal/common/config"
)

func TestNewStore(t *testing.T) {
	logger := zap.NewNop()
	ctx := context.Background()

	t.Run("creates memory storage", func(t *testing.T) {
		store, err := NewStore(ctx, logger, &config.StorageConfig{Type: "memory"})
		require.NoError(t, err)
		_, ok := store.(*MemoryStorage)
		assert.True(t, ok)
	})

	t.Run("creates redis storage", func(t *testing.T) {
		mr := miniredis.RunT(t)
		store, err := NewStore(ctx, logger, &config.StorageConfig{
			Type:  "redis",
			Redis: config.RedisConfig{ClusterType: "single", Addr: mr.Addr(), Prefix: "oauth"},
		})
		require.NoError(t, err)
		defer store.Close()
		_, ok := store.(*RedisStorage)
		assert.True(t, ok)
	})

	t.Run("creates db storage", func(t *testing.T) {
		store, err := NewStore(ctx, logger, &config.StorageConfig{
			Type:     "db",
			Database: config.DatabaseConfig{Type: "sqlite", DBName: ":memory:"},
		})
		require.NoError(t, err)
		defer store.Close()
		_, ok := store.(*DBStore)
		assert.True(t, ok)
	})

	t.Run("returns error for unsupported type", func(t *testing.T) {
		store, err := NewStore(ctx, logger, &config.StorageConfig{Type: "unsupported"})
		assert.Nil(t, store)
		assert.EqualError(t, err, "unsupported auth storage type: unsupported")
	})
}

func TestSeedUsers(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage()

	require.NoError(t, SeedUsers(ctx, s, []config.UserSeed{
		{ID: "u1", Email: "u1@example.com", Name: "One", AvatarURL: "https://img/u1.png"},
		{ID: "u2", Email: "u2@example.com"},
	}))

	u1, err := s.GetUser(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, u1.AvatarURL)
	assert.Equal(t, "https://img/u1.png", *u1.AvatarURL)

	u2, err := s.GetUser(ctx, "u2")
	require.NoError(t, err)
	assert.Nil(t, u2.AvatarURL)
}
