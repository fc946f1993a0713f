package storage

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/amoylab/oauthd/internal/common/cnst"
	"github.com/amoylab/oauthd/internal/common/config"
	"github.com/amoylab/oauthd/internal/common/redisx"
)

// NewStore creates a new auth store based on configuration
func NewStore(ctx context.Context, logger *zap.Logger, cfg *config.StorageConfig) (Store, error) {
	logger.Info("Initializing auth storage", zap.String("type", cfg.Type))
	switch cfg.Type {
	case cnst.StorageMemory:
		return NewMemoryStorage(), nil
	case cnst.StorageRedis:
		client, err := redisx.NewClient(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		return NewRedisStorage(logger, client, cfg.Redis.Prefix), nil
	case cnst.StorageDB:
		return NewDBStore(logger, DatabaseType(cfg.Database.Type), cfg.Database.GetDSN())
	default:
		return nil, fmt.Errorf("unsupported auth storage type: %s", cfg.Type)
	}
}

// SeedUsers writes the configured users, replacing existing records
func SeedUsers(ctx context.Context, s Store, users []config.UserSeed) error {
	for _, u := range users {
		user := &User{ID: u.ID, Email: u.Email, Name: u.Name}
		if u.AvatarURL != "" {
			avatar := u.AvatarURL
			user.AvatarURL = &avatar
		}
		if err := s.CreateUser(ctx, user); err != nil {
			return fmt.Errorf("seed user %s: %w", u.ID, err)
		}
	}
	return nil
}
