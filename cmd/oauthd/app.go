package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/amoylab/oauthd/internal/auth/cleanup"
	"github.com/amoylab/oauthd/internal/auth/client"
	"github.com/amoylab/oauthd/internal/auth/code"
	"github.com/amoylab/oauthd/internal/auth/session"
	"github.com/amoylab/oauthd/internal/auth/storage"
	"github.com/amoylab/oauthd/internal/auth/token"
	"github.com/amoylab/oauthd/internal/common/cnst"
	"github.com/amoylab/oauthd/internal/common/config"
	"github.com/amoylab/oauthd/internal/common/redisx"
	"github.com/amoylab/oauthd/internal/i18n"
	"github.com/amoylab/oauthd/internal/ratelimit"
	"github.com/amoylab/oauthd/internal/server"
	"github.com/amoylab/oauthd/pkg/metrics"
	"github.com/amoylab/oauthd/pkg/utils"
)

// app holds the wired components shared by serve and the admin commands
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	store     storage.Store
	clients   *client.Registry
	tokens    *token.Manager
	codes     *code.Issuer
	sessions  *session.Service
	metrics   *metrics.Metrics
	scheduler *cleanup.Scheduler
	closers   []func() error
}

// newApp opens the store, seeds it and builds the OAuth components
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}
	if cfg.Metrics.Enabled {
		a.metrics = metrics.New(cfg.Metrics)
	}

	store, err := storage.NewStore(ctx, logger, &cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	a.store = store
	a.closers = append(a.closers, store.Close)

	if a.clients, err = client.NewRegistry(logger, store); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.clients.Seed(ctx, cfg.OAuth.Clients); err != nil {
		a.Close()
		return nil, err
	}
	if err := storage.SeedUsers(ctx, store, cfg.OAuth.Users); err != nil {
		a.Close()
		return nil, err
	}

	a.tokens = token.NewManager(logger, store, token.Config{
		AccessTokenTTL: cfg.OAuth.AccessTokenTTL,
		RefreshWindow:  cfg.OAuth.RefreshWindow,
		EarlyRefresh:   cfg.OAuth.EarlyRefresh,
		BatchSize:      cfg.Cleanup.BatchSize,
	}, token.WithMetrics(a.metrics))
	a.codes = code.NewIssuer(logger, store, a.clients, a.tokens, code.Config{
		TTL:           cfg.OAuth.CodeTTL,
		RevokeOnReuse: cfg.OAuth.ShouldRevokeOnCodeReuse(),
	}, code.WithMetrics(a.metrics))
	a.scheduler = cleanup.NewScheduler(logger, a.tokens, cfg.Cleanup.Interval, a.metrics)

	secret := cfg.Session.SecretKey
	if secret == "" {
		// sessions minted by an earlier process stop verifying after a restart
		logger.Warn("session.secret_key is empty, using a random key for this process")
		if secret, err = utils.RandomToken(32); err != nil {
			a.Close()
			return nil, err
		}
	}
	a.sessions, err = session.NewService(session.Config{
		SecretKey: secret,
		Issuer:    cfg.Server.Issuer,
		Duration:  cfg.Session.Duration,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize sessions: %w", err)
	}
	return a, nil
}

// newLimiter builds the rate limiter over the configured counter store
func (a *app) newLimiter(ctx context.Context) (*ratelimit.Limiter, error) {
	switch a.cfg.RateLimit.Store {
	case cnst.StorageRedis:
		rc, err := redisx.NewClient(ctx, a.cfg.RateLimit.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to connect rate limit redis: %w", err)
		}
		rs := ratelimit.NewRedisStore(rc, a.cfg.RateLimit.Redis.Prefix)
		a.closers = append(a.closers, rs.Close)
		return ratelimit.New(rs), nil
	default:
		return ratelimit.New(ratelimit.NewMemoryStore(a.cfg.RateLimit.SweepInterval)), nil
	}
}

// newServer wires the HTTP surface
func (a *app) newServer(ctx context.Context) (*server.Server, error) {
	deps := server.Deps{
		Config:   a.cfg,
		Clients:  a.clients,
		Codes:    a.codes,
		Tokens:   a.tokens,
		Sessions: a.sessions,
		Metrics:  a.metrics,
	}

	tr, err := i18n.New(a.cfg.I18n.DefaultLang, a.cfg.I18n.Path)
	if err != nil {
		return nil, err
	}
	deps.I18n = tr

	if a.cfg.RateLimit.IsEnabled() {
		if deps.Limiter, err = a.newLimiter(ctx); err != nil {
			return nil, err
		}
	}
	if a.cfg.Cleanup.Mode == cnst.CleanupModeSampled {
		deps.Sampler = cleanup.NewSampler(a.scheduler, a.cfg.Cleanup.SampleRate)
	}
	return server.New(ctx, a.logger, deps)
}

// Close releases the store and any extra connections
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
