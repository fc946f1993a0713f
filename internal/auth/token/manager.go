package token

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/amoylab/oauthd/internal/auth/storage"
	"github.com/amoylab/oauthd/internal/common/cnst"
	"github.com/amoylab/oauthd/internal/common/errorx"
	"github.com/amoylab/oauthd/pkg/metrics"
	"github.com/amoylab/oauthd/pkg/trace"
	"github.com/amoylab/oauthd/pkg/utils"
)

const tokenBytes = 32

// Config holds token lifetimes
type Config struct {
	AccessTokenTTL time.Duration
	// RefreshWindow is counted from the token's creation and is not moved
	// by ExtendToken
	RefreshWindow time.Duration
	// EarlyRefresh is how close to expiry a valid token is flagged for renewal
	EarlyRefresh time.Duration
	BatchSize    int
}

func (c *Config) applyDefaults() {
	if c.AccessTokenTTL <= 0 {
		c.AccessTokenTTL = time.Hour
	}
	if c.RefreshWindow <= 0 {
		c.RefreshWindow = 30 * 24 * time.Hour
	}
	if c.EarlyRefresh <= 0 {
		c.EarlyRefresh = 5 * time.Minute
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
}

// Info describes a stored token at a point in time
type Info struct {
	Token      *storage.Token
	IsExpired  bool
	ExpiresIn  time.Duration
	CanRefresh bool
}

// Validation is the outcome of ValidateTokenWithTiming. A negative outcome
// only ever carries Valid=false.
type Validation struct {
	Valid         bool
	User          *storage.User
	ExpiresIn     time.Duration
	ShouldRefresh bool
	ClientID      string
	Scope         string
}

// CleanupResult counts rows removed by one cleanup run
type CleanupResult struct {
	TokensDeleted int
	CodesDeleted  int
}

// Option configures a Manager
type Option func(*Manager)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithMetrics records issued, validated and revoked tokens
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// Manager issues, validates, extends and revokes access tokens
type Manager struct {
	logger  *zap.Logger
	store   storage.Store
	cfg     Config
	metrics *metrics.Metrics
	now     func() time.Time
	tracer  *trace.Builder
}

// NewManager creates a token manager on top of store
func NewManager(logger *zap.Logger, store storage.Store, cfg Config, opts ...Option) *Manager {
	cfg.applyDefaults()
	m := &Manager{
		logger: logger.Named("auth.token"),
		store:  store,
		cfg:    cfg,
		now:    time.Now,
		tracer: trace.Tracer(cnst.TraceAuth),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Config returns the effective configuration
func (m *Manager) Config() Config {
	return m.cfg
}

// CreateToken mints and persists a new access/refresh token pair. A ttl of
// zero uses the configured access token lifetime.
func (m *Manager) CreateToken(ctx context.Context, userID, clientID, scope string, ttl time.Duration) (*storage.Token, error) {
	sc := m.tracer.Start(ctx, cnst.SpanTokenCreate).WithAttrs(
		attribute.String(cnst.AttrClientID, clientID),
		attribute.String(cnst.AttrUserID, userID),
		attribute.String(cnst.AttrScope, scope),
	)
	defer sc.End()
	ctx = sc.Ctx

	if ttl <= 0 {
		ttl = m.cfg.AccessTokenTTL
	}

	access, err := utils.RandomToken(tokenBytes)
	if err != nil {
		sc.Fail(err)
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}
	refresh, err := utils.RandomToken(tokenBytes)
	if err != nil {
		sc.Fail(err)
		return nil, fmt.Errorf("failed to generate refresh token: %w", err)
	}

	now := m.now()
	tok := &storage.Token{
		ID:           uuid.NewString(),
		AccessToken:  access,
		RefreshToken: &refresh,
		UserID:       userID,
		ClientID:     clientID,
		Scope:        scope,
		CreatedAt:    now,
		ExpiresAt:    now.Add(ttl),
	}
	if err := m.store.SaveToken(ctx, tok); err != nil {
		sc.Fail(err)
		return nil, fmt.Errorf("failed to save token: %w", err)
	}

	m.metrics.TokenIssued(clientID)
	m.logger.Debug("issued token",
		zap.String("client_id", clientID),
		zap.String("user_id", userID),
		zap.Time("expires_at", tok.ExpiresAt))
	return tok, nil
}

// GetTokenInfo returns nil, nil when the token does not exist
func (m *Manager) GetTokenInfo(ctx context.Context, accessToken string) (*Info, error) {
	tok, err := m.store.GetToken(ctx, accessToken)
	if err != nil {
		if errors.Is(err, errorx.ErrTokenNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load token: %w", err)
	}
	return m.describe(tok, m.now()), nil
}

func (m *Manager) describe(tok *storage.Token, now time.Time) *Info {
	expiresIn := tok.ExpiresAt.Sub(now)
	if expiresIn < 0 {
		expiresIn = 0
	}
	return &Info{
		Token:      tok,
		IsExpired:  tok.IsExpired(now),
		ExpiresIn:  expiresIn,
		CanRefresh: tok.HasRefreshToken() && now.Before(tok.CreatedAt.Add(m.cfg.RefreshWindow)),
	}
}

// ValidateTokenWithTiming checks an access token and loads its owner. Not
// found, expired and orphaned tokens all yield Valid=false after the same
// sequence of lookups. Only store failures return an error.
func (m *Manager) ValidateTokenWithTiming(ctx context.Context, accessToken string) (*Validation, error) {
	sc := m.tracer.Start(ctx, cnst.SpanTokenValidate)
	defer sc.End()
	ctx = sc.Ctx

	info, err := m.GetTokenInfo(ctx, accessToken)
	if err != nil {
		sc.Fail(err)
		return nil, err
	}

	// compare and look up a user on every path
	stored, userID := "", ""
	if info != nil {
		stored, userID = info.Token.AccessToken, info.Token.UserID
	}
	match := subtle.ConstantTimeCompare([]byte(stored), []byte(accessToken)) == 1

	user, err := m.store.GetUser(ctx, userID)
	if err != nil && !errors.Is(err, errorx.ErrUserNotFound) {
		sc.Fail(err)
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	if info == nil || !match || info.IsExpired || user == nil {
		m.metrics.TokenValidation(false)
		return &Validation{Valid: false}, nil
	}

	m.metrics.TokenValidation(true)
	sc.WithAttrs(attribute.String(cnst.AttrClientID, info.Token.ClientID))
	return &Validation{
		Valid:         true,
		User:          user,
		ExpiresIn:     info.ExpiresIn,
		ShouldRefresh: info.ExpiresIn < m.cfg.EarlyRefresh && info.CanRefresh,
		ClientID:      info.Token.ClientID,
		Scope:         info.Token.Scope,
	}, nil
}

// ExtendToken pushes expires_at back by d. It returns nil, nil for a token
// that does not exist or has already expired.
func (m *Manager) ExtendToken(ctx context.Context, accessToken string, d time.Duration) (*storage.Token, error) {
	if d <= 0 {
		d = time.Hour
	}
	info, err := m.GetTokenInfo(ctx, accessToken)
	if err != nil || info == nil || info.IsExpired {
		return nil, err
	}

	tok := info.Token
	tok.ExpiresAt = tok.ExpiresAt.Add(d)
	if err := m.store.UpdateTokenExpiry(ctx, accessToken, tok.ExpiresAt); err != nil {
		if errors.Is(err, errorx.ErrTokenNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to extend token: %w", err)
	}
	m.logger.Debug("extended token", zap.String("client_id", tok.ClientID), zap.Time("expires_at", tok.ExpiresAt))
	return tok, nil
}

// RevokeToken deletes a single access token. Unknown tokens are ignored.
func (m *Manager) RevokeToken(ctx context.Context, accessToken string) error {
	if err := m.store.DeleteToken(ctx, accessToken); err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	m.metrics.Revoked("token", 1)
	return nil
}

// RevokeUserTokens deletes every token held by userID
func (m *Manager) RevokeUserTokens(ctx context.Context, userID string) (int, error) {
	return m.revoke(ctx, "user", func() (int, error) {
		return m.store.DeleteTokensByUserID(ctx, userID)
	}, zap.String("user_id", userID))
}

// RevokeClientTokens deletes every token issued to clientID
func (m *Manager) RevokeClientTokens(ctx context.Context, clientID string) (int, error) {
	return m.revoke(ctx, "client", func() (int, error) {
		return m.store.DeleteTokensByClientID(ctx, clientID)
	}, zap.String("client_id", clientID))
}

// RevokeUserClientTokens deletes the tokens userID holds for clientID
func (m *Manager) RevokeUserClientTokens(ctx context.Context, userID, clientID string) (int, error) {
	return m.revoke(ctx, "user_client", func() (int, error) {
		return m.store.DeleteTokensByUserAndClient(ctx, userID, clientID)
	}, zap.String("user_id", userID), zap.String("client_id", clientID))
}

func (m *Manager) revoke(ctx context.Context, scope string, del func() (int, error), fields ...zap.Field) (int, error) {
	sc := m.tracer.Start(ctx, cnst.SpanTokenRevoke).WithAttrs(attribute.String("revoke.scope", scope))
	defer sc.End()

	n, err := del()
	if err != nil {
		sc.Fail(err)
		return 0, fmt.Errorf("failed to revoke %s tokens: %w", scope, err)
	}
	m.metrics.Revoked(scope, n)
	m.logger.Info("revoked tokens", append(fields, zap.String("scope", scope), zap.Int("count", n))...)
	return n, nil
}

// CleanupExpiredTokens removes tokens and codes with expires_at before now
// in batches, stopping once a batch comes back short
func (m *Manager) CleanupExpiredTokens(ctx context.Context) (CleanupResult, error) {
	var res CleanupResult
	now := m.now()

	n, err := m.drain(ctx, func(limit int) (int, error) {
		return m.store.DeleteExpiredTokens(ctx, now, limit)
	})
	res.TokensDeleted = n
	if err != nil {
		return res, fmt.Errorf("failed to delete expired tokens: %w", err)
	}

	n, err = m.drain(ctx, func(limit int) (int, error) {
		return m.store.DeleteExpiredCodes(ctx, now, limit)
	})
	res.CodesDeleted = n
	if err != nil {
		return res, fmt.Errorf("failed to delete expired codes: %w", err)
	}
	return res, nil
}

func (m *Manager) drain(ctx context.Context, batch func(limit int) (int, error)) (int, error) {
	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := batch(m.cfg.BatchSize)
		total += n
		if err != nil {
			return total, err
		}
		if n < m.cfg.BatchSize {
			return total, nil
		}
	}
}
