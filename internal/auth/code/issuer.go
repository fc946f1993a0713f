package code

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/amoylab/oauthd/internal/auth/client"
	"github.com/amoylab/oauthd/internal/auth/storage"
	"github.com/amoylab/oauthd/internal/auth/token"
	"github.com/amoylab/oauthd/internal/common/cnst"
	"github.com/amoylab/oauthd/internal/common/errorx"
	"github.com/amoylab/oauthd/pkg/metrics"
	"github.com/amoylab/oauthd/pkg/trace"
	"github.com/amoylab/oauthd/pkg/utils"
)

const codeBytes = 32

// Exchange outcomes reported to metrics
const (
	resultOK      = "ok"
	resultInvalid = "invalid"
	resultReused  = "reused"
)

// Config holds code lifetime and replay handling
type Config struct {
	TTL time.Duration
	// RevokeOnReuse revokes the tokens a user holds for a client when one
	// of its codes is presented a second time
	RevokeOnReuse bool
}

// Request is a validated authorize decision from an authenticated user
type Request struct {
	ClientID    string
	RedirectURI string
	Scope       string
	State       *string
	UserID      string
}

// Option configures an Issuer
type Option func(*Issuer)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) { i.now = now }
}

// WithMetrics records exchange outcomes
func WithMetrics(m *metrics.Metrics) Option {
	return func(i *Issuer) { i.metrics = m }
}

// Issuer creates authorization codes and exchanges them for tokens
type Issuer struct {
	logger  *zap.Logger
	store   storage.Store
	clients *client.Registry
	tokens  *token.Manager
	cfg     Config
	metrics *metrics.Metrics
	now     func() time.Time
	tracer  *trace.Builder
}

// NewIssuer creates an authorization code issuer
func NewIssuer(logger *zap.Logger, store storage.Store, clients *client.Registry, tokens *token.Manager, cfg Config, opts ...Option) *Issuer {
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Minute
	}
	i := &Issuer{
		logger:  logger.Named("auth.code"),
		store:   store,
		clients: clients,
		tokens:  tokens,
		cfg:     cfg,
		now:     time.Now,
		tracer:  trace.Tracer(cnst.TraceAuth),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// CreateAuthorizationCode validates req against the client registration and
// persists a new single-use code
func (i *Issuer) CreateAuthorizationCode(ctx context.Context, req Request) (string, error) {
	sc := i.tracer.Start(ctx, cnst.SpanCodeCreate).WithAttrs(
		attribute.String(cnst.AttrClientID, req.ClientID),
		attribute.String(cnst.AttrUserID, req.UserID),
	)
	defer sc.End()
	ctx = sc.Ctx

	c, err := i.clients.GetClient(ctx, req.ClientID)
	if err != nil {
		if errors.Is(err, errorx.ErrClientNotFound) {
			return "", errorx.ErrInvalidClient
		}
		sc.Fail(err)
		return "", fmt.Errorf("failed to load client: %w", err)
	}
	if !i.clients.ValidateRedirectURI(c, req.RedirectURI) {
		return "", errorx.ErrInvalidRedirectURI
	}
	scopes := client.ParseScope(req.Scope)
	if invalid := i.clients.ValidateScopes(c, scopes); len(invalid) > 0 {
		sc.WithAttrs(attribute.String(cnst.AttrErrorReason, "invalid scope "+strings.Join(invalid, " ")))
		return "", errorx.ErrInvalidScope
	}
	if req.UserID == "" {
		return "", errorx.ErrInvalidRequest
	}

	value, err := utils.RandomToken(codeBytes)
	if err != nil {
		sc.Fail(err)
		return "", fmt.Errorf("failed to generate authorization code: %w", err)
	}

	now := i.now()
	rec := &storage.AuthorizationCode{
		ID:          uuid.NewString(),
		Code:        value,
		ClientID:    c.ID,
		UserID:      req.UserID,
		RedirectURI: req.RedirectURI,
		Scope:       strings.Join(scopes, " "),
		State:       req.State,
		ExpiresAt:   now.Add(i.cfg.TTL),
		CreatedAt:   now,
	}
	if err := i.store.SaveAuthorizationCode(ctx, rec); err != nil {
		sc.Fail(err)
		return "", fmt.Errorf("failed to save authorization code: %w", err)
	}

	i.logger.Debug("issued authorization code",
		zap.String("client_id", c.ID),
		zap.String("user_id", req.UserID),
		zap.String("scope", rec.Scope))
	return value, nil
}

// ExchangeCode trades a code for a token. The code is marked consumed
// before the token is minted so that concurrent exchanges cannot both win.
// Every rejection is errorx.ErrInvalidGrant.
func (i *Issuer) ExchangeCode(ctx context.Context, code, clientID, redirectURI string) (*storage.Token, error) {
	sc := i.tracer.Start(ctx, cnst.SpanCodeExchange).WithAttrs(attribute.String(cnst.AttrClientID, clientID))
	defer sc.End()
	ctx = sc.Ctx

	reject := func(reason string) (*storage.Token, error) {
		sc.WithAttrs(attribute.String(cnst.AttrErrorReason, reason))
		i.metrics.CodeExchange(resultInvalid)
		i.logger.Debug("rejected code exchange", zap.String("client_id", clientID), zap.String("reason", reason))
		return nil, errorx.ErrInvalidGrant
	}

	rec, err := i.store.GetAuthorizationCode(ctx, code)
	if err != nil {
		if errors.Is(err, errorx.ErrAuthorizationCodeNotFound) {
			return reject("not found")
		}
		sc.Fail(err)
		return nil, fmt.Errorf("failed to load authorization code: %w", err)
	}

	// mismatches leave the code usable by its rightful client
	if rec.ClientID != clientID {
		return reject("client mismatch")
	}
	if rec.RedirectURI != redirectURI {
		return reject("redirect uri mismatch")
	}
	if rec.Consumed {
		return i.replayed(ctx, rec)
	}
	if rec.IsExpired(i.now()) {
		return reject("expired")
	}

	_, err = i.store.ConsumeAuthorizationCode(ctx, code, i.now())
	switch {
	case errors.Is(err, errorx.ErrAuthorizationCodeConsumed):
		return i.replayed(ctx, rec)
	case errors.Is(err, errorx.ErrAuthorizationCodeExpired):
		return reject("expired")
	case errors.Is(err, errorx.ErrAuthorizationCodeNotFound):
		return reject("not found")
	case err != nil:
		sc.Fail(err)
		return nil, fmt.Errorf("failed to consume authorization code: %w", err)
	}

	tok, err := i.tokens.CreateToken(ctx, rec.UserID, rec.ClientID, rec.Scope, 0)
	if err != nil {
		sc.Fail(err)
		return nil, err
	}
	i.metrics.CodeExchange(resultOK)
	return tok, nil
}

func (i *Issuer) replayed(ctx context.Context, rec *storage.AuthorizationCode) (*storage.Token, error) {
	i.metrics.CodeExchange(resultReused)
	i.logger.Warn("authorization code presented again",
		zap.String("client_id", rec.ClientID),
		zap.String("user_id", rec.UserID))

	if i.cfg.RevokeOnReuse {
		if _, err := i.tokens.RevokeUserClientTokens(ctx, rec.UserID, rec.ClientID); err != nil {
			i.logger.Error("failed to revoke tokens after code reuse", zap.Error(err))
		}
	}
	return nil, errorx.ErrInvalidGrant
}
