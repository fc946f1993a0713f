package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ifuryst/lol"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/amoylab/oauthd/internal/auth/storage"
	"github.com/amoylab/oauthd/internal/common/config"
	"github.com/amoylab/oauthd/internal/common/errorx"
)

// dummySecret is compared against when the client id is unknown so that
// lookups of missing clients cost one bcrypt comparison like real ones.
const dummySecret = "oauthd-dummy-client-secret"

// Registry authenticates relying parties and checks what they may request
type Registry struct {
	logger    *zap.Logger
	store     storage.Store
	dummyHash []byte
}

// NewRegistry creates a client registry backed by store
func NewRegistry(logger *zap.Logger, store storage.Store) (*Registry, error) {
	dummy, err := bcrypt.GenerateFromPassword([]byte(dummySecret), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare dummy hash: %w", err)
	}
	return &Registry{
		logger:    logger.Named("auth.client"),
		store:     store,
		dummyHash: dummy,
	}, nil
}

// GetClient returns the registered client or errorx.ErrClientNotFound
func (r *Registry) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	return r.store.GetClient(ctx, clientID)
}

// ValidateClientCredentials authenticates a client by id and secret. Any
// mismatch yields errorx.ErrInvalidClient; store failures are wrapped.
func (r *Registry) ValidateClientCredentials(ctx context.Context, clientID, secret string) (*storage.Client, error) {
	var (
		client *storage.Client
		err    error
	)
	if clientID != "" {
		client, err = r.store.GetClient(ctx, clientID)
		if err != nil && !errors.Is(err, errorx.ErrClientNotFound) {
			return nil, fmt.Errorf("failed to load client: %w", err)
		}
	}

	hash := r.dummyHash
	if client != nil {
		hash = []byte(client.SecretHash)
	}
	mismatch := bcrypt.CompareHashAndPassword(hash, []byte(secret)) != nil

	if client == nil || mismatch || secret == "" {
		r.logger.Debug("client authentication failed", zap.String("client_id", clientID))
		return nil, errorx.ErrInvalidClient
	}
	return client, nil
}

// ValidateRedirectURI reports whether uri is exactly one of the registered
// redirect URIs
func (r *Registry) ValidateRedirectURI(client *storage.Client, uri string) bool {
	if client == nil || uri == "" {
		return false
	}
	for _, registered := range client.RedirectURIs {
		if registered == uri {
			return true
		}
	}
	return false
}

// ValidateScopes returns the requested scopes the client is not allowed to use
func (r *Registry) ValidateScopes(client *storage.Client, requested []string) []string {
	allowed := make(map[string]bool, len(client.AllowedScopes))
	for _, s := range client.AllowedScopes {
		allowed[s] = true
	}
	var invalid []string
	for _, s := range requested {
		if !allowed[s] {
			invalid = append(invalid, s)
		}
	}
	return invalid
}

// ParseScope splits a space separated scope parameter, dropping duplicates
func ParseScope(scope string) []string {
	fields := strings.Fields(scope)
	if len(fields) == 0 {
		return nil
	}
	return lol.UniqSlice(fields)
}

// HashSecret returns the bcrypt hash stored for a client secret
func HashSecret(secret string) (string, error) {
	if secret == "" {
		return "", errors.New("client secret cannot be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Seed registers the configured clients. Clients that already exist are
// left untouched since registrations are immutable.
func (r *Registry) Seed(ctx context.Context, seeds []config.ClientSeed) error {
	for _, s := range seeds {
		hash := s.SecretHash
		if hash == "" {
			var err error
			if hash, err = HashSecret(s.Secret); err != nil {
				return fmt.Errorf("hash secret of client %s: %w", s.ID, err)
			}
		}
		now := time.Now()
		err := r.store.CreateClient(ctx, &storage.Client{
			ID:            s.ID,
			SecretHash:    hash,
			Name:          s.Name,
			RedirectURIs:  s.RedirectURIs,
			AllowedScopes: s.AllowedScopes,
			CreatedAt:     now,
			UpdatedAt:     now,
		})
		switch {
		case errors.Is(err, errorx.ErrClientAlreadyExists):
			r.logger.Debug("client already registered", zap.String("client_id", s.ID))
		case err != nil:
			return fmt.Errorf("register client %s: %w", s.ID, err)
		default:
			r.logger.Info("registered client", zap.String("client_id", s.ID), zap.String("name", s.Name))
		}
	}
	return nil
}
