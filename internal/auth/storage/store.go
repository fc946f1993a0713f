package storage

import (
	"context"
	"time"
)

// Store is the persistence boundary of the authorization server. Normal
// negative outcomes are reported with the errorx store sentinels.
type Store interface {
	GetClient(ctx context.Context, clientID string) (*Client, error)
	CreateClient(ctx context.Context, client *Client) error

	GetUser(ctx context.Context, userID string) (*User, error)
	CreateUser(ctx context.Context, user *User) error

	SaveAuthorizationCode(ctx context.Context, code *AuthorizationCode) error
	GetAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error)
	// ConsumeAuthorizationCode flips consumed from false to true if the code
	// exists and has not expired at now. Only one caller can win. A code that
	// was already consumed is returned together with ErrAuthorizationCodeConsumed.
	ConsumeAuthorizationCode(ctx context.Context, code string, now time.Time) (*AuthorizationCode, error)
	DeleteAuthorizationCode(ctx context.Context, code string) error

	SaveToken(ctx context.Context, token *Token) error
	GetToken(ctx context.Context, accessToken string) (*Token, error)
	UpdateTokenExpiry(ctx context.Context, accessToken string, expiresAt time.Time) error
	DeleteToken(ctx context.Context, accessToken string) error
	DeleteTokensByUserID(ctx context.Context, userID string) (int, error)
	DeleteTokensByClientID(ctx context.Context, clientID string) (int, error)
	DeleteTokensByUserAndClient(ctx context.Context, userID, clientID string) (int, error)

	// DeleteExpiredTokens removes at most limit tokens with expires_at < before
	DeleteExpiredTokens(ctx context.Context, before time.Time, limit int) (int, error)
	// DeleteExpiredCodes removes at most limit codes with expires_at < before
	DeleteExpiredCodes(ctx context.Context, before time.Time, limit int) (int, error)

	Close() error
}

// Client is a registered relying party. Immutable after registration.
type Client struct {
	ID            string    `json:"client_id"`
	SecretHash    string    `json:"secret_hash"`
	Name          string    `json:"name"`
	RedirectURIs  []string  `json:"redirect_uris"`
	AllowedScopes []string  `json:"allowed_scopes"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// User is a resource owner
type User struct {
	ID        string  `json:"id"`
	Email     string  `json:"email"`
	Name      string  `json:"name"`
	AvatarURL *string `json:"avatar_url,omitempty"`
}

// AuthorizationCode is a short-lived single-use grant
type AuthorizationCode struct {
	ID          string    `json:"id"`
	Code        string    `json:"code"`
	ClientID    string    `json:"client_id"`
	UserID      string    `json:"user_id"`
	RedirectURI string    `json:"redirect_uri"`
	Scope       string    `json:"scope"`
	State       *string   `json:"state,omitempty"`
	ExpiresAt   time.Time `json:"expires_at"`
	Consumed    bool      `json:"consumed"`
	CreatedAt   time.Time `json:"created_at"`
}

// HasState reports whether the authorize request carried a state value
func (c *AuthorizationCode) HasState() bool {
	return c.State != nil && *c.State != ""
}

// IsExpired reports whether the code can no longer be exchanged at now
func (c *AuthorizationCode) IsExpired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// Token is an access token with its optional refresh token
type Token struct {
	ID           string    `json:"id"`
	AccessToken  string    `json:"access_token"`
	RefreshToken *string   `json:"refresh_token,omitempty"`
	UserID       string    `json:"user_id"`
	ClientID     string    `json:"client_id"`
	Scope        string    `json:"scope"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

func (t *Token) HasRefreshToken() bool {
	return t.RefreshToken != nil && *t.RefreshToken != ""
}

// IsExpired reports whether the access token is no longer valid at now
func (t *Token) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneStringPtr(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func (c *Client) clone() *Client {
	cp := *c
	cp.RedirectURIs = cloneStrings(c.RedirectURIs)
	cp.AllowedScopes = cloneStrings(c.AllowedScopes)
	return &cp
}

func (u *User) clone() *User {
	cp := *u
	cp.AvatarURL = cloneStringPtr(u.AvatarURL)
	return &cp
}

func (c *AuthorizationCode) clone() *AuthorizationCode {
	cp := *c
	cp.State = cloneStringPtr(c.State)
	return &cp
}

func (t *Token) clone() *Token {
	cp := *t
	cp.RefreshToken = cloneStringPtr(t.RefreshToken)
	return &cp
}
