package storage

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/amoylab/oauthd/internal/common/errorx"
)

// MemoryStorage implements Store with maps guarded by a single RWMutex.
// Records are copied in and out so callers never share state with the store.
type MemoryStorage struct {
	mu sync.RWMutex

	clients map[string]*Client
	users   map[string]*User
	codes   map[string]*AuthorizationCode
	tokens  map[string]*Token
}

var _ Store = (*MemoryStorage)(nil)

// NewMemoryStorage creates a new memory storage instance
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		clients: make(map[string]*Client),
		users:   make(map[string]*User),
		codes:   make(map[string]*AuthorizationCode),
		tokens:  make(map[string]*Token),
	}
}

func (s *MemoryStorage) GetClient(_ context.Context, clientID string) (*Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if c, ok := s.clients[clientID]; ok {
		return c.clone(), nil
	}
	return nil, errorx.ErrClientNotFound
}

func (s *MemoryStorage) CreateClient(_ context.Context, client *Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.clients[client.ID]; exists {
		return errorx.ErrClientAlreadyExists
	}
	now := time.Now()
	client.CreatedAt = now
	client.UpdatedAt = now
	s.clients[client.ID] = client.clone()
	return nil
}

func (s *MemoryStorage) GetUser(_ context.Context, userID string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if u, ok := s.users[userID]; ok {
		return u.clone(), nil
	}
	return nil, errorx.ErrUserNotFound
}

// CreateUser inserts or replaces a user
func (s *MemoryStorage) CreateUser(_ context.Context, user *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.users[user.ID] = user.clone()
	return nil
}

func (s *MemoryStorage) SaveAuthorizationCode(_ context.Context, code *AuthorizationCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if code.ID == "" {
		code.ID = uuid.NewString()
	}
	if code.CreatedAt.IsZero() {
		code.CreatedAt = time.Now()
	}
	s.codes[code.Code] = code.clone()
	return nil
}

func (s *MemoryStorage) GetAuthorizationCode(_ context.Context, code string) (*AuthorizationCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if c, ok := s.codes[code]; ok {
		return c.clone(), nil
	}
	return nil, errorx.ErrAuthorizationCodeNotFound
}

func (s *MemoryStorage) ConsumeAuthorizationCode(_ context.Context, code string, now time.Time) (*AuthorizationCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.codes[code]
	switch {
	case !ok:
		return nil, errorx.ErrAuthorizationCodeNotFound
	case c.Consumed:
		return c.clone(), errorx.ErrAuthorizationCodeConsumed
	case c.IsExpired(now):
		return c.clone(), errorx.ErrAuthorizationCodeExpired
	}
	c.Consumed = true
	return c.clone(), nil
}

func (s *MemoryStorage) DeleteAuthorizationCode(_ context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.codes, code)
	return nil
}

func (s *MemoryStorage) SaveToken(_ context.Context, token *Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if token.ID == "" {
		token.ID = uuid.NewString()
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now()
	}
	s.tokens[token.AccessToken] = token.clone()
	return nil
}

func (s *MemoryStorage) GetToken(_ context.Context, accessToken string) (*Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if t, ok := s.tokens[accessToken]; ok {
		return t.clone(), nil
	}
	return nil, errorx.ErrTokenNotFound
}

func (s *MemoryStorage) UpdateTokenExpiry(_ context.Context, accessToken string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tokens[accessToken]
	if !ok {
		return errorx.ErrTokenNotFound
	}
	t.ExpiresAt = expiresAt
	return nil
}

func (s *MemoryStorage) DeleteToken(_ context.Context, accessToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.tokens, accessToken)
	return nil
}

func (s *MemoryStorage) DeleteTokensByUserID(_ context.Context, userID string) (int, error) {
	return s.deleteTokensWhere(func(t *Token) bool { return t.UserID == userID }, 0), nil
}

func (s *MemoryStorage) DeleteTokensByClientID(_ context.Context, clientID string) (int, error) {
	return s.deleteTokensWhere(func(t *Token) bool { return t.ClientID == clientID }, 0), nil
}

func (s *MemoryStorage) DeleteTokensByUserAndClient(_ context.Context, userID, clientID string) (int, error) {
	return s.deleteTokensWhere(func(t *Token) bool {
		return t.UserID == userID && t.ClientID == clientID
	}, 0), nil
}

func (s *MemoryStorage) DeleteExpiredTokens(_ context.Context, before time.Time, limit int) (int, error) {
	return s.deleteTokensWhere(func(t *Token) bool { return t.ExpiresAt.Before(before) }, limit), nil
}

func (s *MemoryStorage) DeleteExpiredCodes(_ context.Context, before time.Time, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for k, c := range s.codes {
		if limit > 0 && n >= limit {
			break
		}
		if c.ExpiresAt.Before(before) {
			delete(s.codes, k)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStorage) Close() error { return nil }

// deleteTokensWhere removes matching tokens, at most limit when limit > 0
func (s *MemoryStorage) deleteTokensWhere(match func(*Token) bool, limit int) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for k, t := range s.tokens {
		if limit > 0 && n >= limit {
			break
		}
		if match(t) {
			delete(s.tokens, k)
			n++
		}
	}
	return n
}
