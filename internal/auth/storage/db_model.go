package storage

import "time"

// ClientModel is the gorm row of a client
type ClientModel struct {
	ID            string    `gorm:"primaryKey;column:id;type:varchar(128)"`
	SecretHash    string    `gorm:"column:secret_hash;type:varchar(255);not null"`
	Name          string    `gorm:"column:name;type:varchar(255)"`
	RedirectURIs  []string  `gorm:"column:redirect_uris;type:text;serializer:json"`
	AllowedScopes []string  `gorm:"column:allowed_scopes;type:text;serializer:json"`
	CreatedAt     time.Time `gorm:"column:created_at"`
	UpdatedAt     time.Time `gorm:"column:updated_at"`
}

func (ClientModel) TableName() string { return "oauth_clients" }

// UserModel is the gorm row of a user
type UserModel struct {
	ID        string  `gorm:"primaryKey;column:id;type:varchar(128)"`
	Email     string  `gorm:"column:email;type:varchar(255);index"`
	Name      string  `gorm:"column:name;type:varchar(255)"`
	AvatarURL *string `gorm:"column:avatar_url;type:varchar(1024)"`
}

func (UserModel) TableName() string { return "oauth_users" }

// CodeModel is the gorm row of an authorization code
type CodeModel struct {
	ID          string    `gorm:"primaryKey;column:id;type:varchar(36)"`
	Code        string    `gorm:"column:code;type:varchar(128);uniqueIndex"`
	ClientID    string    `gorm:"column:client_id;type:varchar(128);index"`
	UserID      string    `gorm:"column:user_id;type:varchar(128)"`
	RedirectURI string    `gorm:"column:redirect_uri;type:varchar(1024)"`
	Scope       string    `gorm:"column:scope;type:varchar(1024)"`
	State       *string   `gorm:"column:state;type:varchar(255)"`
	ExpiresAt   time.Time `gorm:"column:expires_at;index"`
	Consumed    bool      `gorm:"column:consumed;not null;default:false"`
	CreatedAt   time.Time `gorm:"column:created_at"`
}

func (CodeModel) TableName() string { return "oauth_codes" }

// TokenModel is the gorm row of an access token
type TokenModel struct {
	ID           string    `gorm:"primaryKey;column:id;type:varchar(36)"`
	AccessToken  string    `gorm:"column:access_token;type:varchar(128);uniqueIndex"`
	RefreshToken *string   `gorm:"column:refresh_token;type:varchar(128);index"`
	UserID       string    `gorm:"column:user_id;type:varchar(128);index"`
	ClientID     string    `gorm:"column:client_id;type:varchar(128);index"`
	Scope        string    `gorm:"column:scope;type:varchar(1024)"`
	CreatedAt    time.Time `gorm:"column:created_at"`
	ExpiresAt    time.Time `gorm:"column:expires_at;index"`
}

func (TokenModel) TableName() string { return "oauth_tokens" }

func fromClient(c *Client) *ClientModel {
	return &ClientModel{
		ID:            c.ID,
		SecretHash:    c.SecretHash,
		Name:          c.Name,
		RedirectURIs:  cloneStrings(c.RedirectURIs),
		AllowedScopes: cloneStrings(c.AllowedScopes),
		CreatedAt:     c.CreatedAt.UTC(),
		UpdatedAt:     c.UpdatedAt.UTC(),
	}
}

func (m *ClientModel) toClient() *Client {
	return &Client{
		ID:            m.ID,
		SecretHash:    m.SecretHash,
		Name:          m.Name,
		RedirectURIs:  m.RedirectURIs,
		AllowedScopes: m.AllowedScopes,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func fromUser(u *User) *UserModel {
	return &UserModel{ID: u.ID, Email: u.Email, Name: u.Name, AvatarURL: cloneStringPtr(u.AvatarURL)}
}

func (m *UserModel) toUser() *User {
	return &User{ID: m.ID, Email: m.Email, Name: m.Name, AvatarURL: m.AvatarURL}
}

func fromCode(c *AuthorizationCode) *CodeModel {
	return &CodeModel{
		ID:          c.ID,
		Code:        c.Code,
		ClientID:    c.ClientID,
		UserID:      c.UserID,
		RedirectURI: c.RedirectURI,
		Scope:       c.Scope,
		State:       cloneStringPtr(c.State),
		ExpiresAt:   c.ExpiresAt.UTC(),
		Consumed:    c.Consumed,
		CreatedAt:   c.CreatedAt.UTC(),
	}
}

func (m *CodeModel) toCode() *AuthorizationCode {
	return &AuthorizationCode{
		ID:          m.ID,
		Code:        m.Code,
		ClientID:    m.ClientID,
		UserID:      m.UserID,
		RedirectURI: m.RedirectURI,
		Scope:       m.Scope,
		State:       m.State,
		ExpiresAt:   m.ExpiresAt,
		Consumed:    m.Consumed,
		CreatedAt:   m.CreatedAt,
	}
}

func fromToken(t *Token) *TokenModel {
	return &TokenModel{
		ID:           t.ID,
		AccessToken:  t.AccessToken,
		RefreshToken: cloneStringPtr(t.RefreshToken),
		UserID:       t.UserID,
		ClientID:     t.ClientID,
		Scope:        t.Scope,
		CreatedAt:    t.CreatedAt.UTC(),
		ExpiresAt:    t.ExpiresAt.UTC(),
	}
}

func (m *TokenModel) toToken() *Token {
	return &Token{
		ID:           m.ID,
		AccessToken:  m.AccessToken,
		RefreshToken: m.RefreshToken,
		UserID:       m.UserID,
		ClientID:     m.ClientID,
		Scope:        m.Scope,
		CreatedAt:    m.CreatedAt,
		ExpiresAt:    m.ExpiresAt,
	}
}
