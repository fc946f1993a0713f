package storage

import (
	"context"
	"errors"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/amoylab/oauthd/internal/common/errorx"
)

// DatabaseType represents the supported database types
type DatabaseType string

const (
	PostgreSQL DatabaseType = "postgres"
	MySQL      DatabaseType = "mysql"
	SQLite     DatabaseType = "sqlite"
)

// ErrInvalidDatabaseType is returned for an unknown storage.database.type
var ErrInvalidDatabaseType = errors.New("invalid database type")

// DBStore implements Store on a relational database through gorm
type DBStore struct {
	logger *zap.Logger
	db     *gorm.DB
}

var _ Store = (*DBStore)(nil)

// NewDBStore opens the database and migrates the oauth_* tables
func NewDBStore(logger *zap.Logger, dbType DatabaseType, dsn string) (*DBStore, error) {
	logger = logger.Named("auth.store.db")

	var dialector gorm.Dialector
	switch dbType {
	case PostgreSQL:
		dialector = postgres.Open(dsn)
	case MySQL:
		dialector = mysql.Open(dsn)
	case SQLite:
		dialector = sqlite.Open(dsn)
	default:
		return nil, ErrInvalidDatabaseType
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if dbType == SQLite {
		// one connection, so ":memory:" databases are shared and writes serialize
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.SetMaxOpenConns(1)
		}
	}

	if err := db.AutoMigrate(&ClientModel{}, &UserModel{}, &CodeModel{}, &TokenModel{}); err != nil {
		return nil, err
	}

	return &DBStore{logger: logger, db: db}, nil
}

func (s *DBStore) GetClient(ctx context.Context, clientID string) (*Client, error) {
	var m ClientModel
	if err := s.db.WithContext(ctx).Where("id = ?", clientID).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errorx.ErrClientNotFound
		}
		return nil, err
	}
	return m.toClient(), nil
}

func (s *DBStore) CreateClient(ctx context.Context, client *Client) error {
	now := time.Now()
	client.CreatedAt = now
	client.UpdatedAt = now
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(fromClient(client))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errorx.ErrClientAlreadyExists
	}
	return nil
}

func (s *DBStore) GetUser(ctx context.Context, userID string) (*User, error) {
	var m UserModel
	if err := s.db.WithContext(ctx).Where("id = ?", userID).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errorx.ErrUserNotFound
		}
		return nil, err
	}
	return m.toUser(), nil
}

// CreateUser inserts or replaces a user
func (s *DBStore) CreateUser(ctx context.Context, user *User) error {
	return s.db.WithContext(ctx).Save(fromUser(user)).Error
}

func (s *DBStore) SaveAuthorizationCode(ctx context.Context, code *AuthorizationCode) error {
	if code.ID == "" {
		code.ID = uuid.NewString()
	}
	if code.CreatedAt.IsZero() {
		code.CreatedAt = time.Now()
	}
	return s.db.WithContext(ctx).Create(fromCode(code)).Error
}

func (s *DBStore) GetAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error) {
	var m CodeModel
	if err := s.db.WithContext(ctx).Where("code = ?", code).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errorx.ErrAuthorizationCodeNotFound
		}
		return nil, err
	}
	return m.toCode(), nil
}

// ConsumeAuthorizationCode relies on a conditional UPDATE; the row count
// tells whether this caller won.
func (s *DBStore) ConsumeAuthorizationCode(ctx context.Context, code string, now time.Time) (*AuthorizationCode, error) {
	res := s.db.WithContext(ctx).Model(&CodeModel{}).
		Where("code = ? AND consumed = ? AND expires_at > ?", code, false, now.UTC()).
		Update("consumed", true)
	if res.Error != nil {
		return nil, res.Error
	}

	c, err := s.GetAuthorizationCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if res.RowsAffected == 1 {
		return c, nil
	}
	if c.Consumed {
		return c, errorx.ErrAuthorizationCodeConsumed
	}
	return c, errorx.ErrAuthorizationCodeExpired
}

func (s *DBStore) DeleteAuthorizationCode(ctx context.Context, code string) error {
	return s.db.WithContext(ctx).Where("code = ?", code).Delete(&CodeModel{}).Error
}

func (s *DBStore) SaveToken(ctx context.Context, token *Token) error {
	if token.ID == "" {
		token.ID = uuid.NewString()
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now()
	}
	return s.db.WithContext(ctx).Create(fromToken(token)).Error
}

func (s *DBStore) GetToken(ctx context.Context, accessToken string) (*Token, error) {
	var m TokenModel
	if err := s.db.WithContext(ctx).Where("access_token = ?", accessToken).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errorx.ErrTokenNotFound
		}
		return nil, err
	}
	return m.toToken(), nil
}

func (s *DBStore) UpdateTokenExpiry(ctx context.Context, accessToken string, expiresAt time.Time) error {
	res := s.db.WithContext(ctx).Model(&TokenModel{}).
		Where("access_token = ?", accessToken).
		Update("expires_at", expiresAt.UTC())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errorx.ErrTokenNotFound
	}
	return nil
}

func (s *DBStore) DeleteToken(ctx context.Context, accessToken string) error {
	return s.db.WithContext(ctx).Where("access_token = ?", accessToken).Delete(&TokenModel{}).Error
}

func (s *DBStore) DeleteTokensByUserID(ctx context.Context, userID string) (int, error) {
	res := s.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&TokenModel{})
	return int(res.RowsAffected), res.Error
}

func (s *DBStore) DeleteTokensByClientID(ctx context.Context, clientID string) (int, error) {
	res := s.db.WithContext(ctx).Where("client_id = ?", clientID).Delete(&TokenModel{})
	return int(res.RowsAffected), res.Error
}

func (s *DBStore) DeleteTokensByUserAndClient(ctx context.Context, userID, clientID string) (int, error) {
	res := s.db.WithContext(ctx).Where("user_id = ? AND client_id = ?", userID, clientID).Delete(&TokenModel{})
	return int(res.RowsAffected), res.Error
}

func (s *DBStore) DeleteExpiredTokens(ctx context.Context, before time.Time, limit int) (int, error) {
	return s.deleteExpired(ctx, &TokenModel{}, before, limit)
}

func (s *DBStore) DeleteExpiredCodes(ctx context.Context, before time.Time, limit int) (int, error) {
	return s.deleteExpired(ctx, &CodeModel{}, before, limit)
}

// deleteExpired plucks at most limit ids and deletes them by primary key,
// so each statement touches a bounded set of rows
func (s *DBStore) deleteExpired(ctx context.Context, model any, before time.Time, limit int) (int, error) {
	db := s.db.WithContext(ctx)
	var ids []string
	q := db.Model(model).Where("expires_at < ?", before.UTC())
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Pluck("id", &ids).Error; err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	res := db.Where("id IN ?", ids).Delete(model)
	return int(res.RowsAffected), res.Error
}

func (s *DBStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
