package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestSQLite(t *testing.T) *DBStore {
	t.Helper()
	s, err := NewDBStore(zap.NewNop(), SQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestDBStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store { return newTestSQLite(t) })
}

func TestDBStore_TableNames(t *testing.T) {
	s := newTestSQLite(t)
	for _, table := range []string{"oauth_clients", "oauth_users", "oauth_codes", "oauth_tokens"} {
		assert.True(t, s.db.Migrator().HasTable(table), table)
	}
}

func TestNewDBStore_InvalidType(t *testing.T) {
	_, err := NewDBStore(zap.NewNop(), DatabaseType("oracle"), "")
	assert.ErrorIs(t, err, ErrInvalidDatabaseType)
}
