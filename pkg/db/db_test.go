package db

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

func TestDSNCarriesPragmas(t *testing.T) {
	dsn := DSN(Config{Path: "/data/roadfuel.db"})
	assert.True(t, strings.HasPrefix(dsn, "/data/roadfuel.db?"))
	assert.Contains(t, dsn, "busy_timeout%285000%29")
	assert.Contains(t, dsn, "journal_mode%28WAL%29")
}

func TestDialectRejectsServerDatabases(t *testing.T) {
	_, err := Dialect(Config{Type: "postgres"})
	require.Error(t, err)
}

func TestOpenSQLiteFile(t *testing.T) {
	conn, err := Open(Config{Type: "sqlite", Path: filepath.Join(t.TempDir(), "store.db")}, zaptest.NewLogger(t))
	require.NoError(t, err)

	var one int
	require.NoError(t, conn.Raw("SELECT 1").Scan(&one).Error)
	assert.Equal(t, 1, one)

	sqlDB, err := conn.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())
}

func TestErrorClassifiers(t *testing.T) {
	assert.True(t, IsDuplicateKeyErr(errors.New("UNIQUE constraint failed: id_mappings.entity")))
	assert.True(t, IsDuplicateKeyErr(gorm.ErrDuplicatedKey))
	assert.False(t, IsDuplicateKeyErr(nil))
	assert.True(t, IsBusyErr(errors.New("database is locked (5) (SQLITE_BUSY)")))
	assert.True(t, IsNotFound(gorm.ErrRecordNotFound))
}
