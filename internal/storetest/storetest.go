// Package storetest opens a migrated local store in a temp dir for tests.
package storetest

import (
	"path/filepath"
	"testing"

	"github.com/smallbiznis/roadfuel/internal/migration"
	"github.com/smallbiznis/roadfuel/pkg/db"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

func Open(t testing.TB) *gorm.DB {
	t.Helper()

	conn, err := db.Open(db.Config{
		Type:        "sqlite",
		Path:        filepath.Join(t.TempDir(), "roadfuel.db"),
		MaxOpenConn: 1,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)

	sqlDB, err := conn.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, migration.RunMigrations(sqlDB))
	return conn
}
