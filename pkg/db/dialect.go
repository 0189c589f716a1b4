package db

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

// Dialect returns the gorm dialector for the on-device store. Only the
// pure-Go SQLite driver is supported so the agent cross-compiles without cgo.
func Dialect(cfg Config) (gorm.Dialector, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case "sqlite", "":
		return sqlite.Open(DSN(cfg)), nil
	default:
		return nil, fmt.Errorf("unsupported %s type", cfg.Type)
	}
}

// DSN builds a glebarez/sqlite connection string with the pragmas the queue
// relies on.
func DSN(cfg Config) string {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		path = "roadfuel.db"
	}
	busy := cfg.BusyTimeout.Milliseconds()
	if busy <= 0 {
		busy = 5000
	}

	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busy))
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "foreign_keys(1)")
	return path + "?" + q.Encode()
}
