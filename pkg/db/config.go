package db

import "time"

type Config struct {
	Type        string
	Path        string
	BusyTimeout time.Duration
	// MaxOpenConn defaults to 1: SQLite serializes writers anyway and a
	// single connection avoids SQLITE_BUSY between coordinators.
	MaxOpenConn int
}
