package db

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chillysbabybackribs/clawdia/internal/pathutil"
)

const defaultSQLiteFile = "gate.db"

type Config struct {
	Driver      string
	DSN         string
	AutoMigrate bool

	Pool   PoolConfig
	SQLite SQLiteConfig
}

type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type SQLiteConfig struct {
	BusyTimeoutMs int
	WAL           bool
	ForeignKeys   bool
}

func DefaultConfig() Config {
	return Config{
		Driver:      "sqlite",
		AutoMigrate: true,
		Pool: PoolConfig{
			MaxOpenConns: 1,
			MaxIdleConns: 1,
		},
		SQLite: SQLiteConfig{
			BusyTimeoutMs: 5000,
			WAL:           true,
		},
	}
}

// Normalize replaces zero or negative pool and sqlite settings with the
// single-writer defaults SQLite needs.
func (c Config) Normalize() Config {
	d := DefaultConfig()
	if strings.TrimSpace(c.Driver) == "" {
		c.Driver = d.Driver
	}
	if c.Pool.MaxOpenConns <= 0 {
		c.Pool.MaxOpenConns = d.Pool.MaxOpenConns
	}
	if c.Pool.MaxIdleConns <= 0 {
		c.Pool.MaxIdleConns = d.Pool.MaxIdleConns
	}
	if c.Pool.ConnMaxLifetime < 0 {
		c.Pool.ConnMaxLifetime = 0
	}
	if c.SQLite.BusyTimeoutMs <= 0 {
		c.SQLite.BusyTimeoutMs = d.SQLite.BusyTimeoutMs
	}
	return c
}

// ResolveSQLiteDSN turns a configured DSN (blank, a path, "~/..." or a
// "file:" URI) into one the sqlite driver accepts, creating the parent
// directory for file paths.
func ResolveSQLiteDSN(dsn string) (string, error) {
	dsn = strings.TrimSpace(dsn)
	switch {
	case dsn == ":memory:" || strings.HasPrefix(dsn, "file::memory:"):
		return dsn, nil
	case strings.HasPrefix(dsn, "file:"):
		return dsn, nil
	}
	path := pathutil.StatePath(dsn, defaultSQLiteFile)
	if path == "" {
		return "", fmt.Errorf("cannot resolve sqlite path (no db.dsn and no home dir)")
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return "", fmt.Errorf("create sqlite dir %s: %w", dir, err)
		}
	}
	return path, nil
}
