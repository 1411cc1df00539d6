package main

import (
	"fmt"
	"strings"

	"github.com/chillysbabybackribs/clawdia/db"
	"github.com/spf13/viper"
)

// dbConfigFromViper is the shared gorm database used by the sqlite settings
// backend and the sqlite audit sink.
func dbConfigFromViper() db.Config {
	cfg := db.DefaultConfig()
	cfg.Driver = viper.GetString("db.driver")
	cfg.DSN = viper.GetString("db.dsn")
	cfg.AutoMigrate = viper.GetBool("db.automigrate")
	cfg.Pool = db.PoolConfig{
		MaxOpenConns:    viper.GetInt("db.pool.max_open_conns"),
		MaxIdleConns:    viper.GetInt("db.pool.max_idle_conns"),
		ConnMaxLifetime: viper.GetDuration("db.pool.conn_max_lifetime"),
	}
	cfg.SQLite = db.SQLiteConfig{
		BusyTimeoutMs: viper.GetInt("db.sqlite.busy_timeout_ms"),
		WAL:           viper.GetBool("db.sqlite.wal"),
		ForeignKeys:   viper.GetBool("db.sqlite.foreign_keys"),
	}
	return cfg.Normalize()
}

// approvalsDSNFromViper points the approval mirror at the same database
// file as dbConfigFromViper. It opens its own database/sql handle, so the
// busy timeout travels in the DSN rather than as a pragma.
func approvalsDSNFromViper() (string, error) {
	cfg := dbConfigFromViper()
	dsn, err := db.ResolveSQLiteDSN(cfg.DSN)
	if err != nil {
		return "", fmt.Errorf("approvals dsn: %w", err)
	}
	return withBusyTimeout(dsn, cfg.SQLite.BusyTimeoutMs), nil
}

func withBusyTimeout(dsn string, ms int) string {
	if ms <= 0 || dsn == ":memory:" || strings.Contains(dsn, "_pragma=busy_timeout") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%s_pragma=busy_timeout(%d)", dsn, sep, ms)
}
