package main

import (
	"time"

	"github.com/chillysbabybackribs/clawdia/guard"
	"github.com/spf13/viper"
)

func setDefaults() {
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "text")

	viper.SetDefault("gate.approvals.ttl", guard.DefaultApprovalTTL)
	viper.SetDefault("gate.approvals.deny_on_expiry", true)
	viper.SetDefault("gate.approvals.store", "sqlite")
	viper.SetDefault("gate.audit.jsonl_path", "")
	viper.SetDefault("gate.audit.rotate_max_bytes", int64(100*1024*1024))
	viper.SetDefault("gate.audit.sqlite", false)

	viper.SetDefault("settings.backend", "yaml")
	viper.SetDefault("settings.path", "")

	viper.SetDefault("db.driver", "sqlite")
	viper.SetDefault("db.dsn", "")
	viper.SetDefault("db.automigrate", true)
	viper.SetDefault("db.pool.max_open_conns", 1)
	viper.SetDefault("db.pool.max_idle_conns", 1)
	viper.SetDefault("db.pool.conn_max_lifetime", time.Duration(0))
	viper.SetDefault("db.sqlite.busy_timeout_ms", 5000)
	viper.SetDefault("db.sqlite.wal", true)
	viper.SetDefault("db.sqlite.foreign_keys", false)

	viper.SetDefault("server.listen", "127.0.0.1:8787")
	viper.SetDefault("server.read_header_timeout", 5*time.Second)
	viper.SetDefault("server.auth_token", "")
	viper.SetDefault("metrics.enabled", true)
}
