package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/chillysbabybackribs/clawdia/db"
	"github.com/chillysbabybackribs/clawdia/guard"
	"github.com/chillysbabybackribs/clawdia/internal/pathutil"
	"github.com/chillysbabybackribs/clawdia/settings"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/viper"
	"gorm.io/gorm"
)

// gateRuntime is everything a command needs to drive one Gate.
type gateRuntime struct {
	Gate     *guard.Gate
	Pending  *guard.PendingApprovals
	Registry *prometheus.Registry
	Settings settings.Store

	log     *slog.Logger
	gdb     *gorm.DB
	closers []func() error
}

func (rt *gateRuntime) Close() error {
	if rt == nil {
		return nil
	}
	var errs []error
	if rt.Pending != nil {
		rt.Pending.Close()
	}
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func gateConfigFromViper() guard.Config {
	cfg := guard.DefaultConfig()

	var patterns []guard.RegexPattern
	_ = viper.UnmarshalKey("gate.redaction.patterns", &patterns)
	cfg.Redaction.Patterns = patterns

	cfg.Audit = guard.AuditConfig{
		JSONLPath:      strings.TrimSpace(viper.GetString("gate.audit.jsonl_path")),
		RotateMaxBytes: viper.GetInt64("gate.audit.rotate_max_bytes"),
		SQLite:         viper.GetBool("gate.audit.sqlite"),
	}
	cfg.Approvals = guard.ApprovalsConfig{
		TTL:          viper.GetDuration("gate.approvals.ttl"),
		DenyOnExpiry: viper.GetBool("gate.approvals.deny_on_expiry"),
		Store:        strings.ToLower(strings.TrimSpace(viper.GetString("gate.approvals.store"))),
	}
	if cfg.Approvals.TTL <= 0 {
		cfg.Approvals.TTL = guard.DefaultApprovalTTL
	}
	return cfg
}

// gateFromViper wires settings, audit sinks, the approval broker and metrics
// from configuration. Optional pieces that fail to open are logged and
// skipped; a settings backend that fails to open is an error. notify, when
// set, is handed every new approval request.
func gateFromViper(ctx context.Context, log *slog.Logger, notify func(guard.ApprovalRequest)) (*gateRuntime, error) {
	if log == nil {
		log = slog.Default()
	}
	cfg := gateConfigFromViper()
	rt := &gateRuntime{log: log}

	store, err := rt.settingsFromViper(ctx)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	rt.Settings = store

	sink, jsonlPath := rt.auditFromViper(ctx, cfg.Audit)

	var approvals guard.ApprovalStore
	if cfg.Approvals.Store == "sqlite" {
		dsn, err := approvalsDSNFromViper()
		if err != nil {
			log.Warn("gate_approvals_dsn_error", "error", err.Error())
		} else {
			st, err := guard.NewSQLiteApprovalStore(dsn)
			if err != nil {
				log.Warn("gate_approvals_store_error", "error", err.Error())
			} else {
				approvals = st
				rt.closers = append(rt.closers, st.Close)
			}
		}
	}

	rt.Pending = guard.NewPendingApprovals(guard.PendingOptions{
		Store:        approvals,
		DenyOnExpiry: cfg.Approvals.DenyOnExpiry,
		Notify:       notify,
		Logger:       log,
	})

	opts := []guard.Option{
		guard.WithLogger(log),
		guard.WithDecisionSourceResolver(rt.Pending.SourceOf),
	}
	if viper.GetBool("metrics.enabled") {
		rt.Registry = prometheus.NewRegistry()
		obs, err := guard.NewPrometheusObserver("", rt.Registry)
		if err != nil {
			log.Warn("gate_metrics_error", "error", err.Error())
		} else {
			opts = append(opts, guard.WithObserver(obs))
		}
	}

	rt.Gate = guard.New(cfg, store, sink, opts...)

	log.Info("gate_ready",
		"settings_backend", viper.GetString("settings.backend"),
		"audit_jsonl", jsonlPath,
		"audit_sqlite", cfg.Audit.SQLite,
		"approvals_store", approvals != nil,
		"deny_on_expiry", cfg.Approvals.DenyOnExpiry,
		"approval_ttl", cfg.Approvals.TTL.String(),
	)
	return rt, nil
}

func (rt *gateRuntime) settingsFromViper(ctx context.Context) (settings.Store, error) {
	switch backend := strings.ToLower(strings.TrimSpace(viper.GetString("settings.backend"))); backend {
	case "memory":
		return settings.NewMemoryStore(), nil
	case "sqlite":
		gdb, err := rt.openDB(ctx)
		if err != nil {
			return nil, err
		}
		return settings.NewGormStore(gdb), nil
	case "", "yaml":
		path := pathutil.StatePath(viper.GetString("settings.path"), "settings.yaml")
		if path == "" {
			return nil, fmt.Errorf("cannot resolve settings path (no settings.path and no home dir)")
		}
		return settings.NewYAMLFileStore(path)
	default:
		return nil, fmt.Errorf("unsupported settings.backend: %q", backend)
	}
}

func (rt *gateRuntime) auditFromViper(ctx context.Context, cfg guard.AuditConfig) (guard.AuditSink, string) {
	var sinks guard.MultiSink

	jsonlPath := pathutil.StatePath(cfg.JSONLPath, "gate_audit.jsonl")
	if jsonlPath != "" {
		if dir := filepath.Dir(jsonlPath); dir != "" {
			_ = os.MkdirAll(dir, 0o700)
		}
		s, err := guard.NewJSONLAuditSink(jsonlPath, cfg.RotateMaxBytes)
		if err != nil {
			rt.log.Warn("gate_audit_sink_error", "sink", "jsonl", "error", err.Error())
			jsonlPath = ""
		} else {
			sinks = append(sinks, s)
		}
	}
	if cfg.SQLite {
		gdb, err := rt.openDB(ctx)
		if err != nil {
			rt.log.Warn("gate_audit_sink_error", "sink", "sqlite", "error", err.Error())
		} else {
			sinks = append(sinks, guard.NewGormAuditSink(gdb))
		}
	}
	if len(sinks) == 0 {
		return nil, ""
	}
	rt.closers = append(rt.closers, sinks.Close)
	return sinks, jsonlPath
}

// openDB opens the shared gorm handle once per runtime.
func (rt *gateRuntime) openDB(ctx context.Context) (*gorm.DB, error) {
	if rt.gdb != nil {
		return rt.gdb, nil
	}
	gdb, err := db.Open(ctx, dbConfigFromViper())
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	rt.gdb = gdb
	rt.closers = append(rt.closers, func() error { return db.Close(gdb) })
	return gdb, nil
}
