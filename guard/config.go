package guard

import "time"

type Config struct {
	Redaction RedactionConfig
	Audit     AuditConfig
	Approvals ApprovalsConfig
}

type RedactionConfig struct {
	Patterns []RegexPattern
}

type RegexPattern struct {
	Name string `mapstructure:"name"`
	Re   string `mapstructure:"re"`
}

type AuditConfig struct {
	JSONLPath      string
	RotateMaxBytes int64
	SQLite         bool
}

type ApprovalsConfig struct {
	// TTL is the ExpiresAt offset surfaced to the UI (default 90s).
	TTL time.Duration
	// DenyOnExpiry makes PendingApprovals resolve DENY once ExpiresAt passes.
	DenyOnExpiry bool
	// Store selects the durable request mirror: "sqlite" or "" for none.
	Store string
}

func DefaultConfig() Config {
	return Config{
		Approvals: ApprovalsConfig{
			TTL:          DefaultApprovalTTL,
			DenyOnExpiry: true,
		},
	}
}
