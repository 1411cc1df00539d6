package guard

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// RiskLevel is a category, not a severity scale. No ordering between
// levels is implied.
type RiskLevel string

const (
	RiskSafe            RiskLevel = "SAFE"
	RiskElevated        RiskLevel = "ELEVATED"
	RiskExfil           RiskLevel = "EXFIL"
	RiskSensitiveDomain RiskLevel = "SENSITIVE_DOMAIN"
	RiskSensitiveRead   RiskLevel = "SENSITIVE_READ"
)

func ParseRiskLevel(s string) (RiskLevel, error) {
	switch r := RiskLevel(strings.ToUpper(strings.TrimSpace(s))); r {
	case RiskSafe, RiskElevated, RiskExfil, RiskSensitiveDomain, RiskSensitiveRead:
		return r, nil
	default:
		return "", fmt.Errorf("invalid risk level: %q", s)
	}
}

type AutonomyMode string

const (
	ModeSafe         AutonomyMode = "safe"
	ModeGuided       AutonomyMode = "guided"
	ModeUnrestricted AutonomyMode = "unrestricted"

	DefaultMode = ModeGuided
)

func ParseAutonomyMode(s string) (AutonomyMode, error) {
	switch m := AutonomyMode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeSafe, ModeGuided, ModeUnrestricted:
		return m, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
	}
}

type RiskClassification struct {
	Risk   RiskLevel `json:"risk"`
	Reason string    `json:"reason,omitempty"`
	Detail string    `json:"detail,omitempty"`
}

type ApprovalDecision string

const (
	DecisionApprove ApprovalDecision = "APPROVE"
	DecisionTask    ApprovalDecision = "TASK"
	DecisionAlways  ApprovalDecision = "ALWAYS"
	DecisionDeny    ApprovalDecision = "DENY"
)

func ParseApprovalDecision(s string) (ApprovalDecision, error) {
	switch d := ApprovalDecision(strings.ToUpper(strings.TrimSpace(s))); d {
	case DecisionApprove, DecisionTask, DecisionAlways, DecisionDeny:
		return d, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidDecision, s)
	}
}

type DecisionScope string

const (
	ScopeOnce   DecisionScope = "once"
	ScopeTask   DecisionScope = "task"
	ScopeAlways DecisionScope = "always"
)

type DecisionSource string

const (
	SourceDesktop  DecisionSource = "desktop"
	SourceTelegram DecisionSource = "telegram"
	SourceAuto     DecisionSource = "auto"
	SourceTimeout  DecisionSource = "timeout"
)

func ParseDecisionSource(s string) (DecisionSource, error) {
	switch src := DecisionSource(strings.ToLower(strings.TrimSpace(s))); src {
	case SourceDesktop, SourceTelegram, SourceAuto, SourceTimeout:
		return src, nil
	case "":
		return SourceDesktop, nil
	default:
		return "", fmt.Errorf("invalid decision source: %q", s)
	}
}

// DefaultApprovalTTL is surfaced to the UI as ExpiresAt.
const DefaultApprovalTTL = 90 * time.Second

type ApprovalRequest struct {
	RequestID    string       `json:"requestId"`
	Tool         string       `json:"tool"`
	Risk         RiskLevel    `json:"risk"`
	Reason       string       `json:"reason"`
	Detail       string       `json:"detail"`
	AutonomyMode AutonomyMode `json:"autonomyMode"`
	TaskID       string       `json:"taskId,omitempty"`
	CreatedAt    time.Time    `json:"createdAt"`
	ExpiresAt    time.Time    `json:"expiresAt"`
}

// RequestApprovalFunc blocks until a human (or an automated stand-in)
// decides on req.
type RequestApprovalFunc func(ctx context.Context, req ApprovalRequest) (ApprovalDecision, error)

// DecisionSourceResolver maps a request id to the channel its decision
// arrived through. It is only used for audit attribution.
type DecisionSourceResolver func(requestID string) DecisionSource

// AutonomyOverrides is the persisted "always allow" map.
type AutonomyOverrides map[RiskLevel]bool

type AuditKind string

const (
	KindRiskClassified    AuditKind = "risk_classified"
	KindApprovalRequested AuditKind = "approval_requested"
	KindApprovalDecided   AuditKind = "approval_decided"
	KindOverrideAdded     AuditKind = "override_added"
	KindOverrideRemoved   AuditKind = "override_removed"
	KindTaskCleared       AuditKind = "task_overrides_cleared"
	KindToolExecuted      AuditKind = "tool_executed"
	KindToolFailed        AuditKind = "tool_failed"
)

type AuditOutcome string

const (
	OutcomeInfo     AuditOutcome = "info"
	OutcomePending  AuditOutcome = "pending"
	OutcomeExecuted AuditOutcome = "executed"
	OutcomeDenied   AuditOutcome = "denied"
	OutcomeFailed   AuditOutcome = "failed"
)

type AuditEvent struct {
	ID             string           `json:"id"`
	Timestamp      time.Time        `json:"ts"`
	Kind           AuditKind        `json:"kind"`
	ConversationID string           `json:"conversationId,omitempty"`
	RequestID      string           `json:"requestId,omitempty"`
	ToolName       string           `json:"toolName,omitempty"`
	Risk           RiskLevel        `json:"risk,omitempty"`
	RiskReason     string           `json:"riskReason,omitempty"`
	AutonomyMode   AutonomyMode     `json:"autonomyMode,omitempty"`
	Decision       ApprovalDecision `json:"decision,omitempty"`
	DecisionScope  DecisionScope    `json:"decisionScope,omitempty"`
	DecisionSource DecisionSource   `json:"decisionSource,omitempty"`
	Outcome        AuditOutcome     `json:"outcome,omitempty"`
	CommandPreview string           `json:"commandPreview,omitempty"`
	URLPreview     string           `json:"urlPreview,omitempty"`
	Detail         string           `json:"detail,omitempty"`
	DurationMs     *int64           `json:"durationMs,omitempty"`
	ExitCode       *int             `json:"exitCode,omitempty"`
	ErrorPreview   string           `json:"errorPreview,omitempty"`
}

// Call names one tool invocation to authorize.
type Call struct {
	Tool   string
	Input  map[string]any
	TaskID string
}

type Result struct {
	Allowed   bool          `json:"allowed"`
	Error     string        `json:"error,omitempty"`
	Risk      RiskLevel     `json:"risk"`
	Scope     DecisionScope `json:"scope,omitempty"`
	RequestID string        `json:"requestId,omitempty"`
}

// Err returns a *DeniedError when the call was denied, nil otherwise.
func (r Result) Err() error {
	if r.Allowed {
		return nil
	}
	return &DeniedError{Risk: r.Risk, Message: r.Error}
}

// ExecutionReport is what a host sends back after running an authorized tool.
type ExecutionReport struct {
	TaskID    string
	RequestID string
	Tool      string
	Input     map[string]any
	Duration  time.Duration
	ExitCode  *int
	Err       error
}
