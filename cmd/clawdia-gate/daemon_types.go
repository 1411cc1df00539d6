package main

import (
	"github.com/chillysbabybackribs/clawdia/guard"
)

type AuthorizeRequest struct {
	Tool   string         `json:"tool"`
	Input  map[string]any `json:"input,omitempty"`
	TaskID string         `json:"taskId,omitempty"`
	// Mode overrides the persisted autonomy mode for this call; optional.
	Mode string `json:"mode,omitempty"`
}

type ResolveApprovalRequest struct {
	Decision string `json:"decision"`
	Source   string `json:"source,omitempty"`
}

type ApprovalsResponse struct {
	Items []guard.ApprovalRequest `json:"items"`
}

type ModeBody struct {
	Mode guard.AutonomyMode `json:"mode"`
}

type OverridesResponse struct {
	Always []guard.RiskLevel `json:"always"`
}

type ClassifyRequest struct {
	Tool  string         `json:"tool"`
	Input map[string]any `json:"input,omitempty"`
}

type ExecutionRequest struct {
	TaskID     string         `json:"taskId,omitempty"`
	RequestID  string         `json:"requestId,omitempty"`
	Tool       string         `json:"tool"`
	Input      map[string]any `json:"input,omitempty"`
	DurationMs int64          `json:"durationMs,omitempty"`
	ExitCode   *int           `json:"exitCode,omitempty"`
	Error      string         `json:"error,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}
