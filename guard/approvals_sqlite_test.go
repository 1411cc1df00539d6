package guard

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func TestSQLiteApprovalStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "approvals.db")
	s, err := NewSQLiteApprovalStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteApprovalStore: %v", err)
	}

	created := time.Now().UTC().Truncate(time.Millisecond)
	req := ApprovalRequest{
		RequestID:    "r1",
		Tool:         ToolShellExec,
		Risk:         RiskSensitiveRead,
		Reason:       "sensitive path or credential access: id_rsa",
		Detail:       "cat id_rsa",
		AutonomyMode: ModeGuided,
		TaskID:       "c1",
		CreatedAt:    created,
		ExpiresAt:    created.Add(DefaultApprovalTTL),
	}
	if err := s.Create(ctx, ApprovalRecord{Request: req, ActionHash: req.actionHash()}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Create(ctx, ApprovalRecord{Request: ApprovalRequest{RequestID: "r2", Tool: "file_write", Risk: RiskElevated, CreatedAt: created.Add(time.Second), ExpiresAt: created.Add(time.Minute)}}); err != nil {
		t.Fatalf("Create r2: %v", err)
	}

	rec, ok, err := s.Get(ctx, "r1")
	if err != nil || !ok {
		t.Fatalf("Get = %v, %v", ok, err)
	}
	got := rec.Request
	if got.RequestID != req.RequestID || got.Tool != req.Tool || got.Risk != req.Risk || got.Reason != req.Reason ||
		got.Detail != req.Detail || got.AutonomyMode != req.AutonomyMode || got.TaskID != req.TaskID {
		t.Fatalf("Get request = %+v, want %+v", got, req)
	}
	if !got.CreatedAt.Equal(req.CreatedAt) || !got.ExpiresAt.Equal(req.ExpiresAt) {
		t.Fatalf("Get times = %v / %v, want %v / %v", got.CreatedAt, got.ExpiresAt, req.CreatedAt, req.ExpiresAt)
	}
	if rec.ActionHash != req.actionHash() {
		t.Fatalf("action hash = %q", rec.ActionHash)
	}
	if rec.Status != ApprovalPending || rec.ResolvedAt != nil {
		t.Fatalf("record = %+v", rec)
	}

	pending, err := s.ListPending(ctx)
	if err != nil || len(pending) != 2 || pending[0].Request.RequestID != "r1" {
		t.Fatalf("ListPending = %+v, %v", pending, err)
	}

	if err := s.Resolve(ctx, "r1", DecisionDeny, SourceTimeout); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if err := s.Resolve(ctx, "r1", DecisionApprove, SourceDesktop); !errors.Is(err, ErrAlreadyResolved) {
		t.Fatalf("second Resolve error = %v", err)
	}
	if err := s.Resolve(ctx, "missing", DecisionApprove, SourceDesktop); !errors.Is(err, ErrUnknownRequest) {
		t.Fatalf("missing Resolve error = %v", err)
	}

	rec, _, _ = s.Get(ctx, "r1")
	if rec.Status != ApprovalExpired || rec.Decision != DecisionDeny || rec.Source != SourceTimeout {
		t.Fatalf("resolved record = %+v", rec)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Reopen and confirm persistence.
	s2, err := NewSQLiteApprovalStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	pending, err = s2.ListPending(ctx)
	if err != nil || len(pending) != 1 || pending[0].Request.RequestID != "r2" {
		t.Fatalf("ListPending after reopen = %+v, %v", pending, err)
	}
	if _, ok, _ := s2.Get(ctx, ""); ok {
		t.Fatalf("blank id matched")
	}
}

func TestStatusForDecision(t *testing.T) {
	cases := []struct {
		d    ApprovalDecision
		src  DecisionSource
		want ApprovalStatus
	}{
		{DecisionApprove, SourceDesktop, ApprovalApproved},
		{DecisionTask, SourceTelegram, ApprovalApproved},
		{DecisionAlways, SourceAuto, ApprovalApproved},
		{DecisionDeny, SourceDesktop, ApprovalDenied},
		{DecisionDeny, SourceTimeout, ApprovalExpired},
	}
	for _, tc := range cases {
		if got := statusForDecision(tc.d, tc.src); got != tc.want {
			t.Fatalf("statusForDecision(%s, %s) = %s, want %s", tc.d, tc.src, got, tc.want)
		}
	}
}
