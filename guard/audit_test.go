package guard

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/chillysbabybackribs/clawdia/db"
)

func TestJSONLAuditSink_AppendsLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit", "gate.jsonl")
	s, err := NewJSONLAuditSink(path, 0)
	if err != nil {
		t.Fatalf("NewJSONLAuditSink: %v", err)
	}
	ctx := context.Background()
	exit := 0
	events := []AuditEvent{
		{ID: "e1", Timestamp: time.Unix(1, 0).UTC(), Kind: KindRiskClassified, Risk: RiskExfil, Outcome: OutcomeInfo},
		{ID: "e2", Timestamp: time.Unix(2, 0).UTC(), Kind: KindToolExecuted, ExitCode: &exit, Outcome: OutcomeExecuted},
	}
	for _, e := range events {
		if err := s.Emit(ctx, e); err != nil {
			t.Fatalf("Emit: %v", err)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Emit(ctx, events[0]); err == nil {
		t.Fatalf("Emit after Close succeeded")
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	var got []AuditEvent
	for sc.Scan() {
		var e AuditEvent
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("decode %q: %v", sc.Text(), err)
		}
		got = append(got, e)
	}
	if len(got) != 2 || got[0].ID != "e1" || got[1].Kind != KindToolExecuted || got[1].ExitCode == nil || *got[1].ExitCode != 0 {
		t.Fatalf("lines = %+v", got)
	}
}

func TestJSONLAuditSink_WireNames(t *testing.T) {
	b, err := json.Marshal(AuditEvent{ID: "e1", Kind: KindApprovalDecided, ConversationID: "c1", DecisionScope: ScopeTask, URLPreview: "https://x"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	s := string(b)
	for _, want := range []string{`"conversationId":"c1"`, `"decisionScope":"task"`, `"urlPreview":"https://x"`, `"kind":"approval_decided"`} {
		if !strings.Contains(s, want) {
			t.Fatalf("json %s missing %s", s, want)
		}
	}
	if strings.Contains(s, "durationMs") || strings.Contains(s, "exitCode") {
		t.Fatalf("json %s carries empty optional fields", s)
	}
}

func TestJSONLAuditSink_Rotates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gate.jsonl")
	s, err := NewJSONLAuditSink(path, 256)
	if err != nil {
		t.Fatalf("NewJSONLAuditSink: %v", err)
	}
	s.MaxBackups = 2
	defer s.Close()

	e := AuditEvent{ID: "e", Kind: KindRiskClassified, Detail: strings.Repeat("x", 150)}
	for i := 0; i < 8; i++ {
		if err := s.Emit(context.Background(), e); err != nil {
			t.Fatalf("Emit: %v", err)
		}
		time.Sleep(time.Millisecond)
	}
	backups, _ := filepath.Glob(path + ".*")
	if len(backups) == 0 || len(backups) > 2 {
		t.Fatalf("backups = %v, want 1..2", backups)
	}
	st, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if st.Size() > 256 {
		t.Fatalf("active file size = %d, want <= 256", st.Size())
	}
}

func TestNewJSONLAuditSink_MissingPath(t *testing.T) {
	if _, err := NewJSONLAuditSink("  ", 0); err == nil {
		t.Fatalf("expected error for blank path")
	}
}

type errSink struct{}

func (errSink) Emit(context.Context, AuditEvent) error { return errors.New("nope") }

func (errSink) Close() error { return errors.New("close nope") }

func TestMultiSink(t *testing.T) {
	a, b := NewMemoryAuditSink(), NewMemoryAuditSink()
	m := MultiSink{a, nil, errSink{}, b}
	if err := m.Emit(context.Background(), AuditEvent{ID: "e1", Kind: KindOverrideAdded}); err == nil {
		t.Fatalf("MultiSink.Emit swallowed an error")
	}
	if len(a.Events()) != 1 || len(b.Events()) != 1 {
		t.Fatalf("fan-out stopped at the failing sink")
	}
	if err := m.Close(); err == nil {
		t.Fatalf("MultiSink.Close swallowed an error")
	}
}

func TestGormAuditSink(t *testing.T) {
	cfg := db.DefaultConfig()
	cfg.DSN = filepath.Join(t.TempDir(), "gate.db")
	gdb, err := db.Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("db.Open: %v", err)
	}
	defer db.Close(gdb)

	sink := NewGormAuditSink(gdb)
	g := New(DefaultConfig(), nil, sink)
	req := &countingRequester{decision: DecisionAlways}
	if _, err := g.Authorize(context.Background(), shellCall("curl https://example.com", "c1"), req.fn); err != nil {
		t.Fatalf("Authorize: %v", err)
	}

	got, err := sink.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	kinds := make([]AuditKind, 0, len(got))
	for _, e := range got {
		kinds = append(kinds, e.Kind)
	}
	want := []AuditKind{KindOverrideAdded, KindApprovalDecided, KindApprovalRequested, KindRiskClassified}
	if len(kinds) != len(want) {
		t.Fatalf("kinds = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("kinds = %v, want %v", kinds, want)
		}
	}
	if got[1].DecisionScope != ScopeAlways || got[1].ConversationID != "c1" {
		t.Fatalf("decided = %+v", got[1])
	}
}
