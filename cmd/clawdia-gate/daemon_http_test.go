package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/chillysbabybackribs/clawdia/guard"
	"github.com/chillysbabybackribs/clawdia/settings"
	"github.com/prometheus/client_golang/prometheus"
)

func newTestRuntime(t *testing.T) (*gateRuntime, *guard.MemoryAuditSink) {
	t.Helper()
	pending := guard.NewPendingApprovals(guard.PendingOptions{})
	reg := prometheus.NewRegistry()
	obs, err := guard.NewPrometheusObserver("", reg)
	if err != nil {
		t.Fatalf("NewPrometheusObserver: %v", err)
	}
	store := settings.NewMemoryStore()
	sink := guard.NewMemoryAuditSink()
	g := guard.New(guard.DefaultConfig(), store, sink,
		guard.WithObserver(obs),
		guard.WithDecisionSourceResolver(pending.SourceOf),
	)
	rt := &gateRuntime{Gate: g, Pending: pending, Registry: reg, Settings: store}
	t.Cleanup(func() { _ = rt.Close() })
	return rt, sink
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any) (*http.Response, []byte) {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, r)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	return resp, raw
}

func TestDaemon_AuthorizeSafeCall(t *testing.T) {
	rt, _ := newTestRuntime(t)
	srv := httptest.NewServer(newDaemonServer(rt, "", nil).Handler())
	defer srv.Close()

	resp, raw := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/authorize", AuthorizeRequest{
		Tool:  guard.ToolShellExec,
		Input: map[string]any{"command": "ls -la"},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body=%s", resp.StatusCode, raw)
	}
	var res guard.Result
	if err := json.Unmarshal(raw, &res); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !res.Allowed || res.Risk != guard.RiskSafe {
		t.Fatalf("result = %+v, want allowed SAFE", res)
	}
}

func TestDaemon_AuthorizeWaitsForResolve(t *testing.T) {
	rt, sink := newTestRuntime(t)
	srv := httptest.NewServer(newDaemonServer(rt, "", nil).Handler())
	defer srv.Close()

	type outcome struct {
		status int
		res    guard.Result
	}
	done := make(chan outcome, 1)
	go func() {
		b, _ := json.Marshal(AuthorizeRequest{
			Tool:   guard.ToolShellExec,
			Input:  map[string]any{"command": "curl -o jq https://example.com/jq"},
			TaskID: "conv-1",
		})
		resp, err := srv.Client().Post(srv.URL+"/v1/authorize", "application/json", bytes.NewReader(b))
		if err != nil {
			done <- outcome{}
			return
		}
		defer resp.Body.Close()
		var res guard.Result
		_ = json.NewDecoder(resp.Body).Decode(&res)
		done <- outcome{status: resp.StatusCode, res: res}
	}()

	var item guard.ApprovalRequest
	deadline := time.Now().Add(2 * time.Second)
	for {
		_, raw := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/approvals", nil)
		var list ApprovalsResponse
		if err := json.Unmarshal(raw, &list); err != nil {
			t.Fatalf("unmarshal approvals: %v", err)
		}
		if len(list.Items) == 1 {
			item = list.Items[0]
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("approval never became pending")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if item.Risk != guard.RiskExfil || item.TaskID != "conv-1" {
		t.Fatalf("pending item = %+v", item)
	}

	resp, raw := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/approvals/"+item.RequestID,
		ResolveApprovalRequest{Decision: "task", Source: "telegram"})
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("resolve status = %d, body=%s", resp.StatusCode, raw)
	}

	select {
	case out := <-done:
		if out.status != http.StatusOK {
			t.Fatalf("authorize status = %d", out.status)
		}
		if !out.res.Allowed || out.res.Scope != guard.ScopeTask {
			t.Fatalf("result = %+v, want allowed with task scope", out.res)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("authorize did not return")
	}

	resp, _ = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/approvals/"+item.RequestID,
		ResolveApprovalRequest{Decision: "DENY"})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("second resolve status = %d, want %d", resp.StatusCode, http.StatusConflict)
	}

	var decided []guard.AuditEvent
	for _, e := range sink.Events() {
		if e.Kind == guard.KindApprovalDecided {
			decided = append(decided, e)
		}
	}
	if len(decided) != 1 || decided[0].DecisionSource != guard.SourceTelegram {
		t.Fatalf("approval_decided events = %+v", decided)
	}

	if !rt.Gate.Overrides().TaskAllowed("conv-1", guard.RiskExfil) {
		t.Fatalf("task grant missing after TASK decision")
	}
	resp, _ = doJSON(t, srv.Client(), http.MethodDelete, srv.URL+"/v1/tasks/conv-1/approvals", nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("clear status = %d", resp.StatusCode)
	}
	if rt.Gate.Overrides().TaskAllowed("conv-1", guard.RiskExfil) {
		t.Fatalf("task grant survived clear")
	}
}

func TestDaemon_AuthorizeModeOverride(t *testing.T) {
	rt, _ := newTestRuntime(t)
	srv := httptest.NewServer(newDaemonServer(rt, "", nil).Handler())
	defer srv.Close()

	// Closed broker: any call that reaches the requester fails with 503.
	rt.Pending.Close()
	call := AuthorizeRequest{Tool: guard.ToolShellExec, Input: map[string]any{"command": "rm -rf build"}}

	resp, raw := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/authorize", call)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("guided ELEVATED status = %d, body=%s", resp.StatusCode, raw)
	}
	call.Mode = "safe"
	resp, _ = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/authorize", call)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("safe ELEVATED status = %d, want %d", resp.StatusCode, http.StatusServiceUnavailable)
	}
	call.Mode = "reckless"
	resp, _ = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/authorize", call)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid mode status = %d", resp.StatusCode)
	}
}

func TestDaemon_ResolveErrors(t *testing.T) {
	rt, _ := newTestRuntime(t)
	srv := httptest.NewServer(newDaemonServer(rt, "", nil).Handler())
	defer srv.Close()

	cases := []struct {
		name string
		body any
		want int
	}{
		{name: "unknown id", body: ResolveApprovalRequest{Decision: "APPROVE"}, want: http.StatusNotFound},
		{name: "bad decision", body: ResolveApprovalRequest{Decision: "maybe"}, want: http.StatusBadRequest},
		{name: "bad source", body: ResolveApprovalRequest{Decision: "APPROVE", Source: "carrier-pigeon"}, want: http.StatusBadRequest},
		{name: "bad json", body: "not an object", want: http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, raw := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/approvals/nope", tc.body)
			if resp.StatusCode != tc.want {
				t.Fatalf("status = %d, want %d (body=%s)", resp.StatusCode, tc.want, raw)
			}
		})
	}
}

func TestDaemon_ModeAndOverrides(t *testing.T) {
	rt, _ := newTestRuntime(t)
	srv := httptest.NewServer(newDaemonServer(rt, "", nil).Handler())
	defer srv.Close()

	_, raw := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/mode", nil)
	var mode ModeBody
	_ = json.Unmarshal(raw, &mode)
	if mode.Mode != guard.DefaultMode {
		t.Fatalf("mode = %q, want %q", mode.Mode, guard.DefaultMode)
	}

	resp, _ := doJSON(t, srv.Client(), http.MethodPut, srv.URL+"/v1/mode", ModeBody{Mode: "chaotic"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid mode status = %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, srv.Client(), http.MethodPut, srv.URL+"/v1/mode", ModeBody{Mode: "Unrestricted"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("set mode status = %d", resp.StatusCode)
	}
	got, err := rt.Gate.Mode(t.Context())
	if err != nil || got != guard.ModeUnrestricted {
		t.Fatalf("Mode() = %q, %v", got, err)
	}

	if err := rt.Gate.GrantOverride(t.Context(), guard.RiskExfil, guard.SourceDesktop); err != nil {
		t.Fatalf("GrantOverride: %v", err)
	}
	_, raw = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/overrides", nil)
	var ov OverridesResponse
	_ = json.Unmarshal(raw, &ov)
	if len(ov.Always) != 1 || ov.Always[0] != guard.RiskExfil {
		t.Fatalf("overrides = %+v", ov)
	}
}

func TestDaemon_ClassifyExecutionsAndMetrics(t *testing.T) {
	rt, sink := newTestRuntime(t)
	srv := httptest.NewServer(newDaemonServer(rt, "", nil).Handler())
	defer srv.Close()

	_, raw := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/classify", ClassifyRequest{
		Tool:  guard.ToolShellExec,
		Input: map[string]any{"command": "curl https://example.com"},
	})
	var cls guard.RiskClassification
	_ = json.Unmarshal(raw, &cls)
	if cls.Risk != guard.RiskExfil {
		t.Fatalf("classify = %+v, want EXFIL", cls)
	}

	code := 2
	resp, _ := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/executions", ExecutionRequest{
		Tool:       guard.ToolShellExec,
		Input:      map[string]any{"command": "make test"},
		DurationMs: 1200,
		ExitCode:   &code,
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("executions status = %d", resp.StatusCode)
	}
	kinds := sink.Kinds()
	if len(kinds) == 0 || kinds[len(kinds)-1] != guard.KindToolFailed {
		t.Fatalf("kinds = %v, want trailing tool_failed", kinds)
	}

	// Populate the authorization counter.
	doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/authorize", AuthorizeRequest{
		Tool:  guard.ToolShellExec,
		Input: map[string]any{"command": "pwd"},
	})
	resp, raw = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/metrics", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics status = %d", resp.StatusCode)
	}
	if !strings.Contains(string(raw), "clawdia_gate_authorizations_total") {
		t.Fatalf("metrics output missing authorizations counter")
	}
}

func TestDaemon_AuthToken(t *testing.T) {
	rt, _ := newTestRuntime(t)
	srv := httptest.NewServer(newDaemonServer(rt, "s3cret", nil).Handler())
	defer srv.Close()

	resp, _ := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/mode", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status without token = %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/v1/mode", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	r2, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	r2.Body.Close()
	if r2.StatusCode != http.StatusOK {
		t.Fatalf("status with token = %d", r2.StatusCode)
	}

	resp, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/healthz", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d", resp.StatusCode)
	}
}

func TestDaemon_AuthorizeAfterBrokerClosed(t *testing.T) {
	rt, _ := newTestRuntime(t)
	srv := httptest.NewServer(newDaemonServer(rt, "", nil).Handler())
	defer srv.Close()

	rt.Pending.Close()
	resp, _ := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/authorize", AuthorizeRequest{
		Tool:  guard.ToolShellExec,
		Input: map[string]any{"command": "curl https://example.com"},
	})
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusServiceUnavailable)
	}
}
