package guard

import "testing"

func TestNeedsApproval(t *testing.T) {
	risks := []RiskLevel{RiskSafe, RiskElevated, RiskExfil, RiskSensitiveDomain, RiskSensitiveRead}
	want := map[AutonomyMode]map[RiskLevel]bool{
		ModeUnrestricted: {},
		ModeSafe: {
			RiskElevated: true, RiskExfil: true, RiskSensitiveDomain: true, RiskSensitiveRead: true,
		},
		ModeGuided: {
			RiskExfil: true, RiskSensitiveDomain: true, RiskSensitiveRead: true,
		},
	}
	for mode, byRisk := range want {
		for _, risk := range risks {
			if got := NeedsApproval(mode, risk); got != byRisk[risk] {
				t.Fatalf("NeedsApproval(%s, %s) = %v, want %v", mode, risk, got, byRisk[risk])
			}
		}
	}
}

func TestNeedsApproval_UnknownModeIsStrict(t *testing.T) {
	if !NeedsApproval(AutonomyMode("yolo"), RiskElevated) {
		t.Fatalf("unknown mode should require approval for ELEVATED")
	}
	if NeedsApproval(AutonomyMode("yolo"), RiskSafe) {
		t.Fatalf("SAFE never requires approval")
	}
}

func TestParseEnums(t *testing.T) {
	if m, err := ParseAutonomyMode(" Guided "); err != nil || m != ModeGuided {
		t.Fatalf("ParseAutonomyMode = %q, %v", m, err)
	}
	if _, err := ParseAutonomyMode("reckless"); err == nil {
		t.Fatalf("expected error for invalid mode")
	}
	if d, err := ParseApprovalDecision("always"); err != nil || d != DecisionAlways {
		t.Fatalf("ParseApprovalDecision = %q, %v", d, err)
	}
	if _, err := ParseApprovalDecision("maybe"); err == nil {
		t.Fatalf("expected error for invalid decision")
	}
	if s, err := ParseDecisionSource(""); err != nil || s != SourceDesktop {
		t.Fatalf("ParseDecisionSource(\"\") = %q, %v", s, err)
	}
	if s, err := ParseDecisionSource("Telegram"); err != nil || s != SourceTelegram {
		t.Fatalf("ParseDecisionSource = %q, %v", s, err)
	}
	if r, err := ParseRiskLevel("exfil"); err != nil || r != RiskExfil {
		t.Fatalf("ParseRiskLevel = %q, %v", r, err)
	}
	if _, err := ParseRiskLevel("scary"); err == nil {
		t.Fatalf("expected error for invalid risk")
	}
}
