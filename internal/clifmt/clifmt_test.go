package clifmt

import (
	"strings"
	"testing"

	"github.com/fatih/color"
)

func TestPlainWhenColorDisabled(t *testing.T) {
	prev := color.NoColor
	color.NoColor = true
	defer func() { color.NoColor = prev }()

	if got := Headerf("%s %d", "gate", 1); got != "gate 1" {
		t.Fatalf("Headerf = %q", got)
	}
	for _, level := range []string{"SAFE", "ELEVATED", "EXFIL"} {
		if got := Risk(level); got != level {
			t.Fatalf("Risk(%q) = %q", level, got)
		}
	}
}

func TestColoredWhenEnabled(t *testing.T) {
	prev := color.NoColor
	color.NoColor = false
	defer func() { color.NoColor = prev }()

	got := Risk("EXFIL")
	if !strings.Contains(got, "\x1b[") || !strings.Contains(got, "EXFIL") {
		t.Fatalf("Risk(EXFIL) = %q, want ANSI colour", got)
	}
}
