package pathutil

import (
	"path/filepath"
	"testing"
)

func TestExpandHomePath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cases := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"~", home},
		{"~/a/b", filepath.Join(home, "a", "b")},
		{"/tmp//x/", "/tmp/x"},
		{"rel/./p", "rel/p"},
	}
	for _, tc := range cases {
		if got := ExpandHomePath(tc.in); got != tc.want {
			t.Fatalf("ExpandHomePath(%q)=%q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestStatePath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	if got := StatePath("", "gate.db"); got != filepath.Join(home, ".clawdia", "gate.db") {
		t.Fatalf("unexpected default path: %q", got)
	}
	if got := StatePath("~/custom.db", "gate.db"); got != filepath.Join(home, "custom.db") {
		t.Fatalf("unexpected explicit path: %q", got)
	}
}
