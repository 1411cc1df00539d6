package jsonutil

import "testing"

func TestCanonical_SortsKeys(t *testing.T) {
	got, err := Canonical(map[string]any{
		"b": 1,
		"a": map[string]any{"z": true, "y": []any{"<x>", nil}},
	})
	if err != nil {
		t.Fatalf("Canonical error: %v", err)
	}
	want := `{"a":{"y":["<x>",null],"z":true},"b":1}`
	if string(got) != want {
		t.Fatalf("Canonical=%s, want %s", got, want)
	}
}

func TestCanonical_Structs(t *testing.T) {
	type step struct {
		Action string `json:"action"`
		URL    string `json:"url"`
	}
	got, err := Canonical(map[string]any{"steps": []step{{Action: "POST", URL: "https://x"}}})
	if err != nil {
		t.Fatalf("Canonical error: %v", err)
	}
	want := `{"steps":[{"action":"POST","url":"https://x"}]}`
	if string(got) != want {
		t.Fatalf("Canonical=%s, want %s", got, want)
	}
}

func TestCanonical_Unsupported(t *testing.T) {
	if _, err := Canonical(map[string]any{"ch": make(chan int)}); err == nil {
		t.Fatal("expected error for channel value")
	}
}

func TestHash_Stable(t *testing.T) {
	a, err := Hash(map[string]any{"x": 1, "y": "2"})
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	b, err := Hash(map[string]any{"y": "2", "x": 1})
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	if a != b || len(a) != 64 {
		t.Fatalf("expected equal 64-char hashes, got %q and %q", a, b)
	}
}
