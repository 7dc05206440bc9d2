package envelope

import "testing"

func TestValidType(t *testing.T) {
	cases := map[string]bool{
		"Echo":      true,
		"echo_v2":   true,
		"1Echo":     false,
		"":          false,
		"echo-v2":   false,
		"echo v2":   false,
	}
	for in, want := range cases {
		if got := ValidType(in); got != want {
			t.Errorf("ValidType(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestValidName(t *testing.T) {
	cases := map[string]bool{
		"sync":        true,
		"durable-1":   true,
		"durable_1":   true,
		"":            false,
		"bad name!":   false,
	}
	for in, want := range cases {
		if got := ValidName(in); got != want {
			t.Errorf("ValidName(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestMessageValidate(t *testing.T) {
	if err := (Message{Type: "Echo", Payload: map[string]any{}}).Validate(); err != nil {
		t.Fatalf("expected valid message, got %v", err)
	}
	if err := (Message{Type: "1bad", Payload: map[string]any{}}).Validate(); err == nil {
		t.Fatalf("expected error for malformed type")
	}
	if err := (Message{Type: "Echo"}).Validate(); err == nil {
		t.Fatalf("expected error for nil payload")
	}
}

func TestNormalizeMetadata(t *testing.T) {
	got := NormalizeMetadata(map[string]any{" Source ": " api ", "Count": 3, "  ": "dropped"})
	if got["source"] != "api" {
		t.Fatalf("expected trimmed+lowercased key with trimmed string value, got %+v", got)
	}
	if got["count"] != 3 {
		t.Fatalf("expected non-string values to pass through untouched, got %+v", got)
	}
	if _, ok := got["  "]; ok {
		t.Fatalf("expected a blank key to be dropped")
	}
	if NormalizeMetadata(nil) != nil {
		t.Fatalf("expected nil input to return nil")
	}
}
