package logging

import "testing"

func TestMaskFieldRedactsSensitiveKeys(t *testing.T) {
	attr := MaskField("api_key", "ops-key-1")
	if attr.Value.String() != RedactedValue {
		t.Fatalf("api_key value %q, want masked", attr.Value.String())
	}
	attr = MaskField("signature", "deadbeef")
	if attr.Value.String() != RedactedValue {
		t.Fatalf("signature value %q, want masked", attr.Value.String())
	}
}

func TestMaskFieldKeepsAllowlistedKeys(t *testing.T) {
	attr := MaskField("reason", "timestamp outside window")
	if attr.Value.String() != "timestamp outside window" {
		t.Fatalf("reason value %q, want verbatim", attr.Value.String())
	}
}

func TestMaskFieldKeepsEmptyValues(t *testing.T) {
	attr := MaskField("api_key", "")
	if attr.Value.String() != "" {
		t.Fatalf("empty value %q, want empty", attr.Value.String())
	}
}

func TestAllowlistIsSortedAndStable(t *testing.T) {
	keys := RedactionAllowlist()
	if len(keys) == 0 {
		t.Fatal("allowlist empty")
	}
	for i := 1; i < len(keys); i++ {
		if keys[i-1] >= keys[i] {
			t.Fatalf("allowlist not sorted at %d: %q >= %q", i, keys[i-1], keys[i])
		}
	}
	if !IsAllowlisted("Reason") {
		t.Fatal("allowlist lookup should be case-insensitive")
	}
	if IsAllowlisted("api_key") {
		t.Fatal("api_key must never be allowlisted")
	}
}
