package logging

import "testing"

func TestMaskFieldRedactsUnknownKeys(t *testing.T) {
	attr := MaskField("cleartext", "01")
	if attr.Value.String() != RedactedValue {
		t.Fatalf("cleartext must be redacted, got %q", attr.Value.String())
	}
	attr = MaskField("requestId", "req-1")
	if attr.Value.String() != "req-1" {
		t.Fatalf("allowlisted key must pass through, got %q", attr.Value.String())
	}
	// Empty values stay empty rather than becoming placeholder noise.
	attr = MaskField("cleartext", "")
	if attr.Value.String() != "" {
		t.Fatalf("empty value must pass through, got %q", attr.Value.String())
	}
}

func TestAllowlistNeverContainsSensitiveKeys(t *testing.T) {
	for _, key := range []string{"cleartext", "proof", "secret", "token", "signature"} {
		if IsAllowlisted(key) {
			t.Fatalf("sensitive key %q must not be allowlisted", key)
		}
	}
	for _, key := range []string{"requestId", "batchId", "handle", "provider"} {
		if !IsAllowlisted(key) {
			t.Fatalf("metadata key %q should be allowlisted", key)
		}
	}
}
