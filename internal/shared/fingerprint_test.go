package shared_test

import (
	"testing"

	"github.com/basket/spawnguard/internal/shared"
)

func TestNormalize_CollapsesWhitespaceAndCase(t *testing.T) {
	got := shared.Normalize("  Fix the LOGIN   bug  ")
	if got != "fix the login bug" {
		t.Fatalf("expected normalized text, got %q", got)
	}
}

func TestFingerprint_EqualUpToCaseAndWhitespace(t *testing.T) {
	a := shared.Fingerprint("  Fix the LOGIN bug  ")
	b := shared.Fingerprint("fix the login bug")
	if a != b {
		t.Fatalf("expected equal fingerprints, got %q vs %q", a, b)
	}
	if len(a) != 16 {
		t.Fatalf("expected fixed-width fingerprint, got %q", a)
	}
}

func TestFingerprint_DistinctContent(t *testing.T) {
	if shared.Fingerprint("fix the login bug") == shared.Fingerprint("fix the logout bug") {
		t.Fatal("expected different fingerprints for different content")
	}
}
