package shared

import (
	"fmt"
	"hash/fnv"
	"strings"
)

// Normalize canonicalizes free text for fingerprinting: case-fold,
// trim, and collapse internal whitespace runs to single spaces.
func Normalize(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

// Fingerprint returns a fixed-width content hash of the normalized
// text. Equal up to case and whitespace differences.
func Fingerprint(text string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(Normalize(text)))
	return fmt.Sprintf("%016x", h.Sum64())
}
