package shared

import (
	"regexp"
	"strings"
)

const redactedPlaceholder = "[REDACTED]"

// secretRule pairs a pattern with the submatch index to keep in the
// output. keep 0 redacts the entire match.
type secretRule struct {
	pattern *regexp.Regexp
	keep    int
}

// secretRules covers the credentials that show up in hook payloads.
// Prompt text and tool errors arrive verbatim from upstream agents and
// regularly embed pasted provider keys, so well-known provider prefixes
// are matched directly in addition to the generic key=value forms.
var secretRules = []secretRule{
	// credential-like key=value or key: value assignments
	{regexp.MustCompile(`(?i)(api[_-]?key|apikey|secret[_-]?key|auth[_-]?token|access[_-]?token|password)\s*[:=]\s*"?([A-Za-z0-9_\-./+=]{8,})"?`), 1},
	// Authorization headers
	{regexp.MustCompile(`(?i)(Bearer\s+)([A-Za-z0-9_\-./+=]{16,})`), 1},
	// model-provider keys (sk- prefix)
	{regexp.MustCompile(`\bsk-[A-Za-z0-9_\-]{20,}`), 0},
	// GitHub tokens, classic and fine-grained
	{regexp.MustCompile(`\b(?:ghp|gho|ghs|ghr)_[A-Za-z0-9]{20,}`), 0},
	{regexp.MustCompile(`\bgithub_pat_[A-Za-z0-9_]{20,}`), 0},
	// AWS access key ids
	{regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`), 0},
	// Slack tokens
	{regexp.MustCompile(`\bxox[abpors]-[A-Za-z0-9\-]{10,}`), 0},
	// Google API keys
	{regexp.MustCompile(`\bAIza[A-Za-z0-9_\-]{30,}`), 0},
	// UUIDs assigned to auth-related keys
	{regexp.MustCompile(`(?i)(token|secret)\s*[:=]\s*"?([0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12})"?`), 1},
}

// Redact strips credentials from a string before it is persisted to the
// audit trail, the anomaly log, or a decision message. Failure-streak
// tracking stores tool error text across events, so anything passing
// through here may sit on disk for the rest of the session.
func Redact(input string) string {
	if input == "" {
		return input
	}
	out := input
	for _, rule := range secretRules {
		pat, keep := rule.pattern, rule.keep
		out = pat.ReplaceAllStringFunc(out, func(match string) string {
			if keep > 0 {
				if sub := pat.FindStringSubmatch(match); len(sub) > keep {
					return sub[keep] + redactedPlaceholder
				}
			}
			return redactedPlaceholder
		})
	}
	return out
}

// sensitiveEnvMarkers flags environment keys whose values must never be
// echoed, even at debug level.
var sensitiveEnvMarkers = []string{"api_key", "apikey", "secret", "token", "password", "credential"}

// RedactEnvValue hides the value of a secret-looking environment key.
// Applied when active SPAWNGUARD_* overrides are echoed to the debug
// log at startup.
func RedactEnvValue(key, value string) string {
	lower := strings.ToLower(key)
	for _, marker := range sensitiveEnvMarkers {
		if strings.Contains(lower, marker) {
			return redactedPlaceholder
		}
	}
	return value
}
