package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRecordWritesAuditEntry(t *testing.T) {
	home := t.TempDir()
	if err := Init(home); err != nil {
		t.Fatalf("init audit: %v", err)
	}
	t.Cleanup(func() { _ = Close() })

	Record("deny", "spawn_depth", "depth limit reached", "cfg-abc", "sess-1", "Task")
	Record("allow", "", "all checks passed", "cfg-abc", "sess-1", "Task")

	path := filepath.Join(home, "logs", "audit.jsonl")
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read audit file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(lines) < 2 {
		t.Fatalf("expected at least two audit entries, got %d", len(lines))
	}
	var first map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("unmarshal first audit entry: %v", err)
	}
	if first["decision"] != "deny" {
		t.Fatalf("expected deny decision, got %#v", first["decision"])
	}
	if first["kind"] != KindDecision {
		t.Fatalf("expected kind=decision, got %#v", first["kind"])
	}
	if first["check"] != "spawn_depth" {
		t.Fatalf("expected check spawn_depth, got %#v", first["check"])
	}
	if first["reason"] == "" || first["config_version"] == "" {
		t.Fatalf("expected reason and config_version in audit entry: %#v", first)
	}
}

func TestBypassAndFailOpenAreDistinctKinds(t *testing.T) {
	home := t.TempDir()
	if err := Init(home); err != nil {
		t.Fatalf("init audit: %v", err)
	}
	t.Cleanup(func() { _ = Close() })

	RecordBypass("enforcement mode off", "cfg-abc", "sess-1")
	RecordFailOpen("internal error converted to allow", "cfg-abc", "sess-1")

	raw, err := os.ReadFile(filepath.Join(home, "logs", "audit.jsonl"))
	if err != nil {
		t.Fatalf("read audit file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 audit entries, got %d", len(lines))
	}
	var bypass, failOpen map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &bypass); err != nil {
		t.Fatalf("unmarshal bypass entry: %v", err)
	}
	if err := json.Unmarshal([]byte(lines[1]), &failOpen); err != nil {
		t.Fatalf("unmarshal fail-open entry: %v", err)
	}
	if bypass["kind"] != KindBypass {
		t.Fatalf("expected kind=%s, got %#v", KindBypass, bypass["kind"])
	}
	if failOpen["kind"] != KindFailOpen {
		t.Fatalf("expected kind=%s, got %#v", KindFailOpen, failOpen["kind"])
	}
	if bypass["decision"] != "allow" || failOpen["decision"] != "allow" {
		t.Fatal("bypass and fail-open records must carry allow decisions")
	}
}

func TestRecordRedactsSecrets(t *testing.T) {
	home := t.TempDir()
	if err := Init(home); err != nil {
		t.Fatalf("init audit: %v", err)
	}
	t.Cleanup(func() { _ = Close() })

	Record("deny", "pattern", `prompt contained api_key=abcdef1234567890abcdef`, "cfg-abc", "sess-1", "")

	raw, err := os.ReadFile(filepath.Join(home, "logs", "audit.jsonl"))
	if err != nil {
		t.Fatalf("read audit file: %v", err)
	}
	if strings.Contains(string(raw), "abcdef1234567890abcdef") {
		t.Fatal("expected secret to be redacted from audit entry")
	}
	if !strings.Contains(string(raw), "[REDACTED]") {
		t.Fatal("expected redaction placeholder in audit entry")
	}
}

func TestAuditAppendOnly(t *testing.T) {
	home := t.TempDir()
	if err := Init(home); err != nil {
		t.Fatalf("init audit: %v", err)
	}
	t.Cleanup(func() { _ = Close() })

	Record("allow", "", "first", "cfg-v1", "sess-1", "")
	Record("deny", "cooldown", "second", "cfg-v1", "sess-1", "")

	path := filepath.Join(home, "logs", "audit.jsonl")

	info1, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat audit file: %v", err)
	}
	size1 := info1.Size()

	Record("allow", "", "third", "cfg-v1", "sess-1", "")

	// File size must grow (append-only).
	info2, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat audit file after append: %v", err)
	}
	size2 := info2.Size()
	if size2 <= size1 {
		t.Fatalf("expected file to grow (append-only), size before=%d after=%d", size1, size2)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read audit file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(lines) < 3 {
		t.Fatalf("expected at least 3 lines, got %d", len(lines))
	}
	for i, line := range lines {
		var e map[string]any
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			t.Fatalf("line %d is not valid JSON: %v", i, err)
		}
		if _, ok := e["timestamp"]; !ok {
			t.Fatalf("line %d missing timestamp", i)
		}
		if _, ok := e["decision"]; !ok {
			t.Fatalf("line %d missing decision", i)
		}
	}
}
