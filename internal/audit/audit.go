package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/basket/spawnguard/internal/shared"
)

// Event kinds. Bypass and fail-open records are distinct from normal
// decisions so that disabled enforcement is itself visible in the trail.
const (
	KindDecision = "decision"
	KindBypass   = "enforcement_bypassed"
	KindFailOpen = "fail_open_used"
)

type entry struct {
	Timestamp     string `json:"timestamp"`
	Kind          string `json:"kind"`
	Decision      string `json:"decision"`
	Check         string `json:"check,omitempty"`
	Reason        string `json:"reason"`
	ConfigVersion string `json:"config_version"`
	SessionID     string `json:"session_id,omitempty"`
	Subject       string `json:"subject,omitempty"`
}

var (
	mu        sync.Mutex
	file      *os.File
	denyCount atomic.Int64
)

// Init opens logs/audit.jsonl under homeDir for appending.
func Init(homeDir string) error {
	mu.Lock()
	defer mu.Unlock()
	if file != nil {
		return nil
	}
	logDir := filepath.Join(homeDir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(logDir, "audit.jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	file = f
	return nil
}

func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if file == nil {
		return nil
	}
	err := file.Close()
	file = nil
	return err
}

// DenyCount returns the total number of deny decisions since Init.
func DenyCount() int64 {
	return denyCount.Load()
}

// Record appends a guard decision to the audit trail.
func Record(decision, check, reason, configVersion, sessionID, subject string) {
	record(KindDecision, decision, check, reason, configVersion, sessionID, subject)
}

// RecordBypass appends a mandatory record for an enforcement-off bypass.
func RecordBypass(reason, configVersion, sessionID string) {
	record(KindBypass, "allow", "", reason, configVersion, sessionID, "")
}

// RecordFailOpen appends a mandatory record for a fail-open override use.
func RecordFailOpen(reason, configVersion, sessionID string) {
	record(KindFailOpen, "allow", "", reason, configVersion, sessionID, "")
}

func record(kind, decision, check, reason, configVersion, sessionID, subject string) {
	if decision == "deny" {
		denyCount.Add(1)
	}

	// Redact secrets before persistence; reasons can quote prompt text.
	reason = shared.Redact(reason)
	subject = shared.Redact(subject)

	mu.Lock()
	defer mu.Unlock()

	if file == nil {
		return
	}
	ev := entry{
		Timestamp:     time.Now().UTC().Format(time.RFC3339Nano),
		Kind:          kind,
		Decision:      decision,
		Check:         check,
		Reason:        reason,
		ConfigVersion: configVersion,
		SessionID:     sessionID,
		Subject:       subject,
	}
	b, err := json.Marshal(ev)
	if err == nil {
		_, _ = file.Write(append(b, '\n'))
	}
}
