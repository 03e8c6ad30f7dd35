package anomaly

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/basket/spawnguard/internal/shared"
)

// logRecord is one line of the anomaly log. Records are only ever
// appended; nothing rewrites or deduplicates them.
type logRecord struct {
	Timestamp string  `json:"timestamp"`
	Type      string  `json:"type"`
	Severity  string  `json:"severity"`
	Value     float64 `json:"value,omitempty"`
	Baseline  float64 `json:"baseline,omitempty"`
	Message   string  `json:"message,omitempty"`
	SessionID string  `json:"session_id,omitempty"`
	Tool      string  `json:"tool,omitempty"`
}

// Log appends detected and warned anomalies to logs/anomalies.jsonl.
type Log struct {
	path string
	now  func() time.Time
}

// NewLog creates the log under homeDir.
func NewLog(homeDir string, now func() time.Time) *Log {
	if now == nil {
		now = time.Now
	}
	return &Log{path: filepath.Join(homeDir, "logs", "anomalies.jsonl"), now: now}
}

// Append writes one record per notable detection. Best effort: a
// logging failure never fails the check.
func (l *Log) Append(sessionID, tool string, detections []Detection) {
	var lines []byte
	for _, d := range detections {
		if !d.notable() {
			continue
		}
		rec := logRecord{
			Timestamp: l.now().UTC().Format(time.RFC3339Nano),
			Type:      d.Type,
			Severity:  d.Severity,
			Value:     d.Value,
			Baseline:  d.Baseline,
			Message:   shared.Redact(d.Message),
			SessionID: sessionID,
			Tool:      tool,
		}
		b, err := json.Marshal(rec)
		if err != nil {
			continue
		}
		lines = append(lines, append(b, '\n')...)
	}
	if len(lines) == 0 {
		return
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = f.Write(lines)
}
