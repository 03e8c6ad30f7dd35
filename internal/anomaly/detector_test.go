package anomaly_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/basket/spawnguard/internal/anomaly"
	"github.com/basket/spawnguard/internal/config"
	"github.com/basket/spawnguard/internal/hookio"
	"github.com/basket/spawnguard/internal/statestore"
)

type fixedProbe struct{ ratio float64 }

func (p fixedProbe) UsedRatio() (float64, error) { return p.ratio, nil }

func detectorConfig(home string) config.Config {
	return config.Config{
		HomeDir: home,
		Anomaly: config.AnomalyConfig{
			TokenMultiplier:    2,
			DurationMultiplier: 3,
			FailureThreshold:   3,
			LoopThreshold:      2,
		},
	}
}

func newDetector(t *testing.T, opts ...anomaly.Option) (*anomaly.Detector, string) {
	t.Helper()
	home := t.TempDir()
	store := statestore.New(filepath.Join(home, "state"))
	opts = append([]anomaly.Option{anomaly.WithMemoryProbe(fixedProbe{ratio: 0.5})}, opts...)
	return anomaly.New(store, detectorConfig(home), nil, opts...), home
}

func findDetection(detections []anomaly.Detection, typ string) (anomaly.Detection, bool) {
	for _, d := range detections {
		if d.Type == typ {
			return d, true
		}
	}
	return anomaly.Detection{}, false
}

func TestCheck_FailureStreakAndReset(t *testing.T) {
	detector, _ := newDetector(t)
	fail := &hookio.Event{ToolName: "Bash", Error: "exit 1"}

	for i := 0; i < 2; i++ {
		detections := detector.Check(fail)
		d, ok := findDetection(detections, anomaly.TypeRepeatedFailure)
		if !ok || d.Detected {
			t.Fatalf("failure %d should be tracked but not detected, got %+v", i+1, detections)
		}
	}

	detections := detector.Check(fail)
	if d, ok := findDetection(detections, anomaly.TypeRepeatedFailure); !ok || !d.Detected {
		t.Fatalf("third failure should detect, got %+v", detections)
	}

	success := true
	detector.Check(&hookio.Event{ToolName: "Bash", Success: &success})

	detections = detector.Check(fail)
	if d, _ := findDetection(detections, anomaly.TypeRepeatedFailure); d.Detected {
		t.Fatalf("streak should reset after success, got %+v", d)
	}
}

func TestCheck_TokenBaselineGrows(t *testing.T) {
	detector, _ := newDetector(t)
	tokens := func(v float64) *hookio.Event { return &hookio.Event{Tokens: &v} }

	// First observation has no baseline: never detected.
	detections := detector.Check(tokens(1_000_000))
	if d, ok := findDetection(detections, anomaly.TypeTokenExplosion); !ok || d.Detected {
		t.Fatalf("expected no detection without baseline, got %+v", detections)
	}

	detector.Check(tokens(100))
	detector.Check(tokens(100))

	// Baseline now includes the first huge value; a modest value passes.
	detections = detector.Check(tokens(200))
	if d, _ := findDetection(detections, anomaly.TypeTokenExplosion); d.Detected {
		t.Fatalf("expected no detection near baseline, got %+v", d)
	}
}

func TestCheck_LoopRiskOnRepeatedPrompt(t *testing.T) {
	detector, _ := newDetector(t)
	event := &hookio.Event{Prompt: "fix the login bug"}

	for i := 0; i < 2; i++ {
		detections := detector.Check(event)
		if d, ok := findDetection(detections, anomaly.TypeLoopRisk); !ok || d.Detected {
			t.Fatalf("observation %d should not detect, got %+v", i+1, detections)
		}
	}
	// Third observation: prior count is 2 >= threshold 2. Case and
	// whitespace variants hash identically.
	detections := detector.Check(&hookio.Event{Prompt: "  Fix the LOGIN bug  "})
	if d, ok := findDetection(detections, anomaly.TypeLoopRisk); !ok || !d.Detected {
		t.Fatalf("expected loop risk on third observation, got %+v", detections)
	}
}

func TestCheck_ResourcePressureLogged(t *testing.T) {
	detector, home := newDetector(t, anomaly.WithMemoryProbe(fixedProbe{ratio: 0.95}))
	detections := detector.Check(&hookio.Event{})
	if d, ok := findDetection(detections, anomaly.TypeResourceExhaustion); !ok || !d.Detected {
		t.Fatalf("expected critical resource detection, got %+v", detections)
	}

	raw, err := os.ReadFile(filepath.Join(home, "logs", "anomalies.jsonl"))
	if err != nil {
		t.Fatalf("read anomaly log: %v", err)
	}
	var rec map[string]any
	line := strings.SplitN(strings.TrimSpace(string(raw)), "\n", 2)[0]
	if err := json.Unmarshal([]byte(line), &rec); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}
	if rec["type"] != anomaly.TypeResourceExhaustion || rec["severity"] != anomaly.SeverityCritical {
		t.Fatalf("unexpected log record %#v", rec)
	}
	if _, ok := rec["timestamp"]; !ok {
		t.Fatal("expected timestamp on log record")
	}
}

func TestCheck_LogIsAppendOnly(t *testing.T) {
	detector, home := newDetector(t, anomaly.WithMemoryProbe(fixedProbe{ratio: 0.85}))
	detector.Check(&hookio.Event{})
	detector.Check(&hookio.Event{})

	raw, err := os.ReadFile(filepath.Join(home, "logs", "anomalies.jsonl"))
	if err != nil {
		t.Fatalf("read anomaly log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 warning records (no dedup), got %d", len(lines))
	}
}

func TestCheck_DisabledDoesNothing(t *testing.T) {
	home := t.TempDir()
	cfg := detectorConfig(home)
	off := false
	cfg.Anomaly.Enabled = &off
	store := statestore.New(filepath.Join(home, "state"))
	detector := anomaly.New(store, cfg, nil, anomaly.WithMemoryProbe(fixedProbe{ratio: 0.99}))

	if detections := detector.Check(&hookio.Event{Prompt: "anything"}); detections != nil {
		t.Fatalf("expected nil detections when disabled, got %+v", detections)
	}
	if _, err := os.Stat(filepath.Join(home, "logs", "anomalies.jsonl")); !os.IsNotExist(err) {
		t.Fatalf("expected no anomaly log when disabled, got %v", err)
	}
}
