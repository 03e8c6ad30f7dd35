package doctor

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/basket/spawnguard/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		HomeDir: t.TempDir(),
		Guard:   config.GuardConfig{Mode: "block"},
	}
}

func TestRun_AllChecksReport(t *testing.T) {
	cfg := testConfig(t)
	d := Run(context.Background(), cfg, "test")
	if len(d.Results) != 6 {
		t.Fatalf("expected 6 check results, got %d", len(d.Results))
	}
	for _, r := range d.Results {
		if r.Name == "" || r.Status == "" {
			t.Fatalf("incomplete result %+v", r)
		}
	}
}

func TestCheckConfig_NilAndOffMode(t *testing.T) {
	if result := checkConfig(context.Background(), nil); result.Status != "FAIL" {
		t.Fatalf("expected FAIL for nil config, got %s", result.Status)
	}
	cfg := testConfig(t)
	cfg.Guard.Mode = "off"
	if result := checkConfig(context.Background(), cfg); result.Status != "WARN" {
		t.Fatalf("expected WARN for off mode, got %s", result.Status)
	}
}

func TestCheckStateDir_Writable(t *testing.T) {
	result := checkStateDir(context.Background(), testConfig(t))
	if result.Status != "PASS" {
		t.Fatalf("expected PASS, got %+v", result)
	}
}

func TestCheckStateDocs_FlagsCorrupt(t *testing.T) {
	cfg := testConfig(t)
	stateDir := filepath.Join(cfg.HomeDir, "state")
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(stateDir, "loop_state.json"), []byte("{broken"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	result := checkStateDocs(context.Background(), cfg)
	if result.Status != "WARN" {
		t.Fatalf("expected WARN for corrupt document, got %+v", result)
	}
}

func TestCheckStaleLocks(t *testing.T) {
	cfg := testConfig(t)
	stateDir := filepath.Join(cfg.HomeDir, "state")
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	if result := checkStaleLocks(context.Background(), cfg); result.Status != "PASS" {
		t.Fatalf("expected PASS without markers, got %+v", result)
	}

	marker, _ := json.Marshal(map[string]any{"owner_id": "x", "pid": 999999999})
	if err := os.WriteFile(filepath.Join(stateDir, "loop_state.json.lock"), marker, 0o644); err != nil {
		t.Fatalf("write marker: %v", err)
	}
	if result := checkStaleLocks(context.Background(), cfg); result.Status != "WARN" {
		t.Fatalf("expected WARN for dead holder, got %+v", result)
	}

	live, _ := json.Marshal(map[string]any{"owner_id": "y", "pid": os.Getpid()})
	if err := os.WriteFile(filepath.Join(stateDir, "loop_state.json.lock"), live, 0o644); err != nil {
		t.Fatalf("write marker: %v", err)
	}
	if result := checkStaleLocks(context.Background(), cfg); result.Status != "PASS" {
		t.Fatalf("expected PASS for live holder, got %+v", result)
	}
}

func TestCheckAuditLog(t *testing.T) {
	result := checkAuditLog(context.Background(), testConfig(t))
	if result.Status != "PASS" {
		t.Fatalf("expected PASS, got %+v", result)
	}
}
