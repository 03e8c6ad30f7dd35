package doctor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/basket/spawnguard/internal/anomaly"
	"github.com/basket/spawnguard/internal/config"
	"github.com/basket/spawnguard/internal/loopguard"
	"github.com/basket/spawnguard/internal/rerouter"
	"github.com/basket/spawnguard/internal/statestore"
)

type CheckResult struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // "PASS", "FAIL", "WARN", "SKIP"
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

type Diagnosis struct {
	Timestamp time.Time     `json:"timestamp"`
	System    SystemInfo    `json:"system"`
	Results   []CheckResult `json:"results"`
}

type SystemInfo struct {
	OS      string `json:"os"`
	Arch    string `json:"arch"`
	Go      string `json:"go_version"`
	Version string `json:"version"`
}

// Run executes all diagnostic checks.
func Run(ctx context.Context, cfg *config.Config, version string) Diagnosis {
	d := Diagnosis{
		Timestamp: time.Now().UTC(),
		System: SystemInfo{
			OS:      runtime.GOOS,
			Arch:    runtime.GOARCH,
			Go:      runtime.Version(),
			Version: version,
		},
	}

	checks := []func(context.Context, *config.Config) CheckResult{
		checkConfig,
		checkStateDir,
		checkStateDocs,
		checkStaleLocks,
		checkMemoryProbe,
		checkAuditLog,
	}

	for _, check := range checks {
		d.Results = append(d.Results, check(ctx, cfg))
	}

	return d
}

func checkConfig(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Config", Status: "FAIL", Message: "Configuration not loaded"}
	}
	mode := cfg.Guard.EnforcementMode()
	result := CheckResult{
		Name:    "Config",
		Status:  "PASS",
		Message: fmt.Sprintf("Loaded from %s (mode=%s)", cfg.HomeDir, mode),
		Detail:  cfg.Fingerprint(),
	}
	if mode == config.ModeOff {
		result.Status = "WARN"
		result.Message = "Enforcement is OFF; every spawn is allowed unchecked"
	}
	return result
}

func checkStateDir(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "State Dir", Status: "SKIP", Message: "Config missing"}
	}
	stateDir := filepath.Join(cfg.HomeDir, "state")
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return CheckResult{Name: "State Dir", Status: "FAIL", Message: fmt.Sprintf("Cannot create: %v", err)}
	}
	testFile := filepath.Join(stateDir, ".write_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return CheckResult{Name: "State Dir", Status: "FAIL", Message: fmt.Sprintf("Unwritable: %v", err)}
	}
	os.Remove(testFile)
	return CheckResult{Name: "State Dir", Status: "PASS", Message: fmt.Sprintf("%s writable", stateDir)}
}

func checkStateDocs(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "State Docs", Status: "SKIP", Message: "Config missing"}
	}
	stateDir := filepath.Join(cfg.HomeDir, "state")
	docs := []string{loopguard.StateName, anomaly.StateName, rerouter.StateName}

	var details []string
	status := "PASS"
	for _, name := range docs {
		path := filepath.Join(stateDir, name+".json")
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			details = append(details, name+": absent (defaults on first use)")
		case err != nil:
			details = append(details, fmt.Sprintf("%s: unreadable (%v)", name, err))
			status = "WARN"
		case !json.Valid(data):
			details = append(details, name+": corrupt (will be replaced by defaults)")
			status = "WARN"
		default:
			details = append(details, name+": ok")
		}
	}
	return CheckResult{
		Name:    "State Docs",
		Status:  status,
		Message: fmt.Sprintf("Checked %d documents", len(docs)),
		Detail:  strings.Join(details, "; "),
	}
}

func checkStaleLocks(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Locks", Status: "SKIP", Message: "Config missing"}
	}
	stateDir := filepath.Join(cfg.HomeDir, "state")
	markers, err := filepath.Glob(filepath.Join(stateDir, "*.lock"))
	if err != nil || len(markers) == 0 {
		return CheckResult{Name: "Locks", Status: "PASS", Message: "No lock markers present"}
	}

	probe := statestore.SystemProbe{}
	var stale []string
	for _, marker := range markers {
		data, err := os.ReadFile(marker)
		if err != nil {
			continue
		}
		var holder struct {
			PID int `json:"pid"`
		}
		if json.Unmarshal(data, &holder) != nil || !probe.Alive(holder.PID) {
			stale = append(stale, filepath.Base(marker))
		}
	}
	if len(stale) > 0 {
		return CheckResult{
			Name:    "Locks",
			Status:  "WARN",
			Message: fmt.Sprintf("%d stale marker(s); they are reclaimed on next acquisition", len(stale)),
			Detail:  strings.Join(stale, "; "),
		}
	}
	return CheckResult{Name: "Locks", Status: "PASS", Message: fmt.Sprintf("%d marker(s), all held by live processes", len(markers))}
}

func checkMemoryProbe(_ context.Context, cfg *config.Config) CheckResult {
	ratio, err := (anomaly.ProcMemInfo{}).UsedRatio()
	if err != nil {
		return CheckResult{
			Name:    "Memory Probe",
			Status:  "WARN",
			Message: fmt.Sprintf("Unavailable: %v", err),
			Detail:  "Resource-exhaustion detection is skipped on this platform",
		}
	}
	status := "PASS"
	if ratio >= 0.80 {
		status = "WARN"
	}
	return CheckResult{Name: "Memory Probe", Status: status, Message: fmt.Sprintf("Memory utilisation %.0f%%", ratio*100)}
}

func checkAuditLog(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Audit Log", Status: "SKIP", Message: "Config missing"}
	}
	logDir := filepath.Join(cfg.HomeDir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return CheckResult{Name: "Audit Log", Status: "FAIL", Message: fmt.Sprintf("Log dir unwritable: %v", err)}
	}
	path := filepath.Join(logDir, "audit.jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return CheckResult{Name: "Audit Log", Status: "FAIL", Message: fmt.Sprintf("Cannot append: %v", err)}
	}
	f.Close()
	return CheckResult{Name: "Audit Log", Status: "PASS", Message: fmt.Sprintf("%s appendable", path)}
}
