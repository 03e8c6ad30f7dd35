package anomaly

import (
	"os"
	"path/filepath"
	"testing"
)

func TestProcMemInfo_UsedRatio(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meminfo")
	content := "MemTotal:       10000 kB\nMemFree:         500 kB\nMemAvailable:    2000 kB\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write meminfo: %v", err)
	}
	ratio, err := ProcMemInfo{Path: path}.UsedRatio()
	if err != nil {
		t.Fatalf("used ratio: %v", err)
	}
	if ratio != 0.8 {
		t.Fatalf("expected 0.8, got %v", ratio)
	}
}

func TestProcMemInfo_MissingTotal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meminfo")
	if err := os.WriteFile(path, []byte("MemFree: 500 kB\n"), 0o644); err != nil {
		t.Fatalf("write meminfo: %v", err)
	}
	if _, err := (ProcMemInfo{Path: path}).UsedRatio(); err == nil {
		t.Fatal("expected error without MemTotal")
	}
}

func TestProcMemInfo_MissingFile(t *testing.T) {
	if _, err := (ProcMemInfo{Path: filepath.Join(t.TempDir(), "nope")}).UsedRatio(); err == nil {
		t.Fatal("expected error for missing file")
	}
}
