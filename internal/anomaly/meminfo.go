package anomaly

import (
	"bufio"
	"errors"
	"os"
	"strconv"
	"strings"
)

// MemoryProbe reports memory utilisation as a used/total ratio in
// [0,1]. Injected so detectors are testable without real pressure.
type MemoryProbe interface {
	UsedRatio() (float64, error)
}

// ProcMemInfo reads Linux /proc/meminfo. On other platforms (or when
// the file is unreadable) it reports an error and the resource check
// is skipped.
type ProcMemInfo struct {
	// Path overrides /proc/meminfo, for tests.
	Path string
}

func (p ProcMemInfo) UsedRatio() (float64, error) {
	path := p.Path
	if path == "" {
		path = "/proc/meminfo"
	}
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var totalKB, availableKB float64
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "MemTotal:"):
			totalKB = parseMemInfoKB(line)
		case strings.HasPrefix(line, "MemAvailable:"):
			availableKB = parseMemInfoKB(line)
		}
		if totalKB > 0 && availableKB > 0 {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, err
	}
	if totalKB <= 0 {
		return 0, errors.New("meminfo: MemTotal not found")
	}
	used := (totalKB - availableKB) / totalKB
	if used < 0 {
		used = 0
	}
	return used, nil
}

// parseMemInfoKB extracts the numeric kB value from a line like
// "MemTotal:       16384000 kB".
func parseMemInfoKB(line string) float64 {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return 0
	}
	v, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return 0
	}
	return v
}
