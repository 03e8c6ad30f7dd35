package config

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/basket/spawnguard/internal/otel"
)

// Mode is the guard enforcement mode.
type Mode string

const (
	ModeBlock Mode = "block" // violation denies the pending action (exit 2)
	ModeWarn  Mode = "warn"  // violation allows but emits a warning
	ModeOff   Mode = "off"   // all checks bypassed; bypass itself is audited
)

// RerouteMode controls whether the rerouter emits suggestions.
type RerouteMode string

const (
	RerouteSuggest RerouteMode = "suggest"
	RerouteOff     RerouteMode = "off"
)

// GuardConfig holds loop-prevention thresholds.
type GuardConfig struct {
	Mode             string `yaml:"mode"`
	EvolutionBudget  int    `yaml:"evolution_budget"`
	CooldownMs       int    `yaml:"cooldown_ms"`
	DepthLimit       int    `yaml:"depth_limit"`
	PatternThreshold int    `yaml:"pattern_threshold"`

	// FailOpen converts unexpected internal guard errors into allows.
	// Every use is written to the audit trail.
	FailOpen bool `yaml:"fail_open"`
}

// AnomalyConfig holds detector thresholds.
type AnomalyConfig struct {
	Enabled            *bool   `yaml:"enabled,omitempty"`
	TokenMultiplier    float64 `yaml:"token_multiplier"`
	DurationMultiplier float64 `yaml:"duration_multiplier"`
	FailureThreshold   int     `yaml:"failure_threshold"`
	LoopThreshold      int     `yaml:"loop_threshold"`
}

// RerouterConfig holds advisory-rerouter thresholds and lookup tables.
type RerouterConfig struct {
	Mode                string            `yaml:"mode"`
	FailureThreshold    int               `yaml:"failure_threshold"`
	ModelUsageThreshold int               `yaml:"model_usage_threshold"`
	StallAfterSeconds   int               `yaml:"stall_after_seconds"`
	Alternatives        map[string]string `yaml:"alternatives"`
	DefaultAlternative  string            `yaml:"default_alternative"`
	HighCostModels      []string          `yaml:"high_cost_models"`
	Downgrades          map[string]string `yaml:"downgrades"`
}

// ClassifierConfig drives the evolution-request classifier. Substring
// matching is confined to these tables; the classifier itself is a closed
// enum with an explicit unknown case.
type ClassifierConfig struct {
	// Triggers is the vocabulary that marks a request as an evolution
	// (capability-creating) request at all.
	Triggers []string `yaml:"triggers"`
	// Categories maps an evolution category to its keywords.
	Categories map[string][]string `yaml:"categories"`
}

type Config struct {
	HomeDir string `yaml:"-"`

	LogLevel      string `yaml:"log_level"`
	Debug         bool   `yaml:"debug"`
	LockTimeoutMs int    `yaml:"lock_timeout_ms"`
	CacheTTLMs    int    `yaml:"cache_ttl_ms"`
	InputWaitMs   int    `yaml:"input_wait_ms"`

	Guard      GuardConfig      `yaml:"guard"`
	Anomaly    AnomalyConfig    `yaml:"anomaly"`
	Rerouter   RerouterConfig   `yaml:"rerouter"`
	Classifier ClassifierConfig `yaml:"classifier"`
	OTel       otel.Config      `yaml:"otel"`
}

func defaultConfig() Config {
	return Config{
		LogLevel:      "info",
		LockTimeoutMs: 2000,
		CacheTTLMs:    1000,
		InputWaitMs:   100,
		Guard: GuardConfig{
			Mode:             string(ModeBlock),
			EvolutionBudget:  3,
			CooldownMs:       int((5 * time.Minute).Milliseconds()),
			DepthLimit:       5,
			PatternThreshold: 3,
		},
		Anomaly: AnomalyConfig{
			TokenMultiplier:    2,
			DurationMultiplier: 3,
			FailureThreshold:   3,
			LoopThreshold:      2,
		},
		Rerouter: RerouterConfig{
			Mode:                string(RerouteSuggest),
			FailureThreshold:    2,
			ModelUsageThreshold: 8,
			StallAfterSeconds:   int((10 * time.Minute).Seconds()),
			DefaultAlternative:  "generalist",
			HighCostModels:      []string{"opus", "gpt-5-pro", "gemini-ultra"},
			Downgrades: map[string]string{
				"opus":         "sonnet",
				"gpt-5-pro":    "gpt-5-mini",
				"gemini-ultra": "gemini-flash",
			},
		},
		Classifier: ClassifierConfig{
			Triggers: []string{
				"create agent", "new agent", "spawn agent",
				"create skill", "new skill", "add skill",
				"create workflow", "new workflow",
				"create hook", "add hook", "new hook",
				"create template", "new template",
				"create schema", "new schema",
				"evolve", "self-extend",
			},
			Categories: map[string][]string{
				"agent":    {"agent", "persona", "subagent"},
				"skill":    {"skill", "capability"},
				"workflow": {"workflow", "pipeline"},
				"hook":     {"hook", "trigger"},
				"template": {"template", "scaffold"},
				"schema":   {"schema", "contract"},
			},
		},
	}
}

// HomeDir resolves the state directory: SPAWNGUARD_HOME or ~/.spawnguard.
func HomeDir() string {
	if override := os.Getenv("SPAWNGUARD_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".spawnguard")
}

// Load reads config.yaml under the home dir and applies env overrides.
// A missing or empty file yields defaults; env always wins over yaml.
func Load() (Config, error) {
	cfg := defaultConfig()
	cfg.HomeDir = HomeDir()

	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create spawnguard home: %w", err)
	}

	configPath := filepath.Join(cfg.HomeDir, "config.yaml")
	data, err := os.ReadFile(configPath)
	if err != nil && !os.IsNotExist(err) {
		return cfg, fmt.Errorf("read config.yaml: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config.yaml: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	return cfg, nil
}

// EnforcementMode returns the parsed guard mode, defaulting to block.
// Block is the default because the guard is the only safety-critical engine.
func (g GuardConfig) EnforcementMode() Mode {
	switch Mode(strings.ToLower(strings.TrimSpace(g.Mode))) {
	case ModeWarn:
		return ModeWarn
	case ModeOff:
		return ModeOff
	default:
		return ModeBlock
	}
}

// Cooldown returns the per-category evolution cooldown as a duration.
func (g GuardConfig) Cooldown() time.Duration {
	return time.Duration(g.CooldownMs) * time.Millisecond
}

// AnomalyEnabled reports whether the anomaly detector should run (default on).
func (c Config) AnomalyEnabled() bool {
	if c.Anomaly.Enabled == nil {
		return true
	}
	return *c.Anomaly.Enabled
}

// RerouteEnabled reports whether the rerouter should emit suggestions.
func (c Config) RerouteEnabled() bool {
	return RerouteMode(strings.ToLower(strings.TrimSpace(c.Rerouter.Mode))) != RerouteOff
}

// LockTimeout returns the bounded total lock wait.
func (c Config) LockTimeout() time.Duration {
	return time.Duration(c.LockTimeoutMs) * time.Millisecond
}

// CacheTTL returns the state-store read cache TTL.
func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLMs) * time.Millisecond
}

// InputWait returns the bounded stdin wait.
func (c Config) InputWait() time.Duration {
	return time.Duration(c.InputWaitMs) * time.Millisecond
}

// StallAfter returns the stalled-task threshold.
func (r RerouterConfig) StallAfter() time.Duration {
	return time.Duration(r.StallAfterSeconds) * time.Second
}

// Fingerprint returns a stable hash of the active guard thresholds.
// Recorded on every audit entry so decisions can be traced to the
// configuration that produced them.
func (c Config) Fingerprint() string {
	h := fnv.New64a()
	fmt.Fprintf(h, "mode=%s|budget=%d|cooldown=%d|depth=%d|pattern=%d|failopen=%t",
		c.Guard.EnforcementMode(), c.Guard.EvolutionBudget, c.Guard.CooldownMs,
		c.Guard.DepthLimit, c.Guard.PatternThreshold, c.Guard.FailOpen)
	return fmt.Sprintf("cfg-%x", h.Sum64())
}

func normalize(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Debug {
		cfg.LogLevel = "debug"
	}
	if cfg.LockTimeoutMs <= 0 {
		cfg.LockTimeoutMs = 2000
	}
	if cfg.CacheTTLMs < 0 {
		cfg.CacheTTLMs = 0
	}
	if cfg.InputWaitMs <= 0 {
		cfg.InputWaitMs = 100
	}
	d := defaultConfig()
	if cfg.Guard.EvolutionBudget <= 0 {
		cfg.Guard.EvolutionBudget = d.Guard.EvolutionBudget
	}
	if cfg.Guard.CooldownMs <= 0 {
		cfg.Guard.CooldownMs = d.Guard.CooldownMs
	}
	if cfg.Guard.DepthLimit <= 0 {
		cfg.Guard.DepthLimit = d.Guard.DepthLimit
	}
	if cfg.Guard.PatternThreshold <= 0 {
		cfg.Guard.PatternThreshold = d.Guard.PatternThreshold
	}
	if cfg.Anomaly.TokenMultiplier <= 0 {
		cfg.Anomaly.TokenMultiplier = d.Anomaly.TokenMultiplier
	}
	if cfg.Anomaly.DurationMultiplier <= 0 {
		cfg.Anomaly.DurationMultiplier = d.Anomaly.DurationMultiplier
	}
	if cfg.Anomaly.FailureThreshold <= 0 {
		cfg.Anomaly.FailureThreshold = d.Anomaly.FailureThreshold
	}
	if cfg.Anomaly.LoopThreshold <= 0 {
		cfg.Anomaly.LoopThreshold = d.Anomaly.LoopThreshold
	}
	if cfg.Rerouter.FailureThreshold <= 0 {
		cfg.Rerouter.FailureThreshold = d.Rerouter.FailureThreshold
	}
	if cfg.Rerouter.ModelUsageThreshold <= 0 {
		cfg.Rerouter.ModelUsageThreshold = d.Rerouter.ModelUsageThreshold
	}
	if cfg.Rerouter.StallAfterSeconds <= 0 {
		cfg.Rerouter.StallAfterSeconds = d.Rerouter.StallAfterSeconds
	}
	if cfg.Rerouter.DefaultAlternative == "" {
		cfg.Rerouter.DefaultAlternative = d.Rerouter.DefaultAlternative
	}
	if len(cfg.Rerouter.HighCostModels) == 0 {
		cfg.Rerouter.HighCostModels = d.Rerouter.HighCostModels
	}
	if len(cfg.Rerouter.Downgrades) == 0 {
		cfg.Rerouter.Downgrades = d.Rerouter.Downgrades
	}
	if len(cfg.Classifier.Triggers) == 0 {
		cfg.Classifier.Triggers = d.Classifier.Triggers
	}
	if len(cfg.Classifier.Categories) == 0 {
		cfg.Classifier.Categories = d.Classifier.Categories
	}
}

func applyEnvOverrides(cfg *Config) {
	if raw := os.Getenv("SPAWNGUARD_MODE"); raw != "" {
		cfg.Guard.Mode = raw
	}
	if raw := os.Getenv("SPAWNGUARD_EVOLUTION_BUDGET"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.Guard.EvolutionBudget = v
		}
	}
	if raw := os.Getenv("SPAWNGUARD_COOLDOWN_MS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.Guard.CooldownMs = v
		}
	}
	if raw := os.Getenv("SPAWNGUARD_DEPTH_LIMIT"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.Guard.DepthLimit = v
		}
	}
	if raw := os.Getenv("SPAWNGUARD_PATTERN_THRESHOLD"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.Guard.PatternThreshold = v
		}
	}
	if raw := os.Getenv("SPAWNGUARD_FAIL_OPEN"); raw != "" {
		cfg.Guard.FailOpen = parseBool(raw)
	}
	if raw := os.Getenv("SPAWNGUARD_ANOMALY"); raw != "" {
		v := parseBool(raw)
		cfg.Anomaly.Enabled = &v
	}
	if raw := os.Getenv("SPAWNGUARD_TOKEN_MULTIPLIER"); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			cfg.Anomaly.TokenMultiplier = v
		}
	}
	if raw := os.Getenv("SPAWNGUARD_DURATION_MULTIPLIER"); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			cfg.Anomaly.DurationMultiplier = v
		}
	}
	if raw := os.Getenv("SPAWNGUARD_FAILURE_THRESHOLD"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.Anomaly.FailureThreshold = v
		}
	}
	if raw := os.Getenv("SPAWNGUARD_LOOP_THRESHOLD"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.Anomaly.LoopThreshold = v
		}
	}
	if raw := os.Getenv("SPAWNGUARD_REROUTER"); raw != "" {
		cfg.Rerouter.Mode = raw
	}
	if raw := os.Getenv("SPAWNGUARD_DEBUG"); raw != "" {
		cfg.Debug = parseBool(raw)
	}
	if raw := os.Getenv("SPAWNGUARD_LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
	if raw := os.Getenv("SPAWNGUARD_LOCK_TIMEOUT_MS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.LockTimeoutMs = v
		}
	}
}

func parseBool(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
