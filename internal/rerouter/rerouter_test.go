package rerouter_test

import (
	"testing"
	"time"

	"github.com/basket/spawnguard/internal/config"
	"github.com/basket/spawnguard/internal/hookio"
	"github.com/basket/spawnguard/internal/rerouter"
	"github.com/basket/spawnguard/internal/statestore"
)

func rerouterConfig() config.Config {
	return config.Config{
		Rerouter: config.RerouterConfig{
			Mode:                "suggest",
			FailureThreshold:    2,
			ModelUsageThreshold: 8,
			StallAfterSeconds:   600,
			Alternatives:        map[string]string{"researcher": "analyst"},
			DefaultAlternative:  "generalist",
			HighCostModels:      []string{"opus"},
			Downgrades:          map[string]string{"opus": "sonnet"},
		},
	}
}

func newRerouter(t *testing.T, cfg config.Config, opts ...rerouter.Option) *rerouter.Rerouter {
	t.Helper()
	return rerouter.New(statestore.New(t.TempDir()), cfg, nil, opts...)
}

func findSuggestion(suggestions []rerouter.Suggestion, typ string) (rerouter.Suggestion, bool) {
	for _, s := range suggestions {
		if s.Type == typ {
			return s, true
		}
	}
	return rerouter.Suggestion{}, false
}

func TestCheck_AgentFailureSuggestsAlternative(t *testing.T) {
	r := newRerouter(t, rerouterConfig())
	fail := &hookio.Event{AgentName: "researcher", Error: "timeout"}

	if suggestions := r.Check(fail); len(suggestions) != 0 {
		t.Fatalf("first failure should not suggest, got %+v", suggestions)
	}
	suggestions := r.Check(fail)
	s, ok := findSuggestion(suggestions, rerouter.TypeAlternativeAgent)
	if !ok {
		t.Fatalf("second failure should suggest, got %+v", suggestions)
	}
	if s.Metadata["alternative"] != "analyst" {
		t.Fatalf("expected configured alternative, got %+v", s.Metadata)
	}
}

func TestCheck_UnknownAgentFallsBackToDefault(t *testing.T) {
	r := newRerouter(t, rerouterConfig())
	fail := &hookio.Event{AgentName: "mystery", Error: "boom"}
	r.Check(fail)
	suggestions := r.Check(fail)
	s, ok := findSuggestion(suggestions, rerouter.TypeAlternativeAgent)
	if !ok || s.Metadata["alternative"] != "generalist" {
		t.Fatalf("expected default alternative, got %+v", suggestions)
	}
}

func TestCheck_SuccessClearsFailureStreak(t *testing.T) {
	r := newRerouter(t, rerouterConfig())
	fail := &hookio.Event{AgentName: "researcher", Error: "timeout"}
	ok := true
	success := &hookio.Event{AgentName: "researcher", Success: &ok}

	r.Check(fail)
	r.Check(success)
	if suggestions := r.Check(fail); len(suggestions) != 0 {
		t.Fatalf("streak should reset on success, got %+v", suggestions)
	}
}

func TestCheck_MissingCapability(t *testing.T) {
	r := newRerouter(t, rerouterConfig())
	suggestions := r.Check(&hookio.Event{Error: `capability "foo" not found`})
	s, ok := findSuggestion(suggestions, rerouter.TypeCreateCapability)
	if !ok {
		t.Fatalf("expected capability suggestion, got %+v", suggestions)
	}
	if s.Metadata["capability"] != "foo" {
		t.Fatalf("expected capability foo, got %+v", s.Metadata)
	}
}

func TestCheck_ModelDowngradeAfterThreshold(t *testing.T) {
	r := newRerouter(t, rerouterConfig())
	event := &hookio.Event{ModelName: "opus"}
	for i := 0; i < 7; i++ {
		if suggestions := r.Check(event); len(suggestions) != 0 {
			t.Fatalf("use %d should not suggest, got %+v", i+1, suggestions)
		}
	}
	suggestions := r.Check(event)
	s, ok := findSuggestion(suggestions, rerouter.TypeModelDowngrade)
	if !ok || s.Metadata["downgrade"] != "sonnet" {
		t.Fatalf("expected downgrade to sonnet on 8th use, got %+v", suggestions)
	}
}

func TestCheck_CheapModelNeverSuggestsDowngrade(t *testing.T) {
	r := newRerouter(t, rerouterConfig())
	event := &hookio.Event{ModelName: "sonnet"}
	for i := 0; i < 20; i++ {
		if suggestions := r.Check(event); len(suggestions) != 0 {
			t.Fatalf("cheap model should never trigger, got %+v", suggestions)
		}
	}
}

func TestCheck_StalledTaskSuggestsDecomposition(t *testing.T) {
	cfg := rerouterConfig()
	start := time.Now()
	clock := start
	r := newRerouter(t, cfg, rerouter.WithClock(func() time.Time { return clock }))
	event := &hookio.Event{TaskID: "task-9"}

	if suggestions := r.Check(event); len(suggestions) != 0 {
		t.Fatalf("first observation should only record, got %+v", suggestions)
	}

	clock = start.Add(5 * time.Minute)
	if suggestions := r.Check(event); len(suggestions) != 0 {
		t.Fatalf("task under threshold should not suggest, got %+v", suggestions)
	}

	clock = start.Add(11 * time.Minute)
	suggestions := r.Check(event)
	s, ok := findSuggestion(suggestions, rerouter.TypeDecomposeTask)
	if !ok || s.Metadata["task"] != "task-9" {
		t.Fatalf("expected decomposition suggestion, got %+v", suggestions)
	}
}

func TestCheck_OffModeIsSilent(t *testing.T) {
	cfg := rerouterConfig()
	cfg.Rerouter.Mode = "off"
	r := newRerouter(t, cfg)
	suggestions := r.Check(&hookio.Event{AgentName: "researcher", Error: `capability "foo" not found`})
	if suggestions != nil {
		t.Fatalf("expected nothing in off mode, got %+v", suggestions)
	}
}

func TestCheck_StateUnavailableStillFindsCapability(t *testing.T) {
	dir := t.TempDir()
	store := statestore.New(dir, statestore.WithLockTimeout(50*time.Millisecond))
	r := rerouter.New(store, rerouterConfig(), nil)

	lock := statestore.NewFileLock(dir+"/"+rerouter.StateName+".json.lock", nil, nil)
	if err := lock.Acquire(time.Second); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer lock.Release()

	suggestions := r.Check(&hookio.Event{AgentName: "researcher", Error: `capability "foo" not found`})
	if _, ok := findSuggestion(suggestions, rerouter.TypeCreateCapability); !ok {
		t.Fatalf("stateless capability check should survive lock timeout, got %+v", suggestions)
	}
	if _, ok := findSuggestion(suggestions, rerouter.TypeAlternativeAgent); ok {
		t.Fatal("stateful suggestions must be dropped when the store is unavailable")
	}
}
