package loopguard_test

import (
	"testing"

	"github.com/basket/spawnguard/internal/config"
	"github.com/basket/spawnguard/internal/loopguard"
)

func classifierTable() config.ClassifierConfig {
	return config.ClassifierConfig{
		Triggers: []string{"create agent", "create skill", "create workflow", "evolve"},
		Categories: map[string][]string{
			"agent":    {"agent", "persona"},
			"skill":    {"skill", "capability"},
			"workflow": {"workflow", "pipeline"},
		},
	}
}

func TestIsEvolutionRequest(t *testing.T) {
	table := classifierTable()
	if !loopguard.IsEvolutionRequest("please CREATE   Agent reviewer", table) {
		t.Fatal("expected trigger match despite case and spacing")
	}
	if loopguard.IsEvolutionRequest("run the test suite", table) {
		t.Fatal("expected no trigger match")
	}
	if loopguard.IsEvolutionRequest("   ", table) {
		t.Fatal("expected blank text to never trigger")
	}
}

func TestClassify(t *testing.T) {
	table := classifierTable()
	if got := loopguard.Classify("create skill for parsing", table); got != "skill" {
		t.Fatalf("expected skill, got %q", got)
	}
	if got := loopguard.Classify("build a deploy PIPELINE", table); got != "workflow" {
		t.Fatalf("expected workflow, got %q", got)
	}
	if got := loopguard.Classify("run the tests", table); got != loopguard.CategoryUnknown {
		t.Fatalf("expected unknown, got %q", got)
	}
}

func TestClassify_DeterministicOnMultiMatch(t *testing.T) {
	// "agent" sorts before "skill": a text matching both must always
	// classify the same way.
	table := classifierTable()
	for i := 0; i < 10; i++ {
		if got := loopguard.Classify("create agent with a new skill", table); got != "agent" {
			t.Fatalf("expected agent on multi-match, got %q", got)
		}
	}
}
