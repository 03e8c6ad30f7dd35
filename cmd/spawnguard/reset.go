package main

import (
	"context"
	"fmt"
	"os"

	"github.com/basket/spawnguard/internal/anomaly"
	"github.com/basket/spawnguard/internal/loopguard"
	"github.com/basket/spawnguard/internal/rerouter"
	"github.com/basket/spawnguard/internal/statestore"
)

// runResetCommand discards persisted engine state. This is the only
// path that ever deletes counters; nothing expires them implicitly.
func runResetCommand(ctx context.Context, args []string) int {
	target := "all"
	if len(args) == 1 {
		target = args[0]
	} else if len(args) > 1 {
		fmt.Fprintln(os.Stderr, "usage: spawnguard reset [guard|anomaly|reroute|all]")
		return 2
	}

	rt, err := initRuntime(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "spawnguard: %v\n", err)
		return 1
	}
	defer rt.shutdown()

	type resetTarget struct {
		name string
		doc  statestore.Document
	}
	var targets []resetTarget
	switch target {
	case "guard":
		targets = []resetTarget{{loopguard.StateName, &loopguard.LoopState{}}}
	case "anomaly":
		targets = []resetTarget{{anomaly.StateName, &anomaly.AnomalyState{}}}
	case "reroute":
		targets = []resetTarget{{rerouter.StateName, &rerouter.RerouterState{}}}
	case "all":
		targets = []resetTarget{
			{loopguard.StateName, &loopguard.LoopState{}},
			{anomaly.StateName, &anomaly.AnomalyState{}},
			{rerouter.StateName, &rerouter.RerouterState{}},
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown reset target %q\n", target)
		return 2
	}

	failed := 0
	for _, t := range targets {
		if err := rt.store.Reset(t.name, t.doc); err != nil {
			fmt.Fprintf(os.Stderr, "reset %s: %v\n", t.name, err)
			failed++
			continue
		}
		rt.logger.Info("state reset", "document", t.name)
		fmt.Printf("reset %s\n", t.name)
	}
	if failed > 0 {
		return 1
	}
	return 0
}
