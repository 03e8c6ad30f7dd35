package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/basket/spawnguard/internal/hookio"
	"github.com/basket/spawnguard/internal/loopguard"
	otelPkg "github.com/basket/spawnguard/internal/otel"
)

// Exit codes understood by the orchestrator.
const (
	exitAllow = 0
	exitDeny  = 2
)

// runGuardCommand is the safety-critical check: it must exit 2 on a
// violation in block mode, and must fail closed when it cannot even
// bootstrap (unless the audited fail-open override is set).
func runGuardCommand(ctx context.Context, args []string) int {
	if len(args) != 0 {
		fmt.Fprintln(os.Stderr, "usage: spawnguard guard")
		return exitDeny
	}

	rt, err := initRuntime(ctx)
	if err != nil {
		if failOpenRequested() {
			fmt.Fprintf(os.Stderr, "spawnguard: %v (fail-open override set, allowing)\n", err)
			return exitAllow
		}
		_ = hookio.EmitDecision(os.Stdout, hookio.ResultBlock, "safety check unavailable: "+err.Error())
		fmt.Fprintf(os.Stderr, "spawnguard: %v\n", err)
		return exitDeny
	}
	defer rt.shutdown()

	event, err := hookio.ReadEvent(os.Stdin, rt.cfg.InputWait())
	if err != nil {
		// Nothing usable arrived: nothing to check.
		if !errors.Is(err, hookio.ErrNoInput) {
			rt.logger.Debug("unparseable guard input", "error", err)
		}
		return exitAllow
	}

	start := time.Now()
	spanCtx, span := otelPkg.StartCheckSpan(ctx, rt.otel.Tracer, "guard.check_spawn",
		otelPkg.AttrEngine.String("guard"),
		otelPkg.AttrSessionID.String(event.Session()),
		otelPkg.AttrToolName.String(event.Tool()),
	)
	defer span.End()

	guard := loopguard.New(rt.store, rt.cfg, rt.logger)
	verdict := guard.CheckSpawn(event)

	rt.metrics.ChecksTotal.Add(spanCtx, 1)
	rt.metrics.CheckDuration.Record(spanCtx, time.Since(start).Seconds())

	switch {
	case !verdict.Allowed:
		span.SetAttributes(otelPkg.AttrDecision.String("deny"), otelPkg.AttrCheck.String(verdict.Check))
		rt.metrics.Denials.Add(spanCtx, 1)
		_ = hookio.EmitDecision(os.Stdout, hookio.ResultBlock, verdict.Message)
		return exitDeny
	case verdict.Warning:
		span.SetAttributes(otelPkg.AttrDecision.String("warn"), otelPkg.AttrCheck.String(verdict.Check))
		rt.metrics.Warnings.Add(spanCtx, 1)
		_ = hookio.EmitDecision(os.Stdout, hookio.ResultWarn, verdict.Message)
		return exitAllow
	default:
		span.SetAttributes(otelPkg.AttrDecision.String("allow"))
		return exitAllow
	}
}

// runReleaseCommand decrements the session's spawn depth. Advisory in
// effect: a failure here must never fail the finishing unit.
func runReleaseCommand(ctx context.Context, args []string) int {
	if len(args) != 0 {
		fmt.Fprintln(os.Stderr, "usage: spawnguard release")
		return exitAllow
	}

	rt, err := initRuntime(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "spawnguard: %v\n", err)
		return exitAllow
	}
	defer rt.shutdown()

	session := "default"
	if event, err := hookio.ReadEvent(os.Stdin, rt.cfg.InputWait()); err == nil {
		session = event.Session()
	}

	guard := loopguard.New(rt.store, rt.cfg, rt.logger)
	if err := guard.ReleaseDepth(session); err != nil {
		rt.logger.Warn("depth release dropped", "session_id", session, "error", err)
	}
	return exitAllow
}
