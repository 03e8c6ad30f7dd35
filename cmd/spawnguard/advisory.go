package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/basket/spawnguard/internal/anomaly"
	"github.com/basket/spawnguard/internal/hookio"
	otelPkg "github.com/basket/spawnguard/internal/otel"
	"github.com/basket/spawnguard/internal/rerouter"
)

// runAnomalyCommand runs the statistical detectors over one event.
// Purely observational: it exits 0 no matter what it finds or what
// breaks.
func runAnomalyCommand(ctx context.Context, args []string) int {
	if len(args) != 0 {
		fmt.Fprintln(os.Stderr, "usage: spawnguard anomaly")
		return exitAllow
	}

	rt, err := initRuntime(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "spawnguard: %v\n", err)
		return exitAllow
	}
	defer rt.shutdown()

	event, err := hookio.ReadEvent(os.Stdin, rt.cfg.InputWait())
	if err != nil {
		if !errors.Is(err, hookio.ErrNoInput) {
			rt.logger.Debug("unparseable anomaly input", "error", err)
		}
		return exitAllow
	}

	start := time.Now()
	spanCtx, span := otelPkg.StartCheckSpan(ctx, rt.otel.Tracer, "anomaly.check",
		otelPkg.AttrEngine.String("anomaly"),
		otelPkg.AttrSessionID.String(event.Session()),
		otelPkg.AttrToolName.String(event.Tool()),
	)
	defer span.End()

	detector := anomaly.New(rt.store, rt.cfg, rt.logger)
	detections := detector.Check(event)

	rt.metrics.ChecksTotal.Add(spanCtx, 1)
	rt.metrics.CheckDuration.Record(spanCtx, time.Since(start).Seconds())

	for _, d := range detections {
		if !d.Detected && d.Severity == "" {
			continue
		}
		rt.metrics.Anomalies.Add(spanCtx, 1)
		fmt.Printf("[%s] %s: %s\n", d.Severity, d.Type, d.Message)
	}
	return exitAllow
}

// runRerouteCommand runs the advisory rerouter over one event and
// prints its suggestions. Always exits 0.
func runRerouteCommand(ctx context.Context, args []string) int {
	if len(args) != 0 {
		fmt.Fprintln(os.Stderr, "usage: spawnguard reroute")
		return exitAllow
	}

	rt, err := initRuntime(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "spawnguard: %v\n", err)
		return exitAllow
	}
	defer rt.shutdown()

	event, err := hookio.ReadEvent(os.Stdin, rt.cfg.InputWait())
	if err != nil {
		if !errors.Is(err, hookio.ErrNoInput) {
			rt.logger.Debug("unparseable reroute input", "error", err)
		}
		return exitAllow
	}

	start := time.Now()
	spanCtx, span := otelPkg.StartCheckSpan(ctx, rt.otel.Tracer, "reroute.check",
		otelPkg.AttrEngine.String("reroute"),
		otelPkg.AttrSessionID.String(event.Session()),
		otelPkg.AttrAgentName.String(event.AgentID()),
		otelPkg.AttrModel.String(event.ModelID()),
	)
	defer span.End()

	router := rerouter.New(rt.store, rt.cfg, rt.logger)
	suggestions := router.Check(event)

	rt.metrics.ChecksTotal.Add(spanCtx, 1)
	rt.metrics.CheckDuration.Record(spanCtx, time.Since(start).Seconds())

	for _, s := range suggestions {
		rt.metrics.Suggestions.Add(spanCtx, 1)
		fmt.Printf("suggestion (%s): %s\n", s.Type, s.Message)
	}
	return exitAllow
}
