package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Standard attribute keys for spawnguard spans.
var (
	AttrSessionID = attribute.Key("spawnguard.session.id")
	AttrToolName  = attribute.Key("spawnguard.tool.name")
	AttrCheck     = attribute.Key("spawnguard.check")
	AttrCategory  = attribute.Key("spawnguard.evolution.category")
	AttrDecision  = attribute.Key("spawnguard.decision")
	AttrEngine    = attribute.Key("spawnguard.engine")
	AttrAgentName = attribute.Key("spawnguard.agent.name")
	AttrModel     = attribute.Key("spawnguard.model")
)

// StartCheckSpan starts an internal span covering one check invocation.
func StartCheckSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}
