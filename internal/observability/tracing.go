package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// TracerProvider wraps the OTLP trace pipeline. With an empty endpoint it
// degrades to a noop tracer, so instrumentation sites never branch.
type TracerProvider struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// NewTracerProvider sets up OTLP/HTTP export to endpoint (host:port). An
// empty endpoint disables export.
func NewTracerProvider(endpoint, serviceName string) (*TracerProvider, error) {
	if endpoint == "" {
		return &TracerProvider{tracer: noop.NewTracerProvider().Tracer("orchid")}, nil
	}
	if serviceName == "" {
		serviceName = "orchid"
	}

	exporter, err := otlptracehttp.New(
		context.Background(),
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("create otlp exporter: %w", err)
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(semconv.ServiceName(serviceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("create trace resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)

	return &TracerProvider{
		provider: provider,
		tracer:   provider.Tracer("orchid"),
	}, nil
}

// Shutdown flushes and stops the export pipeline.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp == nil || tp.provider == nil {
		return nil
	}
	return tp.provider.Shutdown(ctx)
}

// StartSpan opens a span. A nil provider yields a noop span.
func (tp *TracerProvider) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if tp == nil || tp.tracer == nil {
		return noop.NewTracerProvider().Tracer("orchid").Start(ctx, name)
	}
	return tp.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// Span names used across the engine.
const (
	SpanRun        = "orchid.run"
	SpanPlan       = "orchid.plan"
	SpanExecute    = "orchid.execute"
	SpanObserve    = "orchid.observe"
	SpanRespond    = "orchid.respond"
	SpanDelegation = "orchid.delegation"
)

// Attribute keys used across the engine.
const (
	AttrRunID      = "orchid.run_id"
	AttrAgentID    = "orchid.agent_id"
	AttrOrgID      = "orchid.org_id"
	AttrDepth      = "orchid.depth"
	AttrIteration  = "orchid.iteration"
	AttrStopReason = "orchid.stop_reason"
)

// RunAttrs builds the standard per-run attribute set.
func RunAttrs(runID, agentID, orgID string, depth int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrRunID, runID),
		attribute.String(AttrAgentID, agentID),
		attribute.String(AttrOrgID, orgID),
		attribute.Int(AttrDepth, depth),
	}
}
