// Copyright 2026 BWI GmbH and Solution Arsenal contributors
// SPDX-License-Identifier: Apache-2.0

package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/contrib/propagators/b3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc/credentials/insecure"
)

// Span attributes read by the trace layer's filter.
const (
	SpanTargetKey = attribute.Key("target")
	SpanLevelKey  = attribute.Key("level")
)

// TraceConfig holds configuration for the trace layer.
type TraceConfig struct {
	// Directive is the level directive gating spans and span events.
	Directive string
	// ServiceName is the name of the service being traced.
	ServiceName string
	// ServiceVersion is the version of the service.
	ServiceVersion string
	// Environment is the deployment environment (e.g., "production", "staging").
	Environment string
	// Endpoint is the OTLP collector endpoint (e.g., "otel-collector:4317").
	Endpoint string
	// Insecure disables TLS for the OTLP connection.
	Insecure bool
	// Exporter replaces the OTLP exporter, mostly for tests.
	Exporter sdktrace.SpanExporter
	// Syncer exports spans synchronously instead of batching them.
	Syncer bool
}

// TraceLayer exports spans to a collector. Its filter is static: the trace
// layer has no ReloadHandle.
type TraceLayer struct {
	provider *sdktrace.TracerProvider
	filter   *Filter
	parseErr error
}

// BuildTraceLayer sets the global propagator to B3 multi-header encoding and
// builds a batching OTLP exporter pipeline whose resource carries service.name.
// The returned layer is not yet installed as the global TracerProvider.
func BuildTraceLayer(ctx context.Context, cfg TraceConfig) (*TraceLayer, error) {
	if cfg.ServiceName == "" {
		return nil, fmt.Errorf("service name is required")
	}

	otel.SetTextMapPropagator(Propagator())

	// Note: We create a new resource without merging with Default() to avoid
	// schema URL conflicts between SDK and semconv versions.
	attrs := []attribute.KeyValue{semconv.ServiceName(cfg.ServiceName)}
	if cfg.ServiceVersion != "" {
		attrs = append(attrs, semconv.ServiceVersion(cfg.ServiceVersion))
	}
	if cfg.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironment(cfg.Environment))
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(attrs...),
		resource.WithTelemetrySDK(),
		resource.WithHost(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter := cfg.Exporter
	if exporter == nil {
		opts := []otlptracegrpc.Option{}
		if cfg.Endpoint != "" {
			opts = append(opts, otlptracegrpc.WithEndpoint(cfg.Endpoint))
		}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithTLSCredentials(insecure.NewCredentials()))
		}

		exporter, err = otlptrace.New(ctx, otlptracegrpc.NewClient(opts...))
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
		}
	}

	filter, parseErr := FilterOrDefault(cfg.Directive)

	processor := sdktrace.WithBatcher(exporter)
	if cfg.Syncer {
		processor = sdktrace.WithSyncer(exporter)
	}

	tp := sdktrace.NewTracerProvider(
		processor,
		sdktrace.WithResource(res),
		sdktrace.WithSampler(levelSampler{
			filter: filter,
			next:   sdktrace.ParentBased(sdktrace.AlwaysSample()),
		}),
	)

	return &TraceLayer{provider: tp, filter: filter, parseErr: parseErr}, nil
}

// Propagator is the B3 multi-header propagator used for inbound and outbound
// requests.
func Propagator() propagation.TextMapPropagator {
	return b3.New(b3.WithInjectEncoding(b3.B3MultipleHeader))
}

// Name implements Layer.
func (l *TraceLayer) Name() string { return "trace" }

// Filter implements Layer.
func (l *TraceLayer) Filter() *Filter { return l.filter }

// Handle implements Layer. The trace layer is not reloadable.
func (l *TraceLayer) Handle() *ReloadHandle { return nil }

// Provider returns the TracerProvider of the layer.
func (l *TraceLayer) Provider() *sdktrace.TracerProvider { return l.provider }

// Shutdown flushes pending spans and stops the exporter.
func (l *TraceLayer) Shutdown(ctx context.Context) error {
	return l.provider.Shutdown(ctx)
}

// levelSampler drops spans whose target/level attributes do not pass the
// filter. Dropped spans still get valid IDs, so context keeps propagating.
type levelSampler struct {
	filter *Filter
	next   sdktrace.Sampler
}

func (s levelSampler) ShouldSample(p sdktrace.SamplingParameters) sdktrace.SamplingResult {
	target, level := "", zapcore.InfoLevel
	for _, kv := range p.Attributes {
		switch kv.Key {
		case SpanTargetKey:
			target = kv.Value.AsString()
		case SpanLevelKey:
			if l, err := ParseLevel(kv.Value.AsString()); err == nil {
				level = l
			}
		}
	}

	if !s.filter.Enabled(target, level) {
		return sdktrace.SamplingResult{
			Decision:   sdktrace.Drop,
			Tracestate: trace.SpanContextFromContext(p.ParentContext).TraceState(),
		}
	}
	return s.next.ShouldSample(p)
}

func (s levelSampler) Description() string {
	return fmt.Sprintf("LevelSampler{%s}", s.filter)
}

// StartSpan starts a span tagged with target and level so the trace layer's
// filter can decide whether it is recorded.
func StartSpan(ctx context.Context, target string, level zapcore.Level, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	opts = append(opts, trace.WithAttributes(
		SpanTargetKey.String(target),
		SpanLevelKey.String(LevelName(level)),
	))
	return otel.Tracer(target).Start(ctx, name, opts...)
}

// Tracer returns a named tracer from the global TracerProvider.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

// SpanFromContext returns the current Span from a context.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// TraceIDFromContext extracts the trace ID from a context as a string.
// Returns an empty string if no trace is present.
func TraceIDFromContext(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().HasTraceID() {
		return ""
	}
	return span.SpanContext().TraceID().String()
}

// SpanIDFromContext extracts the span ID from a context as a string.
// Returns an empty string if no span is present.
func SpanIDFromContext(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().HasSpanID() {
		return ""
	}
	return span.SpanContext().SpanID().String()
}
