// Copyright 2026 BWI GmbH and Solution Arsenal contributors
// SPDX-License-Identifier: Apache-2.0

package observability

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const instrumentationName = "go.opendefense.cloud/lantern/pkg/observability"

// Config holds what the pipeline needs from the application configuration.
type Config struct {
	// LogLevel is the directive of the log layer.
	LogLevel string
	// TraceLevel is the directive of the trace layer.
	TraceLevel string
	// ServiceName identifies the service in exported spans.
	ServiceName string
	// ServiceVersion is the version of the service.
	ServiceVersion string
	// Environment is the deployment environment.
	Environment string
	// TracesEndpoint is the OTLP collector endpoint. Tracing is disabled when empty.
	TracesEndpoint string
	// TracesInsecure disables TLS for the collector connection.
	TracesInsecure bool
	// FailOnExporterError makes a trace exporter setup failure fatal. When
	// false, the error is logged and the pipeline runs without tracing.
	FailOnExporterError bool
	// LogSpanContext adds trace_id and span_id to records of span-bound loggers.
	LogSpanContext bool
	// Output receives log records. Defaults to stdout.
	Output zapcore.WriteSyncer
	// TraceExporter replaces the OTLP exporter and enables tracing without an endpoint.
	TraceExporter sdktrace.SpanExporter
}

type installer struct {
	mu         sync.Mutex
	subscriber *Subscriber
	reload     Slot[*ReloadHandle]
	undo       []func()
}

var global = &installer{}

// Init installs the pipeline and panics if that fails: when ctx is nil,
// when a pipeline is already installed and, with FailOnExporterError, when
// the trace exporter cannot be set up.
func Init(ctx context.Context, cfg Config) {
	if _, err := Install(ctx, cfg); err != nil {
		panic(err)
	}
}

// Install builds the log layer and, if configured, the trace layer, composes
// them and installs the result as the process-wide zap logger, standard
// library logger sink and OpenTelemetry tracer provider. Before returning it
// publishes the log layer's ReloadHandle and installs the PanicBridge.
func Install(ctx context.Context, cfg Config) (*Subscriber, error) {
	return global.install(ctx, cfg)
}

func (in *installer) install(ctx context.Context, cfg Config) (*Subscriber, error) {
	if ctx == nil {
		return nil, ErrNoContext
	}

	in.mu.Lock()
	defer in.mu.Unlock()

	if in.subscriber != nil {
		return nil, ErrAlreadyInstalled
	}

	metrics, err := NewPipelineMetrics(Meter(instrumentationName))
	if err != nil {
		return nil, err
	}

	logOpts := []LogOption{WithHooks(metrics.RecordHook)}
	if cfg.Output != nil {
		logOpts = append(logOpts, WithOutput(cfg.Output))
	}
	logLayer, handle := BuildLogLayer(cfg.LogLevel, logOpts...)

	var (
		traceLayer  *TraceLayer
		exporterErr error
	)
	if cfg.TracesEndpoint != "" || cfg.TraceExporter != nil {
		traceLayer, err = BuildTraceLayer(ctx, TraceConfig{
			Directive:      cfg.TraceLevel,
			ServiceName:    cfg.ServiceName,
			ServiceVersion: cfg.ServiceVersion,
			Environment:    cfg.Environment,
			Endpoint:       cfg.TracesEndpoint,
			Insecure:       cfg.TracesInsecure,
			Exporter:       cfg.TraceExporter,
		})
		if err != nil {
			exporterErr = fmt.Errorf("%w: %w", ErrExporterInstall, err)
			if cfg.FailOnExporterError {
				return nil, exporterErr
			}
		}
	}

	subscriber, err := NewPipelineBuilder().
		With(logLayer).
		With(traceLayer).
		WithSpanContext(cfg.LogSpanContext).
		Build()
	if err != nil {
		return nil, err
	}

	root := subscriber.Logger()
	logger := root.Named("observability")

	in.undo = append(in.undo,
		zap.ReplaceGlobals(root),
		zap.RedirectStdLog(root.Named("stdlog")),
	)
	prevPropagator := otel.GetTextMapPropagator()
	prevErrorHandler := otel.GetErrorHandler()
	otel.SetTextMapPropagator(Propagator())
	otel.SetLogger(subscriber.Logr().WithName("otel"))
	otel.SetErrorHandler(otel.ErrorHandlerFunc(func(err error) {
		root.Named("otel").Warn("telemetry error", zap.Error(err))
	}))
	in.undo = append(in.undo, func() {
		otel.SetTextMapPropagator(prevPropagator)
		otel.SetErrorHandler(prevErrorHandler)
		// otel offers no getter for the global logger.
		otel.SetLogger(logr.Discard())
	})
	if traceLayer != nil {
		prevProvider := otel.GetTracerProvider()
		otel.SetTracerProvider(traceLayer.Provider())
		in.undo = append(in.undo, func() {
			otel.SetTracerProvider(prevProvider)
			_ = traceLayer.Shutdown(context.Background())
		})
	}
	in.subscriber = subscriber

	if logLayer.parseErr != nil {
		logger.Warn("invalid log level directive, using default",
			zap.String("directive", logLayer.directive),
			zap.String("default", DefaultDirective),
			zap.Error(logLayer.parseErr),
		)
	}
	if traceLayer != nil && traceLayer.parseErr != nil {
		logger.Warn("invalid trace level directive, using default",
			zap.String("directive", cfg.TraceLevel),
			zap.String("default", DefaultDirective),
			zap.Error(traceLayer.parseErr),
		)
	}
	if exporterErr != nil {
		logger.Error("tracing disabled", zap.Error(exporterErr))
	}

	handle.notify(func(old, next *Filter, parseErr error) {
		metrics.Reloads.Add(context.Background(), 1)
		if parseErr != nil {
			logger.Warn("invalid log level directive, using default",
				zap.String("default", DefaultDirective),
				zap.Error(parseErr),
			)
		}
		logger.Info("log level changed", zap.Stringer("from", old), zap.Stringer("to", next))
	})
	in.reload.Set(handle)

	bridge := installPanicBridge(root.Named("panic"), func() {
		metrics.Panics.Add(context.Background(), 1)
	})
	in.undo = append(in.undo, bridge.Uninstall)

	return subscriber, nil
}

// uninstall reverts the process-wide registrations and shuts the trace layer
// down. It exists for tests; the reload slot is left populated.
func (in *installer) uninstall() {
	in.mu.Lock()
	defer in.mu.Unlock()

	for i := len(in.undo) - 1; i >= 0; i-- {
		in.undo[i]()
	}
	in.undo = nil
}

// Installed returns the installed subscriber.
func Installed() (*Subscriber, bool) {
	global.mu.Lock()
	defer global.mu.Unlock()
	return global.subscriber, global.subscriber != nil
}

// GetReloadHandle returns the log layer's handle once the pipeline is
// installed. ok is false before that; it is not an error.
func GetReloadHandle() (*ReloadHandle, bool) {
	return global.reload.Get()
}

// WaitReloadHandle waits for the handle with backoff until ctx is done.
func WaitReloadHandle(ctx context.Context) (*ReloadHandle, error) {
	h, err := global.reload.Wait(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrReloadTargetUnavailable, err)
	}
	return h, nil
}

// Modify changes the log level of the installed pipeline.
func Modify(directive string) error {
	h, ok := GetReloadHandle()
	if !ok {
		return fmt.Errorf("modify level to %q: %w", directive, ErrReloadTargetUnavailable)
	}
	return h.Modify(directive)
}

// SpanLogger binds logger to the span in ctx using the installed pipeline.
func SpanLogger(ctx context.Context, logger *zap.Logger) *zap.Logger {
	s, ok := Installed()
	if !ok {
		return logger
	}
	return s.SpanLogger(ctx, logger)
}
