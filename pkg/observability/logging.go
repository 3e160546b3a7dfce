// Copyright 2026 BWI GmbH and Solution Arsenal contributors
// SPDX-License-Identifier: Apache-2.0

package observability

import (
	"context"
	"os"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Keys of the JSON log record.
const (
	TimestampKey = "timestamp"
	LevelKey     = "level"
	TargetKey    = "target"
	MessageKey   = "message"

	// RootTarget is the target of records written by unnamed loggers.
	RootTarget = "root"
)

// LogOption configures BuildLogLayer.
type LogOption func(*logOptions)

type logOptions struct {
	output zapcore.WriteSyncer
	hooks  []func(zapcore.Entry) error
}

// WithOutput sets where records are written. Defaults to stdout.
func WithOutput(ws zapcore.WriteSyncer) LogOption {
	return func(o *logOptions) {
		o.output = ws
	}
}

// WithHooks registers functions called for every emitted record.
func WithHooks(hooks ...func(zapcore.Entry) error) LogOption {
	return func(o *logOptions) {
		o.hooks = append(o.hooks, hooks...)
	}
}

// LogLayer emits JSON records gated by a reloadable Filter.
type LogLayer struct {
	core      zapcore.Core
	handle    *ReloadHandle
	output    zapcore.WriteSyncer
	directive string
	parseErr  error
}

// BuildLogLayer builds the JSON log layer for directive and the handle that
// controls its filter. A malformed directive silently falls back to
// DefaultDirective; the parse error is kept and reported once the pipeline
// is installed.
func BuildLogLayer(directive string, opts ...LogOption) (*LogLayer, *ReloadHandle) {
	o := logOptions{output: zapcore.Lock(os.Stdout)}
	for _, opt := range opts {
		opt(&o)
	}

	f, parseErr := FilterOrDefault(directive)
	handle := newReloadHandle(f)

	var core zapcore.Core = &filteredCore{
		inner:  zapcore.NewCore(zapcore.NewJSONEncoder(EncoderConfig()), o.output, TraceLevel),
		handle: handle,
	}
	if len(o.hooks) > 0 {
		core = zapcore.RegisterHooks(core, o.hooks...)
	}

	return &LogLayer{
		core:      core,
		handle:    handle,
		output:    o.output,
		directive: directive,
		parseErr:  parseErr,
	}, handle
}

// EncoderConfig is the fixed record schema: UTC RFC3339 timestamp, upper case
// level, target and message, fields flattened at the top level. Caller,
// stacktrace and span information are not part of the schema.
func EncoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        TimestampKey,
		LevelKey:       LevelKey,
		NameKey:        TargetKey,
		MessageKey:     MessageKey,
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    capitalLevelEncoder,
		EncodeTime:     utcRFC3339TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeName:     zapcore.FullNameEncoder,
	}
}

func utcRFC3339TimeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.UTC().Format(time.RFC3339Nano))
}

// Name implements Layer.
func (l *LogLayer) Name() string { return "log" }

// Filter implements Layer.
func (l *LogLayer) Filter() *Filter { return l.handle.Filter() }

// Handle implements Layer.
func (l *LogLayer) Handle() *ReloadHandle { return l.handle }

// Core returns the zap core of the layer.
func (l *LogLayer) Core() zapcore.Core { return l.core }

// filteredCore consults the handle's filter exactly once per record, so a
// record never observes a filter that is being replaced.
type filteredCore struct {
	inner  zapcore.Core
	handle *ReloadHandle
}

var _ zapcore.Core = &filteredCore{}

func (c *filteredCore) Enabled(l zapcore.Level) bool {
	return severity(l) >= c.handle.Filter().MinLevel()
}

// Level lets zap.Logger.Level report the most verbose level in effect.
func (c *filteredCore) Level() zapcore.Level {
	return c.handle.Filter().MinLevel()
}

func (c *filteredCore) With(fields []zapcore.Field) zapcore.Core {
	return &filteredCore{inner: c.inner.With(fields), handle: c.handle}
}

func (c *filteredCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.handle.Filter().Enabled(entryTarget(ent), ent.Level) {
		return ce
	}
	return ce.AddCore(ent, c)
}

func (c *filteredCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	ent.LoggerName = entryTarget(ent)
	return c.inner.Write(ent, fields)
}

// entryTarget is the logger name of ent, or RootTarget for unnamed loggers.
func entryTarget(ent zapcore.Entry) string {
	if ent.LoggerName == "" {
		return RootTarget
	}
	return ent.LoggerName
}

func (c *filteredCore) Sync() error {
	return c.inner.Sync()
}

// NewLogr wraps a zap logger for code that expects a logr.Logger.
func NewLogr(logger *zap.Logger) logr.Logger {
	return zapr.NewLogger(logger)
}

// LoggerWithTraceContext returns a logger enriched with trace context from the given context.
// This enables log correlation with distributed traces.
func LoggerWithTraceContext(ctx context.Context, logger *zap.Logger) *zap.Logger {
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return logger
	}

	spanCtx := span.SpanContext()
	return logger.With(
		zap.String("trace_id", spanCtx.TraceID().String()),
		zap.String("span_id", spanCtx.SpanID().String()),
	)
}

// loggerKey is the context key for storing the logger.
type loggerKey struct{}

// ContextWithLogger returns a new context with the logger attached.
func ContextWithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// LoggerFromContext returns the logger from the context.
// If no logger is found, it returns the global zap logger.
func LoggerFromContext(ctx context.Context) *zap.Logger {
	if logger, ok := ContextLogger(ctx); ok {
		return logger
	}
	return zap.L()
}

// ContextLogger returns the logger attached to ctx, if there is one.
func ContextLogger(ctx context.Context) (*zap.Logger, bool) {
	logger, ok := ctx.Value(loggerKey{}).(*zap.Logger)
	return logger, ok && logger != nil
}
