// Copyright 2026 BWI GmbH and Solution Arsenal contributors
// SPDX-License-Identifier: Apache-2.0

package observability

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-logr/logr"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Layer is one named stage of a Subscriber. Every layer has a filter;
// reloadable layers also expose the handle that replaces it.
type Layer interface {
	Name() string
	Filter() *Filter
	// Handle returns nil for layers that cannot be reloaded.
	Handle() *ReloadHandle
}

// PipelineBuilder composes layers, in order, into a Subscriber.
type PipelineBuilder struct {
	layers         []Layer
	logSpanContext bool
	loggerOptions  []zap.Option
}

// NewPipelineBuilder returns an empty builder.
func NewPipelineBuilder() *PipelineBuilder {
	return &PipelineBuilder{}
}

// With appends a layer. A nil layer is skipped, which keeps optional layers
// easy to compose.
func (b *PipelineBuilder) With(l Layer) *PipelineBuilder {
	if l == nil || isNilLayer(l) {
		return b
	}
	b.layers = append(b.layers, l)
	return b
}

// WithSpanContext makes span-bound loggers add trace_id and span_id fields
// to their JSON records.
func (b *PipelineBuilder) WithSpanContext(enabled bool) *PipelineBuilder {
	b.logSpanContext = enabled
	return b
}

// WithLoggerOptions passes options to the composed zap logger.
func (b *PipelineBuilder) WithLoggerOptions(opts ...zap.Option) *PipelineBuilder {
	b.loggerOptions = append(b.loggerOptions, opts...)
	return b
}

// Build composes the layers. At most one layer of each name is allowed, and
// only the layers of this package can be composed.
func (b *PipelineBuilder) Build() (*Subscriber, error) {
	s := &Subscriber{
		layers:         append([]Layer(nil), b.layers...),
		logSpanContext: b.logSpanContext,
	}

	seen := map[string]bool{}
	var cores []zapcore.Core
	for _, l := range s.layers {
		if seen[l.Name()] {
			return nil, fmt.Errorf("layer %q added twice", l.Name())
		}
		seen[l.Name()] = true

		switch layer := l.(type) {
		case *LogLayer:
			cores = append(cores, layer.Core())
			s.log = layer
		case *TraceLayer:
			s.trace = layer
		default:
			return nil, fmt.Errorf("layer %q: unsupported layer type %T", l.Name(), l)
		}
	}

	core := zapcore.NewNopCore()
	if len(cores) > 0 {
		core = zapcore.NewTee(cores...)
	}
	s.logger = zap.New(core, b.loggerOptions...)

	return s, nil
}

func isNilLayer(l Layer) bool {
	switch layer := l.(type) {
	case *LogLayer:
		return layer == nil
	case *TraceLayer:
		return layer == nil
	}
	return false
}

// Subscriber is the composed set of layers registered as the process-wide
// log and trace sink.
type Subscriber struct {
	layers         []Layer
	log            *LogLayer
	trace          *TraceLayer
	logger         *zap.Logger
	logSpanContext bool
}

// Layers returns the layers in composition order.
func (s *Subscriber) Layers() []Layer {
	return append([]Layer(nil), s.layers...)
}

// Layer looks a layer up by name.
func (s *Subscriber) Layer(name string) (Layer, bool) {
	for _, l := range s.layers {
		if l.Name() == name {
			return l, true
		}
	}
	return nil, false
}

// Logger returns the composed logger.
func (s *Subscriber) Logger() *zap.Logger {
	return s.logger
}

// Logr returns the composed logger as a logr.Logger.
func (s *Subscriber) Logr() logr.Logger {
	return NewLogr(s.logger)
}

// ReloadHandle returns the handle of the log layer, or nil without one.
func (s *Subscriber) ReloadHandle() *ReloadHandle {
	if s.log == nil {
		return nil
	}
	return s.log.Handle()
}

// TracerProvider returns the trace layer's provider, or nil without one.
func (s *Subscriber) TracerProvider() *sdktrace.TracerProvider {
	if s.trace == nil {
		return nil
	}
	return s.trace.Provider()
}

// SpanLogger returns a logger whose records also become events of the span
// in ctx, gated by the trace layer's filter. Without a trace layer or a
// recording span, logger is returned unchanged apart from optional span
// context fields.
func (s *Subscriber) SpanLogger(ctx context.Context, logger *zap.Logger) *zap.Logger {
	if s.logSpanContext {
		logger = LoggerWithTraceContext(ctx, logger)
	}

	span := trace.SpanFromContext(ctx)
	if s.trace == nil || !span.IsRecording() {
		return logger
	}

	events := newSpanEventCore(span, s.trace.Filter())
	return logger.WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
		return zapcore.NewTee(c, events)
	}))
}

// Shutdown flushes the trace exporter and syncs the log output. The
// subscriber stays installed; its reload handle stops accepting changes.
func (s *Subscriber) Shutdown(ctx context.Context) error {
	var errs []error
	if s.trace != nil {
		if err := s.trace.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shut down trace layer: %w", err))
		}
	}
	if s.log != nil {
		s.log.Handle().close()
		// Syncing stdout/stderr fails on some platforms; that is not worth reporting.
		_ = s.logger.Sync()
	}
	return errors.Join(errs...)
}
