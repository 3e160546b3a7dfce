/*
Copyright 2024 Open Defense Cloud Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package observability

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"slices"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// HTTPTarget is the target of server spans and request records.
const HTTPTarget = "http"

// HTTPMiddlewareConfig holds configuration for the HTTP middleware.
type HTTPMiddlewareConfig struct {
	// Tracer is the tracer to use for creating spans. Defaults to the global
	// provider's tracer for ServiceName.
	Tracer trace.Tracer
	// Metrics records request metrics. Created on the global meter when nil.
	Metrics *CommonMetrics
	// Logger is the logger to use for request logging. Defaults to the
	// global zap logger.
	Logger *zap.Logger
	// ServiceName is the name of the service.
	ServiceName string
	// SkipPaths are served without span, metrics or request record.
	SkipPaths []string
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    int64
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.written += int64(n)
	return n, err
}

// Flush lets streaming handlers, such as the reverse proxy, flush through
// the wrapper.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// HTTPMiddleware returns an HTTP middleware that adds tracing, metrics, and logging.
// The trace context of the request is extracted with the global propagator,
// B3 multi-header once the pipeline is installed. Handlers find a span-bound
// logger through LoggerFromContext.
func HTTPMiddleware(cfg HTTPMiddlewareConfig) func(http.Handler) http.Handler {
	metrics := cfg.Metrics
	if metrics == nil {
		// Instruments of the global meter cannot fail to be created with valid names.
		metrics, _ = NewCommonMetrics(Meter(cfg.ServiceName), "http_server")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if slices.Contains(cfg.SkipPaths, r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()

			tracer := cfg.Tracer
			if tracer == nil {
				tracer = otel.Tracer(cfg.ServiceName)
			}
			baseLogger := cfg.Logger
			if baseLogger == nil {
				baseLogger = zap.L()
			}

			// Extract trace context from incoming request.
			ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

			spanName := r.Method + " " + r.URL.Path
			ctx, span := tracer.Start(ctx, spanName,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					SpanTargetKey.String(HTTPTarget),
					SpanLevelKey.String("info"),
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.URLPath(r.URL.Path),
					semconv.URLScheme(r.URL.Scheme),
					semconv.ServerAddress(r.Host),
					semconv.UserAgentOriginal(r.UserAgent()),
				),
			)
			defer span.End()

			logger := SpanLogger(ctx, baseLogger)
			ctx = ContextWithLogger(ctx, logger)

			if metrics != nil {
				metrics.ActiveRequests.Add(ctx, 1)
				defer metrics.ActiveRequests.Add(ctx, -1)
			}

			wrapped := newResponseWriter(w)
			next.ServeHTTP(wrapped, r.WithContext(ctx))

			duration := time.Since(start).Seconds()

			attrs := []attribute.KeyValue{
				semconv.HTTPRequestMethodKey.String(r.Method),
				semconv.HTTPResponseStatusCode(wrapped.statusCode),
				attribute.String("path", r.URL.Path),
			}
			if metrics != nil {
				metrics.RequestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
				metrics.RequestDuration.Record(ctx, duration, metric.WithAttributes(attrs...))
			}

			span.SetAttributes(
				semconv.HTTPResponseStatusCode(wrapped.statusCode),
				attribute.Int64("http.response.body.size", wrapped.written),
			)
			if wrapped.statusCode >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(wrapped.statusCode))
			}

			logger.Named(HTTPTarget).Debug("HTTP request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", wrapped.statusCode),
				zap.Float64("duration_ms", duration*1000),
				zap.Int64("bytes", wrapped.written),
			)
		})
	}
}

// RecoveryMiddleware returns an HTTP middleware that recovers from panics,
// reports them like the panic bridge does and answers 500. logger is used
// when the request context carries none.
func RecoveryMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				ctx := r.Context()
				if _, ok := ctx.Value(loggerKey{}).(*zap.Logger); !ok && logger != nil {
					ctx = ContextWithLogger(ctx, logger)
				}
				LogRecovered(ctx, rec,
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
				)

				span := trace.SpanFromContext(ctx)
				span.SetStatus(codes.Error, renderPanic(rec))
				span.SetAttributes(attribute.Bool("panic", true))

				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}()
			next.ServeHTTP(w, r)
		})
	}
}
