// Copyright 2026 BWI GmbH and Solution Arsenal contributors
// SPDX-License-Identifier: Apache-2.0

// Package proxy forwards HTTP requests to an upstream destination. Outbound
// requests carry the trace context of the inbound request in the propagation
// format of the installed pipeline.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"go.opendefense.cloud/lantern/pkg/observability"
)

// RequestIDHeader carries the request ID to the upstream.
const RequestIDHeader = "X-Request-Id"

// LoggerName is the target of records written by the proxy.
const LoggerName = "lantern.proxy"

// ErrInvalidDestination is returned for destinations that are not absolute
// http(s) URLs.
var ErrInvalidDestination = errors.New("invalid proxy destination")

// Handler forwards every request it serves to its destination.
type Handler struct {
	destination *url.URL
	timeout     time.Duration
	logger      *zap.Logger
	proxy       *httputil.ReverseProxy
}

// Option configures a Handler.
type Option func(*Handler, *options)

type options struct {
	transport http.RoundTripper
}

// WithTransport sets the round tripper used for upstream requests. It is
// wrapped with otelhttp so the trace context is injected.
func WithTransport(rt http.RoundTripper) Option {
	return func(_ *Handler, o *options) {
		o.transport = rt
	}
}

// WithTimeout bounds the time of a single upstream exchange.
func WithTimeout(d time.Duration) Option {
	return func(h *Handler, _ *options) {
		h.timeout = d
	}
}

// WithLogger sets the logger used when the request context carries none.
func WithLogger(logger *zap.Logger) Option {
	return func(h *Handler, _ *options) {
		h.logger = logger
	}
}

// NewHandler returns a handler that sends requests to destination joined
// with the request path and query. The upstream response is relayed as is.
// Transport failures are answered with 500 and the error message as body;
// requests are never retried.
func NewHandler(destination string, opts ...Option) (*Handler, error) {
	u, err := url.Parse(destination)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %w", ErrInvalidDestination, destination, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w %q: must be an absolute http(s) URL", ErrInvalidDestination, destination)
	}

	h := &Handler{destination: u}
	o := &options{transport: http.DefaultTransport}
	for _, opt := range opts {
		opt(h, o)
	}
	if h.logger == nil {
		h.logger = zap.L().Named(LoggerName)
	}

	h.proxy = &httputil.ReverseProxy{
		Rewrite:      h.rewrite,
		Transport:    otelhttp.NewTransport(o.transport),
		ErrorHandler: h.handleError,
		ErrorLog:     zap.NewStdLog(h.logger),
	}
	return h, nil
}

// Destination returns the upstream URL.
func (h *Handler) Destination() string {
	return h.destination.String()
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	if r.Header.Get(RequestIDHeader) == "" {
		r.Header.Set(RequestIDHeader, uuid.NewString())
	}

	h.loggerFor(ctx).Debug("Forwarding request",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.String("destination", h.destination.String()),
		zap.String("request_id", r.Header.Get(RequestIDHeader)),
	)

	h.proxy.ServeHTTP(w, r.WithContext(ctx))
}

func (h *Handler) rewrite(pr *httputil.ProxyRequest) {
	pr.SetURL(h.destination)
	pr.SetXForwarded()
	pr.Out.Header.Set(RequestIDHeader, pr.In.Header.Get(RequestIDHeader))
}

func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	h.loggerFor(r.Context()).Warn("Upstream request failed",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.String("destination", h.destination.String()),
		zap.String("request_id", r.Header.Get(RequestIDHeader)),
		zap.Error(err),
	)
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func (h *Handler) loggerFor(ctx context.Context) *zap.Logger {
	if logger, ok := observability.ContextLogger(ctx); ok {
		return logger.Named(LoggerName)
	}
	return h.logger
}

// Middleware sends requests matching predicate to h and passes all other
// requests to the next handler.
func Middleware(predicate func(*http.Request) bool, h http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if predicate(r) {
				h.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// PathPrefix matches requests whose path is prefix or lies below it.
func PathPrefix(prefix string) func(*http.Request) bool {
	prefix = strings.TrimSuffix(prefix, "/")
	return func(r *http.Request) bool {
		p := r.URL.Path
		return p == prefix || strings.HasPrefix(p, prefix+"/")
	}
}

// Route mounts a handler for destination on r under prefix and everything
// below it.
func Route(r chi.Router, prefix, destination string, opts ...Option) (*Handler, error) {
	h, err := NewHandler(destination, opts...)
	if err != nil {
		return nil, err
	}
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" {
		r.Handle("/*", h)
		return h, nil
	}
	r.Handle(prefix, h)
	r.Handle(prefix+"/*", h)
	return h, nil
}
