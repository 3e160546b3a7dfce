// Copyright 2026 BWI GmbH and Solution Arsenal contributors
// SPDX-License-Identifier: Apache-2.0

// Package admin serves the operator endpoints of a lantern process: reading
// and changing the log level, metrics and health.
package admin

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"go.opendefense.cloud/lantern/pkg/observability"
)

const maxBodyBytes = 4096

// Config configures the admin router.
type Config struct {
	// ReloadRate is the number of level changes allowed per second.
	ReloadRate float64
	// ReloadBurst is the number of level changes allowed at once.
	ReloadBurst int
	// Metrics serves GET /metrics. The route is not mounted when nil.
	Metrics http.Handler
	// Logger defaults to the global logger named lantern.admin.
	Logger *zap.Logger
	// Reloader returns the handle of the log layer. Defaults to
	// observability.GetReloadHandle.
	Reloader func() (*observability.ReloadHandle, bool)
}

// LevelRequest is the body of PUT /log/level.
type LevelRequest struct {
	Level string `json:"level"`
}

// LevelResponse is returned by the level endpoints.
type LevelResponse struct {
	Level string `json:"level"`
}

// ErrorResponse is returned on failure.
type ErrorResponse struct {
	Error string `json:"error"`
}

type server struct {
	logger   *zap.Logger
	limiter  *rate.Limiter
	reloader func() (*observability.ReloadHandle, bool)
}

// NewRouter returns the admin routes.
func NewRouter(cfg Config) http.Handler {
	s := &server{
		logger:   cfg.Logger,
		reloader: cfg.Reloader,
	}
	if s.logger == nil {
		s.logger = zap.L().Named("lantern.admin")
	}
	if s.reloader == nil {
		s.reloader = observability.GetReloadHandle
	}

	limit := rate.Limit(cfg.ReloadRate)
	if cfg.ReloadRate <= 0 {
		limit = rate.Inf
	}
	burst := cfg.ReloadBurst
	if burst <= 0 {
		burst = 1
	}
	s.limiter = rate.NewLimiter(limit, burst)

	r := chi.NewRouter()
	r.Get("/healthz", s.healthz)
	r.Route("/log/level", func(r chi.Router) {
		r.Get("/", s.getLevel)
		r.Put("/", s.putLevel)
	})
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}
	return r
}

func (s *server) healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, "ok")
}

func (s *server) getLevel(w http.ResponseWriter, r *http.Request) {
	h, ok := s.reloader()
	if !ok {
		writeError(w, http.StatusServiceUnavailable, observability.ErrReloadTargetUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, LevelResponse{Level: h.Directive()})
}

func (s *server) putLevel(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow() {
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusTooManyRequests, errors.New("too many level changes"))
		return
	}

	var req LevelRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if _, err := observability.ParseFilter(req.Level); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	h, ok := s.reloader()
	if !ok {
		writeError(w, http.StatusServiceUnavailable, observability.ErrReloadTargetUnavailable)
		return
	}
	if err := h.Modify(req.Level); err != nil {
		s.logger.Warn("Log level change failed", zap.String("level", req.Level), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}

	s.logger.Info("Log level changed through admin endpoint",
		zap.String("level", h.Directive()),
		zap.String("remote", r.RemoteAddr),
	)
	writeJSON(w, http.StatusOK, LevelResponse{Level: h.Directive()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}
