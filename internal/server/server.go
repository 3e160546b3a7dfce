// Copyright 2026 BWI GmbH and Solution Arsenal contributors
// SPDX-License-Identifier: Apache-2.0

// Package server runs the main and admin HTTP servers of lantern.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"go.opendefense.cloud/lantern/pkg/admin"
	"go.opendefense.cloud/lantern/pkg/config"
	"go.opendefense.cloud/lantern/pkg/observability"
	"go.opendefense.cloud/lantern/pkg/proxy"
)

// Server serves the proxy routes and, when enabled, the admin endpoints.
type Server struct {
	cfg    config.BaseConfig
	logger *zap.Logger
	main   *http.Server
	admin  *http.Server
}

// PipelineConfig maps the application configuration onto the observability
// pipeline.
func PipelineConfig(cfg config.BaseConfig) observability.Config {
	return observability.Config{
		LogLevel:            cfg.Logging.Level,
		TraceLevel:          cfg.Logging.TraceLevel,
		LogSpanContext:      cfg.Logging.LogSpanContext,
		ServiceName:         cfg.ServiceName,
		ServiceVersion:      cfg.ServiceVersion,
		Environment:         cfg.Environment,
		TracesEndpoint:      cfg.Telemetry.Endpoint,
		TracesInsecure:      cfg.Telemetry.Insecure,
		FailOnExporterError: cfg.Telemetry.FailOnExporterError,
	}
}

// New builds the servers. metrics is served by the admin server and may be nil.
func New(cfg config.BaseConfig, metrics http.Handler) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: zap.L().Named("lantern.server"),
	}

	handler, err := s.mainHandler()
	if err != nil {
		return nil, err
	}
	s.main = &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		ErrorLog:     zap.NewStdLog(s.logger),
	}

	if cfg.Admin.Enabled {
		s.admin = &http.Server{
			Addr: cfg.Admin.Address(),
			Handler: admin.NewRouter(admin.Config{
				ReloadRate:  cfg.Admin.ReloadRate,
				ReloadBurst: cfg.Admin.ReloadBurst,
				Metrics:     metrics,
			}),
			ErrorLog: zap.NewStdLog(s.logger),
		}
	}
	return s, nil
}

func (s *Server) mainHandler() (http.Handler, error) {
	r := chi.NewRouter()
	r.Use(observability.HTTPMiddleware(observability.HTTPMiddlewareConfig{
		ServiceName: s.cfg.ServiceName,
		SkipPaths:   []string{"/healthz"},
	}))
	r.Use(observability.RecoveryMiddleware(s.logger))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "ok")
	})

	for _, route := range s.cfg.Proxy.Routes {
		if _, err := proxy.Route(r, route.Prefix, route.Destination, proxy.WithTimeout(route.Timeout)); err != nil {
			return nil, fmt.Errorf("route %s: %w", route.Prefix, err)
		}
		s.logger.Info("Proxy route registered",
			zap.String("prefix", route.Prefix),
			zap.String("destination", route.Destination),
		)
	}
	return r, nil
}

// Handler returns the handler of the main server.
func (s *Server) Handler() http.Handler {
	return s.main.Handler
}

// Run listens on the configured addresses and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	var lc net.ListenConfig

	mainLn, err := lc.Listen(ctx, "tcp", s.main.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.main.Addr, err)
	}
	var adminLn net.Listener
	if s.admin != nil {
		adminLn, err = lc.Listen(ctx, "tcp", s.admin.Addr)
		if err != nil {
			_ = mainLn.Close()
			return fmt.Errorf("failed to listen on %s: %w", s.admin.Addr, err)
		}
	}
	return s.Serve(ctx, mainLn, adminLn)
}

// Serve serves on the given listeners until ctx is done, then shuts the
// servers down within the configured shutdown timeout. adminLn is ignored
// when the admin server is disabled.
func (s *Server) Serve(ctx context.Context, mainLn, adminLn net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer observability.ReportPanic()
		s.logger.Info("Server listening", zap.String("addr", mainLn.Addr().String()), zap.Bool("tls", s.cfg.Server.TLS.Enabled))
		var err error
		if s.cfg.Server.TLS.Enabled {
			err = s.main.ServeTLS(mainLn, s.cfg.Server.TLS.CertFile, s.cfg.Server.TLS.KeyFile)
		} else {
			err = s.main.Serve(mainLn)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if s.admin != nil && adminLn != nil {
		g.Go(func() error {
			defer observability.ReportPanic()
			s.logger.Info("Admin server listening", zap.String("addr", adminLn.Addr().String()))
			if err := s.admin.Serve(adminLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		defer observability.ReportPanic()
		<-gctx.Done()
		s.logger.Info("Shutting down servers")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.Server.ShutdownTimeout)
		defer cancel()

		var errs []error
		if err := s.main.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("error shutting down server: %w", err))
		}
		if s.admin != nil {
			if err := s.admin.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("error shutting down admin server: %w", err))
			}
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}
