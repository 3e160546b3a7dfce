// Copyright 2026 BWI GmbH and Solution Arsenal contributors
// SPDX-License-Identifier: Apache-2.0

// Package main is the entrypoint for lantern, a reverse proxy whose logging
// and tracing pipeline can be reconfigured while it runs.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"go.opendefense.cloud/lantern/internal/server"
	"go.opendefense.cloud/lantern/pkg/config"
	"go.opendefense.cloud/lantern/pkg/observability"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lantern",
		Short: "Lantern - reverse proxy with a reloadable observability pipeline",
		Long: `Lantern forwards HTTP requests to upstream services. It writes JSON
logs, exports traces over OTLP and propagates B3 headers. The log level can be
changed while it runs, through the admin endpoint or the configuration file.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildTime),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newServeCommand())
	cmd.AddCommand(newValidateCommand())
	cmd.AddCommand(newVersionCommand())

	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "lantern %s\n", version)
			_, _ = fmt.Fprintf(out, "  commit:  %s\n", commit)
			_, _ = fmt.Fprintf(out, "  built:   %s\n", buildTime)
		},
	}
}

func newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [config-file]",
		Short: "Validate configuration file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadAndValidate(args[0])
			if err != nil {
				return err
			}
			printSummary(cmd.OutOrStdout(), cfg)
			return nil
		},
	}
}

func printSummary(out io.Writer, cfg config.BaseConfig) {
	_, _ = fmt.Fprintln(out, "Configuration is valid")
	_, _ = fmt.Fprintf(out, "  Service:     %s\n", cfg.ServiceName)
	_, _ = fmt.Fprintf(out, "  Log level:   %s\n", cfg.Logging.Level)
	_, _ = fmt.Fprintf(out, "  Trace level: %s\n", cfg.Logging.TraceLevel)
	_, _ = fmt.Fprintf(out, "  Listen:      %s\n", cfg.Server.Address())
	if cfg.Admin.Enabled {
		_, _ = fmt.Fprintf(out, "  Admin:       %s\n", cfg.Admin.Address())
	}
	_, _ = fmt.Fprintf(out, "  Routes:      %d\n", len(cfg.Proxy.Routes))
}

func newServeCommand() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the proxy",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configFile)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return run(ctx, configFile, cfg)
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to configuration file")

	return cmd
}

func loadConfig(path string) (config.BaseConfig, error) {
	if path != "" {
		return config.LoadAndValidate(path)
	}
	cfg := config.LoadBaseConfigFromEnv(config.EnvPrefix)
	if err := config.ValidateBaseConfig(cfg); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func run(ctx context.Context, configFile string, cfg config.BaseConfig) error {
	meter, err := observability.InitMeter(observability.MeterConfig{
		ServiceName:    cfg.ServiceName,
		ServiceVersion: cfg.ServiceVersion,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize metrics: %w", err)
	}

	observability.Init(ctx, server.PipelineConfig(cfg))
	subscriber, _ := observability.Installed()
	logger := zap.L().Named("lantern")

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := errors.Join(subscriber.Shutdown(shutdownCtx), meter.Shutdown(shutdownCtx)); err != nil {
			logger.Warn("Telemetry shutdown failed", zap.Error(err))
		}
		_ = logger.Sync()
	}()
	defer observability.ReportPanic()

	logger.Info("Starting lantern",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("logLevel", cfg.Logging.Level),
		zap.Int("routes", len(cfg.Proxy.Routes)),
	)

	if configFile != "" {
		watcher := config.NewWatcher(configFile, config.LoadAndValidate, zap.L().Named("lantern.config"))
		watcher.OnReload(func(next config.BaseConfig) {
			if err := observability.Modify(next.Logging.Level); err != nil {
				logger.Warn("Failed to apply log level", zap.Error(err))
			}
		})
		if err := watcher.Start(ctx); err != nil {
			return fmt.Errorf("failed to watch config file: %w", err)
		}
	}

	srv, err := server.New(cfg, meter.Handler())
	if err != nil {
		return err
	}
	if err := srv.Run(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	logger.Info("Lantern stopped")
	return nil
}
