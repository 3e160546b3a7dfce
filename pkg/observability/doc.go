// Copyright 2026 BWI GmbH and Solution Arsenal contributors
// SPDX-License-Identifier: Apache-2.0

// Package observability installs the process-wide logging and tracing
// pipeline of lantern services.
//
// The pipeline is made of layers:
//   - a log layer writing one JSON record per line, gated by a level
//     directive that can be changed while the process runs
//   - an optional trace layer exporting spans over OTLP/gRPC, with B3
//     multi-header propagation on inbound and outbound requests
//
// Panics are written to the log layer with their source location before
// they propagate.
//
// # Usage
//
// Install the pipeline once at startup:
//
//	observability.Init(ctx, observability.Config{
//	    LogLevel:       "info,lantern.proxy=debug",
//	    TraceLevel:     "info",
//	    ServiceName:    "lantern",
//	    TracesEndpoint: "otel-collector:4317",
//	})
//
// Change the log level later, from any goroutine:
//
//	if err := observability.Modify("debug"); err != nil {
//	    // the pipeline is not installed yet
//	}
//
// Report panics of goroutines you start:
//
//	observability.Go(func() { work(ctx) })
//
// Use HTTP middleware:
//
//	handler := observability.HTTPMiddleware(observability.HTTPMiddlewareConfig{
//	    ServiceName: "lantern",
//	})(myHandler)
package observability
