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
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.uber.org/zap/zapcore"
)

// MeterConfig holds configuration for the meter.
type MeterConfig struct {
	// ServiceName is the name of the service for metrics.
	ServiceName string
	// ServiceVersion is the version of the service.
	ServiceVersion string
	// Registry receives the exported metrics. A new registry is created when nil.
	Registry *prometheus.Registry
}

// MeterProvider is an OpenTelemetry MeterProvider scraped through a
// Prometheus registry.
type MeterProvider struct {
	provider *sdkmetric.MeterProvider
	registry *prometheus.Registry
}

// InitMeter initializes an OpenTelemetry MeterProvider backed by a Prometheus
// exporter and sets it as the global provider.
func InitMeter(cfg MeterConfig) (*MeterProvider, error) {
	if cfg.ServiceName == "" {
		return nil, fmt.Errorf("service name is required")
	}

	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)

	otel.SetMeterProvider(mp)

	return &MeterProvider{provider: mp, registry: registry}, nil
}

// Handler serves the registry in the Prometheus exposition format.
func (m *MeterProvider) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Shutdown stops the provider.
func (m *MeterProvider) Shutdown(ctx context.Context) error {
	return m.provider.Shutdown(ctx)
}

// Meter returns a meter for the given component name.
func Meter(componentName string) metric.Meter {
	return otel.Meter(componentName)
}

// CommonMetrics holds commonly used metrics for a service.
type CommonMetrics struct {
	// RequestsTotal counts total requests.
	RequestsTotal metric.Int64Counter
	// RequestDuration measures request latency.
	RequestDuration metric.Float64Histogram
	// ActiveRequests tracks currently active requests.
	ActiveRequests metric.Int64UpDownCounter
}

// NewCommonMetrics creates a new CommonMetrics instance for the given meter.
func NewCommonMetrics(m metric.Meter, prefix string) (*CommonMetrics, error) {
	requestsTotal, err := m.Int64Counter(
		prefix+"_requests_total",
		metric.WithDescription("Total number of requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create requests_total counter: %w", err)
	}

	requestDuration, err := m.Float64Histogram(
		prefix+"_request_duration_seconds",
		metric.WithDescription("Request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request_duration histogram: %w", err)
	}

	activeRequests, err := m.Int64UpDownCounter(
		prefix+"_active_requests",
		metric.WithDescription("Number of currently active requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create active_requests counter: %w", err)
	}

	return &CommonMetrics{
		RequestsTotal:   requestsTotal,
		RequestDuration: requestDuration,
		ActiveRequests:  activeRequests,
	}, nil
}

// PipelineMetrics counts what the pipeline itself does.
type PipelineMetrics struct {
	// Records counts emitted log records by level.
	Records metric.Int64Counter
	// Reloads counts log level changes.
	Reloads metric.Int64Counter
	// Panics counts panics reported through the panic bridge.
	Panics metric.Int64Counter
}

// NewPipelineMetrics creates the pipeline instruments on m.
func NewPipelineMetrics(m metric.Meter) (*PipelineMetrics, error) {
	records, err := m.Int64Counter(
		"log_records_total",
		metric.WithDescription("Total number of emitted log records"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create log_records_total counter: %w", err)
	}

	reloads, err := m.Int64Counter(
		"log_level_reloads_total",
		metric.WithDescription("Total number of log level changes"),
		metric.WithUnit("{reload}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create log_level_reloads_total counter: %w", err)
	}

	panics, err := m.Int64Counter(
		"panics_total",
		metric.WithDescription("Total number of reported panics"),
		metric.WithUnit("{panic}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create panics_total counter: %w", err)
	}

	return &PipelineMetrics{Records: records, Reloads: reloads, Panics: panics}, nil
}

// RecordHook counts an emitted record. It is meant for WithHooks.
func (p *PipelineMetrics) RecordHook(ent zapcore.Entry) error {
	p.Records.Add(context.Background(), 1, metric.WithAttributes(SpanLevelKey.String(LevelName(ent.Level))))
	return nil
}
