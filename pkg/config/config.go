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

// Package config provides configuration loading and validation for lantern.
//
// Values are resolved in three steps: struct defaults, an optional YAML
// file, then LANTERN_* environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of environment variables read by Load.
const EnvPrefix = "LANTERN"

// BaseConfig contains the configuration of a lantern process.
type BaseConfig struct {
	// ServiceName is the name of the service for observability.
	ServiceName string `json:"serviceName" yaml:"serviceName" default:"lantern"`
	// ServiceVersion is the version of the service.
	ServiceVersion string `json:"serviceVersion" yaml:"serviceVersion" default:"dev"`
	// Environment is the deployment environment.
	Environment string `json:"environment" yaml:"environment"`

	// Logging configuration.
	Logging LoggingConfig `json:"logging" yaml:"logging"`

	// Telemetry configuration.
	Telemetry TelemetryConfig `json:"telemetry" yaml:"telemetry"`

	// Server configuration.
	Server ServerConfig `json:"server" yaml:"server"`

	// Admin configuration.
	Admin AdminConfig `json:"admin" yaml:"admin"`

	// Proxy configuration.
	Proxy ProxyConfig `json:"proxy" yaml:"proxy"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the level directive of the log layer, e.g. "info,lantern.proxy=debug".
	// It is the only field applied again when the file changes.
	Level string `json:"level" yaml:"level" default:"info"`
	// TraceLevel is the level directive of the trace layer.
	TraceLevel string `json:"traceLevel" yaml:"traceLevel" default:"info"`
	// LogSpanContext adds trace_id and span_id to records logged within a span.
	LogSpanContext bool `json:"logSpanContext" yaml:"logSpanContext"`
}

// TelemetryConfig contains OpenTelemetry configuration.
type TelemetryConfig struct {
	// Endpoint is the OTLP collector endpoint. Tracing is disabled when empty.
	Endpoint string `json:"endpoint" yaml:"endpoint"`
	// Insecure disables TLS for the telemetry connection.
	Insecure bool `json:"insecure" yaml:"insecure" default:"true"`
	// FailOnExporterError aborts startup when the trace exporter cannot be set up.
	FailOnExporterError bool `json:"failOnExporterError" yaml:"failOnExporterError"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	// Host is the server bind address.
	Host string `json:"host" yaml:"host" default:"0.0.0.0"`
	// Port is the server port.
	Port int `json:"port" yaml:"port" default:"8080"`
	// TLS configuration.
	TLS TLSConfig `json:"tls" yaml:"tls"`
	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout time.Duration `json:"readTimeout" yaml:"readTimeout" default:"30s"`
	// WriteTimeout is the maximum duration before timing out writes of the response.
	WriteTimeout time.Duration `json:"writeTimeout" yaml:"writeTimeout" default:"30s"`
	// IdleTimeout is the maximum amount of time to wait for the next request.
	IdleTimeout time.Duration `json:"idleTimeout" yaml:"idleTimeout" default:"120s"`
	// ShutdownTimeout is the maximum duration to wait for active connections to close.
	ShutdownTimeout time.Duration `json:"shutdownTimeout" yaml:"shutdownTimeout" default:"30s"`
}

// TLSConfig contains TLS configuration.
type TLSConfig struct {
	// Enabled enables TLS.
	Enabled bool `json:"enabled" yaml:"enabled"`
	// CertFile is the path to the TLS certificate file.
	CertFile string `json:"certFile" yaml:"certFile"`
	// KeyFile is the path to the TLS key file.
	KeyFile string `json:"keyFile" yaml:"keyFile"`
}

// AdminConfig configures the admin endpoint serving the log level, metrics
// and health.
type AdminConfig struct {
	// Enabled starts the admin server.
	Enabled bool `json:"enabled" yaml:"enabled" default:"true"`
	// Host is the admin bind address.
	Host string `json:"host" yaml:"host" default:"127.0.0.1"`
	// Port is the admin port.
	Port int `json:"port" yaml:"port" default:"9090"`
	// ReloadRate is the number of log level changes accepted per second.
	ReloadRate float64 `json:"reloadRate" yaml:"reloadRate" default:"1"`
	// ReloadBurst is the number of log level changes accepted at once.
	ReloadBurst int `json:"reloadBurst" yaml:"reloadBurst" default:"5"`
}

// ProxyConfig configures the reverse proxy routes of the main server.
type ProxyConfig struct {
	// Routes are matched in order.
	Routes []RouteConfig `json:"routes" yaml:"routes"`
}

// RouteConfig forwards requests below Prefix to Destination.
type RouteConfig struct {
	// Prefix is the path prefix handled by the route, e.g. /api.
	Prefix string `json:"prefix" yaml:"prefix"`
	// Destination is the upstream base URL, e.g. http://backend:8080.
	Destination string `json:"destination" yaml:"destination"`
	// Timeout bounds a single forwarded request.
	Timeout time.Duration `json:"timeout" yaml:"timeout" default:"30s"`
}

// DefaultBaseConfig returns a BaseConfig with sensible defaults.
func DefaultBaseConfig() BaseConfig {
	var cfg BaseConfig
	defaults.MustSet(&cfg)
	return cfg
}

// Address returns the server address in host:port format.
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Address returns the admin address in host:port format.
func (c AdminConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Load resolves the configuration from defaults, the YAML file at path (if
// path is not empty) and environment variables with the given prefix.
// The result is not validated.
func Load(path, prefix string) (BaseConfig, error) {
	cfg := DefaultBaseConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	ApplyEnv(&cfg, NewEnvLoader(prefix))

	return cfg, nil
}

// LoadFile is Load with the lantern environment prefix. It has the loader
// signature expected by Watcher.
func LoadFile(path string) (BaseConfig, error) {
	return Load(path, EnvPrefix)
}

// LoadAndValidate loads the configuration and validates it.
func LoadAndValidate(path string) (BaseConfig, error) {
	cfg, err := LoadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := ValidateBaseConfig(cfg); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// UnmarshalYAML applies struct defaults to proxy routes, which yaml.v3
// allocates without them.
func (r *RouteConfig) UnmarshalYAML(value *yaml.Node) error {
	if err := defaults.Set(r); err != nil {
		return err
	}

	type plain RouteConfig
	return value.Decode((*plain)(r))
}

// EnvLoader loads configuration values from environment variables.
type EnvLoader struct {
	prefix string
}

// NewEnvLoader creates a new EnvLoader with the given prefix.
// Environment variables will be looked up as PREFIX_KEY (e.g., LANTERN_LOG_LEVEL).
func NewEnvLoader(prefix string) *EnvLoader {
	return &EnvLoader{prefix: strings.ToUpper(prefix)}
}

// GetString returns the string value for the given key, or the default if not set.
func (l *EnvLoader) GetString(key, defaultValue string) string {
	envKey := l.envKey(key)
	if value := os.Getenv(envKey); value != "" {
		return value
	}
	return defaultValue
}

// GetInt returns the int value for the given key, or the default if not set or invalid.
func (l *EnvLoader) GetInt(key string, defaultValue int) int {
	envKey := l.envKey(key)
	if value := os.Getenv(envKey); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// GetBool returns the bool value for the given key, or the default if not set or invalid.
func (l *EnvLoader) GetBool(key string, defaultValue bool) bool {
	envKey := l.envKey(key)
	if value := os.Getenv(envKey); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

// GetFloat returns the float64 value for the given key, or the default if not set or invalid.
func (l *EnvLoader) GetFloat(key string, defaultValue float64) float64 {
	envKey := l.envKey(key)
	if value := os.Getenv(envKey); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

// GetDuration returns the duration value for the given key, or the default if not set or invalid.
func (l *EnvLoader) GetDuration(key string, defaultValue time.Duration) time.Duration {
	envKey := l.envKey(key)
	if value := os.Getenv(envKey); value != "" {
		if durVal, err := time.ParseDuration(value); err == nil {
			return durVal
		}
	}
	return defaultValue
}

func (l *EnvLoader) envKey(key string) string {
	key = strings.ToUpper(key)
	key = strings.ReplaceAll(key, ".", "_")
	key = strings.ReplaceAll(key, "-", "_")
	if l.prefix != "" {
		return l.prefix + "_" + key
	}
	return key
}

// ApplyEnv overrides cfg with the environment variables known to loader.
func ApplyEnv(cfg *BaseConfig, loader *EnvLoader) {
	cfg.ServiceName = loader.GetString("SERVICE_NAME", cfg.ServiceName)
	cfg.ServiceVersion = loader.GetString("SERVICE_VERSION", cfg.ServiceVersion)
	cfg.Environment = loader.GetString("ENVIRONMENT", cfg.Environment)

	cfg.Logging.Level = loader.GetString("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.TraceLevel = loader.GetString("TRACE_LEVEL", cfg.Logging.TraceLevel)
	cfg.Logging.LogSpanContext = loader.GetBool("LOG_SPAN_CONTEXT", cfg.Logging.LogSpanContext)

	cfg.Telemetry.Endpoint = loader.GetString("TELEMETRY_ENDPOINT", cfg.Telemetry.Endpoint)
	cfg.Telemetry.Insecure = loader.GetBool("TELEMETRY_INSECURE", cfg.Telemetry.Insecure)
	cfg.Telemetry.FailOnExporterError = loader.GetBool("TELEMETRY_FAIL_ON_EXPORTER_ERROR", cfg.Telemetry.FailOnExporterError)

	cfg.Server.Host = loader.GetString("SERVER_HOST", cfg.Server.Host)
	cfg.Server.Port = loader.GetInt("SERVER_PORT", cfg.Server.Port)
	cfg.Server.ReadTimeout = loader.GetDuration("SERVER_READ_TIMEOUT", cfg.Server.ReadTimeout)
	cfg.Server.WriteTimeout = loader.GetDuration("SERVER_WRITE_TIMEOUT", cfg.Server.WriteTimeout)
	cfg.Server.IdleTimeout = loader.GetDuration("SERVER_IDLE_TIMEOUT", cfg.Server.IdleTimeout)
	cfg.Server.ShutdownTimeout = loader.GetDuration("SERVER_SHUTDOWN_TIMEOUT", cfg.Server.ShutdownTimeout)

	cfg.Server.TLS.Enabled = loader.GetBool("TLS_ENABLED", cfg.Server.TLS.Enabled)
	cfg.Server.TLS.CertFile = loader.GetString("TLS_CERT_FILE", cfg.Server.TLS.CertFile)
	cfg.Server.TLS.KeyFile = loader.GetString("TLS_KEY_FILE", cfg.Server.TLS.KeyFile)

	cfg.Admin.Enabled = loader.GetBool("ADMIN_ENABLED", cfg.Admin.Enabled)
	cfg.Admin.Host = loader.GetString("ADMIN_HOST", cfg.Admin.Host)
	cfg.Admin.Port = loader.GetInt("ADMIN_PORT", cfg.Admin.Port)
	cfg.Admin.ReloadRate = loader.GetFloat("ADMIN_RELOAD_RATE", cfg.Admin.ReloadRate)
	cfg.Admin.ReloadBurst = loader.GetInt("ADMIN_RELOAD_BURST", cfg.Admin.ReloadBurst)
}

// LoadBaseConfigFromEnv loads BaseConfig from defaults and environment variables.
func LoadBaseConfigFromEnv(prefix string) BaseConfig {
	cfg := DefaultBaseConfig()
	ApplyEnv(&cfg, NewEnvLoader(prefix))
	return cfg
}
