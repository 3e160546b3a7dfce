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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultBaseConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultBaseConfig()

	assert.Equal(t, "lantern", cfg.ServiceName)
	assert.Equal(t, "dev", cfg.ServiceVersion)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "info", cfg.Logging.TraceLevel)
	assert.False(t, cfg.Logging.LogSpanContext)
	assert.Empty(t, cfg.Telemetry.Endpoint)
	assert.True(t, cfg.Telemetry.Insecure)
	assert.False(t, cfg.Telemetry.FailOnExporterError)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 120*time.Second, cfg.Server.IdleTimeout)
	assert.True(t, cfg.Admin.Enabled)
	assert.Equal(t, "127.0.0.1:9090", cfg.Admin.Address())
	assert.Equal(t, 1.0, cfg.Admin.ReloadRate)
	assert.Equal(t, 5, cfg.Admin.ReloadBurst)
	assert.Empty(t, cfg.Proxy.Routes)

	require.NoError(t, ValidateBaseConfig(cfg))
}

func TestServerConfigAddress(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		host     string
		port     int
		expected string
	}{
		{
			name:     "default",
			host:     "0.0.0.0",
			port:     8080,
			expected: "0.0.0.0:8080",
		},
		{
			name:     "localhost",
			host:     "localhost",
			port:     9090,
			expected: "localhost:9090",
		},
		{
			name:     "specific host",
			host:     "192.168.1.1",
			port:     443,
			expected: "192.168.1.1:443",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := ServerConfig{Host: tt.host, Port: tt.port}
			assert.Equal(t, tt.expected, cfg.Address())
		})
	}
}

func TestEnvLoader(t *testing.T) {
	loader := NewEnvLoader("TEST")

	t.Run("GetString", func(t *testing.T) {
		assert.Equal(t, "default", loader.GetString("STRING_VAR", "default"))

		t.Setenv("TEST_STRING_VAR", "custom")
		assert.Equal(t, "custom", loader.GetString("STRING_VAR", "default"))
	})

	t.Run("GetInt", func(t *testing.T) {
		assert.Equal(t, 42, loader.GetInt("INT_VAR", 42))

		t.Setenv("TEST_INT_VAR", "100")
		assert.Equal(t, 100, loader.GetInt("INT_VAR", 42))

		t.Setenv("TEST_INT_VAR", "not-a-number")
		assert.Equal(t, 42, loader.GetInt("INT_VAR", 42))
	})

	t.Run("GetBool", func(t *testing.T) {
		assert.False(t, loader.GetBool("BOOL_VAR", false))

		t.Setenv("TEST_BOOL_VAR", "true")
		assert.True(t, loader.GetBool("BOOL_VAR", false))

		t.Setenv("TEST_BOOL_VAR", "false")
		assert.False(t, loader.GetBool("BOOL_VAR", true))

		t.Setenv("TEST_BOOL_VAR", "not-a-bool")
		assert.True(t, loader.GetBool("BOOL_VAR", true))
	})

	t.Run("GetFloat", func(t *testing.T) {
		assert.Equal(t, 0.5, loader.GetFloat("FLOAT_VAR", 0.5))

		t.Setenv("TEST_FLOAT_VAR", "0.75")
		assert.Equal(t, 0.75, loader.GetFloat("FLOAT_VAR", 0.5))

		t.Setenv("TEST_FLOAT_VAR", "not-a-float")
		assert.Equal(t, 0.5, loader.GetFloat("FLOAT_VAR", 0.5))
	})

	t.Run("GetDuration", func(t *testing.T) {
		assert.Equal(t, 30*time.Second, loader.GetDuration("DURATION_VAR", 30*time.Second))

		t.Setenv("TEST_DURATION_VAR", "500ms")
		assert.Equal(t, 500*time.Millisecond, loader.GetDuration("DURATION_VAR", 30*time.Second))

		t.Setenv("TEST_DURATION_VAR", "not-a-duration")
		assert.Equal(t, 30*time.Second, loader.GetDuration("DURATION_VAR", 30*time.Second))
	})

	t.Run("converts dots and dashes to underscores", func(t *testing.T) {
		t.Setenv("TEST_FOO_BAR_BAZ", "found")
		assert.Equal(t, "found", loader.GetString("foo.bar-baz", "default"))
	})
}

func TestLoadBaseConfigFromEnv(t *testing.T) {
	t.Setenv("LANTERN_SERVICE_NAME", "test-service")
	t.Setenv("LANTERN_LOG_LEVEL", "debug,lantern.proxy=trace")
	t.Setenv("LANTERN_SERVER_PORT", "9091")
	t.Setenv("LANTERN_TELEMETRY_FAIL_ON_EXPORTER_ERROR", "true")

	cfg := LoadBaseConfigFromEnv(EnvPrefix)

	assert.Equal(t, "test-service", cfg.ServiceName)
	assert.Equal(t, "debug,lantern.proxy=trace", cfg.Logging.Level)
	assert.Equal(t, 9091, cfg.Server.Port)
	assert.True(t, cfg.Telemetry.FailOnExporterError)
	// Defaults should be preserved for unset vars.
	assert.Equal(t, "info", cfg.Logging.TraceLevel)
	assert.Equal(t, "dev", cfg.ServiceVersion)
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "lantern.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
serviceName: edge
logging:
  level: warn,lantern.admin=debug
telemetry:
  endpoint: otel-collector:4317
server:
  port: 8443
  readTimeout: 5s
proxy:
  routes:
    - prefix: /api
      destination: http://backend:8080
    - prefix: /slow
      destination: http://slow:8080
      timeout: 2m
`)
	t.Setenv("LANTERN_SERVICE_VERSION", "v1.2.3")
	t.Setenv("LANTERN_SERVER_PORT", "8444")

	cfg, err := Load(path, EnvPrefix)
	require.NoError(t, err)

	assert.Equal(t, "edge", cfg.ServiceName)
	assert.Equal(t, "v1.2.3", cfg.ServiceVersion)
	assert.Equal(t, "warn,lantern.admin=debug", cfg.Logging.Level)
	assert.Equal(t, "info", cfg.Logging.TraceLevel)
	assert.Equal(t, "otel-collector:4317", cfg.Telemetry.Endpoint)
	assert.True(t, cfg.Telemetry.Insecure)
	assert.Equal(t, 8444, cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 30*time.Second, cfg.Server.WriteTimeout)

	require.Len(t, cfg.Proxy.Routes, 2)
	assert.Equal(t, RouteConfig{Prefix: "/api", Destination: "http://backend:8080", Timeout: 30 * time.Second}, cfg.Proxy.Routes[0])
	assert.Equal(t, 2*time.Minute, cfg.Proxy.Routes[1].Timeout)

	require.NoError(t, ValidateBaseConfig(cfg))
}

func TestLoad_Errors(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), EnvPrefix)
	assert.ErrorIs(t, err, os.ErrNotExist)

	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging: [unterminated"), 0o600))
	_, err = Load(path, EnvPrefix)
	assert.ErrorContains(t, err, "failed to parse config file")
}

func TestLoadAndValidate(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: lantern=loud
`)

	_, err := LoadAndValidate(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logging.level")
}

func TestValidateBaseConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		modify  func(cfg *BaseConfig)
		wantErr bool
		errMsg  string
	}{
		{
			name:   "valid default config",
			modify: func(cfg *BaseConfig) {},
		},
		{
			name:    "missing service name",
			modify:  func(cfg *BaseConfig) { cfg.ServiceName = "" },
			wantErr: true,
			errMsg:  "serviceName: is required",
		},
		{
			name:    "malformed log level",
			modify:  func(cfg *BaseConfig) { cfg.Logging.Level = "info,debug" },
			wantErr: true,
			errMsg:  "logging.level: more than one default level",
		},
		{
			name:    "malformed trace level",
			modify:  func(cfg *BaseConfig) { cfg.Logging.TraceLevel = "lantern[span]=info" },
			wantErr: true,
			errMsg:  "logging.traceLevel",
		},
		{
			name:    "endpoint without port",
			modify:  func(cfg *BaseConfig) { cfg.Telemetry.Endpoint = "otel-collector" },
			wantErr: true,
			errMsg:  "telemetry.endpoint: must be in host:port format",
		},
		{
			name:    "invalid port",
			modify:  func(cfg *BaseConfig) { cfg.Server.Port = 70000 },
			wantErr: true,
			errMsg:  "server.port: must be between 1 and 65535",
		},
		{
			name:    "zero read timeout",
			modify:  func(cfg *BaseConfig) { cfg.Server.ReadTimeout = 0 },
			wantErr: true,
			errMsg:  "server.readTimeout: must be positive",
		},
		{
			name: "tls without files",
			modify: func(cfg *BaseConfig) {
				cfg.Server.TLS.Enabled = true
			},
			wantErr: true,
			errMsg:  "tls.certFile: is required",
		},
		{
			name:    "admin on the server address",
			modify:  func(cfg *BaseConfig) { cfg.Admin.Host, cfg.Admin.Port = cfg.Server.Host, cfg.Server.Port },
			wantErr: true,
			errMsg:  "admin.port: must differ from server.port",
		},
		{
			name:    "admin rate not positive",
			modify:  func(cfg *BaseConfig) { cfg.Admin.ReloadRate = 0 },
			wantErr: true,
			errMsg:  "admin.reloadRate: must be positive",
		},
		{
			name: "disabled admin is not validated",
			modify: func(cfg *BaseConfig) {
				cfg.Admin.Enabled = false
				cfg.Admin.Port = 0
			},
		},
		{
			name: "route without scheme",
			modify: func(cfg *BaseConfig) {
				cfg.Proxy.Routes = []RouteConfig{{Prefix: "/api", Destination: "backend:8080", Timeout: time.Second}}
			},
			wantErr: true,
			errMsg:  "proxy.routes[0].destination: must be a valid http or https URL",
		},
		{
			name: "route prefix without slash",
			modify: func(cfg *BaseConfig) {
				cfg.Proxy.Routes = []RouteConfig{{Prefix: "api", Destination: "http://backend", Timeout: time.Second}}
			},
			wantErr: true,
			errMsg:  "proxy.routes[0].prefix: must start with /",
		},
		{
			name: "duplicate route prefix",
			modify: func(cfg *BaseConfig) {
				cfg.Proxy.Routes = []RouteConfig{
					{Prefix: "/api", Destination: "http://a", Timeout: time.Second},
					{Prefix: "/api", Destination: "http://b", Timeout: time.Second},
				}
			},
			wantErr: true,
			errMsg:  "proxy.routes[1].prefix: /api is routed twice",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := DefaultBaseConfig()
			tt.modify(&cfg)

			err := ValidateBaseConfig(cfg)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidator(t *testing.T) {
	t.Parallel()

	t.Run("Required", func(t *testing.T) {
		t.Parallel()

		v := NewValidator()
		v.Required("field1", "value")
		v.Required("field2", "")
		v.Required("field3", "   ")

		errs := v.Errors()
		assert.Len(t, errs, 2)
		assert.Equal(t, "field2", errs[0].Field)
		assert.Equal(t, "field3", errs[1].Field)
	})

	t.Run("InRange", func(t *testing.T) {
		t.Parallel()

		v := NewValidator()
		v.InRange("valid", 50, 1, 100)
		v.InRange("too_low", 0, 1, 100)
		v.InRange("too_high", 101, 1, 100)

		assert.Len(t, v.Errors(), 2)
	})

	t.Run("Positive", func(t *testing.T) {
		t.Parallel()

		v := NewValidator()
		v.Positive("positive", 1)
		v.Positive("zero", 0)
		v.Positive("negative", -1)
		v.PositiveFloat("rate", 0.5)
		v.PositiveFloat("no_rate", 0)

		assert.Len(t, v.Errors(), 3)
	})

	t.Run("LevelDirective", func(t *testing.T) {
		t.Parallel()

		v := NewValidator()
		v.LevelDirective("ok", "warn,lantern=debug")
		v.LevelDirective("empty", "")
		v.LevelDirective("unknown", "lantern=loud")

		errs := v.Errors()
		require.Len(t, errs, 2)
		assert.Equal(t, "empty directive", errs[0].Message)
	})

	t.Run("HostPort", func(t *testing.T) {
		t.Parallel()

		v := NewValidator()
		v.HostPort("empty", "")
		v.HostPort("valid", "localhost:4317")
		v.HostPort("invalid", "localhost")

		assert.Len(t, v.Errors(), 1)
	})

	t.Run("HTTPURL", func(t *testing.T) {
		t.Parallel()

		v := NewValidator()
		v.HTTPURL("empty", "")
		v.HTTPURL("valid", "https://backend.example.com")
		v.HTTPURL("scheme", "ftp://backend.example.com")
		v.HTTPURL("relative", "/backend")

		assert.Len(t, v.Errors(), 2)
	})

	t.Run("FileExists", func(t *testing.T) {
		t.Parallel()

		tmpFile, err := os.CreateTemp(t.TempDir(), "test")
		require.NoError(t, err)
		require.NoError(t, tmpFile.Close())

		v := NewValidator()
		v.FileExists("exists", tmpFile.Name())
		v.FileExists("not_exists", "/nonexistent/file/path")
		v.FileExists("empty", "")

		assert.Len(t, v.Errors(), 1)
	})

	t.Run("Custom", func(t *testing.T) {
		t.Parallel()

		v := NewValidator()
		v.Custom("ok", func() error { return nil })
		v.Custom("fails", func() error { return assert.AnError })

		errs := v.Errors()
		require.Len(t, errs, 1)
		assert.Equal(t, assert.AnError.Error(), errs[0].Message)
	})

	t.Run("Validate", func(t *testing.T) {
		t.Parallel()

		assert.NoError(t, NewValidator().Validate())
		assert.Error(t, NewValidator().Required("field", "").Validate())
	})
}

func TestValidationErrors(t *testing.T) {
	t.Parallel()

	t.Run("empty errors", func(t *testing.T) {
		t.Parallel()

		var errs ValidationErrors
		assert.False(t, errs.HasErrors())
		assert.Equal(t, "no validation errors", errs.Error())
	})

	t.Run("multiple errors", func(t *testing.T) {
		t.Parallel()

		errs := ValidationErrors{
			{Field: "field1", Message: "error1"},
			{Field: "field2", Message: "error2"},
		}
		assert.True(t, errs.HasErrors())
		assert.Equal(t, "field1: error1; field2: error2", errs.Error())
	})
}
