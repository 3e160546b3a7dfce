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
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"

	"go.opendefense.cloud/lantern/pkg/observability"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}

	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validator provides configuration validation.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new Validator.
func NewValidator() *Validator {
	return &Validator{}
}

func (v *Validator) add(field, message string) {
	v.errors = append(v.errors, ValidationError{Field: field, Message: message})
}

// Required validates that a string field is not empty.
func (v *Validator) Required(field, value string) *Validator {
	if strings.TrimSpace(value) == "" {
		v.add(field, "is required")
	}
	return v
}

// InRange validates that an integer is within the specified range.
func (v *Validator) InRange(field string, value, min, max int) *Validator {
	if value < min || value > max {
		v.add(field, fmt.Sprintf("must be between %d and %d", min, max))
	}
	return v
}

// Positive validates that an integer is positive.
func (v *Validator) Positive(field string, value int) *Validator {
	if value <= 0 {
		v.add(field, "must be positive")
	}
	return v
}

// PositiveFloat validates that a float is positive.
func (v *Validator) PositiveFloat(field string, value float64) *Validator {
	if value <= 0 {
		v.add(field, "must be positive")
	}
	return v
}

// LevelDirective validates that value parses as a level directive. Unlike
// the pipeline, which falls back to the default level, validation reports
// the problem.
func (v *Validator) LevelDirective(field, value string) *Validator {
	if _, err := observability.ParseFilter(value); err != nil {
		var dirErr *observability.DirectiveError
		if errors.As(err, &dirErr) {
			v.add(field, dirErr.Reason)
		} else {
			v.add(field, err.Error())
		}
	}
	return v
}

// HostPort validates that value is a host:port pair.
func (v *Validator) HostPort(field, value string) *Validator {
	if value == "" {
		return v
	}
	if _, _, err := net.SplitHostPort(value); err != nil {
		v.add(field, "must be in host:port format")
	}
	return v
}

// HTTPURL validates that a string is an absolute http or https URL.
func (v *Validator) HTTPURL(field, value string) *Validator {
	if value == "" {
		return v
	}
	u, err := url.ParseRequestURI(value)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		v.add(field, "must be a valid http or https URL")
	}
	return v
}

// FileExists validates that a file exists at the given path.
func (v *Validator) FileExists(field, path string) *Validator {
	if path == "" {
		return v
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		v.add(field, fmt.Sprintf("file does not exist: %s", path))
	}
	return v
}

// Custom runs a custom validation function.
func (v *Validator) Custom(field string, validate func() error) *Validator {
	if err := validate(); err != nil {
		v.add(field, err.Error())
	}
	return v
}

// Errors returns all validation errors.
func (v *Validator) Errors() ValidationErrors {
	return v.errors
}

// Validate returns an error if there are any validation errors, nil otherwise.
func (v *Validator) Validate() error {
	if v.errors.HasErrors() {
		return v.errors
	}
	return nil
}

// ValidateBaseConfig validates a BaseConfig.
func ValidateBaseConfig(cfg BaseConfig) error {
	v := NewValidator()

	v.Required("serviceName", cfg.ServiceName)
	v.LevelDirective("logging.level", cfg.Logging.Level)
	v.LevelDirective("logging.traceLevel", cfg.Logging.TraceLevel)

	v.HostPort("telemetry.endpoint", cfg.Telemetry.Endpoint)

	v.InRange("server.port", cfg.Server.Port, 1, 65535)
	v.Positive("server.readTimeout", int(cfg.Server.ReadTimeout))
	v.Positive("server.writeTimeout", int(cfg.Server.WriteTimeout))

	if cfg.Server.TLS.Enabled {
		v.Required("tls.certFile", cfg.Server.TLS.CertFile)
		v.Required("tls.keyFile", cfg.Server.TLS.KeyFile)
		v.FileExists("tls.certFile", cfg.Server.TLS.CertFile)
		v.FileExists("tls.keyFile", cfg.Server.TLS.KeyFile)
	}

	if cfg.Admin.Enabled {
		v.InRange("admin.port", cfg.Admin.Port, 1, 65535)
		v.PositiveFloat("admin.reloadRate", cfg.Admin.ReloadRate)
		v.Positive("admin.reloadBurst", cfg.Admin.ReloadBurst)
		v.Custom("admin.port", func() error {
			if cfg.Admin.Address() == cfg.Server.Address() {
				return errors.New("must differ from server.port")
			}
			return nil
		})
	}

	prefixes := map[string]bool{}
	for i, route := range cfg.Proxy.Routes {
		field := fmt.Sprintf("proxy.routes[%d]", i)
		v.Required(field+".destination", route.Destination)
		v.HTTPURL(field+".destination", route.Destination)
		v.Positive(field+".timeout", int(route.Timeout))
		v.Custom(field+".prefix", func() error {
			switch {
			case !strings.HasPrefix(route.Prefix, "/"):
				return errors.New("must start with /")
			case prefixes[route.Prefix]:
				return fmt.Errorf("%s is routed twice", route.Prefix)
			}
			prefixes[route.Prefix] = true
			return nil
		})
	}

	return v.Validate()
}
