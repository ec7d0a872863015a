package telemetry

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds telemetry provider configuration.
type Config struct {
	// ServiceName identifies the service in exported metrics
	ServiceName string `json:"service_name"`

	// ServiceVersion identifies the service version in exported metrics
	ServiceVersion string `json:"service_version"`

	// Enabled controls whether telemetry is active; when false, New returns
	// a no-op implementation
	Enabled bool `json:"enabled"`

	// ExportInterval controls how often the periodic reader exports metrics
	ExportInterval time.Duration `json:"export_interval"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ServiceName:    "tecton",
		ServiceVersion: "development",
		Enabled:        true,
		ExportInterval: 30 * time.Second,
	}
}

// LoadFromEnv loads configuration from environment variables, overriding
// whatever is already set.
func (c *Config) LoadFromEnv() {
	if val := os.Getenv("TECTON_TELEMETRY_SERVICE_NAME"); val != "" {
		c.ServiceName = val
	}

	if val := os.Getenv("TECTON_TELEMETRY_SERVICE_VERSION"); val != "" {
		c.ServiceVersion = val
	}

	if val := os.Getenv("TECTON_TELEMETRY_ENABLED"); val != "" {
		if enabled, err := strconv.ParseBool(val); err == nil {
			c.Enabled = enabled
		}
	}

	if val := os.Getenv("TECTON_TELEMETRY_EXPORT_INTERVAL"); val != "" {
		if interval, err := time.ParseDuration(val); err == nil {
			c.ExportInterval = interval
		}
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service name must not be empty")
	}
	if c.ExportInterval <= 0 {
		return fmt.Errorf("export interval must be positive, got %v", c.ExportInterval)
	}
	return nil
}
