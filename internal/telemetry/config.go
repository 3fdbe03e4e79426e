package telemetry

import (
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/ragd/internal/config"
)

// Config holds telemetry configuration.
type Config struct {
	Enabled        bool
	Endpoint       string
	Protocol       string // "grpc" (default) or "http/protobuf"
	ServiceName    string
	ServiceVersion string
	Insecure       bool
	SampleRate     float64
	MetricInterval time.Duration
	ShutdownWait   time.Duration
}

// NewDefaultConfig returns disabled telemetry pointed at a local collector.
func NewDefaultConfig() *Config {
	return &Config{
		Endpoint:       "localhost:4317",
		Protocol:       "grpc",
		ServiceName:    "ragd",
		ServiceVersion: "dev",
		Insecure:       true,
		SampleRate:     1.0,
		MetricInterval: 15 * time.Second,
		ShutdownWait:   5 * time.Second,
	}
}

// FromAppConfig maps the user-facing telemetry section onto Config.
func FromAppConfig(tc config.TelemetryConfig, version string) *Config {
	cfg := NewDefaultConfig()
	cfg.Enabled = tc.Enabled
	if tc.Endpoint != "" {
		cfg.Endpoint = tc.Endpoint
	}
	if tc.Protocol != "" {
		cfg.Protocol = tc.Protocol
	}
	if tc.ServiceName != "" {
		cfg.ServiceName = tc.ServiceName
	}
	if version != "" {
		cfg.ServiceVersion = version
	}
	cfg.Insecure = tc.Insecure
	cfg.SampleRate = tc.SampleRate
	return cfg
}

// Validate checks configuration for errors. Disabled configs always pass.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Endpoint == "" {
		return fmt.Errorf("endpoint is required when telemetry is enabled")
	}
	if c.ServiceName == "" {
		return fmt.Errorf("service_name is required when telemetry is enabled")
	}
	if c.Protocol != "grpc" && c.Protocol != "http/protobuf" {
		return fmt.Errorf("protocol must be grpc or http/protobuf, got %q", c.Protocol)
	}
	if c.Insecure && !c.isLocalEndpoint() {
		return fmt.Errorf("insecure export to remote endpoint %q is not allowed", c.Endpoint)
	}
	if c.SampleRate < 0 || c.SampleRate > 1 {
		return fmt.Errorf("sample_rate must be between 0 and 1, got %f", c.SampleRate)
	}
	if c.MetricInterval <= 0 {
		return fmt.Errorf("metric interval must be positive")
	}
	if c.ShutdownWait <= 0 {
		return fmt.Errorf("shutdown wait must be positive")
	}
	return nil
}

func (c *Config) isLocalEndpoint() bool {
	host := stripScheme(c.Endpoint)
	switch {
	case strings.HasPrefix(host, "["):
		if idx := strings.Index(host, "]"); idx != -1 {
			host = host[1:idx]
		}
	case strings.Count(host, ":") == 1:
		host = host[:strings.LastIndex(host, ":")]
	}
	return host == "localhost" || host == "::1" || strings.HasPrefix(host, "127.")
}
