// Package config holds the ambient daemon configuration for the WarpGrid
// shim agent: bind addresses, log level, and observability settings. The
// shim subsystem's own deployment-scoped configuration (ShimConfig) is
// layered on top of this and lives in internal/shim/shimconfig.
package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
)

// DaemonConfig holds daemon-specific settings.
type DaemonConfig struct {
	ListenAddr string `json:"listen_addr"` // Unix socket path for the capability binding listener
	VsockPort  uint32 `json:"vsock_port"`  // vsock port used when running inside a microVM guest
	LogLevel   string `json:"log_level"`
}

// TracingConfig holds OpenTelemetry tracing settings.
type TracingConfig struct {
	Enabled     bool    `json:"enabled"`
	Exporter    string  `json:"exporter"`     // otlp-http, stdout
	Endpoint    string  `json:"endpoint"`     // localhost:4318
	ServiceName string  `json:"service_name"` // warpgrid-agent
	SampleRate  float64 `json:"sample_rate"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled          bool      `json:"enabled"`
	Namespace        string    `json:"namespace"`   // warpgrid
	ListenAddr       string    `json:"listen_addr"` // host:port the /metrics endpoint is served on
	HistogramBuckets []float64 `json:"histogram_buckets"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level          string `json:"level"`
	Format         string `json:"format"` // text, json
	IncludeTraceID bool   `json:"include_trace_id"`
}

// ObservabilityConfig holds all observability-related settings.
type ObservabilityConfig struct {
	Tracing TracingConfig `json:"tracing"`
	Metrics MetricsConfig `json:"metrics"`
	Logging LoggingConfig `json:"logging"`
}

// Config is the central ambient configuration struct for the agent process.
// ShimConfigPath points at the declarative document consumed by
// shimconfig.FromYAMLFile for the deployment-scoped shim settings.
type Config struct {
	Daemon         DaemonConfig        `json:"daemon"`
	Observability  ObservabilityConfig `json:"observability"`
	ShimConfigPath string              `json:"shim_config_path"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Daemon: DaemonConfig{
			ListenAddr: "/run/warpgrid/agent.sock",
			VsockPort:  9701,
			LogLevel:   "info",
		},
		Observability: ObservabilityConfig{
			Tracing: TracingConfig{
				Enabled:     false,
				Exporter:    "otlp-http",
				Endpoint:    "localhost:4318",
				ServiceName: "warpgrid-agent",
				SampleRate:  1.0,
			},
			Metrics: MetricsConfig{
				Enabled:          true,
				Namespace:        "warpgrid",
				ListenAddr:       ":9702",
				HistogramBuckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
			},
			Logging: LoggingConfig{
				Level:          "info",
				Format:         "text",
				IncludeTraceID: true,
			},
		},
		ShimConfigPath: "",
	}
}

// LoadFromFile loads configuration from a JSON file, overlaid on top of
// DefaultConfig so a partial file only overrides what it sets.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromEnv applies WARPGRID_-prefixed environment variable overrides to
// the config in place.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("WARPGRID_LISTEN_ADDR"); v != "" {
		cfg.Daemon.ListenAddr = v
	}
	if v := os.Getenv("WARPGRID_VSOCK_PORT"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			cfg.Daemon.VsockPort = uint32(n)
		}
	}
	if v := os.Getenv("WARPGRID_LOG_LEVEL"); v != "" {
		cfg.Daemon.LogLevel = v
	}
	if v := os.Getenv("WARPGRID_SHIM_CONFIG"); v != "" {
		cfg.ShimConfigPath = v
	}

	if v := os.Getenv("WARPGRID_TRACING_ENABLED"); v != "" {
		cfg.Observability.Tracing.Enabled = parseBool(v)
	}
	if v := os.Getenv("WARPGRID_TRACING_ENDPOINT"); v != "" {
		cfg.Observability.Tracing.Endpoint = v
	}
	if v := os.Getenv("WARPGRID_TRACING_EXPORTER"); v != "" {
		cfg.Observability.Tracing.Exporter = v
	}
	if v := os.Getenv("WARPGRID_TRACING_SERVICE_NAME"); v != "" {
		cfg.Observability.Tracing.ServiceName = v
	}
	if v := os.Getenv("WARPGRID_TRACING_SAMPLE_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Observability.Tracing.SampleRate = f
		}
	}
	if v := os.Getenv("WARPGRID_METRICS_ENABLED"); v != "" {
		cfg.Observability.Metrics.Enabled = parseBool(v)
	}
	if v := os.Getenv("WARPGRID_METRICS_NAMESPACE"); v != "" {
		cfg.Observability.Metrics.Namespace = v
	}
	if v := os.Getenv("WARPGRID_METRICS_LISTEN_ADDR"); v != "" {
		cfg.Observability.Metrics.ListenAddr = v
	}
	if v := os.Getenv("WARPGRID_LOG_FORMAT"); v != "" {
		cfg.Observability.Logging.Format = v
	}
	if v := os.Getenv("WARPGRID_LOG_INCLUDE_TRACE_ID"); v != "" {
		cfg.Observability.Logging.IncludeTraceID = parseBool(v)
	}
}

func parseBool(s string) bool {
	s = strings.ToLower(s)
	return s == "true" || s == "1" || s == "yes"
}
