package telemetry

import (
	"fmt"
	"time"
)

// Config contains the telemetry configuration for the racksync engine.
type Config struct {
	// ServiceName is the name of the service for telemetry identification.
	ServiceName string `json:"service_name" yaml:"service_name"`

	// ServiceVersion is the version of the service.
	ServiceVersion string `json:"service_version" yaml:"service_version"`

	// Environment is the deployment environment (development, staging, production).
	Environment string `json:"environment" yaml:"environment"`

	// Logging configures structured logging.
	Logging LoggingConfig `json:"logging" yaml:"logging"`

	// Tracing configures distributed tracing.
	Tracing TracingConfig `json:"tracing" yaml:"tracing"`

	// Metrics configures metrics collection.
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`

	// Events configures event publishing.
	Events EventsConfig `json:"events" yaml:"events"`
}

// LoggingConfig configures the structured logging system.
type LoggingConfig struct {
	// Level is the minimum log level (trace, debug, info, warn, error, fatal).
	Level string `json:"level" yaml:"level"`

	// Format is the log output format (json, console).
	Format string `json:"format" yaml:"format"`

	// Output is the log destination (stdout, stderr, or a file path).
	Output string `json:"output" yaml:"output"`

	// TimeFormat is the timestamp format for logs.
	TimeFormat string `json:"time_format" yaml:"time_format"`

	// Caller includes the caller file:line in log entries.
	Caller bool `json:"caller" yaml:"caller"`
}

// TracingConfig configures distributed tracing.
type TracingConfig struct {
	// Enabled determines if tracing is active.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Exporter is the trace exporter type (otlp, stdout, none).
	Exporter string `json:"exporter" yaml:"exporter"`

	// Endpoint is the exporter endpoint (for otlp).
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// SamplingRate is the trace sampling rate (0.0 to 1.0).
	SamplingRate float64 `json:"sampling_rate" yaml:"sampling_rate"`

	// Insecure disables TLS for the exporter connection.
	Insecure bool `json:"insecure" yaml:"insecure"`
}

// MetricsConfig configures metrics collection.
type MetricsConfig struct {
	// Enabled determines if metrics collection is active.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// ListenAddress is the address for the metrics HTTP server.
	ListenAddress string `json:"listen_address" yaml:"listen_address"`

	// Path is the HTTP path for the metrics endpoint.
	Path string `json:"path" yaml:"path"`

	// Namespace is the metrics namespace prefix.
	Namespace string `json:"namespace" yaml:"namespace"`
}

// EventsConfig configures the event publishing system.
type EventsConfig struct {
	// Enabled determines if event publishing is active.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// BufferSize is the event buffer size for async publishing.
	BufferSize int `json:"buffer_size" yaml:"buffer_size"`

	// EnableAsync enables asynchronous event publishing.
	EnableAsync bool `json:"enable_async" yaml:"enable_async"`

	// FlushInterval is how often to flush buffered events.
	FlushInterval time.Duration `json:"flush_interval" yaml:"flush_interval"`

	// MaxBatchSize is the maximum number of events per batch.
	MaxBatchSize int `json:"max_batch_size" yaml:"max_batch_size"`
}

// DefaultConfig returns a default telemetry configuration.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "racksync",
		ServiceVersion: "dev",
		Environment:    "development",
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			Output:     "stderr",
			TimeFormat: time.RFC3339,
			Caller:     false,
		},
		Tracing: TracingConfig{
			Enabled:      false,
			Exporter:     "none",
			Endpoint:     "localhost:4317",
			SamplingRate: 1.0,
			Insecure:     true,
		},
		Metrics: MetricsConfig{
			Enabled:       false,
			ListenAddress: ":9090",
			Path:          "/metrics",
			Namespace:     "racksync",
		},
		Events: EventsConfig{
			Enabled:       false,
			BufferSize:    1000,
			EnableAsync:   true,
			FlushInterval: 5 * time.Second,
			MaxBatchSize:  100,
		},
	}
}

// ProductionConfig returns a production-ready telemetry configuration.
func ProductionConfig() *Config {
	cfg := DefaultConfig()
	cfg.Environment = "production"
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"
	cfg.Tracing.Enabled = true
	cfg.Tracing.Exporter = "otlp"
	cfg.Tracing.SamplingRate = 0.1
	cfg.Tracing.Insecure = false
	cfg.Metrics.Enabled = true
	cfg.Events.Enabled = true
	cfg.Events.BufferSize = 10000
	return cfg
}

// DevelopmentConfig returns a development-friendly telemetry configuration.
func DevelopmentConfig() *Config {
	cfg := DefaultConfig()
	cfg.Environment = "development"
	cfg.Logging.Level = "debug"
	cfg.Logging.Format = "console"
	cfg.Logging.Caller = true
	cfg.Tracing.Enabled = true
	cfg.Tracing.Exporter = "stdout"
	cfg.Tracing.SamplingRate = 1.0
	cfg.Metrics.Enabled = true
	cfg.Events.Enabled = true
	cfg.Events.EnableAsync = false
	return cfg
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service name is required")
	}

	switch c.Logging.Level {
	case "trace", "debug", "info", "warn", "error", "fatal":
	default:
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	if c.Tracing.Enabled {
		switch c.Tracing.Exporter {
		case "otlp", "stdout", "none":
		default:
			return fmt.Errorf("invalid trace exporter: %s", c.Tracing.Exporter)
		}
		if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
			return fmt.Errorf("sampling rate must be between 0.0 and 1.0, got %f", c.Tracing.SamplingRate)
		}
		if c.Tracing.Exporter == "otlp" && c.Tracing.Endpoint == "" {
			return fmt.Errorf("otlp exporter requires an endpoint")
		}
	}

	if c.Metrics.Enabled {
		if c.Metrics.ListenAddress == "" {
			return fmt.Errorf("metrics listen address is required")
		}
		if c.Metrics.Path == "" {
			return fmt.Errorf("metrics path is required")
		}
	}

	if c.Events.Enabled {
		if c.Events.BufferSize <= 0 {
			return fmt.Errorf("event buffer size must be positive")
		}
		if c.Events.MaxBatchSize <= 0 {
			return fmt.Errorf("event max batch size must be positive")
		}
	}

	return nil
}
