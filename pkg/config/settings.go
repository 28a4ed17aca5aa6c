package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/racksync/racksync/pkg/cache"
	"github.com/racksync/racksync/pkg/catalog"
	"github.com/racksync/racksync/pkg/engine"
	"github.com/racksync/racksync/pkg/stores"
	"github.com/racksync/racksync/pkg/telemetry"
	resthttp "github.com/racksync/racksync/pkg/transports/http"
)

// DefaultTokenEnv is the environment variable consulted for the remote API
// token when the settings file does not name one.
const DefaultTokenEnv = "RACKSYNC_TOKEN"

// Duration wraps time.Duration so settings files can use human-readable
// strings like "30s" or "5m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a standard time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Settings is the root of the racksync settings file.
type Settings struct {
	// Remote configures the connection to the inventory API.
	Remote RemoteSettings `yaml:"remote"`

	// Cache configures the TTL read cache.
	Cache CacheSettings `yaml:"cache"`

	// Safety configures the write gates.
	Safety SafetySettings `yaml:"safety"`

	// Bulk sets bulk run defaults.
	Bulk BulkSettings `yaml:"bulk"`

	// Audit configures the local audit trail.
	Audit AuditSettings `yaml:"audit"`

	// Policy configures policy evaluation for writes.
	Policy PolicySettings `yaml:"policy"`

	// Logging configures log output.
	Logging LoggingSettings `yaml:"logging"`

	// Metrics configures the Prometheus endpoint.
	Metrics MetricsSettings `yaml:"metrics"`

	// Tracing configures trace export.
	Tracing TracingSettings `yaml:"tracing"`
}

// RemoteSettings configures the connection to the inventory API.
type RemoteSettings struct {
	// URL is the root of the remote API, e.g. "https://netbox.example.com".
	URL string `yaml:"url" validate:"omitempty,url"`

	// TokenEnv names the environment variable holding the API token. The
	// token itself never appears in the settings file.
	TokenEnv string `yaml:"token_env"`

	// Timeout bounds each individual API request.
	Timeout Duration `yaml:"timeout" validate:"gt=0"`

	// RateLimit is the sustained request rate in requests per second.
	// Zero disables client-side rate limiting.
	RateLimit float64 `yaml:"rate_limit" validate:"gte=0"`

	// RateBurst is the burst size allowed on top of RateLimit.
	RateBurst int `yaml:"rate_burst" validate:"gte=0"`

	// Breaker tunes the circuit breaker in front of the API.
	Breaker BreakerSettings `yaml:"breaker"`
}

// BreakerSettings tunes the circuit breaker in front of the remote API.
type BreakerSettings struct {
	// FailureRatio is the failure ratio at which the breaker opens.
	FailureRatio float64 `yaml:"failure_ratio" validate:"gt=0,lte=1"`

	// MinRequests is the minimum number of requests in the current window
	// before the failure ratio is considered meaningful.
	MinRequests uint32 `yaml:"min_requests"`

	// Interval is the window over which breaker counts reset while closed.
	Interval Duration `yaml:"interval" validate:"gte=0"`

	// Cooldown is how long the breaker stays open before probing again.
	Cooldown Duration `yaml:"cooldown" validate:"gte=0"`
}

// CacheSettings configures the TTL read cache.
type CacheSettings struct {
	// Enabled toggles the cache. Disabling it forces every read remote.
	Enabled bool `yaml:"enabled"`

	// MaxEntries bounds the number of cached entries. Zero means unbounded.
	MaxEntries int `yaml:"max_entries" validate:"gte=0"`

	// TTL sets entry lifetimes per volatility class.
	TTL TTLSettings `yaml:"ttl"`
}

// TTLSettings sets cache entry lifetimes per volatility class, with
// optional per-type overrides.
type TTLSettings struct {
	// Static applies to types that almost never change.
	Static Duration `yaml:"static" validate:"gte=0"`

	// Standard is the default lifetime.
	Standard Duration `yaml:"standard" validate:"gte=0"`

	// Volatile applies to frequently changing types.
	Volatile Duration `yaml:"volatile" validate:"gte=0"`

	// Overrides replaces the class lifetime for specific resource types,
	// keyed by type string (e.g., "dcim.device").
	Overrides map[string]Duration `yaml:"overrides"`
}

// SafetySettings configures the write gates.
type SafetySettings struct {
	// DryRun previews every write instead of performing it.
	DryRun bool `yaml:"dry_run"`

	// EnableWrites arms write operations. When false every mutation is
	// rejected before any network access.
	EnableWrites bool `yaml:"enable_writes"`

	// RequireConfirmation demands an explicit confirmation on every
	// mutating run.
	RequireConfirmation bool `yaml:"require_confirmation"`
}

// BulkSettings sets bulk run defaults. A manifest batch block overrides
// them per run.
type BulkSettings struct {
	// ChunkSize caps how many records are processed per chunk. Zero means
	// the engine default.
	ChunkSize int `yaml:"chunk_size" validate:"gte=0"`

	// Strict makes ambiguous natural-key lookups fail instead of using the
	// first match.
	Strict bool `yaml:"strict"`

	// Mode selects the failure strategy for bulk runs.
	Mode string `yaml:"mode" validate:"omitempty,oneof=continue_on_error abort_and_rollback"`

	// RunnerPath locates the sync-runner worker executable for async runs.
	// Empty resolves to a sync-runner binary next to the racksync
	// executable.
	RunnerPath string `yaml:"runner_path"`
}

// RunMode maps the configured mode onto an engine run mode. An empty mode
// defaults to continue-on-error.
func (b BulkSettings) RunMode() engine.RunMode {
	if b.Mode == string(engine.RunModeAbortAndRollback) {
		return engine.RunModeAbortAndRollback
	}
	return engine.RunModeContinueOnError
}

// AuditSettings configures the local audit trail.
type AuditSettings struct {
	// Enabled toggles audit recording.
	Enabled bool `yaml:"enabled"`

	// Path is the SQLite database file holding audit records.
	Path string `yaml:"path"`
}

// PolicySettings configures policy evaluation for writes.
type PolicySettings struct {
	// Dir is a directory of Rego policy files loaded at startup. Empty
	// loads only the built-in policies.
	Dir string `yaml:"dir"`

	// Mode selects how blocking violations are handled.
	Mode string `yaml:"mode" validate:"omitempty,oneof=advisory enforcing"`
}

// LoggingSettings configures log output.
type LoggingSettings struct {
	// Level is the minimum log level.
	Level string `yaml:"level" validate:"omitempty,oneof=trace debug info warn error fatal"`

	// Format is the log output format.
	Format string `yaml:"format" validate:"omitempty,oneof=console json"`
}

// MetricsSettings configures the Prometheus endpoint.
type MetricsSettings struct {
	// Enabled toggles the metrics HTTP listener.
	Enabled bool `yaml:"enabled"`

	// Listen is the address for the metrics HTTP server.
	Listen string `yaml:"listen"`
}

// TracingSettings configures trace export.
type TracingSettings struct {
	// Enabled toggles OTLP trace export.
	Enabled bool `yaml:"enabled"`

	// Endpoint is the OTLP collector endpoint.
	Endpoint string `yaml:"endpoint"`

	// Insecure disables TLS for the exporter connection.
	Insecure bool `yaml:"insecure"`

	// SampleRatio is the trace sampling rate (0.0 to 1.0).
	SampleRatio float64 `yaml:"sample_ratio" validate:"gte=0,lte=1"`
}

var settingsValidator = validator.New()

// DefaultSettings returns the settings used when a file does not override
// them. Writes start disarmed: enable_writes is false and confirmation is
// required.
func DefaultSettings() *Settings {
	return &Settings{
		Remote: RemoteSettings{
			TokenEnv:  DefaultTokenEnv,
			Timeout:   Duration(30 * time.Second),
			RateLimit: 20,
			RateBurst: 10,
			Breaker: BreakerSettings{
				FailureRatio: 0.6,
				MinRequests:  10,
				Interval:     Duration(time.Minute),
				Cooldown:     Duration(30 * time.Second),
			},
		},
		Cache: CacheSettings{
			Enabled:    true,
			MaxEntries: 4096,
			TTL: TTLSettings{
				Static:   Duration(30 * time.Minute),
				Standard: Duration(5 * time.Minute),
				Volatile: Duration(30 * time.Second),
			},
		},
		Safety: SafetySettings{
			DryRun:              false,
			EnableWrites:        false,
			RequireConfirmation: true,
		},
		Bulk: BulkSettings{
			ChunkSize: 100,
			Mode:      string(engine.RunModeContinueOnError),
		},
		Audit: AuditSettings{
			Enabled: true,
			Path:    "racksync-audit.db",
		},
		Policy: PolicySettings{
			Mode: "advisory",
		},
		Logging: LoggingSettings{
			Level:  "info",
			Format: "console",
		},
		Metrics: MetricsSettings{
			Enabled: false,
			Listen:  ":9090",
		},
		Tracing: TracingSettings{
			Enabled:     false,
			Endpoint:    "localhost:4317",
			Insecure:    true,
			SampleRatio: 1.0,
		},
	}
}

// LoadSettings reads a YAML settings file, overlays it on the defaults, and
// validates the result.
func LoadSettings(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}
	s, err := ParseSettings(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// ParseSettings overlays YAML settings on the defaults and validates the
// result. Unknown keys are rejected so typos surface instead of silently
// falling back to defaults. Empty input yields the defaults.
func ParseSettings(data []byte) (*Settings, error) {
	s := DefaultSettings()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(s); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks the settings for consistency. It never reads the
// environment, so offline commands can validate a file without a token.
func (s *Settings) Validate() error {
	if err := settingsValidator.Struct(s); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	for name := range s.Cache.TTL.Overrides {
		rt, err := catalog.ParseResourceType(name)
		if err != nil {
			return fmt.Errorf("invalid settings: cache ttl override: %w", err)
		}
		if _, err := catalog.Lookup(rt); err != nil {
			return fmt.Errorf("invalid settings: cache ttl override: %w", err)
		}
	}
	return nil
}

// TransportConfig builds the REST client configuration. The API token is
// read from the environment variable named by TokenEnv; a missing token is
// an error that names the variable.
func (s *Settings) TransportConfig() (*resthttp.Config, error) {
	if s.Remote.URL == "" {
		return nil, fmt.Errorf("remote.url is not configured")
	}
	tokenEnv := s.Remote.TokenEnv
	if tokenEnv == "" {
		tokenEnv = DefaultTokenEnv
	}
	token := os.Getenv(tokenEnv)
	if token == "" {
		return nil, fmt.Errorf("remote API token is empty: set %s", tokenEnv)
	}
	cfg := resthttp.DefaultConfig(s.Remote.URL, token)
	cfg.Timeout = s.Remote.Timeout.Std()
	cfg.RateLimit = s.Remote.RateLimit
	cfg.RateBurst = s.Remote.RateBurst
	cfg.BreakerFailureRatio = s.Remote.Breaker.FailureRatio
	cfg.BreakerMinRequests = s.Remote.Breaker.MinRequests
	cfg.BreakerInterval = s.Remote.Breaker.Interval.Std()
	cfg.BreakerCooldown = s.Remote.Breaker.Cooldown.Std()
	return cfg, nil
}

// CacheConfig builds the read cache configuration. Override keys have
// already been checked against the catalog by Validate.
func (s *Settings) CacheConfig() cache.Config {
	cfg := cache.Config{
		MaxEntries: s.Cache.MaxEntries,
		TTL: cache.TTLConfig{
			Static:   s.Cache.TTL.Static.Std(),
			Standard: s.Cache.TTL.Standard.Std(),
			Volatile: s.Cache.TTL.Volatile.Std(),
		},
	}
	if len(s.Cache.TTL.Overrides) > 0 {
		cfg.TTL.Overrides = make(map[catalog.ResourceType]time.Duration, len(s.Cache.TTL.Overrides))
		for name, d := range s.Cache.TTL.Overrides {
			cfg.TTL.Overrides[catalog.ResourceType(name)] = d.Std()
		}
	}
	return cfg
}

// StoreConfig builds the audit store configuration. Connection pool sizing
// is left to the store defaults.
func (s *Settings) StoreConfig() stores.Config {
	return stores.Config{Path: s.Audit.Path}
}

// TelemetryConfig builds the telemetry configuration for the given build
// version.
func (s *Settings) TelemetryConfig(version string) *telemetry.Config {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = version
	cfg.Logging.Level = s.Logging.Level
	cfg.Logging.Format = s.Logging.Format
	cfg.Metrics.Enabled = s.Metrics.Enabled
	cfg.Metrics.ListenAddress = s.Metrics.Listen
	cfg.Tracing.Enabled = s.Tracing.Enabled
	cfg.Tracing.Endpoint = s.Tracing.Endpoint
	cfg.Tracing.Insecure = s.Tracing.Insecure
	cfg.Tracing.SamplingRate = s.Tracing.SampleRatio
	if s.Tracing.Enabled {
		cfg.Tracing.Exporter = "otlp"
	} else {
		cfg.Tracing.Exporter = "none"
	}
	return cfg
}
