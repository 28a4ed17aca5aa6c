package config

import (
	"strings"
	"testing"
	"time"

	"github.com/racksync/racksync/pkg/catalog"
	"github.com/racksync/racksync/pkg/engine"
)

func TestParseSettings(t *testing.T) {
	tests := []struct {
		name      string
		yaml      string
		wantErr   string
		checkFunc func(*testing.T, *Settings)
	}{
		{
			name: "empty input yields defaults",
			yaml: "",
			checkFunc: func(t *testing.T, s *Settings) {
				if s.Remote.Timeout.Std() != 30*time.Second {
					t.Errorf("expected default timeout 30s, got %v", s.Remote.Timeout.Std())
				}
				if s.Safety.EnableWrites {
					t.Error("expected writes disarmed by default")
				}
				if !s.Safety.RequireConfirmation {
					t.Error("expected confirmation required by default")
				}
				if !s.Cache.Enabled {
					t.Error("expected cache enabled by default")
				}
				if s.Bulk.ChunkSize != 100 {
					t.Errorf("expected default chunk size 100, got %d", s.Bulk.ChunkSize)
				}
			},
		},
		{
			name: "overlay keeps unset defaults",
			yaml: `
remote:
  url: https://netbox.example.com
safety:
  enable_writes: true
`,
			checkFunc: func(t *testing.T, s *Settings) {
				if s.Remote.URL != "https://netbox.example.com" {
					t.Errorf("unexpected url: %s", s.Remote.URL)
				}
				if !s.Safety.EnableWrites {
					t.Error("expected writes enabled")
				}
				if s.Remote.RateLimit != 20 {
					t.Errorf("expected default rate limit preserved, got %v", s.Remote.RateLimit)
				}
				if !s.Safety.RequireConfirmation {
					t.Error("expected confirmation default preserved")
				}
			},
		},
		{
			name: "duration strings",
			yaml: `
remote:
  timeout: 5s
cache:
  ttl:
    volatile: 10s
`,
			checkFunc: func(t *testing.T, s *Settings) {
				if s.Remote.Timeout.Std() != 5*time.Second {
					t.Errorf("expected 5s timeout, got %v", s.Remote.Timeout.Std())
				}
				if s.Cache.TTL.Volatile.Std() != 10*time.Second {
					t.Errorf("expected 10s volatile ttl, got %v", s.Cache.TTL.Volatile.Std())
				}
			},
		},
		{
			name: "unknown key rejected",
			yaml: `
remote:
  host: netbox.example.com
`,
			wantErr: "failed to parse settings",
		},
		{
			name: "invalid duration rejected",
			yaml: `
remote:
  timeout: fast
`,
			wantErr: "invalid duration",
		},
		{
			name: "invalid bulk mode rejected",
			yaml: `
bulk:
  mode: sometimes
`,
			wantErr: "invalid settings",
		},
		{
			name: "invalid logging level rejected",
			yaml: `
logging:
  level: loud
`,
			wantErr: "invalid settings",
		},
		{
			name: "breaker ratio above one rejected",
			yaml: `
remote:
  breaker:
    failure_ratio: 1.5
`,
			wantErr: "invalid settings",
		},
		{
			name: "ttl override for known type",
			yaml: `
cache:
  ttl:
    overrides:
      dcim.device: 1m
`,
			checkFunc: func(t *testing.T, s *Settings) {
				d, ok := s.Cache.TTL.Overrides["dcim.device"]
				if !ok {
					t.Fatal("expected dcim.device override")
				}
				if d.Std() != time.Minute {
					t.Errorf("expected 1m override, got %v", d.Std())
				}
			},
		},
		{
			name: "ttl override for unknown type rejected",
			yaml: `
cache:
  ttl:
    overrides:
      dcim.widget: 1m
`,
			wantErr: "cache ttl override",
		},
		{
			name: "ttl override with malformed name rejected",
			yaml: `
cache:
  ttl:
    overrides:
      widgets: 1m
`,
			wantErr: "cache ttl override",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := ParseSettings([]byte(tt.yaml))
			if tt.wantErr != "" {
				if err == nil {
					t.Fatalf("expected error containing %q, got none", tt.wantErr)
				}
				if !strings.Contains(err.Error(), tt.wantErr) {
					t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.checkFunc != nil {
				tt.checkFunc(t, s)
			}
		})
	}
}

func TestBulkSettings_RunMode(t *testing.T) {
	tests := []struct {
		mode string
		want engine.RunMode
	}{
		{"", engine.RunModeContinueOnError},
		{"continue_on_error", engine.RunModeContinueOnError},
		{"abort_and_rollback", engine.RunModeAbortAndRollback},
	}

	for _, tt := range tests {
		got := BulkSettings{Mode: tt.mode}.RunMode()
		if got != tt.want {
			t.Errorf("RunMode(%q) = %s, want %s", tt.mode, got, tt.want)
		}
	}
}

func TestSettings_TransportConfig(t *testing.T) {
	t.Run("missing url", func(t *testing.T) {
		s := DefaultSettings()
		if _, err := s.TransportConfig(); err == nil {
			t.Fatal("expected error for missing url")
		} else if !strings.Contains(err.Error(), "remote.url") {
			t.Errorf("expected error naming remote.url, got %v", err)
		}
	})

	t.Run("missing token names the variable", func(t *testing.T) {
		t.Setenv(DefaultTokenEnv, "")
		s := DefaultSettings()
		s.Remote.URL = "https://netbox.example.com"
		_, err := s.TransportConfig()
		if err == nil {
			t.Fatal("expected error for missing token")
		}
		if !strings.Contains(err.Error(), DefaultTokenEnv) {
			t.Errorf("expected error naming %s, got %v", DefaultTokenEnv, err)
		}
	})

	t.Run("custom token env", func(t *testing.T) {
		t.Setenv("NETBOX_API_TOKEN", "abc123")
		s := DefaultSettings()
		s.Remote.URL = "https://netbox.example.com"
		s.Remote.TokenEnv = "NETBOX_API_TOKEN"
		s.Remote.Timeout = Duration(5 * time.Second)
		s.Remote.RateLimit = 7
		s.Remote.Breaker.FailureRatio = 0.4

		cfg, err := s.TransportConfig()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.Token != "abc123" {
			t.Errorf("expected token from custom env, got %q", cfg.Token)
		}
		if cfg.BaseURL != "https://netbox.example.com" {
			t.Errorf("unexpected base url: %s", cfg.BaseURL)
		}
		if cfg.Timeout != 5*time.Second {
			t.Errorf("expected 5s timeout, got %v", cfg.Timeout)
		}
		if cfg.RateLimit != 7 {
			t.Errorf("expected rate limit 7, got %v", cfg.RateLimit)
		}
		if cfg.BreakerFailureRatio != 0.4 {
			t.Errorf("expected failure ratio 0.4, got %v", cfg.BreakerFailureRatio)
		}
	})
}

func TestSettings_CacheConfig(t *testing.T) {
	s := DefaultSettings()
	s.Cache.MaxEntries = 128
	s.Cache.TTL.Static = Duration(time.Hour)
	s.Cache.TTL.Overrides = map[string]Duration{
		"dcim.device": Duration(2 * time.Minute),
	}

	cfg := s.CacheConfig()
	if cfg.MaxEntries != 128 {
		t.Errorf("expected max entries 128, got %d", cfg.MaxEntries)
	}
	if cfg.TTL.Static != time.Hour {
		t.Errorf("expected static ttl 1h, got %v", cfg.TTL.Static)
	}
	if got := cfg.TTL.Overrides[catalog.TypeDevice]; got != 2*time.Minute {
		t.Errorf("expected dcim.device override 2m, got %v", got)
	}
}

func TestSettings_TelemetryConfig(t *testing.T) {
	s := DefaultSettings()
	s.Logging.Level = "debug"
	s.Logging.Format = "json"

	cfg := s.TelemetryConfig("1.2.3")
	if cfg.ServiceVersion != "1.2.3" {
		t.Errorf("expected version 1.2.3, got %s", cfg.ServiceVersion)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("logging settings not carried: %+v", cfg.Logging)
	}
	if cfg.Tracing.Exporter != "none" {
		t.Errorf("expected exporter none when tracing disabled, got %s", cfg.Tracing.Exporter)
	}

	s.Tracing.Enabled = true
	cfg = s.TelemetryConfig("1.2.3")
	if cfg.Tracing.Exporter != "otlp" {
		t.Errorf("expected otlp exporter when tracing enabled, got %s", cfg.Tracing.Exporter)
	}
}
