package commands

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/racksync/racksync/pkg/cache"
	"github.com/racksync/racksync/pkg/config"
	"github.com/racksync/racksync/pkg/engine"
	"github.com/racksync/racksync/pkg/policy"
	"github.com/racksync/racksync/pkg/remote"
	"github.com/racksync/racksync/pkg/stores"
	"github.com/racksync/racksync/pkg/telemetry"
	resthttp "github.com/racksync/racksync/pkg/transports/http"
)

// sweepInterval is how often the read cache evicts expired entries.
const sweepInterval = time.Minute

// loadSettings resolves the settings file: --config first, then
// $RACKSYNC_CONFIG, then the built-in defaults (which leave writes
// disarmed). --verbose lowers the configured log level to debug.
func loadSettings() (*config.Settings, error) {
	path := configPath
	if path == "" {
		path = os.Getenv("RACKSYNC_CONFIG")
	}

	var settings *config.Settings
	if path == "" {
		settings = config.DefaultSettings()
	} else {
		loaded, err := config.LoadSettings(path)
		if err != nil {
			return nil, err
		}
		settings = loaded
	}

	if verbose {
		settings.Logging.Level = "debug"
	}
	return settings, nil
}

// stack is the wired pipeline shared by the in-process commands: telemetry,
// REST transport, read cache, policy gate, audit store, and the safety-gated
// proxy on top.
type stack struct {
	settings *config.Settings
	tel      *telemetry.Telemetry
	logger   zerolog.Logger
	proxy    engine.Proxy

	// store is non-nil only when auditing is enabled.
	store *stores.AuditStore
}

// buildStack wires the full pipeline from settings. dryRun forces write
// simulation even when the settings would allow real writes. The returned
// close function flushes telemetry and releases every component.
func buildStack(ctx context.Context, settings *config.Settings, dryRun bool) (*stack, func(), error) {
	tel, err := telemetry.NewTelemetry(settings.TelemetryConfig(buildVersion))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	logger := tel.Logger.Zerolog()

	if settings.Metrics.Enabled {
		metricsErr := make(chan error, 1)
		tel.StartMetricsServer(metricsErr)
		go func() {
			if err := <-metricsErr; err != nil {
				logger.Warn().Err(err).Msg("Metrics server stopped")
			}
		}()
	}

	transportCfg, err := settings.TransportConfig()
	if err != nil {
		return nil, nil, err
	}
	client, err := resthttp.NewClient(transportCfg, logger, tel.Metrics)
	if err != nil {
		return nil, nil, err
	}

	var store *stores.AuditStore
	var audit engine.AuditSink
	if settings.Audit.Enabled {
		store, err = openStore(ctx, settings)
		if err != nil {
			return nil, nil, err
		}
		audit = store
	}

	closeStore := func() {
		if store != nil {
			if err := store.Close(); err != nil {
				logger.Warn().Err(err).Msg("Failed to close audit store")
			}
		}
	}

	gate, err := buildGate(ctx, settings, tel)
	if err != nil {
		closeStore()
		return nil, nil, err
	}

	var readCache *cache.Cache
	if settings.Cache.Enabled {
		readCache = cache.New(settings.CacheConfig())
		readCache.StartSweeper(ctx, sweepInterval)
	}

	proxy := remote.NewProxy(client, logger, remote.Config{
		Cache:         readCache,
		Policy:        gate,
		Audit:         audit,
		Metrics:       tel.Metrics,
		DryRun:        dryRun || settings.Safety.DryRun,
		WritesEnabled: settings.Safety.EnableWrites,
	})

	st := &stack{settings: settings, tel: tel, logger: logger, proxy: proxy, store: store}
	closeFn := func() {
		gate.Close()
		closeStore()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("Telemetry shutdown reported errors")
		}
	}
	return st, closeFn, nil
}

// buildGate constructs the policy gate and loads external policy
// directories named in the settings.
func buildGate(ctx context.Context, settings *config.Settings, tel *telemetry.Telemetry) (*policy.Gate, error) {
	mode, err := policy.ParseMode(settings.Policy.Mode)
	if err != nil {
		return nil, err
	}
	gate, err := policy.NewGate(mode, tel.Logger.Zerolog())
	if err != nil {
		return nil, err
	}
	if settings.Policy.Dir != "" {
		if err := gate.LoadPolicies(ctx, []string{settings.Policy.Dir}); err != nil {
			gate.Close()
			return nil, fmt.Errorf("failed to load policies from %s: %w", settings.Policy.Dir, err)
		}
	}
	return gate, nil
}

// openStore opens the audit database, creating the schema on first use.
func openStore(ctx context.Context, settings *config.Settings) (*stores.AuditStore, error) {
	store, err := stores.NewAuditStore(settings.StoreConfig())
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

// loadManifest parses a manifest source and fails on validation errors,
// printing each one the way compilers report diagnostics.
func loadManifest(ctx context.Context, source string, params []string) (*config.ParsedManifest, error) {
	paramMap, err := parseParams(params)
	if err != nil {
		return nil, err
	}
	pm, err := config.NewManifestParser().Load(ctx, source, paramMap)
	if err != nil {
		return nil, err
	}
	if pm.HasErrors() {
		for _, e := range pm.Errors {
			fmt.Fprintf(os.Stderr, "  ✗ %s\n", e.Error())
		}
		return nil, fmt.Errorf("manifest %s has %d validation errors", source, len(pm.Errors))
	}
	return pm, nil
}

// parseParams converts repeated key=value flags into generator parameters.
func parseParams(pairs []string) (map[string]interface{}, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	params := make(map[string]interface{}, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid parameter %q: expected key=value", pair)
		}
		params[key] = value
	}
	return params, nil
}

// printJSON renders v as indented JSON on stdout for --json output.
func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// progressPrinter streams per-record progress lines to stdout, or nil when
// --json suppresses human-readable chatter.
func progressPrinter() engine.ProgressSink {
	if jsonOutput {
		return nil
	}
	return engine.ProgressFunc(func(info engine.ProgressInfo) {
		fmt.Printf("  [%d/%d] pass %d: %s\n", info.Current, info.Total, info.Pass, info.Item)
	})
}
