// Package main implements the racksync sync-runner worker binary: a
// JSON-over-stdio job executor launched by the racksync CLI for async bulk
// runs. Every job builds its own safety-gated proxy, so no cache or session
// state survives a job boundary.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/racksync/racksync/pkg/cache"
	"github.com/racksync/racksync/pkg/config"
	"github.com/racksync/racksync/pkg/engine"
	"github.com/racksync/racksync/pkg/policy"
	"github.com/racksync/racksync/pkg/remote"
	"github.com/racksync/racksync/pkg/runner/protocol"
	"github.com/racksync/racksync/pkg/runner/worker"
	"github.com/racksync/racksync/pkg/stores"
	"github.com/racksync/racksync/pkg/telemetry"
	resthttp "github.com/racksync/racksync/pkg/transports/http"
)

// Version information (set via ldflags during build)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to the racksync settings file (defaults to $RACKSYNC_CONFIG)")
	flag.Parse()

	settings, err := loadSettings(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sync-runner: %v\n", err)
		os.Exit(1)
	}

	logger, err := buildLogger(settings)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sync-runner: %v\n", err)
		os.Exit(1)
	}

	logger.Debug().
		Str("version", Version).
		Str("commit", Commit).
		Str("build_date", BuildDate).
		Msg("sync-runner starting")

	// Signals cancel in-flight jobs; the loop itself ends when the
	// controller sends EXIT or closes stdin.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info().Msg("received interrupt signal, cancelling jobs")
		cancel()
	}()

	w := worker.New(os.Stdin, os.Stdout, buildFactory(settings, logger), logger, Version)
	os.Exit(w.Run(ctx))
}

// loadSettings resolves the settings file. Without one the defaults apply,
// which leave writes disarmed.
func loadSettings(path string) (*config.Settings, error) {
	if path == "" {
		path = os.Getenv("RACKSYNC_CONFIG")
	}
	if path == "" {
		return config.DefaultSettings(), nil
	}
	return config.LoadSettings(path)
}

// buildLogger builds the worker logger. Output is forced to stderr because
// stdout carries the protocol stream.
func buildLogger(settings *config.Settings) (zerolog.Logger, error) {
	logger, err := telemetry.NewLogger(telemetry.LoggingConfig{
		Level:  settings.Logging.Level,
		Format: settings.Logging.Format,
		Output: "stderr",
	})
	if err != nil {
		return zerolog.Logger{}, err
	}
	return logger.Zerolog(), nil
}

// buildFactory returns the per-job proxy factory. Transport, cache, policy
// gate, and audit store are all constructed fresh for each job and torn
// down by the release func.
func buildFactory(settings *config.Settings, logger zerolog.Logger) worker.Factory {
	return func(ctx context.Context, job *protocol.JobMessage) (engine.Proxy, func(), error) {
		jobLogger := logger.With().Str("job_id", job.ID).Logger()

		transportCfg, err := settings.TransportConfig()
		if err != nil {
			return nil, nil, engine.NewValidationError("remote transport is not configured", err)
		}
		client, err := resthttp.NewClient(transportCfg, jobLogger, nil)
		if err != nil {
			return nil, nil, err
		}

		var store *stores.AuditStore
		var audit engine.AuditSink
		if settings.Audit.Enabled {
			store, err = stores.NewAuditStore(settings.StoreConfig())
			if err != nil {
				return nil, nil, err
			}
			if err := store.Init(ctx); err != nil {
				return nil, nil, err
			}
			if err := store.Migrate(ctx); err != nil {
				store.Close()
				return nil, nil, err
			}
			audit = store
		}

		gate, err := buildGate(ctx, settings, jobLogger)
		if err != nil {
			if store != nil {
				store.Close()
			}
			return nil, nil, err
		}

		// Job-scoped cache: entries expire passively, no sweeper needed
		// for a proxy that lives exactly one job.
		var readCache *cache.Cache
		if settings.Cache.Enabled {
			readCache = cache.New(settings.CacheConfig())
		}

		proxy := remote.NewProxy(client, jobLogger, remote.Config{
			Cache:         readCache,
			Policy:        gate,
			Audit:         audit,
			DryRun:        job.DryRun || settings.Safety.DryRun,
			WritesEnabled: settings.Safety.EnableWrites,
		})

		release := func() {
			gate.Close()
			if store != nil {
				store.Close()
			}
		}
		return proxy, release, nil
	}
}

// buildGate creates the policy gate and loads any configured policy
// directory on top of the built-ins.
func buildGate(ctx context.Context, settings *config.Settings, logger zerolog.Logger) (*policy.Gate, error) {
	mode, err := policy.ParseMode(settings.Policy.Mode)
	if err != nil {
		return nil, err
	}
	gate, err := policy.NewGate(mode, logger)
	if err != nil {
		return nil, err
	}
	if settings.Policy.Dir != "" {
		if err := gate.LoadPolicies(ctx, []string{settings.Policy.Dir}); err != nil {
			gate.Close()
			return nil, err
		}
	}
	return gate, nil
}
