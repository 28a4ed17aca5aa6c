package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/racksync/racksync/pkg/config"
	"github.com/racksync/racksync/pkg/engine"
	"github.com/racksync/racksync/pkg/runner/client"
	"github.com/racksync/racksync/pkg/runner/protocol"
	"github.com/racksync/racksync/pkg/stores"
)

func newApplyCommand() *cobra.Command {
	var (
		confirm   bool
		dryRun    bool
		async     bool
		rollback  bool
		strict    bool
		chunkSize int
		timeout   time.Duration
		params    []string
	)

	cmd := &cobra.Command{
		Use:   "apply <manifest>",
		Short: "Converge a manifest against the remote inventory",
		Long: `Run a manifest through the two-pass bulk engine: independent resources
first, then everything that references them by natural key. Each record
is created if missing, updated only in the managed fields that differ,
or left alone.

Apply refuses to mutate until writes are armed in the settings
(safety.enable_writes) and the run is confirmed with --confirm. Dry-run
previews every write without either.

With --async the run executes in a sync-runner worker process and
progress streams back over its stdio protocol; the racksync process
itself performs no remote calls. When no worker binary can be found
the run falls back to the in-process job manager.`,
		Example: `  # Preview, then converge
  racksync apply manifests/site.cue --dry-run
  racksync apply manifests/site.cue --confirm

  # Abort on the first failure and roll back this run's creations
  racksync apply manifests/site.cue --confirm --rollback

  # Converge in a worker process with a one hour budget
  racksync apply manifests/fabric.star --param site=fra1 --confirm --async --timeout 1h`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			settings, err := loadSettings()
			if err != nil {
				return err
			}
			pm, err := loadManifest(ctx, args[0], params)
			if err != nil {
				return err
			}

			// Dry-run needs no arming or confirmation: nothing reaches
			// the network.
			effectiveDryRun := dryRun || settings.Safety.DryRun
			confirmed := confirm || !settings.Safety.RequireConfirmation || effectiveDryRun
			if !effectiveDryRun {
				if !settings.Safety.EnableWrites {
					return fmt.Errorf("writes are disarmed: set safety.enable_writes in the settings file, or use --dry-run")
				}
				if !confirmed {
					return fmt.Errorf("a mutating run requires --confirm")
				}
			}

			// Flags override the manifest batch block, which overrides
			// the settings defaults.
			req := pm.ToBatchRequest(confirmed)
			if cmd.Flags().Changed("chunk-size") {
				req.ChunkSize = chunkSize
			} else if req.ChunkSize == 0 {
				req.ChunkSize = settings.Bulk.ChunkSize
			}
			if cmd.Flags().Changed("strict") {
				req.Strict = strict
			} else if !req.Strict {
				req.Strict = settings.Bulk.Strict
			}
			if rollback {
				req.Mode = engine.RunModeAbortAndRollback
			} else if pm.Batch.Mode == "" {
				req.Mode = settings.Bulk.RunMode()
			}
			if req.BatchID == "" {
				req.BatchID = uuid.NewString()
			}

			if timeout > 0 && !async {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			var result *engine.BatchResult
			var runErr error
			if async {
				result, runErr = runAsync(ctx, settings, req, effectiveDryRun, dryRun, timeout)
			} else {
				result, runErr = runInProcess(ctx, settings, req, effectiveDryRun, dryRun)
			}
			if result == nil {
				return runErr
			}

			if jsonOutput {
				if err := printJSON(result); err != nil {
					return err
				}
			} else {
				renderResult(result)
			}

			if result.Status != engine.RunStatusSucceeded {
				if runErr != nil {
					return runErr
				}
				return fmt.Errorf("run %s finished %s", result.BatchID, result.Status)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&confirm, "confirm", false, "confirm that this run may mutate the remote inventory")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "simulate every write instead of executing it")
	cmd.Flags().BoolVar(&async, "async", false, "run in a sync-runner worker process")
	cmd.Flags().BoolVar(&rollback, "rollback", false, "abort on the first failure and delete this run's creations")
	cmd.Flags().BoolVar(&strict, "strict", false, "fail ambiguous natural-key lookups instead of using the first match")
	cmd.Flags().IntVar(&chunkSize, "chunk-size", 0, "records per chunk (0 uses the settings default)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "overall run budget (0 means no limit)")
	cmd.Flags().StringArrayVar(&params, "param", nil, "generator parameter as key=value (repeatable)")

	return cmd
}

// runInProcess executes the batch with the in-process orchestrator.
// effectiveDryRun is what gets audited; flagDryRun is only the explicit
// flag, since buildStack applies the settings-level dry-run itself.
func runInProcess(ctx context.Context, settings *config.Settings, req engine.BatchRequest, effectiveDryRun, flagDryRun bool) (*engine.BatchResult, error) {
	st, closeStack, err := buildStack(ctx, settings, flagDryRun)
	if err != nil {
		return nil, err
	}
	defer closeStack()

	finish, err := recordRunStart(ctx, st.store, req, effectiveDryRun)
	if err != nil {
		return nil, err
	}

	orch := engine.NewOrchestrator(st.proxy, st.logger, engine.WithProgressSink(progressPrinter()))
	result, runErr := orch.Run(st.tel.WithContext(ctx), req)
	finish(ctx, result)
	return result, runErr
}

// runManaged executes the batch through the background job manager. This is
// the --async fallback when no sync-runner binary is available: the run
// happens inside this process, but through the same submit/wait lifecycle a
// background job gets, so interruption flows through Cancel and the run
// yields cleanly between records.
func runManaged(ctx context.Context, settings *config.Settings, req engine.BatchRequest, effectiveDryRun, flagDryRun bool, timeout time.Duration) (*engine.BatchResult, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	st, closeStack, err := buildStack(ctx, settings, flagDryRun)
	if err != nil {
		return nil, err
	}
	defer closeStack()

	finish, err := recordRunStart(ctx, st.store, req, effectiveDryRun)
	if err != nil {
		return nil, err
	}

	orch := engine.NewOrchestrator(st.proxy, st.logger, engine.WithProgressSink(progressPrinter()))
	jobs := engine.NewJobManager(orch, st.logger, 1)

	id, err := jobs.Submit(st.tel.WithContext(ctx), req)
	if err != nil {
		finish(ctx, nil)
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() {
		if err := jobs.Cancel(id); err != nil {
			log.Debug().Err(err).Str("job_id", id).Msg("Job cancellation after context end")
		}
	})
	defer stop()

	// The job is detached from ctx; cancellation above makes it yield, so
	// waiting on the detached context cannot hang past the next record.
	result, runErr := jobs.Wait(context.WithoutCancel(ctx), id)
	finish(ctx, result)
	return result, runErr
}

// runAsync dispatches the batch to a sync-runner worker process and
// streams its progress. The worker loads the same settings file, builds
// its own transport and safety gates, and records writes to the shared
// audit database; this side records only the run row.
func runAsync(ctx context.Context, settings *config.Settings, req engine.BatchRequest, effectiveDryRun, flagDryRun bool, timeout time.Duration) (*engine.BatchResult, error) {
	workerPath, err := resolveRunnerPath(settings)
	if err != nil {
		log.Warn().Err(err).Msg("No sync-runner worker available, running the job in process")
		return runManaged(ctx, settings, req, effectiveDryRun, flagDryRun, timeout)
	}

	var store *stores.AuditStore
	if settings.Audit.Enabled {
		store, err = openStore(ctx, settings)
		if err != nil {
			return nil, err
		}
		defer store.Close()
	}
	finish, err := recordRunStart(ctx, store, req, effectiveDryRun)
	if err != nil {
		return nil, err
	}

	var workerArgs []string
	if configPath != "" {
		workerArgs = append(workerArgs, "-config", configPath)
	}
	runner, err := client.NewClient(&client.Config{
		Transport: &client.ExecTransport{Path: workerPath, Args: workerArgs},
	}, log.Logger)
	if err != nil {
		finish(ctx, nil)
		return nil, err
	}
	if err := runner.Start(ctx); err != nil {
		finish(ctx, nil)
		return nil, fmt.Errorf("failed to start sync-runner: %w", err)
	}
	defer func() {
		if err := runner.Close(); err != nil {
			log.Warn().Err(err).Msg("sync-runner shutdown reported errors")
		}
	}()

	log.Info().
		Str("worker", workerPath).
		Str("batch_id", req.BatchID).
		Msg("Dispatching run to sync-runner")

	job := &protocol.JobMessage{
		ID:        req.BatchID,
		Records:   req.Records,
		Mode:      req.Mode,
		ChunkSize: req.ChunkSize,
		Confirmed: req.Confirmed,
		Strict:    req.Strict,
		DryRun:    flagDryRun,
		Timeout:   int(timeout / time.Second),
	}
	result, runErr := runner.Run(ctx, job, progressPrinter())
	finish(ctx, result)
	return result, runErr
}

// recordRunStart opens the audit row for a bulk run. The returned finish
// function closes it with the terminal status; called with a nil result
// it marks the run failed, so an aborted startup never leaves a row
// dangling in the running state.
func recordRunStart(ctx context.Context, store *stores.AuditStore, req engine.BatchRequest, dryRun bool) (func(context.Context, *engine.BatchResult), error) {
	if store == nil {
		return func(context.Context, *engine.BatchResult) {}, nil
	}

	run := &stores.BatchRun{
		ID:        req.BatchID,
		Mode:      req.Mode,
		StartedAt: time.Now().UTC(),
		DryRun:    dryRun,
	}
	if err := store.CreateBatchRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to record batch run: %w", err)
	}

	finish := func(ctx context.Context, result *engine.BatchResult) {
		// Detached so a cancelled run still gets its row finalized.
		ctx = context.WithoutCancel(ctx)
		status := engine.RunStatusFailed
		var summary engine.BatchSummary
		var rolledBack bool
		if result != nil {
			status = result.Status
			summary = result.Summary
			rolledBack = result.RollbackPerformed
		}
		if err := store.FinishBatchRun(ctx, req.BatchID, status, summary, rolledBack); err != nil {
			log.Warn().Err(err).Str("batch_id", req.BatchID).Msg("Failed to finalize batch run record")
		}
	}
	return finish, nil
}

// resolveRunnerPath locates the sync-runner worker binary: the configured
// path first, then a sync-runner next to the racksync executable.
func resolveRunnerPath(settings *config.Settings) (string, error) {
	if settings.Bulk.RunnerPath != "" {
		return settings.Bulk.RunnerPath, nil
	}
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("failed to locate own executable: %w", err)
	}
	path := filepath.Join(filepath.Dir(exe), "sync-runner")
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("sync-runner not found at %s: set bulk.runner_path in the settings file", path)
	}
	return path, nil
}

// renderResult prints the human-readable run report.
func renderResult(result *engine.BatchResult) {
	fmt.Printf("\nRun %s: %s", result.BatchID, result.Status)
	if result.DryRun {
		fmt.Printf(" (dry-run)")
	}
	fmt.Println()

	s := result.Summary
	fmt.Printf("  %d created, %d updated, %d unchanged, %d failed, %d skipped (of %d)\n",
		s.Created, s.Updated, s.Unchanged, s.Failed, s.Skipped, s.Total)

	if result.RollbackPerformed {
		fmt.Printf("  rollback deleted this run's creations")
		if len(result.RollbackErrors) > 0 {
			fmt.Printf(" (%d rollback errors)", len(result.RollbackErrors))
		}
		fmt.Println()
	}

	for i := range result.Results {
		r := &result.Results[i]
		if r.Action == engine.ActionError && r.Error != nil {
			fmt.Printf("  ✗ %s %s: %s\n", r.Type, r.Name, r.Error.Error())
		}
	}
}
