package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/racksync/racksync/pkg/stores"
)

func newAuditCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the local audit trail",
		Long: `Query the local SQLite audit database: every write the proxy executed
(including simulated dry-run writes) and the summary row of every bulk
run. The remote API is never contacted.`,
	}

	cmd.AddCommand(newAuditWritesCommand())
	cmd.AddCommand(newAuditRunsCommand())

	return cmd
}

func newAuditWritesCommand() *cobra.Command {
	var (
		batchID      string
		resourceType string
		outcome      string
		limit        int
		offset       int
	)

	cmd := &cobra.Command{
		Use:   "writes",
		Short: "List executed writes, newest first",
		Example: `  # The last 50 writes
  racksync audit writes

  # Failed writes of one bulk run
  racksync audit writes --batch 9f3c81d2 --outcome error`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			settings, err := loadSettings()
			if err != nil {
				return err
			}
			if !settings.Audit.Enabled {
				return fmt.Errorf("auditing is disabled: set audit.enabled in the settings file")
			}

			switch outcome {
			case "", string(stores.WriteOutcomeOK), string(stores.WriteOutcomeError):
			default:
				return fmt.Errorf("invalid outcome %q: expected %s or %s", outcome, stores.WriteOutcomeOK, stores.WriteOutcomeError)
			}

			store, err := openStore(ctx, settings)
			if err != nil {
				return err
			}
			defer store.Close()

			records, err := store.ListWrites(ctx, stores.WriteFilter{
				BatchID:      batchID,
				ResourceType: resourceType,
				Outcome:      stores.WriteOutcome(outcome),
				Limit:        limit,
				Offset:       offset,
			})
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(records)
			}
			for _, rec := range records {
				fmt.Println(formatWrite(rec))
			}
			fmt.Printf("%d writes\n", len(records))
			return nil
		},
	}

	cmd.Flags().StringVar(&batchID, "batch", "", "only writes of this bulk run")
	cmd.Flags().StringVar(&resourceType, "type", "", "only writes of this resource type")
	cmd.Flags().StringVar(&outcome, "outcome", "", "only writes with this outcome (ok or error)")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of writes to list")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of writes to skip")

	return cmd
}

func newAuditRunsCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List bulk runs, newest first",
		Example: `  # The last 20 runs
  racksync audit runs --limit 20`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			settings, err := loadSettings()
			if err != nil {
				return err
			}
			if !settings.Audit.Enabled {
				return fmt.Errorf("auditing is disabled: set audit.enabled in the settings file")
			}

			store, err := openStore(ctx, settings)
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.ListBatchRuns(ctx, limit)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(runs)
			}
			for _, run := range runs {
				fmt.Println(formatRun(run))
			}
			fmt.Printf("%d runs\n", len(runs))
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs to list")

	return cmd
}

// formatWrite renders one write record as a single line.
func formatWrite(rec *stores.WriteRecord) string {
	line := fmt.Sprintf("  %s  %-5s %-6s %-20s %6d  %4dms",
		rec.Timestamp.Format(time.RFC3339), rec.Outcome, rec.Operation,
		rec.ResourceType, rec.ResourceID, rec.DurationMS)
	if rec.DryRun {
		line += "  dry-run"
	}
	if rec.BatchID != nil {
		line += "  batch=" + *rec.BatchID
	}
	if rec.Error != nil {
		line += "  " + *rec.Error
	}
	return line
}

// formatRun renders one bulk run summary as a single line.
func formatRun(run *stores.BatchRun) string {
	duration := "running"
	if run.FinishedAt != nil {
		duration = run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond).String()
	}
	line := fmt.Sprintf("  %s  %-9s %-19s %s  %3d records  %3.0f%% ok  %s",
		run.StartedAt.Format(time.RFC3339), run.Status, run.Mode, run.ID,
		run.Summary.Total, run.SuccessRate, duration)
	if run.DryRun {
		line += "  dry-run"
	}
	if run.RollbackPerformed {
		line += "  rolled-back"
	}
	return line
}
