package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/racksync/racksync/pkg/engine"
)

func newPlanCommand() *cobra.Command {
	var params []string

	cmd := &cobra.Command{
		Use:   "plan <manifest>",
		Short: "Preview a bulk run without writing",
		Long: `Predict what a bulk run would do: which records would create a
resource, which would update one and exactly which fields, and which are
already converged. The prediction uses read-only lookups; nothing is
written, so plan works with writes disarmed.

Records whose references cannot resolve inside the batch are reported as
errors. Reference targets that exist only on the remote side resolve
during apply, so plan marks them conservatively.`,
		Example: `  # Preview a manifest
  racksync plan manifests/site.cue

  # Preview a generator with parameters
  racksync plan leaf-fabric.star --param site=fra1 --param count=12`,
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

			st, closeStack, err := buildStack(ctx, settings, true)
			if err != nil {
				return err
			}
			defer closeStack()

			orch := engine.NewOrchestrator(st.proxy, st.logger)
			report, err := orch.Preflight(ctx, pm.ToBatchRequest(false))
			if err != nil {
				return err
			}

			if jsonOutput {
				if err := printJSON(report); err != nil {
					return err
				}
			} else {
				renderPreflight(report)
			}

			if report.Errors > 0 {
				return fmt.Errorf("%d records cannot be processed", report.Errors)
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&params, "param", nil, "generator parameter as key=value (repeatable)")

	return cmd
}

// renderPreflight prints the per-record predictions and the totals.
func renderPreflight(report *engine.PreflightReport) {
	for i := range report.Entries {
		e := &report.Entries[i]
		switch e.Action {
		case engine.ActionCreated:
			fmt.Printf("  + %s %s\n", e.Type, e.Name)
		case engine.ActionUpdated:
			fmt.Printf("  ~ %s %s (%s)\n", e.Type, e.Name, strings.Join(e.UpdatedFields, ", "))
		case engine.ActionUnchanged:
			fmt.Printf("    %s %s\n", e.Type, e.Name)
		case engine.ActionError:
			fmt.Printf("  ✗ %s %s: %s\n", e.Type, e.Name, e.Error.Error())
		}
	}
	fmt.Printf("\nPlan: %d to create, %d to update, %d unchanged, %d errors\n",
		report.WouldCreate, report.WouldUpdate, report.Unchanged, report.Errors)
}
