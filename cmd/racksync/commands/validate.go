package commands

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/racksync/racksync/pkg/config"
)

func newValidateCommand() *cobra.Command {
	var params []string

	cmd := &cobra.Command{
		Use:   "validate <manifest>",
		Short: "Validate a manifest without touching the network",
		Long: `Parse a manifest and report every validation error: unknown resource
types, missing natural keys, duplicate records, unknown fields, and
dangling references. The remote API is never contacted.

The manifest may be a CUE file, a directory of CUE files, or a Starlark
generator (.star).`,
		Example: `  # Validate a CUE manifest
  racksync validate manifests/site.cue

  # Validate a Starlark generator with parameters
  racksync validate leaf-fabric.star --param site=fra1 --param count=12`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			paramMap, err := parseParams(params)
			if err != nil {
				return err
			}

			pm, err := config.NewManifestParser().Load(ctx, args[0], paramMap)
			if err != nil {
				return err
			}

			if jsonOutput {
				if err := printJSON(pm); err != nil {
					return err
				}
				if pm.HasErrors() {
					return fmt.Errorf("manifest %s has %d validation errors", args[0], len(pm.Errors))
				}
				return nil
			}

			if pm.HasErrors() {
				for _, e := range pm.Errors {
					fmt.Printf("  ✗ %s\n", e.Error())
				}
				return fmt.Errorf("manifest %s has %d validation errors", args[0], len(pm.Errors))
			}

			fmt.Printf("✓ %s is valid: %d records\n", args[0], len(pm.Records))
			for _, line := range recordCounts(pm) {
				fmt.Printf("    %s\n", line)
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&params, "param", nil, "generator parameter as key=value (repeatable)")

	return cmd
}

// recordCounts summarizes the flattened records by resource type.
func recordCounts(pm *config.ParsedManifest) []string {
	counts := make(map[string]int)
	for i := range pm.Records {
		counts[string(pm.Records[i].Type)]++
	}
	types := make([]string, 0, len(counts))
	for t := range counts {
		types = append(types, t)
	}
	sort.Strings(types)

	lines := make([]string, 0, len(types))
	for _, t := range types {
		lines = append(lines, fmt.Sprintf("%-24s %d", t, counts[t]))
	}
	return lines
}
