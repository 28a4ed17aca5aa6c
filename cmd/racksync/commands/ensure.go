package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/racksync/racksync/pkg/catalog"
	"github.com/racksync/racksync/pkg/engine"
)

func newEnsureCommand() *cobra.Command {
	var (
		resourceType string
		name         string
		id           int64
		fields       []string
		scopes       []string
		confirm      bool
		dryRun       bool
		strict       bool
	)

	cmd := &cobra.Command{
		Use:   "ensure",
		Short: "Converge a single resource",
		Long: `Make one resource exist with the given field values: look it up by
natural key (or fetch it by --id), create it when missing, update only
the fields that differ, and report unchanged when it already matches.

Exactly one of --name or --id must be set. Scoped types such as
interfaces need --scope to pin the parent, e.g. --scope device_id=14.
Relation fields take the numeric id of the target resource; manifests
resolve natural-key references, single ensure calls do not.`,
		Example: `  # Make sure a manufacturer exists
  racksync ensure --type dcim.manufacturer --name Juniper --confirm

  # Convergence check only: fails if writes would be needed and are disarmed
  racksync ensure --type dcim.site --name fra1 --field status=active --dry-run

  # Update a device by id
  racksync ensure --type dcim.device --id 318 --field status=offline --confirm`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			settings, err := loadSettings()
			if err != nil {
				return err
			}

			rt, err := catalog.ParseResourceType(resourceType)
			if err != nil {
				return err
			}
			desired, err := parseFieldValues(fields)
			if err != nil {
				return err
			}
			scope, err := parseScopeValues(scopes)
			if err != nil {
				return err
			}

			effectiveDryRun := dryRun || settings.Safety.DryRun
			confirmed := confirm || !settings.Safety.RequireConfirmation || effectiveDryRun
			if !effectiveDryRun {
				if !settings.Safety.EnableWrites {
					return fmt.Errorf("writes are disarmed: set safety.enable_writes in the settings file, or use --dry-run")
				}
				if !confirmed {
					return fmt.Errorf("a mutating ensure requires --confirm")
				}
			}

			st, closeStack, err := buildStack(ctx, settings, dryRun)
			if err != nil {
				return err
			}
			defer closeStack()

			result, err := engine.NewEnsurer(st.proxy, st.logger).Ensure(ctx, engine.EnsureRequest{
				Type:      rt,
				ID:        id,
				Name:      name,
				Scope:     scope,
				Desired:   desired,
				Confirmed: confirmed,
				Strict:    strict,
			})

			if jsonOutput && result != nil {
				if jsonErr := printJSON(result); jsonErr != nil {
					return jsonErr
				}
			}
			if err != nil {
				return err
			}
			if !jsonOutput {
				renderEnsure(rt, result)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&resourceType, "type", "", "resource type, e.g. dcim.device")
	cmd.Flags().StringVar(&name, "name", "", "natural key of the resource")
	cmd.Flags().Int64Var(&id, "id", 0, "server-assigned id of the resource")
	cmd.Flags().StringArrayVar(&fields, "field", nil, "desired field as key=value (repeatable)")
	cmd.Flags().StringArrayVar(&scopes, "scope", nil, "lookup scope as key=value (repeatable)")
	cmd.Flags().BoolVar(&confirm, "confirm", false, "confirm that this call may mutate the remote inventory")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "simulate the write instead of executing it")
	cmd.Flags().BoolVar(&strict, "strict", false, "fail an ambiguous natural-key lookup instead of using the first match")
	cmd.MarkFlagRequired("type")

	return cmd
}

// parseFieldValues converts repeated key=value flags into desired state.
// Values decode as YAML scalars so numbers and booleans keep their type:
// vid=100 is an integer, enabled=true a boolean, status=active a string.
func parseFieldValues(pairs []string) (engine.DesiredState, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	desired := make(engine.DesiredState, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid field %q: expected key=value", pair)
		}
		var value interface{}
		if err := yaml.Unmarshal([]byte(raw), &value); err != nil {
			value = raw
		}
		desired[key] = value
	}
	return desired, nil
}

// parseScopeValues converts repeated key=value flags into lookup filters.
func parseScopeValues(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	scope := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid scope %q: expected key=value", pair)
		}
		scope[key] = value
	}
	return scope, nil
}

// renderEnsure prints the single-resource outcome.
func renderEnsure(rt catalog.ResourceType, result *engine.EnsureResult) {
	suffix := ""
	if result.DryRun {
		suffix = " (dry-run)"
	}
	switch result.Action {
	case engine.ActionCreated:
		fmt.Printf("✓ created %s (id %d)%s\n", rt, result.Object.ID(), suffix)
	case engine.ActionUpdated:
		fmt.Printf("✓ updated %s (id %d): %s%s\n", rt, result.Object.ID(),
			strings.Join(result.Changes.UpdatedFields, ", "), suffix)
	case engine.ActionUnchanged:
		fmt.Printf("✓ unchanged %s (id %d)\n", rt, result.Object.ID())
	default:
		fmt.Printf("✗ %s: %s\n", rt, result.Action)
	}
}
