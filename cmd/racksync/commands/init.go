package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/racksync/racksync/pkg/stores"
)

// starterSettings is the generated settings file. Writes start disarmed:
// enable_writes is false and every mutating run needs --confirm.
const starterSettings = `# racksync settings.
#
# Writes start disarmed. Once you trust your manifests, set
# safety.enable_writes to true and pass --confirm on mutating runs.

remote:
  # Root URL of the inventory API.
  url: "https://netbox.example.com"
  # Environment variable holding the API token. The token itself never
  # lives in this file.
  token_env: RACKSYNC_TOKEN
  timeout: 30s
  rate_limit: 20
  rate_burst: 10

cache:
  enabled: true
  max_entries: 4096
  ttl:
    static: 30m
    standard: 5m
    volatile: 30s

safety:
  dry_run: false
  enable_writes: false
  require_confirmation: true

bulk:
  chunk_size: 100
  mode: continue_on_error

audit:
  enabled: true
  path: %s

policy:
  dir: %s
  mode: advisory

logging:
  level: info
  format: console
`

// starterPolicy shows the shape of a custom write policy. The built-in
// policies stay loaded alongside anything in the policy directory.
const starterPolicy = `package racksync.policies.protected

import rego.v1

# Sites listed here are managed by hand. Advisory mode logs a warning on
# every write that touches them; enforcing mode with severity "error"
# would block the write instead.
protected_sites := ["corp-hq"]

deny contains violation if {
	input.resource_type == "dcim.site"
	input.payload.name in protected_sites
	violation := {
		"message": sprintf("site %q is managed by hand", [input.payload.name]),
		"severity": "warning",
		"resource": input.resource_type,
	}
}
`

// starterManifest is a small but complete example: pass-1 resources, a
// device wired up through natural-key refs, and a nested interface with
// an address.
const starterManifest = `batch: {
	name: "example"
	mode: "continue_on_error"
}

records: {
	"fra1": {
		type: "dcim.site"
		fields: {status: "active"}
	}
	"Juniper": {
		type: "dcim.manufacturer"
	}
	"QFX5120-48Y": {
		type: "dcim.device-type"
		refs: {manufacturer: "Juniper"}
	}
	"leaf": {
		type: "dcim.device-role"
	}
	"leaf-1a": {
		type: "dcim.device"
		refs: {
			site:        "fra1"
			device_type: "QFX5120-48Y"
			role:        "leaf"
		}
		fields: {status: "active"}
		interfaces: [
			{
				name: "xe-0/0/0"
				fields: {type: "10gbase-x-sfpp", enabled: true}
				addresses: [{address: "10.20.0.1/31"}]
			},
		]
	}
}
`

func newInitCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a racksync workspace",
		Long: `Initialize a racksync workspace: a settings file with writes disarmed,
a policy directory with an example Rego policy, an example manifest, and
the local audit database.`,
		Example: `  # Initialize in the current directory
  racksync init

  # Initialize with a custom settings path
  racksync init --config /etc/racksync/racksync.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			target := configPath
			if target == "" {
				target = "racksync.yaml"
			}
			if _, err := os.Stat(target); err == nil && !force {
				return fmt.Errorf("%s already exists: use --force to overwrite", target)
			}

			baseDir := filepath.Dir(target)
			policyDir := filepath.Join(baseDir, "policies")
			manifestDir := filepath.Join(baseDir, "manifests")
			auditPath := filepath.Join(baseDir, "racksync-audit.db")

			fmt.Printf("Initializing racksync workspace in %s\n\n", baseDir)

			// Step 1: Create directory structure
			for _, dir := range []string{policyDir, manifestDir} {
				if err := os.MkdirAll(dir, 0755); err != nil {
					return fmt.Errorf("failed to create directory %s: %w", dir, err)
				}
				fmt.Printf("✓ Created directory: %s\n", dir)
			}

			// Step 2: Write the settings file
			content := fmt.Sprintf(starterSettings, auditPath, policyDir)
			if err := os.WriteFile(target, []byte(content), 0644); err != nil {
				return fmt.Errorf("failed to write settings file: %w", err)
			}
			fmt.Printf("✓ Created settings file: %s\n", target)

			// Step 3: Write the example policy and manifest
			policyPath := filepath.Join(policyDir, "protected-sites.rego")
			if _, err := os.Stat(policyPath); os.IsNotExist(err) || force {
				if err := os.WriteFile(policyPath, []byte(starterPolicy), 0644); err != nil {
					return fmt.Errorf("failed to write example policy: %w", err)
				}
				fmt.Printf("✓ Created example policy: %s\n", policyPath)
			} else {
				fmt.Printf("✓ Example policy already exists: %s\n", policyPath)
			}

			manifestPath := filepath.Join(manifestDir, "example.cue")
			if _, err := os.Stat(manifestPath); os.IsNotExist(err) || force {
				if err := os.WriteFile(manifestPath, []byte(starterManifest), 0644); err != nil {
					return fmt.Errorf("failed to write example manifest: %w", err)
				}
				fmt.Printf("✓ Created example manifest: %s\n", manifestPath)
			} else {
				fmt.Printf("✓ Example manifest already exists: %s\n", manifestPath)
			}

			// Step 4: Initialize the audit database
			store, err := stores.NewAuditStore(stores.Config{Path: auditPath})
			if err != nil {
				return fmt.Errorf("failed to create audit store: %w", err)
			}
			defer store.Close()

			if err := store.Init(ctx); err != nil {
				return fmt.Errorf("failed to initialize audit store: %w", err)
			}
			if err := store.Migrate(ctx); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
			fmt.Printf("✓ Initialized audit database: %s\n", auditPath)

			// Done
			fmt.Printf("\n✅ Workspace initialized successfully!\n\n")
			fmt.Printf("Next steps:\n")
			fmt.Printf("  1. Point the settings at your inventory API:\n")
			fmt.Printf("     edit %s and set remote.url\n\n", target)
			fmt.Printf("  2. Export the API token:\n")
			fmt.Printf("     export RACKSYNC_TOKEN=<token>\n\n")
			fmt.Printf("  3. Validate and preview the example manifest:\n")
			fmt.Printf("     racksync validate %s\n", manifestPath)
			fmt.Printf("     racksync plan %s\n\n", manifestPath)

			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing workspace files")

	return cmd
}
