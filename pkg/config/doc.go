// Package config provides settings loading, CUE manifest parsing, and
// Starlark generator execution for racksync.
//
// # Overview
//
// The config package covers the two inputs racksync takes from the operator:
// the settings file that wires the process (remote API, cache, safety gates,
// audit, telemetry), and the manifests that declare the resources a run
// should converge. Manifests are written in CUE or generated by sandboxed
// Starlark scripts; both paths produce the same flattened engine records.
//
// # Features
//
//   - YAML settings with defaults, strict key checking, and validation
//   - CUE manifest parsing from files, directories, and inline content
//   - Nested declaration sugar: interfaces under devices, addresses under
//     interfaces, cable terminations by device and interface name
//   - Starlark generator scripts with an input params map
//   - Schema validation with built-in schemas for records and batches
//   - Error reporting with file locations and line numbers
//
// # Components
//
// Settings: The process configuration. Loaded from YAML, overlaid on
// defaults, and converted into the component configurations (transport,
// cache, audit store, telemetry).
//
// ManifestParser: Parses CUE manifests and Starlark generators into
// flattened engine records ready for a bulk run.
//
// SchemaRegistry: Manages CUE schemas for manifest validation. Provides
// built-in schemas and supports custom schema registration.
//
// StarlarkEvaluator: Sandboxed generator execution with a wall-clock
// timeout and a bounded interpreter step budget.
//
// # Usage Example
//
//	settings, err := config.LoadSettings("racksync.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	parser := config.NewManifestParser()
//	manifest, err := parser.Load(ctx, "site.cue", nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if manifest.HasErrors() {
//	    // report manifest.Errors
//	}
//
//	req := manifest.ToBatchRequest(confirmed)
//
// # Manifest Structure
//
// A manifest declares records as a struct keyed by name or as a list, with
// an optional batch block for run settings:
//
//	batch: {
//	    mode: "abort_and_rollback"
//	}
//
//	records: {
//	    "leaf-7a": {
//	        type: "dcim.device"
//	        refs: {site: "fra1", device_type: "QFX5120-48Y", role: "leaf"}
//	        interfaces: [
//	            {
//	                name: "xe-0/0/0"
//	                fields: {type: "10gbase-x-sfpp"}
//	                addresses: [{address: "10.20.0.1/31"}]
//	            },
//	        ]
//	    }
//	}
//
// Nested interfaces become scoped interface records, nested addresses
// become assigned ip-address records, and cable terminations become refs
// that resolve within the batch.
//
// # Generator Scripts
//
// Starlark generators build records procedurally. The script receives a
// "params" dict and must define a module-level "records" list:
//
//	count = params.get("count", 4)
//	records = [{
//	    "type": "dcim.device",
//	    "name": "leaf-" + str(i),
//	    "refs": {"site": params["site"], "device_type": "QFX5120-48Y", "role": "leaf"},
//	} for i in range(count)]
//
// # Error Handling
//
// All parsing and validation errors include location information:
//
//	ValidationError{
//	    File: "site.cue",
//	    Line: 42,
//	    Column: 5,
//	    Path: "records.leaf-7a",
//	    Message: "termination a references undeclared interface xe-0/0/1 on leaf-7a",
//	    Severity: "error",
//	}
//
// # Security
//
// Starlark execution is sandboxed:
//   - No filesystem access
//   - No network access
//   - Timeout enforcement (default 30 seconds)
//   - Bounded interpreter step budget
//   - Print statements suppressed
//
// # Thread Safety
//
// All types in this package are safe for concurrent use.
package config
