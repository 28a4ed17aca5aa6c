// Package policy gates write intents with Open Policy Agent (OPA) Rego
// policies before the safety-gated proxy executes them.
//
// Every create, update, and delete headed for the remote API is flattened
// into an input document and evaluated against all enabled policies. In
// advisory mode violations are logged and the write proceeds; in enforcing
// mode a blocking violation denies the write before any network access,
// surfacing as a policy-class error.
//
// # Input Document
//
// Policies see one write at a time:
//
//	{
//	    "operation": "create",          // create, update, or delete
//	    "resource_type": "dcim.site",
//	    "resource_id": 42,              // absent for creates
//	    "payload": { ... },             // body that would be sent
//	    "batch_id": "…",                // absent for ad-hoc writes
//	    "dry_run": false,
//	    "timestamp": "2025-..."
//	}
//
// # Usage
//
// Creating a gate and wiring it to a proxy:
//
//	gate, err := policy.NewGate(policy.ModeEnforcing, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := gate.LoadPolicies(ctx, []string{"/etc/racksync/policies"}); err != nil {
//	    log.Fatal(err)
//	}
//
// The gate implements engine.PolicyGate, so it drops straight into the
// proxy configuration. A nil gate allows everything.
//
// # Built-in Policies
//
// The following policies are loaded by default:
//
//  1. payload-fields - Rejects payloads setting server-owned fields
//  2. slug-format - Validates slug fields before the remote rejects them
//  3. delete-safety - Flags cascading and unbatched deletes
//
// # Custom Policies
//
// Custom policies are Rego files that contribute to a deny set. A
// violation can be a plain string or an object that overrides severity
// and resource:
//
//	package custom.policies.freeze
//
//	import rego.v1
//
//	deny contains violation if {
//	    input.operation == "delete"
//	    input.resource_type == "dcim.device"
//	    violation := {
//	        "message": "device deletes are frozen during the migration",
//	        "severity": "error",
//	        "resource": input.resource_type,
//	    }
//	}
//
// A bare .rego file defaults to error severity, so its deny rules block
// writes in enforcing mode unless a violation object says otherwise. A
// .json policy file wraps Rego code with explicit name, severity, and
// description.
//
// # Severity Levels
//
// Violations have four severity levels:
//
//   - info: informational, never blocks
//   - warning: should be reviewed, never blocks
//   - error: blocks the write in enforcing mode
//   - critical: blocks the write in enforcing mode
//
// # Hot Reload
//
// Watch reloads policies whenever a file under the configured paths
// changes, with a short debounce. A reload that fails to compile leaves
// the previous policy set in place:
//
//	if err := gate.Watch(ctx, []string{"/etc/racksync/policies"}); err != nil {
//	    log.Fatal(err)
//	}
//	defer gate.Close()
package policy
