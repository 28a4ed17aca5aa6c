// Package engine provides the core types and convergence logic of the
// racksync synchronization engine.
//
// # Overview
//
// racksync converges desired inventory records against a remote
// inventory-management API. The engine operates through a layered workflow:
//
//  1. Hash - Project desired state onto managed fields and fingerprint it (ComputeHash)
//  2. Diff - Compare desired values field by field against a live object (FieldDiff)
//  3. Ensure - Converge one resource idempotently (Ensurer)
//  4. Order - Split resource types into dependency-ordered passes (OrderTypes)
//  5. Run - Execute bulk batches over two passes with rollback (Orchestrator)
//  6. Jobs - Run batches in the background with status tracking (JobManager)
//
// # Core Domain Types
//
// The package defines the types that represent the convergence model:
//
//   - Object: A live resource as the remote API returns it
//   - DesiredState: The field values a caller wants on a resource
//   - EnsureRequest / EnsureResult: One idempotent upsert and its outcome
//   - Record: One desired resource inside a bulk batch
//   - BatchRequest / BatchResult: One bulk run and its full report
//   - ChangeSet: The structured field diff attached to every outcome
//   - WriteIntent / WriteAudit: A write before and after it executes
//
// # Proxy Interface
//
// All remote access flows through the Proxy interface:
//
//	type Proxy interface {
//	    List(ctx context.Context, rt catalog.ResourceType, filters Filters) ([]Object, error)
//	    Get(ctx context.Context, rt catalog.ResourceType, id int64) (Object, error)
//	    Create(ctx context.Context, rt catalog.ResourceType, payload map[string]interface{}, confirmed bool) (Object, error)
//	    Update(ctx context.Context, rt catalog.ResourceType, id int64, payload map[string]interface{}, confirmed bool) (Object, error)
//	    Delete(ctx context.Context, rt catalog.ResourceType, id int64, confirmed bool) error
//	    ...
//	}
//
// Implementations gate writes behind confirmation, policy, and dry-run
// simulation; the engine itself never talks to the network.
//
// # Error Classification
//
// Failures are classified so callers can gate on them:
//
//   - validation, confirmation_required, policy: rejected before any
//     network traffic
//   - not_found, conflict, write: the remote API refused the operation
//   - connection, timeout: the remote API was unreachable
//
// Use the helper predicates to inspect errors:
//
//	if engine.IsPreNetwork(err) {
//	    // The remote system was never touched.
//	}
//
// # Idempotence
//
// Ensure and Run are safe to repeat: a record whose managed fields already
// match the live object reports unchanged and issues no write. Change
// detection first compares stored content hashes (QuickMatch) and falls back
// to the authoritative per-field comparison when hashes disagree.
//
// # Thread Safety
//
// Ensurer and Orchestrator instances hold no per-run state and are safe for
// concurrent use. JobManager serializes access to its job table internally.
package engine
