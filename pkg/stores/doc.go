// Package stores provides the SQLite-backed audit trail. It records every
// write the engine executes against the remote inventory (real or dry-run)
// and a summary row per bulk batch run, using WAL mode, connection pooling,
// and embedded schema migrations.
//
// The AuditStore satisfies engine.AuditSink, so the safety-gated proxy can
// stream write records into it directly. Pre-network refusals never reach
// the store.
package stores
