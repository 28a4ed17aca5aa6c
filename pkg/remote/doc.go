// Package remote implements the safety-gated access path to the remote
// inventory API.
//
// The Proxy is the only component permitted to issue remote reads or
// writes. Reads are cache-first; writes pass a fixed gate sequence before
// any network traffic happens:
//
//	confirmation -> policy -> dry-run -> write-enable -> remote call ->
//	cache invalidation -> audit
//
// A write refused by confirmation, policy, or the write-enable flag never
// reaches the network and is never recorded as a write attempt. Executed
// writes, real or simulated, are always audited. Audit failures are logged
// and never propagated; a failing sink cannot fail a write that already
// succeeded.
//
// In dry-run mode creates return synthesized objects carrying negative
// placeholder identifiers so dependent records in the same run can resolve
// their references without anything touching the server.
package remote
