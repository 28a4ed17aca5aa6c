package engine

import "time"

// Provenance metadata lives in the remote API's opaque custom-field group.
// Every engine-driven write stamps the managed hash, the batch that wrote
// it, and the write time, so later runs can fast-path comparison and audits
// can attribute changes.
const (
	// CustomFieldGroup is the payload key of the custom-metadata group.
	CustomFieldGroup = "custom_fields"

	// CustomFieldHash stores the managed hash of the last engine write.
	CustomFieldHash = "racksync_hash"

	// CustomFieldBatch stores the batch id of the last engine write.
	CustomFieldBatch = "racksync_batch"

	// CustomFieldSyncedAt stores the RFC 3339 time of the last engine write.
	CustomFieldSyncedAt = "racksync_synced_at"
)

// stampProvenance merges the provenance fields into the payload's custom
// field group, preserving unrelated custom fields the caller supplied.
func stampProvenance(payload map[string]interface{}, hash, batchID string, at time.Time) {
	group, _ := payload[CustomFieldGroup].(map[string]interface{})
	if group == nil {
		group = make(map[string]interface{}, 3)
	}
	group[CustomFieldHash] = hash
	if batchID != "" {
		group[CustomFieldBatch] = batchID
	}
	group[CustomFieldSyncedAt] = at.UTC().Format(time.RFC3339)
	payload[CustomFieldGroup] = group
}
