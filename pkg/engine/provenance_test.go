package engine

import (
	"testing"
	"time"
)

func TestStampProvenance_MergesIntoExistingGroup(t *testing.T) {
	payload := map[string]interface{}{
		"name": "Cisco",
		CustomFieldGroup: map[string]interface{}{
			"owner": "netops",
		},
	}

	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	stampProvenance(payload, "abc123", "batch-1", at)

	cf, ok := payload[CustomFieldGroup].(map[string]interface{})
	if !ok {
		t.Fatal("Expected custom field group on payload")
	}
	if cf["owner"] != "netops" {
		t.Error("Expected existing custom fields preserved")
	}
	if cf[CustomFieldHash] != "abc123" {
		t.Errorf("Expected hash stamped, got %v", cf[CustomFieldHash])
	}
	if cf[CustomFieldBatch] != "batch-1" {
		t.Errorf("Expected batch stamped, got %v", cf[CustomFieldBatch])
	}
	if cf[CustomFieldSyncedAt] != "2025-06-01T12:00:00Z" {
		t.Errorf("Expected RFC3339 UTC timestamp, got %v", cf[CustomFieldSyncedAt])
	}
}

func TestStampProvenance_OmitsEmptyBatch(t *testing.T) {
	payload := map[string]interface{}{"name": "Cisco"}
	stampProvenance(payload, "abc123", "", time.Now())

	cf := payload[CustomFieldGroup].(map[string]interface{})
	if _, present := cf[CustomFieldBatch]; present {
		t.Error("Expected no batch key outside a bulk run")
	}
}
