package policy

import (
	"time"
)

// BuiltinPolicies returns all built-in policies.
func BuiltinPolicies() []Policy {
	return []Policy{
		payloadFieldsPolicy(),
		slugFormatPolicy(),
		deleteSafetyPolicy(),
	}
}

// payloadFieldsPolicy rejects payloads that try to set server-owned fields.
func payloadFieldsPolicy() Policy {
	return Policy{
		Name:        "payload-fields",
		Description: "Rejects write payloads that set server-owned fields (id, url, display, timestamps)",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"payload", "safety"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package racksync.policies.payload

import rego.v1

# The remote API assigns these; a payload carrying them is malformed.
server_owned := ["id", "url", "display", "created", "last_updated"]

deny contains violation if {
	some field in server_owned
	field in object.keys(input.payload)
	violation := {
		"message": sprintf("payload for %s on %s must not set server-owned field %q", [input.operation, input.resource_type, field]),
		"severity": "error",
		"resource": input.resource_type,
	}
}`,
	}
}

// slugFormatPolicy validates slug fields before they reach the remote,
// which would reject them with a 400 anyway.
func slugFormatPolicy() Policy {
	return Policy{
		Name:        "slug-format",
		Description: "Slugs must contain only lowercase letters, numbers, hyphens, and underscores",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"payload", "conventions"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package racksync.policies.slugs

import rego.v1

deny contains violation if {
	input.operation in ["create", "update"]
	slug := input.payload.slug
	is_string(slug)
	not regex.match("^[-a-z0-9_]+$", slug)
	violation := {
		"message": sprintf("slug %q must contain only lowercase letters, numbers, hyphens, and underscores", [slug]),
		"severity": "error",
		"resource": input.resource_type,
	}
}

deny contains violation if {
	input.operation in ["create", "update"]
	slug := input.payload.slug
	is_string(slug)
	count(slug) == 0
	violation := {
		"message": sprintf("slug for %s must not be empty", [input.resource_type]),
		"severity": "error",
		"resource": input.resource_type,
	}
}`,
	}
}

// deleteSafetyPolicy flags deletes that cascade or bypass bulk tracking.
func deleteSafetyPolicy() Policy {
	return Policy{
		Name:        "delete-safety",
		Description: "Flags deletes of foundational resource types and deletes outside a bulk run",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"deletes", "safety"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package racksync.policies.deletes

import rego.v1

# Deleting these cascades to everything referencing them on the remote side.
foundational := ["dcim.site", "dcim.manufacturer", "dcim.device-type", "dcim.device-role"]

deny contains violation if {
	input.operation == "delete"
	input.resource_type in foundational
	not input.dry_run
	violation := {
		"message": sprintf("deleting %s %d cascades to dependent objects on the remote side", [input.resource_type, input.resource_id]),
		"severity": "warning",
		"resource": input.resource_type,
	}
}

deny contains violation if {
	input.operation == "delete"
	not input.batch_id
	not input.dry_run
	violation := {
		"message": sprintf("delete of %s %d runs outside a bulk run and will not appear in any batch summary", [input.resource_type, input.resource_id]),
		"severity": "warning",
		"resource": input.resource_type,
	}
}`,
	}
}
