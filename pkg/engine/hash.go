package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/racksync/racksync/pkg/catalog"
)

// ComputeHash digests the managed projection of a desired state: only
// managed fields, nil and absent values dropped, relation values normalized
// to bare identifiers, keys serialized in sorted order. Equal projected
// content yields an equal digest regardless of input key order or extra
// non-managed keys. The digest is informational, not a security boundary.
func ComputeHash(desired DesiredState, rt catalog.ResourceType) (string, error) {
	desc, err := catalog.Lookup(rt)
	if err != nil {
		return "", NewValidationError("cannot hash desired state", err).
			WithCode(ErrCodeUnsupportedType).
			WithResourceType(string(rt))
	}
	projected := projectManaged(desired, desc)

	// Map marshaling sorts keys recursively, which makes the serialization
	// canonical without a hand-rolled writer.
	data, err := json.Marshal(projected)
	if err != nil {
		return "", NewInternalError("failed to serialize managed projection", err).
			WithResourceType(string(rt))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// QuickMatch reports whether the object carries a stored managed hash equal
// to the hash of the desired state. This is a fast path only: false does
// not prove a difference exists, it only means one might.
func QuickMatch(existing Object, desired DesiredState, rt catalog.ResourceType) bool {
	stored := existing.ManagedHash()
	if stored == "" {
		return false
	}
	h, err := ComputeHash(desired, rt)
	if err != nil {
		return false
	}
	return stored == h
}

// projectManaged restricts a desired state to the managed-field set,
// dropping nil values and normalizing relation values to identifiers.
func projectManaged(desired DesiredState, desc *catalog.Descriptor) map[string]interface{} {
	out := make(map[string]interface{}, len(desc.Fields))
	for _, f := range desc.Fields {
		v, ok := desired[f.Name]
		if !ok || v == nil {
			continue
		}
		if f.Kind == catalog.FieldRelation {
			if id, ok := relationID(v); ok {
				out[f.Name] = id
				continue
			}
		}
		out[f.Name] = normalizeValue(v)
	}
	return out
}

// normalizeValue collapses numeric representations so that 5, 5.0, and a
// JSON-decoded float64 5 hash identically. Non-integral floats and all
// other values pass through.
func normalizeValue(v interface{}) interface{} {
	switch n := v.(type) {
	case float64:
		if n == float64(int64(n)) {
			return int64(n)
		}
	case float32:
		if float64(n) == float64(int64(n)) {
			return int64(n)
		}
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case map[string]interface{}:
		m := make(map[string]interface{}, len(n))
		for k, mv := range n {
			m[k] = normalizeValue(mv)
		}
		return m
	case []interface{}:
		s := make([]interface{}, len(n))
		for i, sv := range n {
			s[i] = normalizeValue(sv)
		}
		return s
	}
	return v
}

// shortHash renders a digest prefix for log lines.
func shortHash(h string) string {
	if len(h) <= 12 {
		return h
	}
	return fmt.Sprintf("%s..", h[:12])
}
