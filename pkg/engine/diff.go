package engine

import (
	"reflect"
	"sort"

	"github.com/racksync/racksync/pkg/catalog"
)

// FieldDiff compares an existing object against a desired state, field by
// field over the managed set. A desired value of nil or an absent key means
// "no opinion" and the field is not compared at all. Relation fields are
// compared by resolved identifier, never by nested object equality.
//
// FieldDiff is authoritative: the ensure engine runs it whenever QuickMatch
// fails, and a hash mismatch may still legitimately resolve to "no changes
// needed" when the stored hash was stale or missing.
func FieldDiff(existing Object, desired DesiredState, rt catalog.ResourceType) (ChangeSet, error) {
	desc, err := catalog.Lookup(rt)
	if err != nil {
		return ChangeSet{}, NewValidationError("cannot diff desired state", err).
			WithCode(ErrCodeUnsupportedType).
			WithResourceType(string(rt))
	}

	var cs ChangeSet
	for _, f := range desc.Fields {
		want, ok := desired[f.Name]
		if !ok || want == nil {
			continue
		}
		have := existing[f.Name]

		if fieldEqual(f, have, want) {
			cs.UnchangedFields = append(cs.UnchangedFields, f.Name)
		} else {
			cs.UpdatedFields = append(cs.UpdatedFields, f.Name)
		}
	}
	sort.Strings(cs.UpdatedFields)
	sort.Strings(cs.UnchangedFields)
	cs.NeedsUpdate = len(cs.UpdatedFields) > 0
	return cs, nil
}

// fieldEqual compares one managed field value pair according to its kind.
func fieldEqual(f catalog.Field, have, want interface{}) bool {
	if f.Kind == catalog.FieldRelation {
		haveID, haveOK := relationID(have)
		wantID, wantOK := relationID(want)
		if haveOK && wantOK {
			return haveID == wantID
		}
		// Fall through when either side has no identifier shape, for
		// example a null relation on the server.
	}
	return reflect.DeepEqual(normalizeValue(have), normalizeValue(want))
}
