package engine

import (
	"reflect"
	"testing"

	"github.com/racksync/racksync/pkg/catalog"
)

func TestFieldDiff_DetectsScalarChange(t *testing.T) {
	existing := Object{"id": int64(1), "name": "FRA1", "status": "active", "description": "Frankfurt"}
	desired := DesiredState{"name": "FRA1", "status": "planned", "description": "Frankfurt"}

	cs, err := FieldDiff(existing, desired, catalog.TypeSite)
	if err != nil {
		t.Fatalf("FieldDiff failed: %v", err)
	}

	if !cs.NeedsUpdate {
		t.Error("Expected NeedsUpdate for changed status")
	}
	if !reflect.DeepEqual(cs.UpdatedFields, []string{"status"}) {
		t.Errorf("Expected updated fields [status], got %v", cs.UpdatedFields)
	}
	if !reflect.DeepEqual(cs.UnchangedFields, []string{"description", "name"}) {
		t.Errorf("Expected unchanged fields sorted, got %v", cs.UnchangedFields)
	}
}

func TestFieldDiff_AbsentDesiredFieldIsNoOpinion(t *testing.T) {
	existing := Object{"id": int64(1), "name": "FRA1", "status": "active", "comments": "do not touch"}
	desired := DesiredState{"name": "FRA1"}

	cs, err := FieldDiff(existing, desired, catalog.TypeSite)
	if err != nil {
		t.Fatalf("FieldDiff failed: %v", err)
	}

	if cs.NeedsUpdate {
		t.Errorf("Expected no update when desired omits differing fields, got %v", cs.UpdatedFields)
	}
}

func TestFieldDiff_NilDesiredValueIsNoOpinion(t *testing.T) {
	existing := Object{"id": int64(1), "name": "FRA1", "description": "Frankfurt"}
	desired := DesiredState{"name": "FRA1", "description": nil}

	cs, err := FieldDiff(existing, desired, catalog.TypeSite)
	if err != nil {
		t.Fatalf("FieldDiff failed: %v", err)
	}

	if cs.NeedsUpdate {
		t.Error("Expected nil desired value to be skipped, not treated as clearing")
	}
	for _, f := range cs.UnchangedFields {
		if f == "description" {
			t.Error("Expected description to be excluded from comparison entirely")
		}
	}
}

func TestFieldDiff_RelationComparedByID(t *testing.T) {
	existing := Object{
		"id":   int64(10),
		"name": "fra-sw-01",
		"site": map[string]interface{}{"id": float64(3), "name": "FRA1", "url": "https://inv/api/dcim/sites/3/"},
	}

	same := DesiredState{"name": "fra-sw-01", "site": 3}
	cs, err := FieldDiff(existing, same, catalog.TypeDevice)
	if err != nil {
		t.Fatalf("FieldDiff failed: %v", err)
	}
	if cs.NeedsUpdate {
		t.Errorf("Expected nested relation to match bare id, got updates %v", cs.UpdatedFields)
	}

	moved := DesiredState{"name": "fra-sw-01", "site": 4}
	cs, err = FieldDiff(existing, moved, catalog.TypeDevice)
	if err != nil {
		t.Fatalf("FieldDiff failed: %v", err)
	}
	if !cs.NeedsUpdate || !reflect.DeepEqual(cs.UpdatedFields, []string{"site"}) {
		t.Errorf("Expected site to differ by id, got %v", cs.UpdatedFields)
	}
}

func TestFieldDiff_NumericShapesCompareEqual(t *testing.T) {
	existing := Object{"id": int64(2), "name": "rack-1", "u_height": float64(42)}
	desired := DesiredState{"name": "rack-1", "u_height": 42}

	cs, err := FieldDiff(existing, desired, catalog.TypeRack)
	if err != nil {
		t.Fatalf("FieldDiff failed: %v", err)
	}
	if cs.NeedsUpdate {
		t.Errorf("Expected 42 and 42.0 to compare equal, got updates %v", cs.UpdatedFields)
	}
}

func TestFieldDiff_IgnoresUnmanagedDesiredKeys(t *testing.T) {
	existing := Object{"id": int64(1), "name": "FRA1"}
	desired := DesiredState{"name": "FRA1", "bogus": "value"}

	cs, err := FieldDiff(existing, desired, catalog.TypeSite)
	if err != nil {
		t.Fatalf("FieldDiff failed: %v", err)
	}
	if cs.NeedsUpdate {
		t.Errorf("Expected unmanaged keys to be ignored, got %v", cs.UpdatedFields)
	}
}

func TestFieldDiff_MissingServerFieldCountsAsChange(t *testing.T) {
	existing := Object{"id": int64(1), "name": "FRA1"}
	desired := DesiredState{"name": "FRA1", "description": "Frankfurt"}

	cs, err := FieldDiff(existing, desired, catalog.TypeSite)
	if err != nil {
		t.Fatalf("FieldDiff failed: %v", err)
	}
	if !cs.NeedsUpdate || !reflect.DeepEqual(cs.UpdatedFields, []string{"description"}) {
		t.Errorf("Expected description to need setting, got %v", cs.UpdatedFields)
	}
}

func TestFieldDiff_UnsupportedType(t *testing.T) {
	_, err := FieldDiff(Object{}, DesiredState{"name": "x"}, catalog.ResourceType("nope"))
	if err == nil {
		t.Fatal("Expected error for unsupported type, got nil")
	}
	if !IsValidation(err) {
		t.Errorf("Expected validation error, got %v", err)
	}
}
