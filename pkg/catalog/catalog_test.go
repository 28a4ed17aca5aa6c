package catalog

import (
	"errors"
	"testing"
)

func TestParseResourceType(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    ResourceType
		wantErr bool
	}{
		{name: "valid dcim type", input: "dcim.site", want: TypeSite},
		{name: "valid ipam type", input: "ipam.vlan", want: TypeVLAN},
		{name: "trims whitespace", input: "  dcim.device  ", want: TypeDevice},
		{name: "missing namespace", input: ".site", wantErr: true},
		{name: "missing collection", input: "dcim.", wantErr: true},
		{name: "no dot", input: "site", wantErr: true},
		{name: "two dots", input: "dcim.site.extra", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseResourceType(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for input %q, got none", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error for input %q: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestResourceTypeParts(t *testing.T) {
	if ns := TypeSite.Namespace(); ns != "dcim" {
		t.Errorf("expected namespace dcim, got %s", ns)
	}
	if c := TypeSite.Collection(); c != "site" {
		t.Errorf("expected collection site, got %s", c)
	}
	if ns := TypeIPAddress.Namespace(); ns != "ipam" {
		t.Errorf("expected namespace ipam, got %s", ns)
	}
}

func TestLookupUnknownType(t *testing.T) {
	_, err := Lookup(ResourceType("dcim.widget"))
	if err == nil {
		t.Fatal("expected error for unregistered type")
	}
	if !errors.Is(err, ErrUnsupportedType) {
		t.Errorf("expected ErrUnsupportedType, got %v", err)
	}
}

func TestLookupKnownType(t *testing.T) {
	d, err := Lookup(TypeSite)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Type != TypeSite {
		t.Errorf("expected type %s, got %s", TypeSite, d.Type)
	}
	if d.NaturalKey != "name" {
		t.Errorf("expected natural key name, got %s", d.NaturalKey)
	}
	if d.Path != "dcim/sites" {
		t.Errorf("expected path dcim/sites, got %s", d.Path)
	}
}

func TestBuiltinDescriptorsValid(t *testing.T) {
	types := Types()
	if len(types) == 0 {
		t.Fatal("expected built-in types to be registered")
	}

	for _, rt := range types {
		d, err := Lookup(rt)
		if err != nil {
			t.Fatalf("lookup of registered type %s failed: %v", rt, err)
		}
		if err := d.Validate(); err != nil {
			t.Errorf("descriptor %s invalid: %v", rt, err)
		}
		for _, dep := range d.DependsOn {
			depDesc, err := Lookup(dep)
			if err != nil {
				t.Errorf("descriptor %s depends on unregistered type %s", rt, dep)
				continue
			}
			if d.Pass == PassIndependent && depDesc.Pass != PassIndependent {
				t.Errorf("pass-1 type %s depends on pass-2 type %s", rt, dep)
			}
		}
	}
}

func TestDependencyOrderWithinRegistration(t *testing.T) {
	types := Types()
	pos := make(map[ResourceType]int, len(types))
	for i, rt := range types {
		pos[rt] = i
	}

	for _, rt := range types {
		d := MustLookup(rt)
		for _, dep := range d.DependsOn {
			if pos[dep] >= pos[rt] {
				t.Errorf("type %s registered before its dependency %s", rt, dep)
			}
		}
	}
}

func TestManagedFields(t *testing.T) {
	fields, err := ManagedFields(TypeManufacturer)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"name", "slug", "description"}
	if len(fields) != len(want) {
		t.Fatalf("expected %d fields, got %d", len(want), len(fields))
	}
	for i, f := range want {
		if fields[i] != f {
			t.Errorf("field %d: expected %s, got %s", i, f, fields[i])
		}
	}
}

func TestRelationFields(t *testing.T) {
	d := MustLookup(TypeDevice)
	if !d.IsRelation("site") {
		t.Error("expected device.site to be a relation field")
	}
	if d.IsRelation("serial") {
		t.Error("expected device.serial to be a scalar field")
	}
	f, ok := d.FieldByName("device_type")
	if !ok {
		t.Fatal("expected device_type field on device")
	}
	if f.Ref != TypeDeviceType {
		t.Errorf("expected device_type ref %s, got %s", TypeDeviceType, f.Ref)
	}
}

func TestRequiredRefsAreRelations(t *testing.T) {
	for _, rt := range Types() {
		d := MustLookup(rt)
		for _, ref := range d.RequiredRefs {
			if !d.IsRelation(ref) {
				t.Errorf("type %s required ref %s is not a relation", rt, ref)
			}
		}
	}
}
