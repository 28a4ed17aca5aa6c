package engine

import (
	"reflect"
	"strings"
	"testing"

	"github.com/racksync/racksync/pkg/catalog"
)

func TestOrderTypes_DependenciesBeforeDependents(t *testing.T) {
	ordering, err := OrderTypes([]catalog.ResourceType{
		catalog.TypeDevice,
		catalog.TypeDeviceType,
		catalog.TypeSite,
		catalog.TypeManufacturer,
		catalog.TypeDeviceRole,
	})
	if err != nil {
		t.Fatalf("OrderTypes failed: %v", err)
	}

	wantPass1 := []catalog.ResourceType{
		catalog.TypeManufacturer,
		catalog.TypeSite,
		catalog.TypeDeviceRole,
		catalog.TypeDeviceType,
	}
	if !reflect.DeepEqual(ordering.Pass1, wantPass1) {
		t.Errorf("Expected pass 1 %v, got %v", wantPass1, ordering.Pass1)
	}
	if !reflect.DeepEqual(ordering.Pass2, []catalog.ResourceType{catalog.TypeDevice}) {
		t.Errorf("Expected pass 2 [device], got %v", ordering.Pass2)
	}
}

func TestOrderTypes_Deterministic(t *testing.T) {
	input := []catalog.ResourceType{
		catalog.TypeVLAN,
		catalog.TypePrefix,
		catalog.TypeManufacturer,
		catalog.TypeSite,
	}

	first, err := OrderTypes(input)
	if err != nil {
		t.Fatalf("OrderTypes failed: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := OrderTypes(input)
		if err != nil {
			t.Fatalf("OrderTypes failed: %v", err)
		}
		if !reflect.DeepEqual(first.All(), again.All()) {
			t.Fatalf("Expected stable ordering, got %v then %v", first.All(), again.All())
		}
	}

	// Ties resolve by registration order: manufacturer before site, site
	// before the site-scoped containers.
	all := first.All()
	if all[0] != catalog.TypeManufacturer || all[1] != catalog.TypeSite {
		t.Errorf("Expected registration-order tie break, got %v", all)
	}
}

func TestOrderTypes_ExternalEdgesIgnored(t *testing.T) {
	// A device batch without its parents orders fine: the dependencies are
	// expected to exist server-side already.
	ordering, err := OrderTypes([]catalog.ResourceType{catalog.TypeDevice})
	if err != nil {
		t.Fatalf("OrderTypes failed: %v", err)
	}
	if len(ordering.Pass1) != 0 {
		t.Errorf("Expected empty pass 1, got %v", ordering.Pass1)
	}
	if !reflect.DeepEqual(ordering.Pass2, []catalog.ResourceType{catalog.TypeDevice}) {
		t.Errorf("Expected pass 2 [device], got %v", ordering.Pass2)
	}
}

func TestOrderTypes_DuplicatesCollapse(t *testing.T) {
	ordering, err := OrderTypes([]catalog.ResourceType{
		catalog.TypeSite,
		catalog.TypeSite,
		catalog.TypeSite,
	})
	if err != nil {
		t.Fatalf("OrderTypes failed: %v", err)
	}
	if len(ordering.Pass1) != 1 {
		t.Errorf("Expected duplicates to collapse, got %v", ordering.Pass1)
	}
}

func TestOrderTypes_UnknownType(t *testing.T) {
	_, err := OrderTypes([]catalog.ResourceType{catalog.ResourceType("dcim.bogus")})
	if err == nil {
		t.Fatal("Expected error for unknown type, got nil")
	}
	if !IsValidation(err) {
		t.Errorf("Expected validation classification, got %v", err)
	}
}

func TestOrderTypes_FullCatalog(t *testing.T) {
	ordering, err := OrderTypes(catalog.Types())
	if err != nil {
		t.Fatalf("OrderTypes failed: %v", err)
	}

	position := make(map[catalog.ResourceType]int)
	for i, rt := range ordering.All() {
		position[rt] = i
	}
	for _, rt := range catalog.Types() {
		desc, lookupErr := catalog.Lookup(rt)
		if lookupErr != nil {
			t.Fatalf("Lookup failed: %v", lookupErr)
		}
		for _, dep := range desc.DependsOn {
			if position[dep] >= position[rt] {
				t.Errorf("Expected %s before %s, got positions %d and %d",
					dep, rt, position[dep], position[rt])
			}
		}
	}
}

func TestTypeOrdering_DOT(t *testing.T) {
	ordering, err := OrderTypes([]catalog.ResourceType{
		catalog.TypeManufacturer,
		catalog.TypeDeviceType,
	})
	if err != nil {
		t.Fatalf("OrderTypes failed: %v", err)
	}

	dot := ordering.DOT()
	if !strings.HasPrefix(dot, "digraph") {
		t.Errorf("Expected a digraph, got %q", dot)
	}
	if !strings.Contains(dot, `"dcim.manufacturer" -> "dcim.device-type"`) {
		t.Errorf("Expected the dependency edge in the output, got:\n%s", dot)
	}
}
