package catalog

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupportedType is returned when a resource type is not present in the
// catalog. Callers can test for it with errors.Is.
var ErrUnsupportedType = errors.New("unsupported resource type")

// ResourceType identifies a remote collection as "namespace.collection",
// for example "dcim.site". It is the cache partition key and the key into
// the managed-field catalog.
type ResourceType string

// Namespace returns the part before the first dot, for example "dcim".
func (rt ResourceType) Namespace() string {
	if i := strings.IndexByte(string(rt), '.'); i >= 0 {
		return string(rt)[:i]
	}
	return ""
}

// Collection returns the part after the first dot, for example "site".
func (rt ResourceType) Collection() string {
	if i := strings.IndexByte(string(rt), '.'); i >= 0 {
		return string(rt)[i+1:]
	}
	return string(rt)
}

// Validate checks that the resource type has the namespace.collection shape.
func (rt ResourceType) Validate() error {
	s := string(rt)
	i := strings.IndexByte(s, '.')
	if i <= 0 || i == len(s)-1 {
		return fmt.Errorf("resource type must be namespace.collection, got %q", s)
	}
	if strings.Count(s, ".") != 1 {
		return fmt.Errorf("resource type must contain exactly one dot, got %q", s)
	}
	return nil
}

// String returns the string form of the resource type.
func (rt ResourceType) String() string {
	return string(rt)
}

// ParseResourceType validates a raw string and returns it as a ResourceType.
// The type does not have to be registered in the catalog; use Lookup for that.
func ParseResourceType(s string) (ResourceType, error) {
	rt := ResourceType(strings.TrimSpace(s))
	if err := rt.Validate(); err != nil {
		return "", err
	}
	return rt, nil
}

// FieldKind classifies how a managed field is compared.
type FieldKind string

const (
	// FieldScalar is compared by value equality.
	FieldScalar FieldKind = "scalar"

	// FieldRelation references another resource and is compared by the
	// resolved identifier, never by nested object equality.
	FieldRelation FieldKind = "relation"
)

// Validate checks if the field kind is valid.
func (k FieldKind) Validate() error {
	switch k {
	case FieldScalar, FieldRelation:
		return nil
	default:
		return fmt.Errorf("invalid field kind: %s", k)
	}
}

// Field describes one managed field of a resource type.
type Field struct {
	// Name is the wire name of the field.
	Name string

	// Kind controls how the field is compared during diffing.
	Kind FieldKind

	// Ref names the resource type a relation field points at. Empty for
	// scalar fields.
	Ref ResourceType
}

// TTLClass selects which configured cache TTL applies to a resource type.
type TTLClass string

const (
	// TTLStatic is for types that almost never change (manufacturers, roles).
	TTLStatic TTLClass = "static"

	// TTLStandard is the default class.
	TTLStandard TTLClass = "standard"

	// TTLVolatile is for types that change often (interfaces, addresses).
	TTLVolatile TTLClass = "volatile"
)

// Validate checks if the TTL class is valid.
func (c TTLClass) Validate() error {
	switch c {
	case TTLStatic, TTLStandard, TTLVolatile:
		return nil
	default:
		return fmt.Errorf("invalid ttl class: %s", c)
	}
}

// Pass numbers the orchestrator phase a resource type is created in.
// Pass 1 holds independent types, pass 2 holds relationship types that
// reference pass-1 identifiers.
type Pass int

const (
	// PassIndependent creates resources that need no other resource to exist.
	PassIndependent Pass = 1

	// PassRelational creates resources that reference pass-1 identifiers.
	PassRelational Pass = 2
)

// Descriptor is the capability record for one resource type: which fields
// the engine may manage, how the type is looked up, cached, ordered, and
// where it lives on the remote API.
type Descriptor struct {
	// Type is the catalog key.
	Type ResourceType

	// Fields is the ordered managed-field set. Fields outside this set are
	// never read for comparison and never written.
	Fields []Field

	// NaturalKey is the field used for name-based lookup (usually "name").
	NaturalKey string

	// ScopeKey optionally names a filter parameter that scopes the natural
	// key to a parent, for example "device_id" for interfaces. Empty means
	// the natural key is globally unique for the type.
	ScopeKey string

	// TTLClass selects the cache TTL bucket for reads of this type.
	TTLClass TTLClass

	// Pass is the orchestrator phase the type is created in.
	Pass Pass

	// DependsOn lists types that must be processed before this one in a
	// bulk run. The edges must form a DAG.
	DependsOn []ResourceType

	// RequiredRefs names relation fields whose identifiers must be present
	// before a create is attempted.
	RequiredRefs []string

	// Path is the remote endpoint suffix, for example "dcim/sites".
	Path string

	order int
}

// ManagedFields returns the ordered field names of the descriptor.
func (d *Descriptor) ManagedFields() []string {
	names := make([]string, len(d.Fields))
	for i, f := range d.Fields {
		names[i] = f.Name
	}
	return names
}

// FieldByName returns the managed field with the given name, if present.
func (d *Descriptor) FieldByName(name string) (Field, bool) {
	for _, f := range d.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// IsRelation reports whether the named managed field is a relation.
func (d *Descriptor) IsRelation(name string) bool {
	f, ok := d.FieldByName(name)
	return ok && f.Kind == FieldRelation
}

// Validate checks descriptor invariants.
func (d *Descriptor) Validate() error {
	if err := d.Type.Validate(); err != nil {
		return err
	}
	if len(d.Fields) == 0 {
		return fmt.Errorf("descriptor %s has no managed fields", d.Type)
	}
	if d.NaturalKey == "" {
		return fmt.Errorf("descriptor %s has no natural key", d.Type)
	}
	if _, ok := d.FieldByName(d.NaturalKey); !ok {
		return fmt.Errorf("descriptor %s natural key %q is not a managed field", d.Type, d.NaturalKey)
	}
	if err := d.TTLClass.Validate(); err != nil {
		return fmt.Errorf("descriptor %s: %w", d.Type, err)
	}
	if d.Pass != PassIndependent && d.Pass != PassRelational {
		return fmt.Errorf("descriptor %s has invalid pass %d", d.Type, d.Pass)
	}
	if d.Path == "" {
		return fmt.Errorf("descriptor %s has no endpoint path", d.Type)
	}
	for _, name := range d.RequiredRefs {
		f, ok := d.FieldByName(name)
		if !ok {
			return fmt.Errorf("descriptor %s required ref %q is not a managed field", d.Type, name)
		}
		if f.Kind != FieldRelation {
			return fmt.Errorf("descriptor %s required ref %q is not a relation field", d.Type, name)
		}
	}
	seen := make(map[string]bool, len(d.Fields))
	for _, f := range d.Fields {
		if seen[f.Name] {
			return fmt.Errorf("descriptor %s has duplicate field %q", d.Type, f.Name)
		}
		seen[f.Name] = true
		if err := f.Kind.Validate(); err != nil {
			return fmt.Errorf("descriptor %s field %q: %w", d.Type, f.Name, err)
		}
	}
	return nil
}

var registry = make(map[ResourceType]*Descriptor)

// register adds a descriptor to the package registry. It panics on invalid
// descriptors so catalog mistakes fail at init, not at first use.
func register(d Descriptor) {
	if err := d.Validate(); err != nil {
		panic(fmt.Sprintf("catalog: %v", err))
	}
	if _, dup := registry[d.Type]; dup {
		panic(fmt.Sprintf("catalog: duplicate descriptor for %s", d.Type))
	}
	d.order = len(registry)
	registry[d.Type] = &d
}

// Lookup resolves a resource type to its descriptor. Unknown types return an
// error wrapping ErrUnsupportedType.
func Lookup(rt ResourceType) (*Descriptor, error) {
	d, ok := registry[rt]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, rt)
	}
	return d, nil
}

// MustLookup resolves a resource type or panics. For use in tests and in
// code paths where the type was already validated.
func MustLookup(rt ResourceType) *Descriptor {
	d, err := Lookup(rt)
	if err != nil {
		panic(err)
	}
	return d
}

// Types returns every registered resource type in registration order, which
// is also a valid dependency order for pass-1 types.
func Types() []ResourceType {
	out := make([]ResourceType, 0, len(registry))
	for _, d := range registry {
		out = append(out, d.Type)
	}
	sortByOrder(out)
	return out
}

// ManagedFields returns the managed-field names for a resource type.
func ManagedFields(rt ResourceType) ([]string, error) {
	d, err := Lookup(rt)
	if err != nil {
		return nil, err
	}
	return d.ManagedFields(), nil
}

func sortByOrder(types []ResourceType) {
	for i := 1; i < len(types); i++ {
		for j := i; j > 0 && registry[types[j]].order < registry[types[j-1]].order; j-- {
			types[j], types[j-1] = types[j-1], types[j]
		}
	}
}
