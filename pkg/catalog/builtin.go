package catalog

// Built-in DCIM/IPAM catalog. Registration order of pass-1 types doubles as
// the documented creation order: manufacturer, site, device-role,
// device-type, then the site-scoped containers.

// TypeManufacturer and friends name the built-in resource types.
const (
	TypeManufacturer ResourceType = "dcim.manufacturer"
	TypeSite         ResourceType = "dcim.site"
	TypeDeviceRole   ResourceType = "dcim.device-role"
	TypeDeviceType   ResourceType = "dcim.device-type"
	TypeRack         ResourceType = "dcim.rack"
	TypeVLAN         ResourceType = "ipam.vlan"
	TypePrefix       ResourceType = "ipam.prefix"
	TypeDevice       ResourceType = "dcim.device"
	TypeInterface    ResourceType = "dcim.interface"
	TypePowerPort    ResourceType = "dcim.power-port"
	TypePowerOutlet  ResourceType = "dcim.power-outlet"
	TypePowerFeed    ResourceType = "dcim.power-feed"
	TypeIPAddress    ResourceType = "ipam.ip-address"
	TypeCable        ResourceType = "dcim.cable"
)

func init() {
	register(Descriptor{
		Type: TypeManufacturer,
		Fields: []Field{
			{Name: "name", Kind: FieldScalar},
			{Name: "slug", Kind: FieldScalar},
			{Name: "description", Kind: FieldScalar},
		},
		NaturalKey: "name",
		TTLClass:   TTLStatic,
		Pass:       PassIndependent,
		Path:       "dcim/manufacturers",
	})

	register(Descriptor{
		Type: TypeSite,
		Fields: []Field{
			{Name: "name", Kind: FieldScalar},
			{Name: "slug", Kind: FieldScalar},
			{Name: "status", Kind: FieldScalar},
			{Name: "description", Kind: FieldScalar},
			{Name: "physical_address", Kind: FieldScalar},
			{Name: "comments", Kind: FieldScalar},
		},
		NaturalKey: "name",
		TTLClass:   TTLStatic,
		Pass:       PassIndependent,
		Path:       "dcim/sites",
	})

	register(Descriptor{
		Type: TypeDeviceRole,
		Fields: []Field{
			{Name: "name", Kind: FieldScalar},
			{Name: "slug", Kind: FieldScalar},
			{Name: "color", Kind: FieldScalar},
			{Name: "vm_role", Kind: FieldScalar},
			{Name: "description", Kind: FieldScalar},
		},
		NaturalKey: "name",
		TTLClass:   TTLStatic,
		Pass:       PassIndependent,
		Path:       "dcim/device-roles",
	})

	register(Descriptor{
		Type: TypeDeviceType,
		Fields: []Field{
			{Name: "model", Kind: FieldScalar},
			{Name: "slug", Kind: FieldScalar},
			{Name: "manufacturer", Kind: FieldRelation, Ref: TypeManufacturer},
			{Name: "part_number", Kind: FieldScalar},
			{Name: "u_height", Kind: FieldScalar},
			{Name: "is_full_depth", Kind: FieldScalar},
			{Name: "description", Kind: FieldScalar},
		},
		NaturalKey:   "model",
		TTLClass:     TTLStatic,
		Pass:         PassIndependent,
		DependsOn:    []ResourceType{TypeManufacturer},
		RequiredRefs: []string{"manufacturer"},
		Path:         "dcim/device-types",
	})

	register(Descriptor{
		Type: TypeRack,
		Fields: []Field{
			{Name: "name", Kind: FieldScalar},
			{Name: "site", Kind: FieldRelation, Ref: TypeSite},
			{Name: "status", Kind: FieldScalar},
			{Name: "u_height", Kind: FieldScalar},
			{Name: "width", Kind: FieldScalar},
			{Name: "comments", Kind: FieldScalar},
		},
		NaturalKey:   "name",
		ScopeKey:     "site_id",
		TTLClass:     TTLStandard,
		Pass:         PassIndependent,
		DependsOn:    []ResourceType{TypeSite},
		RequiredRefs: []string{"site"},
		Path:         "dcim/racks",
	})

	register(Descriptor{
		Type: TypeVLAN,
		Fields: []Field{
			{Name: "name", Kind: FieldScalar},
			{Name: "vid", Kind: FieldScalar},
			{Name: "status", Kind: FieldScalar},
			{Name: "site", Kind: FieldRelation, Ref: TypeSite},
			{Name: "description", Kind: FieldScalar},
		},
		NaturalKey: "name",
		TTLClass:   TTLStandard,
		Pass:       PassIndependent,
		DependsOn:  []ResourceType{TypeSite},
		Path:       "ipam/vlans",
	})

	register(Descriptor{
		Type: TypePrefix,
		Fields: []Field{
			{Name: "prefix", Kind: FieldScalar},
			{Name: "status", Kind: FieldScalar},
			{Name: "site", Kind: FieldRelation, Ref: TypeSite},
			{Name: "is_pool", Kind: FieldScalar},
			{Name: "description", Kind: FieldScalar},
		},
		NaturalKey: "prefix",
		TTLClass:   TTLStandard,
		Pass:       PassIndependent,
		DependsOn:  []ResourceType{TypeSite},
		Path:       "ipam/prefixes",
	})

	register(Descriptor{
		Type: TypeDevice,
		Fields: []Field{
			{Name: "name", Kind: FieldScalar},
			{Name: "device_type", Kind: FieldRelation, Ref: TypeDeviceType},
			{Name: "role", Kind: FieldRelation, Ref: TypeDeviceRole},
			{Name: "site", Kind: FieldRelation, Ref: TypeSite},
			{Name: "rack", Kind: FieldRelation, Ref: TypeRack},
			{Name: "position", Kind: FieldScalar},
			{Name: "face", Kind: FieldScalar},
			{Name: "status", Kind: FieldScalar},
			{Name: "serial", Kind: FieldScalar},
			{Name: "asset_tag", Kind: FieldScalar},
			{Name: "comments", Kind: FieldScalar},
		},
		NaturalKey:   "name",
		TTLClass:     TTLStandard,
		Pass:         PassRelational,
		DependsOn:    []ResourceType{TypeDeviceType, TypeDeviceRole, TypeSite, TypeRack},
		RequiredRefs: []string{"device_type", "role", "site"},
		Path:         "dcim/devices",
	})

	register(Descriptor{
		Type: TypeInterface,
		Fields: []Field{
			{Name: "name", Kind: FieldScalar},
			{Name: "device", Kind: FieldRelation, Ref: TypeDevice},
			{Name: "type", Kind: FieldScalar},
			{Name: "enabled", Kind: FieldScalar},
			{Name: "mtu", Kind: FieldScalar},
			{Name: "mac_address", Kind: FieldScalar},
			{Name: "mgmt_only", Kind: FieldScalar},
			{Name: "description", Kind: FieldScalar},
		},
		NaturalKey:   "name",
		ScopeKey:     "device_id",
		TTLClass:     TTLVolatile,
		Pass:         PassRelational,
		DependsOn:    []ResourceType{TypeDevice},
		RequiredRefs: []string{"device"},
		Path:         "dcim/interfaces",
	})

	register(Descriptor{
		Type: TypePowerPort,
		Fields: []Field{
			{Name: "name", Kind: FieldScalar},
			{Name: "device", Kind: FieldRelation, Ref: TypeDevice},
			{Name: "type", Kind: FieldScalar},
			{Name: "maximum_draw", Kind: FieldScalar},
			{Name: "allocated_draw", Kind: FieldScalar},
			{Name: "description", Kind: FieldScalar},
		},
		NaturalKey:   "name",
		ScopeKey:     "device_id",
		TTLClass:     TTLStandard,
		Pass:         PassRelational,
		DependsOn:    []ResourceType{TypeDevice},
		RequiredRefs: []string{"device"},
		Path:         "dcim/power-ports",
	})

	register(Descriptor{
		Type: TypePowerOutlet,
		Fields: []Field{
			{Name: "name", Kind: FieldScalar},
			{Name: "device", Kind: FieldRelation, Ref: TypeDevice},
			{Name: "type", Kind: FieldScalar},
			{Name: "power_port", Kind: FieldRelation, Ref: TypePowerPort},
			{Name: "feed_leg", Kind: FieldScalar},
			{Name: "description", Kind: FieldScalar},
		},
		NaturalKey:   "name",
		ScopeKey:     "device_id",
		TTLClass:     TTLStandard,
		Pass:         PassRelational,
		DependsOn:    []ResourceType{TypeDevice, TypePowerPort},
		RequiredRefs: []string{"device"},
		Path:         "dcim/power-outlets",
	})

	register(Descriptor{
		Type: TypePowerFeed,
		Fields: []Field{
			{Name: "name", Kind: FieldScalar},
			{Name: "rack", Kind: FieldRelation, Ref: TypeRack},
			{Name: "status", Kind: FieldScalar},
			{Name: "type", Kind: FieldScalar},
			{Name: "supply", Kind: FieldScalar},
			{Name: "phase", Kind: FieldScalar},
			{Name: "voltage", Kind: FieldScalar},
			{Name: "amperage", Kind: FieldScalar},
			{Name: "description", Kind: FieldScalar},
		},
		NaturalKey: "name",
		TTLClass:   TTLStandard,
		Pass:       PassRelational,
		DependsOn:  []ResourceType{TypeRack},
		Path:       "dcim/power-feeds",
	})

	// The assignment and cable termination ids are generic foreign keys on
	// the remote API. The catalog models them against interfaces, the only
	// termination type it manages; callers wiring other kinds supply
	// literal identifiers in fields instead of refs.
	register(Descriptor{
		Type: TypeIPAddress,
		Fields: []Field{
			{Name: "address", Kind: FieldScalar},
			{Name: "status", Kind: FieldScalar},
			{Name: "role", Kind: FieldScalar},
			{Name: "dns_name", Kind: FieldScalar},
			{Name: "assigned_object_type", Kind: FieldScalar},
			{Name: "assigned_object_id", Kind: FieldRelation, Ref: TypeInterface},
			{Name: "description", Kind: FieldScalar},
		},
		NaturalKey: "address",
		TTLClass:   TTLVolatile,
		Pass:       PassRelational,
		DependsOn:  []ResourceType{TypeInterface},
		Path:       "ipam/ip-addresses",
	})

	register(Descriptor{
		Type: TypeCable,
		Fields: []Field{
			{Name: "label", Kind: FieldScalar},
			{Name: "type", Kind: FieldScalar},
			{Name: "status", Kind: FieldScalar},
			{Name: "color", Kind: FieldScalar},
			{Name: "length", Kind: FieldScalar},
			{Name: "length_unit", Kind: FieldScalar},
			{Name: "a_termination_type", Kind: FieldScalar},
			{Name: "a_termination_id", Kind: FieldRelation, Ref: TypeInterface},
			{Name: "b_termination_type", Kind: FieldScalar},
			{Name: "b_termination_id", Kind: FieldRelation, Ref: TypeInterface},
		},
		NaturalKey: "label",
		TTLClass:   TTLStandard,
		Pass:       PassRelational,
		DependsOn:  []ResourceType{TypeInterface},
		Path:       "dcim/cables",
	})
}
