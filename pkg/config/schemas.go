package config

import (
	"context"
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// SchemaRegistry manages CUE schemas for manifest validation.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a new schema registry with built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	ctx := cuecontext.New()
	sr := &SchemaRegistry{
		ctx:     ctx,
		schemas: make(map[string]cue.Value),
	}

	sr.registerBuiltInSchemas()

	return sr
}

// registerBuiltInSchemas registers all built-in schemas. The schemas are
// plain open structs rather than definitions, so unifying one with encoded
// data applies every constraint directly to the data fields.
func (sr *SchemaRegistry) registerBuiltInSchemas() {
	sr.RegisterSchema("manifest", builtinManifestSchema)
	sr.RegisterSchema("batch", builtinBatchSchema)
	sr.RegisterSchema("record", builtinRecordSchema)
	sr.RegisterSchema("interface", builtinInterfaceSchema)
	sr.RegisterSchema("address", builtinAddressSchema)
	sr.RegisterSchema("termination", builtinTerminationSchema)
}

// RegisterSchema registers a CUE schema with the given name.
func (sr *SchemaRegistry) RegisterSchema(name, schema string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(schema)
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	sr.schemas[name] = val
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// ValidateAgainstSchema validates data against a named schema.
func (sr *SchemaRegistry) ValidateAgainstSchema(ctx context.Context, schemaName string, data interface{}) error {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return fmt.Errorf("schema %s not found", schemaName)
	}

	// Convert data to CUE value
	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	// Unify with schema (validates)
	unified := schema.Unify(dataVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	return nil
}

// ListSchemas returns all registered schema names.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	return names
}

// Built-in schema definitions

const builtinManifestSchema = `
// Top-level manifest document
batch?: {
	name?:       string
	mode?:       "continue_on_error" | "abort_and_rollback"
	chunk_size?: int & >=0
	strict?:     bool
}

// Records are declared as a list or as a struct keyed by resource name
records: [...{...}] | {[string]: {...}}
`

const builtinBatchSchema = `
// Run-level settings declared by a manifest
name?:       string
mode?:       "continue_on_error" | "abort_and_rollback"
chunk_size?: int & >=0
strict?:     bool
`

const builtinRecordSchema = `
// One declared resource
type: string & =~"^[a-z0-9]+\\.[a-z0-9-]+$"

// Natural key; may be omitted on cables, where one is derived
name?: string & !=""

// Managed field values
fields?: {[string]: _}

// Related resources by natural key
refs?: {[string]: string & !=""}

// Lookup scope for keys that are only unique within a parent
scope?: {[string]: string & !=""}

// Interfaces nested under a device record
interfaces?: [...{
	name:    string & !=""
	fields?: {[string]: _}
	addresses?: [...{
		address: string & !=""
		fields?: {[string]: _}
	}]
}]

// Cable terminations
a?: {
	device:    string & !=""
	interface: string & !=""
}
b?: {
	device:    string & !=""
	interface: string & !=""
}
`

const builtinInterfaceSchema = `
// Interface nested under a device record
name:    string & !=""
fields?: {[string]: _}
addresses?: [...{
	address: string & !=""
	fields?: {[string]: _}
}]
`

const builtinAddressSchema = `
// IP address assigned to an interface
address: string & !=""
fields?: {[string]: _}
`

const builtinTerminationSchema = `
// One end of a cable
device:    string & !=""
interface: string & !=""
`

// ValidateRecord validates a declared record against the record schema.
func (sr *SchemaRegistry) ValidateRecord(ctx context.Context, record ManifestRecord) error {
	return sr.ValidateAgainstSchema(ctx, "record", record)
}

// ValidateBatch validates a batch block against the batch schema.
func (sr *SchemaRegistry) ValidateBatch(ctx context.Context, batch BatchSpec) error {
	return sr.ValidateAgainstSchema(ctx, "batch", batch)
}

// ValidateInterface validates a nested interface against the interface schema.
func (sr *SchemaRegistry) ValidateInterface(ctx context.Context, iface InterfaceRecord) error {
	return sr.ValidateAgainstSchema(ctx, "interface", iface)
}

// ValidateAddress validates a nested address against the address schema.
func (sr *SchemaRegistry) ValidateAddress(ctx context.Context, addr AddressRecord) error {
	return sr.ValidateAgainstSchema(ctx, "address", addr)
}

// ValidateTermination validates a cable termination against the termination schema.
func (sr *SchemaRegistry) ValidateTermination(ctx context.Context, term Termination) error {
	return sr.ValidateAgainstSchema(ctx, "termination", term)
}
