package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"github.com/go-playground/validator/v10"
	json "github.com/goccy/go-json"

	"github.com/racksync/racksync/pkg/catalog"
	"github.com/racksync/racksync/pkg/engine"
)

// ManifestParser parses CUE manifests and Starlark generator scripts into
// flattened engine records.
type ManifestParser struct {
	ctx      *cue.Context
	schemas  *SchemaRegistry
	starlark *StarlarkEvaluator
	validate *validator.Validate
}

// NewManifestParser creates a manifest parser with the built-in schemas and
// a sandboxed generator evaluator.
func NewManifestParser() *ManifestParser {
	return &ManifestParser{
		ctx:      cuecontext.New(),
		schemas:  NewSchemaRegistry(),
		starlark: NewStarlarkEvaluator(0, 0),
		validate: validator.New(),
	}
}

// Schemas returns the schema registry, so callers can register site-local
// schemas before parsing.
func (mp *ManifestParser) Schemas() *SchemaRegistry {
	return mp.schemas
}

// Load parses a manifest source by shape: a directory or .cue file is
// parsed as CUE, a .star file is executed as a generator. Params are only
// meaningful for generators.
func (mp *ManifestParser) Load(ctx context.Context, source string, params map[string]interface{}) (*ParsedManifest, error) {
	info, err := os.Stat(source)
	if err != nil {
		return nil, fmt.Errorf("failed to stat source %s: %w", source, err)
	}

	if info.IsDir() {
		if len(params) > 0 {
			return nil, fmt.Errorf("parameters are only supported for generator scripts")
		}
		return mp.Parse(ctx, []string{source})
	}

	switch strings.ToLower(filepath.Ext(source)) {
	case ".cue":
		if len(params) > 0 {
			return nil, fmt.Errorf("parameters are only supported for generator scripts")
		}
		return mp.Parse(ctx, []string{source})
	case ".star":
		return mp.ParseGenerator(ctx, source, params)
	default:
		return nil, fmt.Errorf("unsupported manifest source %s: expected a directory, a .cue file, or a .star generator", source)
	}
}

// Parse parses CUE manifests from the given sources. Multiple sources are
// unified, so a site-wide base can be combined with an overlay.
func (mp *ManifestParser) Parse(ctx context.Context, sources []string) (*ParsedManifest, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("no sources provided")
	}

	var cueValue cue.Value
	var sourceFiles []string
	var parseErrors []ValidationError

	for _, source := range sources {
		info, err := os.Stat(source)
		if err != nil {
			return nil, fmt.Errorf("failed to stat source %s: %w", source, err)
		}

		if info.IsDir() {
			val, files, errs := mp.loadDirectory(source)
			if len(errs) > 0 {
				parseErrors = append(parseErrors, errs...)
			}
			if val.Exists() {
				if cueValue.Exists() {
					cueValue = cueValue.Unify(val)
				} else {
					cueValue = val
				}
			}
			sourceFiles = append(sourceFiles, files...)
		} else {
			val, errs := mp.loadFile(source)
			if len(errs) > 0 {
				parseErrors = append(parseErrors, errs...)
			}
			if val.Exists() {
				if cueValue.Exists() {
					cueValue = cueValue.Unify(val)
				} else {
					cueValue = val
				}
			}
			sourceFiles = append(sourceFiles, source)
		}
	}

	if len(parseErrors) > 0 {
		return &ParsedManifest{
			SourceFiles: sourceFiles,
			ParsedAt:    time.Now(),
			Errors:      parseErrors,
		}, nil
	}

	if err := cueValue.Err(); err != nil {
		return &ParsedManifest{
			SourceFiles: sourceFiles,
			ParsedAt:    time.Now(),
			Errors:      mp.convertCUEErrors(err),
		}, nil
	}

	return mp.extractManifest(ctx, cueValue, sourceFiles)
}

// ParseInline parses inline CUE content.
func (mp *ManifestParser) ParseInline(ctx context.Context, content string) (*ParsedManifest, error) {
	val := mp.ctx.CompileString(content)
	if err := val.Err(); err != nil {
		return &ParsedManifest{
			SourceFiles: []string{"inline"},
			ParsedAt:    time.Now(),
			Errors:      mp.convertCUEErrors(err),
		}, nil
	}

	return mp.extractManifest(ctx, val, []string{"inline"})
}

// manifestDoc is the document shape a generator script exports.
type manifestDoc struct {
	Batch   *BatchSpec       `json:"batch,omitempty"`
	Records []ManifestRecord `json:"records"`
}

// ParseGenerator executes a Starlark generator script and parses the
// records it exports. The script receives params as a predeclared "params"
// dict and must define a module-level "records" list; an optional "batch"
// dict carries run settings.
func (mp *ManifestParser) ParseGenerator(ctx context.Context, path string, params map[string]interface{}) (*ParsedManifest, error) {
	script, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read generator %s: %w", path, err)
	}

	input := map[string]interface{}{
		"params": map[string]interface{}{},
	}
	if params != nil {
		input["params"] = params
	}

	result, err := mp.starlark.Evaluate(ctx, string(script), input)
	if err != nil {
		return &ParsedManifest{
			SourceFiles: []string{path},
			ParsedAt:    time.Now(),
			Errors: []ValidationError{{
				File:     path,
				Message:  result.Error,
				Severity: "error",
			}},
		}, nil
	}

	pm := &ParsedManifest{
		SourceFiles: []string{path},
		ParsedAt:    time.Now(),
	}

	if _, ok := result.Output["records"]; !ok {
		pm.Errors = append(pm.Errors, ValidationError{
			File:     path,
			Message:  "generator did not define a records list",
			Severity: "error",
		})
		return pm, nil
	}

	// Round-trip through JSON so generator output decodes with the same
	// field mapping as CUE manifests.
	raw, err := json.Marshal(result.Output)
	if err != nil {
		return nil, fmt.Errorf("failed to encode generator output: %w", err)
	}
	var doc manifestDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		pm.Errors = append(pm.Errors, ValidationError{
			File:     path,
			Message:  fmt.Sprintf("generator output does not decode as a manifest: %v", err),
			Severity: "error",
		})
		return pm, nil
	}

	if doc.Batch != nil {
		if err := mp.validate.Struct(*doc.Batch); err != nil {
			pm.Errors = append(pm.Errors, ValidationError{
				File:     path,
				Path:     "batch",
				Message:  err.Error(),
				Severity: "error",
			})
		} else {
			pm.Batch = *doc.Batch
		}
	}

	for i, rec := range doc.Records {
		if err := mp.validate.Struct(rec); err != nil {
			pm.Errors = append(pm.Errors, ValidationError{
				File:     path,
				Path:     fmt.Sprintf("records[%d]", i),
				Message:  err.Error(),
				Severity: "error",
			})
			continue
		}
		if err := mp.schemas.ValidateRecord(ctx, rec); err != nil {
			pm.Errors = append(pm.Errors, ValidationError{
				File:     path,
				Path:     fmt.Sprintf("records[%d]", i),
				Message:  err.Error(),
				Severity: "error",
			})
			continue
		}
		pm.Declared = append(pm.Declared, rec)
	}

	if len(pm.Errors) > 0 {
		return pm, nil
	}

	records, errs := flattenRecords(pm.Declared)
	if len(errs) > 0 {
		pm.Errors = append(pm.Errors, errs...)
		return pm, nil
	}
	pm.Records = records
	return pm, nil
}

// loadDirectory loads a directory as a CUE package.
func (mp *ManifestParser) loadDirectory(dir string) (cue.Value, []string, []ValidationError) {
	buildInstances := load.Instances([]string{dir}, nil)
	if len(buildInstances) == 0 {
		return cue.Value{}, nil, []ValidationError{{
			File:     dir,
			Message:  "no CUE files found",
			Severity: "error",
		}}
	}

	inst := buildInstances[0]
	if inst.Err != nil {
		return cue.Value{}, nil, mp.convertCUEErrors(inst.Err)
	}

	val := mp.ctx.BuildInstance(inst)
	if err := val.Err(); err != nil {
		return cue.Value{}, nil, mp.convertCUEErrors(err)
	}

	var files []string
	for _, file := range inst.Files {
		if file.Filename != "" {
			files = append(files, file.Filename)
		}
	}

	return val, files, nil
}

// loadFile loads a single CUE file.
func (mp *ManifestParser) loadFile(path string) (cue.Value, []ValidationError) {
	content, err := os.ReadFile(path)
	if err != nil {
		return cue.Value{}, []ValidationError{{
			File:     path,
			Message:  fmt.Sprintf("failed to read file: %v", err),
			Severity: "error",
		}}
	}

	val := mp.ctx.CompileString(string(content), cue.Filename(path))
	if err := val.Err(); err != nil {
		return cue.Value{}, mp.convertCUEErrors(err)
	}

	return val, nil
}

// extractManifest extracts the batch block and records from a CUE value and
// flattens them into engine records.
func (mp *ManifestParser) extractManifest(ctx context.Context, val cue.Value, sourceFiles []string) (*ParsedManifest, error) {
	pm := &ParsedManifest{
		SourceFiles: sourceFiles,
		ParsedAt:    time.Now(),
	}

	batchVal := val.LookupPath(cue.ParsePath("batch"))
	if batchVal.Exists() {
		var batch BatchSpec
		if err := batchVal.Decode(&batch); err != nil {
			pm.Errors = append(pm.Errors, ValidationError{
				Path:     "batch",
				Message:  fmt.Sprintf("failed to decode batch: %v", err),
				Severity: "error",
			})
		} else if err := mp.validate.Struct(batch); err != nil {
			pm.Errors = append(pm.Errors, ValidationError{
				Path:     "batch",
				Message:  err.Error(),
				Severity: "error",
			})
		} else {
			pm.Batch = batch
		}
	}

	recordsVal := val.LookupPath(cue.ParsePath("records"))
	if !recordsVal.Exists() {
		pm.Errors = append(pm.Errors, ValidationError{
			Path:     "records",
			Message:  "manifest declares no records",
			Severity: "error",
		})
		return pm, nil
	}

	switch recordsVal.Kind() {
	case cue.StructKind:
		// Struct keyed by resource name. Hidden fields stay invisible, so
		// they can serve as record templates.
		iter, err := recordsVal.Fields()
		if err != nil {
			pm.Errors = append(pm.Errors, ValidationError{
				Path:     "records",
				Message:  fmt.Sprintf("failed to iterate records: %v", err),
				Severity: "error",
			})
			return pm, nil
		}
		for iter.Next() {
			name := strings.Trim(iter.Selector().String(), "\"")
			record, err := mp.extractRecord(ctx, name, iter.Value())
			if err != nil {
				pm.Errors = append(pm.Errors, ValidationError{
					Path:     fmt.Sprintf("records.%s", name),
					Message:  err.Error(),
					Severity: "error",
				})
			} else {
				pm.Declared = append(pm.Declared, record)
			}
		}
	case cue.ListKind:
		list, err := recordsVal.List()
		if err != nil {
			pm.Errors = append(pm.Errors, ValidationError{
				Path:     "records",
				Message:  fmt.Sprintf("failed to list records: %v", err),
				Severity: "error",
			})
			return pm, nil
		}
		idx := 0
		for list.Next() {
			record, err := mp.extractRecord(ctx, "", list.Value())
			if err != nil {
				pm.Errors = append(pm.Errors, ValidationError{
					Path:     fmt.Sprintf("records[%d]", idx),
					Message:  err.Error(),
					Severity: "error",
				})
			} else {
				pm.Declared = append(pm.Declared, record)
			}
			idx++
		}
	default:
		pm.Errors = append(pm.Errors, ValidationError{
			Path:     "records",
			Message:  "records must be a list or a struct keyed by name",
			Severity: "error",
		})
	}

	if len(pm.Errors) > 0 {
		return pm, nil
	}

	records, errs := flattenRecords(pm.Declared)
	if len(errs) > 0 {
		pm.Errors = append(pm.Errors, errs...)
		return pm, nil
	}
	pm.Records = records
	return pm, nil
}

// extractRecord decodes one declared record. A struct-keyed record takes
// its name from the key unless the value sets one explicitly.
func (mp *ManifestParser) extractRecord(ctx context.Context, name string, val cue.Value) (ManifestRecord, error) {
	var record ManifestRecord

	if err := val.Decode(&record); err != nil {
		return record, fmt.Errorf("failed to decode record: %w", err)
	}

	if record.Name == "" && name != "" {
		record.Name = name
	}

	if err := mp.validate.Struct(record); err != nil {
		return record, fmt.Errorf("validation failed: %w", err)
	}

	if err := mp.schemas.ValidateRecord(ctx, record); err != nil {
		return record, err
	}

	return record, nil
}

// convertCUEErrors converts CUE errors to ValidationError slice.
func (mp *ManifestParser) convertCUEErrors(err error) []ValidationError {
	var validationErrors []ValidationError

	errs := errors.Errors(err)
	for _, e := range errs {
		pos := errors.Positions(e)
		var file string
		var line, column int

		if len(pos) > 0 {
			file = pos[0].Filename()
			line = pos[0].Line()
			column = pos[0].Column()
		}

		validationErrors = append(validationErrors, ValidationError{
			File:     file,
			Line:     line,
			Column:   column,
			Message:  errors.Details(e, nil),
			Severity: "error",
		})
	}

	return validationErrors
}

// flattenRecords expands declared records into flat engine records: nested
// interfaces become scoped interface records, nested addresses become
// assigned ip-address records, and cable termination sugar becomes refs
// resolvable within the batch.
func flattenRecords(declared []ManifestRecord) ([]engine.Record, []ValidationError) {
	var (
		records []engine.Record
		errs    []ValidationError
	)

	declaredIfaces := declaredInterfaceKeys(declared)
	seen := make(map[string]struct{})

	for i, rec := range declared {
		path := recordPath(i, rec)
		flat, recErrs := flattenOne(rec, path, declaredIfaces)
		if len(recErrs) > 0 {
			errs = append(errs, recErrs...)
			continue
		}
		for _, r := range flat {
			key := string(r.Type) + ":" + r.Key()
			if _, dup := seen[key]; dup {
				errs = append(errs, ValidationError{
					Path:     path,
					Message:  fmt.Sprintf("duplicate record %s %q", r.Type, r.Key()),
					Severity: "error",
				})
				continue
			}
			seen[key] = struct{}{}
			records = append(records, r)
		}
	}

	return records, errs
}

// declaredInterfaceKeys collects the batch keys of every interface the
// manifest declares, explicit or nested, so termination and assignment
// references can be checked before any network traffic.
func declaredInterfaceKeys(declared []ManifestRecord) map[string]struct{} {
	keys := make(map[string]struct{})
	for _, rec := range declared {
		switch rec.Type {
		case string(catalog.TypeDevice):
			for _, iface := range rec.Interfaces {
				keys[interfaceKey(rec.Name, iface.Name)] = struct{}{}
			}
		case string(catalog.TypeInterface):
			device := rec.Scope["device"]
			if device == "" {
				device = rec.Refs["device"]
			}
			if device != "" {
				keys[interfaceKey(device, rec.Name)] = struct{}{}
			}
		}
	}
	return keys
}

// flattenOne expands a single declared record.
func flattenOne(rec ManifestRecord, path string, declaredIfaces map[string]struct{}) ([]engine.Record, []ValidationError) {
	rt, err := catalog.ParseResourceType(rec.Type)
	if err != nil {
		return nil, []ValidationError{{Path: path, Message: err.Error(), Severity: "error"}}
	}
	desc, err := catalog.Lookup(rt)
	if err != nil {
		return nil, []ValidationError{{Path: path, Message: err.Error(), Severity: "error"}}
	}

	var errs []ValidationError
	if len(rec.Interfaces) > 0 && rt != catalog.TypeDevice {
		errs = append(errs, ValidationError{
			Path:     path,
			Message:  "interfaces are only valid on dcim.device records",
			Severity: "error",
		})
	}
	if (rec.A != nil || rec.B != nil) && rt != catalog.TypeCable {
		errs = append(errs, ValidationError{
			Path:     path,
			Message:  "terminations are only valid on dcim.cable records",
			Severity: "error",
		})
	}
	if len(errs) > 0 {
		return nil, errs
	}

	base := engine.Record{
		Type:   rt,
		Name:   rec.Name,
		Fields: engine.DesiredState(cloneFields(rec.Fields)),
		Refs:   cloneStrings(rec.Refs),
		Scope:  cloneStrings(rec.Scope),
	}

	if rt == catalog.TypeCable {
		if termErrs := applyTerminations(&base, rec, path, declaredIfaces); len(termErrs) > 0 {
			return nil, termErrs
		}
	}

	if base.Name == "" {
		return nil, []ValidationError{{Path: path, Message: "record has no name", Severity: "error"}}
	}

	// Derive the lookup scope from the parent ref when the author declared
	// the relationship but no scope.
	if desc.ScopeKey != "" && len(base.Scope) == 0 {
		parent := strings.TrimSuffix(desc.ScopeKey, "_id")
		if v, ok := base.Refs[parent]; ok && v != "" {
			base.Scope = map[string]string{parent: v}
		}
	}

	out := []engine.Record{base}

	for _, iface := range rec.Interfaces {
		ifaceRec := engine.Record{
			Type:   catalog.TypeInterface,
			Name:   iface.Name,
			Fields: engine.DesiredState(cloneFields(iface.Fields)),
			Refs:   map[string]string{"device": rec.Name},
			Scope:  map[string]string{"device": rec.Name},
		}
		out = append(out, ifaceRec)

		for _, addr := range iface.Addresses {
			addrFields := cloneFields(addr.Fields)
			if addrFields == nil {
				addrFields = make(map[string]interface{})
			}
			if _, ok := addrFields["assigned_object_type"]; !ok {
				addrFields["assigned_object_type"] = "dcim.interface"
			}
			out = append(out, engine.Record{
				Type:   catalog.TypeIPAddress,
				Name:   addr.Address,
				Fields: engine.DesiredState(addrFields),
				Refs:   map[string]string{"assigned_object_id": ifaceRec.Key()},
			})
		}
	}

	return out, nil
}

// applyTerminations turns the a/b termination sugar into relation refs.
// Both ends must name interfaces declared in this manifest, so a broken
// cable plan fails before any network traffic.
func applyTerminations(base *engine.Record, rec ManifestRecord, path string, declaredIfaces map[string]struct{}) []ValidationError {
	if rec.A == nil && rec.B == nil {
		return nil
	}
	if rec.A == nil || rec.B == nil {
		return []ValidationError{{
			Path:     path,
			Message:  "cable requires both a and b terminations",
			Severity: "error",
		}}
	}

	var errs []ValidationError
	aKey := interfaceKey(rec.A.Device, rec.A.Interface)
	bKey := interfaceKey(rec.B.Device, rec.B.Interface)
	if _, ok := declaredIfaces[aKey]; !ok {
		errs = append(errs, ValidationError{
			Path:     path,
			Message:  fmt.Sprintf("termination a references undeclared interface %s on %s", rec.A.Interface, rec.A.Device),
			Severity: "error",
		})
	}
	if _, ok := declaredIfaces[bKey]; !ok {
		errs = append(errs, ValidationError{
			Path:     path,
			Message:  fmt.Sprintf("termination b references undeclared interface %s on %s", rec.B.Interface, rec.B.Device),
			Severity: "error",
		})
	}
	if len(errs) > 0 {
		return errs
	}

	if base.Fields == nil {
		base.Fields = make(engine.DesiredState)
	}
	if _, ok := base.Fields["a_termination_type"]; !ok {
		base.Fields["a_termination_type"] = "dcim.interface"
	}
	if _, ok := base.Fields["b_termination_type"]; !ok {
		base.Fields["b_termination_type"] = "dcim.interface"
	}
	if base.Refs == nil {
		base.Refs = make(map[string]string)
	}
	base.Refs["a_termination_id"] = aKey
	base.Refs["b_termination_id"] = bKey

	if base.Name == "" {
		base.Name = fmt.Sprintf("%s:%s--%s:%s", rec.A.Device, rec.A.Interface, rec.B.Device, rec.B.Interface)
	}
	return nil
}

// interfaceKey renders the batch key for an interface, matching how the
// engine keys scoped records so in-batch references resolve.
func interfaceKey(device, name string) string {
	rec := engine.Record{
		Type:  catalog.TypeInterface,
		Name:  name,
		Scope: map[string]string{"device": device},
	}
	return rec.Key()
}

func recordPath(idx int, rec ManifestRecord) string {
	if rec.Name != "" {
		return fmt.Sprintf("records.%s", rec.Name)
	}
	return fmt.Sprintf("records[%d]", idx)
}

func cloneFields(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneStrings(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
