package engine

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/racksync/racksync/pkg/catalog"
	"github.com/racksync/racksync/pkg/telemetry"
)

// Ensurer performs idempotent upserts: create if absent, update if
// different, no-op if matching. It holds no state beyond its dependencies
// and is safe for concurrent use.
type Ensurer struct {
	proxy  Proxy
	logger zerolog.Logger
}

// NewEnsurer creates an ensure engine on top of a proxy.
func NewEnsurer(proxy Proxy, logger zerolog.Logger) *Ensurer {
	return &Ensurer{
		proxy:  proxy,
		logger: logger.With().Str("component", "ensure").Logger(),
	}
}

// Ensure runs one upsert. On failure the returned result carries the same
// classified error that is returned, so bulk callers can aggregate results
// while single callers handle the error directly.
func (e *Ensurer) Ensure(ctx context.Context, req EnsureRequest) (*EnsureResult, error) {
	desc, err := e.validate(req)
	if err != nil {
		return errorResult(err, e.proxy.DryRun())
	}

	if req.ID != 0 {
		return e.ensureByID(ctx, req)
	}
	return e.ensureByLookup(ctx, desc, req)
}

// validate performs every check that must happen before any network access.
func (e *Ensurer) validate(req EnsureRequest) (*catalog.Descriptor, error) {
	desc, err := catalog.Lookup(req.Type)
	if err != nil {
		return nil, NewValidationError("unsupported resource type", err).
			WithCode(ErrCodeUnsupportedType).
			WithResourceType(string(req.Type)).
			WithOperation("ensure")
	}

	name := strings.TrimSpace(req.Name)
	switch {
	case req.ID != 0 && name != "":
		return nil, NewValidationError("exactly one of id and name must be set", nil).
			WithCode(ErrCodeValidation).
			WithResourceType(string(req.Type)).
			WithOperation("ensure")
	case req.ID == 0 && name == "":
		return nil, NewValidationError("either id or a non-empty name is required", nil).
			WithCode(ErrCodeValidation).
			WithResourceType(string(req.Type)).
			WithOperation("ensure")
	}

	if req.ID != 0 {
		return desc, nil
	}

	// The lookup path may create, so every required dependency identifier
	// must already be present. Failing here keeps a missing parent from
	// silently producing a dangling relationship.
	desired := e.effectiveDesired(desc, req)
	for _, ref := range desc.RequiredRefs {
		v, ok := desired[ref]
		if !ok || v == nil {
			return nil, NewValidationError("missing required dependency", nil).
				WithCode(ErrCodeMissingDependency).
				WithResourceType(string(req.Type)).
				WithOperation("ensure").
				WithDetail("field", ref)
		}
		if id, ok := relationID(v); !ok || id == 0 {
			return nil, NewValidationError("required dependency has no identifier", nil).
				WithCode(ErrCodeMissingDependency).
				WithResourceType(string(req.Type)).
				WithOperation("ensure").
				WithDetail("field", ref)
		}
	}
	return desc, nil
}

// effectiveDesired is the caller's desired state plus the natural key, so
// hashing and diffing always cover the identifying field.
func (e *Ensurer) effectiveDesired(desc *catalog.Descriptor, req EnsureRequest) DesiredState {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return req.Desired
	}
	if _, ok := req.Desired[desc.NaturalKey]; ok {
		return req.Desired
	}
	out := make(DesiredState, len(req.Desired)+1)
	for k, v := range req.Desired {
		out[k] = v
	}
	out[desc.NaturalKey] = name
	return out
}

// ensureByID is the direct-addressing path: fetch by id and report
// unchanged unconditionally. Callers use it when they already know the
// resource is correct, which makes a field comparison pointless work.
func (e *Ensurer) ensureByID(ctx context.Context, req EnsureRequest) (*EnsureResult, error) {
	obj, err := e.proxy.Get(ctx, req.Type, req.ID)
	if err != nil {
		return errorResult(err, e.proxy.DryRun())
	}
	return &EnsureResult{
		Success: true,
		Action:  ActionUnchanged,
		Object:  obj,
		DryRun:  e.proxy.DryRun(),
	}, nil
}

// ensureByLookup resolves the resource by natural key and converges it.
func (e *Ensurer) ensureByLookup(ctx context.Context, desc *catalog.Descriptor, req EnsureRequest) (*EnsureResult, error) {
	name := strings.TrimSpace(req.Name)
	filters := Filters{desc.NaturalKey: name}
	for k, v := range req.Scope {
		filters[k] = v
	}

	matches, err := e.proxy.List(ctx, req.Type, filters)
	if err != nil {
		return errorResult(err, e.proxy.DryRun())
	}

	desired := e.effectiveDesired(desc, req)

	switch {
	case len(matches) == 0:
		return e.create(ctx, desc, req, desired)
	case len(matches) > 1 && req.Strict:
		err := NewConflictError("natural-key lookup matched more than one resource", nil).
			WithCode(ErrCodeAmbiguousMatch).
			WithResourceType(string(req.Type)).
			WithOperation("ensure").
			WithDetail("name", name).
			WithDetail("matches", len(matches))
		return errorResult(err, e.proxy.DryRun())
	default:
		if len(matches) > 1 {
			e.logger.Warn().
				Str("type", string(req.Type)).
				Str("name", name).
				Int("matches", len(matches)).
				Msg("natural-key lookup is ambiguous, using first match")
		}
		return e.converge(ctx, desc, req, desired, matches[0])
	}
}

// create builds the payload from desired state, stamps provenance, and
// issues the write through the proxy.
func (e *Ensurer) create(ctx context.Context, desc *catalog.Descriptor, req EnsureRequest, desired DesiredState) (*EnsureResult, error) {
	payload := projectManaged(desired, desc)

	createdFields := make([]string, 0, len(payload))
	for k := range payload {
		createdFields = append(createdFields, k)
	}
	sort.Strings(createdFields)

	hash, err := ComputeHash(desired, req.Type)
	if err != nil {
		return errorResult(err, e.proxy.DryRun())
	}
	stampProvenance(payload, hash, req.BatchID, time.Now())

	obj, err := e.proxy.Create(ctx, req.Type, payload, req.Confirmed)
	if err != nil {
		return errorResult(err, e.proxy.DryRun())
	}

	e.logger.Debug().
		Str("type", string(req.Type)).
		Str("name", req.Name).
		Int64("id", obj.ID()).
		Str("hash", shortHash(hash)).
		Bool("dry_run", e.proxy.DryRun()).
		Msg("resource created")

	return &EnsureResult{
		Success: true,
		Action:  ActionCreated,
		Object:  obj,
		Changes: ChangeSet{CreatedFields: createdFields},
		DryRun:  e.proxy.DryRun(),
	}, nil
}

// converge compares one existing resource against desired state and updates
// only the fields that differ. The stored hash is a fast path: a mismatch
// still runs the authoritative field diff, and a stale hash can legitimately
// resolve to no changes.
func (e *Ensurer) converge(ctx context.Context, desc *catalog.Descriptor, req EnsureRequest, desired DesiredState, existing Object) (*EnsureResult, error) {
	if QuickMatch(existing, desired, req.Type) {
		projected := projectManaged(desired, desc)
		unchanged := make([]string, 0, len(projected))
		for k := range projected {
			unchanged = append(unchanged, k)
		}
		sort.Strings(unchanged)
		return &EnsureResult{
			Success: true,
			Action:  ActionUnchanged,
			Object:  existing,
			Changes: ChangeSet{UnchangedFields: unchanged},
			DryRun:  e.proxy.DryRun(),
		}, nil
	}

	cs, err := FieldDiff(existing, desired, req.Type)
	if err != nil {
		return errorResult(err, e.proxy.DryRun())
	}
	if !cs.NeedsUpdate {
		return &EnsureResult{
			Success: true,
			Action:  ActionUnchanged,
			Object:  existing,
			Changes: cs,
			DryRun:  e.proxy.DryRun(),
		}, nil
	}

	if tel := telemetry.FromTelemetryContext(ctx); tel != nil {
		_ = tel.Events.PublishDriftDetected(string(req.Type), req.Name, cs.UpdatedFields)
	}

	projected := projectManaged(desired, desc)
	payload := make(map[string]interface{}, len(cs.UpdatedFields)+1)
	for _, f := range cs.UpdatedFields {
		payload[f] = projected[f]
	}

	hash, err := ComputeHash(desired, req.Type)
	if err != nil {
		return errorResult(err, e.proxy.DryRun())
	}
	stampProvenance(payload, hash, req.BatchID, time.Now())

	obj, err := e.proxy.Update(ctx, req.Type, existing.ID(), payload, req.Confirmed)
	if err != nil {
		return errorResult(err, e.proxy.DryRun())
	}

	e.logger.Debug().
		Str("type", string(req.Type)).
		Str("name", req.Name).
		Int64("id", existing.ID()).
		Strs("updated_fields", cs.UpdatedFields).
		Bool("dry_run", e.proxy.DryRun()).
		Msg("resource updated")

	return &EnsureResult{
		Success: true,
		Action:  ActionUpdated,
		Object:  obj,
		Changes: cs,
		DryRun:  e.proxy.DryRun(),
	}, nil
}

// errorResult pairs a failed EnsureResult with its classified error.
func errorResult(err error, dryRun bool) (*EnsureResult, error) {
	se := asSyncError(err)
	return &EnsureResult{
		Success: false,
		Action:  ActionError,
		Error:   se,
		DryRun:  dryRun,
	}, se
}

// asSyncError extracts a SyncError from the chain or wraps the error as
// internal.
func asSyncError(err error) *SyncError {
	var se *SyncError
	if errors.As(err, &se) {
		return se
	}
	return NewInternalError("unclassified failure", err)
}
