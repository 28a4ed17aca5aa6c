package engine

import (
	"context"
	"errors"

	"github.com/racksync/racksync/pkg/catalog"
)

// Preflight predicts the outcome of a bulk run without issuing any writes.
// It normalizes the batch the same way Run does, resolves existence and
// field differences through read calls only, and is safe to call with
// Confirmed false.
func (o *Orchestrator) Preflight(ctx context.Context, req BatchRequest) (*PreflightReport, error) {
	if len(req.Records) == 0 {
		return nil, NewValidationError("batch contains no records", nil)
	}

	batch, err := normalize(req.Records)
	if err != nil {
		return nil, err
	}

	report := &PreflightReport{}
	for i := range batch.invalid {
		inv := batch.invalid[i]
		report.add(PreflightEntry{
			Type:   inv.Type,
			Name:   inv.Name,
			Action: ActionError,
			Error:  inv.Error,
		})
	}

	// Members of the batch count as resolvable even when they do not exist
	// yet: pass 1 would create them before pass 2 needs their identifiers.
	inBatch := make(map[resKey]bool)
	for rt, recs := range batch.records {
		for _, rec := range recs {
			inBatch[resKey{Type: rt, Key: rec.Key()}] = true
			inBatch[resKey{Type: rt, Key: rec.Name}] = true
		}
	}

	table := make(map[resKey]int64)
	pass := 1
	for _, rt := range batch.ordering.All() {
		if containsType(batch.ordering.Pass2, rt) {
			pass = 2
		}
		for _, rec := range batch.records[rt] {
			if err := ctx.Err(); err != nil {
				if errors.Is(err, context.DeadlineExceeded) {
					return nil, NewTimeoutError("preflight deadline exceeded", err)
				}
				return nil, NewConnectionError("preflight cancelled", err)
			}
			report.add(o.preflightRecord(ctx, table, inBatch, pass, rec))
		}
	}
	return report, nil
}

// preflightRecord predicts the outcome for one normalized record.
func (o *Orchestrator) preflightRecord(ctx context.Context, table map[resKey]int64, inBatch map[resKey]bool, pass int, rec Record) PreflightEntry {
	entry := PreflightEntry{
		Type: rec.Type,
		Name: rec.Name,
		Pass: pass,
	}

	desc, err := catalog.Lookup(rec.Type)
	if err != nil {
		entry.Action = ActionError
		entry.Error = asSyncError(NewValidationError("unsupported resource type", err).
			WithCode(ErrCodeUnsupportedType).
			WithResourceType(string(rec.Type)))
		return entry
	}

	desired := make(DesiredState, len(rec.Fields)+len(rec.Refs))
	for k, v := range rec.Fields {
		desired[k] = v
	}

	// Resolve references through reads only. A reference to a batch member
	// that does not exist yet is resolvable but has no identifier, so it is
	// left out of the field comparison.
	for field, refName := range rec.Refs {
		f, ok := desc.FieldByName(field)
		if !ok || f.Kind != catalog.FieldRelation {
			continue
		}
		id, lookupErr := o.lookupExisting(ctx, table, f.Ref, refName)
		switch {
		case lookupErr != nil:
			entry.Action = ActionError
			entry.Error = asSyncError(lookupErr)
			return entry
		case id != 0:
			desired[field] = id
		case inBatch[resKey{Type: f.Ref, Key: refName}]:
			// Pending creation, nothing to compare against.
		default:
			entry.Action = ActionError
			entry.Error = asSyncError(NewValidationError("missing dependency", nil).
				WithCode(ErrCodeMissingDependency).
				WithResourceType(string(rec.Type)).
				WithDetail("field", field).
				WithDetail("ref", refName))
			return entry
		}
	}

	filters := Filters{desc.NaturalKey: rec.Name}
	for k, v := range rec.Scope {
		filters[k] = v
	}
	matches, err := o.proxy.List(ctx, rec.Type, filters)
	if err != nil {
		entry.Action = ActionError
		entry.Error = asSyncError(err)
		return entry
	}

	if len(matches) == 0 {
		entry.Action = ActionCreated
		return entry
	}

	desired[desc.NaturalKey] = rec.Name
	changes, err := FieldDiff(matches[0], desired, rec.Type)
	if err != nil {
		entry.Action = ActionError
		entry.Error = asSyncError(err)
		return entry
	}
	if changes.NeedsUpdate {
		entry.Action = ActionUpdated
		entry.UpdatedFields = changes.UpdatedFields
	} else {
		entry.Action = ActionUnchanged
	}
	return entry
}

// lookupExisting finds the identifier of an existing resource by natural
// key, caching hits. Zero with a nil error means the resource is absent.
func (o *Orchestrator) lookupExisting(ctx context.Context, table map[resKey]int64, rt catalog.ResourceType, name string) (int64, error) {
	if id, ok := table[resKey{Type: rt, Key: name}]; ok {
		return id, nil
	}
	desc, err := catalog.Lookup(rt)
	if err != nil {
		return 0, err
	}
	matches, err := o.proxy.List(ctx, rt, Filters{desc.NaturalKey: name})
	if err != nil {
		return 0, err
	}
	if len(matches) == 0 {
		table[resKey{Type: rt, Key: name}] = 0
		return 0, nil
	}
	id := matches[0].ID()
	table[resKey{Type: rt, Key: name}] = id
	return id, nil
}

// add folds one prediction into the report's counters.
func (r *PreflightReport) add(entry PreflightEntry) {
	r.Entries = append(r.Entries, entry)
	switch entry.Action {
	case ActionCreated:
		r.WouldCreate++
	case ActionUpdated:
		r.WouldUpdate++
	case ActionUnchanged:
		r.Unchanged++
	case ActionError:
		r.Errors++
	}
}

// containsType reports membership of rt in types.
func containsType(types []catalog.ResourceType, rt catalog.ResourceType) bool {
	for _, t := range types {
		if t == rt {
			return true
		}
	}
	return false
}
