package engine

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/racksync/racksync/pkg/catalog"
	"github.com/racksync/racksync/pkg/telemetry"
)

// Orchestrator executes bulk batches: it normalizes records into deduplicated
// per-type lists, runs pass 1 over independent types in dependency order,
// then pass 2 over relationship types with identifiers resolved from a
// run-scoped table. Instances hold no state between runs.
type Orchestrator struct {
	proxy    Proxy
	ensurer  *Ensurer
	logger   zerolog.Logger
	progress ProgressSink
}

// OrchestratorOption customizes an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithProgressSink streams per-record progress to the given sink.
func WithProgressSink(sink ProgressSink) OrchestratorOption {
	return func(o *Orchestrator) {
		o.progress = sink
	}
}

// NewOrchestrator creates a bulk orchestrator on top of a proxy.
func NewOrchestrator(proxy Proxy, logger zerolog.Logger, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		proxy:   proxy,
		ensurer: NewEnsurer(proxy, logger),
		logger:  logger.With().Str("component", "orchestrator").Logger(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// resKey addresses one resource in the run-scoped resolution table.
type resKey struct {
	Type catalog.ResourceType
	Key  string
}

// createdResource remembers a create for reverse-order rollback.
type createdResource struct {
	Type catalog.ResourceType
	ID   int64
	Name string
}

// runState is the per-invocation working set, discarded when the run ends.
type runState struct {
	req       BatchRequest
	batch     *normalizedBatch
	result    *BatchResult
	table     map[resKey]int64
	created   []createdResource
	processed int
	total     int
	cancelled bool
	trigger   *SyncError
}

// Run executes a bulk batch. The returned result always enumerates every
// record outcome, even when the run fails; in abort-and-rollback mode the
// triggering error is also returned after rollback completes.
func (o *Orchestrator) Run(ctx context.Context, req BatchRequest) (*BatchResult, error) {
	if req.Mode == "" {
		req.Mode = RunModeContinueOnError
	}
	if err := req.Mode.Validate(); err != nil {
		return nil, NewValidationError("invalid batch request", err)
	}
	if len(req.Records) == 0 {
		return nil, NewValidationError("batch contains no records", nil)
	}
	if req.BatchID == "" {
		req.BatchID = uuid.NewString()
	}

	proxy := o.proxy.WithBatchID(req.BatchID)
	ensurer := NewEnsurer(proxy, o.logger)

	batch, err := normalize(req.Records)
	if err != nil {
		return nil, err
	}

	st := &runState{
		req:   req,
		batch: batch,
		table: make(map[resKey]int64),
		total: batch.total,
		result: &BatchResult{
			BatchID:   req.BatchID,
			Mode:      req.Mode,
			Status:    RunStatusRunning,
			DryRun:    proxy.DryRun(),
			StartedAt: time.Now(),
		},
	}

	ctx = telemetry.WithBatchContext(ctx, req.BatchID, string(req.Mode), st.result.DryRun)

	o.logger.Info().
		Str("batch_id", req.BatchID).
		Str("mode", string(req.Mode)).
		Int("records", st.total).
		Bool("dry_run", st.result.DryRun).
		Msg("starting bulk run")

	// Records that failed normalization are reported up front. In
	// abort-and-rollback mode the first one aborts before anything runs.
	for i := range batch.invalid {
		rr := batch.invalid[i]
		st.result.Results = append(st.result.Results, rr)
		st.result.Summary.add(rr.Action)
		if req.Mode == RunModeAbortAndRollback && st.trigger == nil {
			st.trigger = rr.Error
		}
	}

	// A pass that never runs still skips its records, so the result
	// enumerates the full batch no matter where the run stopped.
	if st.trigger == nil {
		o.runPass(ctx, proxy, ensurer, st, 1, batch.ordering.Pass1)
	} else {
		o.skipPass(st, 1, batch.ordering.Pass1)
	}
	if st.trigger == nil && !st.cancelled {
		o.runPass(ctx, proxy, ensurer, st, 2, batch.ordering.Pass2)
	} else {
		o.skipPass(st, 2, batch.ordering.Pass2)
	}

	if st.trigger != nil && req.Mode == RunModeAbortAndRollback {
		o.rollback(ctx, proxy, st)
	}

	o.finish(st)

	if st.trigger != nil {
		telemetry.EndBatchContext(ctx, req.BatchID, string(st.result.Status), st.trigger)
		return st.result, st.trigger
	}
	telemetry.EndBatchContext(ctx, req.BatchID, string(st.result.Status), nil)
	return st.result, nil
}

// runPass processes every record of the given types in order, honoring
// chunking and cooperative cancellation between records.
func (o *Orchestrator) runPass(ctx context.Context, proxy Proxy, ensurer *Ensurer, st *runState, pass int, types []catalog.ResourceType) {
	records := make([]Record, 0)
	for _, rt := range types {
		records = append(records, st.batch.records[rt]...)
	}
	if len(records) == 0 {
		return
	}

	spanName := "engine.pass1"
	if pass == 2 {
		spanName = "engine.pass2"
	}
	ic := telemetry.StartOperation(ctx, spanName)
	ctx = ic.Ctx
	defer func() {
		if st.trigger != nil {
			ic.End(st.trigger)
			return
		}
		ic.End(nil)
	}()

	chunkSize := st.req.ChunkSize
	if chunkSize <= 0 || chunkSize > len(records) {
		chunkSize = len(records)
	}

	for start := 0; start < len(records); start += chunkSize {
		end := start + chunkSize
		if end > len(records) {
			end = len(records)
		}
		chunk := records[start:end]
		chunkStart := time.Now()
		failed := 0

		for i := range chunk {
			if st.cancelled || st.trigger != nil {
				o.skip(st, pass, chunk[i:])
				break
			}
			if ctx.Err() != nil {
				st.cancelled = true
				o.logger.Warn().
					Str("batch_id", st.req.BatchID).
					Int("pass", pass).
					Msg("run cancelled between records")
				o.skip(st, pass, chunk[i:])
				break
			}
			if rr := o.processRecord(ctx, proxy, ensurer, st, pass, chunk[i]); rr.Action == ActionError {
				failed++
			}
		}

		st.result.Chunks = append(st.result.Chunks, ChunkTiming{
			Index:    len(st.result.Chunks),
			Size:     len(chunk),
			Duration: time.Since(chunkStart),
			Failed:   failed,
		})

		if st.cancelled || st.trigger != nil {
			// Remaining chunks in this pass are skipped wholesale.
			for rest := end; rest < len(records); rest += chunkSize {
				restEnd := rest + chunkSize
				if restEnd > len(records) {
					restEnd = len(records)
				}
				o.skip(st, pass, records[rest:restEnd])
			}
			return
		}
	}
}

// processRecord converges one record and folds the outcome into the run.
func (o *Orchestrator) processRecord(ctx context.Context, proxy Proxy, ensurer *Ensurer, st *runState, pass int, rec Record) RecordResult {
	start := time.Now()
	ctx = telemetry.WithRecordContext(ctx, st.req.BatchID, string(rec.Type), rec.Name)
	rr := RecordResult{
		Type: rec.Type,
		Name: rec.Name,
		Pass: pass,
	}

	desired, err := o.resolveRefs(ctx, proxy, st.table, rec)
	if err != nil {
		rr.Action = ActionError
		rr.Error = asSyncError(err)
	} else {
		res, err := ensurer.Ensure(ctx, EnsureRequest{
			Type:      rec.Type,
			Name:      rec.Name,
			Scope:     rec.Scope,
			Desired:   desired,
			Confirmed: st.req.Confirmed,
			BatchID:   st.req.BatchID,
			Strict:    st.req.Strict,
		})
		rr.Action = res.Action
		rr.Changes = res.Changes
		rr.DryRun = res.DryRun
		if err != nil {
			rr.Error = asSyncError(err)
		} else {
			rr.ResourceID = res.Object.ID()
			st.table[resKey{Type: rec.Type, Key: rec.Key()}] = res.Object.ID()
			if rec.Key() != rec.Name {
				// Relationship records may reference the parent by bare name.
				st.table[resKey{Type: rec.Type, Key: rec.Name}] = res.Object.ID()
			}
			if res.Action == ActionCreated {
				st.created = append(st.created, createdResource{
					Type: rec.Type,
					ID:   res.Object.ID(),
					Name: rec.Name,
				})
			}
		}
	}

	rr.Duration = time.Since(start)
	var recErr error
	if rr.Error != nil {
		recErr = rr.Error
	}
	telemetry.EndRecordContext(ctx, st.req.BatchID, string(rec.Type), rec.Name, string(rr.Action), recErr)
	st.result.Results = append(st.result.Results, rr)
	if pass == 1 {
		st.result.Pass1.add(rr.Action)
	} else {
		st.result.Pass2.add(rr.Action)
	}
	st.processed++

	if rr.Action == ActionError && st.req.Mode == RunModeAbortAndRollback {
		st.trigger = rr.Error
	}

	if o.progress != nil {
		o.progress.OnProgress(ProgressInfo{
			Current: st.processed,
			Total:   st.total,
			Unit:    "records",
			Pass:    pass,
			Item:    string(rec.Type) + "/" + rec.Name,
		})
	}
	return rr
}

// resolveRefs merges resolved dependency identifiers into the record's
// desired state. Identifiers come from the run-scoped table first, then
// from a live lookup. Reference entries that are not relation fields of
// this type are hints for synthesized parents and are ignored here.
func (o *Orchestrator) resolveRefs(ctx context.Context, proxy Proxy, table map[resKey]int64, rec Record) (DesiredState, error) {
	desc, err := catalog.Lookup(rec.Type)
	if err != nil {
		return nil, NewValidationError("unsupported resource type", err).
			WithCode(ErrCodeUnsupportedType).
			WithResourceType(string(rec.Type))
	}

	desired := make(DesiredState, len(rec.Fields)+len(rec.Refs))
	for k, v := range rec.Fields {
		desired[k] = v
	}

	for field, refName := range rec.Refs {
		f, ok := desc.FieldByName(field)
		if !ok || f.Kind != catalog.FieldRelation {
			continue
		}
		id, err := o.resolveOne(ctx, proxy, table, f.Ref, refName)
		if err != nil {
			return nil, NewValidationError("missing dependency", err).
				WithCode(ErrCodeMissingDependency).
				WithResourceType(string(rec.Type)).
				WithOperation("resolve").
				WithDetail("field", field).
				WithDetail("ref", refName)
		}
		desired[field] = id
	}
	return desired, nil
}

// resolveOne finds the identifier for (type, natural key) in the run table
// or via a live lookup, caching the lookup result in the table.
func (o *Orchestrator) resolveOne(ctx context.Context, proxy Proxy, table map[resKey]int64, rt catalog.ResourceType, name string) (int64, error) {
	if id, ok := table[resKey{Type: rt, Key: name}]; ok && id != 0 {
		return id, nil
	}
	desc, err := catalog.Lookup(rt)
	if err != nil {
		return 0, err
	}
	matches, err := proxy.List(ctx, rt, Filters{desc.NaturalKey: name})
	if err != nil {
		return 0, err
	}
	if len(matches) == 0 {
		return 0, NewNotFoundError("dependency does not exist", nil).
			WithResourceType(string(rt)).
			WithDetail("name", name)
	}
	id := matches[0].ID()
	table[resKey{Type: rt, Key: name}] = id
	return id, nil
}

// skipPass marks every record of the given types as never attempted.
func (o *Orchestrator) skipPass(st *runState, pass int, types []catalog.ResourceType) {
	for _, rt := range types {
		o.skip(st, pass, st.batch.records[rt])
	}
}

// skip marks records as never attempted.
func (o *Orchestrator) skip(st *runState, pass int, records []Record) {
	for _, rec := range records {
		rr := RecordResult{
			Type:   rec.Type,
			Name:   rec.Name,
			Pass:   pass,
			Action: ActionSkipped,
		}
		st.result.Results = append(st.result.Results, rr)
		if pass == 1 {
			st.result.Pass1.add(ActionSkipped)
		} else {
			st.result.Pass2.add(ActionSkipped)
		}
		st.processed++
	}
}

// rollback deletes every resource this run created, in reverse creation
// order. Rollback failures are collected separately so they never mask the
// error that triggered the rollback.
func (o *Orchestrator) rollback(ctx context.Context, proxy Proxy, st *runState) {
	st.result.RollbackPerformed = true
	st.result.TriggerError = st.trigger

	o.logger.Warn().
		Str("batch_id", st.req.BatchID).
		Int("created", len(st.created)).
		Msg("rolling back created resources")

	for i := len(st.created) - 1; i >= 0; i-- {
		c := st.created[i]
		if err := proxy.Delete(ctx, c.Type, c.ID, true); err != nil {
			msg := string(c.Type) + "/" + c.Name + ": " + err.Error()
			st.result.RollbackErrors = append(st.result.RollbackErrors, msg)
			o.logger.Error().
				Str("batch_id", st.req.BatchID).
				Str("type", string(c.Type)).
				Int64("id", c.ID).
				Err(err).
				Msg("rollback delete failed")
		}
	}

	if tel := telemetry.FromTelemetryContext(ctx); tel != nil {
		tel.Metrics.RecordRollback()
		failed := len(st.result.RollbackErrors)
		_ = tel.Events.PublishRollbackPerformed(st.req.BatchID, len(st.created)-failed, failed)
	}
}

// finish folds the pass summaries together and assigns the terminal status.
func (o *Orchestrator) finish(st *runState) {
	st.result.FinishedAt = time.Now()
	st.result.Summary.merge(st.result.Pass1)
	st.result.Summary.merge(st.result.Pass2)

	s := st.result.Summary
	switch {
	case st.trigger != nil:
		st.result.Status = RunStatusFailed
	case st.cancelled:
		st.result.Status = RunStatusCancelled
	case s.Failed == 0:
		st.result.Status = RunStatusSucceeded
	case s.Created+s.Updated+s.Unchanged > 0:
		st.result.Status = RunStatusPartial
	default:
		st.result.Status = RunStatusFailed
	}

	o.logger.Info().
		Str("batch_id", st.result.BatchID).
		Str("status", string(st.result.Status)).
		Int("created", s.Created).
		Int("updated", s.Updated).
		Int("unchanged", s.Unchanged).
		Int("failed", s.Failed).
		Int("skipped", s.Skipped).
		Float64("success_rate", s.SuccessRate()).
		Msg("bulk run finished")
}

// normalizedBatch is the deduplicated, ordered working form of a batch.
type normalizedBatch struct {
	ordering *TypeOrdering
	records  map[catalog.ResourceType][]Record
	invalid  []RecordResult
	total    int
}

// normalize flattens a batch into deduplicated per-type record lists and
// synthesizes minimal records for referenced resources that carry no
// explicit record, so that every distinct dependency is converged exactly
// once per run.
func normalize(records []Record) (*normalizedBatch, error) {
	nb := &normalizedBatch{
		records: make(map[catalog.ResourceType][]Record),
	}
	seen := make(map[resKey]int) // index into nb.records[type] plus 1
	synthesized := make(map[resKey]bool)

	queue := make([]Record, 0, len(records))
	explicit := make([]bool, 0, len(records))
	for _, r := range records {
		queue = append(queue, r)
		explicit = append(explicit, true)
	}

	for qi := 0; qi < len(queue); qi++ {
		rec := queue[qi]
		isExplicit := explicit[qi]

		rec.Name = strings.TrimSpace(rec.Name)
		desc, err := catalog.Lookup(rec.Type)
		if err != nil {
			nb.invalid = append(nb.invalid, RecordResult{
				Type:   rec.Type,
				Name:   rec.Name,
				Action: ActionError,
				Error: NewValidationError("unsupported resource type", err).
					WithCode(ErrCodeUnsupportedType).
					WithResourceType(string(rec.Type)),
			})
			continue
		}
		if rec.Name == "" {
			// Malformed records stay in the list so they fail when
			// attempted, preserving the processing position failures and
			// rollbacks are reported against.
			nb.records[rec.Type] = append(nb.records[rec.Type], rec)
			continue
		}

		key := resKey{Type: rec.Type, Key: rec.Key()}
		if idx, dup := seen[key]; dup {
			// Explicit records upgrade synthesized placeholders; duplicate
			// explicit records keep the first occurrence.
			if isExplicit && synthesized[key] {
				nb.records[rec.Type][idx-1] = rec
				synthesized[key] = false
			}
			continue
		}
		nb.records[rec.Type] = append(nb.records[rec.Type], rec)
		seen[key] = len(nb.records[rec.Type])
		synthesized[key] = !isExplicit

		// Synthesize records for referenced resources, carrying over any
		// hint refs that are relation fields of the referenced type.
		for field, refName := range rec.Refs {
			f, ok := desc.FieldByName(field)
			if !ok || f.Kind != catalog.FieldRelation {
				continue
			}
			refName = strings.TrimSpace(refName)
			if refName == "" {
				continue
			}
			refDesc, err := catalog.Lookup(f.Ref)
			if err != nil {
				continue
			}
			synth := Record{
				Type:   f.Ref,
				Name:   refName,
				Fields: DesiredState{refDesc.NaturalKey: refName},
			}
			for hintField, hintName := range rec.Refs {
				if hintField == field {
					continue
				}
				if hf, ok := refDesc.FieldByName(hintField); ok && hf.Kind == catalog.FieldRelation {
					if synth.Refs == nil {
						synth.Refs = make(map[string]string)
					}
					synth.Refs[hintField] = hintName
				}
			}
			queue = append(queue, synth)
			explicit = append(explicit, false)
		}
	}

	present := make([]catalog.ResourceType, 0, len(nb.records))
	for rt := range nb.records {
		present = append(present, rt)
	}
	ordering, err := OrderTypes(present)
	if err != nil {
		return nil, err
	}
	nb.ordering = ordering

	for _, rt := range ordering.All() {
		nb.total += len(nb.records[rt])
	}
	return nb, nil
}
