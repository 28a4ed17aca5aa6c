package remote

import (
	"context"
	"errors"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/racksync/racksync/pkg/cache"
	"github.com/racksync/racksync/pkg/catalog"
	"github.com/racksync/racksync/pkg/engine"
	"github.com/racksync/racksync/pkg/telemetry"
)

// Config carries the proxy collaborators and safety switches.
type Config struct {
	// Cache is the read cache; nil disables caching.
	Cache *cache.Cache

	// Policy gates writes before execution; nil allows everything.
	Policy engine.PolicyGate

	// Audit records executed writes; nil disables auditing.
	Audit engine.AuditSink

	// Metrics records proxy activity; nil disables metric recording.
	Metrics *telemetry.Metrics

	// DryRun simulates every write instead of executing it.
	DryRun bool

	// WritesEnabled permits real remote writes. Dry-run simulation works
	// regardless, so previews never require enabling writes.
	WritesEnabled bool
}

// Proxy implements engine.Proxy over a transport Client.
type Proxy struct {
	client  Client
	cache   *cache.Cache
	policy  engine.PolicyGate
	audit   engine.AuditSink
	metrics *telemetry.Metrics
	logger  zerolog.Logger

	dryRun        bool
	writesEnabled bool
	batchID       string

	// placeholders mints negative ids for dry-run creates. Shared across
	// batch-scoped views so placeholders stay unique within a process.
	placeholders *atomic.Int64
}

var _ engine.Proxy = (*Proxy)(nil)

// NewProxy creates a safety-gated proxy over the given transport.
func NewProxy(client Client, logger zerolog.Logger, cfg Config) *Proxy {
	metrics := cfg.Metrics
	if metrics == nil {
		metrics, _ = telemetry.NewMetrics(telemetry.MetricsConfig{})
	}
	return &Proxy{
		client:        client,
		cache:         cfg.Cache,
		policy:        cfg.Policy,
		audit:         cfg.Audit,
		metrics:       metrics,
		logger:        logger.With().Str("component", "remote").Logger(),
		dryRun:        cfg.DryRun,
		writesEnabled: cfg.WritesEnabled,
		placeholders:  new(atomic.Int64),
	}
}

// List returns the objects of a type matching the filters, cache-first.
func (p *Proxy) List(ctx context.Context, rt catalog.ResourceType, filters engine.Filters) ([]engine.Object, error) {
	desc, err := catalog.Lookup(rt)
	if err != nil {
		return nil, unknownType(rt, "list", err)
	}

	sub := cache.FilterKey(filters)
	if v, ok := p.cache.Get(rt, sub); ok {
		if objs, ok := v.([]engine.Object); ok {
			p.metrics.RecordCacheLookup(true)
			return objs, nil
		}
	}
	p.metrics.RecordCacheLookup(false)

	var raw []engine.Object
	if err := p.remoteCall(ctx, "list", rt, func(ctx context.Context) error {
		var listErr error
		raw, listErr = p.client.List(ctx, desc.Path, queryOf(filters))
		return listErr
	}); err != nil {
		return nil, err
	}

	objs := normalizeObjects(raw)
	p.cache.Set(rt, sub, objs)
	p.metrics.SetCacheEntries(p.cache.Len())
	return objs, nil
}

// Get returns a single object by identifier, cache-first.
func (p *Proxy) Get(ctx context.Context, rt catalog.ResourceType, id int64) (engine.Object, error) {
	desc, err := catalog.Lookup(rt)
	if err != nil {
		return nil, unknownType(rt, "get", err)
	}

	sub := cache.GetKey(id)
	if v, ok := p.cache.Get(rt, sub); ok {
		if obj, ok := v.(engine.Object); ok {
			p.metrics.RecordCacheLookup(true)
			return obj, nil
		}
	}
	p.metrics.RecordCacheLookup(false)

	var raw engine.Object
	if err := p.remoteCall(ctx, "get", rt, func(ctx context.Context) error {
		var getErr error
		raw, getErr = p.client.Get(ctx, desc.Path, id)
		return getErr
	}); err != nil {
		return nil, err
	}

	obj := normalizeObject(raw)
	p.cache.Set(rt, sub, obj)
	return obj, nil
}

// Create writes a new object through the gate sequence.
func (p *Proxy) Create(ctx context.Context, rt catalog.ResourceType, payload map[string]interface{}, confirmed bool) (engine.Object, error) {
	desc, err := catalog.Lookup(rt)
	if err != nil {
		return nil, unknownType(rt, "create", err)
	}

	intent := engine.WriteIntent{
		Kind:    engine.OpCreate,
		Type:    rt,
		Payload: payload,
		BatchID: p.batchID,
		DryRun:  p.dryRun,
	}
	if err := p.gate(ctx, intent, confirmed); err != nil {
		return nil, err
	}

	if p.dryRun {
		obj := p.synthesize(payload)
		p.logger.Info().
			Str("type", string(rt)).
			Int64("id", obj.ID()).
			Msg("dry-run create")
		p.recordAudit(ctx, engine.WriteAudit{
			BatchID:    p.batchID,
			Kind:       engine.OpCreate,
			Type:       rt,
			ResourceID: obj.ID(),
			Payload:    payload,
			Outcome:    "ok",
			DryRun:     true,
			At:         time.Now(),
		})
		return obj, nil
	}

	timer := telemetry.NewTimer()
	var raw engine.Object
	err = p.remoteCall(ctx, "create", rt, func(ctx context.Context) error {
		var createErr error
		raw, createErr = p.client.Create(ctx, desc.Path, payload)
		return createErr
	})
	duration := timer.Duration()

	// The write may have landed even when the response failed, so the
	// type's cached listings go regardless of outcome.
	p.cache.InvalidatePattern(string(rt))

	if err != nil {
		p.recordAudit(ctx, engine.WriteAudit{
			BatchID:  p.batchID,
			Kind:     engine.OpCreate,
			Type:     rt,
			Payload:  payload,
			Outcome:  "error",
			Error:    err.Error(),
			Duration: duration,
			At:       time.Now(),
		})
		return nil, err
	}

	obj := normalizeObject(raw)
	p.recordAudit(ctx, engine.WriteAudit{
		BatchID:    p.batchID,
		Kind:       engine.OpCreate,
		Type:       rt,
		ResourceID: obj.ID(),
		Payload:    payload,
		Outcome:    "ok",
		Duration:   duration,
		At:         time.Now(),
	})
	p.publishWrite(ctx, "create", rt, obj.ID())
	p.logger.Info().
		Str("type", string(rt)).
		Int64("id", obj.ID()).
		Dur("duration", duration).
		Msg("created")
	return obj, nil
}

// Update patches the fields present in payload onto the object, fetching
// the current object first to verify it exists.
func (p *Proxy) Update(ctx context.Context, rt catalog.ResourceType, id int64, payload map[string]interface{}, confirmed bool) (engine.Object, error) {
	desc, err := catalog.Lookup(rt)
	if err != nil {
		return nil, unknownType(rt, "update", err)
	}

	intent := engine.WriteIntent{
		Kind:       engine.OpUpdate,
		Type:       rt,
		ResourceID: id,
		Payload:    payload,
		BatchID:    p.batchID,
		DryRun:     p.dryRun,
	}
	if err := p.gate(ctx, intent, confirmed); err != nil {
		return nil, err
	}

	if p.dryRun {
		return p.simulateUpdate(ctx, rt, id, payload)
	}

	if err := p.remoteCall(ctx, "get", rt, func(ctx context.Context) error {
		_, getErr := p.client.Get(ctx, desc.Path, id)
		return getErr
	}); err != nil {
		return nil, err
	}

	timer := telemetry.NewTimer()
	var raw engine.Object
	err = p.remoteCall(ctx, "update", rt, func(ctx context.Context) error {
		var updateErr error
		raw, updateErr = p.client.Update(ctx, desc.Path, id, payload)
		return updateErr
	})
	duration := timer.Duration()

	p.cache.InvalidateForObject(rt, id)

	if err != nil {
		p.recordAudit(ctx, engine.WriteAudit{
			BatchID:    p.batchID,
			Kind:       engine.OpUpdate,
			Type:       rt,
			ResourceID: id,
			Payload:    payload,
			Outcome:    "error",
			Error:      err.Error(),
			Duration:   duration,
			At:         time.Now(),
		})
		return nil, err
	}

	obj := normalizeObject(raw)
	p.recordAudit(ctx, engine.WriteAudit{
		BatchID:    p.batchID,
		Kind:       engine.OpUpdate,
		Type:       rt,
		ResourceID: id,
		Payload:    payload,
		Outcome:    "ok",
		Duration:   duration,
		At:         time.Now(),
	})
	p.publishWrite(ctx, "update", rt, id)
	p.logger.Info().
		Str("type", string(rt)).
		Int64("id", id).
		Dur("duration", duration).
		Msg("updated")
	return obj, nil
}

// simulateUpdate previews an update without writing: the current object is
// fetched read-only and the payload merged over a copy. Placeholder targets
// from earlier dry-run creates have nothing to fetch and echo the payload.
func (p *Proxy) simulateUpdate(ctx context.Context, rt catalog.ResourceType, id int64, payload map[string]interface{}) (engine.Object, error) {
	var merged engine.Object
	if id < 0 {
		merged = make(engine.Object, len(payload)+1)
	} else {
		current, err := p.Get(ctx, rt, id)
		if err != nil {
			return nil, err
		}
		merged = make(engine.Object, len(current)+len(payload))
		for k, v := range current {
			merged[k] = v
		}
	}
	for k, v := range payload {
		merged[k] = v
	}
	merged["id"] = id

	p.logger.Info().
		Str("type", string(rt)).
		Int64("id", id).
		Msg("dry-run update")
	p.recordAudit(ctx, engine.WriteAudit{
		BatchID:    p.batchID,
		Kind:       engine.OpUpdate,
		Type:       rt,
		ResourceID: id,
		Payload:    payload,
		Outcome:    "ok",
		DryRun:     true,
		At:         time.Now(),
	})
	return merged, nil
}

// Delete removes an object, verifying existence first.
func (p *Proxy) Delete(ctx context.Context, rt catalog.ResourceType, id int64, confirmed bool) error {
	desc, err := catalog.Lookup(rt)
	if err != nil {
		return unknownType(rt, "delete", err)
	}

	intent := engine.WriteIntent{
		Kind:       engine.OpDelete,
		Type:       rt,
		ResourceID: id,
		BatchID:    p.batchID,
		DryRun:     p.dryRun,
	}
	if err := p.gate(ctx, intent, confirmed); err != nil {
		return err
	}

	if p.dryRun {
		// Placeholders from dry-run creates never reached the server.
		if id >= 0 {
			if _, err := p.Get(ctx, rt, id); err != nil {
				return err
			}
		}
		p.logger.Info().
			Str("type", string(rt)).
			Int64("id", id).
			Msg("dry-run delete")
		p.recordAudit(ctx, engine.WriteAudit{
			BatchID:    p.batchID,
			Kind:       engine.OpDelete,
			Type:       rt,
			ResourceID: id,
			Outcome:    "ok",
			DryRun:     true,
			At:         time.Now(),
		})
		return nil
	}

	if err := p.remoteCall(ctx, "get", rt, func(ctx context.Context) error {
		_, getErr := p.client.Get(ctx, desc.Path, id)
		return getErr
	}); err != nil {
		return err
	}

	timer := telemetry.NewTimer()
	err = p.remoteCall(ctx, "delete", rt, func(ctx context.Context) error {
		return p.client.Delete(ctx, desc.Path, id)
	})
	duration := timer.Duration()

	p.cache.InvalidateForObject(rt, id)

	if err != nil {
		p.recordAudit(ctx, engine.WriteAudit{
			BatchID:    p.batchID,
			Kind:       engine.OpDelete,
			Type:       rt,
			ResourceID: id,
			Outcome:    "error",
			Error:      err.Error(),
			Duration:   duration,
			At:         time.Now(),
		})
		return err
	}

	p.recordAudit(ctx, engine.WriteAudit{
		BatchID:    p.batchID,
		Kind:       engine.OpDelete,
		Type:       rt,
		ResourceID: id,
		Outcome:    "ok",
		Duration:   duration,
		At:         time.Now(),
	})
	p.publishWrite(ctx, "delete", rt, id)
	p.logger.Info().
		Str("type", string(rt)).
		Int64("id", id).
		Dur("duration", duration).
		Msg("deleted")
	return nil
}

// ListExpanded bypasses the cache and normalization, passing the expansion
// query through to the remote API.
func (p *Proxy) ListExpanded(ctx context.Context, rt catalog.ResourceType, filters engine.Filters, expand string) ([]engine.Object, error) {
	desc, err := catalog.Lookup(rt)
	if err != nil {
		return nil, unknownType(rt, "list", err)
	}

	q := queryOf(filters)
	if expand != "" {
		q.Set("expand", expand)
	}

	var objs []engine.Object
	if err := p.remoteCall(ctx, "list", rt, func(ctx context.Context) error {
		var listErr error
		objs, listErr = p.client.List(ctx, desc.Path, q)
		return listErr
	}); err != nil {
		return nil, err
	}
	return objs, nil
}

// DryRun reports whether the proxy simulates writes.
func (p *Proxy) DryRun() bool {
	return p.dryRun
}

// BatchID returns the bulk-run identifier writes are attributed to.
func (p *Proxy) BatchID() string {
	return p.batchID
}

// WithBatchID returns a proxy view that stamps the given bulk-run
// identifier on audit records and policy intents. Cache, transport, and
// the placeholder counter are shared with the parent.
func (p *Proxy) WithBatchID(batchID string) engine.Proxy {
	clone := *p
	clone.batchID = batchID
	clone.logger = p.logger.With().Str("batch_id", batchID).Logger()
	return &clone
}

// gate runs the pre-network safety checks in their fixed order:
// confirmation, then policy, then the write-enable flag. Dry-run writes
// skip the write-enable check since they never reach the network.
func (p *Proxy) gate(ctx context.Context, intent engine.WriteIntent, confirmed bool) error {
	if !confirmed {
		p.metrics.RecordWriteRefused("unconfirmed")
		p.publishRefusal(ctx, intent, "unconfirmed", nil)
		return engine.NewConfirmationError("write requires explicit confirmation").
			WithResourceType(string(intent.Type)).
			WithOperation(string(intent.Kind))
	}

	if p.policy != nil {
		if err := p.policy.CheckWrite(ctx, intent); err != nil {
			p.metrics.RecordPolicyDecision("deny")
			p.metrics.RecordWriteRefused("policy")
			p.publishRefusal(ctx, intent, "policy", err)
			return err
		}
		p.metrics.RecordPolicyDecision("allow")
	}

	if !p.dryRun && !p.writesEnabled {
		p.metrics.RecordWriteRefused("writes_disabled")
		p.publishRefusal(ctx, intent, "writes_disabled", nil)
		return engine.NewConfirmationError("writes are disabled in configuration").
			WithCode(engine.ErrCodeWriteDisabled).
			WithResourceType(string(intent.Type)).
			WithOperation(string(intent.Kind))
	}

	return nil
}

// remoteCall runs one transport call, timing it into the proxy metrics and
// recording a remote span when the context carries a telemetry instance.
func (p *Proxy) remoteCall(ctx context.Context, operation string, rt catalog.ResourceType, fn func(context.Context) error) error {
	var span trace.Span
	if tel := telemetry.FromTelemetryContext(ctx); tel != nil {
		ctx, span = tel.Tracer.StartRemoteSpan(ctx, operation, string(rt))
		defer span.End()
	}

	timer := telemetry.NewTimer()
	err := fn(ctx)
	p.metrics.RecordRemoteCall(operation, string(rt), timer.Duration())
	if err != nil {
		p.metrics.RecordRemoteError(operation, errCode(err))
		if span != nil {
			telemetry.RecordError(span, err)
		}
		return err
	}
	if span != nil {
		telemetry.RecordSuccess(span)
	}
	return nil
}

// publishWrite emits the write-executed event for real writes.
func (p *Proxy) publishWrite(ctx context.Context, operation string, rt catalog.ResourceType, id int64) {
	if tel := telemetry.FromTelemetryContext(ctx); tel != nil {
		_ = tel.Events.PublishWriteExecuted(p.batchID, operation, string(rt), id)
	}
}

// publishRefusal emits the refused-write event, plus the policy-denied
// event when the refusal came from the policy gate.
func (p *Proxy) publishRefusal(ctx context.Context, intent engine.WriteIntent, reason string, policyErr error) {
	tel := telemetry.FromTelemetryContext(ctx)
	if tel == nil {
		return
	}
	name, _ := intent.Payload["name"].(string)
	_ = tel.Events.PublishWriteRefused(string(intent.Type), name, reason)
	if policyErr != nil {
		_ = tel.Events.PublishPolicyDenied(string(intent.Type), name, policyErr.Error())
	}
}

// synthesize builds the dry-run stand-in for a created object: the payload
// echoed back under a fresh negative placeholder id.
func (p *Proxy) synthesize(payload map[string]interface{}) engine.Object {
	obj := make(engine.Object, len(payload)+1)
	for k, v := range payload {
		obj[k] = v
	}
	obj["id"] = -p.placeholders.Add(1)
	return obj
}

// recordAudit persists a write record. Failures are logged and swallowed;
// the write already happened. The sink gets a detached context so a caller
// cancellation arriving after the write cannot lose the record.
func (p *Proxy) recordAudit(ctx context.Context, audit engine.WriteAudit) {
	if p.audit == nil {
		return
	}
	if err := p.audit.RecordWrite(context.WithoutCancel(ctx), audit); err != nil {
		p.metrics.RecordAuditWrite(false)
		p.logger.Error().
			Err(err).
			Str("kind", string(audit.Kind)).
			Str("type", string(audit.Type)).
			Msg("audit write failed")
		return
	}
	p.metrics.RecordAuditWrite(true)
}

// queryOf converts engine filters to URL query parameters.
func queryOf(filters engine.Filters) url.Values {
	q := make(url.Values, len(filters))
	for k, v := range filters {
		q.Set(k, v)
	}
	return q
}

// normalizeObject coerces the server-assigned id to int64 so every layer
// above sees one shape. Relation fields are left as the server sent them;
// the diff engine resolves both bare ids and expanded objects.
func normalizeObject(obj engine.Object) engine.Object {
	if obj == nil {
		return engine.Object{}
	}
	if id := obj.ID(); id != 0 {
		obj["id"] = id
	}
	return obj
}

func normalizeObjects(objs []engine.Object) []engine.Object {
	out := make([]engine.Object, len(objs))
	for i, o := range objs {
		out[i] = normalizeObject(o)
	}
	return out
}

// unknownType builds the validation error for a type the catalog does not
// know.
func unknownType(rt catalog.ResourceType, operation string, err error) error {
	return engine.NewValidationError("unknown resource type", err).
		WithCode(engine.ErrCodeUnsupportedType).
		WithResourceType(string(rt)).
		WithOperation(operation)
}

// errCode extracts the classified error code for metric labels.
func errCode(err error) string {
	var se *engine.SyncError
	if errors.As(err, &se) {
		if se.Code != "" {
			return se.Code
		}
		return string(se.Class)
	}
	return "unknown"
}
