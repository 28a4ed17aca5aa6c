package remote

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/racksync/racksync/pkg/cache"
	"github.com/racksync/racksync/pkg/catalog"
	"github.com/racksync/racksync/pkg/engine"
	"github.com/racksync/racksync/pkg/telemetry"
)

type clientCall struct {
	op   string
	path string
	id   int64
}

// mockClient is an in-memory transport double keyed by collection path.
type mockClient struct {
	mu      sync.Mutex
	objects map[string][]engine.Object
	nextID  int64
	calls   []clientCall

	listErr   map[string]error
	createErr map[string]error
	updateErr map[string]error
	deleteErr map[string]error
}

func newMockClient() *mockClient {
	return &mockClient{
		objects:   make(map[string][]engine.Object),
		listErr:   make(map[string]error),
		createErr: make(map[string]error),
		updateErr: make(map[string]error),
		deleteErr: make(map[string]error),
	}
}

func (m *mockClient) seed(rt catalog.ResourceType, fields map[string]interface{}) engine.Object {
	m.mu.Lock()
	defer m.mu.Unlock()
	desc := catalog.MustLookup(rt)
	m.nextID++
	obj := engine.Object{"id": m.nextID}
	for k, v := range fields {
		obj[k] = v
	}
	m.objects[desc.Path] = append(m.objects[desc.Path], obj)
	return obj
}

func (m *mockClient) record(op, path string, id int64) {
	m.calls = append(m.calls, clientCall{op: op, path: path, id: id})
}

func (m *mockClient) callsFor(op string) []clientCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []clientCall
	for _, c := range m.calls {
		if c.op == op {
			out = append(out, c)
		}
	}
	return out
}

func (m *mockClient) List(ctx context.Context, path string, query url.Values) ([]engine.Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("list", path, 0)
	if err := m.listErr[path]; err != nil {
		return nil, err
	}
	var out []engine.Object
	for _, obj := range m.objects[path] {
		match := true
		for k, vs := range query {
			if k == "expand" {
				continue
			}
			if fmt.Sprint(obj[k]) != vs[0] {
				match = false
				break
			}
		}
		if match {
			out = append(out, obj)
		}
	}
	return out, nil
}

func (m *mockClient) Get(ctx context.Context, path string, id int64) (engine.Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("get", path, id)
	for _, obj := range m.objects[path] {
		if obj.ID() == id {
			return obj, nil
		}
	}
	return nil, engine.NewNotFoundError("object not found", nil).WithDetail("id", id)
}

func (m *mockClient) Create(ctx context.Context, path string, payload map[string]interface{}) (engine.Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("create", path, 0)
	if err := m.createErr[path]; err != nil {
		return nil, err
	}
	m.nextID++
	obj := engine.Object{"id": m.nextID}
	for k, v := range payload {
		obj[k] = v
	}
	m.objects[path] = append(m.objects[path], obj)
	return obj, nil
}

func (m *mockClient) Update(ctx context.Context, path string, id int64, payload map[string]interface{}) (engine.Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("update", path, id)
	if err := m.updateErr[path]; err != nil {
		return nil, err
	}
	for _, obj := range m.objects[path] {
		if obj.ID() == id {
			for k, v := range payload {
				obj[k] = v
			}
			return obj, nil
		}
	}
	return nil, engine.NewNotFoundError("object not found", nil).WithDetail("id", id)
}

func (m *mockClient) Delete(ctx context.Context, path string, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("delete", path, id)
	if err := m.deleteErr[path]; err != nil {
		return err
	}
	objs := m.objects[path]
	for i, obj := range objs {
		if obj.ID() == id {
			m.objects[path] = append(objs[:i], objs[i+1:]...)
			return nil
		}
	}
	return engine.NewNotFoundError("object not found", nil).WithDetail("id", id)
}

// mockGate rejects writes with a fixed error and records intents.
type mockGate struct {
	mu      sync.Mutex
	err     error
	intents []engine.WriteIntent
}

func (g *mockGate) CheckWrite(ctx context.Context, intent engine.WriteIntent) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.intents = append(g.intents, intent)
	return g.err
}

// mockSink collects audit records.
type mockSink struct {
	mu     sync.Mutex
	err    error
	audits []engine.WriteAudit
}

func (s *mockSink) RecordWrite(ctx context.Context, audit engine.WriteAudit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audits = append(s.audits, audit)
	return s.err
}

func (s *mockSink) all() []engine.WriteAudit {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]engine.WriteAudit(nil), s.audits...)
}

func newTestProxy(client *mockClient, cfg Config) *Proxy {
	if cfg.Cache == nil {
		cfg.Cache = cache.New(cache.Config{})
	}
	return NewProxy(client, zerolog.Nop(), cfg)
}

func TestProxy_List_CachesResults(t *testing.T) {
	client := newMockClient()
	client.seed(catalog.TypeSite, map[string]interface{}{"name": "FRA1"})
	client.seed(catalog.TypeSite, map[string]interface{}{"name": "AMS1"})
	proxy := newTestProxy(client, Config{WritesEnabled: true})

	first, err := proxy.List(context.Background(), catalog.TypeSite, nil)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(first) != 2 {
		t.Fatalf("Expected 2 objects, got %d", len(first))
	}

	second, err := proxy.List(context.Background(), catalog.TypeSite, nil)
	if err != nil {
		t.Fatalf("Expected no error on cached list, got %v", err)
	}
	if len(second) != 2 {
		t.Errorf("Expected 2 objects from cache, got %d", len(second))
	}
	if calls := client.callsFor("list"); len(calls) != 1 {
		t.Errorf("Expected 1 transport list call, got %d", len(calls))
	}
}

func TestProxy_List_FilterKeysShareCacheEntry(t *testing.T) {
	client := newMockClient()
	client.seed(catalog.TypeDevice, map[string]interface{}{"name": "sw-1", "site": int64(1)})
	proxy := newTestProxy(client, Config{WritesEnabled: true})

	if _, err := proxy.List(context.Background(), catalog.TypeDevice, engine.Filters{"name": "sw-1", "site": "1"}); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	// Same filters, different insertion order.
	if _, err := proxy.List(context.Background(), catalog.TypeDevice, engine.Filters{"site": "1", "name": "sw-1"}); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if calls := client.callsFor("list"); len(calls) != 1 {
		t.Errorf("Expected identical filters to share one cache entry, got %d transport calls", len(calls))
	}
}

func TestProxy_Get_CacheFirst(t *testing.T) {
	client := newMockClient()
	obj := client.seed(catalog.TypeSite, map[string]interface{}{"name": "FRA1"})
	proxy := newTestProxy(client, Config{WritesEnabled: true})

	for i := 0; i < 2; i++ {
		got, err := proxy.Get(context.Background(), catalog.TypeSite, obj.ID())
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if got.StringField("name") != "FRA1" {
			t.Errorf("Expected name FRA1, got %q", got.StringField("name"))
		}
	}
	if calls := client.callsFor("get"); len(calls) != 1 {
		t.Errorf("Expected 1 transport get call, got %d", len(calls))
	}
}

func TestProxy_Get_NotFoundPassesThrough(t *testing.T) {
	proxy := newTestProxy(newMockClient(), Config{WritesEnabled: true})

	_, err := proxy.Get(context.Background(), catalog.TypeSite, 99)
	if err == nil {
		t.Fatal("Expected not-found error")
	}
	if !engine.IsNotFound(err) {
		t.Errorf("Expected not-found classification, got %v", err)
	}
}

func TestProxy_Create_RequiresConfirmation(t *testing.T) {
	client := newMockClient()
	sink := &mockSink{}
	proxy := newTestProxy(client, Config{WritesEnabled: true, Audit: sink})

	_, err := proxy.Create(context.Background(), catalog.TypeSite, map[string]interface{}{"name": "FRA1"}, false)
	if err == nil {
		t.Fatal("Expected confirmation error")
	}
	if !engine.IsConfirmationRequired(err) {
		t.Errorf("Expected confirmation classification, got %v", err)
	}
	if !engine.IsPreNetwork(err) {
		t.Error("Expected a pre-network error")
	}
	if len(client.calls) != 0 {
		t.Errorf("Expected no transport calls, got %d", len(client.calls))
	}
	if len(sink.all()) != 0 {
		t.Errorf("Expected no audit records for a refused write, got %d", len(sink.all()))
	}
}

func TestProxy_Create_PolicyDenialPreNetwork(t *testing.T) {
	client := newMockClient()
	gate := &mockGate{err: engine.NewPolicyError("sites are frozen", nil)}
	sink := &mockSink{}
	proxy := newTestProxy(client, Config{WritesEnabled: true, Policy: gate, Audit: sink})

	_, err := proxy.Create(context.Background(), catalog.TypeSite, map[string]interface{}{"name": "FRA1"}, true)
	if err == nil {
		t.Fatal("Expected policy error")
	}
	if !engine.IsPolicyDenied(err) {
		t.Errorf("Expected policy classification, got %v", err)
	}
	if len(client.calls) != 0 {
		t.Errorf("Expected no transport calls, got %d", len(client.calls))
	}
	if len(sink.all()) != 0 {
		t.Errorf("Expected no audit records for a denied write, got %d", len(sink.all()))
	}
	if len(gate.intents) != 1 {
		t.Fatalf("Expected 1 policy intent, got %d", len(gate.intents))
	}
	if gate.intents[0].Kind != engine.OpCreate || gate.intents[0].Type != catalog.TypeSite {
		t.Errorf("Expected create intent for dcim.site, got %+v", gate.intents[0])
	}
}

func TestProxy_Create_WritesDisabled(t *testing.T) {
	client := newMockClient()
	proxy := newTestProxy(client, Config{WritesEnabled: false})

	_, err := proxy.Create(context.Background(), catalog.TypeSite, map[string]interface{}{"name": "FRA1"}, true)
	if err == nil {
		t.Fatal("Expected write-disabled error")
	}
	var se *engine.SyncError
	if !asSyncError(err, &se) || se.Code != engine.ErrCodeWriteDisabled {
		t.Errorf("Expected code %s, got %v", engine.ErrCodeWriteDisabled, err)
	}
	if !engine.IsPreNetwork(err) {
		t.Error("Expected a pre-network error")
	}
	if len(client.calls) != 0 {
		t.Errorf("Expected no transport calls, got %d", len(client.calls))
	}
}

func TestProxy_Create_InvalidatesCachedListings(t *testing.T) {
	client := newMockClient()
	client.seed(catalog.TypeSite, map[string]interface{}{"name": "FRA1"})
	proxy := newTestProxy(client, Config{WritesEnabled: true})

	if _, err := proxy.List(context.Background(), catalog.TypeSite, nil); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if _, err := proxy.Create(context.Background(), catalog.TypeSite, map[string]interface{}{"name": "AMS1"}, true); err != nil {
		t.Fatalf("Expected create to succeed, got %v", err)
	}

	objs, err := proxy.List(context.Background(), catalog.TypeSite, nil)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(objs) != 2 {
		t.Errorf("Expected the fresh listing to include the new object, got %d objects", len(objs))
	}
	if calls := client.callsFor("list"); len(calls) != 2 {
		t.Errorf("Expected the cached listing to be invalidated by the write, got %d transport list calls", len(calls))
	}
}

func TestProxy_Create_Audited(t *testing.T) {
	client := newMockClient()
	sink := &mockSink{}
	proxy := newTestProxy(client, Config{WritesEnabled: true, Audit: sink})

	obj, err := proxy.Create(context.Background(), catalog.TypeSite, map[string]interface{}{"name": "FRA1"}, true)
	if err != nil {
		t.Fatalf("Expected create to succeed, got %v", err)
	}

	audits := sink.all()
	if len(audits) != 1 {
		t.Fatalf("Expected 1 audit record, got %d", len(audits))
	}
	a := audits[0]
	if a.Kind != engine.OpCreate {
		t.Errorf("Expected create kind, got %s", a.Kind)
	}
	if a.Outcome != "ok" {
		t.Errorf("Expected ok outcome, got %q", a.Outcome)
	}
	if a.ResourceID != obj.ID() {
		t.Errorf("Expected audit resource id %d, got %d", obj.ID(), a.ResourceID)
	}
	if a.DryRun {
		t.Error("Expected a real write audit, got dry-run")
	}
}

func TestProxy_Create_FailureAuditedAndInvalidates(t *testing.T) {
	client := newMockClient()
	client.seed(catalog.TypeSite, map[string]interface{}{"name": "FRA1"})
	desc := catalog.MustLookup(catalog.TypeSite)
	client.createErr[desc.Path] = engine.NewWriteError("server rejected the payload", nil)
	sink := &mockSink{}
	proxy := newTestProxy(client, Config{WritesEnabled: true, Audit: sink})

	if _, err := proxy.List(context.Background(), catalog.TypeSite, nil); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	_, err := proxy.Create(context.Background(), catalog.TypeSite, map[string]interface{}{"name": "AMS1"}, true)
	if err == nil {
		t.Fatal("Expected write error")
	}
	if !engine.IsWrite(err) {
		t.Errorf("Expected write classification, got %v", err)
	}

	audits := sink.all()
	if len(audits) != 1 {
		t.Fatalf("Expected the failed write to be audited, got %d records", len(audits))
	}
	if audits[0].Outcome != "error" {
		t.Errorf("Expected error outcome, got %q", audits[0].Outcome)
	}
	if audits[0].Error == "" {
		t.Error("Expected the audit record to carry the error text")
	}

	if _, err := proxy.List(context.Background(), catalog.TypeSite, nil); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if calls := client.callsFor("list"); len(calls) != 2 {
		t.Errorf("Expected cache invalidation even on a failed write, got %d transport list calls", len(calls))
	}
}

func TestProxy_DryRun_CreateSynthesizesPlaceholders(t *testing.T) {
	client := newMockClient()
	sink := &mockSink{}
	proxy := newTestProxy(client, Config{WritesEnabled: true, DryRun: true, Audit: sink})

	first, err := proxy.Create(context.Background(), catalog.TypeSite, map[string]interface{}{"name": "FRA1"}, true)
	if err != nil {
		t.Fatalf("Expected dry-run create to succeed, got %v", err)
	}
	second, err := proxy.Create(context.Background(), catalog.TypeSite, map[string]interface{}{"name": "AMS1"}, true)
	if err != nil {
		t.Fatalf("Expected dry-run create to succeed, got %v", err)
	}

	if first.ID() >= 0 || second.ID() >= 0 {
		t.Errorf("Expected negative placeholder ids, got %d and %d", first.ID(), second.ID())
	}
	if first.ID() == second.ID() {
		t.Errorf("Expected distinct placeholder ids, got %d twice", first.ID())
	}
	if first.StringField("name") != "FRA1" {
		t.Errorf("Expected the payload echoed back, got %q", first.StringField("name"))
	}
	if len(client.calls) != 0 {
		t.Errorf("Expected no transport calls in dry-run, got %d", len(client.calls))
	}

	audits := sink.all()
	if len(audits) != 2 {
		t.Fatalf("Expected 2 audit records, got %d", len(audits))
	}
	if !audits[0].DryRun {
		t.Error("Expected dry-run audits")
	}
}

func TestProxy_Update_FetchThenPatch(t *testing.T) {
	client := newMockClient()
	obj := client.seed(catalog.TypeSite, map[string]interface{}{"name": "FRA1", "status": "planned"})
	sink := &mockSink{}
	proxy := newTestProxy(client, Config{WritesEnabled: true, Audit: sink})

	updated, err := proxy.Update(context.Background(), catalog.TypeSite, obj.ID(), map[string]interface{}{"status": "active"}, true)
	if err != nil {
		t.Fatalf("Expected update to succeed, got %v", err)
	}
	if updated.StringField("status") != "active" {
		t.Errorf("Expected status active, got %q", updated.StringField("status"))
	}

	gets := client.callsFor("get")
	updates := client.callsFor("update")
	if len(gets) != 1 || len(updates) != 1 {
		t.Errorf("Expected fetch-then-patch (1 get, 1 update), got %d gets and %d updates", len(gets), len(updates))
	}

	audits := sink.all()
	if len(audits) != 1 || audits[0].Kind != engine.OpUpdate {
		t.Fatalf("Expected 1 update audit, got %+v", audits)
	}
}

func TestProxy_Update_MissingTargetFailsBeforePatch(t *testing.T) {
	client := newMockClient()
	sink := &mockSink{}
	proxy := newTestProxy(client, Config{WritesEnabled: true, Audit: sink})

	_, err := proxy.Update(context.Background(), catalog.TypeSite, 42, map[string]interface{}{"status": "active"}, true)
	if err == nil {
		t.Fatal("Expected not-found error")
	}
	if !engine.IsNotFound(err) {
		t.Errorf("Expected not-found classification, got %v", err)
	}
	if calls := client.callsFor("update"); len(calls) != 0 {
		t.Errorf("Expected no patch for a missing target, got %d update calls", len(calls))
	}
	if len(sink.all()) != 0 {
		t.Errorf("Expected no audit record when no write executed, got %d", len(sink.all()))
	}
}

func TestProxy_Update_InvalidatesObjectEntry(t *testing.T) {
	client := newMockClient()
	obj := client.seed(catalog.TypeSite, map[string]interface{}{"name": "FRA1", "status": "planned"})
	proxy := newTestProxy(client, Config{WritesEnabled: true})

	if _, err := proxy.Get(context.Background(), catalog.TypeSite, obj.ID()); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if _, err := proxy.Update(context.Background(), catalog.TypeSite, obj.ID(), map[string]interface{}{"status": "active"}, true); err != nil {
		t.Fatalf("Expected update to succeed, got %v", err)
	}

	fresh, err := proxy.Get(context.Background(), catalog.TypeSite, obj.ID())
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if fresh.StringField("status") != "active" {
		t.Errorf("Expected the cached object to be refreshed after the write, got status %q", fresh.StringField("status"))
	}
}

func TestProxy_DryRun_UpdateMergesWithoutWriting(t *testing.T) {
	client := newMockClient()
	obj := client.seed(catalog.TypeSite, map[string]interface{}{"name": "FRA1", "status": "planned"})
	proxy := newTestProxy(client, Config{WritesEnabled: true, DryRun: true})

	merged, err := proxy.Update(context.Background(), catalog.TypeSite, obj.ID(), map[string]interface{}{"status": "active"}, true)
	if err != nil {
		t.Fatalf("Expected dry-run update to succeed, got %v", err)
	}
	if merged.StringField("status") != "active" {
		t.Errorf("Expected merged status active, got %q", merged.StringField("status"))
	}
	if merged.StringField("name") != "FRA1" {
		t.Errorf("Expected untouched fields preserved, got name %q", merged.StringField("name"))
	}
	if calls := client.callsFor("update"); len(calls) != 0 {
		t.Errorf("Expected no patch in dry-run, got %d update calls", len(calls))
	}

	live, err := proxy.ListExpanded(context.Background(), catalog.TypeSite, nil, "")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if live[0].StringField("status") != "planned" {
		t.Errorf("Expected the server object untouched, got status %q", live[0].StringField("status"))
	}
}

func TestProxy_Delete_VerifiesExistence(t *testing.T) {
	client := newMockClient()
	sink := &mockSink{}
	proxy := newTestProxy(client, Config{WritesEnabled: true, Audit: sink})

	err := proxy.Delete(context.Background(), catalog.TypeSite, 77, true)
	if err == nil {
		t.Fatal("Expected not-found error")
	}
	if !engine.IsNotFound(err) {
		t.Errorf("Expected not-found classification, got %v", err)
	}
	if calls := client.callsFor("delete"); len(calls) != 0 {
		t.Errorf("Expected no delete call for a missing target, got %d", len(calls))
	}
	if len(sink.all()) != 0 {
		t.Errorf("Expected no audit record when no write executed, got %d", len(sink.all()))
	}
}

func TestProxy_Delete_RemovesAndAudits(t *testing.T) {
	client := newMockClient()
	obj := client.seed(catalog.TypeSite, map[string]interface{}{"name": "FRA1"})
	sink := &mockSink{}
	proxy := newTestProxy(client, Config{WritesEnabled: true, Audit: sink})

	if err := proxy.Delete(context.Background(), catalog.TypeSite, obj.ID(), true); err != nil {
		t.Fatalf("Expected delete to succeed, got %v", err)
	}

	if _, err := proxy.Get(context.Background(), catalog.TypeSite, obj.ID()); !engine.IsNotFound(err) {
		t.Errorf("Expected the object gone, got %v", err)
	}

	audits := sink.all()
	if len(audits) != 1 || audits[0].Kind != engine.OpDelete || audits[0].Outcome != "ok" {
		t.Fatalf("Expected 1 ok delete audit, got %+v", audits)
	}
}

func TestProxy_DryRun_DeletePlaceholderAccepted(t *testing.T) {
	client := newMockClient()
	proxy := newTestProxy(client, Config{WritesEnabled: true, DryRun: true})

	if err := proxy.Delete(context.Background(), catalog.TypeSite, -3, true); err != nil {
		t.Fatalf("Expected placeholder delete to succeed in dry-run, got %v", err)
	}
	if len(client.calls) != 0 {
		t.Errorf("Expected no transport calls, got %d", len(client.calls))
	}
}

func TestProxy_ListExpanded_BypassesCache(t *testing.T) {
	client := newMockClient()
	client.seed(catalog.TypeDevice, map[string]interface{}{"name": "sw-1"})
	proxy := newTestProxy(client, Config{WritesEnabled: true})

	if _, err := proxy.List(context.Background(), catalog.TypeDevice, nil); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	for i := 0; i < 2; i++ {
		objs, err := proxy.ListExpanded(context.Background(), catalog.TypeDevice, nil, "site,device_type")
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if len(objs) != 1 {
			t.Errorf("Expected 1 object, got %d", len(objs))
		}
	}
	// One cached list plus two uncached expanded lists.
	if calls := client.callsFor("list"); len(calls) != 3 {
		t.Errorf("Expected expanded listings to bypass the cache, got %d transport list calls", len(calls))
	}
}

func TestProxy_WithBatchID_StampsAuditAndIntent(t *testing.T) {
	client := newMockClient()
	gate := &mockGate{}
	sink := &mockSink{}
	parent := newTestProxy(client, Config{WritesEnabled: true, Policy: gate, Audit: sink})

	scoped := parent.WithBatchID("batch-9")
	if scoped.BatchID() != "batch-9" {
		t.Errorf("Expected scoped batch id batch-9, got %q", scoped.BatchID())
	}
	if parent.BatchID() != "" {
		t.Errorf("Expected the parent proxy unscoped, got %q", parent.BatchID())
	}

	if _, err := scoped.Create(context.Background(), catalog.TypeSite, map[string]interface{}{"name": "FRA1"}, true); err != nil {
		t.Fatalf("Expected create to succeed, got %v", err)
	}

	audits := sink.all()
	if len(audits) != 1 || audits[0].BatchID != "batch-9" {
		t.Fatalf("Expected audit stamped with batch-9, got %+v", audits)
	}
	if len(gate.intents) != 1 || gate.intents[0].BatchID != "batch-9" {
		t.Fatalf("Expected intent stamped with batch-9, got %+v", gate.intents)
	}
}

func TestProxy_AuditFailureDoesNotFailWrite(t *testing.T) {
	client := newMockClient()
	sink := &mockSink{err: fmt.Errorf("disk full")}
	proxy := newTestProxy(client, Config{WritesEnabled: true, Audit: sink})

	obj, err := proxy.Create(context.Background(), catalog.TypeSite, map[string]interface{}{"name": "FRA1"}, true)
	if err != nil {
		t.Fatalf("Expected the write to succeed despite the failing sink, got %v", err)
	}
	if obj.ID() == 0 {
		t.Error("Expected a server-assigned id")
	}
}

func TestProxy_UnknownTypeRejected(t *testing.T) {
	proxy := newTestProxy(newMockClient(), Config{WritesEnabled: true})

	_, err := proxy.List(context.Background(), catalog.ResourceType("dcim.flux-capacitor"), nil)
	if err == nil {
		t.Fatal("Expected validation error")
	}
	var se *engine.SyncError
	if !asSyncError(err, &se) || se.Code != engine.ErrCodeUnsupportedType {
		t.Errorf("Expected code %s, got %v", engine.ErrCodeUnsupportedType, err)
	}
}

// eventTelemetry builds a telemetry instance with synchronous event
// delivery into the returned channel, filtered to the given event types.
func eventTelemetry(t *testing.T, types ...string) (*telemetry.Telemetry, chan telemetry.Event) {
	t.Helper()
	cfg := telemetry.DefaultConfig()
	cfg.Events.Enabled = true
	cfg.Events.EnableAsync = false
	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		t.Fatalf("NewTelemetry failed: %v", err)
	}
	t.Cleanup(func() { tel.Shutdown(context.Background()) })

	events := make(chan telemetry.Event, 8)
	tel.Events.Subscribe(func(ev telemetry.Event) { events <- ev },
		telemetry.FilterByType(types...))
	return tel, events
}

func TestProxy_Create_PublishesWriteEvent(t *testing.T) {
	tel, events := eventTelemetry(t, telemetry.EventTypeWriteExecuted)
	client := newMockClient()
	proxy := newTestProxy(client, Config{WritesEnabled: true})

	obj, err := proxy.Create(tel.WithContext(context.Background()), catalog.TypeSite, map[string]interface{}{"name": "FRA1"}, true)
	if err != nil {
		t.Fatalf("Expected create to succeed, got %v", err)
	}

	select {
	case ev := <-events:
		if ev.ResourceType != string(catalog.TypeSite) {
			t.Errorf("Expected resource type %s, got %q", catalog.TypeSite, ev.ResourceType)
		}
		if id, _ := ev.Data["resource_id"].(int64); id != obj.ID() {
			t.Errorf("Expected resource id %d, got %v", obj.ID(), ev.Data["resource_id"])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for the write event")
	}
}

func TestProxy_PolicyDenial_PublishesEvents(t *testing.T) {
	tel, events := eventTelemetry(t,
		telemetry.EventTypeWriteRefused, telemetry.EventTypePolicyDenied)
	client := newMockClient()
	gate := &mockGate{err: engine.NewPolicyError("sites are frozen", nil)}
	proxy := newTestProxy(client, Config{WritesEnabled: true, Policy: gate})

	_, err := proxy.Create(tel.WithContext(context.Background()), catalog.TypeSite, map[string]interface{}{"name": "FRA1"}, true)
	if !engine.IsPolicyDenied(err) {
		t.Fatalf("Expected policy denial, got %v", err)
	}

	got := make(map[string]bool)
	deadline := time.After(2 * time.Second)
	for len(got) < 2 {
		select {
		case ev := <-events:
			got[ev.Type] = true
			if ev.ResourceName != "FRA1" {
				t.Errorf("Expected resource name FRA1, got %q", ev.ResourceName)
			}
		case <-deadline:
			t.Fatalf("Timed out waiting for refusal events, saw %v", got)
		}
	}
}

// asSyncError unwraps a SyncError from an error chain.
func asSyncError(err error, target **engine.SyncError) bool {
	for err != nil {
		if se, ok := err.(*engine.SyncError); ok {
			*target = se
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
