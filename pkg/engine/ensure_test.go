package engine

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/racksync/racksync/pkg/catalog"
)

// mockWrite records one write call against the mock proxy.
type mockWrite struct {
	rt        catalog.ResourceType
	id        int64
	payload   map[string]interface{}
	confirmed bool
}

// mockProxy is an in-memory Proxy for engine tests. It enforces the
// confirmation gate the way the real proxy does, so gating behavior can be
// exercised end to end without a transport.
type mockProxy struct {
	mu      sync.Mutex
	objects map[catalog.ResourceType][]Object
	nextID  int64
	dryRun  bool
	batchID string

	listErr   map[catalog.ResourceType]error
	createErr map[catalog.ResourceType]error
	updateErr map[catalog.ResourceType]error
	deleteErr map[catalog.ResourceType]error

	creates []mockWrite
	updates []mockWrite
	deletes []mockWrite
	lists   int
	gets    int

	// blockList, when set, parks List calls until the channel closes or the
	// context expires.
	blockList chan struct{}
}

func newMockProxy() *mockProxy {
	return &mockProxy{
		objects:   make(map[catalog.ResourceType][]Object),
		nextID:    1,
		listErr:   make(map[catalog.ResourceType]error),
		createErr: make(map[catalog.ResourceType]error),
		updateErr: make(map[catalog.ResourceType]error),
		deleteErr: make(map[catalog.ResourceType]error),
	}
}

// seed inserts an object directly into the store, bypassing all gating.
func (m *mockProxy) seed(rt catalog.ResourceType, fields map[string]interface{}) Object {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj := Object{"id": m.nextID}
	m.nextID++
	for k, v := range fields {
		obj[k] = v
	}
	m.objects[rt] = append(m.objects[rt], obj)
	return obj
}

func (m *mockProxy) writeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.creates) + len(m.updates) + len(m.deletes)
}

func fieldMatches(v interface{}, want string) bool {
	if id, ok := relationID(v); ok {
		if strconv.FormatInt(id, 10) == want {
			return true
		}
	}
	return fmt.Sprint(v) == want
}

func (m *mockProxy) List(ctx context.Context, rt catalog.ResourceType, filters Filters) ([]Object, error) {
	if m.blockList != nil {
		select {
		case <-m.blockList:
		case <-ctx.Done():
			return nil, NewConnectionError("list aborted", ctx.Err())
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.lists++
	if err := m.listErr[rt]; err != nil {
		return nil, err
	}

	var out []Object
	for _, obj := range m.objects[rt] {
		match := true
		for k, v := range filters {
			if !fieldMatches(obj[k], v) {
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

func (m *mockProxy) Get(ctx context.Context, rt catalog.ResourceType, id int64) (Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	for _, obj := range m.objects[rt] {
		if obj.ID() == id {
			return obj, nil
		}
	}
	return nil, NewNotFoundError("resource does not exist", nil).
		WithResourceType(string(rt)).
		WithDetail("id", id)
}

func (m *mockProxy) Create(ctx context.Context, rt catalog.ResourceType, payload map[string]interface{}, confirmed bool) (Object, error) {
	if !confirmed {
		return nil, NewConfirmationError("write requires explicit confirmation").
			WithResourceType(string(rt)).
			WithOperation("create")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.createErr[rt]; err != nil {
		return nil, err
	}

	m.creates = append(m.creates, mockWrite{rt: rt, payload: payload, confirmed: confirmed})

	obj := Object{}
	for k, v := range payload {
		obj[k] = v
	}
	if m.dryRun {
		obj["id"] = -m.nextID
		m.nextID++
		return obj, nil
	}
	obj["id"] = m.nextID
	m.nextID++
	m.objects[rt] = append(m.objects[rt], obj)
	return obj, nil
}

func (m *mockProxy) Update(ctx context.Context, rt catalog.ResourceType, id int64, payload map[string]interface{}, confirmed bool) (Object, error) {
	if !confirmed {
		return nil, NewConfirmationError("write requires explicit confirmation").
			WithResourceType(string(rt)).
			WithOperation("update")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.updateErr[rt]; err != nil {
		return nil, err
	}

	for i, obj := range m.objects[rt] {
		if obj.ID() != id {
			continue
		}
		m.updates = append(m.updates, mockWrite{rt: rt, id: id, payload: payload, confirmed: confirmed})
		merged := Object{}
		for k, v := range obj {
			merged[k] = v
		}
		for k, v := range payload {
			merged[k] = v
		}
		if !m.dryRun {
			m.objects[rt][i] = merged
		}
		return merged, nil
	}
	return nil, NewNotFoundError("resource does not exist", nil).
		WithResourceType(string(rt)).
		WithDetail("id", id)
}

func (m *mockProxy) Delete(ctx context.Context, rt catalog.ResourceType, id int64, confirmed bool) error {
	if !confirmed {
		return NewConfirmationError("write requires explicit confirmation").
			WithResourceType(string(rt)).
			WithOperation("delete")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.deleteErr[rt]; err != nil {
		return err
	}

	if m.dryRun && id < 0 {
		m.deletes = append(m.deletes, mockWrite{rt: rt, id: id, confirmed: confirmed})
		return nil
	}
	for i, obj := range m.objects[rt] {
		if obj.ID() != id {
			continue
		}
		m.deletes = append(m.deletes, mockWrite{rt: rt, id: id, confirmed: confirmed})
		if !m.dryRun {
			m.objects[rt] = append(m.objects[rt][:i], m.objects[rt][i+1:]...)
		}
		return nil
	}
	return NewNotFoundError("resource does not exist", nil).
		WithResourceType(string(rt)).
		WithDetail("id", id)
}

func (m *mockProxy) ListExpanded(ctx context.Context, rt catalog.ResourceType, filters Filters, expand string) ([]Object, error) {
	return m.List(ctx, rt, filters)
}

func (m *mockProxy) DryRun() bool { return m.dryRun }

func (m *mockProxy) BatchID() string { return m.batchID }

func (m *mockProxy) WithBatchID(batchID string) Proxy {
	// The test double shares its store across batch-scoped views.
	m.batchID = batchID
	return m
}

func TestEnsurer_Ensure_CreateThenUnchanged(t *testing.T) {
	proxy := newMockProxy()
	ensurer := NewEnsurer(proxy, zerolog.Nop())

	req := EnsureRequest{
		Type:      catalog.TypeManufacturer,
		Name:      "Cisco",
		Desired:   DesiredState{"slug": "cisco", "description": "Cisco Systems"},
		Confirmed: true,
	}

	res, err := ensurer.Ensure(context.Background(), req)
	if err != nil {
		t.Fatalf("Ensure failed: %v", err)
	}
	if res.Action != ActionCreated {
		t.Fatalf("Expected created, got %s", res.Action)
	}
	if len(proxy.creates) != 1 {
		t.Fatalf("Expected 1 create, got %d", len(proxy.creates))
	}

	payload := proxy.creates[0].payload
	if payload["name"] != "Cisco" {
		t.Errorf("Expected natural key injected into payload, got %v", payload["name"])
	}
	cf, ok := payload[CustomFieldGroup].(map[string]interface{})
	if !ok {
		t.Fatal("Expected provenance custom fields on create payload")
	}
	if h, _ := cf[CustomFieldHash].(string); len(h) != 64 {
		t.Errorf("Expected stamped content hash, got %v", cf[CustomFieldHash])
	}

	// Replaying the identical request must not write again.
	res, err = ensurer.Ensure(context.Background(), req)
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	if res.Action != ActionUnchanged {
		t.Errorf("Expected unchanged on replay, got %s", res.Action)
	}
	if got := proxy.writeCount(); got != 1 {
		t.Errorf("Expected no additional writes on replay, got %d total", got)
	}
}

func TestEnsurer_Ensure_DriftUpdatesOnlyChangedFields(t *testing.T) {
	proxy := newMockProxy()
	proxy.seed(catalog.TypeDevice, map[string]interface{}{
		"name":   "fra-sw-01",
		"serial": "OLD123",
		"status": "active",
		"site":   map[string]interface{}{"id": float64(3)},
	})
	ensurer := NewEnsurer(proxy, zerolog.Nop())

	res, err := ensurer.Ensure(context.Background(), EnsureRequest{
		Type:      catalog.TypeDevice,
		Name:      "fra-sw-01",
		Desired:   DesiredState{"serial": "NEW456", "status": "active"},
		Confirmed: true,
	})
	if err != nil {
		t.Fatalf("Ensure failed: %v", err)
	}
	if res.Action != ActionUpdated {
		t.Fatalf("Expected updated, got %s", res.Action)
	}
	if len(proxy.updates) != 1 {
		t.Fatalf("Expected 1 update, got %d", len(proxy.updates))
	}

	payload := proxy.updates[0].payload
	if payload["serial"] != "NEW456" {
		t.Errorf("Expected serial in update payload, got %v", payload["serial"])
	}
	if _, present := payload["status"]; present {
		t.Error("Expected unchanged status to be absent from update payload")
	}
	if _, present := payload["name"]; present {
		t.Error("Expected unchanged name to be absent from update payload")
	}
	if _, ok := payload[CustomFieldGroup].(map[string]interface{}); !ok {
		t.Error("Expected refreshed provenance on update payload")
	}
}

func TestEnsurer_Ensure_AmbiguousLookupLenient(t *testing.T) {
	proxy := newMockProxy()
	first := proxy.seed(catalog.TypeManufacturer, map[string]interface{}{"name": "Cisco"})
	proxy.seed(catalog.TypeManufacturer, map[string]interface{}{"name": "Cisco"})
	ensurer := NewEnsurer(proxy, zerolog.Nop())

	res, err := ensurer.Ensure(context.Background(), EnsureRequest{
		Type:      catalog.TypeManufacturer,
		Name:      "Cisco",
		Confirmed: true,
	})
	if err != nil {
		t.Fatalf("Ensure failed: %v", err)
	}
	if res.Action != ActionUnchanged {
		t.Errorf("Expected unchanged against first match, got %s", res.Action)
	}
	if res.Object.ID() != first.ID() {
		t.Errorf("Expected first match %d, got %d", first.ID(), res.Object.ID())
	}
}

func TestEnsurer_Ensure_AmbiguousLookupStrict(t *testing.T) {
	proxy := newMockProxy()
	proxy.seed(catalog.TypeManufacturer, map[string]interface{}{"name": "Cisco"})
	proxy.seed(catalog.TypeManufacturer, map[string]interface{}{"name": "Cisco"})
	ensurer := NewEnsurer(proxy, zerolog.Nop())

	res, err := ensurer.Ensure(context.Background(), EnsureRequest{
		Type:      catalog.TypeManufacturer,
		Name:      "Cisco",
		Confirmed: true,
		Strict:    true,
	})
	if err == nil {
		t.Fatal("Expected ambiguity error in strict mode, got nil")
	}
	if !IsConflict(err) {
		t.Errorf("Expected conflict classification, got %v", err)
	}
	if se := asSyncError(err); se.Code != ErrCodeAmbiguousMatch {
		t.Errorf("Expected code %s, got %s", ErrCodeAmbiguousMatch, se.Code)
	}
	if res.Success {
		t.Error("Expected failed result")
	}
	if got := proxy.writeCount(); got != 0 {
		t.Errorf("Expected no writes on ambiguity, got %d", got)
	}
}

func TestEnsurer_Ensure_ByIDUnconditionallyUnchanged(t *testing.T) {
	proxy := newMockProxy()
	obj := proxy.seed(catalog.TypeSite, map[string]interface{}{"name": "FRA1", "status": "active"})
	ensurer := NewEnsurer(proxy, zerolog.Nop())

	res, err := ensurer.Ensure(context.Background(), EnsureRequest{
		Type:      catalog.TypeSite,
		ID:        obj.ID(),
		Desired:   DesiredState{"status": "decommissioned"},
		Confirmed: true,
	})
	if err != nil {
		t.Fatalf("Ensure failed: %v", err)
	}
	if res.Action != ActionUnchanged {
		t.Errorf("Expected unchanged on direct-id path, got %s", res.Action)
	}
	if got := proxy.writeCount(); got != 0 {
		t.Errorf("Expected no writes on direct-id path, got %d", got)
	}
}

func TestEnsurer_Ensure_ByIDNotFound(t *testing.T) {
	proxy := newMockProxy()
	ensurer := NewEnsurer(proxy, zerolog.Nop())

	_, err := ensurer.Ensure(context.Background(), EnsureRequest{
		Type:      catalog.TypeSite,
		ID:        99,
		Confirmed: true,
	})
	if err == nil {
		t.Fatal("Expected not-found error, got nil")
	}
	if !IsNotFound(err) {
		t.Errorf("Expected not-found classification, got %v", err)
	}
}

func TestEnsurer_Ensure_RejectsIDAndName(t *testing.T) {
	proxy := newMockProxy()
	ensurer := NewEnsurer(proxy, zerolog.Nop())

	_, err := ensurer.Ensure(context.Background(), EnsureRequest{
		Type:      catalog.TypeSite,
		ID:        1,
		Name:      "FRA1",
		Confirmed: true,
	})
	if err == nil {
		t.Fatal("Expected validation error, got nil")
	}
	if !IsValidation(err) {
		t.Errorf("Expected validation classification, got %v", err)
	}
	if proxy.lists != 0 || proxy.gets != 0 {
		t.Error("Expected validation to fail before any remote access")
	}
}

func TestEnsurer_Ensure_RejectsNeitherIDNorName(t *testing.T) {
	proxy := newMockProxy()
	ensurer := NewEnsurer(proxy, zerolog.Nop())

	_, err := ensurer.Ensure(context.Background(), EnsureRequest{
		Type:      catalog.TypeSite,
		Confirmed: true,
	})
	if err == nil {
		t.Fatal("Expected validation error, got nil")
	}
	if !IsValidation(err) {
		t.Errorf("Expected validation classification, got %v", err)
	}
}

func TestEnsurer_Ensure_MissingRequiredRefFailsBeforeNetwork(t *testing.T) {
	proxy := newMockProxy()
	ensurer := NewEnsurer(proxy, zerolog.Nop())

	_, err := ensurer.Ensure(context.Background(), EnsureRequest{
		Type:      catalog.TypeDevice,
		Name:      "fra-sw-01",
		Desired:   DesiredState{"site": 3, "role": 2},
		Confirmed: true,
	})
	if err == nil {
		t.Fatal("Expected missing-dependency error, got nil")
	}
	se := asSyncError(err)
	if se.Code != ErrCodeMissingDependency {
		t.Errorf("Expected code %s, got %s", ErrCodeMissingDependency, se.Code)
	}
	if !IsPreNetwork(err) {
		t.Error("Expected pre-network classification")
	}
	if proxy.lists != 0 || proxy.gets != 0 || proxy.writeCount() != 0 {
		t.Error("Expected no remote access for missing required dependency")
	}
}

func TestEnsurer_Ensure_NegativePlaceholderRefAccepted(t *testing.T) {
	proxy := newMockProxy()
	ensurer := NewEnsurer(proxy, zerolog.Nop())

	res, err := ensurer.Ensure(context.Background(), EnsureRequest{
		Type:      catalog.TypeDevice,
		Name:      "fra-sw-01",
		Desired:   DesiredState{"device_type": int64(-1), "role": int64(-2), "site": int64(-3)},
		Confirmed: true,
	})
	if err != nil {
		t.Fatalf("Expected placeholder identifiers to pass validation, got %v", err)
	}
	if res.Action != ActionCreated {
		t.Errorf("Expected created, got %s", res.Action)
	}
}

func TestEnsurer_Ensure_UnconfirmedWriteRefused(t *testing.T) {
	proxy := newMockProxy()
	ensurer := NewEnsurer(proxy, zerolog.Nop())

	res, err := ensurer.Ensure(context.Background(), EnsureRequest{
		Type:    catalog.TypeManufacturer,
		Name:    "Cisco",
		Desired: DesiredState{"slug": "cisco"},
	})
	if err == nil {
		t.Fatal("Expected confirmation error, got nil")
	}
	if !IsConfirmationRequired(err) {
		t.Errorf("Expected confirmation classification, got %v", err)
	}
	if res.Success {
		t.Error("Expected failed result")
	}
	if len(proxy.creates) != 0 {
		t.Error("Expected the create to be refused")
	}
}

func TestEnsurer_Ensure_ScopedLookup(t *testing.T) {
	proxy := newMockProxy()
	proxy.seed(catalog.TypeInterface, map[string]interface{}{
		"name": "eth0", "device_id": int64(14), "enabled": true,
	})
	proxy.seed(catalog.TypeInterface, map[string]interface{}{
		"name": "eth0", "device_id": int64(15), "enabled": true,
	})
	ensurer := NewEnsurer(proxy, zerolog.Nop())

	res, err := ensurer.Ensure(context.Background(), EnsureRequest{
		Type:      catalog.TypeInterface,
		Name:      "eth0",
		Scope:     map[string]string{"device_id": "14"},
		Desired:   DesiredState{"device": int64(14), "enabled": true},
		Confirmed: true,
	})
	if err != nil {
		t.Fatalf("Ensure failed: %v", err)
	}
	if res.Action != ActionUnchanged {
		t.Errorf("Expected unchanged within scope, got %s", res.Action)
	}
	if got, _ := res.Object.Field("device_id"); fmt.Sprint(got) != "14" {
		t.Errorf("Expected the scoped object, got device_id %v", got)
	}
}

func TestEnsurer_Ensure_StaleHashStillResolvesUnchanged(t *testing.T) {
	proxy := newMockProxy()
	proxy.seed(catalog.TypeManufacturer, map[string]interface{}{
		"name": "Cisco",
		CustomFieldGroup: map[string]interface{}{
			CustomFieldHash: "stale",
		},
	})
	ensurer := NewEnsurer(proxy, zerolog.Nop())

	res, err := ensurer.Ensure(context.Background(), EnsureRequest{
		Type:      catalog.TypeManufacturer,
		Name:      "Cisco",
		Confirmed: true,
	})
	if err != nil {
		t.Fatalf("Ensure failed: %v", err)
	}
	if res.Action != ActionUnchanged {
		t.Errorf("Expected field diff to rescue a stale hash, got %s", res.Action)
	}
	if got := proxy.writeCount(); got != 0 {
		t.Errorf("Expected no writes, got %d", got)
	}
}
