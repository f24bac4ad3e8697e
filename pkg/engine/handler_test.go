package engine

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func newTestHandler(t *testing.T, desc Descriptor, coll *fakeCollection, hooks ...func(*HandlerConfig)) *Handler {
	t.Helper()

	coll.unique = desc.UniqueFields
	cfg := HandlerConfig{
		Descriptor:   desc,
		Capabilities: coll.capabilities(),
		Logger:       zerolog.New(nil).Level(zerolog.Disabled),
	}
	for _, hook := range hooks {
		hook(&cfg)
	}

	h, err := NewHandler(cfg)
	if err != nil {
		t.Fatalf("Failed to create handler: %v", err)
	}
	return h
}

func TestHandler_DeletionGating(t *testing.T) {
	coll := newFakeCollection(
		Item{"id": "1", "name": "a"},
		Item{"id": "2", "name": "b"},
		Item{"id": "3", "name": "c"},
	)
	rec := &fakeRecorder{}
	h := newTestHandler(t, Descriptor{Type: "roles"}, coll).WithRecorder(rec)

	result, err := h.ProcessChanges(context.Background(), []Item{}, nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if calls := coll.callsWithPrefix("delete:"); len(calls) != 0 {
		t.Errorf("Expected delete never to be called, got %v", calls)
	}
	if result.Deleted != 0 {
		t.Errorf("Expected 0 deletions, got %d", result.Deleted)
	}
	if len(rec.skipped) != 1 {
		t.Fatalf("Expected exactly one skipped-deletion event, got %d", len(rec.skipped))
	}
	if got := rec.skipped[0].Items; strings.Join(got, ",") != "a,b,c" {
		t.Errorf("Expected skipped items a,b,c, got %v", got)
	}
	if len(result.SkippedDeletes) != 3 {
		t.Errorf("Expected 3 skipped deletes in result, got %d", len(result.SkippedDeletes))
	}
}

func TestHandler_DeletionAllowed(t *testing.T) {
	coll := newFakeCollection(
		Item{"id": "1", "name": "a"},
		Item{"id": "2", "name": "b"},
	)
	rec := &fakeRecorder{}
	h := newTestHandler(t, Descriptor{Type: "roles"}, coll).
		WithRecorder(rec).
		WithDeletionPolicy(StaticDeletionPolicy(true))

	result, err := h.ProcessChanges(context.Background(), []Item{{"name": "a"}}, nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if result.Deleted != 1 {
		t.Errorf("Expected 1 deletion, got %d", result.Deleted)
	}
	if calls := coll.callsWithPrefix("delete:"); len(calls) != 1 || calls[0] != "delete:2" {
		t.Errorf("Expected delete:2, got %v", calls)
	}
	if len(rec.skipped) != 0 {
		t.Errorf("Expected no skipped-deletion events, got %d", len(rec.skipped))
	}
	if len(rec.mutations) != 1 || rec.mutations[0].Operation != OperationDelete {
		t.Errorf("Expected one delete mutation event, got %+v", rec.mutations)
	}
}

func TestHandler_SwapAppliesConflictsFirst(t *testing.T) {
	coll := newFakeCollection(
		Item{"id": "1", "name": "A", "order": 1},
		Item{"id": "2", "name": "B", "order": 2},
	)
	h := newTestHandler(t, rulesDescriptor(), coll)

	result, err := h.ProcessChanges(context.Background(), []Item{
		{"name": "A", "order": 2},
		{"name": "B", "order": 1},
	}, nil)
	if err != nil {
		t.Fatalf("Expected swap to succeed against a unique-enforcing remote, got %v", err)
	}

	if result.Conflicts != 2 || result.Updated != 2 {
		t.Errorf("Expected 2 conflicts and 2 updates, got %d and %d", result.Conflicts, result.Updated)
	}

	existing, err := h.GetExisting(context.Background())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	for _, it := range existing {
		want := map[string]int{"A": 2, "B": 1}[it.String("name")]
		if !valuesEqual(it["order"], want) {
			t.Errorf("Expected %s at order %d, got %v", it.String("name"), want, it["order"])
		}
	}
}

func TestHandler_PhaseOrder(t *testing.T) {
	coll := newFakeCollection(
		Item{"id": "1", "name": "keep", "order": 1},
		Item{"id": "2", "name": "drop", "order": 2},
	)
	var order []string
	coll.onCall = func(call string) {
		order = append(order, strings.SplitN(call, ":", 2)[0])
	}
	h := newTestHandler(t, rulesDescriptor(), coll).WithDeletionPolicy(StaticDeletionPolicy(true))

	_, err := h.ProcessChanges(context.Background(), []Item{
		{"name": "keep", "order": 3},
		{"name": "new", "order": 1},
	}, nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	// delete drop, move keep off order 1, create new, update keep
	want := []string{"delete", "update", "create", "update"}
	if strings.Join(order, ",") != strings.Join(want, ",") {
		t.Errorf("Expected phases %v, got %v", want, order)
	}
}

func TestHandler_PayloadStripping(t *testing.T) {
	coll := newFakeCollection(Item{"id": "1", "name": "api", "identifier": "https://api", "signing_alg": "RS256"})
	desc := Descriptor{
		Type:        "resourceServers",
		Identifiers: []Identifier{{"id"}, {"identifier"}},
		StripCreate: []string{"client_id"},
		StripUpdate: []string{"identifier"},
	}
	h := newTestHandler(t, desc, coll)

	_, err := h.ProcessChanges(context.Background(), []Item{
		{"name": "api", "identifier": "https://api", "signing_alg": "HS256"},
		{"name": "other", "identifier": "https://other", "client_id": "x"},
	}, nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	for _, p := range coll.payload {
		if p.Has("id") {
			t.Errorf("Payload must never carry the id field: %v", p)
		}
		if p.String("name") == "other" && p.Has("client_id") {
			t.Errorf("Create payload must not carry client_id: %v", p)
		}
		if p.String("name") == "api" && p.Has("identifier") {
			t.Errorf("Update payload must not carry identifier: %v", p)
		}
	}
}

func TestHandler_PhaseFailureStopsLaterPhases(t *testing.T) {
	coll := newFakeCollection(Item{"id": "1", "name": "existing", "description": "old"})
	coll.fail["create:bad"] = errors.New("rejected by remote")
	h := newTestHandler(t, Descriptor{Type: "roles"}, coll)

	result, err := h.ProcessChanges(context.Background(), []Item{
		{"name": "good"},
		{"name": "bad"},
		{"name": "existing", "description": "new"},
	}, nil)
	if err == nil {
		t.Fatal("Expected create failure")
	}

	failures := RemoteFailures(err)
	if len(failures) != 1 || failures[0].Item != "bad" || failures[0].Type != "roles" {
		t.Errorf("Expected failure to name roles bad, got %+v", failures)
	}
	if result.Created != 1 {
		t.Errorf("Expected sibling create to complete, got %d created", result.Created)
	}
	if calls := coll.callsWithPrefix("update:"); len(calls) != 0 {
		t.Errorf("Expected update phase not to start, got %v", calls)
	}
}

func TestHandler_GetExisting(t *testing.T) {
	unavailable := errors.New("feature not enabled")
	classify := func(err error) RemoteClass {
		if errors.Is(err, unavailable) {
			return RemoteFeatureUnavailable
		}
		return RemoteFatal
	}

	t.Run("caches and invalidates", func(t *testing.T) {
		coll := newFakeCollection(Item{"id": "1", "name": "a"})
		h := newTestHandler(t, Descriptor{Type: "roles"}, coll)

		for i := 0; i < 3; i++ {
			if _, err := h.GetExisting(context.Background()); err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
		}
		if coll.lists != 1 {
			t.Errorf("Expected one list call, got %d", coll.lists)
		}

		h.Invalidate()
		if _, err := h.GetExisting(context.Background()); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if coll.lists != 2 {
			t.Errorf("Expected refetch after invalidation, got %d list calls", coll.lists)
		}
	})

	t.Run("recovers unavailable features", func(t *testing.T) {
		coll := newFakeCollection()
		coll.listErr = unavailable
		rec := &fakeRecorder{}
		h := newTestHandler(t, Descriptor{Type: "hooks"}, coll, func(cfg *HandlerConfig) {
			cfg.Classify = classify
		})
		h.WithRecorder(rec)

		items, err := h.GetExisting(context.Background())
		if err != nil {
			t.Fatalf("Expected unavailable feature to be recovered, got %v", err)
		}
		if len(items) != 0 {
			t.Errorf("Expected empty result, got %d items", len(items))
		}
		if len(rec.missing) != 1 {
			t.Fatalf("Expected one unavailable event, got %d", len(rec.missing))
		}
		if got := rec.missing[0]; got.Type != "hooks" || got.Class != RemoteFeatureUnavailable || !errors.Is(got, unavailable) {
			t.Errorf("Unexpected unavailable event: %+v", got)
		}
		if !IsFeatureUnavailable(rec.missing[0]) {
			t.Error("Expected IsFeatureUnavailable to match the recorded error")
		}
	})

	t.Run("propagates other errors", func(t *testing.T) {
		coll := newFakeCollection()
		coll.listErr = errors.New("internal error")
		h := newTestHandler(t, Descriptor{Type: "roles"}, coll, func(cfg *HandlerConfig) {
			cfg.Classify = classify
		})

		if _, err := h.GetExisting(context.Background()); err == nil {
			t.Fatal("Expected error to propagate")
		}
	})

	t.Run("filters existing", func(t *testing.T) {
		coll := newFakeCollection(Item{"id": "self", "name": "deployer"}, Item{"id": "2", "name": "app"})
		h := newTestHandler(t, Descriptor{Type: "clients"}, coll, func(cfg *HandlerConfig) {
			cfg.FilterExisting = func(items []Item) []Item {
				out := items[:0]
				for _, it := range items {
					if it.String("id") != "self" {
						out = append(out, it)
					}
				}
				return out
			}
		})

		items, err := h.GetExisting(context.Background())
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if len(items) != 1 || items[0].String("name") != "app" {
			t.Errorf("Expected only app, got %v", items)
		}
	})
}

func TestHandler_Validate(t *testing.T) {
	h := newTestHandler(t, rulesDescriptor(), newFakeCollection(), func(cfg *HandlerConfig) {
		cfg.Validate = func(ctx context.Context, desired []Item, problems *ValidationError) {
			for _, it := range desired {
				if !it.Has("script") {
					problems.Add("rules", "rule %s has no script", it.String("name"))
				}
			}
		}
	})

	err := h.Validate(context.Background(), []Item{
		{"name": "a", "order": 1, "script": "x"},
		{"name": "a", "order": 2, "script": "x"},
		{"name": "b", "order": 1, "script": "x"},
		{"name": "b", "order": 3},
	})
	if err == nil {
		t.Fatal("Expected validation error")
	}
	if !IsValidation(err) {
		t.Errorf("Expected IsValidation, got %T", err)
	}

	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Expected *ValidationError, got %T", err)
	}
	// two duplicate names, one duplicate order, one missing script
	if verr.Len() != 4 {
		t.Errorf("Expected 4 problems, got %d: %v", verr.Len(), verr)
	}

	if err := h.Validate(context.Background(), []Item{{"name": "a", "order": 1, "script": "x"}}); err != nil {
		t.Errorf("Expected valid desired state, got %v", err)
	}
}

func TestHandler_TransformUsesLookup(t *testing.T) {
	clients := newFakeCollection(Item{"client_id": "c-1", "name": "app"})
	clients.idField = "client_id"
	grants := newFakeCollection()

	orch := NewOrchestrator(OrchestratorConfig{Logger: zerolog.New(nil).Level(zerolog.Disabled)})

	clientHandler := newTestHandler(t, Descriptor{Type: "clients", IDField: "client_id"}, clients)
	grantHandler := newTestHandler(t, Descriptor{
		Type:        "clientGrants",
		Identifiers: []Identifier{{"id"}, {"client_id", "audience"}},
	}, grants, func(cfg *HandlerConfig) {
		cfg.Transform = func(ctx context.Context, lookup Lookup, desired []Item) ([]Item, error) {
			existing, err := lookup.Existing(ctx, "clients")
			if err != nil {
				return nil, err
			}
			out := make([]Item, 0, len(desired))
			for _, d := range desired {
				d = d.Clone()
				for _, c := range existing {
					if c.String("name") == d.String("client_id") {
						d["client_id"] = c["client_id"]
					}
				}
				out = append(out, d)
			}
			return out, nil
		}
	})

	if err := orch.Register(Registration{Handler: clientHandler, Priority: 50}); err != nil {
		t.Fatal(err)
	}
	if err := orch.Register(Registration{Handler: grantHandler, Priority: 70, After: []string{"clients"}}); err != nil {
		t.Fatal(err)
	}
	if err := orch.Seal(); err != nil {
		t.Fatal(err)
	}

	changes, err := grantHandler.CalcChanges(context.Background(), []Item{{"client_id": "app", "audience": "https://api"}})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(changes.Create) != 1 || changes.Create[0]["client_id"] != "c-1" {
		t.Errorf("Expected client name resolved to c-1, got %v", changes.Create)
	}

	desired := []Item{
		{"client_id": "app", "audience": "https://api"},
		{"client_id": "c-1", "audience": "https://api"},
	}
	if err := grantHandler.Validate(context.Background(), desired); err != nil {
		t.Fatalf("Expected distinct references to pass validation, got %v", err)
	}
	_, err = grantHandler.CalcChanges(context.Background(), desired)
	if !IsValidation(err) {
		t.Fatalf("Expected validation error once references resolve to one client, got %v", err)
	}
	if !strings.Contains(err.Error(), "client_id=c-1,audience=https://api at positions [0 1]") {
		t.Errorf("Expected both positions to be reported, got %v", err)
	}
}

func TestHandler_ObjString(t *testing.T) {
	h := newTestHandler(t, Descriptor{
		Type:        "clientGrants",
		Identifiers: []Identifier{{"id"}, {"client_id", "audience"}},
	}, newFakeCollection())

	tests := []struct {
		item Item
		want string
	}{
		{Item{"name": "x", "id": "1"}, "x"},
		{Item{"id": "g-1"}, "id=g-1"},
		{Item{"client_id": "c", "audience": "a"}, "client_id=c,audience=a"},
		{Item{"scope": "read"}, `{"scope":"read"}`},
	}

	for _, tt := range tests {
		if got := h.ObjString(tt.item); got != tt.want {
			t.Errorf("ObjString(%v) = %q, want %q", tt.item, got, tt.want)
		}
	}
}
