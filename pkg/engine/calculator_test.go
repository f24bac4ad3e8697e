package engine

import (
	"reflect"
	"testing"
)

func rulesDescriptor() Descriptor {
	return Descriptor{
		Type:         "rules",
		Identifiers:  []Identifier{{"id"}, {"name"}},
		UniqueFields: []string{"order"},
	}
}

func names(items []Item) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.String("name"))
	}
	return out
}

func TestCalculate_DisjointIdentifiers(t *testing.T) {
	desc := Descriptor{Type: "roles", Identifiers: []Identifier{{"id"}, {"name"}}}
	desired := []Item{{"name": "a"}, {"name": "b"}}
	existing := []Item{{"id": "r1", "name": "x"}, {"id": "r2", "name": "y"}}

	for _, allowDelete := range []bool{true, false} {
		changes := Calculate(desc, desired, existing, allowDelete)

		if got := names(changes.Create); !reflect.DeepEqual(got, []string{"a", "b"}) {
			t.Errorf("allowDelete=%v: expected create [a b], got %v", allowDelete, got)
		}
		if len(changes.Update) != 0 {
			t.Errorf("allowDelete=%v: expected no updates, got %d", allowDelete, len(changes.Update))
		}
		if got := names(changes.Delete); !reflect.DeepEqual(got, []string{"x", "y"}) {
			t.Errorf("allowDelete=%v: expected delete [x y], got %v", allowDelete, got)
		}
	}
}

func TestCalculate_MatchCarriesExistingID(t *testing.T) {
	desc := Descriptor{Type: "clients", IDField: "client_id", Identifiers: []Identifier{{"client_id"}, {"name"}}}
	desired := []Item{{"name": "app", "callbacks": []interface{}{"https://a"}}}
	existing := []Item{{"client_id": "c-1", "name": "app", "callbacks": []interface{}{}}}

	changes := Calculate(desc, desired, existing, false)

	if len(changes.Create) != 0 {
		t.Fatalf("Expected no creates, got %v", changes.Create)
	}
	if len(changes.Update) != 1 {
		t.Fatalf("Expected 1 update, got %d", len(changes.Update))
	}
	if id := changes.Update[0]["client_id"]; id != "c-1" {
		t.Errorf("Expected update to carry client_id c-1, got %v", id)
	}
	if _, ok := desired[0]["client_id"]; ok {
		t.Error("Calculate must not mutate desired items")
	}
}

func TestCalculate_EdgeCases(t *testing.T) {
	desc := Descriptor{Type: "roles", Identifiers: []Identifier{{"id"}, {"name"}}}

	tests := []struct {
		name       string
		desired    []Item
		existing   []Item
		wantCreate int
		wantUpdate int
		wantDelete int
	}{
		{
			name:       "empty desired deletes everything",
			desired:    []Item{},
			existing:   []Item{{"id": "1", "name": "a"}, {"id": "2", "name": "b"}},
			wantDelete: 2,
		},
		{
			name:       "empty existing creates everything",
			desired:    []Item{{"name": "a"}, {"name": "b"}},
			existing:   nil,
			wantCreate: 2,
		},
		{
			name:     "subset of existing is a no-op",
			desired:  []Item{{"name": "a", "description": "d"}},
			existing: []Item{{"id": "1", "name": "a", "description": "d", "created_at": "2024"}},
		},
		{
			name:     "numbers compare across encodings",
			desired:  []Item{{"name": "a", "lifetime": 3600}},
			existing: []Item{{"id": "1", "name": "a", "lifetime": float64(3600)}},
		},
		{
			name:       "id match takes precedence over name",
			desired:    []Item{{"id": "2", "name": "renamed"}},
			existing:   []Item{{"id": "1", "name": "renamed"}, {"id": "2", "name": "old"}},
			wantUpdate: 1,
			wantDelete: 1,
		},
		{
			name:       "existing item is matched at most once",
			desired:    []Item{{"name": "a"}, {"name": "a", "description": "second"}},
			existing:   []Item{{"id": "1", "name": "a"}},
			wantCreate: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			changes := Calculate(desc, tt.desired, tt.existing, true)

			if len(changes.Create) != tt.wantCreate {
				t.Errorf("Expected %d creates, got %d", tt.wantCreate, len(changes.Create))
			}
			if len(changes.Update) != tt.wantUpdate {
				t.Errorf("Expected %d updates, got %d", tt.wantUpdate, len(changes.Update))
			}
			if len(changes.Delete) != tt.wantDelete {
				t.Errorf("Expected %d deletes, got %d", tt.wantDelete, len(changes.Delete))
			}
		})
	}
}

func TestCalculate_CompositeIdentifierRequiresAllFields(t *testing.T) {
	desc := Descriptor{
		Type:        "clientGrants",
		Identifiers: []Identifier{{"id"}, {"client_id", "audience"}},
	}
	existing := []Item{{"id": "g1", "client_id": "c1", "audience": "https://api"}}

	partial := Calculate(desc, []Item{{"client_id": "c1"}}, existing, false)
	if len(partial.Create) != 1 {
		t.Errorf("Expected partial tuple to fall through to create, got %d creates", len(partial.Create))
	}

	full := Calculate(desc, []Item{{"client_id": "c1", "audience": "https://api", "scope": []string{"read"}}}, existing, false)
	if len(full.Update) != 1 || full.Update[0]["id"] != "g1" {
		t.Errorf("Expected update of g1, got %v", full.Update)
	}
}

func TestCalculate_Idempotent(t *testing.T) {
	desc := rulesDescriptor()
	desired := []Item{
		{"name": "a", "order": 1, "script": "function a() {}"},
		{"name": "b", "order": 2, "script": "function b() {}"},
	}
	existing := []Item{
		{"id": "r1", "name": "a", "order": float64(5), "script": "old"},
		{"id": "r9", "name": "stale", "order": float64(9)},
	}

	changes := Calculate(desc, desired, existing, true)

	// Converge by hand: deletes removed, updates merged, creates added.
	converged := []Item{}
	for _, e := range existing {
		deleted := false
		for _, d := range changes.Delete {
			if d["id"] == e["id"] {
				deleted = true
			}
		}
		if deleted {
			continue
		}
		merged := e.Clone()
		for _, u := range changes.Update {
			if u["id"] == e["id"] {
				for k, v := range u {
					merged[k] = v
				}
			}
		}
		converged = append(converged, merged)
	}
	for i, c := range changes.Create {
		created := c.Clone()
		created["id"] = "new-" + string(rune('0'+i))
		converged = append(converged, created)
	}

	again := Calculate(desc, desired, converged, true)
	if !again.Empty() {
		t.Errorf("Expected converged state to produce no changes, got %+v", again)
	}
}

func TestCalculate_SwapProducesConflicts(t *testing.T) {
	desc := rulesDescriptor()
	existing := []Item{
		{"id": "1", "name": "A", "order": 1},
		{"id": "2", "name": "B", "order": 2},
	}
	desired := []Item{
		{"name": "A", "order": 2},
		{"name": "B", "order": 1},
	}

	changes := Calculate(desc, desired, existing, false)

	if len(changes.Conflicts) != 2 {
		t.Fatalf("Expected 2 conflicts, got %d: %v", len(changes.Conflicts), changes.Conflicts)
	}
	if len(changes.Update) != 2 {
		t.Fatalf("Expected 2 updates, got %d", len(changes.Update))
	}

	// Simulate the apply order and check the unique constraint after every step.
	state := map[string]interface{}{"1": 1, "2": 2}
	assertUnique := func(step string) {
		seen := map[string]string{}
		for id, order := range state {
			key := valueKey(order)
			if other, ok := seen[key]; ok {
				t.Fatalf("%s: items %s and %s share order %v", step, id, other, order)
			}
			seen[key] = id
		}
	}

	for _, c := range changes.Conflicts {
		state[c.String("id")] = c["order"]
		assertUnique("conflict " + c.String("name"))
	}
	for _, u := range changes.Update {
		state[u.String("id")] = u["order"]
		assertUnique("update " + u.String("name"))
	}

	if !valuesEqual(state["1"], 2) || !valuesEqual(state["2"], 1) {
		t.Errorf("Expected final orders 1->2 and 2->1, got %v", state)
	}
}

func TestCalculate_ConflictIgnoresItemsBeingDeleted(t *testing.T) {
	desc := rulesDescriptor()
	existing := []Item{{"id": "1", "name": "old", "order": 1}}
	desired := []Item{{"name": "new", "order": 1}}

	withDelete := Calculate(desc, desired, existing, true)
	if len(withDelete.Conflicts) != 0 {
		t.Errorf("Expected no conflicts when the holder is deleted first, got %v", withDelete.Conflicts)
	}

	withoutDelete := Calculate(desc, desired, existing, false)
	if len(withoutDelete.Conflicts) != 1 {
		t.Fatalf("Expected 1 conflict when the holder stays, got %d", len(withoutDelete.Conflicts))
	}
	if valuesEqual(withoutDelete.Conflicts[0]["order"], 1) {
		t.Error("Expected the conflict to move the holder off order 1")
	}
}

func TestCalculate_StringUniqueField(t *testing.T) {
	desc := Descriptor{
		Type:         "connections",
		Identifiers:  []Identifier{{"id"}, {"name"}},
		UniqueFields: []string{"display_name"},
	}
	existing := []Item{
		{"id": "1", "name": "a", "display_name": "Login"},
		{"id": "2", "name": "b", "display_name": "Login-1"},
	}
	desired := []Item{
		{"name": "a", "display_name": "Primary"},
		{"name": "b", "display_name": "Login"},
	}

	changes := Calculate(desc, desired, existing, false)

	if len(changes.Conflicts) != 1 {
		t.Fatalf("Expected 1 conflict, got %d", len(changes.Conflicts))
	}
	got := changes.Conflicts[0]["display_name"]
	if got == "Login" || got == "Login-1" {
		t.Errorf("Expected a fresh temporary value, got %v", got)
	}
}
