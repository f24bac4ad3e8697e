package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/auth0/auth0-deploy-cli-sub002/pkg/engine"
	"github.com/auth0/auth0-deploy-cli-sub002/pkg/remote"
)

func TestTenant_ListingStyles(t *testing.T) {
	tests := []struct {
		name     string
		paging   remote.Paging
		wantList int
	}{
		{name: "offset", paging: remote.PagingOffset, wantList: 3},
		{name: "cursor", paging: remote.PagingCursor, wantList: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tenant := NewTenant()
			spec := remote.CollectionSpec{Name: "roles", Paging: tt.paging, PageSize: 2}
			caps := tenant.Capabilities(spec)

			for i := 0; i < 5; i++ {
				tenant.Seed("roles", engine.Item{"name": fmt.Sprintf("role-%d", i)})
			}

			items, err := engine.FetchAll(context.Background(), caps.List)
			if err != nil {
				t.Fatalf("FetchAll failed: %v", err)
			}
			if len(items) != 5 {
				t.Fatalf("Expected 5 items, got %d", len(items))
			}
			for i, item := range items {
				if item.String("name") != fmt.Sprintf("role-%d", i) {
					t.Errorf("Item %d out of order: %v", i, item)
				}
				if item.String("id") == "" {
					t.Errorf("Item %d has no id", i)
				}
			}
			if n := tenant.CountCalls("roles", engine.OperationList); n != tt.wantList {
				t.Errorf("Expected %d list calls, got %d", tt.wantList, n)
			}
		})
	}
}

func TestTenant_CRUD(t *testing.T) {
	tenant := NewTenant()
	caps := tenant.Capabilities(remote.CollectionSpec{Name: "clients", IDField: "client_id"})
	ctx := context.Background()

	created, err := caps.Create(ctx, engine.Item{"name": "web"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	id := created.String("client_id")
	if id == "" {
		t.Fatal("Expected generated client_id")
	}

	updated, err := caps.Update(ctx, id, engine.Item{"app_type": "spa"})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if updated.String("name") != "web" || updated.String("app_type") != "spa" {
		t.Errorf("Expected update to merge, got %v", updated)
	}

	if err := caps.Delete(ctx, id); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if len(tenant.Items("clients")) != 0 {
		t.Error("Expected collection to be empty after delete")
	}

	err = caps.Delete(ctx, id)
	if !remote.NotFound(err) {
		t.Errorf("Expected not found, got %v", err)
	}
}

func TestTenant_UniqueEnforcement(t *testing.T) {
	tenant := NewTenant()
	caps := tenant.Capabilities(remote.CollectionSpec{Name: "rules"})
	tenant.Unique("rules", "order")
	tenant.Seed("rules",
		engine.Item{"id": "r1", "name": "a", "order": 1},
		engine.Item{"id": "r2", "name": "b", "order": 2},
	)

	_, err := caps.Update(context.Background(), "r1", engine.Item{"order": 2})
	var apiErr *remote.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != 409 {
		t.Fatalf("Expected 409 conflict, got %v", err)
	}

	// Moving r2 out of the way first lets r1 take its order.
	if _, err := caps.Update(context.Background(), "r2", engine.Item{"order": 3}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if _, err := caps.Update(context.Background(), "r1", engine.Item{"order": 2}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
}

func TestTenant_FailAndOnGet(t *testing.T) {
	tenant := NewTenant()
	spec := remote.CollectionSpec{Name: "actions"}
	caps := tenant.Capabilities(spec)
	tenant.Seed("actions", engine.Item{"id": "act_1", "status": "pending"})

	boom := &remote.APIError{StatusCode: 403, ErrorCode: "insufficient_scope"}
	tenant.Fail("actions", engine.OperationList, boom)
	if _, err := engine.FetchAll(context.Background(), caps.List); !errors.Is(err, boom) {
		t.Errorf("Expected injected failure, got %v", err)
	}
	tenant.Fail("actions", engine.OperationList, nil)

	reads := 0
	tenant.OnGet("actions", func(item engine.Item) engine.Item {
		reads++
		if reads >= 2 {
			item["status"] = "built"
		}
		return item
	})

	first, err := tenant.Get(context.Background(), spec, "act_1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	second, err := tenant.Get(context.Background(), spec, "act_1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if first.String("status") != "pending" || second.String("status") != "built" {
		t.Errorf("Unexpected statuses %q, %q", first.String("status"), second.String("status"))
	}

	deployed, err := tenant.Invoke(context.Background(), spec, "act_1", "deploy")
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if deployed["deployed"] != true {
		t.Errorf("Expected deployed item, got %v", deployed)
	}
}

func TestTenant_Singleton(t *testing.T) {
	tenant := NewTenant()
	spec := remote.CollectionSpec{Name: "tenant", Singleton: true}
	caps := tenant.Capabilities(spec)

	items, err := engine.FetchAll(context.Background(), caps.List)
	if err != nil {
		t.Fatalf("FetchAll failed: %v", err)
	}
	if len(items) != 1 || items[0].String("id") != remote.SingletonID {
		t.Fatalf("Expected one tagged item, got %v", items)
	}

	if _, err := caps.Update(context.Background(), remote.SingletonID, engine.Item{"friendly_name": "Acme"}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if got := tenant.Items("tenant"); len(got) != 1 || got[0].String("friendly_name") != "Acme" {
		t.Errorf("Unexpected settings %v", got)
	}
}

func TestTenant_Snapshot(t *testing.T) {
	tenant := NewTenant()
	tenant.Load(engine.State{
		"roles": {{"id": "rol_1", "name": "admin"}},
	})

	snap := tenant.Snapshot()
	snap["roles"][0]["name"] = "changed"

	if tenant.Items("roles")[0].String("name") != "admin" {
		t.Error("Snapshot must not alias tenant state")
	}
}
