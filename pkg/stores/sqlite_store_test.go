package stores

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

// setupTestStore creates an in-memory SQLite store for testing
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{
		Path: ":memory:",
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}

	t.Cleanup(func() { _ = store.Close() })
	return store
}

func createRun(t *testing.T, store *SQLiteStore, id string, startedAt time.Time) *Run {
	t.Helper()

	run := &Run{
		ID:        id,
		Status:    RunStatusRunning,
		StartedAt: startedAt,
	}
	if err := store.SaveRun(context.Background(), run); err != nil {
		t.Fatalf("failed to save run: %v", err)
	}
	return run
}

// TestStoreLifecycle tests database initialization and closure
func TestStoreLifecycle(t *testing.T) {
	store, err := NewSQLiteStore(Config{
		Path: filepath.Join(t.TempDir(), "history.db"),
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	// Migrating twice is a no-op.
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("second migration failed: %v", err)
	}

	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

func TestNewSQLiteStore_RequiresPath(t *testing.T) {
	if _, err := NewSQLiteStore(Config{}); err == nil {
		t.Error("expected error for empty path")
	}
}

// TestStoreMigrations tests database migrations
func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	tables := []string{"runs", "handler_results", "mutations", "skipped_deletions"}
	for _, table := range tables {
		var count int
		err := store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count)
		if err != nil {
			t.Errorf("table %s does not exist or is not accessible: %v", table, err)
		}
	}
}

// TestRunLifecycle tests saving, completing, listing and deleting runs
func TestRunLifecycle(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	start := time.Now().Add(-time.Minute)
	run := createRun(t, store, "run-001", start)

	retrieved, err := store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("failed to get run: %v", err)
	}
	if retrieved.Status != RunStatusRunning {
		t.Errorf("expected status %s, got %s", RunStatusRunning, retrieved.Status)
	}
	if retrieved.CompletedAt != nil {
		t.Error("expected CompletedAt to be nil for a running run")
	}
	if retrieved.Metadata != "{}" {
		t.Errorf("expected default metadata, got %q", retrieved.Metadata)
	}

	// Complete
	completed := time.Now()
	errMsg := "failed to process clients"
	run.Status = RunStatusFailed
	run.CompletedAt = &completed
	run.DurationMs = 60000
	run.Created = 2
	run.Updated = 1
	run.Error = &errMsg
	if err := store.SaveRun(ctx, run); err != nil {
		t.Fatalf("failed to complete run: %v", err)
	}

	updated, err := store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("failed to get updated run: %v", err)
	}
	if updated.Status != RunStatusFailed {
		t.Errorf("expected status %s, got %s", RunStatusFailed, updated.Status)
	}
	if updated.Error == nil || *updated.Error != errMsg {
		t.Errorf("expected error %q, got %v", errMsg, updated.Error)
	}
	if updated.CompletedAt == nil {
		t.Error("expected CompletedAt to be set")
	}
	if updated.Created != 2 || updated.Updated != 1 || updated.Deleted != 0 {
		t.Errorf("unexpected counters %d/%d/%d", updated.Created, updated.Updated, updated.Deleted)
	}

	// List
	createRun(t, store, "run-002", time.Now())
	runs, err := store.ListRuns(ctx, 10, 0)
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if runs[0].ID != "run-002" {
		t.Errorf("expected most recent run first, got %s", runs[0].ID)
	}

	// Delete
	if err := store.DeleteRun(ctx, run.ID); err != nil {
		t.Fatalf("failed to delete run: %v", err)
	}
	if _, err := store.GetRun(ctx, run.ID); err == nil {
		t.Error("expected error when getting deleted run")
	}
	if err := store.DeleteRun(ctx, run.ID); err == nil {
		t.Error("expected error when deleting a missing run")
	}
}

// TestRunChildren tests handler results, mutations and skipped deletions
func TestRunChildren(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	now := time.Now()

	run := createRun(t, store, "run-003", now)

	results := []*HandlerResult{
		{RunID: run.ID, ResourceType: "clients", Created: 1, DurationMs: 12, CompletedAt: now},
		{RunID: run.ID, ResourceType: "rules", Updated: 2, Conflicts: 2, DurationMs: 30, CompletedAt: now},
	}
	for _, hr := range results {
		if err := store.AppendHandlerResult(ctx, hr); err != nil {
			t.Fatalf("failed to append handler result: %v", err)
		}
		if hr.ID == 0 {
			t.Error("expected handler result ID to be assigned")
		}
	}

	id := "cli_1"
	failure := "409 conflict"
	mutations := []*Mutation{
		{RunID: run.ID, ResourceType: "clients", Operation: "create", ItemName: "web", ItemID: &id, Timestamp: now},
		{RunID: run.ID, ResourceType: "rules", Operation: "update", ItemName: "r1", Error: &failure, Timestamp: now},
	}
	for _, m := range mutations {
		if err := store.AppendMutation(ctx, m); err != nil {
			t.Fatalf("failed to append mutation: %v", err)
		}
	}

	if err := store.AppendSkippedDeletion(ctx, &SkippedDeletion{
		RunID:        run.ID,
		ResourceType: "roles",
		Items:        []string{"admin", "viewer"},
		Timestamp:    now,
	}); err != nil {
		t.Fatalf("failed to append skipped deletion: %v", err)
	}

	gotResults, err := store.ListHandlerResults(ctx, run.ID)
	if err != nil {
		t.Fatalf("failed to list handler results: %v", err)
	}
	if len(gotResults) != 2 || gotResults[0].ResourceType != "clients" || gotResults[1].Conflicts != 2 {
		t.Errorf("unexpected handler results: %+v", gotResults)
	}

	gotMutations, err := store.ListMutations(ctx, run.ID)
	if err != nil {
		t.Fatalf("failed to list mutations: %v", err)
	}
	if len(gotMutations) != 2 {
		t.Fatalf("expected 2 mutations, got %d", len(gotMutations))
	}
	if gotMutations[0].ItemID == nil || *gotMutations[0].ItemID != "cli_1" {
		t.Errorf("expected item id cli_1, got %v", gotMutations[0].ItemID)
	}
	if gotMutations[1].Error == nil || *gotMutations[1].Error != failure {
		t.Errorf("expected mutation error %q, got %v", failure, gotMutations[1].Error)
	}

	skipped, err := store.ListSkippedDeletions(ctx, run.ID)
	if err != nil {
		t.Fatalf("failed to list skipped deletions: %v", err)
	}
	if len(skipped) != 1 || len(skipped[0].Items) != 2 || skipped[0].Items[1] != "viewer" {
		t.Errorf("unexpected skipped deletions: %+v", skipped)
	}

	// Deleting the run cascades to its children.
	if err := store.DeleteRun(ctx, run.ID); err != nil {
		t.Fatalf("failed to delete run: %v", err)
	}
	gotMutations, err = store.ListMutations(ctx, run.ID)
	if err != nil {
		t.Fatalf("failed to list mutations: %v", err)
	}
	if len(gotMutations) != 0 {
		t.Errorf("expected mutations to be deleted with the run, got %d", len(gotMutations))
	}
}

func TestMutationRequiresRun(t *testing.T) {
	store := setupTestStore(t)

	err := store.AppendMutation(context.Background(), &Mutation{
		RunID:        "missing",
		ResourceType: "clients",
		Operation:    "create",
		ItemName:     "web",
		Timestamp:    time.Now(),
	})
	if err == nil {
		t.Error("expected foreign key violation for unknown run")
	}
}

func TestPruneRuns(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	now := time.Now()
	createRun(t, store, "old-1", now.Add(-48*time.Hour))
	createRun(t, store, "old-2", now.Add(-36*time.Hour))
	createRun(t, store, "new", now)

	removed, err := store.PruneRuns(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("failed to prune runs: %v", err)
	}
	if removed != 2 {
		t.Errorf("expected 2 pruned runs, got %d", removed)
	}

	runs, err := store.ListRuns(ctx, 10, 0)
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != "new" {
		t.Errorf("unexpected remaining runs: %+v", runs)
	}
}

func TestRunStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		status RunStatus
		want   bool
	}{
		{RunStatusRunning, false},
		{RunStatusSucceeded, true},
		{RunStatusFailed, true},
		{RunStatusInvalid, true},
	}
	for _, tt := range tests {
		if got := tt.status.IsTerminal(); got != tt.want {
			t.Errorf("%s.IsTerminal() = %v, want %v", tt.status, got, tt.want)
		}
	}
}
