package commands

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/auth0/auth0-deploy-cli-sub002/pkg/engine"
	"github.com/auth0/auth0-deploy-cli-sub002/pkg/stores"
)

const desiredRoles = `
roles:
  - name: admin
    description: Administrators
  - name: ops
`

const existingRoles = `
roles:
  - id: rol_1
    name: admin
    description: Old
  - id: rol_2
    name: stale
`

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"AUTH0_DOMAIN", "AUTH0_BASE_URL", "AUTH0_CLIENT_ID", "AUTH0_CLIENT_SECRET",
		"AUTH0_ACCESS_TOKEN", engine.ConfigAllowDelete, engine.ConfigIncludedOnly,
		engine.ConfigExcluded, engine.ConfigDeleteExceptions, engine.ConfigKeywordReplaceMappings,
		"TENANTSYNC_INPUT", "TENANTSYNC_HISTORY", "TENANTSYNC_LOG_LEVEL",
		"TENANTSYNC_METRICS_ADDRESS", "TENANTSYNC_CONCURRENCY", "TENANTSYNC_DISABLED_POLICIES",
	} {
		t.Setenv(key, "")
	}
	t.Setenv("TENANTSYNC_LOG_LEVEL", "error")
}

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cmd := newRootCommand("test", "none", "today")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestValidateCommand(t *testing.T) {
	clearEnv(t)

	tests := []struct {
		name    string
		content string
		wantOut string
		wantErr string
	}{
		{
			name:    "valid",
			content: desiredRoles,
			wantOut: "2 items across 1 types [roles]",
		},
		{
			name:    "schema problem",
			content: "roles:\n  - description: no name\n",
			wantErr: "roles",
		},
		{
			name:    "duplicate names",
			content: "roles:\n  - name: a\n  - name: a\n",
			wantErr: "duplicate",
		},
		{
			name:    "unknown type",
			content: "widgets:\n  - name: a\n",
			wantErr: "no handler registered",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, "validate", "-i", writeTemp(t, "tenant.yaml", tt.content))
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !strings.Contains(out, tt.wantOut) {
				t.Errorf("expected output containing %q, got %q", tt.wantOut, out)
			}
		})
	}
}

func TestValidateCommand_NoInput(t *testing.T) {
	clearEnv(t)

	if _, err := execute(t, "validate"); err == nil || !strings.Contains(err.Error(), "no input") {
		t.Errorf("expected missing input error, got %v", err)
	}
}

func TestPlanCommand_Snapshot(t *testing.T) {
	clearEnv(t)

	input := writeTemp(t, "tenant.yaml", desiredRoles)
	snapshot := writeTemp(t, "existing.yaml", existingRoles)

	out, err := execute(t, "plan", "-i", input, "--snapshot", snapshot)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, want := range []string{
		"roles:",
		"  + ops",
		"  ~ admin",
		"  - stale (withheld, deletions are not allowed)",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestPlanCommand_SnapshotAllowDelete(t *testing.T) {
	clearEnv(t)
	t.Setenv(engine.ConfigAllowDelete, "true")

	input := writeTemp(t, "tenant.yaml", desiredRoles)
	snapshot := writeTemp(t, "existing.yaml", existingRoles)

	out, err := execute(t, "plan", "-i", input, "--snapshot", snapshot)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "  - stale\n") {
		t.Errorf("expected an allowed deletion, got:\n%s", out)
	}
}

func TestPlanCommand_DisabledPolicy(t *testing.T) {
	input := writeTemp(t, "tenant.yaml", desiredRoles)
	snapshot := writeTemp(t, "existing.yaml", existingRoles)

	tests := []struct {
		name     string
		disabled string
		want     string
		wantErr  string
	}{
		{name: "exception applies", want: "  - stale\n"},
		{name: "exception disabled", disabled: "deletion-exceptions", want: "  - stale (withheld"},
		{name: "unknown policy", disabled: "no-such-policy", wantErr: "policy not found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(engine.ConfigDeleteExceptions, "roles")
			t.Setenv("TENANTSYNC_DISABLED_POLICIES", tt.disabled)

			out, err := execute(t, "plan", "-i", input, "--snapshot", snapshot)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !strings.Contains(out, tt.want) {
				t.Errorf("expected %q in output:\n%s", tt.want, out)
			}
		})
	}
}

func TestPlanCommand_NoChanges(t *testing.T) {
	clearEnv(t)

	input := writeTemp(t, "tenant.yaml", "roles:\n  - name: admin\n")
	snapshot := writeTemp(t, "existing.yaml", "roles:\n  - id: rol_1\n    name: admin\n")

	out, err := execute(t, "plan", "-i", input, "--snapshot", snapshot)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "No changes") {
		t.Errorf("expected no changes, got:\n%s", out)
	}
}

func TestPlanCommand_Excluded(t *testing.T) {
	clearEnv(t)
	t.Setenv(engine.ConfigExcluded, "roles")

	input := writeTemp(t, "tenant.yaml", desiredRoles)
	snapshot := writeTemp(t, "existing.yaml", existingRoles)

	out, err := execute(t, "plan", "-i", input, "--snapshot", snapshot)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(out, "roles:") {
		t.Errorf("expected roles to be excluded, got:\n%s", out)
	}
}

func TestPlanCommand_Graph(t *testing.T) {
	clearEnv(t)
	t.Setenv(engine.ConfigExcluded, "rules")

	out, err := execute(t, "plan", "--graph")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, want := range []string{
		"digraph Handlers {",
		`"clients" -> "clientGrants";`,
		`"resourceServers" -> "clientGrants";`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output:\n%s", want, out)
		}
	}
	if strings.Contains(out, `"rules"`) {
		t.Errorf("expected excluded rules to be left out, got:\n%s", out)
	}
}

func TestHistoryCommand(t *testing.T) {
	clearEnv(t)
	ctx := context.Background()

	dbPath := filepath.Join(t.TempDir(), "history.db")
	store, err := openStore(ctx, dbPath)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	started := time.Now().Add(-time.Minute)
	completed := time.Now()
	errText := "failed to process roles: boom"
	for _, run := range []*stores.Run{
		{ID: "run-ok", Status: stores.RunStatusSucceeded, StartedAt: started, CompletedAt: &completed, Created: 2},
		{ID: "run-failed", Status: stores.RunStatusFailed, StartedAt: started.Add(time.Second), CompletedAt: &completed, Error: &errText},
	} {
		if err := store.SaveRun(ctx, run); err != nil {
			t.Fatalf("failed to save run: %v", err)
		}
	}
	if err := store.AppendMutation(ctx, &stores.Mutation{
		RunID: "run-failed", ResourceType: "roles", Operation: "create",
		ItemName: "admin", Error: &errText, Timestamp: completed,
	}); err != nil {
		t.Fatalf("failed to append mutation: %v", err)
	}
	store.Close()

	out, err := execute(t, "history", "--db", dbPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "run-ok") || !strings.Contains(out, "run-failed") {
		t.Errorf("expected both runs listed, got:\n%s", out)
	}

	out, err = execute(t, "history", "--db", dbPath, "--run", "run-failed")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "Error: "+errText) || !strings.Contains(out, "admin") {
		t.Errorf("expected run details, got:\n%s", out)
	}

	if _, err := execute(t, "history"); err == nil {
		t.Error("expected error without a database")
	}
}
