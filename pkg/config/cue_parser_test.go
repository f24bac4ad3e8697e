package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCUEParser_ParseString(t *testing.T) {
	parser := NewCUEParser()

	tests := []struct {
		name      string
		content   string
		mappings  map[string]interface{}
		wantErr   bool
		checkFunc func(*testing.T, map[string]interface{})
	}{
		{
			name: "rules list",
			content: `
rules: [
	{name: "r1", script: "a", order: 1},
	{name: "r2", script: "b", order: 2},
]
`,
			checkFunc: func(t *testing.T, doc map[string]interface{}) {
				rules, ok := doc["rules"].([]interface{})
				if !ok || len(rules) != 2 {
					t.Fatalf("expected 2 rules, got %v", doc["rules"])
				}
				first := rules[0].(map[string]interface{})
				if first["order"] != int64(1) {
					t.Errorf("expected order int64(1), got %T %v", first["order"], first["order"])
				}
			},
		},
		{
			name: "definitions and defaults",
			content: `
#Role: {name: string, description: *"managed" | string}
roles: [#Role & {name: "admin"}]
`,
			checkFunc: func(t *testing.T, doc map[string]interface{}) {
				role := doc["roles"].([]interface{})[0].(map[string]interface{})
				if role["description"] != "managed" {
					t.Errorf("expected default description, got %v", role["description"])
				}
			},
		},
		{
			name:     "keywords replaced before evaluation",
			content:  `tenant: {friendly_name: "##NAME##", flags: @@FLAGS@@}`,
			mappings: map[string]interface{}{"NAME": "Acme", "FLAGS": map[string]interface{}{"beta": true}},
			checkFunc: func(t *testing.T, doc map[string]interface{}) {
				tenant := doc["tenant"].(map[string]interface{})
				if tenant["friendly_name"] != "Acme" {
					t.Errorf("expected Acme, got %v", tenant["friendly_name"])
				}
				flags := tenant["flags"].(map[string]interface{})
				if flags["beta"] != true {
					t.Errorf("expected beta flag, got %v", flags)
				}
			},
		},
		{
			name:    "syntax error",
			content: `rules: [`,
			wantErr: true,
		},
		{
			name:    "conflicting values",
			content: "roles: [{name: \"a\"}]\nroles: [{name: \"b\"}]",
			wantErr: true,
		},
		{
			name:    "incomplete value",
			content: `roles: [{name: string}]`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := parser.ParseString(tt.content, "test.cue", tt.mappings)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				var diags Diagnostics
				if !errors.As(err, &diags) || len(diags) == 0 {
					t.Errorf("expected diagnostics, got %T: %v", err, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			tt.checkFunc(t, doc)
		})
	}
}

func TestCUEParser_ParseFile(t *testing.T) {
	parser := NewCUEParser()

	tmpDir := t.TempDir()
	testFile := filepath.Join(tmpDir, "tenant.cue")
	content := `
clients: [{name: "Web", app_type: "spa"}]
`
	if err := os.WriteFile(testFile, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}

	doc, err := parser.ParseFile(testFile, nil)
	if err != nil {
		t.Fatalf("failed to parse file: %v", err)
	}
	if _, ok := doc["clients"]; !ok {
		t.Errorf("expected clients, got %v", doc)
	}

	if _, err := parser.ParseFile(filepath.Join(tmpDir, "missing.cue"), nil); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestCUEParser_ErrorPositions(t *testing.T) {
	parser := NewCUEParser()

	_, err := parser.ParseString("roles: [{name: 1 & \"x\"}]", "roles.cue", nil)
	var diags Diagnostics
	if !errors.As(err, &diags) {
		t.Fatalf("expected diagnostics, got %v", err)
	}
	if diags[0].File != "roles.cue" || diags[0].Line != 1 {
		t.Errorf("expected position in roles.cue line 1, got %+v", diags[0])
	}
	if !strings.Contains(err.Error(), "roles.cue:1:") {
		t.Errorf("expected position in message, got %s", err.Error())
	}
}

func TestCUEParser_ParseDir_Empty(t *testing.T) {
	parser := NewCUEParser()

	_, err := parser.ParseDir(t.TempDir(), nil)
	if err == nil || !strings.Contains(err.Error(), "no CUE files found") {
		t.Errorf("expected no CUE files error, got %v", err)
	}
}
