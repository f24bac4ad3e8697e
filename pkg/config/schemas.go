package config

import (
	"fmt"
	"sort"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/auth0/auth0-deploy-cli-sub002/pkg/engine"
)

// SchemaRegistry holds a CUE schema per resource type. Desired items are
// unified with their type's schema; fields the schema does not mention pass
// through untouched.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a registry with the built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}

	for name, schema := range builtinSchemas {
		if err := sr.RegisterSchema(name, schema); err != nil {
			panic(err)
		}
	}

	return sr
}

// RegisterSchema compiles and registers the schema of a resource type,
// replacing any previous one.
func (sr *SchemaRegistry) RegisterSchema(resourceType, schema string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(schema, cue.Filename(resourceType+".cue"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", resourceType, err)
	}

	sr.schemas[resourceType] = val
	return nil
}

// GetSchema returns the schema of a resource type.
func (sr *SchemaRegistry) GetSchema(resourceType string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[resourceType]
	return val, ok
}

// ListSchemas returns the types with a schema, sorted.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateItem checks one item against its type's schema. Types without a
// schema are accepted.
func (sr *SchemaRegistry) ValidateItem(resourceType string, item engine.Item) error {
	schema, ok := sr.GetSchema(resourceType)
	if !ok {
		return nil
	}

	sr.mu.Lock()
	defer sr.mu.Unlock()

	data := sr.ctx.Encode(map[string]interface{}(item))
	if err := data.Err(); err != nil {
		return fmt.Errorf("failed to encode item: %w", err)
	}

	if err := schema.Unify(data).Validate(cue.Concrete(true)); err != nil {
		return convertCUEErrors(err)
	}
	return nil
}

// ValidateState checks every item of a desired state and reports all
// problems in one *engine.ValidationError.
func (sr *SchemaRegistry) ValidateState(desired engine.DesiredState) error {
	problems := engine.NewValidationError()

	types := make([]string, 0, len(desired))
	for t := range desired {
		types = append(types, t)
	}
	sort.Strings(types)

	for _, t := range types {
		for i, item := range desired[t] {
			err := sr.ValidateItem(t, item)
			if err == nil {
				continue
			}
			if diags, ok := err.(Diagnostics); ok {
				for _, d := range diags {
					problems.Add(t, "item at position %d: %s", i, d.Message)
				}
				continue
			}
			problems.Add(t, "item at position %d: %v", i, err)
		}
	}

	return problems.ErrOrNil()
}

var builtinSchemas = map[string]string{
	"tenant": `
friendly_name?:    string
support_email?:    string
session_lifetime?: number & >0
flags?: {[string]: bool}
`,
	"clients": `
name:         string & !=""
app_type?:    "spa" | "native" | "non_interactive" | "regular_web"
callbacks?:   [...string]
grant_types?: [...string]
`,
	"resourceServers": `
name:            string & !=""
identifier:      string & !=""
token_lifetime?: int & >0
scopes?: [...{value: string, description?: string}]
`,
	"clientGrants": `
client_id: string & !=""
audience:  string & !=""
scope?:    [...string]
`,
	"connections": `
name:             string & !=""
strategy:         string & !=""
enabled_clients?: [...string]
options?: {...}
`,
	"roles": `
name:         string & !=""
description?: string
`,
	"rules": `
name:     string & !=""
script:   string & !=""
order?:   number
enabled?: bool
stage?:   "login_success"
`,
	"actions": `
name:      string & !=""
code:      string
runtime?:  string
deployed?: bool
supported_triggers: [...{id: string, version?: string}]
`,
}
