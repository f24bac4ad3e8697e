package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/auth0/auth0-deploy-cli-sub002/pkg/engine"
	"gopkg.in/yaml.v3"
)

// Loader reads desired state from YAML, JSON or CUE sources.
type Loader struct {
	cue     *CUEParser
	schemas *SchemaRegistry
}

// NewLoader creates a loader with the built-in schemas.
func NewLoader() *Loader {
	return &Loader{
		cue:     NewCUEParser(),
		schemas: NewSchemaRegistry(),
	}
}

// Schemas returns the schema registry used to check loaded items.
func (l *Loader) Schemas() *SchemaRegistry {
	return l.schemas
}

// Load reads a desired-state file or CUE package directory, substituting
// keyword mappings before parsing, and checks every item against its
// type's schema.
func (l *Loader) Load(path string, mappings map[string]interface{}) (engine.DesiredState, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat input %s: %w", path, err)
	}

	format, err := DetectFormat(path, info.IsDir())
	if err != nil {
		return nil, err
	}

	var doc map[string]interface{}
	switch {
	case format == FormatCUE && info.IsDir():
		doc, err = l.cue.ParseDir(path, mappings)
	case format == FormatCUE:
		doc, err = l.cue.ParseFile(path, mappings)
	default:
		doc, err = l.parseFile(path, format, mappings)
	}
	if err != nil {
		return nil, err
	}

	desired, err := ToDesiredState(doc)
	if err != nil {
		return nil, fmt.Errorf("invalid input %s: %w", path, err)
	}

	if err := l.schemas.ValidateState(desired); err != nil {
		return nil, err
	}
	return desired, nil
}

// Parse reads desired state from in-memory content.
func (l *Loader) Parse(content []byte, format Format, mappings map[string]interface{}) (engine.DesiredState, error) {
	var doc map[string]interface{}
	var err error
	if format == FormatCUE {
		doc, err = l.cue.ParseString(string(content), "inline.cue", mappings)
	} else {
		doc, err = decode(content, format, mappings)
	}
	if err != nil {
		return nil, err
	}

	desired, err := ToDesiredState(doc)
	if err != nil {
		return nil, err
	}
	if err := l.schemas.ValidateState(desired); err != nil {
		return nil, err
	}
	return desired, nil
}

func (l *Loader) parseFile(path string, format Format, mappings map[string]interface{}) (map[string]interface{}, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	doc, err := decode(content, format, mappings)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return doc, nil
}

func decode(content []byte, format Format, mappings map[string]interface{}) (map[string]interface{}, error) {
	replaced, err := ReplaceKeywords(string(content), mappings)
	if err != nil {
		return nil, err
	}

	doc := make(map[string]interface{})
	switch format {
	case FormatYAML:
		err = yaml.Unmarshal([]byte(replaced), &doc)
	case FormatJSON:
		err = json.Unmarshal([]byte(replaced), &doc)
	default:
		err = fmt.Errorf("unsupported format %s", format)
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// ToDesiredState converts a parsed document into desired state. Each
// top-level key is a resource type holding a list of objects; a single
// object (e.g. tenant settings) becomes a one-item list.
func ToDesiredState(doc map[string]interface{}) (engine.DesiredState, error) {
	desired := make(engine.DesiredState, len(doc))

	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, t := range keys {
		switch v := doc[t].(type) {
		case nil:
			desired[t] = []engine.Item{}
		case map[string]interface{}:
			desired[t] = []engine.Item{engine.Item(v)}
		case []interface{}:
			items := make([]engine.Item, 0, len(v))
			for i, raw := range v {
				obj, ok := raw.(map[string]interface{})
				if !ok {
					return nil, fmt.Errorf("%s[%d] is not an object", t, i)
				}
				items = append(items, engine.Item(obj))
			}
			desired[t] = items
		default:
			return nil, fmt.Errorf("%s must be an object or a list of objects", t)
		}
	}

	return desired, nil
}

// LoadSnapshot reads a saved existing state (YAML or JSON) keyed by resource
// type. Snapshots are taken as-is: no keyword replacement, no schema check.
func LoadSnapshot(path string) (engine.State, error) {
	format, err := DetectFormat(path, false)
	if err != nil {
		return nil, err
	}
	if format == FormatCUE {
		return nil, fmt.Errorf("snapshots must be YAML or JSON: %s", path)
	}

	doc, err := (&Loader{}).parseFile(path, format, nil)
	if err != nil {
		return nil, err
	}

	state, err := ToDesiredState(doc)
	if err != nil {
		return nil, fmt.Errorf("invalid snapshot %s: %w", path, err)
	}
	return engine.State(state), nil
}

// SaveSnapshot writes an existing state as YAML.
func SaveSnapshot(path string, state engine.State) error {
	content, err := yaml.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return fmt.Errorf("failed to write snapshot %s: %w", path, err)
	}
	return nil
}
