package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
)

// CUEParser evaluates CUE sources into plain documents. Keyword mappings are
// substituted into every file before evaluation.
type CUEParser struct {
	ctx *cue.Context
}

// NewCUEParser creates a new CUE parser.
func NewCUEParser() *CUEParser {
	return &CUEParser{ctx: cuecontext.New()}
}

// ParseString evaluates inline CUE content.
func (cp *CUEParser) ParseString(content, filename string, mappings map[string]interface{}) (map[string]interface{}, error) {
	content, err := ReplaceKeywords(content, mappings)
	if err != nil {
		return nil, err
	}

	val := cp.ctx.CompileString(content, cue.Filename(filename))
	return cp.decode(val)
}

// ParseFile evaluates a single CUE file.
func (cp *CUEParser) ParseFile(path string, mappings map[string]interface{}) (map[string]interface{}, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return cp.ParseString(string(content), path, mappings)
}

// ParseDir evaluates the CUE package in a directory.
func (cp *CUEParser) ParseDir(dir string, mappings map[string]interface{}) (map[string]interface{}, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", dir, err)
	}

	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}

	overlay := make(map[string]load.Source)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".cue") {
			continue
		}
		path := filepath.Join(abs, entry.Name())
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		replaced, err := ReplaceKeywords(string(content), mappings)
		if err != nil {
			return nil, err
		}
		overlay[path] = load.FromString(replaced)
	}
	if len(overlay) == 0 {
		return nil, Diagnostics{{File: dir, Message: "no CUE files found"}}
	}

	instances := load.Instances([]string{"."}, &load.Config{Dir: abs, Overlay: overlay})
	if len(instances) == 0 {
		return nil, Diagnostics{{File: dir, Message: "no CUE instances found"}}
	}

	inst := instances[0]
	if inst.Err != nil {
		return nil, convertCUEErrors(inst.Err)
	}

	return cp.decode(cp.ctx.BuildInstance(inst))
}

// decode validates a value as concrete data and decodes it.
func (cp *CUEParser) decode(val cue.Value) (map[string]interface{}, error) {
	if err := val.Err(); err != nil {
		return nil, convertCUEErrors(err)
	}
	if err := val.Validate(cue.Concrete(true)); err != nil {
		return nil, convertCUEErrors(err)
	}

	doc := make(map[string]interface{})
	if err := val.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode CUE value: %w", err)
	}
	return doc, nil
}

// convertCUEErrors flattens CUE errors into positioned diagnostics.
func convertCUEErrors(err error) Diagnostics {
	var diags Diagnostics

	for _, e := range errors.Errors(err) {
		d := Diagnostic{Message: strings.TrimSpace(errors.Details(e, nil))}
		if pos := errors.Positions(e); len(pos) > 0 {
			d.File = pos[0].Filename()
			d.Line = pos[0].Line()
			d.Column = pos[0].Column()
		}
		if path := e.Path(); len(path) > 0 {
			d.Path = strings.Join(path, ".")
		}
		diags = append(diags, d)
	}

	if len(diags) == 0 {
		diags = Diagnostics{{Message: err.Error()}}
	}
	return diags
}
