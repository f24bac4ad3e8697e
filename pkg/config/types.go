package config

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Format is the encoding of a desired-state source.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
	FormatCUE  Format = "cue"
)

// DetectFormat derives the format from a file extension. Directories are
// loaded as CUE packages.
func DetectFormat(path string, isDir bool) (Format, error) {
	if isDir {
		return FormatCUE, nil
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	case ".cue":
		return FormatCUE, nil
	default:
		return "", fmt.Errorf("unsupported input format for %s", path)
	}
}

// Diagnostic is a single problem found while loading a source.
type Diagnostic struct {
	// File is the source file, when known.
	File string `json:"file,omitempty"`

	// Line is the 1-based line, 0 when unknown.
	Line int `json:"line,omitempty"`

	// Column is the 1-based column, 0 when unknown.
	Column int `json:"column,omitempty"`

	// Path is the value path (e.g. "rules[2].order").
	Path string `json:"path,omitempty"`

	// Message describes the problem.
	Message string `json:"message"`
}

func (d Diagnostic) String() string {
	var loc string
	switch {
	case d.File != "" && d.Line > 0:
		loc = fmt.Sprintf("%s:%d:%d: ", d.File, d.Line, d.Column)
	case d.File != "":
		loc = d.File + ": "
	}
	if d.Path != "" {
		loc += d.Path + ": "
	}
	return loc + d.Message
}

// Diagnostics is the error returned when a source fails to load.
type Diagnostics []Diagnostic

func (d Diagnostics) Error() string {
	if len(d) == 1 {
		return d[0].String()
	}
	lines := make([]string, 0, len(d))
	for _, diag := range d {
		lines = append(lines, "  * "+diag.String())
	}
	return fmt.Sprintf("%d problems found:\n%s", len(d), strings.Join(lines, "\n"))
}
