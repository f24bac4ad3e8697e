package engine

import (
	"context"
	"time"
)

// ConfigLookup is the configuration surface consumed by handlers. It returns
// nil for unknown keys.
type ConfigLookup func(key string) interface{}

// Configuration keys read by the engine and the built-in resource handlers.
const (
	ConfigAllowDelete            = "AUTH0_ALLOW_DELETE"
	ConfigClientID               = "AUTH0_CLIENT_ID"
	ConfigKeywordReplaceMappings = "AUTH0_KEYWORD_REPLACE_MAPPINGS"
	ConfigIncludedOnly           = "AUTH0_INCLUDED_ONLY"
	ConfigExcluded               = "AUTH0_EXCLUDED"
	ConfigDeleteExceptions       = "AUTH0_ALLOW_DELETE_EXCEPTIONS"
)

// Bool reads a boolean key, accepting bool and the usual string spellings.
func (c ConfigLookup) Bool(key string) bool {
	if c == nil {
		return false
	}
	switch v := c(key).(type) {
	case bool:
		return v
	case string:
		return v == "true" || v == "1" || v == "yes"
	default:
		return false
	}
}

// String reads a string key.
func (c ConfigLookup) String(key string) string {
	if c == nil {
		return ""
	}
	if v, ok := c(key).(string); ok {
		return v
	}
	return ""
}

// DeletionPolicy decides whether existing-only items of a resource type may be
// deleted in this run. It is the single place deletion gating is decided.
type DeletionPolicy interface {
	AllowDelete(ctx context.Context, resourceType string) (bool, error)
}

// StaticDeletionPolicy allows or forbids deletion for every type.
type StaticDeletionPolicy bool

// AllowDelete implements DeletionPolicy.
func (p StaticDeletionPolicy) AllowDelete(context.Context, string) (bool, error) {
	return bool(p), nil
}

// Lookup gives transforms read access to other types' existing state.
type Lookup interface {
	// Existing returns the cached existing items of a resource type, loading them
	// if needed.
	Existing(ctx context.Context, resourceType string) ([]Item, error)
}

// MutationEvent describes a single mutation that reached the remote side.
type MutationEvent struct {
	RunID     string
	Type      string
	Operation OperationType
	Name      string
	ID        string
	Duration  time.Duration
	Err       error
}

// SkippedDeletionEvent lists every item whose deletion was withheld for a type.
type SkippedDeletionEvent struct {
	RunID string
	Type  string
	Items []string
}

// Recorder receives the engine's reporting events. Implementations must be safe
// for concurrent use; mutation events are emitted from pool workers.
type Recorder interface {
	// RunStarted is called once when Process begins, before any mutation.
	RunStarted(ctx context.Context, run *RunResult)

	// Mutation is called once per applied or failed mutation.
	Mutation(ctx context.Context, event MutationEvent)

	// SkippedDeletions is called at most once per handler run.
	SkippedDeletions(ctx context.Context, event SkippedDeletionEvent)

	// Unavailable is called when a type's listing was recovered as empty.
	Unavailable(ctx context.Context, err *FeatureUnavailableError)

	// HandlerCompleted is called after a handler's ProcessChanges returns.
	HandlerCompleted(ctx context.Context, runID string, result *Result, err error)

	// RunCompleted is called once when an orchestrator run ends.
	RunCompleted(ctx context.Context, result *RunResult, err error)
}

// NopRecorder discards every event.
type NopRecorder struct{}

func (NopRecorder) RunStarted(context.Context, *RunResult)                   {}
func (NopRecorder) Mutation(context.Context, MutationEvent)                  {}
func (NopRecorder) SkippedDeletions(context.Context, SkippedDeletionEvent)   {}
func (NopRecorder) Unavailable(context.Context, *FeatureUnavailableError)    {}
func (NopRecorder) HandlerCompleted(context.Context, string, *Result, error) {}
func (NopRecorder) RunCompleted(context.Context, *RunResult, error)          {}
