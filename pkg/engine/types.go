package engine

import (
	"context"
	"time"
)

// Item is one instance of a resource, desired or existing. The engine treats it
// as an opaque key/value record; only the fields named by a Descriptor carry meaning.
type Item map[string]interface{}

// Clone returns a shallow copy of the item.
func (i Item) Clone() Item {
	out := make(Item, len(i))
	for k, v := range i {
		out[k] = v
	}
	return out
}

// Without returns a copy of the item with the given fields removed.
func (i Item) Without(fields ...string) Item {
	out := i.Clone()
	for _, f := range fields {
		delete(out, f)
	}
	return out
}

// String returns the field as a string, or "" when missing or not a string.
func (i Item) String(field string) string {
	if v, ok := i[field].(string); ok {
		return v
	}
	return ""
}

// Has reports whether the field is present and non-nil.
func (i Item) Has(field string) bool {
	v, ok := i[field]
	return ok && v != nil
}

// Identifier is a tuple of fields that together identify an item. Single-field
// identifiers are the common case (e.g. {"id"} or {"name"}).
type Identifier []string

// Descriptor describes a resource type to the generic machinery.
type Descriptor struct {
	// Type is the resource type name as it appears in the desired state (e.g. "clients").
	Type string

	// IDField is the primary remote identifier field (e.g. "id", "client_id").
	IDField string

	// Identifiers are tried in order to match desired items against existing ones.
	Identifiers []Identifier

	// UniqueFields are secondary uniqueness constraints enforced by the remote side
	// (e.g. "order" for rules). Values swapped between items become conflicts.
	UniqueFields []string

	// StripCreate lists fields removed from payloads before create.
	StripCreate []string

	// StripUpdate lists fields removed from payloads before update.
	StripUpdate []string

	// NameField is used for human-readable identity strings. Defaults to "name".
	NameField string
}

// nameField returns the configured name field or the default.
func (d Descriptor) nameField() string {
	if d.NameField == "" {
		return "name"
	}
	return d.NameField
}

// idField returns the configured id field or the default.
func (d Descriptor) idField() string {
	if d.IDField == "" {
		return "id"
	}
	return d.IDField
}

// Capabilities is the per-type bundle of remote operations. It is built once at
// registration time; operations are never resolved by name at call time.
type Capabilities struct {
	// List fetches existing items. Must be an OffsetLister or a CursorLister.
	List Lister

	// Create creates an item and returns the remote representation.
	Create func(ctx context.Context, payload Item) (Item, error)

	// Update updates the item with the given id.
	Update func(ctx context.Context, id string, payload Item) (Item, error)

	// Delete removes the item with the given id.
	Delete func(ctx context.Context, id string) error
}

// ChangeSet is the result of comparing desired and existing items.
type ChangeSet struct {
	Create    []Item `json:"create"`
	Update    []Item `json:"update"`
	Delete    []Item `json:"delete"`
	Conflicts []Item `json:"conflicts"`
}

// Empty reports whether the change set requires no mutation.
func (c *ChangeSet) Empty() bool {
	return c == nil || len(c.Create)+len(c.Update)+len(c.Delete)+len(c.Conflicts) == 0
}

// OperationType represents the type of operation performed on a remote item.
type OperationType string

const (
	// OperationCreate indicates a new item is created.
	OperationCreate OperationType = "create"

	// OperationUpdate indicates an existing item is updated.
	OperationUpdate OperationType = "update"

	// OperationDelete indicates an existing item is deleted.
	OperationDelete OperationType = "delete"

	// OperationConflict indicates a temporary update that frees a unique value.
	OperationConflict OperationType = "conflict"

	// OperationList indicates a read of existing items.
	OperationList OperationType = "list"

	// OperationDeploy indicates a post-apply activation step (e.g. deploying an action).
	OperationDeploy OperationType = "deploy"
)

// AppliedChange records a single mutation that reached the remote side.
type AppliedChange struct {
	Operation OperationType `json:"operation"`
	Name      string        `json:"name"`
	ID        string        `json:"id,omitempty"`
}

// Result is returned by a handler's ProcessChanges. It replaces per-instance
// counters so repeated runs of the same handler never share state.
type Result struct {
	Type           string          `json:"type"`
	Created        int             `json:"created"`
	Updated        int             `json:"updated"`
	Deleted        int             `json:"deleted"`
	Conflicts      int             `json:"conflicts"`
	Applied        []AppliedChange `json:"applied,omitempty"`
	SkippedDeletes []string        `json:"skipped_deletes,omitempty"`
	Duration       time.Duration   `json:"duration"`
}

// DesiredState maps a resource type name to its desired items. Singleton
// types (e.g. tenant settings) hold a one-element slice.
type DesiredState map[string][]Item

// State is the aggregated existing state of all handlers after Load.
type State map[string][]Item

// RunResult aggregates the per-handler results of one orchestrator run.
type RunResult struct {
	ID          string        `json:"id"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
	Handlers    []*Result     `json:"handlers"`
	Status      RunStatus     `json:"status"`
	Duration    time.Duration `json:"duration"`
}

// Totals sums the handler counters.
func (r *RunResult) Totals() (created, updated, deleted int) {
	for _, h := range r.Handlers {
		created += h.Created
		updated += h.Updated
		deleted += h.Deleted
	}
	return created, updated, deleted
}
