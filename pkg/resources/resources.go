// Package resources declares the built-in resource types: their descriptors,
// remote collections, per-type hooks and processing priorities.
//
// Priorities encode the cross-type dependencies. Types that reference other
// types by name (client grants, connections, tenant settings) declare After
// edges, which the orchestrator checks against the priorities when it seals.
package resources

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/auth0/auth0-deploy-cli-sub002/pkg/engine"
	"github.com/auth0/auth0-deploy-cli-sub002/pkg/remote"
	"github.com/rs/zerolog"
)

// Options carries what every handler needs.
type Options struct {
	// API is the tenant management API.
	API remote.API

	// Config is the run configuration.
	Config engine.ConfigLookup

	// Logger receives handler events.
	Logger zerolog.Logger

	// Retry bounds consistency waits (e.g. action builds).
	Retry engine.RetryConfig
}

// definition declares one resource type.
type definition struct {
	Type     string
	Priority int
	After    []string
	build    func(opts Options) (*engine.Handler, error)
}

// definitions lists the built-in types in registration order.
var definitions = []definition{
	{Type: "tenant", Priority: 80, After: []string{"connections"}, build: newTenantHandler},
	{Type: "clients", Priority: 50, build: newClientsHandler},
	{Type: "roles", Priority: 50, build: newRolesHandler},
	{Type: "rules", Priority: 50, build: newRulesHandler},
	{Type: "actions", Priority: 50, build: newActionsHandler},
	{Type: "resourceServers", Priority: 60, build: newResourceServersHandler},
	{Type: "connections", Priority: 60, After: []string{"clients"}, build: newConnectionsHandler},
	{Type: "clientGrants", Priority: 70, After: []string{"clients", "resourceServers"}, build: newClientGrantsHandler},
}

// Types returns the names of the built-in types, sorted.
func Types() []string {
	types := make([]string, 0, len(definitions))
	for _, d := range definitions {
		types = append(types, d.Type)
	}
	sort.Strings(types)
	return types
}

// Filter selects which types take part in a run.
type Filter struct {
	// Included limits the run to these types when non-empty.
	Included []string

	// Excluded removes types from the run.
	Excluded []string
}

// Allows reports whether the type takes part in the run.
func (f Filter) Allows(resourceType string) bool {
	for _, t := range f.Excluded {
		if t == resourceType {
			return false
		}
	}
	if len(f.Included) == 0 {
		return true
	}
	for _, t := range f.Included {
		if t == resourceType {
			return true
		}
	}
	return false
}

// Apply returns the part of the desired state the filter allows. The input is
// not modified.
func (f Filter) Apply(desired engine.DesiredState) engine.DesiredState {
	out := make(engine.DesiredState, len(desired))
	for t, items := range desired {
		if f.Allows(t) {
			out[t] = items
		}
	}
	return out
}

// validate rejects names that are not built-in types.
func (f Filter) validate() error {
	known := make(map[string]bool, len(definitions))
	for _, d := range definitions {
		known[d.Type] = true
	}

	problems := engine.NewValidationError()
	for _, t := range append(append([]string(nil), f.Included...), f.Excluded...) {
		if !known[t] {
			problems.Add(t, "unknown resource type in include/exclude filter")
		}
	}
	return problems.ErrOrNil()
}

// Registrations builds the handlers of every type the filter allows. After
// edges to filtered-out types are dropped.
func Registrations(opts Options, filter Filter) ([]engine.Registration, error) {
	if opts.API == nil {
		return nil, fmt.Errorf("remote API is required")
	}
	if opts.Retry.Attempts == 0 {
		opts.Retry = engine.DefaultRetryConfig()
	}
	if err := filter.validate(); err != nil {
		return nil, err
	}

	regs := make([]engine.Registration, 0, len(definitions))
	for _, d := range definitions {
		if !filter.Allows(d.Type) {
			continue
		}

		h, err := d.build(opts)
		if err != nil {
			return nil, fmt.Errorf("failed to build %s handler: %w", d.Type, err)
		}

		var after []string
		for _, dep := range d.After {
			if filter.Allows(dep) {
				after = append(after, dep)
			}
		}

		regs = append(regs, engine.Registration{Handler: h, Priority: d.Priority, After: after})
	}

	return regs, nil
}

// Register registers the filtered handlers with the orchestrator and seals it.
func Register(o *engine.Orchestrator, opts Options, filter Filter) error {
	regs, err := Registrations(opts, filter)
	if err != nil {
		return err
	}
	for _, reg := range regs {
		if err := o.Register(reg); err != nil {
			return err
		}
	}
	return o.Seal()
}

// newHandler wires a descriptor to its remote collection.
func newHandler(opts Options, spec remote.CollectionSpec, cfg engine.HandlerConfig) (*engine.Handler, error) {
	cfg.Capabilities = opts.API.Capabilities(spec)
	cfg.Classify = remote.Classify
	cfg.Logger = opts.Logger
	return engine.NewHandler(cfg)
}

// existing reads another type's existing items. A type that is not part of the
// run resolves to nothing.
func existing(ctx context.Context, lookup engine.Lookup, resourceType string) ([]engine.Item, error) {
	if lookup == nil {
		return nil, nil
	}

	items, err := lookup.Existing(ctx, resourceType)
	if err != nil {
		var engErr *engine.EngineError
		if errors.As(err, &engErr) && engErr.Code == engine.ErrCodeUnknownType {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read existing %s: %w", resourceType, err)
	}
	return items, nil
}

// index maps a field of another type's items to another field.
func index(items []engine.Item, from, to string) map[string]string {
	out := make(map[string]string, len(items))
	for _, item := range items {
		key := item.String(from)
		value := item.String(to)
		if key != "" && value != "" {
			out[key] = value
		}
	}
	return out
}

// requireFields reports desired items missing any of the fields.
func requireFields(problems *engine.ValidationError, resourceType string, desired []engine.Item, fields ...string) {
	for i, item := range desired {
		for _, f := range fields {
			if !item.Has(f) {
				problems.Add(resourceType, "item at position %d is missing %s", i, f)
			}
		}
	}
}
