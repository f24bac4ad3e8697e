// Package engine provides the generic reconciliation machinery of tenantsync.
//
// # Overview
//
// The engine converges a declarative desired state onto a remote tenant. It is
// organized in five layers, leaves first:
//
//  1. Pagination (FetchAll) - drains offset and cursor listings into one list
//  2. Execution pool (Pool) - bounded concurrency with per-task failure isolation
//  3. Change calculator (Calculate) - pure diff into create/update/delete/conflicts
//  4. Resource handler (Handler) - load, validate, calculate and apply for one type
//  5. Orchestrator - load, validate and process across all registered types
//
// # Resource Types
//
// A resource type is described by a Descriptor (identifiers, unique fields,
// fields stripped before create and update) and a Capabilities bundle of remote
// operations built once at registration time:
//
//	handler, err := engine.NewHandler(engine.HandlerConfig{
//	    Descriptor: engine.Descriptor{
//	        Type:         "rules",
//	        Identifiers:  []engine.Identifier{{"id"}, {"name"}},
//	        UniqueFields: []string{"order"},
//	        StripUpdate:  []string{"stage"},
//	    },
//	    Capabilities: engine.Capabilities{
//	        List:   engine.OffsetLister{PageSize: 100, ListPage: listRules},
//	        Create: createRule,
//	        Update: updateRule,
//	        Delete: deleteRule,
//	    },
//	    Classify: remote.Classify,
//	})
//
// Per-type behavior (foreign-key resolution, self-exclusion, extra validation,
// payload mapping, post-apply activation) is injected through HandlerConfig
// hooks.
//
// # Apply Order
//
// Within a handler the change set is applied in four phases: delete, conflict,
// create, update. Each phase runs through the shared pool and settles before
// the next starts. Deletes run only when the DeletionPolicy allows them;
// otherwise one warning lists every withheld deletion.
//
// Across handlers, Process runs strictly in ascending priority, one handler at
// a time. After edges declare which types a handler depends on and are checked
// against the priorities when the registry is sealed.
//
// # Failure Model
//
// Validation collects every problem of every type into one *ValidationError
// before anything is mutated. Remote failures are reported per item as
// *RemoteOperationError once their phase has settled, and stop the run.
// Listing errors classified as featureUnavailable or insufficientScope are
// the only ones recovered: the type is treated as empty.
//
// There is no rollback. Mutations applied before a failure remain on the
// tenant.
package engine
