// Package policy decides deletion gating with Open Policy Agent.
//
// The Engine implements engine.DeletionPolicy. For every resource type it
// evaluates the enabled Rego policies against an Input carrying the type, the
// run-wide AUTH0_ALLOW_DELETE flag and the AUTH0_ALLOW_DELETE_EXCEPTIONS list.
// Deletion is allowed when at least one policy's allow rule is true and no
// policy's deny rule produces a message.
//
// # Built-in Policies
//
//  1. deletion-flag - allows deletion when the flag is set
//  2. deletion-exceptions - allows deletion for listed types
//  3. protected-tenant - never deletes the tenant singleton
//
// # Custom Policies
//
// Custom policies are loaded from .rego or .json files:
//
//	package custom.connections
//
//	import rego.v1
//
//	deny contains msg if {
//	    input.resource_type == "connections"
//	    msg := "connections are managed by the identity team"
//	}
//
// The loader can watch policy paths and reload them on change:
//
//	loader := policy.NewLoader(logger)
//	err = loader.Watch(ctx, paths, func(policies []policy.Policy) error {
//	    return eng.Replace(ctx, policies)
//	})
package policy
