// Package config loads the run settings and the desired tenant state.
//
// # Settings
//
// Settings come from an optional YAML file with the environment applied on
// top. AUTH0_* variables carry the values the engine and the resource
// handlers read through Settings.Lookup:
//
//	AUTH0_DOMAIN, AUTH0_CLIENT_ID, AUTH0_CLIENT_SECRET, AUTH0_ACCESS_TOKEN
//	AUTH0_ALLOW_DELETE, AUTH0_ALLOW_DELETE_EXCEPTIONS
//	AUTH0_INCLUDED_ONLY, AUTH0_EXCLUDED
//	AUTH0_KEYWORD_REPLACE_MAPPINGS
//
// Lists accept a JSON array or a comma separated string. Keyword mappings are
// a JSON object.
//
// # Desired state
//
// The desired state is a YAML, JSON or CUE document whose top-level keys are
// resource types:
//
//	tenant:
//	  friendly_name: "##TENANT_NAME##"
//	clients:
//	  - name: Web
//	    callbacks: @@CALLBACKS@@
//	rules:
//	  - name: enrich-profile
//	    script: "function (user, context, cb) { cb(null, user, context) }"
//	    order: 1
//
// Before parsing, ##KEY## is replaced with the mapped value as text and
// @@KEY@@ with its JSON encoding. A directory is loaded as a CUE package.
//
// Every item is then unified with the CUE schema of its type, which checks
// the fields each type requires and their shapes.
package config
