package policy

import (
	"time"
)

// Policy represents a deletion policy rule with its Rego code.
//
// A policy module may define either or both of these rules:
//
//	allow if { ... }          # grants deletion for the input type
//	deny contains msg if { ... }  # vetoes deletion, with a reason
//
// Deletion is allowed when at least one enabled policy allows it and no
// enabled policy denies it.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Metadata contains additional policy metadata, such as its source file.
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// LoadedAt is when the policy was loaded.
	LoadedAt time.Time `json:"loaded_at"`
}

// Input is the document policies are evaluated against.
type Input struct {
	// ResourceType is the type whose deletions are being decided.
	ResourceType string `json:"resource_type"`

	// AllowDelete is the run-wide deletion flag.
	AllowDelete bool `json:"allow_delete"`

	// Exceptions lists types that may delete regardless of AllowDelete.
	Exceptions []string `json:"exceptions"`

	// Config exposes selected configuration values to policies.
	Config map[string]interface{} `json:"config,omitempty"`
}

// Decision is the result of evaluating all enabled policies for one input.
type Decision struct {
	// Allowed reports whether deletion may proceed.
	Allowed bool `json:"allowed"`

	// AllowedBy lists the policies that granted deletion.
	AllowedBy []string `json:"allowed_by,omitempty"`

	// Denials lists the reasons given by vetoing policies.
	Denials []Denial `json:"denials,omitempty"`

	// EvaluatedPolicies lists the names of policies that were evaluated.
	EvaluatedPolicies []string `json:"evaluated_policies"`

	// Duration is how long the evaluation took.
	Duration time.Duration `json:"duration"`
}

// Denial is one veto returned by a policy's deny rule.
type Denial struct {
	Policy  string `json:"policy"`
	Message string `json:"message"`
}
