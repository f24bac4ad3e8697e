package policy

import (
	"time"
)

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		deletionFlagPolicy(),
		deletionExceptionsPolicy(),
		protectedTenantPolicy(),
	}
}

// deletionFlagPolicy grants deletion when the run-wide flag is set.
func deletionFlagPolicy() Policy {
	return Policy{
		Name:        "deletion-flag",
		Description: "Allows deletion of existing-only items when AUTH0_ALLOW_DELETE is true",
		Enabled:     true,
		LoadedAt:    time.Now(),
		Rego: `package tenantsync.deletion.flag

import rego.v1

default allow := false

allow if input.allow_delete == true
`,
	}
}

// deletionExceptionsPolicy grants deletion for the types listed in
// AUTH0_ALLOW_DELETE_EXCEPTIONS even when the flag is off.
func deletionExceptionsPolicy() Policy {
	return Policy{
		Name:        "deletion-exceptions",
		Description: "Allows deletion for resource types explicitly listed as exceptions",
		Enabled:     true,
		LoadedAt:    time.Now(),
		Rego: `package tenantsync.deletion.exceptions

import rego.v1

default allow := false

allow if input.resource_type in input.exceptions
`,
	}
}

// protectedTenantPolicy vetoes deletion of the tenant singleton.
func protectedTenantPolicy() Policy {
	return Policy{
		Name:        "protected-tenant",
		Description: "Tenant settings can never be deleted",
		Enabled:     true,
		LoadedAt:    time.Now(),
		Rego: `package tenantsync.deletion.protected

import rego.v1

deny contains msg if {
	input.resource_type == "tenant"
	msg := "tenant settings cannot be deleted"
}
`,
	}
}
