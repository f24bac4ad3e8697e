package engine

import (
	"fmt"
)

// RunStatus represents the overall status of an orchestrator run.
type RunStatus string

const (
	// RunStatusPending indicates the run has been created but not started.
	RunStatusPending RunStatus = "pending"

	// RunStatusRunning indicates the run is currently executing.
	RunStatusRunning RunStatus = "running"

	// RunStatusSucceeded indicates every handler completed.
	RunStatusSucceeded RunStatus = "succeeded"

	// RunStatusFailed indicates a handler failed and the run was aborted.
	// Mutations applied before the failure are kept.
	RunStatusFailed RunStatus = "failed"

	// RunStatusInvalid indicates validation rejected the desired state before any mutation.
	RunStatusInvalid RunStatus = "invalid"
)

// IsTerminal returns true if the run status represents a final state.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed || s == RunStatusInvalid
}

// Validate checks if the run status is valid.
func (s RunStatus) Validate() error {
	switch s {
	case RunStatusPending, RunStatusRunning, RunStatusSucceeded,
		RunStatusFailed, RunStatusInvalid:
		return nil
	default:
		return fmt.Errorf("invalid run status: %s", s)
	}
}

// Phase names a step of a handler's apply lifecycle.
type Phase string

const (
	PhaseDelete   Phase = "delete"
	PhaseConflict Phase = "conflict"
	PhaseCreate   Phase = "create"
	PhaseUpdate   Phase = "update"
)

// phaseOrder is the fixed order in which a handler applies its change set.
var phaseOrder = []Phase{PhaseDelete, PhaseConflict, PhaseCreate, PhaseUpdate}

// Operation maps the phase to the operation its tasks perform.
func (p Phase) Operation() OperationType {
	switch p {
	case PhaseDelete:
		return OperationDelete
	case PhaseConflict:
		return OperationConflict
	case PhaseCreate:
		return OperationCreate
	default:
		return OperationUpdate
	}
}
