package stores

import (
	"context"
	"time"
)

// RunStatus mirrors engine.RunStatus in storage.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
	RunStatusInvalid   RunStatus = "invalid"
)

// IsTerminal returns true if the run has ended.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed || s == RunStatusInvalid
}

// Run represents one deployment run
type Run struct {
	ID          string     `json:"id"`
	Status      RunStatus  `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	DurationMs  int64      `json:"duration_ms"`
	Created     int        `json:"created"`
	Updated     int        `json:"updated"`
	Deleted     int        `json:"deleted"`
	Error       *string    `json:"error,omitempty"`
	Metadata    string     `json:"metadata"` // JSON blob
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// HandlerResult is the outcome of one handler within a run
type HandlerResult struct {
	ID           int64     `json:"id"`
	RunID        string    `json:"run_id"`
	ResourceType string    `json:"resource_type"`
	Created      int       `json:"created"`
	Updated      int       `json:"updated"`
	Deleted      int       `json:"deleted"`
	Conflicts    int       `json:"conflicts"`
	DurationMs   int64     `json:"duration_ms"`
	Error        *string   `json:"error,omitempty"`
	CompletedAt  time.Time `json:"completed_at"`
}

// Mutation is an append-only record of one remote mutation
type Mutation struct {
	ID           int64     `json:"id"`
	RunID        string    `json:"run_id"`
	ResourceType string    `json:"resource_type"`
	Operation    string    `json:"operation"`
	ItemName     string    `json:"item_name"`
	ItemID       *string   `json:"item_id,omitempty"`
	DurationMs   int64     `json:"duration_ms"`
	Error        *string   `json:"error,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// SkippedDeletion lists the items whose deletion was withheld for a type
type SkippedDeletion struct {
	ID           int64     `json:"id"`
	RunID        string    `json:"run_id"`
	ResourceType string    `json:"resource_type"`
	Items        []string  `json:"items"`
	Timestamp    time.Time `json:"timestamp"`
}

// Store defines the interface for the run history layer
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error
	HealthCheck(ctx context.Context) error

	// Run operations
	SaveRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, limit, offset int) ([]*Run, error)
	DeleteRun(ctx context.Context, id string) error
	PruneRuns(ctx context.Context, before time.Time) (int64, error)

	// Handler results
	AppendHandlerResult(ctx context.Context, result *HandlerResult) error
	ListHandlerResults(ctx context.Context, runID string) ([]*HandlerResult, error)

	// Mutations
	AppendMutation(ctx context.Context, mutation *Mutation) error
	ListMutations(ctx context.Context, runID string) ([]*Mutation, error)

	// Skipped deletions
	AppendSkippedDeletion(ctx context.Context, skipped *SkippedDeletion) error
	ListSkippedDeletions(ctx context.Context, runID string) ([]*SkippedDeletion, error)
}
