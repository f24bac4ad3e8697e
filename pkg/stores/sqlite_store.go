package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// memoryPath selects an in-memory database.
const memoryPath = ":memory:"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db   *sql.DB
	cfg  Config
	path string
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	// Every connection to :memory: opens a separate database.
	if cfg.Path == memoryPath {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{
		cfg:  cfg,
		path: cfg.Path,
	}, nil
}

// Init initializes the database connection and enables WAL mode for file
// databases.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := s.path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	if s.path != memoryPath {
		dsn += "&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// SaveRun inserts a run or updates the stored one with the same ID.
func (s *SQLiteStore) SaveRun(ctx context.Context, run *Run) error {
	query := `
		INSERT INTO runs (id, status, started_at, completed_at, duration_ms, created, updated, deleted, error, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			completed_at = excluded.completed_at,
			duration_ms = excluded.duration_ms,
			created = excluded.created,
			updated = excluded.updated,
			deleted = excluded.deleted,
			error = excluded.error,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at
	`

	now := time.Now()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	run.UpdatedAt = now
	if run.Metadata == "" {
		run.Metadata = "{}"
	}

	_, err := s.db.ExecContext(ctx, query,
		run.ID,
		run.Status,
		run.StartedAt,
		run.CompletedAt,
		run.DurationMs,
		run.Created,
		run.Updated,
		run.Deleted,
		run.Error,
		run.Metadata,
		run.CreatedAt,
		run.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}

	return nil
}

const runColumns = `id, status, started_at, completed_at, duration_ms, created, updated, deleted, error, metadata, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	run := &Run{}
	err := row.Scan(
		&run.ID,
		&run.Status,
		&run.StartedAt,
		&run.CompletedAt,
		&run.DurationMs,
		&run.Created,
		&run.Updated,
		&run.Deleted,
		&run.Error,
		&run.Metadata,
		&run.CreatedAt,
		&run.UpdatedAt,
	)
	return run, err
}

// GetRun retrieves a run by ID
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE id = ?`

	run, err := scanRun(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return run, nil
}

// ListRuns lists runs, most recent first
func (s *SQLiteStore) ListRuns(ctx context.Context, limit, offset int) ([]*Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC LIMIT ? OFFSET ?`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

// DeleteRun deletes a run and its child records
func (s *SQLiteStore) DeleteRun(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("run not found: %s", id)
	}

	return nil
}

// PruneRuns deletes runs started before the given time and returns how many
// were removed.
func (s *SQLiteStore) PruneRuns(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE started_at < ?`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows, nil
}

// AppendHandlerResult records the outcome of one handler
func (s *SQLiteStore) AppendHandlerResult(ctx context.Context, hr *HandlerResult) error {
	query := `
		INSERT INTO handler_results (run_id, resource_type, created, updated, deleted, conflicts, duration_ms, error, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		hr.RunID,
		hr.ResourceType,
		hr.Created,
		hr.Updated,
		hr.Deleted,
		hr.Conflicts,
		hr.DurationMs,
		hr.Error,
		hr.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append handler result: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get handler result ID: %w", err)
	}

	hr.ID = id
	return nil
}

// ListHandlerResults lists the handler results of a run in completion order
func (s *SQLiteStore) ListHandlerResults(ctx context.Context, runID string) ([]*HandlerResult, error) {
	query := `
		SELECT id, run_id, resource_type, created, updated, deleted, conflicts, duration_ms, error, completed_at
		FROM handler_results
		WHERE run_id = ?
		ORDER BY id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list handler results: %w", err)
	}
	defer rows.Close()

	results := []*HandlerResult{}
	for rows.Next() {
		hr := &HandlerResult{}
		err := rows.Scan(
			&hr.ID,
			&hr.RunID,
			&hr.ResourceType,
			&hr.Created,
			&hr.Updated,
			&hr.Deleted,
			&hr.Conflicts,
			&hr.DurationMs,
			&hr.Error,
			&hr.CompletedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan handler result: %w", err)
		}
		results = append(results, hr)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating handler results: %w", err)
	}

	return results, nil
}

// AppendMutation records one remote mutation
func (s *SQLiteStore) AppendMutation(ctx context.Context, m *Mutation) error {
	query := `
		INSERT INTO mutations (run_id, resource_type, operation, item_name, item_id, duration_ms, error, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		m.RunID,
		m.ResourceType,
		m.Operation,
		m.ItemName,
		m.ItemID,
		m.DurationMs,
		m.Error,
		m.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to append mutation: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get mutation ID: %w", err)
	}

	m.ID = id
	return nil
}

// ListMutations lists the mutations of a run in the order they were recorded
func (s *SQLiteStore) ListMutations(ctx context.Context, runID string) ([]*Mutation, error) {
	query := `
		SELECT id, run_id, resource_type, operation, item_name, item_id, duration_ms, error, timestamp
		FROM mutations
		WHERE run_id = ?
		ORDER BY id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list mutations: %w", err)
	}
	defer rows.Close()

	mutations := []*Mutation{}
	for rows.Next() {
		m := &Mutation{}
		err := rows.Scan(
			&m.ID,
			&m.RunID,
			&m.ResourceType,
			&m.Operation,
			&m.ItemName,
			&m.ItemID,
			&m.DurationMs,
			&m.Error,
			&m.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan mutation: %w", err)
		}
		mutations = append(mutations, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating mutations: %w", err)
	}

	return mutations, nil
}

// AppendSkippedDeletion records a batch of withheld deletions
func (s *SQLiteStore) AppendSkippedDeletion(ctx context.Context, sd *SkippedDeletion) error {
	items, err := json.Marshal(sd.Items)
	if err != nil {
		return fmt.Errorf("failed to encode skipped items: %w", err)
	}

	query := `
		INSERT INTO skipped_deletions (run_id, resource_type, items, timestamp)
		VALUES (?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query, sd.RunID, sd.ResourceType, string(items), sd.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to append skipped deletion: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get skipped deletion ID: %w", err)
	}

	sd.ID = id
	return nil
}

// ListSkippedDeletions lists the withheld deletions of a run
func (s *SQLiteStore) ListSkippedDeletions(ctx context.Context, runID string) ([]*SkippedDeletion, error) {
	query := `
		SELECT id, run_id, resource_type, items, timestamp
		FROM skipped_deletions
		WHERE run_id = ?
		ORDER BY id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list skipped deletions: %w", err)
	}
	defer rows.Close()

	skipped := []*SkippedDeletion{}
	for rows.Next() {
		sd := &SkippedDeletion{}
		var items string
		if err := rows.Scan(&sd.ID, &sd.RunID, &sd.ResourceType, &items, &sd.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan skipped deletion: %w", err)
		}
		if err := json.Unmarshal([]byte(items), &sd.Items); err != nil {
			return nil, fmt.Errorf("failed to decode skipped items: %w", err)
		}
		skipped = append(skipped, sd)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating skipped deletions: %w", err)
	}

	return skipped, nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}
