package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/racksync/racksync/pkg/engine"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// AuditStore implements the Store interface using SQLite.
type AuditStore struct {
	db     *sql.DB
	config Config
}

// Config holds SQLite store configuration.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewAuditStore creates a new SQLite-backed audit store instance.
func NewAuditStore(cfg Config) (*AuditStore, error) {
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

	return &AuditStore{config: cfg}, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *AuditStore) Init(ctx context.Context) error {
	// Open database with SQLite-specific connection parameters
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.config.Path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(s.config.MaxOpenConns)
	db.SetMaxIdleConns(s.config.MaxIdleConns)
	db.SetConnMaxLifetime(s.config.ConnMaxLifetime)

	// Verify connection
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	// Ensure foreign keys are enabled (connection-level setting)
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection.
func (s *AuditStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations from the embedded filesystem.
func (s *AuditStore) Migrate(_ context.Context) error {
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

// RecordWrite persists one executed write. It satisfies engine.AuditSink;
// the proxy is responsible for tolerating failures, so errors are returned
// rather than swallowed here.
func (s *AuditStore) RecordWrite(ctx context.Context, audit engine.WriteAudit) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	payload := "{}"
	if audit.Payload != nil {
		encoded, err := json.Marshal(audit.Payload)
		if err != nil {
			return fmt.Errorf("failed to encode write payload: %w", err)
		}
		payload = string(encoded)
	}

	at := audit.At
	if at.IsZero() {
		at = time.Now()
	}

	outcome := WriteOutcomeOK
	if audit.Outcome == string(WriteOutcomeError) {
		outcome = WriteOutcomeError
	}

	query := `
		INSERT INTO write_records (
			id, batch_id, timestamp, operation, resource_type, resource_id,
			payload, outcome, error, dry_run, duration_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		uuid.NewString(),
		nullable(audit.BatchID),
		at.UTC(),
		string(audit.Kind),
		string(audit.Type),
		audit.ResourceID,
		payload,
		string(outcome),
		nullable(audit.Error),
		audit.DryRun,
		audit.Duration.Milliseconds(),
	)

	if err != nil {
		return fmt.Errorf("failed to record write: %w", err)
	}

	return nil
}

// ListWrites returns audited writes matching the filter, newest first.
func (s *AuditStore) ListWrites(ctx context.Context, filter WriteFilter) ([]*WriteRecord, error) {
	if filter.Limit <= 0 {
		filter.Limit = 100
	}

	query := `
		SELECT id, batch_id, timestamp, operation, resource_type, resource_id,
			   payload, outcome, error, dry_run, duration_ms
		FROM write_records
		WHERE (? IS NULL OR batch_id = ?)
		  AND (? IS NULL OR resource_type = ?)
		  AND (? IS NULL OR outcome = ?)
		ORDER BY timestamp DESC, id DESC
		LIMIT ? OFFSET ?
	`

	batchID := nullable(filter.BatchID)
	resourceType := nullable(filter.ResourceType)
	outcome := nullable(string(filter.Outcome))

	rows, err := s.db.QueryContext(ctx, query,
		batchID, batchID,
		resourceType, resourceType,
		outcome, outcome,
		filter.Limit, filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list writes: %w", err)
	}
	defer rows.Close()

	records := []*WriteRecord{}
	for rows.Next() {
		record := &WriteRecord{}
		err := rows.Scan(
			&record.ID,
			&record.BatchID,
			&record.Timestamp,
			&record.Operation,
			&record.ResourceType,
			&record.ResourceID,
			&record.Payload,
			&record.Outcome,
			&record.Error,
			&record.DryRun,
			&record.DurationMS,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan write record: %w", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating write records: %w", err)
	}

	return records, nil
}

// CreateBatchRun inserts a new batch run in running state. Totals are
// filled in by FinishBatchRun.
func (s *AuditStore) CreateBatchRun(ctx context.Context, run *BatchRun) error {
	if run.ID == "" {
		return fmt.Errorf("batch run id is required")
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	if run.Status == "" {
		run.Status = engine.RunStatusRunning
	}

	query := `
		INSERT INTO batch_runs (
			id, mode, status, started_at, dry_run,
			total, created, updated, unchanged, failed, skipped,
			success_rate, rollback_performed
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		run.ID,
		string(run.Mode),
		string(run.Status),
		run.StartedAt.UTC(),
		run.DryRun,
		run.Summary.Total,
		run.Summary.Created,
		run.Summary.Updated,
		run.Summary.Unchanged,
		run.Summary.Failed,
		run.Summary.Skipped,
		run.SuccessRate,
		run.RollbackPerformed,
	)

	if err != nil {
		return fmt.Errorf("failed to create batch run: %w", err)
	}

	return nil
}

// FinishBatchRun stores the terminal status and totals of a batch run.
func (s *AuditStore) FinishBatchRun(ctx context.Context, id string, status engine.RunStatus, summary engine.BatchSummary, rollbackPerformed bool) error {
	query := `
		UPDATE batch_runs
		SET status = ?, finished_at = ?,
			total = ?, created = ?, updated = ?, unchanged = ?, failed = ?, skipped = ?,
			success_rate = ?, rollback_performed = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		string(status),
		time.Now().UTC(),
		summary.Total,
		summary.Created,
		summary.Updated,
		summary.Unchanged,
		summary.Failed,
		summary.Skipped,
		summary.SuccessRate(),
		rollbackPerformed,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to finish batch run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("batch run not found: %s", id)
	}

	return nil
}

// GetBatchRun retrieves a batch run by its batch id.
func (s *AuditStore) GetBatchRun(ctx context.Context, id string) (*BatchRun, error) {
	query := `
		SELECT id, mode, status, started_at, finished_at, dry_run,
			   total, created, updated, unchanged, failed, skipped,
			   success_rate, rollback_performed
		FROM batch_runs
		WHERE id = ?
	`

	run := &BatchRun{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&run.ID,
		&run.Mode,
		&run.Status,
		&run.StartedAt,
		&run.FinishedAt,
		&run.DryRun,
		&run.Summary.Total,
		&run.Summary.Created,
		&run.Summary.Updated,
		&run.Summary.Unchanged,
		&run.Summary.Failed,
		&run.Summary.Skipped,
		&run.SuccessRate,
		&run.RollbackPerformed,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("batch run not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get batch run: %w", err)
	}

	return run, nil
}

// ListBatchRuns lists batch runs, newest first.
func (s *AuditStore) ListBatchRuns(ctx context.Context, limit int) ([]*BatchRun, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT id, mode, status, started_at, finished_at, dry_run,
			   total, created, updated, unchanged, failed, skipped,
			   success_rate, rollback_performed
		FROM batch_runs
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list batch runs: %w", err)
	}
	defer rows.Close()

	runs := []*BatchRun{}
	for rows.Next() {
		run := &BatchRun{}
		err := rows.Scan(
			&run.ID,
			&run.Mode,
			&run.Status,
			&run.StartedAt,
			&run.FinishedAt,
			&run.DryRun,
			&run.Summary.Total,
			&run.Summary.Created,
			&run.Summary.Updated,
			&run.Summary.Unchanged,
			&run.Summary.Failed,
			&run.Summary.Skipped,
			&run.SuccessRate,
			&run.RollbackPerformed,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan batch run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating batch runs: %w", err)
	}

	return runs, nil
}

// HealthCheck verifies the database connection is healthy.
func (s *AuditStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}

// nullable maps the empty string to NULL so optional filters and columns
// share one code path.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
