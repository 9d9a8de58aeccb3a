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

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// SQLiteStore persists checkpoints, remediation attempts, and deploy events.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// Config holds SQLite store configuration.
type Config struct {
	Path string
}

// NewSQLiteStore creates a new SQLite store instance.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	return &SQLiteStore{path: cfg.Path}, nil
}

// Init opens the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// A single local control process; one writer connection is enough.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// HealthCheck verifies the database answers a trivial query.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	var one int
	return s.db.QueryRowContext(ctx, "SELECT 1").Scan(&one)
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

// InsertCheckpoint stores a new checkpoint record.
func (s *SQLiteStore) InsertCheckpoint(ctx context.Context, cp *Checkpoint) error {
	query := `
		INSERT INTO checkpoints (id, site_id, environment, created_at, data_path, source_revision, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		cp.ID,
		cp.SiteID,
		cp.Environment,
		cp.CreatedAt,
		cp.DataPath,
		cp.SourceRevision,
		cp.Status,
	)
	if err != nil {
		return fmt.Errorf("failed to insert checkpoint: %w", err)
	}
	return nil
}

// LatestCheckpoint returns the most recent checkpoint for a (site,
// environment) key, or ErrNotFound.
func (s *SQLiteStore) LatestCheckpoint(ctx context.Context, siteID, environment string) (*Checkpoint, error) {
	query := `
		SELECT id, site_id, environment, created_at, data_path, source_revision, status
		FROM checkpoints
		WHERE site_id = ? AND environment = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`

	cp := &Checkpoint{}
	err := s.db.QueryRowContext(ctx, query, siteID, environment).Scan(
		&cp.ID,
		&cp.SiteID,
		&cp.Environment,
		&cp.CreatedAt,
		&cp.DataPath,
		&cp.SourceRevision,
		&cp.Status,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get checkpoint: %w", err)
	}
	return cp, nil
}

// MarkCheckpointRolledBack transitions a checkpoint to rolled_back.
func (s *SQLiteStore) MarkCheckpointRolledBack(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE checkpoints SET status = ? WHERE id = ?`,
		CheckpointStatusRolledBack, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update checkpoint status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// TrimCheckpoints deletes all but the keep most recent checkpoints for a
// (site, environment) key, returning the data paths of the removed rows so
// the caller can delete the artifacts.
func (s *SQLiteStore) TrimCheckpoints(ctx context.Context, siteID, environment string, keep int) ([]string, error) {
	if keep < 1 {
		keep = 1
	}

	query := `
		SELECT id, data_path FROM checkpoints
		WHERE site_id = ? AND environment = ?
		ORDER BY created_at DESC, id DESC
		LIMIT -1 OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, siteID, environment, keep)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale checkpoints: %w", err)
	}
	defer rows.Close()

	var ids, paths []string
	for rows.Next() {
		var id, path string
		if err := rows.Scan(&id, &path); err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint: %w", err)
		}
		ids = append(ids, id)
		paths = append(paths, path)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate checkpoints: %w", err)
	}

	for _, id := range ids {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE id = ?`, id); err != nil {
			return paths, fmt.Errorf("failed to delete checkpoint %s: %w", id, err)
		}
	}
	return paths, nil
}

// ListCheckpoints enumerates checkpoints, newest first. An empty siteID
// lists all sites.
func (s *SQLiteStore) ListCheckpoints(ctx context.Context, siteID string) ([]*Checkpoint, error) {
	query := `
		SELECT id, site_id, environment, created_at, data_path, source_revision, status
		FROM checkpoints
	`
	args := []interface{}{}
	if siteID != "" {
		query += ` WHERE site_id = ?`
		args = append(args, siteID)
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	defer rows.Close()

	checkpoints := []*Checkpoint{}
	for rows.Next() {
		cp := &Checkpoint{}
		if err := rows.Scan(
			&cp.ID,
			&cp.SiteID,
			&cp.Environment,
			&cp.CreatedAt,
			&cp.DataPath,
			&cp.SourceRevision,
			&cp.Status,
		); err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint: %w", err)
		}
		checkpoints = append(checkpoints, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate checkpoints: %w", err)
	}
	return checkpoints, nil
}

// InsertRemediationAttempt appends a remediation attempt record.
func (s *SQLiteStore) InsertRemediationAttempt(ctx context.Context, attempt *RemediationAttempt) error {
	query := `
		INSERT INTO remediation_attempts (pattern_id, site_id, command, state_before, state_after, result, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		attempt.PatternID,
		attempt.SiteID,
		attempt.Command,
		attempt.StateBefore,
		attempt.StateAfter,
		attempt.Result,
		attempt.Duration.Milliseconds(),
		attempt.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert remediation attempt: %w", err)
	}

	id, err := result.LastInsertId()
	if err == nil {
		attempt.ID = id
	}
	return nil
}

// ListRemediationAttempts returns the most recent attempts for a site,
// newest first.
func (s *SQLiteStore) ListRemediationAttempts(ctx context.Context, siteID string, limit int) ([]*RemediationAttempt, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, pattern_id, site_id, command, state_before, state_after, result, duration_ms, created_at
		FROM remediation_attempts
		WHERE site_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, siteID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list remediation attempts: %w", err)
	}
	defer rows.Close()

	attempts := []*RemediationAttempt{}
	for rows.Next() {
		attempt := &RemediationAttempt{}
		var durationMs int64
		if err := rows.Scan(
			&attempt.ID,
			&attempt.PatternID,
			&attempt.SiteID,
			&attempt.Command,
			&attempt.StateBefore,
			&attempt.StateAfter,
			&attempt.Result,
			&durationMs,
			&attempt.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan remediation attempt: %w", err)
		}
		attempt.Duration = time.Duration(durationMs) * time.Millisecond
		attempts = append(attempts, attempt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate remediation attempts: %w", err)
	}
	return attempts, nil
}

// InsertDeployEvent appends a deployment event record.
func (s *SQLiteStore) InsertDeployEvent(ctx context.Context, event *DeployEvent) error {
	query := `
		INSERT INTO deploy_events (site_id, environment, step_key, type, level, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		event.SiteID,
		event.Environment,
		event.StepKey,
		event.Type,
		event.Level,
		event.Message,
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert deploy event: %w", err)
	}

	id, err := result.LastInsertId()
	if err == nil {
		event.ID = id
	}
	return nil
}

// ListDeployEvents returns the most recent events for a site, newest first.
func (s *SQLiteStore) ListDeployEvents(ctx context.Context, siteID string, limit int) ([]*DeployEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, site_id, environment, step_key, type, level, message, created_at
		FROM deploy_events
		WHERE site_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, siteID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list deploy events: %w", err)
	}
	defer rows.Close()

	events := []*DeployEvent{}
	for rows.Next() {
		event := &DeployEvent{}
		if err := rows.Scan(
			&event.ID,
			&event.SiteID,
			&event.Environment,
			&event.StepKey,
			&event.Type,
			&event.Level,
			&event.Message,
			&event.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan deploy event: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate deploy events: %w", err)
	}
	return events, nil
}
