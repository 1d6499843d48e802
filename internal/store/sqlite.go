// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides resume/token/usage persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/2389/puch-mcp/internal/auth"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// An in-memory database exists per connection, so the pool must not
	// grow past one or later queries would see an empty schema.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS resumes (
			id          TEXT PRIMARY KEY,
			owner       TEXT NOT NULL,
			name        TEXT NOT NULL,
			content     TEXT NOT NULL,
			target_role TEXT NOT NULL DEFAULT '',
			created_at  TEXT NOT NULL,
			updated_at  TEXT NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_resumes_owner_name
			ON resumes(owner, name);

		CREATE TABLE IF NOT EXISTS api_tokens (
			id           TEXT PRIMARY KEY,
			name         TEXT NOT NULL UNIQUE,
			hash         TEXT NOT NULL,
			capabilities TEXT NOT NULL DEFAULT '[]',
			created_at   TEXT NOT NULL,
			expires_at   TEXT
		);

		CREATE TABLE IF NOT EXISTS tool_usage (
			id          TEXT PRIMARY KEY,
			tool_name   TEXT NOT NULL,
			caller      TEXT NOT NULL,
			is_error    INTEGER NOT NULL DEFAULT 0,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			created_at  TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_tool_usage_tool ON tool_usage(tool_name);
		CREATE INDEX IF NOT EXISTS idx_tool_usage_created ON tool_usage(created_at);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

// Resume operations

// SaveResume inserts or updates a resume keyed by (owner, name).
func (s *SQLiteStore) SaveResume(ctx context.Context, r *Resume) error {
	now := time.Now().UTC()
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO resumes (id, owner, name, content, target_role, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(owner, name) DO UPDATE SET
			content = excluded.content,
			target_role = excluded.target_role,
			updated_at = excluded.updated_at`,
		r.ID, r.Owner, r.Name, r.Content, r.TargetRole,
		r.CreatedAt.Format(time.RFC3339Nano), r.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("saving resume: %w", err)
	}

	// ON CONFLICT keeps the existing row's id and created_at, so read the
	// persisted identity back into the caller's struct.
	var createdAt string
	row := s.db.QueryRowContext(ctx,
		`SELECT id, created_at FROM resumes WHERE owner = ? AND name = ?`, r.Owner, r.Name)
	if err := row.Scan(&r.ID, &createdAt); err != nil {
		return fmt.Errorf("saving resume: %w", err)
	}
	if r.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return fmt.Errorf("parsing created_at: %w", err)
	}
	return nil
}

// GetResume retrieves a resume by owner and name.
func (s *SQLiteStore) GetResume(ctx context.Context, owner, name string) (*Resume, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner, name, content, target_role, created_at, updated_at
		FROM resumes WHERE owner = ? AND name = ?`, owner, name)

	r, err := scanResume(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("resume %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting resume: %w", err)
	}
	return r, nil
}

// ListResumes returns all resumes for an owner, most recently updated first.
func (s *SQLiteStore) ListResumes(ctx context.Context, owner string) ([]*Resume, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner, name, content, target_role, created_at, updated_at
		FROM resumes WHERE owner = ? ORDER BY updated_at DESC`, owner)
	if err != nil {
		return nil, fmt.Errorf("listing resumes: %w", err)
	}
	defer rows.Close()

	var resumes []*Resume
	for rows.Next() {
		r, err := scanResume(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning resume: %w", err)
		}
		resumes = append(resumes, r)
	}
	return resumes, rows.Err()
}

// DeleteResume removes a resume by owner and name.
func (s *SQLiteStore) DeleteResume(ctx context.Context, owner, name string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM resumes WHERE owner = ? AND name = ?`, owner, name)
	if err != nil {
		return fmt.Errorf("deleting resume: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting resume: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("resume %q: %w", name, ErrNotFound)
	}
	return nil
}

// scanner abstracts *sql.Row and *sql.Rows for shared scanning.
type scanner interface {
	Scan(dest ...any) error
}

func scanResume(sc scanner) (*Resume, error) {
	var r Resume
	var createdAt, updatedAt string
	if err := sc.Scan(&r.ID, &r.Owner, &r.Name, &r.Content, &r.TargetRole, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	var err error
	if r.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if r.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &r, nil
}

// Token record operations

// CreateTokenRecord stores a new API token record.
func (s *SQLiteStore) CreateTokenRecord(ctx context.Context, rec *auth.TokenRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	capsJSON, err := json.Marshal(rec.Capabilities)
	if err != nil {
		return fmt.Errorf("marshaling capabilities: %w", err)
	}

	var expiresAt any
	if rec.ExpiresAt != nil {
		expiresAt = rec.ExpiresAt.UTC().Format(time.RFC3339Nano)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO api_tokens (id, name, hash, capabilities, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Name, rec.Hash, string(capsJSON),
		rec.CreatedAt.UTC().Format(time.RFC3339Nano), expiresAt,
	)
	if err != nil {
		return fmt.Errorf("creating token record: %w", err)
	}
	return nil
}

// ListTokenRecords returns all token records.
func (s *SQLiteStore) ListTokenRecords(ctx context.Context) ([]*auth.TokenRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, hash, capabilities, created_at, expires_at
		FROM api_tokens ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("listing token records: %w", err)
	}
	defer rows.Close()

	var records []*auth.TokenRecord
	for rows.Next() {
		var rec auth.TokenRecord
		var capsJSON, createdAt string
		var expiresAt sql.NullString
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.Hash, &capsJSON, &createdAt, &expiresAt); err != nil {
			return nil, fmt.Errorf("scanning token record: %w", err)
		}
		if err := json.Unmarshal([]byte(capsJSON), &rec.Capabilities); err != nil {
			return nil, fmt.Errorf("parsing capabilities: %w", err)
		}
		if rec.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		if expiresAt.Valid {
			t, err := time.Parse(time.RFC3339Nano, expiresAt.String)
			if err != nil {
				return nil, fmt.Errorf("parsing expires_at: %w", err)
			}
			rec.ExpiresAt = &t
		}
		records = append(records, &rec)
	}
	return records, rows.Err()
}

// DeleteTokenRecord removes a token record by name.
func (s *SQLiteStore) DeleteTokenRecord(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM api_tokens WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("deleting token record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting token record: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("token %q: %w", name, ErrNotFound)
	}
	return nil
}

// Usage operations

// RecordToolUsage appends a tool invocation to the usage log.
func (s *SQLiteStore) RecordToolUsage(ctx context.Context, u *ToolUsage) error {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}

	isError := 0
	if u.IsError {
		isError = 1
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tool_usage (id, tool_name, caller, is_error, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		u.ID, u.ToolName, u.Caller, isError, u.Duration.Milliseconds(),
		u.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("recording tool usage: %w", err)
	}
	return nil
}

// UsageSummary aggregates calls and errors per tool since the given time.
func (s *SQLiteStore) UsageSummary(ctx context.Context, since time.Time) ([]UsageSummaryRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tool_name, COUNT(*), COALESCE(SUM(is_error), 0)
		FROM tool_usage
		WHERE created_at >= ?
		GROUP BY tool_name
		ORDER BY COUNT(*) DESC, tool_name`,
		since.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("summarizing usage: %w", err)
	}
	defer rows.Close()

	var summary []UsageSummaryRow
	for rows.Next() {
		var row UsageSummaryRow
		if err := rows.Scan(&row.ToolName, &row.Calls, &row.Errors); err != nil {
			return nil, fmt.Errorf("scanning usage row: %w", err)
		}
		summary = append(summary, row)
	}
	return summary, rows.Err()
}

// Ping verifies the database connection is alive.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
