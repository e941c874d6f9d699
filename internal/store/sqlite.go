// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides workspace record persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
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

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return s, nil
}

// createSchema creates the workspaces table if it doesn't exist.
func (s *SQLiteStore) createSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS workspaces (
		id         TEXT PRIMARY KEY,
		token      TEXT NOT NULL UNIQUE,
		directory  TEXT NOT NULL,
		mode       TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_workspaces_directory ON workspaces(directory, mode);
	`
	_, err := s.db.Exec(schema)
	return err
}

// SaveWorkspace inserts or replaces a workspace record.
func (s *SQLiteStore) SaveWorkspace(ctx context.Context, rec *WorkspaceRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO workspaces (id, token, directory, mode, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		rec.ID, rec.Token, rec.Directory, rec.Mode, rec.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("saving workspace %s: %w", rec.ID, err)
	}
	return nil
}

// GetWorkspace retrieves a record by workspace ID.
func (s *SQLiteStore) GetWorkspace(ctx context.Context, id string) (*WorkspaceRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, token, directory, mode, created_at FROM workspaces WHERE id = ?`, id)

	rec, err := scanWorkspace(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting workspace %s: %w", id, err)
	}
	return rec, nil
}

// ListWorkspaces returns all records ordered by creation time.
func (s *SQLiteStore) ListWorkspaces(ctx context.Context) ([]*WorkspaceRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, token, directory, mode, created_at FROM workspaces ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("listing workspaces: %w", err)
	}
	defer rows.Close()

	var recs []*WorkspaceRecord
	for rows.Next() {
		rec, err := scanWorkspace(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning workspace: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// DeleteWorkspace removes a record. Deleting an absent record is a no-op.
func (s *SQLiteStore) DeleteWorkspace(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM workspaces WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting workspace %s: %w", id, err)
	}
	return nil
}

// Close releases the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// scanner abstracts sql.Row and sql.Rows for scanWorkspace.
type scanner interface {
	Scan(dest ...any) error
}

func scanWorkspace(sc scanner) (*WorkspaceRecord, error) {
	var rec WorkspaceRecord
	var createdAt time.Time
	if err := sc.Scan(&rec.ID, &rec.Token, &rec.Directory, &rec.Mode, &createdAt); err != nil {
		return nil, err
	}
	rec.CreatedAt = createdAt
	return &rec, nil
}
