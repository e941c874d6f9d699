// ABOUTME: Store interface and data types for workspace bookkeeping persistence
// ABOUTME: Defines WorkspaceRecord and the Store interface for database operations

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist
var ErrNotFound = errors.New("not found")

// WorkspaceRecord is the persisted bookkeeping row for one workspace
// connection. It carries identity only; live connection state (provider,
// subscriptions) is owned by the registry and never persisted.
type WorkspaceRecord struct {
	ID        string
	Token     string
	Directory string
	Mode      string
	CreatedAt time.Time
}

// Store persists workspace bookkeeping records. Writes are best-effort
// from the registry's point of view; durability is not part of the
// contract.
type Store interface {
	// SaveWorkspace inserts or replaces a workspace record.
	SaveWorkspace(ctx context.Context, rec *WorkspaceRecord) error

	// GetWorkspace retrieves a record by workspace ID.
	// Returns ErrNotFound if absent.
	GetWorkspace(ctx context.Context, id string) (*WorkspaceRecord, error)

	// ListWorkspaces returns all records ordered by creation time.
	ListWorkspaces(ctx context.Context) ([]*WorkspaceRecord, error)

	// DeleteWorkspace removes a record. Deleting an absent record is not
	// an error.
	DeleteWorkspace(ctx context.Context, id string) error

	// Close releases the underlying database.
	Close() error
}
