// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"sort"
	"sync"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu         sync.RWMutex
	workspaces map[string]*WorkspaceRecord
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		workspaces: make(map[string]*WorkspaceRecord),
	}
}

// SaveWorkspace stores a copy of the record.
func (m *MockStore) SaveWorkspace(ctx context.Context, rec *WorkspaceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := *rec
	m.workspaces[r.ID] = &r
	return nil
}

// GetWorkspace retrieves a record by ID.
func (m *MockStore) GetWorkspace(ctx context.Context, id string) (*WorkspaceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.workspaces[id]
	if !ok {
		return nil, ErrNotFound
	}
	r := *rec
	return &r, nil
}

// ListWorkspaces returns all records ordered by creation time.
func (m *MockStore) ListWorkspaces(ctx context.Context) ([]*WorkspaceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	recs := make([]*WorkspaceRecord, 0, len(m.workspaces))
	for _, rec := range m.workspaces {
		r := *rec
		recs = append(recs, &r)
	}
	sort.Slice(recs, func(i, j int) bool {
		return recs[i].CreatedAt.Before(recs[j].CreatedAt)
	})
	return recs, nil
}

// DeleteWorkspace removes a record.
func (m *MockStore) DeleteWorkspace(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.workspaces, id)
	return nil
}

// Close is a no-op for the mock.
func (m *MockStore) Close() error {
	return nil
}
