// ABOUTME: Registry owning workspace identity, indexing, and connection lifecycle.
// ABOUTME: Central coordinator for provider connections, subscriptions, and idle expiry.

package workspace

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/2389/coven-relay/internal/provider"
	"github.com/2389/coven-relay/internal/store"
)

// ConnectionError indicates provider construction or stream startup failed
// during Connect.
type ConnectionError struct {
	Directory string
	Mode      string
	Err       error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connecting workspace %s (%s): %v", e.Directory, e.Mode, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Registry coordinates all live workspaces. It owns one record store keyed
// by workspace ID plus an auxiliary token index; both are always updated
// together so id and token each form a bijection to the same record.
type Registry struct {
	mu      sync.RWMutex
	records map[string]*Workspace // single source of truth, by ID
	tokens  map[string]string     // token -> ID

	// connSeq numbers subscriber connections (conn-N). One counter for
	// the whole registry, never per workspace: across two workspaces the
	// first connections are conn-1 and conn-2.
	connSeq atomic.Uint64

	store  store.Store // optional bookkeeping; nil disables persistence
	logger *slog.Logger
}

// NewRegistry creates a registry. st may be nil to skip bookkeeping
// persistence; pass nil logger for the default.
func NewRegistry(st store.Store, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		records: make(map[string]*Workspace),
		tokens:  make(map[string]string),
		store:   st,
		logger:  logger.With("component", "registry"),
	}
}

// Connect returns the live workspace for directory+mode, constructing the
// provider connection via factory on first connect. A fresh workspace gets
// a new unique ID and token and is inserted into both indices before the
// method returns.
func (r *Registry) Connect(ctx context.Context, directory, mode string, factory provider.Factory) (*Workspace, error) {
	if !filepath.IsAbs(directory) {
		return nil, &ConnectionError{Directory: directory, Mode: mode,
			Err: fmt.Errorf("directory must be an absolute path")}
	}

	if ws := r.findByDirectory(directory, mode); ws != nil {
		if !ws.terminated() {
			return ws, nil
		}
		// The provider stream already ended but the idle sweep has not
		// run yet. Clear the dead record so the directory can reconnect.
		r.Disconnect(ws.ID)
	}

	// Provider construction suspends; no registry lock may be held here.
	prov, err := factory(ctx, directory, mode)
	if err != nil {
		return nil, &ConnectionError{Directory: directory, Mode: mode, Err: err}
	}

	streamCtx, stopStream := context.WithCancel(context.Background())
	events, err := prov.Events(streamCtx)
	if err != nil {
		stopStream()
		_ = prov.Dispose()
		return nil, &ConnectionError{Directory: directory, Mode: mode, Err: err}
	}

	ws := &Workspace{
		ID:         ulid.Make().String(),
		Token:      uuid.New().String(),
		Directory:  directory,
		Mode:       mode,
		CreatedAt:  time.Now(),
		Provider:   prov,
		stopStream: stopStream,
		logger:     r.logger,
	}

	r.mu.Lock()
	// Another task may have connected the same directory+mode while we
	// were suspended in the factory; keep theirs and drop ours, unless
	// their stream has already ended.
	var stale *Workspace
	for _, existing := range r.records {
		if existing.Directory != directory || existing.Mode != mode {
			continue
		}
		if existing.terminated() {
			delete(r.records, existing.ID)
			delete(r.tokens, existing.Token)
			stale = existing
			break
		}
		r.mu.Unlock()
		stopStream()
		_ = prov.Dispose()
		return existing, nil
	}
	r.records[ws.ID] = ws
	r.tokens[ws.Token] = ws.ID
	r.mu.Unlock()

	if stale != nil {
		r.teardown(stale)
	}

	go ws.pump(events)

	if r.store != nil {
		rec := &store.WorkspaceRecord{
			ID:        ws.ID,
			Token:     ws.Token,
			Directory: ws.Directory,
			Mode:      ws.Mode,
			CreatedAt: ws.CreatedAt,
		}
		if err := r.store.SaveWorkspace(ctx, rec); err != nil {
			r.logger.Warn("failed to persist workspace record",
				"workspace_id", ws.ID, "error", err)
		}
	}

	r.logger.Info("workspace connected",
		"workspace_id", ws.ID,
		"directory", directory,
		"mode", mode,
		"total_workspaces", r.count())

	return ws, nil
}

func (r *Registry) findByDirectory(directory, mode string) *Workspace {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, ws := range r.records {
		if ws.Directory == directory && ws.Mode == mode {
			return ws
		}
	}
	return nil
}

// LookupByID retrieves a workspace by ID. Returns (nil, false) when absent.
func (r *Registry) LookupByID(id string) (*Workspace, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ws, ok := r.records[id]
	return ws, ok
}

// LookupByToken retrieves a workspace by its re-authentication token.
// Returns (nil, false) when absent.
func (r *Registry) LookupByToken(token string) (*Workspace, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.tokens[token]
	if !ok {
		return nil, false
	}
	ws, ok := r.records[id]
	return ws, ok
}

// Subscribe creates a new independent subscription on the workspace's
// event stream. The subscription's channel receives upstream events in
// order; its cancellation scope is registered with the workspace until
// cancelled, unsubscribed, or the workspace disconnects.
func (r *Registry) Subscribe(workspaceID string) (*Subscription, error) {
	ws, ok := r.LookupByID(workspaceID)
	if !ok {
		return nil, fmt.Errorf("workspace %s: not found", workspaceID)
	}

	seq := r.connSeq.Add(1)
	ctx, cancel := context.WithCancel(context.Background())
	sub := &Subscription{
		ID:        uuid.New().String(),
		Label:     fmt.Sprintf("conn-%d", seq),
		CreatedAt: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
		events:    make(chan provider.Event, subscriberBufferSize),
	}

	if !ws.addSub(sub) {
		cancel()
		return nil, fmt.Errorf("workspace %s: not found", workspaceID)
	}

	// Cleanup when the scope is signalled directly via sub.Cancel.
	go func() {
		<-sub.ctx.Done()
		ws.removeSub(sub.ID)
	}()

	r.logger.Debug("subscriber added",
		"workspace_id", workspaceID,
		"sub_id", sub.ID,
		"label", sub.Label)

	return sub, nil
}

// Unsubscribe cancels and removes one subscription. Unknown workspace or
// subscription IDs are a no-op.
func (r *Registry) Unsubscribe(workspaceID, subID string) {
	ws, ok := r.LookupByID(workspaceID)
	if !ok {
		return
	}
	ws.removeSub(subID)

	r.logger.Debug("subscriber removed",
		"workspace_id", workspaceID,
		"sub_id", subID)
}

// ListConnections returns the workspace's active subscriber connections in
// subscription creation order. Unknown IDs yield an empty list.
func (r *Registry) ListConnections(workspaceID string) []ConnectionInfo {
	ws, ok := r.LookupByID(workspaceID)
	if !ok {
		return nil
	}
	return ws.connections()
}

// Disconnect tears down a workspace. Returns false idempotently when the
// ID is unknown. The workspace is removed from both indices before any
// subscription is cancelled, so a racing subscribe cannot attach to a
// workspace mid-teardown.
func (r *Registry) Disconnect(id string) bool {
	r.mu.Lock()
	ws, ok := r.records[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.records, id)
	delete(r.tokens, ws.Token)
	r.mu.Unlock()

	r.teardown(ws)
	return true
}

// teardown cancels all subscriptions, stops the upstream stream, and
// disposes the provider. The caller must already have removed ws from the
// indices.
func (r *Registry) teardown(ws *Workspace) {
	cancelled := ws.terminateSubs()
	ws.stopStream()

	if err := ws.Provider.Dispose(); err != nil {
		r.logger.Warn("provider dispose failed",
			"workspace_id", ws.ID, "error", err)
	}

	if r.store != nil {
		if err := r.store.DeleteWorkspace(context.Background(), ws.ID); err != nil {
			r.logger.Warn("failed to delete workspace record",
				"workspace_id", ws.ID, "error", err)
		}
	}

	r.logger.Info("workspace disconnected",
		"workspace_id", ws.ID,
		"directory", ws.Directory,
		"cancelled_subscriptions", len(cancelled))
}

// CleanupExpired removes workspaces whose CreatedAt is older than maxAge
// and that have no live subscriptions. A workspace with at least one
// subscriber is never evicted, regardless of age. Returns the number of
// workspaces removed.
func (r *Registry) CleanupExpired(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)

	r.mu.Lock()
	var victims []*Workspace
	for id, ws := range r.records {
		if ws.CreatedAt.Before(cutoff) && ws.subCount() == 0 {
			delete(r.records, id)
			delete(r.tokens, ws.Token)
			victims = append(victims, ws)
		}
	}
	r.mu.Unlock()

	for _, ws := range victims {
		r.teardown(ws)
	}

	if len(victims) > 0 {
		r.logger.Info("expired workspaces cleaned up",
			"removed", len(victims),
			"max_age", maxAge)
	}
	return len(victims)
}

// List returns a snapshot of all live workspaces.
func (r *Registry) List() []*Workspace {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Workspace, 0, len(r.records))
	for _, ws := range r.records {
		out = append(out, ws)
	}
	return out
}

// Close disconnects every workspace. Used on shutdown.
func (r *Registry) Close() {
	for _, ws := range r.List() {
		r.Disconnect(ws.ID)
	}
}

func (r *Registry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}
