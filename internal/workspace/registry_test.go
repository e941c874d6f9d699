// ABOUTME: Tests for the workspace registry lifecycle
// ABOUTME: Covers connect/reuse, dual-index lookups, disconnect ordering, idle expiry, bookkeeping

package workspace

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-relay/internal/provider"
	"github.com/2389/coven-relay/internal/store"
)

// mockFactory returns a factory producing fresh mock providers, recording
// each one it built.
func mockFactory(made *[]*provider.MockProvider) provider.Factory {
	return func(ctx context.Context, directory, mode string) (provider.Provider, error) {
		p := provider.NewMockProvider(directory)
		if made != nil {
			*made = append(*made, p)
		}
		return p, nil
	}
}

func TestRegistry_ConnectCreatesWorkspace(t *testing.T) {
	r := NewRegistry(nil, nil)
	defer r.Close()

	ws, err := r.Connect(t.Context(), "/home/dev/project", provider.ModeSpawn, mockFactory(nil))
	require.NoError(t, err)
	require.NotNil(t, ws)
	assert.NotEmpty(t, ws.ID)
	assert.NotEmpty(t, ws.Token)
	assert.NotEqual(t, ws.ID, ws.Token)

	byID, ok := r.LookupByID(ws.ID)
	require.True(t, ok)
	byToken, ok := r.LookupByToken(ws.Token)
	require.True(t, ok)
	assert.Same(t, byID, byToken, "id and token must index the same record")
}

func TestRegistry_ConnectReusesDirectoryAndMode(t *testing.T) {
	r := NewRegistry(nil, nil)
	defer r.Close()
	ctx := t.Context()

	ws1, err := r.Connect(ctx, "/home/dev/project", provider.ModeSpawn, mockFactory(nil))
	require.NoError(t, err)
	ws2, err := r.Connect(ctx, "/home/dev/project", provider.ModeSpawn, mockFactory(nil))
	require.NoError(t, err)
	assert.Same(t, ws1, ws2, "same directory+mode must reuse the workspace")

	ws3, err := r.Connect(ctx, "/home/dev/project", "attach", mockFactory(nil))
	require.NoError(t, err)
	assert.NotEqual(t, ws1.ID, ws3.ID, "different mode is a different workspace")
}

func TestRegistry_ConnectRejectsRelativeDirectory(t *testing.T) {
	r := NewRegistry(nil, nil)

	_, err := r.Connect(t.Context(), "relative/path", provider.ModeSpawn, mockFactory(nil))
	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, "relative/path", connErr.Directory)
}

func TestRegistry_ConnectSurfacesFactoryFailure(t *testing.T) {
	r := NewRegistry(nil, nil)

	boom := errors.New("spawn failed")
	_, err := r.Connect(t.Context(), "/home/dev/project", provider.ModeSpawn,
		func(ctx context.Context, directory, mode string) (provider.Provider, error) {
			return nil, boom
		})
	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.ErrorIs(t, err, boom)
}

func TestRegistry_LookupMissing(t *testing.T) {
	r := NewRegistry(nil, nil)

	ws, ok := r.LookupByID("nope")
	assert.False(t, ok)
	assert.Nil(t, ws)

	ws, ok = r.LookupByToken("nope")
	assert.False(t, ok)
	assert.Nil(t, ws)
}

func TestRegistry_DisconnectUnknownReturnsFalse(t *testing.T) {
	r := NewRegistry(nil, nil)
	assert.False(t, r.Disconnect("unknown"))
}

func TestRegistry_DisconnectCancelsAllSubscriptions(t *testing.T) {
	var made []*provider.MockProvider
	r := NewRegistry(nil, nil)

	ws, err := r.Connect(t.Context(), "/home/dev/project", provider.ModeSpawn, mockFactory(&made))
	require.NoError(t, err)

	var subs []*Subscription
	for range 3 {
		sub, err := r.Subscribe(ws.ID)
		require.NoError(t, err)
		subs = append(subs, sub)
	}

	require.True(t, r.Disconnect(ws.ID))

	for i, sub := range subs {
		assert.True(t, sub.Cancelled(), "subscription %d must be cancelled", i)
	}
	assert.Equal(t, 0, ws.subCount(), "disconnect must leave the subscription set empty")
	require.Len(t, made, 1)
	assert.True(t, made[0].Disposed(), "provider must be disposed")

	// Both indices are gone.
	_, ok := r.LookupByID(ws.ID)
	assert.False(t, ok)
	_, ok = r.LookupByToken(ws.Token)
	assert.False(t, ok)

	// Second disconnect is idempotent.
	assert.False(t, r.Disconnect(ws.ID))
}

func TestRegistry_GlobalConnectionLabels(t *testing.T) {
	r := NewRegistry(nil, nil)
	defer r.Close()
	ctx := t.Context()

	ws1, err := r.Connect(ctx, "/home/dev/alpha", provider.ModeSpawn, mockFactory(nil))
	require.NoError(t, err)
	ws2, err := r.Connect(ctx, "/home/dev/beta", provider.ModeSpawn, mockFactory(nil))
	require.NoError(t, err)

	sub1, err := r.Subscribe(ws1.ID)
	require.NoError(t, err)
	sub2, err := r.Subscribe(ws2.ID)
	require.NoError(t, err)

	// One counter across workspaces: never conn-1 twice.
	assert.Equal(t, "conn-1", sub1.Label)
	assert.Equal(t, "conn-2", sub2.Label)
}

func TestRegistry_ListConnectionsInCreationOrder(t *testing.T) {
	r := NewRegistry(nil, nil)
	defer r.Close()

	ws, err := r.Connect(t.Context(), "/home/dev/project", provider.ModeSpawn, mockFactory(nil))
	require.NoError(t, err)

	for range 3 {
		_, err := r.Subscribe(ws.ID)
		require.NoError(t, err)
	}

	conns := r.ListConnections(ws.ID)
	require.Len(t, conns, 3)
	assert.Equal(t, "conn-1", conns[0].Label)
	assert.Equal(t, "conn-2", conns[1].Label)
	assert.Equal(t, "conn-3", conns[2].Label)

	assert.Nil(t, r.ListConnections("unknown"))
}

func TestRegistry_CleanupExpiredRemovesIdleWorkspaces(t *testing.T) {
	var made []*provider.MockProvider
	r := NewRegistry(nil, nil)

	ws, err := r.Connect(t.Context(), "/home/dev/project", provider.ModeSpawn, mockFactory(&made))
	require.NoError(t, err)
	ws.CreatedAt = time.Now().Add(-24 * time.Hour)

	removed := r.CleanupExpired(12 * time.Hour)
	assert.Equal(t, 1, removed)

	_, ok := r.LookupByID(ws.ID)
	assert.False(t, ok)
	assert.True(t, made[0].Disposed())
}

func TestRegistry_CleanupExpiredNeverEvictsSubscribed(t *testing.T) {
	r := NewRegistry(nil, nil)
	defer r.Close()

	ws, err := r.Connect(t.Context(), "/home/dev/project", provider.ModeSpawn, mockFactory(nil))
	require.NoError(t, err)
	ws.CreatedAt = time.Now().Add(-240 * time.Hour)

	_, err = r.Subscribe(ws.ID)
	require.NoError(t, err)

	removed := r.CleanupExpired(12 * time.Hour)
	assert.Equal(t, 0, removed, "a workspace with live subscribers is never evicted")

	_, ok := r.LookupByID(ws.ID)
	assert.True(t, ok)
}

func TestRegistry_CleanupExpiredKeepsYoungWorkspaces(t *testing.T) {
	r := NewRegistry(nil, nil)
	defer r.Close()

	_, err := r.Connect(t.Context(), "/home/dev/project", provider.ModeSpawn, mockFactory(nil))
	require.NoError(t, err)

	assert.Equal(t, 0, r.CleanupExpired(12*time.Hour))
}

func TestRegistry_BookkeepingRecordsFollowLifecycle(t *testing.T) {
	st := store.NewMockStore()
	r := NewRegistry(st, nil)

	ws, err := r.Connect(t.Context(), "/home/dev/project", provider.ModeSpawn, mockFactory(nil))
	require.NoError(t, err)

	rec, err := st.GetWorkspace(t.Context(), ws.ID)
	require.NoError(t, err)
	assert.Equal(t, ws.Token, rec.Token)
	assert.Equal(t, "/home/dev/project", rec.Directory)

	require.True(t, r.Disconnect(ws.ID))
	_, err = st.GetWorkspace(t.Context(), ws.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRegistry_SubscribeUnknownWorkspace(t *testing.T) {
	r := NewRegistry(nil, nil)

	_, err := r.Subscribe("unknown")
	require.Error(t, err)
}

func TestRegistry_ConnectReplacesWorkspaceAfterStreamEnd(t *testing.T) {
	r := NewRegistry(nil, nil)
	defer r.Close()
	ctx := t.Context()

	var made []*provider.MockProvider
	ws1, err := r.Connect(ctx, "/home/dev/project", provider.ModeSpawn, mockFactory(&made))
	require.NoError(t, err)

	// Ending the provider stream terminates the workspace's pump.
	require.NoError(t, made[0].Dispose())
	require.Eventually(t, func() bool {
		return ws1.terminated()
	}, 2*time.Second, 10*time.Millisecond)

	// The same directory must be usable again without waiting for the
	// idle sweep: a reconnect replaces the dead record.
	ws2, err := r.Connect(ctx, "/home/dev/project", provider.ModeSpawn, mockFactory(&made))
	require.NoError(t, err)
	require.NotSame(t, ws1, ws2)
	assert.NotEqual(t, ws1.ID, ws2.ID)

	_, ok := r.LookupByID(ws1.ID)
	assert.False(t, ok, "dead record must be gone from the ID index")
	_, ok = r.LookupByToken(ws1.Token)
	assert.False(t, ok, "dead record must be gone from the token index")

	sub, err := r.Subscribe(ws2.ID)
	require.NoError(t, err)
	sub.Cancel()
}

func TestRegistry_ConcurrentConnectSameDirectory(t *testing.T) {
	r := NewRegistry(nil, nil)
	defer r.Close()
	ctx := t.Context()

	ids := make(chan string, 8)
	for i := range 8 {
		go func(i int) {
			ws, err := r.Connect(ctx, "/home/dev/shared", provider.ModeSpawn, mockFactory(nil))
			if err != nil {
				ids <- fmt.Sprintf("error: %v", err)
				return
			}
			ids <- ws.ID
		}(i)
	}

	first := <-ids
	for range 7 {
		assert.Equal(t, first, <-ids, "concurrent connects must converge on one workspace")
	}
}
