// ABOUTME: Tests for the HTTP provider adapter in attach mode
// ABOUTME: Runs against an in-process fake provider built on httptest

package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-relay/internal/patch"
)

// fakeProviderServer serves the wire surface an HTTP provider speaks:
// /capabilities, /rpc, /health, and a /events websocket.
func fakeProviderServer(t *testing.T, events []wireEvent) *httptest.Server {
	t.Helper()

	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /capabilities", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Capabilities{Chat: true, Events: true})
	})
	mux.HandleFunc("POST /rpc", func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.Method == "boom" {
			http.Error(w, "no such method", http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"echo": req.Method})
	})
	mux.HandleFunc("GET /events", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, ev := range events {
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
		// Hold the socket open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPProvider_AttachReadsCapabilities(t *testing.T) {
	srv := fakeProviderServer(t, nil)

	factory := NewHTTPFactory(HTTPFactoryConfig{AttachURL: srv.URL}, nil)
	p, err := factory(context.Background(), "/tmp/proj", ModeAttach)
	require.NoError(t, err)
	defer p.Dispose()

	assert.Equal(t, "http", p.ProviderType())
	assert.Equal(t, "/tmp/proj", p.Directory())
	assert.True(t, p.Capabilities().Chat)
	assert.True(t, p.Capabilities().Events)
	assert.False(t, p.Capabilities().Commands)
}

func TestHTTPProvider_RequestRoundTrip(t *testing.T) {
	srv := fakeProviderServer(t, nil)
	factory := NewHTTPFactory(HTTPFactoryConfig{AttachURL: srv.URL}, nil)
	p, err := factory(context.Background(), "/tmp/proj", ModeAttach)
	require.NoError(t, err)
	defer p.Dispose()

	raw, err := p.Request(context.Background(), "session.list", nil)
	require.NoError(t, err)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(raw, &resp))
	assert.Equal(t, "session.list", resp["echo"])

	_, err = p.Request(context.Background(), "boom", nil)
	assert.Error(t, err)
}

func TestHTTPProvider_ProxyForwardsVerbatim(t *testing.T) {
	srv := fakeProviderServer(t, nil)
	factory := NewHTTPFactory(HTTPFactoryConfig{AttachURL: srv.URL}, nil)
	p, err := factory(context.Background(), "/tmp/proj", ModeAttach)
	require.NoError(t, err)
	defer p.Dispose()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	require.NoError(t, p.Proxy(rec, req))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHTTPProvider_EventsStream(t *testing.T) {
	sent := []wireEvent{
		{Type: "session.updated", Ops: []patch.Operation{
			{Op: patch.OpReplace, Path: "/sessions/byId/sess_1/status", Value: "busy"},
		}},
		{Type: "message.part.updated", Ops: []patch.Operation{
			{Op: patch.OpAdd, Path: "/parts/byId/part_1", Value: map[string]any{"text": "hi"}},
		}},
	}
	srv := fakeProviderServer(t, sent)
	factory := NewHTTPFactory(HTTPFactoryConfig{AttachURL: srv.URL}, nil)
	p, err := factory(context.Background(), "/tmp/proj", ModeAttach)
	require.NoError(t, err)
	defer p.Dispose()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, err := p.Events(ctx)
	require.NoError(t, err)

	for i, want := range sent {
		select {
		case got, ok := <-events:
			require.True(t, ok, "stream closed before event %d", i)
			assert.Equal(t, want.Type, got.Type)
			require.Len(t, got.Ops, 1)
			assert.Equal(t, want.Ops[0].Path, got.Ops[0].Path)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}

	// Cancelling the scope closes the stream.
	cancel()
	select {
	case _, ok := <-events:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("stream not closed after cancel")
	}
}

func TestHTTPProvider_DisposeIsTerminal(t *testing.T) {
	srv := fakeProviderServer(t, nil)
	factory := NewHTTPFactory(HTTPFactoryConfig{AttachURL: srv.URL}, nil)
	p, err := factory(context.Background(), "/tmp/proj", ModeAttach)
	require.NoError(t, err)

	require.NoError(t, p.Dispose())
	assert.ErrorIs(t, p.Dispose(), ErrDisposed)

	_, err = p.Request(context.Background(), "session.list", nil)
	assert.ErrorIs(t, err, ErrDisposed)
	_, err = p.Events(context.Background())
	assert.ErrorIs(t, err, ErrDisposed)
}

func TestHTTPFactory_RejectsUnknownMode(t *testing.T) {
	factory := NewHTTPFactory(HTTPFactoryConfig{AttachURL: "http://localhost:1"}, nil)
	_, err := factory(context.Background(), "/tmp/proj", "teleport")
	assert.Error(t, err)
}
