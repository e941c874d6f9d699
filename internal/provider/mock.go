// ABOUTME: Mock Provider implementation for testing
// ABOUTME: Allows registry and server tests to run without a real provider process

package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
)

// MockProvider is an in-memory Provider implementation for testing. Events
// published via Emit are delivered to every stream started with Events.
type MockProvider struct {
	Kind string
	Dir  string
	Caps Capabilities

	// RequestFunc, when set, handles Request calls. Otherwise Request
	// returns an empty JSON object.
	RequestFunc func(ctx context.Context, method string, params any) (json.RawMessage, error)

	mu       sync.Mutex
	streams  []chan Event
	disposed bool
}

// NewMockProvider creates a mock provider bound to dir.
func NewMockProvider(dir string) *MockProvider {
	return &MockProvider{
		Kind: "mock",
		Dir:  dir,
		Caps: Capabilities{Chat: true, Events: true, Permissions: true, Questions: true},
	}
}

func (m *MockProvider) ProviderType() string       { return m.Kind }
func (m *MockProvider) Directory() string          { return m.Dir }
func (m *MockProvider) Capabilities() Capabilities { return m.Caps }

// Request dispatches to RequestFunc or returns an empty object.
func (m *MockProvider) Request(ctx context.Context, method string, params any) (json.RawMessage, error) {
	m.mu.Lock()
	disposed := m.disposed
	m.mu.Unlock()
	if disposed {
		return nil, ErrDisposed
	}
	if m.RequestFunc != nil {
		return m.RequestFunc(ctx, method, params)
	}
	return json.RawMessage(`{}`), nil
}

// Proxy is not supported by the mock.
func (m *MockProvider) Proxy(w http.ResponseWriter, r *http.Request) error {
	return fmt.Errorf("mock provider does not proxy")
}

// Events returns a stream fed by Emit until ctx is cancelled or the
// provider is disposed.
func (m *MockProvider) Events(ctx context.Context) (<-chan Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposed {
		return nil, ErrDisposed
	}

	ch := make(chan Event, 64)
	m.streams = append(m.streams, ch)

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, s := range m.streams {
			if s == ch {
				m.streams = append(m.streams[:i], m.streams[i+1:]...)
				close(ch)
				break
			}
		}
	}()

	return ch, nil
}

// Emit publishes an event to all live streams.
func (m *MockProvider) Emit(ev Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.streams {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Dispose marks the provider disposed and closes all streams.
func (m *MockProvider) Dispose() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposed {
		return ErrDisposed
	}
	m.disposed = true
	for _, ch := range m.streams {
		close(ch)
	}
	m.streams = nil
	return nil
}

// Disposed reports whether Dispose has been called.
func (m *MockProvider) Disposed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disposed
}
