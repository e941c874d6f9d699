// ABOUTME: Contract for external AI-agent provider connection adapters.
// ABOUTME: The relay consumes this surface; provider-specific translation lives elsewhere.

// Package provider defines the connection adapter contract between the
// relay core and an external AI-agent provider. Adapters own the actual
// provider protocol; the relay only needs a request surface, an event
// stream, and disposal.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/2389/coven-relay/internal/patch"
	"github.com/2389/coven-relay/internal/state"
)

// ModeSpawn is the connection mode that launches a provider process for
// the workspace directory. Providers may define further modes.
const ModeSpawn = "spawn"

// RequestSnapshot is the request method returning the full state document
// for a set of sessions.
const RequestSnapshot = "state.snapshot"

// ErrDisposed is returned by adapters after Dispose has been called.
var ErrDisposed = errors.New("provider disposed")

// Capabilities describes what a provider connection supports.
type Capabilities struct {
	Chat           bool `json:"chat"`
	Events         bool `json:"events"`
	ReviewDiffs    bool `json:"reviewDiffs"`
	InlineComments bool `json:"inlineComments"`
	FileRead       bool `json:"fileRead"`
	FileSearch     bool `json:"fileSearch"`
	Commands       bool `json:"commands"`
	Agents         bool `json:"agents"`
	Models         bool `json:"models"`
	Permissions    bool `json:"permissions"`
	Questions      bool `json:"questions"`
}

// Event is one item on a provider's upstream event stream: an ordered
// batch of patch operations describing state change since the previous
// event.
type Event struct {
	Type string
	Ops  []patch.Operation
}

// Provider is a live connection to one external AI-agent provider
// instance. Implementations are expected to be safe for concurrent use.
type Provider interface {
	// ProviderType identifies the provider implementation.
	ProviderType() string

	// Directory is the workspace directory this connection is bound to.
	Directory() string

	// Capabilities reports what this connection supports.
	Capabilities() Capabilities

	// Request performs a unary call against the provider.
	Request(ctx context.Context, method string, params any) (json.RawMessage, error)

	// Proxy forwards an HTTP request to the provider verbatim.
	Proxy(w http.ResponseWriter, r *http.Request) error

	// Events starts the upstream event stream. The returned channel is
	// closed when ctx is cancelled or the provider stream ends.
	Events(ctx context.Context) (<-chan Event, error)

	// Dispose releases the connection. Safe to call once; later calls and
	// requests return ErrDisposed.
	Dispose() error
}

// Factory constructs a provider connection for a directory and connection
// mode. The registry calls this on first connect for a directory+mode.
type Factory func(ctx context.Context, directory, mode string) (Provider, error)

// Snapshot fetches the full state document for the given sessions and
// validates its canonical shape.
func Snapshot(ctx context.Context, p Provider, sessionIDs []string) (map[string]any, error) {
	raw, err := p.Request(ctx, RequestSnapshot, map[string]any{"sessionIds": sessionIDs})
	if err != nil {
		return nil, fmt.Errorf("requesting snapshot: %w", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decoding snapshot: %w", err)
	}
	if !state.Valid(doc) {
		return nil, fmt.Errorf("snapshot is not a valid state document")
	}
	return doc, nil
}
