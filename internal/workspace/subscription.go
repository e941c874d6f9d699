// ABOUTME: Per-subscriber cancellation scope and event sequence.
// ABOUTME: Each subscription is independent; cancelling one never affects siblings.

package workspace

import (
	"context"
	"sync"
	"time"

	"github.com/2389/coven-relay/internal/provider"
)

const (
	// subscriberBufferSize is the event channel buffer for each
	// subscription. Buffering preserves upstream order across the
	// snapshot fetch at the start of a subscription.
	subscriberBufferSize = 64
)

// Subscription is one client's live interest in a workspace's event
// stream. It owns an independent cancellation scope; signaling it unblocks
// any in-flight read promptly, is idempotent, and is a no-op once the
// subscription has finished.
type Subscription struct {
	// ID uniquely identifies the subscription.
	ID string

	// Label is the display name conn-N, where N comes from a single
	// counter shared across all workspaces of a registry.
	Label string

	// CreatedAt is when the subscription was created.
	CreatedAt time.Time

	ctx       context.Context
	cancel    context.CancelFunc
	events    chan provider.Event
	closeOnce sync.Once
}

// Events returns the subscription's event sequence. It yields provider
// events in upstream order until the subscription is cancelled or the
// provider stream ends, at which point it is closed.
func (s *Subscription) Events() <-chan provider.Event {
	return s.events
}

// Cancel signals the subscription's cancellation scope. Safe to call more
// than once and after the subscription has finished.
func (s *Subscription) Cancel() {
	s.cancel()
}

// Done is closed once the subscription's scope has been signalled.
func (s *Subscription) Done() <-chan struct{} {
	return s.ctx.Done()
}

// Cancelled reports whether the scope has been signalled.
func (s *Subscription) Cancelled() bool {
	return s.ctx.Err() != nil
}

// closeEvents closes the event channel exactly once. Callers must hold the
// owning workspace's write lock so no publish is in flight.
func (s *Subscription) closeEvents() {
	s.closeOnce.Do(func() { close(s.events) })
}
