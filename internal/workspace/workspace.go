// ABOUTME: Workspace record owning one provider connection and its subscriber set.
// ABOUTME: Fans the single upstream event stream out to every live subscription.

package workspace

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/coven-relay/internal/provider"
)

// Workspace is a live connection to one external AI-agent provider
// instance, identified by directory and connection mode. The registry owns
// its lifecycle; clients interact with it through subscriptions.
type Workspace struct {
	ID        string
	Token     string
	Directory string
	Mode      string
	CreatedAt time.Time
	Provider  provider.Provider

	// stopStream cancels the single upstream event pump.
	stopStream context.CancelFunc

	mu     sync.RWMutex
	subs   []*Subscription // creation order
	closed bool

	logger *slog.Logger
}

// ConnectionInfo describes one active subscriber connection.
type ConnectionInfo struct {
	ID        string    `json:"id"`
	Label     string    `json:"label"`
	CreatedAt time.Time `json:"createdAt"`
}

// addSub registers a subscription. Fails once teardown has begun so a
// racing subscribe cannot attach to a workspace mid-removal.
func (w *Workspace) addSub(sub *Subscription) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return false
	}
	w.subs = append(w.subs, sub)
	return true
}

// removeSub cancels and removes one subscription, closing its event
// channel. Unknown IDs are a no-op.
func (w *Workspace) removeSub(subID string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for i, sub := range w.subs {
		if sub.ID == subID {
			w.subs = append(w.subs[:i], w.subs[i+1:]...)
			sub.cancel()
			sub.closeEvents()
			return
		}
	}
}

// publish fans one upstream event out to every live subscription in
// creation order. Sends are non-blocking: a slow subscriber drops the
// event rather than stalling siblings or reordering the stream.
func (w *Workspace) publish(ev provider.Event) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	for _, sub := range w.subs {
		select {
		case sub.events <- ev:
		default:
			w.logger.Debug("dropped event for slow subscriber",
				"workspace_id", w.ID,
				"sub_id", sub.ID,
				"event_type", ev.Type)
		}
	}
}

// pump reads the single upstream provider stream and fans each event out.
// When the stream ends, every remaining subscription is terminated.
func (w *Workspace) pump(events <-chan provider.Event) {
	for ev := range events {
		w.publish(ev)
	}
	w.terminateSubs()
}

// terminateSubs cancels every subscription in one batch and empties the
// set. Cancellation itself cannot fail; order is unspecified.
func (w *Workspace) terminateSubs() []*Subscription {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.closed = true
	cancelled := w.subs
	w.subs = nil
	for _, sub := range cancelled {
		sub.cancel()
		sub.closeEvents()
	}
	return cancelled
}

// terminated reports whether the upstream pump has ended or teardown has
// begun. A terminated workspace accepts no new subscriptions.
func (w *Workspace) terminated() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.closed
}

// subCount returns the number of live subscriptions.
func (w *Workspace) subCount() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.subs)
}

// connections lists active subscriber connections in subscription
// creation order.
func (w *Workspace) connections() []ConnectionInfo {
	w.mu.RLock()
	defer w.mu.RUnlock()

	out := make([]ConnectionInfo, 0, len(w.subs))
	for _, sub := range w.subs {
		out = append(out, ConnectionInfo{
			ID:        sub.ID,
			Label:     sub.Label,
			CreatedAt: sub.CreatedAt,
		})
	}
	return out
}
