// ABOUTME: WebSocket session speaking the realtime sync protocol.
// ABOUTME: One snapshot frame per subscription, fully written before any patch frame.

package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389/coven-relay/internal/protocol"
	"github.com/2389/coven-relay/internal/provider"
	"github.com/2389/coven-relay/internal/workspace"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 1 << 20

	// Outbound frame queue per session.
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The relay performs no origin policy of its own; hosts front it.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsSession is one client connection to the realtime endpoint. A session
// holds at most one live subscription; a new subscribe replaces the
// previous one.
type wsSession struct {
	ws       *workspace.Workspace
	registry *workspace.Registry
	conn     *websocket.Conn
	send     chan []byte
	done     chan struct{}
	logger   *slog.Logger

	mu  sync.Mutex
	sub *workspace.Subscription
}

// handleWS authenticates by workspace token, upgrades, and runs the
// session pumps until either side goes away.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	ws, ok := s.registry.LookupByToken(token)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown workspace token")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	sess := &wsSession{
		ws:       ws,
		registry: s.registry,
		conn:     conn,
		send:     make(chan []byte, sendBufferSize),
		done:     make(chan struct{}),
		logger:   s.logger.With("workspace_id", ws.ID),
	}

	go sess.writePump()
	sess.readPump()
}

// readPump parses inbound frames until the socket closes. Malformed
// frames are dropped without closing the connection.
func (sess *wsSession) readPump() {
	defer func() {
		sess.stopSubscription()
		close(sess.done)
		sess.conn.Close()
	}()

	sess.conn.SetReadLimit(maxMessageSize)
	_ = sess.conn.SetReadDeadline(time.Now().Add(pongWait))
	sess.conn.SetPongHandler(func(string) error {
		return sess.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := sess.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				sess.logger.Debug("websocket read error", "error", err)
			}
			return
		}

		msg := protocol.ParseClientMessage(raw)
		if msg == nil {
			sess.logger.Debug("dropped malformed client frame")
			continue
		}

		switch msg.Type {
		case protocol.ClientSubscribe:
			if err := sess.startSubscription(msg.SessionIDs); err != nil {
				sess.logger.Warn("subscription failed", "error", err)
			}
		case protocol.ClientUnsubscribe:
			sess.stopSubscription()
		}
	}
}

// writePump serializes all outbound frames for this session. A single
// writer per connection is a gorilla/websocket requirement; it also gives
// the snapshot-before-patch ordering, since frames leave in queue order.
func (sess *wsSession) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		sess.conn.Close()
	}()

	for {
		select {
		case <-sess.done:
			_ = sess.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = sess.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case frame := <-sess.send:
			_ = sess.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sess.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = sess.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sess.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// startSubscription replaces any previous subscription, fetches the
// snapshot, queues it, and then starts forwarding patches. The snapshot is
// queued before the forwarder runs, and the subscription's channel buffers
// events produced during the fetch, so no patch can overtake the snapshot
// and none produced after subscribing is lost.
func (sess *wsSession) startSubscription(sessionIDs []string) error {
	sess.stopSubscription()

	sub, err := sess.registry.Subscribe(sess.ws.ID)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	doc, err := provider.Snapshot(ctx, sess.ws.Provider, sessionIDs)
	if err != nil {
		sub.Cancel()
		return err
	}

	frame, err := protocol.EncodeServerMessage(&protocol.ServerMessage{
		Type:  protocol.ServerSnapshot,
		State: doc,
	})
	if err != nil {
		sub.Cancel()
		return err
	}

	// The snapshot frame must reach the queue before the forwarder may
	// produce a patch frame. A client too backed up to accept its
	// snapshot is dropped rather than left with a patch-only stream.
	select {
	case <-sess.done:
		sub.Cancel()
		return fmt.Errorf("session closed before snapshot was queued")
	case sess.send <- frame:
	default:
		sub.Cancel()
		sess.conn.Close()
		return fmt.Errorf("send queue full before snapshot, dropping client")
	}

	sess.mu.Lock()
	sess.sub = sub
	sess.mu.Unlock()

	go sess.forwardPatches(sub)

	sess.logger.Debug("subscription started",
		"label", sub.Label,
		"session_ids", sessionIDs)
	return nil
}

// forwardPatches turns subscription events into patch frames until the
// subscription ends.
func (sess *wsSession) forwardPatches(sub *workspace.Subscription) {
	for ev := range sub.Events() {
		if len(ev.Ops) == 0 {
			continue
		}
		frame, err := protocol.EncodeServerMessage(&protocol.ServerMessage{
			Type: protocol.ServerPatch,
			Ops:  ev.Ops,
		})
		if err != nil {
			sess.logger.Warn("failed to encode patch frame", "error", err)
			continue
		}
		sess.enqueue(frame)
	}
}

// enqueue queues a frame for the write pump, dropping it if the session
// is backed up or gone.
func (sess *wsSession) enqueue(frame []byte) {
	select {
	case <-sess.done:
	case sess.send <- frame:
	default:
		sess.logger.Debug("dropped frame for slow websocket client")
	}
}

// stopSubscription cancels the session's live subscription, if any.
func (sess *wsSession) stopSubscription() {
	sess.mu.Lock()
	sub := sess.sub
	sess.sub = nil
	sess.mu.Unlock()

	if sub != nil {
		sess.registry.Unsubscribe(sess.ws.ID, sub.ID)
	}
}
