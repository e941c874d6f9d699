// ABOUTME: Wire codec for the realtime sync protocol.
// ABOUTME: Strict tagged-union parsing that never panics; malformed frames yield nil.

package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/2389/coven-relay/internal/patch"
)

// ClientMessageType tags a client-to-server frame.
type ClientMessageType string

const (
	ClientSubscribe   ClientMessageType = "subscribe"
	ClientUnsubscribe ClientMessageType = "unsubscribe"
)

// ServerMessageType tags a server-to-client frame.
type ServerMessageType string

const (
	ServerSnapshot ServerMessageType = "snapshot"
	ServerPatch    ServerMessageType = "patch"
)

// ClientMessage is a parsed client-to-server frame.
type ClientMessage struct {
	Type       ClientMessageType
	SessionIDs []string
}

// ServerMessage is a parsed server-to-client frame. State is set for
// snapshot frames, Ops for patch frames.
type ServerMessage struct {
	Type  ServerMessageType
	State map[string]any
	Ops   []patch.Operation
}

// envelope is the outer wire shape shared by both directions.
type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type clientPayload struct {
	SessionIDs json.RawMessage `json:"sessionIds"`
}

type snapshotPayload struct {
	State json.RawMessage `json:"state"`
}

type patchPayload struct {
	Ops json.RawMessage `json:"ops"`
}

// ParseClientMessage validates and parses a client frame. Malformed input
// of any kind yields nil so callers can drop the frame without
// special-casing; parsing never panics.
func ParseClientMessage(raw []byte) *ClientMessage {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil
	}

	switch ClientMessageType(env.Type) {
	case ClientSubscribe:
		ids, ok := parseSessionIDs(env.Payload, true)
		if !ok {
			return nil
		}
		return &ClientMessage{Type: ClientSubscribe, SessionIDs: ids}

	case ClientUnsubscribe:
		ids, ok := parseSessionIDs(env.Payload, false)
		if !ok {
			return nil
		}
		return &ClientMessage{Type: ClientUnsubscribe, SessionIDs: ids}

	default:
		return nil
	}
}

// parseSessionIDs extracts payload.sessionIds as an ordered sequence of
// strings. When required, a missing or non-array value is invalid; when
// optional, a missing value means "all sessions" and yields an empty list.
func parseSessionIDs(payload json.RawMessage, required bool) ([]string, bool) {
	if len(payload) == 0 {
		if required {
			return nil, false
		}
		return []string{}, true
	}

	var p clientPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, false
	}
	if len(p.SessionIDs) == 0 {
		if required {
			return nil, false
		}
		return []string{}, true
	}
	if !isJSONArray(p.SessionIDs) {
		return nil, false
	}

	var ids []string
	if err := json.Unmarshal(p.SessionIDs, &ids); err != nil {
		return nil, false
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, true
}

// ParseServerMessage validates and parses a server frame. Malformed input
// yields nil; parsing never panics.
func ParseServerMessage(raw []byte) *ServerMessage {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil
	}

	switch ServerMessageType(env.Type) {
	case ServerSnapshot:
		var p snapshotPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil
		}
		if !isJSONObject(p.State) {
			return nil
		}
		var doc map[string]any
		if err := json.Unmarshal(p.State, &doc); err != nil {
			return nil
		}
		return &ServerMessage{Type: ServerSnapshot, State: doc}

	case ServerPatch:
		var p patchPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil
		}
		if !isJSONArray(p.Ops) {
			return nil
		}
		var ops []patch.Operation
		if err := json.Unmarshal(p.Ops, &ops); err != nil {
			return nil
		}
		for _, op := range ops {
			if !validOp(op) {
				return nil
			}
		}
		if ops == nil {
			ops = []patch.Operation{}
		}
		return &ServerMessage{Type: ServerPatch, Ops: ops}

	default:
		return nil
	}
}

// validOp checks the per-op shape the codec guarantees to downstream
// consumers: a known op code, and a from pointer on move/copy. Pointer
// resolution itself is the patch engine's concern.
func validOp(op patch.Operation) bool {
	switch op.Op {
	case patch.OpAdd, patch.OpRemove, patch.OpReplace, patch.OpTest:
		return true
	case patch.OpMove, patch.OpCopy:
		return op.From != ""
	default:
		return false
	}
}

// EncodeClientMessage serializes a client frame. Encoding a successfully
// parsed message and re-parsing it yields a deeply equal value.
func EncodeClientMessage(m *ClientMessage) ([]byte, error) {
	ids := m.SessionIDs
	if ids == nil {
		ids = []string{}
	}
	return json.Marshal(map[string]any{
		"type":    m.Type,
		"payload": map[string]any{"sessionIds": ids},
	})
}

// EncodeServerMessage serializes a server frame.
func EncodeServerMessage(m *ServerMessage) ([]byte, error) {
	switch m.Type {
	case ServerSnapshot:
		return json.Marshal(map[string]any{
			"type":    ServerSnapshot,
			"payload": map[string]any{"state": m.State},
		})
	case ServerPatch:
		ops := m.Ops
		if ops == nil {
			ops = []patch.Operation{}
		}
		return json.Marshal(map[string]any{
			"type":    ServerPatch,
			"payload": map[string]any{"ops": ops},
		})
	default:
		return nil, fmt.Errorf("unknown server message type %q", m.Type)
	}
}

func isJSONArray(raw json.RawMessage) bool {
	trimmed := bytes.TrimLeft(raw, " \t\r\n")
	return len(trimmed) > 0 && trimmed[0] == '['
}

func isJSONObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimLeft(raw, " \t\r\n")
	return len(trimmed) > 0 && trimmed[0] == '{'
}
