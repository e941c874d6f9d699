// Package protocol implements the realtime sync wire codec.
//
// # Frames
//
// All frames are JSON tagged unions with a type and a payload:
//
//	{"type":"subscribe","payload":{"sessionIds":["sess_1"]}}
//	{"type":"unsubscribe","payload":{"sessionIds":[]}}
//	{"type":"snapshot","payload":{"state":{...}}}
//	{"type":"patch","payload":{"ops":[{"op":"replace","path":"/...","value":...}]}}
//
// A subscription starts with exactly one snapshot frame carrying the full
// state document, followed by zero or more patch frames describing
// incremental change.
//
// # Validation
//
// ParseClientMessage and ParseServerMessage validate the tag and per-tag
// payload shape. Validation never panics and never returns an error:
// malformed input always yields nil so callers can drop the frame without
// special-casing, keeping the connection alive on a single bad frame.
package protocol
