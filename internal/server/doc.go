// Package server exposes the relay core over HTTP.
//
// # Surfaces
//
// The lifecycle API is a thin JSON surface for hosts and operators:
//
//   - POST /api/workspaces: connect (or reuse) a workspace
//   - GET /api/workspaces: list live workspaces
//   - GET /api/workspaces/{id}: one workspace with its connections
//   - GET /api/workspaces/{id}/connections: conn-N subscriber labels
//   - DELETE /api/workspaces/{id}: disconnect
//   - /api/workspaces/{id}/proxy/...: verbatim passthrough to the provider
//   - GET /health
//
// The realtime surface is GET /ws?token=<workspace token>. A client sends
// subscribe frames naming session IDs; the server answers each with one
// snapshot frame carrying the full state document, then forwards patch
// frames as the underlying state changes. A session holds one live
// subscription at a time; a new subscribe replaces the previous one.
//
// Invalid frames in either direction are dropped by the codec without
// closing the connection.
//
// # Ordering
//
// All outbound frames for a session pass through a single write pump, so
// the snapshot is fully transmitted before the first patch for that
// subscription, and patches keep the upstream order the workspace pump
// fanned out.
//
// The server also owns the periodic idle sweep: every cleanup_interval it
// asks the registry to expire workspaces older than max_idle_age with no
// live subscribers.
package server
