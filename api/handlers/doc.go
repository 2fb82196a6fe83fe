// Package handlers implements the HTTP and WebSocket surface of the
// coordination service.
//
// Every JSON endpoint wraps its payload in the api.Response envelope.
// Domain errors carry structured codes that map deterministically to
// HTTP statuses (NOT_FOUND -> 404, CONFLICT and CYCLE -> 409,
// CAPABILITY_MISMATCH -> 422, AGENT_UNAVAILABLE -> 503, ...).
//
// The /v1/events endpoint streams registry and coordination events
// over WebSocket, best-effort, with per-connection buffering.
package handlers
