// Package api defines the HTTP wire types shared by every handler:
// the response envelope, the error payload, and the request/response
// DTOs for agent registry and coordination operations.
//
// Domain types (registry.AgentRecord, coordination.Session, ...) are
// serialized directly where their JSON shape is already the wire
// shape; DTOs exist only where the wire input differs from the
// in-memory type.
package api
