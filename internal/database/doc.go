/*
Package database provides the GORM-backed persistence layer: a
PoolManager that owns connection pool tuning, health checks and
transaction helpers, and an AuditStore that durably archives closed
coordination sessions and their task outcomes.

The audit trail is write-mostly: the coordination manager hands every
terminal session to AuditStore.SessionClosed, and the read API serves
operator queries over past sessions.
*/
package database
