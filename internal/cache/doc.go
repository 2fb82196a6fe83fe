/*
Package cache wraps the Redis client behind a small Manager with string
and JSON accessors, a background health check, and typed cache-miss
errors.

On top of it, SnapshotStore persists periodic agent-registry snapshots
so a restarted node can rehydrate its directory immediately instead of
waiting for every agent to re-register.
*/
package cache
