// Package coordination implements multi-agent coordination sessions: a
// task graph with dependency tracking, a versioned shared state store,
// and six scheduling patterns (swarm, pipeline, hierarchical, consensus,
// auction, collaborative) driven by a per-session PatternExecutor.
//
// The CoordinationManager is the entry point. It owns session lifecycle,
// routes task assignments and completion reports, mediates shared state
// access, and publishes coordination events to subscribers. The core
// never invokes agents directly; an external transport consumes the
// emitted events and feeds results back through ReportTaskResult.
package coordination
