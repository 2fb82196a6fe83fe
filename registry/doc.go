// Package registry implements the agent network directory: a concurrently
// mutated registry of agent records with an inverted capability index,
// load- and health-aware discovery, and a heartbeat-driven health monitor.
//
// The registry is an explicit instance injected into whatever owns it;
// there is no package-level global. Discovery reads hand out record copies
// and are advisory: a query may briefly return an agent whose heartbeat
// just went stale, which the next sweep corrects.
package registry
