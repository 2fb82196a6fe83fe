/*
Package metrics provides Prometheus metrics collection for the service,
covering the HTTP surface, the agent registry, coordination sessions,
the snapshot cache and the audit database.

The Collector registers every metric through promauto under a single
namespace, so wiring it up is one constructor call. Gauges track current
state (registered agents by health, open database connections); counters
and histograms track traffic (heartbeats, discovery queries, task
transitions, HTTP requests).
*/
package metrics
