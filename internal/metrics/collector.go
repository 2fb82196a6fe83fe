// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector registers and records the service's Prometheus metrics,
// grouped by concern: HTTP, registry, coordination, cache and database.
type Collector struct {
	// HTTP
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRequestSize     *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// Registry
	agentsByStatus    *prometheus.GaugeVec
	heartbeatsTotal   *prometheus.CounterVec
	discoveryDuration prometheus.Histogram
	discoveryResults  prometheus.Histogram
	registryEvents    *prometheus.CounterVec

	// Coordination
	sessionsTotal      *prometheus.CounterVec
	sessionTransitions *prometheus.CounterVec
	taskTransitions    *prometheus.CounterVec
	coordinationEvents *prometheus.CounterVec

	// Cache
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	// Database
	dbConnectionsOpen *prometheus.GaugeVec
	dbConnectionsIdle *prometheus.GaugeVec
	dbQueryDuration   *prometheus.HistogramVec

	logger *zap.Logger
}

// NewCollector creates a collector with all metrics registered under the
// given namespace.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// HTTP
	c.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.httpRequestSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_size_bytes",
			Help:      "HTTP request size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	c.httpResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	// Registry
	c.agentsByStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "registry_agents",
			Help:      "Number of registered agents by health status",
		},
		[]string{"status"},
	)

	c.heartbeatsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registry_heartbeats_total",
			Help:      "Total number of heartbeats received",
		},
		[]string{"status"},
	)

	c.discoveryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "registry_discovery_duration_seconds",
			Help:      "Discovery query duration in seconds",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
		},
	)

	c.discoveryResults = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "registry_discovery_results",
			Help:      "Number of agents returned per discovery query",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		},
	)

	c.registryEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registry_events_total",
			Help:      "Total number of registry events emitted",
		},
		[]string{"type"},
	)

	// Coordination
	c.sessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "coordination_sessions_total",
			Help:      "Total number of coordination sessions created",
		},
		[]string{"pattern"},
	)

	c.sessionTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "coordination_session_transitions_total",
			Help:      "Total number of session status transitions",
		},
		[]string{"pattern", "status"},
	)

	c.taskTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "coordination_task_transitions_total",
			Help:      "Total number of task status transitions",
		},
		[]string{"pattern", "status"},
	)

	c.coordinationEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "coordination_events_total",
			Help:      "Total number of coordination events published",
		},
		[]string{"type"},
	)

	// Cache
	c.cacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	c.cacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	// Database
	c.dbConnectionsOpen = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_open",
			Help:      "Number of open database connections",
		},
		[]string{"database"},
	)

	c.dbConnectionsIdle = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_idle",
			Help:      "Number of idle database connections",
		},
		[]string{"database"},
	)

	c.dbQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "db_query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"database", "operation"},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// RecordHTTPRequest records one served HTTP request.
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, requestSize, responseSize int64) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpRequestSize.WithLabelValues(method, path).Observe(float64(requestSize))
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// SetAgents sets the registered-agent gauge for one health status.
func (c *Collector) SetAgents(status string, count int) {
	c.agentsByStatus.WithLabelValues(status).Set(float64(count))
}

// RecordHeartbeat records one received heartbeat with its reported status.
func (c *Collector) RecordHeartbeat(status string) {
	c.heartbeatsTotal.WithLabelValues(status).Inc()
}

// RecordDiscovery records one discovery query.
func (c *Collector) RecordDiscovery(duration time.Duration, results int) {
	c.discoveryDuration.Observe(duration.Seconds())
	c.discoveryResults.Observe(float64(results))
}

// RecordRegistryEvent counts one registry event by type.
func (c *Collector) RecordRegistryEvent(eventType string) {
	c.registryEvents.WithLabelValues(eventType).Inc()
}

// RecordSessionCreated counts one new coordination session.
func (c *Collector) RecordSessionCreated(pattern string) {
	c.sessionsTotal.WithLabelValues(pattern).Inc()
}

// RecordSessionTransition counts one session status transition.
func (c *Collector) RecordSessionTransition(pattern, status string) {
	c.sessionTransitions.WithLabelValues(pattern, status).Inc()
}

// RecordTaskTransition counts one task status transition.
func (c *Collector) RecordTaskTransition(pattern, status string) {
	c.taskTransitions.WithLabelValues(pattern, status).Inc()
}

// RecordCoordinationEvent counts one published coordination event.
func (c *Collector) RecordCoordinationEvent(eventType string) {
	c.coordinationEvents.WithLabelValues(eventType).Inc()
}

// RecordCacheHit counts a cache hit.
func (c *Collector) RecordCacheHit(cacheType string) {
	c.cacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss counts a cache miss.
func (c *Collector) RecordCacheMiss(cacheType string) {
	c.cacheMisses.WithLabelValues(cacheType).Inc()
}

// RecordDBConnections sets the connection gauges for one database.
func (c *Collector) RecordDBConnections(database string, open, idle int) {
	c.dbConnectionsOpen.WithLabelValues(database).Set(float64(open))
	c.dbConnectionsIdle.WithLabelValues(database).Set(float64(idle))
}

// RecordDBQuery records one database query.
func (c *Collector) RecordDBQuery(database, operation string, duration time.Duration) {
	c.dbQueryDuration.WithLabelValues(database, operation).Observe(duration.Seconds())
}

// statusCode buckets an HTTP status code into its class.
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
