package metrics

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

// promauto registers into the default registry, so every test gets its
// own namespace to avoid duplicate-registration panics.
var collectorNamespaceSeq uint64

func nextTestNamespace() string {
	seq := atomic.AddUint64(&collectorNamespaceSeq, 1)
	return fmt.Sprintf("test_%d", seq)
}

func TestNewCollector(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	assert.NotNil(t, collector)
	assert.NotNil(t, collector.httpRequestsTotal)
	assert.NotNil(t, collector.agentsByStatus)
	assert.NotNil(t, collector.heartbeatsTotal)
	assert.NotNil(t, collector.sessionsTotal)
	assert.NotNil(t, collector.taskTransitions)
}

func TestCollector_RecordHTTPRequest(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordHTTPRequest("GET", "/v1/agents", 200, 100*time.Millisecond, 1024, 2048)

	count := testutil.CollectAndCount(collector.httpRequestsTotal)
	assert.Greater(t, count, 0)

	collector.RecordHTTPRequest("GET", "/v1/agents", 200, 50*time.Millisecond, 512, 1024)

	newCount := testutil.CollectAndCount(collector.httpRequestsTotal)
	assert.GreaterOrEqual(t, newCount, count)
}

func TestCollector_RecordRegistryMetrics(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.SetAgents("healthy", 4)
	collector.SetAgents("offline", 1)
	collector.RecordHeartbeat("healthy")
	collector.RecordDiscovery(2*time.Millisecond, 3)
	collector.RecordRegistryEvent("agent.registered")

	assert.Equal(t, float64(4), testutil.ToFloat64(collector.agentsByStatus.WithLabelValues("healthy")))
	assert.Greater(t, testutil.CollectAndCount(collector.heartbeatsTotal), 0)
	assert.Greater(t, testutil.CollectAndCount(collector.registryEvents), 0)
}

func TestCollector_RecordCoordinationMetrics(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordSessionCreated("swarm")
	collector.RecordSessionTransition("swarm", "completed")
	collector.RecordTaskTransition("swarm", "assigned")
	collector.RecordCoordinationEvent("assignment")

	assert.Equal(t, float64(1), testutil.ToFloat64(collector.sessionsTotal.WithLabelValues("swarm")))
	assert.Equal(t, float64(1), testutil.ToFloat64(collector.taskTransitions.WithLabelValues("swarm", "assigned")))
}

func TestCollector_RecordCacheOperation(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordCacheHit("redis")
	collector.RecordCacheMiss("redis")

	assert.Greater(t, testutil.CollectAndCount(collector.cacheHits), 0)
	assert.Greater(t, testutil.CollectAndCount(collector.cacheMisses), 0)
}

func TestCollector_RecordDatabaseMetrics(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordDBQuery("sqlite", "INSERT", 20*time.Millisecond)
	collector.RecordDBConnections("sqlite", 10, 5)

	assert.Greater(t, testutil.CollectAndCount(collector.dbQueryDuration), 0)
	assert.Equal(t, float64(10), testutil.ToFloat64(collector.dbConnectionsOpen.WithLabelValues("sqlite")))
	assert.Equal(t, float64(5), testutil.ToFloat64(collector.dbConnectionsIdle.WithLabelValues("sqlite")))
}

func TestCollector_ConcurrentRecording(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	done := make(chan bool)
	for i := 0; i < 10; i++ {
		go func() {
			collector.RecordHTTPRequest("GET", "/v1/agents", 200, 100*time.Millisecond, 1024, 2048)
			collector.RecordHeartbeat("healthy")
			collector.RecordCacheHit("redis")
			done <- true
		}()
	}
	for i := 0; i < 10; i++ {
		<-done
	}

	assert.Greater(t, testutil.CollectAndCount(collector.httpRequestsTotal), 0)
	assert.Equal(t, float64(10), testutil.ToFloat64(collector.heartbeatsTotal.WithLabelValues("healthy")))
}

func TestStatusCodeBuckets(t *testing.T) {
	assert.Equal(t, "2xx", statusCode(204))
	assert.Equal(t, "3xx", statusCode(301))
	assert.Equal(t, "4xx", statusCode(404))
	assert.Equal(t, "5xx", statusCode(503))
	assert.Equal(t, "unknown", statusCode(99))
}
