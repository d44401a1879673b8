// Package metrics exposes Prometheus instrumentation for the repair
// executor (C10), circuit breaker (C11) and RPC connection pool (C5).
// Grounded on kenchrcum-s3-encryption-gateway/internal/metrics's
// promauto-factory-plus-struct-of-vectors convention, the only pack repo
// that imports client_golang directly.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Breaker state values recorded on the circuitBreakerState gauge, matching
// the ordering of pkg/breaker.State's String() output.
const (
	BreakerClosed   = 0
	BreakerOpen     = 1
	BreakerHalfOpen = 2
)

var defaultRegistry = prometheus.DefaultRegisterer

// Metrics holds every counter/gauge/histogram this module publishes.
type Metrics struct {
	repairTasksTotal       *prometheus.CounterVec
	repairTaskDuration     *prometheus.HistogramVec
	repairBytesTransferred *prometheus.CounterVec
	repairIssuesDetected   *prometheus.CounterVec

	circuitBreakerState *prometheus.GaugeVec
	circuitBreakerTrips *prometheus.CounterVec

	rpcRequestsTotal   *prometheus.CounterVec
	rpcRequestDuration *prometheus.HistogramVec
	rpcPoolConnections prometheus.Gauge
	rpcPoolActive      prometheus.Gauge

	nodesOnline           prometheus.Gauge
	chunksUnderReplicated prometheus.Gauge
}

// New creates a Metrics instance registered against the default
// Prometheus registry.
func New() *Metrics {
	return newWithRegistry(defaultRegistry)
}

// NewWithRegistry creates a Metrics instance against a caller-supplied
// registry, avoiding double-registration panics across test runs.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	return newWithRegistry(reg)
}

func newWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		repairTasksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cyxcloud_repair_tasks_total",
				Help: "Total number of repair tasks processed by the executor",
			},
			[]string{"status"}, // "completed" | "failed"
		),
		repairTaskDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cyxcloud_repair_task_duration_seconds",
				Help:    "Repair task duration from source fetch to last target verify",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"status"},
		),
		repairBytesTransferred: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cyxcloud_repair_bytes_transferred_total",
				Help: "Total bytes moved by the repair executor",
			},
			[]string{"direction"}, // "read" | "write"
		),
		repairIssuesDetected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cyxcloud_repair_issues_detected_total",
				Help: "Total chunk issues found by the repair detector, by health",
			},
			[]string{"health"},
		),
		circuitBreakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "cyxcloud_circuit_breaker_state",
				Help: "Circuit breaker state: 0=closed, 1=open, 2=half_open",
			},
			[]string{"name"},
		),
		circuitBreakerTrips: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cyxcloud_circuit_breaker_trips_total",
				Help: "Total number of times a circuit breaker tripped to open",
			},
			[]string{"name"},
		),
		rpcRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cyxcloud_rpc_requests_total",
				Help: "Total RPC requests issued through the chunk RPC client",
			},
			[]string{"method", "status"},
		),
		rpcRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cyxcloud_rpc_request_duration_seconds",
				Help:    "RPC request duration",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		rpcPoolConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "cyxcloud_rpc_pool_connections",
			Help: "Total connections currently held by the RPC pool",
		}),
		rpcPoolActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "cyxcloud_rpc_pool_active_connections",
			Help: "Connections currently checked out of the RPC pool",
		}),
		nodesOnline: factory.NewGauge(prometheus.GaugeOpts{
			Name: "cyxcloud_nodes_online",
			Help: "Number of nodes the lifecycle monitor currently considers online",
		}),
		chunksUnderReplicated: factory.NewGauge(prometheus.GaugeOpts{
			Name: "cyxcloud_chunks_under_replicated",
			Help: "Number of chunks below their target replication factor, as of the last detector scan",
		}),
	}
}

// RecordRepairTask records one repair executor task outcome.
func (m *Metrics) RecordRepairTask(status string, durationSeconds float64, bytesTransferred int64) {
	m.repairTasksTotal.WithLabelValues(status).Inc()
	m.repairTaskDuration.WithLabelValues(status).Observe(durationSeconds)
	if bytesTransferred > 0 {
		m.repairBytesTransferred.WithLabelValues("write").Add(float64(bytesTransferred))
	}
}

// RecordIssueDetected records one chunk issue surfaced by a detector scan.
func (m *Metrics) RecordIssueDetected(health string) {
	m.repairIssuesDetected.WithLabelValues(health).Inc()
}

// SetCircuitBreakerState reports a breaker's current state.
func (m *Metrics) SetCircuitBreakerState(name string, state int) {
	m.circuitBreakerState.WithLabelValues(name).Set(float64(state))
}

// RecordCircuitBreakerTrip records a breaker transitioning to open.
func (m *Metrics) RecordCircuitBreakerTrip(name string) {
	m.circuitBreakerTrips.WithLabelValues(name).Inc()
}

// RecordRPCRequest records one RPC call's outcome and latency.
func (m *Metrics) RecordRPCRequest(method, status string, durationSeconds float64) {
	m.rpcRequestsTotal.WithLabelValues(method, status).Inc()
	m.rpcRequestDuration.WithLabelValues(method).Observe(durationSeconds)
}

// SetPoolStats reports the RPC pool's current connection counts.
func (m *Metrics) SetPoolStats(total, active int) {
	m.rpcPoolConnections.Set(float64(total))
	m.rpcPoolActive.Set(float64(active))
}

// SetNodesOnline reports the lifecycle monitor's current online count.
func (m *Metrics) SetNodesOnline(n int) {
	m.nodesOnline.Set(float64(n))
}

// SetChunksUnderReplicated reports the detector's last scan result size.
func (m *Metrics) SetChunksUnderReplicated(n int) {
	m.chunksUnderReplicated.Set(float64(n))
}

// Handler returns the HTTP handler exposing the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}
