package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the process-wide prometheus registry. A single instance is
// created at startup and threaded through appstate.State, never accessed as
// a package-level global from handler code.
type Metrics struct {
	registry *prometheus.Registry

	RPCRequestsTotal     *prometheus.CounterVec
	RPCRequestDuration    *prometheus.HistogramVec
	BuildBlockDuration    *prometheus.HistogramVec
	MembershipRetryTotal  *prometheus.CounterVec
	ValidationPublishTotal *prometheus.CounterVec
	OrdersAcceptedTotal   *prometheus.CounterVec
}

// NewMetrics constructs and registers every collector. Wired here, rather
// than left unused as in the teacher's own tree, so prometheus is actually
// exercised end to end.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		RPCRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sequencer",
			Name:      "rpc_requests_total",
			Help:      "Count of JSON-RPC requests by method and outcome.",
		}, []string{"method", "outcome"}),
		RPCRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sequencer",
			Name:      "rpc_request_duration_seconds",
			Help:      "JSON-RPC handler latency by method.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		BuildBlockDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sequencer",
			Name:      "build_block_duration_seconds",
			Help:      "Time to materialize a finalized block, by rollup.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"rollup_id"}),
		MembershipRetryTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sequencer",
			Name:      "membership_retry_total",
			Help:      "Count of membership back-fill retries by cluster id.",
		}, []string{"cluster_id", "outcome"}),
		ValidationPublishTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sequencer",
			Name:      "validation_publish_total",
			Help:      "Count of validation-commitment publish attempts by provider and outcome.",
		}, []string{"provider", "outcome"}),
		OrdersAcceptedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sequencer",
			Name:      "orders_accepted_total",
			Help:      "Count of accepted transactions by rollup id and kind (raw/encrypted).",
		}, []string{"rollup_id", "kind"}),
	}

	reg.MustRegister(
		m.RPCRequestsTotal,
		m.RPCRequestDuration,
		m.BuildBlockDuration,
		m.MembershipRetryTotal,
		m.ValidationPublishTotal,
		m.OrdersAcceptedTotal,
	)
	return m
}

// Handler returns the /metrics HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
