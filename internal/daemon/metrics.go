package daemon

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"conveyor/internal/store"
)

const gaugeTimeout = 2 * time.Second

// metrics holds the node's Prometheus collectors. Each daemon has its own
// registry.
type metrics struct {
	registry *prometheus.Registry

	requests    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	claims      *prometheus.CounterVec
	transitions *prometheus.CounterVec
	rejected    prometheus.Counter
}

func newMetrics(st *store.Store) *metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	m := &metrics{registry: reg}

	m.requests = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "conveyor_node_requests_total",
		Help: "Requests served by the node, by endpoint and status code",
	}, []string{"endpoint", "code"})

	m.duration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "conveyor_node_request_duration_seconds",
		Help:    "Time to serve a node request",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 5},
	}, []string{"endpoint"})

	m.claims = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "conveyor_claims_total",
		Help: "Claim requests by stage and result (claimed or empty)",
	}, []string{"stage", "result"})

	m.transitions = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "conveyor_transitions_total",
		Help: "Successful document transitions by stage and target status",
	}, []string{"stage", "status"})

	m.rejected = factory.NewCounter(prometheus.CounterOpts{
		Name: "conveyor_node_forbidden_total",
		Help: "Requests refused because the remote host is not allow-listed",
	})

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "conveyor_active_documents",
		Help: "Documents currently in the active set",
	}, func() float64 {
		ctx, cancel := context.WithTimeout(context.Background(), gaugeTimeout)
		defer cancel()
		n, err := st.ActiveCount(ctx)
		if err != nil {
			return 0
		}
		return float64(n)
	})

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "conveyor_archived_documents",
		Help: "Documents currently held by the archive",
	}, func() float64 {
		ctx, cancel := context.WithTimeout(context.Background(), gaugeTimeout)
		defer cancel()
		n, err := st.ArchiveCount(ctx)
		if err != nil {
			return 0
		}
		return float64(n)
	})

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
