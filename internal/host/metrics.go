package host

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Flow label values.
const (
	flowLogin  = "login"
	flowLogout = "logout"
)

// Status label values.
const (
	statusSuccess    = "success"
	statusFailure    = "failure"
	statusIncomplete = "incomplete"
)

// Metrics counts flow outcomes per authenticator.
type Metrics struct {
	registry *prometheus.Registry
	outcomes *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics registers the connector's collectors with a new registry.
func NewMetrics() (*Metrics, error) {
	const op = "host.NewMetrics"
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "connector_flow_outcomes_total",
			Help: "Number of flow steps by authenticator, flow and status",
		}, []string{"authenticator", "flow", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "connector_flow_duration_seconds",
			Help:    "Duration of flow steps by authenticator and flow",
			Buckets: prometheus.DefBuckets,
		}, []string{"authenticator", "flow"}),
	}
	for _, c := range []prometheus.Collector{m.outcomes, m.duration} {
		if err := m.registry.Register(c); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	return m, nil
}

// Handler serves the registry for /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the metrics' registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) observe(authenticator, flow, status string, start time.Time) {
	m.outcomes.WithLabelValues(authenticator, flow, status).Inc()
	m.duration.WithLabelValues(authenticator, flow).Observe(time.Since(start).Seconds())
}
