// Package metrics exposes Prometheus collectors for HTTP traffic and member
// generation on a private registry.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/JonMunkholm/membergen/internal/core"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "membergen"

// Metrics holds the service collectors. It implements
// core.GenerationObserver.
type Metrics struct {
	registry *prometheus.Registry

	requests  *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	generated prometheus.Counter
	failures  *prometheus.CounterVec
	inFlight  prometheus.Gauge
}

var _ core.GenerationObserver = (*Metrics)(nil)

// New creates the collectors and registers them, together with the Go
// runtime and process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests processed.",
		}, []string{"method", "route", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			// Generation requests wait on a language model per member.
			Buckets: []float64{.005, .025, .1, .5, 1, 5, 15, 60, 180, 300},
		}, []string{"method", "route"}),
		generated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "members_generated_total",
			Help:      "Members fabricated and stored.",
		}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_failures_total",
			Help:      "Generation batches aborted, by failing stage.",
		}, []string{"stage"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "generations_in_flight",
			Help:      "Generation batches currently running.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requests,
		m.duration,
		m.generated,
		m.failures,
		m.inFlight,
	)

	// Pre-create the stage series so dashboards show zeros.
	for _, stage := range []string{core.StageAddress, core.StageFabricate, core.StageStore} {
		m.failures.WithLabelValues(stage)
	}
	return m
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveRequest records one finished HTTP request. route should be the
// matched route pattern, not the raw path.
func (m *Metrics) ObserveRequest(method, route string, status int, d time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	m.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.duration.WithLabelValues(method, route).Observe(d.Seconds())
}

func (m *Metrics) GenerationStarted()  { m.inFlight.Inc() }
func (m *Metrics) GenerationFinished() { m.inFlight.Dec() }
func (m *Metrics) MemberGenerated()    { m.generated.Inc() }

func (m *Metrics) GenerationFailed(stage string) {
	m.failures.WithLabelValues(stage).Inc()
}
