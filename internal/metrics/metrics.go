package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds the gateway collectors on a private prometheus registry so
// tests and multiple gateways in one process do not collide.
type Registry struct {
	reg *prometheus.Registry

	requests         *prometheus.CounterVec
	upstreamLatency  *prometheus.HistogramVec
	upstreamRetries  *prometheus.CounterVec
	upstreamFailures *prometheus.CounterVec
}

func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	return &Registry{
		reg: reg,
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Total number of requests handled by the gateway",
		}, []string{"service", "method", "status"}),
		upstreamLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_upstream_latency_seconds",
			Help:    "Upstream latency in seconds, retries included",
			Buckets: prometheus.DefBuckets,
		}, []string{"service"}),
		upstreamRetries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_upstream_retries_total",
			Help: "Total number of upstream retry attempts",
		}, []string{"service"}),
		upstreamFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_upstream_failures_total",
			Help: "Total number of failed upstream calls by failure kind",
		}, []string{"service", "kind"}),
	}
}

func (r *Registry) IncRequest(service, method, status string) {
	r.requests.WithLabelValues(service, method, status).Inc()
}

func (r *Registry) ObserveLatency(service string, d time.Duration) {
	r.upstreamLatency.WithLabelValues(service).Observe(d.Seconds())
}

func (r *Registry) IncRetry(service string) {
	r.upstreamRetries.WithLabelValues(service).Inc()
}

func (r *Registry) IncUpstreamFailure(service, kind string) {
	r.upstreamFailures.WithLabelValues(service, kind).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

// Gatherer exposes the underlying registry, mainly for tests.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }
