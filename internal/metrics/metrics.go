// Package metrics exposes Prometheus collectors for the HTTP layer and
// the visit lifecycle.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Recorder implements the service MetricsRecorder contract on top of
// Prometheus and also carries the HTTP collectors.
type Recorder struct {
	Registry *prometheus.Registry

	ops       *prometheus.CounterVec
	opLatency *prometheus.HistogramVec
	conflicts *prometheus.CounterVec
	requests  *prometheus.CounterVec
	latency   *prometheus.HistogramVec
}

// New registers every collector on a fresh registry, with the Go and
// process collectors included.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	r := &Recorder{
		Registry: reg,
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "visitors",
			Name:      "operations_total",
			Help:      "Core operations by name and result.",
		}, []string{"operation", "result"}),
		opLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "visitors",
			Name:      "operation_duration_seconds",
			Help:      "Core operation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "visitors",
			Name:      "conflicts_total",
			Help:      "Rejected operations by reason (badge_in_use, already_closed).",
		}, []string{"reason"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "visitors",
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "visitors",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	reg.MustRegister(r.ops, r.opLatency, r.conflicts, r.requests, r.latency,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return r
}

// Observe records one core operation.
func (r *Recorder) Observe(_ context.Context, operation string, success bool, d time.Duration) {
	result := "ok"
	if !success {
		result = "error"
	}
	r.ops.WithLabelValues(operation, result).Inc()
	r.opLatency.WithLabelValues(operation).Observe(d.Seconds())
}

// Conflict counts a rejected operation.
func (r *Recorder) Conflict(reason string) {
	r.conflicts.WithLabelValues(reason).Inc()
}

// HTTP records one served request.
func (r *Recorder) HTTP(method, route, status string, d time.Duration) {
	r.requests.WithLabelValues(method, route, status).Inc()
	r.latency.WithLabelValues(method, route).Observe(d.Seconds())
}
