// Package metrics exposes engine and relay activity as Prometheus
// metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/refset/supportqueue/internal/queue"
)

// Recorder implements queue.Observer and feed.Observer.
type Recorder struct {
	registry   *prometheus.Registry
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	published  *prometheus.CounterVec
}

// New registers the supportqueue metrics, plus Go and process
// collectors, on a fresh registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)
	return &Recorder{
		registry: reg,
		operations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "supportqueue_operations_total",
			Help: "Engine operations by outcome code.",
		}, []string{"op", "outcome"}),
		latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "supportqueue_operation_duration_seconds",
			Help:    "Engine operation latency including conflict retries.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		published: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "supportqueue_feed_published_total",
			Help: "Change events delivered to the feed sink.",
		}, []string{"sink"}),
	}
}

func (r *Recorder) ObserveOperation(op string, elapsed time.Duration, err error) {
	r.operations.WithLabelValues(op, queue.Code(err)).Inc()
	r.latency.WithLabelValues(op).Observe(elapsed.Seconds())
}

func (r *Recorder) ObservePublished(sink string, n int) {
	r.published.WithLabelValues(sink).Add(float64(n))
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
