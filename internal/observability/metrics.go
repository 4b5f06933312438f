package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	GenerationsTotal   *prometheus.CounterVec
	GenerationDuration prometheus.Histogram
	SubmissionRetries  prometheus.Counter
	SessionRepairs     prometheus.Counter
	GenerationsActive  prometheus.Gauge
	ImageBytes         prometheus.Histogram
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		GenerationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generations_total",
			Help:      "Completed generation attempts by outcome.",
		}, []string{"outcome"}),
		GenerationDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_duration_seconds",
			Help:      "End-to-end generation latency in seconds.",
			Buckets:   []float64{5, 10, 20, 30, 45, 60, 90, 120, 180},
		}),
		SubmissionRetries: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submission_retries_total",
			Help:      "Prompt submissions retried after a transient page error.",
		}),
		SessionRepairs: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_repairs_total",
			Help:      "Browser sessions reacquired after a liveness check failed.",
		}),
		GenerationsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "generations_active",
			Help:      "Generations currently holding the browser.",
		}),
		ImageBytes: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "image_bytes",
			Help:      "Size of extracted images in bytes.",
			Buckets:   prometheus.ExponentialBuckets(16*1024, 2, 10),
		}),
	}
}

func (m *Metrics) ObserveGeneration(outcome string, d time.Duration) {
	m.GenerationsTotal.WithLabelValues(outcome).Inc()
	m.GenerationDuration.Observe(d.Seconds())
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
