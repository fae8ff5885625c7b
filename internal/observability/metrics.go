package observability

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the Prometheus collectors shared across the vector
// store, the HNSW index, and the HTTP adapter. Construct one per
// process with NewMetrics and pass it into every component that
// should be observed.
type Metrics struct {
	VecCount        prometheus.Gauge
	VecAppendErrors prometheus.Counter

	HNSWAddDuration    prometheus.Histogram
	HNSWSearchDuration prometheus.Histogram

	HTTPRequestDuration *prometheus.HistogramVec
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRateLimited     prometheus.Counter
}

// NewMetrics registers and returns the collector set against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		VecCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "vox",
			Name:      "vec_count",
			Help:      "Number of vectors currently stored.",
		}),
		VecAppendErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vox",
			Name:      "vec_append_errors_total",
			Help:      "Number of failed vector append attempts.",
		}),
		HNSWAddDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "vox",
			Subsystem: "hnsw",
			Name:      "add_duration_seconds",
			Help:      "Latency of HNSW node insertion.",
			Buckets:   prometheus.DefBuckets,
		}),
		HNSWSearchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "vox",
			Subsystem: "hnsw",
			Name:      "search_duration_seconds",
			Help:      "Latency of HNSW k-nearest-neighbor search.",
			Buckets:   prometheus.DefBuckets,
		}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "vox",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"method", "path", "status"}),
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vox",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),
		HTTPRateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vox",
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Total number of requests rejected by the ingest rate limiter.",
		}),
	}

	reg.MustRegister(
		m.VecCount,
		m.VecAppendErrors,
		m.HNSWAddDuration,
		m.HNSWSearchDuration,
		m.HTTPRequestDuration,
		m.HTTPRequestsTotal,
		m.HTTPRateLimited,
	)
	return m
}

// NewTestMetrics returns a Metrics registered against a private
// registry, for use in tests that construct multiple instances in the
// same process (the default registry would panic on duplicate
// registration otherwise).
func NewTestMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}
