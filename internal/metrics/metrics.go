// Package metrics exposes transcoding counters to Prometheus. A nil *Metrics
// is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "opusify"

type Metrics struct {
	gatherer prometheus.Gatherer

	windows        *prometheus.CounterVec
	encodeDuration prometheus.Histogram
	pages          prometheus.Counter
	bytes          prometheus.Counter
	stageErrors    *prometheus.CounterVec
	jobs           *prometheus.CounterVec
	jobDuration    prometheus.Histogram
	staleJobs      prometheus.Counter
}

// New registers the collectors with a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		gatherer: reg,
		windows: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "windows_encoded_total",
			Help:      "Windows encoded, by window kind.",
		}, []string{"kind"}),
		encodeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "window_encode_seconds",
			Help:      "Time spent encoding one window.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		pages: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ogg_pages_total",
			Help:      "Ogg pages written.",
		}),
		bytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ogg_bytes_total",
			Help:      "Ogg bytes written.",
		}),
		stageErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_errors_total",
			Help:      "Fatal errors reported by pipeline stages.",
		}, []string{"stage"}),
		jobs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Transcode jobs finished, by status.",
		}, []string{"status"}),
		jobDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_seconds",
			Help:      "Wall time of a transcode job.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		staleJobs: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_jobs_failed_total",
			Help:      "Jobs failed by the reaper after going stale.",
		}),
	}
}

func (m *Metrics) ObserveWindow(kind string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.windows.WithLabelValues(kind).Inc()
	m.encodeDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) ObservePage(size int) {
	if m == nil {
		return
	}
	m.pages.Inc()
	m.bytes.Add(float64(size))
}

func (m *Metrics) ObserveStageError(stage string) {
	if m == nil {
		return
	}
	m.stageErrors.WithLabelValues(stage).Inc()
}

func (m *Metrics) ObserveJob(status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.jobs.WithLabelValues(status).Inc()
	m.jobDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveStaleJobs(n int) {
	if m == nil {
		return
	}
	m.staleJobs.Add(float64(n))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
