// Package metrics exposes Prometheus instrumentation for the processing
// worker: asset outcomes, retry activity, rendition timings, and the active
// job gauge.
package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder bundles the worker's Prometheus collectors on a private registry
// so tests can construct isolated instances without duplicate-registration
// panics.
type Recorder struct {
	registry *prometheus.Registry

	assetsProcessed   *prometheus.CounterVec
	retriesScheduled  *prometheus.CounterVec
	renditionDuration *prometheus.HistogramVec
	activeJobs        prometheus.Gauge
	playableSignals   prometheus.Counter
}

var defaultRecorder = New()

// New constructs a Recorder with all collectors registered on a fresh
// registry.
func New() *Recorder {
	registry := prometheus.NewRegistry()
	recorder := &Recorder{
		registry: registry,
		assetsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_assets_processed_total",
			Help: "Assets that reached a terminal status, by kind and status.",
		}, []string{"kind", "status"}),
		retriesScheduled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_retries_scheduled_total",
			Help: "Retry attempts scheduled after a retryable failure, by kind and error class.",
		}, []string{"kind", "class"}),
		renditionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pipeline_rendition_transcode_seconds",
			Help:    "Wall-clock time spent transcoding a single rendition.",
			Buckets: prometheus.ExponentialBuckets(5, 2, 10),
		}, []string{"rendition"}),
		activeJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pipeline_active_jobs",
			Help: "Asset pipelines currently executing on this worker.",
		}),
		playableSignals: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_playable_signals_total",
			Help: "First-rendition playable milestones reached.",
		}),
	}
	registry.MustRegister(
		recorder.assetsProcessed,
		recorder.retriesScheduled,
		recorder.renditionDuration,
		recorder.activeJobs,
		recorder.playableSignals,
	)
	return recorder
}

// Default returns the shared Recorder used by packages that do not inject
// their own.
func Default() *Recorder {
	return defaultRecorder
}

// Handler serves the recorder's registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// AssetProcessed counts a terminal outcome for an asset.
func (r *Recorder) AssetProcessed(kind, status string) {
	if r == nil {
		return
	}
	r.assetsProcessed.WithLabelValues(normalizeLabel(kind), normalizeLabel(status)).Inc()
}

// RetryScheduled counts a backoff requeue for a retryable failure.
func (r *Recorder) RetryScheduled(kind, class string) {
	if r == nil {
		return
	}
	r.retriesScheduled.WithLabelValues(normalizeLabel(kind), normalizeLabel(class)).Inc()
}

// ObserveRendition records how long one rendition took to transcode.
func (r *Recorder) ObserveRendition(rendition string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.renditionDuration.WithLabelValues(normalizeLabel(rendition)).Observe(elapsed.Seconds())
}

// JobStarted increments the active job gauge.
func (r *Recorder) JobStarted() {
	if r == nil {
		return
	}
	r.activeJobs.Inc()
}

// JobFinished decrements the active job gauge.
func (r *Recorder) JobFinished() {
	if r == nil {
		return
	}
	r.activeJobs.Dec()
}

// PlayableReached counts a first-playable milestone.
func (r *Recorder) PlayableReached() {
	if r == nil {
		return
	}
	r.playableSignals.Inc()
}

func normalizeLabel(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
