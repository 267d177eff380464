package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Admission outcome labels recorded by RecordAdmission.
const (
	AdmissionAdmitted         = "admitted"
	AdmissionRejectedCached   = "rejected_cached_key"
	AdmissionRejectedKey      = "rejected_invalid_key"
	AdmissionRejectedOffline  = "rejected_not_streaming"
	AdmissionRejectedBusy     = "rejected_already_connected"
	AdmissionRejectedInternal = "rejected_internal"
)

// Metrics aggregates Prometheus collectors for the ingest pipeline: admission
// outcomes, active publish sessions, rendition and preview failures, and
// completed cleanups.
type Metrics struct {
	registry           *prometheus.Registry
	admissions         *prometheus.CounterVec
	activeSessions     prometheus.Gauge
	renditionFailures  *prometheus.CounterVec
	previewFailures    prometheus.Counter
	cleanupsTotal      prometheus.Counter
	renditionLaunches  *prometheus.CounterVec
	probeFallbackTotal prometheus.Counter
}

// New creates and registers the pipeline collectors on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	admissions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pulsecast_admissions_total",
		Help: "Publish admission attempts by outcome",
	}, []string{"result"})
	activeSessions := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pulsecast_active_sessions",
		Help: "Publish sessions currently admitted",
	})
	renditionFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pulsecast_rendition_failures_total",
		Help: "Rendition encoder failures by preset",
	}, []string{"preset"})
	renditionLaunches := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pulsecast_rendition_launches_total",
		Help: "Rendition encoders launched by preset",
	}, []string{"preset"})
	previewFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pulsecast_preview_failures_total",
		Help: "Preview capture failures that stopped the preview timer",
	})
	cleanupsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pulsecast_cleanups_total",
		Help: "Completed session teardowns",
	})
	probeFallbackTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pulsecast_probe_fallbacks_total",
		Help: "Resolution probes that fell back to the default resolution",
	})

	registry.MustRegister(
		admissions,
		activeSessions,
		renditionFailures,
		renditionLaunches,
		previewFailures,
		cleanupsTotal,
		probeFallbackTotal,
	)

	return &Metrics{
		registry:           registry,
		admissions:         admissions,
		activeSessions:     activeSessions,
		renditionFailures:  renditionFailures,
		renditionLaunches:  renditionLaunches,
		previewFailures:    previewFailures,
		cleanupsTotal:      cleanupsTotal,
		probeFallbackTotal: probeFallbackTotal,
	}
}

// RecordAdmission counts one admission attempt with the given outcome label.
func (m *Metrics) RecordAdmission(result string) {
	if m == nil {
		return
	}
	m.admissions.WithLabelValues(result).Inc()
}

// SessionStarted increments the active session gauge.
func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.activeSessions.Inc()
}

// SessionEnded decrements the active session gauge.
func (m *Metrics) SessionEnded() {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
}

// RenditionLaunched counts one encoder launch for the named preset.
func (m *Metrics) RenditionLaunched(preset string) {
	if m == nil {
		return
	}
	m.renditionLaunches.WithLabelValues(preset).Inc()
}

// RenditionFailed counts one encoder failure for the named preset.
func (m *Metrics) RenditionFailed(preset string) {
	if m == nil {
		return
	}
	m.renditionFailures.WithLabelValues(preset).Inc()
}

// PreviewFailed counts one preview capture failure.
func (m *Metrics) PreviewFailed() {
	if m == nil {
		return
	}
	m.previewFailures.Inc()
}

// CleanupCompleted counts one finished session teardown.
func (m *Metrics) CleanupCompleted() {
	if m == nil {
		return
	}
	m.cleanupsTotal.Inc()
}

// ProbeFellBack counts one probe that resolved to the default resolution.
func (m *Metrics) ProbeFellBack() {
	if m == nil {
		return
	}
	m.probeFallbackTotal.Inc()
}

// Handler returns an http.Handler that serves the registry in Prometheus
// exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
