// Package metrics provides Prometheus metrics for the AI and transcription
// paths. A nil *Metrics is valid and records nothing.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "crmpilot"

type Metrics struct {
	// AI assistance
	AIRequests *prometheus.CounterVec
	AILatency  *prometheus.HistogramVec

	// Transcription
	Transcriptions       *prometheus.CounterVec
	TranscriptionLatency prometheus.Histogram
	StagedFiles          prometheus.Gauge

	// HTTP
	HTTPRequests *prometheus.CounterVec

	// Background jobs and events
	JobsProcessed   *prometheus.CounterVec
	EventsPublished *prometheus.CounterVec
}

// New creates all metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		AIRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ai_requests_total",
			Help:      "Completion calls by intent and outcome (ok or fallback)",
		}, []string{"intent", "outcome"}),
		AILatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ai_request_duration_seconds",
			Help:      "Completion call latency by intent",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"intent"}),
		Transcriptions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcriptions_total",
			Help:      "Transcription requests by outcome",
		}, []string{"outcome"}),
		TranscriptionLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transcription_duration_seconds",
			Help:      "Upload-and-transcribe latency",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60},
		}),
		StagedFiles: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "transcription_staged_files",
			Help:      "Audio files currently staged on disk",
		}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route pattern and status code",
		}, []string{"route", "code"}),
		JobsProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_processed_total",
			Help:      "Background jobs by type and outcome",
		}, []string{"type", "outcome"}),
		EventsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Domain events by type and outcome",
		}, []string{"type", "outcome"}),
	}
}

func (m *Metrics) ObserveCompletion(intent string, fallback bool, d time.Duration) {
	if m == nil {
		return
	}
	m.AIRequests.WithLabelValues(intent, outcome(!fallback, "fallback")).Inc()
	m.AILatency.WithLabelValues(intent).Observe(d.Seconds())
}

func (m *Metrics) ObserveTranscription(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.Transcriptions.WithLabelValues(result).Inc()
	if d > 0 {
		m.TranscriptionLatency.Observe(d.Seconds())
	}
}

// FileStaged and FileReleased track the staged-audio gauge.
func (m *Metrics) FileStaged() {
	if m != nil {
		m.StagedFiles.Inc()
	}
}

func (m *Metrics) FileReleased() {
	if m != nil {
		m.StagedFiles.Dec()
	}
}

func (m *Metrics) ObserveHTTP(route string, code int) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}

func (m *Metrics) ObserveJob(jobType string, ok bool) {
	if m == nil {
		return
	}
	m.JobsProcessed.WithLabelValues(jobType, outcome(ok, "failed")).Inc()
}

func (m *Metrics) ObserveEvent(eventType string, err error) {
	if m == nil {
		return
	}
	m.EventsPublished.WithLabelValues(eventType, outcome(err == nil, "error")).Inc()
}

func outcome(ok bool, failure string) string {
	if ok {
		return "ok"
	}
	return failure
}
