package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains all Prometheus metrics for the translation server
type Metrics struct {
	registry *prometheus.Registry

	// Session metrics
	ActiveSessions  prometheus.Gauge
	SessionsTotal   prometheus.Counter
	SessionDuration prometheus.Histogram

	// Audio metrics
	ChunksReceived      prometheus.Counter
	BytesReceived       prometheus.Counter
	UtterancesSegmented prometheus.Counter
	UtterancesDiscarded prometheus.Counter
	UtterancesDropped   prometheus.Counter
	UtteranceDuration   prometheus.Histogram

	// Transcription metrics
	TranscriptionRequests prometheus.Counter
	TranscriptionFailures prometheus.Counter
	TranscriptionRetries  prometheus.Counter
	TranscriptionDuration prometheus.Histogram
	EmptyTranscripts      prometheus.Counter

	// Translation metrics
	TranslationRequests prometheus.Counter
	TranslationFailures prometheus.Counter
	TranslationRetries  prometheus.Counter
	TranslationDuration prometheus.Histogram

	// Delivery metrics
	ResultsSent   prometheus.Counter
	ResultsFailed prometheus.Counter
}

// New creates all metrics on a private registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "translator_active_sessions",
			Help: "Current number of connected audio clients",
		}),
		SessionsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "translator_sessions_total",
			Help: "Total number of sessions accepted",
		}),
		SessionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "translator_session_duration_seconds",
			Help:    "Duration of client sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~1 hour
		}),

		ChunksReceived: f.NewCounter(prometheus.CounterOpts{
			Name: "translator_audio_chunks_received_total",
			Help: "Total number of binary audio frames received",
		}),
		BytesReceived: f.NewCounter(prometheus.CounterOpts{
			Name: "translator_audio_bytes_received_total",
			Help: "Total number of PCM bytes received",
		}),
		UtterancesSegmented: f.NewCounter(prometheus.CounterOpts{
			Name: "translator_utterances_segmented_total",
			Help: "Total number of utterances cut from client audio",
		}),
		UtterancesDiscarded: f.NewCounter(prometheus.CounterOpts{
			Name: "translator_utterances_discarded_total",
			Help: "Total number of segments discarded as too short",
		}),
		UtterancesDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "translator_utterances_dropped_total",
			Help: "Total number of utterances dropped because the session queue was full",
		}),
		UtteranceDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "translator_utterance_duration_seconds",
			Help:    "Audio duration of segmented utterances",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 8), // 250ms to 32s
		}),

		TranscriptionRequests: f.NewCounter(prometheus.CounterOpts{
			Name: "translator_transcription_requests_total",
			Help: "Total number of utterances sent to speech-to-text",
		}),
		TranscriptionFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "translator_transcription_failures_total",
			Help: "Total number of utterances whose transcription failed",
		}),
		TranscriptionRetries: f.NewCounter(prometheus.CounterOpts{
			Name: "translator_transcription_retries_total",
			Help: "Total number of speech-to-text retries",
		}),
		TranscriptionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "translator_transcription_duration_seconds",
			Help:    "Duration of speech-to-text calls including retries",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~1 minute
		}),
		EmptyTranscripts: f.NewCounter(prometheus.CounterOpts{
			Name: "translator_empty_transcripts_total",
			Help: "Total number of utterances that transcribed to no text",
		}),

		TranslationRequests: f.NewCounter(prometheus.CounterOpts{
			Name: "translator_translation_requests_total",
			Help: "Total number of transcripts sent for translation",
		}),
		TranslationFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "translator_translation_failures_total",
			Help: "Total number of transcripts whose translation failed",
		}),
		TranslationRetries: f.NewCounter(prometheus.CounterOpts{
			Name: "translator_translation_retries_total",
			Help: "Total number of translation retries",
		}),
		TranslationDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "translator_translation_duration_seconds",
			Help:    "Duration of translation calls including retries",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),

		ResultsSent: f.NewCounter(prometheus.CounterOpts{
			Name: "translator_results_sent_total",
			Help: "Total number of translation results written to clients",
		}),
		ResultsFailed: f.NewCounter(prometheus.CounterOpts{
			Name: "translator_results_failed_total",
			Help: "Total number of translation results that could not be written",
		}),
	}
}

// Registry returns the registry the metrics are registered on
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordSessionStarted increments the session gauge and counter
func (m *Metrics) RecordSessionStarted() {
	m.ActiveSessions.Inc()
	m.SessionsTotal.Inc()
}

// RecordSessionEnded decrements the session gauge and records duration
func (m *Metrics) RecordSessionEnded(durationSeconds float64) {
	m.ActiveSessions.Dec()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordChunk records one received audio frame
func (m *Metrics) RecordChunk(sizeBytes int) {
	m.ChunksReceived.Inc()
	m.BytesReceived.Add(float64(sizeBytes))
}

// RecordUtterance records a segmented utterance
func (m *Metrics) RecordUtterance(durationSeconds float64) {
	m.UtterancesSegmented.Inc()
	m.UtteranceDuration.Observe(durationSeconds)
}

// RecordDiscarded counts segments too short to transcribe
func (m *Metrics) RecordDiscarded(n int) {
	m.UtterancesDiscarded.Add(float64(n))
}

// RecordDropped counts an utterance dropped on a full queue
func (m *Metrics) RecordDropped() {
	m.UtterancesDropped.Inc()
}

// RecordTranscription records a finished transcription call
func (m *Metrics) RecordTranscription(durationSeconds float64, err error) {
	m.TranscriptionRequests.Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
	if err != nil {
		m.TranscriptionFailures.Inc()
	}
}

// RecordTranscriptionRetry increments the retry counter
func (m *Metrics) RecordTranscriptionRetry() {
	m.TranscriptionRetries.Inc()
}

// RecordEmptyTranscript counts a transcript skipped as silence
func (m *Metrics) RecordEmptyTranscript() {
	m.EmptyTranscripts.Inc()
}

// RecordTranslation records a finished translation call
func (m *Metrics) RecordTranslation(durationSeconds float64, err error) {
	m.TranslationRequests.Inc()
	m.TranslationDuration.Observe(durationSeconds)
	if err != nil {
		m.TranslationFailures.Inc()
	}
}

// RecordTranslationRetry increments the retry counter
func (m *Metrics) RecordTranslationRetry() {
	m.TranslationRetries.Inc()
}

// RecordResult records a result delivery attempt
func (m *Metrics) RecordResult(err error) {
	if err != nil {
		m.ResultsFailed.Inc()
		return
	}
	m.ResultsSent.Inc()
}
