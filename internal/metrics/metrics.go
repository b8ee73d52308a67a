// Package metrics exposes Prometheus instrumentation for the capture pipeline
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the daemon
type Metrics struct {
	// Chunking metrics
	ChunksEmitted     *prometheus.CounterVec
	ChunkAudioSeconds prometheus.Histogram
	SilentSpans       prometheus.Counter

	// Capture metrics
	DroppedBuffers *prometheus.GaugeVec
	CaptureLevel   *prometheus.GaugeVec

	// Transcription metrics
	TranscriptionRequests prometheus.Counter
	TranscriptionFailures prometheus.Counter
	TranscriptionEmpty    prometheus.Counter
	TranscriptionDuration prometheus.Histogram

	// Transcript metrics
	FragmentsStored    prometheus.Counter
	MeetingsPerSegment prometheus.Histogram

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	WSConnections       prometheus.Gauge
}

// New creates all metrics, registered with reg. A nil registerer leaves
// the metrics unregistered, which tests use.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ChunksEmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "earmark_chunks_emitted_total",
			Help: "Total number of non-silent audio chunks emitted",
		}, []string{"source"}),
		ChunkAudioSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "earmark_chunk_audio_seconds",
			Help:    "Audio duration of emitted chunks in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 8), // 1s to ~2 minutes
		}),
		SilentSpans: factory.NewCounter(prometheus.CounterOpts{
			Name: "earmark_silent_spans_total",
			Help: "Total number of accumulated spans discarded as silence",
		}),

		DroppedBuffers: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "earmark_capture_dropped_buffers",
			Help: "Device buffers dropped because conversion failed",
		}, []string{"source"}),
		CaptureLevel: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "earmark_capture_level",
			Help: "Most recent normalized input level per source",
		}, []string{"source"}),

		TranscriptionRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "earmark_transcription_requests_total",
			Help: "Total number of chunks sent for transcription",
		}),
		TranscriptionFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "earmark_transcription_failures_total",
			Help: "Total number of transcriptions that failed after retries",
		}),
		TranscriptionEmpty: factory.NewCounter(prometheus.CounterOpts{
			Name: "earmark_transcription_empty_total",
			Help: "Total number of transcriptions that returned no text",
		}),
		TranscriptionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "earmark_transcription_duration_seconds",
			Help:    "Wall time of transcription requests including retries",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~2 minutes
		}),

		FragmentsStored: factory.NewCounter(prometheus.CounterOpts{
			Name: "earmark_fragments_stored_total",
			Help: "Total number of transcript fragments stored",
		}),
		MeetingsPerSegment: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "earmark_segmentation_meetings",
			Help:    "Meetings produced per segmentation pass",
			Buckets: prometheus.LinearBuckets(0, 2, 10),
		}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "earmark_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "earmark_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		WSConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "earmark_ws_connections",
			Help: "Current number of WebSocket clients",
		}),
	}
}

// RecordChunkEmitted records a chunk passed to transcription
func (m *Metrics) RecordChunkEmitted(source string, audioSeconds float64) {
	m.ChunksEmitted.WithLabelValues(source).Inc()
	m.ChunkAudioSeconds.Observe(audioSeconds)
}

// RecordSilentSpan increments the discarded-silence counter
func (m *Metrics) RecordSilentSpan() {
	m.SilentSpans.Inc()
}

// SetDroppedBuffers sets the dropped-buffer count for a source
func (m *Metrics) SetDroppedBuffers(source string, count uint64) {
	m.DroppedBuffers.WithLabelValues(source).Set(float64(count))
}

// SetCaptureLevel sets the latest input level for a source
func (m *Metrics) SetCaptureLevel(source string, level float64) {
	m.CaptureLevel.WithLabelValues(source).Set(level)
}

// RecordTranscriptionSuccess records a transcription round trip
func (m *Metrics) RecordTranscriptionSuccess(durationSeconds float64) {
	m.TranscriptionRequests.Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
}

// RecordTranscriptionFailure records a transcription that failed after retries
func (m *Metrics) RecordTranscriptionFailure(durationSeconds float64) {
	m.TranscriptionRequests.Inc()
	m.TranscriptionFailures.Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
}

// RecordTranscriptionEmpty counts a transcription with no recognizable speech
func (m *Metrics) RecordTranscriptionEmpty() {
	m.TranscriptionEmpty.Inc()
}

// RecordFragmentStored increments the stored-fragment counter
func (m *Metrics) RecordFragmentStored() {
	m.FragmentsStored.Inc()
}

// RecordSegmentation records the meeting count of one segmentation pass
func (m *Metrics) RecordSegmentation(meetings int) {
	m.MeetingsPerSegment.Observe(float64(meetings))
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// WSConnected increments the WebSocket client gauge
func (m *Metrics) WSConnected() {
	m.WSConnections.Inc()
}

// WSDisconnected decrements the WebSocket client gauge
func (m *Metrics) WSDisconnected() {
	m.WSConnections.Dec()
}
