package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Rejection reasons used as label values
const (
	ReasonCapacity  = "capacity"
	ReasonDuplicate = "duplicate"
	ReasonInvalid   = "invalid"
)

// Metrics contains all Prometheus metrics for the transcription server.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Session metrics
	ActiveSessions   prometheus.Gauge
	SessionsAdmitted prometheus.Counter
	SessionsRejected *prometheus.CounterVec
	SessionsEvicted  prometheus.Counter
	SessionDuration  prometheus.Histogram

	// Audio window metrics
	AudioSecondsReceived prometheus.Counter
	WindowTrims          prometheus.Counter
	StallClips           prometheus.Counter

	// Transcription metrics
	TranscriptionRequests prometheus.Counter
	TranscriptionFailures prometheus.Counter
	TranscriptionNoResult prometheus.Counter
	TranscriptionDuration prometheus.Histogram
	SegmentsCommitted     prometheus.Counter

	// Outbound messages
	MessagesSent prometheus.Counter
	SendFailures prometheus.Counter
}

// NewMetrics creates all metrics and registers them with reg. Passing
// prometheus.DefaultRegisterer exposes them on promhttp.Handler().
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "live_active_sessions",
			Help: "Current number of admitted transcription sessions",
		}),
		SessionsAdmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "live_sessions_admitted_total",
			Help: "Total number of sessions admitted",
		}),
		SessionsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "live_sessions_rejected_total",
			Help: "Total number of rejected connection attempts",
		}, []string{"reason"}),
		SessionsEvicted: factory.NewCounter(prometheus.CounterOpts{
			Name: "live_sessions_evicted_total",
			Help: "Total number of sessions disconnected for exceeding their lifetime",
		}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "live_session_duration_seconds",
			Help:    "Lifetime of sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 11), // 1s to ~17 minutes
		}),

		AudioSecondsReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "live_audio_seconds_received_total",
			Help: "Total seconds of audio appended to session windows",
		}),
		WindowTrims: factory.NewCounter(prometheus.CounterOpts{
			Name: "live_window_trims_total",
			Help: "Total number of times a session window dropped its oldest audio",
		}),
		StallClips: factory.NewCounter(prometheus.CounterOpts{
			Name: "live_stall_clips_total",
			Help: "Total number of forced cursor jumps over stale unprocessed audio",
		}),

		TranscriptionRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "live_transcription_requests_total",
			Help: "Total number of transcription calls",
		}),
		TranscriptionFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "live_transcription_failures_total",
			Help: "Total number of failed transcription calls",
		}),
		TranscriptionNoResult: factory.NewCounter(prometheus.CounterOpts{
			Name: "live_transcription_no_result_total",
			Help: "Total number of transcription calls that produced no result",
		}),
		TranscriptionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "live_transcription_duration_seconds",
			Help:    "Duration of transcription calls",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~20s
		}),
		SegmentsCommitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "live_segments_committed_total",
			Help: "Total number of segments appended to committed transcripts",
		}),

		MessagesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "live_messages_sent_total",
			Help: "Total number of messages written to clients",
		}),
		SendFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "live_send_failures_total",
			Help: "Total number of failed writes to clients",
		}),
	}
}

// SetActiveSessions sets the current number of sessions
func (m *Metrics) SetActiveSessions(count int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(count))
}

// RecordAdmitted increments the admitted counter
func (m *Metrics) RecordAdmitted() {
	if m == nil {
		return
	}
	m.SessionsAdmitted.Inc()
}

// RecordRejected increments the rejected counter for reason
func (m *Metrics) RecordRejected(reason string) {
	if m == nil {
		return
	}
	m.SessionsRejected.WithLabelValues(reason).Inc()
}

// RecordEvicted increments the lifetime eviction counter
func (m *Metrics) RecordEvicted() {
	if m == nil {
		return
	}
	m.SessionsEvicted.Inc()
}

// RecordSessionClosed observes the lifetime of a removed session
func (m *Metrics) RecordSessionClosed(durationSeconds float64) {
	if m == nil {
		return
	}
	m.SessionDuration.Observe(durationSeconds)
}

// RecordAudio adds appended audio seconds
func (m *Metrics) RecordAudio(seconds float64) {
	if m == nil {
		return
	}
	m.AudioSecondsReceived.Add(seconds)
}

// RecordTrim increments the window trim counter
func (m *Metrics) RecordTrim() {
	if m == nil {
		return
	}
	m.WindowTrims.Inc()
}

// RecordStallClip increments the stall clip counter
func (m *Metrics) RecordStallClip() {
	if m == nil {
		return
	}
	m.StallClips.Inc()
}

// RecordTranscription records one transcription call and its outcome
func (m *Metrics) RecordTranscription(durationSeconds float64, noResult bool, err error) {
	if m == nil {
		return
	}
	m.TranscriptionRequests.Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
	switch {
	case noResult:
		m.TranscriptionNoResult.Inc()
	case err != nil:
		m.TranscriptionFailures.Inc()
	}
}

// RecordCommitted adds newly committed segments
func (m *Metrics) RecordCommitted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.SegmentsCommitted.Add(float64(n))
}

// RecordSend records an outbound message write
func (m *Metrics) RecordSend(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.SendFailures.Inc()
		return
	}
	m.MessagesSent.Inc()
}
