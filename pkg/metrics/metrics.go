// Package metrics declares the Prometheus collectors named in spec.md §6.
// All collectors are process-global, concurrent-safe, and registered once
// via promauto against the default registry, matching the "global
// singletons are acceptable for process-wide, startup-registered state"
// design note.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	StreamingActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ai_agent_streaming_active",
		Help: "1 while a call has an actively streaming outbound segment.",
	}, []string{"call_id"})

	StreamingBytesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ai_agent_streaming_bytes_total",
		Help: "Total provider-supplied audio bytes received for a call.",
	}, []string{"call_id"})

	StreamTxBytesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ai_agent_stream_tx_bytes_total",
		Help: "Total bytes paced out to the telephony transport for a call.",
	}, []string{"call_id"})

	StreamingFallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ai_agent_streaming_fallbacks_total",
		Help: "Number of times a call's streaming playback fell back to file playback.",
	}, []string{"call_id"})

	StreamingKeepaliveTimeoutsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ai_agent_streaming_keepalive_timeouts_total",
		Help: "Number of keepalive timeouts observed for a call's streaming playback.",
	}, []string{"call_id"})

	StreamUnderflowEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ai_agent_stream_underflow_events_total",
		Help: "Number of synthesized filler frames emitted due to jitter buffer underflow.",
	}, []string{"call_id"})

	StreamFillerBytesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ai_agent_stream_filler_bytes_total",
		Help: "Total bytes of synthesized filler audio emitted.",
	}, []string{"call_id"})

	StreamFramesSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ai_agent_stream_frames_sent_total",
		Help: "Total frames paced out for a call.",
	}, []string{"call_id"})

	StreamFirstFrameSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ai_agent_stream_first_frame_seconds",
		Help:    "Latency from stream start to the first paced frame.",
		Buckets: prometheus.DefBuckets,
	}, []string{"call_id", "playback_type"})

	StreamSegmentDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ai_agent_stream_segment_duration_seconds",
		Help:    "Wall-clock duration of a completed outbound segment.",
		Buckets: prometheus.DefBuckets,
	}, []string{"call_id", "playback_type"})

	StreamEndianCorrectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ai_agent_stream_endian_corrections_total",
		Help: "Number of times the egress endianness probe flipped byte order for a stream.",
	}, []string{"call_id", "mode"})

	DeepgramInputSampleRateHz = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ai_agent_deepgram_input_sample_rate_hz",
		Help: "Configured Deepgram input sample rate per call.",
	}, []string{"call_id"})

	DeepgramOutputSampleRateHz = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ai_agent_deepgram_output_sample_rate_hz",
		Help: "Configured Deepgram output sample rate per call.",
	}, []string{"call_id"})
)
