package playback

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/audio"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/logging"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/metrics"
)

// Transport delivers one already-encoded frame to the telephony leg of a
// call. Both pkg/rtp.Server and pkg/audiosocket.Server satisfy this.
type Transport interface {
	SendAudio(callID string, frame []byte) bool
}

// Coordinator is the single gating-token owner (Invariant I1: at most one
// active outbound stream per call). The conversation coordinator
// implements this; the playback manager never touches the session store
// directly, avoiding a cyclic ownership between the two packages.
type Coordinator interface {
	// OnTTSStart attempts to acquire the gating token for streamID. False
	// means another stream already owns it and this one must not play.
	OnTTSStart(callID, streamID string) bool
	OnTTSEnd(callID, streamID string)
}

// FallbackPlayer plays a one-shot buffered segment through ARI when
// streaming playback cannot proceed (§4.F).
type FallbackPlayer interface {
	PlayAudio(callID string, mulawBytes []byte, source string) (playbackID string, err error)
}

type activeStream struct {
	info *StreamInfo

	rawCh  chan []byte
	stopCh chan struct{}
	doneCh chan struct{}

	stopOnce sync.Once

	queuedChunks int
	queueMu      sync.Mutex
}

// Manager is the §4.E streaming playback manager: one goroutine group per
// active call, each producer-fed, pacer-drained, and keepalive-monitored
// independently. Grounded on the teacher's ManagedStream cooperating
// goroutines, generalized to a per-call registry instead of one fixed
// pipeline.
type Manager struct {
	cfg         Config
	logger      logging.Logger
	transport   Transport
	coordinator Coordinator
	fallback    FallbackPlayer

	mu               sync.Mutex
	streams          map[string]*activeStream // callID -> stream
	lastSegmentEndTs map[string]time.Time      // callID -> last ended segment time
}

func NewManager(cfg Config, logger logging.Logger, coordinator Coordinator, fallback FallbackPlayer) *Manager {
	if logger == nil {
		logger = logging.NoOp{}
	}
	return &Manager{
		cfg:              cfg,
		logger:           logger,
		coordinator:      coordinator,
		fallback:         fallback,
		streams:          make(map[string]*activeStream),
		lastSegmentEndTs: make(map[string]time.Time),
	}
}

// SetTransport wires the telephony transport after construction, matching
// the engine façade's injection order (transport is not known until the
// call's leg type is determined at StasisStart).
func (m *Manager) SetTransport(t Transport) {
	m.mu.Lock()
	m.transport = t
	m.mu.Unlock()
}

func (m *Manager) IsStreamActive(callID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	as, ok := m.streams[callID]
	if !ok {
		return false
	}
	switch as.info.State() {
	case StateEnded:
		return false
	default:
		return true
	}
}

// StartStreamingPlayback admits a new outbound segment for callID. It
// acquires the gating token via the coordinator (Invariant I1), computes
// the adaptive warm-up thresholds of §4.E.2, and launches the
// warm-up/pacer/keepalive goroutine for the stream. Idempotent: if a
// stream is already active for the call, returns its existing stream id
// rather than erroring (§4.E.1). Returns an error only on gating-token
// contention, i.e. some other stream id already owns this call's token.
func (m *Manager) StartStreamingPlayback(ctx context.Context, callID string, playbackType PlaybackType, srcEncoding Encoding, srcRate int, targetEncoding Encoding, targetRate int) (string, error) {
	streamID := uuid.New().String()

	m.mu.Lock()
	if existing, ok := m.streams[callID]; ok && existing.info.State() != StateEnded {
		m.mu.Unlock()
		return existing.info.ID, nil
	}
	lastEnd := m.lastSegmentEndTs[callID]
	m.mu.Unlock()

	if m.coordinator != nil && !m.coordinator.OnTTSStart(callID, streamID) {
		return "", fmt.Errorf("playback: gating token refused for call %s", callID)
	}

	minStartMs := m.cfg.MinStartMs
	if playbackType == PlaybackGreeting {
		minStartMs = m.cfg.GreetingMinStartMs
	}
	gapMs := 0
	if !lastEnd.IsZero() {
		gapMs = int(time.Since(lastEnd) / time.Millisecond)
	}
	adaptiveMinMs := AdaptiveMinStartMs(playbackType, gapMs, minStartMs, m.cfg.ProviderGraceMs)

	jitterBufferChunks := MsToChunks(m.cfg.JitterBufferMs, m.cfg.ChunkSizeMs)
	rawMinStartChunks := MsToChunks(adaptiveMinMs, m.cfg.ChunkSizeMs)
	minStartChunks, clamped := ClampMinStartChunks(rawMinStartChunks, jitterBufferChunks)
	if clamped {
		m.logger.Warn("playback min_start_chunks clamped", "call_id", callID, "stream_id", streamID, "raw", rawMinStartChunks, "clamped_to", minStartChunks)
	}
	lowWatermarkChunks := LowWatermarkChunks(MsToChunks(m.cfg.LowWatermarkMs, m.cfg.ChunkSizeMs), minStartChunks, jitterBufferChunks)
	resumeFloorChunks := MsToChunks(ResumeFloorMs, m.cfg.ChunkSizeMs)

	// §4.E.8: a back-to-back resume (gap since the previous segment's end
	// within provider_grace_ms) transitions warming->streaming immediately
	// rather than waiting on min_start_chunks — the provider is assumed
	// already warm from the prior segment.
	skipWarmUp := !lastEnd.IsZero() && gapMs <= m.cfg.ProviderGraceMs

	info := &StreamInfo{
		ID:                 streamID,
		CallID:             callID,
		PlaybackType:       playbackType,
		StartTime:          time.Now(),
		SourceEncoding:     srcEncoding,
		SourceRate:         srcRate,
		TargetEncoding:     targetEncoding,
		TargetRate:         targetRate,
		EgressSwapMode:     m.cfg.EgressSwapMode,
		MinStartChunks:     minStartChunks,
		LowWatermarkChunks: lowWatermarkChunks,
		ResumeFloorChunks:  resumeFloorChunks,
		JitterBufferChunks: jitterBufferChunks,
		SkipWarmUp:         skipWarmUp,
	}
	info.setState(StateCreated)
	if m.cfg.EgressSwapMode == SwapForceTrue {
		info.EgressSwap = true
	}

	as := &activeStream{
		info:   info,
		rawCh:  make(chan []byte, jitterBufferChunks+8),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}

	m.mu.Lock()
	m.streams[callID] = as
	m.mu.Unlock()

	metrics.StreamingActive.WithLabelValues(callID).Set(1)
	info.setState(StateWarming)

	go m.run(ctx, as)

	return streamID, nil
}

// RecordProviderBytes enqueues one provider-supplied audio chunk for
// pacing. Returns false if the call has no active stream or the stream
// already ended.
func (m *Manager) RecordProviderBytes(callID string, chunk []byte) bool {
	m.mu.Lock()
	as, ok := m.streams[callID]
	m.mu.Unlock()
	if !ok {
		return false
	}
	if as.info.State() == StateEnded {
		return false
	}
	as.info.ProviderBytes.Add(int64(len(chunk)))
	metrics.StreamingBytesTotal.WithLabelValues(callID).Add(float64(len(chunk)))

	select {
	case as.rawCh <- chunk:
		as.queueMu.Lock()
		as.queuedChunks++
		as.queueMu.Unlock()
		return true
	case <-as.doneCh:
		return false
	}
}

// StopStreamingPlayback requests a graceful stop of the call's active
// stream. Idempotent: the second call on an already-stopped stream
// returns false, matching the spec's stop-twice semantics.
func (m *Manager) StopStreamingPlayback(callID string) bool {
	m.mu.Lock()
	as, ok := m.streams[callID]
	m.mu.Unlock()
	if !ok {
		return false
	}
	stopped := false
	as.stopOnce.Do(func() {
		stopped = true
		close(as.stopCh)
	})
	if stopped {
		<-as.doneCh
	}
	return stopped
}

// CleanupExpiredStreams removes bookkeeping for streams that ended more
// than maxAge ago, bounding the lastSegmentEndTs and streams maps.
func (m *Manager) CleanupExpiredStreams(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	m.mu.Lock()
	defer m.mu.Unlock()
	for callID, as := range m.streams {
		if as.info.State() != StateEnded {
			continue
		}
		if end, ok := m.lastSegmentEndTs[callID]; ok && end.Before(cutoff) {
			delete(m.streams, callID)
			removed++
		}
	}
	return removed
}

func (m *Manager) run(ctx context.Context, as *activeStream) {
	defer close(as.doneCh)
	info := as.info
	callID := info.CallID

	defer func() {
		info.setState(StateEnded)
		metrics.StreamingActive.WithLabelValues(callID).Set(0)
		metrics.StreamSegmentDurationSeconds.WithLabelValues(callID, string(info.PlaybackType)).Observe(time.Since(info.StartTime).Seconds())
		if m.coordinator != nil {
			m.coordinator.OnTTSEnd(callID, info.ID)
		}
		m.mu.Lock()
		m.lastSegmentEndTs[callID] = time.Now()
		m.mu.Unlock()
	}()

	if !m.warmUp(ctx, as) {
		return
	}

	info.setState(StateStreaming)
	m.pace(ctx, as)
}

// warmUp blocks until min_start_chunks have buffered, the stream is
// stopped, or fallback_timeout_ms elapses with nothing buffered — in
// which case it falls back to file playback and returns false. A
// back-to-back resume segment (info.SkipWarmUp) bypasses all of this and
// transitions straight to streaming (§4.E.8's "initial_startup_ready=true"):
// whatever is already queued in as.rawCh is picked up by pace's normal
// drain, with underflow filler covering the gap if nothing has arrived yet.
func (m *Manager) warmUp(ctx context.Context, as *activeStream) bool {
	info := as.info
	if info.SkipWarmUp {
		return true
	}

	deadline := time.NewTimer(time.Duration(m.cfg.FallbackTimeoutMs) * time.Millisecond)
	defer deadline.Stop()

	buffered := make([][]byte, 0, info.MinStartChunks)

	for len(buffered) < info.MinStartChunks {
		select {
		case chunk := <-as.rawCh:
			as.queueMu.Lock()
			as.queuedChunks--
			as.queueMu.Unlock()
			buffered = append(buffered, chunk)
		case <-as.stopCh:
			m.flushBuffered(as, buffered)
			return false
		case <-deadline.C:
			m.triggerFallback(as, buffered, "warmup_timeout")
			return false
		case <-ctx.Done():
			m.triggerFallback(as, buffered, "context_canceled")
			return false
		}
	}

	for _, chunk := range buffered {
		m.sendProcessed(as, chunk)
	}
	return true
}

// pace drains the jitter buffer at chunk_size_ms cadence once warm, with
// underflow filler and a keepalive ticker running alongside. Grounded on
// ManagedStream's pacer/keepalive goroutine pair.
func (m *Manager) pace(ctx context.Context, as *activeStream) {
	info := as.info
	ticker := time.NewTicker(time.Duration(m.cfg.ChunkSizeMs) * time.Millisecond)
	defer ticker.Stop()

	keepalive := time.NewTicker(time.Duration(m.cfg.KeepaliveIntervalMs) * time.Millisecond)
	defer keepalive.Stop()

	consecutiveUnderflows := 0

	for {
		select {
		case <-as.stopCh:
			info.setState(StateTailFlushing)
			m.drainTail(as)
			return

		case <-ctx.Done():
			return

		case <-keepalive.C:
			if m.transport != nil && !m.transport.SendAudio(info.CallID, nil) {
				metrics.StreamingKeepaliveTimeoutsTotal.WithLabelValues(info.CallID).Inc()
			}

		case <-ticker.C:
			select {
			case chunk := <-as.rawCh:
				as.queueMu.Lock()
				as.queuedChunks--
				as.queueMu.Unlock()
				consecutiveUnderflows = 0
				m.sendProcessed(as, chunk)
			default:
				consecutiveUnderflows++
				as.queueMu.Lock()
				depth := as.queuedChunks
				as.queueMu.Unlock()
				if depth > 0 {
					// Degraded but not empty: let the next tick catch up
					// rather than injecting filler (dribble mode).
					continue
				}
				info.UnderflowEvents.Add(1)
				metrics.StreamUnderflowEventsTotal.WithLabelValues(info.CallID).Inc()
				filler := make([]byte, info.FrameSizeBytes(m.cfg.ChunkSizeMs))
				metrics.StreamFillerBytesTotal.WithLabelValues(info.CallID).Add(float64(len(filler)))
				if m.transport != nil {
					m.transport.SendAudio(info.CallID, filler)
				}
				info.FramesSent.Add(1)
				metrics.StreamFramesSentTotal.WithLabelValues(info.CallID).Inc()

				if consecutiveUnderflows > 3 {
					capMs, _ := RebuildWaitCapMs(m.cfg.ProviderGraceMs)
					time.Sleep(time.Duration(capMs) * time.Millisecond)
					consecutiveUnderflows = 0
				}
			}
		}
	}
}

// drainTail flushes whatever remains buffered, waiting up to
// provider_grace_ms for any trailing provider bytes before ending.
func (m *Manager) drainTail(as *activeStream) {
	info := as.info
	grace := time.NewTimer(time.Duration(m.cfg.ProviderGraceMs) * time.Millisecond)
	defer grace.Stop()
	for {
		select {
		case chunk := <-as.rawCh:
			as.queueMu.Lock()
			as.queuedChunks--
			as.queueMu.Unlock()
			m.sendProcessed(as, chunk)
		case <-grace.C:
			info.setEndReason("stopped")
			return
		}
	}
}

func (m *Manager) flushBuffered(as *activeStream, buffered [][]byte) {
	for _, chunk := range buffered {
		m.sendProcessed(as, chunk)
	}
	as.info.setEndReason("stopped_during_warmup")
}

func (m *Manager) sendProcessed(as *activeStream, chunk []byte) {
	info := as.info
	if info.firstFrameAt.IsZero() {
		info.firstFrameAt = time.Now()
		metrics.StreamFirstFrameSeconds.WithLabelValues(info.CallID, string(info.PlaybackType)).Observe(info.firstFrameAt.Sub(info.StartTime).Seconds())
	}
	out := ProcessChunk(info, chunk, info.CallID)
	if m.transport != nil {
		m.transport.SendAudio(info.CallID, out)
	}
	info.TxBytes.Add(int64(len(out)))
	info.FramesSent.Add(1)
	metrics.StreamTxBytesTotal.WithLabelValues(info.CallID).Add(float64(len(out)))
	metrics.StreamFramesSentTotal.WithLabelValues(info.CallID).Inc()
}

// triggerFallback converts whatever was buffered during a failed warm-up to
// µ-law at 8 kHz, hands it to the file-playback fallback (§4.F) and marks
// the stream ended.
func (m *Manager) triggerFallback(as *activeStream, buffered [][]byte, reason string) {
	info := as.info
	info.setEndReason(reason)
	metrics.StreamingFallbacksTotal.WithLabelValues(info.CallID).Inc()

	if m.fallback == nil {
		return
	}
	var mulaw []byte
	var rs *audio.ResampleState
	for _, chunk := range buffered {
		pcm := chunk
		switch info.SourceEncoding {
		case EncodingMulaw:
			pcm = audio.MulawToPCM16LE(chunk)
		case EncodingAlaw:
			pcm = audio.AlawToPCM16LE(chunk)
		}
		if info.SourceRate != 8000 {
			pcm, rs = audio.Resample(pcm, info.SourceRate, 8000, rs)
		}
		mulaw = append(mulaw, audio.PCM16LEToMulaw(pcm)...)
	}
	if _, err := m.fallback.PlayAudio(info.CallID, mulaw, reason); err != nil {
		m.logger.Error("fallback playback failed", "call_id", info.CallID, "stream_id", info.ID, "reason", reason, "error", err)
	}
}
