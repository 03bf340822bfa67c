package playback

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	mu     sync.Mutex
	frames [][]byte
	fail   bool
}

func (f *fakeTransport) SendAudio(callID string, frame []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return false
	}
	f.frames = append(f.frames, frame)
	return true
}

func (f *fakeTransport) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

type fakeCoordinator struct {
	mu      sync.Mutex
	started map[string]string
	refuse  bool
}

func newFakeCoordinator() *fakeCoordinator {
	return &fakeCoordinator{started: make(map[string]string)}
}

func (c *fakeCoordinator) OnTTSStart(callID, streamID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.refuse {
		return false
	}
	c.started[callID] = streamID
	return true
}

func (c *fakeCoordinator) OnTTSEnd(callID, streamID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.started, callID)
}

type fakeFallback struct {
	mu      sync.Mutex
	calls   int
	lastLen int
}

func (f *fakeFallback) PlayAudio(callID string, mulawBytes []byte, source string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastLen = len(mulawBytes)
	return "pb-1", nil
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ChunkSizeMs = 20
	cfg.MinStartMs = 40
	cfg.GreetingMinStartMs = 40
	cfg.JitterBufferMs = 400
	cfg.ProviderGraceMs = 100
	cfg.FallbackTimeoutMs = 150
	cfg.KeepaliveIntervalMs = 500
	return cfg
}

func TestStartStreamingPlaybackRefusedWithoutGatingToken(t *testing.T) {
	coord := newFakeCoordinator()
	coord.refuse = true
	mgr := NewManager(testConfig(), nil, coord, nil)
	_, err := mgr.StartStreamingPlayback(context.Background(), "call-1", PlaybackResponse, EncodingMulaw, 8000, EncodingMulaw, 8000)
	assert.Error(t, err)
}

func TestStreamingPlaybackWarmsUpAndPacesFrames(t *testing.T) {
	coord := newFakeCoordinator()
	transport := &fakeTransport{}
	mgr := NewManager(testConfig(), nil, coord, nil)
	mgr.SetTransport(transport)

	streamID, err := mgr.StartStreamingPlayback(context.Background(), "call-1", PlaybackGreeting, EncodingMulaw, 8000, EncodingMulaw, 8000)
	require.NoError(t, err)
	assert.NotEmpty(t, streamID)

	frame := make([]byte, 160)
	for i := 0; i < 4; i++ {
		assert.True(t, mgr.RecordProviderBytes("call-1", frame))
	}

	assert.Eventually(t, func() bool {
		return transport.count() >= 4
	}, time.Second, 5*time.Millisecond)

	assert.True(t, mgr.IsStreamActive("call-1"))
	assert.True(t, mgr.StopStreamingPlayback("call-1"))
	assert.False(t, mgr.StopStreamingPlayback("call-1"), "second stop must be a no-op")

	assert.Eventually(t, func() bool {
		return !mgr.IsStreamActive("call-1")
	}, time.Second, 5*time.Millisecond)
}

func TestStreamingPlaybackFallsBackOnWarmupTimeout(t *testing.T) {
	coord := newFakeCoordinator()
	fb := &fakeFallback{}
	mgr := NewManager(testConfig(), nil, coord, fb)
	mgr.SetTransport(&fakeTransport{})

	_, err := mgr.StartStreamingPlayback(context.Background(), "call-2", PlaybackResponse, EncodingMulaw, 8000, EncodingMulaw, 8000)
	require.NoError(t, err)

	// Never feed enough chunks to clear min_start_chunks; the warmup
	// timeout should trigger the file-playback fallback.
	assert.Eventually(t, func() bool {
		fb.mu.Lock()
		defer fb.mu.Unlock()
		return fb.calls == 1
	}, time.Second, 5*time.Millisecond)
}

func TestStreamingPlaybackUnderflowEmitsFiller(t *testing.T) {
	coord := newFakeCoordinator()
	transport := &fakeTransport{}
	mgr := NewManager(testConfig(), nil, coord, nil)
	mgr.SetTransport(transport)

	_, err := mgr.StartStreamingPlayback(context.Background(), "call-3", PlaybackGreeting, EncodingMulaw, 8000, EncodingMulaw, 8000)
	require.NoError(t, err)

	frame := make([]byte, 160)
	for i := 0; i < 2; i++ {
		mgr.RecordProviderBytes("call-3", frame)
	}

	// Starve the pacer past the chunk cadence; it must synthesize filler
	// instead of blocking.
	time.Sleep(200 * time.Millisecond)

	m, ok := func() (*activeStream, bool) {
		mgr.mu.Lock()
		defer mgr.mu.Unlock()
		as, ok := mgr.streams["call-3"]
		return as, ok
	}()
	require.True(t, ok)
	assert.Greater(t, m.info.UnderflowEvents.Load(), int64(0))

	mgr.StopStreamingPlayback("call-3")
}
