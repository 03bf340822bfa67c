package conversation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakePlaybackStopper struct {
	stopped []string
}

func (f *fakePlaybackStopper) StopStreamingPlayback(callID string) bool {
	f.stopped = append(f.stopped, callID)
	return true
}

func TestOnTTSStartSetsSpeakingAndGatingToken(t *testing.T) {
	c := NewCoordinator(nil, nil)
	ok := c.OnTTSStart("call-1", "stream-1")
	assert.True(t, ok)
	assert.Equal(t, StateSpeaking, c.State("call-1"))
}

func TestOnTTSStartRefusesSecondStreamWhileSpeaking(t *testing.T) {
	c := NewCoordinator(nil, nil)
	require := assert.New(t)
	require.True(c.OnTTSStart("call-1", "stream-1"))
	require.False(c.OnTTSStart("call-1", "stream-2"), "a second stream must not acquire the gating token while another owns it")
}

func TestOnTTSEndOnlyClearsMatchingToken(t *testing.T) {
	c := NewCoordinator(nil, nil)
	c.OnTTSStart("call-1", "stream-1")

	c.OnTTSEnd("call-1", "stream-2")
	assert.Equal(t, StateSpeaking, c.State("call-1"), "a non-matching stream id must not clear the token")

	c.OnTTSEnd("call-1", "stream-1")
	assert.Equal(t, StateListening, c.State("call-1"))

	// A second stream can now acquire the token.
	assert.True(t, c.OnTTSStart("call-1", "stream-2"))
}

func TestProcessCallerAudioTriggersBargeInWhileSpeaking(t *testing.T) {
	stopper := &fakePlaybackStopper{}
	c := NewCoordinator(nil, stopper)
	c.OnTTSStart("call-1", "stream-1")

	loud := make([]byte, 320)
	for i := range loud {
		if i%2 == 1 {
			loud[i] = 0x7f
		}
	}

	// Feed enough frames to clear the VAD's consecutive-frame confirmation.
	for i := 0; i < 10; i++ {
		_, err := c.ProcessCallerAudio("call-1", loud)
		assert.NoError(t, err)
	}

	assert.NotEmpty(t, stopper.stopped, "speech detected while speaking must trigger a barge-in stop")
}

func TestProcessCallerAudioSuppressesRecordedEchoWhileSpeaking(t *testing.T) {
	stopper := &fakePlaybackStopper{}
	c := NewCoordinator(nil, stopper)
	c.OnTTSStart("call-1", "stream-1")

	played := make([]byte, 3200)
	for i := range played {
		if i%2 == 0 {
			played[i] = 0x7f
		}
	}
	c.RecordPlayedAudio("call-1", played)

	// Feed back a chunk identical to what was just played: this must read
	// as echo, not caller speech, so no barge-in should fire.
	echoChunk := played[:320]
	for i := 0; i < 10; i++ {
		event, err := c.ProcessCallerAudio("call-1", echoChunk)
		assert.NoError(t, err)
		assert.Nil(t, event, "a correlated echo chunk must not surface a VAD event")
	}

	assert.Empty(t, stopper.stopped, "echo correlated with recently played audio must not trigger barge-in")
}

func TestReleaseCallForgetsState(t *testing.T) {
	c := NewCoordinator(nil, nil)
	c.OnTTSStart("call-1", "stream-1")
	c.ReleaseCall("call-1")
	assert.Equal(t, StateIdle, c.State("call-1"), "a released call starts fresh")
}
