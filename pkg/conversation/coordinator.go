// Package conversation implements the §4.I conversation coordinator: the
// per-call {idle, listening, thinking, speaking, tool_executing} FSM, the
// gating-token owner for the streaming playback manager's Invariant I1,
// and the barge-in hook that asks playback to stop mid-speech on detected
// user speech. Grounded on the teacher's pkg/orchestrator.Conversation and
// RMSVAD, generalized from a single fixed session into a per-call
// registry driven by pkg/playback and pkg/engine.
package conversation

import (
	"sync"
	"time"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/logging"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/orchestrator"
)

// State is the conversation-state FSM of §4.I.
type State string

const (
	StateIdle          State = "idle"
	StateListening      State = "listening"
	StateThinking       State = "thinking"
	StateSpeaking       State = "speaking"
	StateToolExecuting  State = "tool_executing"
)

// PlaybackStopper is the subset of pkg/playback.Manager the barge-in hook
// needs. Kept narrow so pkg/conversation does not import pkg/playback
// (playback imports conversation's Coordinator interface instead,
// avoiding a cycle).
type PlaybackStopper interface {
	StopStreamingPlayback(callID string) bool
}

type callState struct {
	mu          sync.Mutex
	state       State
	gatingToken string
	vad         *orchestrator.RMSVAD
	echo        *orchestrator.EchoSuppressor
	timings     turnTimings
}

// Coordinator owns one FSM + gating token per active call. It implements
// pkg/playback.Coordinator (OnTTSStart/OnTTSEnd) without importing
// pkg/playback.
type Coordinator struct {
	logger   logging.Logger
	playback PlaybackStopper

	mu    sync.Mutex
	calls map[string]*callState
}

func NewCoordinator(logger logging.Logger, playback PlaybackStopper) *Coordinator {
	if logger == nil {
		logger = logging.NoOp{}
	}
	return &Coordinator{
		logger:   logger,
		playback: playback,
		calls:    make(map[string]*callState),
	}
}

// SetPlayback wires the playback stopper after construction, mirroring
// the engine façade's two-stage injection (coordinator is built before
// the playback manager that depends on it, and vice versa).
func (c *Coordinator) SetPlayback(p PlaybackStopper) {
	c.mu.Lock()
	c.playback = p
	c.mu.Unlock()
}

func (c *Coordinator) stateFor(callID string) *callState {
	c.mu.Lock()
	defer c.mu.Unlock()
	cs, ok := c.calls[callID]
	if !ok {
		cs = &callState{
			state: StateIdle,
			vad:   orchestrator.NewRMSVAD(0.02, 500*time.Millisecond),
			echo:  orchestrator.NewEchoSuppressor(),
		}
		c.calls[callID] = cs
	}
	return cs
}

func (c *Coordinator) State(callID string) State {
	cs := c.stateFor(callID)
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.state
}

func (c *Coordinator) setState(callID string, s State) {
	cs := c.stateFor(callID)
	cs.mu.Lock()
	cs.state = s
	cs.mu.Unlock()
}

// OnTTSStart atomically transitions listening→speaking and sets the
// gating token, implementing pkg/playback.Coordinator. Refuses (returns
// false) if the call is already speaking under a different stream.
func (c *Coordinator) OnTTSStart(callID, streamID string) bool {
	cs := c.stateFor(callID)
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.gatingToken != "" && cs.gatingToken != streamID {
		return false
	}
	cs.gatingToken = streamID
	cs.state = StateSpeaking
	c.logger.Debug("conversation state speaking", "call_id", callID, "stream_id", streamID)
	return true
}

// OnTTSEnd clears the gating token iff it still equals streamID, then
// returns the call to listening.
func (c *Coordinator) OnTTSEnd(callID, streamID string) {
	cs := c.stateFor(callID)
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.gatingToken != streamID {
		return
	}
	cs.gatingToken = ""
	cs.state = StateListening
	c.logger.Debug("conversation state listening", "call_id", callID, "stream_id", streamID)
}

func (c *Coordinator) EnterThinking(callID string) { c.setState(callID, StateThinking) }
func (c *Coordinator) EnterListening(callID string) { c.setState(callID, StateListening) }
func (c *Coordinator) EnterToolExecuting(callID string) { c.setState(callID, StateToolExecuting) }
func (c *Coordinator) EnterIdle(callID string) { c.setState(callID, StateIdle) }

// RecordPlayedAudio feeds outbound TTS audio into the call's echo
// suppressor so ProcessCallerAudio can tell caller speech from the bot's
// own voice leaking back through the telephony path.
func (c *Coordinator) RecordPlayedAudio(callID string, pcm16 []byte) {
	cs := c.stateFor(callID)
	cs.mu.Lock()
	echo := cs.echo
	cs.mu.Unlock()
	echo.RecordPlayedAudio(pcm16)
}

// ProcessCallerAudio feeds one inbound chunk through the call's VAD and
// invokes the barge-in hook when speech is confirmed while the bot is
// speaking: stop_streaming_playback(call_id) per §4.I. Chunks correlated
// with recently played audio are treated as echo, not caller speech.
func (c *Coordinator) ProcessCallerAudio(callID string, pcm16 []byte) (*orchestrator.VADEvent, error) {
	cs := c.stateFor(callID)
	cs.mu.Lock()
	vad := cs.vad
	echo := cs.echo
	speaking := cs.state == StateSpeaking
	cs.mu.Unlock()

	if speaking && echo.IsEcho(pcm16) {
		return nil, nil
	}

	event, err := vad.Process(pcm16)
	if err != nil {
		return nil, err
	}

	if event != nil && event.Type == orchestrator.VADSpeechStart && speaking {
		c.mu.Lock()
		pb := c.playback
		c.mu.Unlock()
		if pb != nil {
			pb.StopStreamingPlayback(callID)
			c.logger.Info("barge-in: stopped streaming playback", "call_id", callID)
		}
	}
	return event, nil
}

// ReleaseCall discards a call's FSM/VAD state once the call ends.
func (c *Coordinator) ReleaseCall(callID string) {
	c.mu.Lock()
	delete(c.calls, callID)
	c.mu.Unlock()
}
