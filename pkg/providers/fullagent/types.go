// Package fullagent implements §4.G provider adapters for monolithic
// full-agent voice backends — ones that own STT, LLM, and TTS behind a
// single streaming session rather than being composed from the
// pkg/providers/{stt,llm,tts} adapters pkg/pipeline wires together.
//
// Grounded on original_source/src/providers/deepgram.py and
// src/providers/local.py, expressed in the teacher's websocket-adapter
// idiom (pkg/providers/tts/lokutor.go).
package fullagent

import (
	"context"
	"time"
)

// EventType is the provider-to-engine event taxonomy of §4.G.
type EventType string

const (
	EventAgentAudio      EventType = "AgentAudio"
	EventAgentAudioDone  EventType = "AgentAudioDone"
	EventConversationTxt EventType = "ConversationText"
	EventToolCall        EventType = "ToolCall"
	EventHangupReady     EventType = "HangupReady"
	EventError           EventType = "Error"
)

// Event is the uniform envelope every full-agent provider emits
// asynchronously to the engine via its onEvent callback.
type Event struct {
	Type EventType
	// CallID is always populated.
	CallID string
	// Audio fields, set when Type == EventAgentAudio.
	AudioData       []byte
	AudioEncoding   string
	AudioSampleRate int
	// Text fields, set when Type == EventConversationTxt.
	Role string
	Text string
	// ToolCall fields, set when Type == EventToolCall.
	ToolName string
	ToolArgs map[string]any
	// Err is set when Type == EventError.
	Err error
}

// SessionState is the per-provider-session state machine of §4.G.
type SessionState string

const (
	StateIdle            SessionState = "idle"
	StateConnecting      SessionState = "connecting"
	StateSettingsSent    SessionState = "settings_sent"
	StateAckOrFallback   SessionState = "ack_or_fallback_ready"
	StateStreamingBurst  SessionState = "streaming_burst"
	StateStreamingSilent SessionState = "streaming_silent"
	StateClosing         SessionState = "closing"
	StateClosed          SessionState = "closed"
)

// Provider is the contract every full-agent adapter satisfies.
type Provider interface {
	StartSession(ctx context.Context, callID string) error
	SendAudio(ctx context.Context, chunk []byte) error
	Speak(ctx context.Context, text string) error
	// SendToolResult delivers a pkg/tools execution result back to the
	// provider as its function-output event, per §4.J: the provider folds
	// the result into conversation context and generates its next response
	// from it, the same way it would after reading an LLM tool message.
	SendToolResult(ctx context.Context, toolName string, result map[string]any) error
	StopSession(ctx context.Context) error
	SupportedCodecs() []string
	DescribeAlignment(audiosocketFormat, streamingEncoding string, streamingSampleRate int) []string
	IsReady() bool
}

// GreetingPolicy is the §4.G greeting injection policy: inject once
// immediately after settings, inject once more if no audio burst is
// observed within SilenceWindow, capped at MaxInjections per session.
type GreetingPolicy struct {
	Text          string
	SilenceWindow time.Duration
	MaxInjections int
}

// DefaultGreetingPolicy mirrors the spec's "~1.5s silence window, cap 2"
// default.
func DefaultGreetingPolicy(text string) GreetingPolicy {
	return GreetingPolicy{
		Text:          text,
		SilenceWindow: 1500 * time.Millisecond,
		MaxInjections: 2,
	}
}

// detectInputFormat classifies an inbound frame by its canonical 20ms
// size per §4.G's input normalization rule.
func detectInputFormat(chunkLen int) (format string, srcRateHz int) {
	switch chunkLen {
	case 160:
		return "ulaw", 8000
	case 320:
		return "pcm16", 8000
	case 640:
		return "pcm16", 16000
	default:
		return "", 0
	}
}
