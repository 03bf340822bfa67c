package orchestrator

import (
	"context"
)


// STTProvider transcribes one caller utterance. callID identifies which
// call the audio belongs to (providers that log or trace per-call, or that
// multiplex multiple calls over one connection, key off of it);
// sampleRateHz is the PCM16 rate of audio; options carries the per-call
// pipeline option overrides of pkg/pipeline.PipelineSpec.Options, letting a
// call-specific model/prompt override the component's build-time default.
type STTProvider interface {
	Transcribe(ctx context.Context, callID string, audio []byte, sampleRateHz int, lang Language, options map[string]any) (string, error)
	Name() string
}


type StreamingSTTProvider interface {
	STTProvider
	StreamTranscribe(ctx context.Context, lang Language, onTranscript func(transcript string, isFinal bool) error) (chan<- []byte, error)
}


// LLMProvider generates the next assistant turn. callID and context mirror
// STTProvider's per-call threading; context carries caller-scoped data
// (e.g. session variables surfaced by pkg/tools) beyond the raw message
// history; options carries the same per-call override map as STTProvider.
type LLMProvider interface {
	Complete(ctx context.Context, callID string, messages []Message, context map[string]any, options map[string]any) (string, error)
	Name() string
}


type TTSProvider interface {
	Synthesize(ctx context.Context, text string, voice Voice, lang Language) ([]byte, error)
	StreamSynthesize(ctx context.Context, text string, voice Voice, lang Language, onChunk func([]byte) error) error
	// Abort cancels any in-flight StreamSynthesize call for this provider,
	// unblocking the onChunk loop so a barge-in can take effect immediately.
	Abort() error
	Name() string
}


type VADProvider interface {
	Process(chunk []byte) (*VADEvent, error)
	Reset()
	Clone() VADProvider
	Name() string
}


type VADEventType string

const (
	VADSpeechStart VADEventType = "SPEECH_START"
	VADSpeechEnd   VADEventType = "SPEECH_END"
	VADSilence     VADEventType = "SILENCE"
)


type VADEvent struct {
	Type      VADEventType
	Timestamp int64
}


type Voice string

const (
	VoiceF1 Voice = "F1"
	VoiceF2 Voice = "F2"
	VoiceF3 Voice = "F3"
	VoiceF4 Voice = "F4"
	VoiceF5 Voice = "F5"
	VoiceM1 Voice = "M1"
	VoiceM2 Voice = "M2"
	VoiceM3 Voice = "M3"
	VoiceM4 Voice = "M4"
	VoiceM5 Voice = "M5"
)


type Language string

const (
	LanguageEn Language = "en"
	LanguageEs Language = "es"
	LanguageFr Language = "fr"
	LanguageDe Language = "de"
	LanguageIt Language = "it"
	LanguagePt Language = "pt"
	LanguageJa Language = "ja"
	LanguageZh Language = "zh"
)


// Message is one turn of conversation history passed to an LLMProvider.
// pkg/engine builds these from session.CallSession.ConversationHistory per call rather
// than from a standalone conversation-session type.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
