package pipeline

import (
	"context"
	"fmt"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/orchestrator"
)

// noopSTT, noopLLM, and noopTTS satisfy their respective component
// interfaces but fail every call, surfacing a wildcard "*_<role>"
// misconfiguration at invocation time rather than at startup — a pipeline
// with an unresolved placeholder still starts (§4.H), it just cannot
// actually serve that role.
type noopSTT struct{ role string }

func (n noopSTT) Transcribe(ctx context.Context, callID string, audio []byte, sampleRateHz int, lang orchestrator.Language, options map[string]any) (string, error) {
	return "", fmt.Errorf("pipeline: %q is an unresolved placeholder component", n.role)
}
func (n noopSTT) Name() string { return n.role }

type noopLLM struct{ role string }

func (n noopLLM) Complete(ctx context.Context, callID string, messages []orchestrator.Message, callCtx map[string]any, options map[string]any) (string, error) {
	return "", fmt.Errorf("pipeline: %q is an unresolved placeholder component", n.role)
}
func (n noopLLM) Name() string { return n.role }

type noopTTS struct{ role string }

func (n noopTTS) Synthesize(ctx context.Context, text string, voice orchestrator.Voice, lang orchestrator.Language) ([]byte, error) {
	return nil, fmt.Errorf("pipeline: %q is an unresolved placeholder component", n.role)
}
func (n noopTTS) StreamSynthesize(ctx context.Context, text string, voice orchestrator.Voice, lang orchestrator.Language, onChunk func([]byte) error) error {
	return fmt.Errorf("pipeline: %q is an unresolved placeholder component", n.role)
}
func (n noopTTS) Abort() error { return nil }
func (n noopTTS) Name() string { return n.role }
