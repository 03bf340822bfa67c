package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/orchestrator"
)

type stubSTT struct{ name string }

func (s stubSTT) Transcribe(ctx context.Context, callID string, audio []byte, sampleRateHz int, lang orchestrator.Language, options map[string]any) (string, error) {
	return "hello", nil
}
func (s stubSTT) Name() string { return s.name }

type stubLLM struct{ name string }

func (s stubLLM) Complete(ctx context.Context, callID string, messages []orchestrator.Message, callCtx map[string]any, options map[string]any) (string, error) {
	return "response", nil
}
func (s stubLLM) Name() string { return s.name }

type stubTTS struct{ name string }

func (s stubTTS) Synthesize(ctx context.Context, text string, voice orchestrator.Voice, lang orchestrator.Language) ([]byte, error) {
	return []byte("audio"), nil
}
func (s stubTTS) StreamSynthesize(ctx context.Context, text string, voice orchestrator.Voice, lang orchestrator.Language, onChunk func([]byte) error) error {
	return onChunk([]byte("audio"))
}
func (s stubTTS) Abort() error { return nil }
func (s stubTTS) Name() string { return s.name }

func newTestRegistry() *Registry {
	r := NewRegistry(nil)
	r.RegisterSTT("deepgram_stt", func(map[string]any) (orchestrator.STTProvider, error) {
		return stubSTT{name: "deepgram_stt"}, nil
	})
	r.RegisterLLM("openai_llm", func(map[string]any) (orchestrator.LLMProvider, error) {
		return stubLLM{name: "openai_llm"}, nil
	})
	r.RegisterTTS("lokutor_tts", func(map[string]any) (orchestrator.TTSProvider, error) {
		return stubTTS{name: "lokutor_tts"}, nil
	})
	return r
}

func TestGetPipelineResolvesAndMemoizes(t *testing.T) {
	r := newTestRegistry()
	r.DefinePipeline(PipelineSpec{Name: "default", STTKey: "deepgram_stt", LLMKey: "openai_llm", TTSKey: "lokutor_tts"})
	r.SetActivePipeline("default")

	res1, err := r.GetPipeline("call-1", "")
	require.NoError(t, err)
	require.NotNil(t, res1)
	assert.Equal(t, "default", res1.Name)

	res2, err := r.GetPipeline("call-1", "")
	require.NoError(t, err)
	assert.Same(t, res1, res2, "second GetPipeline for the same call must return the memoized resolution")
}

func TestGetPipelineUnknownNameReturnsNil(t *testing.T) {
	r := newTestRegistry()
	res, err := r.GetPipeline("call-1", "missing")
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestWildcardPlaceholderFailsOnInvocationNotOnStart(t *testing.T) {
	r := newTestRegistry()
	r.DefinePipeline(PipelineSpec{Name: "partial", STTKey: "deepgram_stt", LLMKey: "*_llm", TTSKey: "lokutor_tts"})

	require.NoError(t, r.Start(context.Background(), nil), "a wildcard placeholder must not fail Start")

	res, err := r.GetPipeline("call-2", "partial")
	require.NoError(t, err)
	require.NotNil(t, res)

	_, err = res.LLM.Complete(context.Background(), "call-2", nil, nil, nil)
	assert.Error(t, err, "invoking the placeholder component must fail")
}

func TestStartFailsOnUnregisteredNonWildcardComponent(t *testing.T) {
	r := newTestRegistry()
	r.DefinePipeline(PipelineSpec{Name: "broken", STTKey: "nope_stt", LLMKey: "openai_llm", TTSKey: "lokutor_tts"})
	assert.Error(t, r.Start(context.Background(), nil))
}

func TestStartConnectivityProbeFailureDoesNotRemovePipeline(t *testing.T) {
	r := newTestRegistry()
	r.DefinePipeline(PipelineSpec{Name: "default", STTKey: "deepgram_stt", LLMKey: "openai_llm", TTSKey: "lokutor_tts"})

	err := r.Start(context.Background(), func(role Role, key string, options map[string]any) error {
		return assert.AnError
	})
	require.NoError(t, err, "connectivity probe failures must only be logged")

	res, err := r.GetPipeline("call-3", "default")
	require.NoError(t, err)
	assert.NotNil(t, res, "pipeline must remain in service despite probe failure")
}

func TestReleasePipelineForgetsMemoizedResolution(t *testing.T) {
	r := newTestRegistry()
	r.DefinePipeline(PipelineSpec{Name: "default", STTKey: "deepgram_stt", LLMKey: "openai_llm", TTSKey: "lokutor_tts"})

	res1, err := r.GetPipeline("call-4", "default")
	require.NoError(t, err)
	require.NotNil(t, res1)

	r.ReleasePipeline("call-4")

	res2, err := r.GetPipeline("call-4", "default")
	require.NoError(t, err)
	assert.NotSame(t, res1, res2, "after release a fresh resolution must be built")
}
