package engine

import (
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/config"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/logging"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/orchestrator"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/pipeline"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/providers/fullagent"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/providers/llm"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/providers/stt"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/providers/tts"
)

// registerComponentFactories wires every STT/LLM/TTS component the
// teacher carries into the pipeline registry, keyed "<provider>_<role>"
// per spec.md's pipeline entry shape. Each factory closes over the
// process-wide providers config rather than the per-pipeline options map,
// since credentials are a provider property, not a per-pipeline one.
func registerComponentFactories(r *pipeline.Registry, providers map[string]config.ProviderEntry) {
	r.RegisterSTT("deepgram_stt", func(map[string]any) (orchestrator.STTProvider, error) {
		return stt.NewDeepgramSTT(providers["deepgram"].APIKey), nil
	})
	r.RegisterSTT("assemblyai_stt", func(map[string]any) (orchestrator.STTProvider, error) {
		return stt.NewAssemblyAISTT(providers["assemblyai"].APIKey), nil
	})
	r.RegisterSTT("groq_stt", func(map[string]any) (orchestrator.STTProvider, error) {
		p := providers["groq"]
		return stt.NewGroqSTT(p.APIKey, p.Model), nil
	})
	r.RegisterSTT("openai_stt", func(map[string]any) (orchestrator.STTProvider, error) {
		p := providers["openai"]
		return stt.NewOpenAISTT(p.APIKey, p.Model), nil
	})

	r.RegisterLLM("anthropic_llm", func(map[string]any) (orchestrator.LLMProvider, error) {
		p := providers["anthropic"]
		return llm.NewAnthropicLLM(p.APIKey, p.Model), nil
	})
	r.RegisterLLM("openai_llm", func(map[string]any) (orchestrator.LLMProvider, error) {
		p := providers["openai"]
		return llm.NewOpenAILLM(p.APIKey, p.Model), nil
	})
	r.RegisterLLM("google_llm", func(map[string]any) (orchestrator.LLMProvider, error) {
		p := providers["google"]
		return llm.NewGoogleLLM(p.APIKey, p.Model), nil
	})
	r.RegisterLLM("groq_llm", func(map[string]any) (orchestrator.LLMProvider, error) {
		p := providers["groq"]
		return llm.NewGroqLLM(p.APIKey, p.Model), nil
	})

	r.RegisterTTS("lokutor_tts", func(map[string]any) (orchestrator.TTSProvider, error) {
		return tts.NewLokutorTTS(providers["lokutor"].APIKey), nil
	})
}

// fullAgentFactoriesFrom builds one constructor per configured full-agent
// provider entry (Type == "deepgram_fullagent" or "local_fullagent").
// Pipelines with an empty stt/llm/tts triple and a name matching one of
// these keys are routed to the full-agent path instead of the cascaded
// pipeline path (see resolveProvider in call.go).
func fullAgentFactoriesFrom(providers map[string]config.ProviderEntry, logger logging.Logger) map[string]func(onEvent func(fullagent.Event)) fullagent.Provider {
	out := make(map[string]func(onEvent func(fullagent.Event)) fullagent.Provider)

	for name, p := range providers {
		switch p.Type {
		case "deepgram_fullagent":
			p := p
			out[name] = func(onEvent func(fullagent.Event)) fullagent.Provider {
				return fullagent.NewDeepgramAgent(fullagent.DeepgramConfig{
					APIKey:             p.APIKey,
					Model:              p.Model,
					InputEncoding:      optString(p.Options, "input_encoding", "mulaw"),
					InputSampleRateHz:  optInt(p.Options, "input_sample_rate_hz", 8000),
					OutputEncoding:     optString(p.Options, "output_encoding", "mulaw"),
					OutputSampleRateHz: optInt(p.Options, "output_sample_rate_hz", 8000),
					Greeting:           optString(p.Options, "greeting", ""),
					LLMModel:           optString(p.Options, "llm_model", ""),
					LLMPrompt:          optString(p.Options, "llm_prompt", ""),
				}, onEvent, logger)
			}
		case "local_fullagent":
			p := p
			out[name] = func(onEvent func(fullagent.Event)) fullagent.Provider {
				return fullagent.NewLocalAgent(fullagent.LocalConfig{
					WSURL:     p.BaseURL,
					InputMode: optString(p.Options, "input_mode", "mulaw8k"),
				}, onEvent, logger)
			}
		}
	}
	return out
}

func optString(opts map[string]any, key, fallback string) string {
	if v, ok := opts[key].(string); ok {
		return v
	}
	return fallback
}

func optInt(opts map[string]any, key string, fallback int) int {
	switch v := opts[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return fallback
	}
}
