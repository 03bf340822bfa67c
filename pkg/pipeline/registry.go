// Package pipeline implements the §4.H pipeline orchestrator: a named
// registry of {stt, llm, tts} component triples, wildcard placeholder
// adapters for misconfiguration detection, and per-call memoized
// resolution. Grounded on the teacher's pkg/orchestrator.Orchestrator,
// generalized from a single fixed (stt, llm, tts) triple wired at
// construction into a registry of named, lazily-resolved pipelines.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/logging"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/orchestrator"
)

// Role names the three component slots a pipeline fills.
type Role string

const (
	RoleSTT Role = "stt"
	RoleLLM Role = "llm"
	RoleTTS Role = "tts"
)

// STTFactory, LLMFactory, and TTSFactory build one component instance
// from call-scoped options. Registered under a component key of the form
// "<provider>_<role>" (e.g. "deepgram_stt", "openai_llm").
type STTFactory func(options map[string]any) (orchestrator.STTProvider, error)
type LLMFactory func(options map[string]any) (orchestrator.LLMProvider, error)
type TTSFactory func(options map[string]any) (orchestrator.TTSProvider, error)

// PipelineSpec is one named entry of the configured pipelines map:
// {name: {stt: "<provider>_stt", llm: "<provider>_llm", tts: "<provider>_tts", options?, tools?}}.
type PipelineSpec struct {
	Name    string
	STTKey  string
	LLMKey  string
	TTSKey  string
	Options map[Role]map[string]any
	Tools   []string
}

// PipelineResolution is the memoized, call-bound instantiation of a
// PipelineSpec returned by GetPipeline. STTOptions/LLMOptions are the
// spec's per-role option overrides, carried through so the engine can pass
// them to Transcribe/Complete on every turn rather than only at
// construction time.
type PipelineResolution struct {
	CallID     string
	Name       string
	STT        orchestrator.STTProvider
	LLM        orchestrator.LLMProvider
	TTS        orchestrator.TTSProvider
	Tools      []string
	STTOptions map[string]any
	LLMOptions map[string]any
}

// Registry is the process-wide pipeline orchestrator: component
// factories keyed by "<provider>_<role>", named pipeline specs, and a
// per-call memoization table.
type Registry struct {
	logger logging.Logger

	mu          sync.RWMutex
	sttFactories map[string]STTFactory
	llmFactories map[string]LLMFactory
	ttsFactories map[string]TTSFactory

	pipelines       map[string]PipelineSpec
	activePipeline  string
	defaultProvider string

	resolutionsMu sync.Mutex
	resolutions   map[string]*PipelineResolution // callID -> resolution
}

func NewRegistry(logger logging.Logger) *Registry {
	if logger == nil {
		logger = logging.NoOp{}
	}
	return &Registry{
		logger:       logger,
		sttFactories: make(map[string]STTFactory),
		llmFactories: make(map[string]LLMFactory),
		ttsFactories: make(map[string]TTSFactory),
		pipelines:    make(map[string]PipelineSpec),
		resolutions:  make(map[string]*PipelineResolution),
	}
}

func (r *Registry) RegisterSTT(key string, f STTFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sttFactories[key] = f
}

func (r *Registry) RegisterLLM(key string, f LLMFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llmFactories[key] = f
}

func (r *Registry) RegisterTTS(key string, f TTSFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ttsFactories[key] = f
}

// DefinePipeline registers (or replaces) a named pipeline spec.
func (r *Registry) DefinePipeline(spec PipelineSpec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pipelines[spec.Name] = spec
}

func (r *Registry) SetActivePipeline(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.activePipeline = name
}

func (r *Registry) SetDefaultProvider(provider string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultProvider = provider
}

// Start performs the two-pass validation of §4.H: (1) every pipeline's
// component keys must have a registered factory or be a wildcard
// placeholder, (2) connectivity is probed best-effort per role and
// failures are logged but never remove the pipeline from service.
func (r *Registry) Start(ctx context.Context, connectivityProbe func(role Role, key string, options map[string]any) error) error {
	r.mu.RLock()
	specs := make([]PipelineSpec, 0, len(r.pipelines))
	for _, s := range r.pipelines {
		specs = append(specs, s)
	}
	r.mu.RUnlock()

	for _, spec := range specs {
		for _, entry := range []struct {
			role Role
			key  string
		}{{RoleSTT, spec.STTKey}, {RoleLLM, spec.LLMKey}, {RoleTTS, spec.TTSKey}} {
			if isWildcard(entry.key) {
				continue
			}
			if !r.hasFactory(entry.role, entry.key) {
				return fmt.Errorf("pipeline %q: no factory registered for %s component %q", spec.Name, entry.role, entry.key)
			}
		}
	}

	if connectivityProbe == nil {
		return nil
	}
	for _, spec := range specs {
		for _, entry := range []struct {
			role Role
			key  string
		}{{RoleSTT, spec.STTKey}, {RoleLLM, spec.LLMKey}, {RoleTTS, spec.TTSKey}} {
			if isWildcard(entry.key) {
				continue
			}
			opts := spec.Options[entry.role]
			if err := connectivityProbe(entry.role, entry.key, opts); err != nil {
				r.logger.Warn("pipeline connectivity probe failed", "pipeline", spec.Name, "role", entry.role, "key", entry.key, "error", err)
			}
		}
	}
	return nil
}

func (r *Registry) hasFactory(role Role, key string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch role {
	case RoleSTT:
		_, ok := r.sttFactories[key]
		return ok
	case RoleLLM:
		_, ok := r.llmFactories[key]
		return ok
	case RoleTTS:
		_, ok := r.ttsFactories[key]
		return ok
	}
	return false
}

// isWildcard reports whether key is a "*_<role>" placeholder.
func isWildcard(key string) bool {
	return strings.HasPrefix(key, "*_")
}

// GetPipeline resolves (and memoizes per call) the named pipeline, or the
// active pipeline when name is empty. Returns nil if the pipeline is
// unknown.
func (r *Registry) GetPipeline(callID, name string) (*PipelineResolution, error) {
	r.resolutionsMu.Lock()
	if existing, ok := r.resolutions[callID]; ok {
		r.resolutionsMu.Unlock()
		return existing, nil
	}
	r.resolutionsMu.Unlock()

	r.mu.RLock()
	if name == "" {
		name = r.activePipeline
	}
	spec, ok := r.pipelines[name]
	r.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	stt, err := r.buildSTT(spec)
	if err != nil {
		return nil, err
	}
	llm, err := r.buildLLM(spec)
	if err != nil {
		return nil, err
	}
	tts, err := r.buildTTS(spec)
	if err != nil {
		return nil, err
	}

	res := &PipelineResolution{
		CallID:     callID,
		Name:       spec.Name,
		STT:        stt,
		LLM:        llm,
		TTS:        tts,
		Tools:      spec.Tools,
		STTOptions: spec.Options[RoleSTT],
		LLMOptions: spec.Options[RoleLLM],
	}

	r.resolutionsMu.Lock()
	r.resolutions[callID] = res
	r.resolutionsMu.Unlock()
	return res, nil
}

func (r *Registry) buildSTT(spec PipelineSpec) (orchestrator.STTProvider, error) {
	if isWildcard(spec.STTKey) {
		return noopSTT{role: spec.STTKey}, nil
	}
	r.mu.RLock()
	f, ok := r.sttFactories[spec.STTKey]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("pipeline %q: unknown stt component %q", spec.Name, spec.STTKey)
	}
	return f(spec.Options[RoleSTT])
}

func (r *Registry) buildLLM(spec PipelineSpec) (orchestrator.LLMProvider, error) {
	if isWildcard(spec.LLMKey) {
		return noopLLM{role: spec.LLMKey}, nil
	}
	r.mu.RLock()
	f, ok := r.llmFactories[spec.LLMKey]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("pipeline %q: unknown llm component %q", spec.Name, spec.LLMKey)
	}
	return f(spec.Options[RoleLLM])
}

func (r *Registry) buildTTS(spec PipelineSpec) (orchestrator.TTSProvider, error) {
	if isWildcard(spec.TTSKey) {
		return noopTTS{role: spec.TTSKey}, nil
	}
	r.mu.RLock()
	f, ok := r.ttsFactories[spec.TTSKey]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("pipeline %q: unknown tts component %q", spec.Name, spec.TTSKey)
	}
	return f(spec.Options[RoleTTS])
}

// ReleasePipeline tears down a call's resolved pipeline: closes each
// adapter, tolerating "not implemented" from placeholders, and forgets
// the memoized resolution.
func (r *Registry) ReleasePipeline(callID string) {
	r.resolutionsMu.Lock()
	res, ok := r.resolutions[callID]
	delete(r.resolutions, callID)
	r.resolutionsMu.Unlock()
	if !ok {
		return
	}

	if c, ok := res.STT.(interface{ Close() error }); ok {
		if err := c.Close(); err != nil && !isNotImplemented(err) {
			r.logger.Warn("pipeline stt close failed", "call_id", callID, "error", err)
		}
	}
	if c, ok := res.LLM.(interface{ Close() error }); ok {
		if err := c.Close(); err != nil && !isNotImplemented(err) {
			r.logger.Warn("pipeline llm close failed", "call_id", callID, "error", err)
		}
	}
	if c, ok := res.TTS.(interface{ Close() error }); ok {
		if err := c.Close(); err != nil && !isNotImplemented(err) {
			r.logger.Warn("pipeline tts close failed", "call_id", callID, "error", err)
		}
	}
}

func isNotImplemented(err error) bool {
	return err != nil && strings.Contains(err.Error(), "not implemented")
}
