package tools

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/logging"
)

// maxResultBytes caps a serialized tool result before it is handed to a
// provider's function-output channel (§4.J result sanitization).
const maxResultBytes = 12 * 1024

// aliases maps a provider-facing name to the canonical registered name.
// Distinct providers spell the same tool differently (ElevenLabs/OpenAI
// prompts say "transfer_call", some say "end_call"); Get resolves either.
var aliases = map[string]string{
	"transfer_call":     "transfer",
	"transfer_to_queue":  "transfer",
	"hangup":            "hangup_call",
	"end_call":          "hangup_call",
}

// Registry is the process-wide tool catalog. Tools are registered only at
// startup (§9 DESIGN NOTES: "Global singletons (tool registry). Acceptable
// because tools are registered only at startup and are effectively
// immutable"); reads and schema exports are lock-free-safe via RWMutex.
type Registry struct {
	logger logging.Logger

	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry builds an empty registry. Call sites typically hold one
// process-wide instance built by the engine façade at startup, mirroring
// original_source/src/tools/registry.py's singleton without forcing a
// package-level global on every test.
func NewRegistry(logger logging.Logger) *Registry {
	if logger == nil {
		logger = logging.NoOp{}
	}
	return &Registry{logger: logger, tools: make(map[string]Tool)}
}

// Register adds or replaces a tool under its own Definition().Name.
func (r *Registry) Register(t Tool) {
	name := t.Definition().Name
	r.mu.Lock()
	if _, exists := r.tools[name]; exists {
		r.logger.Warn("tool already registered, overwriting", "tool", name)
	}
	r.tools[name] = t
	r.mu.Unlock()
	r.logger.Info("registered tool", "tool", name, "category", t.Definition().Category)
}

// Unregister removes a tool by its exact registered name (no alias
// resolution). Returns false if it was not registered.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[name]; !ok {
		return false
	}
	delete(r.tools, name)
	return true
}

// Has reports whether name is registered under its exact canonical name.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// Get resolves name to a Tool, trying a direct lookup first and falling
// back to the alias map.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if t, ok := r.tools[name]; ok {
		return t, true
	}
	if canonical, ok := aliases[name]; ok {
		if t, ok := r.tools[canonical]; ok {
			return t, true
		}
	}
	return nil, false
}

// List returns every registered tool's definition.
func (r *Registry) List() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]Definition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, t.Definition())
	}
	return defs
}

// filtered returns the tools named in allowlist (alias-resolved, order
// preserved, de-duplicated), or every tool if allowlist is nil.
func (r *Registry) filtered(allowlist []string) []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if allowlist == nil {
		out := make([]Tool, 0, len(r.tools))
		for _, t := range r.tools {
			out = append(out, t)
		}
		return out
	}
	seen := make(map[string]bool, len(allowlist))
	out := make([]Tool, 0, len(allowlist))
	for _, name := range allowlist {
		t, ok := r.tools[name]
		if !ok {
			if canonical, aliased := aliases[name]; aliased {
				t, ok = r.tools[canonical]
			}
		}
		if !ok || seen[t.Definition().Name] {
			continue
		}
		seen[t.Definition().Name] = true
		out = append(out, t)
	}
	return out
}

// ToDeepgramSchema exports the allowlisted (or all) tools in Deepgram Voice
// Agent Settings format.
func (r *Registry) ToDeepgramSchema(allowlist []string) []map[string]any {
	tools := r.filtered(allowlist)
	out := make([]map[string]any, 0, len(tools))
	for _, t := range tools {
		out = append(out, t.Definition().ToDeepgramSchema())
	}
	return out
}

// ToOpenAISchema exports in OpenAI Chat Completions (nested) format.
func (r *Registry) ToOpenAISchema(allowlist []string) []map[string]any {
	tools := r.filtered(allowlist)
	out := make([]map[string]any, 0, len(tools))
	for _, t := range tools {
		out = append(out, t.Definition().ToOpenAISchema())
	}
	return out
}

// ToOpenAIRealtimeSchema exports in OpenAI Realtime API (flat) format.
func (r *Registry) ToOpenAIRealtimeSchema(allowlist []string) []map[string]any {
	tools := r.filtered(allowlist)
	out := make([]map[string]any, 0, len(tools))
	for _, t := range tools {
		out = append(out, t.Definition().ToOpenAIRealtimeSchema())
	}
	return out
}

// ToElevenLabsSchema exports in ElevenLabs Conversational AI format.
func (r *Registry) ToElevenLabsSchema(allowlist []string) []map[string]any {
	tools := r.filtered(allowlist)
	out := make([]map[string]any, 0, len(tools))
	for _, t := range tools {
		out = append(out, t.Definition().ToElevenLabsSchema())
	}
	return out
}

// ToLocalLLMSchema exports in the compact shape injected into a local LLM's
// prompt.
func (r *Registry) ToLocalLLMSchema(allowlist []string) []map[string]any {
	tools := r.filtered(allowlist)
	out := make([]map[string]any, 0, len(tools))
	for _, t := range tools {
		out = append(out, t.Definition().ToLocalLLMSchema())
	}
	return out
}

// ToPromptText renders every allowlisted (or all) tool as a human-readable
// block for a local-LLM system prompt.
func (r *Registry) ToPromptText(allowlist []string) string {
	tools := r.filtered(allowlist)
	if len(tools) == 0 {
		return ""
	}
	text := "Available tools:\n\n"
	for _, t := range tools {
		text += t.Definition().ToPromptText() + "\n\n"
	}
	return text
}

// Execute resolves name (alias-aware), invokes its Execute, and sanitizes
// the result before returning it, ready for serialization onto a provider's
// function-output channel.
func (r *Registry) Execute(ctx context.Context, name string, params map[string]any, ec ExecutionContext) Result {
	t, ok := r.Get(name)
	if !ok {
		return Result{Status: "error", Message: "unknown tool: " + name}
	}
	result := t.Execute(ctx, params, ec)
	return sanitizeResult(result)
}

// sanitizeResult caps the serialized size of a result's free-form Extra
// payload at maxResultBytes, dropping it (not the whole result) if it would
// not fit, so a misbehaving tool can never blow out a provider's
// function-output frame.
func sanitizeResult(res Result) Result {
	if res.Extra == nil {
		return res
	}
	b, err := json.Marshal(res.Extra)
	if err != nil || len(b) > maxResultBytes {
		res.Extra = map[string]any{"truncated": true}
	}
	return res
}
