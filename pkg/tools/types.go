// Package tools implements the §4.J tool registry: a process-wide mapping
// from tool name (and provider aliases) to a Tool exposing a schema and an
// execute contract, with per-provider wire-schema translation. Grounded on
// the teacher's MCP tool shape (pkg/providers/tts and the MrWong99-glyphoxa
// Tool{Definition,Handler} pattern) and on original_source/src/tools/registry.py
// for the alias map, schema-translation method set, and representative
// telephony tools.
package tools

import (
	"context"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/ari"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/session"
)

// Category groups tools for allowlisting and introspection.
type Category string

const (
	CategoryTelephony Category = "telephony"
	CategoryBusiness  Category = "business"
	CategoryInfo      Category = "info"
)

// Parameter describes one named argument of a tool's schema.
type Parameter struct {
	Name        string
	Type        string // "string", "number", "boolean"
	Description string
	Required    bool
	Enum        []string
}

// Definition is a tool's provider-agnostic schema: name, description,
// category, and parameter list. Per-provider wire formats are derived from
// it by the ToXxxSchema methods.
type Definition struct {
	Name               string
	Description        string
	Category           Category
	RequiresChannel    bool
	MaxExecutionTimeMS int
	Parameters         []Parameter
}

// ToDeepgramSchema renders the function-calling shape the Deepgram Voice
// Agent Settings message expects: a flat {name, description, parameters}
// object per function, parameters as nested JSON Schema.
func (d Definition) ToDeepgramSchema() map[string]any {
	return map[string]any{
		"name":        d.Name,
		"description": d.Description,
		"parameters":  d.jsonSchema(),
	}
}

// ToOpenAISchema renders the OpenAI Chat Completions "tools" array shape:
// {type:"function", function:{name, description, parameters}}.
func (d Definition) ToOpenAISchema() map[string]any {
	return map[string]any{
		"type": "function",
		"function": map[string]any{
			"name":        d.Name,
			"description": d.Description,
			"parameters":  d.jsonSchema(),
		},
	}
}

// ToOpenAIRealtimeSchema renders OpenAI's Realtime API flat shape:
// {type:"function", name, description, parameters} with no nested
// "function" wrapper (§3 SUPPLEMENTED FEATURES: flat vs nested).
func (d Definition) ToOpenAIRealtimeSchema() map[string]any {
	return map[string]any{
		"type":        "function",
		"name":        d.Name,
		"description": d.Description,
		"parameters":  d.jsonSchema(),
	}
}

// ToElevenLabsSchema renders ElevenLabs Conversational AI's client-tool
// shape, which names the parameter list "parameters" the same as OpenAI but
// nests response handling under a separate key this adapter does not emit
// (client-side execution is out of scope: every tool here executes
// server-side).
func (d Definition) ToElevenLabsSchema() map[string]any {
	return map[string]any{
		"name":        d.Name,
		"description": d.Description,
		"parameters":  d.jsonSchema(),
	}
}

// ToLocalLLMSchema renders the compact shape injected into a local LLM's
// prompt as JSON (no "type":"function" wrapper, matching the local full-agent
// provider's "<tool_call>{...}</tool_call>" convention).
func (d Definition) ToLocalLLMSchema() map[string]any {
	return map[string]any{
		"name":        d.Name,
		"description": d.Description,
		"parameters":  d.jsonSchema(),
	}
}

// ToPromptText renders a one-tool block of human-readable text for the
// local LLM system-prompt tool catalog.
func (d Definition) ToPromptText() string {
	text := d.Name + ": " + d.Description
	for _, p := range d.Parameters {
		req := "optional"
		if p.Required {
			req = "required"
		}
		text += "\n  - " + p.Name + " (" + p.Type + ", " + req + "): " + p.Description
	}
	return text
}

func (d Definition) jsonSchema() map[string]any {
	properties := make(map[string]any, len(d.Parameters))
	var required []string
	for _, p := range d.Parameters {
		prop := map[string]any{
			"type":        p.Type,
			"description": p.Description,
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// ExecutionContext carries everything a tool's Execute needs: identity of
// the call, handles to shared infrastructure, and a read-only snapshot of
// the relevant config. Grounded on original_source's ToolExecutionContext.
type ExecutionContext struct {
	CallID          string
	CallerChannelID string
	BridgeID        string
	SessionStore    *session.Store
	ARIClient       ari.Client
	ProviderName    string
	UserInput       string

	// ConfigValue looks up a dotted config key (e.g. "tools.attended_transfer")
	// against the admitted config snapshot for this call. Returns nil if
	// unset. Kept as a function rather than a concrete config type so
	// pkg/tools never imports pkg/config.
	ConfigValue func(key string) any
}

// configMap reads a nested map[string]any out of ConfigValue, or an empty
// map if unset/wrong-typed.
func (c ExecutionContext) configMap(key string) map[string]any {
	v := c.ConfigValue
	if v == nil {
		return nil
	}
	m, _ := v(key).(map[string]any)
	return m
}

// Result is the outcome contract every tool returns: status plus the
// provider-steering fields named in §4.J.
type Result struct {
	Status       string // "success" | "failed" | "error" | "blocked"
	Message      string
	WillHangup   bool
	AIShouldSpeak bool
	Extra        map[string]any
	Error        string
}

// Tool is one invocable function exposed to providers.
type Tool interface {
	Definition() Definition
	Execute(ctx context.Context, params map[string]any, ec ExecutionContext) Result
}
