package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTool struct {
	def    Definition
	result Result
}

func (f fakeTool) Definition() Definition { return f.def }
func (f fakeTool) Execute(ctx context.Context, params map[string]any, ec ExecutionContext) Result {
	return f.result
}

func TestRegistryResolvesAliases(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(fakeTool{def: Definition{Name: "transfer"}})
	r.Register(fakeTool{def: Definition{Name: "hangup_call"}})

	for _, alias := range []string{"transfer_call", "transfer_to_queue"} {
		tool, ok := r.Get(alias)
		require.True(t, ok, alias)
		assert.Equal(t, "transfer", tool.Definition().Name)
	}
	for _, alias := range []string{"hangup", "end_call"} {
		tool, ok := r.Get(alias)
		require.True(t, ok, alias)
		assert.Equal(t, "hangup_call", tool.Definition().Name)
	}
}

func TestRegistryUnregisterThenReregisterEqualsSingleRegister(t *testing.T) {
	r1 := NewRegistry(nil)
	r1.Register(fakeTool{def: Definition{Name: "transfer"}})

	r2 := NewRegistry(nil)
	r2.Register(fakeTool{def: Definition{Name: "transfer"}})
	r2.Unregister("transfer")
	r2.Register(fakeTool{def: Definition{Name: "transfer"}})

	assert.Equal(t, len(r1.List()), len(r2.List()))
	_, ok := r2.Get("transfer")
	assert.True(t, ok)
}

func TestSchemaTranslationShapes(t *testing.T) {
	def := Definition{
		Name:        "transfer",
		Description: "move the call",
		Parameters: []Parameter{
			{Name: "destination", Type: "string", Description: "where", Required: true},
		},
	}

	dg := def.ToDeepgramSchema()
	assert.Equal(t, "transfer", dg["name"])
	assert.NotContains(t, dg, "type", "deepgram schema is flat, no type wrapper")

	oa := def.ToOpenAISchema()
	assert.Equal(t, "function", oa["type"])
	fn, ok := oa["function"].(map[string]any)
	require.True(t, ok, "openai chat schema nests under function")
	assert.Equal(t, "transfer", fn["name"])

	rt := def.ToOpenAIRealtimeSchema()
	assert.Equal(t, "transfer", rt["name"], "realtime schema is flat, name at top level")
	assert.Equal(t, "function", rt["type"])

	params, ok := dg["parameters"].(map[string]any)
	require.True(t, ok)
	required, ok := params["required"].([]string)
	require.True(t, ok)
	assert.Contains(t, required, "destination")
}

func TestExecuteSanitizesOversizedExtra(t *testing.T) {
	r := NewRegistry(nil)
	huge := make(map[string]any, 1)
	bigStr := make([]byte, 20_000)
	for i := range bigStr {
		bigStr[i] = 'x'
	}
	huge["blob"] = string(bigStr)
	r.Register(fakeTool{
		def:    Definition{Name: "bloated"},
		result: Result{Status: "success", Extra: huge},
	})

	res := r.Execute(context.Background(), "bloated", nil, ExecutionContext{})
	assert.Equal(t, "success", res.Status)
	assert.Equal(t, map[string]any{"truncated": true}, res.Extra)
}

func TestExecuteUnknownToolReturnsError(t *testing.T) {
	r := NewRegistry(nil)
	res := r.Execute(context.Background(), "nope", nil, ExecutionContext{})
	assert.Equal(t, "error", res.Status)
}

func TestToPromptTextListsEveryAllowlistedTool(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(fakeTool{def: Definition{Name: "transfer", Description: "move"}})
	r.Register(fakeTool{def: Definition{Name: "hangup_call", Description: "end"}})

	text := r.ToPromptText([]string{"transfer"})
	assert.Contains(t, text, "transfer")
	assert.NotContains(t, text, "hangup_call")
}
