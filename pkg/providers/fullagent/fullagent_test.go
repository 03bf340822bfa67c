package fullagent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/audio"
)

func TestDetectInputFormat(t *testing.T) {
	cases := []struct {
		n         int
		wantFmt   string
		wantRate  int
	}{
		{160, "ulaw", 8000},
		{320, "pcm16", 8000},
		{640, "pcm16", 16000},
		{999, "", 0},
	}
	for _, c := range cases {
		format, rate := detectInputFormat(c.n)
		assert.Equal(t, c.wantFmt, format)
		assert.Equal(t, c.wantRate, rate)
	}
}

func TestDefaultGreetingPolicy(t *testing.T) {
	p := DefaultGreetingPolicy("hi")
	assert.Equal(t, 2, p.MaxInjections)
	assert.Equal(t, 1500*time.Millisecond, p.SilenceWindow)
}

func TestDeepgramAgentIsReady(t *testing.T) {
	agent := NewDeepgramAgent(DeepgramConfig{}, nil, nil)
	assert.False(t, agent.IsReady(), "no API key or onEvent")

	agent = NewDeepgramAgent(DeepgramConfig{APIKey: "k"}, func(Event) {}, nil)
	assert.True(t, agent.IsReady())
}

func TestDeepgramAgentDescribeAlignment(t *testing.T) {
	agent := NewDeepgramAgent(DeepgramConfig{InputEncoding: "mulaw", InputSampleRateHz: 16000}, func(Event) {}, nil)
	issues := agent.DescribeAlignment("slin16", "pcm16", 16000)
	assert.NotEmpty(t, issues)
}

// TestDeepgramAgentSettingsAndAudio runs a full websocket round trip
// against a local test server: sends the Settings message, then streams
// one binary AgentAudio frame and asserts the corresponding Event fires.
func TestDeepgramAgentSettingsAndAudio(t *testing.T) {
	var gotSettings map[string]any
	var mu sync.Mutex

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		require.NoError(t, err)
		defer conn.Close(websocket.StatusNormalClosure, "")

		var settings map[string]any
		require.NoError(t, wsjson.Read(r.Context(), conn, &settings))
		mu.Lock()
		gotSettings = settings
		mu.Unlock()

		require.NoError(t, conn.Write(r.Context(), websocket.MessageBinary, []byte{1, 2, 3, 4}))
		time.Sleep(50 * time.Millisecond)
	}))
	defer server.Close()

	events := make(chan Event, 8)
	agent := NewDeepgramAgent(DeepgramConfig{APIKey: "test"}, func(e Event) { events <- e }, nil)

	// Point the agent at the local test server instead of Deepgram's real
	// endpoint by dialing directly, bypassing StartSession's hardcoded URL.
	ctx := context.Background()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	agent.conn = conn
	require.NoError(t, agent.sendSettings(ctx))
	go agent.receiveLoop(ctx)

	select {
	case e := <-events:
		assert.Equal(t, EventAgentAudio, e.Type)
		assert.Equal(t, []byte{1, 2, 3, 4}, e.AudioData)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for AgentAudio event")
	}

	mu.Lock()
	defer mu.Unlock()
	require.NotNil(t, gotSettings)
	assert.Equal(t, "Settings", gotSettings["type"])
}

func TestLocalAgentToPCM16kMulaw(t *testing.T) {
	agent := NewLocalAgent(LocalConfig{InputMode: "mulaw8k"}, func(Event) {}, nil)
	var state *audio.ResampleState
	out := agent.toPCM16k(make([]byte, 160), &state)
	assert.NotEmpty(t, out)
}

func TestLocalAgentIsReady(t *testing.T) {
	agent := NewLocalAgent(LocalConfig{}, nil, nil)
	assert.False(t, agent.IsReady())

	agent = NewLocalAgent(LocalConfig{WSURL: "ws://localhost:1"}, func(Event) {}, nil)
	assert.True(t, agent.IsReady())
}

func TestLocalAgentReceiveLoopDispatchesTextAndToolCall(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		require.NoError(t, err)
		defer conn.Close(websocket.StatusNormalClosure, "")

		textMsg, _ := json.Marshal(map[string]any{"type": "text", "role": "assistant", "text": "hi there"})
		conn.Write(r.Context(), websocket.MessageText, textMsg)

		toolMsg, _ := json.Marshal(map[string]any{"type": "tool_call", "tool_name": "hangup_call", "tool_args": map[string]any{}})
		conn.Write(r.Context(), websocket.MessageText, toolMsg)

		time.Sleep(50 * time.Millisecond)
	}))
	defer server.Close()

	events := make(chan Event, 8)
	agent := NewLocalAgent(LocalConfig{}, func(e Event) { events <- e }, nil)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.Dial(context.Background(), wsURL, nil)
	require.NoError(t, err)
	agent.conn = conn
	agent.callID = "call-1"

	go agent.receiveLoop(context.Background())

	var gotText, gotTool bool
	deadline := time.After(2 * time.Second)
	for !gotText || !gotTool {
		select {
		case e := <-events:
			switch e.Type {
			case EventConversationTxt:
				assert.Equal(t, "hi there", e.Text)
				gotText = true
			case EventToolCall:
				assert.Equal(t, "hangup_call", e.ToolName)
				gotTool = true
			}
		case <-deadline:
			t.Fatal("timed out waiting for events")
		}
	}
}
