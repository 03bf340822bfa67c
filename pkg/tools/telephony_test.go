package tools

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/session"
)

type recordedCommand struct {
	method, resource string
	params           map[string]string
	data             map[string]any
}

type fakeARI struct {
	calls     []recordedCommand
	originate map[string]any
	failNext  bool
}

func (f *fakeARI) SendCommand(ctx context.Context, method, resource string, params map[string]string, data map[string]any) (map[string]any, error) {
	f.calls = append(f.calls, recordedCommand{method, resource, params, data})
	if f.failNext {
		f.failNext = false
		return nil, assert.AnError
	}
	if method == "POST" && resource == "channels" {
		if f.originate != nil {
			return f.originate, nil
		}
		return map[string]any{"id": "agent-channel-1"}, nil
	}
	return map[string]any{}, nil
}

func configLookup(cfg map[string]any) func(string) any {
	return func(key string) any {
		return cfg[key]
	}
}

func TestAttendedTransferHappyPath(t *testing.T) {
	store := session.NewStore()
	store.UpsertCall(session.NewCallSession("call-1", "chan-1", "bridge-1"))

	ari := &fakeARI{}
	cfg := map[string]any{
		"tools.attended_transfer": map[string]any{"enabled": true},
		"tools.transfer": map[string]any{
			"destinations": map[string]any{
				"support_agent": map[string]any{
					"type":             "extension",
					"target":           "6001",
					"attended_allowed": true,
					"description":      "Support",
				},
			},
		},
	}

	ec := ExecutionContext{
		CallID:          "call-1",
		CallerChannelID: "chan-1",
		SessionStore:    store,
		ARIClient:       ari,
		ConfigValue:     configLookup(cfg),
	}

	res := AttendedTransferTool{}.Execute(context.Background(), map[string]any{"destination": "support"}, ec)
	require.Equal(t, "success", res.Status)

	sess, ok := store.Get("call-1")
	require.True(t, ok)
	assert.Equal(t, session.ActionAttendedTransfer, sess.CurrentAction.Kind)
	assert.Equal(t, "agent-channel-1", sess.CurrentAction.AgentChannelID)
	assert.False(t, sess.AudioCaptureEnabled)

	var sawMOH, sawOriginate bool
	for _, c := range ari.calls {
		if c.resource == "channels/chan-1/moh" {
			sawMOH = true
		}
		if c.resource == "channels" && c.method == "POST" {
			sawOriginate = true
		}
	}
	assert.True(t, sawMOH)
	assert.True(t, sawOriginate)
}

func TestAttendedTransferRejectsNonAttendedDestination(t *testing.T) {
	store := session.NewStore()
	store.UpsertCall(session.NewCallSession("call-1", "chan-1", "bridge-1"))

	ari := &fakeARI{}
	cfg := map[string]any{
		"tools.attended_transfer": map[string]any{"enabled": true},
		"tools.transfer": map[string]any{
			"destinations": map[string]any{
				"sales": map[string]any{
					"type":             "extension",
					"target":           "5000",
					"attended_allowed": false,
				},
			},
		},
	}
	ec := ExecutionContext{CallID: "call-1", CallerChannelID: "chan-1", SessionStore: store, ARIClient: ari, ConfigValue: configLookup(cfg)}

	res := AttendedTransferTool{}.Execute(context.Background(), map[string]any{"destination": "sales"}, ec)
	assert.Equal(t, "failed", res.Status)
}

func TestAttendedTransferCleansUpOnOriginateFailure(t *testing.T) {
	store := session.NewStore()
	store.UpsertCall(session.NewCallSession("call-1", "chan-1", "bridge-1"))

	ari := &fakeARI{}
	cfg := map[string]any{
		"tools.attended_transfer": map[string]any{"enabled": true},
		"tools.transfer": map[string]any{
			"destinations": map[string]any{
				"support_agent": map[string]any{"type": "extension", "target": "6001", "attended_allowed": true},
			},
		},
	}
	ec := ExecutionContext{CallID: "call-1", CallerChannelID: "chan-1", SessionStore: store, ARIClient: ari, ConfigValue: configLookup(cfg)}

	// An originate response missing "id" is treated as a failed origination.
	ari.originate = map[string]any{}

	res := AttendedTransferTool{}.Execute(context.Background(), map[string]any{"destination": "support_agent"}, ec)
	assert.Equal(t, "failed", res.Status)

	sess, ok := store.Get("call-1")
	require.True(t, ok)
	assert.Equal(t, session.ActionNone, sess.CurrentAction.Kind)
}

func TestTransferResolvesCaseInsensitiveKeyAndContinues(t *testing.T) {
	ari := &fakeARI{}
	cfg := map[string]any{
		"tools.transfer": map[string]any{
			"destinations": map[string]any{
				"sales": map[string]any{"type": "extension", "target": "5000"},
			},
		},
	}
	ec := ExecutionContext{CallerChannelID: "chan-1", ARIClient: ari, ConfigValue: configLookup(cfg)}

	res := TransferTool{}.Execute(context.Background(), map[string]any{"destination": "Sales"}, ec)
	assert.Equal(t, "success", res.Status)
	require.Len(t, ari.calls, 1)
	assert.Equal(t, "channels/chan-1/continue", ari.calls[0].resource)
	assert.Equal(t, "5000", ari.calls[0].params["extension"])
}

func TestHangupBlocksUntilTranscriptOffered(t *testing.T) {
	store := session.NewStore()
	sess := session.NewCallSession("call-1", "chan-1", "bridge-1")
	sess.AppendHistory("user", "thanks, bye")
	store.UpsertCall(sess)

	cfg := map[string]any{
		"tools.request_transcript": map[string]any{"enabled": true},
	}
	ec := ExecutionContext{CallID: "call-1", SessionStore: store, ConfigValue: configLookup(cfg)}

	res := HangupCallTool{}.Execute(context.Background(), nil, ec)
	assert.Equal(t, "blocked", res.Status)
	assert.False(t, res.WillHangup)
	assert.True(t, res.AIShouldSpeak)
}

func TestHangupProceedsOnceTranscriptMentioned(t *testing.T) {
	store := session.NewStore()
	sess := session.NewCallSession("call-1", "chan-1", "bridge-1")
	sess.AppendHistory("assistant", "Would you like a transcript emailed to you?")
	sess.AppendHistory("user", "no thanks, bye")
	store.UpsertCall(sess)

	cfg := map[string]any{
		"tools.request_transcript": map[string]any{"enabled": true},
	}
	ec := ExecutionContext{CallID: "call-1", SessionStore: store, ConfigValue: configLookup(cfg)}

	res := HangupCallTool{}.Execute(context.Background(), map[string]any{"farewell_message": "Goodbye!"}, ec)
	assert.Equal(t, "success", res.Status)
	assert.True(t, res.WillHangup)

	updated, ok := store.Get("call-1")
	require.True(t, ok)
	assert.True(t, updated.CleanupAfterTTS)
}

func TestHangupBlocksPendingEmailConfirmation(t *testing.T) {
	store := session.NewStore()
	sess := session.NewCallSession("call-1", "chan-1", "bridge-1")
	sess.AppendHistory("assistant", "Is that correct?")
	sess.AppendHistory("user", "jane@example.com")
	store.UpsertCall(sess)

	ec := ExecutionContext{CallID: "call-1", SessionStore: store, ConfigValue: configLookup(nil)}

	res := HangupCallTool{}.Execute(context.Background(), nil, ec)
	assert.Equal(t, "blocked", res.Status)
}

func TestVoicemailWaitsGraceThenContinues(t *testing.T) {
	store := session.NewStore()
	store.UpsertCall(session.NewCallSession("call-1", "chan-1", "bridge-1"))

	ari := &fakeARI{}
	cfg := map[string]any{
		"tools.leave_voicemail": map[string]any{"enabled": true, "extension": "100"},
	}
	ec := ExecutionContext{CallID: "call-1", CallerChannelID: "chan-1", SessionStore: store, ARIClient: ari, ConfigValue: configLookup(cfg)}

	start := time.Now()
	res := VoicemailTool{}.Execute(context.Background(), nil, ec)
	elapsed := time.Since(start)

	assert.Equal(t, "success", res.Status)
	assert.GreaterOrEqual(t, elapsed, voicemailGraceDelay)
	require.Len(t, ari.calls, 1)
	assert.Equal(t, "vmu100", ari.calls[0].params["extension"])

	sess, ok := store.Get("call-1")
	require.True(t, ok)
	assert.True(t, sess.TransferActive)
}

func TestVoicemailFailsWhenNotConfigured(t *testing.T) {
	store := session.NewStore()
	store.UpsertCall(session.NewCallSession("call-1", "chan-1", "bridge-1"))
	ec := ExecutionContext{CallID: "call-1", SessionStore: store, ARIClient: &fakeARI{}, ConfigValue: configLookup(nil)}

	res := VoicemailTool{}.Execute(context.Background(), nil, ec)
	assert.Equal(t, "failed", res.Status)
}
