package tools

import (
	"context"
	"time"
)

// voicemailGraceDelay lets in-flight TTS clear the RTP path before the
// channel leaves Stasis; without it, FreePBX's VoiceMail app stalls its
// greeting for several seconds waiting for the first voice-activity burst.
// See original_source/src/tools/telephony/voicemail.py's timeline note.
const voicemailGraceDelay = 800 * time.Millisecond

// VoicemailTool implements §4.J's voicemail: marks the session
// transfer_active, waits out the grace delay, then leaves Stasis into the
// switch's voicemail dialplan extension via ARI continue. Grounded on
// original_source/src/tools/telephony/voicemail.py.
type VoicemailTool struct{}

func (VoicemailTool) Definition() Definition {
	return Definition{
		Name:               "leave_voicemail",
		Description:        "Send the caller to voicemail so they can leave a message.",
		Category:           CategoryTelephony,
		RequiresChannel:    true,
		MaxExecutionTimeMS: 15_000,
	}
}

func (VoicemailTool) Execute(ctx context.Context, params map[string]any, ec ExecutionContext) Result {
	cfg := ec.configMap("tools.leave_voicemail")
	if enabled, _ := cfg["enabled"].(bool); !enabled {
		return Result{Status: "failed", Message: "Voicemail is not available"}
	}
	extension, _ := cfg["extension"].(string)
	if extension == "" {
		return Result{Status: "failed", Message: "Voicemail is not configured properly"}
	}

	sess, ok := ec.SessionStore.Get(ec.CallID)
	if ok {
		sess.TransferActive = true
		ec.SessionStore.UpsertCall(sess)
	}

	select {
	case <-time.After(voicemailGraceDelay):
	case <-ctx.Done():
		return Result{Status: "failed", Message: "Voicemail transfer cancelled"}
	}

	_, err := ec.ARIClient.SendCommand(ctx, "POST", "channels/"+ec.CallerChannelID+"/continue", map[string]string{
		"context":   "ext-local",
		"extension": "vmu" + extension,
		"priority":  "1",
	}, nil)
	if err != nil {
		if ok {
			sess.TransferActive = false
			ec.SessionStore.UpsertCall(sess)
		}
		return Result{Status: "failed", Message: "Unable to transfer to voicemail at this time"}
	}

	return Result{
		Status:        "success",
		Message:       "Are you ready to leave a message now?",
		AIShouldSpeak: true,
	}
}
