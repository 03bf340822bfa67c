package tools

import (
	"context"
	"regexp"
	"strings"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/session"
)

var (
	affirmativeMarkers = []string{
		"yes", "yeah", "yep", "correct", "that's correct", "thats correct",
		"that's right", "thats right", "right", "exactly", "affirmative",
	}
	endCallMarkers = []string{
		"bye", "goodbye", "hang up", "hangup", "end the call", "end call",
		"that's all", "thats all", "nothing else", "no thanks", "no thank you",
		"i'm done", "im done", "all set",
	}
	emailishPattern = regexp.MustCompile(`@[a-z0-9.-]+\.[a-z]{2,}`)
	spokenEmailPattern = regexp.MustCompile(`\b[a-z]{2,}\.(com|net|org|io|co)\b`)
)

func normalize(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(text))), " ")
}

func containsAny(text string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(text, m) {
			return true
		}
	}
	return false
}

func looksLikeEmailish(text string) bool {
	t := normalize(text)
	if t == "" {
		return false
	}
	if strings.Contains(t, "@") {
		return emailishPattern.MatchString(t)
	}
	if strings.Contains(" "+t+" ", " at ") {
		return strings.Contains(" "+t+" ", " dot ") || spokenEmailPattern.MatchString(t)
	}
	return false
}

func isAffirmative(text string) bool {
	t := normalize(text)
	return t != "" && containsAny(t, affirmativeMarkers)
}

func isEndCallIntent(text string) bool {
	t := normalize(text)
	return t != "" && containsAny(t, endCallMarkers)
}

func assistantIsConfirmingContact(text string) bool {
	t := normalize(text)
	if t == "" {
		return false
	}
	if strings.Contains(t, "is that correct") || strings.Contains(t, "is that right") || strings.Contains(t, "did i get that") {
		return true
	}
	if strings.Contains(t, "email") && strings.HasSuffix(t, "?") {
		return true
	}
	if strings.Contains(t, "email address") && (strings.Contains(t, "confirm") || strings.Contains(t, "correct")) {
		return true
	}
	return false
}

// HangupCallTool implements §4.J's hangup_call: speaks a farewell and marks
// the session so the engine hangs up once the farewell audio finishes, with
// two provider-agnostic guardrails blocking premature hangup while a
// transcript offer or contact-info confirmation is pending. Grounded on
// original_source/src/tools/telephony/hangup.py.
type HangupCallTool struct{}

func (HangupCallTool) Definition() Definition {
	return Definition{
		Name: "hangup_call",
		Description: "End the current call with a farewell message. Use this when the caller says goodbye, " +
			"thanks you and has nothing else, or the conversation has naturally concluded. Only call this when " +
			"you are confident the caller wants to end the call.",
		Category:           CategoryTelephony,
		RequiresChannel:    true,
		MaxExecutionTimeMS: 5_000,
		Parameters: []Parameter{
			{
				Name:        "farewell_message",
				Type:        "string",
				Description: "Farewell message to speak before hanging up. Should be warm and professional.",
				Required:    false,
			},
		},
	}
}

func (HangupCallTool) Execute(ctx context.Context, params map[string]any, ec ExecutionContext) Result {
	farewell, _ := params["farewell_message"].(string)
	if farewell == "" {
		farewell = "Thank you for calling. Goodbye!"
		if v := ec.ConfigValue; v != nil {
			if s, ok := v("tools.hangup_call.farewell_message").(string); ok && s != "" {
				farewell = s
			}
		}
	}

	if sess, ok := ec.SessionStore.Get(ec.CallID); ok {
		lastUser, lastAssistant := lastTurnsByRole(sess.ConversationHistory)

		transcriptCfg := ec.configMap("tools.request_transcript")
		transcriptEnabled, _ := transcriptCfg["enabled"].(bool)
		if transcriptEnabled && isEndCallIntent(lastUser) {
			recent := recentHistoryText(sess.ConversationHistory, 10)
			if !strings.Contains(strings.ToLower(recent), "transcript") {
				return Result{
					Status:        "blocked",
					Message:       "Before we hang up, would you like me to email you a transcript of our conversation?",
					WillHangup:    false,
					AIShouldSpeak: true,
				}
			}
		}

		pendingContactConfirmation := looksLikeEmailish(lastUser) &&
			!isAffirmative(lastUser) &&
			assistantIsConfirmingContact(lastAssistant) &&
			!isEndCallIntent(lastUser)
		if pendingContactConfirmation {
			return Result{
				Status: "blocked",
				Message: "Before we hang up, I just need to confirm the email address for the transcript. " +
					"Could you please confirm if that's correct?",
				WillHangup:    false,
				AIShouldSpeak: true,
			}
		}

		sess.CleanupAfterTTS = true
		ec.SessionStore.UpsertCall(sess)
	}

	return Result{
		Status:     "success",
		Message:    farewell,
		WillHangup: true,
	}
}

func lastTurnsByRole(history []session.HistoryEntry) (lastUser, lastAssistant string) {
	for i := len(history) - 1; i >= 0; i-- {
		h := history[i]
		if lastUser == "" && h.Role == "user" && strings.TrimSpace(h.Content) != "" {
			lastUser = h.Content
		}
		if lastAssistant == "" && h.Role == "assistant" && strings.TrimSpace(h.Content) != "" {
			lastAssistant = h.Content
		}
		if lastUser != "" && lastAssistant != "" {
			break
		}
	}
	return lastUser, lastAssistant
}

func recentHistoryText(history []session.HistoryEntry, lastN int) string {
	start := len(history) - lastN
	if start < 0 {
		start = 0
	}
	var b strings.Builder
	for _, h := range history[start:] {
		if h.Role == "user" || h.Role == "assistant" {
			b.WriteString(h.Content)
			b.WriteString(" ")
		}
	}
	return b.String()
}
