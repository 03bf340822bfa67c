package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/session"
)

// AttendedTransferTool implements §4.J's attended_transfer: caller goes to
// MOH, an agent leg is originated, and the engine (§4.K) waits for DTMF
// 1=accept/2=decline on the agent channel before bridging or resuming.
// Grounded on original_source/src/tools/telephony/attended_transfer.py.
type AttendedTransferTool struct{}

func (AttendedTransferTool) Definition() Definition {
	return Definition{
		Name: "attended_transfer",
		Description: "Warm transfer to a configured extension with a one-way announcement to the agent, " +
			"then DTMF acceptance (1=accept, 2=decline). Caller is placed on hold while the agent is contacted. " +
			"Use when you must brief a human before connecting the caller.",
		Category:           CategoryTelephony,
		RequiresChannel:    true,
		MaxExecutionTimeMS: 30_000,
		Parameters: []Parameter{
			{
				Name:        "destination",
				Type:        "string",
				Description: "Name of the configured destination to dial (must allow attended transfer). Example: 'support_agent'.",
				Required:    true,
			},
		},
	}
}

func (AttendedTransferTool) Execute(ctx context.Context, params map[string]any, ec ExecutionContext) Result {
	destination, _ := params["destination"].(string)
	if destination == "" {
		destination, _ = params["target"].(string)
	}
	if destination == "" {
		return Result{Status: "failed", Message: "Missing destination"}
	}

	cfg := ec.configMap("tools.attended_transfer")
	if enabled, _ := cfg["enabled"].(bool); !enabled {
		return Result{Status: "failed", Message: "Attended transfer is not enabled"}
	}

	transferCfg := ec.configMap("tools.transfer")
	destinations, _ := transferCfg["destinations"].(map[string]any)
	destination = strings.TrimSpace(destination)

	resolvedKey := resolveDestinationKey(destination, destinations, true)
	if resolvedKey == "" {
		return Result{Status: "failed", Message: fmt.Sprintf(
			"Unknown destination: %s. Use one of the configured destination keys.", destination)}
	}

	destCfg, _ := destinations[resolvedKey].(map[string]any)
	if destCfg["type"] != "extension" {
		return Result{Status: "failed", Message: "Attended transfer is only supported for extension destinations"}
	}
	attendedAllowed, _ := destCfg["attended_allowed"].(bool)
	if !attendedAllowed {
		return Result{Status: "failed", Message: "Attended transfer is not enabled for destination: " + resolvedKey}
	}

	extension := strings.TrimSpace(fmt.Sprint(destCfg["target"]))
	if extension == "" {
		return Result{Status: "failed", Message: "Invalid destination target for: " + resolvedKey}
	}
	description := resolvedKey
	if d, ok := destCfg["description"].(string); ok && d != "" {
		description = d
	}

	endpoint := dialEndpoint(extension, destCfg, transferCfg)
	dialTimeoutSec := 30
	if v, ok := cfg["dial_timeout_seconds"].(int); ok && v > 0 {
		dialTimeoutSec = v
	}
	mohClass := "default"
	if v, ok := cfg["moh_class"].(string); ok && v != "" {
		mohClass = v
	}

	sess, ok := ec.SessionStore.Get(ec.CallID)
	if !ok {
		return Result{Status: "error", Message: "no session for call"}
	}

	if _, err := ec.ARIClient.SendCommand(ctx, "POST", "channels/"+ec.CallerChannelID+"/moh",
		map[string]string{"mohClass": mohClass}, nil); err != nil {
		// Non-fatal: proceed with origination even if MOH failed to start.
		_ = err
	}

	sess.CurrentAction = session.CurrentAction{
		Kind:           session.ActionAttendedTransfer,
		DestinationKey: resolvedKey,
		Timestamps:     map[string]time.Time{"started_at": time.Now()},
	}
	sess.AudioCaptureEnabled = false
	ec.SessionStore.UpsertCall(sess)

	identity := ec.configMap("tools.ai_identity")
	callerID := aiCallerID(identity)

	result, err := ec.ARIClient.SendCommand(ctx, "POST", "channels", nil, map[string]any{
		"endpoint": endpoint,
		"callerId": callerID,
		"timeout":  dialTimeoutSec,
		"variables": map[string]any{
			"AGENT_ACTION":    "attended_transfer",
			"AGENT_CALL_ID":   ec.CallID,
			"AGENT_TARGET":    extension,
			"DESTINATION_KEY": resolvedKey,
		},
	})
	if err != nil || result == nil || result["id"] == nil {
		// Originate failed: stop MOH and clear the in-flight action.
		_, _ = ec.ARIClient.SendCommand(ctx, "DELETE", "channels/"+ec.CallerChannelID+"/moh", nil, nil)
		sess.CurrentAction = session.CurrentAction{Kind: session.ActionNone, Timestamps: map[string]time.Time{}}
		ec.SessionStore.UpsertCall(sess)
		return Result{Status: "failed", Message: "Unable to place the transfer call to " + description + "."}
	}

	agentChannelID, _ := result["id"].(string)
	sess, ok = ec.SessionStore.Get(ec.CallID)
	if ok && sess.CurrentAction.Kind == session.ActionAttendedTransfer {
		sess.CurrentAction.AgentChannelID = agentChannelID
		ec.SessionStore.UpsertCall(sess)
	}

	return Result{
		Status:        "success",
		Message:       "Please hold while I connect you to " + description + ".",
		AIShouldSpeak: true,
		Extra: map[string]any{
			"destination": resolvedKey,
			"type":        "attended_transfer",
		},
	}
}
