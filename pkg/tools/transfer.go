package tools

import (
	"context"
	"fmt"
	"strings"
)

// TransferTool implements §4.J's blind "transfer": resolve the destination
// against the same catalog attended_transfer uses, then leave Stasis into
// the dialplan extension via ARI continue. Grounded on
// original_source/src/tools/telephony/attended_transfer.py's destination
// resolution, generalized to the unqualified (non-attended) case the
// registry's "transfer_call"→"transfer" alias names.
type TransferTool struct{}

func (TransferTool) Definition() Definition {
	return Definition{
		Name: "transfer",
		Description: "Transfer the caller to a configured destination (extension, queue, or voicemail-style alias). " +
			"Use when the caller asks for a department, a specific person, or to be connected to a human without " +
			"needing a warm hand-off.",
		Category:           CategoryTelephony,
		RequiresChannel:    true,
		MaxExecutionTimeMS: 10_000,
		Parameters: []Parameter{
			{
				Name:        "destination",
				Type:        "string",
				Description: "Name of the configured destination to transfer to. Example: 'sales'.",
				Required:    true,
			},
		},
	}
}

func (TransferTool) Execute(ctx context.Context, params map[string]any, ec ExecutionContext) Result {
	destination, _ := params["destination"].(string)
	if destination == "" {
		destination, _ = params["target"].(string)
	}
	if destination == "" {
		return Result{Status: "failed", Message: "Missing destination"}
	}

	transferCfg := ec.configMap("tools.transfer")
	if enabled, ok := transferCfg["enabled"].(bool); ok && !enabled {
		return Result{Status: "failed", Message: "Transfer is not enabled"}
	}
	destinations, _ := transferCfg["destinations"].(map[string]any)

	resolvedKey := resolveDestinationKey(strings.TrimSpace(destination), destinations, false)
	if resolvedKey == "" {
		return Result{Status: "failed", Message: fmt.Sprintf("Unknown destination: %s.", destination)}
	}

	destCfg, _ := destinations[resolvedKey].(map[string]any)
	destType, _ := destCfg["type"].(string)
	description := resolvedKey
	if d, ok := destCfg["description"].(string); ok && d != "" {
		description = d
	}

	asteriskContext := "ext-local"
	if c, ok := destCfg["context"].(string); ok && c != "" {
		asteriskContext = c
	}
	extension := strings.TrimSpace(fmt.Sprint(destCfg["target"]))
	if extension == "" {
		return Result{Status: "failed", Message: "Invalid destination target for: " + resolvedKey}
	}

	_, err := ec.ARIClient.SendCommand(ctx, "POST", "channels/"+ec.CallerChannelID+"/continue", map[string]string{
		"context":   asteriskContext,
		"extension": extension,
		"priority":  "1",
	}, nil)
	if err != nil {
		return Result{Status: "failed", Message: "Unable to transfer to " + description + " at this time"}
	}

	_ = destType
	return Result{
		Status:        "success",
		Message:       "Transferring you to " + description + " now.",
		AIShouldSpeak: true,
		Extra: map[string]any{
			"destination": resolvedKey,
			"type":        "transfer",
		},
	}
}
