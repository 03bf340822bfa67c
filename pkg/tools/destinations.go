package tools

import (
	"fmt"
	"strings"
)

// destinationAliasMap is the illustrative shorthand table from
// original_source/src/tools/telephony/attended_transfer.py. §9 Open
// Questions (b) treats the source's alias map as an example, not an
// authoritative contract, so this is intentionally small and easy to
// extend from config rather than hard-coded exhaustively.
var destinationAliasMap = map[string][]string{
	"sales":       {"sales"},
	"support":     {"support", "tech"},
	"agent":       {"agent", "human", "representative", "rep", "person", "operator"},
	"human":       {"agent", "human", "representative", "rep", "person", "operator"},
	"real person": {"agent", "human", "representative", "rep", "person", "operator"},
	"live agent":  {"agent", "human", "representative", "rep", "person", "operator"},
}

// resolveDestinationKey matches a caller/model-supplied destination string
// against the configured destination catalog: exact key, case-insensitive
// key, target extension, or alias/description substring match. Returns ""
// if no unambiguous match exists.
func resolveDestinationKey(userValue string, destinations map[string]any, requireAttended bool) string {
	if _, ok := destinations[userValue]; ok {
		return userValue
	}
	raw := strings.TrimSpace(userValue)
	if raw == "" {
		return ""
	}
	rawLower := strings.ToLower(raw)

	for key := range destinations {
		if strings.ToLower(key) == rawLower {
			return key
		}
	}

	candidates := destinations
	if requireAttended {
		candidates = make(map[string]any)
		for k, v := range destinations {
			cfg, ok := v.(map[string]any)
			if !ok || cfg["type"] != "extension" {
				continue
			}
			if attended, _ := cfg["attended_allowed"].(bool); attended {
				candidates[k] = v
			}
		}
	}

	for key, v := range candidates {
		cfg, ok := v.(map[string]any)
		if !ok {
			continue
		}
		target := strings.TrimSpace(fmt.Sprint(cfg["target"]))
		if target != "" && (raw == target || strings.EqualFold(raw, target)) {
			return key
		}
	}

	var matches []string
	for key, v := range candidates {
		cfg, _ := v.(map[string]any)
		keyLower := strings.ToLower(key)
		descLower := ""
		if cfg != nil {
			descLower = strings.ToLower(fmt.Sprint(cfg["description"]))
		}
		if strings.Contains(keyLower, rawLower) || (descLower != "" && strings.Contains(descLower, rawLower)) {
			matches = append(matches, key)
		}
	}

	if len(matches) == 0 {
		if tokens, ok := destinationAliasMap[rawLower]; ok {
			for key, v := range candidates {
				cfg, _ := v.(map[string]any)
				keyLower := strings.ToLower(key)
				descLower := ""
				if cfg != nil {
					descLower = strings.ToLower(fmt.Sprint(cfg["description"]))
				}
				for _, tok := range tokens {
					if strings.Contains(keyLower, tok) || (descLower != "" && strings.Contains(descLower, tok)) {
						matches = append(matches, key)
						break
					}
				}
			}
		}
	}

	switch len(matches) {
	case 1:
		return matches[0]
	case 0:
		return ""
	default:
		var preferred []string
		for _, m := range matches {
			if strings.HasSuffix(strings.ToLower(m), "_agent") {
				preferred = append(preferred, m)
			}
		}
		if len(preferred) == 1 {
			return preferred[0]
		}
		return ""
	}
}

// dialEndpoint resolves the ARI originate endpoint string for a
// destination, preferring an explicit dial_string override, then falling
// back to "<technology>/<extension>" (default technology PJSIP).
func dialEndpoint(extension string, destCfg map[string]any, transferCfg map[string]any) string {
	if ds, ok := destCfg["dial_string"].(string); ok && ds != "" {
		return ds
	}
	technology := "PJSIP"
	if transferCfg != nil {
		if t, ok := transferCfg["technology"].(string); ok && t != "" {
			technology = t
		}
	}
	return technology + "/" + extension
}

// aiCallerID builds the caller-id string used when originating an agent
// leg, e.g. `"AI Agent" <6789>`.
func aiCallerID(identity map[string]any) string {
	name := "AI Agent"
	number := "6789"
	if identity != nil {
		if n, ok := identity["name"].(string); ok && n != "" {
			name = n
		}
		if n, ok := identity["number"].(string); ok && n != "" {
			number = n
		}
	}
	return fmt.Sprintf("%q <%s>", name, number)
}
