package relay

import (
	"encoding/json"
	"strings"

	"github.com/rs/zerolog"

	"modelrelay/internal/llm"
)

// SpawnToolName is the sub-agent spawn tool repaired calls are rewritten to.
const SpawnToolName = "spawn_agents"

const maxArgumentNesting = 3

// RepairToolCall rewrites a call whose tool name is actually a known agent
// identifier into a spawn-tool call. Returns the original call unchanged
// when no agent matches or the spawn tool is not in the active toolset.
func RepairToolCall(call *llm.ToolCall, req *llm.ModelRequest, log zerolog.Logger) (*llm.ToolCall, bool) {
	if !hasTool(req.Tools, SpawnToolName) {
		return call, false
	}
	agentID, ok := matchAgent(call.Name, req.SpawnableAgents, req.LocalAgents)
	if !ok {
		return call, false
	}

	prompt, params := splitArguments(call.Arguments)
	spawn := map[string]interface{}{"agent_type": agentID}
	if prompt != "" {
		spawn["prompt"] = prompt
	}
	if len(params) > 0 {
		spawn["params"] = params
	}
	arguments, err := json.Marshal(map[string]interface{}{
		"agents": []map[string]interface{}{spawn},
	})
	if err != nil {
		return call, false
	}

	log.Info().
		Str("tool_name", call.Name).
		Str("agent_id", agentID).
		Msg("Repaired unknown tool call into spawn call")

	return &llm.ToolCall{
		ID:        call.ID,
		Name:      SpawnToolName,
		Arguments: string(arguments),
	}, true
}

func hasTool(tools []llm.ToolDefinition, name string) bool {
	for _, tool := range tools {
		if tool.Function.Name == name {
			return true
		}
	}
	return false
}

// matchAgent resolves a tool name against agent identifiers by exact id,
// by short name, and by hyphen/underscore normalization. Local template
// keys are checked the same way.
func matchAgent(name string, spawnable, local []string) (string, bool) {
	for _, id := range spawnable {
		if name == id || name == shortName(id) || normalize(name) == normalize(shortName(id)) {
			return id, true
		}
	}
	for _, key := range local {
		if name == key || normalize(name) == normalize(key) {
			return key, true
		}
	}
	return "", false
}

// shortName strips a publisher prefix and a version suffix from a
// fully-qualified agent id, e.g. "codebuff/file-picker@1.0.0" becomes
// "file-picker".
func shortName(id string) string {
	if idx := strings.IndexByte(id, '/'); idx >= 0 {
		id = id[idx+1:]
	}
	if idx := strings.IndexByte(id, '@'); idx >= 0 {
		id = id[:idx]
	}
	return id
}

func normalize(name string) string {
	return strings.ReplaceAll(strings.ToLower(name), "_", "-")
}

// splitArguments deep-parses possibly doubly-encoded JSON arguments and
// separates the string prompt field from everything else.
func splitArguments(raw string) (prompt string, params map[string]interface{}) {
	parsed := deepParse(raw, maxArgumentNesting)
	object, ok := parsed.(map[string]interface{})
	if !ok {
		return "", nil
	}
	params = make(map[string]interface{}, len(object))
	for key, value := range object {
		if key == "prompt" {
			if s, ok := value.(string); ok {
				prompt = s
				continue
			}
		}
		params[key] = value
	}
	if len(params) == 0 {
		params = nil
	}
	return prompt, params
}

func deepParse(raw string, depth int) interface{} {
	var value interface{} = raw
	for i := 0; i < depth; i++ {
		s, ok := value.(string)
		if !ok {
			return value
		}
		var parsed interface{}
		if err := json.Unmarshal([]byte(s), &parsed); err != nil {
			return value
		}
		value = parsed
	}
	return value
}
