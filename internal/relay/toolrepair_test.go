package relay

import (
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modelrelay/internal/llm"
)

func spawnRequest(spawnable, local []string) *llm.ModelRequest {
	return &llm.ModelRequest{
		Tools:           []llm.ToolDefinition{{Type: "function", Function: llm.FunctionDefinition{Name: SpawnToolName}}},
		SpawnableAgents: spawnable,
		LocalAgents:     local,
	}
}

type spawnArgs struct {
	Agents []struct {
		AgentType string                 `json:"agent_type"`
		Prompt    string                 `json:"prompt"`
		Params    map[string]interface{} `json:"params"`
	} `json:"agents"`
}

func parseSpawnArgs(t *testing.T, raw string) spawnArgs {
	t.Helper()
	var args spawnArgs
	require.NoError(t, json.Unmarshal([]byte(raw), &args))
	require.Len(t, args.Agents, 1)
	return args
}

func TestRepairToolCallShortNameMatch(t *testing.T) {
	call := &llm.ToolCall{
		ID:        "call_1",
		Name:      "file_picker",
		Arguments: `{"timeout":5,"prompt":"find the entry point"}`,
	}
	repaired, ok := RepairToolCall(call, spawnRequest([]string{"codebuff/file-picker@1.0.0"}, nil), zerolog.Nop())
	require.True(t, ok)
	assert.Equal(t, SpawnToolName, repaired.Name)
	assert.Equal(t, "call_1", repaired.ID)

	args := parseSpawnArgs(t, repaired.Arguments)
	assert.Equal(t, "codebuff/file-picker@1.0.0", args.Agents[0].AgentType)
	assert.Equal(t, "find the entry point", args.Agents[0].Prompt)
	assert.Equal(t, map[string]interface{}{"timeout": float64(5)}, args.Agents[0].Params)
	assert.NotContains(t, args.Agents[0].Params, "prompt")
}

func TestRepairToolCallExactIDMatch(t *testing.T) {
	call := &llm.ToolCall{ID: "c", Name: "codebuff/reviewer@2.1.0", Arguments: `{}`}
	repaired, ok := RepairToolCall(call, spawnRequest([]string{"codebuff/reviewer@2.1.0"}, nil), zerolog.Nop())
	require.True(t, ok)
	args := parseSpawnArgs(t, repaired.Arguments)
	assert.Equal(t, "codebuff/reviewer@2.1.0", args.Agents[0].AgentType)
	assert.Empty(t, args.Agents[0].Prompt)
	assert.Nil(t, args.Agents[0].Params)
}

func TestRepairToolCallLocalAgentMatch(t *testing.T) {
	call := &llm.ToolCall{ID: "c", Name: "docs_writer", Arguments: `{"prompt":"write docs"}`}
	repaired, ok := RepairToolCall(call, spawnRequest(nil, []string{"docs-writer"}), zerolog.Nop())
	require.True(t, ok)
	args := parseSpawnArgs(t, repaired.Arguments)
	assert.Equal(t, "docs-writer", args.Agents[0].AgentType)
}

func TestRepairToolCallDoublyEncodedArguments(t *testing.T) {
	inner, err := json.Marshal(map[string]interface{}{"prompt": "dig in", "depth": 2})
	require.NoError(t, err)
	outer, err := json.Marshal(string(inner))
	require.NoError(t, err)

	call := &llm.ToolCall{ID: "c", Name: "file-picker", Arguments: string(outer)}
	repaired, ok := RepairToolCall(call, spawnRequest([]string{"codebuff/file-picker@1.0.0"}, nil), zerolog.Nop())
	require.True(t, ok)

	args := parseSpawnArgs(t, repaired.Arguments)
	assert.Equal(t, "dig in", args.Agents[0].Prompt)
	assert.Equal(t, map[string]interface{}{"depth": float64(2)}, args.Agents[0].Params)
}

func TestRepairToolCallNoMatchReturnsOriginal(t *testing.T) {
	call := &llm.ToolCall{ID: "c", Name: "unrelated_tool", Arguments: `{}`}
	repaired, ok := RepairToolCall(call, spawnRequest([]string{"codebuff/file-picker@1.0.0"}, nil), zerolog.Nop())
	assert.False(t, ok)
	assert.Same(t, call, repaired)
}

func TestRepairToolCallNoSpawnToolReturnsOriginal(t *testing.T) {
	call := &llm.ToolCall{ID: "c", Name: "file-picker", Arguments: `{}`}
	req := &llm.ModelRequest{SpawnableAgents: []string{"codebuff/file-picker@1.0.0"}}
	repaired, ok := RepairToolCall(call, req, zerolog.Nop())
	assert.False(t, ok)
	assert.Same(t, call, repaired)
}

func TestCredits(t *testing.T) {
	t.Run("margin applied and rounded", func(t *testing.T) {
		credits := Credits(&llm.ResponseMetadata{CostUSD: 1.00}, 0.3)
		assert.Equal(t, 130, credits)
	})

	t.Run("upstream inference cost included", func(t *testing.T) {
		credits := Credits(&llm.ResponseMetadata{CostUSD: 0.5, UpstreamInferenceCostUSD: 0.5}, 0.3)
		assert.Equal(t, 130, credits)
	})

	t.Run("zero cost is zero credits", func(t *testing.T) {
		assert.Zero(t, Credits(&llm.ResponseMetadata{}, 0.3))
		assert.Zero(t, Credits(nil, 0.3))
	})

	t.Run("rounds to nearest credit", func(t *testing.T) {
		assert.Equal(t, 1, Credits(&llm.ResponseMetadata{CostUSD: 0.011}, 0))
		assert.Equal(t, 2, Credits(&llm.ResponseMetadata{CostUSD: 0.016}, 0))
	})
}
