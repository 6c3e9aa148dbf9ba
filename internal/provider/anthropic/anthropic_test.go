package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modelrelay/internal/llm"
)

func TestMergeBetaHeader(t *testing.T) {
	t.Run("empty header gets the required set", func(t *testing.T) {
		merged := MergeBetaHeader("")
		assert.Equal(t, "oauth-2025-04-20,claude-code-20250219,interleaved-thinking-2025-05-14,fine-grained-tool-streaming-2025-05-14", merged)
	})

	t.Run("existing tokens are kept first and deduplicated", func(t *testing.T) {
		merged := MergeBetaHeader("custom-beta, oauth-2025-04-20")
		assert.Equal(t, "custom-beta,oauth-2025-04-20,claude-code-20250219,interleaved-thinking-2025-05-14,fine-grained-tool-streaming-2025-05-14", merged)
	})
}

func TestBuildRequestBodySystemBlocks(t *testing.T) {
	body := BuildRequestBody(&llm.ModelRequest{
		ModelID: "anthropic/claude-sonnet-4",
		Messages: []llm.ChatMessage{
			{Role: llm.RoleSystem, Content: "Answer in French."},
			{Role: llm.RoleUser, Content: "bonjour"},
		},
	})
	assert.Equal(t, "claude-sonnet-4", body["model"])

	blocks, ok := body["system"].([]systemBlock)
	require.True(t, ok)
	require.Len(t, blocks, 2)
	assert.Equal(t, identitySystemText, blocks[0].Text)
	assert.Equal(t, "Answer in French.", blocks[1].Text)

	messages, ok := body["messages"].([]wireMessage)
	require.True(t, ok)
	require.Len(t, messages, 1)
	assert.Equal(t, "user", messages[0].Role)
}

func TestBuildRequestBodyNoCallerSystem(t *testing.T) {
	body := BuildRequestBody(&llm.ModelRequest{
		ModelID:  "claude-sonnet-4",
		Messages: []llm.ChatMessage{{Role: llm.RoleUser, Content: "hi"}},
	})
	blocks := body["system"].([]systemBlock)
	require.Len(t, blocks, 1)
	assert.Equal(t, identitySystemText, blocks[0].Text)
	assert.Equal(t, defaultMaxTokens, body["max_tokens"])
}

func TestBuildMessagesToolFlow(t *testing.T) {
	messages := buildMessages([]llm.ChatMessage{
		{
			Role:    llm.RoleAssistant,
			Content: "checking",
			ToolCalls: []llm.ToolCall{
				{ID: "toolu_1", Name: "read_files", Arguments: `{"paths":["a"]}`},
			},
		},
		{Role: llm.RoleTool, ToolCallID: "toolu_1", Content: "contents"},
	})
	require.Len(t, messages, 2)

	require.Len(t, messages[0].Content, 2)
	assert.Equal(t, "text", messages[0].Content[0].Type)
	assert.Equal(t, "tool_use", messages[0].Content[1].Type)
	assert.Equal(t, "toolu_1", messages[0].Content[1].ID)

	assert.Equal(t, "user", messages[1].Role)
	assert.Equal(t, "tool_result", messages[1].Content[0].Type)
	assert.Equal(t, "toolu_1", messages[1].Content[0].ToolUseID)
}

func TestRewriteSystemField(t *testing.T) {
	t.Run("string system becomes two blocks", func(t *testing.T) {
		out := RewriteSystemField([]byte(`{"model":"claude-sonnet-4","system":"be terse"}`))
		var body struct {
			System []systemBlock `json:"system"`
		}
		require.NoError(t, json.Unmarshal(out, &body))
		require.Len(t, body.System, 2)
		assert.Equal(t, identitySystemText, body.System[0].Text)
		assert.Equal(t, "be terse", body.System[1].Text)
	})

	t.Run("unparseable body passes through unchanged", func(t *testing.T) {
		raw := []byte(`{"model": truncated`)
		assert.Equal(t, raw, RewriteSystemField(raw))
	})

	t.Run("identity block is not duplicated", func(t *testing.T) {
		in, err := json.Marshal(map[string]interface{}{"system": systemBlocks("extra")})
		require.NoError(t, err)
		out := RewriteSystemField(in)
		var body struct {
			System []systemBlock `json:"system"`
		}
		require.NoError(t, json.Unmarshal(out, &body))
		require.Len(t, body.System, 2)
		assert.Equal(t, "extra", body.System[1].Text)
	})
}

func decodeAll(t *testing.T, frames []string) []llm.StreamEvent {
	t.Helper()
	var events []llm.StreamEvent
	d := NewDecoder(func(ev llm.StreamEvent) { events = append(events, ev) }, zerolog.Nop())
	for _, frame := range frames {
		require.NoError(t, d.Decode([]byte(frame)))
	}
	usage, reason := d.Finish()
	events = append(events, llm.StreamEvent{Type: llm.EventFinish, FinishReason: reason, Usage: &usage})
	return events
}

func TestDecoderTextStream(t *testing.T) {
	events := decodeAll(t, []string{
		`{"type":"message_start","message":{"id":"msg_1","model":"claude-sonnet-4","usage":{"input_tokens":12,"cache_read_input_tokens":4}}}`,
		`{"type":"content_block_start","index":0,"content_block":{"type":"text"}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Bonjour"}}`,
		`{"type":"content_block_stop","index":0}`,
		`{"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":3}}`,
		`{"type":"message_stop"}`,
	})

	types := make([]llm.StreamEventType, 0, len(events))
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []llm.StreamEventType{
		llm.EventTextStart, llm.EventTextDelta, llm.EventTextEnd, llm.EventFinish,
	}, types)

	finish := events[len(events)-1]
	assert.Equal(t, llm.FinishStop, finish.FinishReason)
	assert.Equal(t, 12, finish.Usage.InputTokens)
	assert.Equal(t, 3, finish.Usage.OutputTokens)
	assert.Equal(t, 4, finish.Usage.CachedInputTokens)
}

func TestDecoderThinkingAndToolUse(t *testing.T) {
	events := decodeAll(t, []string{
		`{"type":"content_block_start","index":0,"content_block":{"type":"thinking"}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"thinking_delta","thinking":"plan"}}`,
		`{"type":"content_block_stop","index":0}`,
		`{"type":"content_block_start","index":1,"content_block":{"type":"tool_use","id":"toolu_9","name":"run"}}`,
		`{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"cmd\":"}}`,
		`{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"\"ls\"}"}}`,
		`{"type":"content_block_stop","index":1}`,
		`{"type":"message_delta","delta":{"stop_reason":"tool_use"}}`,
	})

	var call *llm.ToolCall
	for _, ev := range events {
		if ev.Type == llm.EventToolCall {
			call = ev.ToolCall
		}
	}
	require.NotNil(t, call)
	assert.Equal(t, "toolu_9", call.ID)
	assert.Equal(t, "run", call.Name)
	assert.Equal(t, `{"cmd":"ls"}`, call.Arguments)

	assert.Equal(t, llm.EventReasoningStart, events[0].Type)
	assert.Equal(t, llm.EventReasoningDelta, events[1].Type)
	assert.Equal(t, llm.EventReasoningEnd, events[2].Type)
	assert.Equal(t, llm.FinishToolCalls, events[len(events)-1].FinishReason)
}

func TestDecoderUnparseableToolArgumentsFallBack(t *testing.T) {
	events := decodeAll(t, []string{
		`{"type":"content_block_start","index":0,"content_block":{"type":"tool_use","id":"toolu_1","name":"run"}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"{\"broken"}}`,
	})
	var call *llm.ToolCall
	for _, ev := range events {
		if ev.Type == llm.EventToolCall {
			call = ev.ToolCall
		}
	}
	require.NotNil(t, call)
	assert.Equal(t, "{}", call.Arguments)
}

func TestDecoderErrorEvent(t *testing.T) {
	d := NewDecoder(func(llm.StreamEvent) {}, zerolog.Nop())
	err := d.Decode([]byte(`{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`))
	require.Error(t, err)
	assert.True(t, llm.IsRateLimitError(err))
}

func TestModelStreamHeaders(t *testing.T) {
	var gotAuth, gotBeta, gotAPIKey string
	var gotBody map[string]json.RawMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotBeta = r.Header.Get("anthropic-beta")
		gotAPIKey = r.Header.Get("x-api-key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "text/event-stream")
		frames := []string{
			`{"type":"message_start","message":{"id":"msg_2","model":"claude-sonnet-4","usage":{"input_tokens":5}}}`,
			`{"type":"content_block_start","index":0,"content_block":{"type":"text"}}`,
			`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hi"}}`,
			`{"type":"content_block_stop","index":0}`,
			`{"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":1}}`,
			`{"type":"message_stop"}`,
		}
		for _, f := range frames {
			fmt.Fprintf(w, "data: %s\n\n", f)
		}
	}))
	defer srv.Close()

	model := NewModel(srv.URL, "oauth-token", srv.Client(), zerolog.Nop())
	events, err := model.Stream(context.Background(), &llm.ModelRequest{
		ModelID:  "anthropic/claude-sonnet-4",
		Messages: []llm.ChatMessage{{Role: llm.RoleUser, Content: "hello"}},
	})
	require.NoError(t, err)

	var text string
	var metadata *llm.ResponseMetadata
	for ev := range events {
		switch ev.Type {
		case llm.EventTextDelta:
			text += ev.Delta
		case llm.EventResponseMetadata:
			metadata = ev.Metadata
		}
	}

	assert.Equal(t, "Bearer oauth-token", gotAuth)
	assert.Contains(t, gotBeta, "oauth-2025-04-20")
	assert.Empty(t, gotAPIKey)
	assert.Contains(t, gotBody, "system")
	assert.Equal(t, "Hi", text)
	require.NotNil(t, metadata)
	assert.Equal(t, Provider, metadata.Provider)
	assert.Equal(t, "msg_2", metadata.ResponseID)
	assert.Zero(t, metadata.CostUSD)
}

func TestFetchQuotaResetTime(t *testing.T) {
	fiveHourReset := time.Now().Add(30 * time.Minute).UTC().Truncate(time.Second)
	sevenDayReset := time.Now().Add(48 * time.Hour).UTC().Truncate(time.Second)

	t.Run("picks the more utilized window", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
			json.NewEncoder(w).Encode(map[string]interface{}{
				"five_hour": map[string]interface{}{"utilization": 0.95, "resets_at": fiveHourReset},
				"seven_day": map[string]interface{}{"utilization": 0.40, "resets_at": sevenDayReset},
			})
		}))
		defer srv.Close()

		resetAt, err := FetchQuotaResetTime(context.Background(), srv.Client(), srv.URL, "tok")
		require.NoError(t, err)
		assert.True(t, resetAt.Equal(fiveHourReset))
	})

	t.Run("seven day window wins when more constrained", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]interface{}{
				"five_hour": map[string]interface{}{"utilization": 0.10, "resets_at": fiveHourReset},
				"seven_day": map[string]interface{}{"utilization": 0.99, "resets_at": sevenDayReset},
			})
		}))
		defer srv.Close()

		resetAt, err := FetchQuotaResetTime(context.Background(), srv.Client(), srv.URL, "tok")
		require.NoError(t, err)
		assert.True(t, resetAt.Equal(sevenDayReset))
	})

	t.Run("non-200 is an error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		}))
		defer srv.Close()

		_, err := FetchQuotaResetTime(context.Background(), srv.Client(), srv.URL, "tok")
		assert.Error(t, err)
	})
}
