package stream

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modelrelay/internal/llm"
)

func collect() (*[]llm.StreamEvent, func(llm.StreamEvent)) {
	events := &[]llm.StreamEvent{}
	return events, func(ev llm.StreamEvent) { *events = append(*events, ev) }
}

func eventTypes(events []llm.StreamEvent) []llm.StreamEventType {
	types := make([]llm.StreamEventType, 0, len(events))
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	return types
}

func TestContentTrackerStartOnceAndMatchingEnd(t *testing.T) {
	events, emit := collect()
	tr := NewContentTracker(emit)

	tr.Process(&ChatChunk{Content: "Hel"})
	tr.Process(&ChatChunk{Content: "lo"})
	tr.Flush()

	assert.Equal(t, []llm.StreamEventType{
		llm.EventTextStart, llm.EventTextDelta, llm.EventTextDelta, llm.EventTextEnd,
	}, eventTypes(*events))

	// Same id on start, deltas and end.
	id := (*events)[0].ID
	require.NotEmpty(t, id)
	for _, ev := range *events {
		assert.Equal(t, id, ev.ID)
	}
}

func TestContentTrackerReasoningBeforeTextInSameChunk(t *testing.T) {
	events, emit := collect()
	tr := NewContentTracker(emit)

	tr.Process(&ChatChunk{Content: "answer", Reasoning: "because"})
	tr.Flush()

	assert.Equal(t, []llm.StreamEventType{
		llm.EventReasoningStart, llm.EventReasoningDelta,
		llm.EventTextStart, llm.EventTextDelta,
		llm.EventReasoningEnd, llm.EventTextEnd,
	}, eventTypes(*events))
}

func TestContentTrackerNewBlockAfterFlush(t *testing.T) {
	events, emit := collect()
	tr := NewContentTracker(emit)

	tr.Process(&ChatChunk{Content: "one"})
	tr.Flush()
	tr.Process(&ChatChunk{Content: "two"})
	tr.Flush()

	types := eventTypes(*events)
	assert.Equal(t, []llm.StreamEventType{
		llm.EventTextStart, llm.EventTextDelta, llm.EventTextEnd,
		llm.EventTextStart, llm.EventTextDelta, llm.EventTextEnd,
	}, types)
	assert.NotEqual(t, (*events)[0].ID, (*events)[3].ID, "each block gets a fresh id")
}

func TestToolCallTrackerSingleCompleteDelta(t *testing.T) {
	events, emit := collect()
	tr := NewToolCallTracker(emit, zerolog.Nop())

	err := tr.Process(&ChatChunk{ToolCalls: []ToolCallDelta{{
		Index: 0, ID: "call_1", Name: "read_files", ArgumentsDelta: `{"paths":["a.go"]}`,
	}}})
	require.NoError(t, err)

	assert.Equal(t, []llm.StreamEventType{
		llm.EventToolInputStart, llm.EventToolInputDelta, llm.EventToolInputEnd, llm.EventToolCall,
	}, eventTypes(*events))

	// A later delta for the same index must not re-complete the call.
	err = tr.Process(&ChatChunk{ToolCalls: []ToolCallDelta{{Index: 0, ArgumentsDelta: "garbage"}}})
	require.NoError(t, err)
	assert.Len(t, *events, 4, "finished accumulator is never resurrected")

	tr.Flush()
	assert.Len(t, *events, 4)
}

func TestToolCallTrackerFragmentedArguments(t *testing.T) {
	events, emit := collect()
	tr := NewToolCallTracker(emit, zerolog.Nop())

	require.NoError(t, tr.Process(&ChatChunk{ToolCalls: []ToolCallDelta{{Index: 0, ID: "call_1", Name: "run", ArgumentsDelta: `{"cmd":`}}}))
	require.NoError(t, tr.Process(&ChatChunk{ToolCalls: []ToolCallDelta{{Index: 0, ArgumentsDelta: `"ls"}`}}}))

	types := eventTypes(*events)
	assert.Equal(t, llm.EventToolCall, types[len(types)-1], "completes as soon as the buffer parses")

	var final *llm.ToolCall
	for _, ev := range *events {
		if ev.Type == llm.EventToolCall {
			final = ev.ToolCall
		}
	}
	require.NotNil(t, final)
	assert.Equal(t, `{"cmd":"ls"}`, final.Arguments)
	assert.Equal(t, "call_1", final.ID)
}

func TestToolCallTrackerFlushSubstitutesEmptyObject(t *testing.T) {
	events, emit := collect()
	tr := NewToolCallTracker(emit, zerolog.Nop())

	require.NoError(t, tr.Process(&ChatChunk{ToolCalls: []ToolCallDelta{{Index: 2, ID: "call_9", Name: "run", ArgumentsDelta: `{"broken`}}}))
	tr.Flush()

	var final *llm.ToolCall
	for _, ev := range *events {
		if ev.Type == llm.EventToolCall {
			final = ev.ToolCall
		}
	}
	require.NotNil(t, final)
	assert.Equal(t, "{}", final.Arguments)
}

func TestToolCallTrackerProtocolViolation(t *testing.T) {
	_, emit := collect()
	tr := NewToolCallTracker(emit, zerolog.Nop())

	err := tr.Process(&ChatChunk{ToolCalls: []ToolCallDelta{{Index: 0, ArgumentsDelta: `{}`}}})
	assert.Error(t, err, "first delta for an index must carry id and name")
}

func TestUsageTrackerLastWriteWins(t *testing.T) {
	var tr UsageTracker
	tr.Observe(&llm.Usage{InputTokens: 10})
	tr.Observe(&llm.Usage{InputTokens: 12, OutputTokens: 5})
	tr.Observe(nil)

	u := tr.Snapshot()
	assert.Equal(t, 12, u.InputTokens)
	assert.Equal(t, 5, u.OutputTokens)
	assert.Equal(t, 17, u.TotalTokens, "total derived when never reported")
}

func TestReducerFinishReason(t *testing.T) {
	t.Run("explicit reason wins", func(t *testing.T) {
		_, emit := collect()
		r := NewReducer(emit, zerolog.Nop())
		require.NoError(t, r.Feed(&ChatChunk{Content: "hi", FinishReason: llm.FinishLength}))
		_, reason := r.Close()
		assert.Equal(t, llm.FinishLength, reason)
	})

	t.Run("tool calls imply tool_calls", func(t *testing.T) {
		_, emit := collect()
		r := NewReducer(emit, zerolog.Nop())
		require.NoError(t, r.Feed(&ChatChunk{ToolCalls: []ToolCallDelta{{Index: 0, ID: "c", Name: "n", ArgumentsDelta: "{}"}}}))
		_, reason := r.Close()
		assert.Equal(t, llm.FinishToolCalls, reason)
	})

	t.Run("plain text implies stop", func(t *testing.T) {
		_, emit := collect()
		r := NewReducer(emit, zerolog.Nop())
		require.NoError(t, r.Feed(&ChatChunk{Content: "hi"}))
		_, reason := r.Close()
		assert.Equal(t, llm.FinishStop, reason)
	})
}
