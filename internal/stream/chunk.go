// Package stream reconstructs normalized stream events from partial
// provider deltas. The three trackers are independent reducers fed every
// chunk in arrival order; Reducer wires them together for providers that
// speak OpenAI-style chat chunks.
package stream

import (
	"encoding/json"

	"modelrelay/internal/llm"
)

// ChatChunk is the normalized upstream delta the trackers consume. It is
// shaped after one OpenAI chat.completion.chunk choice: a provider-specific
// decoder fills in whichever fields the frame carried.
type ChatChunk struct {
	Content   string
	Reasoning string
	ToolCalls []ToolCallDelta

	Usage        *llm.Usage
	FinishReason llm.FinishReason
	Raw          json.RawMessage
}

// ToolCallDelta is one streamed fragment of a tool invocation, keyed by the
// provider-assigned index. ID and Name are only present on the first
// fragment for an index.
type ToolCallDelta struct {
	Index          int
	ID             string
	Name           string
	ArgumentsDelta string
}
