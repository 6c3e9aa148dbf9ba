package codex

import (
	"encoding/json"
	"fmt"

	"modelrelay/internal/llm"
	"modelrelay/internal/stream"
)

// event is one decoded Codex SSE frame. Only the fields the decoder reads
// are modeled; unknown fields are ignored.
type event struct {
	Type           string `json:"type"`
	Delta          string `json:"delta"`
	ItemID         string `json:"item_id"`
	SequenceNumber int64  `json:"sequence_number"`
	Item           *struct {
		Type   string `json:"type"`
		ID     string `json:"id"`
		CallID string `json:"call_id"`
		Name   string `json:"name"`
	} `json:"item"`
	Response *struct {
		ID    string `json:"id"`
		Usage *struct {
			InputTokens        int `json:"input_tokens"`
			OutputTokens       int `json:"output_tokens"`
			TotalTokens        int `json:"total_tokens"`
			InputTokensDetails *struct {
				CachedTokens int `json:"cached_tokens"`
			} `json:"input_tokens_details"`
		} `json:"usage"`
	} `json:"response"`
}

// Decoder translates Codex SSE events into normalized chat chunks. The
// tool-call cursor advances monotonically once per completed function-call
// event; it is scoped to one request and discarded after.
type Decoder struct {
	responseID string

	currentID    string
	currentIndex int
	sawToolCalls bool
}

// NewDecoder creates a per-request decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// ResponseID returns the upstream response id once response.created has
// been seen.
func (d *Decoder) ResponseID() string {
	return d.responseID
}

// SawToolCalls reports whether any function-call output item was observed.
func (d *Decoder) SawToolCalls() bool {
	return d.sawToolCalls
}

// Decode translates one SSE data payload. A nil chunk with nil error means
// the event type carries nothing for downstream consumers.
func (d *Decoder) Decode(data []byte) (*stream.ChatChunk, error) {
	var evt event
	if err := json.Unmarshal(data, &evt); err != nil {
		return nil, fmt.Errorf("invalid upstream event: %w", err)
	}

	switch {
	case evt.Type == "response.created":
		if evt.Response != nil {
			d.responseID = evt.Response.ID
		}
		return nil, nil

	case evt.Type == "response.output_text.delta":
		if evt.Delta == "" {
			return nil, nil
		}
		return &stream.ChatChunk{Content: evt.Delta}, nil

	case isReasoningDelta(evt.Type):
		if evt.Delta == "" {
			return nil, nil
		}
		return &stream.ChatChunk{Reasoning: evt.Delta}, nil

	case evt.Type == "response.output_item.added":
		if evt.Item == nil || evt.Item.Type != "function_call" {
			return nil, nil
		}
		callID := evt.Item.CallID
		if callID == "" {
			// Some captures omit call_id on the added event; fall back to a
			// synthetic id derived from the item id.
			callID = "call_" + evt.Item.ID
		}
		d.currentID = callID
		d.sawToolCalls = true
		return &stream.ChatChunk{ToolCalls: []stream.ToolCallDelta{{
			Index: d.currentIndex,
			ID:    callID,
			Name:  evt.Item.Name,
		}}}, nil

	case evt.Type == "response.function_call_arguments.delta":
		if d.currentID == "" {
			return nil, nil
		}
		return &stream.ChatChunk{ToolCalls: []stream.ToolCallDelta{{
			Index:          d.currentIndex,
			ArgumentsDelta: evt.Delta,
		}}}, nil

	case evt.Type == "response.function_call_arguments.done":
		// Arguments were already streamed; just advance the cursor.
		if d.currentID != "" {
			d.currentID = ""
			d.currentIndex++
		}
		return nil, nil

	case evt.Type == "response.completed" || evt.Type == "response.done":
		chunk := &stream.ChatChunk{FinishReason: llm.FinishStop}
		if d.sawToolCalls {
			chunk.FinishReason = llm.FinishToolCalls
		}
		if evt.Response != nil && evt.Response.Usage != nil {
			u := evt.Response.Usage
			usage := &llm.Usage{
				InputTokens:  u.InputTokens,
				OutputTokens: u.OutputTokens,
				TotalTokens:  u.TotalTokens,
			}
			if u.InputTokensDetails != nil {
				usage.CachedInputTokens = u.InputTokensDetails.CachedTokens
			}
			chunk.Usage = usage
		}
		return chunk, nil

	default:
		return nil, nil
	}
}

func isReasoningDelta(eventType string) bool {
	const prefix = "response.reasoning"
	if len(eventType) < len(prefix) || eventType[:len(prefix)] != prefix {
		return false
	}
	return len(eventType) > 6 && eventType[len(eventType)-6:] == ".delta"
}
