package backend

import (
	"encoding/json"

	"modelrelay/internal/llm"
	"modelrelay/internal/stream"
)

// chatChunk is one chat.completion.chunk frame. Usage arrives on a final
// usage-only frame when stream_options.include_usage is set; marketplace
// backends extend it with dollar cost fields.
type chatChunk struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Content          string `json:"content"`
			Reasoning        string `json:"reasoning"`
			ReasoningContent string `json:"reasoning_content"`
			ToolCalls        []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *chunkUsage `json:"usage"`
}

type chunkUsage struct {
	PromptTokens        int `json:"prompt_tokens"`
	CompletionTokens    int `json:"completion_tokens"`
	TotalTokens         int `json:"total_tokens"`
	PromptTokensDetails struct {
		CachedTokens int `json:"cached_tokens"`
	} `json:"prompt_tokens_details"`
	Cost        float64 `json:"cost"`
	CostDetails struct {
		UpstreamInferenceCost float64 `json:"upstream_inference_cost"`
	} `json:"cost_details"`
}

// Decoder translates chat-completions SSE frames into normalized chunks and
// remembers the response id, model, and cost fields for the final metadata.
type Decoder struct {
	responseID            string
	model                 string
	costUSD               float64
	upstreamInferenceCost float64
}

func NewDecoder() *Decoder {
	return &Decoder{}
}

func (d *Decoder) ResponseID() string { return d.responseID }

func (d *Decoder) Model() string { return d.model }

// Costs returns the dollar cost fields reported by the backend, zero when
// the provider never sent any.
func (d *Decoder) Costs() (costUSD, upstreamInferenceCostUSD float64) {
	return d.costUSD, d.upstreamInferenceCost
}

func (d *Decoder) Decode(data []byte) (*stream.ChatChunk, error) {
	var frame chatChunk
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, err
	}
	if frame.ID != "" {
		d.responseID = frame.ID
	}
	if frame.Model != "" {
		d.model = frame.Model
	}

	chunk := &stream.ChatChunk{Raw: data}
	empty := true

	if frame.Usage != nil {
		chunk.Usage = &llm.Usage{
			InputTokens:       frame.Usage.PromptTokens,
			OutputTokens:      frame.Usage.CompletionTokens,
			TotalTokens:       frame.Usage.TotalTokens,
			CachedInputTokens: frame.Usage.PromptTokensDetails.CachedTokens,
		}
		if frame.Usage.Cost > 0 {
			d.costUSD = frame.Usage.Cost
		}
		if frame.Usage.CostDetails.UpstreamInferenceCost > 0 {
			d.upstreamInferenceCost = frame.Usage.CostDetails.UpstreamInferenceCost
		}
		empty = false
	}

	if len(frame.Choices) > 0 {
		choice := frame.Choices[0]
		chunk.Content = choice.Delta.Content
		chunk.Reasoning = choice.Delta.Reasoning
		if chunk.Reasoning == "" {
			chunk.Reasoning = choice.Delta.ReasoningContent
		}
		for _, tc := range choice.Delta.ToolCalls {
			chunk.ToolCalls = append(chunk.ToolCalls, stream.ToolCallDelta{
				Index:          tc.Index,
				ID:             tc.ID,
				Name:           tc.Function.Name,
				ArgumentsDelta: tc.Function.Arguments,
			})
		}
		chunk.FinishReason = mapFinishReason(choice.FinishReason)
		if chunk.Content != "" || chunk.Reasoning != "" || len(chunk.ToolCalls) > 0 || chunk.FinishReason != "" {
			empty = false
		}
	}

	if empty {
		return nil, nil
	}
	return chunk, nil
}

func mapFinishReason(reason string) llm.FinishReason {
	switch reason {
	case "":
		return ""
	case "stop":
		return llm.FinishStop
	case "length":
		return llm.FinishLength
	case "tool_calls", "function_call":
		return llm.FinishToolCalls
	default:
		return llm.FinishUnknown
	}
}
