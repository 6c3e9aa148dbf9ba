package backend

import (
	"modelrelay/internal/llm"
)

// wireMessage is the chat-completions message shape. Content is either a
// plain string or a list of typed parts when the message carries images.
type wireMessage struct {
	Role       string         `json:"role"`
	Content    interface{}    `json:"content"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type wireToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type wirePart struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *wireImageURL `json:"image_url,omitempty"`
}

type wireImageURL struct {
	URL string `json:"url"`
}

func buildMessages(messages []llm.ChatMessage) []wireMessage {
	out := make([]wireMessage, 0, len(messages))
	for _, msg := range messages {
		wm := wireMessage{Role: string(msg.Role), ToolCallID: msg.ToolCallID}
		if msg.HasImage() {
			parts := make([]wirePart, 0, len(msg.Parts))
			for _, p := range msg.Parts {
				if p.Type == "image" {
					parts = append(parts, wirePart{Type: "image_url", ImageURL: &wireImageURL{URL: p.ImageURL}})
				} else {
					parts = append(parts, wirePart{Type: "text", Text: p.Text})
				}
			}
			wm.Content = parts
		} else {
			wm.Content = msg.TextContent()
		}
		for _, call := range msg.ToolCalls {
			wm.ToolCalls = append(wm.ToolCalls, wireToolCall{
				ID:   call.ID,
				Type: "function",
				Function: wireFunction{
					Name:      call.Name,
					Arguments: call.Arguments,
				},
			})
		}
		out = append(out, wm)
	}
	return out
}

// BuildRequestBody assembles a streaming chat-completions request.
// Provider-specific options are passed through untouched under their own
// keys so marketplace routing hints survive the hop.
func BuildRequestBody(req *llm.ModelRequest) map[string]interface{} {
	body := map[string]interface{}{
		"model":    req.ModelID,
		"messages": buildMessages(req.Messages),
		"stream":   true,
		"stream_options": map[string]interface{}{
			"include_usage": true,
		},
		"usage": map[string]interface{}{
			"include": true,
		},
	}
	if len(req.Tools) > 0 {
		body["tools"] = req.Tools
	}
	if len(req.StopSequences) > 0 {
		body["stop"] = req.StopSequences
	}
	if req.MaxTokens != nil {
		body["max_tokens"] = *req.MaxTokens
	}
	if req.Temperature != nil {
		body["temperature"] = *req.Temperature
	}
	if req.TopP != nil {
		body["top_p"] = *req.TopP
	}
	if req.ResponseFormat != nil {
		body["response_format"] = req.ResponseFormat
	}
	for key, value := range req.ProviderOptions {
		body[key] = value
	}
	return body
}
