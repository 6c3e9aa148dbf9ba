package server

import (
	"encoding/json"
	"fmt"

	"modelrelay/internal/llm"
)

// ChatMessage is the inbound OpenAI-style message. Content may be a plain
// string or a list of typed parts.
type ChatMessage struct {
	Role       string          `json:"role"`
	Content    json.RawMessage `json:"content,omitempty"`
	ToolCalls  []ToolCall      `json:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
}

type ToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type contentPart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL *struct {
		URL string `json:"url"`
	} `json:"image_url,omitempty"`
}

// ChatCompletionRequest is the inbound request shape. Fields this gateway
// does not interpret are captured in OtherParams and passed through to the
// metered backend untouched.
type ChatCompletionRequest struct {
	Model           string                 `json:"model"`
	Messages        []ChatMessage          `json:"messages"`
	Tools           []llm.ToolDefinition   `json:"tools,omitempty"`
	Stop            []string               `json:"stop,omitempty"`
	MaxTokens       *int                   `json:"max_tokens,omitempty"`
	Temperature     *float64               `json:"temperature,omitempty"`
	TopP            *float64               `json:"top_p,omitempty"`
	Stream          *bool                  `json:"stream,omitempty"`
	ResponseFormat  map[string]interface{} `json:"response_format,omitempty"`
	SpawnableAgents []string               `json:"spawnable_agents,omitempty"`
	LocalAgents     []string               `json:"local_agents,omitempty"`
	OtherParams     map[string]interface{} `json:"-"`
}

var knownRequestFields = []string{
	"model", "messages", "tools", "stop", "max_tokens", "temperature",
	"top_p", "stream", "response_format", "spawnable_agents", "local_agents",
	"stream_options",
}

func (r *ChatCompletionRequest) UnmarshalJSON(data []byte) error {
	type Alias ChatCompletionRequest
	aux := &struct {
		Stop json.RawMessage `json:"stop,omitempty"`
		*Alias
	}{Alias: (*Alias)(r)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if len(aux.Stop) > 0 {
		stops, err := decodeStop(aux.Stop)
		if err != nil {
			return err
		}
		r.Stop = stops
	}

	// Capture every field we do not interpret for backend passthrough.
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for _, field := range knownRequestFields {
		delete(raw, field)
	}
	if len(raw) > 0 {
		r.OtherParams = raw
	}
	return nil
}

// decodeStop accepts both the single-string and string-array forms.
func decodeStop(raw json.RawMessage) ([]string, error) {
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return []string{single}, nil
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err != nil {
		return nil, fmt.Errorf("stop must be a string or an array of strings")
	}
	return many, nil
}

// ToModelRequest converts the wire request into the internal call shape.
func (r *ChatCompletionRequest) ToModelRequest(credentialKey string) (*llm.ModelRequest, error) {
	if r.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if len(r.Messages) == 0 {
		return nil, fmt.Errorf("messages must not be empty")
	}

	messages := make([]llm.ChatMessage, 0, len(r.Messages))
	for _, msg := range r.Messages {
		converted, err := msg.toLLM()
		if err != nil {
			return nil, err
		}
		messages = append(messages, converted)
	}

	return &llm.ModelRequest{
		CredentialKey:   credentialKey,
		ModelID:         r.Model,
		Messages:        messages,
		Tools:           r.Tools,
		StopSequences:   r.Stop,
		MaxTokens:       r.MaxTokens,
		Temperature:     r.Temperature,
		TopP:            r.TopP,
		ResponseFormat:  r.ResponseFormat,
		ProviderOptions: r.OtherParams,
		SpawnableAgents: r.SpawnableAgents,
		LocalAgents:     r.LocalAgents,
	}, nil
}

func (m ChatMessage) toLLM() (llm.ChatMessage, error) {
	out := llm.ChatMessage{
		Role:       llm.Role(m.Role),
		ToolCallID: m.ToolCallID,
	}
	for _, call := range m.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: call.Function.Arguments,
		})
	}
	if len(m.Content) == 0 {
		return out, nil
	}

	var text string
	if err := json.Unmarshal(m.Content, &text); err == nil {
		out.Content = text
		return out, nil
	}
	var parts []contentPart
	if err := json.Unmarshal(m.Content, &parts); err != nil {
		return out, fmt.Errorf("message content must be a string or an array of parts")
	}
	for _, p := range parts {
		part := llm.ContentPart{Type: "text", Text: p.Text}
		if p.Type == "image_url" && p.ImageURL != nil {
			part = llm.ContentPart{Type: "image", ImageURL: p.ImageURL.URL}
		}
		out.Parts = append(out.Parts, part)
	}
	return out, nil
}

// IsStream reports whether the caller asked for SSE output.
func (r *ChatCompletionRequest) IsStream() bool {
	return r.Stream != nil && *r.Stream
}

// ChatCompletionChoice is one buffered-mode result choice.
type ChatCompletionChoice struct {
	Index   int `json:"index"`
	Message struct {
		Role      string     `json:"role"`
		Content   string     `json:"content"`
		Reasoning string     `json:"reasoning,omitempty"`
		ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	} `json:"message"`
	FinishReason string `json:"finish_reason"`
}

// ChatCompletionResponse is the buffered-mode response envelope.
type ChatCompletionResponse struct {
	ID      string                 `json:"id"`
	Object  string                 `json:"object"`
	Created int64                  `json:"created"`
	Model   string                 `json:"model"`
	Choices []ChatCompletionChoice `json:"choices"`
	Usage   *chunkUsage            `json:"usage,omitempty"`
}
