package llm

import (
	"context"
	"encoding/json"
)

// Role identifies the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ContentPart is one typed unit of message content.
type ContentPart struct {
	Type     string `json:"type"` // "text" or "image"
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

// ChatMessage is the provider-neutral message shape. Content holds plain
// string content; Parts holds structured content when the caller supplied
// typed parts. At most one of the two is populated.
type ChatMessage struct {
	Role       Role          `json:"role"`
	Content    string        `json:"content,omitempty"`
	Parts      []ContentPart `json:"parts,omitempty"`
	ToolCalls  []ToolCall    `json:"tool_calls,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
}

// TextContent flattens string and part-based content into plain text.
func (m ChatMessage) TextContent() string {
	if m.Content != "" {
		return m.Content
	}
	var out string
	for _, p := range m.Parts {
		if p.Type == "text" && p.Text != "" {
			if out != "" {
				out += "\n"
			}
			out += p.Text
		}
	}
	return out
}

// HasImage reports whether any content part carries an image.
func (m ChatMessage) HasImage() bool {
	for _, p := range m.Parts {
		if p.Type == "image" {
			return true
		}
	}
	return false
}

// ToolCall is one resolved tool invocation. Arguments is the raw JSON
// argument string as produced by the model.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolDefinition uses the nested function wrapper shape callers send.
type ToolDefinition struct {
	Type     string             `json:"type"`
	Function FunctionDefinition `json:"function"`
}

// FunctionDefinition describes one callable tool.
type FunctionDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

/// ModelRequest is one call into the gateway. Immutable per call: the
// fallback path clones it rather than mutating, and the Skip* flags are
// only ever set by that internal clone, never by the original caller.
type ModelRequest struct {
	CredentialKey    string
	ModelID          string
	SkipDirectClaude bool
	SkipDirectCodex  bool

	Messages      []ChatMessage
	Tools         []ToolDefinition
	StopSequences []string

	MaxTokens      *int
	Temperature    *float64
	TopP           *float64
	ResponseFormat map[string]interface{}

	// ProviderOptions is passed through to the metered backend untouched.
	ProviderOptions map[string]interface{}

	// SpawnableAgents lists agent ids (possibly publisher/name@version
	// qualified) a spawn tool can start; LocalAgents lists local template
	// keys. Both feed tool-call repair.
	SpawnableAgents []string
	LocalAgents     []string
}

// Clone returns a shallow copy suitable for the fallback re-invocation.
// Slices are shared; the fallback path never mutates them.
func (r *ModelRequest) Clone() *ModelRequest {
	cp := *r
	return &cp
}

// ProviderResolution is the router's verdict for one request.
type ProviderResolution struct {
	Model          StreamingModel
	Provider       string
	IsDirectClaude bool
	IsDirectCodex  bool
}

// DirectOAuth reports whether the resolved path bills the user's own
// subscription rather than the metered backend.
func (p ProviderResolution) DirectOAuth() bool {
	return p.IsDirectClaude || p.IsDirectCodex
}

// Usage tracks provider-reported token counts.
type Usage struct {
	InputTokens       int
	OutputTokens      int
	TotalTokens       int
	CachedInputTokens int
}

// FinishReason is the normalized stream termination reason.
type FinishReason string

const (
	FinishStop      FinishReason = "stop"
	FinishLength    FinishReason = "length"
	FinishToolCalls FinishReason = "tool_calls"
	FinishError     FinishReason = "error"
	FinishUnknown   FinishReason = "unknown"
)

// ResponseMetadata carries provider-reported response attributes, read once
// at stream end. Cost fields are dollars.
type ResponseMetadata struct {
	Provider                 string
	ResponseID               string
	Model                    string
	CostUSD                  float64
	UpstreamInferenceCostUSD float64
}

// StreamEventType tags the uniform output union.
type StreamEventType string

const (
	EventTextStart        StreamEventType = "text-start"
	EventTextDelta        StreamEventType = "text-delta"
	EventTextEnd          StreamEventType = "text-end"
	EventReasoningStart   StreamEventType = "reasoning-start"
	EventReasoningDelta   StreamEventType = "reasoning-delta"
	EventReasoningEnd     StreamEventType = "reasoning-end"
	EventToolInputStart   StreamEventType = "tool-input-start"
	EventToolInputDelta   StreamEventType = "tool-input-delta"
	EventToolInputEnd     StreamEventType = "tool-input-end"
	EventToolCall         StreamEventType = "tool-call"
	EventError            StreamEventType = "error"
	EventResponseMetadata StreamEventType = "response-metadata"
	EventFinish           StreamEventType = "finish"
	EventRaw              StreamEventType = "raw"
)

// StreamEvent is one item of the uniform output sequence. Which fields are
// populated depends on Type. Consumers must treat the sequence as ordered
// and at-most-once-terminated: a finish or an unrecoverable error ends it.
type StreamEvent struct {
	Type StreamEventType

	// ID is the block id for text/reasoning markers and the call id for
	// tool events.
	ID string

	// Delta carries the text, reasoning, or argument fragment.
	Delta string

	// ToolName is set on tool-input-start.
	ToolName string

	// ToolCall is set on tool-call.
	ToolCall *ToolCall

	// Err is set on error events.
	Err *StreamError

	// Metadata is set on response-metadata.
	Metadata *ResponseMetadata

	// FinishReason and Usage are set on finish.
	FinishReason FinishReason
	Usage        *Usage

	// Raw holds an unrecognized provider frame passed through for debugging.
	Raw json.RawMessage
}

// StreamingModel is one concrete provider path able to serve a request.
type StreamingModel interface {
	// Stream starts the call and returns the event sequence. A non-nil
	// error means the call failed before any event was produced; once the
	// channel is returned, failures arrive as error events and the channel
	// is always closed after the terminal event.
	Stream(ctx context.Context, req *ModelRequest) (<-chan StreamEvent, error)
}
