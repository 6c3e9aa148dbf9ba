// Package anthropic implements the direct-OAuth path to the Anthropic
// messages API using the end user's own subscription token. OAuth access
// requires a fixed identity system block and a set of beta feature flags,
// both applied on the way out.
package anthropic

import (
	"encoding/json"
	"strings"

	"modelrelay/internal/llm"
)

// identitySystemText is the first system block the OAuth backend requires.
const identitySystemText = "You are Claude Code, Anthropic's official CLI for Claude."

// requiredBetas are merged into the anthropic-beta header of every request.
var requiredBetas = []string{
	"oauth-2025-04-20",
	"claude-code-20250219",
	"interleaved-thinking-2025-05-14",
	"fine-grained-tool-streaming-2025-05-14",
}

const defaultMaxTokens = 8192

type systemBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type contentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
	Source    *imageSource    `json:"source,omitempty"`
}

type imageSource struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

type wireMessage struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

type wireTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// MergeBetaHeader folds the required beta tokens into an existing
// comma-separated header value, deduplicated, preserving caller order.
func MergeBetaHeader(existing string) string {
	seen := make(map[string]bool)
	var out []string
	add := func(token string) {
		token = strings.TrimSpace(token)
		if token == "" || seen[token] {
			return
		}
		seen[token] = true
		out = append(out, token)
	}
	for _, token := range strings.Split(existing, ",") {
		add(token)
	}
	for _, token := range requiredBetas {
		add(token)
	}
	return strings.Join(out, ",")
}

// systemBlocks builds the two-block system field: the identity block first,
// then the caller's system text only when non-empty.
func systemBlocks(callerSystem string) []systemBlock {
	blocks := []systemBlock{{Type: "text", Text: identitySystemText}}
	if strings.TrimSpace(callerSystem) != "" {
		blocks = append(blocks, systemBlock{Type: "text", Text: callerSystem})
	}
	return blocks
}

func buildMessages(messages []llm.ChatMessage) []wireMessage {
	out := make([]wireMessage, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case llm.RoleSystem:
			// Leading system text is lifted into the system field; anything
			// mid-conversation is downgraded to a user message.
			if text := msg.TextContent(); text != "" {
				out = append(out, wireMessage{Role: "user", Content: []contentBlock{{Type: "text", Text: text}}})
			}
		case llm.RoleTool:
			out = append(out, wireMessage{Role: "user", Content: []contentBlock{{
				Type:      "tool_result",
				ToolUseID: msg.ToolCallID,
				Content:   msg.TextContent(),
			}}})
		case llm.RoleAssistant:
			var blocks []contentBlock
			if text := msg.TextContent(); text != "" {
				blocks = append(blocks, contentBlock{Type: "text", Text: text})
			}
			for _, call := range msg.ToolCalls {
				input := json.RawMessage(call.Arguments)
				if !json.Valid(input) {
					input = json.RawMessage(`{}`)
				}
				blocks = append(blocks, contentBlock{
					Type:  "tool_use",
					ID:    call.ID,
					Name:  call.Name,
					Input: input,
				})
			}
			if len(blocks) > 0 {
				out = append(out, wireMessage{Role: "assistant", Content: blocks})
			}
		default:
			blocks := userBlocks(msg)
			if len(blocks) > 0 {
				out = append(out, wireMessage{Role: "user", Content: blocks})
			}
		}
	}
	return out
}

func userBlocks(msg llm.ChatMessage) []contentBlock {
	if len(msg.Parts) == 0 {
		if msg.Content == "" {
			return nil
		}
		return []contentBlock{{Type: "text", Text: msg.Content}}
	}
	var blocks []contentBlock
	for _, p := range msg.Parts {
		switch p.Type {
		case "image":
			blocks = append(blocks, contentBlock{Type: "image", Source: &imageSource{Type: "url", URL: p.ImageURL}})
		default:
			if p.Text != "" {
				blocks = append(blocks, contentBlock{Type: "text", Text: p.Text})
			}
		}
	}
	return blocks
}

// BuildRequestBody assembles a streaming messages-API request. The model id
// is sent without its marketplace vendor prefix.
func BuildRequestBody(req *llm.ModelRequest) map[string]interface{} {
	var callerSystem string
	messages := req.Messages
	if len(messages) > 0 && messages[0].Role == llm.RoleSystem {
		callerSystem = messages[0].TextContent()
		messages = messages[1:]
	}

	maxTokens := defaultMaxTokens
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}

	body := map[string]interface{}{
		"model":      normalizeModel(req.ModelID),
		"system":     systemBlocks(callerSystem),
		"messages":   buildMessages(messages),
		"max_tokens": maxTokens,
		"stream":     true,
	}
	if len(req.Tools) > 0 {
		tools := make([]wireTool, 0, len(req.Tools))
		for _, tool := range req.Tools {
			tools = append(tools, wireTool{
				Name:        tool.Function.Name,
				Description: tool.Function.Description,
				InputSchema: tool.Function.Parameters,
			})
		}
		body["tools"] = tools
	}
	if len(req.StopSequences) > 0 {
		body["stop_sequences"] = req.StopSequences
	}
	if req.Temperature != nil {
		body["temperature"] = *req.Temperature
	}
	if req.TopP != nil {
		body["top_p"] = *req.TopP
	}
	return body
}

func normalizeModel(modelID string) string {
	if idx := strings.IndexByte(modelID, '/'); idx >= 0 {
		return modelID[idx+1:]
	}
	return modelID
}

// RewriteSystemField rewrites the system field of an already-encoded
// messages-API body into the two-block OAuth shape. A body that does not
// parse is returned unchanged rather than dropped.
func RewriteSystemField(raw []byte) []byte {
	var body map[string]json.RawMessage
	if err := json.Unmarshal(raw, &body); err != nil {
		return raw
	}

	var callerSystem string
	if rawSystem, ok := body["system"]; ok {
		if err := json.Unmarshal(rawSystem, &callerSystem); err != nil {
			var blocks []systemBlock
			if err := json.Unmarshal(rawSystem, &blocks); err != nil {
				return raw
			}
			var texts []string
			for _, b := range blocks {
				if b.Text != identitySystemText && b.Text != "" {
					texts = append(texts, b.Text)
				}
			}
			callerSystem = strings.Join(texts, "\n")
		}
	}

	encoded, err := json.Marshal(systemBlocks(callerSystem))
	if err != nil {
		return raw
	}
	body["system"] = encoded

	rewritten, err := json.Marshal(body)
	if err != nil {
		return raw
	}
	return rewritten
}
