package codex

import (
	"encoding/json"
	"strings"

	"modelrelay/internal/llm"
)

// defaultInstructions is sent when the conversation carries no system
// message; the Codex backend rejects requests without instructions.
const defaultInstructions = "You are a coding agent. You are expected to be precise, safe, and helpful."

// InputItem is one entry of the Codex "input" array.
type InputItem struct {
	Type      string        `json:"type"`
	Role      string        `json:"role,omitempty"`
	Content   []ContentPart `json:"content,omitempty"`
	Name      string        `json:"name,omitempty"`
	CallID    string        `json:"call_id,omitempty"`
	Arguments string        `json:"arguments,omitempty"`
	Output    string        `json:"output,omitempty"`
}

// ContentPart is one typed content unit inside a message input item.
type ContentPart struct {
	Type     string `json:"type"` // input_text, output_text, input_image
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

// Tool is the flat tool shape the Codex endpoint expects, unwrapped from
// the nested function definition callers send.
type Tool struct {
	Type        string          `json:"type"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Strict      bool            `json:"strict"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// BuildInput translates the chat message list into Codex input items and
// pulls the leading system message out into the instructions field.
// Assistant textual content becomes output_text, every other role
// input_text; the two are not interchangeable upstream. Messages with no
// text and no image are dropped.
func BuildInput(messages []llm.ChatMessage) (items []InputItem, instructions string) {
	instructions = defaultInstructions

	for i, msg := range messages {
		if msg.Role == llm.RoleSystem && i == 0 {
			if text := strings.TrimSpace(msg.TextContent()); text != "" {
				instructions = text
			}
			continue
		}

		switch msg.Role {
		case llm.RoleTool:
			if msg.ToolCallID == "" {
				continue
			}
			items = append(items, InputItem{
				Type:   "function_call_output",
				CallID: msg.ToolCallID,
				Output: msg.TextContent(),
			})

		case llm.RoleAssistant:
			if parts := contentParts(msg, "output_text"); len(parts) > 0 {
				items = append(items, InputItem{Type: "message", Role: "assistant", Content: parts})
			}
			for _, call := range msg.ToolCalls {
				items = append(items, InputItem{
					Type:      "function_call",
					Name:      call.Name,
					CallID:    call.ID,
					Arguments: call.Arguments,
				})
			}

		default:
			// A stray system message mid-conversation is downgraded to a
			// user input item rather than clobbering instructions.
			role := string(msg.Role)
			if msg.Role == llm.RoleSystem {
				role = "user"
			}
			if parts := contentParts(msg, "input_text"); len(parts) > 0 {
				items = append(items, InputItem{Type: "message", Role: role, Content: parts})
			}
		}
	}
	return items, instructions
}

func contentParts(msg llm.ChatMessage, textType string) []ContentPart {
	var parts []ContentPart
	if text := strings.TrimSpace(msg.Content); text != "" {
		parts = append(parts, ContentPart{Type: textType, Text: text})
	}
	for _, p := range msg.Parts {
		switch p.Type {
		case "text":
			if strings.TrimSpace(p.Text) != "" {
				parts = append(parts, ContentPart{Type: textType, Text: p.Text})
			}
		case "image":
			if p.ImageURL != "" {
				parts = append(parts, ContentPart{Type: "input_image", ImageURL: p.ImageURL})
			}
		}
	}
	return parts
}

// FlattenTools unwraps the nested function wrapper into the flat shape the
// endpoint expects.
func FlattenTools(tools []llm.ToolDefinition) []Tool {
	out := make([]Tool, 0, len(tools))
	for _, t := range tools {
		if t.Type != "" && t.Type != "function" {
			continue
		}
		out = append(out, Tool{
			Type:        "function",
			Name:        t.Function.Name,
			Description: t.Function.Description,
			Strict:      false,
			Parameters:  t.Function.Parameters,
		})
	}
	return out
}

// BuildRequestBody assembles the Codex responses body for one call.
func BuildRequestBody(req *llm.ModelRequest) map[string]interface{} {
	items, instructions := BuildInput(req.Messages)

	body := map[string]interface{}{
		"model":               normalizeModel(req.ModelID),
		"instructions":        instructions,
		"input":               items,
		"tools":               FlattenTools(req.Tools),
		"tool_choice":         "auto",
		"parallel_tool_calls": false,
		"store":               false,
		"stream":              true,
		"include":             []string{"reasoning.encrypted_content"},
	}
	if req.MaxTokens != nil {
		body["max_output_tokens"] = *req.MaxTokens
	}
	return body
}

// normalizeModel strips any vendor prefix from the model id; the Codex
// backend wants bare model names.
func normalizeModel(modelID string) string {
	if idx := strings.IndexByte(modelID, '/'); idx >= 0 {
		return modelID[idx+1:]
	}
	return modelID
}
