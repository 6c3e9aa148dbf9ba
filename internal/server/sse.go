package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"modelrelay/internal/llm"
)

// sseFlushWriter flushes after every write so deltas reach the client as
// they happen.
type sseFlushWriter struct {
	w http.ResponseWriter
	f http.Flusher
}

func (fw sseFlushWriter) Write(p []byte) (int, error) {
	n, err := fw.w.Write(p)
	if err == nil {
		fw.f.Flush()
	}
	return n, err
}

type chunkDelta struct {
	Content   string          `json:"content,omitempty"`
	Reasoning string          `json:"reasoning,omitempty"`
	ToolCalls []chunkToolCall `json:"tool_calls,omitempty"`
}

type chunkToolCall struct {
	Index    int                `json:"index"`
	ID       string             `json:"id,omitempty"`
	Type     string             `json:"type,omitempty"`
	Function *chunkToolFunction `json:"function,omitempty"`
}

type chunkToolFunction struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

type chunkChoice struct {
	Index        int        `json:"index"`
	Delta        chunkDelta `json:"delta"`
	FinishReason *string    `json:"finish_reason"`
}

type chunkUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type completionChunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []chunkChoice `json:"choices"`
	Usage   *chunkUsage   `json:"usage,omitempty"`
	Error   *chunkError   `json:"error,omitempty"`
}

type chunkError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// chunkEncoder turns normalized stream events back into OpenAI-style
// chat.completion.chunk frames.
type chunkEncoder struct {
	out       sseFlushWriter
	id        string
	model     string
	created   int64
	toolIndex map[string]int
}

func newChunkEncoder(out sseFlushWriter, model string) *chunkEncoder {
	return &chunkEncoder{
		out:       out,
		id:        fmt.Sprintf("chatcmpl-%d", time.Now().UnixNano()),
		model:     model,
		created:   time.Now().Unix(),
		toolIndex: make(map[string]int),
	}
}

// Encode writes the frame for one event. Events that carry no caller-facing
// payload are skipped.
func (e *chunkEncoder) Encode(ev llm.StreamEvent) error {
	switch ev.Type {
	case llm.EventTextDelta:
		return e.writeDelta(chunkDelta{Content: ev.Delta})

	case llm.EventReasoningDelta:
		return e.writeDelta(chunkDelta{Reasoning: ev.Delta})

	case llm.EventToolInputStart:
		index := len(e.toolIndex)
		e.toolIndex[ev.ID] = index
		return e.writeDelta(chunkDelta{ToolCalls: []chunkToolCall{{
			Index:    index,
			ID:       ev.ID,
			Type:     "function",
			Function: &chunkToolFunction{Name: ev.ToolName},
		}}})

	case llm.EventToolInputDelta:
		return e.writeDelta(chunkDelta{ToolCalls: []chunkToolCall{{
			Index:    e.toolIndex[ev.ID],
			Function: &chunkToolFunction{Arguments: ev.Delta},
		}}})

	case llm.EventResponseMetadata:
		if ev.Metadata != nil {
			if ev.Metadata.ResponseID != "" {
				e.id = ev.Metadata.ResponseID
			}
			if ev.Metadata.Model != "" {
				e.model = ev.Metadata.Model
			}
		}
		return nil

	case llm.EventError:
		if ev.Err == nil {
			return nil
		}
		return e.write(completionChunk{
			ID:      e.id,
			Object:  "chat.completion.chunk",
			Created: e.created,
			Model:   e.model,
			Choices: []chunkChoice{{Delta: chunkDelta{}}},
			Error:   &chunkError{Type: string(ev.Err.Kind), Message: ev.Err.Message},
		})

	case llm.EventFinish:
		reason := string(ev.FinishReason)
		chunk := completionChunk{
			ID:      e.id,
			Object:  "chat.completion.chunk",
			Created: e.created,
			Model:   e.model,
			Choices: []chunkChoice{{FinishReason: &reason}},
		}
		if ev.Usage != nil {
			chunk.Usage = &chunkUsage{
				PromptTokens:     ev.Usage.InputTokens,
				CompletionTokens: ev.Usage.OutputTokens,
				TotalTokens:      ev.Usage.TotalTokens,
			}
		}
		if err := e.write(chunk); err != nil {
			return err
		}
		_, err := fmt.Fprint(e.out, "data: [DONE]\n\n")
		return err
	}
	return nil
}

func (e *chunkEncoder) writeDelta(delta chunkDelta) error {
	return e.write(completionChunk{
		ID:      e.id,
		Object:  "chat.completion.chunk",
		Created: e.created,
		Model:   e.model,
		Choices: []chunkChoice{{Delta: delta}},
	})
}

func (e *chunkEncoder) write(chunk completionChunk) error {
	data, err := json.Marshal(chunk)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(e.out, "data: %s\n\n", data)
	return err
}
