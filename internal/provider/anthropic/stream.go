package anthropic

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"modelrelay/internal/llm"
)

func newBlockID() string { return uuid.NewString() }

// sseEvent is one messages-API stream frame. The event name also arrives on
// the SSE event line, but the data payload repeats it in the type field,
// which is the one source of truth here.
type sseEvent struct {
	Type    string `json:"type"`
	Index   int    `json:"index"`
	Message struct {
		ID    string `json:"id"`
		Model string `json:"model"`
		Usage struct {
			InputTokens          int `json:"input_tokens"`
			OutputTokens         int `json:"output_tokens"`
			CacheReadInputTokens int `json:"cache_read_input_tokens"`
		} `json:"usage"`
	} `json:"message"`
	ContentBlock struct {
		Type string `json:"type"`
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"content_block"`
	Delta struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		Thinking    string `json:"thinking"`
		PartialJSON string `json:"partial_json"`
		StopReason  string `json:"stop_reason"`
	} `json:"delta"`
	Usage struct {
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

type blockState struct {
	kind string // "text", "thinking", or "tool_use"
	id   string
	name string
	args strings.Builder
}

// Decoder translates messages-API SSE frames straight into stream events.
// Unlike the chat-chunk providers it needs no trackers: the upstream already
// delimits every block explicitly.
type Decoder struct {
	emit func(llm.StreamEvent)
	log  zerolog.Logger

	blocks     map[int]*blockState
	responseID string
	model      string
	usage      llm.Usage
	finish     llm.FinishReason
	sawToolUse bool
}

func NewDecoder(emit func(llm.StreamEvent), log zerolog.Logger) *Decoder {
	return &Decoder{
		emit:   emit,
		log:    log,
		blocks: make(map[int]*blockState),
	}
}

func (d *Decoder) ResponseID() string { return d.responseID }

func (d *Decoder) Model() string { return d.model }

func (d *Decoder) Decode(data []byte) error {
	var ev sseEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		d.log.Warn().Err(err).Msg("Dropping undecodable anthropic event")
		d.emit(llm.StreamEvent{Type: llm.EventRaw, Raw: append(json.RawMessage(nil), data...)})
		return nil
	}

	switch ev.Type {
	case "message_start":
		d.responseID = ev.Message.ID
		d.model = ev.Message.Model
		d.usage.InputTokens = ev.Message.Usage.InputTokens
		d.usage.OutputTokens = ev.Message.Usage.OutputTokens
		d.usage.CachedInputTokens = ev.Message.Usage.CacheReadInputTokens

	case "content_block_start":
		d.startBlock(ev)

	case "content_block_delta":
		d.deltaBlock(ev)

	case "content_block_stop":
		d.stopBlock(ev.Index)

	case "message_delta":
		if ev.Usage.OutputTokens > 0 {
			d.usage.OutputTokens = ev.Usage.OutputTokens
		}
		if ev.Delta.StopReason != "" {
			d.finish = mapStopReason(ev.Delta.StopReason)
		}

	case "error":
		return &llm.StreamError{
			Kind:         llm.ErrKindUpstream,
			Message:      ev.Error.Message,
			ResponseBody: string(data),
		}

	case "message_stop", "ping":
		// Nothing to do; Finish handles the terminal bookkeeping.

	default:
		// Unknown event types are forward-compatibility, not errors.
	}
	return nil
}

func (d *Decoder) startBlock(ev sseEvent) {
	state := &blockState{kind: ev.ContentBlock.Type}
	switch ev.ContentBlock.Type {
	case "tool_use":
		state.id = ev.ContentBlock.ID
		state.name = ev.ContentBlock.Name
		d.sawToolUse = true
		d.emit(llm.StreamEvent{Type: llm.EventToolInputStart, ID: state.id, ToolName: state.name})
	case "thinking":
		state.id = newBlockID()
		d.emit(llm.StreamEvent{Type: llm.EventReasoningStart, ID: state.id})
	default:
		state.kind = "text"
		state.id = newBlockID()
		d.emit(llm.StreamEvent{Type: llm.EventTextStart, ID: state.id})
	}
	d.blocks[ev.Index] = state
}

func (d *Decoder) deltaBlock(ev sseEvent) {
	state, ok := d.blocks[ev.Index]
	if !ok {
		d.log.Warn().Int("index", ev.Index).Msg("Delta for unknown content block")
		return
	}
	switch ev.Delta.Type {
	case "text_delta":
		d.emit(llm.StreamEvent{Type: llm.EventTextDelta, ID: state.id, Delta: ev.Delta.Text})
	case "thinking_delta":
		d.emit(llm.StreamEvent{Type: llm.EventReasoningDelta, ID: state.id, Delta: ev.Delta.Thinking})
	case "input_json_delta":
		state.args.WriteString(ev.Delta.PartialJSON)
		d.emit(llm.StreamEvent{Type: llm.EventToolInputDelta, ID: state.id, Delta: ev.Delta.PartialJSON})
	}
}

func (d *Decoder) stopBlock(index int) {
	state, ok := d.blocks[index]
	if !ok {
		return
	}
	delete(d.blocks, index)

	switch state.kind {
	case "tool_use":
		args := state.args.String()
		if !json.Valid([]byte(args)) {
			args = "{}"
		}
		d.emit(llm.StreamEvent{Type: llm.EventToolInputEnd, ID: state.id})
		d.emit(llm.StreamEvent{Type: llm.EventToolCall, ID: state.id, ToolCall: &llm.ToolCall{
			ID:        state.id,
			Name:      state.name,
			Arguments: args,
		}})
	case "thinking":
		d.emit(llm.StreamEvent{Type: llm.EventReasoningEnd, ID: state.id})
	default:
		d.emit(llm.StreamEvent{Type: llm.EventTextEnd, ID: state.id})
	}
}

// Finish closes any block the upstream left open and returns the final
// usage and finish reason.
func (d *Decoder) Finish() (llm.Usage, llm.FinishReason) {
	for index := range d.blocks {
		d.stopBlock(index)
	}
	reason := d.finish
	if reason == "" {
		if d.sawToolUse {
			reason = llm.FinishToolCalls
		} else {
			reason = llm.FinishStop
		}
	}
	d.usage.TotalTokens = d.usage.InputTokens + d.usage.OutputTokens
	return d.usage, reason
}

func mapStopReason(reason string) llm.FinishReason {
	switch reason {
	case "end_turn", "stop_sequence":
		return llm.FinishStop
	case "max_tokens":
		return llm.FinishLength
	case "tool_use":
		return llm.FinishToolCalls
	default:
		return llm.FinishUnknown
	}
}
