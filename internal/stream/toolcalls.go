package stream

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"modelrelay/internal/llm"
)

// toolCallAccumulator reconstructs one tool invocation from streamed
// fragments. Once finished it is never resurrected.
type toolCallAccumulator struct {
	id       string
	name     string
	args     strings.Builder
	finished bool
}

// ToolCallTracker reconstructs streamed tool calls keyed by the
// provider-assigned index. A call is finished the moment its accumulated
// arguments parse as syntactically valid JSON (some providers never signal
// a clean boundary), or forcibly at Flush, substituting "{}" if the buffer
// never became parseable.
type ToolCallTracker struct {
	emit    func(llm.StreamEvent)
	log     zerolog.Logger
	byIndex map[int]*toolCallAccumulator
	order   []int
}

// NewToolCallTracker creates a tracker emitting through the given sink.
func NewToolCallTracker(emit func(llm.StreamEvent), log zerolog.Logger) *ToolCallTracker {
	return &ToolCallTracker{
		emit:    emit,
		log:     log,
		byIndex: make(map[int]*toolCallAccumulator),
	}
}

// Process consumes one chunk's tool-call deltas.
func (t *ToolCallTracker) Process(chunk *ChatChunk) error {
	for _, delta := range chunk.ToolCalls {
		acc, ok := t.byIndex[delta.Index]
		if !ok {
			if delta.ID == "" || delta.Name == "" {
				return fmt.Errorf("tool call index %d started without id or name", delta.Index)
			}
			acc = &toolCallAccumulator{id: delta.ID, name: delta.Name}
			t.byIndex[delta.Index] = acc
			t.order = append(t.order, delta.Index)
			t.emit(llm.StreamEvent{Type: llm.EventToolInputStart, ID: acc.id, ToolName: acc.name})
		}
		if acc.finished {
			continue
		}
		if delta.ArgumentsDelta != "" {
			acc.args.WriteString(delta.ArgumentsDelta)
			t.emit(llm.StreamEvent{Type: llm.EventToolInputDelta, ID: acc.id, Delta: delta.ArgumentsDelta})
		}
		if args := acc.args.String(); args != "" && json.Valid([]byte(args)) {
			t.finish(acc, args)
		}
	}
	return nil
}

// Flush forces any unfinished accumulator to completion.
func (t *ToolCallTracker) Flush() {
	for _, idx := range t.order {
		acc := t.byIndex[idx]
		if acc.finished {
			continue
		}
		args := acc.args.String()
		if args == "" || !json.Valid([]byte(args)) {
			// The model produced arguments that never became valid JSON.
			t.log.Warn().
				Str("tool_name", acc.name).
				Str("tool_call_id", acc.id).
				Int("buffered_bytes", len(args)).
				Msg("Forcing unparseable tool arguments to empty object")
			args = "{}"
		}
		t.finish(acc, args)
	}
}

func (t *ToolCallTracker) finish(acc *toolCallAccumulator, args string) {
	acc.finished = true
	t.emit(llm.StreamEvent{Type: llm.EventToolInputEnd, ID: acc.id})
	t.emit(llm.StreamEvent{
		Type:     llm.EventToolCall,
		ID:       acc.id,
		ToolCall: &llm.ToolCall{ID: acc.id, Name: acc.name, Arguments: args},
	})
}

// SawToolCalls reports whether any tool call was started.
func (t *ToolCallTracker) SawToolCalls() bool {
	return len(t.order) > 0
}
