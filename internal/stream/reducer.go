package stream

import (
	"github.com/rs/zerolog"

	"modelrelay/internal/llm"
)

// Reducer runs the three trackers over a chunk sequence and remembers the
// finish reason. One Reducer serves one streamed call.
type Reducer struct {
	usage   UsageTracker
	content *ContentTracker
	tools   *ToolCallTracker

	finish llm.FinishReason
}

// NewReducer creates a reducer emitting through the given sink.
func NewReducer(emit func(llm.StreamEvent), log zerolog.Logger) *Reducer {
	return &Reducer{
		content: NewContentTracker(emit),
		tools:   NewToolCallTracker(emit, log),
		finish:  llm.FinishUnknown,
	}
}

// Feed consumes one chunk in arrival order.
func (r *Reducer) Feed(chunk *ChatChunk) error {
	r.usage.Observe(chunk.Usage)
	r.content.Process(chunk)
	if err := r.tools.Process(chunk); err != nil {
		return err
	}
	if chunk.FinishReason != "" {
		r.finish = chunk.FinishReason
	}
	return nil
}

// Close flushes every tracker and returns the final usage and finish
// reason. A stream that saw tool calls but no explicit reason finishes as
// tool_calls, otherwise stop.
func (r *Reducer) Close() (llm.Usage, llm.FinishReason) {
	r.content.Flush()
	r.tools.Flush()

	reason := r.finish
	if reason == llm.FinishUnknown {
		if r.tools.SawToolCalls() {
			reason = llm.FinishToolCalls
		} else {
			reason = llm.FinishStop
		}
	}
	return r.usage.Snapshot(), reason
}
