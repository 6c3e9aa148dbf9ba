package stream

import (
	"github.com/google/uuid"

	"modelrelay/internal/llm"
)

// ContentTracker turns bare text/reasoning deltas into delimited blocks:
// the first delta of a kind is preceded by a -start marker with a fresh id,
// and Flush closes whatever is still open. Reasoning is processed before
// text within the same chunk because a provider may emit both in one frame
// and consumers rely on reasoning preceding the text it justifies.
type ContentTracker struct {
	emit func(llm.StreamEvent)

	textID      string
	reasoningID string
}

// NewContentTracker creates a tracker emitting through the given sink.
func NewContentTracker(emit func(llm.StreamEvent)) *ContentTracker {
	return &ContentTracker{emit: emit}
}

// Process consumes one chunk's text and reasoning deltas.
func (t *ContentTracker) Process(chunk *ChatChunk) {
	if chunk.Reasoning != "" {
		if t.reasoningID == "" {
			t.reasoningID = uuid.NewString()
			t.emit(llm.StreamEvent{Type: llm.EventReasoningStart, ID: t.reasoningID})
		}
		t.emit(llm.StreamEvent{Type: llm.EventReasoningDelta, ID: t.reasoningID, Delta: chunk.Reasoning})
	}
	if chunk.Content != "" {
		if t.textID == "" {
			t.textID = uuid.NewString()
			t.emit(llm.StreamEvent{Type: llm.EventTextStart, ID: t.textID})
		}
		t.emit(llm.StreamEvent{Type: llm.EventTextDelta, ID: t.textID, Delta: chunk.Content})
	}
}

// Flush emits matching -end markers for any block left open and resets the
// tracker so a later delta starts a new block.
func (t *ContentTracker) Flush() {
	if t.reasoningID != "" {
		t.emit(llm.StreamEvent{Type: llm.EventReasoningEnd, ID: t.reasoningID})
		t.reasoningID = ""
	}
	if t.textID != "" {
		t.emit(llm.StreamEvent{Type: llm.EventTextEnd, ID: t.textID})
		t.textID = ""
	}
}
