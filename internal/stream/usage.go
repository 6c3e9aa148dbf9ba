package stream

import "modelrelay/internal/llm"

// UsageTracker accumulates token counts last-write-wins: providers repeat
// usage with growing totals, so the most recent non-zero value per field
// wins and is exposed once at stream end.
type UsageTracker struct {
	usage llm.Usage
}

// Observe folds one usage report into the tracker.
func (t *UsageTracker) Observe(u *llm.Usage) {
	if u == nil {
		return
	}
	if u.InputTokens > 0 {
		t.usage.InputTokens = u.InputTokens
	}
	if u.OutputTokens > 0 {
		t.usage.OutputTokens = u.OutputTokens
	}
	if u.TotalTokens > 0 {
		t.usage.TotalTokens = u.TotalTokens
	}
	if u.CachedInputTokens > 0 {
		t.usage.CachedInputTokens = u.CachedInputTokens
	}
}

// Snapshot returns the accumulated counts, deriving the total when the
// provider never reported one.
func (t *UsageTracker) Snapshot() llm.Usage {
	u := t.usage
	if u.TotalTokens == 0 {
		u.TotalTokens = u.InputTokens + u.OutputTokens
	}
	return u
}
