package relay

import "strings"

// stopFilter scans streamed text for stop sequences. Deltas pass through
// immediately except for a withheld tail: the longest suffix that could
// still grow into a stop sequence with more input. Once a sequence matches,
// everything from the match on is discarded and the stream is considered
// stopped.
type stopFilter struct {
	stops   []string
	buf     strings.Builder
	stopped bool
}

func newStopFilter(stops []string) *stopFilter {
	return &stopFilter{stops: stops}
}

// Feed appends a delta and returns the text that is now safe to emit,
// plus whether a stop sequence was hit.
func (f *stopFilter) Feed(delta string) (string, bool) {
	if f.stopped {
		return "", true
	}
	if len(f.stops) == 0 {
		return delta, false
	}
	f.buf.WriteString(delta)
	text := f.buf.String()

	cut := -1
	for _, stop := range f.stops {
		if idx := strings.Index(text, stop); idx >= 0 && (cut < 0 || idx < cut) {
			cut = idx
		}
	}
	if cut >= 0 {
		f.stopped = true
		f.buf.Reset()
		return text[:cut], true
	}

	hold := f.longestPartialSuffix(text)
	f.buf.Reset()
	f.buf.WriteString(text[len(text)-hold:])
	return text[:len(text)-hold], false
}

// Flush releases the withheld tail. Called when the stream ends without a
// match or when a non-text event must not overtake buffered text.
func (f *stopFilter) Flush() string {
	if f.stopped {
		return ""
	}
	out := f.buf.String()
	f.buf.Reset()
	return out
}

func (f *stopFilter) longestPartialSuffix(text string) int {
	longest := 0
	for _, stop := range f.stops {
		max := len(stop) - 1
		if max > len(text) {
			max = len(text)
		}
		for n := max; n > longest; n-- {
			if strings.HasSuffix(text, stop[:n]) {
				longest = n
				break
			}
		}
	}
	return longest
}
