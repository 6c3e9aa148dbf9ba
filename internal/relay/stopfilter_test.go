package relay

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStopFilterNoStops(t *testing.T) {
	f := newStopFilter(nil)
	out, hit := f.Feed("anything goes")
	assert.Equal(t, "anything goes", out)
	assert.False(t, hit)
	assert.Empty(t, f.Flush())
}

func TestStopFilterWithholdsPartialMatch(t *testing.T) {
	f := newStopFilter([]string{"STOP"})

	out, hit := f.Feed("hello ST")
	assert.Equal(t, "hello ", out)
	assert.False(t, hit)

	// The withheld tail is released once it can no longer grow into a stop.
	out, hit = f.Feed("ILL going")
	assert.Equal(t, "STILL going", out)
	assert.False(t, hit)
}

func TestStopFilterMatchAcrossDeltas(t *testing.T) {
	f := newStopFilter([]string{"STOP"})

	out, _ := f.Feed("before ST")
	assert.Equal(t, "before ", out)

	out, hit := f.Feed("OP and after")
	assert.Empty(t, out)
	assert.True(t, hit)

	// Everything after the match stays discarded.
	out, hit = f.Feed("more")
	assert.Empty(t, out)
	assert.True(t, hit)
	assert.Empty(t, f.Flush())
}

func TestStopFilterEarliestOfMultipleStops(t *testing.T) {
	f := newStopFilter([]string{"ZZZ", "END"})
	out, hit := f.Feed("abcENDdefZZZ")
	assert.Equal(t, "abc", out)
	assert.True(t, hit)
}

func TestStopFilterFlushReleasesTail(t *testing.T) {
	f := newStopFilter([]string{"STOP"})
	out, _ := f.Feed("trailing S")
	assert.Equal(t, "trailing ", out)
	assert.Equal(t, "S", f.Flush())
}
