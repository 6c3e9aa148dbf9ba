// Package ratelimit holds the per-provider-family circuit gates that decide
// whether a direct-OAuth path is currently disabled.
package ratelimit

import (
	"sync/atomic"
	"time"
)

// DefaultCooldown is applied when an upstream gives no precise reset time.
const DefaultCooldown = 5 * time.Minute

// Gate is a time-boxed disable flag for one provider family. It is
// process-wide and safe for concurrent use: the state is a single atomic
// timestamp, and races around the disable transition may let one extra
// request through, which is accepted.
type Gate struct {
	// disabledUntil is unix nanos; zero means the gate is inactive.
	disabledUntil atomic.Int64
	cooldown      time.Duration
}

// NewGate creates a gate with the given default cooldown. A non-positive
// cooldown falls back to DefaultCooldown.
func NewGate(cooldown time.Duration) *Gate {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Gate{cooldown: cooldown}
}

// Mark disables the gate for the default cooldown from now.
func (g *Gate) Mark() {
	g.MarkUntil(time.Now().Add(g.cooldown))
}

// MarkUntil disables the gate until the given time, verbatim. Callers
// passing upstream-reported reset times must revalidate on the next attempt:
// a time already in the past simply leaves the gate inactive.
func (g *Gate) MarkUntil(t time.Time) {
	g.disabledUntil.Store(t.UnixNano())
}

// IsActive reports whether the gate currently blocks the path. Expired
// state is cleared lazily on read.
func (g *Gate) IsActive() bool {
	until := g.disabledUntil.Load()
	if until == 0 {
		return false
	}
	if time.Now().UnixNano() >= until {
		// Lazy expiry; a concurrent Mark losing this race re-disables,
		// which is the fresher information anyway.
		g.disabledUntil.CompareAndSwap(until, 0)
		return false
	}
	return true
}

// Reset clears the gate, e.g. after a credential reconnection.
func (g *Gate) Reset() {
	g.disabledUntil.Store(0)
}
