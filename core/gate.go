package core

import (
	"sync"
	"time"
)

// DefaultUpdatePeriod is the minimum simulation time between processed
// snapshots.
const DefaultUpdatePeriod = 50 * time.Millisecond

// PublishGate throttles snapshot processing and suppresses publishing twice
// at the same stamp, which transform consumers treat as ambiguous ordering.
type PublishGate struct {
	mu     sync.Mutex
	period time.Duration

	lastProcessed time.Time
	lastPublished time.Time
	processed     bool
	published     bool
}

// NewPublishGate returns a gate with the given minimum processing period.
// A negative period is treated as zero.
func NewPublishGate(period time.Duration) *PublishGate {
	if period < 0 {
		period = 0
	}
	return &PublishGate{period: period}
}

// Period returns the configured minimum processing interval.
func (g *PublishGate) Period() time.Duration { return g.period }

// Admit reports whether a snapshot stamped t should be processed, and
// records it as the last processed stamp if so. A stamp earlier than the
// last processed one means the simulation was reset; the gate starts over.
func (g *PublishGate) Admit(t time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.processed && t.Before(g.lastProcessed) {
		g.resetLocked()
	}
	if g.processed && t.Sub(g.lastProcessed) < g.period {
		return false
	}
	g.lastProcessed = t
	g.processed = true
	return true
}

// ShouldPublish reports whether the transforms of a processed snapshot
// stamped t may be broadcast, and records t as published if so.
func (g *PublishGate) ShouldPublish(t time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.published && t.Equal(g.lastPublished) {
		return false
	}
	g.lastPublished = t
	g.published = true
	return true
}

// Reset forgets both stamps.
func (g *PublishGate) Reset() {
	g.mu.Lock()
	g.resetLocked()
	g.mu.Unlock()
}

func (g *PublishGate) resetLocked() {
	g.lastProcessed = time.Time{}
	g.lastPublished = time.Time{}
	g.processed = false
	g.published = false
}
