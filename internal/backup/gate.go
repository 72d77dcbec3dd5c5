package backup

import (
	"sync"
	"time"
)

// DefaultRollbackMinInterval is the minimum spacing between user-facing
// rollbacks.
const DefaultRollbackMinInterval = 10 * time.Second

// RollbackGate rate-limits user-facing rollbacks. Allow reports whether
// enough time has passed since the last recorded rollback; callers record
// only rollbacks that actually succeeded, so a rejected or failed attempt
// does not extend the window.
type RollbackGate struct {
	clock       Clock
	minInterval time.Duration

	mu   sync.Mutex
	last time.Time
}

func NewRollbackGate(clock Clock, minInterval time.Duration) *RollbackGate {
	return &RollbackGate{clock: clock, minInterval: minInterval}
}

// Allow reports whether a rollback may proceed now.
func (g *RollbackGate) Allow() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.last.IsZero() {
		return true
	}
	return g.clock.Now().Sub(g.last) >= g.minInterval
}

// Record notes a completed rollback, opening a new throttle window.
func (g *RollbackGate) Record() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.last = g.clock.Now()
}
