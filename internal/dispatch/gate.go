package dispatch

import (
	"sync"
	"sync/atomic"
)

// Gate admits one job at a time into the launch-and-await section. Waiters
// are not queued in any particular order.
type Gate struct {
	mu      sync.Mutex
	waiters atomic.Int32

	// onWaiters, when set, observes every change of the waiter count.
	onWaiters func(int)
}

// NewGate returns an open gate. onWaiters may be nil.
func NewGate(onWaiters func(int)) *Gate {
	return &Gate{onWaiters: onWaiters}
}

// WithExclusiveJobSlot blocks until the gate is free, runs fn, and releases
// the gate on every exit path, including a panic in fn.
func (g *Gate) WithExclusiveJobSlot(fn func() error) error {
	g.notify(g.waiters.Add(1))
	g.mu.Lock()
	g.notify(g.waiters.Add(-1))
	defer g.mu.Unlock()

	return fn()
}

// Waiters reports goroutines currently blocked on the gate.
func (g *Gate) Waiters() int {
	return int(g.waiters.Load())
}

func (g *Gate) notify(n int32) {
	if g.onWaiters != nil {
		g.onWaiters(int(n))
	}
}
