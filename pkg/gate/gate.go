// Package gate provides the process-wide single-flight lock that serializes
// every operation touching the browser session or its persisted profile.
//
// Waiters are served strictly in arrival order and there is no timeout.
package gate

import "sync"

// Gate is a FIFO mutual-exclusion lock. The zero value is unlocked.
type Gate struct {
	mu      sync.Mutex
	held    bool
	waiters []chan struct{}
}

// New returns an unlocked Gate.
func New() *Gate {
	return &Gate{}
}

// Acquire blocks until the caller owns the gate and returns the function
// that releases it. The release function is safe to call more than once;
// only the first call has effect.
func (g *Gate) Acquire() (release func()) {
	g.mu.Lock()
	if !g.held {
		g.held = true
		g.mu.Unlock()
		return g.releaser()
	}

	turn := make(chan struct{})
	g.waiters = append(g.waiters, turn)
	g.mu.Unlock()

	// Ownership is handed over directly by release, so held stays true.
	<-turn
	return g.releaser()
}

// Waiting returns the number of callers queued behind the current owner.
func (g *Gate) Waiting() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.waiters)
}

// Held reports whether some caller owns the gate.
func (g *Gate) Held() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.held
}

func (g *Gate) releaser() func() {
	var once sync.Once
	return func() {
		once.Do(g.release)
	}
}

func (g *Gate) release() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.waiters) == 0 {
		g.held = false
		return
	}
	next := g.waiters[0]
	g.waiters[0] = nil
	g.waiters = g.waiters[1:]
	close(next)
}
