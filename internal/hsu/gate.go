package hsu

import (
	"runtime"
	"sync"
	"time"

	"go.uber.org/atomic"
)

// Gate is the reference-counted start/stop latch of a port.
//
// accepting is true exactly while openCount > 0. closing is set on the
// 1->0 transition and cleared by the next 0->1 transition. quiesced is
// written by the executor when it consumes QueueShutdown and read by the
// goroutine waiting in leave.
type Gate struct {
	mu        sync.Mutex
	openCount int
	accepting bool
	closing   bool

	quiesced atomic.Bool
}

// open increments the nesting count and reports a 0->1 transition.
func (g *Gate) open() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.openCount++
	if g.openCount != 1 {
		return false
	}
	g.accepting = true
	g.closing = false
	return true
}

// close decrements the nesting count and reports a 1->0 transition. An
// unbalanced close is a programming error.
func (g *Gate) close() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.openCount == 0 {
		panic("hsu: gate leave without matching enter")
	}
	g.openCount--
	if g.openCount != 0 {
		return false
	}
	g.accepting = false
	g.closing = true
	g.quiesced.Store(false)
	return true
}

// Accepting reports whether commands are dispatched as they arrive.
func (g *Gate) Accepting() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.accepting
}

// Depth returns the current nesting count.
func (g *Gate) Depth() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.openCount
}

func (g *Gate) markQuiesced() { g.quiesced.Store(true) }

// waitQuiesced spins, yielding the processor, until the executor reports
// quiescence or timeout elapses.
func (g *Gate) waitQuiesced(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for spins := 0; !g.quiesced.Load(); spins++ {
		if spins&63 == 0 && time.Now().After(deadline) {
			return g.quiesced.Load()
		}
		runtime.Gosched()
	}
	return true
}
