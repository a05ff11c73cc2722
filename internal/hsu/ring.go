package hsu

import "sync"

const minRingSize = 2

// PushResult reports what Push did with a command.
type PushResult uint8

const (
	Queued PushResult = iota
	Coalesced
	Overflowed
)

// Ring is a fixed-capacity command FIFO. Push is safe from any goroutine
// and never blocks beyond the head/tail critical section. Pop must only
// be called by the port's executor.
type Ring struct {
	mu   sync.Mutex
	buf  []Command
	mask uint32
	head uint32 // next write
	tail uint32 // next read
}

// NewRing returns a ring whose capacity is size rounded up to a power of
// two.
func NewRing(size int) *Ring {
	n := roundToPow2(size)
	return &Ring{
		buf:  make([]Command, n),
		mask: uint32(n - 1),
	}
}

func roundToPow2(n int) int {
	if n < minRingSize {
		return minRingSize
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// Cap returns the ring capacity.
func (r *Ring) Cap() int { return len(r.buf) }

// Len returns the number of pending commands.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int(r.head - r.tail)
}

// Push queues cmd. A command equal to the newest pending one is dropped
// unless it is an interrupt-style command. On a full ring the newest slot
// is replaced by Overflow, or by QueueShutdown when that is what is being
// queued.
func (r *Ring) Push(cmd Command) PushResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	used := r.head - r.tail
	if used > 0 {
		last := &r.buf[(r.head-1)&r.mask]
		if *last == cmd && cmd.coalescible() {
			return Coalesced
		}
		if used == uint32(len(r.buf)) {
			if cmd == QueueShutdown {
				*last = QueueShutdown
			} else {
				*last = Overflow
			}
			return Overflowed
		}
	}
	r.buf[r.head&r.mask] = cmd
	r.head++
	return Queued
}

// Pop removes the oldest pending command.
func (r *Ring) Pop() (Command, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.head == r.tail {
		return 0, false
	}
	cmd := r.buf[r.tail&r.mask]
	r.tail++
	return cmd, true
}

// discard drops every pending command and returns them, oldest first.
func (r *Ring) discard() []Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Command, 0, r.head-r.tail)
	for ; r.tail != r.head; r.tail++ {
		out = append(out, r.buf[r.tail&r.mask])
	}
	return out
}

// snapshot copies the pending commands, oldest first.
func (r *Ring) snapshot() []Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Command, 0, r.head-r.tail)
	for i := r.tail; i != r.head; i++ {
		out = append(out, r.buf[i&r.mask])
	}
	return out
}
