package hsu

import "go.uber.org/atomic"

// Stats holds the diagnostic counters of one port. They are observability
// only and never drive control flow.
type Stats struct {
	Enqueued  atomic.Uint64 // pushes that landed in the ring
	Coalesced atomic.Uint64 // pushes dropped as duplicates
	Overflows atomic.Uint64 // pushes that hit a full ring
	Executed  atomic.Uint64 // commands popped by the executor
	Unknown   atomic.Uint64 // invalid command codes skipped
	HwErrors  atomic.Uint64 // Apply calls that returned an error
	Discarded atomic.Uint64 // commands dropped behind QueueShutdown
	Drains    atomic.Uint64 // executor invocations

	active    atomic.Int32
	MaxActive atomic.Int32 // high-water mark of concurrent executors

	perCommand [numCommands]atomic.Uint64
}

// Snapshot is a point-in-time copy of Stats.
type Snapshot struct {
	Port       string            `json:"port"`
	Mode       string            `json:"mode"`
	Enqueued   uint64            `json:"enqueued"`
	Coalesced  uint64            `json:"coalesced"`
	Overflows  uint64            `json:"overflows"`
	Executed   uint64            `json:"executed"`
	Unknown    uint64            `json:"unknown"`
	HwErrors   uint64            `json:"hwErrors"`
	Discarded  uint64            `json:"discarded"`
	Drains     uint64            `json:"drains"`
	MaxActive  int32             `json:"maxActive"`
	QueueDepth int               `json:"queueDepth"`
	GateDepth  int               `json:"gateDepth"`
	PerCommand map[string]uint64 `json:"perCommand"`
}

// Count returns how many times cmd was executed.
func (s *Stats) Count(cmd Command) uint64 {
	if !cmd.valid() {
		return 0
	}
	return s.perCommand[cmd].Load()
}

func (s *Stats) executorIn() {
	n := s.active.Inc()
	for {
		max := s.MaxActive.Load()
		if n <= max || s.MaxActive.CompareAndSwap(max, n) {
			return
		}
	}
}

func (s *Stats) executorOut() { s.active.Dec() }

func (s *Stats) snapshot() Snapshot {
	snap := Snapshot{
		Enqueued:   s.Enqueued.Load(),
		Coalesced:  s.Coalesced.Load(),
		Overflows:  s.Overflows.Load(),
		Executed:   s.Executed.Load(),
		Unknown:    s.Unknown.Load(),
		HwErrors:   s.HwErrors.Load(),
		Discarded:  s.Discarded.Load(),
		Drains:     s.Drains.Load(),
		MaxActive:  s.MaxActive.Load(),
		PerCommand: make(map[string]uint64),
	}
	for i := range s.perCommand {
		if n := s.perCommand[i].Load(); n > 0 {
			snap.PerCommand[Command(i).String()] = n
		}
	}
	return snap
}
