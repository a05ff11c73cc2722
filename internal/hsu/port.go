package hsu

import (
	"fmt"
	"sync"
	"time"

	"github.com/edgexfoundry/go-mod-core-contracts/v4/clients/logger"
	"github.com/edgexfoundry/go-mod-core-contracts/v4/errors"
	"go.uber.org/atomic"
)

const DefaultDrainTimeout = 2 * time.Second

// Port is the per-instance triple of ring, gate and dispatcher state.
// Hardware is only ever touched from drain, and drain never runs twice at
// once for the same Port.
type Port struct {
	index        int
	name         string
	mode         Mode
	drainTimeout time.Duration

	ring  *Ring
	gate  Gate
	ctl   sync.Mutex // serializes gate transitions
	guard atomic.Bool

	heldMu sync.Mutex
	held   []Command // discarded behind QueueShutdown, re-issued on reopen

	hw    Hardware
	disp  *Dispatcher
	lc    logger.LoggingClient
	stats Stats
}

func (p *Port) Index() int   { return p.index }
func (p *Port) Name() string { return p.name }
func (p *Port) Mode() Mode   { return p.mode }

// Enqueue queues cmd and wakes the executor when the gate is open. It
// never blocks and never fails; overflow and coalescing are only counted.
func (p *Port) Enqueue(cmd Command) {
	switch p.ring.Push(cmd) {
	case Coalesced:
		p.stats.Coalesced.Inc()
		return
	case Overflowed:
		p.stats.Overflows.Inc()
	default:
		p.stats.Enqueued.Inc()
	}
	if p.gate.Accepting() {
		p.disp.notify(p)
	}
}

// GateEnter opens the gate, or nests one level deeper when it is already
// open. The first open flushes whatever was queued while closed.
func (p *Port) GateEnter() {
	p.ctl.Lock()
	defer p.ctl.Unlock()
	if !p.gate.open() {
		return
	}
	for _, cmd := range p.takeHeld() {
		p.Enqueue(cmd)
	}
	p.lc.Debugf("hsu %s: gate open, %d pending", p.name, p.ring.Len())
	p.disp.notify(p)
}

// GateLeave drops one nesting level. The last leave queues QueueShutdown
// behind every pending command and waits until the executor has consumed
// it, so on a nil return nothing queued before the call is still in
// flight.
//
// An unbalanced GateLeave panics; callers that cannot track the nesting
// themselves use GateLeaveIfOpen.
func (p *Port) GateLeave() error {
	p.ctl.Lock()
	defer p.ctl.Unlock()
	return p.leaveLocked()
}

// GateLeaveIfOpen is GateLeave for callers racing each other: the check
// and the leave happen under the same lock, and a closed gate yields a
// KindContractInvalid error instead of a panic.
func (p *Port) GateLeaveIfOpen() error {
	p.ctl.Lock()
	defer p.ctl.Unlock()
	if p.gate.Depth() == 0 {
		return errors.NewCommonEdgeX(errors.KindContractInvalid,
			fmt.Sprintf("port %s: gate already closed", p.name), nil)
	}
	return p.leaveLocked()
}

func (p *Port) leaveLocked() error {
	if !p.gate.close() {
		return nil
	}
	p.Enqueue(QueueShutdown)
	p.disp.notify(p)
	if !p.gate.waitQuiesced(p.drainTimeout) {
		return errors.NewCommonEdgeX(errors.KindServerError,
			fmt.Sprintf("port %s did not quiesce within %s", p.name, p.drainTimeout), nil)
	}
	p.lc.Debugf("hsu %s: gate closed", p.name)
	return nil
}

// GateOpen reports whether the port currently accepts work.
func (p *Port) GateOpen() bool { return p.gate.Accepting() }

// Pending returns the commands waiting in the ring, oldest first.
func (p *Port) Pending() []Command { return p.ring.snapshot() }

// Stats returns the live counters of the port.
func (p *Port) Stats() *Stats { return &p.stats }

// Snapshot copies the counters together with queue and gate state.
func (p *Port) Snapshot() Snapshot {
	s := p.stats.snapshot()
	s.Port = p.name
	s.Mode = p.mode.String()
	s.QueueDepth = p.ring.Len()
	s.GateDepth = p.gate.Depth()
	return s
}

// holdForReopen keeps the commands a shutdown discarded so the next
// 0->1 gate transition can queue them again. Markers are not kept.
func (p *Port) holdForReopen(cmds []Command) {
	p.heldMu.Lock()
	defer p.heldMu.Unlock()
	for _, cmd := range cmds {
		if cmd == Overflow || cmd == QueueShutdown || !cmd.valid() {
			continue
		}
		p.held = append(p.held, cmd)
	}
}

func (p *Port) takeHeld() []Command {
	p.heldMu.Lock()
	defer p.heldMu.Unlock()
	cmds := p.held
	p.held = nil
	return cmds
}

// runnable reports whether a backend should (re)run the executor.
func (p *Port) runnable() bool {
	if p.ring.Len() == 0 {
		return false
	}
	p.gate.mu.Lock()
	defer p.gate.mu.Unlock()
	return p.gate.accepting || (p.gate.closing && !p.gate.quiesced.Load())
}
