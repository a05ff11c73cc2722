package hsu

import "fmt"

// drain pops and applies commands until the ring is empty or
// QueueShutdown is consumed. Only a backend holding the port guard calls
// it.
func (p *Port) drain() {
	p.stats.executorIn()
	defer p.stats.executorOut()
	p.stats.Drains.Inc()

	for {
		cmd, ok := p.ring.Pop()
		if !ok {
			return
		}
		p.stats.Executed.Inc()
		if !cmd.valid() {
			p.stats.Unknown.Inc()
			p.lc.Errorf("hsu %s: skipping unknown command %s", p.name, cmd)
			continue
		}
		p.stats.perCommand[cmd].Inc()

		switch cmd {
		case QueueShutdown:
			if p.gate.Accepting() {
				// left over from a leave that timed out before a re-enter
				p.lc.Debugf("hsu %s: ignoring stale shutdown", p.name)
				continue
			}
			if dropped := p.ring.discard(); len(dropped) > 0 {
				p.stats.Discarded.Add(uint64(len(dropped)))
				p.holdForReopen(dropped)
				p.lc.Debugf("hsu %s: held %d commands behind shutdown until the gate reopens", p.name, len(dropped))
			}
			p.gate.markQuiesced()
			return
		case Overflow:
			p.lc.Warnf("hsu %s: command queue overflowed (quiescing=%t)", p.name, p.quiescing())
			continue
		}
		p.apply(cmd)
	}
}

// apply runs one command on the hardware. Failures are logged and counted
// but never retried here.
func (p *Port) apply(cmd Command) {
	effect, err := p.safeApply(cmd)
	if err != nil {
		p.stats.HwErrors.Inc()
		p.lc.Errorf("hsu %s: %s failed: %v", p.name, cmd, err)
	}
	if next, ok := effect.FollowUp(); ok {
		p.Enqueue(next)
	}
}

func (p *Port) safeApply(cmd Command) (effect Effect, err error) {
	defer func() {
		if r := recover(); r != nil {
			effect, err = NoEffect, fmt.Errorf("panic: %v", r)
		}
	}()
	return p.hw.Apply(p.index, cmd)
}

func (p *Port) quiescing() bool {
	if h, ok := p.hw.(QuiescenceHinter); ok {
		return h.Quiescing(p.index)
	}
	return false
}
