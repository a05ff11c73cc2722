package hsu

import (
	"context"
	"fmt"
	"time"

	"github.com/edgexfoundry/go-mod-core-contracts/v4/clients/logger"
	"github.com/edgexfoundry/go-mod-core-contracts/v4/errors"
)

// MaxPorts is the number of port slots in a Controller.
const MaxPorts = 8

// PortConfig describes one port slot.
type PortConfig struct {
	Name         string
	Mode         Mode
	RingSize     int
	DrainTimeout time.Duration
}

// Controller owns the fixed port table and the shared dispatcher.
type Controller struct {
	ports [MaxPorts]Port
	n     int
	disp  *Dispatcher
	lc    logger.LoggingClient
}

// NewController builds one port per config entry, in order, so that the
// i-th entry becomes port i. workers sizes the deferred-work pool and is
// raised to the port count when smaller.
func NewController(cfgs []PortConfig, workers int, hw Hardware, lc logger.LoggingClient) (*Controller, error) {
	if len(cfgs) == 0 || len(cfgs) > MaxPorts {
		return nil, errors.NewCommonEdgeX(errors.KindContractInvalid,
			fmt.Sprintf("port count %d outside 1..%d", len(cfgs), MaxPorts), nil)
	}
	if hw == nil {
		return nil, errors.NewCommonEdgeX(errors.KindContractInvalid, "nil hardware", nil)
	}
	if workers < len(cfgs) {
		workers = len(cfgs)
	}
	disp, err := NewDispatcher(workers, MaxPorts, lc)
	if err != nil {
		return nil, err
	}

	c := &Controller{n: len(cfgs), disp: disp, lc: lc}
	seen := make(map[string]bool, len(cfgs))
	for i, cfg := range cfgs {
		if cfg.Name == "" || seen[cfg.Name] {
			disp.Stop()
			return nil, errors.NewCommonEdgeX(errors.KindContractInvalid,
				fmt.Sprintf("port %d: empty or duplicate name %q", i, cfg.Name), nil)
		}
		seen[cfg.Name] = true
		timeout := cfg.DrainTimeout
		if timeout <= 0 {
			timeout = DefaultDrainTimeout
		}
		p := &c.ports[i]
		p.index = i
		p.name = cfg.Name
		p.mode = cfg.Mode
		p.drainTimeout = timeout
		p.ring = NewRing(cfg.RingSize)
		p.hw = hw
		p.disp = disp
		p.lc = lc
	}
	return c, nil
}

// Start launches the reactor backend.
func (c *Controller) Start(ctx context.Context) {
	c.disp.Start(ctx)
}

// Stop shuts both backends down. Gates should be closed first.
func (c *Controller) Stop() {
	c.disp.Stop()
}

// Len returns the number of configured ports.
func (c *Controller) Len() int { return c.n }

// Port returns port i.
func (c *Controller) Port(i int) (*Port, error) {
	if i < 0 || i >= c.n {
		return nil, errors.NewCommonEdgeX(errors.KindEntityDoesNotExist,
			fmt.Sprintf("port %d not configured", i), nil)
	}
	return &c.ports[i], nil
}

// PortByName looks a port up by its configured name.
func (c *Controller) PortByName(name string) (*Port, error) {
	for i := 0; i < c.n; i++ {
		if c.ports[i].name == name {
			return &c.ports[i], nil
		}
	}
	return nil, errors.NewCommonEdgeX(errors.KindEntityDoesNotExist,
		fmt.Sprintf("port %q not configured", name), nil)
}

// Enqueue queues cmd on port i. It is fire-and-forget: an unknown port is
// logged and the command dropped.
func (c *Controller) Enqueue(i int, cmd Command) {
	p, err := c.Port(i)
	if err != nil {
		c.lc.Errorf("hsu: dropping %s: %v", cmd, err)
		return
	}
	p.Enqueue(cmd)
}

func (c *Controller) GateEnter(i int) error {
	p, err := c.Port(i)
	if err != nil {
		return err
	}
	p.GateEnter()
	return nil
}

func (c *Controller) GateLeave(i int) error {
	p, err := c.Port(i)
	if err != nil {
		return err
	}
	return p.GateLeaveIfOpen()
}

// Snapshots returns the counters of every port.
func (c *Controller) Snapshots() []Snapshot {
	out := make([]Snapshot, c.n)
	for i := 0; i < c.n; i++ {
		out[i] = c.ports[i].Snapshot()
	}
	return out
}
