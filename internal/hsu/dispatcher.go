package hsu

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/edgexfoundry/go-mod-core-contracts/v4/clients/logger"
	"github.com/edgexfoundry/go-mod-core-contracts/v4/errors"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/atomic"
)

// Mode selects the backend that runs a port's executor. It is fixed when
// the port is configured.
type Mode uint8

const (
	// UsesDeferredWork runs the executor on a worker pool goroutine that
	// may block. Used for PIO ports.
	UsesDeferredWork Mode = iota
	// UsesReactor runs the executor on the shared non-blocking reactor
	// goroutine. Used for DMA ports.
	UsesReactor
)

func (m Mode) String() string {
	switch m {
	case UsesDeferredWork:
		return "pio"
	case UsesReactor:
		return "dma"
	}
	return fmt.Sprintf("Mode(%d)", uint8(m))
}

// ParseMode accepts "pio" or "dma".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "pio":
		return UsesDeferredWork, nil
	case "dma":
		return UsesReactor, nil
	}
	return 0, fmt.Errorf("unknown port mode %q", s)
}

// Dispatcher hands ports with pending work to their backend.
type Dispatcher struct {
	lc      logger.LoggingClient
	pool    *ants.Pool
	reactor chan *Port

	running atomic.Bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewDispatcher creates both backends. workers bounds the deferred-work
// pool and depth the reactor run queue; each must be at least the number
// of ports so that a submit never fails.
func NewDispatcher(workers, depth int, lc logger.LoggingClient) (*Dispatcher, error) {
	pool, err := ants.NewPool(workers,
		ants.WithNonblocking(true),
		ants.WithPanicHandler(func(v any) {
			lc.Errorf("hsu: deferred executor panicked: %v", v)
		}))
	if err != nil {
		return nil, errors.NewCommonEdgeX(errors.KindServiceUnavailable, "create deferred-work pool", err)
	}
	return &Dispatcher{
		lc:      lc,
		pool:    pool,
		reactor: make(chan *Port, depth),
		done:    make(chan struct{}),
	}, nil
}

// Start launches the reactor goroutine. It stops when ctx is cancelled or
// Stop is called.
func (d *Dispatcher) Start(ctx context.Context) {
	if !d.running.CompareAndSwap(false, true) {
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for {
			select {
			case p := <-d.reactor:
				d.run(p)
			case <-ctx.Done():
				return
			case <-d.done:
				return
			}
		}
	}()
}

// Stop terminates the reactor and releases the worker pool.
func (d *Dispatcher) Stop() {
	if d.running.CompareAndSwap(true, false) {
		close(d.done)
		d.wg.Wait()
	}
	d.pool.Release()
}

// notify schedules p unless its executor is already outstanding.
func (d *Dispatcher) notify(p *Port) {
	if !p.guard.CompareAndSwap(false, true) {
		return
	}
	d.submit(p)
}

func (d *Dispatcher) submit(p *Port) {
	switch p.mode {
	case UsesDeferredWork:
		if err := d.pool.Submit(func() { d.run(p) }); err != nil {
			p.guard.Store(false)
			d.lc.Errorf("hsu %s: deferred submit failed: %v", p.name, err)
		}
	case UsesReactor:
		select {
		case d.reactor <- p:
		default:
			p.guard.Store(false)
			d.lc.Errorf("hsu %s: reactor run queue full", p.name)
		}
	}
}

// run drains p and releases its guard. A push that lands between the
// final empty Pop and the release finds the guard still set, so run
// checks again and takes the guard back when there is work left.
func (d *Dispatcher) run(p *Port) {
	for {
		p.drain()
		p.guard.Store(false)
		if !p.runnable() || !p.guard.CompareAndSwap(false, true) {
			return
		}
	}
}
