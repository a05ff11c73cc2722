package serial

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/edgexfoundry/go-mod-core-contracts/v4/clients/logger"

	"github.com/linjuya-lu/device_hsu_go/internal/config"
	"github.com/linjuya-lu/device_hsu_go/internal/hsu"
)

type fakePort struct {
	name string
	rx   chan []byte

	mu         sync.Mutex
	written    bytes.Buffer
	failWrites int
	flushes    int
	hold       chan struct{} // when set, Write waits on it
	held       int

	closeOnce sync.Once
	closed    chan struct{}
}

func newFakePort(name string) *fakePort {
	return &fakePort{name: name, rx: make(chan []byte, 16), closed: make(chan struct{})}
}

func (f *fakePort) Open() error { return nil }

func (f *fakePort) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakePort) Read(p []byte) (int, error) {
	select {
	case b := <-f.rx:
		return copy(p, b), nil
	case <-f.closed:
		return 0, io.EOF
	case <-time.After(5 * time.Millisecond):
		return 0, nil
	}
}

func (f *fakePort) Write(p []byte) (int, error) {
	f.mu.Lock()
	hold := f.hold
	if hold != nil {
		f.held++
	}
	f.mu.Unlock()
	if hold != nil {
		<-hold
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWrites > 0 {
		f.failWrites--
		return 0, errors.New("tx fifo busy")
	}
	return f.written.Write(p)
}

func (f *fakePort) Flush() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushes++
	return nil
}

func (f *fakePort) Name() string { return f.name }

// holdWrites makes every Write block until the returned func is called.
func (f *fakePort) holdWrites() (release func()) {
	ch := make(chan struct{})
	f.mu.Lock()
	f.hold = ch
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		f.hold = nil
		f.mu.Unlock()
		close(ch)
	}
}

func (f *fakePort) blockedWrites() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.held
}

func (f *fakePort) output() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.written.String()
}

type frameLog struct {
	mu     sync.Mutex
	frames [][]byte
}

func (l *frameLog) sink(_ string, frame []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.frames = append(l.frames, frame)
}

func (l *frameLog) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.frames)
}

type rig struct {
	hw   *Hardware
	ctrl *hsu.Controller
	port *fakePort
	p    *hsu.Port
	log  *frameLog
}

func newRig(t *testing.T, pc config.Port) *rig {
	t.Helper()
	lc := logger.NewMockClient()
	if pc.Name == "" {
		pc.Name = "hsu0"
	}
	if pc.Protocol == "" {
		pc.Protocol = "raw"
	}
	if pc.RingSize == 0 {
		pc.RingSize = 16
	}
	fp := newFakePort(pc.Name)
	fl := &frameLog{}
	hw, err := NewHardware([]config.Port{pc}, []Port{fp}, fl.sink, lc)
	if err != nil {
		t.Fatalf("NewHardware: %v", err)
	}
	hw.RetryDelay = time.Millisecond
	cfg := config.HsuConfig{Ports: []config.Port{pc}}
	ctrl, err := hsu.NewController(cfg.PortConfigs(), 1, hw, lc)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	hw.Attach(ctrl)
	ctrl.Start(t.Context())
	hw.Run(t.Context())
	t.Cleanup(func() {
		hw.Close()
		ctrl.Stop()
	})
	p, _ := ctrl.Port(0)
	return &rig{hw: hw, ctrl: ctrl, port: fp, p: p, log: fl}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestHardware_PIOSend(t *testing.T) {
	r := newRig(t, config.Port{Mode: "pio"})
	r.p.GateEnter()
	if err := r.hw.Send(0, []byte("hello")); err != nil {
		t.Fatal(err)
	}
	if err := r.p.GateLeave(); err != nil {
		t.Fatal(err)
	}
	if got := r.port.output(); got != "hello" {
		t.Fatalf("wrote %q; want hello", got)
	}
}

func TestHardware_PIOSendRetriesThenKeepsData(t *testing.T) {
	r := newRig(t, config.Port{Mode: "pio"})
	r.port.failWrites = 2
	r.p.GateEnter()
	r.hw.Send(0, []byte("ok"))
	if err := r.p.GateLeave(); err != nil {
		t.Fatal(err)
	}
	if got := r.port.output(); got != "ok" {
		t.Fatalf("wrote %q after retries", got)
	}

	r.port.failWrites = 100
	r.p.GateEnter()
	r.hw.Send(0, []byte("lost?"))
	if err := r.p.GateLeave(); err != nil {
		t.Fatal(err)
	}
	if n := r.p.Stats().HwErrors.Load(); n != 1 {
		t.Fatalf("HwErrors = %d; want 1", n)
	}

	r.port.failWrites = 0
	r.p.GateEnter()
	r.p.Enqueue(hsu.StartTx)
	if err := r.p.GateLeave(); err != nil {
		t.Fatal(err)
	}
	if got := r.port.output(); got != "oklost?" {
		t.Fatalf("wrote %q; want retained data sent", got)
	}
}

func TestHardware_DMASendCompletesWithDmaIrq(t *testing.T) {
	r := newRig(t, config.Port{Mode: "dma"})
	r.p.GateEnter()
	r.hw.Send(0, []byte("abc"))
	waitFor(t, func() bool { return r.p.Stats().Count(hsu.DmaIrq) == 1 })
	r.hw.Send(0, []byte("def"))
	waitFor(t, func() bool { return r.port.output() == "abcdef" })
	if err := r.p.GateLeave(); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return !r.hw.Quiescing(0) })
}

func TestHardware_RxFramesReachSink(t *testing.T) {
	r := newRig(t, config.Port{Mode: "dma", Protocol: "customProto16"})
	r.p.GateEnter()
	defer r.p.GateLeave()
	r.p.Enqueue(hsu.StartRx)
	waitFor(t, func() bool { return r.p.Stats().Count(hsu.StartRx) == 1 })

	r.port.rx <- []byte{0x00, 0x16, 0x01, 0x33}
	waitFor(t, func() bool { return r.log.count() == 1 })
	waitFor(t, func() bool { return r.p.Stats().Count(hsu.EnableIrq) >= 1 })

	r.port.rx <- []byte{0x16, 0x02}
	r.port.rx <- []byte{0x33}
	waitFor(t, func() bool { return r.log.count() == 2 })

	r.log.mu.Lock()
	defer r.log.mu.Unlock()
	if !bytes.Equal(r.log.frames[0], []byte{0x16, 0x01, 0x33}) || !bytes.Equal(r.log.frames[1], []byte{0x16, 0x02, 0x33}) {
		t.Fatalf("frames % X", r.log.frames)
	}
}

func TestHardware_RxIgnoredUntilStarted(t *testing.T) {
	r := newRig(t, config.Port{Mode: "pio"})
	r.p.GateEnter()
	r.port.rx <- []byte("early")
	time.Sleep(30 * time.Millisecond)
	if err := r.p.GateLeave(); err != nil {
		t.Fatal(err)
	}
	if r.log.count() != 0 || r.p.Stats().Count(hsu.PortIrq) != 0 {
		t.Fatal("rx delivered before StartRx")
	}
}

func TestHardware_ModemControlLoopback(t *testing.T) {
	r := newRig(t, config.Port{Mode: "pio"})
	r.p.GateEnter()
	r.hw.SetModemControl(0, MCRDTR|MCRRTS)
	r.hw.SetInterruptEnable(0, 0x0f)
	r.p.Enqueue(hsu.GetModemStatus)
	r.p.Enqueue(hsu.ConsoleFlush)
	if err := r.p.GateLeave(); err != nil {
		t.Fatal(err)
	}
	msr, err := r.hw.ModemStatus(0)
	if err != nil {
		t.Fatal(err)
	}
	if want := byte(MSRDCD | MSRDSR | MSRCTS); msr != want {
		t.Fatalf("MSR = %#02x; want %#02x", msr, want)
	}
	if r.port.flushes != 1 {
		t.Fatalf("flushes = %d; want 1", r.port.flushes)
	}
}

func TestNewHardware_Rejects(t *testing.T) {
	lc := logger.NewMockClient()
	if _, err := NewHardware([]config.Port{{Name: "a", Protocol: "bogus"}}, []Port{newFakePort("a")}, nil, lc); err == nil {
		t.Fatal("expected error for unknown protocol")
	}
	if _, err := NewHardware([]config.Port{{Name: "a"}}, nil, nil, lc); err == nil {
		t.Fatal("expected error for missing port")
	}
	hw, _ := NewHardware(nil, nil, nil, lc)
	if _, err := hw.Apply(3, hsu.StartTx); err == nil {
		t.Fatal("expected error for unknown port")
	}
}

func TestHardware_RxSurvivesGateCycleWithInterruptInFlight(t *testing.T) {
	r := newRig(t, config.Port{})
	r.p.GateEnter()
	r.p.Enqueue(hsu.StartRx)
	r.p.Enqueue(hsu.EnableIrq)

	r.port.rx <- []byte("a")
	waitFor(t, func() bool { return r.log.count() == 1 })

	release := r.port.holdWrites()
	if err := r.hw.Send(0, []byte("tx")); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return r.port.blockedWrites() == 1 })

	// the line disarms on this byte; its PortIrq waits behind the stuck StartTx
	r.port.rx <- []byte("b")
	waitFor(t, func() bool {
		pending := r.p.Pending()
		return len(pending) == 1 && pending[0] == hsu.PortIrq
	})

	left := make(chan error, 1)
	go func() { left <- r.p.GateLeave() }()
	waitFor(t, func() bool { return len(r.p.Pending()) == 2 })
	release()
	select {
	case err := <-left:
		if err != nil {
			t.Fatalf("GateLeave: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("GateLeave did not return")
	}
	if got := r.log.count(); got != 2 {
		t.Fatalf("frames before reopen = %d; want 2", got)
	}
	if n := r.p.Stats().Discarded.Load(); n != 1 {
		t.Fatalf("Discarded = %d; want the EnableIrq follow-up", n)
	}

	r.p.GateEnter()
	r.port.rx <- []byte("c")
	waitFor(t, func() bool { return r.log.count() == 3 })
}
