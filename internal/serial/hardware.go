package serial

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/edgexfoundry/go-mod-core-contracts/v4/clients/logger"

	"github.com/linjuya-lu/device_hsu_go/internal/config"
	"github.com/linjuya-lu/device_hsu_go/internal/hsu"
)

// 影子寄存器中的 MCR/MSR 位
const (
	MCRDTR = 1 << 0
	MCRRTS = 1 << 1

	MSRCTS = 1 << 4
	MSRDSR = 1 << 5
	MSRDCD = 1 << 7
)

const (
	defaultRetries    = 3
	defaultRetryDelay = 10 * time.Millisecond
	readChunk         = 256
)

// Enqueuer 硬件通过它向命令队列“触发中断”
type Enqueuer interface {
	Enqueue(port int, cmd hsu.Command)
}

// FrameSink 接收从端口 RX 数据中解析出的每一帧
type FrameSink func(port string, frame []byte)

// line 为单个端口的状态。mu 之后的字段由执行器、读循环、DMA 发送协程
// 与 Send 共享，均需持锁访问。
type line struct {
	cfg   config.Port
	port  Port
	dma   bool
	parse FrameParser

	mu        sync.Mutex
	tx        []byte
	rx        []byte
	txRunning bool
	rxEnabled bool
	armed     bool
	dmaBusy   bool
	dmaErr    error
	wantMCR   byte
	wantIER   byte
	mcr       byte
	ier       byte
	msr       byte
}

// Hardware 基于一组串口实现 hsu.Hardware
type Hardware struct {
	lines []*line
	q     Enqueuer
	sink  FrameSink
	lc    logger.LoggingClient

	Retries    uint64
	RetryDelay time.Duration

	stop chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// NewHardware 包装已打开的串口：ports[i] 对应 cfgs[i]，即 hsu 端口 i
func NewHardware(cfgs []config.Port, ports []Port, sink FrameSink, lc logger.LoggingClient) (*Hardware, error) {
	if len(cfgs) != len(ports) {
		return nil, fmt.Errorf("%d port configs for %d ports", len(cfgs), len(ports))
	}
	h := &Hardware{
		sink:       sink,
		lc:         lc,
		Retries:    defaultRetries,
		RetryDelay: defaultRetryDelay,
		stop:       make(chan struct{}),
	}
	for i, cfg := range cfgs {
		parse, err := ParserFor(cfg.Protocol)
		if err != nil {
			return nil, fmt.Errorf("port %s: %w", cfg.Name, err)
		}
		mode, err := hsu.ParseMode(cfg.Mode)
		if err != nil {
			return nil, fmt.Errorf("port %s: %w", cfg.Name, err)
		}
		h.lines = append(h.lines, &line{
			cfg:   cfg,
			port:  ports[i],
			dma:   mode == hsu.UsesReactor,
			parse: parse,
		})
	}
	return h, nil
}

// OpenHardware 打开所有配置的串口并包装
func OpenHardware(cfgs []config.Port, sink FrameSink, lc logger.LoggingClient) (*Hardware, error) {
	ports := make([]Port, 0, len(cfgs))
	closeAll := func() {
		for _, p := range ports {
			p.Close()
		}
	}
	for _, pc := range cfgs {
		p, err := NewPort(pc)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("unsupported port %s: %w", pc.Name, err)
		}
		if err := p.Open(); err != nil {
			closeAll()
			return nil, fmt.Errorf("open port %s: %w", pc.Name, err)
		}
		ports = append(ports, p)
	}
	h, err := NewHardware(cfgs, ports, sink, lc)
	if err != nil {
		closeAll()
		return nil, err
	}
	return h, nil
}

// Attach 设置中断投递的命令队列，须在 Run 及首次 Apply 之前调用
func (h *Hardware) Attach(q Enqueuer) { h.q = q }

// Run 为每个端口启动读循环，ctx 结束时退出
func (h *Hardware) Run(ctx context.Context) {
	for i := range h.lines {
		h.wg.Add(1)
		go h.readLoop(ctx, i)
	}
}

// Close 关闭所有串口，并等待读循环与发送协程退出
func (h *Hardware) Close() error {
	h.once.Do(func() { close(h.stop) })
	var firstErr error
	for _, l := range h.lines {
		if err := l.port.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	h.wg.Wait()
	return firstErr
}

// Send 追加待发送数据并触发 StartTx
func (h *Hardware) Send(port int, data []byte) error {
	l, err := h.line(port)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.tx = append(l.tx, data...)
	l.mu.Unlock()
	h.q.Enqueue(port, hsu.StartTx)
	return nil
}

// SetModemControl 暂存 MCR 值，由下一条 SetModemControl 命令生效
func (h *Hardware) SetModemControl(port int, mcr byte) error {
	l, err := h.line(port)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.wantMCR = mcr
	l.mu.Unlock()
	h.q.Enqueue(port, hsu.SetModemControl)
	return nil
}

// SetInterruptEnable 暂存 IER 值，由下一条 SetInterruptEnable 命令生效
func (h *Hardware) SetInterruptEnable(port int, ier byte) error {
	l, err := h.line(port)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.wantIER = ier
	l.mu.Unlock()
	h.q.Enqueue(port, hsu.SetInterruptEnable)
	return nil
}

// Quiescing DMA 发送是否仍在进行
func (h *Hardware) Quiescing(port int) bool {
	l, err := h.line(port)
	if err != nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dmaBusy
}

func (h *Hardware) line(port int) (*line, error) {
	if port < 0 || port >= len(h.lines) {
		return nil, fmt.Errorf("port %d not configured", port)
	}
	return h.lines[port], nil
}

// Apply 在端口上执行 cmd，只在该端口的执行器中调用
func (h *Hardware) Apply(port int, cmd hsu.Command) (hsu.Effect, error) {
	l, err := h.line(port)
	if err != nil {
		return hsu.NoEffect, err
	}
	switch cmd {
	case hsu.StartTx:
		return h.startTx(port, l)
	case hsu.StopTx:
		l.mu.Lock()
		l.txRunning = false
		l.mu.Unlock()
	case hsu.DmaIrq:
		return h.dmaDone(l)
	case hsu.StartRx:
		l.mu.Lock()
		l.rxEnabled, l.armed = true, true
		l.mu.Unlock()
	case hsu.StopRx:
		l.mu.Lock()
		l.rxEnabled, l.rx = false, nil
		l.mu.Unlock()
	case hsu.PortIrq:
		return h.serviceRx(l)
	case hsu.EnableIrq:
		l.mu.Lock()
		l.armed = true
		pending := len(l.rx) > 0
		l.mu.Unlock()
		if pending {
			return hsu.Reenqueue(hsu.PortIrq), nil
		}
	case hsu.SetModemControl:
		l.mu.Lock()
		l.mcr = l.wantMCR
		mcr := l.mcr
		l.mu.Unlock()
		h.lc.Debugf("serial %s: MCR=%#02x", l.cfg.Name, mcr)
	case hsu.SetInterruptEnable:
		l.mu.Lock()
		l.ier = l.wantIER
		ier := l.ier
		l.mu.Unlock()
		h.lc.Debugf("serial %s: IER=%#02x", l.cfg.Name, ier)
	case hsu.GetModemStatus:
		// 串口驱动不提供 modem 线状态，由 MCR 回环得到
		l.mu.Lock()
		l.msr = MSRDCD
		if l.mcr&MCRDTR != 0 {
			l.msr |= MSRDSR
		}
		if l.mcr&MCRRTS != 0 {
			l.msr |= MSRCTS
		}
		l.mu.Unlock()
	case hsu.ConsoleFlush:
		return hsu.NoEffect, h.retry(l.port.Flush)
	default:
		return hsu.NoEffect, fmt.Errorf("unsupported command %s", cmd)
	}
	return hsu.NoEffect, nil
}

// ModemStatus 返回最近一次 GetModemStatus 锁存的值
func (h *Hardware) ModemStatus(port int) (byte, error) {
	l, err := h.line(port)
	if err != nil {
		return 0, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.msr, nil
}

func (h *Hardware) startTx(port int, l *line) (hsu.Effect, error) {
	l.mu.Lock()
	l.txRunning = true
	if l.dmaBusy || len(l.tx) == 0 {
		l.mu.Unlock()
		return hsu.NoEffect, nil
	}
	buf := l.tx
	l.tx = nil
	if !l.dma {
		l.mu.Unlock()
		n, err := h.write(l, buf)
		if err != nil {
			l.mu.Lock()
			l.tx = append(buf[n:len(buf):len(buf)], l.tx...)
			l.mu.Unlock()
		}
		return hsu.NoEffect, err
	}
	l.dmaBusy = true
	l.mu.Unlock()

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		_, err := h.write(l, buf)
		l.mu.Lock()
		l.dmaErr = err
		l.mu.Unlock()
		h.q.Enqueue(port, hsu.DmaIrq)
	}()
	return hsu.NoEffect, nil
}

func (h *Hardware) dmaDone(l *line) (hsu.Effect, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	err := l.dmaErr
	l.dmaBusy, l.dmaErr = false, nil
	if l.txRunning && len(l.tx) > 0 {
		return hsu.Reenqueue(hsu.StartTx), err
	}
	return hsu.NoEffect, err
}

func (h *Hardware) serviceRx(l *line) (hsu.Effect, error) {
	l.mu.Lock()
	buf := l.rx
	l.rx = nil
	l.mu.Unlock()

	frames, rest, err := splitFrames(l.parse, buf)
	for _, f := range frames {
		if h.sink != nil {
			h.sink(l.cfg.Name, append([]byte(nil), f...))
		}
	}
	if len(rest) > 0 {
		l.mu.Lock()
		l.rx = append(append([]byte(nil), rest...), l.rx...)
		l.mu.Unlock()
	}
	if err != nil {
		err = fmt.Errorf("parse rx: %w", err)
	}
	return hsu.Reenqueue(hsu.EnableIrq), err
}

// write 发送整个 buf，失败时有限次重试，返回已发出的字节数
func (h *Hardware) write(l *line, buf []byte) (int, error) {
	sent := 0
	err := h.retry(func() error {
		for sent < len(buf) {
			n, err := l.port.Write(buf[sent:])
			sent += n
			if err != nil {
				return err
			}
		}
		return nil
	})
	return sent, err
}

func (h *Hardware) retry(op func() error) error {
	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(h.RetryDelay), h.Retries)
	return backoff.Retry(op, b)
}

// readLoop 是端口的中断源：缓存收到的字节，线路处于使能状态时触发
// PortIrq。触发后线路失能，直到执行器重新使能。
func (h *Hardware) readLoop(ctx context.Context, port int) {
	defer h.wg.Done()
	l := h.lines[port]
	tmp := make([]byte, readChunk)
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stop:
			return
		default:
		}
		n, err := l.port.Read(tmp)
		if n > 0 {
			l.mu.Lock()
			raise := false
			if l.rxEnabled {
				l.rx = append(l.rx, tmp[:n]...)
				raise = l.armed
				l.armed = false
			}
			l.mu.Unlock()
			if raise {
				h.q.Enqueue(port, hsu.PortIrq)
			}
		}
		if err != nil {
			select {
			case <-ctx.Done():
				return
			case <-h.stop:
				return
			case <-time.After(100 * time.Millisecond):
			}
		}
	}
}
