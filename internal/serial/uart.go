package serial

import (
	"fmt"
	"time"

	"github.com/edgexfoundry/go-mod-core-contracts/v4/errors"
	"github.com/tarm/serial"
	"go.uber.org/atomic"

	"github.com/linjuya-lu/device_hsu_go/internal/config"
)

// openLine 按波特率与读超时打开 cfg 对应的 tty
func openLine(cfg config.Port) (*serial.Port, error) {
	h, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Device,
		Baud:        cfg.Baudrate,
		ReadTimeout: time.Duration(cfg.TimeoutMs) * time.Millisecond,
	})
	if err != nil {
		return nil, errors.NewCommonEdgeX(errors.KindServiceUnavailable,
			fmt.Sprintf("open %s (%s)", cfg.Name, cfg.Device), err)
	}
	return h, nil
}

func notOpen(name string) error {
	return errors.NewCommonEdgeX(errors.KindServiceUnavailable, "serial "+name+" is not open", nil)
}

// UARTPort 是全双工串口（uart 或 rs232）。handle 可被 Close 与读循环、
// DMA 发送协程并发访问，故用原子指针保存。
type UARTPort struct {
	cfg    config.Port
	handle atomic.Pointer[serial.Port]
}

func NewUARTPort(cfg config.Port) Port {
	return &UARTPort{cfg: cfg}
}

func (u *UARTPort) Open() error {
	h, err := openLine(u.cfg)
	if err != nil {
		return err
	}
	if old := u.handle.Swap(h); old != nil {
		old.Close()
	}
	return nil
}

// Close 之后仍在进行的 Read/Write 会拿到已关闭句柄的错误，而不是空指针。
func (u *UARTPort) Close() error {
	if h := u.handle.Swap(nil); h != nil {
		return h.Close()
	}
	return nil
}

func (u *UARTPort) Read(p []byte) (int, error) {
	h := u.handle.Load()
	if h == nil {
		return 0, notOpen(u.cfg.Name)
	}
	return h.Read(p)
}

func (u *UARTPort) Write(p []byte) (int, error) {
	h := u.handle.Load()
	if h == nil {
		return 0, notOpen(u.cfg.Name)
	}
	n, err := h.Write(p)
	if err != nil {
		return n, fmt.Errorf("serial %s: write: %w", u.cfg.Name, err)
	}
	return n, nil
}

func (u *UARTPort) Flush() error {
	h := u.handle.Load()
	if h == nil {
		return notOpen(u.cfg.Name)
	}
	return h.Flush()
}

func (u *UARTPort) Name() string { return u.cfg.Name }
