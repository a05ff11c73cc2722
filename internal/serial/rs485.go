package serial

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/atomic"

	"github.com/linjuya-lu/device_hsu_go/internal/config"
)

const (
	gpioRoot     = "/sys/class/gpio"
	deSettle     = 5 * time.Millisecond
	bitsPerFrame = 10 // 起始位 + 8 数据位 + 停止位
)

// RS485Port 为半双工串口，收发方向由 sysfs GPIO (DE/RE) 控制。
// 除 Write 期间外收发器一直处于接收状态。
type RS485Port struct {
	UARTPort
	de atomic.Pointer[os.File]
}

func NewRS485Port(cfg config.Port) Port {
	return &RS485Port{UARTPort: UARTPort{cfg: cfg}}
}

// Open 导出 DE 引脚并置为接收，再打开串口设备。
func (r *RS485Port) Open() error {
	de, err := openDriveEnable(r.cfg.DEPin)
	if err != nil {
		return fmt.Errorf("serial %s: DE gpio %d: %w", r.cfg.Name, r.cfg.DEPin, err)
	}
	if err := r.driveEnable(de, false); err != nil {
		de.Close()
		return err
	}
	if err := r.UARTPort.Open(); err != nil {
		de.Close()
		return err
	}
	if old := r.de.Swap(de); old != nil {
		old.Close()
	}
	return nil
}

func (r *RS485Port) Close() error {
	err := r.UARTPort.Close()
	if de := r.de.Swap(nil); de != nil {
		if cerr := de.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// Write 在最后一帧移出移位寄存器之前保持 DE 为高。
func (r *RS485Port) Write(p []byte) (int, error) {
	de := r.de.Load()
	if de == nil {
		return 0, notOpen(r.cfg.Name)
	}
	if err := r.driveEnable(de, true); err != nil {
		return 0, err
	}
	time.Sleep(deSettle)

	n, err := r.UARTPort.Write(p)
	if err == nil && r.cfg.Baudrate > 0 {
		time.Sleep(time.Duration(n*bitsPerFrame) * time.Second / time.Duration(r.cfg.Baudrate))
	}
	if derr := r.driveEnable(de, false); derr != nil && err == nil {
		err = derr
	}
	return n, err
}

func (r *RS485Port) driveEnable(de *os.File, on bool) error {
	v := "0"
	if on {
		v = "1"
	}
	if _, err := de.WriteString(v); err != nil {
		return fmt.Errorf("serial %s: DE=%s: %w", r.cfg.Name, v, err)
	}
	return nil
}

func openDriveEnable(pin int) (*os.File, error) {
	_ = writeSysfs(gpioRoot+"/export", fmt.Sprint(pin)) // 已导出时返回 EBUSY，忽略
	dir := fmt.Sprintf("%s/gpio%d/direction", gpioRoot, pin)
	// 刚导出的节点需要等 udev 调整权限
	var err error
	for i := 0; i < 10; i++ {
		if err = writeSysfs(dir, "out"); err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		return nil, err
	}
	return os.OpenFile(fmt.Sprintf("%s/gpio%d/value", gpioRoot, pin), os.O_RDWR, 0)
}

func writeSysfs(path, v string) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(v)
	return err
}
