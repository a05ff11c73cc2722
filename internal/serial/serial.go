// internal/serial/serial.go

package serial

import (
	"fmt"

	"github.com/linjuya-lu/device_hsu_go/internal/config"
)

// Port 单个串口的字节读写接口
type Port interface {
	Open() error
	Close() error
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	// Flush 丢弃驱动中收发两个方向的缓存数据
	Flush() error
	Name() string
}

// NewPort 根据 cfg.Type 创建串口实现，uart 与 rs232 同为全双工，共用一个实现
func NewPort(cfg config.Port) (Port, error) {
	switch cfg.Type {
	case "uart", "rs232":
		return NewUARTPort(cfg), nil
	case "rs485":
		return NewRS485Port(cfg), nil
	default:
		return nil, fmt.Errorf("unknown port type %s", cfg.Type)
	}
}
