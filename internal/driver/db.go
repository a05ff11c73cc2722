package driver

import (
	"sync"

	"github.com/edgexfoundry/go-mod-core-contracts/v4/errors"
)

// Frame 端口最近收到的一帧
type Frame struct {
	Port   string
	Origin int64 // Unix ns
	Value  []byte
}

// DB 保存每个端口最新的 RX 帧，供 RxFrame 读取
type DB struct {
	mu    sync.RWMutex
	store map[string]Frame
}

func NewDB() *DB {
	return &DB{store: make(map[string]Frame)}
}

// PutFrame 用 value 的副本替换端口的帧
func (d *DB) PutFrame(port string, origin int64, value []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.store[port] = Frame{
		Port:   port,
		Origin: origin,
		Value:  append([]byte(nil), value...),
	}
}

// LastFrame 返回端口最新帧的副本
func (d *DB) LastFrame(port string) (Frame, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	f, ok := d.store[port]
	if !ok {
		return Frame{}, errors.NewCommonEdgeX(errors.KindEntityDoesNotExist, "no frame received on "+port, nil)
	}
	f.Value = append([]byte(nil), f.Value...)
	return f, nil
}

// DeletePort 删除端口的帧
func (d *DB) DeletePort(port string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.store, port)
}
