package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/edgexfoundry/go-mod-core-contracts/v4/clients/logger"
	"github.com/edgexfoundry/go-mod-core-contracts/v4/errors"

	"github.com/linjuya-lu/device_hsu_go/internal/config"
	"github.com/linjuya-lu/device_hsu_go/internal/hsu"
)

// Broker 桥接用到的 Client 方法
type Broker interface {
	PublishJSON(topic string, v interface{}) error
	Subscribe(topic string, handler func([]byte)) error
}

// Controller 桥接驱动的命令队列
type Controller interface {
	PortByName(name string) (*hsu.Port, error)
	Snapshots() []hsu.Snapshot
}

// Sender 向端口追加待发送数据
type Sender interface {
	Send(port int, data []byte) error
}

// ControlMessage 命令主题上的一条请求，Command、Gate、Data 三选一
type ControlMessage struct {
	CorrelationID string `json:"correlationID"`
	Port          string `json:"port"`
	Command       string `json:"command,omitempty"`
	Gate          string `json:"gate,omitempty"` // enter|leave
	Data          []byte `json:"data,omitempty"` // JSON 中为 base64
}

// FramePayload 一条接收帧
type FramePayload struct {
	Port      string `json:"port"`
	Timestamp int64  `json:"timestamp"` // Unix ns
	Data      []byte `json:"data"`
}

// Bridge 把 MQTT 控制消息映射到命令队列，并发布统计与接收帧
type Bridge struct {
	broker Broker
	ctrl   Controller
	tx     Sender
	cfg    config.Mqtt
	lc     logger.LoggingClient
}

func NewBridge(broker Broker, ctrl Controller, tx Sender, cfg config.Mqtt, lc logger.LoggingClient) *Bridge {
	return &Bridge{broker: broker, ctrl: ctrl, tx: tx, cfg: cfg, lc: lc}
}

// Subscribe 订阅命令主题，非法消息记录日志后丢弃
func (b *Bridge) Subscribe() error {
	if b.cfg.CommandTopic == "" {
		return nil
	}
	return b.broker.Subscribe(b.cfg.CommandTopic, func(raw []byte) {
		if err := b.HandleControl(raw); err != nil {
			b.lc.Warnf("mqtt: control message rejected: %v", err)
		}
	})
}

// HandleControl 处理一条控制消息
func (b *Bridge) HandleControl(raw []byte) error {
	var msg ControlMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return errors.NewCommonEdgeX(errors.KindContractInvalid, "decode control message", err)
	}
	p, err := b.ctrl.PortByName(msg.Port)
	if err != nil {
		return err
	}

	switch {
	case msg.Gate != "":
		switch strings.ToLower(msg.Gate) {
		case "enter":
			p.GateEnter()
		case "leave":
			return p.GateLeaveIfOpen()
		default:
			return errors.NewCommonEdgeX(errors.KindContractInvalid,
				fmt.Sprintf("unknown gate action %q", msg.Gate), nil)
		}
	case msg.Command != "":
		cmd, err := hsu.ParseCommand(msg.Command)
		if err != nil {
			return errors.NewCommonEdgeX(errors.KindContractInvalid, "control message", err)
		}
		p.Enqueue(cmd)
	case len(msg.Data) > 0:
		return b.tx.Send(p.Index(), msg.Data)
	default:
		return errors.NewCommonEdgeX(errors.KindContractInvalid, "empty control message", nil)
	}
	return nil
}

// PublishFrame 发布接收帧，签名与 FrameSink 一致
func (b *Bridge) PublishFrame(port string, frame []byte) {
	if b.cfg.FrameTopic == "" {
		return
	}
	payload := FramePayload{Port: port, Timestamp: time.Now().UnixNano(), Data: frame}
	if err := b.broker.PublishJSON(b.cfg.FrameTopic, NewEnvelope("", payload)); err != nil {
		b.lc.Errorf("mqtt: publish frame from %s: %v", port, err)
	}
}

// PublishStats 发布所有端口的统计快照
func (b *Bridge) PublishStats() error {
	return b.broker.PublishJSON(b.cfg.StatsTopic, NewEnvelope("", b.ctrl.Snapshots()))
}

// RunStats 每 StatsIntervalMs 发布一次统计，直到 ctx 结束
func (b *Bridge) RunStats(ctx context.Context) {
	if b.cfg.StatsTopic == "" || b.cfg.StatsIntervalMs <= 0 {
		return
	}
	t := time.NewTicker(time.Duration(b.cfg.StatsIntervalMs) * time.Millisecond)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := b.PublishStats(); err != nil {
				b.lc.Errorf("mqtt: publish stats: %v", err)
			}
		}
	}
}
