package mqtt

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/linjuya-lu/device_hsu_go/internal/config"
)

// ClientOptions MQTT 客户端配置
// Broker: tcp://host:port
// KeepAlive: 心跳间隔
// ConnectTimeout: 首次连接超时
// DefaultQos/DefaultRetain: 发布参数
type ClientOptions struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	KeepAlive      time.Duration
	ConnectTimeout time.Duration
	DefaultQos     byte
	DefaultRetain  bool
}

// OptionsFromConfig 由 Mqtt 配置段生成 ClientOptions
func OptionsFromConfig(c config.Mqtt) ClientOptions {
	id := c.ClientID
	if id == "" {
		id = "device-hsu-" + uuid.NewString()[:8]
	}
	return ClientOptions{
		Broker:         c.Broker,
		ClientID:       id,
		Username:       c.Username,
		Password:       c.Password,
		KeepAlive:      60 * time.Second,
		ConnectTimeout: 10 * time.Second,
		DefaultQos:     c.Qos,
	}
}

// Envelope 桥接发布的消息均使用 EdgeX MessageBus 消息格式
type Envelope struct {
	ApiVersion    string      `json:"apiVersion"`
	CorrelationID string      `json:"correlationID"`
	RequestID     string      `json:"requestID"`
	ErrorCode     int         `json:"errorCode"`
	Payload       interface{} `json:"payload,omitempty"`
	ContentType   string      `json:"contentType"`
}

// NewEnvelope 用新生成的 ID 包装 payload
func NewEnvelope(correlationID string, payload interface{}) Envelope {
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	return Envelope{
		ApiVersion:    "v3",
		CorrelationID: correlationID,
		RequestID:     uuid.NewString(),
		Payload:       payload,
		ContentType:   "application/json",
	}
}

// Client 封装 Paho 客户端
type Client struct {
	inner paho.Client
	opts  ClientOptions
	mu    sync.Mutex
}

// NewClient 连接 Broker
func NewClient(opts ClientOptions) (*Client, error) {
	p := paho.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetKeepAlive(opts.KeepAlive).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetPingTimeout(10 * time.Second).
		SetCleanSession(true)
	if opts.Username != "" {
		p.SetUsername(opts.Username)
	}
	if opts.Password != "" {
		p.SetPassword(opts.Password)
	}
	c := &Client{opts: opts}
	c.inner = paho.NewClient(p)
	tok := c.inner.Connect()
	if !tok.WaitTimeout(opts.ConnectTimeout) {
		return nil, fmt.Errorf("mqtt connect timeout after %s", opts.ConnectTimeout)
	}
	if err := tok.Error(); err != nil {
		return nil, err
	}
	return c, nil
}

// PublishJSON 序列化 v 并发布到 topic
func (c *Client) PublishJSON(topic string, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", topic, err)
	}
	c.mu.Lock()
	tok := c.inner.Publish(topic, c.opts.DefaultQos, c.opts.DefaultRetain, b)
	c.mu.Unlock()
	tok.Wait()
	return tok.Error()
}

// Subscribe 为 topic 注册原始载荷回调
func (c *Client) Subscribe(topic string, handler func([]byte)) error {
	tok := c.inner.Subscribe(topic, c.opts.DefaultQos, func(_ paho.Client, m paho.Message) {
		handler(m.Payload())
	})
	tok.Wait()
	return tok.Error()
}

// Disconnect 最多等待 quiesce 毫秒处理未完成的工作
func (c *Client) Disconnect(quiesce uint) {
	c.inner.Disconnect(quiesce)
}
