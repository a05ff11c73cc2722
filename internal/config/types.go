package config

// Port 单个串口实例的配置
type Port struct {
	Name           string `yaml:"name"`           // 逻辑名称，同时是 EdgeX 设备名
	Device         string `yaml:"device"`         // 串口设备节点
	Type           string `yaml:"type"`           // uart/rs485/rs232
	Baudrate       int    `yaml:"baudrate"`       // 波特率
	DEPin          int    `yaml:"dePin"`          // RS-485 DE/RE 引脚号
	TimeoutMs      int    `yaml:"timeoutMs"`      // 读超时（毫秒）
	Mode           string `yaml:"mode"`           // pio/dma
	RingSize       int    `yaml:"ringSize"`       // 命令环容量，向上取 2 的幂
	DrainTimeoutMs int    `yaml:"drainTimeoutMs"` // 关门等待排空的上限
	Protocol       string `yaml:"protocol"`       // 帧解析协议 ID
}

// Mqtt 控制/统计桥接配置，Broker 为空时不启用
type Mqtt struct {
	Broker          string `yaml:"broker"`
	ClientID        string `yaml:"clientId"`
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	CommandTopic    string `yaml:"commandTopic"`
	StatsTopic      string `yaml:"statsTopic"`
	FrameTopic      string `yaml:"frameTopic"`
	StatsIntervalMs int    `yaml:"statsIntervalMs"`
	Qos             byte   `yaml:"qos"`
}

// HsuConfig 配置文件中的 Hsu 段
type HsuConfig struct {
	Ports   []Port `yaml:"Ports"`
	Workers int    `yaml:"Workers"`
	Mqtt    Mqtt   `yaml:"Mqtt"`
}
