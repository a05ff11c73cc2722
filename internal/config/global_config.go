package config

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/edgexfoundry/go-mod-core-contracts/v4/errors"
	"gopkg.in/yaml.v2"

	"github.com/linjuya-lu/device_hsu_go/internal/hsu"
)

const (
	DefaultPath     = "./res/configuration.yaml"
	defaultRingSize = 64
	defaultBaudrate = 115200
	defaultProtocol = "raw"
)

var (
	// HsuCfg LoadConfig 成功后的全局配置
	HsuCfg *HsuConfig
	once   sync.Once
	// loadErr 首次加载的结果，之后的调用直接返回
	loadErr error
)

// LoadConfig 只读取一次 YAML 配置，之后的调用返回首次结果
func LoadConfig(path string) error {
	once.Do(func() {
		HsuCfg, loadErr = ReadConfig(path)
	})
	return loadErr
}

// ReadConfig 读取配置文件，填充默认值并校验
func ReadConfig(path string) (*HsuConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewCommonEdgeX(errors.KindServerError, fmt.Sprintf("read config %s", path), err)
	}
	return Parse(data)
}

// Parse 解析 YAML 中的 Hsu 段
func Parse(data []byte) (*HsuConfig, error) {
	doc := struct {
		Hsu HsuConfig `yaml:"Hsu"`
	}{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.NewCommonEdgeX(errors.KindContractInvalid, "decode config", err)
	}
	cfg := &doc.Hsu
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *HsuConfig) applyDefaults() {
	for i := range c.Ports {
		p := &c.Ports[i]
		if p.Type == "" {
			p.Type = "uart"
		}
		if p.Baudrate == 0 {
			p.Baudrate = defaultBaudrate
		}
		if p.RingSize == 0 {
			p.RingSize = defaultRingSize
		}
		if p.Protocol == "" {
			p.Protocol = defaultProtocol
		}
	}
	if c.Workers < len(c.Ports) {
		c.Workers = len(c.Ports)
	}
	if c.Mqtt.StatsIntervalMs == 0 {
		c.Mqtt.StatsIntervalMs = 5000
	}
}

// Validate 校验端口名称、类型与模式
func (c *HsuConfig) Validate() error {
	if len(c.Ports) == 0 || len(c.Ports) > hsu.MaxPorts {
		return errors.NewCommonEdgeX(errors.KindContractInvalid,
			fmt.Sprintf("%d ports configured, want 1..%d", len(c.Ports), hsu.MaxPorts), nil)
	}
	names := make(map[string]bool, len(c.Ports))
	for _, p := range c.Ports {
		if p.Name == "" || names[p.Name] {
			return errors.NewCommonEdgeX(errors.KindContractInvalid,
				fmt.Sprintf("empty or duplicate port name %q", p.Name), nil)
		}
		names[p.Name] = true
		switch p.Type {
		case "uart", "rs485", "rs232":
		default:
			return errors.NewCommonEdgeX(errors.KindContractInvalid,
				fmt.Sprintf("port %s: unknown type %q", p.Name, p.Type), nil)
		}
		if _, err := hsu.ParseMode(p.Mode); err != nil {
			return errors.NewCommonEdgeX(errors.KindContractInvalid, "port "+p.Name, err)
		}
		if p.RingSize < 0 || p.DrainTimeoutMs < 0 {
			return errors.NewCommonEdgeX(errors.KindContractInvalid,
				fmt.Sprintf("port %s: negative ringSize or drainTimeoutMs", p.Name), nil)
		}
	}
	return nil
}

// GetPort 按名称查端口配置
func (c *HsuConfig) GetPort(name string) (Port, bool) {
	for _, p := range c.Ports {
		if p.Name == name {
			return p, true
		}
	}
	return Port{}, false
}

// PortConfigs 按顺序把端口列表转换为控制器槽位
func (c *HsuConfig) PortConfigs() []hsu.PortConfig {
	out := make([]hsu.PortConfig, len(c.Ports))
	for i, p := range c.Ports {
		mode, _ := hsu.ParseMode(p.Mode)
		out[i] = hsu.PortConfig{
			Name:         p.Name,
			Mode:         mode,
			RingSize:     p.RingSize,
			DrainTimeout: time.Duration(p.DrainTimeoutMs) * time.Millisecond,
		}
	}
	return out
}
