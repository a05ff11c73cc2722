package driver

import (
	"fmt"

	"github.com/linjuya-lu/device_hsu_go/internal/config"
	"github.com/linjuya-lu/device_hsu_go/internal/hsu"
	"github.com/linjuya-lu/device_hsu_go/internal/mqtt"
	"github.com/linjuya-lu/device_hsu_go/internal/serial"
)

// initialize 负责：
//  1. 加载配置
//  2. 打开所有串口
//  3. 在串口之上构建命令控制器
//  4. 配置了 Broker 时创建 MQTT 桥接
func (d *HsuDriver) initialize(configPath string) error {
	if err := config.LoadConfig(configPath); err != nil {
		return fmt.Errorf("加载配置失败: %w", err)
	}
	d.cfg = config.HsuCfg
	d.db = NewDB()
	d.frames = make(chan rxFrame, frameBacklog)

	hw, err := serial.OpenHardware(d.cfg.Ports, d.onFrame, d.lc)
	if err != nil {
		return err
	}
	ctrl, err := hsu.NewController(d.cfg.PortConfigs(), d.cfg.Workers, hw, d.lc)
	if err != nil {
		_ = hw.Close()
		return err
	}
	hw.Attach(ctrl)
	d.ctrl = ctrl
	d.lines = hw
	d.runner = hw.Run
	d.closer = hw.Close

	if d.cfg.Mqtt.Broker == "" {
		d.lc.Info("未配置 MQTT Broker，不启用桥接")
		return nil
	}
	client, err := mqtt.NewClient(mqtt.OptionsFromConfig(d.cfg.Mqtt))
	if err != nil {
		_ = hw.Close()
		return fmt.Errorf("连接 MQTT Broker %s 失败: %w", d.cfg.Mqtt.Broker, err)
	}
	d.mqttClient = client
	d.bridge = mqtt.NewBridge(client, ctrl, hw, d.cfg.Mqtt, d.lc)
	return nil
}
