// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2019-2023 IOTech Ltd
//
// SPDX-License-Identifier: Apache-2.0

// Package driver provides an implementation of a ProtocolDriver interface.
package driver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/edgexfoundry/device-sdk-go/v4/pkg/interfaces"
	dsModels "github.com/edgexfoundry/device-sdk-go/v4/pkg/models"
	"github.com/edgexfoundry/go-mod-core-contracts/v4/clients/logger"
	"github.com/edgexfoundry/go-mod-core-contracts/v4/common"
	"github.com/edgexfoundry/go-mod-core-contracts/v4/errors"
	"github.com/edgexfoundry/go-mod-core-contracts/v4/models"

	"github.com/linjuya-lu/device_hsu_go/internal/config"
	"github.com/linjuya-lu/device_hsu_go/internal/hsu"
	"github.com/linjuya-lu/device_hsu_go/internal/mqtt"
)

// ConfigFileKey Driver 配置中 Hsu 配置文件路径的键
const ConfigFileKey = "HsuConfigFile"

const frameBacklog = 64

type rxFrame struct {
	port   string
	origin int64
	data   []byte
}

type HsuDriver struct {
	lc      logger.LoggingClient
	asyncCh chan<- *dsModels.AsyncValues
	locker  sync.Mutex
	sdk     interfaces.DeviceServiceSDK

	cfg        *config.HsuConfig
	ctrl       *hsu.Controller
	lines      lineControl
	closer     func() error
	runner     func(ctx context.Context)
	mqttClient *mqtt.Client
	bridge     *mqtt.Bridge
	db         *DB
	frames     chan rxFrame

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var once sync.Once
var driver *HsuDriver

func NewHsuDeviceDriver() interfaces.ProtocolDriver {
	once.Do(func() {
		driver = new(HsuDriver)
	})
	return driver
}

func (d *HsuDriver) Initialize(sdk interfaces.DeviceServiceSDK) error {
	d.sdk = sdk
	d.lc = sdk.LoggingClient()
	d.asyncCh = sdk.AsyncValuesChannel()

	path := config.DefaultPath
	if p, ok := sdk.DriverConfigs()[ConfigFileKey]; ok && p != "" {
		path = p
	}
	if err := d.initialize(path); err != nil {
		return fmt.Errorf("初始化 HSU 驱动失败: %w", err)
	}
	return nil
}

// Start 打开所有端口的门并开始接收
func (d *HsuDriver) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel

	d.ctrl.Start(ctx)
	if d.runner != nil {
		d.runner(ctx)
	}

	d.wg.Add(1)
	go d.forwardFrames(ctx)

	for i := 0; i < d.ctrl.Len(); i++ {
		if err := d.ctrl.GateEnter(i); err != nil {
			return err
		}
		d.ctrl.Enqueue(i, hsu.StartRx)
		d.ctrl.Enqueue(i, hsu.EnableIrq)
	}

	if d.bridge != nil {
		if err := d.bridge.Subscribe(); err != nil {
			return fmt.Errorf("订阅控制主题失败: %w", err)
		}
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.bridge.RunStats(ctx)
		}()
	}
	d.lc.Infof("HSU 驱动已启动，共 %d 个端口", d.ctrl.Len())
	return nil
}

func (d *HsuDriver) HandleReadCommands(deviceName string, protocols map[string]models.ProtocolProperties, reqs []dsModels.CommandRequest) (res []*dsModels.CommandValue, err error) {
	d.locker.Lock()
	defer d.locker.Unlock()

	p, err := d.ctrl.PortByName(deviceName)
	if err != nil {
		return nil, err
	}

	res = make([]*dsModels.CommandValue, 0, len(reqs))
	for _, req := range reqs {
		cv, err := d.readResource(p, req.DeviceResourceName)
		if err != nil {
			return nil, fmt.Errorf("read %s.%s: %w", deviceName, req.DeviceResourceName, err)
		}
		if cv.Origin == 0 {
			cv.Origin = time.Now().UnixNano()
		}
		res = append(res, cv)
	}
	return res, nil
}

func (d *HsuDriver) HandleWriteCommands(deviceName string, protocols map[string]models.ProtocolProperties, reqs []dsModels.CommandRequest,
	params []*dsModels.CommandValue) error {
	d.locker.Lock()
	defer d.locker.Unlock()

	p, err := d.ctrl.PortByName(deviceName)
	if err != nil {
		return err
	}
	for i, req := range reqs {
		if i >= len(params) {
			return fmt.Errorf("write %s.%s: missing value", deviceName, req.DeviceResourceName)
		}
		if err := d.writeResource(p, params[i]); err != nil {
			return fmt.Errorf("write %s.%s: %w", deviceName, req.DeviceResourceName, err)
		}
		d.lc.Debugf("write %s.%s = %v", deviceName, req.DeviceResourceName, params[i].Value)
	}
	return nil
}

// Stop 关闭所有端口的门并等待排空，然后释放控制器与串口
func (d *HsuDriver) Stop(force bool) error {
	d.lc.Info("HSU 驱动正在停止...")
	if d.ctrl == nil {
		return nil
	}

	var firstErr error
	for i := 0; i < d.ctrl.Len(); i++ {
		p, _ := d.ctrl.Port(i)
		for {
			err := p.GateLeaveIfOpen()
			if err == nil {
				continue
			}
			if errors.Kind(err) != errors.KindContractInvalid {
				d.lc.Errorf("port %s: %v", p.Name(), err)
				if firstErr == nil {
					firstErr = err
				}
			}
			break
		}
	}

	if d.cancel != nil {
		d.cancel()
	}
	d.ctrl.Stop()
	if d.closer != nil {
		if err := d.closer(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	d.wg.Wait()
	if d.mqttClient != nil {
		d.mqttClient.Disconnect(250)
	}
	if force {
		return nil
	}
	return firstErr
}

func (d *HsuDriver) AddDevice(deviceName string, protocols map[string]models.ProtocolProperties, adminState models.AdminState) error {
	d.lc.Debugf("a new Device is added: %s", deviceName)
	return nil
}

func (d *HsuDriver) UpdateDevice(deviceName string, protocols map[string]models.ProtocolProperties, adminState models.AdminState) error {
	d.lc.Debugf("Device %s is updated", deviceName)
	return nil
}

func (d *HsuDriver) RemoveDevice(deviceName string, protocols map[string]models.ProtocolProperties) error {
	d.lc.Debugf("Device %s is removed", deviceName)
	d.db.DeletePort(deviceName)
	return nil
}

func (d *HsuDriver) Discover() error {
	return fmt.Errorf("driver's Discover function isn't implemented")
}

// ValidateDevice 只接受与已配置端口同名的设备
func (d *HsuDriver) ValidateDevice(device models.Device) error {
	if _, err := d.ctrl.PortByName(device.Name); err != nil {
		return err
	}
	return nil
}

// onFrame 串口帧回调，运行在端口执行器中，只记录并转交，不能阻塞
func (d *HsuDriver) onFrame(port string, frame []byte) {
	now := time.Now().UnixNano()
	d.db.PutFrame(port, now, frame)
	select {
	case d.frames <- rxFrame{port: port, origin: now, data: append([]byte(nil), frame...)}:
	default:
		d.lc.Warnf("port %s: frame backlog full, dropping async reading", port)
	}
}

func (d *HsuDriver) forwardFrames(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-d.frames:
			if d.bridge != nil {
				d.bridge.PublishFrame(f.port, f.data)
			}
			if d.asyncCh == nil {
				continue
			}
			cv, err := dsModels.NewCommandValue(ResRxFrame, common.ValueTypeBinary, f.data)
			if err != nil {
				d.lc.Errorf("port %s: %v", f.port, err)
				continue
			}
			cv.Origin = f.origin
			select {
			case d.asyncCh <- &dsModels.AsyncValues{DeviceName: f.port, SourceName: ResRxFrame, CommandValues: []*dsModels.CommandValue{cv}}:
			case <-ctx.Done():
				return
			}
		}
	}
}
