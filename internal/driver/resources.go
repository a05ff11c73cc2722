// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2019-2023 IOTech Ltd
//
// SPDX-License-Identifier: Apache-2.0

package driver

import (
	"encoding/json"
	"fmt"

	dsModels "github.com/edgexfoundry/device-sdk-go/v4/pkg/models"
	"github.com/edgexfoundry/go-mod-core-contracts/v4/common"
	"github.com/edgexfoundry/go-mod-core-contracts/v4/errors"

	"github.com/linjuya-lu/device_hsu_go/internal/hsu"
)

// hsu-port 设备配置文件中的资源名
const (
	ResEnqueued        = "Enqueued"
	ResExecuted        = "Executed"
	ResOverflows       = "Overflows"
	ResCoalesced       = "Coalesced"
	ResQueueDepth      = "QueueDepth"
	ResGateOpen        = "GateOpen"
	ResStats           = "Stats"
	ResRxFrame         = "RxFrame"
	ResModemStatus     = "ModemStatus"
	ResCommand         = "Command"
	ResTxData          = "TxData"
	ResModemControl    = "ModemControl"
	ResInterruptEnable = "InterruptEnable"
)

// lineControl 命令队列之外的串口控制接口
type lineControl interface {
	Send(port int, data []byte) error
	SetModemControl(port int, mcr byte) error
	SetInterruptEnable(port int, ier byte) error
	ModemStatus(port int) (byte, error)
}

// readResource 构造可读资源的 CommandValue
func (d *HsuDriver) readResource(p *hsu.Port, name string) (*dsModels.CommandValue, error) {
	snap := p.Snapshot()
	switch name {
	case ResEnqueued:
		return dsModels.NewCommandValue(name, common.ValueTypeUint64, snap.Enqueued)
	case ResExecuted:
		return dsModels.NewCommandValue(name, common.ValueTypeUint64, snap.Executed)
	case ResOverflows:
		return dsModels.NewCommandValue(name, common.ValueTypeUint64, snap.Overflows)
	case ResCoalesced:
		return dsModels.NewCommandValue(name, common.ValueTypeUint64, snap.Coalesced)
	case ResQueueDepth:
		return dsModels.NewCommandValue(name, common.ValueTypeUint64, uint64(snap.QueueDepth))
	case ResGateOpen:
		return dsModels.NewCommandValue(name, common.ValueTypeBool, p.GateOpen())
	case ResStats:
		b, err := json.Marshal(snap)
		if err != nil {
			return nil, fmt.Errorf("marshal stats: %w", err)
		}
		return dsModels.NewCommandValue(name, common.ValueTypeString, string(b))
	case ResRxFrame:
		f, err := d.db.LastFrame(p.Name())
		if err != nil {
			return nil, err
		}
		cv, err := dsModels.NewCommandValue(name, common.ValueTypeBinary, f.Value)
		if err == nil {
			cv.Origin = f.Origin
		}
		return cv, err
	case ResModemStatus:
		msr, err := d.lines.ModemStatus(p.Index())
		if err != nil {
			return nil, err
		}
		return dsModels.NewCommandValue(name, common.ValueTypeUint8, msr)
	}
	return nil, errors.NewCommonEdgeX(errors.KindEntityDoesNotExist,
		fmt.Sprintf("resource %s is not readable", name), nil)
}

// writeResource 把一次写请求作用到端口 p
func (d *HsuDriver) writeResource(p *hsu.Port, param *dsModels.CommandValue) error {
	name := param.DeviceResourceName
	switch name {
	case ResCommand:
		s, err := param.StringValue()
		if err != nil {
			return fmt.Errorf("invalid write for %s: %w", name, err)
		}
		cmd, err := hsu.ParseCommand(s)
		if err != nil {
			return errors.NewCommonEdgeX(errors.KindContractInvalid, name, err)
		}
		p.Enqueue(cmd)
		return nil
	case ResGateOpen:
		open, err := param.BoolValue()
		if err != nil {
			return fmt.Errorf("invalid write for %s: %w", name, err)
		}
		if open {
			p.GateEnter()
			return nil
		}
		return p.GateLeaveIfOpen()
	case ResTxData:
		raw, err := param.BinaryValue()
		if err != nil {
			return fmt.Errorf("invalid write for %s: %w", name, err)
		}
		return d.lines.Send(p.Index(), raw)
	case ResModemControl:
		v, err := param.Uint8Value()
		if err != nil {
			return fmt.Errorf("invalid write for %s: %w", name, err)
		}
		return d.lines.SetModemControl(p.Index(), v)
	case ResInterruptEnable:
		v, err := param.Uint8Value()
		if err != nil {
			return fmt.Errorf("invalid write for %s: %w", name, err)
		}
		return d.lines.SetInterruptEnable(p.Index(), v)
	}
	return errors.NewCommonEdgeX(errors.KindEntityDoesNotExist,
		fmt.Sprintf("resource %s is not writable", name), nil)
}
