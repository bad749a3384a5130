// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/relabs-tech/device_mapper/internal/axis"
	"github.com/relabs-tech/device_mapper/internal/config"
	"github.com/relabs-tech/device_mapper/internal/device"
	"github.com/relabs-tech/device_mapper/internal/mapper"
	"github.com/relabs-tech/device_mapper/internal/mapping"
)

// DemoTarget is the object the offline console drives.
const DemoTarget = "demo"

// BindDemo maps every input of the mock device dev onto the demo target:
// hand position remapped to [-1,1], head rotation passed through, grip
// scaled to [0,100], trigger as bool and the EMG sample.
func BindDemo(reg *mapper.Registry, dev string) error {
	in := func(label string, ch axis.Channel) mapping.InputMapping {
		return mapping.InputMapping{Input: mapping.Input{Device: dev, Label: label}, Channel: ch}
	}
	binds := []struct {
		kind     axis.Kind
		mappings []mapping.InputMapping
	}{
		{axis.Position, []mapping.InputMapping{in("hand", axis.PosX), in("hand", axis.PosY), in("hand", axis.PosZ)}},
		{axis.Rotation, []mapping.InputMapping{in("head", axis.RotX), in("head", axis.RotY), in("head", axis.RotZ)}},
		{axis.Scalar, []mapping.InputMapping{in("grip", axis.ChannelValue)}},
		{axis.Boolean, []mapping.InputMapping{in("trigger", axis.ChannelBool)}},
		{axis.Sample, []mapping.InputMapping{in("emg", axis.ChannelSample)}},
	}
	for _, b := range binds {
		if err := reg.Bind(DemoTarget, b.kind, b.mappings); err != nil {
			return err
		}
	}

	pos, err := reg.Binding(DemoTarget, axis.Position)
	if err != nil {
		return err
	}
	p := pos.Interpreter.Profile()
	for a, r := range map[axis.Axis][2]float64{axis.X: {-0.3, 0.3}, axis.Y: {1.0, 1.4}, axis.Z: {-0.3, 0.3}} {
		p.SetInputMin(a, r[0])
		p.SetInputMax(a, r[1])
		p.SetOutputMin(a, -1)
		p.SetOutputMax(a, 1)
	}

	rot, err := reg.Binding(DemoTarget, axis.Rotation)
	if err != nil {
		return err
	}
	rot.Interpreter.SetMode(axis.Direct)

	val, err := reg.Binding(DemoTarget, axis.Scalar)
	if err != nil {
		return err
	}
	p = val.Interpreter.Profile()
	p.SetInputMin(axis.Value, 0)
	p.SetInputMax(axis.Value, 1)
	p.SetOutputMin(axis.Value, 0)
	p.SetOutputMax(axis.Value, 100)

	trig, err := reg.Binding(DemoTarget, axis.Boolean)
	if err != nil {
		return err
	}
	trig.Interpreter.SetMode(axis.Direct)
	return nil
}

// RunConsole runs the whole pipeline offline: the mock device feeds the
// store, the demo target is ticked and its outputs are printed to w.
func RunConsole(ctx context.Context, cfg *config.Config, w io.Writer) error {
	c := *cfg
	c.Targets = []string{DemoTarget}
	c.StartupDocument = ""
	host, err := NewHost(&c, zap.NewNop(), nil)
	if err != nil {
		return err
	}
	if err := host.Service.Do(func(reg *mapper.Registry) error { return BindDemo(reg, c.MockDevice) }); err != nil {
		return err
	}

	mock := device.NewMock(c.MockDevice, time.Now())
	ticker := time.NewTicker(c.ProducerInterval)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			for _, f := range mock.Frames(now) {
				host.Devices.Apply(f)
			}
			if err := host.Step(ctx, now, now.Sub(last)); err != nil && ctx.Err() == nil {
				return err
			}
			last = now
			for _, o := range host.Service.Outputs() {
				fmt.Fprintln(w, FormatOutput(o))
			}
		}
	}
}
