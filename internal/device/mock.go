// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package device

import (
	"math"
	"time"

	"github.com/relabs-tech/device_mapper/internal/orientation"
)

// Mock is a device that generates smooth, repeatable readings from the
// time elapsed since start. It drives every input kind:
// "hand" position, "head" rotation, "grip" value, "trigger" bool and
// "emg" sample.
type Mock struct {
	device string
	start  time.Time
}

func NewMock(device string, start time.Time) *Mock {
	return &Mock{device: device, start: start}
}

// Frames returns the readings at t.
func (m *Mock) Frames(t time.Time) []Frame {
	elapsed := t.Sub(m.start).Seconds()

	pose := orientation.Pose{
		Roll:  20 * math.Sin(elapsed),
		Pitch: 15 * math.Cos(elapsed*0.7),
		Yaw:   math.Mod(elapsed*30, 360),
	}
	hand := orientation.Vec3{
		X: 0.3 * math.Sin(elapsed*0.5),
		Y: 1.2 + 0.2*math.Sin(elapsed*0.9),
		Z: 0.3 * math.Cos(elapsed*0.5),
	}
	grip := 0.5 + 0.5*math.Sin(elapsed*1.3)
	emg := make([]float64, 4)
	for i := range emg {
		emg[i] = math.Abs(math.Sin(elapsed*float64(i+1)*2.1)) * grip
	}

	return []Frame{
		PositionFrame(m.device, "hand", hand, t),
		EulerFrame(m.device, "head", pose.Euler(), t),
		ValueFrame(m.device, "grip", grip, t),
		BoolFrame(m.device, "trigger", grip > 0.5, t),
		{Device: m.device, Label: "emg", Sample: emg, Time: t},
	}
}
