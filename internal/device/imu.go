// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package device

import (
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/devices/v3/bmxx80"
	"periph.io/x/devices/v3/mpu9250"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/device_mapper/internal/orientation"
)

var (
	hostOnce sync.Once
	hostErr  error
)

func initHost() error {
	hostOnce.Do(func() {
		if _, err := host.Init(); err != nil {
			hostErr = fmt.Errorf("periph host init: %w", err)
		}
	})
	return hostErr
}

// IMU reads an MPU9250 over SPI. It publishes a "tilt" rotation (roll and
// pitch from the accelerometer, yaw left at 0 until the magnetometer is
// fused) and the raw "accel" vector.
type IMU struct {
	device string
	imu    *mpu9250.MPU9250
}

// OpenIMU initializes, self-tests and calibrates the sensor.
func OpenIMU(device, spiDev, csPin string) (*IMU, error) {
	if err := initHost(); err != nil {
		return nil, err
	}

	cs := gpioreg.ByName(csPin)
	if cs == nil {
		return nil, fmt.Errorf("%s IMU: CS pin %q not found", device, csPin)
	}

	tr, err := mpu9250.NewSpiTransport(spiDev, cs)
	if err != nil {
		return nil, fmt.Errorf("%s IMU: SPI transport (%s): %w", device, spiDev, err)
	}

	imu, err := mpu9250.New(*tr)
	if err != nil {
		return nil, fmt.Errorf("%s IMU: device creation: %w", device, err)
	}

	if err := imu.Init(); err != nil {
		return nil, fmt.Errorf("%s IMU: initialization: %w", device, err)
	}
	if _, err := imu.SelfTest(); err != nil {
		return nil, fmt.Errorf("%s IMU: self-test: %w", device, err)
	}
	if err := imu.Calibrate(); err != nil {
		return nil, fmt.Errorf("%s IMU: calibrate: %w", device, err)
	}

	return &IMU{device: device, imu: imu}, nil
}

// Read samples the accelerometer once.
func (s *IMU) Read(t time.Time) ([]Frame, error) {
	ax, err := s.imu.GetAccelerationX()
	if err != nil {
		return nil, fmt.Errorf("%s IMU acc X: %w", s.device, err)
	}
	ay, err := s.imu.GetAccelerationY()
	if err != nil {
		return nil, fmt.Errorf("%s IMU acc Y: %w", s.device, err)
	}
	az, err := s.imu.GetAccelerationZ()
	if err != nil {
		return nil, fmt.Errorf("%s IMU acc Z: %w", s.device, err)
	}
	return TiltFrames(s.device, float64(ax), float64(ay), float64(az), t), nil
}

// TiltFrames turns one accelerometer reading into the IMU frames. Only the
// ratios matter, so raw counts work as well as g.
func TiltFrames(device string, ax, ay, az float64, t time.Time) []Frame {
	pose := orientation.ComputePoseFromAccel(ax, ay, az)
	return []Frame{
		EulerFrame(device, "tilt", pose.Euler(), t),
		PositionFrame(device, "accel", orientation.Vec3{X: ax, Y: ay, Z: az}, t),
	}
}

// Env reads a BMx280 over SPI: "temperature" in °C, "pressure" in hPa and
// an "env" sample of both.
type Env struct {
	device string
	dev    *bmxx80.Dev
}

func OpenEnv(device, spiDev string) (*Env, error) {
	if err := initHost(); err != nil {
		return nil, err
	}
	bus, err := spireg.Open(spiDev)
	if err != nil {
		return nil, fmt.Errorf("%s BMP SPI open: %w", device, err)
	}
	dev, err := bmxx80.NewSPI(bus, &bmxx80.DefaultOpts)
	if err != nil {
		return nil, fmt.Errorf("%s BMP init: %w", device, err)
	}
	return &Env{device: device, dev: dev}, nil
}

func (s *Env) Read(t time.Time) ([]Frame, error) {
	var e physic.Env
	if err := s.dev.Sense(&e); err != nil {
		return nil, fmt.Errorf("%s BMP sense: %w", s.device, err)
	}
	return EnvFrames(s.device, e, t), nil
}

func EnvFrames(device string, e physic.Env, t time.Time) []Frame {
	celsius := e.Temperature.Celsius()
	hPa := float64(e.Pressure) / float64(physic.Pascal) / 100
	return []Frame{
		ValueFrame(device, "temperature", celsius, t),
		ValueFrame(device, "pressure", hPa, t),
		{Device: device, Label: "env", Sample: []float64{celsius, hPa}, Time: t},
	}
}
