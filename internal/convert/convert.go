// Package convert turns calibrated raw readings into world values.
package convert

import (
	"math"
	"time"

	"github.com/relabs-tech/device_mapper/internal/axis"
	"github.com/relabs-tech/device_mapper/internal/calibration"
)

// Converter maps one raw reading on axis a to a world value. current is
// the previous world value and dt the time since it was computed.
type Converter interface {
	Value(reading, current float64, a axis.Axis, dt time.Duration) float64
}

// Absolute remaps the calibrated input range linearly onto the output
// range. It ignores the previous value.
type Absolute struct {
	profile *calibration.Profile
}

func NewAbsolute(p *calibration.Profile) *Absolute {
	return &Absolute{profile: p}
}

func (c *Absolute) Value(reading, _ float64, a axis.Axis, _ time.Duration) float64 {
	p := c.profile
	return p.RelativeInput(reading, a)*p.OutputAmplitude(a) + p.OutputMin(a)
}

const (
	DefaultMaxSpeed  = 40.0
	DefaultTolerance = 10.0
)

// Additive treats the relative reading as a joystick deflection around
// 0.5 and integrates it: the world value moves up while the reading sits
// above the dead zone and down while it sits below, at up to MaxSpeed
// world units per second.
type Additive struct {
	profile   *calibration.Profile
	maxSpeed  [axis.Count]float64
	tolerance [axis.Count]float64
}

func NewAdditive(p *calibration.Profile) *Additive {
	c := &Additive{profile: p}
	c.Reset()
	return c
}

// Reset restores the default speed and tolerance on every axis.
func (c *Additive) Reset() {
	for i := range c.maxSpeed {
		c.maxSpeed[i] = DefaultMaxSpeed
		c.tolerance[i] = DefaultTolerance
	}
}

func (c *Additive) SetMaxSpeed(a axis.Axis, v float64) { c.maxSpeed[a] = v }
func (c *Additive) MaxSpeed(a axis.Axis) float64       { return c.maxSpeed[a] }

// SetTolerance sets the dead zone of a as a percentage of the calibrated
// range, centered on 0.5.
func (c *Additive) SetTolerance(a axis.Axis, v float64) { c.tolerance[a] = v }
func (c *Additive) Tolerance(a axis.Axis) float64       { return c.tolerance[a] }

func (c *Additive) Value(reading, current float64, a axis.Axis, dt time.Duration) float64 {
	rel := c.profile.RelativeInput(reading, a)
	target := math.Inf(-1)
	if rel > 0.5 {
		target = math.Inf(1)
	}
	step := Deflection(rel, c.tolerance[a]) * c.maxSpeed[a] * dt.Seconds()
	return MoveTowards(current, target, step)
}

// Deflection returns how hard a relative reading pushes, in [0,1]: full
// outside the calibrated range, zero inside the dead zone and linear in
// between. The dead zone spans tolerance/100/2 on each side of 0.5.
func Deflection(rel, tolerance float64) float64 {
	half := tolerance / 100 / 2
	switch {
	case rel <= 0 || rel >= 1:
		return 1
	case rel >= 0.5-half && rel <= 0.5+half:
		return 0
	}
	return math.Abs(2 * (rel - 0.5))
}

// MoveTowards moves current towards target by at most maxDelta.
func MoveTowards(current, target, maxDelta float64) float64 {
	if math.Abs(target-current) <= maxDelta {
		return target
	}
	return current + math.Copysign(maxDelta, target-current)
}
