// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package calibration

import (
	"math"

	"github.com/relabs-tech/device_mapper/internal/axis"
	"github.com/relabs-tech/device_mapper/internal/orientation"
)

// Data is the calibration of one axis in one direction (raw input or
// world output).
//
// For non-rotation channels the center is derived from the bounds and the
// amplitude is max-min, which is negative when the range was recorded
// backwards; the relative value then still maps min to 0 and max to 1.
// For rotation channels the center is recorded on its own and decides
// which side of the 0/360 seam the arc lies on.
type Data struct {
	min         float64
	max         float64
	center      float64
	amplitude   float64
	clamp       bool
	invertLogic bool
	mode        axis.Mode
	readingFrom axis.Channel
}

// NewData returns data that clamps, reads from no channel and converts
// absolutely.
func NewData() Data {
	return Data{clamp: true, mode: axis.Absolute, readingFrom: axis.None}
}

func (d *Data) Min() float64              { return d.min }
func (d *Data) Max() float64              { return d.max }
func (d *Data) Center() float64           { return d.center }
func (d *Data) Amplitude() float64        { return d.amplitude }
func (d *Data) Clamp() bool               { return d.clamp }
func (d *Data) InvertLogic() bool         { return d.invertLogic }
func (d *Data) Mode() axis.Mode           { return d.mode }
func (d *Data) ReadingFrom() axis.Channel { return d.readingFrom }
func (d *Data) SetClamp(v bool)           { d.clamp = v }
func (d *Data) SetInvertLogic(v bool)     { d.invertLogic = v }
func (d *Data) SetMode(m axis.Mode)       { d.mode = m }
func (d *Data) IsRotation() bool          { return d.readingFrom.IsRotation() }

// SetMin updates the lower bound.
func (d *Data) SetMin(v float64) {
	d.min = v
	d.deriveCenter()
	d.deriveAmplitude()
}

// SetMax updates the upper bound.
func (d *Data) SetMax(v float64) {
	d.max = v
	d.deriveCenter()
	d.deriveAmplitude()
}

// SetCenter stores the reference value. Rotation centers are kept in
// [0,360).
func (d *Data) SetCenter(v float64) {
	if d.IsRotation() {
		v = orientation.NormalizeDegrees(v)
	}
	d.center = v
	d.deriveAmplitude()
}

// SetReadingFrom switches the source channel and re-derives center and
// amplitude for its topology.
func (d *Data) SetReadingFrom(ch axis.Channel) {
	d.readingFrom = ch
	if d.IsRotation() {
		d.center = orientation.NormalizeDegrees(d.center)
	}
	d.deriveCenter()
	d.deriveAmplitude()
}

// Reset zeroes the bounds and re-enables clamping. Mode, channel and
// invert flag are left alone.
func (d *Data) Reset() {
	d.min, d.max, d.center, d.amplitude = 0, 0, 0, 0
	d.clamp = true
}

func (d *Data) deriveCenter() {
	if d.IsRotation() {
		return
	}
	d.center = d.min + (d.max-d.min)/2
}

func (d *Data) deriveAmplitude() {
	if !d.IsRotation() {
		d.amplitude = d.max - d.min
		return
	}
	switch {
	case d.center == d.min && d.center == d.max:
		d.amplitude = 0
	case d.throughZero():
		d.amplitude = 360 - math.Abs(d.max-d.min)
	default:
		d.amplitude = math.Abs(d.max - d.min)
	}
}

func (d *Data) throughZero() bool {
	return d.throughZeroBiggerMax() || d.throughZeroBiggerMin()
}

func (d *Data) throughZeroBiggerMax() bool {
	c := d.center
	return (0 <= c && c <= d.min || d.max <= c && c <= 360) && d.max >= d.min
}

func (d *Data) throughZeroBiggerMin() bool {
	c := d.center
	return (d.min <= c && c <= 360 || 0 <= c && c <= d.max) && d.min >= d.max
}

func (d *Data) regularBiggerMax() bool {
	return d.min <= d.center && d.center <= d.max
}

func (d *Data) regularBiggerMin() bool {
	return d.max <= d.center && d.center <= d.min
}

// RelativeValue places a reading inside the calibrated range, nominally in
// [0,1]. Non-rotation readings outside the range are not clipped. Rotation
// readings outside the arc saturate to 0 or 1. A zero amplitude yields 0.
func (d *Data) RelativeValue(reading float64) float64 {
	if d.amplitude == 0 {
		return 0
	}
	if !d.IsRotation() {
		return (reading - d.min) / d.amplitude
	}
	return d.relativeRotation(reading)
}

func (d *Data) relativeRotation(v float64) float64 {
	a := d.amplitude
	switch {
	case d.throughZeroBiggerMax():
		switch {
		case v >= d.min && v <= 180:
			return 0
		case 0 <= v && v <= d.min:
			return (d.min - v) / a
		case d.max <= v && v <= 360:
			return (360 - v + d.min) / a
		}
		return 1
	case d.throughZeroBiggerMin():
		switch {
		case 180 <= v && v <= d.min:
			return 0
		case d.min <= v && v <= 360:
			return (v - d.min) / a
		case 0 <= v && v <= d.max:
			return (360 - d.min + v) / a
		}
		return 1
	case d.regularBiggerMax():
		switch {
		case d.min <= v && v <= d.max:
			return (v - d.min) / a
		case 0 <= v && v <= d.min:
			return 0
		}
		return 1
	case d.regularBiggerMin():
		switch {
		case d.max <= v && v <= d.min:
			return (d.min - v) / a
		case d.max <= v && v <= 360:
			return 0
		}
		return 1
	}
	// Unreachable while the center stays in [0,360).
	return 0
}

// State is the exported form of Data used by persistence.
type State struct {
	Min         float64      `json:"min" yaml:"min"`
	Max         float64      `json:"max" yaml:"max"`
	Center      float64      `json:"center" yaml:"center"`
	Amplitude   float64      `json:"amplitude" yaml:"amplitude"`
	Clamp       bool         `json:"clamp" yaml:"clamp"`
	InvertLogic bool         `json:"invert_logic" yaml:"invert_logic"`
	Mode        axis.Mode    `json:"mode" yaml:"mode"`
	ReadingFrom axis.Channel `json:"reading_from" yaml:"reading_from"`
}

// State snapshots d.
func (d *Data) State() State {
	return State{
		Min:         d.min,
		Max:         d.max,
		Center:      d.center,
		Amplitude:   d.amplitude,
		Clamp:       d.clamp,
		InvertLogic: d.invertLogic,
		Mode:        d.mode,
		ReadingFrom: d.readingFrom,
	}
}

// Restore overwrites d from a snapshot. The amplitude is re-derived from
// the bounds rather than trusted.
func (d *Data) Restore(s State) {
	d.readingFrom = s.ReadingFrom
	d.clamp = s.Clamp
	d.invertLogic = s.InvertLogic
	d.mode = s.Mode
	d.min = s.Min
	d.max = s.Max
	d.center = s.Center
	if d.IsRotation() {
		d.center = orientation.NormalizeDegrees(d.center)
	}
	d.deriveAmplitude()
}
