package calibration

import (
	"github.com/relabs-tech/device_mapper/internal/axis"
)

// Profile holds the input (raw) and output (world) calibration of every
// axis of one mapped property.
type Profile struct {
	Input  [axis.Count]Data
	Output [axis.Count]Data
}

// NewProfile returns a fresh profile for a property of kind k.
func NewProfile(k axis.Kind) *Profile {
	p := &Profile{}
	p.Init(k)
	return p
}

// Init replaces every axis with default data. The output side of the axes
// k drives reads from no channel, so output values are treated linearly.
func (p *Profile) Init(k axis.Kind) {
	for i := range p.Input {
		p.Input[i] = NewData()
		p.Output[i] = NewData()
	}
	for _, a := range k.Axes() {
		p.Output[a].SetReadingFrom(axis.None)
	}
}

// Reset zeroes the bounds of every axis on both sides.
func (p *Profile) Reset() {
	for i := range p.Input {
		p.Input[i].Reset()
		p.Output[i].Reset()
	}
}

// RelativeInput places a raw reading inside the calibrated input range of a.
func (p *Profile) RelativeInput(reading float64, a axis.Axis) float64 {
	return p.Input[a].RelativeValue(reading)
}

// RelativeOutput places a world value inside the output range of a.
func (p *Profile) RelativeOutput(value float64, a axis.Axis) float64 {
	return p.Output[a].RelativeValue(value)
}

func (p *Profile) SetInputMin(a axis.Axis, v float64)    { p.Input[a].SetMin(v) }
func (p *Profile) SetInputMax(a axis.Axis, v float64)    { p.Input[a].SetMax(v) }
func (p *Profile) SetInputCenter(a axis.Axis, v float64) { p.Input[a].SetCenter(v) }
func (p *Profile) InputMin(a axis.Axis) float64          { return p.Input[a].Min() }
func (p *Profile) InputMax(a axis.Axis) float64          { return p.Input[a].Max() }
func (p *Profile) InputCenter(a axis.Axis) float64       { return p.Input[a].Center() }

func (p *Profile) SetOutputMin(a axis.Axis, v float64)    { p.Output[a].SetMin(v) }
func (p *Profile) SetOutputMax(a axis.Axis, v float64)    { p.Output[a].SetMax(v) }
func (p *Profile) SetOutputCenter(a axis.Axis, v float64) { p.Output[a].SetCenter(v) }
func (p *Profile) OutputMin(a axis.Axis) float64          { return p.Output[a].Min() }
func (p *Profile) OutputMax(a axis.Axis) float64          { return p.Output[a].Max() }
func (p *Profile) OutputCenter(a axis.Axis) float64       { return p.Output[a].Center() }
func (p *Profile) OutputAmplitude(a axis.Axis) float64    { return p.Output[a].Amplitude() }

// SetOutputMode picks the converter used for a.
func (p *Profile) SetOutputMode(a axis.Axis, m axis.Mode) { p.Output[a].SetMode(m) }
func (p *Profile) OutputMode(a axis.Axis) axis.Mode       { return p.Output[a].Mode() }

// SetClamp toggles clamping of a's world value to its output range.
func (p *Profile) SetClamp(a axis.Axis, v bool) { p.Output[a].SetClamp(v) }
func (p *Profile) Clamp(a axis.Axis) bool       { return p.Output[a].Clamp() }

// SetInvertLogic swaps the meaning of true and false on a boolean axis.
func (p *Profile) SetInvertLogic(a axis.Axis, v bool) { p.Output[a].SetInvertLogic(v) }
func (p *Profile) InvertLogic(a axis.Axis) bool       { return p.Output[a].InvertLogic() }

// ClampValue bounds v to the output range of a when clamping is enabled.
// A range recorded backwards is treated as [max,min].
func (p *Profile) ClampValue(a axis.Axis, v float64) float64 {
	d := &p.Output[a]
	if !d.Clamp() {
		return v
	}
	lo, hi := d.Min(), d.Max()
	if lo > hi {
		lo, hi = hi, lo
	}
	switch {
	case v < lo:
		return lo
	case v > hi:
		return hi
	}
	return v
}
