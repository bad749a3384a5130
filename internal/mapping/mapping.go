// Package mapping binds device inputs to the axes of a mapped property.
package mapping

import (
	"fmt"
	"math"

	"github.com/relabs-tech/device_mapper/internal/axis"
	"github.com/relabs-tech/device_mapper/internal/orientation"
)

// BoolHigh and BoolLow are the raw readings of a boolean channel.
const (
	BoolHigh = math.MaxFloat32
	BoolLow  = -math.MaxFloat32
)

// InputMapping reads one channel of one input.
type InputMapping struct {
	Input   Input        `json:"input" yaml:"input"`
	Channel axis.Channel `json:"channel" yaml:"channel"`
}

// Value returns the raw reading of the mapped channel. Rotation channels
// are Euler angles in [0,360); the bool channel reads BoolHigh or
// BoolLow. Unmapped or unavailable inputs read 0.
func (m InputMapping) Value(r Resolver) float64 {
	if m.Channel == axis.None {
		return 0
	}
	src, ok := m.Input.source(r)
	if !ok {
		return 0
	}
	switch m.Channel {
	case axis.PosX, axis.PosY, axis.PosZ:
		return src.Position().At(m.Channel.Index())
	case axis.RotX, axis.RotY, axis.RotZ:
		return orientation.NormalizeDegrees(src.Rotation().Euler().At(m.Channel.Index()))
	case axis.ChannelValue:
		return src.Float()
	case axis.ChannelBool:
		if src.Boolean() {
			return BoolHigh
		}
		return BoolLow
	case axis.ChannelSample:
		return 0
	}
	panic(fmt.Sprintf("mapping: unknown channel %d", int(m.Channel)))
}

// DefaultChannel is the channel a freshly bound input feeds into mapping
// slot i of a property of kind k.
func DefaultChannel(k axis.Kind, i int) axis.Channel {
	switch k {
	case axis.Position:
		return []axis.Channel{axis.PosX, axis.PosY, axis.PosZ}[i]
	case axis.Rotation:
		return []axis.Channel{axis.RotX, axis.RotY, axis.RotZ}[i]
	case axis.Boolean:
		return axis.ChannelBool
	case axis.Scalar:
		return axis.ChannelValue
	case axis.Sample:
		return axis.ChannelSample
	}
	panic(fmt.Sprintf("mapping: unknown kind %d", int(k)))
}
