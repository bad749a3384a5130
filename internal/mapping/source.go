package mapping

import (
	"github.com/relabs-tech/device_mapper/internal/orientation"
)

// Source is one input channel of a device, as last seen. A missing or
// disconnected source yields zero values.
type Source interface {
	Position() orientation.Vec3
	Rotation() orientation.Quat
	Float() float64
	Boolean() bool
	Sample() []float64
	Connected() bool
}

// Resolver finds the source behind a device name and input label.
type Resolver interface {
	Source(device, label string) (Source, bool)
}

// Input identifies one input channel of one device. The zero value maps
// to nothing.
type Input struct {
	Device string `json:"device" yaml:"device"`
	Label  string `json:"label" yaml:"label"`
}

// IsNone reports whether in names no input.
func (in Input) IsNone() bool { return in.Device == "" && in.Label == "" }

func (in Input) String() string {
	if in.IsNone() {
		return "none"
	}
	return in.Device + "/" + in.Label
}

func (in Input) source(r Resolver) (Source, bool) {
	if r == nil || in.IsNone() {
		return nil, false
	}
	src, ok := r.Source(in.Device, in.Label)
	if !ok || src == nil || !src.Connected() {
		return nil, false
	}
	return src, true
}
