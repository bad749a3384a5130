// Package device receives readings from external devices and keeps the
// latest one per input for the mapper to read.
package device

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/relabs-tech/device_mapper/internal/orientation"
)

// Frame is one reading of one input of one device. Only the fields a
// device sets are applied; the rest of the input keeps its last value.
type Frame struct {
	Device   string            `json:"device"`
	Label    string            `json:"label"`
	Position *orientation.Vec3 `json:"position,omitempty"`
	Rotation *orientation.Quat `json:"rotation,omitempty"`
	Euler    *orientation.Vec3 `json:"euler,omitempty"` // degrees, used when Rotation is absent
	Value    *float64          `json:"value,omitempty"`
	Bool     *bool             `json:"bool,omitempty"`
	Sample   []float64         `json:"sample,omitempty"`
	Time     time.Time         `json:"ts,omitzero"`
}

func (f Frame) validate() error {
	if f.Device == "" || f.Label == "" {
		return fmt.Errorf("device: frame needs device and label, got %q/%q", f.Device, f.Label)
	}
	return nil
}

// DecodeFrames parses a JSON frame or an array of frames.
func DecodeFrames(data []byte) ([]Frame, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("device: empty frame payload")
	}

	var frames []Frame
	if data[0] == '[' {
		if err := json.Unmarshal(data, &frames); err != nil {
			return nil, fmt.Errorf("device: decode frames: %w", err)
		}
	} else {
		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("device: decode frame: %w", err)
		}
		frames = []Frame{f}
	}

	for _, f := range frames {
		if err := f.validate(); err != nil {
			return nil, err
		}
	}
	return frames, nil
}

// EncodeFrames is the inverse of DecodeFrames.
func EncodeFrames(frames ...Frame) ([]byte, error) {
	if len(frames) == 1 {
		return json.Marshal(frames[0])
	}
	return json.Marshal(frames)
}

func ptr[T any](v T) *T { return &v }

// PositionFrame, EulerFrame, ValueFrame and BoolFrame build single-field
// frames stamped with t.
func PositionFrame(device, label string, v orientation.Vec3, t time.Time) Frame {
	return Frame{Device: device, Label: label, Position: ptr(v), Time: t}
}

func EulerFrame(device, label string, deg orientation.Vec3, t time.Time) Frame {
	return Frame{Device: device, Label: label, Euler: ptr(deg), Time: t}
}

func ValueFrame(device, label string, v float64, t time.Time) Frame {
	return Frame{Device: device, Label: label, Value: ptr(v), Time: t}
}

func BoolFrame(device, label string, v bool, t time.Time) Frame {
	return Frame{Device: device, Label: label, Bool: ptr(v), Time: t}
}
