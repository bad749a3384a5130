package interpreter

import (
	"github.com/relabs-tech/device_mapper/internal/axis"
	"github.com/relabs-tech/device_mapper/internal/orientation"
)

// MapperValue is the last world value an interpreter computed. Only the
// field matching the interpreter's kind is meaningful.
type MapperValue struct {
	Position orientation.Vec3 `json:"position"`
	Rotation orientation.Vec3 `json:"rotation"`
	Value    float64          `json:"value"`
	Bool     bool             `json:"bool"`
	Sample   []float64        `json:"sample,omitempty"`
}

// Clone returns a copy that shares no memory with v.
func (v MapperValue) Clone() MapperValue {
	c := v
	if v.Sample != nil {
		c.Sample = append([]float64(nil), v.Sample...)
	}
	return c
}

// Field returns the part of v a property of kind k drives.
func (v MapperValue) Field(k axis.Kind) any {
	switch k {
	case axis.Position:
		return v.Position
	case axis.Rotation:
		return v.Rotation
	case axis.Boolean:
		return v.Bool
	case axis.Scalar:
		return v.Value
	case axis.Sample:
		return v.Sample
	}
	return nil
}

// Sink receives the world values of a bound property. Transform is read
// only to seed the value at bind time and while no input drives it.
type Sink interface {
	Transform() (position, rotation orientation.Vec3)
	SetPosition(orientation.Vec3)
	SetRotation(orientation.Vec3)
	SetValue(float64)
	SetBool(bool)
	SetSample([]float64)
}

// RecordingSink is an in-memory target object. It keeps whatever was
// last written and counts the writes.
type RecordingSink struct {
	Position orientation.Vec3
	Rotation orientation.Vec3
	Value    float64
	Bool     bool
	Sample   []float64
	Writes   int
}

// NewRecordingSink returns a sink whose transform starts at pos and rot.
func NewRecordingSink(pos, rot orientation.Vec3) *RecordingSink {
	return &RecordingSink{Position: pos, Rotation: rot}
}

func (s *RecordingSink) Transform() (orientation.Vec3, orientation.Vec3) {
	return s.Position, s.Rotation
}

func (s *RecordingSink) SetPosition(v orientation.Vec3) { s.Position = v; s.Writes++ }
func (s *RecordingSink) SetRotation(v orientation.Vec3) { s.Rotation = v; s.Writes++ }
func (s *RecordingSink) SetValue(v float64)             { s.Value = v; s.Writes++ }
func (s *RecordingSink) SetBool(v bool)                 { s.Bool = v; s.Writes++ }

func (s *RecordingSink) SetSample(v []float64) {
	s.Sample = append(s.Sample[:0], v...)
	s.Writes++
}
