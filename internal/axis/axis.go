// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package axis holds the closed enumerations shared by the calibration,
// conversion and mapping layers: output axes, raw input channels,
// calibration modes and semantic kinds.
package axis

import (
	"fmt"
	"strings"
)

// Axis identifies one scalar channel of a semantic kind.
type Axis int

const (
	X Axis = iota
	Y
	Z
	Value
	Bool
)

// Count is the number of axes. Per-axis data is stored in [Count] arrays.
const Count = 5

var axisNames = []string{"x", "y", "z", "value", "bool"}

// All lists every axis in index order.
var All = [Count]Axis{X, Y, Z, Value, Bool}

func (a Axis) String() string {
	if a < 0 || int(a) >= len(axisNames) {
		return fmt.Sprintf("axis(%d)", int(a))
	}
	return axisNames[a]
}

// Valid reports whether a is one of the declared axes.
func (a Axis) Valid() bool { return a >= 0 && int(a) < Count }

// ParseAxis is the inverse of Axis.String.
func ParseAxis(s string) (Axis, error) {
	return parse[Axis](axisNames, s, "axis")
}

func (a Axis) MarshalText() ([]byte, error) {
	if !a.Valid() {
		return nil, fmt.Errorf("invalid axis %d", int(a))
	}
	return []byte(a.String()), nil
}

func (a *Axis) UnmarshalText(b []byte) error {
	v, err := ParseAxis(string(b))
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// Channel is the raw input channel a mapping reads from.
type Channel int

const (
	None Channel = iota
	PosX
	PosY
	PosZ
	RotX
	RotY
	RotZ
	ChannelValue
	ChannelBool
	ChannelSample
)

var channelNames = []string{"none", "pos_x", "pos_y", "pos_z", "rot_x", "rot_y", "rot_z", "value", "bool", "sample"}

func (c Channel) String() string {
	if c < 0 || int(c) >= len(channelNames) {
		return fmt.Sprintf("channel(%d)", int(c))
	}
	return channelNames[c]
}

// IsRotation reports whether readings on c are angles in degrees.
func (c Channel) IsRotation() bool {
	return c == RotX || c == RotY || c == RotZ
}

// Index returns the vector component c reads: 0 for X-like channels and
// for the scalar channels, 1 for Y, 2 for Z.
func (c Channel) Index() int {
	switch c {
	case PosY, RotY:
		return 1
	case PosZ, RotZ:
		return 2
	default:
		return 0
	}
}

// ParseChannel is the inverse of Channel.String.
func ParseChannel(s string) (Channel, error) {
	return parse[Channel](channelNames, s, "channel")
}

func (c Channel) MarshalText() ([]byte, error) {
	if c < 0 || int(c) >= len(channelNames) {
		return nil, fmt.Errorf("invalid channel %d", int(c))
	}
	return []byte(c.String()), nil
}

func (c *Channel) UnmarshalText(b []byte) error {
	v, err := ParseChannel(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// Mode selects how a raw reading becomes a world value.
type Mode int

const (
	// Direct passes the raw reading through untouched.
	Direct Mode = iota
	// Absolute remaps the calibrated input range onto the output range.
	Absolute
	// Additive integrates the deflection from the calibrated center.
	Additive
)

var modeNames = []string{"direct", "absolute", "additive"}

func (m Mode) String() string {
	if m < 0 || int(m) >= len(modeNames) {
		return fmt.Sprintf("mode(%d)", int(m))
	}
	return modeNames[m]
}

func ParseMode(s string) (Mode, error) {
	return parse[Mode](modeNames, s, "mode")
}

func (m Mode) MarshalText() ([]byte, error) {
	if m < 0 || int(m) >= len(modeNames) {
		return nil, fmt.Errorf("invalid mode %d", int(m))
	}
	return []byte(m.String()), nil
}

func (m *Mode) UnmarshalText(b []byte) error {
	v, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// Kind is the semantic type a mapped property drives.
type Kind int

const (
	Position Kind = iota
	Rotation
	Boolean
	Scalar
	Sample
)

// KindCount is the number of semantic kinds.
const KindCount = 5

var kindNames = []string{"position", "rotation", "bool", "value", "sample"}

// Kinds lists every kind in index order.
var Kinds = [KindCount]Kind{Position, Rotation, Boolean, Scalar, Sample}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return kindNames[k]
}

func ParseKind(s string) (Kind, error) {
	return parse[Kind](kindNames, s, "kind")
}

func (k Kind) MarshalText() ([]byte, error) {
	if k < 0 || int(k) >= len(kindNames) {
		return nil, fmt.Errorf("invalid kind %d", int(k))
	}
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	v, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// Axes returns the axes k drives, in mapping order.
func (k Kind) Axes() []Axis {
	switch k {
	case Position, Rotation:
		return []Axis{X, Y, Z}
	case Boolean:
		return []Axis{Bool}
	case Scalar, Sample:
		return []Axis{Value}
	}
	panic(fmt.Sprintf("axis: unknown kind %d", int(k)))
}

// MappingCount is the number of input mappings a property of kind k holds.
func (k Kind) MappingCount() int {
	return len(k.Axes())
}

// MappingIndex returns the input mapping slot that feeds axis a.
func MappingIndex(a Axis) int {
	switch a {
	case X, Value, Bool:
		return 0
	case Y:
		return 1
	case Z:
		return 2
	}
	panic(fmt.Sprintf("axis: unknown axis %d", int(a)))
}

func parse[T ~int](names []string, s, what string) (T, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, n := range names {
		if n == s {
			return T(i), nil
		}
	}
	return 0, fmt.Errorf("unknown %s %q", what, s)
}
