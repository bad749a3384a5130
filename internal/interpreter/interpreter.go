// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package interpreter turns the raw readings of a mapped property into
// world values, one semantic kind per interpreter.
package interpreter

import (
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/relabs-tech/device_mapper/internal/axis"
	"github.com/relabs-tech/device_mapper/internal/calibration"
	"github.com/relabs-tech/device_mapper/internal/convert"
	"github.com/relabs-tech/device_mapper/internal/mapping"
	"github.com/relabs-tech/device_mapper/internal/orientation"
)

var (
	// ErrUnbound is returned by operations that need a bound property.
	ErrUnbound = errors.New("interpreter: no property bound")
	// ErrNotCalibratable is returned when calibrating a sample property.
	ErrNotCalibratable = errors.New("interpreter: sample properties have no calibration")
)

// State is the binding lifecycle of an interpreter.
type State int

const (
	Unbound State = iota
	Bound
	Calibrating
)

func (s State) String() string {
	switch s {
	case Unbound:
		return "unbound"
	case Bound:
		return "bound"
	case Calibrating:
		return "calibrating"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

type strategy struct {
	tick   func(*Interpreter, time.Duration)
	finish func(*Interpreter, axis.Axis, axis.Channel, calibration.Result)
}

var strategies = [axis.KindCount]strategy{
	axis.Position: {tick: (*Interpreter).tickVector, finish: (*Interpreter).finishAxis},
	axis.Rotation: {tick: (*Interpreter).tickVector, finish: (*Interpreter).finishAxis},
	axis.Boolean:  {tick: (*Interpreter).tickBool, finish: (*Interpreter).finishBool},
	axis.Scalar:   {tick: (*Interpreter).tickValue, finish: (*Interpreter).finishAxis},
	axis.Sample:   {tick: (*Interpreter).tickSample},
}

// Interpreter drives one property of one target. It is not safe for
// concurrent use; the host serializes Tick with every other call.
type Interpreter struct {
	kind            axis.Kind
	mode            axis.Mode
	useOnThisObject bool
	state           State

	profile  *calibration.Profile
	absolute *convert.Absolute
	additive *convert.Additive

	property *mapping.Property
	sink     Sink
	value    MapperValue

	// generation changes on every bind and unbind; a calibration session
	// only writes back into the binding it was started on.
	generation uint64
	cal        *calibration.Calibrator
	session    string

	logger *zap.Logger
}

// Option configures an Interpreter.
type Option func(*Interpreter)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(in *Interpreter) {
		if l != nil {
			in.logger = l
		}
	}
}

// WithProfile makes the interpreter use p instead of a fresh profile.
func WithProfile(p *calibration.Profile) Option {
	return func(in *Interpreter) {
		if p != nil {
			in.profile = p
		}
	}
}

// New returns an unbound interpreter for properties of kind k.
func New(k axis.Kind, opts ...Option) *Interpreter {
	if k < 0 || int(k) >= axis.KindCount {
		panic(fmt.Sprintf("interpreter: unknown kind %d", int(k)))
	}
	in := &Interpreter{
		kind:            k,
		mode:            axis.Absolute,
		useOnThisObject: true,
		logger:          zap.NewNop(),
	}
	for _, opt := range opts {
		opt(in)
	}
	if in.profile == nil {
		in.profile = calibration.NewProfile(k)
	}
	in.absolute = convert.NewAbsolute(in.profile)
	in.additive = convert.NewAdditive(in.profile)
	return in
}

func (in *Interpreter) Kind() axis.Kind               { return in.kind }
func (in *Interpreter) State() State                  { return in.state }
func (in *Interpreter) Mode() axis.Mode               { return in.mode }
func (in *Interpreter) Profile() *calibration.Profile { return in.profile }
func (in *Interpreter) Additive() *convert.Additive   { return in.additive }
func (in *Interpreter) Property() *mapping.Property   { return in.property }
func (in *Interpreter) Sink() Sink                    { return in.sink }
func (in *Interpreter) UseOnThisObject() bool         { return in.useOnThisObject }
func (in *Interpreter) SetUseOnThisObject(v bool)     { in.useOnThisObject = v }
func (in *Interpreter) Value() MapperValue            { return in.value.Clone() }

// SetMode picks how readings become world values. Absolute and Additive
// also switch every axis of the kind to that converter.
func (in *Interpreter) SetMode(m axis.Mode) {
	in.mode = m
	if m == axis.Direct {
		return
	}
	for _, a := range in.kind.Axes() {
		in.profile.SetOutputMode(a, m)
	}
}

// Bind attaches the interpreter to prop and starts writing to sink, which
// may be nil. The cached value is seeded from the sink's transform.
func (in *Interpreter) Bind(prop *mapping.Property, sink Sink) error {
	if prop == nil {
		return fmt.Errorf("interpreter: bind %s: nil property", in.kind)
	}
	if prop.Kind != in.kind {
		return fmt.Errorf("interpreter: cannot bind %s property %q to %s interpreter", prop.Kind, prop.Target, in.kind)
	}
	in.property = prop
	in.sink = sink
	in.generation++
	if sink != nil {
		in.value.Position, in.value.Rotation = sink.Transform()
	}
	in.state = Bound
	in.logger.Info("property bound", zap.String("target", prop.Target), zap.Stringer("kind", in.kind))
	return nil
}

// StopBind cancels the calibration session it started, if still live,
// zeroes the cached value, resets the profile and additive converter and
// drops the binding.
func (in *Interpreter) StopBind() {
	if in.property != nil {
		in.logger.Info("property unbound", zap.String("target", in.property.Target), zap.Stringer("kind", in.kind))
	}
	if in.cal != nil && in.session != "" {
		in.cal.CancelSession(in.session)
	}
	in.cal, in.session = nil, ""
	in.generation++
	in.value = MapperValue{}
	in.profile.Reset()
	in.additive.Reset()
	in.property = nil
	in.sink = nil
	in.state = Unbound
}

// Tick advances the interpreter by dt. Unbound interpreters do nothing.
func (in *Interpreter) Tick(dt time.Duration) {
	if in.state == Unbound || in.property == nil {
		return
	}
	strategies[in.kind].tick(in, dt)
}

// Reading returns the current raw reading feeding axis a.
func (in *Interpreter) Reading(a axis.Axis) float64 {
	if in.property == nil {
		return 0
	}
	return in.property.Mapping(axis.MappingIndex(a)).Value(in.property.Resolver())
}

func (in *Interpreter) convert(reading, current float64, a axis.Axis, dt time.Duration) float64 {
	var c convert.Converter = in.absolute
	if in.profile.OutputMode(a) == axis.Additive {
		c = in.additive
	}
	return c.Value(reading, current, a, dt)
}

func (in *Interpreter) vector() *orientation.Vec3 {
	if in.kind == axis.Rotation {
		return &in.value.Rotation
	}
	return &in.value.Position
}

func (in *Interpreter) readVector(direct bool) orientation.Vec3 {
	if in.kind == axis.Rotation {
		return in.property.Rotation(direct)
	}
	return in.property.Position(direct)
}

func (in *Interpreter) writeVector() {
	if !in.useOnThisObject || in.sink == nil {
		return
	}
	if in.kind == axis.Rotation {
		in.sink.SetRotation(in.value.Rotation)
		return
	}
	in.sink.SetPosition(in.value.Position)
}

func (in *Interpreter) tickVector(dt time.Duration) {
	cur := in.vector()
	reading := in.readVector(false)

	if in.property.AllNone() || reading.IsZero() {
		if in.sink != nil {
			pos, rot := in.sink.Transform()
			if in.kind == axis.Rotation {
				*cur = rot
			} else {
				*cur = pos
			}
		}
		return
	}

	if in.mode == axis.Direct {
		direct := in.readVector(true)
		if direct.HasNaN() {
			return
		}
		*cur = direct
		in.writeVector()
		return
	}

	prev := *cur
	axes := in.kind.Axes()
	var next orientation.Vec3
	for i, a := range axes {
		v := in.convert(reading.At(i), prev.At(i), a, dt)
		v = in.profile.ClampValue(a, v)
		if in.property.IsNone(a) {
			v = prev.At(i)
		}
		next = next.With(i, v)
	}
	if next.HasNaN() {
		in.logger.Debug("dropping non-finite value", zap.String("target", in.property.Target), zap.Stringer("kind", in.kind))
		return
	}
	*cur = next
	in.writeVector()
}

func (in *Interpreter) tickValue(dt time.Duration) {
	raw := in.property.Float(false)
	if in.property.IsNone(axis.Value) || raw == 0 {
		return
	}

	var v float64
	if in.mode == axis.Direct {
		v = in.property.Float(true)
	} else {
		v = in.convert(raw, in.value.Value, axis.Value, dt)
		v = in.profile.ClampValue(axis.Value, v)
	}
	if math.IsNaN(v) {
		return
	}
	in.value.Value = v
	if in.useOnThisObject && in.sink != nil {
		in.sink.SetValue(v)
	}
}

func (in *Interpreter) tickBool(time.Duration) {
	raw := in.property.Boolean()
	if in.property.IsNone(axis.Bool) || raw == 0 {
		return
	}

	var v bool
	if in.mode == axis.Direct {
		v = raw > 0
	} else {
		threshold := in.profile.RelativeInput(in.profile.OutputCenter(axis.Bool), axis.Bool)
		v = in.profile.RelativeInput(raw, axis.Bool) >= threshold
	}
	if in.profile.InvertLogic(axis.Bool) {
		v = !v
	}
	in.value.Bool = v
	if in.useOnThisObject && in.sink != nil {
		in.sink.SetBool(v)
	}
}

func (in *Interpreter) tickSample(time.Duration) {
	in.value.Sample = in.property.Sample()
	if in.useOnThisObject && in.sink != nil {
		in.sink.SetSample(in.value.Sample)
	}
}

// Calibrate starts a session on cal that samples the input feeding target
// through channel ch. The results are written into the input side of the
// profile once the session completes; a cancelled session writes nothing.
func (in *Interpreter) Calibrate(cal *calibration.Calibrator, target axis.Axis, ch axis.Channel) (calibration.Info, error) {
	if in.state == Unbound || in.property == nil {
		return calibration.Info{}, ErrUnbound
	}
	finish := strategies[in.kind].finish
	if finish == nil {
		return calibration.Info{}, ErrNotCalibratable
	}
	if !drives(in.kind, target) {
		return calibration.Info{}, fmt.Errorf("interpreter: %s property has no %s axis", in.kind, target)
	}

	prop := in.property
	gen := in.generation
	slot := axis.MappingIndex(target)
	info, err := cal.Start(calibration.Request{
		Target:  target,
		Channel: ch,
		Read:    func() float64 { return prop.Read(slot, ch) },
		Done: func(r calibration.Result) {
			if in.generation != gen {
				return
			}
			in.cal, in.session = nil, ""
			finish(in, target, ch, r)
			in.state = Bound
		},
		Cancelled: func() {
			if in.generation != gen {
				return
			}
			in.cal, in.session = nil, ""
			if in.state == Calibrating {
				in.state = Bound
			}
		},
	})
	if err != nil {
		return calibration.Info{}, fmt.Errorf("interpreter: calibrate %s/%s: %w", in.kind, target, err)
	}
	in.cal, in.session = cal, info.ID
	in.state = Calibrating
	return info, nil
}

func drives(k axis.Kind, a axis.Axis) bool {
	for _, b := range k.Axes() {
		if a == b {
			return true
		}
	}
	return false
}

func (in *Interpreter) finishAxis(target axis.Axis, ch axis.Channel, r calibration.Result) {
	d := &in.profile.Input[target]
	d.SetReadingFrom(ch)
	d.SetCenter(r.Center)
	d.SetMin(r.Min)
	d.SetMax(r.Max)
	in.logger.Info("axis calibrated",
		zap.String("target", in.property.Target),
		zap.Stringer("kind", in.kind),
		zap.Stringer("axis", target),
		zap.Stringer("channel", ch),
		zap.Float64("min", d.Min()),
		zap.Float64("max", d.Max()),
		zap.Float64("center", d.Center()),
	)
}

// finishBool also moves the threshold to the middle of the calibrated
// range. The threshold is kept in raw input units.
func (in *Interpreter) finishBool(target axis.Axis, ch axis.Channel, r calibration.Result) {
	in.finishAxis(target, ch, r)
	in.profile.SetOutputCenter(axis.Bool, in.profile.InputCenter(axis.Bool))
}
