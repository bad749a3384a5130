package mapper_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/device_mapper/internal/axis"
	"github.com/relabs-tech/device_mapper/internal/calibration"
	"github.com/relabs-tech/device_mapper/internal/interpreter"
	"github.com/relabs-tech/device_mapper/internal/mapper"
	"github.com/relabs-tech/device_mapper/internal/mapping"
	"github.com/relabs-tech/device_mapper/internal/orientation"
)

type glove struct{ value float64 }

func (g *glove) Position() orientation.Vec3 { return orientation.Vec3{X: g.value} }
func (g *glove) Rotation() orientation.Quat { return orientation.Identity }
func (g *glove) Float() float64             { return g.value }
func (g *glove) Boolean() bool              { return g.value > 0 }
func (g *glove) Sample() []float64          { return nil }
func (g *glove) Connected() bool            { return true }

type resolver struct{ g *glove }

func (r resolver) Source(device, label string) (mapping.Source, bool) {
	if device == "glove" && label == "grip" {
		return r.g, true
	}
	return nil, false
}

var grip = mapping.Input{Device: "glove", Label: "grip"}

func TestRegistryTargets(t *testing.T) {
	r := mapper.NewRegistry(nil, nil)
	require.NoError(t, r.AddTarget("door", nil))
	require.NoError(t, r.AddTarget("cube", nil))
	assert.ErrorIs(t, r.AddTarget("cube", nil), mapper.ErrTargetExists)
	assert.Error(t, r.AddTarget("", nil))

	assert.Equal(t, []string{"cube", "door"}, r.Targets())

	for _, k := range axis.Kinds {
		p, err := r.Property("cube", k)
		require.NoError(t, err)
		assert.Len(t, p.Mappings(), k.MappingCount())
	}

	_, err := r.Binding("ghost", axis.Position)
	assert.ErrorIs(t, err, mapper.ErrUnknownTarget)

	require.NoError(t, r.RemoveTarget("door"))
	assert.Equal(t, []string{"cube"}, r.Targets())
	assert.ErrorIs(t, r.RemoveTarget("door"), mapper.ErrUnknownTarget)
}

func TestRegistryBindUnbind(t *testing.T) {
	r := mapper.NewRegistry(resolver{&glove{}}, nil)
	require.NoError(t, r.AddTarget("bar", nil))

	err := r.Bind("bar", axis.Scalar, []mapping.InputMapping{{Input: grip, Channel: axis.ChannelValue}, {}})
	require.Error(t, err)

	require.NoError(t, r.Bind("bar", axis.Scalar, []mapping.InputMapping{{Input: grip, Channel: axis.ChannelValue}}))
	b, err := r.Binding("bar", axis.Scalar)
	require.NoError(t, err)
	assert.True(t, b.Bound())

	b.Interpreter.Profile().SetInputMax(axis.Value, 10)
	require.NoError(t, r.Bind("bar", axis.Scalar, []mapping.InputMapping{{Input: grip, Channel: axis.PosX}}))
	assert.Equal(t, 10.0, b.Interpreter.Profile().InputMax(axis.Value))
	assert.Equal(t, axis.PosX, b.Property.Mapping(0).Channel)

	require.NoError(t, r.Unbind("bar", axis.Scalar))
	assert.False(t, b.Bound())
	assert.True(t, b.Property.AllNone())
	assert.Zero(t, b.Interpreter.Profile().InputMax(axis.Value))
}

func TestRegistryEachOrder(t *testing.T) {
	r := mapper.NewRegistry(nil, nil)
	require.NoError(t, r.AddTarget("b", nil))
	require.NoError(t, r.AddTarget("a", nil))

	var seen []string
	r.Each(func(b *mapper.Binding) {
		seen = append(seen, b.Target+"/"+b.Kind.String())
	})
	require.Len(t, seen, 2*axis.KindCount)
	assert.Equal(t, "a/position", seen[0])
	assert.Equal(t, "b/sample", seen[len(seen)-1])
}

func newService(t *testing.T, g *glove) (*mapper.Service, *interpreter.RecordingSink) {
	t.Helper()
	svc := mapper.NewService(resolver{g}, mapper.WithCalibrationWindow(time.Second))
	sink := interpreter.NewRecordingSink(orientation.Vec3{}, orientation.Vec3{})
	err := svc.Do(func(r *mapper.Registry) error {
		if err := r.AddTarget("bar", sink); err != nil {
			return err
		}
		return r.Bind("bar", axis.Scalar, []mapping.InputMapping{{Input: grip, Channel: axis.PosX}})
	})
	require.NoError(t, err)
	return svc, sink
}

func TestServiceCalibrateThenDrive(t *testing.T) {
	g := &glove{}
	svc, sink := newService(t, g)
	ctx := context.Background()
	start := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

	err := svc.Do(func(r *mapper.Registry) error {
		b, err := r.Binding("bar", axis.Scalar)
		if err != nil {
			return err
		}
		b.Interpreter.Profile().SetOutputMin(axis.Value, 0)
		b.Interpreter.Profile().SetOutputMax(axis.Value, 1)
		return nil
	})
	require.NoError(t, err)

	info, err := svc.StartCalibration("bar", axis.Scalar, axis.Value, axis.PosX)
	require.NoError(t, err)
	_, err = svc.StartCalibration("bar", axis.Scalar, axis.Value, axis.PosX)
	assert.ErrorIs(t, err, calibration.ErrSessionActive)

	live, ok := svc.Calibration(start)
	require.True(t, ok)
	assert.Equal(t, info.ID, live.ID)

	for i, v := range []float64{8, 10, 2, 2, 5} {
		g.value = v
		require.NoError(t, svc.Tick(ctx, start.Add(time.Duration(i)*500*time.Millisecond), 20*time.Millisecond))
	}

	_, ok = svc.Calibration(start)
	assert.False(t, ok)

	out, ok := svc.LastOutcome()
	require.True(t, ok)
	assert.Equal(t, info.ID, out.ID)
	assert.Equal(t, calibration.Done, out.Status)
	assert.Equal(t, 2.0, out.Input.Min)
	assert.Equal(t, 10.0, out.Input.Max)

	g.value = 8
	require.NoError(t, svc.Tick(ctx, start.Add(5*time.Second), 20*time.Millisecond))
	assert.InDelta(t, 0.75, sink.Value, 1e-9)

	outs := svc.Outputs()
	require.Len(t, outs, 1)
	assert.Equal(t, "bar", outs[0].Target)
	assert.Equal(t, "bound", outs[0].State)
	assert.InDelta(t, 0.75, outs[0].Value.Value, 1e-9)
}

func TestServiceCancelCalibration(t *testing.T) {
	g := &glove{value: 3}
	svc, _ := newService(t, g)

	_, err := svc.StartCalibration("bar", axis.Scalar, axis.Value, axis.PosX)
	require.NoError(t, err)
	svc.CancelCalibration()

	out, ok := svc.LastOutcome()
	require.True(t, ok)
	assert.Equal(t, calibration.Cancelled, out.Status)
	assert.Zero(t, out.Input.Max)

	assert.ErrorIs(t, svc.AcceptCalibration(), calibration.ErrNoSession)
}

func TestServiceContextCancelled(t *testing.T) {
	svc, _ := newService(t, &glove{value: 3})
	_, err := svc.StartCalibration("bar", axis.Scalar, axis.Value, axis.PosX)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = svc.Tick(ctx, time.Now(), time.Millisecond)
	assert.ErrorIs(t, err, context.Canceled)

	out, ok := svc.LastOutcome()
	require.True(t, ok)
	assert.Equal(t, calibration.Cancelled, out.Status)
}

func TestServiceUnbindCancelsCalibration(t *testing.T) {
	g := &glove{}
	svc, _ := newService(t, g)
	ctx := context.Background()
	start := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	bind := []mapping.InputMapping{{Input: grip, Channel: axis.PosX}}

	info, err := svc.StartCalibration("bar", axis.Scalar, axis.Value, axis.PosX)
	require.NoError(t, err)
	require.NoError(t, svc.Do(func(r *mapper.Registry) error { return r.Unbind("bar", axis.Scalar) }))
	require.NoError(t, svc.Do(func(r *mapper.Registry) error { return r.Bind("bar", axis.Scalar, bind) }))

	for i, v := range []float64{8, 10, 2, 2, 5} {
		g.value = v
		require.NoError(t, svc.Tick(ctx, start.Add(time.Duration(i)*500*time.Millisecond), 20*time.Millisecond))
	}

	err = svc.Do(func(r *mapper.Registry) error {
		b, err := r.Binding("bar", axis.Scalar)
		require.NoError(t, err)
		assert.Equal(t, interpreter.Bound, b.Interpreter.State())
		assert.Zero(t, b.Interpreter.Profile().InputMin(axis.Value))
		assert.Zero(t, b.Interpreter.Profile().InputMax(axis.Value))
		return nil
	})
	require.NoError(t, err)

	out, ok := svc.LastOutcome()
	require.True(t, ok)
	assert.Equal(t, info.ID, out.ID)
	assert.Equal(t, calibration.Cancelled, out.Status)

	_, err = svc.StartCalibration("bar", axis.Scalar, axis.Value, axis.PosX)
	assert.NoError(t, err)
}

func TestServiceCancelCalibrationSession(t *testing.T) {
	svc, _ := newService(t, &glove{value: 3})

	info, err := svc.StartCalibration("bar", axis.Scalar, axis.Value, axis.PosX)
	require.NoError(t, err)

	assert.False(t, svc.CancelCalibrationSession("stale-session"))
	_, ok := svc.Calibration(time.Now())
	assert.True(t, ok)

	assert.True(t, svc.CancelCalibrationSession(info.ID))
	out, ok := svc.LastOutcome()
	require.True(t, ok)
	assert.Equal(t, calibration.Cancelled, out.Status)
}
