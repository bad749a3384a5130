package persist

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/device_mapper/internal/axis"
	"github.com/relabs-tech/device_mapper/internal/mapper"
	"github.com/relabs-tech/device_mapper/internal/mapping"
)

func in(device, label string, ch axis.Channel) mapping.InputMapping {
	return mapping.InputMapping{Input: mapping.Input{Device: device, Label: label}, Channel: ch}
}

func populated(t *testing.T) *mapper.Registry {
	t.Helper()
	reg := mapper.NewRegistry(nil, nil)
	require.NoError(t, reg.AddTarget("hand", nil))
	require.NoError(t, reg.AddTarget("door", nil))

	require.NoError(t, reg.Bind("hand", axis.Position, []mapping.InputMapping{
		in("kinect", "wrist", axis.PosX),
		in("kinect", "wrist", axis.PosZ),
		{},
	}))
	b, err := reg.Binding("hand", axis.Position)
	require.NoError(t, err)
	b.Interpreter.SetMode(axis.Additive)
	b.Interpreter.SetUseOnThisObject(false)
	b.Interpreter.Additive().SetMaxSpeed(axis.Y, 12)
	p := b.Interpreter.Profile()
	p.SetInputMin(axis.X, -0.4)
	p.SetInputMax(axis.X, 0.6)
	p.SetOutputMin(axis.X, -2)
	p.SetOutputMax(axis.X, 2)
	p.SetClamp(axis.Z, false)

	require.NoError(t, reg.Bind("door", axis.Boolean, []mapping.InputMapping{in("glove", "grip", axis.ChannelValue)}))
	b, err = reg.Binding("door", axis.Boolean)
	require.NoError(t, err)
	b.Interpreter.Profile().SetInvertLogic(axis.Bool, true)
	b.Interpreter.Profile().SetOutputCenter(axis.Bool, 0.3)
	return reg
}

func TestSnapshot(t *testing.T) {
	doc := Snapshot(populated(t))

	require.Len(t, doc.Objects, 2)
	assert.Equal(t, Version, doc.Version)
	assert.Equal(t, "door", doc.Objects[0].Name)
	assert.Equal(t, "hand", doc.Objects[1].Name)

	door := doc.Objects[0].Gops
	require.Len(t, door, 1)
	assert.Equal(t, axis.Boolean, door[0].InfoType)
	assert.Nil(t, door[0].Speed)
	assert.True(t, door[0].Output["bool"].InvertLogic)

	hand := doc.Objects[1].Gops
	require.Len(t, hand, 1)
	g := hand[0]
	assert.Equal(t, axis.Additive, g.Mode)
	assert.False(t, g.UseOnThisObject)
	assert.Equal(t, []Triple{
		{Device: "kinect", Input: "wrist", Mapping: axis.PosX},
		{Device: "kinect", Input: "wrist", Mapping: axis.PosZ},
		{Mapping: axis.None},
	}, g.Mappings)
	assert.Equal(t, 12.0, g.Speed["y"])
	assert.Equal(t, 40.0, g.Speed["x"])
	assert.Equal(t, 10.0, g.Tolerance["z"])
	assert.InDelta(t, 1.0, g.Input["x"].Amplitude, 1e-12)
	assert.Equal(t, axis.Additive, g.Output["x"].Mode)
	assert.False(t, g.Output["z"].Clamp)
	assert.Len(t, g.Input, 3)
}

func TestRoundTrip(t *testing.T) {
	for _, f := range []Format{JSON, YAML} {
		t.Run(f.String(), func(t *testing.T) {
			want := Snapshot(populated(t))

			var buf bytes.Buffer
			require.NoError(t, Encode(&buf, want, f))
			doc, err := Decode(&buf, f)
			require.NoError(t, err)

			reg := mapper.NewRegistry(nil, nil)
			require.NoError(t, Restore(reg, doc))
			assert.Equal(t, want, Snapshot(reg))

			b, err := reg.Binding("door", axis.Boolean)
			require.NoError(t, err)
			assert.True(t, b.Bound())
			assert.InDelta(t, 0.3, b.Interpreter.Profile().OutputCenter(axis.Bool), 1e-12)
		})
	}
}

func TestJSONOmitsConverterSettingsForBool(t *testing.T) {
	reg := mapper.NewRegistry(nil, nil)
	require.NoError(t, reg.AddTarget("door", nil))
	require.NoError(t, reg.Bind("door", axis.Boolean, []mapping.InputMapping{in("glove", "trigger", axis.ChannelBool)}))

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, Snapshot(reg), JSON))
	assert.NotContains(t, buf.String(), "speed")
	assert.Contains(t, buf.String(), `"info_type": "bool"`)
	assert.Contains(t, buf.String(), `"mapping": "bool"`)
}

func TestRestoreRejectsBadGops(t *testing.T) {
	doc := Document{Version: Version, Objects: []Object{{
		Name: "hand",
		Gops: []Gop{
			{InfoType: axis.Rotation, Mappings: []Triple{{Device: "imu", Input: "tilt", Mapping: axis.RotX}}},
			{InfoType: axis.Scalar, Mappings: []Triple{{Device: "glove", Input: "grip", Mapping: axis.ChannelValue}}},
			{InfoType: axis.Sample, Mappings: []Triple{{Device: "emg", Input: "arm", Mapping: axis.ChannelSample}},
				Speed: map[string]float64{"w": 1}},
		},
	}}}

	reg := mapper.NewRegistry(nil, nil)
	err := Restore(reg, doc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hand/rotation")
	assert.Contains(t, err.Error(), "1 mappings, rotation needs 3")
	assert.Contains(t, err.Error(), "hand/sample")

	b, err := reg.Binding("hand", axis.Rotation)
	require.NoError(t, err)
	assert.False(t, b.Bound())
	b, err = reg.Binding("hand", axis.Sample)
	require.NoError(t, err)
	assert.False(t, b.Bound())
	b, err = reg.Binding("hand", axis.Scalar)
	require.NoError(t, err)
	assert.True(t, b.Bound())
}

func TestRestoreRejectsNewerVersion(t *testing.T) {
	err := Restore(mapper.NewRegistry(nil, nil), Document{Version: Version + 1})
	assert.Error(t, err)
}

func TestRestoreKeepsExistingTargets(t *testing.T) {
	reg := populated(t)
	doc := Snapshot(reg)
	require.NoError(t, Restore(reg, doc))
	assert.Equal(t, []string{"door", "hand"}, reg.Targets())
	assert.Equal(t, doc, Snapshot(reg))
}

func TestFiles(t *testing.T) {
	dir := t.TempDir()
	want := Snapshot(populated(t))

	for _, name := range []string{"session.json", "session.yaml", "session.yml"} {
		path := filepath.Join(dir, name)
		require.NoError(t, SaveFile(path, want))
		got, err := LoadFile(path)
		require.NoError(t, err)
		assert.Equal(t, want, got, name)
	}

	assert.Error(t, SaveFile(filepath.Join(dir, "session.txt"), want))
	_, err := LoadFile(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}
