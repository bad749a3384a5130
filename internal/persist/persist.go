// Package persist saves and restores the complete mapping state of a
// session: which inputs feed which target properties, how they are
// interpreted and how every axis is calibrated.
package persist

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/relabs-tech/device_mapper/internal/axis"
	"github.com/relabs-tech/device_mapper/internal/calibration"
	"github.com/relabs-tech/device_mapper/internal/mapper"
	"github.com/relabs-tech/device_mapper/internal/mapping"
)

// Version is written into every document.
const Version = 1

// Document is the saved state of every mapped object.
type Document struct {
	Version int      `json:"version" yaml:"version"`
	Objects []Object `json:"objects" yaml:"objects"`
}

// Object is one target and its bound properties.
type Object struct {
	Name string `json:"name" yaml:"name"`
	Gops []Gop  `json:"gops" yaml:"gops"`
}

// Triple names one input mapping: the device, its input label and the
// channel read from it.
type Triple struct {
	Device  string       `json:"device" yaml:"device"`
	Input   string       `json:"input" yaml:"input"`
	Mapping axis.Channel `json:"mapping" yaml:"mapping"`
}

// Gop is one bound property of an object. Axis maps are keyed by axis
// name.
type Gop struct {
	InfoType        axis.Kind                    `json:"info_type" yaml:"info_type"`
	Mappings        []Triple                     `json:"mappings" yaml:"mappings"`
	Mode            axis.Mode                    `json:"mode" yaml:"mode"`
	UseOnThisObject bool                         `json:"use_on_this_object" yaml:"use_on_this_object"`
	Input           map[string]calibration.State `json:"input" yaml:"input"`
	Output          map[string]calibration.State `json:"output" yaml:"output"`
	Speed           map[string]float64           `json:"speed,omitempty" yaml:"speed,omitempty"`
	Tolerance       map[string]float64           `json:"tolerance,omitempty" yaml:"tolerance,omitempty"`
}

func hasConverterSettings(k axis.Kind) bool {
	return k != axis.Boolean && k != axis.Sample
}

// Snapshot captures every target of reg and its bound properties.
func Snapshot(reg *mapper.Registry) Document {
	doc := Document{Version: Version}
	for _, name := range reg.Targets() {
		obj := Object{Name: name}
		for _, k := range axis.Kinds {
			b, err := reg.Binding(name, k)
			if err != nil || !b.Bound() {
				continue
			}
			obj.Gops = append(obj.Gops, snapshotGop(b))
		}
		doc.Objects = append(doc.Objects, obj)
	}
	return doc
}

func snapshotGop(b *mapper.Binding) Gop {
	in := b.Interpreter
	prof := in.Profile()
	g := Gop{
		InfoType:        b.Kind,
		Mode:            in.Mode(),
		UseOnThisObject: in.UseOnThisObject(),
		Input:           make(map[string]calibration.State),
		Output:          make(map[string]calibration.State),
	}
	for _, m := range b.Property.Mappings() {
		g.Mappings = append(g.Mappings, Triple{Device: m.Input.Device, Input: m.Input.Label, Mapping: m.Channel})
	}
	if hasConverterSettings(b.Kind) {
		g.Speed = make(map[string]float64)
		g.Tolerance = make(map[string]float64)
	}
	for _, a := range b.Kind.Axes() {
		g.Input[a.String()] = prof.Input[a].State()
		g.Output[a.String()] = prof.Output[a].State()
		if g.Speed != nil {
			g.Speed[a.String()] = in.Additive().MaxSpeed(a)
			g.Tolerance[a.String()] = in.Additive().Tolerance(a)
		}
	}
	return g
}

// Restore binds and calibrates reg as doc describes. Objects not yet
// registered are added without a sink. A gop that does not validate is
// skipped and reported; the others are still applied.
func Restore(reg *mapper.Registry, doc Document) error {
	if doc.Version > Version {
		return fmt.Errorf("persist: document version %d is newer than %d", doc.Version, Version)
	}

	var errs []error
	for _, obj := range doc.Objects {
		if obj.Name == "" {
			errs = append(errs, errors.New("persist: object without a name"))
			continue
		}
		if _, err := reg.Binding(obj.Name, axis.Position); errors.Is(err, mapper.ErrUnknownTarget) {
			if err := reg.AddTarget(obj.Name, nil); err != nil {
				errs = append(errs, err)
				continue
			}
		}
		for _, g := range obj.Gops {
			if err := restoreGop(reg, obj.Name, g); err != nil {
				errs = append(errs, fmt.Errorf("persist: %s/%s: %w", obj.Name, g.InfoType, err))
			}
		}
	}
	return errors.Join(errs...)
}

func restoreGop(reg *mapper.Registry, name string, g Gop) error {
	k := g.InfoType
	if k < 0 || int(k) >= axis.KindCount {
		return fmt.Errorf("invalid info type %d", int(k))
	}
	if len(g.Mappings) != k.MappingCount() {
		return fmt.Errorf("%d mappings, %s needs %d", len(g.Mappings), k, k.MappingCount())
	}
	input, err := axisStates(g.Input)
	if err != nil {
		return fmt.Errorf("input: %w", err)
	}
	output, err := axisStates(g.Output)
	if err != nil {
		return fmt.Errorf("output: %w", err)
	}
	speed, err := axisValues(g.Speed)
	if err != nil {
		return fmt.Errorf("speed: %w", err)
	}
	tolerance, err := axisValues(g.Tolerance)
	if err != nil {
		return fmt.Errorf("tolerance: %w", err)
	}

	mappings := make([]mapping.InputMapping, len(g.Mappings))
	for i, t := range g.Mappings {
		mappings[i] = mapping.InputMapping{
			Input:   mapping.Input{Device: t.Device, Label: t.Input},
			Channel: t.Mapping,
		}
	}
	if err := reg.Bind(name, k, mappings); err != nil {
		return err
	}

	b, err := reg.Binding(name, k)
	if err != nil {
		return err
	}
	in := b.Interpreter
	in.SetMode(g.Mode)
	in.SetUseOnThisObject(g.UseOnThisObject)

	prof := in.Profile()
	for a, s := range input {
		prof.Input[a].Restore(s)
	}
	for a, s := range output {
		prof.Output[a].Restore(s)
	}
	for a, v := range speed {
		in.Additive().SetMaxSpeed(a, v)
	}
	for a, v := range tolerance {
		in.Additive().SetTolerance(a, v)
	}
	return nil
}

func axisStates(m map[string]calibration.State) (map[axis.Axis]calibration.State, error) {
	out := make(map[axis.Axis]calibration.State, len(m))
	for name, s := range m {
		a, err := axis.ParseAxis(name)
		if err != nil {
			return nil, err
		}
		out[a] = s
	}
	return out, nil
}

func axisValues(m map[string]float64) (map[axis.Axis]float64, error) {
	out := make(map[axis.Axis]float64, len(m))
	for name, v := range m {
		a, err := axis.ParseAxis(name)
		if err != nil {
			return nil, err
		}
		out[a] = v
	}
	return out, nil
}

// Format is a document encoding.
type Format int

const (
	JSON Format = iota
	YAML
)

func (f Format) String() string {
	if f == YAML {
		return "yaml"
	}
	return "json"
}

// FormatFor picks the format from a file extension.
func FormatFor(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return JSON, nil
	case ".yaml", ".yml":
		return YAML, nil
	}
	return 0, fmt.Errorf("persist: unknown document extension %q", filepath.Ext(path))
}

// Encode writes doc to w.
func Encode(w io.Writer, doc Document, f Format) error {
	switch f {
	case JSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("persist: encode json: %w", err)
		}
	case YAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("persist: encode yaml: %w", err)
		}
		if err := enc.Close(); err != nil {
			return fmt.Errorf("persist: encode yaml: %w", err)
		}
	default:
		return fmt.Errorf("persist: unknown format %d", int(f))
	}
	return nil
}

// Decode reads a document from r.
func Decode(r io.Reader, f Format) (Document, error) {
	var doc Document
	switch f {
	case JSON:
		if err := json.NewDecoder(r).Decode(&doc); err != nil {
			return Document{}, fmt.Errorf("persist: decode json: %w", err)
		}
	case YAML:
		if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
			return Document{}, fmt.Errorf("persist: decode yaml: %w", err)
		}
	default:
		return Document{}, fmt.Errorf("persist: unknown format %d", int(f))
	}
	return doc, nil
}

// SaveFile writes doc to path in the format its extension names.
func SaveFile(path string, doc Document) error {
	f, err := FormatFor(path)
	if err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("persist: %w", err)
	}
	if err := Encode(file, doc, f); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// LoadFile reads a document from path.
func LoadFile(path string) (Document, error) {
	f, err := FormatFor(path)
	if err != nil {
		return Document{}, err
	}
	file, err := os.Open(path)
	if err != nil {
		return Document{}, fmt.Errorf("persist: %w", err)
	}
	defer file.Close()
	return Decode(file, f)
}
