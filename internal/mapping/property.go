package mapping

import (
	"fmt"

	"github.com/relabs-tech/device_mapper/internal/axis"
	"github.com/relabs-tech/device_mapper/internal/orientation"
)

// Property binds one semantic kind of one target to its input mappings:
// three for position and rotation (X, Y, Z), one otherwise.
type Property struct {
	Target string
	Kind   axis.Kind

	resolver Resolver
	mappings []InputMapping
}

// NewProperty returns a property with every mapping unset.
func NewProperty(target string, k axis.Kind, r Resolver) *Property {
	return &Property{
		Target:   target,
		Kind:     k,
		resolver: r,
		mappings: make([]InputMapping, k.MappingCount()),
	}
}

// Resolver returns the resolver inputs are read through.
func (p *Property) Resolver() Resolver { return p.resolver }

// Mappings returns a copy of the mapping slots.
func (p *Property) Mappings() []InputMapping {
	out := make([]InputMapping, len(p.mappings))
	copy(out, p.mappings)
	return out
}

// Mapping returns slot i.
func (p *Property) Mapping(i int) InputMapping { return p.mappings[p.slot(i)] }

// SetMapping replaces slot i.
func (p *Property) SetMapping(i int, m InputMapping) {
	p.mappings[p.slot(i)] = m
}

// SetMappings replaces every slot. The count must match the kind.
func (p *Property) SetMappings(ms []InputMapping) error {
	if len(ms) != len(p.mappings) {
		return fmt.Errorf("%s property needs %d mappings, got %d", p.Kind, len(p.mappings), len(ms))
	}
	copy(p.mappings, ms)
	return nil
}

// BindInput feeds every slot from in, each on the default channel for its
// axis.
func (p *Property) BindInput(in Input) {
	for i := range p.mappings {
		p.mappings[i] = InputMapping{Input: in, Channel: DefaultChannel(p.Kind, i)}
	}
}

// Reset clears every slot.
func (p *Property) Reset() {
	for i := range p.mappings {
		p.mappings[i] = InputMapping{}
	}
}

func (p *Property) slot(i int) int {
	if i < 0 || i >= len(p.mappings) {
		panic(fmt.Sprintf("mapping: slot %d out of range for %s property", i, p.Kind))
	}
	return i
}

// AllNone reports whether no slot reads a channel.
func (p *Property) AllNone() bool {
	for _, m := range p.mappings {
		if m.Channel != axis.None {
			return false
		}
	}
	return true
}

// IsNone reports whether the slot feeding axis a reads no channel.
func (p *Property) IsNone(a axis.Axis) bool {
	return p.mappings[p.slot(axis.MappingIndex(a))].Channel == axis.None
}

// Read returns the raw reading of slot i's input on channel ch, which may
// differ from the slot's own channel.
func (p *Property) Read(i int, ch axis.Channel) float64 {
	m := p.Mapping(i)
	m.Channel = ch
	return m.Value(p.resolver)
}

func (p *Property) vector() orientation.Vec3 {
	return orientation.Vec3{
		X: p.mappings[0].Value(p.resolver),
		Y: p.mappings[1].Value(p.resolver),
		Z: p.mappings[2].Value(p.resolver),
	}
}

// Position returns the mapped position readings. With direct set it
// returns the first input's full position instead.
func (p *Property) Position(direct bool) orientation.Vec3 {
	if direct {
		if src, ok := p.mappings[0].Input.source(p.resolver); ok {
			return src.Position()
		}
		return orientation.Vec3{}
	}
	return p.vector()
}

// Rotation returns the mapped Euler readings in degrees. With direct set
// it returns the first input's full rotation instead.
func (p *Property) Rotation(direct bool) orientation.Vec3 {
	if direct {
		if src, ok := p.mappings[0].Input.source(p.resolver); ok {
			return src.Rotation().Euler()
		}
		return orientation.Vec3{}
	}
	return p.vector()
}

// Float returns the mapped scalar reading, or the first input's float
// when direct is set.
func (p *Property) Float(direct bool) float64 {
	if direct {
		if src, ok := p.mappings[0].Input.source(p.resolver); ok {
			return src.Float()
		}
		return 0
	}
	return p.mappings[0].Value(p.resolver)
}

// Boolean returns the raw reading that decides a boolean property.
func (p *Property) Boolean() float64 {
	return p.mappings[0].Value(p.resolver)
}

// Sample returns a copy of the first input's sample.
func (p *Property) Sample() []float64 {
	src, ok := p.mappings[0].Input.source(p.resolver)
	if !ok {
		return nil
	}
	s := src.Sample()
	if len(s) == 0 {
		return nil
	}
	out := make([]float64, len(s))
	copy(out, s)
	return out
}
