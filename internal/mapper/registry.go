// Package mapper owns the live mapping state of one session: every
// target with its per-kind properties and interpreters, and the single
// calibrator they share.
package mapper

import (
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/relabs-tech/device_mapper/internal/axis"
	"github.com/relabs-tech/device_mapper/internal/interpreter"
	"github.com/relabs-tech/device_mapper/internal/mapping"
)

var (
	ErrUnknownTarget = errors.New("mapper: unknown target")
	ErrTargetExists  = errors.New("mapper: target already registered")
)

// Binding ties one property of one target to its interpreter and sink.
type Binding struct {
	Target      string
	Kind        axis.Kind
	Property    *mapping.Property
	Interpreter *interpreter.Interpreter
	Sink        interpreter.Sink
}

// Bound reports whether the interpreter is receiving ticks.
func (b *Binding) Bound() bool {
	return b.Interpreter.State() != interpreter.Unbound
}

type target struct {
	sink     interpreter.Sink
	bindings [axis.KindCount]*Binding
}

// Registry keeps one Binding per (target, kind). It is not safe for
// concurrent use; Service serializes access.
type Registry struct {
	resolver mapping.Resolver
	logger   *zap.Logger
	targets  map[string]*target
}

// NewRegistry returns an empty registry reading inputs through r.
func NewRegistry(r mapping.Resolver, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{resolver: r, logger: logger, targets: make(map[string]*target)}
}

// AddTarget registers a target object with an unbound property for every
// kind.
func (r *Registry) AddTarget(name string, sink interpreter.Sink) error {
	if name == "" {
		return fmt.Errorf("mapper: empty target name")
	}
	if _, ok := r.targets[name]; ok {
		return fmt.Errorf("%w: %q", ErrTargetExists, name)
	}
	t := &target{sink: sink}
	for _, k := range axis.Kinds {
		t.bindings[k] = &Binding{
			Target:      name,
			Kind:        k,
			Property:    mapping.NewProperty(name, k, r.resolver),
			Interpreter: interpreter.New(k, interpreter.WithLogger(r.logger)),
			Sink:        sink,
		}
	}
	r.targets[name] = t
	return nil
}

// RemoveTarget unbinds and forgets a target.
func (r *Registry) RemoveTarget(name string) error {
	t, ok := r.targets[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTarget, name)
	}
	for _, b := range t.bindings {
		b.Interpreter.StopBind()
	}
	delete(r.targets, name)
	return nil
}

// Targets returns the registered target names, sorted.
func (r *Registry) Targets() []string {
	names := make([]string, 0, len(r.targets))
	for n := range r.targets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Binding returns the binding of kind k on target name.
func (r *Registry) Binding(name string, k axis.Kind) (*Binding, error) {
	t, ok := r.targets[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTarget, name)
	}
	if k < 0 || int(k) >= axis.KindCount {
		return nil, fmt.Errorf("mapper: invalid kind %d", int(k))
	}
	return t.bindings[k], nil
}

// Property returns the property of kind k on target name.
func (r *Registry) Property(name string, k axis.Kind) (*mapping.Property, error) {
	b, err := r.Binding(name, k)
	if err != nil {
		return nil, err
	}
	return b.Property, nil
}

// Bind replaces the mappings of a property and starts interpreting it.
// Rebinding a bound property keeps its calibration.
func (r *Registry) Bind(name string, k axis.Kind, mappings []mapping.InputMapping) error {
	b, err := r.Binding(name, k)
	if err != nil {
		return err
	}
	if err := b.Property.SetMappings(mappings); err != nil {
		return fmt.Errorf("mapper: bind %s/%s: %w", name, k, err)
	}
	if b.Bound() {
		return nil
	}
	return b.Interpreter.Bind(b.Property, b.Sink)
}

// Unbind stops interpreting a property and clears its mappings and
// calibration.
func (r *Registry) Unbind(name string, k axis.Kind) error {
	b, err := r.Binding(name, k)
	if err != nil {
		return err
	}
	b.Interpreter.StopBind()
	b.Property.Reset()
	return nil
}

// Each calls fn for every binding, in target then kind order.
func (r *Registry) Each(fn func(*Binding)) {
	for _, name := range r.Targets() {
		for _, b := range r.targets[name].bindings {
			fn(b)
		}
	}
}
