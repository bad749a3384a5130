package device

import (
	"sort"
	"sync"
	"time"

	"github.com/relabs-tech/device_mapper/internal/mapping"
	"github.com/relabs-tech/device_mapper/internal/orientation"
)

// DefaultTTL is how long an input stays connected without a new frame.
const DefaultTTL = time.Second

type key struct{ device, label string }

// snapshot is the last known state of one input. It is a value type so a
// resolved Source never changes under the reader.
type snapshot struct {
	position  orientation.Vec3
	rotation  orientation.Quat
	value     float64
	flag      bool
	sample    []float64
	seen      time.Time
	connected bool
}

func (s snapshot) Position() orientation.Vec3 { return s.position }
func (s snapshot) Rotation() orientation.Quat { return s.rotation }
func (s snapshot) Float() float64             { return s.value }
func (s snapshot) Boolean() bool              { return s.flag }
func (s snapshot) Sample() []float64          { return s.sample }
func (s snapshot) Connected() bool            { return s.connected }

// Store holds the latest reading of every input, last value wins. It is
// safe for concurrent use: receivers write while the mapper reads.
type Store struct {
	mu     sync.RWMutex
	ttl    time.Duration
	now    func() time.Time
	inputs map[key]*snapshot
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// NewStore returns an empty store. A non-positive ttl falls back to
// DefaultTTL.
func NewStore(ttl time.Duration, opts ...StoreOption) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s := &Store{ttl: ttl, now: time.Now, inputs: make(map[key]*snapshot)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Apply merges f into the input it names. Frames without a timestamp, or
// stamped later than the store clock, are stamped with the store clock.
func (s *Store) Apply(f Frame) {
	if now := s.now(); f.Time.IsZero() || f.Time.After(now) {
		f.Time = now
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k := key{f.Device, f.Label}
	in, ok := s.inputs[k]
	if !ok {
		in = &snapshot{rotation: orientation.Identity}
		s.inputs[k] = in
	}
	if f.Position != nil {
		in.position = *f.Position
	}
	switch {
	case f.Rotation != nil:
		in.rotation = *f.Rotation
	case f.Euler != nil:
		in.rotation = orientation.FromEuler(*f.Euler)
	}
	if f.Value != nil {
		in.value = *f.Value
	}
	if f.Bool != nil {
		in.flag = *f.Bool
	}
	if f.Sample != nil {
		in.sample = append([]float64(nil), f.Sample...)
	}
	if f.Time.After(in.seen) {
		in.seen = f.Time
	}
}

// Source implements mapping.Resolver. An input not heard from within the
// TTL resolves to a disconnected source.
func (s *Store) Source(device, label string) (mapping.Source, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	in, ok := s.inputs[key{device, label}]
	if !ok {
		return nil, false
	}
	snap := *in
	snap.connected = s.now().Sub(in.seen) <= s.ttl
	if snap.sample != nil {
		snap.sample = append([]float64(nil), in.sample...)
	}
	return snap, true
}

// Inputs lists every input seen so far, sorted by device then label.
func (s *Store) Inputs() []mapping.Input {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]mapping.Input, 0, len(s.inputs))
	for k := range s.inputs {
		out = append(out, mapping.Input{Device: k.device, Label: k.label})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Device != out[j].Device {
			return out[i].Device < out[j].Device
		}
		return out[i].Label < out[j].Label
	})
	return out
}

// Forget drops every input of device.
func (s *Store) Forget(device string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.inputs {
		if k.device == device {
			delete(s.inputs, k)
		}
	}
}
