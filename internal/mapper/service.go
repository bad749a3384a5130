package mapper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/relabs-tech/device_mapper/internal/axis"
	"github.com/relabs-tech/device_mapper/internal/calibration"
	"github.com/relabs-tech/device_mapper/internal/interpreter"
	"github.com/relabs-tech/device_mapper/internal/mapping"
)

// Output is the published state of one bound property.
type Output struct {
	Target string                  `json:"target"`
	Kind   axis.Kind               `json:"kind"`
	State  string                  `json:"state"`
	Mode   axis.Mode               `json:"mode"`
	Value  interpreter.MapperValue `json:"value"`
}

// Outcome is how the last calibration session ended.
type Outcome struct {
	ID     string             `json:"id"`
	Status calibration.Status `json:"status"`
	Target string             `json:"target"`
	Kind   axis.Kind          `json:"kind"`
	Axis   axis.Axis          `json:"axis"`
	Input  calibration.State  `json:"input"`
}

// Service is the mapping session a host drives. All access to the
// registry goes through it.
type Service struct {
	mu         sync.Mutex
	registry   *Registry
	calibrator *calibration.Calibrator
	logger     *zap.Logger

	pending *Outcome
	last    *Outcome
}

type serviceOptions struct {
	logger *zap.Logger
	window time.Duration
}

// ServiceOption configures a Service.
type ServiceOption func(*serviceOptions)

func WithLogger(l *zap.Logger) ServiceOption {
	return func(o *serviceOptions) { o.logger = l }
}

// WithCalibrationWindow sets the length of each timed calibration phase.
func WithCalibrationWindow(d time.Duration) ServiceOption {
	return func(o *serviceOptions) { o.window = d }
}

// NewService returns a service with an empty registry reading inputs
// through r.
func NewService(r mapping.Resolver, opts ...ServiceOption) *Service {
	o := serviceOptions{logger: zap.NewNop(), window: calibration.DefaultWindow}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	return &Service{
		registry: NewRegistry(r, o.logger),
		calibrator: calibration.NewCalibrator(
			calibration.WithWindow(o.window),
			calibration.WithLogger(o.logger),
		),
		logger: o.logger,
	}
}

// Do runs fn with exclusive access to the registry.
func (s *Service) Do(fn func(*Registry) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.registry)
}

// Tick advances the live calibration session, then every bound
// interpreter, by one frame.
func (s *Service) Tick(ctx context.Context, now time.Time, dt time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.calibrator.Tick(ctx, now)
	switch st {
	case calibration.Done, calibration.Cancelled:
		s.settle(st)
	case calibration.Idle:
		// Unbinding the property cancels its session outside the service.
		s.settle(calibration.Cancelled)
	}

	s.registry.Each(func(b *Binding) {
		b.Interpreter.Tick(dt)
	})

	if err != nil {
		return fmt.Errorf("mapper: calibration tick: %w", err)
	}
	return nil
}

// settle records how the pending session ended. Callers hold s.mu.
func (s *Service) settle(st calibration.Status) {
	if s.pending == nil {
		return
	}
	out := *s.pending
	out.Status = st
	if b, err := s.registry.Binding(out.Target, out.Kind); err == nil {
		out.Input = b.Interpreter.Profile().Input[out.Axis].State()
	}
	s.last = &out
	s.pending = nil
}

// Outputs returns the state of every bound property.
func (s *Service) Outputs() []Output {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Output
	s.registry.Each(func(b *Binding) {
		if !b.Bound() {
			return
		}
		out = append(out, Output{
			Target: b.Target,
			Kind:   b.Kind,
			State:  b.Interpreter.State().String(),
			Mode:   b.Interpreter.Mode(),
			Value:  b.Interpreter.Value(),
		})
	})
	return out
}

// StartCalibration calibrates axis a of the given property from channel
// ch.
func (s *Service) StartCalibration(name string, k axis.Kind, a axis.Axis, ch axis.Channel) (calibration.Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := s.registry.Binding(name, k)
	if err != nil {
		return calibration.Info{}, err
	}
	info, err := b.Interpreter.Calibrate(s.calibrator, a, ch)
	if err != nil {
		return calibration.Info{}, err
	}
	s.pending = &Outcome{ID: info.ID, Target: name, Kind: k, Axis: a}
	return info, nil
}

// AcceptCalibration ends the current phase of an accept-driven session.
func (s *Service) AcceptCalibration() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calibrator.Accept()
}

// CancelCalibration aborts the live session, if any.
func (s *Service) CancelCalibration() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calibrator.Cancel()
	s.settle(calibration.Cancelled)
}

// CancelCalibrationSession aborts the live session only if its ID is id.
// It reports whether a session was cancelled.
func (s *Service) CancelCalibrationSession(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.calibrator.CancelSession(id) {
		return false
	}
	s.settle(calibration.Cancelled)
	return true
}

// Calibration reports the live session.
func (s *Service) Calibration(now time.Time) (calibration.Info, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calibrator.Active(now)
}

// LastOutcome returns how the most recent session ended.
func (s *Service) LastOutcome() (Outcome, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return Outcome{}, false
	}
	return *s.last, true
}
