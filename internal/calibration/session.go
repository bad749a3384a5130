package calibration

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/relabs-tech/device_mapper/internal/axis"
)

// DefaultWindow is how long a timed phase samples the source.
const DefaultWindow = 2 * time.Second

// ErrCancelled is returned by Session.Tick once Cancel was called.
var ErrCancelled = errors.New("calibration: session cancelled")

// Phase is one step of a calibration session.
type Phase int

const (
	PhaseMax Phase = iota
	PhaseCenter
	PhaseMin
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseMax:
		return "max"
	case PhaseCenter:
		return "center"
	case PhaseMin:
		return "min"
	case PhaseDone:
		return "done"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// Status is what a tick reports back to the host loop.
type Status int

const (
	Idle Status = iota
	InProgress
	Done
	Cancelled
)

func (s Status) String() string {
	switch s {
	case Idle:
		return "idle"
	case InProgress:
		return "in_progress"
	case Done:
		return "done"
	case Cancelled:
		return "cancelled"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Status) UnmarshalText(b []byte) error {
	for _, v := range []Status{Idle, InProgress, Done, Cancelled} {
		if v.String() == string(b) {
			*s = v
			return nil
		}
	}
	return fmt.Errorf("unknown calibration status %q", b)
}

// Result is what a finished session discovered.
type Result struct {
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Center float64 `json:"center"`
}

// Session discovers the range of one axis. The user holds the source at
// its maximum, then (for rotations) at its center, then at its minimum.
// Each phase lasts one window, except on the value channel where the user
// confirms each phase with Accept.
//
// A Session is a plain state object: the host calls Tick once per frame
// with the current raw reading until it reports Done or Cancelled. It is
// not safe for concurrent use; Calibrator serializes access.
type Session struct {
	ID      string
	Target  axis.Axis
	Channel axis.Channel

	window    time.Duration
	phase     Phase
	started   time.Time
	accepted  bool
	cancelled bool

	min    float64
	max    float64
	center float64
}

// NewSession returns a session in its first phase. A non-positive window
// falls back to DefaultWindow.
func NewSession(target axis.Axis, ch axis.Channel, window time.Duration) *Session {
	if window <= 0 {
		window = DefaultWindow
	}
	s := &Session{
		ID:      uuid.NewString(),
		Target:  target,
		Channel: ch,
		window:  window,
		phase:   PhaseMax,
	}
	s.resetScratch()
	return s
}

func (s *Session) resetScratch() {
	s.max = -math.MaxFloat64
	s.min = math.MaxFloat64
	s.center = 0
}

// Phase returns the current phase.
func (s *Session) Phase() Phase { return s.phase }

// AwaitsAccept reports whether phases end on Accept rather than on time.
func (s *Session) AwaitsAccept() bool { return s.Channel == axis.ChannelValue }

// Accept ends the current phase on the next tick.
func (s *Session) Accept() { s.accepted = true }

// Cancel aborts the session. Nothing it sampled is reported.
func (s *Session) Cancel() { s.cancelled = true }

// Tick advances the session by one frame.
func (s *Session) Tick(ctx context.Context, now time.Time, reading float64) (Status, error) {
	if s.phase == PhaseDone {
		return Done, nil
	}
	if s.cancelled {
		return Cancelled, ErrCancelled
	}
	if err := ctx.Err(); err != nil {
		s.cancelled = true
		return Cancelled, err
	}

	switch {
	case s.started.IsZero():
		s.started = now
	case s.phaseOver(now):
		s.advance()
		if s.phase == PhaseDone {
			return Done, nil
		}
		s.started = now
	}

	s.sample(reading)
	return InProgress, nil
}

func (s *Session) phaseOver(now time.Time) bool {
	if s.AwaitsAccept() {
		return s.accepted
	}
	return !now.Before(s.started.Add(s.window))
}

func (s *Session) advance() {
	s.accepted = false
	switch s.phase {
	case PhaseMax:
		if s.Channel.IsRotation() {
			s.phase = PhaseCenter
		} else {
			s.phase = PhaseMin
		}
	case PhaseCenter:
		s.phase = PhaseMin
	case PhaseMin:
		s.phase = PhaseDone
	}
}

// sample records a reading for the current phase. Timed non-rotation
// phases keep the running extreme; rotation and accept-driven phases keep
// the latest reading, since an angle's extreme depends on the arc.
func (s *Session) sample(v float64) {
	latest := s.Channel.IsRotation() || s.AwaitsAccept()
	switch s.phase {
	case PhaseMax:
		if latest || v > s.max {
			s.max = v
		}
	case PhaseCenter:
		s.center = v
	case PhaseMin:
		if latest || v < s.min {
			s.min = v
		}
	}
}

// Result returns what the session sampled. It is meaningful once Tick
// reported Done.
func (s *Session) Result() Result {
	return Result{Min: s.min, Max: s.max, Center: s.center}
}

// Progress returns the fraction of the current timed phase already
// elapsed, in [0,1]. Accept-driven and unstarted phases report 0.
func (s *Session) Progress(now time.Time) float64 {
	if s.phase == PhaseDone {
		return 1
	}
	if s.AwaitsAccept() || s.started.IsZero() {
		return 0
	}
	f := float64(now.Sub(s.started)) / float64(s.window)
	return math.Max(0, math.Min(1, f))
}
