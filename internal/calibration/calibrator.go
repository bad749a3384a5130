package calibration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/relabs-tech/device_mapper/internal/axis"
)

var (
	// ErrSessionActive is returned by Start while another session runs.
	ErrSessionActive = errors.New("calibration: a session is already active")
	// ErrNoSession is returned by Accept when nothing is being calibrated.
	ErrNoSession = errors.New("calibration: no active session")
)

// Request describes one axis calibration.
type Request struct {
	Target  axis.Axis
	Channel axis.Channel

	// Read returns the current raw reading of the channel being calibrated.
	Read func() float64
	// Done receives the sampled range once the last phase ends.
	Done func(Result)
	// Cancelled is called instead of Done when the session is aborted.
	Cancelled func()
}

// Info is a snapshot of the live session for status reporting.
type Info struct {
	ID           string       `json:"id"`
	Target       axis.Axis    `json:"target"`
	Channel      axis.Channel `json:"channel"`
	Phase        string       `json:"phase"`
	Progress     float64      `json:"progress"`
	AwaitsAccept bool         `json:"awaits_accept"`
}

// Calibrator runs at most one calibration session at a time. The host
// owns one per mapping session and drives it with Tick from its frame
// loop; Start, Accept and Cancel may be called from other goroutines.
type Calibrator struct {
	mu     sync.Mutex
	window time.Duration
	logger *zap.Logger

	active *Session
	req    Request
}

// Option configures a Calibrator.
type Option func(*Calibrator)

// WithWindow sets how long each timed phase lasts.
func WithWindow(d time.Duration) Option {
	return func(c *Calibrator) { c.window = d }
}

// WithLogger sets the logger used for session lifecycle events.
func WithLogger(l *zap.Logger) Option {
	return func(c *Calibrator) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewCalibrator returns an idle calibrator.
func NewCalibrator(opts ...Option) *Calibrator {
	c := &Calibrator{window: DefaultWindow, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start begins a session. It fails with ErrSessionActive if one is live.
func (c *Calibrator) Start(req Request) (Info, error) {
	if req.Read == nil {
		return Info{}, fmt.Errorf("calibration: request for %s has no reader", req.Target)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active != nil {
		return Info{}, ErrSessionActive
	}
	c.active = NewSession(req.Target, req.Channel, c.window)
	c.req = req

	c.logger.Info("calibration session started",
		zap.String("session", c.active.ID),
		zap.Stringer("target", req.Target),
		zap.Stringer("channel", req.Channel),
	)
	return c.info(time.Time{}), nil
}

// Tick feeds the live session one reading. It reports Idle when no
// session is active. The request's Done or Cancelled callback runs after
// the calibrator has been released, so it may start the next session.
func (c *Calibrator) Tick(ctx context.Context, now time.Time) (Status, error) {
	c.mu.Lock()
	if c.active == nil {
		c.mu.Unlock()
		return Idle, nil
	}

	s, req := c.active, c.req
	st, err := s.Tick(ctx, now, req.Read())
	if st == InProgress {
		c.mu.Unlock()
		return st, nil
	}

	res := s.Result()
	s.resetScratch()
	c.active = nil
	c.req = Request{}
	c.mu.Unlock()

	switch st {
	case Done:
		c.logger.Info("calibration session finished",
			zap.String("session", s.ID),
			zap.Float64("min", res.Min),
			zap.Float64("max", res.Max),
			zap.Float64("center", res.Center),
		)
		if req.Done != nil {
			req.Done(res)
		}
		return Done, nil
	default:
		c.logger.Info("calibration session cancelled", zap.String("session", s.ID), zap.Error(err))
		if req.Cancelled != nil {
			req.Cancelled()
		}
		return Cancelled, err
	}
}

// Accept ends the current phase of an accept-driven session.
func (c *Calibrator) Accept() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active == nil {
		return ErrNoSession
	}
	c.active.Accept()
	return nil
}

// Cancel aborts the live session, if any. Nothing is written back.
func (c *Calibrator) Cancel() {
	c.cancel("")
}

// CancelSession aborts the live session only if its ID is id. It reports
// whether a session was cancelled.
func (c *Calibrator) CancelSession(id string) bool {
	if id == "" {
		return false
	}
	return c.cancel(id)
}

func (c *Calibrator) cancel(id string) bool {
	c.mu.Lock()
	s, req := c.active, c.req
	if s == nil || id != "" && s.ID != id {
		c.mu.Unlock()
		return false
	}
	c.active = nil
	c.req = Request{}
	c.mu.Unlock()

	s.Cancel()
	c.logger.Info("calibration session cancelled", zap.String("session", s.ID))
	if req.Cancelled != nil {
		req.Cancelled()
	}
	return true
}

// Calibrating reports whether a session is live.
func (c *Calibrator) Calibrating() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != nil
}

// Active returns a snapshot of the live session.
func (c *Calibrator) Active(now time.Time) (Info, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active == nil {
		return Info{}, false
	}
	return c.info(now), true
}

func (c *Calibrator) info(now time.Time) Info {
	s := c.active
	return Info{
		ID:           s.ID,
		Target:       s.Target,
		Channel:      s.Channel,
		Phase:        s.Phase().String(),
		Progress:     s.Progress(now),
		AwaitsAccept: s.AwaitsAccept(),
	}
}
