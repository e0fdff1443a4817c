// Package sim is an in-process joint simulator implementing the transport
// contract. Each joint follows its commanded position with a first-order
// lag.
package sim

import (
	"context"
	"math"
	"sync"
	"time"

	"go.viam.com/rdk/logging"

	"humanoid_brain/kinematics"
	"humanoid_brain/transport"
)

// Config tunes the simulated joints.
type Config struct {
	// Initial positions by joint; unnamed joints start at the position
	// nearest zero inside their limits.
	Initial map[string]float64 `json:"initial,omitempty" yaml:"initial,omitempty"`
	// TimeConstant of the position response. Zero follows commands
	// instantly.
	TimeConstant time.Duration `json:"time_constant,omitempty" yaml:"time_constant,omitempty"`
}

type joint struct {
	position float64
	velocity float64
	torque   float64
	target   float64
	stamp    time.Time
}

// Joints simulates every joint of a model.
type Joints struct {
	mu      sync.Mutex
	logger  logging.Logger
	cfg     Config
	ids     []string
	joints  map[string]*joint
	now     func() time.Time
	last    time.Time
	frozen  bool
	readErr error
	sendErr error
	written map[string]transport.Command
	writes  int
}

// New returns simulated joints for m at rest.
func New(m *kinematics.Model, cfg Config, logger logging.Logger) *Joints {
	s := &Joints{
		logger:  logger,
		cfg:     cfg,
		ids:     m.JointIDs(),
		joints:  make(map[string]*joint, m.NumJoints()),
		now:     time.Now,
		written: make(map[string]transport.Command, m.NumJoints()),
	}
	for _, j := range m.Joints() {
		pos := j.Limits.Clamp(0)
		if v, ok := cfg.Initial[j.ID]; ok {
			pos = v
		}
		s.joints[j.ID] = &joint{position: pos, target: pos}
	}
	return s
}

// SetClock replaces the time source, for deterministic tests.
func (s *Joints) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
	s.last = time.Time{}
}

// Freeze stops or resumes feedback updates. Frozen joints keep reporting
// their last sample with its old stamp.
func (s *Joints) Freeze(frozen bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frozen = frozen
}

// FailReads makes ReadFeedback return err until cleared with nil.
func (s *Joints) FailReads(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readErr = err
}

// FailWrites makes WriteCommand return err until cleared with nil.
func (s *Joints) FailWrites(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendErr = err
}

// Push displaces a joint, as an external disturbance would.
func (s *Joints) Push(id string, position float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.joints[id]; ok {
		j.position = position
	}
}

// LastCommand returns a copy of the most recent command and how many have
// been written.
func (s *Joints) LastCommand() (map[string]transport.Command, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]transport.Command, len(s.written))
	for k, v := range s.written {
		out[k] = v
	}
	return out, s.writes
}

// ReadFeedback implements transport.FeedbackSource.
func (s *Joints) ReadFeedback(ctx context.Context, dst map[string]transport.Feedback) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil {
		return s.readErr
	}
	now := s.now()
	if !s.frozen {
		s.step(now)
	}
	for _, id := range s.ids {
		j := s.joints[id]
		dst[id] = transport.Feedback{Position: j.position, Velocity: j.velocity, Torque: j.torque, Stamp: j.stamp}
	}
	return nil
}

func (s *Joints) step(now time.Time) {
	dt := 0.0
	if !s.last.IsZero() {
		dt = now.Sub(s.last).Seconds()
	}
	s.last = now
	for _, id := range s.ids {
		j := s.joints[id]
		prev := j.position
		switch {
		case s.cfg.TimeConstant <= 0:
			j.position = j.target
		case dt > 0:
			alpha := 1 - math.Exp(-dt/s.cfg.TimeConstant.Seconds())
			j.position += alpha * (j.target - j.position)
		}
		if dt > 0 {
			j.velocity = (j.position - prev) / dt
		}
		j.stamp = now
	}
}

// WriteCommand implements transport.CommandSink.
func (s *Joints) WriteCommand(ctx context.Context, cmd map[string]transport.Command) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return s.sendErr
	}
	for id, c := range cmd {
		j, ok := s.joints[id]
		if !ok {
			continue
		}
		j.target = c.Position
		j.torque = c.Torque
		s.written[id] = c
	}
	s.writes++
	return nil
}

// Close implements transport.Transport.
func (s *Joints) Close(ctx context.Context) error {
	s.logger.Debug("simulated joints closed")
	return nil
}
