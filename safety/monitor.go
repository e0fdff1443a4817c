// Package safety gates joint commands against limits, tracking error and
// singularity hazards.
package safety

import (
	"math"

	"github.com/pkg/errors"

	"humanoid_brain/kinematics"
)

var (
	// ErrLimitViolation marks a command outside a joint limit.
	ErrLimitViolation = errors.New("limit violation")
	// ErrTrackingFault marks measured motion diverging from the command.
	ErrTrackingFault = errors.New("tracking fault")
	// ErrHazardProximity marks an active trajectory near a singularity.
	ErrHazardProximity = errors.New("hazard proximity")
)

// Kind identifies what a flag is about.
type Kind int

const (
	// PositionLimit flags a commanded position outside the joint range.
	PositionLimit Kind = iota
	// VelocityLimit flags a commanded speed above the joint limit.
	VelocityLimit
	// TorqueLimit flags a torque feed-forward above the joint limit. It is
	// clamped and never vetoes.
	TorqueLimit
	// Tracking flags a measured position too far from the command.
	Tracking
	// Singularity flags a Jacobian margin under the configured threshold.
	Singularity
)

func (k Kind) String() string {
	switch k {
	case PositionLimit:
		return "position_limit"
	case VelocityLimit:
		return "velocity_limit"
	case TorqueLimit:
		return "torque_limit"
	case Tracking:
		return "tracking"
	case Singularity:
		return "singularity"
	default:
		return "unknown"
	}
}

// Err returns the error kind a flag of this kind reports.
func (k Kind) Err() error {
	switch k {
	case Tracking:
		return ErrTrackingFault
	case Singularity:
		return ErrHazardProximity
	default:
		return ErrLimitViolation
	}
}

// Severity orders flags; any critical flag vetoes the command.
type Severity int

const (
	// Warning flags were clamped in place and the command still goes out.
	Warning Severity = iota
	// Critical flags veto the command and stop the robot.
	Critical
)

func (s Severity) String() string {
	if s == Critical {
		return "critical"
	}
	return "warning"
}

// Flag records one finding. Joint is empty for findings about the whole
// command.
type Flag struct {
	Kind     Kind
	Severity Severity
	Joint    string
	Value    float64
	Limit    float64
}

// Report is the outcome of one check.
type Report struct {
	Flags []Flag
	Veto  bool
}

// Err describes the first critical flag, or returns nil when the command
// was not vetoed.
func (r Report) Err() error {
	if !r.Veto {
		return nil
	}
	for _, f := range r.Flags {
		if f.Severity != Critical {
			continue
		}
		if f.Joint == "" {
			return errors.Wrapf(f.Kind.Err(), "%s %.4g below %.4g", f.Kind, f.Value, f.Limit)
		}
		return errors.Wrapf(f.Kind.Err(), "%s on joint %q: %.4f against %.4f", f.Kind, f.Joint, f.Value, f.Limit)
	}
	return nil
}

// Monitor checks commands once per control tick. It keeps no state between
// checks except a reused flag buffer, so a Monitor must not be shared
// between goroutines.
type Monitor struct {
	model *kinematics.Model
	cfg   Config
	flags []Flag
}

// NewMonitor returns a monitor for m.
func NewMonitor(m *kinematics.Model, cfg Config) (*Monitor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid safety config")
	}
	return &Monitor{
		model: m,
		cfg:   cfg,
		flags: make([]Flag, 0, 4*m.NumJoints()+1),
	}, nil
}

// Config returns the monitor thresholds.
func (m *Monitor) Config() Config { return m.cfg }

// Check gates cmd in place, in model order: positions and velocities are
// clamped to their limits, measured positions are compared against the
// clamped command, and margin, the singularity margin of the active
// trajectory at this tick, is compared against the threshold. measured may
// be nil. Pass math.Inf(1) as margin when no trajectory is active.
//
// The returned flags alias an internal buffer that the next call reuses.
// Check does not allocate.
func (m *Monitor) Check(cmd, measured []kinematics.JointValue, margin float64) Report {
	m.flags = m.flags[:0]
	veto := false
	joints := m.model.Joints()

	for i := range cmd {
		j := joints[i]
		c := &cmd[i]

		if pos := c.Position; math.IsNaN(pos) || !j.Limits.Contains(pos) {
			sev := Warning
			limit := j.Limits.Max
			if pos < j.Limits.Min {
				limit = j.Limits.Min
			}
			if math.IsNaN(pos) || math.Abs(pos-limit) > m.cfg.PositionMargin {
				sev = Critical
			}
			m.flag(PositionLimit, sev, j.ID, pos, limit)
			if math.IsNaN(pos) {
				c.Position = j.Limits.Clamp(0)
			} else {
				c.Position = j.Limits.Clamp(pos)
			}
			veto = veto || sev == Critical
		}

		if vel := math.Abs(c.Velocity); math.IsNaN(vel) || vel > j.Limits.Velocity {
			sev := Warning
			if math.IsNaN(vel) || vel > j.Limits.Velocity*(1+m.cfg.VelocityMargin) {
				sev = Critical
			}
			m.flag(VelocityLimit, sev, j.ID, c.Velocity, j.Limits.Velocity)
			if math.IsNaN(vel) {
				c.Velocity = 0
			} else {
				c.Velocity = math.Copysign(j.Limits.Velocity, c.Velocity)
			}
			veto = veto || sev == Critical
		}

		if tq := math.Abs(c.Torque); tq > j.Limits.Torque {
			m.flag(TorqueLimit, Warning, j.ID, c.Torque, j.Limits.Torque)
			c.Torque = math.Copysign(j.Limits.Torque, c.Torque)
		}
	}

	if measured != nil {
		for i := range cmd {
			if gap := math.Abs(measured[i].Position - cmd[i].Position); gap > m.cfg.TrackingThreshold || math.IsNaN(gap) {
				m.flag(Tracking, Critical, joints[i].ID, measured[i].Position, cmd[i].Position)
				veto = true
			}
		}
	}

	if m.cfg.SingularityThreshold > 0 && margin < m.cfg.SingularityThreshold {
		m.flag(Singularity, Critical, "", margin, m.cfg.SingularityThreshold)
		veto = true
	}

	return Report{Flags: m.flags, Veto: veto}
}

func (m *Monitor) flag(k Kind, sev Severity, joint string, value, limit float64) {
	m.flags = append(m.flags, Flag{Kind: k, Severity: sev, Joint: joint, Value: value, Limit: limit})
}
