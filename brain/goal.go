package brain

import (
	"math"
	"time"

	"github.com/pkg/errors"

	"humanoid_brain/kinematics"
	"humanoid_brain/spatial"
)

// Goal is a motion request: either a pose for one frame or target
// positions for some joints. Joints absent from a joint goal hold their
// current position.
type Goal struct {
	// ID is assigned by Submit when empty.
	ID string
	// Frame is the link placed at Pose; empty selects the model's first
	// end effector.
	Frame  string
	Pose   *spatial.Pose
	Joints map[string]float64
	// Tolerance for completion; zero uses the configured default.
	Tolerance float64
	// Deadline for planning; zero means only the planning timeout applies.
	Deadline time.Time
}

func (g *Goal) validate(m *kinematics.Model) error {
	switch {
	case g.Pose == nil && len(g.Joints) == 0:
		return errors.Wrap(ErrMalformedGoal, "goal has neither a pose nor joint targets")
	case g.Pose != nil && len(g.Joints) > 0:
		return errors.Wrap(ErrMalformedGoal, "goal has both a pose and joint targets")
	case g.Tolerance < 0 || math.IsNaN(g.Tolerance):
		return errors.Wrapf(ErrMalformedGoal, "invalid tolerance %g", g.Tolerance)
	}

	if g.Pose != nil {
		if g.Frame == "" {
			g.Frame = m.EndEffectors()[0]
		}
		if _, ok := m.Frame(g.Frame); !ok {
			return errors.Wrapf(ErrMalformedGoal, "unknown frame %q", g.Frame)
		}
		p, o := g.Pose.Point, g.Pose.Orientation
		for _, v := range []float64{p.X, p.Y, p.Z, o.Real, o.Imag, o.Jmag, o.Kmag} {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return errors.Wrap(ErrMalformedGoal, "pose is not finite")
			}
		}
		if o.Real == 0 && o.Imag == 0 && o.Jmag == 0 && o.Kmag == 0 {
			return errors.Wrap(ErrMalformedGoal, "pose orientation is a zero quaternion")
		}
		pose := spatial.NewPose(p, o)
		g.Pose = &pose
		return nil
	}

	for id, v := range g.Joints {
		if _, ok := m.Joint(id); !ok {
			return errors.Wrapf(ErrMalformedGoal, "unknown joint %q", id)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.Wrapf(ErrMalformedGoal, "joint %q target is not finite", id)
		}
	}
	return nil
}

func (g *Goal) copy() *Goal {
	c := *g
	if g.Joints != nil {
		c.Joints = make(map[string]float64, len(g.Joints))
		for k, v := range g.Joints {
			c.Joints[k] = v
		}
	}
	return &c
}
