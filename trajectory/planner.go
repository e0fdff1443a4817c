// Package trajectory plans synchronized joint-space motions and evaluates
// them lazily.
package trajectory

import (
	"math"
	"time"

	"github.com/pkg/errors"

	"humanoid_brain/kinematics"
)

// ErrUnreachableWithinLimits is returned when the limits leave no way to
// move every joint to its goal.
var ErrUnreachableWithinLimits = errors.New("goal unreachable within limits")

// Options scale the model limits used for planning. Scales must be in
// (0, 1]; a zero scale makes every move unreachable.
type Options struct {
	VelocityScale     float64 `json:"velocity_scale" yaml:"velocity_scale"`
	AccelerationScale float64 `json:"acceleration_scale" yaml:"acceleration_scale"`
}

// DefaultOptions plans at the full model limits.
func DefaultOptions() Options {
	return Options{VelocityScale: 1, AccelerationScale: 1}
}

// Validate range-checks the options.
func (o Options) Validate() error {
	if o.VelocityScale <= 0 || o.VelocityScale > 1 {
		return errors.Errorf("velocity_scale must be in (0, 1], got %g", o.VelocityScale)
	}
	if o.AccelerationScale <= 0 || o.AccelerationScale > 1 {
		return errors.Errorf("acceleration_scale must be in (0, 1], got %g", o.AccelerationScale)
	}
	return nil
}

// Planner builds trajectories over a model. It is stateless and safe for
// concurrent use.
type Planner struct {
	model *kinematics.Model
	opts  Options
}

// NewPlanner returns a planner over m.
func NewPlanner(m *kinematics.Model, opts Options) *Planner {
	return &Planner{model: m, opts: opts}
}

// PlanStates plans from start to goal. start must cover every joint; joints
// missing from goal hold their start position.
func (p *Planner) PlanStates(start, goal kinematics.JointState) (*Trajectory, error) {
	q0, err := p.model.Positions(start)
	if err != nil {
		return nil, err
	}
	q1 := make([]float64, len(q0))
	copy(q1, q0)
	for id, v := range goal.Joints {
		i, ok := p.model.JointIndex(id)
		if !ok {
			return nil, errors.Errorf("goal names unknown joint %q", id)
		}
		q1[i] = v.Position
	}
	return p.Plan(q0, q1)
}

// Plan builds a trajectory between positions given in model order, using
// the model's velocity and acceleration limits.
func (p *Planner) Plan(start, goal []float64) (*Trajectory, error) {
	limits := make([]kinematics.Limits, p.model.NumJoints())
	for i := range limits {
		limits[i] = p.model.Limits(i)
	}
	return p.PlanWithLimits(start, goal, limits)
}

// PlanWithLimits is Plan with explicit per-joint limits. Every joint arrives
// at the same time: the duration is the slowest joint's minimum time and the
// others are slowed to match.
func (p *Planner) PlanWithLimits(start, goal []float64, limits []kinematics.Limits) (*Trajectory, error) {
	n := p.model.NumJoints()
	if len(start) != n || len(goal) != n || len(limits) != n {
		return nil, errors.Wrapf(kinematics.ErrIncompleteState, "expected %d joints, got start %d goal %d limits %d",
			n, len(start), len(goal), len(limits))
	}

	joints := p.model.Joints()
	vmax := make([]float64, n)
	amax := make([]float64, n)
	total := 0.0
	for i := range joints {
		id := joints[i].ID
		if !finite(start[i]) || !finite(goal[i]) {
			return nil, errors.Wrapf(ErrUnreachableWithinLimits, "joint %q has a non-finite position", id)
		}
		if !limits[i].Contains(goal[i]) {
			return nil, errors.Wrapf(ErrUnreachableWithinLimits, "joint %q goal %.4f outside [%.4f, %.4f]",
				id, goal[i], limits[i].Min, limits[i].Max)
		}
		d := math.Abs(goal[i] - start[i])
		if d == 0 {
			continue
		}
		vmax[i] = limits[i].Velocity * p.opts.VelocityScale
		amax[i] = limits[i].Acceleration * p.opts.AccelerationScale
		if !(vmax[i] > 0) || !(amax[i] > 0) {
			return nil, errors.Wrapf(ErrUnreachableWithinLimits, "joint %q must move %.4f with velocity %.4g and acceleration %.4g",
				id, d, vmax[i], amax[i])
		}
		total = math.Max(total, minimumTime(d, vmax[i], amax[i]))
	}
	if !finite(total) {
		return nil, errors.Wrap(ErrUnreachableWithinLimits, "no finite duration")
	}

	t := &Trajectory{
		ids:      p.model.JointIDs(),
		start:    append([]float64{}, start...),
		goal:     append([]float64{}, goal...),
		profiles: make([]profile, n),
		duration: time.Duration(math.Ceil(total * float64(time.Second))),
	}
	for i := range joints {
		t.profiles[i] = stretch(start[i], goal[i]-start[i], amax[i], total)
	}
	return t, nil
}

// Stop brakes every joint from the given positions and velocities to rest
// at its scaled acceleration limit. Joints stop independently; the
// trajectory ends when the last one is at rest. Rest positions outside the
// position limits are ErrUnreachableWithinLimits.
func (p *Planner) Stop(positions, velocities []float64) (*Trajectory, error) {
	n := p.model.NumJoints()
	if len(positions) != n || len(velocities) != n {
		return nil, errors.Wrapf(kinematics.ErrIncompleteState, "expected %d joints, got positions %d velocities %d",
			n, len(positions), len(velocities))
	}
	t := &Trajectory{
		ids:      p.model.JointIDs(),
		start:    append([]float64{}, positions...),
		goal:     make([]float64, n),
		profiles: make([]profile, n),
	}
	end := 0.0
	for i, j := range p.model.Joints() {
		if !finite(positions[i]) || !finite(velocities[i]) {
			return nil, errors.Wrapf(ErrUnreachableWithinLimits, "joint %q has a non-finite state", j.ID)
		}
		amax := j.Limits.Acceleration * p.opts.AccelerationScale
		if velocities[i] != 0 && !(amax > 0) {
			return nil, errors.Wrapf(ErrUnreachableWithinLimits, "joint %q cannot brake with acceleration %.4g", j.ID, amax)
		}
		prof := brake(positions[i], velocities[i], amax)
		t.profiles[i] = prof
		t.goal[i] = prof.start + prof.distance
		if !j.Limits.Contains(t.goal[i]) {
			return nil, errors.Wrapf(ErrUnreachableWithinLimits, "joint %q comes to rest at %.4f outside [%.4f, %.4f]",
				j.ID, t.goal[i], j.Limits.Min, j.Limits.Max)
		}
		end = math.Max(end, prof.end())
	}
	t.duration = time.Duration(math.Ceil(end * float64(time.Second)))
	return t, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
