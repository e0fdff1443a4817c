package kinematics

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"humanoid_brain/spatial"
)

// ForwardSolver maps joint positions to frame poses. It holds no mutable
// state and is safe for concurrent use.
type ForwardSolver struct {
	model *Model
}

// NewForwardSolver returns a solver over m.
func NewForwardSolver(m *Model) *ForwardSolver {
	return &ForwardSolver{model: m}
}

// Model returns the model the solver was built on.
func (f *ForwardSolver) Model() *Model { return f.model }

// Pose returns the pose of frame given a joint state. Only joints on the
// chain from the base to frame are required.
func (f *ForwardSolver) Pose(state JointState, frame string) (spatial.Pose, error) {
	fi, ok := f.model.Frame(frame)
	if !ok {
		return spatial.Pose{}, errors.Wrapf(ErrUnknownFrame, "%q", frame)
	}
	p := f.model.base
	for _, i := range f.model.chains[fi] {
		j := f.model.joints[i]
		v, ok := state.Joints[j.ID]
		if !ok {
			return spatial.Pose{}, errors.Wrapf(ErrIncompleteState, "missing joint %q for frame %q", j.ID, frame)
		}
		p = p.Compose(j.Transform(v.Position)).Compose(f.model.links[i].Transform)
	}
	return p, nil
}

// Poses returns the pose of each requested frame, or of every end effector
// when none are named.
func (f *ForwardSolver) Poses(state JointState, frames ...string) (map[string]spatial.Pose, error) {
	if len(frames) == 0 {
		frames = f.model.endEffectors
	}
	out := make(map[string]spatial.Pose, len(frames))
	for _, name := range frames {
		p, err := f.Pose(state, name)
		if err != nil {
			return nil, err
		}
		out[name] = p
	}
	return out, nil
}

// PoseAt is Pose over positions in model order, addressed by frame index.
// It does not allocate.
func (f *ForwardSolver) PoseAt(q []float64, frame int) spatial.Pose {
	p := f.model.base
	for _, i := range f.model.chains[frame] {
		p = p.Compose(f.model.joints[i].Transform(q[i])).Compose(f.model.links[i].Transform)
	}
	return p
}

// Verify reports whether the frame pose at q matches target within tol, in
// both translation and rotation.
func (f *ForwardSolver) Verify(q []float64, frame int, target spatial.Pose, tol float64) bool {
	return spatial.AlmostEqual(f.PoseAt(q, frame), target, tol)
}

// Jacobian writes the geometric Jacobian of frame at q into dst. dst must be
// 6 x len(Chain(frame)); column k belongs to Chain(frame)[k]. Rows 0-2 are
// linear velocity and rows 3-5 angular velocity, both in the world frame.
func (f *ForwardSolver) Jacobian(q []float64, frame int, dst *mat.Dense) {
	end := f.PoseAt(q, frame).Point
	p := f.model.base
	for k, i := range f.model.chains[frame] {
		j := f.model.joints[i]
		axis := spatial.Rotate(p.Orientation, j.Axis)
		var lin, ang r3.Vector
		switch j.Type {
		case Prismatic:
			lin = axis
		default:
			lin = axis.Cross(end.Sub(p.Point))
			ang = axis
		}
		dst.Set(0, k, lin.X)
		dst.Set(1, k, lin.Y)
		dst.Set(2, k, lin.Z)
		dst.Set(3, k, ang.X)
		dst.Set(4, k, ang.Y)
		dst.Set(5, k, ang.Z)
		p = p.Compose(j.Transform(q[i])).Compose(f.model.links[i].Transform)
	}
}
