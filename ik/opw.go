package ik

import (
	"math"
	"sort"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/num/quat"

	"humanoid_brain/kinematics"
	"humanoid_brain/spatial"
)

// opwTolerance is how closely an analytic branch must reproduce the target,
// in meters and radians, to be returned.
const opwTolerance = 1e-4

var (
	xAxis = r3.Vector{X: 1}
	yAxis = r3.Vector{Y: 1}
	zAxis = r3.Vector{Z: 1}
)

// OPWParameters describe a six-joint arm with an ortho-parallel base and a
// spherical wrist. Joint 1 turns about the base z axis. Joint 2 sits at
// (A1, B, C1) in the turned frame and, like joint 3, turns about y. C2 is the
// upper arm along z, the wrist center lies (A2, 0, C3) past joint 3, and C4
// runs from the wrist center to the flange. Joints 4 and 6 turn about z and
// joint 5 about y.
//
// Offsets and Flip map the geometric angles onto the arm's joint positions:
// position = (angle + offset), negated when flipped.
type OPWParameters struct {
	// Frame is the flange frame of the model; empty means the first end
	// effector.
	Frame   string     `json:"frame,omitempty" yaml:"frame,omitempty"`
	A1      float64    `json:"a1" yaml:"a1"`
	A2      float64    `json:"a2" yaml:"a2"`
	B       float64    `json:"b" yaml:"b"`
	C1      float64    `json:"c1" yaml:"c1"`
	C2      float64    `json:"c2" yaml:"c2"`
	C3      float64    `json:"c3" yaml:"c3"`
	C4      float64    `json:"c4" yaml:"c4"`
	Offsets [6]float64 `json:"offsets,omitempty" yaml:"offsets,omitempty"`
	Flip    [6]bool    `json:"flip,omitempty" yaml:"flip,omitempty"`
}

// Validate checks that the geometry is non-degenerate.
func (p OPWParameters) Validate() error {
	for _, v := range append([]float64{p.A1, p.A2, p.B, p.C1, p.C2, p.C3, p.C4}, p.Offsets[:]...) {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.New("opw parameters must be finite")
		}
	}
	switch {
	case p.C2 <= 0:
		return errors.Errorf("opw c2 must be positive, got %g", p.C2)
	case p.A2 == 0 && p.C3 == 0:
		return errors.New("opw a2 and c3 cannot both be zero")
	}
	return nil
}

// OPW is the closed-form solver for arms described by OPWParameters. It
// yields up to eight configurations per pose.
type OPW struct {
	p OPWParameters
}

// NewOPW validates p and returns a solver over it.
func NewOPW(p OPWParameters) (*OPW, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &OPW{p: p}, nil
}

// Parameters returns the arm geometry.
func (o *OPW) Parameters() OPWParameters { return o.p }

func (o *OPW) toAngles(joints [6]float64) [6]float64 {
	var q [6]float64
	for i, v := range joints {
		if o.p.Flip[i] {
			v = -v
		}
		q[i] = v - o.p.Offsets[i]
	}
	return q
}

func (o *OPW) toJoints(q [6]float64) [6]float64 {
	var joints [6]float64
	for i, v := range q {
		v += o.p.Offsets[i]
		if o.p.Flip[i] {
			v = -v
		}
		joints[i] = math.Remainder(v, 2*math.Pi)
	}
	return joints
}

// Forward returns the flange pose for the given joint positions.
func (o *OPW) Forward(joints [6]float64) spatial.Pose {
	p := o.p
	q := o.toAngles(joints)

	arm := quat.Mul(spatial.AxisAngle(zAxis, q[0]), spatial.AxisAngle(yAxis, q[1]+q[2]))
	wrist := quat.Mul(quat.Mul(spatial.AxisAngle(zAxis, q[3]), spatial.AxisAngle(yAxis, q[4])), spatial.AxisAngle(zAxis, q[5]))
	orientation := quat.Mul(arm, wrist)

	psi3 := math.Atan2(p.A2, p.C3)
	k := math.Hypot(p.A2, p.C3)
	cx1 := p.C2*math.Sin(q[1]) + k*math.Sin(q[1]+q[2]+psi3) + p.A1
	cy1 := p.B
	cz1 := p.C2*math.Cos(q[1]) + k*math.Cos(q[1]+q[2]+psi3)
	s1, c1 := math.Sincos(q[0])
	center := r3.Vector{X: cx1*c1 - cy1*s1, Y: cx1*s1 + cy1*c1, Z: cz1 + p.C1}

	return spatial.NewPose(center.Add(spatial.Rotate(orientation, zAxis).Mul(p.C4)), orientation)
}

// Inverse returns every configuration that places the flange at target, each
// angle wrapped into [-pi, pi]. Branches the arm cannot reach are left out;
// an unreachable pose yields none.
func (o *OPW) Inverse(target spatial.Pose) [][6]float64 {
	p := o.p
	// Columns of the target rotation.
	cx := spatial.Rotate(target.Orientation, xAxis)
	cy := spatial.Rotate(target.Orientation, yAxis)
	cz := spatial.Rotate(target.Orientation, zAxis)
	c := target.Point.Sub(cz.Mul(p.C4))

	nx1 := math.Sqrt(c.X*c.X+c.Y*c.Y-p.B*p.B) - p.A1
	base := math.Atan2(c.Y, c.X)
	shift := math.Atan2(p.B, nx1+p.A1)
	theta1 := [2]float64{base - shift, base + shift - math.Pi}

	dz := c.Z - p.C1
	front2 := nx1*nx1 + dz*dz
	back := nx1 + 2*p.A1
	back2 := back*back + dz*dz
	kappa2 := p.A2*p.A2 + p.C3*p.C3
	c22 := p.C2 * p.C2

	front, rear := math.Sqrt(front2), math.Sqrt(back2)
	elbowFront := math.Acos((front2 + c22 - kappa2) / (2 * front * p.C2))
	reachFront := math.Atan2(nx1, dz)
	elbowRear := math.Acos((back2 + c22 - kappa2) / (2 * rear * p.C2))
	reachRear := math.Atan2(back, dz)
	theta2 := [4]float64{
		reachFront - elbowFront,
		reachFront + elbowFront,
		-elbowRear - reachRear,
		elbowRear - reachRear,
	}

	span := 2 * p.C2 * math.Sqrt(kappa2)
	psi3 := math.Atan2(p.A2, p.C3)
	foreFront := math.Acos((front2 - c22 - kappa2) / span)
	foreRear := math.Acos((back2 - c22 - kappa2) / span)
	theta3 := [4]float64{
		foreFront - psi3,
		-foreFront - psi3,
		foreRear - psi3,
		-foreRear - psi3,
	}

	var out [][6]float64
	for _, flipped := range []bool{false, true} {
		for i := range 4 {
			q1 := theta1[i/2]
			s1, c1 := math.Sincos(q1)
			s23, c23 := math.Sincos(theta2[i] + theta3[i])

			m := cz.X*s23*c1 + cz.Y*s23*s1 + cz.Z*c23
			q4 := math.Atan2(cz.Y*c1-cz.X*s1, cz.X*c23*c1+cz.Y*c23*s1-cz.Z*s23)
			q5 := math.Atan2(math.Sqrt(math.Max(0, 1-m*m)), m)
			q6 := math.Atan2(cy.X*s23*c1+cy.Y*s23*s1+cy.Z*c23, -cx.X*s23*c1-cx.Y*s23*s1-cx.Z*c23)
			if flipped {
				q4 += math.Pi
				q5 = -q5
				q6 -= math.Pi
			}

			q := [6]float64{q1, theta2[i], theta3[i], q4, q5, q6}
			if !finite(q[:]) {
				continue
			}
			joints := o.toJoints(q)
			if !spatial.AlmostEqual(o.Forward(joints), target, opwTolerance) {
				continue
			}
			out = append(out, joints)
		}
	}
	return out
}

func finite(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

// analytic binds an OPW solver to a six-joint chain of a model.
type analytic struct {
	opw   *OPW
	frame int
	chain []int
}

// bindOPW checks that the model's chain to the configured frame is the arm
// the parameters describe.
func bindOPW(fk *kinematics.ForwardSolver, p OPWParameters) (*analytic, error) {
	o, err := NewOPW(p)
	if err != nil {
		return nil, err
	}
	m := fk.Model()
	name := p.Frame
	if name == "" {
		if len(m.EndEffectors()) == 0 {
			return nil, errors.New("opw solver needs a frame and the model has no end effectors")
		}
		name = m.EndEffectors()[0]
	}
	frame, ok := m.Frame(name)
	if !ok {
		return nil, errors.Wrapf(kinematics.ErrUnknownFrame, "opw frame %q", name)
	}
	chain := m.Chain(frame)
	if len(chain) != 6 {
		return nil, errors.Errorf("opw solver needs six joints to %q, chain has %d", name, len(chain))
	}
	for _, i := range chain {
		if j := m.Joints()[i]; j.Type != kinematics.Revolute {
			return nil, errors.Errorf("opw solver needs revolute joints, %q is %s", j.ID, j.Type)
		}
	}

	q := make([]float64, m.NumJoints())
	for _, sample := range [][6]float64{{}, {0.3, -0.4, 0.5, -0.6, 0.7, -0.8}} {
		for k, i := range chain {
			q[i] = sample[k]
		}
		if !fk.Verify(q, frame, o.Forward(sample), 1e-9) {
			return nil, errors.Errorf("opw parameters do not match the model chain to %q", name)
		}
	}
	return &analytic{opw: o, frame: frame, chain: chain}, nil
}

// Branches returns the analytic configurations placing frame at target that
// respect the joint limits and verify against the model, nearest to seed
// first. Joints off the chain keep their seed positions. It returns nil when
// no analytic solver is configured for frame.
func (s *Solver) Branches(target spatial.Pose, frame int, seed []float64) [][]float64 {
	a := s.analytic
	if a == nil || a.frame != frame || len(seed) != s.model.NumJoints() {
		return nil
	}
	type ranked struct {
		q    []float64
		dist float64
	}
	var found []ranked
	for _, sol := range a.opw.Inverse(target) {
		q := make([]float64, len(seed))
		copy(q, seed)
		if !s.placeBranch(q, a.chain, sol) || !s.fk.Verify(q, frame, target, opwTolerance) {
			continue
		}
		d := 0.0
		for _, i := range a.chain {
			d += (q[i] - seed[i]) * (q[i] - seed[i])
		}
		found = append(found, ranked{q: q, dist: d})
	}
	sort.SliceStable(found, func(i, j int) bool { return found[i].dist < found[j].dist })
	out := make([][]float64, len(found))
	for i, r := range found {
		out[i] = r.q
	}
	return out
}

// placeBranch writes sol onto the chain joints of q, turning each angle by a
// full revolution when that brings it inside the limits and closer to the
// seed already in q. It reports false when a joint cannot be placed.
func (s *Solver) placeBranch(q []float64, chain []int, sol [6]float64) bool {
	for k, i := range chain {
		lim := s.model.Limits(i)
		best, found := 0.0, false
		for _, v := range []float64{sol[k], sol[k] - 2*math.Pi, sol[k] + 2*math.Pi} {
			if !lim.Contains(v) {
				continue
			}
			if !found || math.Abs(v-q[i]) < math.Abs(best-q[i]) {
				best, found = v, true
			}
		}
		if !found {
			return false
		}
		q[i] = best
	}
	return true
}
