// Package spatial holds the rigid-body pose math shared by the kinematics,
// inverse kinematics and safety packages. Distances are in meters and angles
// in radians.
package spatial

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"
)

// Pose is a position plus a unit quaternion orientation.
type Pose struct {
	Point       r3.Vector
	Orientation quat.Number
}

// NewPose builds a pose, normalizing the orientation. A zero quaternion is
// treated as the identity rotation.
func NewPose(point r3.Vector, orientation quat.Number) Pose {
	return Pose{Point: point, Orientation: Normalize(orientation)}
}

// Identity returns the pose with no translation and no rotation.
func Identity() Pose {
	return Pose{Orientation: quat.Number{Real: 1}}
}

// Translation returns a pure translation.
func Translation(point r3.Vector) Pose {
	return Pose{Point: point, Orientation: quat.Number{Real: 1}}
}

// Rotation returns a pure rotation.
func Rotation(orientation quat.Number) Pose {
	return NewPose(r3.Vector{}, orientation)
}

// Compose returns p followed by o, expressed in p's parent frame.
func (p Pose) Compose(o Pose) Pose {
	return Pose{
		Point:       p.Point.Add(Rotate(p.Orientation, o.Point)),
		Orientation: Normalize(quat.Mul(p.Orientation, o.Orientation)),
	}
}

// Inverse returns the pose that undoes p.
func (p Pose) Inverse() Pose {
	inv := quat.Conj(p.Orientation)
	return Pose{
		Point:       Rotate(inv, p.Point).Mul(-1),
		Orientation: inv,
	}
}

// Apply maps a point from p's child frame into p's parent frame.
func (p Pose) Apply(v r3.Vector) r3.Vector {
	return p.Point.Add(Rotate(p.Orientation, v))
}

// Error returns the translation and rotation-vector deltas that take p onto
// target, both expressed in the parent frame.
func (p Pose) Error(target Pose) (r3.Vector, r3.Vector) {
	dp := target.Point.Sub(p.Point)
	dq := quat.Mul(target.Orientation, quat.Conj(p.Orientation))
	return dp, RotationVector(dq)
}

// AlmostEqual reports whether both the translation and the rotation
// differences between a and b are within tol.
func AlmostEqual(a, b Pose, tol float64) bool {
	dp, dr := a.Error(b)
	return dp.Norm() <= tol && dr.Norm() <= tol
}

// Normalize scales q to unit length.
func Normalize(q quat.Number) quat.Number {
	n := quat.Abs(q)
	if n == 0 || math.IsNaN(n) {
		return quat.Number{Real: 1}
	}
	return quat.Scale(1/n, q)
}

// Rotate applies the rotation q to v.
func Rotate(q quat.Number, v r3.Vector) r3.Vector {
	r := quat.Mul(quat.Mul(q, quat.Number{Imag: v.X, Jmag: v.Y, Kmag: v.Z}), quat.Conj(q))
	return r3.Vector{X: r.Imag, Y: r.Jmag, Z: r.Kmag}
}

// AxisAngle returns the rotation of theta radians about axis. The axis does
// not need to be normalized; a zero axis yields the identity.
func AxisAngle(axis r3.Vector, theta float64) quat.Number {
	n := axis.Norm()
	if n == 0 {
		return quat.Number{Real: 1}
	}
	s := math.Sin(theta/2) / n
	return quat.Number{Real: math.Cos(theta / 2), Imag: axis.X * s, Jmag: axis.Y * s, Kmag: axis.Z * s}
}

// RotationVector is the logarithm map of a rotation: axis times angle, with
// the angle taken along the shortest path.
func RotationVector(q quat.Number) r3.Vector {
	q = Normalize(q)
	if q.Real < 0 {
		q = quat.Scale(-1, q)
	}
	v := r3.Vector{X: q.Imag, Y: q.Jmag, Z: q.Kmag}
	s := v.Norm()
	if s < 1e-12 {
		return v.Mul(2)
	}
	angle := 2 * math.Atan2(s, q.Real)
	return v.Mul(angle / s)
}

// FromRotationVector is the inverse of RotationVector.
func FromRotationVector(v r3.Vector) quat.Number {
	return AxisAngle(v, v.Norm())
}

// FromRPY builds an orientation from fixed-axis roll, pitch and yaw (applied
// about x, then y, then z).
func FromRPY(roll, pitch, yaw float64) quat.Number {
	qx := AxisAngle(r3.Vector{X: 1}, roll)
	qy := AxisAngle(r3.Vector{Y: 1}, pitch)
	qz := AxisAngle(r3.Vector{Z: 1}, yaw)
	return Normalize(quat.Mul(qz, quat.Mul(qy, qx)))
}
