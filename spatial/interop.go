package spatial

import (
	"github.com/golang/geo/r3"
	commonpb "go.viam.com/api/common/v1"
	"go.viam.com/rdk/spatialmath"
)

// rdk poses carry millimeters; ours carry meters.
const mmPerMeter = 1000.0

// ToSpatialmath converts p to an rdk pose.
func ToSpatialmath(p Pose) spatialmath.Pose {
	q := spatialmath.Quaternion(p.Orientation)
	return spatialmath.NewPose(p.Point.Mul(mmPerMeter), &q)
}

// FromSpatialmath converts an rdk pose to a Pose.
func FromSpatialmath(p spatialmath.Pose) Pose {
	return NewPose(p.Point().Mul(1/mmPerMeter), p.Orientation().Quaternion())
}

// FromProtobuf converts an API pose (millimeters, orientation vector in
// degrees) to a Pose.
func FromProtobuf(p *commonpb.Pose) Pose {
	if p == nil {
		return Identity()
	}
	return FromSpatialmath(spatialmath.NewPoseFromProtobuf(p))
}

// ToProtobuf converts p to an API pose.
func ToProtobuf(p Pose) *commonpb.Pose {
	return spatialmath.PoseToProtobuf(ToSpatialmath(p))
}

// Vector is a convenience for building an r3.Vector from a 3-element array,
// the form used in configuration files.
func Vector(v [3]float64) r3.Vector {
	return r3.Vector{X: v[0], Y: v[1], Z: v[2]}
}
