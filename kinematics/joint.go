package kinematics

import (
	"fmt"
	"math"
	"strings"

	"github.com/golang/geo/r3"

	"humanoid_brain/spatial"
)

// JointType selects how a joint's position parametrizes its transform.
type JointType int

const (
	// Revolute joints rotate about their axis; position is in radians.
	Revolute JointType = iota
	// Prismatic joints slide along their axis; position is in meters.
	Prismatic
)

func (t JointType) String() string {
	switch t {
	case Revolute:
		return "revolute"
	case Prismatic:
		return "prismatic"
	default:
		return "unknown"
	}
}

// ParseJointType maps a configuration name to a JointType.
func ParseJointType(s string) (JointType, error) {
	switch strings.ToLower(s) {
	case "revolute", "":
		return Revolute, nil
	case "prismatic":
		return Prismatic, nil
	default:
		return 0, fmt.Errorf("unknown joint type %q", s)
	}
}

// Limits are the physical bounds of one joint. Units follow the joint type:
// rad, rad/s, rad/s^2 and N·m for revolute joints; m, m/s, m/s^2 and N for
// prismatic joints.
type Limits struct {
	Min          float64
	Max          float64
	Velocity     float64
	Acceleration float64
	Torque       float64
}

// Clamp returns position restricted to [Min, Max].
func (l Limits) Clamp(position float64) float64 {
	return math.Max(l.Min, math.Min(l.Max, position))
}

// Contains reports whether position is inside [Min, Max].
func (l Limits) Contains(position float64) bool {
	return position >= l.Min && position <= l.Max
}

// Joint is one actuated degree of freedom. Joints are immutable once the
// model is built.
type Joint struct {
	ID     string
	Type   JointType
	Parent string
	Axis   r3.Vector
	Limits Limits
}

// Transform returns the motion the joint contributes at the given position.
func (j Joint) Transform(position float64) spatial.Pose {
	switch j.Type {
	case Prismatic:
		return spatial.Translation(j.Axis.Mul(position))
	default:
		return spatial.Rotation(spatial.AxisAngle(j.Axis, position))
	}
}

// Link is the rigid body carried by a joint. Its transform places the link's
// end frame, where child joints attach, relative to the joint frame. Mass and
// center of mass are descriptive only.
type Link struct {
	ID           string
	Joint        string
	Transform    spatial.Pose
	Mass         float64
	CenterOfMass r3.Vector
}
