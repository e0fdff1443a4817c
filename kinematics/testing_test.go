package kinematics

import "math"

func simpleArm() Definition {
	return Definition{
		Name: "simple_arm",
		Joints: []JointConfig{
			{ID: "joint_1", Type: "revolute", Axis: [3]float64{0, 0, 1}, Min: -math.Pi / 2, Max: math.Pi / 2, MaxVelocity: 1, MaxAcceleration: 2, MaxTorque: 5},
		},
		Links: []LinkConfig{
			{ID: "tip", Joint: "joint_1", TransformConfig: TransformConfig{Translation: [3]float64{1, 0, 0}}},
		},
	}
}

// threeAxis is a yaw/pitch/slide arm with an offset tool.
func threeAxis() Definition {
	return Definition{
		Name: "three_axis",
		Joints: []JointConfig{
			{ID: "yaw", Axis: [3]float64{0, 0, 1}, Min: -3, Max: 3, MaxVelocity: 2, MaxAcceleration: 4, MaxTorque: 10},
			{ID: "pitch", Parent: "yaw", Axis: [3]float64{0, 1, 0}, Min: -2, Max: 2, MaxVelocity: 2, MaxAcceleration: 4, MaxTorque: 10},
			{ID: "slide", Type: "prismatic", Parent: "pitch", Axis: [3]float64{1, 0, 0}, Min: 0, Max: 0.5, MaxVelocity: 0.3, MaxAcceleration: 1, MaxTorque: 50},
		},
		Links: []LinkConfig{
			{ID: "column", Joint: "yaw", TransformConfig: TransformConfig{Translation: [3]float64{0, 0, 0.4}}},
			{ID: "boom", Joint: "pitch", TransformConfig: TransformConfig{Translation: [3]float64{0.3, 0, 0}}},
			{ID: "tool", Joint: "slide", TransformConfig: TransformConfig{Translation: [3]float64{0.1, 0, 0.05}, RPY: &[3]float64{0, 0.3, 0}}},
		},
	}
}
