package trajectory

import (
	"time"

	"humanoid_brain/kinematics"
)

// Trajectory is a synchronized joint-space motion. It is evaluated on
// demand, so callers ask for the state at a time instead of holding every
// tick. A Trajectory is immutable.
type Trajectory struct {
	ids      []string
	start    []float64
	goal     []float64
	profiles []profile
	duration time.Duration
}

// Waypoint is the trajectory state at one offset from its start.
type Waypoint struct {
	At     time.Duration
	Values []kinematics.JointValue
}

// Duration is the time from start to arrival.
func (t *Trajectory) Duration() time.Duration { return t.duration }

// JointIDs lists the joints in the order used by positions and values.
func (t *Trajectory) JointIDs() []string { return t.ids }

// Start returns the start positions. The slice must not be modified.
func (t *Trajectory) Start() []float64 { return t.start }

// Goal returns the goal positions. The slice must not be modified.
func (t *Trajectory) Goal() []float64 { return t.goal }

// Done reports whether at is at or past the end.
func (t *Trajectory) Done(at time.Duration) bool { return at >= t.duration }

// SampleInto writes the state at offset at into dst, which needs one entry
// per joint. Torque is left untouched. It does not allocate. Offsets at or
// past the end yield the goal exactly, at rest.
func (t *Trajectory) SampleInto(at time.Duration, dst []kinematics.JointValue) {
	if at >= t.duration {
		for i, g := range t.goal {
			dst[i].Position, dst[i].Velocity, dst[i].Acceleration = g, 0, 0
		}
		return
	}
	s := at.Seconds()
	for i, p := range t.profiles {
		dst[i].Position, dst[i].Velocity, dst[i].Acceleration = p.at(s)
	}
}

// Sample returns the values at offset at.
func (t *Trajectory) Sample(at time.Duration) []kinematics.JointValue {
	out := make([]kinematics.JointValue, len(t.profiles))
	t.SampleInto(at, out)
	return out
}

// State returns the joint state at offset at, stamped with stamp.
func (t *Trajectory) State(at time.Duration, stamp time.Time) kinematics.JointState {
	values := t.Sample(at)
	s := kinematics.JointState{Stamp: stamp, Joints: make(map[string]kinematics.JointValue, len(values))}
	for i, id := range t.ids {
		s.Joints[id] = values[i]
	}
	return s
}

// Waypoints materializes the trajectory every step, always ending with a
// waypoint at Duration. Offsets are strictly increasing.
func (t *Trajectory) Waypoints(step time.Duration) []Waypoint {
	if step <= 0 {
		step = t.duration
	}
	var out []Waypoint
	for at := time.Duration(0); at < t.duration; at += step {
		out = append(out, Waypoint{At: at, Values: t.Sample(at)})
	}
	return append(out, Waypoint{At: t.duration, Values: t.Sample(t.duration)})
}
