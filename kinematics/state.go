package kinematics

import (
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// JointValue is the measured or commanded state of one joint.
type JointValue struct {
	Position     float64
	Velocity     float64
	Acceleration float64
	Torque       float64
}

// JointState maps joint identifiers to their values at one instant.
type JointState struct {
	Stamp  time.Time
	Joints map[string]JointValue
}

// NewJointState returns an empty state stamped at t.
func NewJointState(t time.Time) JointState {
	return JointState{Stamp: t, Joints: map[string]JointValue{}}
}

// PositionsInto copies the position of every model joint into dst, in model
// order. dst must have one entry per joint.
func (m *Model) PositionsInto(state JointState, dst []float64) error {
	for i, j := range m.joints {
		v, ok := state.Joints[j.ID]
		if !ok {
			return errors.Wrapf(ErrIncompleteState, "missing joint %q", j.ID)
		}
		dst[i] = v.Position
	}
	return nil
}

// Positions returns the position of every model joint in model order.
func (m *Model) Positions(state JointState) ([]float64, error) {
	q := make([]float64, len(m.joints))
	if err := m.PositionsInto(state, q); err != nil {
		return nil, err
	}
	return q, nil
}

// StateFromPositions builds a joint state from positions in model order.
func (m *Model) StateFromPositions(q []float64, stamp time.Time) JointState {
	s := JointState{Stamp: stamp, Joints: make(map[string]JointValue, len(q))}
	for i, j := range m.joints {
		s.Joints[j.ID] = JointValue{Position: q[i]}
	}
	return s
}

// StateFromValues builds a joint state from full values in model order.
func (m *Model) StateFromValues(values []JointValue, stamp time.Time) JointState {
	s := JointState{Stamp: stamp, Joints: make(map[string]JointValue, len(values))}
	for i, j := range m.joints {
		s.Joints[j.ID] = values[i]
	}
	return s
}

// ParseTargets reads "id=position" pairs separated by commas, as given on
// command lines.
func (m *Model) ParseTargets(s string) (map[string]float64, error) {
	out := map[string]float64{}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, value, ok := strings.Cut(part, "=")
		if !ok {
			return nil, errors.Errorf("expected joint=position, got %q", part)
		}
		id = strings.TrimSpace(id)
		if _, known := m.jointIndex[id]; !known {
			return nil, errors.Errorf("unknown joint %q", id)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return nil, errors.Wrapf(err, "joint %q", id)
		}
		out[id] = v
	}
	return out, nil
}
