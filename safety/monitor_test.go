package safety

import (
	"math"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"humanoid_brain/kinematics"
)

func testModel(t *testing.T) *kinematics.Model {
	t.Helper()
	m, err := kinematics.NewModel(kinematics.Definition{
		Joints: []kinematics.JointConfig{
			{ID: "hip", Axis: [3]float64{0, 0, 1}, Min: -1, Max: 1, MaxVelocity: 2, MaxAcceleration: 5, MaxTorque: 10},
			{ID: "knee", Parent: "hip", Axis: [3]float64{0, 0, 1}, Min: 0, Max: 2, MaxVelocity: 1, MaxAcceleration: 5, MaxTorque: 10},
		},
		Links: []kinematics.LinkConfig{
			{ID: "thigh", Joint: "hip", TransformConfig: kinematics.TransformConfig{Translation: [3]float64{0.4, 0, 0}}},
			{ID: "shin", Joint: "knee", TransformConfig: kinematics.TransformConfig{Translation: [3]float64{0.4, 0, 0}}},
		},
	})
	require.NoError(t, err)
	return m
}

func newMonitor(t *testing.T) *Monitor {
	t.Helper()
	mon, err := NewMonitor(testModel(t), DefaultConfig())
	require.NoError(t, err)
	return mon
}

func TestKindAndSeverity(t *testing.T) {
	names := map[Kind]string{
		PositionLimit: "position_limit",
		VelocityLimit: "velocity_limit",
		TorqueLimit:   "torque_limit",
		Tracking:      "tracking",
		Singularity:   "singularity",
	}
	for k, want := range names {
		assert.Equal(t, want, k.String())
	}
	assert.Equal(t, "unknown", Kind(42).String())

	assert.ErrorIs(t, PositionLimit.Err(), ErrLimitViolation)
	assert.ErrorIs(t, TorqueLimit.Err(), ErrLimitViolation)
	assert.ErrorIs(t, Tracking.Err(), ErrTrackingFault)
	assert.ErrorIs(t, Singularity.Err(), ErrHazardProximity)

	assert.Equal(t, "warning", Warning.String())
	assert.Equal(t, "critical", Critical.String())
}

func TestCheckPasses(t *testing.T) {
	mon := newMonitor(t)
	cmd := []kinematics.JointValue{{Position: 0.2, Velocity: 1}, {Position: 1, Velocity: -0.5}}
	measured := []kinematics.JointValue{{Position: 0.19}, {Position: 1.02}}

	r := mon.Check(cmd, measured, math.Inf(1))
	assert.False(t, r.Veto)
	assert.Empty(t, r.Flags)
	assert.NoError(t, r.Err())
	assert.Equal(t, 0.2, cmd[0].Position)
}

func TestCheckClampsSmallViolations(t *testing.T) {
	mon := newMonitor(t)
	cmd := []kinematics.JointValue{
		{Position: 1.05, Velocity: 2.5, Torque: -12},
		{Position: -0.02, Velocity: -1.2},
	}
	r := mon.Check(cmd, nil, math.Inf(1))
	assert.False(t, r.Veto)
	require.Len(t, r.Flags, 5)

	assert.Equal(t, PositionLimit, r.Flags[0].Kind)
	assert.Equal(t, Warning, r.Flags[0].Severity)
	assert.Equal(t, "hip", r.Flags[0].Joint)
	assert.Equal(t, VelocityLimit, r.Flags[1].Kind)
	assert.Equal(t, TorqueLimit, r.Flags[2].Kind)
	assert.Equal(t, PositionLimit, r.Flags[3].Kind)
	assert.Equal(t, "knee", r.Flags[3].Joint)

	assert.Equal(t, 1.0, cmd[0].Position)
	assert.Equal(t, 2.0, cmd[0].Velocity)
	assert.Equal(t, -10.0, cmd[0].Torque)
	assert.Equal(t, 0.0, cmd[1].Position)
	assert.Equal(t, -1.0, cmd[1].Velocity)
}

func TestCheckVetoes(t *testing.T) {
	tests := []struct {
		name     string
		cmd      []kinematics.JointValue
		measured []kinematics.JointValue
		margin   float64
		kind     Kind
		err      error
	}{
		{
			name:   "position grossly exceeded",
			cmd:    []kinematics.JointValue{{Position: 1.5}, {Position: 1}},
			margin: math.Inf(1),
			kind:   PositionLimit,
			err:    ErrLimitViolation,
		},
		{
			name:   "nan position",
			cmd:    []kinematics.JointValue{{Position: math.NaN()}, {Position: 1}},
			margin: math.Inf(1),
			kind:   PositionLimit,
			err:    ErrLimitViolation,
		},
		{
			name:   "velocity grossly exceeded",
			cmd:    []kinematics.JointValue{{Position: 0}, {Position: 1, Velocity: 3}},
			margin: math.Inf(1),
			kind:   VelocityLimit,
			err:    ErrLimitViolation,
		},
		{
			name:     "tracking",
			cmd:      []kinematics.JointValue{{Position: 0}, {Position: 1}},
			measured: []kinematics.JointValue{{Position: 0.5}, {Position: 1}},
			margin:   math.Inf(1),
			kind:     Tracking,
			err:      ErrTrackingFault,
		},
		{
			name:   "singularity",
			cmd:    []kinematics.JointValue{{Position: 0}, {Position: 1}},
			margin: 1e-6,
			kind:   Singularity,
			err:    ErrHazardProximity,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mon := newMonitor(t)
			r := mon.Check(tt.cmd, tt.measured, tt.margin)
			require.True(t, r.Veto)
			found := false
			for _, f := range r.Flags {
				if f.Kind == tt.kind && f.Severity == Critical {
					found = true
				}
			}
			assert.True(t, found)
			assert.True(t, errors.Is(r.Err(), tt.err), "got %v", r.Err())
		})
	}
}

func TestCheckOrder(t *testing.T) {
	mon := newMonitor(t)
	// tracking is judged against the clamped command
	cmd := []kinematics.JointValue{{Position: 1.05}, {Position: 1}}
	measured := []kinematics.JointValue{{Position: 1.0}, {Position: 1}}
	r := mon.Check(cmd, measured, math.Inf(1))
	assert.False(t, r.Veto)
	require.Len(t, r.Flags, 1)
	assert.Equal(t, PositionLimit, r.Flags[0].Kind)
}

func TestCheckDoesNotAllocate(t *testing.T) {
	mon := newMonitor(t)
	cmd := make([]kinematics.JointValue, 2)
	measured := make([]kinematics.JointValue, 2)
	allocs := testing.AllocsPerRun(100, func() {
		cmd[0] = kinematics.JointValue{Position: 5, Velocity: 9, Torque: 50}
		cmd[1] = kinematics.JointValue{Position: -5, Velocity: -9, Torque: -50}
		mon.Check(cmd, measured, 0)
	})
	assert.Equal(t, 0.0, allocs)
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	c := DefaultConfig()
	c.TrackingThreshold = 0
	assert.Error(t, c.Validate())
	_, err := NewMonitor(testModel(t), c)
	assert.Error(t, err)
}
